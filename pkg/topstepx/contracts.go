package topstepx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/Snoe0/Topstep-API/pkg/models"
	"github.com/sirupsen/logrus"
)

var (
	DefaultSymbols = []string{"MNQ", "NQ", "MES", "ES", "MGC", "GC"}

	// DefaultExcludePatterns name related instruments of a different root
	// that a plain substring match would otherwise accept.
	DefaultExcludePatterns = []string{"NQG", "NQM", "ESG", "ESM", "GCG", "GCM"}

	// microRoots maps a full-size root to its micro contract, which must
	// never satisfy a search for the full-size root.
	microRoots = map[string]string{
		"NQ": "MNQ",
		"ES": "MES",
		"GC": "MGC",
	}
)

type searchShape int

const (
	shapeUnknown searchShape = iota
	shapeEnvelope
	shapeBareArray
	shapeRejected
)

type contractSearchResponse struct {
	envelope
	Contracts []models.Contract `json:"contracts"`
}

func classifyContractSearch(data []byte) (searchShape, contractSearchResponse, []models.Contract) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return shapeUnknown, contractSearchResponse{}, nil
	}

	if trimmed[0] == '[' {
		var list []models.Contract
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return shapeUnknown, contractSearchResponse{}, nil
		}
		return shapeBareArray, contractSearchResponse{}, list
	}

	var env contractSearchResponse
	if trimmed[0] != '{' || json.Unmarshal(trimmed, &env) != nil {
		return shapeUnknown, contractSearchResponse{}, nil
	}
	if env.ok() {
		return shapeEnvelope, env, nil
	}
	return shapeRejected, env, nil
}

// decodeContractSearch accepts a success envelope, a bare array of contracts
// or a rejection envelope and normalizes the first two.
func decodeContractSearch(data []byte) (*models.ContractSearchResult, error) {
	shape, env, list := classifyContractSearch(data)
	switch shape {
	case shapeEnvelope:
		contracts := env.Contracts
		if contracts == nil {
			contracts = []models.Contract{}
		}
		return &models.ContractSearchResult{Contracts: contracts, Success: true, ErrorCode: 0}, nil
	case shapeBareArray:
		return &models.ContractSearchResult{Contracts: list, Success: true, ErrorCode: 0}, nil
	case shapeRejected:
		return nil, env.failure(ErrContractSearch, pathContractSearch, "Failed to fetch contracts")
	}
	return nil, malformed(ErrContractSearch, pathContractSearch, errors.New("unrecognized response body"))
}

// SelectFrontMonth picks the current contract for q.Symbol out of a search
// result. Candidates are ordered by id with a plain string comparison; month
// codes make that approximate expiry order, but it is not a calendar sort.
func SelectFrontMonth(q models.ContractQuery, contracts []models.Contract) (models.ResolvedContract, bool) {
	micro := microRoots[q.Symbol]

	var candidates []models.Contract
	for _, c := range contracts {
		if !c.ActiveContract {
			continue
		}
		sym := c.DisplaySymbol()
		if containsAny(sym, q.ExcludePatterns) {
			continue
		}
		if micro != "" && strings.Contains(sym, micro) {
			continue
		}
		if !strings.Contains(sym, q.Symbol) {
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		return models.ResolvedContract{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return sortKey(candidates[i]) < sortKey(candidates[j])
	})

	front := candidates[0]
	return models.ResolvedContract{
		ID:             front.ID,
		Symbol:         front.Symbol,
		Name:           front.Name,
		Description:    front.Description,
		TickSize:       front.TickSize,
		TickValue:      front.TickValue,
		ActiveContract: front.ActiveContract,
		SymbolID:       front.SymbolID,
	}, true
}

// ResolveContracts searches for each symbol and maps it to its front-month
// contract. Symbols without a match are left out of the map.
func (c *Client) ResolveContracts(ctx context.Context, symbols ...string) (map[string]models.ResolvedContract, error) {
	if len(symbols) == 0 {
		symbols = DefaultSymbols
	}

	resolved := make(map[string]models.ResolvedContract, len(symbols))
	for _, symbol := range symbols {
		result, err := c.SearchContracts(ctx, symbol)
		if err != nil {
			return nil, err
		}

		query := models.ContractQuery{Symbol: symbol, ExcludePatterns: DefaultExcludePatterns}
		contract, ok := SelectFrontMonth(query, result.Contracts)
		if !ok {
			c.logger.WithFields(logrus.Fields{
				"symbol":     symbol,
				"candidates": len(result.Contracts),
			}).Warn("No matching contract found")
			continue
		}

		resolved[symbol] = contract
		c.logger.WithFields(logrus.Fields{
			"symbol":   symbol,
			"contract": contract.ID,
		}).Info("Resolved front-month contract")
	}
	return resolved, nil
}

func sortKey(c models.Contract) string {
	if c.ID != "" {
		return c.ID
	}
	return c.Symbol
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(s, p) {
			return true
		}
	}
	return false
}
