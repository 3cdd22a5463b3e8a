package models

// Contract is a raw record from a contract search.
type Contract struct {
	ID             string  `json:"id"`
	Symbol         string  `json:"symbol,omitempty"`
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	TickSize       float64 `json:"tickSize"`
	TickValue      float64 `json:"tickValue"`
	ActiveContract bool    `json:"activeContract"`
	SymbolID       string  `json:"symbolId"`
}

// DisplaySymbol is the symbol, or the name when the gateway omits it.
func (c Contract) DisplaySymbol() string {
	if c.Symbol != "" {
		return c.Symbol
	}
	return c.Name
}

type ContractSearchResult struct {
	Contracts []Contract `json:"contracts"`
	Success   bool       `json:"success"`
	ErrorCode int        `json:"errorCode"`
}

type ContractQuery struct {
	Symbol          string
	ExcludePatterns []string
}

type ResolvedContract struct {
	ID             string  `json:"id"`
	Symbol         string  `json:"symbol"`
	Name           string  `json:"name"`
	Description    string  `json:"description"`
	TickSize       float64 `json:"tickSize"`
	TickValue      float64 `json:"tickValue"`
	ActiveContract bool    `json:"activeContract"`
	SymbolID       string  `json:"symbolId"`
}
