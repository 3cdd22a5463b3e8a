package topstepx

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Snoe0/Topstep-API/pkg/models"
	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

const (
	pathRetrieveBars   = "/History/retrieveBars"
	pathAccountSearch  = "/Account/search"
	pathContractSearch = "/Contract/search"
	pathPlaceOrder     = "/Order/place"
	pathOpenPositions  = "/Position/searchOpen"
)

type Config struct {
	Credentials Credentials
	Transport   TransportConfig
	LiveData    LiveDataConfig
	Clock       clock.Clock
}

// Client exposes the gateway's operations over a self-renewing session.
// Every operation runs through Session.EnsureValid before it is sent.
type Client struct {
	transport *Transport
	session   *Session
	clock     clock.Clock
	logger    *logrus.Logger
	live      LiveDataConfig

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func NewClient(cfg Config, logger *logrus.Logger) *Client {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.New()
	}
	transport := NewTransport(cfg.Transport)

	return &Client{
		transport: transport,
		session:   NewSession(cfg.Credentials, transport, clk, logger),
		clock:     clk,
		logger:    logger,
		live:      cfg.LiveData.withDefaults(),
		subs:      make(map[*Subscription]struct{}),
	}
}

func (c *Client) Session() *Session {
	return c.session
}

func (c *Client) State() SessionState {
	return c.session.State()
}

// Authenticate logs in immediately instead of on the first call.
func (c *Client) Authenticate(ctx context.Context) error {
	return c.session.Authenticate(ctx)
}

// envelope is the status block every gateway response carries. A call
// succeeded only when success is true and errorCode is present and zero.
type envelope struct {
	Success      bool    `json:"success"`
	ErrorCode    *int    `json:"errorCode"`
	ErrorMessage *string `json:"errorMessage"`
}

func (e envelope) status() envelope { return e }

func (e envelope) ok() bool {
	return e.Success && e.ErrorCode != nil && *e.ErrorCode == 0
}

func (e envelope) failure(kind error, op, fallback string) *GatewayError {
	gerr := &GatewayError{Kind: kind, Op: op, Code: UnknownErrorCode, Message: fallback}
	if e.ErrorCode != nil {
		gerr.Code = *e.ErrorCode
	}
	if e.ErrorMessage != nil && *e.ErrorMessage != "" {
		gerr.Message = *e.ErrorMessage
	}
	return gerr
}

type statusReporter interface {
	status() envelope
}

func malformed(kind error, op string, err error) *GatewayError {
	return &GatewayError{
		Kind:    kind,
		Op:      op,
		Code:    UnknownErrorCode,
		Message: "malformed response",
		Err:     err,
	}
}

// call is the single path from a domain operation to the wire: ensure the
// session, send, decode into out and normalize its status block.
func (c *Client) call(ctx context.Context, path string, body interface{}, kind error, fallback string, out statusReporter) (*Response, error) {
	if err := c.session.EnsureValid(ctx); err != nil {
		return nil, err
	}

	resp, err := c.transport.Post(ctx, path, body)
	if err != nil {
		c.logger.WithError(err).WithField("path", path).Error("Gateway request failed")
		return nil, err
	}

	if err := json.Unmarshal(resp.Data, out); err != nil {
		return nil, malformed(kind, path, err)
	}
	if st := out.status(); !st.ok() {
		gerr := st.failure(kind, path, fallback)
		c.logger.WithFields(logrus.Fields{
			"path":    path,
			"code":    gerr.Code,
			"message": gerr.Message,
		}).Error("Gateway rejected request")
		return nil, gerr
	}
	return resp, nil
}

type retrieveBarsRequest struct {
	ContractID        string    `json:"contractId"`
	Live              bool      `json:"live"`
	StartTime         time.Time `json:"startTime"`
	EndTime           time.Time `json:"endTime"`
	Unit              int       `json:"unit"`
	UnitNumber        int       `json:"unitNumber"`
	Limit             int       `json:"limit"`
	IncludePartialBar bool      `json:"includePartialBar"`
}

type retrieveBarsResponse struct {
	envelope
	Bars []models.Bar `json:"bars"`
}

// GetHistoricalData returns bars in the order the gateway sent them, at most
// q.Limit of them when Limit is positive. The slice is empty, never nil, when
// there are none.
func (c *Client) GetHistoricalData(ctx context.Context, q models.HistoryQuery) ([]models.Bar, error) {
	req := retrieveBarsRequest{
		ContractID:        q.ContractID,
		Live:              false,
		StartTime:         q.StartTime.UTC(),
		EndTime:           q.EndTime.UTC(),
		Unit:              int(q.Unit),
		UnitNumber:        q.UnitNumber,
		Limit:             q.Limit,
		IncludePartialBar: q.IncludePartialBar,
	}

	var out retrieveBarsResponse
	if _, err := c.call(ctx, pathRetrieveBars, req, ErrHistoricalData, "Failed to fetch historical data", &out); err != nil {
		return nil, err
	}

	if out.Bars == nil {
		out.Bars = []models.Bar{}
	}
	if q.Limit > 0 && len(out.Bars) > q.Limit {
		out.Bars = out.Bars[:q.Limit]
	}
	c.logger.WithFields(logrus.Fields{
		"contract": q.ContractID,
		"bars":     len(out.Bars),
	}).Debug("Fetched historical bars")
	return out.Bars, nil
}

type accountSearchRequest struct {
	OnlyActiveAccounts bool `json:"onlyActiveAccounts"`
}

type accountSearchResponse struct {
	envelope
	Accounts []json.RawMessage `json:"accounts"`
}

func (c *Client) GetAccounts(ctx context.Context, onlyActive bool) (*models.AccountSearchResult, error) {
	var out accountSearchResponse
	if _, err := c.call(ctx, pathAccountSearch, accountSearchRequest{OnlyActiveAccounts: onlyActive}, ErrAccountQuery, "Failed to fetch accounts", &out); err != nil {
		return nil, err
	}

	result := &models.AccountSearchResult{
		AccountCount: len(out.Accounts),
		Accounts:     make([]models.Account, 0, len(out.Accounts)),
		RawAccounts:  out.Accounts,
	}
	for i, raw := range out.Accounts {
		var acc models.Account
		if err := json.Unmarshal(raw, &acc); err != nil {
			return nil, malformed(ErrAccountQuery, pathAccountSearch, fmt.Errorf("account %d: %w", i, err))
		}
		result.Accounts = append(result.Accounts, acc)
	}

	c.logger.WithField("count", result.AccountCount).Info("Fetched accounts")
	return result, nil
}

type contractSearchRequest struct {
	Live       bool   `json:"live"`
	SearchText string `json:"searchText,omitempty"`
}

// SearchContracts returns the gateway's raw contract list for searchText
// (all contracts when empty).
func (c *Client) SearchContracts(ctx context.Context, searchText string) (*models.ContractSearchResult, error) {
	if err := c.session.EnsureValid(ctx); err != nil {
		return nil, err
	}

	resp, err := c.transport.Post(ctx, pathContractSearch, contractSearchRequest{Live: false, SearchText: searchText})
	if err != nil {
		c.logger.WithError(err).WithField("path", pathContractSearch).Error("Gateway request failed")
		return nil, err
	}

	result, err := decodeContractSearch(resp.Data)
	if err != nil {
		c.logger.WithError(err).WithField("search", searchText).Error("Contract search failed")
		return nil, err
	}

	c.logger.WithFields(logrus.Fields{
		"search": searchText,
		"count":  len(result.Contracts),
	}).Debug("Fetched contracts")
	return result, nil
}

func (c *Client) PlaceOrder(ctx context.Context, order models.Order) (*models.OrderAck, error) {
	c.logger.WithFields(logrus.Fields{
		"account":  order.AccountID,
		"contract": order.ContractID,
		"type":     order.Type,
		"side":     order.Side,
		"size":     order.Size,
	}).Info("Placing order")

	var out struct {
		envelope
		OrderID int64 `json:"orderId"`
	}
	resp, err := c.call(ctx, pathPlaceOrder, order, ErrOrderPlacement, "Failed to place order", &out)
	if err != nil {
		return nil, err
	}

	c.logger.WithField("order_id", out.OrderID).Info("Order placed")
	return &models.OrderAck{OrderID: out.OrderID, Raw: json.RawMessage(resp.Data)}, nil
}

type positionSearchRequest struct {
	AccountID int64 `json:"accountId"`
}

// GetPositions returns the open positions of one account.
func (c *Client) GetPositions(ctx context.Context, accountID int64) ([]models.Position, error) {
	var out struct {
		envelope
		Positions []models.Position `json:"positions"`
	}
	if _, err := c.call(ctx, pathOpenPositions, positionSearchRequest{AccountID: accountID}, ErrPositionQuery, "Failed to fetch positions", &out); err != nil {
		return nil, err
	}

	if out.Positions == nil {
		out.Positions = []models.Position{}
	}
	c.logger.WithFields(logrus.Fields{
		"account":   accountID,
		"positions": len(out.Positions),
	}).Debug("Fetched open positions")
	return out.Positions, nil
}

// Disconnect closes every live-data subscription and tears the session
// down. It is safe to call repeatedly, including before any login.
func (c *Client) Disconnect() {
	c.mu.Lock()
	subs := make([]*Subscription, 0, len(c.subs))
	for sub := range c.subs {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
	c.session.Teardown()
}
