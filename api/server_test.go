package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Snoe0/Topstep-API/pkg/models"
	"github.com/Snoe0/Topstep-API/pkg/topstepx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGateway struct {
	state      topstepx.SessionState
	onlyActive bool
	symbols    []string
	query      models.HistoryQuery
	order      models.Order
	accountID  int64
	err        error
}

func (g *stubGateway) State() topstepx.SessionState { return g.state }

func (g *stubGateway) GetAccounts(_ context.Context, onlyActive bool) (*models.AccountSearchResult, error) {
	g.onlyActive = onlyActive
	if g.err != nil {
		return nil, g.err
	}
	return &models.AccountSearchResult{
		AccountCount: 1,
		Accounts:     []models.Account{{ID: 42, Name: "PRAC-42", CanTrade: true}},
	}, nil
}

func (g *stubGateway) ResolveContracts(_ context.Context, symbols ...string) (map[string]models.ResolvedContract, error) {
	g.symbols = symbols
	if g.err != nil {
		return nil, g.err
	}
	return map[string]models.ResolvedContract{"NQ": {ID: "CON.F.US.ENQ.Z25"}}, nil
}

func (g *stubGateway) GetHistoricalData(_ context.Context, q models.HistoryQuery) ([]models.Bar, error) {
	g.query = q
	if g.err != nil {
		return nil, g.err
	}
	return []models.Bar{{C: 21000.5}}, nil
}

func (g *stubGateway) PlaceOrder(_ context.Context, order models.Order) (*models.OrderAck, error) {
	g.order = order
	if g.err != nil {
		return nil, g.err
	}
	return &models.OrderAck{OrderID: 77, Raw: json.RawMessage(`{"success":true,"errorCode":0,"orderId":77}`)}, nil
}

func (g *stubGateway) GetPositions(_ context.Context, accountID int64) ([]models.Position, error) {
	g.accountID = accountID
	if g.err != nil {
		return nil, g.err
	}
	return []models.Position{{ID: 6124, AccountID: accountID, Type: models.PositionTypeShort, Size: 1}}, nil
}

func newTestServer(gw Gateway) *httptest.Server {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return httptest.NewServer(NewServer(gw, logger, "0").Handler())
}

func TestServer_HealthAndCORS(t *testing.T) {
	srv := newTestServer(&stubGateway{})
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/orders", nil)
	require.NoError(t, err)
	preflight, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	preflight.Body.Close()
	assert.Equal(t, http.StatusOK, preflight.StatusCode)
}

func TestServer_Session(t *testing.T) {
	issued := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)
	gw := &stubGateway{state: topstepx.SessionState{
		Authenticated: true,
		IssuedAt:      issued,
		ExpiresAt:     issued.Add(topstepx.SessionLifetime),
	}}
	srv := newTestServer(gw)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/session")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var state topstepx.SessionState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	assert.True(t, state.Authenticated)
	assert.True(t, issued.Add(24*time.Hour).Equal(state.ExpiresAt))
}

func TestServer_Accounts(t *testing.T) {
	gw := &stubGateway{}
	srv := newTestServer(gw)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/accounts?all=true")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, gw.onlyActive)

	var result models.AccountSearchResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, int64(42), result.Accounts[0].ID)
}

func TestServer_Contracts(t *testing.T) {
	gw := &stubGateway{}
	srv := newTestServer(gw)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/contracts?symbols=nq,%20es,,")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"NQ", "ES"}, gw.symbols)
}

func TestServer_Bars(t *testing.T) {
	t.Run("DefaultsAndParsing", func(t *testing.T) {
		gw := &stubGateway{}
		srv := newTestServer(gw)
		defer srv.Close()

		resp, err := http.Post(srv.URL+"/api/bars", "application/json", strings.NewReader(`{
			"contractId": "CON.F.US.MNQ.Z25",
			"startTime": "2025-11-03T14:24:00Z",
			"endTime": "2025-11-03T14:30:00Z",
			"unit": "hours",
			"limit": 5,
			"includePartialBar": true
		}`))
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "CON.F.US.MNQ.Z25", gw.query.ContractID)
		assert.Equal(t, models.BarUnitHour, gw.query.Unit)
		assert.Equal(t, 1, gw.query.UnitNumber)
		assert.Equal(t, 5, gw.query.Limit)
		assert.True(t, gw.query.IncludePartialBar)
	})

	t.Run("BadRequests", func(t *testing.T) {
		srv := newTestServer(&stubGateway{})
		defer srv.Close()

		for _, body := range []string{`{`, `{"unit":"minute"}`, `{"contractId":"X","unit":"fortnight"}`} {
			resp, err := http.Post(srv.URL+"/api/bars", "application/json", strings.NewReader(body))
			require.NoError(t, err)
			resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		}
	})

	t.Run("MethodNotAllowed", func(t *testing.T) {
		srv := newTestServer(&stubGateway{})
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/api/bars")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	})
}

func TestServer_Orders(t *testing.T) {
	t.Run("Placed", func(t *testing.T) {
		gw := &stubGateway{}
		srv := newTestServer(gw)
		defer srv.Close()

		resp, err := http.Post(srv.URL+"/api/orders", "application/json", strings.NewReader(`{
			"accountId": 42, "contractId": "CON.F.US.MES.Z25", "type": 2, "side": 1, "size": 1,
			"stopLossBracket": {"ticks": 50, "type": 4},
			"takeProfitBracket": {"ticks": -25, "type": 1}
		}`))
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.Equal(t, models.OrderSideSell, gw.order.Side)
		require.NotNil(t, gw.order.StopLossBracket)
		assert.Equal(t, 50, gw.order.StopLossBracket.Ticks)

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, float64(77), body["orderId"])
	})

	t.Run("GatewayRejection", func(t *testing.T) {
		gw := &stubGateway{err: &topstepx.GatewayError{
			Kind:    topstepx.ErrOrderPlacement,
			Code:    2,
			Message: "Invalid stop loss ticks",
		}}
		srv := newTestServer(gw)
		defer srv.Close()

		resp, err := http.Post(srv.URL+"/api/orders", "application/json", strings.NewReader(`{"accountId":1}`))
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, float64(2), body["code"])
		assert.Contains(t, body["error"], "Invalid stop loss ticks")
	})
}

func TestServer_Positions(t *testing.T) {
	t.Run("Listed", func(t *testing.T) {
		gw := &stubGateway{}
		srv := newTestServer(gw)
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/api/positions?accountId=1001")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, int64(1001), gw.accountID)

		var positions []models.Position
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&positions))
		require.Len(t, positions, 1)
		assert.Equal(t, models.PositionTypeShort, positions[0].Type)
	})

	t.Run("MissingAccount", func(t *testing.T) {
		srv := newTestServer(&stubGateway{})
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/api/positions")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("TransportFailure", func(t *testing.T) {
		gw := &stubGateway{err: &topstepx.TransportError{Method: http.MethodPost, Path: "/Position/searchOpen", Status: 503}}
		srv := newTestServer(gw)
		defer srv.Close()

		resp, err := http.Get(srv.URL + "/api/positions?accountId=7")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "503", body["status"])
	})
}
