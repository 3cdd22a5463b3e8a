package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Snoe0/Topstep-API/pkg/models"
	"github.com/Snoe0/Topstep-API/pkg/topstepx"
	"github.com/sirupsen/logrus"
)

// Gateway is the part of topstepx.Client the API serves.
type Gateway interface {
	State() topstepx.SessionState
	GetAccounts(ctx context.Context, onlyActive bool) (*models.AccountSearchResult, error)
	ResolveContracts(ctx context.Context, symbols ...string) (map[string]models.ResolvedContract, error)
	GetHistoricalData(ctx context.Context, q models.HistoryQuery) ([]models.Bar, error)
	PlaceOrder(ctx context.Context, order models.Order) (*models.OrderAck, error)
	GetPositions(ctx context.Context, accountID int64) ([]models.Position, error)
}

type Server struct {
	gateway Gateway
	logger  *logrus.Logger
	port    string
}

func NewServer(gateway Gateway, logger *logrus.Logger, port string) *Server {
	return &Server{
		gateway: gateway,
		logger:  logger,
		port:    port,
	}
}

func (s *Server) Start() error {
	s.logger.Infof("Starting API server on port %s", s.port)
	return http.ListenAndServe(":"+s.port, s.Handler())
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/session", s.handleSession)
	mux.HandleFunc("/api/accounts", s.handleAccounts)
	mux.HandleFunc("/api/contracts", s.handleContracts)
	mux.HandleFunc("/api/bars", s.handleBars)
	mux.HandleFunc("/api/orders", s.handleOrders)
	mux.HandleFunc("/api/positions", s.handlePositions)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, http.StatusOK, s.gateway.State())
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	onlyActive := r.URL.Query().Get("all") != "true"
	accounts, err := s.gateway.GetAccounts(r.Context(), onlyActive)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, accounts)
}

func (s *Server) handleContracts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var symbols []string
	for _, sym := range strings.Split(r.URL.Query().Get("symbols"), ",") {
		if sym = strings.ToUpper(strings.TrimSpace(sym)); sym != "" {
			symbols = append(symbols, sym)
		}
	}

	contracts, err := s.gateway.ResolveContracts(r.Context(), symbols...)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, contracts)
}

type barsRequest struct {
	ContractID        string    `json:"contractId"`
	StartTime         time.Time `json:"startTime"`
	EndTime           time.Time `json:"endTime"`
	Unit              string    `json:"unit"`
	UnitNumber        int       `json:"unitNumber"`
	Limit             int       `json:"limit"`
	IncludePartialBar bool      `json:"includePartialBar"`
}

func (s *Server) handleBars(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req barsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.ContractID == "" {
		http.Error(w, "contractId is required", http.StatusBadRequest)
		return
	}

	unit := models.BarUnitMinute
	if req.Unit != "" {
		var err error
		if unit, err = models.ParseBarUnit(req.Unit); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if req.UnitNumber <= 0 {
		req.UnitNumber = 1
	}

	bars, err := s.gateway.GetHistoricalData(r.Context(), models.HistoryQuery{
		ContractID:        req.ContractID,
		StartTime:         req.StartTime,
		EndTime:           req.EndTime,
		Unit:              unit,
		UnitNumber:        req.UnitNumber,
		Limit:             req.Limit,
		IncludePartialBar: req.IncludePartialBar,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, bars)
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var order models.Order
	if err := json.NewDecoder(r.Body).Decode(&order); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ack, err := s.gateway.PlaceOrder(r.Context(), order)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"orderId": ack.OrderID,
		"raw":     ack.Raw,
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	accountID, err := strconv.ParseInt(r.URL.Query().Get("accountId"), 10, 64)
	if err != nil {
		http.Error(w, "accountId is required", http.StatusBadRequest)
		return
	}

	positions, err := s.gateway.GetPositions(r.Context(), accountID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, positions)
}

// writeError reports gateway rejections and transport failures as 502 with
// the gateway's error code.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	body := map[string]interface{}{"error": err.Error()}

	var gerr *topstepx.GatewayError
	var terr *topstepx.TransportError
	switch {
	case errors.As(err, &gerr):
		body["code"] = gerr.Code
	case errors.As(err, &terr):
		body["status"] = strconv.Itoa(terr.Status)
	}

	s.logger.WithError(err).Error("Gateway call failed")
	s.writeJSON(w, http.StatusBadGateway, body)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}
