package topstepx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL          = "https://api.topstepx.com/api"
	DefaultTimeout          = 30 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second

	maxErrorBody = 512
)

type Response struct {
	Status int
	Data   []byte
}

// requester is the slice of the transport the session needs.
type requester interface {
	Post(ctx context.Context, path string, body interface{}) (*Response, error)
	SetBearer(token string)
}

type TransportConfig struct {
	BaseURL           string
	Timeout           time.Duration
	HandshakeTimeout  time.Duration
	RequestsPerSecond float64 // 0 disables pacing
	RequestsBurst     int
}

// Transport issues JSON requests against the gateway and opens its sockets.
// It knows nothing about sessions beyond the bearer header it is given.
type Transport struct {
	baseURL    string
	httpClient *http.Client
	dialer     *websocket.Dialer
	limiter    *rate.Limiter

	mu     sync.RWMutex
	bearer string
}

func NewTransport(cfg TransportConfig) *Transport {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.RequestsBurst
	if burst <= 0 {
		burst = 1
	}

	return &Transport{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (t *Transport) BaseURL() string {
	return t.baseURL
}

// SetBearer sets the Authorization header sent with every request. An empty
// token clears it.
func (t *Transport) SetBearer(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.bearer = token
}

func (t *Transport) Bearer() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.bearer
}

func (t *Transport) Post(ctx context.Context, path string, body interface{}) (*Response, error) {
	payload := []byte("{}")
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("failed to encode %s request: %w", path, err)
		}
	}

	if err := t.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Method: http.MethodPost, Path: path, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, &TransportError{Method: http.MethodPost, Path: path, Err: err}
	}
	req.Header.Set("Accept", "text/plain")
	req.Header.Set("Content-Type", "application/json")
	if bearer := t.Bearer(); bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Method: http.MethodPost, Path: path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Method: http.MethodPost, Path: path, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := data
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, &TransportError{
			Method: http.MethodPost,
			Path:   path,
			Status: resp.StatusCode,
			Body:   string(snippet),
		}
	}

	return &Response{Status: resp.StatusCode, Data: data}, nil
}

func (t *Transport) Dial(ctx context.Context, url string, header http.Header) (*websocket.Conn, error) {
	conn, resp, err := t.dialer.DialContext(ctx, url, header)
	if err != nil {
		terr := &TransportError{Method: http.MethodGet, Path: url, Err: err}
		if resp != nil {
			terr.Status = resp.StatusCode
		}
		return nil, terr
	}
	return conn, nil
}

// socketURL maps the REST base onto the websocket scheme (https becomes wss).
func (t *Transport) socketURL(path string) string {
	return strings.Replace(t.baseURL, "http", "ws", 1) + path
}
