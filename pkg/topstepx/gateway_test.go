package topstepx

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2025, 11, 3, 14, 30, 0, 0, time.UTC)

// fakeGateway serves the gateway endpoints from handlers keyed by path and
// records what each path received.
type fakeGateway struct {
	t      *testing.T
	server *httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	calls    map[string]int
	bodies   map[string][][]byte
	auth     map[string][]string
	tokens   []string
}

func newFakeGateway(t *testing.T) *fakeGateway {
	t.Helper()
	gw := &fakeGateway{
		t:        t,
		handlers: make(map[string]http.HandlerFunc),
		calls:    make(map[string]int),
		bodies:   make(map[string][][]byte),
		auth:     make(map[string][]string),
	}
	gw.handle(pathLogin, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"token":     gw.issueToken(),
			"success":   true,
			"errorCode": 0,
		})
	})
	gw.handle(pathValidate, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{"success": true, "errorCode": 0})
	})

	gw.server = httptest.NewServer(http.HandlerFunc(gw.serve))
	t.Cleanup(gw.server.Close)
	return gw
}

func (gw *fakeGateway) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	gw.mu.Lock()
	gw.calls[r.URL.Path]++
	gw.bodies[r.URL.Path] = append(gw.bodies[r.URL.Path], body)
	gw.auth[r.URL.Path] = append(gw.auth[r.URL.Path], r.Header.Get("Authorization"))
	handler, ok := gw.handlers[r.URL.Path]
	gw.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	handler(w, r)
}

func (gw *fakeGateway) handle(path string, h http.HandlerFunc) {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	gw.handlers[path] = h
}

func (gw *fakeGateway) respond(path string, body interface{}) {
	gw.handle(path, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, body)
	})
}

func (gw *fakeGateway) issueToken() string {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	claims := jwt.MapClaims{
		"sub": fmt.Sprintf("session-%d", len(gw.tokens)+1),
		"exp": testEpoch.Add(SessionLifetime).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("gateway-secret"))
	require.NoError(gw.t, err)
	gw.tokens = append(gw.tokens, token)
	return token
}

func (gw *fakeGateway) token(n int) string {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	require.GreaterOrEqual(gw.t, len(gw.tokens), n, "token %d was never issued", n)
	return gw.tokens[n-1]
}

func (gw *fakeGateway) count(path string) int {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	return gw.calls[path]
}

func (gw *fakeGateway) total() int {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	n := 0
	for _, c := range gw.calls {
		n += c
	}
	return n
}

func (gw *fakeGateway) lastBody(path string) []byte {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	bodies := gw.bodies[path]
	require.NotEmpty(gw.t, bodies, "no request recorded for %s", path)
	return bodies[len(bodies)-1]
}

func (gw *fakeGateway) lastAuth(path string) string {
	gw.mu.Lock()
	defer gw.mu.Unlock()
	auth := gw.auth[path]
	require.NotEmpty(gw.t, auth, "no request recorded for %s", path)
	return auth[len(auth)-1]
}

func writeJSON(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestClient(t *testing.T, gw *fakeGateway, mock *clock.Mock) *Client {
	t.Helper()
	client := NewClient(Config{
		Credentials: Credentials{UserName: "trader", APIKey: "key-123"},
		Transport:   TransportConfig{BaseURL: gw.server.URL, Timeout: 5 * time.Second},
		LiveData:    LiveDataConfig{PingInterval: time.Hour, InitialDelay: time.Millisecond},
		Clock:       mock,
	}, testLogger())
	t.Cleanup(client.Disconnect)
	return client
}

func newMockClock() *clock.Mock {
	mock := clock.NewMock()
	mock.Set(testEpoch)
	return mock
}
