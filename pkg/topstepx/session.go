package topstepx

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

const (
	// SessionLifetime is how long the gateway honours a token after login.
	SessionLifetime = 24 * time.Hour
	// RefreshMargin is how close to expiry a token may get before a call
	// validates it first.
	RefreshMargin = time.Hour
	// ValidationInterval must stay below SessionLifetime.
	ValidationInterval = 23 * time.Hour

	pathLogin    = "/Auth/loginKey"
	pathValidate = "/Auth/validate"
)

type Credentials struct {
	UserName string
	APIKey   string
}

// SessionState is a read-only snapshot of the session.
type SessionState struct {
	Authenticated bool      `json:"authenticated"`
	IssuedAt      time.Time `json:"issuedAt"`
	ExpiresAt     time.Time `json:"expiresAt"`
	// TokenExpiresAt is the exp claim carried by the bearer token, when it
	// is a JWT. It does not drive renewal.
	TokenExpiresAt time.Time `json:"tokenExpiresAt,omitempty"`
}

type loginRequest struct {
	UserName string `json:"userName"`
	APIKey   string `json:"apiKey"`
}

type loginResponse struct {
	envelope
	Token string `json:"token"`
}

// Session owns the bearer token and keeps it fresh. flight serializes every
// authenticate and validate; mu guards the fields below it. generation is
// bumped by Teardown so a login or validation that was already in flight
// cannot reinstall a token afterwards.
type Session struct {
	creds     Credentials
	transport requester
	clock     clock.Clock
	logger    *logrus.Logger

	validateEvery time.Duration

	flight sync.Mutex

	mu             sync.RWMutex
	token          string
	issuedAt       time.Time
	expiresAt      time.Time
	tokenExpiresAt time.Time
	authenticated  bool
	refresh        *refreshTimer
	generation     uint64
}

type refreshTimer struct {
	ticker *clock.Ticker
	ctx    context.Context
	cancel context.CancelFunc
}

func (r *refreshTimer) stop() {
	r.ticker.Stop()
	r.cancel()
}

func NewSession(creds Credentials, transport requester, clk clock.Clock, logger *logrus.Logger) *Session {
	if clk == nil {
		clk = clock.New()
	}
	return &Session{
		creds:         creds,
		transport:     transport,
		clock:         clk,
		logger:        logger,
		validateEvery: ValidationInterval,
	}
}

func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionState{
		Authenticated:  s.authenticated,
		IssuedAt:       s.issuedAt,
		ExpiresAt:      s.expiresAt,
		TokenExpiresAt: s.tokenExpiresAt,
	}
}

// Authenticate logs in with the configured credentials and starts the
// periodic validation.
func (s *Session) Authenticate(ctx context.Context) error {
	s.flight.Lock()
	defer s.flight.Unlock()
	return s.authenticate(ctx)
}

// Validate checks the current token with the gateway. A rejected or failed
// validation is repaired by logging in again; only a failed login is
// returned.
func (s *Session) Validate(ctx context.Context) error {
	s.flight.Lock()
	defer s.flight.Unlock()
	return s.validate(ctx)
}

// EnsureValid guarantees that the next request carries a token that is
// neither expired nor within RefreshMargin of expiring.
func (s *Session) EnsureValid(ctx context.Context) error {
	s.flight.Lock()
	defer s.flight.Unlock()

	s.mu.RLock()
	authenticated, token, expiresAt := s.authenticated, s.token, s.expiresAt
	s.mu.RUnlock()

	if !authenticated || token == "" {
		return s.authenticate(ctx)
	}
	if !s.clock.Now().Before(expiresAt.Add(-RefreshMargin)) {
		s.logger.WithField("expires_at", expiresAt).Info("Session token expiring soon, validating")
		return s.validate(ctx)
	}
	return nil
}

// Teardown stops the validation timer and discards the token. It is safe to
// call any number of times.
func (s *Session) Teardown() {
	s.mu.Lock()
	stopped := s.refresh != nil
	if stopped {
		s.refresh.stop()
		s.refresh = nil
	}
	s.clearLocked()
	s.generation++
	s.mu.Unlock()

	s.transport.SetBearer("")
	if stopped {
		s.logger.Info("Session validation timer stopped")
	}
}

func (s *Session) currentGeneration() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

func tornDown(op string) *GatewayError {
	return &GatewayError{
		Kind:    ErrAuthentication,
		Op:      op,
		Code:    UnknownErrorCode,
		Message: "session was torn down",
	}
}

func (s *Session) authenticate(ctx context.Context) error {
	return s.login(ctx, s.currentGeneration())
}

// login authenticates on behalf of generation gen. The result is discarded
// when the session was torn down since gen was read.
func (s *Session) login(ctx context.Context, gen uint64) error {
	if s.creds.UserName == "" || s.creds.APIKey == "" {
		s.fail()
		return &GatewayError{
			Kind:    ErrAuthentication,
			Op:      pathLogin,
			Code:    UnknownErrorCode,
			Message: "both userName and apiKey are required",
		}
	}

	s.logger.WithField("user", s.creds.UserName).Info("Authenticating with gateway")

	resp, err := s.transport.Post(ctx, pathLogin, loginRequest{
		UserName: s.creds.UserName,
		APIKey:   s.creds.APIKey,
	})
	if err != nil {
		s.fail()
		s.logger.WithError(err).Error("Authentication request failed")
		return &GatewayError{
			Kind:    ErrAuthentication,
			Op:      pathLogin,
			Code:    UnknownErrorCode,
			Message: "login request failed",
			Err:     err,
		}
	}

	var login loginResponse
	if err := json.Unmarshal(resp.Data, &login); err != nil {
		s.fail()
		return malformed(ErrAuthentication, pathLogin, err)
	}
	if !login.ok() || login.Token == "" {
		s.fail()
		gerr := login.failure(ErrAuthentication, pathLogin, "Authentication failed")
		s.logger.WithFields(logrus.Fields{
			"code":    gerr.Code,
			"message": gerr.Message,
		}).Error("Gateway rejected login")
		return gerr
	}

	now := s.clock.Now()
	tokenExp := jwtExpiry(login.Token)

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		s.logger.Warn("Session torn down during login, discarding token")
		return tornDown(pathLogin)
	}
	s.token = login.Token
	s.issuedAt = now
	s.expiresAt = now.Add(SessionLifetime)
	s.tokenExpiresAt = tokenExp
	s.authenticated = true
	s.scheduleLocked()
	s.transport.SetBearer(login.Token)
	s.mu.Unlock()

	fields := logrus.Fields{"expires_at": now.Add(SessionLifetime)}
	if !tokenExp.IsZero() {
		fields["token_exp"] = tokenExp
	}
	s.logger.WithFields(fields).Info("Authentication successful")
	return nil
}

func (s *Session) validate(ctx context.Context) error {
	gen := s.currentGeneration()

	resp, err := s.transport.Post(ctx, pathValidate, nil)
	if err == nil {
		var status envelope
		if err = json.Unmarshal(resp.Data, &status); err == nil {
			if status.ok() {
				if s.currentGeneration() != gen {
					return tornDown(pathValidate)
				}
				s.logger.Debug("Session token is still valid")
				return nil
			}
			err = status.failure(ErrAuthentication, pathValidate, "token rejected")
		}
	}

	s.mu.Lock()
	if s.generation != gen {
		s.mu.Unlock()
		return tornDown(pathValidate)
	}
	s.authenticated = false
	s.mu.Unlock()

	s.logger.WithError(err).Warn("Session validation failed, re-authenticating")
	return s.login(ctx, gen)
}

// scheduleLocked replaces any running validation timer. It never waits for
// the old goroutine, because it may be running inside it.
func (s *Session) scheduleLocked() {
	if s.refresh != nil {
		s.refresh.stop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &refreshTimer{
		ticker: s.clock.Ticker(s.validateEvery),
		ctx:    ctx,
		cancel: cancel,
	}
	s.refresh = r
	go s.runRefresh(r)

	s.logger.WithField("interval", s.validateEvery).Debug("Session validation scheduled")
}

func (s *Session) runRefresh(r *refreshTimer) {
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.ticker.C:
			if r.ctx.Err() != nil {
				return
			}
			s.logger.Info("Running scheduled session validation")
			s.flight.Lock()
			err := s.validate(r.ctx)
			s.flight.Unlock()
			if err != nil {
				s.logger.WithError(err).Error("Scheduled session validation failed")
			}
		}
	}
}

// fail returns the session to the unauthenticated state.
func (s *Session) fail() {
	s.mu.Lock()
	if s.refresh != nil {
		s.refresh.stop()
		s.refresh = nil
	}
	s.clearLocked()
	s.mu.Unlock()
	s.transport.SetBearer("")
}

func (s *Session) clearLocked() {
	s.token = ""
	s.authenticated = false
	s.expiresAt = time.Time{}
	s.tokenExpiresAt = time.Time{}
}

// jwtExpiry reads the exp claim without verifying the signature; the gateway
// is the only party that can verify it.
func jwtExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
