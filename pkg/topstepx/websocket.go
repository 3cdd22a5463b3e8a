package topstepx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Snoe0/Topstep-API/pkg/models"
	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPingInterval = 30 * time.Second
	DefaultDialRetries  = 2

	writeWait = 10 * time.Second
)

type LiveDataConfig struct {
	PingInterval time.Duration
	// DialRetries bounds retries of the initial dial only. A subscription
	// never reconnects once it has been established.
	DialRetries  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

func (c LiveDataConfig) withDefaults() LiveDataConfig {
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.DialRetries < 0 {
		c.DialRetries = 0
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 500 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 5 * time.Second
	}
	return c
}

// MessageHandler receives frames one at a time, in arrival order.
type MessageHandler func(msg models.LiveMessage)

// Subscription is one live-data socket. Closing it is the only way to stop
// delivery; a dropped connection is reported through Connected and Done.
type Subscription struct {
	symbol  string
	conn    *websocket.Conn
	handler MessageHandler
	clock   clock.Clock
	logger  *logrus.Logger
	onClose func(*Subscription)

	mu        sync.Mutex // serializes writes and guards connected
	connected bool

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// SubscribeLiveData opens a socket for symbol and delivers every well-formed
// frame to handler. The bearer token is captured when the socket is opened
// and is not re-checked afterwards.
func (c *Client) SubscribeLiveData(ctx context.Context, symbol string, handler MessageHandler) (*Subscription, error) {
	if symbol == "" {
		return nil, fmt.Errorf("live data: symbol is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("live data: handler is required")
	}
	if err := c.session.EnsureValid(ctx); err != nil {
		return nil, err
	}

	wsURL := c.transport.socketURL("/live/" + url.PathEscape(symbol))
	header := http.Header{}
	if bearer := c.transport.Bearer(); bearer != "" {
		header.Set("Authorization", "Bearer "+bearer)
	}

	conn, err := c.dialWithRetry(ctx, wsURL, header)
	if err != nil {
		return nil, err
	}

	sub := &Subscription{
		symbol:    symbol,
		conn:      conn,
		handler:   handler,
		clock:     c.clock,
		logger:    c.logger,
		onClose:   c.forget,
		connected: true,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	c.mu.Lock()
	c.subs[sub] = struct{}{}
	c.mu.Unlock()

	go sub.readLoop()
	go sub.keepAlive(c.live.PingInterval)

	c.logger.WithField("symbol", symbol).Info("Connected to live data feed")
	return sub, nil
}

func (c *Client) dialWithRetry(ctx context.Context, wsURL string, header http.Header) (*websocket.Conn, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.live.InitialDelay
	policy.MaxInterval = c.live.MaxDelay
	policy.MaxElapsedTime = 0

	attempt := 0
	var conn *websocket.Conn
	operation := func() error {
		attempt++
		var err error
		conn, err = c.transport.Dial(ctx, wsURL, header)
		if err != nil {
			c.logger.WithError(err).WithField("attempt", attempt).Warn("Live data dial failed")
			var terr *TransportError
			if errors.As(err, &terr) && (terr.Status == http.StatusUnauthorized || terr.Status == http.StatusForbidden) {
				return backoff.Permanent(err)
			}
			return err
		}
		return nil
	}

	strategy := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.live.DialRetries)), ctx)
	if err := backoff.Retry(operation, strategy); err != nil {
		return nil, err
	}
	return conn, nil
}

func (c *Client) forget(sub *Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, sub)
}

func (s *Subscription) Symbol() string {
	return s.symbol
}

func (s *Subscription) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Done is closed once the subscription stops reading, whether it was closed
// or the connection dropped.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close is idempotent, and returns nil for a connection the server already
// dropped.
func (s *Subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)

		s.mu.Lock()
		if s.connected {
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			if err = s.conn.Close(); errors.Is(err, net.ErrClosed) {
				err = nil
			}
		}
		s.connected = false
		s.mu.Unlock()

		if s.onClose != nil {
			s.onClose(s)
		}
		s.logger.WithField("symbol", s.symbol).Info("Live data connection closed")
	})
	return err
}

func (s *Subscription) closing() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

func (s *Subscription) readLoop() {
	defer close(s.done)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closing() {
				s.logger.WithError(err).WithField("symbol", s.symbol).Error("Live data connection lost")
			}
			s.markDisconnected()
			if s.onClose != nil {
				s.onClose(s)
			}
			return
		}

		if !json.Valid(data) {
			s.logger.WithFields(logrus.Fields{
				"symbol": s.symbol,
				"bytes":  len(data),
			}).Warn("Dropping malformed live data frame")
			continue
		}

		s.deliver(models.LiveMessage{
			Symbol:     s.symbol,
			ReceivedAt: s.clock.Now(),
			Data:       json.RawMessage(data),
		})
	}
}

func (s *Subscription) deliver(msg models.LiveMessage) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("symbol", s.symbol).Errorf("Live data handler panic recovered: %v", r)
		}
	}()
	s.handler(msg)
}

func (s *Subscription) keepAlive(interval time.Duration) {
	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.connected {
				if err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					s.logger.WithError(err).WithField("symbol", s.symbol).Error("Failed to send ping")
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *Subscription) markDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.connected {
		s.conn.Close()
	}
	s.connected = false
}
