// Package session runs the connection state machine of one conversation:
// history load, push channel handshake and the reconnect loop.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/omochice/market-chat/internal/chat"
	"github.com/omochice/market-chat/internal/history"
	"github.com/omochice/market-chat/internal/metrics"
)

// DefaultReconnectDelay is the fixed pause between reconnect attempts.
const DefaultReconnectDelay = 3 * time.Second

// ErrNotReady is returned by Write when the push channel is not open.
var ErrNotReady = errors.New("session is not ready")

// Status is the state of a Session.
type Status int

const (
	StatusIdle Status = iota
	StatusInitializing
	StatusReady
	StatusDisconnected
	StatusReconnecting
	StatusFailed
)

// String returns the string representation of Status
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusInitializing:
		return "initializing"
	case StatusReady:
		return "ready"
	case StatusDisconnected:
		return "disconnected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Handlers receive what a session produces. They are called one at a time,
// never after Teardown returns, and must not call Teardown themselves.
type Handlers struct {
	OnStatus   func(Status)
	OnBaseline func(history.Baseline)
	OnFrame    func([]byte)
}

// Config builds a Session.
type Config struct {
	CounterpartyID string
	Loader         history.Loader
	Dialer         chat.Dialer
	Handlers       Handlers

	// Clock defaults to the wall clock.
	Clock clock.Clock
	// Policy defaults to a constant DefaultReconnectDelay. A policy
	// returning backoff.Stop fails the session.
	Policy  backoff.BackOff
	Metrics *metrics.Metrics
}

// Session is one live connection lifecycle for a conversation.
type Session struct {
	counterpartyID string
	loader         history.Loader
	dialer         chat.Dialer
	handlers       Handlers
	clock          clock.Clock
	policy         backoff.BackOff
	metrics        *metrics.Metrics
	logger         zerolog.Logger

	// deliverMu serializes handler calls; Teardown takes it as a barrier.
	deliverMu sync.Mutex

	mu             sync.Mutex
	status         Status
	retryCount     int
	conversationID string
	conn           chat.Conn
	timer          *clock.Timer
	ctx            context.Context
	cancel         context.CancelFunc
	started        bool
	closed         bool
}

// New creates an idle Session. Nothing happens until Start.
func New(cfg Config) *Session {
	s := &Session{
		counterpartyID: cfg.CounterpartyID,
		loader:         cfg.Loader,
		dialer:         cfg.Dialer,
		handlers:       cfg.Handlers,
		clock:          cfg.Clock,
		policy:         cfg.Policy,
		metrics:        cfg.Metrics,
		logger: log.With().
			Str("component", "session").
			Str("counterparty_id", cfg.CounterpartyID).
			Logger(),
	}
	if s.clock == nil {
		s.clock = clock.New()
	}
	if s.policy == nil {
		s.policy = backoff.NewConstantBackOff(DefaultReconnectDelay)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Start begins the history load. It is a no-op after the first call or
// after Teardown.
func (s *Session) Start() {
	s.deliverMu.Lock()
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		s.deliverMu.Unlock()
		return
	}
	s.started = true
	s.setStatusLocked(StatusInitializing)
	s.mu.Unlock()
	s.notify(StatusInitializing)
	s.deliverMu.Unlock()

	go s.initialize()
}

// Teardown stops the session: no reconnect, timers cancelled, channel
// closed, status idle. Once it returns no handler of this session runs.
func (s *Session) Teardown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopTimerLocked()
	s.cancel()
	conn := s.conn
	s.conn = nil
	s.setStatusLocked(StatusIdle)
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}

	s.deliverMu.Lock()
	s.deliverMu.Unlock()
	s.logger.Debug().Msg("session torn down")
}

// Write sends a frame on the push channel.
func (s *Session) Write(ctx context.Context, data []byte) error {
	s.mu.Lock()
	conn := s.conn
	ready := s.status == StatusReady
	s.mu.Unlock()
	if !ready || conn == nil {
		return ErrNotReady
	}
	return conn.Write(ctx, data)
}

// Status returns the current connection status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// RetryCount is the number of reconnect attempts since the last ready.
func (s *Session) RetryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryCount
}

// CounterpartyID returns the counterparty the session was created for.
func (s *Session) CounterpartyID() string {
	return s.counterpartyID
}

// ConversationID is empty until the history load resolved it.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

func (s *Session) initialize() {
	baseline, err := s.loader.Load(s.ctx, s.counterpartyID)
	if err != nil {
		s.fail(err, "history load failed")
		return
	}

	s.deliverMu.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.deliverMu.Unlock()
		return
	}
	s.conversationID = baseline.ConversationID
	s.logger = s.logger.With().Str("conversation_id", baseline.ConversationID).Logger()
	s.mu.Unlock()
	if s.handlers.OnBaseline != nil {
		s.handlers.OnBaseline(baseline)
	}
	s.deliverMu.Unlock()

	conn, err := s.dialer.Dial(s.ctx, baseline.ConversationID)
	if err != nil {
		s.fail(err, "push channel handshake failed")
		return
	}
	s.attach(conn)
}

func (s *Session) fail(err error, msg string) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.setStatusLocked(StatusFailed)
	s.mu.Unlock()

	s.logger.Error().Err(err).Msg(msg)
	s.notify(StatusFailed)
}

func (s *Session) attach(conn chat.Conn) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conn = conn
	s.retryCount = 0
	s.policy.Reset()
	s.setStatusLocked(StatusReady)
	s.mu.Unlock()

	s.logger.Info().Str("remote", conn.RemoteAddr()).Msg("push channel ready")
	s.notify(StatusReady)
	go s.readLoop(conn)
}

func (s *Session) readLoop(conn chat.Conn) {
	for {
		data, err := conn.Read(s.ctx)
		if err != nil {
			s.handleClosed(conn, err)
			return
		}

		s.deliverMu.Lock()
		s.mu.Lock()
		stale := s.closed || s.conn != conn
		s.mu.Unlock()
		if !stale && s.handlers.OnFrame != nil {
			s.handlers.OnFrame(data)
		}
		s.deliverMu.Unlock()
		if stale {
			return
		}
	}
}

func (s *Session) handleClosed(conn chat.Conn, cause error) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if s.closed || s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.conn = nil
	s.setStatusLocked(StatusDisconnected)
	s.mu.Unlock()

	conn.Close()
	s.logger.Warn().Err(cause).Msg("push channel closed")
	s.notify(StatusDisconnected)
	s.scheduleReconnect()
}

// scheduleReconnect must be called with deliverMu held.
func (s *Session) scheduleReconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	next := s.policy.NextBackOff()
	if next == backoff.Stop {
		attempts := s.retryCount
		s.setStatusLocked(StatusFailed)
		s.mu.Unlock()
		s.logger.Error().Int("retry_count", attempts).Msg("reconnect policy gave up")
		s.notify(StatusFailed)
		return
	}
	s.retryCount++
	retry := s.retryCount
	s.setStatusLocked(StatusReconnecting)
	s.scheduleTimerLocked(next)
	s.mu.Unlock()

	s.logger.Info().Int("retry_count", retry).Dur("delay", next).Msg("reconnect scheduled")
	s.notify(StatusReconnecting)
}

func (s *Session) scheduleTimerLocked(d time.Duration) {
	s.stopTimerLocked()
	s.timer = s.clock.AfterFunc(d, s.reconnect)
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) reconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	conversationID := s.conversationID
	s.mu.Unlock()

	s.metrics.Reconnect()
	conn, err := s.dialer.Dial(s.ctx, conversationID)
	if err != nil {
		s.deliverMu.Lock()
		defer s.deliverMu.Unlock()

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		s.setStatusLocked(StatusDisconnected)
		s.mu.Unlock()

		s.logger.Warn().Err(err).Msg("reconnect attempt failed")
		s.notify(StatusDisconnected)
		s.scheduleReconnect()
		return
	}
	s.attach(conn)
}

func (s *Session) setStatusLocked(status Status) {
	if s.status == status {
		return
	}
	s.status = status
	s.metrics.Transition(status.String())
}

func (s *Session) notify(status Status) {
	if s.handlers.OnStatus != nil {
		s.handlers.OnStatus(status)
	}
}
