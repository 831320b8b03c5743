package client

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/omochice/market-chat/internal/chat"
	"github.com/omochice/market-chat/internal/history"
	"github.com/omochice/market-chat/internal/logging"
	"github.com/omochice/market-chat/internal/metrics"
	"github.com/omochice/market-chat/internal/pipeline"
	"github.com/omochice/market-chat/internal/roster"
	"github.com/omochice/market-chat/internal/session"
	"github.com/omochice/market-chat/internal/typing"
	"github.com/omochice/market-chat/pkg/protocol"
)

const eventBuffer = 64

// Options wires a Chat to its collaborators.
type Options struct {
	ParticipantID string
	Roster        *roster.Store
	Loader        history.Loader
	Poster        pipeline.Poster
	Dialer        chat.Dialer

	// Optional.
	Clock         clock.Clock
	NewPolicy     func() backoff.BackOff
	TypingTimeout time.Duration
	Metrics       *metrics.Metrics
}

// Chat implements Client.
type Chat struct {
	participantID string
	roster        *roster.Store
	loader        history.Loader
	dialer        chat.Dialer
	clock         clock.Clock
	newPolicy     func() backoff.BackOff
	typingTimeout time.Duration
	metrics       *metrics.Metrics
	logger        zerolog.Logger

	pipeline *pipeline.Pipeline
	manager  *session.Manager

	// mu guards the fields below and is never held while calling into a
	// session or the manager.
	mu     sync.Mutex
	typing *typing.Channel
	events chan Event
	closed bool

	closeOnce sync.Once
	closers   []func() error
}

var _ Client = (*Chat)(nil)

// New creates a Chat. Call Start to resume the restored conversation.
func New(opts Options) *Chat {
	c := &Chat{
		participantID: opts.ParticipantID,
		roster:        opts.Roster,
		loader:        opts.Loader,
		dialer:        opts.Dialer,
		clock:         opts.Clock,
		newPolicy:     opts.NewPolicy,
		typingTimeout: opts.TypingTimeout,
		metrics:       opts.Metrics,
		logger:        logging.Component("client"),
		events:        make(chan Event, eventBuffer),
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	c.pipeline = pipeline.New(opts.ParticipantID, opts.Poster,
		pipeline.WithMetrics(opts.Metrics),
		pipeline.WithTypingReset(func() { c.NotifyComposing(false) }),
		pipeline.WithOnChange(func() { c.emit(Event{Kind: EventMessagesChanged}) }),
		pipeline.WithOnComposing(func(bool) { c.emit(Event{Kind: EventComposingChanged}) }),
	)
	c.manager = session.NewManager(c.newSession, session.WithSwitchHook(c.onSwitch))
	return c
}

// Start resumes the conversation the roster restored as active.
func (c *Chat) Start() {
	if active, ok := c.roster.Active(); ok {
		c.ensureSession(active.ID)
	}
}

// Conversations returns the roster, most recently opened first.
func (c *Chat) Conversations() []roster.Entry {
	return c.roster.List()
}

// ActiveConversation returns the active roster entry.
func (c *Chat) ActiveConversation() (roster.Entry, bool) {
	return c.roster.Active()
}

// OpenConversation adds or refreshes the counterparty in the roster and
// makes it active.
func (c *Chat) OpenConversation(counterpartyID string, meta Meta) roster.Entry {
	entry := c.roster.Open(counterpartyID, meta.DisplayName, meta.DisplayImage)
	c.emit(Event{Kind: EventRosterChanged})
	c.ensureSession(counterpartyID)
	return entry
}

// RemoveConversation drops id from the roster and follows the new active entry.
func (c *Chat) RemoveConversation(id string) bool {
	if !c.roster.Remove(id) {
		return false
	}
	c.emit(Event{Kind: EventRosterChanged})
	if active, ok := c.roster.Active(); ok {
		c.ensureSession(active.ID)
	} else {
		c.manager.Close()
	}
	return true
}

// SelectConversation makes a roster entry active.
func (c *Chat) SelectConversation(id string) bool {
	if !c.roster.SetActive(id) {
		return false
	}
	c.emit(Event{Kind: EventRosterChanged})
	c.ensureSession(id)
	return true
}

// Messages returns the messages of the active conversation.
func (c *Chat) Messages() []protocol.Message {
	return c.pipeline.Messages()
}

// SessionStatus returns the status of the live session, idle when none.
func (c *Chat) SessionStatus() session.Status {
	if s := c.manager.Current(); s != nil {
		return s.Status()
	}
	return session.StatusIdle
}

// Send posts a message to the active conversation.
func (c *Chat) Send(ctx context.Context, text string, upload *protocol.Upload) (protocol.Message, error) {
	return c.pipeline.Send(ctx, text, upload)
}

// NotifyComposing forwards the local composing state to the counterpart.
func (c *Chat) NotifyComposing(composing bool) {
	c.mu.Lock()
	t := c.typing
	c.mu.Unlock()
	if t != nil {
		t.NotifyComposing(composing)
	}
}

// CounterpartComposing reports whether the counterpart is typing.
func (c *Chat) CounterpartComposing() bool {
	return c.pipeline.CounterpartComposing()
}

// Events implements Client.
func (c *Chat) Events() <-chan Event {
	return c.events
}

// Close tears down the session and releases the roster backend. The events
// channel is closed.
func (c *Chat) Close() {
	c.closeOnce.Do(func() {
		c.manager.Close()

		c.mu.Lock()
		c.closed = true
		close(c.events)
		c.mu.Unlock()

		for _, fn := range c.closers {
			if err := fn(); err != nil {
				c.logger.Warn().Err(err).Msg("close failed")
			}
		}
	})
}

// ensureSession keeps the live session when it already serves
// counterpartyID and has not failed; otherwise it switches.
func (c *Chat) ensureSession(counterpartyID string) {
	if s := c.manager.Current(); s != nil && s.CounterpartyID() == counterpartyID && s.Status() != session.StatusFailed {
		return
	}
	c.logger.Info().Str("counterparty_id", counterpartyID).Msg("switching active conversation")
	c.manager.SwitchActiveConversation(counterpartyID)
}

func (c *Chat) onSwitch(string) {
	c.mu.Lock()
	t := c.typing
	c.typing = nil
	c.mu.Unlock()
	if t != nil {
		t.Cancel()
	}
	c.pipeline.Reset()
	c.emit(Event{Kind: EventStatusChanged, Status: session.StatusIdle})
}

func (c *Chat) newSession(counterpartyID string) *session.Session {
	var policy backoff.BackOff
	if c.newPolicy != nil {
		policy = c.newPolicy()
	}
	s := session.New(session.Config{
		CounterpartyID: counterpartyID,
		Loader:         c.loader,
		Dialer:         c.dialer,
		Clock:          c.clock,
		Policy:         policy,
		Metrics:        c.metrics,
		Handlers: session.Handlers{
			OnStatus: func(st session.Status) {
				c.emit(Event{Kind: EventStatusChanged, Status: st})
			},
			OnBaseline: c.pipeline.ApplyBaseline,
			OnFrame:    c.pipeline.HandleFrame,
		},
	})

	t := typing.New(s, c.participantID, typing.WithClock(c.clock), typing.WithTimeout(c.typingTimeout))
	c.mu.Lock()
	c.typing = t
	c.mu.Unlock()
	return s
}

func (c *Chat) emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
	}
}
