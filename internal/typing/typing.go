// Package typing emits typing-start and typing-stop signals on the push
// channel of the active conversation.
package typing

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/omochice/market-chat/internal/session"
	"github.com/omochice/market-chat/pkg/protocol"
)

// DefaultTimeout is how long typing lasts after the last keystroke.
const DefaultTimeout = 2 * time.Second

const writeTimeout = 2 * time.Second

// Target is the push channel the signals go to.
type Target interface {
	ConversationID() string
	Write(ctx context.Context, data []byte) error
}

// Option configures a Channel.
type Option func(*Channel)

// WithClock replaces the wall clock, for tests.
func WithClock(c clock.Clock) Option {
	return func(ch *Channel) { ch.clock = c }
}

// WithTimeout overrides DefaultTimeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(ch *Channel) {
		if d > 0 {
			ch.timeout = d
		}
	}
}

// Channel debounces composing notifications into start/stop frames.
type Channel struct {
	target        Target
	participantID string
	clock         clock.Clock
	timeout       time.Duration
	logger        zerolog.Logger

	// mu is held while writing so frames leave in call order.
	mu        sync.Mutex
	timer     *clock.Timer
	gen       uint64
	cancelled bool
}

// New creates a Channel writing typing frames to target.
func New(target Target, participantID string, opts ...Option) *Channel {
	c := &Channel{
		target:        target,
		participantID: participantID,
		clock:         clock.New(),
		timeout:       DefaultTimeout,
		logger:        log.With().Str("component", "typing").Logger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NotifyComposing sends typing-start and restarts the stop timer when
// composing is true; otherwise it cancels the timer and sends typing-stop.
func (c *Channel) NotifyComposing(composing bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled {
		return
	}

	c.gen++
	c.stopTimerLocked()
	if composing {
		gen := c.gen
		c.timer = c.clock.AfterFunc(c.timeout, func() { c.expire(gen) })
	}
	c.sendLocked(composing)
}

// Cancel stops the timer without sending anything. Later notifications
// are ignored.
func (c *Channel) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
	c.gen++
	c.stopTimerLocked()
}

func (c *Channel) expire(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelled || gen != c.gen {
		return
	}
	c.timer = nil
	c.sendLocked(false)
}

func (c *Channel) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Channel) sendLocked(isTyping bool) {
	env, err := protocol.NewTypingEnvelope(protocol.Typing{
		ConversationID: c.target.ConversationID(),
		SenderID:       c.participantID,
		IsTyping:       isTyping,
	})
	if err != nil {
		c.logger.Warn().Err(err).Msg("typing frame not encoded")
		return
	}
	data, err := env.Encode()
	if err != nil {
		c.logger.Warn().Err(err).Msg("typing frame not encoded")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.target.Write(ctx, data); err != nil {
		if errors.Is(err, session.ErrNotReady) {
			c.logger.Debug().Bool("typing", isTyping).Msg("typing frame dropped, channel not ready")
			return
		}
		c.logger.Warn().Err(err).Bool("typing", isTyping).Msg("typing frame not sent")
	}
}
