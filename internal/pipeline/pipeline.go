// Package pipeline merges the history baseline, push frames and local sends
// of the active conversation into one ordered message list.
package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/omochice/market-chat/internal/history"
	"github.com/omochice/market-chat/internal/metrics"
	"github.com/omochice/market-chat/pkg/protocol"
)

var (
	// ErrEmptyMessage rejects a send with neither text nor image.
	ErrEmptyMessage = errors.New("message has neither text nor image")
	// ErrSendFailed wraps every collaborator failure of Send.
	ErrSendFailed = errors.New("send failed")
	// ErrNoActiveConversation is returned by Send before a baseline loaded.
	ErrNoActiveConversation = errors.New("no active conversation")
)

// pendingImagePrefix marks the attachment of a pending message until the
// collaborator assigns its reference.
const pendingImagePrefix = "pending:"

type sendError struct {
	cause error
}

func (e *sendError) Error() string        { return "send failed: " + e.cause.Error() }
func (e *sendError) Unwrap() error        { return e.cause }
func (e *sendError) Is(target error) bool { return target == ErrSendFailed }

// Poster submits messages to the collaborator.
type Poster interface {
	PostMessage(ctx context.Context, conversationID, content string, upload *protocol.Upload) (protocol.Message, error)
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithOnChange is called after every change of the message list, outside
// the pipeline lock.
func WithOnChange(fn func()) Option {
	return func(p *Pipeline) { p.onChange = fn }
}

// WithOnComposing is called when the counterpart composing flag flips.
func WithOnComposing(fn func(composing bool)) Option {
	return func(p *Pipeline) { p.onComposing = fn }
}

// WithTypingReset is called by Send before the message is posted.
func WithTypingReset(fn func()) Option {
	return func(p *Pipeline) { p.typingReset = fn }
}

// WithMetrics records frame and send outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithNow overrides time.Now for pending messages.
func WithNow(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	participantID string
	poster        Poster
	onChange      func()
	onComposing   func(bool)
	typingReset   func()
	metrics       *metrics.Metrics
	now           func() time.Time
	logger        zerolog.Logger

	mu                   sync.Mutex
	log                  Log
	conversationID       string
	loaded               bool
	counterpartComposing bool
}

// New creates a Pipeline for participantID posting through poster.
func New(participantID string, poster Poster, opts ...Option) *Pipeline {
	p := &Pipeline{
		participantID: participantID,
		poster:        poster,
		now:           time.Now,
		logger:        log.With().Str("component", "pipeline").Logger(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Reset drops the log of the previous conversation. Nothing is held again
// until the next baseline.
func (p *Pipeline) Reset() {
	p.mu.Lock()
	p.log.Clear()
	p.conversationID = ""
	p.loaded = false
	p.counterpartComposing = false
	p.mu.Unlock()
	p.changed()
}

// ApplyBaseline installs the history of the conversation that became
// active.
func (p *Pipeline) ApplyBaseline(b history.Baseline) {
	p.mu.Lock()
	p.conversationID = b.ConversationID
	p.loaded = true
	p.counterpartComposing = false
	p.log.Reset(b.Messages)
	n := p.log.Len()
	p.mu.Unlock()

	p.logger.Debug().
		Str("conversation_id", b.ConversationID).
		Int("messages", n).
		Msg("baseline applied")
	p.changed()
}

// HandleFrame applies one push frame. Frames for another conversation or
// with an unknown event are ignored.
func (p *Pipeline) HandleFrame(data []byte) {
	var env protocol.Envelope
	if err := env.Decode(data); err != nil {
		p.metrics.Frame("invalid", "dropped")
		p.logger.Warn().Err(err).Msg("push frame dropped")
		return
	}

	switch env.Event {
	case protocol.EventMessage:
		msg, err := env.Message()
		if err != nil {
			p.metrics.Frame(string(env.Event), "dropped")
			p.logger.Warn().Err(err).Msg("message frame dropped")
			return
		}
		p.applyPush(msg)
	case protocol.EventTyping:
		sig, err := env.Typing()
		if err != nil {
			p.metrics.Frame(string(env.Event), "dropped")
			p.logger.Warn().Err(err).Msg("typing frame dropped")
			return
		}
		p.applyTyping(sig)
	default:
		p.metrics.Frame(string(env.Event), "ignored")
		p.logger.Debug().Str("event", string(env.Event)).Msg("push frame ignored")
	}
}

func (p *Pipeline) applyPush(msg protocol.Message) {
	p.mu.Lock()
	if !p.loaded || msg.ConversationID != p.conversationID {
		active := p.conversationID
		p.mu.Unlock()
		p.metrics.Frame(string(protocol.EventMessage), "ignored")
		p.logger.Debug().
			Str("conversation_id", msg.ConversationID).
			Str("active", active).
			Msg("push for another conversation ignored")
		return
	}
	p.log.Push(msg, p.participantID)
	stoppedComposing := false
	if !msg.IsMine(p.participantID) && p.counterpartComposing {
		p.counterpartComposing = false
		stoppedComposing = true
	}
	p.mu.Unlock()

	p.metrics.Frame(string(protocol.EventMessage), "applied")
	p.changed()
	if stoppedComposing {
		p.composing(false)
	}
}

func (p *Pipeline) applyTyping(sig protocol.Typing) {
	p.mu.Lock()
	if !p.loaded || sig.ConversationID != p.conversationID || sig.SenderID == p.participantID {
		p.mu.Unlock()
		p.metrics.Frame(string(protocol.EventTyping), "ignored")
		return
	}
	changed := p.counterpartComposing != sig.IsTyping
	p.counterpartComposing = sig.IsTyping
	p.mu.Unlock()

	p.metrics.Frame(string(protocol.EventTyping), "applied")
	if changed {
		p.composing(sig.IsTyping)
	}
}

// Send validates and posts a message. The message shows up immediately as
// local-optimistic and is confirmed by the response or a push. On failure
// it is removed again and the error wraps ErrSendFailed.
func (p *Pipeline) Send(ctx context.Context, text string, upload *protocol.Upload) (protocol.Message, error) {
	if strings.TrimSpace(text) == "" {
		text = ""
	}
	if text == "" && upload.IsEmpty() {
		return protocol.Message{}, ErrEmptyMessage
	}
	if upload.IsEmpty() {
		upload = nil
	}

	p.mu.Lock()
	if !p.loaded || p.conversationID == "" {
		p.mu.Unlock()
		return protocol.Message{}, ErrNoActiveConversation
	}
	conversationID := p.conversationID
	pending := protocol.Message{
		ConversationID: conversationID,
		SenderID:       p.participantID,
		Content:        text,
		CreatedAt:      p.now(),
		LocalKey:       uuid.NewString(),
	}
	if upload != nil {
		pending.Image = pendingImagePrefix + upload.Filename
	}
	p.log.AppendPending(pending)
	p.mu.Unlock()

	if p.typingReset != nil {
		p.typingReset()
	}
	p.changed()

	sent, err := p.poster.PostMessage(ctx, conversationID, text, upload)
	if err != nil {
		p.mu.Lock()
		removed := p.conversationID == conversationID && p.log.RemovePending(pending.LocalKey)
		p.mu.Unlock()

		p.metrics.Send("failed")
		p.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("send failed")
		if removed {
			p.changed()
		}
		return protocol.Message{}, &sendError{cause: err}
	}

	p.mu.Lock()
	current := p.loaded && p.conversationID == conversationID
	if current {
		p.log.Ack(pending.LocalKey, sent)
	}
	p.mu.Unlock()

	p.metrics.Send("ok")
	if current {
		p.changed()
	}
	return sent, nil
}

// Messages returns the ordered message list of the active conversation.
func (p *Pipeline) Messages() []protocol.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.log.Messages()
}

// ConversationID is the collaborator id of the loaded conversation.
func (p *Pipeline) ConversationID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conversationID
}

// CounterpartComposing reports the last typing signal of the counterpart.
func (p *Pipeline) CounterpartComposing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counterpartComposing
}

func (p *Pipeline) changed() {
	if p.onChange != nil {
		p.onChange()
	}
}

func (p *Pipeline) composing(v bool) {
	if p.onComposing != nil {
		p.onComposing(v)
	}
}
