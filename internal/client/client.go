// Package client is the widget-facing surface of the chat core: the roster,
// the active conversation's messages and session status, sending and
// typing signals.
package client

import (
	"context"

	"github.com/omochice/market-chat/internal/roster"
	"github.com/omochice/market-chat/internal/session"
	"github.com/omochice/market-chat/pkg/protocol"
)

// Meta is the display metadata of a counterparty.
type Meta struct {
	DisplayName  string
	DisplayImage string
}

// EventKind names what changed.
type EventKind int

const (
	EventRosterChanged EventKind = iota
	EventMessagesChanged
	EventStatusChanged
	EventComposingChanged
)

// String returns the string representation of EventKind
func (k EventKind) String() string {
	switch k {
	case EventRosterChanged:
		return "roster"
	case EventMessagesChanged:
		return "messages"
	case EventStatusChanged:
		return "status"
	case EventComposingChanged:
		return "composing"
	default:
		return "unknown"
	}
}

// Event tells a presenter to re-read part of the state.
type Event struct {
	Kind   EventKind
	Status session.Status
}

// Client defines the interface presenters use.
type Client interface {
	Conversations() []roster.Entry
	ActiveConversation() (roster.Entry, bool)
	OpenConversation(counterpartyID string, meta Meta) roster.Entry
	RemoveConversation(id string) bool
	SelectConversation(id string) bool

	Messages() []protocol.Message
	SessionStatus() session.Status
	Send(ctx context.Context, text string, upload *protocol.Upload) (protocol.Message, error)
	NotifyComposing(composing bool)
	CounterpartComposing() bool

	// Events delivers change notifications. Slow readers miss
	// notifications rather than block the core.
	Events() <-chan Event
	Close()
}
