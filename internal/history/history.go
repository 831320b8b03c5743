// Package history loads the baseline of a conversation before its push
// channel is opened.
package history

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/omochice/market-chat/pkg/protocol"
)

// Baseline is the resolved conversation id and its past messages in the
// order the collaborator returned them.
type Baseline struct {
	ConversationID string
	Messages       []protocol.Message
}

// Loader fetches a baseline for a counterparty.
type Loader interface {
	Load(ctx context.Context, counterpartyID string) (Baseline, error)
}

// Collaborator is the part of the collaborator client the loader needs.
type Collaborator interface {
	ResolveConversation(ctx context.Context, counterpartyID string) (protocol.Conversation, error)
	Messages(ctx context.Context, conversationID string) ([]protocol.Message, error)
}

// RemoteLoader resolves the conversation id then fetches its messages. It
// never retries.
type RemoteLoader struct {
	collab Collaborator
}

// NewRemoteLoader creates a Loader backed by the collaborator.
func NewRemoteLoader(c Collaborator) *RemoteLoader {
	return &RemoteLoader{collab: c}
}

// Load resolves the conversation with counterpartyID and fetches its messages.
func (l *RemoteLoader) Load(ctx context.Context, counterpartyID string) (Baseline, error) {
	conv, err := l.collab.ResolveConversation(ctx, counterpartyID)
	if err != nil {
		return Baseline{}, err
	}
	msgs, err := l.collab.Messages(ctx, conv.ID)
	if err != nil {
		return Baseline{}, err
	}
	if err := ctx.Err(); err != nil {
		return Baseline{}, errors.Wrap(err, "history load abandoned")
	}

	log.Debug().
		Str("component", "history").
		Str("counterparty_id", counterpartyID).
		Str("conversation_id", conv.ID).
		Int("messages", len(msgs)).
		Msg("baseline loaded")
	return Baseline{ConversationID: conv.ID, Messages: msgs}, nil
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, counterpartyID string) (Baseline, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, counterpartyID string) (Baseline, error) {
	return f(ctx, counterpartyID)
}
