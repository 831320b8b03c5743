// Package protocol defines the wire types shared by the chat client and the
// collaborator service: messages, conversations and push channel envelopes.
package protocol

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Origin tells whether a message is known to the collaborator yet.
type Origin int

const (
	OriginConfirmed Origin = iota
	OriginLocalOptimistic
)

// String returns the string representation of Origin
func (o Origin) String() string {
	switch o {
	case OriginConfirmed:
		return "confirmed"
	case OriginLocalOptimistic:
		return "local-optimistic"
	default:
		return "unknown"
	}
}

// Message is a single chat message.
//
// ID stays empty for a local-optimistic message until the send round-trip
// or a matching push assigns it. Origin and LocalKey never leave the client.
type Message struct {
	ID             string    `json:"id,omitempty"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content,omitempty"`
	Image          string    `json:"image,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`

	Origin   Origin `json:"-"`
	LocalKey string `json:"-"`
}

// IsEmpty reports whether the message carries neither text nor an image.
func (m Message) IsEmpty() bool {
	return strings.TrimSpace(m.Content) == "" && m.Image == ""
}

// IsMine reports whether participantID sent the message.
func (m Message) IsMine(participantID string) bool {
	return participantID != "" && m.SenderID == participantID
}

// Encode encodes the message as JSON
func (m *Message) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode message")
	}
	return data, nil
}

// Decode decodes JSON bytes into a message. Decoded messages are confirmed:
// anything that crossed the wire carries a server identity.
func (m *Message) Decode(data []byte) error {
	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		return errors.Wrap(err, "failed to decode message")
	}
	decoded.Origin = OriginConfirmed
	*m = decoded
	return nil
}

// Upload is an image attached to an outgoing message. It travels as the
// binary "image" part of the multipart send request.
type Upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// IsEmpty reports whether the upload has no payload.
func (u *Upload) IsEmpty() bool {
	return u == nil || len(u.Data) == 0
}

// Conversation is the collaborator's view of a counterparty pairing.
type Conversation struct {
	ID             string    `json:"id"`
	CounterpartyID string    `json:"counterpartyId,omitempty"`
	Participants   []string  `json:"participants,omitempty"`
	CreatedAt      time.Time `json:"createdAt,omitempty"`
}
