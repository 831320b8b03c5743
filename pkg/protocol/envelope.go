package protocol

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// EventType names the payload carried by a push channel envelope.
type EventType string

const (
	EventMessage EventType = "message"
	EventTyping  EventType = "typing"
)

// Envelope is a push channel frame: {"event": ..., "data": ...}.
type Envelope struct {
	Event EventType       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Typing is the payload of a typing event.
type Typing struct {
	ConversationID string `json:"conversationId,omitempty"`
	SenderID       string `json:"senderId,omitempty"`
	IsTyping       bool   `json:"isTyping"`
}

// NewMessageEnvelope wraps a message for the push channel.
func NewMessageEnvelope(m Message) (Envelope, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return Envelope{}, errors.Wrap(err, "failed to encode message payload")
	}
	return Envelope{Event: EventMessage, Data: data}, nil
}

// NewTypingEnvelope wraps a typing signal for the push channel.
func NewTypingEnvelope(t Typing) (Envelope, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return Envelope{}, errors.Wrap(err, "failed to encode typing payload")
	}
	return Envelope{Event: EventTyping, Data: data}, nil
}

// Encode encodes the envelope into a JSON frame
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode envelope")
	}
	return data, nil
}

// Decode decodes a JSON frame into the envelope. Unknown events decode
// fine; callers skip what they do not handle.
func (e *Envelope) Decode(data []byte) error {
	var decoded Envelope
	if err := json.Unmarshal(data, &decoded); err != nil {
		return errors.Wrap(err, "failed to decode envelope")
	}
	if decoded.Event == "" {
		return errors.New("envelope has no event")
	}
	*e = decoded
	return nil
}

// Message extracts the message payload of a message event.
func (e *Envelope) Message() (Message, error) {
	if e.Event != EventMessage {
		return Message{}, errors.Errorf("envelope carries %q, not a message", e.Event)
	}
	var m Message
	if err := m.Decode(e.Data); err != nil {
		return Message{}, err
	}
	return m, nil
}

// Typing extracts the payload of a typing event.
func (e *Envelope) Typing() (Typing, error) {
	if e.Event != EventTyping {
		return Typing{}, errors.Errorf("envelope carries %q, not a typing signal", e.Event)
	}
	var t Typing
	if err := json.Unmarshal(e.Data, &t); err != nil {
		return Typing{}, errors.Wrap(err, "failed to decode typing payload")
	}
	return t, nil
}
