package server

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omochice/market-chat/pkg/protocol"
)

type image struct {
	contentType string
	data        []byte
}

type conversation struct {
	id           string
	participants []string
	createdAt    time.Time
	messages     []protocol.Message
}

func (c *conversation) has(participantID string) bool {
	for _, p := range c.participants {
		if p == participantID {
			return true
		}
	}
	return false
}

func (c *conversation) view(participantID string) protocol.Conversation {
	conv := protocol.Conversation{
		ID:           c.id,
		Participants: append([]string(nil), c.participants...),
		CreatedAt:    c.createdAt,
	}
	for _, p := range c.participants {
		if p != participantID {
			conv.CounterpartyID = p
		}
	}
	return conv
}

// store keeps conversations, messages and images in memory.
type store struct {
	mu            sync.RWMutex
	conversations map[string]*conversation
	byPair        map[string]string
	images        map[string]image
	now           func() time.Time
}

func newStore(now func() time.Time) *store {
	return &store{
		conversations: make(map[string]*conversation),
		byPair:        make(map[string]string),
		images:        make(map[string]image),
		now:           now,
	}
}

func pairKey(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, "\x00")
}

// resolve returns the conversation of the pair, creating it when missing.
func (s *store) resolve(participantID, counterpartyID string) (protocol.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(participantID, counterpartyID)
	if id, ok := s.byPair[key]; ok {
		return s.conversations[id].view(participantID), false
	}
	c := &conversation{
		id:           uuid.NewString(),
		participants: []string{participantID, counterpartyID},
		createdAt:    s.now().UTC(),
	}
	s.conversations[c.id] = c
	s.byPair[key] = c.id
	return c.view(participantID), true
}

// member reports whether the conversation exists and whether
// participantID belongs to it.
func (s *store) member(conversationID, participantID string) (exists, member bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return false, false
	}
	return true, c.has(participantID)
}

func (s *store) messages(conversationID string) []protocol.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return nil
	}
	return append(make([]protocol.Message, 0, len(c.messages)), c.messages...)
}

func (s *store) addMessage(conversationID, senderID, content string, img *image) (protocol.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[conversationID]
	if !ok {
		return protocol.Message{}, false
	}
	msg := protocol.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		CreatedAt:      s.now().UTC(),
	}
	if img != nil {
		imageID := uuid.NewString()
		s.images[imageID] = *img
		msg.Image = "/images/" + imageID
	}
	c.messages = append(c.messages, msg)
	return msg, true
}

func (s *store) image(id string) (image, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	img, ok := s.images[id]
	return img, ok
}
