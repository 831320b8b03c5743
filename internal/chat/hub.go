package chat

import (
	"sync"
)

// Client is a push channel subscriber attached to one conversation.
type Client struct {
	ID             string
	Conn           Conn
	ParticipantID  string
	ConversationID string
}

// Hub tracks push subscribers per conversation.
type Hub struct {
	conversations map[string]map[*Client]struct{}
	count         int
	mu            sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		conversations: make(map[string]map[*Client]struct{}),
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conversations[client.ConversationID]
	if !ok {
		set = make(map[*Client]struct{})
		h.conversations[client.ConversationID] = set
	}
	if _, dup := set[client]; dup {
		return
	}
	set[client] = struct{}{}
	h.count++
}

// Unregister removes a client from the hub. It reports whether the client
// was registered.
func (h *Hub) Unregister(client *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.conversations[client.ConversationID]
	if !ok {
		return false
	}
	if _, ok := set[client]; !ok {
		return false
	}
	delete(set, client)
	if len(set) == 0 {
		delete(h.conversations, client.ConversationID)
	}
	h.count--
	return true
}

// ClientCount returns number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Subscribers returns the clients attached to a conversation.
func (h *Hub) Subscribers(conversationID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	set := h.conversations[conversationID]
	out := make([]*Client, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}

// CloseAll closes every registered connection and empties the hub.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*Client, 0, h.count)
	for _, set := range h.conversations {
		for c := range set {
			clients = append(clients, c)
		}
	}
	h.conversations = make(map[string]map[*Client]struct{})
	h.count = 0
	h.mu.Unlock()

	for _, c := range clients {
		c.Conn.Close()
	}
}
