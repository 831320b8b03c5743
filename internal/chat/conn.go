// Package chat holds the transport contracts shared by the push channel
// client and the dev collaborator.
package chat

import "context"

// Conn abstracts a bidirectional push channel connection.
// This interface isolates transport details from session logic.
type Conn interface {
	// Read reads a single frame (a JSON envelope).
	// Returns io.EOF or a close error when the connection is closed.
	Read(ctx context.Context) ([]byte, error)

	// Write sends a single frame.
	Write(ctx context.Context, data []byte) error

	// Close closes the connection.
	Close() error

	// RemoteAddr returns the remote address for logging.
	RemoteAddr() string
}

// Dialer opens the push channel of a conversation.
type Dialer interface {
	Dial(ctx context.Context, conversationID string) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, conversationID string) (Conn, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, conversationID string) (Conn, error) {
	return f(ctx, conversationID)
}
