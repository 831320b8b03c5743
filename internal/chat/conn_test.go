package chat_test

import (
	"context"
	"io"
	"sync"

	"github.com/omochice/market-chat/internal/chat"
)

// mockConn is a mock implementation of chat.Conn for testing.
type mockConn struct {
	readCh     chan []byte
	writtenMu  sync.Mutex
	written    [][]byte
	closed     bool
	remoteAddr string
}

func newMockConn(addr string) *mockConn {
	return &mockConn{
		readCh:     make(chan []byte, 10),
		remoteAddr: addr,
	}
}

func (m *mockConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case data, ok := <-m.readCh:
		if !ok {
			return nil, io.EOF
		}
		return data, nil
	}
}

func (m *mockConn) Write(ctx context.Context, data []byte) error {
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	m.written = append(m.written, append([]byte(nil), data...))
	return nil
}

func (m *mockConn) Close() error {
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	m.closed = true
	return nil
}

func (m *mockConn) isClosed() bool {
	m.writtenMu.Lock()
	defer m.writtenMu.Unlock()
	return m.closed
}

func (m *mockConn) RemoteAddr() string {
	return m.remoteAddr
}

// Compile-time check that mockConn implements chat.Conn
var _ chat.Conn = (*mockConn)(nil)
