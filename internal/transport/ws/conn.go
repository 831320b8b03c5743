// Package ws provides the websocket transport of the push channel: a
// gorilla/websocket client for the chat session and a gobwas/ws server
// side connection for the dev collaborator.
package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

const (
	writeTimeout = 10 * time.Second
	closeTimeout = time.Second
)

// Conn adapts a gorilla/websocket client connection to chat.Conn.
type Conn struct {
	conn       *websocket.Conn
	remoteAddr string

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps a websocket.Conn.
func NewConn(conn *websocket.Conn) *Conn {
	return &Conn{conn: conn, remoteAddr: conn.RemoteAddr().String()}
}

// Read implements chat.Conn.
// Cancelling ctx closes the connection to unblock the read.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, err
		}
		if typ == websocket.TextMessage || typ == websocket.BinaryMessage {
			return data, nil
		}
	}
}

// Write implements chat.Conn.
// Writes a text frame; gorilla allows one concurrent writer only.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return errors.Wrap(err, "failed to set write deadline")
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrap(err, "failed to write frame")
	}
	return nil
}

// Close implements chat.Conn.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.wmu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout))
		c.wmu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.remoteAddr
}
