package ws

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/pkg/errors"
)

// ServerConn is the server side of a push channel, built on gobwas/ws.
type ServerConn struct {
	conn       net.Conn
	rw         io.ReadWriter
	remoteAddr string

	wmu       sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

type bufferedConn struct {
	io.Reader
	io.Writer
}

// Accept upgrades an HTTP request to a websocket connection.
func Accept(w http.ResponseWriter, r *http.Request) (*ServerConn, error) {
	conn, brw, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return nil, errors.Wrap(err, "failed to upgrade connection")
	}
	var reader io.Reader = conn
	if brw != nil && brw.Reader.Buffered() > 0 {
		reader = bufio.NewReader(io.MultiReader(brw.Reader, conn))
	}
	return &ServerConn{
		conn:       conn,
		rw:         bufferedConn{Reader: reader, Writer: conn},
		remoteAddr: r.RemoteAddr,
	}, nil
}

// Read implements chat.Conn. Control frames are answered internally.
func (c *ServerConn) Read(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() { c.conn.SetReadDeadline(time.Now()) })
	defer stop()

	data, _, err := wsutil.ReadClientData(c.rw)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return data, nil
}

// Write implements chat.Conn.
func (c *ServerConn) Write(ctx context.Context, data []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return errors.Wrap(err, "failed to set write deadline")
	}
	if err := wsutil.WriteServerText(c.conn, data); err != nil {
		return errors.Wrap(err, "failed to write frame")
	}
	return nil
}

// Close implements chat.Conn.
func (c *ServerConn) Close() error {
	c.closeOnce.Do(func() {
		c.wmu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(closeTimeout))
		body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
		_ = ws.WriteFrame(c.conn, ws.NewCloseFrame(body))
		c.wmu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// RemoteAddr implements chat.Conn.
func (c *ServerConn) RemoteAddr() string {
	return c.remoteAddr
}
