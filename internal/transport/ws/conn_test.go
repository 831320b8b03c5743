package ws_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/omochice/market-chat/internal/transport/ws"
)

func pushServer(t *testing.T, handle func(ctx context.Context, c *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("failed to accept websocket: %v", err)
			return
		}
		defer c.Close(websocket.StatusNormalClosure, "")
		handle(r.Context(), c, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func TestConn_Read(t *testing.T) {
	server := pushServer(t, func(ctx context.Context, c *websocket.Conn, _ *http.Request) {
		_ = c.Write(ctx, websocket.MessageText, []byte(`{"event":"message","data":{}}`))
		_, _, _ = c.Read(ctx)
	})

	conn, err := ws.NewDialer(wsURL(server), "").Dial(context.Background(), "c1")
	require.NoError(t, err)
	defer conn.Close()

	data, err := conn.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, `{"event":"message","data":{}}`, string(data))
}

func TestConn_Write(t *testing.T) {
	received := make(chan []byte, 1)
	server := pushServer(t, func(ctx context.Context, c *websocket.Conn, _ *http.Request) {
		typ, data, err := c.Read(ctx)
		if err != nil {
			return
		}
		assert.Equal(t, websocket.MessageText, typ)
		received <- data
	})

	conn, err := ws.NewDialer(wsURL(server), "").Dial(context.Background(), "c1")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Write(context.Background(), []byte("hello")))

	select {
	case data := <-received:
		assert.Equal(t, "hello", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive the frame")
	}
}

func TestConn_ReadReturnsOnServerClose(t *testing.T) {
	server := pushServer(t, func(ctx context.Context, c *websocket.Conn, _ *http.Request) {
		c.Close(websocket.StatusGoingAway, "restart")
	})

	conn, err := ws.NewDialer(wsURL(server), "").Dial(context.Background(), "c1")
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Read(context.Background())
	assert.Error(t, err)
}

func TestConn_ReadCancelled(t *testing.T) {
	server := pushServer(t, func(ctx context.Context, c *websocket.Conn, _ *http.Request) {
		_, _, _ = c.Read(ctx)
	})

	conn, err := ws.NewDialer(wsURL(server), "").Dial(context.Background(), "c1")
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = conn.Read(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConn_CloseTwice(t *testing.T) {
	server := pushServer(t, func(ctx context.Context, c *websocket.Conn, _ *http.Request) {
		_, _, _ = c.Read(ctx)
	})

	conn, err := ws.NewDialer(wsURL(server), "").Dial(context.Background(), "c1")
	require.NoError(t, err)

	assert.NotEmpty(t, conn.RemoteAddr())
	first := conn.Close()
	assert.Equal(t, first, conn.Close())
}

func TestDialer_PathAndToken(t *testing.T) {
	got := make(chan string, 1)
	server := pushServer(t, func(ctx context.Context, c *websocket.Conn, r *http.Request) {
		got <- r.URL.Path + "?" + r.URL.RawQuery
		_, _, _ = c.Read(ctx)
	})

	conn, err := ws.NewDialer(wsURL(server)+"/ws/conversations/", "tok en").Dial(context.Background(), "c/1")
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "/ws/conversations/c/1?token=tok+en", <-got)
}

func TestDialer_URL(t *testing.T) {
	d := ws.NewDialer("ws://localhost:8080/ws/conversations/", "abc")
	assert.Equal(t, "ws://localhost:8080/ws/conversations/c1?token=abc", d.URL("c1"))
	assert.Equal(t, "ws://localhost:8080/ws/conversations/c1", ws.NewDialer("ws://localhost:8080/ws/conversations", "").URL("c1"))
}

func TestDialer_Rejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	_, err := ws.NewDialer(wsURL(server), "").Dial(context.Background(), "c1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
