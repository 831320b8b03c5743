package ws_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"github.com/omochice/market-chat/internal/transport/ws"
)

func TestServerConn_Echo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.Close()

		assert.NotEmpty(t, conn.RemoteAddr())
		data, err := conn.Read(context.Background())
		if err != nil {
			return
		}
		_ = conn.Write(context.Background(), append([]byte("echo:"), data...))
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, _, err := websocket.Dial(ctx, wsURL(server), nil)
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte("hi")))
	typ, data, err := c.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, websocket.MessageText, typ)
	assert.Equal(t, "echo:hi", string(data))
}

func TestServerConn_ReadCancelled(t *testing.T) {
	done := make(chan error, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := ws.Accept(w, r)
		if err != nil {
			done <- err
			return
		}
		defer conn.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err = conn.Read(ctx)
		done <- err
	}))
	defer server.Close()

	c, _, err := websocket.Dial(context.Background(), wsURL(server), nil)
	require.NoError(t, err)
	defer c.Close(websocket.StatusNormalClosure, "")

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("read did not return")
	}
}

func TestAccept_NotWebsocket(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := ws.Accept(w, r)
		assert.Error(t, err)
	}))
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.NotEqual(t, http.StatusSwitchingProtocols, resp.StatusCode)
}
