package ws

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/omochice/market-chat/internal/chat"
)

const handshakeTimeout = 10 * time.Second

// Dialer opens push channels at <pushURL>/<conversationID>?token=<token>.
type Dialer struct {
	pushURL string
	token   string
	dialer  *websocket.Dialer
}

// NewDialer returns a Dialer for the push endpoint.
func NewDialer(pushURL, token string) *Dialer {
	return &Dialer{
		pushURL: strings.TrimRight(pushURL, "/"),
		token:   token,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
	}
}

// URL returns the push channel address of a conversation.
func (d *Dialer) URL(conversationID string) string {
	u := d.pushURL + "/" + url.PathEscape(conversationID)
	if d.token != "" {
		u += "?token=" + url.QueryEscape(d.token)
	}
	return u
}

// Dial implements chat.Dialer.
func (d *Dialer) Dial(ctx context.Context, conversationID string) (chat.Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, d.URL(conversationID), nil)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "push channel handshake rejected with HTTP %d", resp.StatusCode)
		}
		return nil, errors.Wrap(err, "failed to open push channel")
	}
	return NewConn(conn), nil
}

var _ chat.Dialer = (*Dialer)(nil)
