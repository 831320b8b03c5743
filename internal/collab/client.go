// Package collab is the HTTP client of the collaborator service that stores
// conversations and messages.
package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/omochice/market-chat/pkg/protocol"
)

const defaultTimeout = 10 * time.Second

// StatusError is returned when the collaborator answers with a non-2xx code.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

// Error implements error.
func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: collaborator returned HTTP %d", e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("%s %s: collaborator returned HTTP %d: %s", e.Method, e.Path, e.Code, e.Body)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client talks to the collaborator REST surface with a bearer token.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	resolve    singleflight.Group
	logger     zerolog.Logger
}

// New creates a Client for the collaborator at baseURL.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
		logger:     log.With().Str("component", "collab").Logger(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ResolveConversation returns the conversation between the caller and
// counterpartyID, creating it when needed. Concurrent calls for the same
// counterparty share one request. The shared request outlives a cancelled
// caller so later callers joining it are not failed by that cancellation.
func (c *Client) ResolveConversation(ctx context.Context, counterpartyID string) (protocol.Conversation, error) {
	if counterpartyID == "" {
		return protocol.Conversation{}, errors.New("counterparty id is empty")
	}
	ch := c.resolve.DoChan(counterpartyID, func() (interface{}, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultTimeout)
		defer cancel()

		body, err := json.Marshal(map[string]string{"counterpartyId": counterpartyID})
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode resolve request")
		}
		var conv protocol.Conversation
		err = c.do(shared, http.MethodPost, "/conversations", "application/json", bytes.NewReader(body), &conv)
		if err != nil {
			return nil, err
		}
		if conv.ID == "" {
			return nil, errors.New("collaborator returned a conversation without id")
		}
		return conv, nil
	})

	select {
	case <-ctx.Done():
		return protocol.Conversation{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return protocol.Conversation{}, errors.Wrapf(res.Err, "failed to resolve conversation with %s", counterpartyID)
		}
		return res.Val.(protocol.Conversation), nil
	}
}

// Messages fetches the history of a conversation, oldest first.
func (c *Client) Messages(ctx context.Context, conversationID string) ([]protocol.Message, error) {
	var msgs []protocol.Message
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, "", nil, &msgs); err != nil {
		return nil, errors.Wrapf(err, "failed to fetch messages of %s", conversationID)
	}
	for i := range msgs {
		msgs[i].Origin = protocol.OriginConfirmed
	}
	return msgs, nil
}

// PostMessage submits a message as multipart form data with an optional
// binary image part and returns the stored message.
func (c *Client) PostMessage(ctx context.Context, conversationID, content string, upload *protocol.Upload) (protocol.Message, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if content != "" {
		if err := mw.WriteField("content", content); err != nil {
			return protocol.Message{}, errors.Wrap(err, "failed to write content field")
		}
	}
	if !upload.IsEmpty() {
		name := upload.Filename
		if name == "" {
			name = "image"
		}
		part, err := mw.CreateFormFile("image", name)
		if err != nil {
			return protocol.Message{}, errors.Wrap(err, "failed to create image part")
		}
		if _, err := part.Write(upload.Data); err != nil {
			return protocol.Message{}, errors.Wrap(err, "failed to write image part")
		}
	}
	if err := mw.Close(); err != nil {
		return protocol.Message{}, errors.Wrap(err, "failed to finish multipart body")
	}

	var msg protocol.Message
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.do(ctx, http.MethodPost, path, mw.FormDataContentType(), &buf, &msg); err != nil {
		return protocol.Message{}, errors.Wrapf(err, "failed to post message to %s", conversationID)
	}
	msg.Origin = protocol.OriginConfirmed
	return msg, nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("collaborator request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to decode response")
	}
	return nil
}
