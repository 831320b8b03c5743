package pipeline_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/market-chat/internal/history"
	"github.com/omochice/market-chat/internal/metrics"
	"github.com/omochice/market-chat/internal/pipeline"
	"github.com/omochice/market-chat/pkg/protocol"
)

type fakePoster struct {
	mu    sync.Mutex
	calls int
	text  []string
	image []*protocol.Upload

	// before runs inside PostMessage, before the response returns.
	before func()
	reply  func(conversationID, content string) (protocol.Message, error)
}

func (f *fakePoster) PostMessage(_ context.Context, conversationID, content string, upload *protocol.Upload) (protocol.Message, error) {
	f.mu.Lock()
	f.calls++
	f.text = append(f.text, content)
	f.image = append(f.image, upload)
	f.mu.Unlock()
	if f.before != nil {
		f.before()
	}
	return f.reply(conversationID, content)
}

func replyWithID(id string) func(string, string) (protocol.Message, error) {
	return func(conversationID, content string) (protocol.Message, error) {
		return protocol.Message{ID: id, ConversationID: conversationID, SenderID: me, Content: content}, nil
	}
}

func frame(t *testing.T, m protocol.Message) []byte {
	t.Helper()
	env, err := protocol.NewMessageEnvelope(m)
	require.NoError(t, err)
	data, err := env.Encode()
	require.NoError(t, err)
	return data
}

func typingFrame(t *testing.T, sig protocol.Typing) []byte {
	t.Helper()
	env, err := protocol.NewTypingEnvelope(sig)
	require.NoError(t, err)
	data, err := env.Encode()
	require.NoError(t, err)
	return data
}

func loaded(poster pipeline.Poster, opts ...pipeline.Option) *pipeline.Pipeline {
	p := pipeline.New(me, poster, opts...)
	p.ApplyBaseline(history.Baseline{
		ConversationID: "c1",
		Messages:       []protocol.Message{confirmed("1", "seller-42", "a"), confirmed("2", me, "b")},
	})
	return p
}

func TestHistoryThenPush(t *testing.T) {
	p := loaded(&fakePoster{})
	p.HandleFrame(frame(t, confirmed("3", "seller-42", "c")))

	assert.Equal(t, []string{"1", "2", "3"}, msgIDs(p.Messages()))
}

func TestPushForOtherConversationIgnored(t *testing.T) {
	m := metrics.New(nil)
	p := loaded(&fakePoster{}, pipeline.WithMetrics(m))

	other := confirmed("3", "seller-7", "c")
	other.ConversationID = "c2"
	p.HandleFrame(frame(t, other))

	assert.Equal(t, []string{"1", "2"}, msgIDs(p.Messages()))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FramesReceived.WithLabelValues("message", "ignored")))
}

func TestFramesBeforeBaselineIgnored(t *testing.T) {
	p := pipeline.New(me, &fakePoster{})
	p.HandleFrame(frame(t, confirmed("3", "seller-42", "c")))
	assert.Empty(t, p.Messages())
}

func TestInvalidAndUnknownFramesIgnored(t *testing.T) {
	p := loaded(&fakePoster{})
	p.HandleFrame([]byte("not json"))
	p.HandleFrame([]byte(`{"event":"read","data":{}}`))
	p.HandleFrame([]byte(`{"event":"message","data":"oops"}`))

	assert.Equal(t, []string{"1", "2"}, msgIDs(p.Messages()))
}

func TestSend_RejectsEmpty(t *testing.T) {
	poster := &fakePoster{reply: replyWithID("x")}
	p := loaded(poster)

	for _, text := range []string{"", "   \n"} {
		_, err := p.Send(context.Background(), text, nil)
		assert.ErrorIs(t, err, pipeline.ErrEmptyMessage)
	}
	_, err := p.Send(context.Background(), "", &protocol.Upload{Filename: "empty.png"})
	assert.ErrorIs(t, err, pipeline.ErrEmptyMessage)

	assert.Zero(t, poster.calls)
	assert.Equal(t, []string{"1", "2"}, msgIDs(p.Messages()))
}

func TestSend_NoActiveConversation(t *testing.T) {
	poster := &fakePoster{reply: replyWithID("x")}
	p := pipeline.New(me, poster)

	_, err := p.Send(context.Background(), "hi", nil)
	assert.ErrorIs(t, err, pipeline.ErrNoActiveConversation)
	assert.Zero(t, poster.calls)
}

// With no push channel the response itself lands in the log.
func TestSend_ResponseAppendedWithoutPush(t *testing.T) {
	poster := &fakePoster{reply: replyWithID("5")}
	p := loaded(poster)

	sent, err := p.Send(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "5", sent.ID)

	msgs := p.Messages()
	assert.Equal(t, []string{"1", "2", "5"}, msgIDs(msgs))
	assert.Equal(t, protocol.OriginConfirmed, msgs[2].Origin)
	assert.Equal(t, "hi", msgs[2].Content)
}

func TestSend_OptimisticVisibleWhilePosting(t *testing.T) {
	poster := &fakePoster{reply: replyWithID("5")}
	p := loaded(poster)
	poster.before = func() {
		msgs := p.Messages()
		require.Len(t, msgs, 3)
		assert.Equal(t, protocol.OriginLocalOptimistic, msgs[2].Origin)
		assert.Empty(t, msgs[2].ID)
		assert.Equal(t, me, msgs[2].SenderID)
	}

	_, err := p.Send(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "5"}, msgIDs(p.Messages()))
}

func TestSend_PushBeforeResponseCollapses(t *testing.T) {
	poster := &fakePoster{reply: replyWithID("5")}
	p := loaded(poster)
	poster.before = func() {
		p.HandleFrame(frame(t, confirmed("5", me, "hi")))
	}

	_, err := p.Send(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "5"}, msgIDs(p.Messages()))

	p.HandleFrame(frame(t, confirmed("5", me, "hi")))
	assert.Equal(t, []string{"1", "2", "5"}, msgIDs(p.Messages()))
}

func TestSend_Failure(t *testing.T) {
	m := metrics.New(nil)
	poster := &fakePoster{reply: func(string, string) (protocol.Message, error) {
		return protocol.Message{}, errors.New("HTTP 500")
	}}
	p := loaded(poster, pipeline.WithMetrics(m))

	_, err := p.Send(context.Background(), "hi", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, pipeline.ErrSendFailed)
	assert.Contains(t, err.Error(), "HTTP 500")
	assert.Equal(t, []string{"1", "2"}, msgIDs(p.Messages()))
	assert.Equal(t, 1, poster.calls)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Sends.WithLabelValues("failed")))
}

func TestSend_ImageOnly(t *testing.T) {
	poster := &fakePoster{reply: func(conversationID, _ string) (protocol.Message, error) {
		return protocol.Message{ID: "6", ConversationID: conversationID, SenderID: me, Image: "/images/i1"}, nil
	}}
	p := loaded(poster)
	poster.before = func() {
		msgs := p.Messages()
		assert.Equal(t, "pending:lamp.png", msgs[len(msgs)-1].Image)
	}

	upload := &protocol.Upload{Filename: "lamp.png", Data: []byte{1, 2, 3}}
	sent, err := p.Send(context.Background(), "  ", upload)
	require.NoError(t, err)
	assert.Equal(t, "/images/i1", sent.Image)
	assert.Equal(t, []string{""}, poster.text)
	assert.Same(t, upload, poster.image[0])
}

func TestSend_ResetsTyping(t *testing.T) {
	var resets atomic.Int32
	p := loaded(&fakePoster{reply: replyWithID("5")}, pipeline.WithTypingReset(func() { resets.Add(1) }))

	_, err := p.Send(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, int32(1), resets.Load())
}

func TestSend_ResponseAfterSwitchIsDropped(t *testing.T) {
	poster := &fakePoster{reply: replyWithID("5")}
	p := loaded(poster)
	poster.before = func() {
		p.Reset()
		p.ApplyBaseline(history.Baseline{ConversationID: "c2"})
	}

	_, err := p.Send(context.Background(), "hi", nil)
	require.NoError(t, err)
	assert.Empty(t, p.Messages())
	assert.Equal(t, "c2", p.ConversationID())
}

func TestCounterpartComposing(t *testing.T) {
	var flips atomic.Int32
	p := loaded(&fakePoster{}, pipeline.WithOnComposing(func(bool) { flips.Add(1) }))

	p.HandleFrame(typingFrame(t, protocol.Typing{ConversationID: "c1", SenderID: me, IsTyping: true}))
	assert.False(t, p.CounterpartComposing())

	p.HandleFrame(typingFrame(t, protocol.Typing{ConversationID: "c2", SenderID: "seller-7", IsTyping: true}))
	assert.False(t, p.CounterpartComposing())

	p.HandleFrame(typingFrame(t, protocol.Typing{ConversationID: "c1", SenderID: "seller-42", IsTyping: true}))
	assert.True(t, p.CounterpartComposing())
	assert.Equal(t, int32(1), flips.Load())

	p.HandleFrame(frame(t, confirmed("3", "seller-42", "done typing")))
	assert.False(t, p.CounterpartComposing())
	assert.Equal(t, int32(2), flips.Load())
}

func TestReset(t *testing.T) {
	p := loaded(&fakePoster{})
	p.Reset()

	assert.Empty(t, p.Messages())
	assert.Empty(t, p.ConversationID())
	p.HandleFrame(frame(t, confirmed("3", "seller-42", "c")))
	assert.Empty(t, p.Messages())
}
