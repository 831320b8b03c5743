package protocol_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/market-chat/pkg/protocol"
)

func TestMessage_Decode(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    protocol.Message
		wantErr bool
	}{
		{
			name: "decode text message",
			data: `{"id":"1","conversationId":"c1","senderId":"buyer-1","content":"hi","createdAt":"2024-05-01T10:00:00Z"}`,
			want: protocol.Message{
				ID:             "1",
				ConversationID: "c1",
				SenderID:       "buyer-1",
				Content:        "hi",
				CreatedAt:      time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
				Origin:         protocol.OriginConfirmed,
			},
		},
		{
			name: "decode image only message",
			data: `{"id":"2","conversationId":"c1","senderId":"seller-42","image":"/images/abc","createdAt":"2024-05-01T10:00:00Z"}`,
			want: protocol.Message{
				ID:             "2",
				ConversationID: "c1",
				SenderID:       "seller-42",
				Image:          "/images/abc",
				CreatedAt:      time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
			},
		},
		{
			name:    "decode invalid data",
			data:    `{"id":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got protocol.Message
			err := got.Decode([]byte(tt.data))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMessage_EncodeDropsLocalFields(t *testing.T) {
	msg := protocol.Message{
		ConversationID: "c1",
		SenderID:       "buyer-1",
		Content:        "hi",
		Origin:         protocol.OriginLocalOptimistic,
		LocalKey:       "local-1",
	}

	data, err := msg.Encode()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "local-1")
	assert.NotContains(t, string(data), `"id"`)
}

func TestMessage_IsEmpty(t *testing.T) {
	assert.True(t, protocol.Message{}.IsEmpty())
	assert.True(t, protocol.Message{Content: "   "}.IsEmpty())
	assert.False(t, protocol.Message{Content: "hi"}.IsEmpty())
	assert.False(t, protocol.Message{Image: "/images/1"}.IsEmpty())
}

func TestOrigin_String(t *testing.T) {
	assert.Equal(t, "confirmed", protocol.OriginConfirmed.String())
	assert.Equal(t, "local-optimistic", protocol.OriginLocalOptimistic.String())
	assert.Equal(t, "unknown", protocol.Origin(42).String())
}

func TestEnvelope_Decode(t *testing.T) {
	t.Run("message event", func(t *testing.T) {
		var env protocol.Envelope
		require.NoError(t, env.Decode([]byte(`{"event":"message","data":{"id":"3","conversationId":"c1","senderId":"seller-42","content":"yo"}}`)))
		assert.Equal(t, protocol.EventMessage, env.Event)

		msg, err := env.Message()
		require.NoError(t, err)
		assert.Equal(t, "3", msg.ID)
		assert.Equal(t, "c1", msg.ConversationID)

		_, err = env.Typing()
		assert.Error(t, err)
	})

	t.Run("typing event", func(t *testing.T) {
		var env protocol.Envelope
		require.NoError(t, env.Decode([]byte(`{"event":"typing","data":{"conversationId":"c1","senderId":"seller-42","isTyping":true}}`)))

		typing, err := env.Typing()
		require.NoError(t, err)
		assert.True(t, typing.IsTyping)
		assert.Equal(t, "seller-42", typing.SenderID)
	})

	t.Run("unknown event is kept", func(t *testing.T) {
		var env protocol.Envelope
		require.NoError(t, env.Decode([]byte(`{"event":"read","data":{}}`)))
		assert.Equal(t, protocol.EventType("read"), env.Event)
	})

	t.Run("missing event", func(t *testing.T) {
		var env protocol.Envelope
		assert.Error(t, env.Decode([]byte(`{"data":{}}`)))
	})

	t.Run("not json", func(t *testing.T) {
		var env protocol.Envelope
		assert.Error(t, env.Decode([]byte("ping")))
	})
}

func TestNewTypingEnvelope(t *testing.T) {
	env, err := protocol.NewTypingEnvelope(protocol.Typing{ConversationID: "c1", SenderID: "buyer-1", IsTyping: false})
	require.NoError(t, err)

	data, err := env.Encode()
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"typing","data":{"conversationId":"c1","senderId":"buyer-1","isTyping":false}}`, string(data))
}
