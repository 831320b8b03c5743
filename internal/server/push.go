package server

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/omochice/market-chat/internal/chat"
	"github.com/omochice/market-chat/internal/transport/ws"
	"github.com/omochice/market-chat/pkg/protocol"
)

const (
	metaOrigin = "origin"
	metaEvent  = "event"

	fanoutWriteTimeout = 5 * time.Second
)

func topic(conversationID string) string {
	return "conversation." + conversationID
}

// publish puts a frame on the conversation topic. origin names the
// connection the frame came from, empty for frames the server produced.
func (s *Server) publish(conversationID string, env protocol.Envelope, origin string) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	msg := message.NewMessage(uuid.NewString(), data)
	msg.Metadata.Set(metaEvent, string(env.Event))
	msg.Metadata.Set(metaOrigin, origin)
	return s.pubsub.Publish(topic(conversationID), msg)
}

// fanout subscribes to a conversation topic and forwards every frame to
// the attached push connections until the server stops.
func (s *Server) fanout(conversationID string) error {
	ch, err := s.pubsub.Subscribe(s.ctx, topic(conversationID))
	if err != nil {
		return err
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for msg := range ch {
			s.forward(conversationID, msg)
			msg.Ack()
		}
	}()
	return nil
}

func (s *Server) forward(conversationID string, msg *message.Message) {
	origin := msg.Metadata.Get(metaOrigin)
	typingEvent := msg.Metadata.Get(metaEvent) == string(protocol.EventTyping)

	for _, c := range s.hub.Subscribers(conversationID) {
		// Typing signals never echo back to the connection that sent them.
		if typingEvent && c.ID == origin {
			continue
		}
		ctx, cancel := context.WithTimeout(s.ctx, fanoutWriteTimeout)
		err := c.Conn.Write(ctx, msg.Payload)
		cancel()
		if err != nil {
			s.logger.Warn().Err(err).
				Str("conversation_id", conversationID).
				Str("remote_addr", c.Conn.RemoteAddr()).
				Msg("push write failed, dropping subscriber")
			c.Conn.Close()
		}
	}
}

// handlePush upgrades to a push channel and serves it until the client
// leaves. Typing frames from the client are stamped and republished; any
// other client frame is ignored.
func (s *Server) handlePush(c *gin.Context) {
	participantID := c.GetString(participantKey)
	conversationID := c.Param("id")
	if !s.requireMember(c, conversationID, participantID) {
		return
	}

	conn, err := ws.Accept(c.Writer, c.Request)
	if err != nil {
		s.logger.Warn().Err(err).Str("remote_addr", c.Request.RemoteAddr).Msg("push upgrade failed")
		return
	}

	client := &chat.Client{
		ID:             uuid.NewString(),
		Conn:           conn,
		ParticipantID:  participantID,
		ConversationID: conversationID,
	}
	s.hub.Register(client)
	s.metrics.Subscribers(1)
	s.logger.Info().
		Str("conversation_id", conversationID).
		Str("participant_id", participantID).
		Str("remote_addr", conn.RemoteAddr()).
		Msg("push subscriber attached")

	defer func() {
		if s.hub.Unregister(client) {
			s.metrics.Subscribers(-1)
		}
		conn.Close()
		s.logger.Info().
			Str("conversation_id", conversationID).
			Str("participant_id", participantID).
			Msg("push subscriber detached")
	}()

	for {
		data, err := conn.Read(s.ctx)
		if err != nil {
			return
		}
		s.handleClientFrame(client, data)
	}
}

func (s *Server) handleClientFrame(client *chat.Client, data []byte) {
	var env protocol.Envelope
	if err := env.Decode(data); err != nil {
		s.logger.Debug().Err(err).Msg("client frame dropped")
		return
	}
	if env.Event != protocol.EventTyping {
		s.logger.Debug().Str("event", string(env.Event)).Msg("client frame ignored")
		return
	}
	sig, err := env.Typing()
	if err != nil {
		s.logger.Debug().Err(err).Msg("typing frame dropped")
		return
	}
	sig.ConversationID = client.ConversationID
	sig.SenderID = client.ParticipantID
	out, err := protocol.NewTypingEnvelope(sig)
	if err != nil {
		return
	}
	if err := s.publish(client.ConversationID, out, client.ID); err != nil {
		s.logger.Warn().Err(err).Msg("typing publish failed")
	}
}
