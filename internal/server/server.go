// Package server is the dev collaborator: an in-memory conversation
// service with the HTTP API and push channel the chat client talks to.
package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/omochice/market-chat/internal/chat"
	"github.com/omochice/market-chat/internal/logging"
	"github.com/omochice/market-chat/internal/metrics"
	"github.com/omochice/market-chat/pkg/protocol"
)

const (
	participantKey = "participant"

	maxImageBytes = 8 << 20
)

// Option configures a Server.
type Option func(*Server)

// WithTokens maps bearer tokens to participant ids. Without it every
// token is taken as the participant id itself.
func WithTokens(tokens map[string]string) Option {
	return func(s *Server) { s.tokens = tokens }
}

// WithSendRate limits message posts per participant.
func WithSendRate(rps float64, burst int) Option {
	return func(s *Server) { s.limiters = newLimiterPool(rps, burst) }
}

// WithRegistry registers the server metrics with reg and serves reg on
// /metrics.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// WithNow overrides the clock used for message timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// Server represents the dev collaborator
type Server struct {
	address    string
	listener   net.Listener
	httpServer *http.Server
	engine     *gin.Engine

	hub      *chat.Hub
	store    *store
	pubsub   *gochannel.GoChannel
	tokens   map[string]string
	limiters *limiterPool
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	now      func() time.Time
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	stop   sync.Once
}

// New creates a Server listening on address once started.
func New(address string, opts ...Option) *Server {
	s := &Server{
		address:  address,
		hub:      chat.NewHub(),
		limiters: newLimiterPool(10, 20),
		now:      time.Now,
		logger:   logging.Component("server"),
	}
	for _, o := range opts {
		o(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.metrics = metrics.New(s.registry)
	s.store = newStore(s.now)
	s.ctx, s.cancel = context.WithCancel(context.Background())

	// Blocking publish keeps frames of one conversation in order.
	s.pubsub = gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            64,
		BlockPublishUntilSubscriberAck: true,
	}, watermill.NopLogger{})

	s.engine = s.routes()
	s.httpServer = &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	r.MaxMultipartMemory = maxImageBytes

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	r.GET("/images/:id", s.handleImage)

	api := r.Group("/", s.authenticate())
	api.POST("/conversations", s.handleResolve)
	api.GET("/conversations/:id/messages", s.handleMessages)
	api.POST("/conversations/:id/messages", s.handlePost)
	api.GET("/ws/conversations/:id", s.handlePush)
	return r
}

// Handler exposes the router, for httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Listen binds the listening socket.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return errors.Wrap(err, "failed to start server")
	}
	s.listener = listener
	s.logger.Info().Str("addr", listener.Addr().String()).Msg("server started")
	return nil
}

// Start listens when needed and serves until Stop.
func (s *Server) Start() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	if err := s.httpServer.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serve")
	}
	return nil
}

// Stop stops the server and drops every push subscriber.
func (s *Server) Stop() {
	s.stop.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("shutdown")
		}
		s.cancel()
		s.hub.CloseAll()
		s.metrics.PushSubscribers.Set(0)
		if err := s.pubsub.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("close pubsub")
		}
		s.wg.Wait()
		s.logger.Info().Msg("server stopped")
	})
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// ClientCount returns the number of attached push subscribers.
func (s *Server) ClientCount() int {
	return s.hub.ClientCount()
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// authenticate accepts a bearer header or, for the push channel, a token
// query parameter.
func (s *Server) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" || token == c.GetHeader("Authorization") {
			token = c.Query("token")
		}
		participantID, ok := s.participant(token)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Set(participantKey, participantID)
		c.Next()
	}
}

func (s *Server) participant(token string) (string, bool) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	if len(s.tokens) == 0 {
		return token, true
	}
	id, ok := s.tokens[token]
	return id, ok
}

func (s *Server) requireMember(c *gin.Context, conversationID, participantID string) bool {
	exists, member := s.store.member(conversationID, participantID)
	switch {
	case !exists:
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return false
	case !member:
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not a participant"})
		return false
	}
	return true
}

type resolveRequest struct {
	CounterpartyID string `json:"counterpartyId"`
}

func (s *Server) handleResolve(c *gin.Context) {
	participantID := c.GetString(participantKey)
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.CounterpartyID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "counterpartyId is required"})
		return
	}
	if req.CounterpartyID == participantID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot open a conversation with yourself"})
		return
	}

	conv, created := s.store.resolve(participantID, req.CounterpartyID)
	status := http.StatusOK
	if created {
		if err := s.fanout(conv.ID); err != nil {
			s.logger.Error().Err(err).Str("conversation_id", conv.ID).Msg("subscribe failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		status = http.StatusCreated
		s.logger.Info().
			Str("conversation_id", conv.ID).
			Strs("participants", conv.Participants).
			Msg("conversation created")
	}
	c.JSON(status, conv)
}

func (s *Server) handleMessages(c *gin.Context) {
	conversationID := c.Param("id")
	if !s.requireMember(c, conversationID, c.GetString(participantKey)) {
		return
	}
	c.JSON(http.StatusOK, s.store.messages(conversationID))
}

func (s *Server) handlePost(c *gin.Context) {
	participantID := c.GetString(participantKey)
	conversationID := c.Param("id")
	if !s.requireMember(c, conversationID, participantID) {
		return
	}
	if !s.limiters.allow(participantID) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limited"})
		return
	}

	content := strings.TrimSpace(c.PostForm("content"))
	img, err := readImage(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if content == "" && img == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message has neither content nor image"})
		return
	}

	msg, ok := s.store.addMessage(conversationID, participantID, content, img)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}
	env, err := protocol.NewMessageEnvelope(msg)
	if err == nil {
		err = s.publish(conversationID, env, "")
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("message_id", msg.ID).Msg("message publish failed")
	}
	c.JSON(http.StatusCreated, msg)
}

func readImage(c *gin.Context) (*image, error) {
	fh, err := c.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "invalid image part")
	}
	if fh.Size > maxImageBytes {
		return nil, errors.New("image too large")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, errors.Wrap(err, "invalid image part")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrap(err, "invalid image part")
	}
	if len(data) == 0 {
		return nil, nil
	}
	contentType := fh.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	return &image{contentType: contentType, data: data}, nil
}

func (s *Server) handleImage(c *gin.Context) {
	img, ok := s.store.image(c.Param("id"))
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}
	c.Data(http.StatusOK, img.contentType, img.data)
}
