package client

import (
	"context"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/omochice/market-chat/internal/collab"
	"github.com/omochice/market-chat/internal/config"
	"github.com/omochice/market-chat/internal/history"
	"github.com/omochice/market-chat/internal/localstore"
	"github.com/omochice/market-chat/internal/logging"
	"github.com/omochice/market-chat/internal/metrics"
	"github.com/omochice/market-chat/internal/roster"
	"github.com/omochice/market-chat/internal/transport/ws"
)

// NewFromConfig builds a Chat against a remote collaborator. The roster
// backend is opened here and closed by Chat.Close. A backend that cannot
// be opened leaves the roster in memory.
func NewFromConfig(ctx context.Context, cfg config.Config, m *metrics.Metrics) (*Chat, error) {
	if cfg.ParticipantID == "" {
		return nil, errors.New("participant id is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var backend localstore.Store
	store, err := localstore.Open(ctx, localstore.Options{
		Backend:   cfg.Roster.Backend,
		Path:      cfg.Roster.Path,
		RedisURL:  cfg.Roster.RedisURL,
		Namespace: cfg.ParticipantID,
	})
	if err != nil {
		m.PersistFailed()
		logger := logging.Component("client")
		logger.Warn().Err(err).Str("backend", cfg.Roster.Backend).Msg("roster backend unavailable, keeping roster in memory")
	} else {
		backend = store
	}

	api := collab.New(cfg.APIURL, cfg.Token)
	delay := cfg.ReconnectDelay
	c := New(Options{
		ParticipantID: cfg.ParticipantID,
		Roster:        roster.New(ctx, backend, roster.WithMetrics(m)),
		Loader:        history.NewRemoteLoader(api),
		Poster:        api,
		Dialer:        ws.NewDialer(cfg.PushURL, cfg.Token),
		NewPolicy:     func() backoff.BackOff { return backoff.NewConstantBackOff(delay) },
		TypingTimeout: cfg.TypingTimeout,
		Metrics:       m,
	})
	if backend != nil {
		c.closers = append(c.closers, backend.Close)
	}
	return c, nil
}
