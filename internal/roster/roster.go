// Package roster keeps the ordered list of conversations a participant has
// opened and which one is active. Every mutation is persisted through a
// localstore.Store; when the store misbehaves the roster keeps working in
// memory for the rest of the process.
package roster

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/omochice/market-chat/internal/localstore"
	"github.com/omochice/market-chat/internal/metrics"
)

// Entry is a roster conversation. Its ID is the counterparty id it was
// opened with.
type Entry = localstore.Entry

const persistTimeout = 2 * time.Second

// Option configures a Store.
type Option func(*Store)

// WithClock overrides time.Now for LastOpenedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMetrics records persistence failures.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// Store is safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	entries  []Entry
	activeID string

	backend  localstore.Store
	degraded bool

	now     func() time.Time
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New restores the roster from backend. A nil backend, or one that fails to
// load, leaves the roster in memory only. A corrupt document is dropped and
// rewritten on the next change.
func New(ctx context.Context, backend localstore.Store, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		now:     time.Now,
		logger:  log.With().Str("component", "roster").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if backend == nil {
		s.degraded = true
		return s
	}
	s.restore(ctx)
	return s
}

func (s *Store) restore(ctx context.Context) {
	entries, err := s.backend.LoadRoster(ctx)
	switch {
	case errors.Is(err, localstore.ErrCorruptRoster):
		// Start empty; the next save replaces the unreadable document.
		s.metrics.PersistFailed()
		s.logger.Warn().Err(err).Msg("roster unreadable, starting empty")
		entries = nil
	case err != nil:
		s.degrade(err, "roster load failed, keeping roster in memory")
		return
	}
	s.entries = dedupe(entries)

	lastActive, err := s.backend.LoadActive(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("last active conversation unreadable")
		s.metrics.PersistFailed()
	}
	switch {
	case lastActive != "" && s.indexLocked(lastActive) >= 0:
		s.activeID = lastActive
	case len(s.entries) > 0:
		s.activeID = s.entries[0].ID
	}
	s.logger.Debug().
		Int("conversations", len(s.entries)).
		Str("active", s.activeID).
		Msg("roster restored")
}

// Open moves an existing entry to the front and refreshes its metadata, or
// prepends a new one, then makes it active.
func (s *Store) Open(counterpartyID, displayName, displayImage string) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := Entry{
		ID:           counterpartyID,
		DisplayName:  displayName,
		DisplayImage: displayImage,
		LastOpenedAt: s.now(),
	}
	if i := s.indexLocked(counterpartyID); i >= 0 {
		s.entries = append(s.entries[:i], s.entries[i+1:]...)
	}
	s.entries = append([]Entry{entry}, s.entries...)
	s.activeID = counterpartyID

	s.persistLocked()
	return entry
}

// Remove deletes an entry. Removing the active entry activates the entry
// that followed it, or the new first entry, or nothing.
func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	if s.activeID == id {
		switch {
		case len(s.entries) == 0:
			s.activeID = ""
		case i < len(s.entries):
			s.activeID = s.entries[i].ID
		default:
			s.activeID = s.entries[0].ID
		}
	}

	s.persistLocked()
	return true
}

// SetActive activates id. It is a no-op returning false when id is not in
// the roster.
func (s *Store) SetActive(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexLocked(id) < 0 {
		return false
	}
	if s.activeID == id {
		return true
	}
	s.activeID = id
	s.persistActiveLocked()
	return true
}

// List returns the roster, most recently opened first.
func (s *Store) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Entry(nil), s.entries...)
}

// Active returns the active entry, if any.
func (s *Store) Active() (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(s.activeID); i >= 0 {
		return s.entries[i], true
	}
	return Entry{}, false
}

// Degraded reports whether the roster stopped persisting.
func (s *Store) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

func (s *Store) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	for i, e := range s.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) persistLocked() {
	if s.degraded {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.backend.SaveRoster(ctx, s.entries); err != nil {
		s.degrade(err, "roster save failed, keeping roster in memory")
		return
	}
	if err := s.backend.SaveActive(ctx, s.activeID); err != nil {
		s.degrade(err, "active conversation save failed, keeping roster in memory")
	}
}

func (s *Store) persistActiveLocked() {
	if s.degraded {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.backend.SaveActive(ctx, s.activeID); err != nil {
		s.degrade(err, "active conversation save failed, keeping roster in memory")
	}
}

func (s *Store) degrade(err error, msg string) {
	s.degraded = true
	s.metrics.PersistFailed()
	ev := s.logger.Warn().Err(err)
	if errors.Is(err, localstore.ErrUnsupportedVersion) {
		ev = ev.Bool("newer_schema", true)
	}
	ev.Msg(msg)
}

func dedupe(entries []Entry) []Entry {
	seen := make(map[string]struct{}, len(entries))
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	return out
}
