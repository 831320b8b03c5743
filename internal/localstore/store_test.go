package localstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"file": func(t *testing.T) Store {
			s, err := NewFileStore(filepath.Join(t.TempDir(), "roster"))
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "roster.db"))
			require.NoError(t, err)
			return s
		},
		"pebble": func(t *testing.T) Store {
			s, err := NewPebbleStore(filepath.Join(t.TempDir(), "pebble"))
			require.NoError(t, err)
			return s
		},
		"redis": func(t *testing.T) Store {
			mr := miniredis.RunT(t)
			s, err := NewRedisStore(context.Background(), "redis://"+mr.Addr(), "buyer-1")
			require.NoError(t, err)
			return s
		},
	}
}

func TestBackendsRoundTrip(t *testing.T) {
	ctx := context.Background()
	opened := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			defer func() { require.NoError(t, s.Close()) }()

			entries, err := s.LoadRoster(ctx)
			require.NoError(t, err)
			assert.Empty(t, entries)

			active, err := s.LoadActive(ctx)
			require.NoError(t, err)
			assert.Empty(t, active)

			want := []Entry{
				{ID: "seller-42", DisplayName: "Ana", DisplayImage: "ana.png", LastOpenedAt: opened},
				{ID: "seller-7", DisplayName: "Bo"},
			}
			require.NoError(t, s.SaveRoster(ctx, want))
			require.NoError(t, s.SaveActive(ctx, "seller-42"))

			got, err := s.LoadRoster(ctx)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "seller-42", got[0].ID)
			assert.Equal(t, "Ana", got[0].DisplayName)
			assert.True(t, opened.Equal(got[0].LastOpenedAt))
			assert.Equal(t, "seller-7", got[1].ID)

			active, err = s.LoadActive(ctx)
			require.NoError(t, err)
			assert.Equal(t, "seller-42", active)

			// whole-roster last write wins
			require.NoError(t, s.SaveRoster(ctx, want[1:]))
			got, err = s.LoadRoster(ctx)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "seller-7", got[0].ID)
		})
	}
}

func TestFileStoreReadsUnversionedRoster(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, rosterFile),
		[]byte(`[{"id":"seller-42","displayName":"Ana","displayImage":"a.png"}]`), 0o600))

	s, err := NewFileStore(dir)
	require.NoError(t, err)

	entries, err := s.LoadRoster(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Ana", entries[0].DisplayName)

	require.NoError(t, s.SaveRoster(context.Background(), entries))
	data, err := os.ReadFile(filepath.Join(dir, rosterFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"version":1`)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), Options{Backend: "tape"})
	assert.Error(t, err)
}

func TestOpenFileBackend(t *testing.T) {
	s, err := Open(context.Background(), Options{Backend: "file", Path: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)
}
