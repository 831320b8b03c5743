// Package localstore is the client-local persistence boundary of the roster.
//
// Every backend stores two values: the roster document and the last active
// conversation id. The roster document is versioned JSON; see codec.go.
package localstore

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Entry is one persisted roster conversation.
type Entry struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"displayName,omitempty"`
	DisplayImage string    `json:"displayImage,omitempty"`
	LastOpenedAt time.Time `json:"lastOpenedAt,omitempty"`
}

// Store persists the roster and the last active id.
//
// LoadRoster returns (nil, nil) and LoadActive returns ("", nil) when
// nothing was saved yet.
type Store interface {
	LoadRoster(ctx context.Context) ([]Entry, error)
	SaveRoster(ctx context.Context, entries []Entry) error
	LoadActive(ctx context.Context) (string, error)
	SaveActive(ctx context.Context, id string) error
	Close() error
}

// Options configures Open.
type Options struct {
	Backend  string
	Path     string
	RedisURL string
	// Namespace separates participants sharing one redis instance.
	Namespace string
}

// Open builds the backend named by opts.Backend.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", "file":
		return NewFileStore(opts.Path)
	case "sqlite":
		return NewSQLiteStore(opts.Path)
	case "redis":
		return NewRedisStore(ctx, opts.RedisURL, opts.Namespace)
	case "pebble":
		return NewPebbleStore(opts.Path)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, errors.Errorf("unknown roster backend %q", opts.Backend)
	}
}

func cloneEntries(entries []Entry) []Entry {
	if entries == nil {
		return nil
	}
	return append([]Entry(nil), entries...)
}
