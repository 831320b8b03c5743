package localstore

import (
	"context"

	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
)

// PebbleStore keeps the roster in an embedded pebble database.
type PebbleStore struct {
	db *pebble.DB
}

// NewPebbleStore opens a pebble database in dir.
func NewPebbleStore(dir string) (*PebbleStore, error) {
	if dir == "" {
		return nil, errors.New("pebble store needs a directory")
	}
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble at %s", dir)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) get(key string) ([]byte, error) {
	v, closer, err := s.db.Get([]byte(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "pebble get %s", key)
	}
	defer closer.Close()
	return append([]byte(nil), v...), nil
}

// LoadRoster implements Store.
func (s *PebbleStore) LoadRoster(context.Context) ([]Entry, error) {
	data, err := s.get(keyRoster)
	if err != nil || data == nil {
		return nil, err
	}
	entries, _, err := DecodeRoster(data)
	return entries, err
}

// SaveRoster implements Store.
func (s *PebbleStore) SaveRoster(_ context.Context, entries []Entry) error {
	data, err := EncodeRoster(entries)
	if err != nil {
		return err
	}
	return errors.Wrap(s.db.Set([]byte(keyRoster), data, pebble.Sync), "pebble set roster")
}

// LoadActive implements Store.
func (s *PebbleStore) LoadActive(context.Context) (string, error) {
	data, err := s.get(keyActive)
	return string(data), err
}

// SaveActive implements Store.
func (s *PebbleStore) SaveActive(_ context.Context, id string) error {
	return errors.Wrap(s.db.Set([]byte(keyActive), []byte(id), pebble.Sync), "pebble set active")
}

// Close closes the database.
func (s *PebbleStore) Close() error {
	return s.db.Close()
}
