package localstore

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

const (
	keyRoster = "roster"
	keyActive = "active"
)

// SQLiteStore keeps both values in a single key/value table.
type SQLiteStore struct{ db *sql.DB }

// NewSQLiteStore opens the database at dsn and creates its table.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite store needs a dsn")
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS marketchat_kv (
  key TEXT PRIMARY KEY,
  value BLOB NOT NULL,
  updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`)
	return errors.Wrap(err, "migrate sqlite store")
}

func (s *SQLiteStore) get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM marketchat_kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", key)
	}
	return value, nil
}

func (s *SQLiteStore) put(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO marketchat_kv(key, value, updated_at) VALUES(?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
`, key, value)
	return errors.Wrapf(err, "write %s", key)
}

// LoadRoster implements Store.
func (s *SQLiteStore) LoadRoster(ctx context.Context) ([]Entry, error) {
	data, err := s.get(ctx, keyRoster)
	if err != nil || data == nil {
		return nil, err
	}
	entries, _, err := DecodeRoster(data)
	return entries, err
}

// SaveRoster implements Store.
func (s *SQLiteStore) SaveRoster(ctx context.Context, entries []Entry) error {
	data, err := EncodeRoster(entries)
	if err != nil {
		return err
	}
	return s.put(ctx, keyRoster, data)
}

// LoadActive implements Store.
func (s *SQLiteStore) LoadActive(ctx context.Context) (string, error) {
	data, err := s.get(ctx, keyActive)
	return string(data), err
}

// SaveActive implements Store.
func (s *SQLiteStore) SaveActive(ctx context.Context, id string) error {
	return s.put(ctx, keyActive, []byte(id))
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
