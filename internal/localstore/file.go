package localstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

const (
	rosterFile = "roster.json"
	activeFile = "active"
)

// FileStore keeps the roster document and the active id as two files in a
// directory. Writes go through a temp file and a rename.
type FileStore struct {
	dir string
}

// NewFileStore creates a store in dir, creating the directory when missing.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("file store needs a directory")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrapf(err, "create roster dir %s", dir)
	}
	return &FileStore{dir: dir}, nil
}

// LoadRoster implements Store.
func (s *FileStore) LoadRoster(context.Context) ([]Entry, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, rosterFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read roster")
	}
	entries, _, err := DecodeRoster(data)
	return entries, err
}

// SaveRoster implements Store.
func (s *FileStore) SaveRoster(_ context.Context, entries []Entry) error {
	data, err := EncodeRoster(entries)
	if err != nil {
		return err
	}
	return s.writeAtomic(rosterFile, data)
}

// LoadActive implements Store.
func (s *FileStore) LoadActive(context.Context) (string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, activeFile))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "read active conversation")
	}
	return strings.TrimSpace(string(data)), nil
}

// SaveActive implements Store.
func (s *FileStore) SaveActive(_ context.Context, id string) error {
	return s.writeAtomic(activeFile, []byte(id))
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }

func (s *FileStore) writeAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "create temp for %s", name)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrapf(err, "write %s", name)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "close %s", name)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return errors.Wrapf(err, "replace %s", name)
	}
	return nil
}
