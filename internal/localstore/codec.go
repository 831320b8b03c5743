package localstore

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// SchemaVersion is the roster document version written by this client.
//
// Version 0 is the unversioned format: a bare JSON array of entries. It is
// read transparently and rewritten as the current version on the next save.
const SchemaVersion = 1

// ErrUnsupportedVersion is returned for a roster document written by a newer
// client. Such a document must not be overwritten.
var ErrUnsupportedVersion = errors.New("unsupported roster schema version")

// ErrCorruptRoster is returned for a roster document that cannot be decoded.
// Unlike a newer schema it may be overwritten.
var ErrCorruptRoster = errors.New("corrupt roster document")

type rosterDocument struct {
	Version       int     `json:"version"`
	Conversations []Entry `json:"conversations"`
}

// EncodeRoster encodes entries as a current-version document.
func EncodeRoster(entries []Entry) ([]byte, error) {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.Marshal(rosterDocument{Version: SchemaVersion, Conversations: entries})
	if err != nil {
		return nil, errors.Wrap(err, "encode roster")
	}
	return data, nil
}

// DecodeRoster decodes a roster document of any supported version and
// returns the entries along with the version found.
func DecodeRoster(data []byte) ([]Entry, int, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, SchemaVersion, nil
	}

	if trimmed[0] == '[' {
		var legacy []Entry
		if err := json.Unmarshal(trimmed, &legacy); err != nil {
			return nil, 0, errors.Wrapf(ErrCorruptRoster, "decode unversioned roster: %v", err)
		}
		return dropBlankIDs(legacy), 0, nil
	}

	var doc rosterDocument
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, 0, errors.Wrapf(ErrCorruptRoster, "decode roster: %v", err)
	}
	if doc.Version > SchemaVersion {
		return nil, doc.Version, errors.Wrapf(ErrUnsupportedVersion, "version %d", doc.Version)
	}
	return dropBlankIDs(doc.Conversations), doc.Version, nil
}

func dropBlankIDs(entries []Entry) []Entry {
	out := entries[:0]
	for _, e := range entries {
		if e.ID != "" {
			out = append(out, e)
		}
	}
	return out
}
