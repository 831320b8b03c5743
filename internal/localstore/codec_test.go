package localstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRoster(t *testing.T) {
	tests := []struct {
		name        string
		data        string
		wantIDs     []string
		wantVersion int
		wantErr     error
	}{
		{
			name:        "current version",
			data:        `{"version":1,"conversations":[{"id":"a"},{"id":"b"}]}`,
			wantIDs:     []string{"a", "b"},
			wantVersion: 1,
		},
		{
			name:        "unversioned array",
			data:        `[{"id":"a","displayName":"A"}]`,
			wantIDs:     []string{"a"},
			wantVersion: 0,
		},
		{
			name:        "blank ids dropped",
			data:        `{"version":1,"conversations":[{"id":""},{"id":"b"}]}`,
			wantIDs:     []string{"b"},
			wantVersion: 1,
		},
		{
			name:        "empty input",
			data:        "  ",
			wantVersion: SchemaVersion,
		},
		{
			name:    "newer version",
			data:    `{"version":2,"conversations":[{"id":"a"}]}`,
			wantErr: ErrUnsupportedVersion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, version, err := DecodeRoster([]byte(tt.data))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantVersion, version)
			var ids []string
			for _, e := range entries {
				ids = append(ids, e.ID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestDecodeRosterGarbage(t *testing.T) {
	for _, data := range []string{"{not json", "[{]", `{"version":"one"}`} {
		_, _, err := DecodeRoster([]byte(data))
		assert.ErrorIs(t, err, ErrCorruptRoster, data)
		assert.NotErrorIs(t, err, ErrUnsupportedVersion, data)
	}
}

func TestEncodeRosterNil(t *testing.T) {
	data, err := EncodeRoster(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":1,"conversations":[]}`, string(data))
}
