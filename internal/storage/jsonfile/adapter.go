// Package jsonfile persists progress snapshots as one versioned JSON
// document per analyzed user. It is the default backend.
package jsonfile

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/mkurata/gh-lang-stats/internal/progress"
	"github.com/mkurata/gh-lang-stats/internal/storage"
)

type jsonFileBackend struct {
	dir string
}

// NewBackend creates a JSON-file backend rooted at dir, creating the
// directory if needed.
func NewBackend(dir string) (storage.Backend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &jsonFileBackend{dir: dir}, nil
}

func (b *jsonFileBackend) path(user string) string {
	// Usernames come from the API but guard against separators anyway.
	safe := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(user)
	return filepath.Join(b.dir, safe+".json")
}

// Load reads the snapshot for a user. A missing file, unparseable content,
// or schema version mismatch all downgrade to an empty state.
func (b *jsonFileBackend) Load(_ context.Context, user string) (*progress.State, error) {
	data, err := os.ReadFile(b.path(user))
	if err != nil {
		return progress.NewState(), nil
	}

	var snap progress.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return progress.NewState(), nil
	}
	if snap.Version != progress.SchemaVersion {
		return progress.NewState(), nil
	}
	return progress.FromSnapshot(&snap), nil
}

// Save writes the snapshot atomically: temp file then rename, so a crash
// mid-write never leaves a truncated document behind.
func (b *jsonFileBackend) Save(_ context.Context, user string, state *progress.State) error {
	data, err := json.Marshal(state.Snapshot())
	if err != nil {
		return err
	}

	target := b.path(user)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return err
	}
	state.MarkSaved()
	return nil
}

func (b *jsonFileBackend) Close() error {
	return nil
}
