package jsonfile

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkurata/gh-lang-stats/internal/domain"
	"github.com/mkurata/gh-lang-stats/internal/progress"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewBackend(dir)
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	state := progress.NewState()
	state.AddRepositories([]domain.Repository{{Owner: "o", Name: "r"}})
	state.AddCommits("o/r", []string{"a", "b"})
	state.SetDetail("a", &domain.CommitDetail{SHA: "a"})
	state.SetDetail("b", nil)
	state.MarkSHAComplete("o/r")

	require.NoError(t, backend.Save(ctx, "alice", state))
	assert.False(t, state.Dirty())

	loaded, err := backend.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, loaded.CommitsFor("o/r"))
	assert.True(t, loaded.IsSHAComplete("o/r"))

	tombstone, fetched := loaded.Detail("b")
	assert.True(t, fetched)
	assert.Nil(t, tombstone)
}

func TestLoadMissingFileYieldsEmptyState(t *testing.T) {
	backend, err := NewBackend(t.TempDir())
	require.NoError(t, err)

	state, err := backend.Load(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, state.HasRepositories())
}

func TestLoadVersionMismatchYieldsEmptyState(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewBackend(dir)
	require.NoError(t, err)

	stale := map[string]interface{}{
		"version":      progress.SchemaVersion - 1,
		"repositories": []map[string]interface{}{{"owner": "o", "name": "r"}},
	}
	data, err := json.Marshal(stale)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alice.json"), data, 0o644))

	state, err := backend.Load(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, state.HasRepositories())
}

func TestLoadCorruptFileYieldsEmptyState(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewBackend(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "alice.json"), []byte("{not json"), 0o644))

	state, err := backend.Load(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, state.HasRepositories())
}

func TestUserNameSanitized(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewBackend(dir)
	require.NoError(t, err)

	state := progress.NewState()
	state.AddRepositories([]domain.Repository{{Owner: "o", Name: "r"}})
	require.NoError(t, backend.Save(context.Background(), "../escape", state))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].Name(), "..")
}
