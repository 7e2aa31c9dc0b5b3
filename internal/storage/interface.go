package storage

import (
	"context"

	"github.com/mkurata/gh-lang-stats/internal/progress"
)

// Backend is the abstract interface for persisting progress snapshots.
//
// Load must never fail on a missing, unreadable, or version-mismatched
// snapshot: all of those silently yield an empty state and collection starts
// over. Save replaces the stored snapshot wholesale.
type Backend interface {
	Load(ctx context.Context, user string) (*progress.State, error)
	Save(ctx context.Context, user string, state *progress.State) error
	Close() error
}
