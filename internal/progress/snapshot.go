package progress

import "github.com/mkurata/gh-lang-stats/internal/domain"

// SchemaVersion is the current snapshot schema version. A stored snapshot
// with any other version is discarded wholesale and collection restarts from
// empty; there is no field-by-field migration.
const SchemaVersion = 3

// Snapshot is the durable, versioned document persisted per analyzed user.
// Detail values of nil are tombstones; absent keys are unfetched.
type Snapshot struct {
	Version      int                             `json:"version"`
	Repositories []domain.Repository             `json:"repositories"`
	SHAComplete  []string                        `json:"shaComplete"`
	Commits      map[string][]string             `json:"commits"`
	Details      map[string]*domain.CommitDetail `json:"details"`
	PRCounts     map[string]int                  `json:"prCounts"`
	PRComplete   []string                        `json:"prComplete"`
}

// Snapshot captures the state as a versioned document ready to persist.
func (s *State) Snapshot() *Snapshot {
	snap := &Snapshot{
		Version:      SchemaVersion,
		Repositories: append([]domain.Repository(nil), s.repos...),
		Commits:      make(map[string][]string, len(s.commits)),
		Details:      make(map[string]*domain.CommitDetail, len(s.details)),
		PRCounts:     make(map[string]int, len(s.prCounts)),
	}
	for repo, shas := range s.commits {
		snap.Commits[repo] = append([]string(nil), shas...)
	}
	for sha, d := range s.details {
		snap.Details[sha] = d
	}
	for repo, n := range s.prCounts {
		snap.PRCounts[repo] = n
	}
	for _, r := range s.repos {
		if s.shaComplete[r.Key()] {
			snap.SHAComplete = append(snap.SHAComplete, r.Key())
		}
		if s.prComplete[r.Key()] {
			snap.PRComplete = append(snap.PRComplete, r.Key())
		}
	}
	return snap
}

// FromSnapshot rebuilds in-memory state from a persisted document. The
// caller is responsible for the version check; a mismatched snapshot must
// never reach this function.
func FromSnapshot(snap *Snapshot) *State {
	s := NewState()
	s.AddRepositories(snap.Repositories)
	for repo, shas := range snap.Commits {
		s.AddCommits(repo, shas)
	}
	for sha, d := range snap.Details {
		s.SetDetail(sha, d)
	}
	for repo, n := range snap.PRCounts {
		s.SetPRCount(repo, n)
	}
	for _, repo := range snap.SHAComplete {
		s.MarkSHAComplete(repo)
	}
	for _, repo := range snap.PRComplete {
		s.MarkPRComplete(repo)
	}
	s.dirty = false
	return s
}
