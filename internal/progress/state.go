// Package progress holds the in-memory collection state: which repositories
// are known, how far SHA enumeration and detail fetching have progressed,
// and the terminal detail-or-tombstone record per commit. The pipeline
// orchestrator exclusively owns and mutates it; persistence lives behind the
// storage backends.
package progress

import (
	"github.com/mkurata/gh-lang-stats/internal/domain"
)

// State is the aggregate root for one user's collection run.
type State struct {
	repos    []domain.Repository
	repoSeen map[string]bool

	shaComplete map[string]bool
	prComplete  map[string]bool

	commits    map[string][]string            // repo key -> SHAs, first-seen order
	commitSeen map[string]map[string]struct{} // repo key -> SHA set

	details  map[string]*domain.CommitDetail // present key, nil value = tombstone
	prCounts map[string]int

	dirty bool
}

// NewState returns an empty state.
func NewState() *State {
	return &State{
		repoSeen:    make(map[string]bool),
		shaComplete: make(map[string]bool),
		prComplete:  make(map[string]bool),
		commits:     make(map[string][]string),
		commitSeen:  make(map[string]map[string]struct{}),
		details:     make(map[string]*domain.CommitDetail),
		prCounts:    make(map[string]int),
	}
}

// HasRepositories reports whether discovery has previously completed.
func (s *State) HasRepositories() bool {
	return len(s.repos) > 0
}

// Repositories returns the discovered repository set in insertion order.
func (s *State) Repositories() []domain.Repository {
	return append([]domain.Repository(nil), s.repos...)
}

// AddRepositories merges repositories into the set, deduplicated by
// (owner, name). First occurrence wins; order is preserved.
func (s *State) AddRepositories(repos []domain.Repository) {
	for _, r := range repos {
		key := r.Key()
		if s.repoSeen[key] {
			continue
		}
		s.repoSeen[key] = true
		s.repos = append(s.repos, r)
		s.dirty = true
	}
}

// AddCommits merges SHAs for a repository. Duplicates are dropped on insert;
// first-seen order is preserved. Idempotent.
func (s *State) AddCommits(repoKey string, shas []string) {
	seen := s.commitSeen[repoKey]
	if seen == nil {
		seen = make(map[string]struct{})
		s.commitSeen[repoKey] = seen
	}
	for _, sha := range shas {
		if _, ok := seen[sha]; ok {
			continue
		}
		seen[sha] = struct{}{}
		s.commits[repoKey] = append(s.commits[repoKey], sha)
		s.dirty = true
	}
}

// CommitsFor returns the ordered SHA list for a repository.
func (s *State) CommitsFor(repoKey string) []string {
	return append([]string(nil), s.commits[repoKey]...)
}

// SetDetail records the fetched payload for a commit. A nil detail is a
// tombstone. Overwrites unconditionally; the orchestrator filters to
// unfetched SHAs before dispatching, so in practice each SHA is set once.
func (s *State) SetDetail(sha string, detail *domain.CommitDetail) {
	s.details[sha] = detail
	s.dirty = true
}

// Detail returns the stored detail for a SHA. fetched is false when the SHA
// has never been resolved; a (nil, true) result is a tombstone.
func (s *State) Detail(sha string) (detail *domain.CommitDetail, fetched bool) {
	detail, fetched = s.details[sha]
	return detail, fetched
}

// UnfetchedRefs lists every (repo, SHA) pair across the given repositories
// whose detail has not been resolved yet. Tombstones are terminal and never
// re-queued.
func (s *State) UnfetchedRefs(repos []domain.Repository) []domain.CommitRef {
	var refs []domain.CommitRef
	for _, r := range repos {
		for _, sha := range s.commits[r.Key()] {
			if _, fetched := s.details[sha]; !fetched {
				refs = append(refs, domain.CommitRef{Repo: r, SHA: sha})
			}
		}
	}
	return refs
}

// MarkSHAComplete records that enumeration finished for a repository. The
// flag is monotonic: it is never unset within a run.
func (s *State) MarkSHAComplete(repoKey string) {
	if !s.shaComplete[repoKey] {
		s.shaComplete[repoKey] = true
		s.dirty = true
	}
}

// IsSHAComplete reports whether enumeration finished for a repository.
func (s *State) IsSHAComplete(repoKey string) bool {
	return s.shaComplete[repoKey]
}

// SetPRCount stores the PR count for a repository.
func (s *State) SetPRCount(repoKey string, count int) {
	s.prCounts[repoKey] = count
	s.dirty = true
}

// PRCount returns the stored PR count, if any.
func (s *State) PRCount(repoKey string) (int, bool) {
	n, ok := s.prCounts[repoKey]
	return n, ok
}

// MarkPRComplete records that PR-count collection finished for a repository.
// Monotonic, like MarkSHAComplete.
func (s *State) MarkPRComplete(repoKey string) {
	if !s.prComplete[repoKey] {
		s.prComplete[repoKey] = true
		s.dirty = true
	}
}

// IsPRComplete reports whether PR-count collection finished for a repository.
func (s *State) IsPRComplete(repoKey string) bool {
	return s.prComplete[repoKey]
}

// Dirty reports whether the state has unsaved mutations.
func (s *State) Dirty() bool {
	return s.dirty
}

// MarkSaved clears the dirty flag after a successful flush.
func (s *State) MarkSaved() {
	s.dirty = false
}
