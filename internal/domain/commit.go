package domain

import "time"

// FileChange is one changed file within a commit.
type FileChange struct {
	Path      string `json:"path"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Status    string `json:"status"` // added, modified, removed, renamed
}

// CommitDetail is the fetched payload for one commit. A nil *CommitDetail
// stored under a present key acts as a tombstone: the commit was fetched but
// the remote had nothing usable for it. Tombstone and real detail are both
// terminal states.
type CommitDetail struct {
	SHA        string       `json:"sha"`
	AuthoredAt time.Time    `json:"authoredAt"`
	Files      []FileChange `json:"files"`
}

// LinesChanged returns additions + deletions across all files.
func (d *CommitDetail) LinesChanged() int {
	total := 0
	for _, f := range d.Files {
		total += f.Additions + f.Deletions
	}
	return total
}

// Identity is the authenticated user as reported by the API: the login used
// in search queries and the opaque node ID used for server-side author
// filtering.
type Identity struct {
	Login  string
	NodeID string
}
