package domain

import "time"

// LanguageCount is one language's total lines changed.
type LanguageCount struct {
	Language string `json:"language"`
	Lines    int    `json:"lines"`
}

// RepoStats is the per-repository breakdown in the final output.
type RepoStats struct {
	Repo         string          `json:"repo"`
	IsPrivate    bool            `json:"isPrivate"`
	Languages    []LanguageCount `json:"languages"`
	CommitDates  []string        `json:"commitDates,omitempty"` // YYYY-MM-DD, one entry per commit
	PullRequests *int            `json:"pullRequests,omitempty"`
}

// AggregatedStats is the final per-language / per-repository statistics
// object handed to the output sink.
type AggregatedStats struct {
	User             string          `json:"user"`
	GeneratedAt      time.Time       `json:"generatedAt"`
	CommitsProcessed int             `json:"commitsProcessed"`
	ReposWithOutput  int             `json:"reposWithOutput"`
	Totals           []LanguageCount `json:"totals"`
	ByRepo           []RepoStats     `json:"byRepo"`
}
