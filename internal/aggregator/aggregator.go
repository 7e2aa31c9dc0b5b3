// Package aggregator reduces collected commit details into the final
// per-language and per-repository line statistics. It is pure: no I/O, no
// state, deterministic for a given input.
package aggregator

import (
	"sort"
	"time"

	"github.com/mkurata/gh-lang-stats/internal/domain"
)

// Input carries everything the reduction needs. Details follows the store
// convention: an absent key is unfetched, a nil value is a tombstone; both
// contribute zero.
type Input struct {
	User          string
	Repositories  []domain.Repository
	CommitsByRepo map[string][]string
	Details       map[string]*domain.CommitDetail
	PRCounts      map[string]int

	ExcludeLanguages []string
	IncludeDates     bool
	IncludePRs       bool

	// Language detection collaborator: Detect maps a file path to a label
	// ("" for unrecognized), IsDefaultExcluded flags catch-all formats.
	Detect            func(filename string) string
	IsDefaultExcluded func(label string) bool
}

// counter accumulates per-language lines while remembering first-insertion
// order so the descending sort stays stable across runs.
type counter struct {
	lines map[string]int
	order []string
}

func newCounter() *counter {
	return &counter{lines: make(map[string]int)}
}

func (c *counter) add(lang string, lines int) {
	if _, ok := c.lines[lang]; !ok {
		c.order = append(c.order, lang)
	}
	c.lines[lang] += lines
}

func (c *counter) sorted() []domain.LanguageCount {
	out := make([]domain.LanguageCount, 0, len(c.order))
	for _, lang := range c.order {
		out = append(out, domain.LanguageCount{Language: lang, Lines: c.lines[lang]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Lines > out[j].Lines
	})
	return out
}

// Aggregate folds every realized commit detail into per-language line
// counts, globally and per repository. Tombstoned and unfetched commits are
// silently skipped.
func Aggregate(in Input) *domain.AggregatedStats {
	excluded := make(map[string]bool, len(in.ExcludeLanguages))
	for _, lang := range in.ExcludeLanguages {
		excluded[lang] = true
	}

	totals := newCounter()
	perRepo := make(map[string]*counter)
	dates := make(map[string][]string)
	commitsProcessed := 0

	for _, repo := range in.Repositories {
		key := repo.Key()
		for _, sha := range in.CommitsByRepo[key] {
			detail, fetched := in.Details[sha]
			if !fetched || detail == nil {
				continue
			}

			for _, file := range detail.Files {
				label := in.Detect(file.Path)
				if label == "" || in.IsDefaultExcluded(label) || excluded[label] {
					continue
				}
				lines := file.Additions + file.Deletions

				rc := perRepo[key]
				if rc == nil {
					rc = newCounter()
					perRepo[key] = rc
				}
				rc.add(label, lines)
				totals.add(label, lines)
			}

			commitsProcessed++
			if in.IncludeDates && !detail.AuthoredAt.IsZero() {
				// Day granularity, deliberately not deduplicated: a day
				// with three commits yields three entries.
				dates[key] = append(dates[key], detail.AuthoredAt.UTC().Format("2006-01-02"))
			}
		}
	}

	stats := &domain.AggregatedStats{
		User:             in.User,
		GeneratedAt:      time.Now().UTC(),
		CommitsProcessed: commitsProcessed,
		Totals:           totals.sorted(),
	}

	repoByKey := make(map[string]domain.Repository, len(in.Repositories))
	keys := make([]string, 0, len(perRepo))
	for _, repo := range in.Repositories {
		repoByKey[repo.Key()] = repo
	}
	for key, rc := range perRepo {
		if len(rc.order) == 0 {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		entry := domain.RepoStats{
			Repo:      key,
			IsPrivate: repoByKey[key].IsPrivate,
			Languages: perRepo[key].sorted(),
		}
		if in.IncludeDates {
			entry.CommitDates = dates[key]
		}
		if in.IncludePRs {
			if n, ok := in.PRCounts[key]; ok {
				count := n
				entry.PullRequests = &count
			}
		}
		stats.ByRepo = append(stats.ByRepo, entry)
	}
	stats.ReposWithOutput = len(stats.ByRepo)

	return stats
}
