// Package pipeline sequences the collection phases: discover repositories,
// enumerate authored commit SHAs, fetch commit details, fetch PR counts,
// aggregate. Each phase resumes from whatever the progress store already
// holds, so the process can be killed and restarted at any point.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mkurata/gh-lang-stats/internal/aggregator"
	"github.com/mkurata/gh-lang-stats/internal/domain"
	"github.com/mkurata/gh-lang-stats/internal/github"
	"github.com/mkurata/gh-lang-stats/internal/language"
	"github.com/mkurata/gh-lang-stats/internal/progress"
	"github.com/mkurata/gh-lang-stats/internal/storage"
)

const defaultConcurrency = 5

// Options configures one pipeline run.
type Options struct {
	User             string
	SinceYear        int
	Concurrency      int
	IncludePRs       bool
	IncludeDates     bool
	ExcludeLanguages []string

	// AllowList, when non-empty, restricts phases 2-5 to these "owner/name"
	// keys. Applied after discovery.
	AllowList []string

	// SkipCollection re-aggregates the cached snapshot without touching
	// the network.
	SkipCollection bool
}

// Pipeline drives collection for one user. It exclusively owns the progress
// state; the source and aggregator never mutate it.
type Pipeline struct {
	source  github.Source
	backend storage.Backend
	sink    EventSink
	opts    Options

	runID       string
	failedUnits int
}

// New creates a pipeline. A nil sink discards progress notifications.
func New(source github.Source, backend storage.Backend, sink EventSink, opts Options) *Pipeline {
	if sink == nil {
		sink = NopSink{}
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	return &Pipeline{
		source:  source,
		backend: backend,
		sink:    sink,
		opts:    opts,
		runID:   uuid.New().String(),
	}
}

// RunID identifies this pipeline invocation in logs.
func (p *Pipeline) RunID() string {
	return p.runID
}

// FailedUnits reports how many isolated detail fetches were recorded as
// tombstones because of hard failures. Informational; does not affect the
// exit code.
func (p *Pipeline) FailedUnits() int {
	return p.failedUnits
}

// Run executes all phases and returns the aggregated statistics.
func (p *Pipeline) Run(ctx context.Context) (*domain.AggregatedStats, error) {
	state, err := p.backend.Load(ctx, p.opts.User)
	if err != nil {
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}

	if !p.opts.SkipCollection {
		identity, err := p.source.ResolveIdentity(ctx)
		if err != nil {
			return nil, err
		}
		// Enumeration filters by the credential's author ID, so a target
		// user other than the authenticated one would silently fill the
		// wrong cache with the credential owner's commits.
		if !strings.EqualFold(identity.Login, p.opts.User) {
			return nil, fmt.Errorf("token is authenticated as %q, cannot collect for %q", identity.Login, p.opts.User)
		}

		if err := p.discover(ctx, state); err != nil {
			return nil, err
		}
	}

	repos := p.filterRepos(state.Repositories())

	if !p.opts.SkipCollection {
		if err := p.enumerate(ctx, state, repos); err != nil {
			return nil, err
		}
		if err := p.fetchDetails(ctx, state, repos); err != nil {
			return nil, err
		}
		if p.opts.IncludePRs {
			if err := p.fetchPRCounts(ctx, state, repos); err != nil {
				return nil, err
			}
		}
	}

	// Flush before aggregate so a graceful exit never loses progress.
	if state.Dirty() {
		if err := p.backend.Save(ctx, p.opts.User, state); err != nil {
			return nil, fmt.Errorf("failed to flush progress: %w", err)
		}
	}

	p.notify(func() { p.sink.AggregateStarting() })

	return p.aggregate(state, repos), nil
}

// discover runs phase 1. A non-empty repository set means discovery already
// completed on a previous run and the phase is skipped entirely.
func (p *Pipeline) discover(ctx context.Context, state *progress.State) error {
	if state.HasRepositories() {
		return nil
	}

	identity, err := p.source.ResolveIdentity(ctx)
	if err != nil {
		return err
	}

	contributed, err := p.source.DiscoverContributedRepositories(ctx, identity.Login, p.opts.SinceYear,
		func(year, found int) {
			p.notify(func() { p.sink.YearScanned(year, found) })
		})
	if err != nil {
		return fmt.Errorf("contribution discovery failed: %w", err)
	}

	owned, err := p.source.ListOwnedRepositories(ctx)
	if err != nil {
		return fmt.Errorf("repository listing failed: %w", err)
	}

	state.AddRepositories(contributed)
	state.AddRepositories(owned)
	return p.backend.Save(ctx, p.opts.User, state)
}

func (p *Pipeline) filterRepos(repos []domain.Repository) []domain.Repository {
	if len(p.opts.AllowList) == 0 {
		return repos
	}
	allowed := make(map[string]bool, len(p.opts.AllowList))
	for _, key := range p.opts.AllowList {
		allowed[key] = true
	}
	var filtered []domain.Repository
	for _, r := range repos {
		if allowed[r.Key()] {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

// enumerate runs phase 2 strictly sequentially: each repository's history is
// already paginated internally and every call shares the bulk budget.
func (p *Pipeline) enumerate(ctx context.Context, state *progress.State, repos []domain.Repository) error {
	var identity domain.Identity
	resolved := false

	for _, repo := range repos {
		if state.IsSHAComplete(repo.Key()) {
			continue
		}

		if !resolved {
			id, err := p.source.ResolveIdentity(ctx)
			if err != nil {
				return err
			}
			identity = id
			resolved = true
		}

		shas, err := p.source.EnumerateAuthoredCommits(ctx, repo, identity.NodeID, p.opts.SinceYear)
		state.AddCommits(repo.Key(), shas)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Partial enumeration: keep what we got, leave the repo
			// incomplete so a future run retries it.
			log.Printf("Warning: enumeration truncated for %s: %v", repo.Key(), err)
		} else {
			state.MarkSHAComplete(repo.Key())
		}

		if err := p.backend.Save(ctx, p.opts.User, state); err != nil {
			return fmt.Errorf("failed to flush progress: %w", err)
		}
		p.notify(func() { p.sink.RepoEnumerated(repo.Key(), len(shas)) })
	}
	return nil
}

type detailResult struct {
	sha    string
	detail *domain.CommitDetail
	failed bool
}

// fetchDetails runs phase 3: all unfetched (repo, SHA) pairs in fixed-size
// concurrent batches. Batch N+1 never dispatches before batch N has fully
// settled, bounding in-flight requests to the configured concurrency. A
// failing unit becomes a tombstone without cancelling its siblings.
func (p *Pipeline) fetchDetails(ctx context.Context, state *progress.State, repos []domain.Repository) error {
	work := state.UnfetchedRefs(repos)
	total := 0
	for _, r := range repos {
		total += len(state.CommitsFor(r.Key()))
	}
	fetched := total - len(work)

	for start := 0; start < len(work); start += p.opts.Concurrency {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		end := start + p.opts.Concurrency
		if end > len(work) {
			end = len(work)
		}
		batch := work[start:end]
		results := make([]detailResult, len(batch))

		g, gctx := errgroup.WithContext(ctx)
		for i, ref := range batch {
			i, ref := i, ref
			g.Go(func() error {
				detail, err := p.source.FetchCommitDetail(gctx, ref.Repo, ref.SHA)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					log.Printf("Warning: commit %s in %s failed, tombstoning: %v", ref.SHA, ref.Repo.Key(), err)
					results[i] = detailResult{sha: ref.SHA, failed: true}
					return nil
				}
				results[i] = detailResult{sha: ref.SHA, detail: detail}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		// Results are merged serially after the batch settles; the state
		// is never touched from worker goroutines.
		for _, res := range results {
			state.SetDetail(res.sha, res.detail)
			if res.failed {
				p.failedUnits++
			}
			fetched++
		}

		// Flush after every settled batch so a crash replays at most one
		// batch worth of fetches.
		if err := p.backend.Save(ctx, p.opts.User, state); err != nil {
			return fmt.Errorf("failed to flush progress: %w", err)
		}

		p.notify(func() { p.sink.DetailProgress(fetched, total) })
	}
	return nil
}

// fetchPRCounts runs phase 4, best effort: the search budget is too narrow
// to parallelize, and a failed repository is still marked complete rather
// than retried forever. Pacing between requests is enforced by the search
// domain's tracker.
func (p *Pipeline) fetchPRCounts(ctx context.Context, state *progress.State, repos []domain.Repository) error {
	identity, err := p.source.ResolveIdentity(ctx)
	if err != nil {
		return err
	}

	total := len(repos)
	done := 0
	for _, repo := range repos {
		if state.IsPRComplete(repo.Key()) {
			done++
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		count, err := p.source.FetchPRCount(ctx, repo, identity.Login)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("Warning: PR count for %s failed, skipping: %v", repo.Key(), err)
		} else {
			state.SetPRCount(repo.Key(), count)
		}
		state.MarkPRComplete(repo.Key())

		if err := p.backend.Save(ctx, p.opts.User, state); err != nil {
			return fmt.Errorf("failed to flush progress: %w", err)
		}
		done++
		p.notify(func() { p.sink.PRCountProgress(done, total) })
	}
	return nil
}

// aggregate runs phase 5. It always runs, even when every collection phase
// was skipped, which is what makes the cached re-aggregation mode work.
func (p *Pipeline) aggregate(state *progress.State, repos []domain.Repository) *domain.AggregatedStats {
	commitsByRepo := make(map[string][]string, len(repos))
	details := make(map[string]*domain.CommitDetail)
	prCounts := make(map[string]int)

	for _, repo := range repos {
		key := repo.Key()
		shas := state.CommitsFor(key)
		commitsByRepo[key] = shas
		for _, sha := range shas {
			if detail, fetched := state.Detail(sha); fetched {
				details[sha] = detail
			}
		}
		if n, ok := state.PRCount(key); ok {
			prCounts[key] = n
		}
	}

	return aggregator.Aggregate(aggregator.Input{
		User:              p.opts.User,
		Repositories:      repos,
		CommitsByRepo:     commitsByRepo,
		Details:           details,
		PRCounts:          prCounts,
		ExcludeLanguages:  p.opts.ExcludeLanguages,
		IncludeDates:      p.opts.IncludeDates,
		IncludePRs:        p.opts.IncludePRs,
		Detect:            language.Detect,
		IsDefaultExcluded: language.IsDefaultExcluded,
	})
}

// notify invokes a sink callback, swallowing panics so a broken observer
// cannot abort the pipeline.
func (p *Pipeline) notify(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Warning: progress sink panicked: %v", r)
		}
	}()
	fn()
}
