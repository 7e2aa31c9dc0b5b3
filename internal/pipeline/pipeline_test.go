package pipeline

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkurata/gh-lang-stats/internal/domain"
	"github.com/mkurata/gh-lang-stats/internal/progress"
)

// fakeSource scripts remote responses and counts every call so tests can
// assert which phases actually hit the network.
type fakeSource struct {
	mu sync.Mutex

	identity     domain.Identity
	contributed  []domain.Repository
	owned        []domain.Repository
	commits      map[string][]string
	details      map[string]*domain.CommitDetail
	failDetails  map[string]bool
	prCounts     map[string]int
	failPRCounts map[string]bool

	enumerateCalls map[string]int
	detailCalls    map[string]int
	prCalls        map[string]int
	discoverCalls  int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		identity:       domain.Identity{Login: "alice", NodeID: "node-alice"},
		commits:        map[string][]string{},
		details:        map[string]*domain.CommitDetail{},
		failDetails:    map[string]bool{},
		prCounts:       map[string]int{},
		failPRCounts:   map[string]bool{},
		enumerateCalls: map[string]int{},
		detailCalls:    map[string]int{},
		prCalls:        map[string]int{},
	}
}

func (f *fakeSource) ResolveIdentity(ctx context.Context) (domain.Identity, error) {
	return f.identity, nil
}

func (f *fakeSource) ListOwnedRepositories(ctx context.Context) ([]domain.Repository, error) {
	return f.owned, nil
}

func (f *fakeSource) DiscoverContributedRepositories(ctx context.Context, user string, fromYear int, onYear func(year, found int)) ([]domain.Repository, error) {
	f.mu.Lock()
	f.discoverCalls++
	f.mu.Unlock()
	if onYear != nil {
		onYear(fromYear, len(f.contributed))
	}
	return f.contributed, nil
}

func (f *fakeSource) EnumerateAuthoredCommits(ctx context.Context, repo domain.Repository, authorID string, sinceYear int) ([]string, error) {
	f.mu.Lock()
	f.enumerateCalls[repo.Key()]++
	f.mu.Unlock()
	return f.commits[repo.Key()], nil
}

func (f *fakeSource) FetchCommitDetail(ctx context.Context, repo domain.Repository, sha string) (*domain.CommitDetail, error) {
	f.mu.Lock()
	f.detailCalls[sha]++
	f.mu.Unlock()
	if f.failDetails[sha] {
		return nil, fmt.Errorf("boom")
	}
	return f.details[sha], nil
}

func (f *fakeSource) FetchPRCount(ctx context.Context, repo domain.Repository, username string) (int, error) {
	f.mu.Lock()
	f.prCalls[repo.Key()]++
	f.mu.Unlock()
	if f.failPRCounts[repo.Key()] {
		return 0, fmt.Errorf("search exhausted")
	}
	return f.prCounts[repo.Key()], nil
}

// fakeBackend keeps snapshots in memory, round-tripping through the same
// serialization the real adapters use.
type fakeBackend struct {
	mu        sync.Mutex
	snapshots map[string]*progress.Snapshot
	saves     int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{snapshots: map[string]*progress.Snapshot{}}
}

func (b *fakeBackend) Load(ctx context.Context, user string) (*progress.State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	snap, ok := b.snapshots[user]
	if !ok {
		return progress.NewState(), nil
	}
	return progress.FromSnapshot(snap), nil
}

func (b *fakeBackend) Save(ctx context.Context, user string, state *progress.State) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshots[user] = state.Snapshot()
	b.saves++
	state.MarkSaved()
	return nil
}

func (b *fakeBackend) Close() error { return nil }

func detail(sha, path string, additions, deletions int) *domain.CommitDetail {
	return &domain.CommitDetail{
		SHA:   sha,
		Files: []domain.FileChange{{Path: path, Additions: additions, Deletions: deletions}},
	}
}

func TestRunEndToEnd(t *testing.T) {
	src := newFakeSource()
	src.contributed = []domain.Repository{{Owner: "o", Name: "r"}}
	src.commits["o/r"] = []string{"sha1", "sha2"}
	src.details["sha1"] = detail("sha1", "main.go", 10, 2)
	src.details["sha2"] = detail("sha2", "app.ts", 3, 0)
	backend := newFakeBackend()

	p := New(src, backend, nil, Options{User: "alice", SinceYear: 2020})
	stats, err := p.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, stats.Totals, 2)
	assert.Equal(t, domain.LanguageCount{Language: "Go", Lines: 12}, stats.Totals[0])
	assert.Equal(t, domain.LanguageCount{Language: "TypeScript", Lines: 3}, stats.Totals[1])
	assert.Equal(t, 2, stats.CommitsProcessed)
	assert.Equal(t, 0, p.FailedUnits())
}

func TestSecondRunSkipsCompletedWork(t *testing.T) {
	src := newFakeSource()
	src.contributed = []domain.Repository{{Owner: "o", Name: "r"}}
	src.commits["o/r"] = []string{"sha1"}
	src.details["sha1"] = detail("sha1", "main.go", 1, 0)
	backend := newFakeBackend()

	_, err := New(src, backend, nil, Options{User: "alice"}).Run(context.Background())
	require.NoError(t, err)

	// Same backend, fresh pipeline: everything is already cached.
	_, err = New(src, backend, nil, Options{User: "alice"}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, src.discoverCalls)
	assert.Equal(t, 1, src.enumerateCalls["o/r"])
	assert.Equal(t, 1, src.detailCalls["sha1"])
}

func TestFailedDetailBecomesTombstone(t *testing.T) {
	src := newFakeSource()
	src.contributed = []domain.Repository{{Owner: "o", Name: "r"}}
	src.commits["o/r"] = []string{"good", "bad"}
	src.details["good"] = detail("good", "main.go", 5, 0)
	src.failDetails["bad"] = true
	backend := newFakeBackend()

	p := New(src, backend, nil, Options{User: "alice"})
	stats, err := p.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, p.FailedUnits())
	assert.Equal(t, 1, stats.CommitsProcessed)

	// The tombstone is terminal: a rerun never re-queues the commit.
	_, err = New(src, backend, nil, Options{User: "alice"}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, src.detailCalls["bad"])
}

func TestDiscoverySkippedWhenReposCached(t *testing.T) {
	backend := newFakeBackend()
	seeded := progress.NewState()
	seeded.AddRepositories([]domain.Repository{{Owner: "o", Name: "r"}})
	require.NoError(t, backend.Save(context.Background(), "alice", seeded))

	src := newFakeSource()
	src.commits["o/r"] = []string{"sha1"}
	src.details["sha1"] = detail("sha1", "main.go", 1, 0)

	_, err := New(src, backend, nil, Options{User: "alice"}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, src.discoverCalls)
	assert.Equal(t, 1, src.enumerateCalls["o/r"])
}

func TestAllowListRestrictsCollection(t *testing.T) {
	src := newFakeSource()
	src.contributed = []domain.Repository{
		{Owner: "o", Name: "keep"},
		{Owner: "o", Name: "skip"},
	}
	src.commits["o/keep"] = []string{"sha1"}
	src.commits["o/skip"] = []string{"sha2"}
	src.details["sha1"] = detail("sha1", "main.go", 1, 0)
	src.details["sha2"] = detail("sha2", "lib.rs", 1, 0)
	backend := newFakeBackend()

	opts := Options{User: "alice", AllowList: []string{"o/keep"}}
	stats, err := New(src, backend, nil, opts).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, src.enumerateCalls["o/keep"])
	assert.Equal(t, 0, src.enumerateCalls["o/skip"])
	require.Len(t, stats.ByRepo, 1)
	assert.Equal(t, "o/keep", stats.ByRepo[0].Repo)
}

func TestPRCountFailureSwallowedAndMarkedComplete(t *testing.T) {
	src := newFakeSource()
	src.contributed = []domain.Repository{
		{Owner: "o", Name: "good"},
		{Owner: "o", Name: "bad"},
	}
	src.commits["o/good"] = []string{"sha1"}
	src.details["sha1"] = detail("sha1", "main.go", 1, 0)
	src.prCounts["o/good"] = 3
	src.failPRCounts["o/bad"] = true
	backend := newFakeBackend()

	opts := Options{User: "alice", IncludePRs: true}
	stats, err := New(src, backend, nil, opts).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, stats.ByRepo, 1)
	require.NotNil(t, stats.ByRepo[0].PullRequests)
	assert.Equal(t, 3, *stats.ByRepo[0].PullRequests)

	// The failed repo is complete, not retried on the next pass.
	_, err = New(src, backend, nil, opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, src.prCalls["o/bad"])
}

func TestRunRejectsMismatchedCollectionTarget(t *testing.T) {
	src := newFakeSource()
	src.contributed = []domain.Repository{{Owner: "o", Name: "r"}}
	backend := newFakeBackend()

	// The token is alice's; collecting into bob's cache would silently
	// store alice's commits under bob's name.
	_, err := New(src, backend, nil, Options{User: "bob"}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `authenticated as "alice"`)
	assert.Equal(t, 0, src.discoverCalls)
}

func TestSkipCollectionNeverTouchesSource(t *testing.T) {
	backend := newFakeBackend()
	seeded := progress.NewState()
	seeded.AddRepositories([]domain.Repository{{Owner: "o", Name: "r"}})
	seeded.AddCommits("o/r", []string{"sha1"})
	seeded.SetDetail("sha1", detail("sha1", "main.go", 4, 1))
	seeded.MarkSHAComplete("o/r")
	require.NoError(t, backend.Save(context.Background(), "alice", seeded))

	// A nil source would panic on any remote call.
	opts := Options{User: "alice", SkipCollection: true}
	stats, err := New(nil, backend, nil, opts).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, stats.Totals, 1)
	assert.Equal(t, 5, stats.Totals[0].Lines)
}

// panicSink blows up on every callback.
type panicSink struct{}

func (panicSink) YearScanned(int, int)       { panic("year") }
func (panicSink) RepoEnumerated(string, int) { panic("repo") }
func (panicSink) DetailProgress(int, int)    { panic("detail") }
func (panicSink) PRCountProgress(int, int)   { panic("pr") }
func (panicSink) AggregateStarting()         { panic("aggregate") }

func TestPanickingSinkDoesNotAbortRun(t *testing.T) {
	src := newFakeSource()
	src.contributed = []domain.Repository{{Owner: "o", Name: "r"}}
	src.commits["o/r"] = []string{"sha1"}
	src.details["sha1"] = detail("sha1", "main.go", 1, 0)
	backend := newFakeBackend()

	stats, err := New(src, backend, panicSink{}, Options{User: "alice", IncludePRs: true}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CommitsProcessed)
}

func TestProgressFlushedDuringDetailPhase(t *testing.T) {
	src := newFakeSource()
	src.contributed = []domain.Repository{{Owner: "o", Name: "r"}}
	shas := make([]string, 12)
	for i := range shas {
		sha := fmt.Sprintf("sha%02d", i)
		shas[i] = sha
		src.details[sha] = detail(sha, "main.go", 1, 0)
	}
	src.commits["o/r"] = shas
	backend := newFakeBackend()

	opts := Options{User: "alice", Concurrency: 4}
	_, err := New(src, backend, nil, opts).Run(context.Background())
	require.NoError(t, err)

	// One save for discovery, one for enumeration, one per settled batch
	// of 4 (12 commits = 3 batches). The final flush is skipped because
	// the last batch already saved.
	assert.Equal(t, 5, backend.saves)

	state, err := backend.Load(context.Background(), "alice")
	require.NoError(t, err)
	for _, sha := range shas {
		_, fetched := state.Detail(sha)
		assert.True(t, fetched, sha)
	}
}
