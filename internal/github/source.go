// Package github is the remote work source: every query the pipeline needs,
// normalized into domain records and throttled through the rate tracker.
package github

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	gh "github.com/google/go-github/v55/github"
	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"

	"github.com/mkurata/gh-lang-stats/internal/domain"
	apperrors "github.com/mkurata/gh-lang-stats/internal/errors"
	"github.com/mkurata/gh-lang-stats/internal/ratelimit"
)

const (
	pageSize = 100

	// Wait applied when a secondary/abuse limit response carries no
	// Retry-After hint.
	defaultRetryAfter = 60 * time.Second

	// Courtesy pause between year-bucketed discovery queries.
	yearQueryPause = 100 * time.Millisecond
)

// Source defines the remote queries the pipeline depends on.
type Source interface {
	// ResolveIdentity returns the authenticated user's login and opaque
	// node ID. Cached after the first call.
	ResolveIdentity(ctx context.Context) (domain.Identity, error)

	// ListOwnedRepositories pages through every repository the credential
	// has direct access to (owned, collaborator, org member).
	ListOwnedRepositories(ctx context.Context) ([]domain.Repository, error)

	// DiscoverContributedRepositories unions the repositories the user
	// contributed commits to, one bounded query per calendar year from
	// fromYear through the current year. A failed year is logged and
	// skipped. onYear, when non-nil, is invoked after each year's query.
	DiscoverContributedRepositories(ctx context.Context, user string, fromYear int, onYear func(year, found int)) ([]domain.Repository, error)

	// EnumerateAuthoredCommits walks the default-branch history filtered
	// server-side to the given author. On a page error the SHAs gathered
	// so far are returned alongside the error so a future run can resume.
	EnumerateAuthoredCommits(ctx context.Context, repo domain.Repository, authorID string, sinceYear int) ([]string, error)

	// FetchCommitDetail resolves one commit to its detail, or to a
	// tombstone (nil, nil) when the remote reports it unavailable.
	FetchCommitDetail(ctx context.Context, repo domain.Repository, sha string) (*domain.CommitDetail, error)

	// FetchPRCount returns how many PRs the user authored in the repo.
	FetchPRCount(ctx context.Context, repo domain.Repository, username string) (int, error)
}

type client struct {
	rest    *gh.Client
	graphql *githubv4.Client
	tracker *ratelimit.Tracker

	mu       sync.Mutex
	identity *domain.Identity

	sleep func(ctx context.Context, d time.Duration) error
}

// NewSource creates a Source backed by the GitHub REST and GraphQL APIs.
func NewSource(token string, tracker *ratelimit.Tracker) Source {
	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)

	return &client{
		rest:    gh.NewClient(tc),
		graphql: githubv4.NewClient(tc),
		tracker: tracker,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ResolveIdentity resolves and caches the credential's login and node ID.
func (c *client) ResolveIdentity(ctx context.Context) (domain.Identity, error) {
	c.mu.Lock()
	if c.identity != nil {
		id := *c.identity
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	if err := c.tracker.EnsureHeadroom(ctx, ratelimit.DomainBulk); err != nil {
		return domain.Identity{}, err
	}

	user, resp, err := c.rest.Users.Get(ctx, "")
	if err != nil {
		return domain.Identity{}, fmt.Errorf("failed to resolve identity: %w", err)
	}
	c.recordBulk(resp)

	id := domain.Identity{Login: user.GetLogin(), NodeID: user.GetNodeID()}
	c.mu.Lock()
	c.identity = &id
	c.mu.Unlock()
	return id, nil
}

// ListOwnedRepositories retrieves all repositories the credential can reach
// directly, 100 per page, until a short page ends the listing.
func (c *client) ListOwnedRepositories(ctx context.Context) ([]domain.Repository, error) {
	var allRepos []domain.Repository
	opts := &gh.RepositoryListOptions{
		Affiliation: "owner,collaborator,organization_member",
		ListOptions: gh.ListOptions{PerPage: pageSize},
	}

	for {
		if err := c.tracker.EnsureHeadroom(ctx, ratelimit.DomainBulk); err != nil {
			return nil, err
		}

		repos, resp, err := c.rest.Repositories.List(ctx, "", opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list repositories: %w", err)
		}
		c.recordBulk(resp)

		for _, repo := range repos {
			allRepos = append(allRepos, domain.Repository{
				Owner:     repo.GetOwner().GetLogin(),
				Name:      repo.GetName(),
				IsPrivate: repo.GetPrivate(),
			})
		}

		if len(repos) < pageSize || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return allRepos, nil
}

// FetchCommitDetail fetches one commit's file-level stats. Not-found and
// unprocessable responses resolve to a tombstone; a secondary limit is
// waited out once before the fetch is retried exactly once.
func (c *client) FetchCommitDetail(ctx context.Context, repo domain.Repository, sha string) (*domain.CommitDetail, error) {
	detail, retryAfter, err := c.fetchCommitDetailOnce(ctx, repo, sha)
	if err == nil || retryAfter == 0 {
		return detail, err
	}

	if sleepErr := c.sleep(ctx, retryAfter); sleepErr != nil {
		return nil, sleepErr
	}
	detail, _, err = c.fetchCommitDetailOnce(ctx, repo, sha)
	if err != nil {
		return nil, apperrors.NewRetryExhaustedError(
			fmt.Sprintf("commit %s in %s still failing after retry", sha, repo.Key()), err)
	}
	return detail, nil
}

func (c *client) fetchCommitDetailOnce(ctx context.Context, repo domain.Repository, sha string) (*domain.CommitDetail, time.Duration, error) {
	if err := c.tracker.EnsureHeadroom(ctx, ratelimit.DomainBulk); err != nil {
		return nil, 0, err
	}

	commit, resp, err := c.rest.Repositories.GetCommit(ctx, repo.Owner, repo.Name, sha, &gh.ListOptions{})
	if resp != nil {
		c.recordBulk(resp)
	}
	if err != nil {
		if isTombstoneStatus(resp) {
			return nil, 0, nil
		}
		if wait, abuse := abuseRetryAfter(err); abuse {
			return nil, wait, apperrors.NewRateLimitedError(
				fmt.Sprintf("secondary rate limit fetching commit %s in %s: %v", sha, repo.Key(), err))
		}
		return nil, 0, fmt.Errorf("failed to fetch commit %s in %s: %w", sha, repo.Key(), err)
	}

	detail := &domain.CommitDetail{SHA: sha}
	if author := commit.GetCommit().GetAuthor(); author != nil {
		detail.AuthoredAt = author.GetDate().Time
	}
	for _, f := range commit.Files {
		if f == nil {
			continue
		}
		detail.Files = append(detail.Files, domain.FileChange{
			Path:      f.GetFilename(),
			Additions: f.GetAdditions(),
			Deletions: f.GetDeletions(),
			Status:    f.GetStatus(),
		})
	}
	return detail, 0, nil
}

// FetchPRCount issues one search query scoped to the user and repository.
// Same not-found and abuse-limit handling as commit detail fetches.
func (c *client) FetchPRCount(ctx context.Context, repo domain.Repository, username string) (int, error) {
	count, retryAfter, err := c.fetchPRCountOnce(ctx, repo, username)
	if err == nil || retryAfter == 0 {
		return count, err
	}

	if sleepErr := c.sleep(ctx, retryAfter); sleepErr != nil {
		return 0, sleepErr
	}
	count, _, err = c.fetchPRCountOnce(ctx, repo, username)
	if err != nil {
		return 0, apperrors.NewRetryExhaustedError(
			fmt.Sprintf("PR count for %s still failing after retry", repo.Key()), err)
	}
	return count, nil
}

func (c *client) fetchPRCountOnce(ctx context.Context, repo domain.Repository, username string) (int, time.Duration, error) {
	if err := c.tracker.EnsureHeadroom(ctx, ratelimit.DomainSearch); err != nil {
		return 0, 0, err
	}

	query := fmt.Sprintf("author:%s type:pr repo:%s", username, repo.Key())
	result, resp, err := c.rest.Search.Issues(ctx, query, &gh.SearchOptions{
		ListOptions: gh.ListOptions{PerPage: 1},
	})
	if resp != nil {
		// The search endpoint reports remaining/reset for its own window;
		// the ceiling stays the fixed 30-per-minute policy.
		c.tracker.Record(ratelimit.DomainSearch, 0, resp.Rate.Remaining, resp.Rate.Reset.Time)
	}
	if err != nil {
		if isTombstoneStatus(resp) {
			return 0, 0, nil
		}
		if wait, abuse := abuseRetryAfter(err); abuse {
			return 0, wait, apperrors.NewRateLimitedError(
				fmt.Sprintf("secondary rate limit searching PRs in %s: %v", repo.Key(), err))
		}
		return 0, 0, fmt.Errorf("failed to search PRs in %s: %w", repo.Key(), err)
	}
	return result.GetTotal(), 0, nil
}

func (c *client) recordBulk(resp *gh.Response) {
	if resp != nil && resp.Rate.Remaining >= 0 {
		c.tracker.Record(ratelimit.DomainBulk, resp.Rate.Limit, resp.Rate.Remaining, resp.Rate.Reset.Time)
	}
}

// isTombstoneStatus reports whether a response status means the unit is
// permanently unavailable rather than failed.
func isTombstoneStatus(resp *gh.Response) bool {
	if resp == nil {
		return false
	}
	return resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnprocessableEntity
}

// abuseRetryAfter extracts the server-indicated wait from a secondary rate
// limit error, falling back to the default when none is given.
func abuseRetryAfter(err error) (time.Duration, bool) {
	if abuseErr, ok := err.(*gh.AbuseRateLimitError); ok {
		if abuseErr.RetryAfter != nil {
			return *abuseErr.RetryAfter, true
		}
		return defaultRetryAfter, true
	}
	if strings.Contains(err.Error(), "secondary rate limit") {
		return defaultRetryAfter, true
	}
	return 0, false
}

// logf keeps skipped-unit warnings going somewhere visible without pulling a
// logger dependency through every call site.
func logf(format string, args ...interface{}) {
	log.Printf(format, args...)
}
