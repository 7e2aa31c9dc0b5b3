package github

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	gh "github.com/google/go-github/v55/github"
	"github.com/shurcooL/githubv4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkurata/gh-lang-stats/internal/domain"
	apperrors "github.com/mkurata/gh-lang-stats/internal/errors"
	"github.com/mkurata/gh-lang-stats/internal/ratelimit"
)

// newTestClient points both API clients at a local server. The injected sleep
// records every wait; it still sleeps for real (plus a small cushion) because
// go-github refuses to re-issue requests until a secondary-limit window has
// actually passed.
func newTestClient(t *testing.T, handler http.Handler) (*client, *[]time.Duration) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	rest := gh.NewClient(server.Client())
	base, err := url.Parse(server.URL + "/")
	require.NoError(t, err)
	rest.BaseURL = base

	slept := &[]time.Duration{}
	return &client{
		rest:    rest,
		graphql: githubv4.NewEnterpriseClient(server.URL+"/graphql", server.Client()),
		tracker: ratelimit.NewTracker(),
		sleep: func(_ context.Context, d time.Duration) error {
			*slept = append(*slept, d)
			time.Sleep(d + 100*time.Millisecond)
			return nil
		},
	}, slept
}

func writeRateHeaders(w http.ResponseWriter, remaining int) {
	w.Header().Set("X-Ratelimit-Limit", "5000")
	w.Header().Set("X-Ratelimit-Remaining", strconv.Itoa(remaining))
	w.Header().Set("X-Ratelimit-Reset", strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10))
}

const secondaryLimitBody = `{"message":"You have exceeded a secondary rate limit. Please wait a few minutes before you try again.","documentation_url":"https://docs.github.com/rest/overview/resources-in-the-rest-api#secondary-rate-limits"}`

func TestFetchCommitDetailTombstoneOn404(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeRateHeaders(w, 4999)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"message":"Not Found"}`)
	})
	c, slept := newTestClient(t, handler)

	detail, err := c.FetchCommitDetail(context.Background(), domain.Repository{Owner: "o", Name: "r"}, "deadbeef")
	require.NoError(t, err)
	assert.Nil(t, detail)
	assert.Empty(t, *slept)

	// Headers on the error response still feed the tracker.
	assert.Equal(t, 4999, c.tracker.Remaining(ratelimit.DomainBulk))
}

func TestFetchCommitDetailTombstoneOn422(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeRateHeaders(w, 4998)
		w.WriteHeader(http.StatusUnprocessableEntity)
		fmt.Fprint(w, `{"message":"No commit found for SHA"}`)
	})
	c, _ := newTestClient(t, handler)

	detail, err := c.FetchCommitDetail(context.Background(), domain.Repository{Owner: "o", Name: "r"}, "deadbeef")
	require.NoError(t, err)
	assert.Nil(t, detail)
}

func TestFetchCommitDetailRetriesSecondaryLimitOnce(t *testing.T) {
	calls := 0
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		writeRateHeaders(w, 4000)
		if calls == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusForbidden)
			fmt.Fprint(w, secondaryLimitBody)
			return
		}
		fmt.Fprint(w, `{"sha":"deadbeef","commit":{"author":{"date":"2023-05-01T10:00:00Z"}},"files":[{"filename":"main.go","additions":3,"deletions":1,"status":"modified"}]}`)
	})
	c, slept := newTestClient(t, handler)

	detail, err := c.FetchCommitDetail(context.Background(), domain.Repository{Owner: "o", Name: "r"}, "deadbeef")
	require.NoError(t, err)
	require.NotNil(t, detail)
	assert.Equal(t, "deadbeef", detail.SHA)
	require.Len(t, detail.Files, 1)
	assert.Equal(t, 3, detail.Files[0].Additions)
	assert.Equal(t, 1, detail.Files[0].Deletions)

	assert.Equal(t, 2, calls)
	assert.Equal(t, []time.Duration{time.Second}, *slept)
}

func TestFetchCommitDetailRetryExhausted(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeRateHeaders(w, 4000)
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, secondaryLimitBody)
	})
	c, slept := newTestClient(t, handler)

	_, err := c.FetchCommitDetail(context.Background(), domain.Repository{Owner: "o", Name: "r"}, "deadbeef")
	require.Error(t, err)

	appErr, ok := err.(*apperrors.AppError)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeRetryExhausted, appErr.Code)
	assert.True(t, apperrors.IsRateLimited(appErr.Err))

	// Exactly one wait: the single allowed retry, then give up.
	assert.Equal(t, []time.Duration{time.Second}, *slept)
}

func TestEnumerateAuthoredCommitsRecordsGraphQLBudget(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"repository":{"defaultBranchRef":{"target":{"history":{"pageInfo":{"hasNextPage":false,"endCursor":""},"nodes":[{"oid":"abc123"},{"oid":"def456"}]}}}},"rateLimit":{"limit":5000,"remaining":4200,"resetAt":"2026-08-27T12:00:00Z"}}}`)
	})
	c, _ := newTestClient(t, mux)

	shas, err := c.EnumerateAuthoredCommits(context.Background(), domain.Repository{Owner: "o", Name: "r"}, "node-id", 2020)
	require.NoError(t, err)
	assert.Equal(t, []string{"abc123", "def456"}, shas)

	// The GraphQL rateLimit field feeds the bulk budget.
	assert.Equal(t, 4200, c.tracker.Remaining(ratelimit.DomainBulk))
}

func TestDiscoverContributedRepositoriesRecordsGraphQLBudget(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":{"user":{"contributionsCollection":{"commitContributionsByRepository":[{"repository":{"owner":{"login":"o"},"name":"r","isPrivate":true}}]}},"rateLimit":{"limit":5000,"remaining":4321,"resetAt":"2026-08-27T12:00:00Z"}}}`)
	})
	c, _ := newTestClient(t, mux)

	var scannedYears []int
	fromYear := time.Now().UTC().Year()
	repos, err := c.DiscoverContributedRepositories(context.Background(), "alice", fromYear,
		func(year, found int) {
			scannedYears = append(scannedYears, year)
			assert.Equal(t, 1, found)
		})
	require.NoError(t, err)

	require.Len(t, repos, 1)
	assert.Equal(t, "o/r", repos[0].Key())
	assert.True(t, repos[0].IsPrivate)
	assert.Equal(t, []int{fromYear}, scannedYears)
	assert.Equal(t, 4321, c.tracker.Remaining(ratelimit.DomainBulk))
}
