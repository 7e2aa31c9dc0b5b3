package github

import (
	"context"
	"fmt"
	"time"

	"github.com/shurcooL/githubv4"

	"github.com/mkurata/gh-lang-stats/internal/domain"
	"github.com/mkurata/gh-lang-stats/internal/ratelimit"
)

type contributionRepo struct {
	Owner struct {
		Login githubv4.String
	}
	Name      githubv4.String
	IsPrivate githubv4.Boolean
}

// rateLimitInfo mirrors the rateLimit query field. The GraphQL API reports
// quota through this field rather than response headers, so every query
// selects it and feeds the tracker from it.
type rateLimitInfo struct {
	Limit     githubv4.Int
	Remaining githubv4.Int
	ResetAt   githubv4.DateTime
}

type contributionsQuery struct {
	User struct {
		ContributionsCollection struct {
			CommitContributionsByRepository []struct {
				Repository contributionRepo
			} `graphql:"commitContributionsByRepository(maxRepositories: 100)"`
		} `graphql:"contributionsCollection(from: $from, to: $to)"`
	} `graphql:"user(login: $login)"`
	RateLimit rateLimitInfo
}

type historyQuery struct {
	Repository struct {
		DefaultBranchRef struct {
			Target struct {
				Commit struct {
					History struct {
						PageInfo struct {
							HasNextPage githubv4.Boolean
							EndCursor   githubv4.String
						}
						Nodes []struct {
							Oid githubv4.String
						}
					} `graphql:"history(first: 100, after: $cursor, author: $author, since: $since)"`
				} `graphql:"... on Commit"`
			}
		}
	} `graphql:"repository(owner: $owner, name: $name)"`
	RateLimit rateLimitInfo
}

func (c *client) recordGraphQLBudget(rl rateLimitInfo) {
	c.tracker.Record(ratelimit.DomainBulk, int(rl.Limit), int(rl.Remaining), rl.ResetAt.Time)
}

// DiscoverContributedRepositories scans one calendar year at a time, from
// fromYear through the current year, and unions the repositories the user
// committed to. A single year's failure is logged and skipped; it does not
// abort the scan. The short pause between years is a courtesy toward the
// provider, not a hard rate requirement.
func (c *client) DiscoverContributedRepositories(ctx context.Context, user string, fromYear int, onYear func(year, found int)) ([]domain.Repository, error) {
	var repos []domain.Repository
	seen := make(map[string]bool)
	currentYear := time.Now().UTC().Year()

	for year := fromYear; year <= currentYear; year++ {
		if err := c.tracker.EnsureHeadroom(ctx, ratelimit.DomainBulk); err != nil {
			return repos, err
		}

		var q contributionsQuery
		variables := map[string]interface{}{
			"login": githubv4.String(user),
			"from":  githubv4.DateTime{Time: time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)},
			"to":    githubv4.DateTime{Time: time.Date(year, 12, 31, 23, 59, 59, 0, time.UTC)},
		}

		if err := c.graphql.Query(ctx, &q, variables); err != nil {
			if ctx.Err() != nil {
				return repos, ctx.Err()
			}
			logf("Warning: contribution scan for %d failed, skipping year: %v", year, err)
			continue
		}
		c.recordGraphQLBudget(q.RateLimit)

		found := 0
		for _, node := range q.User.ContributionsCollection.CommitContributionsByRepository {
			repo := domain.Repository{
				Owner:     string(node.Repository.Owner.Login),
				Name:      string(node.Repository.Name),
				IsPrivate: bool(node.Repository.IsPrivate),
			}
			if seen[repo.Key()] {
				continue
			}
			seen[repo.Key()] = true
			repos = append(repos, repo)
			found++
		}

		if onYear != nil {
			onYear(year, found)
		}

		if year < currentYear {
			if err := c.sleep(ctx, yearQueryPause); err != nil {
				return repos, err
			}
		}
	}

	return repos, nil
}

// EnumerateAuthoredCommits walks the default-branch history filtered
// server-side to commits authored by the given node ID, 100 per page. A page
// error returns the SHAs gathered so far together with the error; the caller
// keeps the partial result and retries in a future run.
func (c *client) EnumerateAuthoredCommits(ctx context.Context, repo domain.Repository, authorID string, sinceYear int) ([]string, error) {
	var shas []string

	id := githubv4.ID(authorID)
	var since *githubv4.GitTimestamp
	if sinceYear > 0 {
		since = &githubv4.GitTimestamp{Time: time.Date(sinceYear, 1, 1, 0, 0, 0, 0, time.UTC)}
	}

	var cursor *githubv4.String
	for {
		if err := c.tracker.EnsureHeadroom(ctx, ratelimit.DomainBulk); err != nil {
			return shas, err
		}

		var q historyQuery
		variables := map[string]interface{}{
			"owner":  githubv4.String(repo.Owner),
			"name":   githubv4.String(repo.Name),
			"author": githubv4.CommitAuthor{ID: &id},
			"since":  since,
			"cursor": cursor,
		}

		if err := c.graphql.Query(ctx, &q, variables); err != nil {
			return shas, fmt.Errorf("history page for %s failed: %w", repo.Key(), err)
		}
		c.recordGraphQLBudget(q.RateLimit)

		history := q.Repository.DefaultBranchRef.Target.Commit.History
		for _, node := range history.Nodes {
			shas = append(shas, string(node.Oid))
		}

		if !history.PageInfo.HasNextPage {
			break
		}
		cursor = &history.PageInfo.EndCursor
	}

	return shas, nil
}
