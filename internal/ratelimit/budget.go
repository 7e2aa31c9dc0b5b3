// Package ratelimit tracks the two independent GitHub quota domains: the
// bulk budget shared by GraphQL and most REST calls, and the much narrower
// search budget used only for PR-count lookups.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Domain identifies one independently rate-limited API budget.
type Domain string

const (
	DomainBulk   Domain = "bulk"
	DomainSearch Domain = "search"
)

const (
	defaultBulkCeiling = 5000
	bulkReserve        = 100
	bulkWindow         = time.Hour

	searchCeiling = 30
	searchReserve = 2
	searchWindow  = 60 * time.Second
	// Fixed inter-request pacing for the search domain. Policy, not a
	// measured throttle.
	searchPacing = 2 * time.Second

	safetyMargin = 5 * time.Second
	minWait      = 5 * time.Second
)

type budget struct {
	ceiling   int
	remaining int
	reset     time.Time
	reserve   int
	window    time.Duration
}

// Tracker holds the per-domain counters. It is the only state mutated from
// concurrently in-flight calls; every method serializes through one mutex.
// Last-observed-header-wins: Record overwrites, never averages.
type Tracker struct {
	mu      sync.Mutex
	budgets map[Domain]*budget
	pacer   *rate.Limiter // search domain only

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewTracker creates a tracker seeded with GitHub's default ceilings. The
// bulk ceiling is provisional until the first response overwrites it.
func NewTracker() *Tracker {
	t := &Tracker{
		budgets: map[Domain]*budget{
			DomainBulk: {
				ceiling:   defaultBulkCeiling,
				remaining: defaultBulkCeiling,
				reserve:   bulkReserve,
				window:    bulkWindow,
			},
			DomainSearch: {
				ceiling:   searchCeiling,
				remaining: searchCeiling,
				reserve:   searchReserve,
				window:    searchWindow,
			},
		},
		pacer: rate.NewLimiter(rate.Every(searchPacing), 1),
		now:   time.Now,
		sleep: sleepCtx,
	}
	t.budgets[DomainBulk].reset = t.now().Add(bulkWindow)
	t.budgets[DomainSearch].reset = t.now().Add(searchWindow)
	return t
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

// Record overwrites the tracked state for a domain with the latest observed
// header values. A non-positive ceiling keeps the current one (the search
// endpoint reports remaining/reset but its ceiling is a fixed policy).
func (t *Tracker) Record(domain Domain, ceiling, remaining int, reset time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	b, ok := t.budgets[domain]
	if !ok {
		return
	}
	if ceiling > 0 {
		b.ceiling = ceiling
	}
	if remaining >= 0 {
		b.remaining = remaining
	}
	if !reset.IsZero() {
		b.reset = reset
	}
}

// Remaining returns the last observed remaining count for a domain.
func (t *Tracker) Remaining(domain Domain) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.budgets[domain]; ok {
		return b.remaining
	}
	return 0
}

// EnsureHeadroom blocks until the domain has budget above its reserve. The
// reserve keeps the account usable for other concurrent consumers after this
// tool exits, instead of racing the quota to zero. The search domain
// additionally enforces its fixed inter-request pacing.
func (t *Tracker) EnsureHeadroom(ctx context.Context, domain Domain) error {
	t.mu.Lock()
	b, ok := t.budgets[domain]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("unknown rate limit domain %q", domain)
	}

	if b.remaining <= b.reserve {
		wait := b.reset.Sub(t.now()) + safetyMargin
		if wait < minWait {
			wait = minWait
		}
		t.mu.Unlock()
		if err := t.sleep(ctx, wait); err != nil {
			return err
		}
		t.mu.Lock()
		// The window rolled over while we slept; assume a fresh budget
		// until the next response corrects us.
		b.remaining = b.ceiling
		b.reset = t.now().Add(b.window)
	}
	t.mu.Unlock()

	if domain == DomainSearch {
		return t.pacer.Wait(ctx)
	}
	return nil
}
