package llm

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a process-wide sliding-window throttle over both request
// count and estimated input tokens. It is constructed once at startup and
// shared by every provider; sized for a single-process deployment.
type RateLimiter struct {
	mu          sync.Mutex
	maxRequests int
	tokenBudget int
	window      time.Duration

	entries []rateEntry

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

type rateEntry struct {
	at     time.Time
	tokens int
}

func NewRateLimiter(maxRequests int, window time.Duration, tokenBudget int) *RateLimiter {
	return &RateLimiter{
		maxRequests: maxRequests,
		tokenBudget: tokenBudget,
		window:      window,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Acquire blocks until the window has room for one more request carrying
// estTokens of input, then records it.
func (r *RateLimiter) Acquire(ctx context.Context, estTokens int) error {
	for {
		wait := r.tryAcquire(estTokens)
		if wait == 0 {
			return nil
		}
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// tryAcquire records the request and returns 0 when within budget, else the
// duration until the oldest blocking entry leaves the window.
func (r *RateLimiter) tryAcquire(estTokens int) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.prune(now)

	used := 0
	for _, e := range r.entries {
		used += e.tokens
	}

	if len(r.entries) < r.maxRequests && (r.tokenBudget <= 0 || used+estTokens <= r.tokenBudget) {
		r.entries = append(r.entries, rateEntry{at: now, tokens: estTokens})
		return 0
	}

	if len(r.entries) == 0 {
		// A single oversized request; admit it rather than deadlocking.
		r.entries = append(r.entries, rateEntry{at: now, tokens: estTokens})
		return 0
	}

	wait := r.window - now.Sub(r.entries[0].at)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait
}

func (r *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-r.window)
	i := 0
	for ; i < len(r.entries); i++ {
		if r.entries[i].at.After(cutoff) {
			break
		}
	}
	r.entries = r.entries[i:]
}
