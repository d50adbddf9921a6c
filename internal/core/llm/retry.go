package llm

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/examsetu/examsetu/internal/core"
)

// RetryPolicy bounds the backoff loop around transient provider errors.
type RetryPolicy struct {
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, MinDelay: 2 * time.Second, MaxDelay: 60 * time.Second}
}

// retryProvider decorates any provider with exponential backoff on
// rate-limit and server errors. Non-retryable errors propagate untouched.
type retryProvider struct {
	inner  core.LLMProvider
	policy RetryPolicy
	log    *zap.SugaredLogger

	sleep func(context.Context, time.Duration) error
}

// WithRetry wraps a provider in the retry decorator.
func WithRetry(inner core.LLMProvider, policy RetryPolicy, log *zap.SugaredLogger) core.LLMProvider {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	return &retryProvider{inner: inner, policy: policy, log: log, sleep: sleepCtx}
}

var _ core.LLMProvider = (*retryProvider)(nil)

func (r *retryProvider) Name() string { return r.inner.Name() }

func (r *retryProvider) GenerateMCQs(ctx context.Context, req core.GenerateRequest) ([]core.MCQCandidate, core.TokenUsage, error) {
	var (
		cands []core.MCQCandidate
		usage core.TokenUsage
	)
	err := r.do(ctx, "generate", func() error {
		var err error
		cands, usage, err = r.inner.GenerateMCQs(ctx, req)
		return err
	})
	return cands, usage, err
}

func (r *retryProvider) ValidateMCQ(ctx context.Context, c core.MCQCandidate) (string, core.TokenUsage, error) {
	var (
		critique string
		usage    core.TokenUsage
	)
	err := r.do(ctx, "validate", func() error {
		var err error
		critique, usage, err = r.inner.ValidateMCQ(ctx, c)
		return err
	})
	return critique, usage, err
}

func (r *retryProvider) Summarize(ctx context.Context, text string, maxWords int) (string, core.TokenUsage, error) {
	var (
		summary string
		usage   core.TokenUsage
	)
	err := r.do(ctx, "summarize", func() error {
		var err error
		summary, usage, err = r.inner.Summarize(ctx, text, maxWords)
		return err
	})
	return summary, usage, err
}

func (r *retryProvider) do(ctx context.Context, op string, call func() error) error {
	delay := r.policy.MinDelay
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		lastErr = call()
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) || attempt == r.policy.MaxAttempts {
			return lastErr
		}

		wait := jitter(delay)
		r.log.Warnw("transient llm error, backing off",
			"provider", r.inner.Name(), "op", op, "attempt", attempt,
			"wait", wait, "error", lastErr)
		if err := r.sleep(ctx, wait); err != nil {
			return err
		}
		delay *= 2
		if delay > r.policy.MaxDelay {
			delay = r.policy.MaxDelay
		}
	}
	return lastErr
}

// jitter spreads retries of concurrent workers apart by up to 25%.
func jitter(d time.Duration) time.Duration {
	return d + time.Duration(rand.Int63n(int64(d)/4+1))
}

// IsRetryable classifies rate-limit and server-side failures worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"429", "529", "rate limit", "ratelimit", "overloaded",
		"resource exhausted", "resource_exhausted", "quota",
		"500", "502", "503", "504", "internal server", "unavailable",
		"deadline exceeded", "connection reset",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
