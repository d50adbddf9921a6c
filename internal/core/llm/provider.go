package llm

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/examsetu/examsetu/internal/config"
	"github.com/examsetu/examsetu/internal/core"
)

// BuildProviders selects the primary and fallback providers once at startup
// from configuration and key presence, both wrapped with the retry decorator
// and sharing one request throttle.
func BuildProviders(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (primary, fallback core.LLMProvider, limiter *RateLimiter, err error) {
	limiter = NewRateLimiter(
		cfg.RateLimitRequests,
		time.Duration(cfg.RateLimitWindowSec)*time.Second,
		cfg.RateLimitTokens,
	)
	policy := RetryPolicy{
		MaxAttempts: cfg.LLMMaxRetries,
		MinDelay:    time.Duration(cfg.LLMMinBackoffMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.LLMMaxBackoffMs) * time.Millisecond,
	}

	switch cfg.LLMProvider {
	case "mock":
		return WithRetry(MockProvider{}, policy, log), nil, limiter, nil
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, nil, nil, fmt.Errorf("LLM_PROVIDER=openai but OPENAI_API_KEY not set")
		}
		primary = NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.FallbackModel, limiter)
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			log.Warn("GEMINI_API_KEY not set, falling back to the mock provider")
			return WithRetry(MockProvider{}, policy, log), nil, limiter, nil
		}
		g, gerr := NewGeminiProvider(ctx, cfg.GeminiAPIKey, cfg.GenModel, cfg.ValidateModel, limiter)
		if gerr != nil {
			return nil, nil, nil, fmt.Errorf("gemini provider: %w", gerr)
		}
		primary = g
	default:
		return nil, nil, nil, fmt.Errorf("unknown LLM_PROVIDER %q", cfg.LLMProvider)
	}

	primary = WithRetry(primary, policy, log)

	// A second vendor with a configured key becomes the all-workers-failed
	// fallback.
	if cfg.LLMProvider == "gemini" && cfg.OpenAIAPIKey != "" {
		fallback = WithRetry(NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.FallbackModel, limiter), policy, log)
	}
	return primary, fallback, limiter, nil
}
