// internal/llmclient/factory.go
package llmclient

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/settings-crawler/internal/config"
)

// NewClassifier creates the configured classifier wrapped in a rate limiter.
// It returns nil, nil when classification is disabled.
func NewClassifier(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (Classifier, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	var (
		inner Classifier
		err   error
	)
	switch cfg.Provider {
	case config.ProviderGemini:
		inner, err = NewGeminiClient(cfg, logger)
	case config.ProviderGenAI:
		inner, err = NewGenAIClient(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown or unsupported LLM provider configured: '%s'. Supported: [%s, %s]",
			cfg.Provider, config.ProviderGemini, config.ProviderGenAI)
	}
	if err != nil {
		return nil, err
	}
	return NewRateLimited(inner, cfg.RateLimit), nil
}

// RateLimited spaces out calls to an underlying classifier.
type RateLimited struct {
	next    Classifier
	limiter *rate.Limiter
}

// NewRateLimited allows perSecond calls per second with a burst of one.
// A non-positive rate disables limiting.
func NewRateLimited(next Classifier, perSecond float64) *RateLimited {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, 1)}
}

// Classify waits for a token, then delegates.
func (r *RateLimited) Classify(ctx context.Context, text string) (Classification, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Classification{}, fmt.Errorf("rate limiter: %w", err)
	}
	return r.next.Classify(ctx, text)
}

// Categorize waits for a token, then delegates when the wrapped classifier
// can categorize controls.
func (r *RateLimited) Categorize(ctx context.Context, label string, categories []string) (Classification, error) {
	cat, ok := r.next.(ControlCategorizer)
	if !ok {
		return Classification{}, ErrCategorizeUnsupported
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return Classification{}, fmt.Errorf("rate limiter: %w", err)
	}
	return cat.Categorize(ctx, label, categories)
}
