package resilience

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/provider-sync/internal/config"
)

// Policy is the retry and breaker pair guarding one upstream source.
type Policy struct {
	Service string
	Retry   RetryConfig
	Breaker *Breaker
}

// NewPolicy builds a Policy from the resilience config section. Zero values
// fall back to the defaults.
func NewPolicy(service string, cfg config.ResilienceConfig) *Policy {
	retry := DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		retry.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.InitialBackoffMS > 0 {
		retry.InitialBackoff = time.Duration(cfg.InitialBackoffMS) * time.Millisecond
	}
	if cfg.MaxBackoffMS > 0 {
		retry.MaxBackoff = time.Duration(cfg.MaxBackoffMS) * time.Millisecond
	}
	if cfg.Multiplier > 0 {
		retry.Multiplier = cfg.Multiplier
	}

	log := zap.L().With(zap.String("component", "resilience"), zap.String("service", service))
	retry.OnRetry = func(attempt int, err error) {
		log.Warn("retrying upstream call", zap.Int("attempt", attempt), zap.Error(err))
	}

	bc := DefaultBreakerConfig()
	if cfg.FailureThreshold > 0 {
		bc.FailureThreshold = cfg.FailureThreshold
	}
	if cfg.ResetTimeoutSecs > 0 {
		bc.ResetTimeout = time.Duration(cfg.ResetTimeoutSecs) * time.Second
	}
	// Quota exhaustion and client errors do not trip the breaker.
	bc.ShouldTrip = func(err error) bool { return IsTransient(err) && !IsRateLimited(err) }
	bc.OnStateChange = func(from, to CircuitState) {
		log.Warn("circuit state change", zap.Stringer("from", from), zap.Stringer("to", to))
	}

	return &Policy{Service: service, Retry: retry, Breaker: NewBreaker(bc)}
}

// Call runs fn through the breaker, retrying transient failures inside it.
func Call[T any](ctx context.Context, p *Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	return Execute(ctx, p.Breaker, func(ctx context.Context) (T, error) {
		return DoVal(ctx, p.Retry, fn)
	})
}
