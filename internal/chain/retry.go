package chain

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/celo-runner/internal/config"
)

// RetryPolicy bounds how often a contract read is attempted.
type RetryPolicy struct {
	// MaxAttempts includes the first call
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// RetryPolicyFromConfig converts the configured retry section.
func RetryPolicyFromConfig(cfg config.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		Multiplier:     cfg.Multiplier,
	}
}

// Backoff returns the delay before the given retry (1-based).
func (p RetryPolicy) Backoff(retry int) time.Duration {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	backoff := float64(p.InitialBackoff) * math.Pow(mult, float64(retry-1))
	if p.MaxBackoff > 0 && backoff > float64(p.MaxBackoff) {
		backoff = float64(p.MaxBackoff)
	}
	return time.Duration(backoff)
}

// Do runs fn until it succeeds, the attempts are exhausted or ctx is done.
// It returns the number of attempts made and the last error.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) (int, error) {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 1; i <= attempts; i++ {
		if err = fn(ctx); err == nil {
			return i, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || i == attempts {
			return i, err
		}

		timer := time.NewTimer(p.Backoff(i))
		select {
		case <-ctx.Done():
			timer.Stop()
			return i, ctx.Err()
		case <-timer.C:
		}
	}
	return attempts, err
}
