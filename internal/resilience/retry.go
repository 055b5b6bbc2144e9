package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// RetryConfig controls how store writes are retried when the database
// reports contention.
type RetryConfig struct {
	MaxAttempts    int           // total attempts, first included
	InitialBackoff time.Duration // wait before the second attempt
	MaxBackoff     time.Duration
	Multiplier     float64
	Jitter         float64 // fraction of each wait randomised in both directions

	// Retryable overrides IsTransient.
	Retryable func(err error) bool
	// OnRetry runs before each wait with the 1-based retry number.
	OnRetry func(retry int, err error)
}

// DefaultRetryConfig favours short waits: a busy SQLite file or a
// serialization failure clears in milliseconds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    4,
		InitialBackoff: 25 * time.Millisecond,
		MaxBackoff:     time.Second,
		Multiplier:     2.0,
		Jitter:         0.25,
	}
}

// Do runs fn until it succeeds, returns a permanent error, runs out of
// attempts or ctx is done. The last error from fn is returned.
func Do(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	_, err := DoVal(ctx, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoVal is Do for functions that produce a value.
func DoVal[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.withDefaults()

	var (
		val T
		err error
	)
	for attempt := 0; ; attempt++ {
		if val, err = fn(ctx); err == nil {
			return val, nil
		}
		if attempt+1 >= cfg.MaxAttempts || ctx.Err() != nil || !cfg.Retryable(err) {
			var zero T
			return zero, err
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt+1, err)
		}
		if !sleep(ctx, cfg.delay(attempt)) {
			var zero T
			return zero, err
		}
	}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c RetryConfig) withDefaults() RetryConfig {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = def.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.Multiplier <= 0 {
		c.Multiplier = def.Multiplier
	}
	c.Jitter = math.Max(c.Jitter, 0)
	if c.Retryable == nil {
		c.Retryable = IsTransient
	}
	return c
}

// delay is the wait after the given 0-based attempt.
func (c RetryConfig) delay(attempt int) time.Duration {
	d := math.Min(float64(c.InitialBackoff)*math.Pow(c.Multiplier, float64(attempt)), float64(c.MaxBackoff))
	if c.Jitter > 0 {
		d *= 1 + c.Jitter*(2*rand.Float64()-1)
	}
	return time.Duration(math.Max(d, 0))
}

// RetryLogger logs each retry of a store operation.
func RetryLogger(backend, op string) func(int, error) {
	return func(retry int, err error) {
		zap.L().Warn("store: retrying after transient error",
			zap.String("backend", backend),
			zap.String("op", op),
			zap.Int("retry", retry),
			zap.Error(err),
		)
	}
}
