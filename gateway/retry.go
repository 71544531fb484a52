package gateway

import (
	"context"
	"log/slog"
	"time"
)

// RetryConfig bounds the exponential backoff applied to transient
// submission failures.
type RetryConfig struct {
	InitialDelay time.Duration `toml:"initial_delay"`
	MaxDelay     time.Duration `toml:"max_delay"`
	Factor       float64       `toml:"factor"`
	MaxAttempts  int           `toml:"max_attempts"`
}

// DefaultRetryConfig is used for zero fields of a RetryConfig.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Factor:       2.0,
		MaxAttempts:  5,
	}
}

type retrier struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	factor       float64
	maxAttempts  int
	logger       *slog.Logger
}

func newRetrier(conf RetryConfig, logger *slog.Logger) *retrier {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultRetryConfig()
	r := &retrier{
		initialDelay: conf.InitialDelay,
		maxDelay:     conf.MaxDelay,
		factor:       conf.Factor,
		maxAttempts:  conf.MaxAttempts,
		logger:       logger,
	}
	if r.initialDelay <= 0 {
		r.initialDelay = def.InitialDelay
	}
	if r.maxDelay <= 0 {
		r.maxDelay = def.MaxDelay
	}
	if r.factor < 1.0 {
		r.factor = def.Factor
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = def.MaxAttempts
	}
	return r
}

// do invokes fn until it succeeds, reports the failure as not retryable,
// or MaxAttempts is reached.
func (r *retrier) do(ctx context.Context, fn func(attempt int) (retryable bool, err error)) error {
	attempt := 0
	for {
		attempt++
		retry, err := fn(attempt)
		if err == nil || !retry || attempt >= r.maxAttempts {
			return err
		}
		r.logger.Warn("transient submission failure", "attempt", attempt, "err", err)
		if err := r.wait(ctx, attempt); err != nil {
			return err
		}
	}
}

func (r *retrier) delay(failures int) time.Duration {
	d := r.initialDelay
	for i := 0; i < failures-1; i++ {
		d = time.Duration(float64(d) * r.factor)
		if d > r.maxDelay {
			return r.maxDelay
		}
	}
	return d
}

func (r *retrier) wait(ctx context.Context, failures int) error {
	t := time.NewTimer(r.delay(failures))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
