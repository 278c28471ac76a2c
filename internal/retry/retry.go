// Package retry wraps fallible capability calls with exponential backoff.
//
// Every error is treated as retryable. There is no jitter: the delay before
// attempt n+1 is InitialDelay * BackoffFactor^(n-1).
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/deepresearch/internal/metrics"
)

// Policy controls how many times a call is retried and how long to wait.
type Policy struct {
	MaxRetries    int           `mapstructure:"max_retries" json:"max_retries"`
	InitialDelay  time.Duration `mapstructure:"initial_delay" json:"initial_delay"`
	BackoffFactor float64       `mapstructure:"backoff_factor" json:"backoff_factor"`
}

// DefaultPolicy mirrors the values used across all research stages.
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 2, InitialDelay: time.Second, BackoffFactor: 2.0}
}

// Validate rejects policies that would never terminate or shrink the delay.
func (p Policy) Validate() error {
	if p.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", p.MaxRetries)
	}
	if p.InitialDelay < 0 {
		return fmt.Errorf("initial_delay must be >= 0, got %s", p.InitialDelay)
	}
	if p.BackoffFactor < 1 {
		return fmt.Errorf("backoff_factor must be >= 1, got %v", p.BackoffFactor)
	}
	return nil
}

// Attempts is the total number of invocations the policy allows.
func (p Policy) Attempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retryer applies a Policy to arbitrary calls.
type Retryer struct {
	policy Policy
	logger *zap.Logger
	sleep  Sleeper
}

// New creates a Retryer. A nil logger is replaced with a no-op logger.
func New(policy Policy, logger *zap.Logger) *Retryer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retryer{policy: policy, logger: logger, sleep: sleepContext}
}

// WithSleeper returns a copy of r that waits with s. Used by tests to avoid
// real delays.
func (r *Retryer) WithSleeper(s Sleeper) *Retryer {
	cp := *r
	cp.sleep = s
	return &cp
}

// Policy returns the configured policy.
func (r *Retryer) Policy() Policy { return r.policy }

// Do runs fn until it succeeds or the policy is exhausted. The returned error
// is the last error fn produced, unwrapped. If ctx ends while waiting between
// attempts, the last error is joined with the context error.
func (r *Retryer) Do(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	attempts := r.policy.Attempts()
	delay := r.policy.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.Info("Call succeeded after retry",
					zap.String("operation", name),
					zap.Int("attempt", attempt),
				)
			}
			return nil
		}
		lastErr = err

		if attempt == attempts {
			break
		}

		metrics.RetryAttempts.WithLabelValues(name).Inc()
		r.logger.Warn("Call failed, retrying",
			zap.String("operation", name),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		if serr := r.sleep(ctx, delay); serr != nil {
			return errors.Join(lastErr, serr)
		}
		delay = time.Duration(float64(delay) * r.policy.BackoffFactor)
	}

	metrics.RetryExhausted.WithLabelValues(name).Inc()
	r.logger.Error("All retry attempts failed",
		zap.String("operation", name),
		zap.Int("attempts", attempts),
		zap.Error(lastErr),
	)
	return lastErr
}

// Do is the value-returning form of Retryer.Do.
func Do[T any](ctx context.Context, r *Retryer, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Do(ctx, name, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
