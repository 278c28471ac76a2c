package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordedSleeps struct {
	delays []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func TestDoExhaustsAndReturnsLastError(t *testing.T) {
	rec := &recordedSleeps{}
	r := New(Policy{MaxRetries: 2, InitialDelay: time.Second, BackoffFactor: 2}, zap.NewNop()).WithSleeper(rec.sleep)

	boom := errors.New("upstream unavailable")
	calls := 0
	err := r.Do(context.Background(), "search", func(context.Context) error {
		calls++
		return boom
	})

	assert.Equal(t, 3, calls)
	assert.Same(t, boom, err)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, rec.delays)
}

func TestDoReturnsLastNotFirstError(t *testing.T) {
	rec := &recordedSleeps{}
	r := New(Policy{MaxRetries: 1, InitialDelay: time.Millisecond, BackoffFactor: 1}, nil).WithSleeper(rec.sleep)

	errs := []error{errors.New("first"), errors.New("second")}
	calls := 0
	err := r.Do(context.Background(), "draft", func(context.Context) error {
		e := errs[calls]
		calls++
		return e
	})
	assert.Equal(t, 2, calls)
	assert.EqualError(t, err, "second")
}

func TestDoStopsOnSuccess(t *testing.T) {
	rec := &recordedSleeps{}
	r := New(DefaultPolicy(), zap.NewNop()).WithSleeper(rec.sleep)

	got, err := Do(context.Background(), r, "plan", func(context.Context) (string, error) {
		if len(rec.delays) == 0 {
			return "", errors.New("rate limited")
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
	assert.Len(t, rec.delays, 1)
}

func TestDoZeroRetriesCallsOnce(t *testing.T) {
	r := New(Policy{MaxRetries: 0, BackoffFactor: 1}, zap.NewNop())
	calls := 0
	err := r.Do(context.Background(), "review", func(context.Context) error {
		calls++
		return errors.New("nope")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := New(Policy{MaxRetries: 3, InitialDelay: time.Hour, BackoffFactor: 2}, zap.NewNop())

	boom := errors.New("boom")
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- r.Do(ctx, "summarize", func(context.Context) error {
			calls++
			return boom
		})
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, boom)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(5 * time.Second):
		t.Fatal("retry did not observe cancellation")
	}
}

func TestPolicyValidate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())
	assert.Error(t, Policy{MaxRetries: -1, BackoffFactor: 2}.Validate())
	assert.Error(t, Policy{MaxRetries: 1, BackoffFactor: 0.5}.Validate())
	assert.Error(t, Policy{MaxRetries: 1, InitialDelay: -time.Second, BackoffFactor: 2}.Validate())
}
