package fanout

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type query struct {
	Subtopic string
	Text     string
}

func units() []Unit[string, query] {
	return []Unit[string, query]{
		{Key: "pricing", Payload: query{"pricing", "q1"}},
		{Key: "latency", Payload: query{"latency", "q2"}},
		{Key: "pricing", Payload: query{"pricing", "q3"}},
		{Key: "latency", Payload: query{"latency", "q4"}},
		{Key: "support", Payload: query{"support", "q5"}},
	}
}

func TestRunGroupsInFirstAppearanceOrder(t *testing.T) {
	groups := Run(context.Background(), Config{}, "search", units(), func(_ context.Context, q query) (string, error) {
		return "r-" + q.Text, nil
	})

	require.Len(t, groups, 3)
	assert.Equal(t, "pricing", groups[0].Key)
	assert.Equal(t, "latency", groups[1].Key)
	assert.Equal(t, "support", groups[2].Key)
	assert.Equal(t, "r-q1", groups[0].Outcomes[0].Result)
	assert.Equal(t, "r-q3", groups[0].Outcomes[1].Result)
	assert.Equal(t, "r-q4", groups[1].Outcomes[1].Result)
}

func TestRunIsIndependentOfCompletionOrder(t *testing.T) {
	render := func(seed int64) string {
		rng := rand.New(rand.NewSource(seed))
		delays := make([]time.Duration, 5)
		for i := range delays {
			delays[i] = time.Duration(rng.Intn(20)) * time.Millisecond
		}
		groups := Run(context.Background(), Config{}, "search", units(), func(_ context.Context, q query) (string, error) {
			var idx int
			_, _ = fmt.Sscanf(q.Text, "q%d", &idx)
			time.Sleep(delays[idx-1])
			return "r-" + q.Text, nil
		})
		return fmt.Sprintf("%+v", groups)
	}

	first := render(1)
	for seed := int64(2); seed < 8; seed++ {
		assert.Equal(t, first, render(seed))
	}
}

func TestRunContainsPartialFailure(t *testing.T) {
	groups := Run(context.Background(), Config{}, "search", units(), func(_ context.Context, q query) (string, error) {
		if q.Text == "q3" {
			return "ignored", errors.New("search backend timeout")
		}
		return "r-" + q.Text, nil
	})

	pricing := groups[0].Outcomes
	assert.NoError(t, pricing[0].Err)
	assert.Equal(t, "r-q1", pricing[0].Result)
	assert.True(t, pricing[1].Failed())
	assert.Empty(t, pricing[1].Result)
	assert.Equal(t, "q3", pricing[1].Payload.Text)
	assert.NoError(t, groups[1].Outcomes[0].Err)
}

func TestMapRecoversPanics(t *testing.T) {
	out := Map(context.Background(), Config{}, "summary", []int{1, 2, 3}, func(_ context.Context, n int) (int, error) {
		if n == 2 {
			panic("bad unit")
		}
		return n * 10, nil
	})
	require.Len(t, out, 3)
	assert.Equal(t, 10, out[0].Result)
	var pe *PanicError
	require.ErrorAs(t, out[1].Err, &pe)
	assert.Equal(t, "bad unit", pe.Value)
	assert.Equal(t, 30, out[2].Result)
}

func TestMapHonoursConcurrencyLimit(t *testing.T) {
	var inFlight, peak int32
	payloads := make([]int, 12)
	Map(context.Background(), Config{MaxConcurrency: 3}, "search", payloads, func(context.Context, int) (struct{}, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return struct{}{}, nil
	})
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestMapEmpty(t *testing.T) {
	out := Map(context.Background(), Config{}, "search", nil, func(context.Context, int) (int, error) {
		t.Fatal("should not be called")
		return 0, nil
	})
	assert.Empty(t, out)
}
