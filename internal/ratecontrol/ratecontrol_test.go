package ratecontrol

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayForRequest(t *testing.T) {
	limit := RateLimit{RPM: 30, TPM: 60000}
	assert.Equal(t, 2*time.Second, DelayForRequest(limit, 1000))
	assert.Equal(t, 60*time.Second, DelayForRequest(limit, 10_000_000))
	assert.Zero(t, DelayForRequest(RateLimit{}, 1000))
}

func TestCombineLimits(t *testing.T) {
	combined := CombineLimits(RateLimit{RPM: 30, TPM: 50000}, RateLimit{RPM: 20, TPM: 100000})
	assert.Equal(t, RateLimit{RPM: 20, TPM: 50000}, combined)

	combined = CombineLimits(RateLimit{RPM: 0, TPM: 0}, RateLimit{RPM: 20})
	assert.Equal(t, RateLimit{RPM: 20}, combined)
}

func TestResolve(t *testing.T) {
	assert.Equal(t, RateLimit{RPM: 20, TPM: 40000}, Resolve("Anthropic", 0))
	assert.Equal(t, RateLimit{RPM: 120, TPM: 40000}, Resolve("anthropic", 120))
	assert.Equal(t, LimitForProvider("unknown"), LimitForProvider("acme"))
}

func TestLimiterWait(t *testing.T) {
	l := NewLimiter(RateLimit{})
	for i := 0; i < 100; i++ {
		require.NoError(t, l.Wait(context.Background(), 1000))
	}

	l = NewLimiter(RateLimit{RPM: 1})
	require.NoError(t, l.Wait(context.Background(), 0))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Wait(ctx, 0), "second request within the minute must block past the deadline")
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 3, EstimateTokens("0123456789"))
}
