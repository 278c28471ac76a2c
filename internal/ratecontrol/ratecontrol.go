// Package ratecontrol resolves client-side request limits for model providers.
package ratecontrol

import (
	"context"
	"math"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// RateLimit is a per-minute request and token allowance. Zero means unlimited.
type RateLimit struct {
	RPM int `mapstructure:"rpm"`
	TPM int `mapstructure:"tpm"`
}

// Unlimited reports whether no limit applies.
func (l RateLimit) Unlimited() bool { return l.RPM <= 0 && l.TPM <= 0 }

var builtInProviderLimits = map[string]RateLimit{
	"openai":    {RPM: 30, TPM: 60000},
	"anthropic": {RPM: 20, TPM: 40000},
	"google":    {RPM: 40, TPM: 80000},
	"mistral":   {RPM: 50, TPM: 100000},
	"unknown":   {RPM: 45, TPM: 90000},
}

// LimitForProvider returns the built-in limit for provider.
func LimitForProvider(provider string) RateLimit {
	if limit, ok := builtInProviderLimits[strings.ToLower(strings.TrimSpace(provider))]; ok {
		return limit
	}
	return builtInProviderLimits["unknown"]
}

// Resolve applies a configured requests-per-minute override to the provider
// default. rpm <= 0 keeps the provider's own limit.
func Resolve(provider string, rpm int) RateLimit {
	limit := LimitForProvider(provider)
	if rpm > 0 {
		limit.RPM = rpm
	}
	return limit
}

// CombineLimits keeps the stricter positive value of each dimension.
func CombineLimits(a, b RateLimit) RateLimit {
	limit := RateLimit{
		RPM: minPositive(a.RPM, b.RPM),
		TPM: minPositive(a.TPM, b.TPM),
	}
	if limit.RPM == 0 {
		limit.RPM = max(a.RPM, b.RPM)
	}
	if limit.TPM == 0 {
		limit.TPM = max(a.TPM, b.TPM)
	}
	return limit
}

// Limiter paces requests and tokens against a RateLimit.
type Limiter struct {
	limit    RateLimit
	requests *rate.Limiter
	tokens   *rate.Limiter
}

// NewLimiter builds a limiter. Requests get a burst of one so calls are spread
// across the minute; tokens may burst up to a full minute's allowance.
func NewLimiter(limit RateLimit) *Limiter {
	l := &Limiter{
		limit:    limit,
		requests: rate.NewLimiter(rate.Inf, 1),
		tokens:   rate.NewLimiter(rate.Inf, 1),
	}
	if limit.RPM > 0 {
		l.requests = rate.NewLimiter(rate.Every(time.Minute/time.Duration(limit.RPM)), 1)
	}
	if limit.TPM > 0 {
		l.tokens = rate.NewLimiter(rate.Limit(float64(limit.TPM)/60.0), limit.TPM)
	}
	return l
}

// Limit returns the configured allowance.
func (l *Limiter) Limit() RateLimit { return l.limit }

// Wait blocks until one request carrying estimatedTokens may proceed.
func (l *Limiter) Wait(ctx context.Context, estimatedTokens int) error {
	if err := l.requests.Wait(ctx); err != nil {
		return err
	}
	if l.limit.TPM > 0 && estimatedTokens > 0 {
		return l.tokens.WaitN(ctx, min(estimatedTokens, l.limit.TPM))
	}
	return nil
}

// EstimateTokens approximates the token count of text at four bytes per token.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// DelayForRequest is the minimum spacing a request of estimatedTokens needs
// under limit, capped at one minute.
func DelayForRequest(limit RateLimit, estimatedTokens int) time.Duration {
	if limit.Unlimited() || estimatedTokens < 0 {
		return 0
	}
	var delayMs float64
	if limit.RPM > 0 {
		delayMs = math.Max(delayMs, 60000.0/float64(limit.RPM))
	}
	if limit.TPM > 0 && estimatedTokens > 0 {
		perToken := 60000.0 / float64(limit.TPM)
		delayMs = math.Max(delayMs, perToken*float64(estimatedTokens))
	}
	if delayMs <= 0 {
		return 0
	}
	if delayMs > 60000 {
		delayMs = 60000
	}
	return time.Duration(math.Ceil(delayMs)) * time.Millisecond
}

func minPositive(a, b int) int {
	switch {
	case a <= 0 && b <= 0:
		return 0
	case a <= 0:
		return b
	case b <= 0:
		return a
	default:
		return min(a, b)
	}
}
