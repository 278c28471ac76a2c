package llm

import (
	"context"
	"time"

	"github.com/Kocoro-lab/deepresearch/internal/metrics"
	"github.com/Kocoro-lab/deepresearch/internal/ratecontrol"
	"github.com/Kocoro-lab/deepresearch/internal/research"
)

// RateLimited paces every capability call through one shared limiter, since
// all roles draw on the same provider quota.
func RateLimited(c research.Capabilities, l *ratecontrol.Limiter) research.Capabilities {
	if l == nil || l.Limit().Unlimited() {
		return c
	}
	return research.Capabilities{
		Planner:    limitedAgent{name: research.CapabilityPlanning, next: c.Planner, limiter: l},
		Searcher:   limitedSearcher{next: c.Searcher, limiter: l},
		Summarizer: limitedAgent{name: research.CapabilitySummarization, next: c.Summarizer, limiter: l},
		Drafter:    limitedAgent{name: research.CapabilityDrafting, next: c.Drafter, limiter: l},
		Reviewer:   limitedAgent{name: research.CapabilityReview, next: c.Reviewer, limiter: l},
	}
}

func wait(ctx context.Context, l *ratecontrol.Limiter, capability, prompt string) error {
	start := time.Now()
	err := l.Wait(ctx, ratecontrol.EstimateTokens(prompt))
	metrics.RateLimitWait.WithLabelValues(capability).Observe(time.Since(start).Seconds())
	return err
}

type limitedAgent struct {
	name    string
	next    research.Agent
	limiter *ratecontrol.Limiter
}

func (a limitedAgent) Run(ctx context.Context, prompt string) (string, error) {
	if err := wait(ctx, a.limiter, a.name, prompt); err != nil {
		return "", err
	}
	return a.next.Run(ctx, prompt)
}

type limitedSearcher struct {
	next    research.Searcher
	limiter *ratecontrol.Limiter
}

func (s limitedSearcher) Search(ctx context.Context, req research.SearchRequest) (research.SearchResponse, error) {
	if err := wait(ctx, s.limiter, research.CapabilitySearch, req.Query); err != nil {
		return research.SearchResponse{}, err
	}
	return s.next.Search(ctx, req)
}
