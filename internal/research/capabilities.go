package research

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/deepresearch/internal/metrics"
	"github.com/Kocoro-lab/deepresearch/internal/tracing"
)

// Agent is a language-model role that answers a single prompt.
type Agent interface {
	Run(ctx context.Context, prompt string) (string, error)
}

// AgentFunc adapts a function to Agent.
type AgentFunc func(ctx context.Context, prompt string) (string, error)

func (f AgentFunc) Run(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

// SearchRequest is one (subtopic, query) pair.
type SearchRequest struct {
	Subtopic string
	Query    string
}

// SearchResponse is the grounded answer for one query.
type SearchResponse struct {
	Text      string
	Citations []Citation
}

// Searcher is the web search capability.
type Searcher interface {
	Search(ctx context.Context, req SearchRequest) (SearchResponse, error)
}

// SearchFunc adapts a function to Searcher.
type SearchFunc func(ctx context.Context, req SearchRequest) (SearchResponse, error)

func (f SearchFunc) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	return f(ctx, req)
}

// Capabilities is the bundle of external collaborators a pipeline calls.
// It is built once by the caller and passed to NewStages.
type Capabilities struct {
	Planner    Agent
	Searcher   Searcher
	Summarizer Agent
	Drafter    Agent
	Reviewer   Agent
}

// Validate ensures every capability is present.
func (c Capabilities) Validate() error {
	var errs []error
	if c.Planner == nil {
		errs = append(errs, errors.New("planner capability is required"))
	}
	if c.Searcher == nil {
		errs = append(errs, errors.New("search capability is required"))
	}
	if c.Summarizer == nil {
		errs = append(errs, errors.New("summarization capability is required"))
	}
	if c.Drafter == nil {
		errs = append(errs, errors.New("drafting capability is required"))
	}
	if c.Reviewer == nil {
		errs = append(errs, errors.New("review capability is required"))
	}
	return errors.Join(errs...)
}

// Capability names used in logs and metrics.
const (
	CapabilityPlanning      = "planning"
	CapabilitySearch        = "search"
	CapabilitySummarization = "summarization"
	CapabilityDrafting      = "drafting"
	CapabilityReview        = "review"
)

// Instrument wraps every capability with start/complete logging, metrics and
// a tracing span.
func Instrument(c Capabilities, logger *zap.Logger) Capabilities {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Capabilities{
		Planner:    instrumentedAgent{name: CapabilityPlanning, next: c.Planner, logger: logger},
		Searcher:   instrumentedSearcher{next: c.Searcher, logger: logger},
		Summarizer: instrumentedAgent{name: CapabilitySummarization, next: c.Summarizer, logger: logger},
		Drafter:    instrumentedAgent{name: CapabilityDrafting, next: c.Drafter, logger: logger},
		Reviewer:   instrumentedAgent{name: CapabilityReview, next: c.Reviewer, logger: logger},
	}
}

type instrumentedAgent struct {
	name   string
	next   Agent
	logger *zap.Logger
}

func (a instrumentedAgent) Run(ctx context.Context, prompt string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "capability "+a.name)
	defer span.End()
	span.SetAttributes(attribute.Int("prompt.length", len(prompt)))

	a.logger.Debug("Agent starting", zap.String("capability", a.name))
	start := time.Now()
	out, err := a.next.Run(ctx, prompt)
	observe(a.logger, a.name, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

type instrumentedSearcher struct {
	next   Searcher
	logger *zap.Logger
}

func (s instrumentedSearcher) Search(ctx context.Context, req SearchRequest) (SearchResponse, error) {
	ctx, span := tracing.StartSpan(ctx, "capability "+CapabilitySearch)
	defer span.End()
	span.SetAttributes(
		attribute.String("search.subtopic", req.Subtopic),
		attribute.String("search.query", req.Query),
	)

	start := time.Now()
	resp, err := s.next.Search(ctx, req)
	observe(s.logger, CapabilitySearch, start, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return resp, err
	}
	span.SetAttributes(attribute.Int("search.citations", len(resp.Citations)))
	return resp, nil
}

func observe(logger *zap.Logger, name string, start time.Time, err error) {
	d := time.Since(start)
	status := "success"
	if err != nil {
		status = "error"
		logger.Warn("Agent call failed",
			zap.String("capability", name),
			zap.Duration("duration", d),
			zap.Error(err),
		)
	} else {
		logger.Debug("Agent completed",
			zap.String("capability", name),
			zap.Duration("duration", d),
		)
	}
	metrics.RecordCapabilityMetrics(name, status, d.Seconds())
}
