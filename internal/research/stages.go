package research

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/Kocoro-lab/deepresearch/internal/fanout"
	"github.com/Kocoro-lab/deepresearch/internal/metrics"
	"github.com/Kocoro-lab/deepresearch/internal/retry"
	"github.com/Kocoro-lab/deepresearch/internal/state"
	"github.com/Kocoro-lab/deepresearch/internal/util"
)

// Stage identifiers.
const (
	StagePlan         = "planner_executor"
	StageSearch       = "search_executor"
	StageSummarize    = "summary_executor"
	StageDraft        = "research_report_executor"
	StageReview       = "peer_review_executor"
	StageRoute        = "to_routing_decision"
	StageComplete     = "handle_complete"
	StageRoutingError = "handle_routing_error"
)

// AdditionalResearchSubtopic groups follow-up queries suggested by review.
const AdditionalResearchSubtopic = "Additional Research"

const noTitle = "No Title"

var (
	// ErrMissingPlan means a stage that needs the plan ran before planning.
	ErrMissingPlan = errors.New("research plan not found in shared state")
	// ErrMissingReport means revision or review was requested with no draft.
	ErrMissingReport = errors.New("no previous report found in shared state")
)

// ReportNotFoundOutput is yielded on completion when no draft exists.
const ReportNotFoundOutput = "Error: Report not found"

// RoutingErrorOutput formats the output of the unmatched-routing handler.
func RoutingErrorOutput(action RoutingAction) string {
	return fmt.Sprintf("Workflow error: Unexpected routing decision '%s'. "+
		"This case is not properly handled in the workflow.", action)
}

// Options tunes stage behaviour.
type Options struct {
	MaxIterations int
	Retry         retry.Policy
	Fanout        fanout.Config
}

// DefaultOptions returns the standard cap, retry policy and unbounded fan-out.
func DefaultOptions() Options {
	return Options{
		MaxIterations: DefaultMaxIterations,
		Retry:         retry.DefaultPolicy(),
	}
}

// Stages implements every step of the research workflow. Each method is a
// transformation of its input plus the run's shared state.
type Stages struct {
	caps    Capabilities
	opts    Options
	retryer *retry.Retryer
	logger  *zap.Logger
}

// NewStages builds the stage set. caps must be complete.
func NewStages(caps Capabilities, opts Options, logger *zap.Logger) (*Stages, error) {
	if err := caps.Validate(); err != nil {
		return nil, err
	}
	if opts.MaxIterations < 0 {
		return nil, fmt.Errorf("max iterations must be >= 0, got %d", opts.MaxIterations)
	}
	if err := opts.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("retry policy: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stages{
		caps:    caps,
		opts:    opts,
		retryer: retry.New(opts.Retry, logger),
		logger:  logger,
	}, nil
}

// WithRetryer replaces the retryer, typically to remove real delays in tests.
func (s *Stages) WithRetryer(r *retry.Retryer) *Stages {
	cp := *s
	cp.retryer = r
	return &cp
}

// Plan turns the user query into a ResearchPlan and stores it.
func (s *Stages) Plan(ctx context.Context, query string, st state.Store) (ResearchPlan, error) {
	raw, err := retry.Do(ctx, s.retryer, CapabilityPlanning, func(ctx context.Context) (string, error) {
		return s.caps.Planner.Run(ctx, planningPrompt(query))
	})
	if err != nil {
		return ResearchPlan{}, fmt.Errorf("planning: %w", err)
	}
	plan, err := ParseResearchPlan(raw)
	if err != nil {
		return ResearchPlan{}, err
	}
	if err := st.Set(ctx, state.KeyResearchPlan, plan); err != nil {
		return ResearchPlan{}, err
	}
	s.logger.Info("Research plan created",
		zap.Int("tasks", len(plan.ResearchTasks)),
		zap.Int("queries", plan.QueryCount()),
	)
	return plan, nil
}

// searchUnits expands a search input into (subtopic, query) pairs.
func searchUnits(in SearchInput) ([]fanout.Unit[string, SearchRequest], error) {
	var units []fanout.Unit[string, SearchRequest]
	add := func(subtopic, query string) {
		units = append(units, fanout.Unit[string, SearchRequest]{
			Key:     subtopic,
			Payload: SearchRequest{Subtopic: subtopic, Query: query},
		})
	}

	switch v := in.(type) {
	case InitialSearch:
		for _, task := range v.Plan.ResearchTasks {
			for _, q := range task.SearchQueries {
				add(task.Subtopic, q)
			}
		}
	case FollowUpSearch:
		var queries []string
		if verdict := v.Decision.Verdict; verdict != nil {
			queries = verdict.AdditionalQueries
			if len(queries) == 0 && strings.TrimSpace(verdict.NextActionDetails) != "" {
				queries = []string{verdict.NextActionDetails}
			}
		}
		for _, q := range queries {
			add(AdditionalResearchSubtopic, q)
		}
	default:
		return nil, &UnexpectedInputError{Stage: StageSearch, Got: in}
	}
	return units, nil
}

// Search runs every query concurrently and groups outcomes by subtopic.
// Failed queries become outcomes with Error set; Search itself only fails on
// an unexpected input.
func (s *Stages) Search(ctx context.Context, in SearchInput) (SearchResults, error) {
	units, err := searchUnits(in)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Executing searches", zap.Int("queries", len(units)))

	groups := fanout.Run(ctx, s.opts.Fanout, StageSearch, units, func(ctx context.Context, req SearchRequest) (SearchResponse, error) {
		return retry.Do(ctx, s.retryer, CapabilitySearch, func(ctx context.Context) (SearchResponse, error) {
			return s.caps.Searcher.Search(ctx, req)
		})
	})

	results := make(SearchResults, 0, len(groups))
	failed := 0
	for _, g := range groups {
		bundle := SubtopicSearchBundle{Subtopic: g.Key, Queries: make([]SearchOutcome, 0, len(g.Outcomes))}
		for _, o := range g.Outcomes {
			out := SearchOutcome{Query: o.Payload.Query, Citations: []Citation{}}
			if o.Err != nil {
				failed++
				out.Error = o.Err.Error()
				s.logger.Warn("Search query failed",
					zap.String("subtopic", g.Key),
					zap.String("query", o.Payload.Query),
					zap.Error(o.Err),
				)
			} else {
				out.Response = o.Result.Text
				out.Citations = uniqueByURL(o.Result.Citations)
			}
			bundle.Queries = append(bundle.Queries, out)
		}
		results = append(results, bundle)
	}
	s.logger.Info("Searches completed", zap.Int("total", len(units)), zap.Int("failed", failed))
	return results, nil
}

func uniqueByURL(in []Citation) []Citation {
	out := make([]Citation, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, c := range in {
		if seen[c.URL] {
			continue
		}
		seen[c.URL] = true
		if c.Title == "" {
			c.Title = noTitle
		}
		out = append(out, c)
	}
	return out
}

// Summarize produces one summary per bundle, concurrently. Bundles without
// any response text get NoContentSummary without calling the capability.
func (s *Stages) Summarize(ctx context.Context, results SearchResults) Summaries {
	outcomes := fanout.Map(ctx, s.opts.Fanout, StageSummarize, []SubtopicSearchBundle(results), func(ctx context.Context, b SubtopicSearchBundle) (SubtopicSummary, error) {
		content, citations := collectContent(b)
		if content == "" {
			return SubtopicSummary{Subtopic: b.Subtopic, Summary: NoContentSummary, Citations: []Citation{}}, nil
		}
		text, err := retry.Do(ctx, s.retryer, CapabilitySummarization, func(ctx context.Context) (string, error) {
			return s.caps.Summarizer.Run(ctx, summaryPrompt(b.Subtopic, content))
		})
		if err != nil {
			return SubtopicSummary{}, err
		}
		return SubtopicSummary{Subtopic: b.Subtopic, Summary: strings.TrimSpace(text), Citations: citations}, nil
	})

	summaries := make(Summaries, len(outcomes))
	for i, o := range outcomes {
		if o.Err != nil {
			s.logger.Warn("Summarization failed", zap.String("subtopic", o.Payload.Subtopic), zap.Error(o.Err))
			summaries[i] = SubtopicSummary{Subtopic: o.Payload.Subtopic, Citations: []Citation{}, Error: o.Err.Error()}
			continue
		}
		summaries[i] = o.Result
	}
	s.logger.Info("Summaries completed", zap.Int("subtopics", len(summaries)))
	return summaries
}

func loadPlan(ctx context.Context, st state.Store) (ResearchPlan, error) {
	var plan ResearchPlan
	err := st.Get(ctx, state.KeyResearchPlan, &plan)
	if errors.Is(err, state.ErrNotFound) {
		return ResearchPlan{}, ErrMissingPlan
	}
	return plan, err
}

func loadReport(ctx context.Context, st state.Store) (string, error) {
	body, err := state.GetString(ctx, st, state.KeyLatestResearchReport)
	if errors.Is(err, state.ErrNotFound) || (err == nil && body == "") {
		return "", ErrMissingReport
	}
	return body, err
}

// Draft writes a new report version, either from summaries or by revising the
// current draft. The body replaces latest_research_report.
func (s *Stages) Draft(ctx context.Context, in DraftInput, st state.Store) (DraftResponse, error) {
	var prompt string
	switch v := in.(type) {
	case InitialDraft:
		plan, err := loadPlan(ctx, st)
		if err != nil {
			return DraftResponse{}, err
		}
		previous, err := state.GetString(ctx, st, state.KeyLatestResearchReport)
		if err != nil && !errors.Is(err, state.ErrNotFound) {
			return DraftResponse{}, err
		}
		prompt, err = draftPrompt(BuildResearchInput(plan, v.Summaries, previous))
		if err != nil {
			return DraftResponse{}, err
		}
		s.logger.Info("Drafting report", zap.Int("summaries", len(v.Summaries)), zap.Bool("redraft", previous != ""))
	case RevisionDraft:
		current, err := loadReport(ctx, st)
		if err != nil {
			return DraftResponse{}, fmt.Errorf("cannot revise report: %w", err)
		}
		prompt = revisionPrompt(current, v.Decision.Verdict)
		s.logger.Info("Revising report", zap.Int("iteration", v.Decision.Iteration))
	default:
		return DraftResponse{}, &UnexpectedInputError{Stage: StageDraft, Got: in}
	}

	raw, err := retry.Do(ctx, s.retryer, CapabilityDrafting, func(ctx context.Context) (string, error) {
		return s.caps.Drafter.Run(ctx, prompt)
	})
	if err != nil {
		return DraftResponse{}, fmt.Errorf("drafting: %w", err)
	}
	report, err := ParseResearchReport(raw)
	if err != nil {
		return DraftResponse{}, err
	}
	if err := st.Set(ctx, state.KeyLatestResearchReport, report.Body); err != nil {
		return DraftResponse{}, err
	}
	citations := report.Citations
	if citations == nil {
		citations = []Citation{}
	}
	if err := st.Set(ctx, state.KeyLatestReportCitations, citations); err != nil {
		return DraftResponse{}, err
	}
	return DraftResponse{Raw: raw, Report: report}, nil
}

// Review asks the reviewer to judge the current draft against the plan. The
// body stored under state.KeyLatestResearchReport is what gets reviewed; the
// draft response only triggers the stage.
func (s *Stages) Review(ctx context.Context, _ DraftResponse, st state.Store) (ReviewResponse, error) {
	plan, err := loadPlan(ctx, st)
	if err != nil {
		return ReviewResponse{}, fmt.Errorf("cannot review report: %w", err)
	}
	report, err := loadReport(ctx, st)
	if err != nil {
		return ReviewResponse{}, fmt.Errorf("cannot review report: %w", err)
	}
	raw, err := retry.Do(ctx, s.retryer, CapabilityReview, func(ctx context.Context) (string, error) {
		return s.caps.Reviewer.Run(ctx, reviewPrompt(plan, report))
	})
	if err != nil {
		return ReviewResponse{}, fmt.Errorf("review: %w", err)
	}
	return ReviewResponse{Raw: raw}, nil
}

// Route parses the review and applies the iteration cap.
func (s *Stages) Route(ctx context.Context, resp ReviewResponse, st state.Store) (RoutingDecision, error) {
	iteration, err := state.GetInt(ctx, st, state.KeyIterationCount, 0)
	if err != nil {
		return RoutingDecision{}, err
	}

	var verdict *ReviewVerdict
	v, perr := ParseReviewVerdict(resp.Raw)
	if perr != nil {
		s.logger.Warn("Could not parse review, using default routing",
			zap.String("raw", util.Excerpt(resp.Raw, 200)),
			zap.Error(perr),
		)
	} else {
		verdict = &v
	}

	decision, next := Decide(verdict, iteration, s.opts.MaxIterations)
	if next != iteration {
		if err := st.Set(ctx, state.KeyIterationCount, next); err != nil {
			return RoutingDecision{}, err
		}
	}

	fields := []zap.Field{
		zap.String("action", string(decision.Action)),
		zap.Int("iteration", next),
		zap.Int("max_iterations", s.opts.MaxIterations),
		zap.Bool("overridden", decision.Overridden),
	}
	if verdict != nil {
		fields = append(fields, zap.Bool("is_satisfactory", verdict.IsSatisfactory))
	}
	s.logger.Info("Routing decision", fields...)
	metrics.RoutingDecisions.WithLabelValues(string(decision.Action), fmt.Sprint(decision.Overridden)).Inc()
	return decision, nil
}

// Complete returns the latest report body as the workflow output. When no
// report can be read, ok is false and out describes the failure.
func (s *Stages) Complete(ctx context.Context, d RoutingDecision, st state.Store) (out string, ok bool, err error) {
	if d.Action != ActionComplete {
		return "", false, fmt.Errorf("%s only handles %q, got %q", StageComplete, ActionComplete, d.Action)
	}
	body, err := state.GetString(ctx, st, state.KeyLatestResearchReport)
	switch {
	case errors.Is(err, state.ErrNotFound), err == nil && body == "":
		s.logger.Error("Latest research report missing at completion")
		return ReportNotFoundOutput, false, nil
	case err != nil:
		return "Error: " + err.Error(), false, nil
	}
	return body, true, nil
}
