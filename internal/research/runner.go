package research

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/deepresearch/internal/db"
	"github.com/Kocoro-lab/deepresearch/internal/graph"
	"github.com/Kocoro-lab/deepresearch/internal/metrics"
	"github.com/Kocoro-lab/deepresearch/internal/state"
	"github.com/Kocoro-lab/deepresearch/internal/streaming"
	"github.com/Kocoro-lab/deepresearch/internal/tracing"
	"github.com/Kocoro-lab/deepresearch/internal/util"
)

// Status is the outcome of a run.
type Status string

const (
	StatusCompleted Status = db.RunStatusCompleted
	StatusFailed    Status = db.RunStatusFailed
)

// Result is what a run produces. Output is always set: the final report body
// on success, a human-readable error string otherwise.
type Result struct {
	RunID      string        `json:"run_id"`
	Query      string        `json:"query"`
	Status     Status        `json:"status"`
	Output     string        `json:"output"`
	Citations  []Citation    `json:"citations"`
	Iterations int           `json:"iterations"`
	Duration   time.Duration `json:"duration"`
}

// StoreFactory creates the shared state for a run.
type StoreFactory func(runID string) state.Store

// MemoryStores gives every run a fresh in-memory store.
func MemoryStores(string) state.Store { return state.NewMemoryStore() }

// EventPublisher receives run events.
type EventPublisher interface {
	Publish(runID string, evt streaming.Event) streaming.Event
}

// RunRecorder persists run records.
type RunRecorder interface {
	CreateRun(ctx context.Context, run *db.ResearchRun) error
	CompleteRun(ctx context.Context, id uuid.UUID, c db.RunCompletion) error
}

// Runner executes research workflows end to end.
type Runner struct {
	graph    *graph.Graph
	maxSteps int
	stores   StoreFactory
	events   EventPublisher
	runs     RunRecorder
	logger   *zap.Logger
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithStores selects where run state lives.
func WithStores(f StoreFactory) RunnerOption { return func(r *Runner) { r.stores = f } }

// WithEvents publishes run events.
func WithEvents(p EventPublisher) RunnerOption { return func(r *Runner) { r.events = p } }

// WithRunRecorder persists run records.
func WithRunRecorder(rec RunRecorder) RunnerOption { return func(r *Runner) { r.runs = rec } }

// WithMaxSteps raises the graph step limit above the minimum the iteration
// cap needs. Lower values are ignored.
func WithMaxSteps(n int) RunnerOption { return func(r *Runner) { r.maxSteps = n } }

// WithLogger sets the runner's logger.
func WithLogger(l *zap.Logger) RunnerOption { return func(r *Runner) { r.logger = l } }

// NewRunner assembles the workflow graph for stages.
func NewRunner(stages *Stages, opts ...RunnerOption) (*Runner, error) {
	r := &Runner{stores: MemoryStores, logger: stages.logger}
	for _, o := range opts {
		o(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	steps := StepBudget(stages.opts.MaxIterations)
	if r.maxSteps > steps {
		steps = r.maxSteps
	}
	g, err := NewGraph(stages, steps)
	if err != nil {
		return nil, fmt.Errorf("build research graph: %w", err)
	}
	r.graph = g
	return r, nil
}

// Run executes a new run for query.
func (r *Runner) Run(ctx context.Context, query string) (*Result, error) {
	return r.RunWithID(ctx, uuid.New(), query)
}

// RunWithID executes a run under a caller-chosen ID. Extra observers receive
// every stage callback. The run's shared state is discarded before return,
// whatever the outcome. The returned error is non-nil exactly when
// Result.Status is StatusFailed.
func (r *Runner) RunWithID(ctx context.Context, runID uuid.UUID, query string, extra ...graph.Observer) (res *Result, err error) {
	id := runID.String()
	logger := r.logger.With(zap.String("run_id", id))
	start := time.Now()
	res = &Result{RunID: id, Query: query, Citations: []Citation{}}

	ctx, span := tracing.StartSpan(ctx, "research.run")
	defer span.End()
	span.SetAttributes(attribute.String("research.run_id", id))

	st := r.stores(id)
	cleanupCtx := context.WithoutCancel(ctx)
	defer func() {
		if cerr := st.Clear(cleanupCtx); cerr != nil {
			logger.Warn("Failed to clear run state", zap.Error(cerr))
		}
	}()

	metrics.WorkflowsStarted.Inc()
	r.publish(id, streaming.Event{Type: streaming.EventWorkflowStarted, Message: query})
	if r.runs != nil {
		if rerr := r.runs.CreateRun(ctx, &db.ResearchRun{
			ID:        runID,
			Query:     query,
			Status:    db.RunStatusRunning,
			StartedAt: start.UTC(),
		}); rerr != nil {
			logger.Warn("Failed to record run start", zap.Error(rerr))
		}
	}
	logger.Info("Research workflow started", zap.String("query", util.Excerpt(query, 200)))

	observers := graph.Observers{
		graph.LoggingObserver{Logger: logger},
		graph.MetricsObserver{},
		graph.TracingObserver{},
		eventObserver{runID: id, publish: r.publish},
	}
	observers = append(observers, extra...)

	output, runErr := r.execute(ctx, query, st, observers)

	res.Iterations, _ = state.GetInt(cleanupCtx, st, state.KeyIterationCount, 0)
	_ = st.Get(cleanupCtx, state.KeyLatestReportCitations, &res.Citations)
	res.Duration = time.Since(start)

	var failed *graph.FailedOutputError
	switch {
	case errors.As(runErr, &failed):
		res.Status = StatusFailed
		res.Output = failed.Output
		err = runErr
	case runErr != nil:
		res.Status = StatusFailed
		res.Output = "Error: " + runErr.Error()
		err = runErr
	default:
		res.Status = StatusCompleted
		res.Output = output
	}

	r.finish(cleanupCtx, logger, runID, res, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (r *Runner) execute(ctx context.Context, query string, st state.Store, obs graph.Observer) (out string, err error) {
	defer func() {
		if v := recover(); v != nil {
			r.logger.Error("Research workflow panicked",
				zap.Any("panic", v),
				zap.ByteString("stack", debug.Stack()),
			)
			err = fmt.Errorf("workflow panicked: %v", v)
		}
	}()
	return r.graph.Run(ctx, query, st, obs)
}

func (r *Runner) finish(ctx context.Context, logger *zap.Logger, runID uuid.UUID, res *Result, err error) {
	metrics.RecordWorkflowMetrics(string(res.Status), res.Duration.Seconds(), res.Iterations)

	evt := streaming.Event{
		Type: streaming.EventWorkflowCompleted,
		Data: map[string]any{"iterations": res.Iterations, "duration_ms": res.Duration.Milliseconds()},
	}
	completion := db.RunCompletion{
		Status:      string(res.Status),
		Iterations:  res.Iterations,
		CompletedAt: time.Now().UTC(),
		Duration:    res.Duration,
	}
	if err != nil {
		evt.Type = streaming.EventWorkflowFailed
		evt.Message = res.Output
		completion.ErrorMessage = res.Output
		logger.Error("Research workflow failed",
			zap.Duration("duration", res.Duration),
			zap.Int("iterations", res.Iterations),
			zap.Error(err),
		)
	} else {
		completion.Report = res.Output
		logger.Info("Research workflow completed",
			zap.Duration("duration", res.Duration),
			zap.Int("iterations", res.Iterations),
			zap.Int("report_length", len(res.Output)),
		)
	}
	r.publish(res.RunID, evt)

	if r.runs != nil {
		if rerr := r.runs.CompleteRun(ctx, runID, completion); rerr != nil {
			logger.Warn("Failed to record run completion", zap.Error(rerr))
		}
	}
}

func (r *Runner) publish(runID string, evt streaming.Event) {
	if r.events != nil {
		r.events.Publish(runID, evt)
	}
}

type eventObserver struct {
	runID   string
	publish func(runID string, evt streaming.Event)
}

func (o eventObserver) NodeStarted(ctx context.Context, ev graph.NodeEvent) context.Context {
	o.publish(o.runID, streaming.Event{Type: streaming.EventStageStarted, Stage: ev.NodeID})
	return ctx
}

func (o eventObserver) NodeFinished(_ context.Context, ev graph.NodeEvent) {
	evt := streaming.Event{
		Type:  streaming.EventStageCompleted,
		Stage: ev.NodeID,
		Data:  map[string]any{"duration_ms": ev.Duration.Milliseconds()},
	}
	if ev.Err != nil {
		evt.Type = streaming.EventStageFailed
		evt.Message = ev.Err.Error()
	}
	o.publish(o.runID, evt)
}

func (o eventObserver) Routed(_ context.Context, ev graph.RouteEvent) {
	d, ok := ev.Message.(RoutingDecision)
	if !ok || ev.Case == "" {
		return
	}
	o.publish(o.runID, streaming.Event{
		Type:    streaming.EventRoutingDecision,
		Stage:   ev.To,
		Message: string(d.Action),
		Data: map[string]any{
			"iteration":  d.Iteration,
			"overridden": d.Overridden,
		},
	})
}
