package workflows

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/deepresearch/internal/graph"
	"github.com/Kocoro-lab/deepresearch/internal/report"
	"github.com/Kocoro-lab/deepresearch/internal/research"
	"github.com/Kocoro-lab/deepresearch/internal/tracing"
)

// heartbeatInterval keeps long capability calls from tripping the heartbeat timeout.
const heartbeatInterval = 30 * time.Second

// ReportPathRecorder stores where a run's report was written.
type ReportPathRecorder interface {
	SetReportPath(ctx context.Context, id uuid.UUID, path string) error
}

// Activities holds the dependencies of the research activities.
type Activities struct {
	runner        *research.Runner
	writer        *report.Writer
	appendSources bool
	paths         ReportPathRecorder
	logger        *zap.Logger
}

// NewActivities creates the activity set. paths may be nil.
func NewActivities(runner *research.Runner, writer *report.Writer, appendSources bool, paths ReportPathRecorder, logger *zap.Logger) *Activities {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Activities{runner: runner, writer: writer, appendSources: appendSources, paths: paths, logger: logger}
}

// RunDeepResearch executes the research graph in-process. Run failures are
// reported in the output, not as activity errors, so Temporal does not
// retry a run that has already spent its capability budget.
func (a *Activities) RunDeepResearch(ctx context.Context, in ResearchInput) (ResearchOutput, error) {
	runID, err := uuid.Parse(in.RunID)
	if err != nil {
		return ResearchOutput{}, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("invalid run id %q", in.RunID), "InvalidRunID", err)
	}

	hbCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		t := time.NewTicker(heartbeatInterval)
		defer t.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-t.C:
				activity.RecordHeartbeat(ctx, "running")
			}
		}
	}()

	res, _ := a.runner.RunWithID(tracing.WithTraceparent(ctx, in.Traceparent), runID, in.Query, heartbeatObserver{})
	return ResearchOutput{
		RunID:      res.RunID,
		Status:     string(res.Status),
		Output:     res.Output,
		Citations:  res.Citations,
		Iterations: res.Iterations,
		DurationMs: res.Duration.Milliseconds(),
	}, nil
}

// SaveReport writes the report and records its path.
func (a *Activities) SaveReport(ctx context.Context, in SaveReportInput) (string, error) {
	logger := activity.GetLogger(ctx)
	body := in.Body
	if a.appendSources && len(in.Citations) > 0 {
		sources := make([]report.Source, 0, len(in.Citations))
		for _, c := range in.Citations {
			sources = append(sources, report.Source{Title: c.Title, URL: c.URL})
		}
		body = report.FormatWithSources(body, sources)
	}

	path, err := a.writer.Save(body)
	if err != nil {
		return "", err
	}
	logger.Info("Report saved", "run_id", in.RunID, "path", path)

	if a.paths != nil {
		if id, perr := uuid.Parse(in.RunID); perr == nil {
			if err := a.paths.SetReportPath(ctx, id, path); err != nil {
				logger.Warn("Failed to record report path", "run_id", in.RunID, "error", err)
			}
		}
	}
	return path, nil
}

// heartbeatObserver heartbeats with the stage name on every transition.
type heartbeatObserver struct{}

func (heartbeatObserver) NodeStarted(ctx context.Context, ev graph.NodeEvent) context.Context {
	activity.RecordHeartbeat(ctx, ev.NodeID)
	return ctx
}

func (heartbeatObserver) NodeFinished(context.Context, graph.NodeEvent) {}
func (heartbeatObserver) Routed(context.Context, graph.RouteEvent)      {}
