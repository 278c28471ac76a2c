package workflows

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"

	"github.com/Kocoro-lab/deepresearch/internal/constants"
	"github.com/Kocoro-lab/deepresearch/internal/tracing"
)

// Register adds the research workflow and activities to a worker.
func Register(w worker.Registry, acts *Activities) {
	w.RegisterWorkflowWithOptions(DeepResearchWorkflow, workflow.RegisterOptions{Name: constants.DeepResearchWorkflow})
	w.RegisterActivityWithOptions(acts.RunDeepResearch, activity.RegisterOptions{Name: constants.RunDeepResearchActivity})
	w.RegisterActivityWithOptions(acts.SaveReport, activity.RegisterOptions{Name: constants.SaveReportActivity})
}

// WorkflowID is the Temporal workflow ID of a run.
func WorkflowID(runID uuid.UUID) string {
	return constants.WorkflowIDPrefix + runID.String()
}

// Submitter starts research workflows on a task queue.
type Submitter struct {
	client     client.Client
	taskQueue  string
	saveReport bool
}

// NewSubmitter creates a submitter. An empty taskQueue uses the default queue.
func NewSubmitter(c client.Client, taskQueue string, saveReport bool) *Submitter {
	if taskQueue == "" {
		taskQueue = constants.DefaultTaskQueue
	}
	return &Submitter{client: c, taskQueue: taskQueue, saveReport: saveReport}
}

// Start begins a workflow for runID. Reusing a run ID is rejected.
func (s *Submitter) Start(ctx context.Context, runID uuid.UUID, query string) (client.WorkflowRun, error) {
	ctx, span := tracing.StartSpan(ctx, "research.submit")
	defer span.End()
	span.SetAttributes(attribute.String("research.run_id", runID.String()))

	run, err := s.client.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                    WorkflowID(runID),
		TaskQueue:             s.taskQueue,
		WorkflowIDReusePolicy: enumspb.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
	}, constants.DeepResearchWorkflow, ResearchInput{
		RunID:       runID.String(),
		Query:       query,
		SaveReport:  s.saveReport,
		Traceparent: tracing.W3CTraceparent(ctx),
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("start research workflow: %w", err)
	}
	return run, nil
}

// Submit starts a workflow without waiting for it.
func (s *Submitter) Submit(ctx context.Context, runID uuid.UUID, query string) error {
	_, err := s.Start(ctx, runID, query)
	return err
}
