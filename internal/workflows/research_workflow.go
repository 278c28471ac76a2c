package workflows

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/Kocoro-lab/deepresearch/internal/constants"
)

// Activity timeouts. A research run heartbeats at every stage transition and
// on a ticker, so a lost worker is noticed within researchHeartbeat.
const (
	researchStartToClose = 2 * time.Hour
	researchHeartbeat    = 2 * time.Minute
	saveStartToClose     = 30 * time.Second
)

// DeepResearchWorkflow executes one research run and saves the report.
// A run that ends with an error string still completes the workflow; only
// infrastructure failures fail it.
func DeepResearchWorkflow(ctx workflow.Context, in ResearchInput) (ResearchOutput, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting DeepResearchWorkflow", "run_id", in.RunID)

	runCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: researchStartToClose,
		HeartbeatTimeout:    researchHeartbeat,
		// Capability calls retry inside the run; a second attempt only
		// covers a worker lost mid-run.
		RetryPolicy: &temporal.RetryPolicy{MaximumAttempts: 2},
	})

	var out ResearchOutput
	if err := workflow.ExecuteActivity(runCtx, constants.RunDeepResearchActivity, in).Get(ctx, &out); err != nil {
		logger.Error("Research activity failed", "run_id", in.RunID, "error", err)
		return ResearchOutput{RunID: in.RunID, Status: "failed", Output: "Error: " + err.Error()}, err
	}

	if out.Failed() || !in.SaveReport {
		logger.Info("DeepResearchWorkflow finished", "run_id", in.RunID, "status", out.Status)
		return out, nil
	}

	saveCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: saveStartToClose,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	})
	var path string
	err := workflow.ExecuteActivity(saveCtx, constants.SaveReportActivity, SaveReportInput{
		RunID:     out.RunID,
		Body:      out.Output,
		Citations: out.Citations,
	}).Get(ctx, &path)
	if err != nil {
		// The report is still returned in the result.
		logger.Warn("Failed to save report", "run_id", in.RunID, "error", err)
	} else {
		out.ReportPath = path
	}

	logger.Info("DeepResearchWorkflow finished",
		"run_id", in.RunID,
		"status", out.Status,
		"iterations", out.Iterations,
		"report_path", out.ReportPath,
	)
	return out, nil
}
