package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"github.com/Kocoro-lab/deepresearch/internal/temporal"
	"github.com/Kocoro-lab/deepresearch/internal/workflows"
)

var (
	submitWait bool
	submitSave bool
)

var submitCmd = &cobra.Command{
	Use:   "submit <query>",
	Short: "Submit a research run to the Temporal worker",
	Long: `Submit starts a DeepResearchWorkflow on the configured task queue and
prints its run ID. With --wait it blocks until the workflow finishes and
prints the report.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSubmit,
}

func init() {
	submitCmd.Flags().BoolVar(&submitWait, "wait", false, "Wait for the workflow and print the report")
	submitCmd.Flags().BoolVar(&submitSave, "save", true, "Have the worker save the report file")
}

func runSubmit(cmd *cobra.Command, args []string) error {
	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		return fmt.Errorf("query is empty")
	}
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    temporal.NewZapAdapter(logger),
	})
	if err != nil {
		return fmt.Errorf("connect temporal %s: %w", cfg.Temporal.HostPort, err)
	}
	defer c.Close()

	runID := uuid.New()
	run, err := workflows.NewSubmitter(c, cfg.Temporal.TaskQueue, submitSave).Start(cmd.Context(), runID, query)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "run_id=%s workflow_id=%s\n", runID, run.GetID())
	if !submitWait {
		fmt.Fprintln(cmd.OutOrStdout(), runID)
		return nil
	}

	var out workflows.ResearchOutput
	if err := run.Get(cmd.Context(), &out); err != nil {
		return fmt.Errorf("workflow %s: %w", run.GetID(), err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), out.Output)
	if out.ReportPath != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "report saved to %s\n", out.ReportPath)
	}
	if out.Failed() {
		return fmt.Errorf("research run %s failed", runID)
	}
	return nil
}
