package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/deepresearch/internal/bootstrap"
	"github.com/Kocoro-lab/deepresearch/internal/report"
	"github.com/Kocoro-lab/deepresearch/internal/research"
	"github.com/Kocoro-lab/deepresearch/internal/streaming"
)

var (
	runSave      bool
	runOutputDir string
	runProgress  bool
)

var runCmd = &cobra.Command{
	Use:   "run <query>",
	Short: "Run a research workflow in this process",
	Long: `Run executes the whole research workflow locally and prints the final
report to stdout. The report is also saved as report_YYYY-MM-DD-HHMMSS.md
unless --save=false is given.

Exits non-zero when the run ends with an error message instead of a report.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runResearch,
}

func init() {
	runCmd.Flags().BoolVar(&runSave, "save", true, "Save the report as a markdown file")
	runCmd.Flags().StringVar(&runOutputDir, "output-dir", "", "Directory for saved reports (default: report.output_dir)")
	runCmd.Flags().BoolVar(&runProgress, "progress", true, "Print stage progress to stderr")
}

func runResearch(cmd *cobra.Command, args []string) error {
	query := strings.TrimSpace(strings.Join(args, " "))
	if query == "" {
		return fmt.Errorf("query is empty")
	}
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	runID := uuid.New()
	if runProgress {
		done := followProgress(deps.Events, runID.String(), cmd)
		defer done()
	}

	res, runErr := deps.Runner.RunWithID(ctx, runID, query)
	fmt.Fprintln(cmd.OutOrStdout(), res.Output)
	if runErr != nil {
		return fmt.Errorf("research run %s failed", res.RunID)
	}

	if runSave {
		dir := runOutputDir
		if dir == "" {
			dir = cfg.Report.OutputDir
		}
		path, err := saveReport(ctx, deps, dir, cfg.Report.AppendSources, runID, res)
		if err != nil {
			return err
		}
		logger.Info("Report saved", zap.String("path", path))
	}
	return nil
}

func saveReport(ctx context.Context, deps *bootstrap.Deps, dir string, appendSources bool, runID uuid.UUID, res *research.Result) (string, error) {
	body := res.Output
	if appendSources && len(res.Citations) > 0 {
		sources := make([]report.Source, 0, len(res.Citations))
		for _, c := range res.Citations {
			sources = append(sources, report.Source{Title: c.Title, URL: c.URL})
		}
		body = report.FormatWithSources(body, sources)
	}
	path, err := report.NewWriter(dir).Save(body)
	if err != nil {
		return "", err
	}
	if deps.Runs != nil {
		if err := deps.Runs.SetReportPath(ctx, runID, path); err != nil {
			return path, fmt.Errorf("record report path: %w", err)
		}
	}
	return path, nil
}

// followProgress prints stage events to stderr until the returned func is
// called.
func followProgress(events *streaming.Manager, runID string, cmd *cobra.Command) func() {
	ch := events.Subscribe(runID, 64)
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for ev := range ch {
			switch ev.Type {
			case streaming.EventStageStarted:
				fmt.Fprintf(cmd.ErrOrStderr(), "→ %s\n", ev.Stage)
			case streaming.EventStageFailed:
				fmt.Fprintf(cmd.ErrOrStderr(), "✗ %s: %s\n", ev.Stage, ev.Message)
			case streaming.EventRoutingDecision:
				fmt.Fprintf(cmd.ErrOrStderr(), "  review decided: %s\n", ev.Message)
			}
		}
	}()
	return func() {
		events.Unsubscribe(runID, ch)
		<-finished
	}
}
