// Package workflows runs research requests as durable Temporal workflows.
package workflows

import "github.com/Kocoro-lab/deepresearch/internal/research"

// ResearchInput starts one research run.
type ResearchInput struct {
	RunID      string `json:"run_id"`
	Query      string `json:"query"`
	SaveReport bool   `json:"save_report"`

	// Traceparent links the worker's spans to the submitter's trace.
	Traceparent string `json:"traceparent,omitempty"`
}

// ResearchOutput is the workflow result. Output holds the report body or,
// when Status is failed, the error string.
type ResearchOutput struct {
	RunID      string              `json:"run_id"`
	Status     string              `json:"status"`
	Output     string              `json:"output"`
	Citations  []research.Citation `json:"citations,omitempty"`
	Iterations int                 `json:"iterations"`
	DurationMs int64               `json:"duration_ms"`
	ReportPath string              `json:"report_path,omitempty"`
}

// Failed reports whether the run ended with an error string.
func (o ResearchOutput) Failed() bool {
	return o.Status != string(research.StatusCompleted)
}

// SaveReportInput asks for a finished report to be written to disk.
type SaveReportInput struct {
	RunID     string              `json:"run_id"`
	Body      string              `json:"body"`
	Citations []research.Citation `json:"citations,omitempty"`
}
