package constants

// Workflow and activity names used for worker registration and execution.
const (
	DeepResearchWorkflow = "DeepResearchWorkflow"

	RunDeepResearchActivity = "RunDeepResearch"
	SaveReportActivity      = "SaveReport"
)

// DefaultTaskQueue is the Temporal task queue research workers poll.
const DefaultTaskQueue = "deep-research"

// WorkflowIDPrefix prefixes run IDs to form Temporal workflow IDs.
const WorkflowIDPrefix = "research-"
