package research

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ResearchTask is one planned unit of investigation.
type ResearchTask struct {
	ID            string   `json:"id,omitempty"`
	Subtopic      string   `json:"subtopic"`
	SearchQueries []string `json:"search_queries"`
	Completed     bool     `json:"completed"`
}

// ResearchPlan is produced once per run by the planning stage.
type ResearchPlan struct {
	Query           string         `json:"query"`
	Objective       string         `json:"objective"`
	SuccessCriteria []string       `json:"success_criteria"`
	RelatedTopics   []string       `json:"related_topics"`
	ResearchTasks   []ResearchTask `json:"research_tasks"`
}

// Validate checks the fields every downstream stage depends on.
func (p ResearchPlan) Validate() error {
	var errs []error
	if strings.TrimSpace(p.Query) == "" {
		errs = append(errs, errors.New("query is required"))
	}
	if strings.TrimSpace(p.Objective) == "" {
		errs = append(errs, errors.New("objective is required"))
	}
	for i, t := range p.ResearchTasks {
		if strings.TrimSpace(t.Subtopic) == "" {
			errs = append(errs, fmt.Errorf("research_tasks[%d].subtopic is required", i))
		}
		if t.SearchQueries == nil {
			errs = append(errs, fmt.Errorf("research_tasks[%d].search_queries is required", i))
		}
	}
	return errors.Join(errs...)
}

// QueryCount is the number of search queries across all tasks.
func (p ResearchPlan) QueryCount() int {
	n := 0
	for _, t := range p.ResearchTasks {
		n += len(t.SearchQueries)
	}
	return n
}

// Subtopics lists task subtopics in plan order.
func (p ResearchPlan) Subtopics() []string {
	out := make([]string, 0, len(p.ResearchTasks))
	for _, t := range p.ResearchTasks {
		out = append(out, t.Subtopic)
	}
	return out
}

// Citation is a (title, url) source reference.
type Citation struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// SearchOutcome is the result of one search query. Error is non-empty when the
// query failed, in which case Response and Citations are empty.
type SearchOutcome struct {
	Query     string     `json:"query"`
	Response  string     `json:"agent_response"`
	Citations []Citation `json:"results"`
	Error     string     `json:"error,omitempty"`
}

// SubtopicSearchBundle groups search outcomes for one subtopic.
type SubtopicSearchBundle struct {
	Subtopic string          `json:"subtopic"`
	Queries  []SearchOutcome `json:"queries"`
}

// SearchResults is the output of the search stage.
type SearchResults []SubtopicSearchBundle

// SubtopicSummary is the synthesized view of one bundle. Error is set when
// the summarization capability failed for this subtopic.
type SubtopicSummary struct {
	Subtopic  string     `json:"subtopic"`
	Summary   string     `json:"summary"`
	Citations []Citation `json:"citations"`
	Error     string     `json:"error,omitempty"`
}

// Summaries is the output of the summarization stage.
type Summaries []SubtopicSummary

// ResearchReport is one version of the drafted report.
type ResearchReport struct {
	Objective         string     `json:"objective"`
	SuccessCriteria   []string   `json:"success_criteria"`
	Body              string     `json:"research_report"`
	Citations         []Citation `json:"citations"`
	IdentifiedGaps    []string   `json:"identified_gaps,omitempty"`
	AdditionalQueries []string   `json:"additional_queries,omitempty"`
}

func (r ResearchReport) Validate() error {
	if strings.TrimSpace(r.Body) == "" {
		return errors.New("research_report is required")
	}
	return nil
}

// RoutingAction selects the edge taken after review.
type RoutingAction string

const (
	ActionComplete       RoutingAction = "complete"
	ActionReviseReport   RoutingAction = "revise_report"
	ActionGatherMoreData RoutingAction = "gather_more_data"
)

// Valid reports whether a is one of the three known actions.
func (a RoutingAction) Valid() bool {
	switch a {
	case ActionComplete, ActionReviseReport, ActionGatherMoreData:
		return true
	}
	return false
}

// Loops reports whether the action sends the workflow back for another cycle.
func (a RoutingAction) Loops() bool {
	return a == ActionReviseReport || a == ActionGatherMoreData
}

func (a *RoutingAction) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("next_action: %w", err)
	}
	v := RoutingAction(strings.ToLower(strings.TrimSpace(s)))
	if !v.Valid() {
		return fmt.Errorf("next_action: unknown value %q", s)
	}
	*a = v
	return nil
}

// ReviewVerdict is the reviewer's structured assessment of a draft.
type ReviewVerdict struct {
	OverallFeedback       string        `json:"overall_feedback,omitempty"`
	Strengths             []string      `json:"strengths,omitempty"`
	SuggestedImprovements []string      `json:"suggested_improvements,omitempty"`
	AdditionalQueries     []string      `json:"additional_queries,omitempty"`
	IsSatisfactory        bool          `json:"is_satisfactory"`
	NextAction            RoutingAction `json:"next_action"`
	NextActionDetails     string        `json:"next_action_details,omitempty"`
}

// RoutingDecision is the message inspected by the post-review switch group.
// Verdict is nil when the review could not be parsed.
type RoutingDecision struct {
	Action     RoutingAction  `json:"action"`
	Verdict    *ReviewVerdict `json:"verdict,omitempty"`
	Overridden bool           `json:"overridden"`
	Iteration  int            `json:"iteration"`
}

// DraftResponse is emitted by the drafting stage.
type DraftResponse struct {
	Raw    string
	Report ResearchReport
}

// ReviewResponse is emitted by the review stage and parsed by routing.
type ReviewResponse struct {
	Raw string
}
