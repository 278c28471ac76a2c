package research

import "fmt"

// SearchInput is either InitialSearch or FollowUpSearch.
type SearchInput interface{ isSearchInput() }

// InitialSearch searches every (subtopic, query) pair of the plan.
type InitialSearch struct{ Plan ResearchPlan }

// FollowUpSearch searches the queries suggested by a GATHER_MORE_DATA review.
type FollowUpSearch struct{ Decision RoutingDecision }

func (InitialSearch) isSearchInput()  {}
func (FollowUpSearch) isSearchInput() {}

// DraftInput is either InitialDraft or RevisionDraft.
type DraftInput interface{ isDraftInput() }

// InitialDraft drafts a report from subtopic summaries.
type InitialDraft struct{ Summaries Summaries }

// RevisionDraft revises the current report following a REVISE_REPORT review.
type RevisionDraft struct{ Decision RoutingDecision }

func (InitialDraft) isDraftInput()  {}
func (RevisionDraft) isDraftInput() {}

// UnexpectedInputError is returned when a stage receives a message it has no
// variant for.
type UnexpectedInputError struct {
	Stage string
	Got   any
}

func (e *UnexpectedInputError) Error() string {
	if d, ok := e.Got.(RoutingDecision); ok {
		return fmt.Sprintf("%s: unexpected routing decision %q", e.Stage, d.Action)
	}
	return fmt.Sprintf("%s: unexpected input type %T", e.Stage, e.Got)
}

// AsSearchInput classifies a graph message for the search stage.
func AsSearchInput(msg any) (SearchInput, error) {
	switch m := msg.(type) {
	case SearchInput:
		return m, nil
	case ResearchPlan:
		return InitialSearch{Plan: m}, nil
	case RoutingDecision:
		if m.Action == ActionGatherMoreData {
			return FollowUpSearch{Decision: m}, nil
		}
	}
	return nil, &UnexpectedInputError{Stage: StageSearch, Got: msg}
}

// AsDraftInput classifies a graph message for the drafting stage.
func AsDraftInput(msg any) (DraftInput, error) {
	switch m := msg.(type) {
	case DraftInput:
		return m, nil
	case Summaries:
		return InitialDraft{Summaries: m}, nil
	case RoutingDecision:
		if m.Action == ActionReviseReport {
			return RevisionDraft{Decision: m}, nil
		}
	}
	return nil, &UnexpectedInputError{Stage: StageDraft, Got: msg}
}
