package research

import (
	"context"
	"fmt"

	"github.com/Kocoro-lab/deepresearch/internal/graph"
)

// NewGraph wires the stages into the research workflow:
//
//	plan -> search -> summarize -> draft -> review -> route
//	route: complete -> handle_complete
//	       revise_report -> draft
//	       gather_more_data -> search
//	       default -> handle_routing_error
func NewGraph(s *Stages, maxSteps int) (*graph.Graph, error) {
	b := graph.NewBuilder().
		AddNode(graph.NodeFunc{Name: StagePlan, Fn: s.planNode}).
		AddNode(graph.NodeFunc{Name: StageSearch, Fn: s.searchNode}).
		AddNode(graph.NodeFunc{Name: StageSummarize, Fn: s.summarizeNode}).
		AddNode(graph.NodeFunc{Name: StageDraft, Fn: s.draftNode}).
		AddNode(graph.NodeFunc{Name: StageReview, Fn: s.reviewNode}).
		AddNode(graph.NodeFunc{Name: StageRoute, Fn: s.routeNode}).
		AddNode(graph.NodeFunc{Name: StageComplete, Fn: s.completeNode}).
		AddNode(graph.NodeFunc{Name: StageRoutingError, Fn: routingErrorNode}).
		SetStart(StagePlan).
		AddEdge(StagePlan, StageSearch).
		AddEdge(StageSearch, StageSummarize).
		AddEdge(StageSummarize, StageDraft).
		AddEdge(StageDraft, StageReview).
		AddEdge(StageReview, StageRoute).
		AddSwitch(StageRoute, []graph.Case{
			{Name: string(ActionComplete), When: IsAction(ActionComplete), Target: StageComplete},
			{Name: string(ActionReviseReport), When: IsAction(ActionReviseReport), Target: StageDraft},
			{Name: string(ActionGatherMoreData), When: IsAction(ActionGatherMoreData), Target: StageSearch},
		}, StageRoutingError).
		WithMaxSteps(maxSteps)
	return b.Build()
}

// StepBudget is the number of node executions a run with the given cap can
// need: the initial pass plus a full gather loop per iteration, with slack.
func StepBudget(maxIterations int) int {
	const firstPass = 7 // plan, search, summarize, draft, review, route, terminal
	const gatherLoop = 5
	return firstPass + gatherLoop*(maxIterations+1) + 4
}

func (s *Stages) planNode(ctx context.Context, in any, rc *graph.RunContext) error {
	query, ok := in.(string)
	if !ok {
		return &UnexpectedInputError{Stage: StagePlan, Got: in}
	}
	plan, err := s.Plan(ctx, query, rc.State())
	if err != nil {
		return err
	}
	rc.Send(plan)
	return nil
}

func (s *Stages) searchNode(ctx context.Context, in any, rc *graph.RunContext) error {
	input, err := AsSearchInput(in)
	if err != nil {
		return err
	}
	results, err := s.Search(ctx, input)
	if err != nil {
		return err
	}
	rc.Send(results)
	return nil
}

func (s *Stages) summarizeNode(ctx context.Context, in any, rc *graph.RunContext) error {
	results, ok := in.(SearchResults)
	if !ok {
		return &UnexpectedInputError{Stage: StageSummarize, Got: in}
	}
	rc.Send(s.Summarize(ctx, results))
	return nil
}

func (s *Stages) draftNode(ctx context.Context, in any, rc *graph.RunContext) error {
	input, err := AsDraftInput(in)
	if err != nil {
		return err
	}
	resp, err := s.Draft(ctx, input, rc.State())
	if err != nil {
		return err
	}
	rc.Send(resp)
	return nil
}

func (s *Stages) reviewNode(ctx context.Context, in any, rc *graph.RunContext) error {
	draft, ok := in.(DraftResponse)
	if !ok {
		return &UnexpectedInputError{Stage: StageReview, Got: in}
	}
	resp, err := s.Review(ctx, draft, rc.State())
	if err != nil {
		return err
	}
	rc.Send(resp)
	return nil
}

func (s *Stages) routeNode(ctx context.Context, in any, rc *graph.RunContext) error {
	resp, ok := in.(ReviewResponse)
	if !ok {
		return &UnexpectedInputError{Stage: StageRoute, Got: in}
	}
	d, err := s.Route(ctx, resp, rc.State())
	if err != nil {
		return err
	}
	rc.Send(d)
	return nil
}

func (s *Stages) completeNode(ctx context.Context, in any, rc *graph.RunContext) error {
	d, ok := in.(RoutingDecision)
	if !ok {
		return &UnexpectedInputError{Stage: StageComplete, Got: in}
	}
	out, found, err := s.Complete(ctx, d, rc.State())
	if err != nil {
		return err
	}
	if !found {
		rc.Fail(out)
		return nil
	}
	rc.Yield(out)
	return nil
}

func routingErrorNode(_ context.Context, in any, rc *graph.RunContext) error {
	if d, ok := in.(RoutingDecision); ok {
		rc.Fail(RoutingErrorOutput(d.Action))
		return nil
	}
	rc.Fail(fmt.Sprintf("Workflow error: Unexpected routing message of type %T.", in))
	return nil
}
