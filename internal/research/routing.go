package research

// DefaultMaxIterations is the number of revise/gather cycles allowed before
// completion is forced.
const DefaultMaxIterations = 2

// Decide converts a parsed review into a routing decision.
//
// iteration is the number of loop cycles already taken. When it has reached
// maxIterations every non-complete verdict is overridden to complete and the
// counter is left alone; otherwise looping actions increment it. A nil
// verdict (unparseable review) routes to revision while budget remains.
// The returned int is the counter value to persist.
func Decide(verdict *ReviewVerdict, iteration, maxIterations int) (RoutingDecision, int) {
	capped := iteration >= maxIterations

	if verdict == nil {
		if capped {
			return RoutingDecision{Action: ActionComplete, Overridden: true, Iteration: iteration}, iteration
		}
		iteration++
		return RoutingDecision{Action: ActionReviseReport, Iteration: iteration}, iteration
	}

	if capped && verdict.NextAction != ActionComplete {
		return RoutingDecision{Action: ActionComplete, Verdict: verdict, Overridden: true, Iteration: iteration}, iteration
	}

	d := RoutingDecision{Action: verdict.NextAction, Verdict: verdict}
	if verdict.NextAction.Loops() {
		iteration++
	}
	d.Iteration = iteration
	return d, iteration
}

// IsAction returns a switch-case predicate matching decisions with action a.
func IsAction(a RoutingAction) func(msg any) bool {
	return func(msg any) bool {
		d, ok := msg.(RoutingDecision)
		return ok && d.Action == a
	}
}
