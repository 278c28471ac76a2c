package research

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/deepresearch/internal/db"
	"github.com/Kocoro-lab/deepresearch/internal/state"
	"github.com/Kocoro-lab/deepresearch/internal/streaming"
)

type recordedRuns struct {
	mu        sync.Mutex
	created   []*db.ResearchRun
	completed map[uuid.UUID]db.RunCompletion
}

func (r *recordedRuns) CreateRun(_ context.Context, run *db.ResearchRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, run)
	return nil
}

func (r *recordedRuns) CompleteRun(_ context.Context, id uuid.UUID, c db.RunCompletion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.completed == nil {
		r.completed = map[uuid.UUID]db.RunCompletion{}
	}
	r.completed[id] = c
	return nil
}

func newRunner(t *testing.T, f *fixture, opts Options, ropts ...RunnerOption) *Runner {
	t.Helper()
	r, err := NewRunner(f.stages(t, opts), ropts...)
	require.NoError(t, err)
	return r
}

func TestRunner_GatherThenComplete(t *testing.T) {
	f := newFixture(t,
		verdictJSON(t, ActionGatherMoreData, "q5"),
		verdictJSON(t, ActionComplete),
	)
	var store *state.MemoryStore
	stores := func(string) state.Store {
		store = state.NewMemoryStore()
		return store
	}
	events := streaming.NewManager(256, zap.NewNop())
	runs := &recordedRuns{}
	r := newRunner(t, f, DefaultOptions(), WithStores(stores), WithEvents(events), WithRunRecorder(runs))

	res, err := r.Run(context.Background(), "state of solid-state batteries")
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "draft 2", res.Output)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, []Citation{{Title: "Source", URL: "https://example.com/2"}}, res.Citations)

	// 4 planned queries, then the single follow-up.
	reqs := f.search.requests()
	require.Len(t, reqs, 5)
	assert.Equal(t, SearchRequest{Subtopic: AdditionalResearchSubtopic, Query: "q5"}, reqs[4])

	// 2 planned subtopics, then the follow-up bundle.
	assert.Equal(t, 3, f.summarizer.calls())
	assert.Equal(t, 2, f.drafter.calls())
	assert.Equal(t, 2, f.reviewer.calls())
	assert.NotContains(t, f.drafter.prompt(0), "previous_report")
	assert.Contains(t, f.drafter.prompt(1), `"previous_report": "draft 1"`)
	assert.Contains(t, f.drafter.prompt(1), AdditionalResearchSubtopic)

	require.NotNil(t, store)
	assert.Empty(t, store.Keys(), "run state must be cleared")

	history, err := events.ReplaySince(context.Background(), res.RunID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, history)
	assert.Equal(t, streaming.EventWorkflowStarted, history[0].Type)
	assert.Equal(t, streaming.EventWorkflowCompleted, history[len(history)-1].Type)

	var routed []string
	for _, e := range history {
		if e.Type == streaming.EventRoutingDecision {
			routed = append(routed, e.Message)
		}
	}
	assert.Equal(t, []string{string(ActionGatherMoreData), string(ActionComplete)}, routed)

	require.Len(t, runs.created, 1)
	assert.Equal(t, "state of solid-state batteries", runs.created[0].Query)
	done := runs.completed[runs.created[0].ID]
	assert.Equal(t, db.RunStatusCompleted, done.Status)
	assert.Equal(t, "draft 2", done.Report)
	assert.Equal(t, 1, done.Iterations)
}

func TestRunner_RevisionLoopIsBounded(t *testing.T) {
	f := newFixture(t, verdictJSON(t, ActionReviseReport))
	r := newRunner(t, f, DefaultOptions())

	res, err := r.Run(context.Background(), "q")
	require.NoError(t, err)

	assert.Equal(t, "draft 3", res.Output)
	assert.Equal(t, DefaultMaxIterations, res.Iterations)
	assert.Equal(t, 3, f.reviewer.calls())
	assert.Equal(t, 3, f.drafter.calls())
	assert.Contains(t, f.drafter.prompt(1), "draft 1")
	assert.Contains(t, f.drafter.prompt(1), "details for revise_report")
	assert.Len(t, f.search.requests(), 4)
}

func TestRunner_GatherLoopIsBounded(t *testing.T) {
	f := newFixture(t, verdictJSON(t, ActionGatherMoreData, "more"))
	opts := DefaultOptions()
	opts.MaxIterations = 1
	r := newRunner(t, f, opts)

	res, err := r.Run(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "draft 2", res.Output)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, 2, f.reviewer.calls())
	assert.Len(t, f.search.requests(), 5)
}

func TestRunner_ZeroIterationsCompletesAfterFirstReview(t *testing.T) {
	f := newFixture(t, verdictJSON(t, ActionReviseReport))
	opts := DefaultOptions()
	opts.MaxIterations = 0
	r := newRunner(t, f, opts)

	res, err := r.Run(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "draft 1", res.Output)
	assert.Equal(t, 0, res.Iterations)
	assert.Equal(t, 1, f.reviewer.calls())
}

func TestRunner_UnreadableReviewRevises(t *testing.T) {
	f := newFixture(t, "the report looks fine I guess", verdictJSON(t, ActionComplete))
	r := newRunner(t, f, DefaultOptions())

	res, err := r.Run(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "draft 2", res.Output)
	assert.Equal(t, 1, res.Iterations)
	assert.Contains(t, f.drafter.prompt(1), "could not be read")
}

func TestRunner_DraftParseFailureIsFatal(t *testing.T) {
	f := newFixture(t, verdictJSON(t, ActionComplete))
	f.drafter.fail = true
	var store *state.MemoryStore
	runs := &recordedRuns{}
	r := newRunner(t, f, DefaultOptions(),
		WithStores(func(string) state.Store { store = state.NewMemoryStore(); return store }),
		WithRunRecorder(runs),
	)

	res, err := r.Run(context.Background(), "q")
	require.Error(t, err)

	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, ParseReport, perr.Kind)
	assert.True(t, perr.Fatal())
	assert.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Output, "Error: ")
	assert.Zero(t, f.reviewer.calls())
	assert.Empty(t, store.Keys())

	done := runs.completed[runs.created[0].ID]
	assert.Equal(t, db.RunStatusFailed, done.Status)
	assert.Equal(t, res.Output, done.ErrorMessage)
}

func TestRunner_PlannerExhaustsRetries(t *testing.T) {
	f := newFixture(t, verdictJSON(t, ActionComplete))
	boom := errors.New("model overloaded")
	f.planner.errs = []error{boom, boom, boom}

	r := newRunner(t, f, DefaultOptions())
	res, err := r.Run(context.Background(), "q")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, f.planner.calls())
	assert.Equal(t, StatusFailed, res.Status)
	assert.Empty(t, f.search.requests())
}

func TestRunner_RunWithIDUsesCallerID(t *testing.T) {
	f := newFixture(t, verdictJSON(t, ActionComplete))
	r := newRunner(t, f, DefaultOptions())
	id := uuid.New()

	res, err := r.RunWithID(context.Background(), id, "q")
	require.NoError(t, err)
	assert.Equal(t, id.String(), res.RunID)
}

func TestRunner_ReportBodyLookingLikeErrorCompletes(t *testing.T) {
	f := newFixture(t, verdictJSON(t, ActionComplete))
	f.drafter.prefix = "Error: A Survey of Measurement Uncertainty\n\n"
	runs := &recordedRuns{}
	events := streaming.NewManager(64, zap.NewNop())
	r := newRunner(t, f, DefaultOptions(), WithRunRecorder(runs), WithEvents(events))

	res, err := r.Run(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Equal(t, "Error: A Survey of Measurement Uncertainty\n\ndraft 1", res.Output)

	done := runs.completed[runs.created[0].ID]
	assert.Equal(t, db.RunStatusCompleted, done.Status)
	assert.Equal(t, res.Output, done.Report)

	history, err := events.ReplaySince(context.Background(), res.RunID, 0)
	require.NoError(t, err)
	assert.Equal(t, streaming.EventWorkflowCompleted, history[len(history)-1].Type)
}
