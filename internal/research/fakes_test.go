package research

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/deepresearch/internal/retry"
)

// scripted returns canned responses in order, repeating the last one.
type scripted struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	prompts   []string
}

func script(responses ...string) *scripted { return &scripted{responses: responses} }

func (s *scripted) Run(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := len(s.prompts)
	s.prompts = append(s.prompts, prompt)
	if i < len(s.errs) && s.errs[i] != nil {
		return "", s.errs[i]
	}
	if len(s.responses) == 0 {
		return "", fmt.Errorf("no scripted response")
	}
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], nil
}

func (s *scripted) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

func (s *scripted) prompt(i int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts[i]
}

// drafter numbers every draft it produces.
type drafter struct {
	scripted
	fail   bool
	prefix string
}

func (d *drafter) Run(ctx context.Context, prompt string) (string, error) {
	d.mu.Lock()
	n := len(d.prompts) + 1
	d.prompts = append(d.prompts, prompt)
	d.mu.Unlock()
	if d.fail {
		return "I could not produce JSON this time.", nil
	}
	return reportJSON(fmt.Sprintf("%sdraft %d", d.prefix, n), Citation{Title: "Source", URL: fmt.Sprintf("https://example.com/%d", n)}), nil
}

type searcher struct {
	mu      sync.Mutex
	queries []SearchRequest
	failOn  map[string]bool
}

func (s *searcher) Search(_ context.Context, req SearchRequest) (SearchResponse, error) {
	s.mu.Lock()
	s.queries = append(s.queries, req)
	fail := s.failOn[req.Query]
	s.mu.Unlock()
	if fail {
		return SearchResponse{}, fmt.Errorf("search backend unavailable for %q", req.Query)
	}
	return SearchResponse{
		Text: "findings for " + req.Query,
		Citations: []Citation{
			{Title: "About " + req.Query, URL: "https://example.com/" + req.Query},
			{URL: "https://example.com/" + req.Query},
		},
	}, nil
}

func (s *searcher) requests() []SearchRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SearchRequest(nil), s.queries...)
}

func mustJSON(t testing.TB, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func planJSON(t testing.TB) string {
	return mustJSON(t, map[string]any{
		"query":            "state of solid-state batteries",
		"objective":        "Assess commercial readiness of solid-state batteries",
		"success_criteria": []string{"Cover manufacturers", "Cover timelines"},
		"related_topics":   []string{"lithium supply"},
		"research_tasks": []map[string]any{
			{"id": "t1", "subtopic": "Manufacturers", "search_queries": []string{"q1", "q2"}, "completed": false},
			{"id": "t2", "subtopic": "Timelines", "search_queries": []string{"q3", "q4"}, "completed": false},
		},
	})
}

func reportJSON(body string, citations ...Citation) string {
	b, _ := json.Marshal(map[string]any{
		"objective":        "Assess commercial readiness of solid-state batteries",
		"success_criteria": []string{"Cover manufacturers"},
		"research_report":  body,
		"citations":        citations,
	})
	return string(b)
}

func verdictJSON(t testing.TB, action RoutingAction, queries ...string) string {
	return mustJSON(t, map[string]any{
		"overall_feedback":       "feedback for " + string(action),
		"suggested_improvements": []string{"add more numbers"},
		"additional_queries":     queries,
		"is_satisfactory":        action == ActionComplete,
		"next_action":            action,
		"next_action_details":    "details for " + string(action),
	})
}

type fixture struct {
	planner    *scripted
	search     *searcher
	summarizer *scripted
	drafter    *drafter
	reviewer   *scripted
}

func newFixture(t testing.TB, reviews ...string) *fixture {
	return &fixture{
		planner:    script(planJSON(t)),
		search:     &searcher{failOn: map[string]bool{}},
		summarizer: script("summary text"),
		drafter:    &drafter{},
		reviewer:   script(reviews...),
	}
}

func (f *fixture) caps() Capabilities {
	return Capabilities{
		Planner:    f.planner,
		Searcher:   f.search,
		Summarizer: f.summarizer,
		Drafter:    f.drafter,
		Reviewer:   f.reviewer,
	}
}

func noSleep(context.Context, time.Duration) error { return nil }

func (f *fixture) stages(t testing.TB, opts Options) *Stages {
	t.Helper()
	s, err := NewStages(f.caps(), opts, zap.NewNop())
	require.NoError(t, err)
	return s.WithRetryer(retry.New(opts.Retry, zap.NewNop()).WithSleeper(noSleep))
}
