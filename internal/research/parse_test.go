package research

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResearchPlan(t *testing.T) {
	raw := "Here is the plan:\n```json\n" + planJSON(t) + "\n```"
	plan, err := ParseResearchPlan(raw)
	require.NoError(t, err)
	assert.Equal(t, 4, plan.QueryCount())
	assert.Equal(t, []string{"Manufacturers", "Timelines"}, plan.Subtopics())

	_, err = ParseResearchPlan(`{"query": "q", "research_tasks": []}`)
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, ParsePlan, perr.Kind)
	assert.True(t, perr.Fatal())
	assert.Contains(t, err.Error(), "objective is required")
}

func TestParseResearchReport(t *testing.T) {
	r, err := ParseResearchReport(reportJSON("body", Citation{Title: "T", URL: "https://t"}))
	require.NoError(t, err)
	assert.Equal(t, "body", r.Body)
	assert.Len(t, r.Citations, 1)

	_, err = ParseResearchReport(`{"objective": "o"}`)
	assert.ErrorContains(t, err, "research_report is required")

	_, err = ParseResearchReport("no json at all")
	var perr *ParseError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, ParseReport, perr.Kind)
}

func TestParseReviewVerdict(t *testing.T) {
	v, err := ParseReviewVerdict(verdictJSON(t, ActionGatherMoreData, "q9"))
	require.NoError(t, err)
	assert.Equal(t, ActionGatherMoreData, v.NextAction)
	assert.False(t, v.IsSatisfactory)
	assert.Equal(t, []string{"q9"}, v.AdditionalQueries)

	v, err = ParseReviewVerdict(`{"is_satisfactory": true, "next_action": " COMPLETE "}`)
	require.NoError(t, err)
	assert.Equal(t, ActionComplete, v.NextAction)

	tests := map[string]string{
		"missing action":      `{"is_satisfactory": true}`,
		"missing satisfied":   `{"next_action": "complete"}`,
		"unknown action":      `{"is_satisfactory": false, "next_action": "rewrite_everything"}`,
		"not json":            "looks good",
		"wrong type for bool": `{"is_satisfactory": "yes", "next_action": "complete"}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseReviewVerdict(raw)
			var perr *ParseError
			require.True(t, errors.As(err, &perr))
			assert.Equal(t, ParseVerdict, perr.Kind)
			assert.False(t, perr.Fatal())
		})
	}
}
