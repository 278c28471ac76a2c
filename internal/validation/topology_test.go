package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func researchTopology() []NodeInfo {
	return []NodeInfo{
		{ID: "plan", Edges: []string{"search"}},
		{ID: "search", Edges: []string{"summarize"}},
		{ID: "summarize", Edges: []string{"draft"}},
		{ID: "draft", Edges: []string{"review"}},
		{ID: "review", Edges: []string{"route"}},
		{ID: "route", Branches: []string{"complete", "draft", "search", "error"}},
		{ID: "complete"},
		{ID: "error"},
	}
}

func TestAnalyzeTopology_LoopThroughBranchIsValid(t *testing.T) {
	report := AnalyzeTopology(researchTopology(), "plan")
	require.NoError(t, report.Err())
	assert.Equal(t, []string{"complete", "error"}, report.Sinks)
	assert.Empty(t, report.UnconditionalCycle)
}

func TestAnalyzeTopology_UnconditionalCycle(t *testing.T) {
	nodes := []NodeInfo{
		{ID: "a", Edges: []string{"b"}},
		{ID: "b", Edges: []string{"c"}},
		{ID: "c", Edges: []string{"a"}},
	}
	report := AnalyzeTopology(nodes, "a")
	require.Error(t, report.Err())
	require.NotEmpty(t, report.UnconditionalCycle)
	assert.Equal(t, report.UnconditionalCycle[0], report.UnconditionalCycle[len(report.UnconditionalCycle)-1])
}

func TestAnalyzeTopology_SelfLoop(t *testing.T) {
	report := AnalyzeTopology([]NodeInfo{{ID: "a", Edges: []string{"a"}}}, "a")
	assert.Equal(t, []string{"a", "a"}, report.UnconditionalCycle)
}

func TestAnalyzeTopology_UnknownAndUnreachable(t *testing.T) {
	nodes := []NodeInfo{
		{ID: "start", Edges: []string{"missing"}},
		{ID: "orphan"},
	}
	report := AnalyzeTopology(nodes, "start")
	assert.Equal(t, []string{"start -> missing"}, report.UnknownTargets)
	assert.Equal(t, []string{"orphan"}, report.Unreachable)
	assert.ErrorContains(t, report.Err(), "unknown edge targets")
	assert.ErrorContains(t, report.Err(), "unreachable nodes: orphan")
}

func TestAnalyzeTopology_UnknownStart(t *testing.T) {
	report := AnalyzeTopology([]NodeInfo{{ID: "a"}}, "nope")
	assert.Equal(t, []string{"a"}, report.Unreachable)
}
