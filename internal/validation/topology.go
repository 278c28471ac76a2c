// Package validation checks workflow graph topologies before execution.
package validation

import (
	"fmt"
	"sort"
	"strings"
)

// NodeInfo is the minimal view of a graph node needed for validation.
// Edges are unconditional successors; Branches are successors selected at
// runtime by a switch/case group.
type NodeInfo struct {
	ID       string
	Edges    []string
	Branches []string
}

// TopologyReport summarises a graph's shape.
type TopologyReport struct {
	UnknownTargets []string // "from -> to" pairs whose target is not a node
	Unreachable    []string // nodes not reachable from the start node
	Sinks          []string // nodes with no successors
	// UnconditionalCycle is a loop built only from unconditional edges. Such
	// a loop can never exit, unlike loops passing through a branch group.
	UnconditionalCycle []string
}

// Err folds the report into a single error, or nil when the graph is sound.
func (r TopologyReport) Err() error {
	var problems []string
	if len(r.UnknownTargets) > 0 {
		problems = append(problems, "unknown edge targets: "+strings.Join(r.UnknownTargets, ", "))
	}
	if len(r.Unreachable) > 0 {
		problems = append(problems, "unreachable nodes: "+strings.Join(r.Unreachable, ", "))
	}
	if len(r.UnconditionalCycle) > 0 {
		problems = append(problems, "cycle without a branch exit: "+strings.Join(r.UnconditionalCycle, " -> "))
	}
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("invalid graph: %s", strings.Join(problems, "; "))
}

// AnalyzeTopology inspects nodes reachable from start.
func AnalyzeTopology(nodes []NodeInfo, start string) TopologyReport {
	var report TopologyReport

	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		known[n.ID] = true
	}

	all := make(map[string][]string, len(nodes))
	uncond := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		for _, to := range n.Edges {
			if !known[to] {
				report.UnknownTargets = append(report.UnknownTargets, n.ID+" -> "+to)
				continue
			}
			all[n.ID] = append(all[n.ID], to)
			uncond[n.ID] = append(uncond[n.ID], to)
		}
		for _, to := range n.Branches {
			if !known[to] {
				report.UnknownTargets = append(report.UnknownTargets, n.ID+" -> "+to)
				continue
			}
			all[n.ID] = append(all[n.ID], to)
		}
		if len(n.Edges) == 0 && len(n.Branches) == 0 {
			report.Sinks = append(report.Sinks, n.ID)
		}
	}

	reached := map[string]bool{}
	if known[start] {
		queue := []string{start}
		reached[start] = true
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, next := range all[cur] {
				if !reached[next] {
					reached[next] = true
					queue = append(queue, next)
				}
			}
		}
	}
	for _, n := range nodes {
		if !reached[n.ID] {
			report.Unreachable = append(report.Unreachable, n.ID)
		}
	}

	report.UnconditionalCycle = detectCycle(nodes, uncond)

	sort.Strings(report.UnknownTargets)
	sort.Strings(report.Unreachable)
	sort.Strings(report.Sinks)
	return report
}

// detectCycle runs Kahn's algorithm over the given adjacency and returns a
// cycle path if one exists.
func detectCycle(nodes []NodeInfo, adj map[string][]string) []string {
	inDegree := make(map[string]int, len(nodes))
	for _, n := range nodes {
		inDegree[n.ID] += 0
		for _, to := range adj[n.ID] {
			inDegree[to]++
		}
	}

	var queue []string
	for _, n := range nodes {
		if inDegree[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}
	processed := 0
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		processed++
		for _, to := range adj[cur] {
			inDegree[to]--
			if inDegree[to] == 0 {
				queue = append(queue, to)
			}
		}
	}
	if processed == len(inDegree) {
		return nil
	}

	var remaining []string
	for _, n := range nodes {
		if inDegree[n.ID] > 0 {
			remaining = append(remaining, n.ID)
		}
	}
	return findCyclePath(adj, remaining)
}

func findCyclePath(adj map[string][]string, candidates []string) []string {
	inSet := make(map[string]bool, len(candidates))
	for _, n := range candidates {
		inSet[n] = true
	}

	var dfs func(node string, path []string, onPath map[string]bool) []string
	dfs = func(node string, path []string, onPath map[string]bool) []string {
		if onPath[node] {
			for i, n := range path {
				if n == node {
					return append(append([]string{}, path[i:]...), node)
				}
			}
			return nil
		}
		onPath[node] = true
		path = append(path, node)
		for _, next := range adj[node] {
			if !inSet[next] {
				continue
			}
			if cycle := dfs(next, path, onPath); cycle != nil {
				return cycle
			}
		}
		onPath[node] = false
		return nil
	}

	for _, start := range candidates {
		if cycle := dfs(start, nil, map[string]bool{}); cycle != nil {
			return cycle
		}
	}
	return candidates
}
