// Package graph executes a directed workflow of named nodes.
//
// Nodes are connected by unconditional edges and by switch groups. A switch
// group evaluates a source node's message against ordered cases; the first
// matching case wins and the default target applies otherwise. Execution is
// sequential: a node runs only after the previous node has returned, so
// nodes may fan out internally but never overlap each other.
package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Kocoro-lab/deepresearch/internal/state"
	"github.com/Kocoro-lab/deepresearch/internal/validation"
)

var (
	// ErrNoOutput is returned when the graph drains without a node yielding.
	ErrNoOutput = errors.New("graph: workflow finished without output")
	// ErrStepLimit is returned when more node executions than allowed were scheduled.
	ErrStepLimit = errors.New("graph: step limit exceeded")
	// ErrUnroutedMessage is returned when a node sends a message but has no outgoing route.
	ErrUnroutedMessage = errors.New("graph: message sent from node without outgoing route")
)

// DefaultMaxSteps bounds a single run.
const DefaultMaxSteps = 64

// Node is one processing stage.
type Node interface {
	ID() string
	Run(ctx context.Context, in any, rc *RunContext) error
}

// NodeFunc adapts a function to Node.
type NodeFunc struct {
	Name string
	Fn   func(ctx context.Context, in any, rc *RunContext) error
}

func (f NodeFunc) ID() string { return f.Name }

func (f NodeFunc) Run(ctx context.Context, in any, rc *RunContext) error {
	return f.Fn(ctx, in, rc)
}

// RunContext is handed to a node for one execution.
type RunContext struct {
	state  state.Store
	sent   []any
	output *string
	failed bool
}

// Send emits a message along the node's outgoing route.
func (rc *RunContext) Send(msg any) { rc.sent = append(rc.sent, msg) }

// Yield sets the workflow output. The run ends once the yielding node returns.
func (rc *RunContext) Yield(output string) { rc.output = &output }

// Fail ends the run with output that describes a failure. Run returns the
// output together with a *FailedOutputError.
func (rc *RunContext) Fail(output string) {
	rc.output = &output
	rc.failed = true
}

// FailedOutputError is returned by Run when the terminal node called Fail.
type FailedOutputError struct {
	NodeID string
	Output string
}

func (e *FailedOutputError) Error() string { return e.Output }

// State is the run's shared store.
func (rc *RunContext) State() state.Store { return rc.state }

// Case is one branch of a switch group.
type Case struct {
	Name   string
	When   func(msg any) bool
	Target string
}

type switchGroup struct {
	cases    []Case
	fallback string
}

// Builder assembles a Graph.
type Builder struct {
	nodes    map[string]Node
	order    []string
	start    string
	edges    map[string][]string
	switches map[string]switchGroup
	maxSteps int
	errs     []error
}

// NewBuilder starts an empty graph.
func NewBuilder() *Builder {
	return &Builder{
		nodes:    make(map[string]Node),
		edges:    make(map[string][]string),
		switches: make(map[string]switchGroup),
		maxSteps: DefaultMaxSteps,
	}
}

// AddNode registers a node. IDs must be unique.
func (b *Builder) AddNode(n Node) *Builder {
	if _, dup := b.nodes[n.ID()]; dup {
		b.errs = append(b.errs, fmt.Errorf("duplicate node %q", n.ID()))
		return b
	}
	b.nodes[n.ID()] = n
	b.order = append(b.order, n.ID())
	return b
}

// SetStart selects the node receiving the initial input.
func (b *Builder) SetStart(id string) *Builder {
	b.start = id
	return b
}

// AddEdge connects from to to unconditionally.
func (b *Builder) AddEdge(from, to string) *Builder {
	if _, ok := b.switches[from]; ok {
		b.errs = append(b.errs, fmt.Errorf("node %q already has a switch group", from))
		return b
	}
	b.edges[from] = append(b.edges[from], to)
	return b
}

// AddSwitch routes messages from a node through ordered cases and a default.
func (b *Builder) AddSwitch(from string, cases []Case, fallback string) *Builder {
	if _, ok := b.edges[from]; ok {
		b.errs = append(b.errs, fmt.Errorf("node %q already has unconditional edges", from))
		return b
	}
	if _, ok := b.switches[from]; ok {
		b.errs = append(b.errs, fmt.Errorf("node %q already has a switch group", from))
		return b
	}
	if fallback == "" {
		b.errs = append(b.errs, fmt.Errorf("switch group on %q needs a default target", from))
		return b
	}
	for _, c := range cases {
		if c.When == nil {
			b.errs = append(b.errs, fmt.Errorf("case %q on %q has no predicate", c.Name, from))
			return b
		}
	}
	b.switches[from] = switchGroup{cases: append([]Case(nil), cases...), fallback: fallback}
	return b
}

// WithMaxSteps overrides the per-run node execution bound.
func (b *Builder) WithMaxSteps(n int) *Builder {
	if n > 0 {
		b.maxSteps = n
	}
	return b
}

// Build validates the topology and returns an executable Graph.
func (b *Builder) Build() (*Graph, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	if b.start == "" {
		return nil, errors.New("graph: start node not set")
	}
	if _, ok := b.nodes[b.start]; !ok {
		return nil, fmt.Errorf("graph: start node %q not registered", b.start)
	}
	for from := range b.edges {
		if _, ok := b.nodes[from]; !ok {
			return nil, fmt.Errorf("graph: edge source %q not registered", from)
		}
	}
	for from := range b.switches {
		if _, ok := b.nodes[from]; !ok {
			return nil, fmt.Errorf("graph: switch source %q not registered", from)
		}
	}

	infos := make([]validation.NodeInfo, 0, len(b.order))
	for _, id := range b.order {
		info := validation.NodeInfo{ID: id, Edges: b.edges[id]}
		if sw, ok := b.switches[id]; ok {
			for _, c := range sw.cases {
				info.Branches = append(info.Branches, c.Target)
			}
			info.Branches = append(info.Branches, sw.fallback)
		}
		infos = append(infos, info)
	}
	if err := validation.AnalyzeTopology(infos, b.start).Err(); err != nil {
		return nil, err
	}

	return &Graph{
		nodes:    b.nodes,
		start:    b.start,
		edges:    b.edges,
		switches: b.switches,
		maxSteps: b.maxSteps,
	}, nil
}

// Graph is an immutable, validated workflow. It is safe to Run concurrently
// with different stores as long as its nodes are.
type Graph struct {
	nodes    map[string]Node
	start    string
	edges    map[string][]string
	switches map[string]switchGroup
	maxSteps int
}

type delivery struct {
	to  string
	msg any
}

// Run feeds input to the start node and propagates messages until a node
// yields or fails. It returns the terminal node's output.
func (g *Graph) Run(ctx context.Context, input any, store state.Store, obs Observer) (string, error) {
	if obs == nil {
		obs = NopObserver{}
	}
	queue := []delivery{{to: g.start, msg: input}}

	for step := 1; len(queue) > 0; step++ {
		if step > g.maxSteps {
			return "", fmt.Errorf("%w (%d)", ErrStepLimit, g.maxSteps)
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}

		d := queue[0]
		queue = queue[1:]
		node := g.nodes[d.to]

		ev := NodeEvent{NodeID: d.to, Step: step, Input: d.msg}
		nctx := obs.NodeStarted(ctx, ev)
		rc := &RunContext{state: store}
		started := time.Now()
		err := node.Run(nctx, d.msg, rc)
		ev.Duration = time.Since(started)
		ev.Err = err
		obs.NodeFinished(nctx, ev)
		if err != nil {
			return "", fmt.Errorf("node %s: %w", d.to, err)
		}

		if rc.output != nil {
			if rc.failed {
				return *rc.output, &FailedOutputError{NodeID: d.to, Output: *rc.output}
			}
			return *rc.output, nil
		}

		for _, msg := range rc.sent {
			next, err := g.route(ctx, d.to, msg, obs)
			if err != nil {
				return "", err
			}
			for _, to := range next {
				queue = append(queue, delivery{to: to, msg: msg})
			}
		}
	}
	return "", ErrNoOutput
}

func (g *Graph) route(ctx context.Context, from string, msg any, obs Observer) ([]string, error) {
	if sw, ok := g.switches[from]; ok {
		for _, c := range sw.cases {
			if c.When(msg) {
				obs.Routed(ctx, RouteEvent{From: from, Case: c.Name, To: c.Target, Message: msg})
				return []string{c.Target}, nil
			}
		}
		obs.Routed(ctx, RouteEvent{From: from, Case: "default", To: sw.fallback, Message: msg})
		return []string{sw.fallback}, nil
	}
	targets, ok := g.edges[from]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnroutedMessage, from)
	}
	for _, to := range targets {
		obs.Routed(ctx, RouteEvent{From: from, To: to, Message: msg})
	}
	return targets, nil
}
