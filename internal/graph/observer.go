package graph

import (
	"context"
	"time"
)

// NodeEvent describes one node execution. Duration and Err are set only when
// passed to NodeFinished.
type NodeEvent struct {
	NodeID   string
	Step     int
	Input    any
	Duration time.Duration
	Err      error
}

// RouteEvent describes a message travelling along an edge. Case is empty for
// unconditional edges.
type RouteEvent struct {
	From    string
	Case    string
	To      string
	Message any
}

// Observer receives execution callbacks. NodeStarted may return a derived
// context, which is used for the node and its NodeFinished call.
type Observer interface {
	NodeStarted(ctx context.Context, ev NodeEvent) context.Context
	NodeFinished(ctx context.Context, ev NodeEvent)
	Routed(ctx context.Context, ev RouteEvent)
}

// NopObserver ignores every callback.
type NopObserver struct{}

func (NopObserver) NodeStarted(ctx context.Context, _ NodeEvent) context.Context { return ctx }
func (NopObserver) NodeFinished(context.Context, NodeEvent)                      {}
func (NopObserver) Routed(context.Context, RouteEvent)                           {}

// Observers fans callbacks out in order.
type Observers []Observer

func (o Observers) NodeStarted(ctx context.Context, ev NodeEvent) context.Context {
	for _, obs := range o {
		ctx = obs.NodeStarted(ctx, ev)
	}
	return ctx
}

func (o Observers) NodeFinished(ctx context.Context, ev NodeEvent) {
	for i := len(o) - 1; i >= 0; i-- {
		o[i].NodeFinished(ctx, ev)
	}
}

func (o Observers) Routed(ctx context.Context, ev RouteEvent) {
	for _, obs := range o {
		obs.Routed(ctx, ev)
	}
}
