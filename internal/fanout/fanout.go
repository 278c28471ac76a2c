// Package fanout runs independent units of work concurrently and reassembles
// their results in input order, grouped by a caller-supplied key.
package fanout

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"

	"github.com/Kocoro-lab/deepresearch/internal/metrics"
)

// Config controls fan-out execution.
type Config struct {
	// MaxConcurrency limits in-flight units. Zero or negative means unbounded.
	MaxConcurrency int `mapstructure:"max_concurrency" json:"max_concurrency"`
}

// Unit is one piece of work tagged with the group it belongs to.
type Unit[K comparable, P any] struct {
	Key     K
	Payload P
}

// Outcome is the result of one unit. Err is set when the unit failed or
// panicked; Result is then the zero value.
type Outcome[P, R any] struct {
	Payload P
	Result  R
	Err     error
}

// Failed reports whether the unit produced an error.
func (o Outcome[P, R]) Failed() bool { return o.Err != nil }

// Group is all outcomes sharing a key, in input order.
type Group[K comparable, P, R any] struct {
	Key      K
	Outcomes []Outcome[P, R]
}

// PanicError is recorded for a unit whose function panicked.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("unit panicked: %v", e.Value)
}

// Map runs fn for every payload and returns outcomes indexed like payloads.
// A failing unit never aborts the batch and Map itself never fails.
func Map[P, R any](ctx context.Context, cfg Config, stage string, payloads []P, fn func(ctx context.Context, p P) (R, error)) []Outcome[P, R] {
	out := make([]Outcome[P, R], len(payloads))
	if len(payloads) == 0 {
		return out
	}

	// A plain errgroup, not WithContext: one unit's failure must not cancel
	// its siblings.
	var g errgroup.Group
	if cfg.MaxConcurrency > 0 {
		g.SetLimit(cfg.MaxConcurrency)
	}

	for i, p := range payloads {
		g.Go(func() error {
			out[i] = runUnit(ctx, p, fn)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, o := range out {
		if o.Err != nil {
			failed++
		}
	}
	metrics.FanoutUnits.WithLabelValues(stage, "success").Add(float64(len(out) - failed))
	metrics.FanoutUnits.WithLabelValues(stage, "error").Add(float64(failed))
	return out
}

func runUnit[P, R any](ctx context.Context, p P, fn func(ctx context.Context, p P) (R, error)) (o Outcome[P, R]) {
	o.Payload = p
	defer func() {
		if v := recover(); v != nil {
			var zero R
			o.Result = zero
			o.Err = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()
	o.Result, o.Err = fn(ctx, p)
	if o.Err != nil {
		var zero R
		o.Result = zero
	}
	return o
}

// Run executes every unit concurrently and regroups the outcomes by key.
// Groups appear in order of the first unit carrying each key; outcomes inside
// a group keep input order regardless of completion order.
func Run[K comparable, P, R any](ctx context.Context, cfg Config, stage string, units []Unit[K, P], fn func(ctx context.Context, p P) (R, error)) []Group[K, P, R] {
	payloads := make([]P, len(units))
	for i, u := range units {
		payloads[i] = u.Payload
	}
	outcomes := Map(ctx, cfg, stage, payloads, fn)

	index := make(map[K]int)
	var groups []Group[K, P, R]
	for i, u := range units {
		gi, ok := index[u.Key]
		if !ok {
			gi = len(groups)
			index[u.Key] = gi
			groups = append(groups, Group[K, P, R]{Key: u.Key})
		}
		groups[gi].Outcomes = append(groups[gi].Outcomes, outcomes[i])
	}
	return groups
}
