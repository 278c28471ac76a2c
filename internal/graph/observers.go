package graph

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/deepresearch/internal/metrics"
	"github.com/Kocoro-lab/deepresearch/internal/tracing"
)

// LoggingObserver logs node start and completion with duration.
type LoggingObserver struct {
	Logger *zap.Logger
}

func (l LoggingObserver) NodeStarted(ctx context.Context, ev NodeEvent) context.Context {
	l.Logger.Info("Stage started", zap.String("stage", ev.NodeID), zap.Int("step", ev.Step))
	return ctx
}

func (l LoggingObserver) NodeFinished(_ context.Context, ev NodeEvent) {
	if ev.Err != nil {
		l.Logger.Error("Stage failed",
			zap.String("stage", ev.NodeID),
			zap.Int("step", ev.Step),
			zap.Duration("duration", ev.Duration),
			zap.Error(ev.Err),
		)
		return
	}
	l.Logger.Info("Stage completed",
		zap.String("stage", ev.NodeID),
		zap.Int("step", ev.Step),
		zap.Duration("duration", ev.Duration),
	)
}

func (l LoggingObserver) Routed(_ context.Context, ev RouteEvent) {
	if ev.Case == "" {
		return
	}
	l.Logger.Info("Routing decision",
		zap.String("from", ev.From),
		zap.String("case", ev.Case),
		zap.String("to", ev.To),
	)
}

// MetricsObserver records stage executions in Prometheus.
type MetricsObserver struct{}

func (MetricsObserver) NodeStarted(ctx context.Context, _ NodeEvent) context.Context { return ctx }

func (MetricsObserver) NodeFinished(_ context.Context, ev NodeEvent) {
	status := "success"
	if ev.Err != nil {
		status = "error"
	}
	metrics.RecordStageMetrics(ev.NodeID, status, ev.Duration.Seconds())
}

func (MetricsObserver) Routed(context.Context, RouteEvent) {}

// TracingObserver opens one span per node execution.
type TracingObserver struct{}

func (TracingObserver) NodeStarted(ctx context.Context, ev NodeEvent) context.Context {
	ctx, span := tracing.StartSpan(ctx, "stage "+ev.NodeID)
	span.SetAttributes(
		attribute.String("stage.id", ev.NodeID),
		attribute.Int("stage.step", ev.Step),
	)
	return ctx
}

func (TracingObserver) NodeFinished(ctx context.Context, ev NodeEvent) {
	span := oteltrace.SpanFromContext(ctx)
	if ev.Err != nil {
		span.RecordError(ev.Err)
		span.SetStatus(codes.Error, ev.Err.Error())
	}
	span.End()
}

func (TracingObserver) Routed(ctx context.Context, ev RouteEvent) {
	if ev.Case == "" {
		return
	}
	oteltrace.SpanFromContext(ctx).AddEvent("route",
		oteltrace.WithAttributes(
			attribute.String("route.from", ev.From),
			attribute.String("route.case", ev.Case),
			attribute.String("route.to", ev.To),
		),
	)
}
