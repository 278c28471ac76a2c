package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

func TestInitializeDisabled(t *testing.T) {
	shutdown, err := Initialize(Config{Enabled: false}, zap.NewNop())
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))

	ctx, span := StartSpan(context.Background(), "noop")
	defer span.End()
	assert.NotNil(t, ctx)
}

func useRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev, prevTracer := otel.GetTracerProvider(), tracer
	otel.SetTracerProvider(tp)
	tracer = otel.Tracer("test")
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		tracer = prevTracer
	})
	return rec
}

func TestTraceparentRoundTrip(t *testing.T) {
	useRecorder(t)

	ctx, span := StartSpan(context.Background(), "research.submit")
	defer span.End()

	header := W3CTraceparent(ctx)
	assert.Regexp(t, `^00-[0-9a-f]{32}-[0-9a-f]{16}-01$`, header)
	sc, ok := ParseTraceparent(header)
	require.True(t, ok)
	assert.True(t, sc.IsRemote())
	assert.Equal(t, span.SpanContext().TraceID(), sc.TraceID())
	assert.Equal(t, span.SpanContext().SpanID(), sc.SpanID())
	assert.True(t, sc.IsSampled())
}

func TestWithTraceparentParentsNewSpans(t *testing.T) {
	rec := useRecorder(t)

	_, parent := StartSpan(context.Background(), "research.submit")
	header := W3CTraceparent(oteltrace.ContextWithSpan(context.Background(), parent))
	parent.End()

	ctx := WithTraceparent(context.Background(), header)
	_, child := StartSpan(ctx, "research.run")
	child.End()

	ended := rec.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, parent.SpanContext().TraceID(), ended[1].SpanContext().TraceID())
	assert.Equal(t, parent.SpanContext().SpanID(), ended[1].Parent().SpanID())
}

func TestParseTraceparentRejectsGarbage(t *testing.T) {
	for _, header := range []string{
		"",
		"not a header",
		"01-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
		"00-00000000000000000000000000000000-00f067aa0ba902b7-01",
		"00-4bf92f3577b34da6a3ce929d0e0e4736-0000000000000000-01",
		"00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-zz",
	} {
		_, ok := ParseTraceparent(header)
		assert.False(t, ok, header)
	}
	assert.Empty(t, W3CTraceparent(context.Background()))

	ctx := context.Background()
	assert.Equal(t, ctx, WithTraceparent(ctx, "garbage"))
}
