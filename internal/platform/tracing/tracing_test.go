package tracing

import (
	"context"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestInjectExtract_RoundTripsSpanContext(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{ServiceName: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	headers := Inject(ctx, nil)
	require.Contains(t, headers, "traceparent")

	got := trace.SpanContextFromContext(Extract(context.Background(), headers))
	require.Equal(t, traceID, got.TraceID())
	require.Equal(t, spanID, got.SpanID())
}

func TestExtract_NoHeaders(t *testing.T) {
	ctx := context.Background()
	require.Equal(t, ctx, Extract(ctx, amqp.Table{}))
}
