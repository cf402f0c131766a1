package telemetry

import (
	"context"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestInitTracerWithoutEndpoint(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "mmn-aa-test", "")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	assert.NoError(t, shutdown(context.Background()))
}

func TestContextWithTraceID(t *testing.T) {
	ctx, ok := ContextWithTraceID(context.Background(), "4bf92f3577b34da6a3ce929d0e0e4736")
	require.True(t, ok)
	sc := trace.SpanContextFromContext(ctx)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", sc.TraceID().String())
	assert.True(t, sc.IsRemote())

	_, ok = ContextWithTraceID(context.Background(), "not-hex")
	assert.False(t, ok)
}

func TestKafkaHeadersRoundTrip(t *testing.T) {
	_, err := InitTracer(context.Background(), "mmn-aa-test", "")
	require.NoError(t, err)

	ctx, ok := ContextWithTraceID(context.Background(), "4bf92f3577b34da6a3ce929d0e0e4736")
	require.True(t, ok)

	headers := InjectKafkaHeaders(ctx, []kafka.Header{{Key: "source", Value: []byte("aa")}})
	require.Len(t, headers, 2)
	assert.Equal(t, "source", headers[0].Key)
	assert.Equal(t, "traceparent", headers[1].Key)

	restored := trace.SpanContextFromContext(ExtractKafkaHeaders(context.Background(), headers))
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", restored.TraceID().String())
}
