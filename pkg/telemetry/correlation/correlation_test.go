package correlation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestCarrierRoundTrip(t *testing.T) {
	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)

	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	}))
	ctx = ContextWithCorrelationID(ctx, "cid-1")

	carrier := Carrier(ctx)
	assert.Equal(t, "cid-1", carrier[KeyCorrelationID])

	restored := FromCarrier(context.Background(), carrier)
	assert.Equal(t, "cid-1", ExtractCorrelationID(restored))
	sc := trace.SpanContextFromContext(restored)
	assert.True(t, sc.IsRemote())
	assert.Equal(t, traceID, sc.TraceID())
}

func TestCarrierGeneratesCorrelationID(t *testing.T) {
	carrier := Carrier(context.Background())
	cid, _ := carrier[KeyCorrelationID].(string)
	assert.Len(t, cid, 26)
	_, hasTrace := carrier[KeyTraceID]
	assert.False(t, hasTrace)
}
