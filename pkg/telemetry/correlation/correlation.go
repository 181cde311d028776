package correlation

import (
	"context"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"
)

const (
	KeyCorrelationID = "correlation_id"
	KeyTraceID       = "trace_id"
	KeySpanID        = "span_id"
)

type correlationKey struct{}

// ExtractCorrelationID fetches a correlation ID from the context if present.
func ExtractCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if val, ok := ctx.Value(correlationKey{}).(string); ok {
		return val
	}
	return ""
}

// ContextWithCorrelationID sets the correlation ID onto the context.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey{}, id)
}

// EnsureCorrelationID guarantees a correlation ID on the context, generating one when missing.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	cid := ExtractCorrelationID(ctx)
	if cid == "" {
		cid = ulid.Make().String()
	}
	return ContextWithCorrelationID(ctx, cid), cid
}

// Carrier captures correlation and trace identifiers so they survive a hop
// through the job table.
func Carrier(ctx context.Context) map[string]any {
	ctx, cid := EnsureCorrelationID(ctx)
	out := map[string]any{KeyCorrelationID: cid}
	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.IsValid() {
		out[KeyTraceID] = sc.TraceID().String()
		out[KeySpanID] = sc.SpanID().String()
	}
	return out
}

// FromCarrier restores what Carrier captured.
func FromCarrier(ctx context.Context, carrier map[string]any) context.Context {
	if len(carrier) == 0 {
		return ctx
	}
	if cid, ok := carrier[KeyCorrelationID].(string); ok {
		ctx = ContextWithCorrelationID(ctx, cid)
	}
	traceID, _ := carrier[KeyTraceID].(string)
	spanID, _ := carrier[KeySpanID].(string)
	return ContextWithRemoteSpan(ctx, traceID, spanID)
}

// ContextWithRemoteSpan seeds the context with a remote span if valid identifiers are provided.
func ContextWithRemoteSpan(ctx context.Context, traceIDHex, spanIDHex string) context.Context {
	if traceIDHex == "" || spanIDHex == "" {
		return ctx
	}

	traceID, err := trace.TraceIDFromHex(traceIDHex)
	if err != nil {
		return ctx
	}
	spanID, err := trace.SpanIDFromHex(spanIDHex)
	if err != nil {
		return ctx
	}

	parent := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled, Remote: true})
	return trace.ContextWithSpanContext(ctx, parent)
}
