package loom

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// contextKey is an unexported type used as the key for storing loomContext
// in context.Context. Using a private type prevents collisions with keys
// from other packages.
type contextKey struct{}

// loomContext holds the GenAI annotation values attached to a context. They
// are injected onto every span started from that context by the
// loomSpanProcessor, so conversation and agent identity survive even on
// spans the caller's own code starts.
type loomContext struct {
	conversationID string
	agentName      string
	sessionID      string
}

// streamTracingKey marks a context as already governed by a stream span.
// The Create wrapper checks it to avoid opening a second span when the
// wrapped client implements Stream by calling back into CreateStream.
type streamTracingKey struct{}

func markStreamTracing(ctx context.Context) context.Context {
	return context.WithValue(ctx, streamTracingKey{}, true)
}

func isStreamTracing(ctx context.Context) bool {
	v, _ := ctx.Value(streamTracingKey{}).(bool)
	return v
}

func getFromContext(ctx context.Context) loomContext {
	if lc, ok := ctx.Value(contextKey{}).(loomContext); ok {
		return lc
	}
	return loomContext{}
}

func setInContext(ctx context.Context, lc loomContext) context.Context {
	return context.WithValue(ctx, contextKey{}, lc)
}

// contextAttrs reads the loomContext from ctx and returns a slice of
// non-zero-value OTel attributes. Used by the span processor.
func contextAttrs(ctx context.Context) []attribute.KeyValue {
	lc := getFromContext(ctx)

	var attrs []attribute.KeyValue
	if lc.conversationID != "" {
		attrs = append(attrs, attribute.String(AttrConversationID, lc.conversationID))
	}
	if lc.agentName != "" {
		attrs = append(attrs, attribute.String(AttrAgentName, lc.agentName))
	}
	if lc.sessionID != "" {
		attrs = append(attrs, attribute.String(AttrSessionID, lc.sessionID))
	}
	return attrs
}

// WithConversation attaches a conversation id to the context so that all
// spans created with this context carry gen_ai.conversation.id.
func WithConversation(ctx context.Context, conversationID string) context.Context {
	lc := getFromContext(ctx)
	lc.conversationID = conversationID

	// Also set on current span for immediate effect on already-started spans.
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attribute.String(AttrConversationID, conversationID))
	}

	return setInContext(ctx, lc)
}

// WithAgent attaches the acting agent's name to the context.
func WithAgent(ctx context.Context, name string) context.Context {
	lc := getFromContext(ctx)
	lc.agentName = name

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attribute.String(AttrAgentName, name))
	}

	return setInContext(ctx, lc)
}

// WithSession attaches a session id to the context.
func WithSession(ctx context.Context, sessionID string) context.Context {
	lc := getFromContext(ctx)
	lc.sessionID = sessionID

	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attribute.String(AttrSessionID, sessionID))
	}

	return setInContext(ctx, lc)
}
