package loom

import (
	"context"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Compile-time check that loomSpanProcessor implements SpanProcessor.
var _ sdktrace.SpanProcessor = (*loomSpanProcessor)(nil)

// loomSpanProcessor injects loom context attributes into every span on
// start. It reads the loomContext stored in context.Context (set by the
// WithConversation/WithAgent/WithSession helpers) and writes non-zero
// values as span attributes.
type loomSpanProcessor struct{}

func (p *loomSpanProcessor) OnStart(ctx context.Context, span sdktrace.ReadWriteSpan) {
	attrs := contextAttrs(ctx)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
}

func (p *loomSpanProcessor) OnEnd(_ sdktrace.ReadOnlySpan) {}

func (p *loomSpanProcessor) Shutdown(_ context.Context) error {
	return nil
}

func (p *loomSpanProcessor) ForceFlush(_ context.Context) error {
	return nil
}
