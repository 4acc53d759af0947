package loom

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracedResponses is an instrumented ResponsesAPI. While the owning
// Instrumentor is uninstrumented it delegates straight to the base.
type TracedResponses struct {
	inst *Instrumentor
	base ResponsesAPI
	call callInfo
}

var _ ResponsesAPI = (*TracedResponses)(nil)

// Unwrap returns the wrapped base implementation.
func (t *TracedResponses) Unwrap() ResponsesAPI { return t.base }

// Create issues a non-streaming responses call under a client span.
func (t *TracedResponses) Create(ctx context.Context, req ResponseRequest) (*Response, error) {
	if !t.inst.enabled() {
		return t.base.Create(ctx, req)
	}

	start := time.Now()
	tracer := otel.GetTracerProvider().Tracer(tracerName)
	ctx, span := tracer.Start(ctx, responsesSpanName(req), trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	recording := span.IsRecording()
	if recording {
		span.SetAttributes(requestAttrs(req, t.call)...)
		requestEvents(span, req.Input, t.inst.Policy())
	}

	resp, err := t.base.Create(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		t.inst.recordMetrics(ctx, opResponses, req.Model, "", nil, t.call, elapsed, errorType(err))
		if recording {
			span.SetAttributes(attribute.String(AttrErrorType, errorType(err)))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}

	var respModel string
	var usage *Usage
	if resp != nil {
		respModel = resp.Model
		usage = resp.Usage
	}
	t.inst.recordMetrics(ctx, opResponses, req.Model, respModel, usage, t.call, elapsed, "")

	if recording && resp != nil {
		span.SetAttributes(responseAttrs(resp)...)
		toolCallEvents(span, resp.Output, t.inst.Policy())
		if text := outputText(resp); strings.TrimSpace(text) != "" {
			messageEvent(span, "assistant", text, t.inst.Policy())
		}
	}
	if recording {
		span.SetStatus(codes.Ok, "")
	}
	return resp, nil
}

// CreateStream issues a streaming responses call. The returned stream keeps
// the span open and finalizes it at exhaustion, error, or Close. When the
// context carries the stream-tracing marker set by Stream, this is a pure
// passthrough so delegating client implementations do not produce a second
// span.
func (t *TracedResponses) CreateStream(ctx context.Context, req ResponseRequest) (ResponseStream, error) {
	if !t.inst.enabled() || isStreamTracing(ctx) {
		return t.base.CreateStream(ctx, req)
	}
	return t.startStream(ctx, req, t.base.CreateStream)
}

// Stream issues a streaming responses call via the client's dedicated
// streaming entry point.
func (t *TracedResponses) Stream(ctx context.Context, req ResponseRequest) (ResponseStream, error) {
	if !t.inst.enabled() || isStreamTracing(ctx) {
		return t.base.Stream(ctx, req)
	}
	return t.startStream(markStreamTracing(ctx), req, t.base.Stream)
}

// startStream opens the span, fires the pre-call events, and hands the open
// span to a stream accumulator.
func (t *TracedResponses) startStream(ctx context.Context, req ResponseRequest, open func(context.Context, ResponseRequest) (ResponseStream, error)) (ResponseStream, error) {
	start := time.Now()
	tracer := otel.GetTracerProvider().Tracer(tracerName)
	ctx, span := tracer.Start(ctx, responsesSpanName(req), trace.WithSpanKind(trace.SpanKindClient))

	recording := span.IsRecording()
	if recording {
		span.SetAttributes(requestAttrs(req, t.call)...)
		requestEvents(span, req.Input, t.inst.Policy())
	}

	stream, err := open(ctx, req)
	if err != nil {
		t.inst.recordMetrics(ctx, opResponses, req.Model, "", nil, t.call, time.Since(start), errorType(err))
		if recording {
			span.SetAttributes(attribute.String(AttrErrorType, errorType(err)))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		return nil, err
	}

	acc := newStreamAccumulator(t.inst, ctx, span, req, t.call, start)
	return &tracedStream{base: stream, acc: acc}, nil
}

// responsesSpanName prefers the model, then the agent name, then the bare
// operation.
func responsesSpanName(req ResponseRequest) string {
	return spanName(opResponses, firstNonEmpty(req.Model, req.AgentName))
}

// errorType renders an error's type for the error.type attribute.
func errorType(err error) string {
	return fmt.Sprintf("%T", err)
}
