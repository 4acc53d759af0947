package loom

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracedAgents is an instrumented AgentsAPI.
type TracedAgents struct {
	inst *Instrumentor
	base AgentsAPI
	call callInfo
}

var _ AgentsAPI = (*TracedAgents)(nil)

// Unwrap returns the wrapped base implementation.
func (t *TracedAgents) Unwrap() AgentsAPI { return t.base }

// CreateVersion creates a new agent version under a client span carrying
// the agent's identity and a system-instruction event from its definition.
func (t *TracedAgents) CreateVersion(ctx context.Context, req AgentVersionRequest) (*AgentVersion, error) {
	if !t.inst.enabled() {
		return t.base.CreateVersion(ctx, req)
	}

	start := time.Now()
	tracer := otel.GetTracerProvider().Tracer(tracerName)
	ctx, span := tracer.Start(ctx, spanName(opCreateAgent, req.AgentName), trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	recording := span.IsRecording()
	if recording {
		attrs := agentAttrs(req)
		attrs = append(attrs, serverAttrs(t.call)...)
		span.SetAttributes(attrs...)
		if req.Definition.Instructions != "" {
			systemInstructionEvent(span, req.Definition.Instructions, t.inst.Policy())
		}
	}

	version, err := t.base.CreateVersion(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		t.inst.recordMetrics(ctx, opCreateAgent, req.Definition.Model, "", nil, t.call, elapsed, errorType(err))
		if recording {
			span.SetAttributes(attribute.String(AttrErrorType, errorType(err)))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}
	t.inst.recordMetrics(ctx, opCreateAgent, req.Definition.Model, "", nil, t.call, elapsed, "")

	if recording {
		if version != nil {
			if version.ID != "" {
				span.SetAttributes(attribute.String(AttrAgentID, version.ID))
			}
			if version.Version != "" {
				span.SetAttributes(attribute.String(AttrAgentVersion, version.Version))
			}
		}
		span.SetStatus(codes.Ok, "")
	}
	return version, nil
}
