package loom

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// streamAccumulator folds the chunks of one streaming response and owns the
// open span until finalization. Finalization happens exactly once, whether
// the stream ends normally, fails mid-flight, or is closed early.
type streamAccumulator struct {
	inst  *Instrumentor
	ctx   context.Context
	span  trace.Span
	req   ResponseRequest
	call  callInfo
	start time.Time

	mu    sync.Mutex
	ended bool

	// Completed items keyed by call_id, falling back to id. Later items
	// under the same key replace earlier ones; order preserves first
	// appearance.
	items map[string]*Item
	order []string

	// Text deltas in arrival order.
	parts []string

	// First-write-wins response metadata.
	responseID    string
	responseModel string
	serviceTier   string

	inputTokens  int64
	outputTokens int64
}

func newStreamAccumulator(inst *Instrumentor, ctx context.Context, span trace.Span, req ResponseRequest, call callInfo, start time.Time) *streamAccumulator {
	return &streamAccumulator{
		inst:  inst,
		ctx:   ctx,
		span:  span,
		req:   req,
		call:  call,
		start: start,
		items: map[string]*Item{},
	}
}

// observe folds one chunk into the accumulated state.
func (a *streamAccumulator) observe(ev StreamEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ended {
		return
	}

	switch {
	case ev.Type == "response.output_item.done":
		if ev.Item != nil {
			key := firstNonEmpty(ev.Item.CallID, ev.Item.ID)
			if _, seen := a.items[key]; !seen {
				a.order = append(a.order, key)
			}
			item := *ev.Item
			a.items[key] = &item
		}

	case ev.Type == "response.created", ev.Type == "response.completed":
		if ev.Response != nil {
			a.setMeta(ev.Response.ID, ev.Response.Model, ev.Response.ServiceTier)
			a.addUsage(ev.Response.Usage)
		}
		a.setMeta(ev.ID, ev.Model, ev.ServiceTier)

	case strings.HasSuffix(ev.Type, ".delta"):
		// Function-call argument deltas are not assistant text.
		if !strings.Contains(ev.Type, "function_call_arguments") {
			switch d := ev.Delta.(type) {
			case string:
				if d != "" {
					a.parts = append(a.parts, d)
				}
			case TextDelta:
				if d.Text != "" {
					a.parts = append(a.parts, d.Text)
				}
			case *TextDelta:
				if d != nil && d.Text != "" {
					a.parts = append(a.parts, d.Text)
				}
			}
		}
	}

	a.addUsage(ev.Usage)
}

func (a *streamAccumulator) setMeta(id, model, tier string) {
	if a.responseID == "" {
		a.responseID = id
	}
	if a.responseModel == "" {
		a.responseModel = model
	}
	if a.serviceTier == "" {
		a.serviceTier = tier
	}
}

// addUsage sums token counts additively across chunks, counting both the
// Responses API names and the legacy prompt/completion names.
func (a *streamAccumulator) addUsage(u *Usage) {
	if u == nil {
		return
	}
	a.inputTokens += u.InputTokens + u.PromptTokens
	a.outputTokens += u.OutputTokens + u.CompletionTokens
}

// finish finalizes the span with success state. Safe to call more than
// once; only the first call does anything.
func (a *streamAccumulator) finish() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ended {
		return
	}
	a.ended = true

	usage := &Usage{InputTokens: a.inputTokens, OutputTokens: a.outputTokens}
	a.inst.recordMetrics(a.ctx, opResponses, a.req.Model, a.responseModel, usage, a.call, time.Since(a.start), "")

	if a.span.IsRecording() {
		policy := a.inst.Policy()

		items := make([]Item, 0, len(a.order))
		for _, key := range a.order {
			items = append(items, *a.items[key])
		}
		toolCallEvents(a.span, items, policy)

		if text := strings.Join(a.parts, ""); strings.TrimSpace(text) != "" {
			messageEvent(a.span, "assistant", text, policy)
		}

		var attrs []attribute.KeyValue
		if a.responseID != "" {
			attrs = append(attrs, attribute.String(AttrResponseID, a.responseID))
		}
		if a.responseModel != "" {
			attrs = append(attrs, attribute.String(AttrResponseModel, a.responseModel))
		}
		if a.serviceTier != "" {
			attrs = append(attrs, attribute.String(AttrServiceTier, a.serviceTier))
		}
		if a.inputTokens > 0 {
			attrs = append(attrs, attribute.Int64(AttrUsageInputTokens, a.inputTokens))
		}
		if a.outputTokens > 0 {
			attrs = append(attrs, attribute.Int64(AttrUsageOutputTokens, a.outputTokens))
		}
		a.span.SetAttributes(attrs...)
		a.span.SetStatus(codes.Ok, "")
	}
	a.span.End()
}

// fail finalizes the span with error state. Like finish, first call wins.
func (a *streamAccumulator) fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ended {
		return
	}
	a.ended = true

	a.inst.recordMetrics(a.ctx, opResponses, a.req.Model, a.responseModel, nil, a.call, time.Since(a.start), errorType(err))

	if a.span.IsRecording() {
		a.span.SetAttributes(attribute.String(AttrErrorType, errorType(err)))
		a.span.RecordError(err)
		a.span.SetStatus(codes.Error, err.Error())
	}
	a.span.End()
}

// tracedStream is the pull-iterator shim over a stream accumulator.
type tracedStream struct {
	base ResponseStream
	acc  *streamAccumulator
}

var _ ResponseStream = (*tracedStream)(nil)

// Next returns the next chunk. io.EOF finalizes the span with success; any
// other error finalizes it with error state and propagates unchanged.
func (s *tracedStream) Next() (StreamEvent, error) {
	ev, err := s.base.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.acc.finish()
		} else {
			s.acc.fail(err)
		}
		return ev, err
	}
	s.acc.observe(ev)
	return ev, nil
}

// Close closes the underlying stream and finalizes the span. This is the
// cleanup path for callers that abandon iteration early.
func (s *tracedStream) Close() error {
	err := s.base.Close()
	s.acc.finish()
	return err
}

// Events adapts a response stream into a range-over-func iterator. The
// stream is closed when iteration stops, so early breaks still finalize the
// span. io.EOF terminates iteration silently; any other error is yielded
// once and ends it.
func Events(stream ResponseStream) iter.Seq2[StreamEvent, error] {
	return func(yield func(StreamEvent, error) bool) {
		defer stream.Close()
		for {
			ev, err := stream.Next()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					yield(StreamEvent{}, err)
				}
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}
