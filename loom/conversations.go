package loom

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracedConversations is an instrumented ConversationsAPI.
type TracedConversations struct {
	inst *Instrumentor
	base ConversationsAPI
	call callInfo
}

var _ ConversationsAPI = (*TracedConversations)(nil)

// Unwrap returns the wrapped base implementation.
func (t *TracedConversations) Unwrap() ConversationsAPI { return t.base }

// Create creates a conversation under a client span.
func (t *TracedConversations) Create(ctx context.Context, metadata map[string]any) (*Conversation, error) {
	if !t.inst.enabled() {
		return t.base.Create(ctx, metadata)
	}

	start := time.Now()
	tracer := otel.GetTracerProvider().Tracer(tracerName)
	ctx, span := tracer.Start(ctx, opCreateConv, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	recording := span.IsRecording()
	if recording {
		attrs := []attribute.KeyValue{
			attribute.String(AttrOperationName, opCreateConv),
			attribute.String(AttrProviderName, providerName),
		}
		attrs = append(attrs, serverAttrs(t.call)...)
		span.SetAttributes(attrs...)
	}

	conv, err := t.base.Create(ctx, metadata)
	elapsed := time.Since(start)
	if err != nil {
		t.inst.recordMetrics(ctx, opCreateConv, "", "", nil, t.call, elapsed, errorType(err))
		if recording {
			span.SetAttributes(attribute.String(AttrErrorType, errorType(err)))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}
	t.inst.recordMetrics(ctx, opCreateConv, "", "", nil, t.call, elapsed, "")

	if recording {
		if conv != nil && conv.ID != "" {
			span.SetAttributes(attribute.String(AttrConversationID, conv.ID))
		}
		span.SetStatus(codes.Ok, "")
	}
	return conv, nil
}

// TracedItems is an instrumented ConversationItemsAPI. Listing is traced
// lazily: the span stays open while the caller drains the item stream and
// each item becomes an event as it is yielded.
type TracedItems struct {
	inst *Instrumentor
	base ConversationItemsAPI
	call callInfo
}

var _ ConversationItemsAPI = (*TracedItems)(nil)

// Unwrap returns the wrapped base implementation.
func (t *TracedItems) Unwrap() ConversationItemsAPI { return t.base }

// List lists the items of a conversation under a client span that ends when
// the returned stream is exhausted, fails, or is closed.
func (t *TracedItems) List(ctx context.Context, conversationID string) (ItemStream, error) {
	if !t.inst.enabled() {
		return t.base.List(ctx, conversationID)
	}

	start := time.Now()
	tracer := otel.GetTracerProvider().Tracer(tracerName)
	ctx, span := tracer.Start(ctx, spanName(opListConvItems, conversationID), trace.WithSpanKind(trace.SpanKindClient))

	recording := span.IsRecording()
	if recording {
		attrs := []attribute.KeyValue{
			attribute.String(AttrOperationName, opListConvItems),
			attribute.String(AttrProviderName, providerName),
		}
		if conversationID != "" {
			attrs = append(attrs, attribute.String(AttrConversationID, conversationID))
		}
		attrs = append(attrs, serverAttrs(t.call)...)
		span.SetAttributes(attrs...)
	}

	stream, err := t.base.List(ctx, conversationID)
	if err != nil {
		t.inst.recordMetrics(ctx, opListConvItems, "", "", nil, t.call, time.Since(start), errorType(err))
		if recording {
			span.SetAttributes(attribute.String(AttrErrorType, errorType(err)))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		return nil, err
	}

	return &tracedItemStream{
		inst:  t.inst,
		base:  stream,
		ctx:   ctx,
		span:  span,
		call:  t.call,
		start: start,
	}, nil
}

// tracedItemStream emits one event per yielded item and finalizes the list
// span exactly once.
type tracedItemStream struct {
	inst  *Instrumentor
	base  ItemStream
	ctx   context.Context
	span  trace.Span
	call  callInfo
	start time.Time

	mu    sync.Mutex
	ended bool
}

var _ ItemStream = (*tracedItemStream)(nil)

func (s *tracedItemStream) Next() (Item, error) {
	item, err := s.base.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			s.finalize(nil)
		} else {
			s.finalize(err)
		}
		return item, err
	}
	if s.span.IsRecording() {
		conversationItemEvent(s.span, item, s.inst.Policy())
	}
	return item, nil
}

func (s *tracedItemStream) Close() error {
	err := s.base.Close()
	s.finalize(nil)
	return err
}

func (s *tracedItemStream) finalize(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.ended = true

	var errType string
	if err != nil {
		errType = errorType(err)
	}
	s.inst.recordMetrics(s.ctx, opListConvItems, "", "", nil, s.call, time.Since(s.start), errType)

	if s.span.IsRecording() {
		if err != nil {
			s.span.SetAttributes(attribute.String(AttrErrorType, errType))
			s.span.RecordError(err)
			s.span.SetStatus(codes.Error, err.Error())
		} else {
			s.span.SetStatus(codes.Ok, "")
		}
	}
	s.span.End()
}
