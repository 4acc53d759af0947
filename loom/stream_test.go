package loom

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func streamScenario() []StreamEvent {
	return []StreamEvent{
		{Type: "response.created", Response: &Response{ID: "r1", Model: "gpt-x"}},
		{Type: "response.output_text.delta", Delta: "Hello"},
		{Type: "response.output_text.delta", Delta: " world"},
		{Type: "response.output_item.done", Item: &Item{
			Type: "function_call", CallID: "c1", Name: "lookup", Arguments: "{}",
		}},
		{Type: "response.completed", Response: &Response{
			ID: "r1", Model: "gpt-x", Usage: &Usage{InputTokens: 10, OutputTokens: 4},
		}},
	}
}

func drain(t *testing.T, stream ResponseStream) {
	t.Helper()
	for {
		_, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		require.NoError(t, err)
	}
}

// ---------------------------------------------------------------------------
// Accumulation
// ---------------------------------------------------------------------------

func TestStream_ScenarioFinalSpanState(t *testing.T) {
	exporter := newGlobalTestProvider(t)
	newGlobalTestMeter(t)
	inst := newTestInstrumentor(t, WithContentRecording(true))

	base := &fakeResponses{events: streamScenario()}
	traced := inst.Responses(base)

	stream, err := traced.CreateStream(context.Background(), ResponseRequest{Model: "gpt-4o", Stream: true})
	require.NoError(t, err)
	drain(t, stream)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	span := spans[0]
	assert.Equal(t, codes.Ok, span.Status.Code)

	attrs := attrMap(span.Attributes)
	assert.Equal(t, "r1", attrs[AttrResponseID])
	assert.Equal(t, "gpt-x", attrs[AttrResponseModel])
	assert.Equal(t, int64(10), attrs[AttrUsageInputTokens])
	assert.Equal(t, int64(4), attrs[AttrUsageOutputTokens])

	toolCalls := eventsNamed(span, eventAssistantMessage)
	require.Len(t, toolCalls, 2) // tool call + joined text

	body := eventBody(t, attrMap(toolCalls[0].Attributes))
	tc := body["content"].([]any)[0].(map[string]any)["tool_call"].(map[string]any)
	assert.Equal(t, "c1", tc["id"])

	body = eventBody(t, attrMap(toolCalls[1].Attributes))
	assert.Equal(t, "Hello world", body["content"].([]any)[0].(map[string]any)["text"])
}

func TestStream_DeltaOrderPreserved(t *testing.T) {
	exporter := newGlobalTestProvider(t)
	newGlobalTestMeter(t)
	inst := newTestInstrumentor(t, WithContentRecording(true))

	base := &fakeResponses{events: []StreamEvent{
		{Type: "response.output_text.delta", Delta: "a"},
		{Type: "response.output_text.delta", Delta: "b"},
		{Type: "response.output_text.delta", Delta: TextDelta{Text: "c"}},
	}}
	stream, err := inst.Responses(base).CreateStream(context.Background(), ResponseRequest{Model: "m"})
	require.NoError(t, err)
	drain(t, stream)

	span := exporter.GetSpans()[0]
	events := eventsNamed(span, eventAssistantMessage)
	require.Len(t, events, 1)
	body := eventBody(t, attrMap(events[0].Attributes))
	assert.Equal(t, "abc", body["content"].([]any)[0].(map[string]any)["text"])
}

func TestStream_FunctionCallArgumentDeltasExcluded(t *testing.T) {
	exporter := newGlobalTestProvider(t)
	newGlobalTestMeter(t)
	inst := newTestInstrumentor(t, WithContentRecording(true))

	base := &fakeResponses{events: []StreamEvent{
		{Type: "response.function_call_arguments.delta", Delta: `{"city":`},
		{Type: "response.output_text.delta", Delta: "done"},
	}}
	stream, err := inst.Responses(base).CreateStream(context.Background(), ResponseRequest{Model: "m"})
	require.NoError(t, err)
	drain(t, stream)

	span := exporter.GetSpans()[0]
	body := eventBody(t, attrMap(eventsNamed(span, eventAssistantMessage)[0].Attributes))
	assert.Equal(t, "done", body["content"].([]any)[0].(map[string]any)["text"])
}

func TestStream_ResponseMetadataFirstWriteWins(t *testing.T) {
	exporter := newGlobalTestProvider(t)
	newGlobalTestMeter(t)
	inst := newTestInstrumentor(t)

	base := &fakeResponses{events: []StreamEvent{
		{Type: "response.created", Response: &Response{ID: "first", Model: "model-a"}},
		{Type: "response.completed", Response: &Response{ID: "second", Model: "model-b"}},
	}}
	stream, err := inst.Responses(base).CreateStream(context.Background(), ResponseRequest{Model: "m"})
	require.NoError(t, err)
	drain(t, stream)

	attrs := attrMap(exporter.GetSpans()[0].Attributes)
	assert.Equal(t, "first", attrs[AttrResponseID])
	assert.Equal(t, "model-a", attrs[AttrResponseModel])
}

func TestStream_UsageSumsAcrossChunksAndConventions(t *testing.T) {
	exporter := newGlobalTestProvider(t)
	newGlobalTestMeter(t)
	inst := newTestInstrumentor(t)

	base := &fakeResponses{events: []StreamEvent{
		{Type: "response.output_text.delta", Delta: "x", Usage: &Usage{OutputTokens: 1}},
		{Type: "response.output_text.delta", Delta: "y", Usage: &Usage{CompletionTokens: 2}},
		{Type: "response.completed", Response: &Response{Usage: &Usage{InputTokens: 8}}},
	}}
	stream, err := inst.Responses(base).CreateStream(context.Background(), ResponseRequest{Model: "m"})
	require.NoError(t, err)
	drain(t, stream)

	attrs := attrMap(exporter.GetSpans()[0].Attributes)
	assert.Equal(t, int64(8), attrs[AttrUsageInputTokens])
	assert.Equal(t, int64(3), attrs[AttrUsageOutputTokens])
}

// ---------------------------------------------------------------------------
// Finalization
// ---------------------------------------------------------------------------

func TestStream_CloseAfterEOFIsIdempotent(t *testing.T) {
	exporter := newGlobalTestProvider(t)
	newGlobalTestMeter(t)
	inst := newTestInstrumentor(t)

	base := &fakeResponses{events: streamScenario()}
	stream, err := inst.Responses(base).CreateStream(context.Background(), ResponseRequest{Model: "m"})
	require.NoError(t, err)
	drain(t, stream)
	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())

	assert.Len(t, exporter.GetSpans(), 1)
}

func TestStream_EarlyCloseFinalizesSpan(t *testing.T) {
	exporter := newGlobalTestProvider(t)
	newGlobalTestMeter(t)
	inst := newTestInstrumentor(t)

	base := &fakeResponses{events: streamScenario()}
	stream, err := inst.Responses(base).CreateStream(context.Background(), ResponseRequest{Model: "m"})
	require.NoError(t, err)

	_, err = stream.Next()
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	assert.True(t, base.lastStream.closed)
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
}

func TestStream_MidStreamErrorPropagatesIdentically(t *testing.T) {
	exporter := newGlobalTestProvider(t)
	newGlobalTestMeter(t)
	inst := newTestInstrumentor(t)

	sentinel := errors.New("connection reset")
	base := &fakeResponses{
		events:      []StreamEvent{{Type: "response.output_text.delta", Delta: "partial"}},
		terminalErr: sentinel,
	}
	stream, err := inst.Responses(base).CreateStream(context.Background(), ResponseRequest{Model: "m"})
	require.NoError(t, err)

	_, err = stream.Next()
	require.NoError(t, err)
	_, err = stream.Next()
	if err != sentinel {
		t.Fatalf("error identity lost: got %v", err)
	}

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Contains(t, attrMap(spans[0].Attributes), AttrErrorType)
}

func TestStream_OpenErrorEndsSpan(t *testing.T) {
	exporter := newGlobalTestProvider(t)
	newGlobalTestMeter(t)
	inst := newTestInstrumentor(t)

	sentinel := errors.New("bad request")
	_, err := inst.Responses(&fakeResponses{err: sentinel}).CreateStream(context.Background(), ResponseRequest{Model: "m"})
	if err != sentinel {
		t.Fatalf("error identity lost: got %v", err)
	}
	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
}

// ---------------------------------------------------------------------------
// Recursion avoidance and iterator parity
// ---------------------------------------------------------------------------

// A client whose Stream delegates to the instrumented CreateStream must
// still produce exactly one span.
func TestStream_DelegatingClientProducesOneSpan(t *testing.T) {
	exporter := newGlobalTestProvider(t)
	newGlobalTestMeter(t)
	inst := newTestInstrumentor(t)

	base := &fakeResponses{events: streamScenario()}
	traced := inst.Responses(base)
	base.delegate = traced

	stream, err := traced.Stream(context.Background(), ResponseRequest{Model: "m"})
	require.NoError(t, err)
	drain(t, stream)

	assert.Len(t, exporter.GetSpans(), 1)
	assert.Equal(t, 1, base.createStreamCalls)
}

// The range-over-func adapter and the pull iterator must leave identical
// final span state for the same chunk sequence.
func TestStream_EventsIteratorParity(t *testing.T) {
	run := func(consume func(ResponseStream)) tracetest.SpanStub {
		exporter := newGlobalTestProvider(t)
		newGlobalTestMeter(t)
		inst := newTestInstrumentor(t, WithContentRecording(true))

		base := &fakeResponses{events: streamScenario()}
		stream, err := inst.Responses(base).CreateStream(context.Background(), ResponseRequest{Model: "gpt-4o"})
		require.NoError(t, err)
		consume(stream)

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		return spans[0]
	}

	pull := run(func(s ResponseStream) { drain(t, s) })
	pushed := run(func(s ResponseStream) {
		for _, err := range Events(s) {
			require.NoError(t, err)
		}
	})

	assert.Equal(t, attrMap(pull.Attributes), attrMap(pushed.Attributes))
	require.Equal(t, len(pull.Events), len(pushed.Events))
	for i := range pull.Events {
		assert.Equal(t, pull.Events[i].Name, pushed.Events[i].Name)
	}
	assert.Equal(t, pull.Status.Code, pushed.Status.Code)
}

func TestEvents_EarlyBreakClosesStream(t *testing.T) {
	exporter := newGlobalTestProvider(t)
	newGlobalTestMeter(t)
	inst := newTestInstrumentor(t)

	base := &fakeResponses{events: streamScenario()}
	stream, err := inst.Responses(base).CreateStream(context.Background(), ResponseRequest{Model: "m"})
	require.NoError(t, err)

	for range Events(stream) {
		break
	}

	assert.True(t, base.lastStream.closed)
	assert.Len(t, exporter.GetSpans(), 1)
}
