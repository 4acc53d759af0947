package loom

import (
	"context"
	"io"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace/noop"
)

// newGlobalTestProvider creates a TracerProvider wired with the
// loomSpanProcessor and a synchronous InMemoryExporter, registers it as the
// global OTel provider (wrappers pick providers up at call time), and
// returns the exporter for assertions.
func newGlobalTestProvider(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(&loomSpanProcessor{}),
		sdktrace.WithSyncer(exporter),
	)
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(noop.NewTracerProvider())
	})
	return exporter
}

// newGlobalTestMeter registers a MeterProvider backed by a ManualReader so
// tests can collect recorded metrics on demand.
func newGlobalTestMeter(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(mp)
	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
	})
	return reader
}

// collectMetrics drains the manual reader and indexes metrics by name.
func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	out := map[string]metricdata.Metrics{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

// newTestInstrumentor returns an active Instrumentor. Instrument must be
// called after newGlobalTestMeter so the histograms bind to the test meter.
func newTestInstrumentor(t *testing.T, opts ...InstrumentOption) *Instrumentor {
	t.Helper()
	in := NewInstrumentor()
	if err := in.Instrument(opts...); err != nil {
		t.Fatalf("instrument: %v", err)
	}
	return in
}

// attrMap converts a slice of OTel KeyValue attributes into a map for
// easier test assertions. String values become string, int values become
// int64 (the OTel Go SDK internal representation).
func attrMap(kvs []attribute.KeyValue) map[string]any {
	m := make(map[string]any, len(kvs))
	for _, kv := range kvs {
		m[string(kv.Key)] = kv.Value.AsInterface()
	}
	return m
}

// eventsNamed filters a span's events by name, preserving order.
func eventsNamed(span tracetest.SpanStub, name string) []sdktrace.Event {
	var out []sdktrace.Event
	for _, ev := range span.Events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeStream replays a fixed chunk sequence. terminalErr, when set,
// replaces the normal io.EOF at exhaustion.
type fakeStream struct {
	events      []StreamEvent
	terminalErr error
	pos         int
	closed      bool
}

func (s *fakeStream) Next() (StreamEvent, error) {
	if s.pos >= len(s.events) {
		if s.terminalErr != nil {
			return StreamEvent{}, s.terminalErr
		}
		return StreamEvent{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

// fakeResponses is a scripted ResponsesAPI. When delegate is set, Stream
// calls back into it the way a real client's streaming entry point calls
// its own create path.
type fakeResponses struct {
	resp        *Response
	err         error
	events      []StreamEvent
	terminalErr error
	lastStream  *fakeStream
	delegate    ResponsesAPI

	createCalls       int
	createStreamCalls int
	streamCalls       int
}

func (f *fakeResponses) Create(_ context.Context, _ ResponseRequest) (*Response, error) {
	f.createCalls++
	return f.resp, f.err
}

func (f *fakeResponses) CreateStream(_ context.Context, _ ResponseRequest) (ResponseStream, error) {
	f.createStreamCalls++
	if f.err != nil {
		return nil, f.err
	}
	f.lastStream = &fakeStream{events: f.events, terminalErr: f.terminalErr}
	return f.lastStream, nil
}

func (f *fakeResponses) Stream(ctx context.Context, req ResponseRequest) (ResponseStream, error) {
	f.streamCalls++
	if f.delegate != nil {
		return f.delegate.CreateStream(ctx, req)
	}
	if f.err != nil {
		return nil, f.err
	}
	f.lastStream = &fakeStream{events: f.events, terminalErr: f.terminalErr}
	return f.lastStream, nil
}

type fakeConversations struct {
	conv  *Conversation
	err   error
	calls int
}

func (f *fakeConversations) Create(_ context.Context, _ map[string]any) (*Conversation, error) {
	f.calls++
	return f.conv, f.err
}

// fakeItemStream replays items, optionally failing after failAfter items
// instead of reaching io.EOF.
type fakeItemStream struct {
	items     []Item
	failAfter int
	failWith  error
	pos       int
	closed    bool
}

func (s *fakeItemStream) Next() (Item, error) {
	if s.failWith != nil && s.pos >= s.failAfter {
		return Item{}, s.failWith
	}
	if s.pos >= len(s.items) {
		return Item{}, io.EOF
	}
	item := s.items[s.pos]
	s.pos++
	return item, nil
}

func (s *fakeItemStream) Close() error {
	s.closed = true
	return nil
}

type fakeItems struct {
	stream *fakeItemStream
	err    error
}

func (f *fakeItems) List(_ context.Context, _ string) (ItemStream, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.stream, nil
}

type fakeAgents struct {
	version *AgentVersion
	err     error
	calls   int
}

func (f *fakeAgents) CreateVersion(_ context.Context, _ AgentVersionRequest) (*AgentVersion, error) {
	f.calls++
	return f.version, f.err
}
