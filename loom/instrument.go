package loom

import (
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Instrumentor wraps client API surfaces with tracing. Construct one with
// NewInstrumentor, call Instrument to activate it, then build your client
// against the wrapped surfaces returned by Responses, Conversations, Items,
// and Agents. While uninstrumented, every wrapper is a pure passthrough.
type Instrumentor struct {
	mu            sync.Mutex
	instrumented  bool
	policy        RecordingPolicy
	registrations []registration

	duration metric.Float64Histogram
	tokens   metric.Int64Histogram
}

// registration records one wrapped (api, operation) pair.
type registration struct {
	api       string
	operation string
}

// callInfo carries the server address of the wrapped client, recorded as
// server.address/server.port on spans and metrics.
type callInfo struct {
	server string
	port   int
}

// NewInstrumentor returns an inactive Instrumentor.
func NewInstrumentor() *Instrumentor {
	return &Instrumentor{}
}

// instrumentConfig collects Instrument() options.
type instrumentConfig struct {
	content *bool
}

// InstrumentOption configures Instrument().
type InstrumentOption func(*instrumentConfig)

// WithContentRecording overrides the content-recording setting that would
// otherwise come from OTEL_INSTRUMENTATION_GENAI_CAPTURE_MESSAGE_CONTENT.
func WithContentRecording(v bool) InstrumentOption {
	return func(c *instrumentConfig) { c.content = &v }
}

// Instrument activates tracing. Content recording resolves as explicit
// option > env var > false; binary-data recording comes from
// LOOM_INCLUDE_BINARY_DATA. Calling Instrument on an already-instrumented
// Instrumentor only refreshes the recording policy.
//
// Returns an error if instrumentation is disabled via
// LOOM_INSTRUMENT_RESPONSES_API.
func (in *Instrumentor) Instrument(opts ...InstrumentOption) error {
	if v, ok := envBool(EnvInstrumentResponses); ok && !v {
		return fmt.Errorf("loom: Responses API instrumentation is disabled by %s", EnvInstrumentResponses)
	}

	var ic instrumentConfig
	for _, opt := range opts {
		opt(&ic)
	}

	content := false
	switch {
	case ic.content != nil:
		content = *ic.content
	default:
		if v, ok := envBool(EnvCaptureContent); ok {
			content = v
		}
	}
	binary := false
	if v, ok := envBool(EnvIncludeBinaryData); ok {
		binary = v
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	in.policy.SetRecordContent(content)
	in.policy.SetRecordBinary(binary)

	if in.instrumented {
		return nil
	}

	meter := otel.GetMeterProvider().Meter(tracerName)

	var err error
	in.duration, err = meter.Float64Histogram(
		metricOperationDuration,
		metric.WithUnit("s"),
		metric.WithDescription("GenAI operation duration"),
		metric.WithExplicitBucketBoundaries(
			0.01, 0.02, 0.04, 0.08, 0.16, 0.32, 0.64,
			1.28, 2.56, 5.12, 10.24, 20.48, 40.96, 81.92,
		),
	)
	if err != nil {
		return fmt.Errorf("loom: creating duration histogram: %w", err)
	}
	in.tokens, err = meter.Int64Histogram(
		metricTokenUsage,
		metric.WithUnit("{token}"),
		metric.WithDescription("Measures number of input and output tokens used"),
		metric.WithExplicitBucketBoundaries(
			1, 4, 16, 64, 256, 1024, 4096, 16384,
			65536, 262144, 1048576, 4194304, 16777216, 67108864,
		),
	)
	if err != nil {
		return fmt.Errorf("loom: creating token usage histogram: %w", err)
	}

	in.instrumented = true
	return nil
}

// Uninstrument deactivates tracing. Every wrapper created from this
// Instrumentor becomes a pure passthrough, and the recording policy resets.
// A no-op when not instrumented.
func (in *Instrumentor) Uninstrument() {
	in.mu.Lock()
	defer in.mu.Unlock()
	if !in.instrumented {
		return
	}
	in.instrumented = false
	in.policy.SetRecordContent(false)
	in.policy.SetRecordBinary(false)
	in.registrations = nil
}

// IsInstrumented reports whether Instrument has been called and not undone.
func (in *Instrumentor) IsInstrumented() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.instrumented
}

// Policy returns the live recording policy. Changes take effect on the next
// traced event.
func (in *Instrumentor) Policy() *RecordingPolicy {
	return &in.policy
}

// enabled is the call-time gate consulted by every wrapper.
func (in *Instrumentor) enabled() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.instrumented
}

// histograms returns the metric instruments, or nils before Instrument.
func (in *Instrumentor) histograms() (metric.Float64Histogram, metric.Int64Histogram) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.duration, in.tokens
}

func (in *Instrumentor) register(api string, operations ...string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	for _, op := range operations {
		in.registrations = append(in.registrations, registration{api: api, operation: op})
	}
}

// ---------------------------------------------------------------------------
// Wrapping
// ---------------------------------------------------------------------------

// WrapOption configures a single wrapped API surface.
type WrapOption func(*callInfo)

// WithTarget records the client's endpoint so spans and metrics carry
// server.address and server.port. Invalid URLs are ignored.
func WithTarget(endpoint string) WrapOption {
	return func(ci *callInfo) {
		u, err := url.Parse(endpoint)
		if err != nil || u.Host == "" {
			slog.Debug("loom: ignoring unparseable target endpoint", "endpoint", endpoint)
			return
		}
		ci.server = u.Hostname()
		if p := u.Port(); p != "" {
			if n, err := strconv.Atoi(p); err == nil {
				ci.port = n
			}
		}
	}
}

func resolveCallInfo(opts []WrapOption) callInfo {
	var ci callInfo
	for _, opt := range opts {
		opt(&ci)
	}
	return ci
}

// Responses wraps a ResponsesAPI with tracing.
func (in *Instrumentor) Responses(base ResponsesAPI, opts ...WrapOption) *TracedResponses {
	in.register("responses", "create", "stream")
	return &TracedResponses{inst: in, base: base, call: resolveCallInfo(opts)}
}

// Conversations wraps a ConversationsAPI with tracing.
func (in *Instrumentor) Conversations(base ConversationsAPI, opts ...WrapOption) *TracedConversations {
	in.register("conversations", "create")
	return &TracedConversations{inst: in, base: base, call: resolveCallInfo(opts)}
}

// Items wraps a ConversationItemsAPI with tracing.
func (in *Instrumentor) Items(base ConversationItemsAPI, opts ...WrapOption) *TracedItems {
	in.register("conversation_items", "list")
	return &TracedItems{inst: in, base: base, call: resolveCallInfo(opts)}
}

// Agents wraps an AgentsAPI with tracing.
func (in *Instrumentor) Agents(base AgentsAPI, opts ...WrapOption) *TracedAgents {
	in.register("agents", "create_version")
	return &TracedAgents{inst: in, base: base, call: resolveCallInfo(opts)}
}
