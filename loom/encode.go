package loom

import (
	"encoding/json"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// spanName joins an operation name and its suffix ("responses gpt-4o",
// "create_agent helper").
func spanName(op, suffix string) string {
	if suffix == "" {
		return op
	}
	return op + " " + suffix
}

// toJSON marshals v for use in span attributes and event bodies. Extraction
// never fails a traced call, so marshal errors are logged and reported as
// not-ok.
func toJSON(v any) (string, bool) {
	b, err := json.Marshal(v)
	if err != nil {
		slog.Debug("loom: could not marshal telemetry payload", "error", err)
		return "", false
	}
	return string(b), true
}

// usageTokens returns the input and output token counts of a usage record,
// preferring the Responses API field names over the legacy prompt/completion
// names. First non-zero value wins per side.
func usageTokens(u *Usage) (int64, int64) {
	if u == nil {
		return 0, 0
	}
	in := u.InputTokens
	if in == 0 {
		in = u.PromptTokens
	}
	out := u.OutputTokens
	if out == 0 {
		out = u.CompletionTokens
	}
	return in, out
}

// requestAttrs extracts span attributes from a responses request. Every
// field is optional; absent fields produce no attribute.
func requestAttrs(req ResponseRequest, call callInfo) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrOperationName, opResponses),
		attribute.String(AttrProviderName, providerName),
	}
	if req.Model != "" {
		attrs = append(attrs, attribute.String(AttrRequestModel, req.Model))
	}
	if req.ConversationID != "" {
		attrs = append(attrs, attribute.String(AttrConversationID, req.ConversationID))
	}
	if req.AgentName != "" {
		attrs = append(attrs, attribute.String(AttrRequestAgentName, req.AgentName))
	}
	if len(req.Tools) > 0 {
		if s, ok := toJSON(req.Tools); ok {
			attrs = append(attrs, attribute.String(AttrRequestTools, s))
		}
	}
	attrs = append(attrs, serverAttrs(call)...)
	return attrs
}

func serverAttrs(call callInfo) []attribute.KeyValue {
	if call.server == "" {
		return nil
	}
	attrs := []attribute.KeyValue{attribute.String(AttrServerAddress, call.server)}
	if call.port != 0 {
		attrs = append(attrs, attribute.Int(AttrServerPort, call.port))
	}
	return attrs
}

// responseAttrs extracts span attributes from a completed response.
func responseAttrs(resp *Response) []attribute.KeyValue {
	if resp == nil {
		return nil
	}
	var attrs []attribute.KeyValue
	if resp.ID != "" {
		attrs = append(attrs, attribute.String(AttrResponseID, resp.ID))
	}
	if resp.Model != "" {
		attrs = append(attrs, attribute.String(AttrResponseModel, resp.Model))
	}
	if resp.SystemFingerprint != "" {
		attrs = append(attrs, attribute.String(AttrSystemFingerprint, resp.SystemFingerprint))
	}
	if resp.ServiceTier != "" {
		attrs = append(attrs, attribute.String(AttrServiceTier, resp.ServiceTier))
	}
	if reasons := finishReasons(resp); len(reasons) > 0 {
		attrs = append(attrs, attribute.StringSlice(AttrFinishReasons, reasons))
	}
	in, out := usageTokens(resp.Usage)
	if in > 0 {
		attrs = append(attrs, attribute.Int64(AttrUsageInputTokens, in))
	}
	if out > 0 {
		attrs = append(attrs, attribute.Int64(AttrUsageOutputTokens, out))
	}
	return attrs
}

// finishReasons collects the response-level finish reason plus any distinct
// per-item reasons, in encounter order.
func finishReasons(resp *Response) []string {
	var reasons []string
	seen := map[string]bool{}
	add := func(r string) {
		if r != "" && !seen[r] {
			seen[r] = true
			reasons = append(reasons, r)
		}
	}
	add(resp.FinishReason)
	for i := range resp.Output {
		add(resp.Output[i].FinishReason)
	}
	return reasons
}

// outputText joins the text of all message items in a response's output,
// parts separated by a single space.
func outputText(resp *Response) string {
	if resp == nil {
		return ""
	}
	var parts []string
	for i := range resp.Output {
		item := &resp.Output[i]
		if item.Type != "" && item.Type != "message" {
			continue
		}
		for _, c := range item.Content {
			if c.Text != "" {
				parts = append(parts, c.Text)
			}
		}
	}
	return strings.Join(parts, " ")
}

// agentAttrs extracts span attributes for an agent-version creation.
func agentAttrs(req AgentVersionRequest) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrOperationName, opCreateAgent),
		attribute.String(AttrProviderName, providerName),
	}
	if req.AgentName != "" {
		attrs = append(attrs, attribute.String(AttrAgentName, req.AgentName))
	}
	if req.Definition.Description != "" {
		attrs = append(attrs, attribute.String(AttrAgentDescription, req.Definition.Description))
	}
	if req.Definition.Model != "" {
		attrs = append(attrs, attribute.String(AttrRequestModel, req.Definition.Model))
	}
	return attrs
}
