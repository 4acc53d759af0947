package loom

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Span events carry payloads as a JSON body under gen_ai.event.content.
// Events are always emitted; the recording policy gates only what goes into
// the body, so a payload-off trace still shows the same event sequence with
// "{}" bodies.

// eventAttrs builds the common attribute set for a span event. body must be
// JSON-marshalable; on marshal failure the body degrades to "{}".
func eventAttrs(role string, body map[string]any) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrProviderName, providerName),
	}
	if role != "" {
		attrs = append(attrs, attribute.String(AttrMessageRole, role))
	}
	s, ok := toJSON(body)
	if !ok {
		s = "{}"
	}
	attrs = append(attrs, attribute.String(AttrEventContent, s))
	return attrs
}

// messageEvent emits a gen_ai.{role}.message event with plain text content.
func messageEvent(span trace.Span, role, content string, policy *RecordingPolicy) {
	body := map[string]any{}
	if policy.RecordContent() && content != "" {
		body["content"] = []map[string]any{{"type": "text", "text": content}}
	}
	span.AddEvent("gen_ai."+role+".message", trace.WithAttributes(eventAttrs(role, body)...))
}

// requestEvents emits the pre-call events for a request input: message
// events for conversation items and a single tool message event for any
// tool outputs being fed back to the model.
func requestEvents(span trace.Span, input any, policy *RecordingPolicy) {
	switch in := input.(type) {
	case string:
		if in != "" {
			messageEvent(span, "user", in, policy)
		}
	case []InputItem:
		var outputs []InputItem
		for _, item := range in {
			if strings.HasSuffix(item.Type, "_output") {
				outputs = append(outputs, item)
				continue
			}
			inputMessageEvent(span, item, policy)
		}
		if len(outputs) > 0 {
			toolOutputEvent(span, outputs, policy)
		}
	}
}

// inputMessageEvent emits a message event for one structured input item.
// Items without content are skipped.
func inputMessageEvent(span trace.Span, item InputItem, policy *RecordingPolicy) {
	if item.Content == nil {
		return
	}
	role := item.Role
	if role == "" {
		role = "user"
	}

	body := map[string]any{}
	if policy.RecordContent() {
		var parts []map[string]any
		switch c := item.Content.(type) {
		case string:
			if c != "" {
				parts = append(parts, map[string]any{"type": "text", "text": c})
			}
		case []ContentPart:
			for _, p := range c {
				if part := encodeContentPart(p, policy); part != nil {
					parts = append(parts, part)
				}
			}
		}
		if len(parts) > 0 {
			body["content"] = parts
		}
	}
	span.AddEvent("gen_ai."+role+".message", trace.WithAttributes(eventAttrs(role, body)...))
}

// encodeContentPart encodes one content part for an event body. Image URLs
// and inline file data additionally require binary-data recording; filenames
// and file ids ride on content recording alone.
func encodeContentPart(p ContentPart, policy *RecordingPolicy) map[string]any {
	switch p.Type {
	case "input_text", "output_text", "text":
		if p.Text == "" {
			return nil
		}
		return map[string]any{"type": "text", "text": p.Text}
	case "input_image":
		part := map[string]any{"type": "image"}
		if policy.RecordBinary() && p.ImageURL != "" {
			part["image_url"] = p.ImageURL
		}
		return part
	case "input_file":
		part := map[string]any{"type": "file"}
		if p.Filename != "" {
			part["filename"] = p.Filename
		}
		if p.FileID != "" {
			part["file_id"] = p.FileID
		}
		if policy.RecordBinary() && p.FileData != "" {
			part["file_data"] = p.FileData
		}
		return part
	case "":
		return nil
	default:
		// Audio, video, future part types: record the type only.
		return map[string]any{"type": p.Type}
	}
}

// toolOutputEvent emits one gen_ai.tool.message event carrying all tool
// call outputs of a request.
func toolOutputEvent(span trace.Span, outputs []InputItem, policy *RecordingPolicy) {
	body := map[string]any{}
	if policy.RecordContent() {
		var outs []map[string]any
		for _, item := range outputs {
			if item.Type == "" {
				continue
			}
			out := map[string]any{}
			if item.Type == "function_call_output" {
				out["type"] = "function"
			} else {
				out["type"] = item.Type
			}
			if id := firstNonEmpty(item.CallID, item.ID); id != "" {
				out["id"] = id
			}
			if item.Output != nil {
				out["output"] = parseToolOutput(item.Output)
			}
			outs = append(outs, out)
		}
		if len(outs) > 0 {
			body["tool_call_outputs"] = outs
		}
	}
	span.AddEvent(eventToolMessage, trace.WithAttributes(eventAttrs("tool", body)...))
}

// parseToolOutput turns a string tool output into a structured value when
// it is JSON or close enough to be repaired into JSON. Anything else passes
// through unchanged.
func parseToolOutput(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	var parsed any
	if json.Unmarshal([]byte(s), &parsed) == nil {
		return parsed
	}
	if repaired, err := jsonrepair.JSONRepair(s); err == nil {
		if json.Unmarshal([]byte(repaired), &parsed) == nil {
			return parsed
		}
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ---------------------------------------------------------------------------
// Tool call events (response output)
// ---------------------------------------------------------------------------

// toolCallEvents emits one assistant-message event per tool call item in a
// response output. Unknown item types containing "_call" get a best-effort
// event so future tool types still show up in traces.
func toolCallEvents(span trace.Span, items []Item, policy *RecordingPolicy) {
	for i := range items {
		item := &items[i]
		switch item.Type {
		case "function_call":
			tc := map[string]any{"type": "function"}
			if item.CallID != "" {
				tc["id"] = item.CallID
			}
			if policy.RecordContent() {
				fn := map[string]any{}
				if item.Name != "" {
					fn["name"] = item.Name
				}
				if item.Arguments != "" {
					fn["arguments"] = item.Arguments
				}
				if len(fn) > 0 {
					tc["function"] = fn
				}
			}
			emitToolCall(span, tc)

		case "file_search_call":
			tc := map[string]any{"type": "file_search"}
			if item.ID != "" {
				tc["id"] = item.ID
			}
			if policy.RecordContent() {
				if len(item.Queries) > 0 {
					tc["queries"] = item.Queries
				}
				if len(item.Results) > 0 {
					results := make([]map[string]any, 0, len(item.Results))
					for _, r := range item.Results {
						results = append(results, map[string]any{
							"file_id":  r.FileID,
							"filename": r.Filename,
							"score":    r.Score,
						})
					}
					tc["results"] = results
				}
			}
			emitToolCall(span, tc)

		case "code_interpreter_call":
			tc := map[string]any{"type": "code_interpreter"}
			if item.ID != "" {
				tc["id"] = item.ID
			}
			if policy.RecordContent() {
				if item.Code != "" {
					tc["code"] = item.Code
				}
				if len(item.Outputs) > 0 {
					outputs := make([]map[string]any, 0, len(item.Outputs))
					for _, o := range item.Outputs {
						od := map[string]any{"type": o.Type}
						if o.Image != nil {
							od["image"] = map[string]any{"file_id": o.Image.FileID}
						} else {
							od["logs"] = o.Logs
						}
						outputs = append(outputs, od)
					}
					tc["outputs"] = outputs
				}
			}
			emitToolCall(span, tc)

		case "web_search_call":
			tc := map[string]any{"type": "web_search"}
			if item.ID != "" {
				tc["id"] = item.ID
			}
			if policy.RecordContent() && item.Action != nil {
				action := map[string]any{"type": item.Action.Type}
				if item.Action.Query != "" {
					action["query"] = item.Action.Query
				}
				if len(item.Action.Results) > 0 {
					results := make([]map[string]any, 0, len(item.Action.Results))
					for _, r := range item.Action.Results {
						results = append(results, map[string]any{"title": r.Title, "url": r.URL})
					}
					action["results"] = results
				}
				tc["action"] = action
			}
			emitToolCall(span, tc)

		case "image_generation_call":
			tc := map[string]any{"type": "image_generation"}
			if id := firstNonEmpty(item.ID, item.CallID); id != "" {
				tc["id"] = id
			}
			if policy.RecordContent() {
				if item.Prompt != "" {
					tc["prompt"] = item.Prompt
				}
				if item.Quality != "" {
					tc["quality"] = item.Quality
				}
				if item.Size != "" {
					tc["size"] = item.Size
				}
				if item.Style != "" {
					tc["style"] = item.Style
				}
				// The generated image itself is binary payload.
				if policy.RecordBinary() && item.Result != "" {
					tc["result"] = item.Result
				}
			}
			emitToolCall(span, tc)

		case "mcp_call":
			tc := map[string]any{"type": "mcp"}
			if item.ID != "" {
				tc["id"] = item.ID
			}
			if policy.RecordContent() {
				if item.Name != "" {
					tc["name"] = item.Name
				}
				if item.Arguments != "" {
					tc["arguments"] = item.Arguments
				}
				if item.ServerLabel != "" {
					tc["server_label"] = item.ServerLabel
				}
			}
			emitToolCall(span, tc)

		case "computer_call":
			tc := map[string]any{"type": "computer"}
			if item.CallID != "" {
				tc["call_id"] = item.CallID
			}
			if policy.RecordContent() && item.Action != nil {
				action := map[string]any{"type": item.Action.Type}
				if item.Action.X != 0 || item.Action.Y != 0 {
					action["x"] = item.Action.X
					action["y"] = item.Action.Y
				}
				if item.Action.Text != "" {
					action["text"] = item.Action.Text
				}
				if item.Action.Key != "" {
					action["key"] = item.Action.Key
				}
				if item.Action.Command != "" {
					action["command"] = item.Action.Command
				}
				tc["action"] = action
			}
			emitToolCall(span, tc)

		case "remote_function_call_output":
			typ := item.Name
			if typ == "" {
				typ = "remote_function"
			}
			tc := map[string]any{"type": typ}
			if id := firstNonEmpty(item.ID, item.CallID, stringExtra(item, "call_id")); id != "" {
				tc["id"] = id
			}
			if policy.RecordContent() {
				for k, v := range item.Extra {
					switch k {
					case "type", "id", "call_id", "name", "label", "role", "content":
						continue
					}
					if v == nil || v == "" {
						continue
					}
					tc[k] = v
				}
				if item.Input != nil {
					tc["input"] = item.Input
				}
				if item.Output != nil {
					tc["output"] = item.Output
				}
				if len(item.Results) > 0 {
					tc["results"] = item.Results
				}
				if item.Status != "" {
					if _, exists := tc["status"]; !exists {
						tc["status"] = item.Status
					}
				}
			}
			emitToolCall(span, tc)

		default:
			if item.Type == "" || !strings.Contains(item.Type, "_call") {
				continue
			}
			tc := map[string]any{"type": item.Type}
			if id := firstNonEmpty(item.ID, item.CallID); id != "" {
				tc["id"] = id
			}
			if policy.RecordContent() {
				if item.Name != "" {
					tc["name"] = item.Name
				}
				if item.Arguments != "" {
					tc["arguments"] = item.Arguments
				}
				if item.Input != nil {
					tc["input"] = item.Input
				}
				if item.ServerLabel != "" {
					tc["server_label"] = item.ServerLabel
				}
				for k, v := range item.Extra {
					switch k {
					case "type", "id", "call_id":
						continue
					}
					if v == nil {
						continue
					}
					tc[k] = v
				}
			}
			emitToolCall(span, tc)
		}
	}
}

// emitToolCall wraps a tool call payload in the assistant-message envelope.
func emitToolCall(span trace.Span, tc map[string]any) {
	body := map[string]any{
		"content": []map[string]any{{"type": "tool_call", "tool_call": tc}},
	}
	span.AddEvent(eventAssistantMessage, trace.WithAttributes(eventAttrs("assistant", body)...))
}

func stringExtra(item *Item, key string) string {
	if s, ok := item.Extra[key].(string); ok {
		return s
	}
	return ""
}

// ---------------------------------------------------------------------------
// Agent and conversation-item events
// ---------------------------------------------------------------------------

// systemInstructionEvent emits the gen_ai.system_instruction event from an
// agent definition.
func systemInstructionEvent(span trace.Span, instructions string, policy *RecordingPolicy) {
	body := map[string]any{}
	if policy.RecordContent() && instructions != "" {
		body["content"] = []map[string]any{{"type": "text", "text": instructions}}
	}
	span.AddEvent(eventSystemInstruction, trace.WithAttributes(eventAttrs("system", body)...))
}

// conversationItemEvent emits one event per listed conversation item. The
// event role reflects what the item is: tool calls read as assistant turns
// and tool outputs as tool turns regardless of the stored role.
func conversationItemEvent(span trace.Span, item Item, policy *RecordingPolicy) {
	role := item.Role
	switch {
	case strings.HasSuffix(item.Type, "_output"):
		role = "tool"
	case strings.Contains(item.Type, "_call"):
		role = "assistant"
	case role == "":
		role = "user"
	}

	attrs := []attribute.KeyValue{
		attribute.String(AttrProviderName, providerName),
		attribute.String(AttrItemRole, role),
	}
	if item.ID != "" {
		attrs = append(attrs, attribute.String(AttrItemID, item.ID))
	}
	if item.Type != "" {
		attrs = append(attrs, attribute.String(AttrItemType, item.Type))
	}

	body := map[string]any{}
	if policy.RecordContent() {
		switch {
		case strings.HasSuffix(item.Type, "_output"):
			if item.Output != nil {
				body["output"] = parseToolOutput(item.Output)
			}
		case strings.Contains(item.Type, "_call"):
			call := map[string]any{}
			if item.Name != "" {
				call["name"] = item.Name
			}
			if item.Arguments != "" {
				call["arguments"] = item.Arguments
			}
			if len(call) > 0 {
				body["tool_call"] = call
			}
		default:
			var parts []map[string]any
			for _, p := range item.Content {
				if part := encodeContentPart(p, policy); part != nil {
					parts = append(parts, part)
				}
			}
			if len(parts) > 0 {
				body["content"] = parts
			}
		}
	}
	s, ok := toJSON(body)
	if !ok {
		s = "{}"
	}
	attrs = append(attrs, attribute.String(AttrEventContent, s))
	span.AddEvent(eventConversationItem, trace.WithAttributes(attrs...))
}
