package loom

import (
	"context"
	"io"
)

// ---------------------------------------------------------------------------
// Request/response types — mirror the OpenAI Responses API wire shapes
// ---------------------------------------------------------------------------

// ResponseRequest represents a responses.create request.
type ResponseRequest struct {
	Model          string           // Model name: "gpt-4o", etc.
	ConversationID string           // Conversation to attach the response to
	AgentName      string           // Acting agent/assistant name, if any
	Input          any              // string, []InputItem, or nil
	Tools          []map[string]any // Tool definitions offered to the model
	Stream         bool             // Whether a streaming response is requested
}

// InputItem is one element of a structured request input. It is either a
// conversation message (Role/Content set) or a tool output being fed back
// to the model (Type/CallID/Output set).
type InputItem struct {
	Role    string // "user", "system", "assistant", ...
	Content any    // string or []ContentPart

	Type   string // e.g. "function_call_output"
	CallID string
	ID     string
	Output any
}

// ContentPart is a single part of a multi-part message content.
type ContentPart struct {
	Type     string // "input_text", "text", "input_image", "input_file", ...
	Text     string
	ImageURL string
	Filename string
	FileID   string
	FileData string
}

// Usage represents token counts for a call. The Responses API reports
// InputTokens/OutputTokens; older endpoints report PromptTokens/
// CompletionTokens. Either pair may appear.
type Usage struct {
	InputTokens      int64
	OutputTokens     int64
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// Response represents a completed (non-streaming) responses.create result.
type Response struct {
	ID                string
	Model             string
	SystemFingerprint string
	ServiceTier       string
	FinishReason      string
	Usage             *Usage
	Output            []Item
}

// Item is one output or conversation item: a message, a tool call, or a
// tool output. The populated fields depend on Type; Extra carries any
// provider-specific fields that have no first-class slot, so unknown item
// types can still be traced best-effort.
type Item struct {
	Type   string
	ID     string
	CallID string
	Status string

	// Message items.
	Role         string
	Content      []ContentPart
	FinishReason string

	// Function and MCP calls.
	Name        string
	Arguments   string
	ServerLabel string

	// Tool outputs fed back or returned.
	Output any

	// Search calls.
	Queries []string
	Results []SearchResult
	Input   any

	// Code interpreter calls.
	Code    string
	Outputs []InterpreterOutput

	// Web search and computer-use calls.
	Action *ToolAction

	// Image generation calls.
	Prompt  string
	Quality string
	Size    string
	Style   string
	Result  string

	Extra map[string]any
}

// SearchResult is one hit from a file, web, or remote search call.
type SearchResult struct {
	FileID   string
	Filename string
	Score    float64
	Title    string
	URL      string
	Content  string
}

// InterpreterOutput is one output of a code interpreter call: either
// captured logs or a generated image.
type InterpreterOutput struct {
	Type  string // "logs" or "image"
	Logs  string
	Image *ImageRef
}

// ImageRef points at a stored image file.
type ImageRef struct {
	FileID string
}

// ToolAction describes the action taken by a web-search or computer-use
// call.
type ToolAction struct {
	Type    string
	Query   string
	URL     string
	Text    string
	Key     string
	Command string
	X       int
	Y       int
	Results []SearchResult
}

// Conversation represents a conversations.create result.
type Conversation struct {
	ID       string
	Metadata map[string]any
}

// AgentDefinition is the definition payload of an agent version.
type AgentDefinition struct {
	Model        string
	Description  string
	Instructions string
	Temperature  *float64
	TopP         *float64
	Reasoning    *ReasoningConfig
	Text         *TextConfig
	Tools        []map[string]any
}

// ReasoningConfig configures reasoning-capable models.
type ReasoningConfig struct {
	Effort  string
	Summary string
}

// TextConfig controls output formatting.
type TextConfig struct {
	Format *TextFormat
}

// TextFormat names the requested response format ("text", "json_object").
type TextFormat struct {
	Type string
}

// AgentVersionRequest represents an agents.create_version request.
type AgentVersionRequest struct {
	AgentName  string
	Definition AgentDefinition
}

// AgentVersion represents a created agent version.
type AgentVersion struct {
	ID      string
	Version string
}

// ---------------------------------------------------------------------------
// Streaming types
// ---------------------------------------------------------------------------

// StreamEvent is one server-sent chunk of a streaming response. Type uses
// the wire event names ("response.created", "response.output_text.delta",
// "response.output_item.done", "response.completed", ...).
type StreamEvent struct {
	Type string

	// Delta carries incremental payload for ".delta" events: either a raw
	// string or a value with a Text field (e.g. TextDelta).
	Delta any

	// Item is the completed item on "response.output_item.done" events.
	Item *Item

	// Response is the snapshot on "response.created"/"response.completed".
	Response *Response

	// Usage carries incremental token counts, typically on the final chunk.
	Usage *Usage

	// Chunk-level metadata, present on some event shapes.
	ID          string
	Model       string
	ServiceTier string
}

// TextDelta is a structured delta payload carrying text.
type TextDelta struct {
	Text string
}

// ResponseStream is a pull iterator over streaming response events. Next
// returns io.EOF once the stream is exhausted. Close releases underlying
// resources and is the reliable cleanup path when iteration is abandoned
// early.
type ResponseStream interface {
	Next() (StreamEvent, error)
	Close() error
}

// ItemStream is a pull iterator over conversation items, in the same shape
// as ResponseStream.
type ItemStream interface {
	Next() (Item, error)
	Close() error
}

// EOF is re-exported so callers can range over streams without importing io.
var EOF = io.EOF

// ---------------------------------------------------------------------------
// Instrumented API surfaces
// ---------------------------------------------------------------------------

// ResponsesAPI is the responses surface of the wrapped client. Create
// issues a non-streaming call; CreateStream is create with streaming
// enabled; Stream is the dedicated streaming entry point, which client
// implementations commonly build on CreateStream.
type ResponsesAPI interface {
	Create(ctx context.Context, req ResponseRequest) (*Response, error)
	CreateStream(ctx context.Context, req ResponseRequest) (ResponseStream, error)
	Stream(ctx context.Context, req ResponseRequest) (ResponseStream, error)
}

// ConversationsAPI is the conversations surface of the wrapped client.
type ConversationsAPI interface {
	Create(ctx context.Context, metadata map[string]any) (*Conversation, error)
}

// ConversationItemsAPI lists the items of a conversation.
type ConversationItemsAPI interface {
	List(ctx context.Context, conversationID string) (ItemStream, error)
}

// AgentsAPI is the agent-management surface of the wrapped client.
type AgentsAPI interface {
	CreateVersion(ctx context.Context, req AgentVersionRequest) (*AgentVersion, error)
}
