// Package provider defines the vendor-neutral streaming chat contract the
// brain consumes. Vendor SDK bindings live outside this module; anything
// that can produce the event stream below can serve chat traffic.
package provider

import (
	"context"

	"socialbrain/internal/domain"
)

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ToolDef advertises a callable tool to the model.
type ToolDef struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InputSchema any    `json:"input_schema,omitempty"`
}

// Request is a single streaming chat call.
type Request struct {
	Model        string    `json:"model"`
	SystemPrompt string    `json:"system_prompt,omitempty"`
	Messages     []Message `json:"messages"`
	Tools        []ToolDef `json:"tools,omitempty"`
	MaxTokens    int       `json:"max_tokens,omitempty"`
}

// Usage is the token accounting reported at the end of a stream.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// EventKind discriminates stream events.
type EventKind string

const (
	EventTextChunk EventKind = "text_chunk"
	EventBlock     EventKind = "block"
	EventError     EventKind = "error"
	EventFinal     EventKind = "final"
)

// Event is one item of a chat stream. Exactly one payload field is set,
// keyed by Kind. A Final event carries the usage totals; Recv returns
// io.EOF after it.
type Event struct {
	Kind EventKind `json:"kind"`

	// text_chunk
	Text string `json:"text,omitempty"`

	// block: a complete structured block, e.g. a tool call
	BlockType string `json:"block_type,omitempty"`
	Block     any    `json:"block,omitempty"`

	// error: the stream is dead after this
	Err string `json:"error,omitempty"`

	// final
	Usage      *Usage `json:"usage,omitempty"`
	StopReason string `json:"stop_reason,omitempty"`
}

// Stream yields events until io.EOF. Close releases the underlying call;
// it is safe to call after EOF.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

// Provider opens streaming chat calls against one model vendor.
type Provider interface {
	Name() string
	Vendor() domain.Provider
	StreamChat(ctx context.Context, req Request) (Stream, error)
}
