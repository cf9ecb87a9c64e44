// Package chat abstracts the LLM completion capability: plain completions,
// incremental streaming, tool calling, and schema-constrained structured
// output. Prompt wording lives with the callers, not here.
package chat

import "context"

// Message is one prompt message.
type Message struct {
	Role       string `json:"role"`
	Content    string `json:"content"`
	Name       string `json:"name,omitempty"`
	ToolCallID string `json:"tool_call_id,omitempty"`
	// ToolCalls is set on assistant messages that requested tool
	// invocations, so they can be replayed into the next prompt.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Tool declares one callable function the model may request.
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  interface{} `json:"parameters"`
}

// ToolCall is a model-requested invocation; Arguments is raw JSON.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatOptions tune a single completion call.
type ChatOptions struct {
	Temperature float32
	MaxTokens   int
	// Format, when non-nil, constrains the response to the given JSON
	// schema (structured-output mode). Callers treat schema violations as
	// a recoverable "no result" condition.
	Format interface{}
	// FormatName labels the schema for providers that require one.
	FormatName string
	Tools      []Tool
}

// Response is a completed (non-streaming) model turn.
type Response struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// StreamChunk is one incremental piece of a streaming completion.
type StreamChunk struct {
	Content string
	Done    bool
	Err     error
}

// Chat is the completion capability this system depends on.
type Chat interface {
	Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error)
	ChatStream(ctx context.Context, messages []Message, opts *ChatOptions) (<-chan StreamChunk, error)
}
