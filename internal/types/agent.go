package types

// Verdict is the reviewer's decision after inspecting gathered context.
type Verdict string

const (
	VerdictGenerate Verdict = "generate"
	VerdictRewrite  Verdict = "rewrite"
)

// AgentMode selects between the iterative tool-calling loop and the
// single-pass retrieve/generate/update pipeline.
type AgentMode string

const (
	ModeIterative AgentMode = "iterative"
	ModeSimple    AgentMode = "simple"
)

// ChatResult is the user-facing outcome of one agent invocation.
type ChatResult struct {
	UserID          string `json:"user_id"`
	SessionID       string `json:"session_id,omitempty"`
	Message         string `json:"message"`
	Response        string `json:"response"`
	ThreadContext   string `json:"thread_context,omitempty"`
	EpisodicContext string `json:"episodic_context,omitempty"`
	SemanticContext string `json:"semantic_context,omitempty"`
}

// StreamEventType tags chunks emitted on the streaming chat path.
type StreamEventType string

const (
	StreamStatus StreamEventType = "status"
	StreamToken  StreamEventType = "token"
	StreamDone   StreamEventType = "done"
	StreamError  StreamEventType = "error"
)

// StreamEvent is one server-sent chunk of a streaming agent run.
type StreamEvent struct {
	Type      StreamEventType `json:"type"`
	Content   string          `json:"content,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
}
