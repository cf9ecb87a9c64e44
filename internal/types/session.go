package types

import "time"

// Message roles within a session.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

// SessionMessage is one entry in a session's append-only message log.
type SessionMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the working-memory record for one conversation thread.
// Title is write-once (set on the first assistant turn); Summary is a
// rolling merge updated every assistant turn.
type Session struct {
	SessionID string                 `json:"session_id"`
	UserID    string                 `json:"user_id"`
	Title     string                 `json:"title,omitempty"`
	Summary   string                 `json:"summary,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Messages  []SessionMessage       `json:"messages,omitempty"`
}

// SessionSummary is a listing row without message bodies.
type SessionSummary struct {
	SessionID    string                 `json:"session_id"`
	UserID       string                 `json:"user_id"`
	Title        string                 `json:"title,omitempty"`
	Summary      string                 `json:"summary,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	MessageCount int                    `json:"message_count"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}
