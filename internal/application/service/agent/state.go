package agent

import (
	"fmt"
	"strings"

	"github.com/hanachan/kioku/internal/models/chat"
	"github.com/hanachan/kioku/internal/types"
)

// State accumulates one agent run: the growing message transcript, the
// iteration counter the reviewer caps on, and the final generation.
type State struct {
	UserID    string
	SessionID string
	Input     string

	Messages   []chat.Message
	Iterations int

	Verdict        types.Verdict
	RewrittenQuery string
	Generation     string
}

func newState(userID, sessionID, input string) *State {
	return &State{
		UserID:    userID,
		SessionID: sessionID,
		Input:     input,
		Messages: []chat.Message{
			{Role: types.RoleUser, Content: input},
		},
	}
}

func (s *State) append(messages ...chat.Message) {
	s.Messages = append(s.Messages, messages...)
}

// transcript renders the message history for the reviewer and generator
// prompts, annotating tool traffic so the model can tell what was looked up.
func (s *State) transcript() string {
	lines := make([]string, 0, len(s.Messages))
	for _, m := range s.Messages {
		switch {
		case len(m.ToolCalls) > 0:
			names := make([]string, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				names = append(names, tc.Name)
			}
			lines = append(lines, fmt.Sprintf("Assistant (calling tools: %s): %s",
				strings.Join(names, ", "), m.Content))
		case m.ToolCallID != "":
			lines = append(lines, fmt.Sprintf("Tool result (%s): %s", m.Name, m.Content))
		default:
			lines = append(lines, fmt.Sprintf("%s: %s", titleRole(m.Role), m.Content))
		}
	}
	return strings.Join(lines, "\n")
}

func titleRole(role string) string {
	if role == "" {
		return "Unknown"
	}
	return strings.ToUpper(role[:1]) + role[1:]
}
