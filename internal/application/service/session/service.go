// Package session implements working memory: session lifecycle, the message
// log, and the LLM-maintained title and rolling summary.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hanachan/kioku/internal/logger"
	"github.com/hanachan/kioku/internal/models/chat"
	"github.com/hanachan/kioku/internal/runtime"
	"github.com/hanachan/kioku/internal/types"
	"github.com/hanachan/kioku/internal/types/interfaces"
)

const titlePrompt = `Generate a very short title (at most 6 words) for a conversation that starts like this. Reply with the title only, no quotes.`

const summaryPrompt = `You maintain a rolling summary of a conversation. Merge the previous summary with the new messages into a single updated summary of at most 3 sentences. Keep durable facts, drop pleasantries. Reply with the summary only.`

type sessionService struct {
	repo       interfaces.SessionRepository
	chatModel  chat.Chat
	background *runtime.BackgroundTasks
}

// NewSessionService builds the session service. chatModel may be nil in
// which case titles and summaries are skipped.
func NewSessionService(repo interfaces.SessionRepository, chatModel chat.Chat, background *runtime.BackgroundTasks) interfaces.SessionService {
	return &sessionService{
		repo:       repo,
		chatModel:  chatModel,
		background: background,
	}
}

func (s *sessionService) Create(ctx context.Context, userID string, metadata map[string]interface{}) (string, error) {
	return s.repo.Create(ctx, userID, metadata)
}

func (s *sessionService) EnsureExists(ctx context.Context, sessionID, userID string) error {
	return s.repo.EnsureExists(ctx, sessionID, userID)
}

func (s *sessionService) Get(ctx context.Context, sessionID string) (*types.Session, error) {
	return s.repo.Get(ctx, sessionID)
}

func (s *sessionService) List(ctx context.Context, userID string) ([]types.SessionSummary, error) {
	return s.repo.List(ctx, userID)
}

// AddMessage appends the message; an assistant turn additionally schedules
// the write-once title and the rolling summary refresh in the background.
// Those are best effort and never surface errors to the caller.
func (s *sessionService) AddMessage(ctx context.Context, sessionID, role, content string) error {
	if err := s.repo.AppendMessage(ctx, sessionID, role, content); err != nil {
		return err
	}

	if role == types.RoleAssistant && s.chatModel != nil {
		s.background.Go(ctx, "session-title", func(ctx context.Context) error {
			return s.refreshTitle(ctx, sessionID)
		})
		s.background.Go(ctx, "session-summary", func(ctx context.Context) error {
			return s.refreshSummary(ctx, sessionID)
		})
	}
	return nil
}

func (s *sessionService) UpdateMeta(ctx context.Context, sessionID, title string, metadata map[string]interface{}) (bool, error) {
	updated := false
	if title != "" {
		ok, err := s.repo.UpdateTitle(ctx, sessionID, title)
		if err != nil {
			return false, err
		}
		updated = updated || ok
	}
	if len(metadata) > 0 {
		ok, err := s.repo.UpdateMetadata(ctx, sessionID, metadata)
		if err != nil {
			return false, err
		}
		updated = updated || ok
	}
	return updated, nil
}

// End returns the full session snapshot and deletes it. The snapshot lets the
// caller archive the thread before it is gone.
func (s *sessionService) End(ctx context.Context, sessionID string) (*types.Session, error) {
	session, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Delete(ctx, sessionID); err != nil {
		return nil, err
	}
	return session, nil
}

// ThreadContextText renders the last n messages as role-prefixed lines for
// prompt injection, preceded by the rolling summary when one exists. One
// session load serves both. A missing session yields an empty context, not
// an error.
func (s *sessionService) ThreadContextText(ctx context.Context, sessionID string, lastN int) (string, error) {
	session, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, types.ErrSessionNotFound) {
			return "", nil
		}
		return "", err
	}

	messages := session.Messages
	if len(messages) > lastN {
		messages = messages[len(messages)-lastN:]
	}
	text := renderMessages(messages)
	if session.Summary != "" {
		text = fmt.Sprintf("[Thread summary]: %s\n\n[Recent messages]:\n%s", session.Summary, text)
	}
	return text, nil
}

func (s *sessionService) DeleteByUser(ctx context.Context, userID string) (int, error) {
	return s.repo.DeleteByUser(ctx, userID)
}

// refreshTitle generates a title from the opening exchange. The repository
// enforces write-once, so a second assistant turn is a cheap no-op.
func (s *sessionService) refreshTitle(ctx context.Context, sessionID string) error {
	session, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Title != "" || len(session.Messages) == 0 {
		return nil
	}

	opening := session.Messages
	if len(opening) > 4 {
		opening = opening[:4]
	}
	resp, err := s.chatModel.Chat(ctx, []chat.Message{
		{Role: types.RoleSystem, Content: titlePrompt},
		{Role: types.RoleUser, Content: renderMessages(opening)},
	}, &chat.ChatOptions{Temperature: 0.3, MaxTokens: 32})
	if err != nil {
		return fmt.Errorf("failed to generate title: %w", err)
	}

	title := strings.Trim(strings.TrimSpace(resp.Content), `"`)
	if title == "" {
		return nil
	}
	if _, err := s.repo.UpdateTitle(ctx, sessionID, title); err != nil {
		return err
	}
	logger.Debugf(ctx, "set title for session %s: %s", sessionID, title)
	return nil
}

// refreshSummary merges the previous summary with the latest messages.
func (s *sessionService) refreshSummary(ctx context.Context, sessionID string) error {
	session, err := s.repo.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	recent := session.Messages
	if len(recent) > 6 {
		recent = recent[len(recent)-6:]
	}
	if len(recent) == 0 {
		return nil
	}

	var prompt strings.Builder
	if session.Summary != "" {
		prompt.WriteString("Previous summary:\n")
		prompt.WriteString(session.Summary)
		prompt.WriteString("\n\n")
	}
	prompt.WriteString("New messages:\n")
	prompt.WriteString(renderMessages(recent))

	resp, err := s.chatModel.Chat(ctx, []chat.Message{
		{Role: types.RoleSystem, Content: summaryPrompt},
		{Role: types.RoleUser, Content: prompt.String()},
	}, &chat.ChatOptions{Temperature: 0.3, MaxTokens: 256})
	if err != nil {
		return fmt.Errorf("failed to generate summary: %w", err)
	}

	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return nil
	}
	return s.repo.UpdateSummary(ctx, sessionID, summary)
}

func renderMessages(messages []types.SessionMessage) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	return strings.Join(lines, "\n")
}
