package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hanachan/kioku/internal/logger"
	"github.com/hanachan/kioku/internal/models/chat"
	"github.com/hanachan/kioku/internal/types"
	"github.com/hanachan/kioku/internal/utils"
)

const extractionPrompt = `Extract entities and facts about the user from this interaction. Only include facts worth remembering long term.`

const turnSummaryPrompt = `Summarize this interaction in one sentence, third person, mentioning the user.`

const noteCheckPrompt = `Decide whether this interaction contains a study note worth attaching to a specific Japanese character, word, or grammar point the user is learning. Most interactions do not.`

// noteCheck is the structured verdict for the learning-note step.
type noteCheck struct {
	HasNote    bool   `json:"has_note"`
	Identifier string `json:"identifier"`
	Note       string `json:"note"`
}

// scheduleUpdate hands the persistence step to the background queue. The
// queue detaches from request cancellation, so a closed connection cannot
// tear half-written memories.
func (e *Engine) scheduleUpdate(ctx context.Context, state *State) {
	e.background.Go(ctx, "memory-update", func(ctx context.Context) error {
		e.update(ctx, state)
		return nil
	})
}

// update persists one completed turn. The session write happens first; the
// three memory writes are independent and best effort, each isolated so one
// failure cannot stop the others.
func (e *Engine) update(ctx context.Context, state *State) {
	if state.SessionID != "" {
		if err := e.sessions.EnsureExists(ctx, state.SessionID, state.UserID); err != nil {
			logger.Errorf(ctx, "failed to ensure session %s: %v", state.SessionID, err)
		} else {
			if err := e.sessions.AddMessage(ctx, state.SessionID, types.RoleUser, state.Input); err != nil {
				logger.Errorf(ctx, "failed to append user message: %v", err)
			}
			if err := e.sessions.AddMessage(ctx, state.SessionID, types.RoleAssistant, state.Generation); err != nil {
				logger.Errorf(ctx, "failed to append assistant message: %v", err)
			}
		}
	}

	turn := fmt.Sprintf("User: %s\nAI: %s", state.Input, state.Generation)
	e.step(ctx, "episodic-update", func() error { return e.persistEpisodic(ctx, state.UserID, turn) })
	e.step(ctx, "semantic-update", func() error { return e.persistSemantic(ctx, state.UserID, turn) })
	e.step(ctx, "learning-note", func() error { return e.persistLearningNote(ctx, state.UserID, turn) })
}

// step runs one persistence substep, converting panics and errors into logs.
func (e *Engine) step(ctx context.Context, name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf(ctx, "%s panicked: %v", name, r)
		}
	}()
	if err := fn(); err != nil {
		logger.Errorf(ctx, "%s failed: %v", name, err)
	}
}

func (e *Engine) persistEpisodic(ctx context.Context, userID, turn string) error {
	resp, err := e.chatModel.Chat(ctx, []chat.Message{
		{Role: types.RoleSystem, Content: turnSummaryPrompt},
		{Role: types.RoleUser, Content: turn},
	}, &chat.ChatOptions{Temperature: 0, MaxTokens: 128})
	if err != nil {
		return fmt.Errorf("turn summary failed: %w", err)
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return nil
	}
	_, err = e.episodic.Add(ctx, userID, summary)
	return err
}

func (e *Engine) persistSemantic(ctx context.Context, userID, turn string) error {
	resp, err := e.chatModel.Chat(ctx, []chat.Message{
		{Role: types.RoleSystem, Content: extractionPrompt},
		{Role: types.RoleUser, Content: turn},
	}, &chat.ChatOptions{
		Temperature: 0,
		Format:      utils.GenerateSchema[types.KnowledgeGraph](),
		FormatName:  "knowledge_graph",
	})
	if err != nil {
		return fmt.Errorf("fact extraction failed: %w", err)
	}

	var graph types.KnowledgeGraph
	if err := json.Unmarshal([]byte(resp.Content), &graph); err != nil {
		// Schema violations mean no extractable facts, not a broken turn.
		logger.Warnf(ctx, "fact extraction returned invalid payload: %v", err)
		return nil
	}
	if len(graph.Relationships) == 0 {
		return nil
	}
	_, err = e.semantic.UpsertFacts(ctx, userID, graph.Relationships)
	return err
}

func (e *Engine) persistLearningNote(ctx context.Context, userID, turn string) error {
	resp, err := e.chatModel.Chat(ctx, []chat.Message{
		{Role: types.RoleSystem, Content: noteCheckPrompt},
		{Role: types.RoleUser, Content: turn},
	}, &chat.ChatOptions{
		Temperature: 0,
		Format:      utils.GenerateSchema[noteCheck](),
		FormatName:  "note_check",
	})
	if err != nil {
		return fmt.Errorf("note check failed: %w", err)
	}

	var check noteCheck
	if err := json.Unmarshal([]byte(resp.Content), &check); err != nil {
		logger.Warnf(ctx, "note check returned invalid payload: %v", err)
		return nil
	}
	if !check.HasNote || check.Identifier == "" || check.Note == "" {
		return nil
	}

	status, err := e.learning.Status(ctx, userID, check.Identifier)
	if err != nil {
		// An identifier the database does not know is a model guess, skip it.
		logger.Debugf(ctx, "note target %q not found: %v", check.Identifier, err)
		return nil
	}
	return e.learning.AddNote(ctx, userID, status.KUID, check.Note)
}
