package agent

import (
	"context"
	"fmt"

	"github.com/hanachan/kioku/internal/models/chat"
	"github.com/hanachan/kioku/internal/types"
)

const simpleGeneratorPrompt = `You are Hanachan, a helpful and personalized Japanese learning assistant.
Use the retrieved memories below to answer the user. Be concise, warm, and professional.
Reference the facts found if relevant, but don't show raw metadata.

%s`

// runSimple is the single-pass pipeline: fan-out retrieval, one generation,
// then the persistence step. No tools, no reviewer.
func (e *Engine) runSimple(ctx context.Context, userID, sessionID, message string) (*types.ChatResult, error) {
	mc, err := e.retrieve(ctx, userID, sessionID, message)
	if err != nil {
		return nil, err
	}

	state := newState(userID, sessionID, message)
	genCtx, cancel := context.WithTimeout(ctx, e.cfg.GenerationTimeout)
	defer cancel()

	resp, err := e.chatModel.Chat(genCtx, []chat.Message{
		{Role: types.RoleSystem, Content: fmt.Sprintf(simpleGeneratorPrompt, mc.Combined)},
		{Role: types.RoleUser, Content: message},
	}, nil)
	if err != nil {
		if genCtx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrGenerationTimeout, err)
		}
		return nil, fmt.Errorf("generation failed: %w", err)
	}
	state.Generation = resp.Content

	e.scheduleUpdate(ctx, state)

	return &types.ChatResult{
		UserID:          userID,
		SessionID:       sessionID,
		Message:         message,
		Response:        resp.Content,
		ThreadContext:   mc.ThreadContext,
		EpisodicContext: mc.Episodic,
		SemanticContext: mc.Semantic,
	}, nil
}

// retrieve runs the fan-out under the retrieval budget.
func (e *Engine) retrieve(ctx context.Context, userID, sessionID, query string) (*types.MemoryContext, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.RetrievalTimeout)
	defer cancel()
	return e.retrieval.Fetch(fetchCtx, userID, sessionID, query)
}
