package agent

import (
	"context"
	"fmt"

	"github.com/hanachan/kioku/internal/logger"
	"github.com/hanachan/kioku/internal/models/chat"
	"github.com/hanachan/kioku/internal/types"
)

// RunStream executes one turn like Run but streams the final generation.
// Status events mark the loop's stages, token events carry generation deltas,
// and exactly one done or error event terminates the stream.
func (e *Engine) RunStream(ctx context.Context, userID, sessionID, message string) (<-chan types.StreamEvent, error) {
	events := make(chan types.StreamEvent, 8)

	go func() {
		defer close(events)

		emit := func(ev types.StreamEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		fail := func(err error) {
			logger.Errorf(ctx, "streaming turn failed: %v", err)
			emit(types.StreamEvent{Type: types.StreamError, Content: err.Error(), SessionID: sessionID})
		}

		state := newState(userID, sessionID, message)

		if types.AgentMode(e.cfg.Mode) == types.ModeSimple {
			emit(types.StreamEvent{Type: types.StreamStatus, Content: "retrieving memories", SessionID: sessionID})
			mc, err := e.retrieve(ctx, userID, sessionID, message)
			if err != nil {
				fail(err)
				return
			}
			state.append(chat.Message{Role: types.RoleSystem, Content: mc.Combined})
		} else {
			notify := func(stage string) {
				emit(types.StreamEvent{Type: types.StreamStatus, Content: stage, SessionID: sessionID})
			}
			if err := e.loop(ctx, state, notify); err != nil {
				fail(err)
				return
			}
		}

		emit(types.StreamEvent{Type: types.StreamStatus, Content: "generating", SessionID: sessionID})
		if err := e.streamGeneration(ctx, state, emit); err != nil {
			fail(err)
			return
		}

		e.scheduleUpdate(ctx, state)
		emit(types.StreamEvent{Type: types.StreamDone, SessionID: sessionID})
	}()

	return events, nil
}

// streamGeneration streams the final completion under the generation
// deadline, accumulating the full text into the state for persistence.
func (e *Engine) streamGeneration(ctx context.Context, state *State, emit func(types.StreamEvent) bool) error {
	genCtx, cancel := context.WithTimeout(ctx, e.cfg.GenerationTimeout)
	defer cancel()

	chunks, err := e.chatModel.ChatStream(genCtx, []chat.Message{
		{Role: types.RoleSystem, Content: fmt.Sprintf(generatorPrompt, state.transcript())},
		{Role: types.RoleUser, Content: state.Input},
	}, nil)
	if err != nil {
		return fmt.Errorf("generation failed: %w", err)
	}

	var full []byte
	for {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				state.Generation = string(full)
				return nil
			}
			if chunk.Err != nil {
				if genCtx.Err() != nil {
					return fmt.Errorf("%w: %v", types.ErrGenerationTimeout, chunk.Err)
				}
				return fmt.Errorf("generation stream failed: %w", chunk.Err)
			}
			if chunk.Done {
				state.Generation = string(full)
				return nil
			}
			full = append(full, chunk.Content...)
			if !emit(types.StreamEvent{Type: types.StreamToken, Content: chunk.Content, SessionID: state.SessionID}) {
				state.Generation = string(full)
				return nil
			}
		case <-genCtx.Done():
			if ctx.Err() == nil {
				return fmt.Errorf("%w: generation exceeded deadline", types.ErrGenerationTimeout)
			}
			state.Generation = string(full)
			return nil
		}
	}
}
