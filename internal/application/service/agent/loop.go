// Package agent implements the memory-augmented conversation engine: an
// iterative planner/tools/reviewer loop with a simple single-pass fallback,
// plus the persistence step that feeds the memory layers after each turn.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hanachan/kioku/internal/application/service/retrieval"
	"github.com/hanachan/kioku/internal/config"
	"github.com/hanachan/kioku/internal/logger"
	"github.com/hanachan/kioku/internal/models/chat"
	"github.com/hanachan/kioku/internal/runtime"
	"github.com/hanachan/kioku/internal/types"
	"github.com/hanachan/kioku/internal/types/interfaces"
)

const plannerPrompt = `You are a strategic planning node for a Japanese language learning assistant.
Your goal is to decide which tools to call to gather enough context to answer the user's message accurately.

User session context:
%s

Instructions:
1. Analyze the user's message.
2. If the message is a simple greeting, you may not need tools.
3. If it involves their learning progress, use 'get_user_learning_progress'.
4. If it's about Japanese grammar/vocab, use 'search_knowledge_units'.
5. If it refers to past conversations, use 'get_episodic_memory'.
6. If it's about their personal facts, interests, or goals, use 'get_semantic_facts'.
7. If you have already gathered info, decide if you need more or if you can proceed to answer.

Current Date: %s`

const reviewerPrompt = `You are a quality assurance reviewer. Evaluate the gathered context against the user's original intent.

User Input: %s
Gathered Context:
%s

Decision Rules:
- If the tool results clearly answer the user's question, respond with 'GENERATE'.
- If the tool results are missing key information (e.g. couldn't find a record), respond with 'REWRITE' followed by a suggestion for a better search query.

Return ONLY the decision word and suggestion if applicable.`

const generatorPrompt = `You are Hanachan, a helpful and personalized Japanese learning assistant.
Use the retrieved context to answer the user. Be concise, warm, and professional.
Reference the facts found if relevant, but don't show raw metadata.

Context:
%s`

// Engine runs agent turns. It owns no storage; every layer is injected.
type Engine struct {
	chatModel  chat.Chat
	bridge     *Bridge
	sessions   interfaces.SessionService
	retrieval  *retrieval.Service
	episodic   interfaces.EpisodicStore
	semantic   interfaces.SemanticStore
	learning   interfaces.LearningRepository
	background *runtime.BackgroundTasks
	cfg        config.AgentConfig
}

func NewEngine(
	chatModel chat.Chat,
	bridge *Bridge,
	sessions interfaces.SessionService,
	retrievalSvc *retrieval.Service,
	episodic interfaces.EpisodicStore,
	semantic interfaces.SemanticStore,
	learning interfaces.LearningRepository,
	background *runtime.BackgroundTasks,
	cfg config.AgentConfig,
) *Engine {
	return &Engine{
		chatModel:  chatModel,
		bridge:     bridge,
		sessions:   sessions,
		retrieval:  retrievalSvc,
		episodic:   episodic,
		semantic:   semantic,
		learning:   learning,
		background: background,
		cfg:        cfg,
	}
}

// Run executes one turn in the configured mode and schedules the persistence
// step. The returned result carries the generation; memory writes complete in
// the background.
func (e *Engine) Run(ctx context.Context, userID, sessionID, message string) (*types.ChatResult, error) {
	if types.AgentMode(e.cfg.Mode) == types.ModeSimple {
		return e.runSimple(ctx, userID, sessionID, message)
	}
	return e.runIterative(ctx, userID, sessionID, message)
}

func (e *Engine) runIterative(ctx context.Context, userID, sessionID, message string) (*types.ChatResult, error) {
	state := newState(userID, sessionID, message)

	if err := e.loop(ctx, state, nil); err != nil {
		return nil, err
	}

	generation, err := e.generate(ctx, state)
	if err != nil {
		return nil, err
	}
	state.Generation = generation

	e.scheduleUpdate(ctx, state)

	return &types.ChatResult{
		UserID:    userID,
		SessionID: sessionID,
		Message:   message,
		Response:  generation,
	}, nil
}

// loop drives planner -> tools -> planner until the planner stops requesting
// tools, then lets the reviewer decide between generating and rewriting.
// The iteration cap bounds the loop no matter what the models say. notify,
// when non-nil, receives a status line before each stage.
func (e *Engine) loop(ctx context.Context, state *State, notify func(string)) error {
	for {
		status(notify, "planning")
		resp, err := e.plan(ctx, state)
		if err != nil {
			return err
		}
		state.Iterations++

		if len(resp.ToolCalls) > 0 {
			state.append(chat.Message{
				Role:      types.RoleAssistant,
				Content:   resp.Content,
				ToolCalls: resp.ToolCalls,
			})
			status(notify, "consulting memory")
			for _, call := range resp.ToolCalls {
				state.append(chat.Message{
					Role:       types.RoleTool,
					Name:       call.Name,
					ToolCallID: call.ID,
					Content:    e.bridge.Execute(ctx, state.UserID, call),
				})
			}
			// At the cap, skip straight to generation; another planner
			// pass could keep requesting tools forever.
			if state.Iterations >= e.cfg.IterationCap {
				state.Verdict = types.VerdictGenerate
				return nil
			}
			continue
		}

		state.append(chat.Message{Role: types.RoleAssistant, Content: resp.Content})

		status(notify, "reviewing")
		verdict, suggestion, err := e.review(ctx, state)
		if err != nil {
			return err
		}
		state.Verdict = verdict
		if verdict == types.VerdictGenerate {
			return nil
		}

		state.RewrittenQuery = suggestion
		if suggestion == "" {
			suggestion = "Try searching for simpler keywords."
		}
		state.append(chat.Message{
			Role:    types.RoleUser,
			Content: fmt.Sprintf("[Reviewer Feedback]: The previous tools didn't find enough. %s", suggestion),
		})
	}
}

func (e *Engine) plan(ctx context.Context, state *State) (*chat.Response, error) {
	threadContext := "No active session."
	if state.SessionID != "" {
		if text, err := e.sessions.ThreadContextText(ctx, state.SessionID, 5); err == nil && text != "" {
			threadContext = text
		}
	}

	messages := append([]chat.Message{{
		Role:    types.RoleSystem,
		Content: fmt.Sprintf(plannerPrompt, threadContext, time.Now().Format("2006-01-02")),
	}}, state.Messages...)

	resp, err := e.chatModel.Chat(ctx, messages, &chat.ChatOptions{Tools: e.bridge.Specs()})
	if err != nil {
		return nil, fmt.Errorf("planner failed: %w", err)
	}
	return resp, nil
}

// review parses the reviewer's GENERATE/REWRITE decision. The iteration cap
// forces generation regardless of the model's answer, and a reviewer failure
// degrades to generation instead of killing the turn.
func (e *Engine) review(ctx context.Context, state *State) (types.Verdict, string, error) {
	if state.Iterations >= e.cfg.IterationCap {
		logger.Debugf(ctx, "iteration cap %d reached, forcing generation", e.cfg.IterationCap)
		return types.VerdictGenerate, "", nil
	}

	resp, err := e.chatModel.Chat(ctx, []chat.Message{
		{Role: types.RoleSystem, Content: fmt.Sprintf(reviewerPrompt, state.Input, state.transcript())},
		{Role: types.RoleUser, Content: "Check if we have enough info."},
	}, &chat.ChatOptions{Temperature: 0})
	if err != nil {
		logger.Warnf(ctx, "reviewer failed, generating anyway: %v", err)
		return types.VerdictGenerate, "", nil
	}

	content := strings.ToUpper(resp.Content)
	if strings.Contains(content, "GENERATE") || !strings.Contains(content, "REWRITE") {
		return types.VerdictGenerate, "", nil
	}
	suggestion := strings.TrimSpace(strings.ReplaceAll(resp.Content, "REWRITE", ""))
	return types.VerdictRewrite, suggestion, nil
}

// generate produces the final answer under the generation deadline.
func (e *Engine) generate(ctx context.Context, state *State) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, e.cfg.GenerationTimeout)
	defer cancel()

	resp, err := e.chatModel.Chat(genCtx, []chat.Message{
		{Role: types.RoleSystem, Content: fmt.Sprintf(generatorPrompt, state.transcript())},
		{Role: types.RoleUser, Content: state.Input},
	}, nil)
	if err != nil {
		if errors.Is(genCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %v", types.ErrGenerationTimeout, err)
		}
		return "", fmt.Errorf("generation failed: %w", err)
	}
	return resp.Content, nil
}

func status(notify func(string), message string) {
	if notify != nil {
		notify(message)
	}
}
