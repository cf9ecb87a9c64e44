package agent

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanachan/kioku/internal/config"
	"github.com/hanachan/kioku/internal/models/chat"
	"github.com/hanachan/kioku/internal/runtime"
	"github.com/hanachan/kioku/internal/types"
)

// scriptedChat routes completions by their shape: planner calls carry tools,
// generator calls carry the persona prompt, everything else is the reviewer.
type scriptedChat struct {
	mu            sync.Mutex
	plannerCalls  int
	reviewerCalls int
	plannerTools  [][]chat.ToolCall
	reviewerReply string
}

func (c *scriptedChat) Chat(_ context.Context, messages []chat.Message, opts *chat.ChatOptions) (*chat.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if opts != nil && len(opts.Tools) > 0 {
		c.plannerCalls++
		if c.plannerCalls <= len(c.plannerTools) {
			return &chat.Response{ToolCalls: c.plannerTools[c.plannerCalls-1]}, nil
		}
		return &chat.Response{Content: "I have enough context."}, nil
	}
	if len(messages) > 0 && strings.Contains(messages[0].Content, "Hanachan") {
		return &chat.Response{Content: "final answer"}, nil
	}
	c.reviewerCalls++
	return &chat.Response{Content: c.reviewerReply}, nil
}

func (c *scriptedChat) ChatStream(context.Context, []chat.Message, *chat.ChatOptions) (<-chan chat.StreamChunk, error) {
	ch := make(chan chat.StreamChunk, 2)
	ch <- chat.StreamChunk{Content: "final answer"}
	ch <- chat.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

// recordingEpisodic captures which user id reached the store.
type recordingEpisodic struct {
	mu      sync.Mutex
	userIDs []string
}

func (s *recordingEpisodic) Add(_ context.Context, userID, _ string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userIDs = append(s.userIDs, userID)
	return "id", nil
}

func (s *recordingEpisodic) Search(_ context.Context, userID, _ string, _ int) ([]types.EpisodicMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userIDs = append(s.userIDs, userID)
	return []types.EpisodicMemory{{ID: "m1", Text: "remembered", Score: 0.9, Scored: true}}, nil
}

func (s *recordingEpisodic) List(context.Context, string, int) ([]types.EpisodicMemory, error) {
	return nil, nil
}
func (s *recordingEpisodic) DeleteOne(context.Context, string) error    { return nil }
func (s *recordingEpisodic) DeleteByUser(context.Context, string) error { return nil }
func (s *recordingEpisodic) Health(context.Context) error               { return nil }

func (s *recordingEpisodic) seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.userIDs...)
}

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		Mode:              string(types.ModeIterative),
		IterationCap:      3,
		RetrievalTimeout:  time.Second,
		GenerationTimeout: time.Second,
		EpisodicTopK:      3,
		ThreadLastN:       10,
		MaxKeywords:       8,
	}
}

func TestLoopTerminatesUnderHostileReviewer(t *testing.T) {
	model := &scriptedChat{reviewerReply: "REWRITE look harder"}
	state := newState("u1", "", "what do you remember?")
	engine := &Engine{chatModel: model, cfg: testAgentConfig()}

	err := engine.loop(context.Background(), state, nil)
	require.NoError(t, err)

	// A reviewer that always demands a rewrite cannot loop forever; the cap
	// forces the generate verdict by the third planner pass.
	assert.Equal(t, types.VerdictGenerate, state.Verdict)
	assert.Equal(t, 3, state.Iterations)
	assert.Equal(t, 3, model.plannerCalls)
	assert.Equal(t, 2, model.reviewerCalls)
}

func TestLoopStopsPlannerToolStormAtCap(t *testing.T) {
	call := []chat.ToolCall{{ID: "t1", Name: toolEpisodicMemory, Arguments: `{"query":"anything"}`}}
	model := &scriptedChat{
		reviewerReply: "GENERATE",
		plannerTools:  [][]chat.ToolCall{call, call, call, call, call},
	}
	store := &recordingEpisodic{}
	bridge := NewBridge(store, nil, nil, 3)
	state := newState("u1", "", "keep digging")
	engine := &Engine{chatModel: model, bridge: bridge, cfg: testAgentConfig()}

	err := engine.loop(context.Background(), state, nil)
	require.NoError(t, err)

	// The planner wanted tools on every pass; the cap cut it off after three.
	assert.Equal(t, types.VerdictGenerate, state.Verdict)
	assert.Equal(t, 3, model.plannerCalls)
}

func TestBridgeOverridesModelSuppliedUserID(t *testing.T) {
	store := &recordingEpisodic{}
	bridge := NewBridge(store, nil, nil, 3)

	result := bridge.Execute(context.Background(), "authentic-user", chat.ToolCall{
		ID:        "t1",
		Name:      toolEpisodicMemory,
		Arguments: `{"query":"secrets","user_id":"someone-else"}`,
	})

	assert.Contains(t, result, "remembered")
	assert.Equal(t, []string{"authentic-user"}, store.seen())
}

func TestBridgeUnknownToolIsNotFatal(t *testing.T) {
	bridge := NewBridge(&recordingEpisodic{}, nil, nil, 3)
	result := bridge.Execute(context.Background(), "u1", chat.ToolCall{Name: "rm_rf", Arguments: "{}"})
	assert.Contains(t, result, "Unknown tool")
}

func TestRunIterativeProducesGeneration(t *testing.T) {
	model := &scriptedChat{reviewerReply: "GENERATE"}
	store := &recordingEpisodic{}
	bridge := NewBridge(store, nil, nil, 3)
	background, err := runtime.NewBackgroundTasks(1)
	require.NoError(t, err)

	engine := NewEngine(model, bridge, nil, nil, store, nil, nil, background, testAgentConfig())
	result, err := engine.Run(context.Background(), "u1", "", "hello")
	require.NoError(t, err)
	background.Drain()

	assert.Equal(t, "final answer", result.Response)
	assert.Equal(t, "u1", result.UserID)
}
