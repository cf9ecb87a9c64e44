package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanachan/kioku/internal/runtime"
	"github.com/hanachan/kioku/internal/types"
)

type stubSessions struct {
	threadText string
	threadErr  error
}

func (s *stubSessions) Create(context.Context, string, map[string]interface{}) (string, error) {
	return "", nil
}
func (s *stubSessions) EnsureExists(context.Context, string, string) error { return nil }
func (s *stubSessions) Get(_ context.Context, sessionID string) (*types.Session, error) {
	return &types.Session{SessionID: sessionID}, nil
}
func (s *stubSessions) List(context.Context, string) ([]types.SessionSummary, error) {
	return nil, nil
}
func (s *stubSessions) AddMessage(context.Context, string, string, string) error { return nil }
func (s *stubSessions) UpdateMeta(context.Context, string, string, map[string]interface{}) (bool, error) {
	return false, nil
}
func (s *stubSessions) End(context.Context, string) (*types.Session, error) { return nil, nil }
func (s *stubSessions) ThreadContextText(context.Context, string, int) (string, error) {
	return s.threadText, s.threadErr
}
func (s *stubSessions) DeleteByUser(context.Context, string) (int, error) { return 0, nil }

type stubEpisodic struct {
	memories []types.EpisodicMemory
	err      error
	delay    time.Duration
}

func (s *stubEpisodic) Add(context.Context, string, string) (string, error) { return "", nil }
func (s *stubEpisodic) Search(ctx context.Context, _, _ string, _ int) ([]types.EpisodicMemory, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.memories, s.err
}
func (s *stubEpisodic) List(context.Context, string, int) ([]types.EpisodicMemory, error) {
	return nil, nil
}
func (s *stubEpisodic) DeleteOne(context.Context, string) error    { return nil }
func (s *stubEpisodic) DeleteByUser(context.Context, string) error { return nil }
func (s *stubEpisodic) Health(context.Context) error               { return nil }

type stubSemantic struct {
	facts []types.SemanticFact
	err   error
}

func (s *stubSemantic) UpsertFacts(context.Context, string, []types.Relationship) (int, error) {
	return 0, nil
}
func (s *stubSemantic) UpsertManual(context.Context, string, []types.Node, []types.Relationship) (int, int, error) {
	return 0, 0, nil
}
func (s *stubSemantic) Search(context.Context, string, []string) ([]types.SemanticFact, error) {
	return s.facts, s.err
}
func (s *stubSemantic) Inspect(context.Context, string) ([]types.SemanticFact, error) {
	return s.facts, nil
}
func (s *stubSemantic) Schema(context.Context) (*types.GraphSchema, error) { return nil, nil }
func (s *stubSemantic) Clear(context.Context, string) error                { return nil }
func (s *stubSemantic) Health(context.Context) error                       { return nil }

func newTestService(t *testing.T, sessions *stubSessions, episodic *stubEpisodic, semantic *stubSemantic) *Service {
	t.Helper()
	pool, err := runtime.NewWorkerPool(4)
	require.NoError(t, err)
	t.Cleanup(pool.Release)
	return NewService(sessions, episodic, semantic, pool, Options{
		EpisodicTopK: 3,
		ThreadLastN:  10,
		MaxKeywords:  8,
	})
}

func TestFetchCombinesAllLayersInOrder(t *testing.T) {
	svc := newTestService(t,
		&stubSessions{threadText: "user: hi\nassistant: hello"},
		&stubEpisodic{memories: []types.EpisodicMemory{{Text: "user likes trains"}}},
		&stubSemantic{facts: []types.SemanticFact{{
			Source:       types.Node{ID: "user", Type: "Person"},
			Relationship: "LIKES",
			Target:       types.Node{ID: "trains", Type: "Topic"},
		}}},
	)

	mc, err := svc.Fetch(context.Background(), "u1", "s1", "tell me about trains")
	require.NoError(t, err)

	assert.Contains(t, mc.Episodic, "user likes trains")
	assert.Contains(t, mc.Semantic, "-[LIKES]->")

	threadIdx := strings.Index(mc.Combined, "=== Current Thread Context ===")
	episodicIdx := strings.Index(mc.Combined, "=== Relevant Past Conversations (Episodic Memory) ===")
	semanticIdx := strings.Index(mc.Combined, "=== Known Facts about User (Semantic Memory) ===")
	require.GreaterOrEqual(t, threadIdx, 0)
	assert.Less(t, threadIdx, episodicIdx)
	assert.Less(t, episodicIdx, semanticIdx)
}

func TestFetchDegradesOnSemanticFailure(t *testing.T) {
	svc := newTestService(t,
		&stubSessions{threadText: "user: hi"},
		&stubEpisodic{memories: []types.EpisodicMemory{{Text: "a memory"}}},
		&stubSemantic{err: errors.New("neo4j down")},
	)

	mc, err := svc.Fetch(context.Background(), "u1", "s1", "anything")
	require.NoError(t, err)
	assert.Equal(t, "(semantic memory unavailable)", mc.Semantic)
	assert.Contains(t, mc.Combined, "(semantic memory unavailable)")
	assert.Contains(t, mc.Episodic, "a memory")
}

func TestFetchWithoutSessionUsesPlaceholder(t *testing.T) {
	svc := newTestService(t,
		&stubSessions{},
		&stubEpisodic{},
		&stubSemantic{},
	)

	mc, err := svc.Fetch(context.Background(), "u1", "", "anything")
	require.NoError(t, err)
	assert.Equal(t, "(no active session)", mc.ThreadContext)
	assert.Equal(t, "(no episodic memories)", mc.Episodic)
	assert.Equal(t, "(no semantic facts)", mc.Semantic)
}

func TestFetchTimesOut(t *testing.T) {
	svc := newTestService(t,
		&stubSessions{threadText: "user: hi"},
		&stubEpisodic{delay: 500 * time.Millisecond},
		&stubSemantic{},
	)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := svc.Fetch(ctx, "u1", "s1", "anything")
	assert.ErrorIs(t, err, types.ErrRetrievalTimeout)
}

func TestKeywords(t *testing.T) {
	assert.Equal(t, []string{"about", "Studio", "Ghibli", "movies"},
		Keywords("me about the Studio Ghibli movies", 8))
	assert.Len(t, Keywords("one two three four five six seven eight nine ten eleven otters", 2), 2)
	assert.Empty(t, Keywords("a to is", 8))
}
