package consolidation

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanachan/kioku/internal/config"
	"github.com/hanachan/kioku/internal/models/chat"
	"github.com/hanachan/kioku/internal/types"
)

// memEpisodic is an in-memory EpisodicStore double keyed by user.
type memEpisodic struct {
	mu     sync.Mutex
	nextID int
	items  map[string][]types.EpisodicMemory
}

func newMemEpisodic() *memEpisodic {
	return &memEpisodic{items: map[string][]types.EpisodicMemory{}}
}

func (s *memEpisodic) Add(_ context.Context, userID, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := fmt.Sprintf("mem-%04d", s.nextID)
	s.items[userID] = append(s.items[userID], types.EpisodicMemory{
		ID:        id,
		Text:      text,
		CreatedAt: fmt.Sprintf("2026-01-01T00:00:%02dZ", s.nextID%60),
	})
	return id, nil
}

func (s *memEpisodic) Search(_ context.Context, userID, _ string, k int) ([]types.EpisodicMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.items[userID]
	if len(out) > k {
		out = out[:k]
	}
	return append([]types.EpisodicMemory(nil), out...), nil
}

func (s *memEpisodic) List(_ context.Context, userID string, limit int) ([]types.EpisodicMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.items[userID]
	if len(out) > limit {
		out = out[:limit]
	}
	return append([]types.EpisodicMemory(nil), out...), nil
}

func (s *memEpisodic) DeleteOne(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for userID, memories := range s.items {
		for i, m := range memories {
			if m.ID == id {
				s.items[userID] = append(memories[:i], memories[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

func (s *memEpisodic) DeleteByUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, userID)
	return nil
}

func (s *memEpisodic) Health(context.Context) error { return nil }

func (s *memEpisodic) count(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items[userID])
}

// stubLocker grants or refuses the lock and records release calls.
type stubLocker struct {
	acquired bool
	released int
}

func (l *stubLocker) TryLock(context.Context, int64) (func(), bool, error) {
	return func() { l.released++ }, l.acquired, nil
}

// stubChat answers every completion with a fixed string.
type stubChat struct {
	reply string
	calls int
}

func (c *stubChat) Chat(context.Context, []chat.Message, *chat.ChatOptions) (*chat.Response, error) {
	c.calls++
	return &chat.Response{Content: c.reply}, nil
}

func (c *stubChat) ChatStream(context.Context, []chat.Message, *chat.ChatOptions) (<-chan chat.StreamChunk, error) {
	ch := make(chan chat.StreamChunk, 1)
	ch <- chat.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

func testConfig() config.ConsolidationConfig {
	return config.ConsolidationConfig{Threshold: 10, BatchSize: 5, ListLimit: 200}
}

func seed(t *testing.T, store *memEpisodic, userID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		_, err := store.Add(context.Background(), userID, fmt.Sprintf("memory %d", i))
		require.NoError(t, err)
	}
}

func TestConsolidateBelowThresholdIsNoOp(t *testing.T) {
	store := newMemEpisodic()
	seed(t, store, "u1", 10)
	locker := &stubLocker{acquired: true}
	model := &stubChat{reply: "merged"}
	svc := NewService(store, nil, locker, model, testConfig())

	result, err := svc.Consolidate(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 10, result.MemoriesBefore)
	assert.Equal(t, 10, result.MemoriesAfter)
	assert.Zero(t, result.BatchesMerged)
	assert.Zero(t, model.calls)
	assert.Equal(t, 1, locker.released)
}

func TestConsolidateShrinksStore(t *testing.T) {
	store := newMemEpisodic()
	seed(t, store, "u1", 15)
	locker := &stubLocker{acquired: true}
	svc := NewService(store, nil, locker, &stubChat{reply: "merged summary"}, testConfig())

	result, err := svc.Consolidate(context.Background(), "u1")
	require.NoError(t, err)
	// 15 raw memories in batches of 5: three merges, each replacing five
	// originals with one consolidated record.
	assert.Equal(t, 3, result.BatchesMerged)
	assert.Equal(t, 15, result.MemoriesBefore)
	assert.Equal(t, 3, result.MemoriesAfter)
	assert.Equal(t, 3, store.count("u1"))
	assert.Equal(t, 1, locker.released)
}

func TestConsolidateLeavesRemainderOfOne(t *testing.T) {
	store := newMemEpisodic()
	seed(t, store, "u1", 11)
	locker := &stubLocker{acquired: true}
	svc := NewService(store, nil, locker, &stubChat{reply: "merged"}, testConfig())

	result, err := svc.Consolidate(context.Background(), "u1")
	require.NoError(t, err)
	// Two full batches merge; the final batch of one stays untouched.
	assert.Equal(t, 2, result.BatchesMerged)
	assert.Equal(t, 3, store.count("u1"))
}

func TestConsolidateSkipsConsolidatedRecords(t *testing.T) {
	store := newMemEpisodic()
	for i := 0; i < 12; i++ {
		_, err := store.Add(context.Background(), "u1", types.ConsolidatedPrefix+fmt.Sprintf("old merge %d", i))
		require.NoError(t, err)
	}
	seed(t, store, "u1", 4)
	locker := &stubLocker{acquired: true}
	model := &stubChat{reply: "merged"}
	svc := NewService(store, nil, locker, model, testConfig())

	result, err := svc.Consolidate(context.Background(), "u1")
	require.NoError(t, err)
	// Only 4 raw memories exist, below the threshold of 10.
	assert.Zero(t, result.BatchesMerged)
	assert.Zero(t, model.calls)
	assert.Equal(t, 16, store.count("u1"))
}

func TestConsolidateDoesNotTouchOtherUsers(t *testing.T) {
	store := newMemEpisodic()
	seed(t, store, "u1", 15)
	seed(t, store, "u2", 15)
	locker := &stubLocker{acquired: true}
	svc := NewService(store, nil, locker, &stubChat{reply: "merged"}, testConfig())

	_, err := svc.Consolidate(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 15, store.count("u2"))
}

func TestConsolidateNoOpWhenAlreadyRunning(t *testing.T) {
	store := newMemEpisodic()
	seed(t, store, "u1", 15)
	locker := &stubLocker{acquired: false}
	model := &stubChat{reply: "merged"}
	svc := NewService(store, nil, locker, model, testConfig())

	// Losing the lock race is a benign no-op result, never an error.
	result, err := svc.Consolidate(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, result.BatchesMerged)
	assert.Contains(t, result.Message, "already in progress")
	assert.Zero(t, model.calls)
	assert.Equal(t, 15, store.count("u1"))
	// The release func is still called even when the lock was not granted.
	assert.Equal(t, 1, locker.released)
}

func TestLockKeyStableAndPositive(t *testing.T) {
	assert.Equal(t, LockKey("alice"), LockKey("alice"))
	assert.NotEqual(t, LockKey("alice"), LockKey("bob"))
	assert.GreaterOrEqual(t, LockKey("alice"), int64(0))
	assert.Less(t, LockKey("alice"), int64(1)<<31)
}
