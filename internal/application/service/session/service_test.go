package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanachan/kioku/internal/models/chat"
	"github.com/hanachan/kioku/internal/runtime"
	"github.com/hanachan/kioku/internal/types"
)

// memSessionRepo is an in-memory SessionRepository double.
type memSessionRepo struct {
	mu           sync.Mutex
	sessions     map[string]*types.Session
	titleWrites  int
	titleUpdated int
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{sessions: map[string]*types.Session{}}
}

func (r *memSessionRepo) Create(_ context.Context, userID string, metadata map[string]interface{}) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := "s1"
	r.sessions[id] = &types.Session{SessionID: id, UserID: userID, Metadata: metadata, CreatedAt: time.Now()}
	return id, nil
}

func (r *memSessionRepo) EnsureExists(_ context.Context, sessionID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; !ok {
		r.sessions[sessionID] = &types.Session{SessionID: sessionID, UserID: userID}
	}
	return nil
}

func (r *memSessionRepo) Get(_ context.Context, sessionID string) (*types.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, types.ErrSessionNotFound
	}
	copied := *s
	copied.Messages = append([]types.SessionMessage(nil), s.Messages...)
	return &copied, nil
}

func (r *memSessionRepo) List(context.Context, string) ([]types.SessionSummary, error) {
	return nil, nil
}

func (r *memSessionRepo) AppendMessage(_ context.Context, sessionID, role, content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return types.ErrSessionNotFound
	}
	s.Messages = append(s.Messages, types.SessionMessage{Role: role, Content: content, Timestamp: time.Now()})
	return nil
}

func (r *memSessionRepo) Messages(_ context.Context, sessionID string) ([]types.SessionMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return append([]types.SessionMessage(nil), s.Messages...), nil
}

func (r *memSessionRepo) UpdateTitle(_ context.Context, sessionID, title string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titleWrites++
	s, ok := r.sessions[sessionID]
	if !ok || s.Title != "" {
		return false, nil
	}
	s.Title = title
	r.titleUpdated++
	return true, nil
}

func (r *memSessionRepo) UpdateSummary(_ context.Context, sessionID, summary string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[sessionID]; ok {
		s.Summary = summary
	}
	return nil
}

func (r *memSessionRepo) UpdateMetadata(context.Context, string, map[string]interface{}) (bool, error) {
	return false, nil
}

func (r *memSessionRepo) Delete(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[sessionID]; !ok {
		return types.ErrSessionNotFound
	}
	delete(r.sessions, sessionID)
	return nil
}

func (r *memSessionRepo) DeleteByUser(context.Context, string) (int, error) { return 0, nil }
func (r *memSessionRepo) DistinctUsers(context.Context, int) ([]string, error) {
	return nil, nil
}
func (r *memSessionRepo) Health(context.Context) error { return nil }

func (r *memSessionRepo) title(sessionID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[sessionID].Title
}

func (r *memSessionRepo) summary(sessionID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[sessionID].Summary
}

// fixedChat replies to every completion with the same content.
type fixedChat struct{ reply string }

func (c *fixedChat) Chat(context.Context, []chat.Message, *chat.ChatOptions) (*chat.Response, error) {
	return &chat.Response{Content: c.reply}, nil
}

func (c *fixedChat) ChatStream(context.Context, []chat.Message, *chat.ChatOptions) (<-chan chat.StreamChunk, error) {
	ch := make(chan chat.StreamChunk, 1)
	ch <- chat.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

func TestTitleIsWriteOnce(t *testing.T) {
	repo := newMemSessionRepo()
	background, err := runtime.NewBackgroundTasks(2)
	require.NoError(t, err)
	svc := NewSessionService(repo, &fixedChat{reply: "Trains and Travel"}, background)

	ctx := context.Background()
	sessionID, err := svc.Create(ctx, "u1", nil)
	require.NoError(t, err)

	require.NoError(t, svc.AddMessage(ctx, sessionID, types.RoleUser, "let's talk trains"))
	require.NoError(t, svc.AddMessage(ctx, sessionID, types.RoleAssistant, "sure, trains it is"))
	require.NoError(t, svc.AddMessage(ctx, sessionID, types.RoleUser, "and planes"))
	require.NoError(t, svc.AddMessage(ctx, sessionID, types.RoleAssistant, "planes too"))
	background.Drain()

	assert.Equal(t, "Trains and Travel", repo.title(sessionID))
	// The second assistant turn may attempt a write, but only one can land.
	assert.Equal(t, 1, repo.titleUpdated)
}

func TestAssistantTurnUpdatesSummary(t *testing.T) {
	repo := newMemSessionRepo()
	background, err := runtime.NewBackgroundTasks(2)
	require.NoError(t, err)
	svc := NewSessionService(repo, &fixedChat{reply: "They discussed trains."}, background)

	ctx := context.Background()
	sessionID, err := svc.Create(ctx, "u1", nil)
	require.NoError(t, err)

	require.NoError(t, svc.AddMessage(ctx, sessionID, types.RoleUser, "let's talk trains"))
	require.NoError(t, svc.AddMessage(ctx, sessionID, types.RoleAssistant, "sure"))
	background.Drain()

	assert.Equal(t, "They discussed trains.", repo.summary(sessionID))
}

func TestUserTurnSchedulesNothing(t *testing.T) {
	repo := newMemSessionRepo()
	background, err := runtime.NewBackgroundTasks(2)
	require.NoError(t, err)
	svc := NewSessionService(repo, &fixedChat{reply: "never used"}, background)

	ctx := context.Background()
	sessionID, err := svc.Create(ctx, "u1", nil)
	require.NoError(t, err)
	require.NoError(t, svc.AddMessage(ctx, sessionID, types.RoleUser, "hello"))
	background.Drain()

	assert.Empty(t, repo.title(sessionID))
	assert.Empty(t, repo.summary(sessionID))
}

func TestEndReturnsSnapshotThenDeletes(t *testing.T) {
	repo := newMemSessionRepo()
	background, err := runtime.NewBackgroundTasks(2)
	require.NoError(t, err)
	svc := NewSessionService(repo, nil, background)

	ctx := context.Background()
	sessionID, err := svc.Create(ctx, "u1", nil)
	require.NoError(t, err)
	require.NoError(t, svc.AddMessage(ctx, sessionID, types.RoleUser, "bye"))

	snapshot, err := svc.End(ctx, sessionID)
	require.NoError(t, err)
	assert.Len(t, snapshot.Messages, 1)

	_, err = svc.Get(ctx, sessionID)
	assert.ErrorIs(t, err, types.ErrSessionNotFound)
}

func TestThreadContextTextRendersLastN(t *testing.T) {
	repo := newMemSessionRepo()
	background, err := runtime.NewBackgroundTasks(2)
	require.NoError(t, err)
	svc := NewSessionService(repo, nil, background)

	ctx := context.Background()
	sessionID, err := svc.Create(ctx, "u1", nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, svc.AddMessage(ctx, sessionID, types.RoleUser, "message"))
	}

	text, err := svc.ThreadContextText(ctx, sessionID, 2)
	require.NoError(t, err)
	assert.Equal(t, "user: message\nuser: message", text)
}

func TestThreadContextTextIncludesRollingSummary(t *testing.T) {
	repo := newMemSessionRepo()
	background, err := runtime.NewBackgroundTasks(2)
	require.NoError(t, err)
	svc := NewSessionService(repo, nil, background)

	ctx := context.Background()
	sessionID, err := svc.Create(ctx, "u1", nil)
	require.NoError(t, err)
	require.NoError(t, svc.AddMessage(ctx, sessionID, types.RoleUser, "hi"))
	require.NoError(t, repo.UpdateSummary(ctx, sessionID, "They talked about trains."))

	text, err := svc.ThreadContextText(ctx, sessionID, 10)
	require.NoError(t, err)
	assert.Contains(t, text, "[Thread summary]: They talked about trains.")
	assert.Contains(t, text, "[Recent messages]:\nuser: hi")
}

func TestThreadContextTextMissingSessionIsEmpty(t *testing.T) {
	repo := newMemSessionRepo()
	background, err := runtime.NewBackgroundTasks(2)
	require.NoError(t, err)
	svc := NewSessionService(repo, nil, background)

	text, err := svc.ThreadContextText(context.Background(), "nope", 10)
	require.NoError(t, err)
	assert.Empty(t, text)
}
