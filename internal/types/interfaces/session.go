package interfaces

import (
	"context"

	"github.com/hanachan/kioku/internal/types"
)

// SessionRepository persists sessions and their append-only message logs.
type SessionRepository interface {
	Create(ctx context.Context, userID string, metadata map[string]interface{}) (string, error)

	// EnsureExists inserts a session row with a caller-chosen id if absent,
	// so agent-referenced sessions are auto-created on first use.
	EnsureExists(ctx context.Context, sessionID, userID string) error

	Get(ctx context.Context, sessionID string) (*types.Session, error)
	List(ctx context.Context, userID string) ([]types.SessionSummary, error)
	AppendMessage(ctx context.Context, sessionID, role, content string) error
	Messages(ctx context.Context, sessionID string) ([]types.SessionMessage, error)
	UpdateTitle(ctx context.Context, sessionID, title string) (bool, error)
	UpdateSummary(ctx context.Context, sessionID, summary string) error
	UpdateMetadata(ctx context.Context, sessionID string, metadata map[string]interface{}) (bool, error)
	Delete(ctx context.Context, sessionID string) error
	DeleteByUser(ctx context.Context, userID string) (int, error)

	// DistinctUsers lists users with recent sessions, for maintenance sweeps.
	DistinctUsers(ctx context.Context, limit int) ([]string, error)

	Health(ctx context.Context) error
}

// SessionService is the session contract the agent consumes: repository
// access plus the LLM-backed title/summary behavior on assistant turns.
type SessionService interface {
	Create(ctx context.Context, userID string, metadata map[string]interface{}) (string, error)
	EnsureExists(ctx context.Context, sessionID, userID string) error
	Get(ctx context.Context, sessionID string) (*types.Session, error)
	List(ctx context.Context, userID string) ([]types.SessionSummary, error)

	// AddMessage appends a message. An assistant message schedules
	// best-effort background title generation (write-once) and a rolling
	// summary update; those never block or fail the caller.
	AddMessage(ctx context.Context, sessionID, role, content string) error

	UpdateMeta(ctx context.Context, sessionID, title string, metadata map[string]interface{}) (bool, error)

	// End returns the full session snapshot then deletes it.
	End(ctx context.Context, sessionID string) (*types.Session, error)

	// ThreadContextText renders the last n messages role-prefixed for
	// prompt injection, with the rolling summary prepended when present.
	// A missing session yields an empty string, not an error.
	ThreadContextText(ctx context.Context, sessionID string, lastN int) (string, error)

	DeleteByUser(ctx context.Context, userID string) (int, error)
}

// AdvisoryLocker provides the per-user try-acquire/release lock primitive
// used by the consolidation engine.
type AdvisoryLocker interface {
	// TryLock attempts to take the lock for key without blocking. When
	// acquired it returns (release, true, nil); release must be called
	// unconditionally, including on error paths.
	TryLock(ctx context.Context, key int64) (release func(), acquired bool, err error)
}
