// Package postgres persists sessions and their message logs, and provides the
// advisory-lock primitive used by the consolidation engine.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hanachan/kioku/internal/types"
	"github.com/hanachan/kioku/internal/types/interfaces"
)

type sessionRepository struct {
	pool *pgxpool.Pool
}

func NewSessionRepository(pool *pgxpool.Pool) interfaces.SessionRepository {
	return &sessionRepository{pool: pool}
}

func (r *sessionRepository) Create(ctx context.Context, userID string, metadata map[string]interface{}) (string, error) {
	sessionID := uuid.New().String()
	meta, err := marshalMetadata(metadata)
	if err != nil {
		return "", err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO sessions (session_id, user_id, metadata)
		VALUES ($1, $2, $3)
	`, sessionID, userID, meta)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	return sessionID, nil
}

func (r *sessionRepository) EnsureExists(ctx context.Context, sessionID, userID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sessions (session_id, user_id, metadata)
		VALUES ($1, $2, '{}')
		ON CONFLICT (session_id) DO NOTHING
	`, sessionID, userID)
	if err != nil {
		return fmt.Errorf("failed to ensure session %s: %w", sessionID, err)
	}
	return nil
}

func (r *sessionRepository) Get(ctx context.Context, sessionID string) (*types.Session, error) {
	var (
		session types.Session
		meta    []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT session_id, user_id, COALESCE(title, ''), COALESCE(summary, ''),
		       created_at, updated_at, metadata
		FROM sessions WHERE session_id = $1
	`, sessionID).Scan(
		&session.SessionID, &session.UserID, &session.Title, &session.Summary,
		&session.CreatedAt, &session.UpdatedAt, &meta,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if session.Metadata, err = unmarshalMetadata(meta); err != nil {
		return nil, err
	}

	if session.Messages, err = r.Messages(ctx, sessionID); err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepository) List(ctx context.Context, userID string) ([]types.SessionSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.session_id, s.user_id, COALESCE(s.title, ''), COALESCE(s.summary, ''),
		       s.created_at, s.updated_at, s.metadata,
		       (SELECT COUNT(*) FROM session_messages m WHERE m.session_id = s.session_id)
		FROM sessions s
		WHERE s.user_id = $1
		ORDER BY s.updated_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions for user %s: %w", userID, err)
	}
	defer rows.Close()

	var summaries []types.SessionSummary
	for rows.Next() {
		var (
			s    types.SessionSummary
			meta []byte
		)
		if err := rows.Scan(&s.SessionID, &s.UserID, &s.Title, &s.Summary,
			&s.CreatedAt, &s.UpdatedAt, &meta, &s.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		if s.Metadata, err = unmarshalMetadata(meta); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func (r *sessionRepository) AppendMessage(ctx context.Context, sessionID, role, content string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE sessions SET updated_at = now() WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to touch session %s: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrSessionNotFound
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO session_messages (session_id, role, content)
		VALUES ($1, $2, $3)
	`, sessionID, role, content)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *sessionRepository) Messages(ctx context.Context, sessionID string) ([]types.SessionMessage, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT role, content, created_at
		FROM session_messages
		WHERE session_id = $1
		ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var messages []types.SessionMessage
	for rows.Next() {
		var m types.SessionMessage
		if err := rows.Scan(&m.Role, &m.Content, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// UpdateTitle is write-once: it only fills an empty title and reports whether
// the write happened.
func (r *sessionRepository) UpdateTitle(ctx context.Context, sessionID, title string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions SET title = $2, updated_at = now()
		WHERE session_id = $1 AND (title IS NULL OR title = '')
	`, sessionID, title)
	if err != nil {
		return false, fmt.Errorf("failed to update title for %s: %w", sessionID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *sessionRepository) UpdateSummary(ctx context.Context, sessionID, summary string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions SET summary = $2, updated_at = now()
		WHERE session_id = $1
	`, sessionID, summary)
	if err != nil {
		return fmt.Errorf("failed to update summary for %s: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrSessionNotFound
	}
	return nil
}

func (r *sessionRepository) UpdateMetadata(ctx context.Context, sessionID string, metadata map[string]interface{}) (bool, error) {
	meta, err := marshalMetadata(metadata)
	if err != nil {
		return false, err
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE sessions SET metadata = metadata || $2, updated_at = now()
		WHERE session_id = $1
	`, sessionID, meta)
	if err != nil {
		return false, fmt.Errorf("failed to update metadata for %s: %w", sessionID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *sessionRepository) Delete(ctx context.Context, sessionID string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM sessions WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	if tag.RowsAffected() == 0 {
		return types.ErrSessionNotFound
	}
	return nil
}

func (r *sessionRepository) DeleteByUser(ctx context.Context, userID string) (int, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete sessions for user %s: %w", userID, err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *sessionRepository) DistinctUsers(ctx context.Context, limit int) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id FROM sessions
		GROUP BY user_id
		ORDER BY MAX(updated_at) DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (r *sessionRepository) Health(ctx context.Context) error {
	if err := r.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres unreachable: %w", err)
	}
	return nil
}

func marshalMetadata(metadata map[string]interface{}) ([]byte, error) {
	if metadata == nil {
		return []byte("{}"), nil
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return meta, nil
}

func unmarshalMetadata(raw []byte) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if len(meta) == 0 {
		return nil, nil
	}
	return meta, nil
}
