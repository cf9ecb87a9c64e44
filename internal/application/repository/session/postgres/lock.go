package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hanachan/kioku/internal/logger"
	"github.com/hanachan/kioku/internal/types/interfaces"
)

type advisoryLocker struct {
	pool *pgxpool.Pool
}

// NewAdvisoryLocker builds a session-level advisory lock on the shared pool.
// Acquire and release happen on the same pinned connection, which Postgres
// requires for session locks.
func NewAdvisoryLocker(pool *pgxpool.Pool) interfaces.AdvisoryLocker {
	return &advisoryLocker{pool: pool}
}

func (l *advisoryLocker) TryLock(ctx context.Context, key int64) (func(), bool, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return func() {}, false, fmt.Errorf("failed to acquire connection for lock: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired); err != nil {
		conn.Release()
		return func() {}, false, fmt.Errorf("failed to try advisory lock %d: %w", key, err)
	}
	if !acquired {
		conn.Release()
		return func() {}, false, nil
	}

	release := func() {
		// Unlock must not inherit a canceled request context.
		unlockCtx := context.WithoutCancel(ctx)
		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, key); err != nil {
			logger.Errorf(unlockCtx, "failed to release advisory lock %d: %v", key, err)
		}
		conn.Release()
	}
	return release, true, nil
}
