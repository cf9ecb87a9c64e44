// Package runtime owns the process's bounded worker pools: a shared pool for
// latency-sensitive fan-out work and a background queue for fire-and-forget
// tasks that must still be drained at shutdown.
package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/hanachan/kioku/internal/logger"
)

// WorkerPool dispatches blocking store/LLM calls onto a fixed-size pool so
// they cannot stall the request path or grow unbounded goroutines.
type WorkerPool struct {
	pool *ants.Pool
}

func NewWorkerPool(size int) (*WorkerPool, error) {
	p, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	return &WorkerPool{pool: p}, nil
}

// Submit schedules task on the pool. The caller owns joining via its own
// WaitGroup or channel.
func (w *WorkerPool) Submit(task func()) error {
	return w.pool.Submit(task)
}

func (w *WorkerPool) Release() {
	w.pool.Release()
}

// BackgroundTasks runs fire-and-forget work (title generation, rolling
// summaries) on a bounded pool. Errors are logged, never returned to the
// submitter; Drain waits for in-flight tasks before process exit so the last
// turn's writes are not lost.
type BackgroundTasks struct {
	pool *ants.Pool
	wg   sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewBackgroundTasks(size int) (*BackgroundTasks, error) {
	p, err := ants.NewPool(size)
	if err != nil {
		return nil, fmt.Errorf("failed to create background pool: %w", err)
	}
	return &BackgroundTasks{pool: p}, nil
}

// Go schedules task with a descriptive name for logging. After Drain has
// been called new tasks are dropped (logged, not queued).
func (b *BackgroundTasks) Go(ctx context.Context, name string, task func(ctx context.Context) error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		logger.Warnf(ctx, "background task %q dropped: queue draining", name)
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()

	// The task outlives the request; detach it from caller cancellation
	// but keep the logger fields.
	taskCtx := context.WithoutCancel(ctx)
	err := b.pool.Submit(func() {
		defer b.wg.Done()
		if err := task(taskCtx); err != nil {
			logger.Errorf(taskCtx, "background task %q failed: %v", name, err)
		}
	})
	if err != nil {
		b.wg.Done()
		logger.Errorf(ctx, "failed to submit background task %q: %v", name, err)
	}
}

// Drain stops accepting tasks and waits for in-flight ones to finish.
func (b *BackgroundTasks) Drain() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.wg.Wait()
	b.pool.Release()
}
