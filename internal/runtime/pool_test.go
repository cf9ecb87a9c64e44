package runtime

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackgroundTasksDrainWaitsForInflight(t *testing.T) {
	background, err := NewBackgroundTasks(2)
	require.NoError(t, err)

	var done atomic.Int32
	for i := 0; i < 4; i++ {
		background.Go(context.Background(), "slow", func(context.Context) error {
			time.Sleep(20 * time.Millisecond)
			done.Add(1)
			return nil
		})
	}
	background.Drain()

	assert.Equal(t, int32(4), done.Load())
}

func TestBackgroundTasksDropsAfterDrain(t *testing.T) {
	background, err := NewBackgroundTasks(1)
	require.NoError(t, err)
	background.Drain()

	var ran atomic.Bool
	background.Go(context.Background(), "late", func(context.Context) error {
		ran.Store(true)
		return nil
	})
	time.Sleep(10 * time.Millisecond)

	assert.False(t, ran.Load())
}

func TestBackgroundTaskSurvivesCallerCancellation(t *testing.T) {
	background, err := NewBackgroundTasks(1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var sawCancel atomic.Bool
	background.Go(ctx, "detached", func(taskCtx context.Context) error {
		cancel()
		if taskCtx.Err() != nil {
			sawCancel.Store(true)
		}
		return nil
	})
	background.Drain()

	// The task context is detached from the request context.
	assert.False(t, sawCancel.Load())
}

func TestWorkerPoolRunsSubmittedTasks(t *testing.T) {
	pool, err := NewWorkerPool(2)
	require.NoError(t, err)
	defer pool.Release()

	ch := make(chan struct{})
	require.NoError(t, pool.Submit(func() { close(ch) }))

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
}
