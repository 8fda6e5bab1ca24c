package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	p := NewPool(cfg, nil)
	p.Start()
	t.Cleanup(p.Stop)
	return p
}

func noop(ctx context.Context, data any) error { return nil }

// ============================================================================
// Submission and completion
// ============================================================================

func TestSubmitAndWait(t *testing.T) {
	p := newTestPool(t, Config{Workers: 2})

	t.Run("successful task", func(t *testing.T) {
		var ran atomic.Bool
		id, err := p.Submit(TypeCustom, func(ctx context.Context, data any) error {
			ran.Store(true)
			assert.Equal(t, "payload", data)
			return nil
		}, "payload", Options{})
		require.NoError(t, err)

		require.NoError(t, p.Wait(id, 5*time.Second))
		assert.True(t, ran.Load())

		task, err := p.Lookup(id)
		require.NoError(t, err)
		assert.Equal(t, StateCompleted, task.State())
	})

	t.Run("failing task", func(t *testing.T) {
		boom := errors.New("boom")
		id, err := p.Submit(TypeCustom, func(ctx context.Context, data any) error {
			return boom
		}, nil, Options{})
		require.NoError(t, err)

		err = p.Wait(id, 5*time.Second)
		assert.ErrorIs(t, err, boom)

		task, _ := p.Lookup(id)
		assert.Equal(t, StateFailed, task.State())
	})

	t.Run("out-of-range priority clamps to nearest lane", func(t *testing.T) {
		id, err := p.Submit(TypeCustom, noop, nil, Options{Priority: 99})
		require.NoError(t, err)
		task, err := p.Lookup(id)
		require.NoError(t, err)
		assert.Equal(t, NumLanes-1, task.Lane())
		require.NoError(t, p.Wait(id, 5*time.Second))

		id, err = p.Submit(TypeCustom, noop, nil, Options{Priority: -1})
		require.NoError(t, err)
		task, err = p.Lookup(id)
		require.NoError(t, err)
		assert.Equal(t, 0, task.Lane())
		require.NoError(t, p.Wait(id, 5*time.Second))
	})

	t.Run("unknown task", func(t *testing.T) {
		assert.ErrorIs(t, p.Wait(TaskID(99999), time.Second), ErrTaskNotFound)
	})

	t.Run("wait timeout", func(t *testing.T) {
		release := make(chan struct{})
		id, err := p.Submit(TypeCustom, func(ctx context.Context, data any) error {
			<-release
			return nil
		}, nil, Options{})
		require.NoError(t, err)

		assert.ErrorIs(t, p.Wait(id, 20*time.Millisecond), ErrWaitTimeout)
		close(release)
		require.NoError(t, p.Wait(id, 5*time.Second))
	})
}

// Strict priority: with a single busy worker, queued tasks drain lane
// order first, submission order within a lane.
func TestPriorityOrdering(t *testing.T) {
	p := newTestPool(t, Config{Workers: 1})

	started := make(chan struct{})
	gate := make(chan struct{})
	blockID, err := p.Submit(TypeCustom, func(ctx context.Context, data any) error {
		close(started)
		<-gate
		return nil
	}, nil, Options{})
	require.NoError(t, err)
	<-started

	var mu sync.Mutex
	var order []int
	record := func(lane int) Func {
		return func(ctx context.Context, data any) error {
			mu.Lock()
			order = append(order, lane)
			mu.Unlock()
			return nil
		}
	}

	// Queue in scrambled priority order while the worker is blocked.
	var ids []TaskID
	for _, lane := range []int{2, 0, 1, 0} {
		id, err := p.Submit(TypeCustom, record(lane), nil, Options{Priority: lane})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	close(gate)
	require.NoError(t, p.Wait(blockID, 5*time.Second))
	for _, id := range ids {
		require.NoError(t, p.Wait(id, 5*time.Second))
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 0, 1, 2}, order)
}

// ============================================================================
// Cancellation
// ============================================================================

func TestCancel(t *testing.T) {
	p := newTestPool(t, Config{Workers: 1})

	t.Run("queued task is cancellable", func(t *testing.T) {
		started := make(chan struct{})
		gate := make(chan struct{})
		blocker, err := p.Submit(TypeCustom, func(ctx context.Context, data any) error {
			close(started)
			<-gate
			return nil
		}, nil, Options{})
		require.NoError(t, err)
		<-started

		var ran atomic.Bool
		queued, err := p.Submit(TypeCustom, func(ctx context.Context, data any) error {
			ran.Store(true)
			return nil
		}, nil, Options{})
		require.NoError(t, err)

		require.NoError(t, p.Cancel(queued))
		close(gate)
		require.NoError(t, p.Wait(blocker, 5*time.Second))

		assert.ErrorIs(t, p.Wait(queued, 5*time.Second), ErrTaskCancelled)
		task, _ := p.Lookup(queued)
		assert.Equal(t, StateCancelled, task.State())

		// Give the worker a beat; the cancelled task must never run.
		time.Sleep(20 * time.Millisecond)
		assert.False(t, ran.Load())
	})

	t.Run("running task is not cancellable", func(t *testing.T) {
		started := make(chan struct{})
		release := make(chan struct{})
		id, err := p.Submit(TypeCustom, func(ctx context.Context, data any) error {
			close(started)
			<-release
			return nil
		}, nil, Options{})
		require.NoError(t, err)

		<-started
		assert.ErrorIs(t, p.Cancel(id), ErrNotCancellable)
		close(release)
		require.NoError(t, p.Wait(id, 5*time.Second))
	})

	t.Run("completed task is not cancellable", func(t *testing.T) {
		id, err := p.Submit(TypeCustom, noop, nil, Options{})
		require.NoError(t, err)
		require.NoError(t, p.Wait(id, 5*time.Second))
		assert.ErrorIs(t, p.Cancel(id), ErrNotCancellable)
	})
}

// ============================================================================
// Timeout
// ============================================================================

func TestTaskTimeout(t *testing.T) {
	p := newTestPool(t, Config{Workers: 1})

	release := make(chan struct{})
	var sawDeadline atomic.Bool
	id, err := p.Submit(TypeCustom, func(ctx context.Context, data any) error {
		<-release
		sawDeadline.Store(ctx.Err() != nil)
		return nil
	}, nil, Options{Timeout: 30 * time.Millisecond})
	require.NoError(t, err)

	// The watchdog marks the task timed out while the function is stuck.
	assert.ErrorIs(t, p.Wait(id, 5*time.Second), ErrTaskTimeout)
	task, _ := p.Lookup(id)
	assert.Equal(t, StateTimeout, task.State())
	assert.Equal(t, uint64(1), p.Stats().Timeouts)

	// The function still runs to completion and observes the deadline
	// through its context.
	close(release)
	require.Eventually(t, sawDeadline.Load, time.Second, 5*time.Millisecond)
}

// ============================================================================
// Retry helper
// ============================================================================

func TestRetry(t *testing.T) {
	p := newTestPool(t, Config{Workers: 2})

	t.Run("eventually succeeds", func(t *testing.T) {
		var attempts atomic.Int32
		err := Retry(p, TypeCustom, func(ctx context.Context, data any) error {
			if attempts.Add(1) < 3 {
				return errors.New("transient")
			}
			return nil
		}, nil, Options{MaxRetries: 3, RetryDelay: time.Millisecond})
		require.NoError(t, err)
		assert.Equal(t, int32(3), attempts.Load())
	})

	t.Run("exhausts retries", func(t *testing.T) {
		permanent := errors.New("permanent")
		var attempts atomic.Int32
		err := Retry(p, TypeCustom, func(ctx context.Context, data any) error {
			attempts.Add(1)
			return permanent
		}, nil, Options{MaxRetries: 2, RetryDelay: time.Millisecond})
		assert.ErrorIs(t, err, permanent)
		assert.Equal(t, int32(3), attempts.Load())
	})

	t.Run("no retry without opt-in", func(t *testing.T) {
		var attempts atomic.Int32
		id, err := p.Submit(TypeCustom, func(ctx context.Context, data any) error {
			attempts.Add(1)
			return errors.New("failed once")
		}, nil, Options{})
		require.NoError(t, err)
		require.Error(t, p.Wait(id, 5*time.Second))

		time.Sleep(20 * time.Millisecond)
		assert.Equal(t, int32(1), attempts.Load(), "the pool must not resubmit on its own")
	})
}

// ============================================================================
// Shutdown and stats
// ============================================================================

func TestStop(t *testing.T) {
	p := NewPool(Config{Workers: 1}, nil)
	p.Start()

	gate := make(chan struct{})
	running, err := p.Submit(TypeCustom, func(ctx context.Context, data any) error {
		close(gate)
		time.Sleep(30 * time.Millisecond)
		return nil
	}, nil, Options{})
	require.NoError(t, err)
	<-gate

	queued, err := p.Submit(TypeCustom, noop, nil, Options{})
	require.NoError(t, err)

	p.Stop()

	// Running work finished, queued work was cancelled.
	runningTask, _ := p.Lookup(running)
	assert.Equal(t, StateCompleted, runningTask.State())
	queuedTask, _ := p.Lookup(queued)
	assert.Equal(t, StateCancelled, queuedTask.State())

	_, err = p.Submit(TypeCustom, noop, nil, Options{})
	assert.ErrorIs(t, err, ErrPoolClosed)

	// Stop is idempotent.
	p.Stop()
}

func TestQueueDepthLimit(t *testing.T) {
	p := newTestPool(t, Config{Workers: 1, QueueDepth: 2})

	started := make(chan struct{})
	gate := make(chan struct{})
	defer close(gate)
	_, err := p.Submit(TypeCustom, func(ctx context.Context, data any) error {
		close(started)
		<-gate
		return nil
	}, nil, Options{})
	require.NoError(t, err)
	<-started

	// Worker is busy; two more fit, the third overflows.
	for i := 0; i < 2; i++ {
		_, err := p.Submit(TypeCustom, noop, nil, Options{})
		require.NoError(t, err)
	}
	_, err = p.Submit(TypeCustom, noop, nil, Options{})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestStats(t *testing.T) {
	p := newTestPool(t, Config{Workers: 2})

	var ids []TaskID
	for i := 0; i < 5; i++ {
		id, err := p.Submit(TypeCustom, noop, nil, Options{})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for _, id := range ids {
		require.NoError(t, p.Wait(id, 5*time.Second))
	}

	stats := p.Stats()
	assert.Equal(t, 2, stats.Workers)
	assert.Equal(t, uint64(5), stats.Submitted)
	assert.Equal(t, uint64(5), stats.Completed)
	assert.Zero(t, stats.Failed)
}

func TestConcurrentSubmit(t *testing.T) {
	p := newTestPool(t, Config{Workers: 4, QueueDepth: 4096})

	var wg sync.WaitGroup
	var done atomic.Int32
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id, err := p.Submit(TypeCustom, func(ctx context.Context, data any) error {
					done.Add(1)
					return nil
				}, nil, Options{Priority: i % NumLanes})
				require.NoError(t, err)
				require.NoError(t, p.Wait(id, 5*time.Second))
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(400), done.Load())
	assert.Equal(t, uint64(400), p.Stats().Completed)
}
