package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.MaxConcurrent)
	assert.Equal(t, 100, cfg.MaxQueued)
	assert.Equal(t, 2, cfg.MaxAttempts)
}

func TestNew_CorrectsInvalidConfig(t *testing.T) {
	q := New(Config{MaxConcurrent: -1, MaxQueued: 0, MaxAttempts: 0}, nil)
	assert.Equal(t, 3, q.cfg.MaxConcurrent)
	assert.Equal(t, 100, q.cfg.MaxQueued)
	assert.Equal(t, 1, q.cfg.MaxAttempts)
}

// ---------------------------------------------------------------------------
// Basic execution
// ---------------------------------------------------------------------------

func TestEnqueue_ReturnsResult(t *testing.T) {
	q := New(DefaultConfig(), zap.NewNop())
	defer q.Close()

	result, err := q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
		return "done", nil
	}, 0)

	require.NoError(t, err)
	assert.Equal(t, "done", result)
}

func TestEnqueue_PropagatesTaskError(t *testing.T) {
	q := New(Config{MaxConcurrent: 1, MaxQueued: 10, MaxAttempts: 1}, zap.NewNop())
	defer q.Close()

	errTask := errors.New("backend exploded")
	_, err := q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
		return nil, errTask
	}, 0)

	assert.ErrorIs(t, err, errTask)
}

func TestEnqueue_RetriesBeforeSurfacing(t *testing.T) {
	q := New(Config{MaxConcurrent: 1, MaxQueued: 10, MaxAttempts: 3}, zap.NewNop())
	defer q.Close()

	var calls atomic.Int32
	result, err := q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("transient")
		}
		return "recovered", nil
	}, 0)

	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, int32(3), calls.Load())
}

func TestEnqueue_ExhaustedRetriesSurfaceOriginalError(t *testing.T) {
	q := New(Config{MaxConcurrent: 1, MaxQueued: 10, MaxAttempts: 2}, zap.NewNop())
	defer q.Close()

	errTask := errors.New("still failing")
	var calls atomic.Int32
	_, err := q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
		calls.Add(1)
		return nil, errTask
	}, 0)

	assert.ErrorIs(t, err, errTask)
	assert.Equal(t, int32(2), calls.Load())
}

// ---------------------------------------------------------------------------
// Concurrency ceiling
// ---------------------------------------------------------------------------

func TestEnqueue_ConcurrencyNeverExceedsLimit(t *testing.T) {
	const maxConcurrent = 3
	q := New(Config{MaxConcurrent: maxConcurrent, MaxQueued: 100, MaxAttempts: 1}, zap.NewNop())
	defer q.Close()

	var active, peak atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
				n := active.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				active.Add(-1)
				return nil, nil
			}, 0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(maxConcurrent))
	assert.Positive(t, peak.Load())
}

// ---------------------------------------------------------------------------
// Priority ordering
// ---------------------------------------------------------------------------

func TestEnqueue_PriorityOrderUnderSaturation(t *testing.T) {
	q := New(Config{MaxConcurrent: 1, MaxQueued: 10, MaxAttempts: 1}, zap.NewNop())
	defer q.Close()

	release := make(chan struct{})
	blockerRunning := make(chan struct{})
	go func() {
		_, _ = q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
			close(blockerRunning)
			<-release
			return nil, nil
		}, 100)
	}()
	<-blockerRunning

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for _, prio := range []int{1, 5, 3} {
		prio := prio
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
				mu.Lock()
				order = append(order, prio)
				mu.Unlock()
				return nil, nil
			}, prio)
			assert.NoError(t, err)
		}()
	}

	// Wait until all three sit in the wait list before releasing the blocker.
	require.Eventually(t, func() bool {
		return q.Stats().Queued == 3
	}, time.Second, 5*time.Millisecond)

	close(release)
	wg.Wait()

	assert.Equal(t, []int{5, 3, 1}, order)
}

func TestEnqueue_FIFOForEqualPriorities(t *testing.T) {
	q := New(Config{MaxConcurrent: 1, MaxQueued: 10, MaxAttempts: 1}, zap.NewNop())
	defer q.Close()

	release := make(chan struct{})
	blockerRunning := make(chan struct{})
	go func() {
		_, _ = q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
			close(blockerRunning)
			<-release
			return nil, nil
		}, 0)
	}()
	<-blockerRunning

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 3; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil, nil
			}, 7)
		}()
		// Serialize enqueue order so arrival order is deterministic.
		require.Eventually(t, func() bool {
			return q.Stats().Queued == i+1
		}, time.Second, time.Millisecond)
	}

	close(release)
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2}, order)
}

// ---------------------------------------------------------------------------
// Bounds and lifecycle
// ---------------------------------------------------------------------------

func TestEnqueue_RejectsWhenWaitListFull(t *testing.T) {
	q := New(Config{MaxConcurrent: 1, MaxQueued: 1, MaxAttempts: 1}, zap.NewNop())
	defer q.Close()

	release := make(chan struct{})
	blockerRunning := make(chan struct{})
	go func() {
		_, _ = q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
			close(blockerRunning)
			<-release
			return nil, nil
		}, 0)
	}()
	<-blockerRunning

	go func() {
		_, _ = q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
			return nil, nil
		}, 0)
	}()
	require.Eventually(t, func() bool {
		return q.Stats().Queued == 1
	}, time.Second, time.Millisecond)

	_, err := q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
		return nil, nil
	}, 0)
	assert.ErrorIs(t, err, ErrQueueFull)

	close(release)
}

func TestEnqueue_AfterClose(t *testing.T) {
	q := New(DefaultConfig(), zap.NewNop())
	q.Close()

	_, err := q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
		return nil, nil
	}, 0)
	assert.ErrorIs(t, err, ErrQueueClosed)

	// Double close is a no-op.
	q.Close()
}

func TestStats(t *testing.T) {
	q := New(Config{MaxConcurrent: 1, MaxQueued: 10, MaxAttempts: 1}, zap.NewNop())
	defer q.Close()

	s := q.Stats()
	assert.Equal(t, 0, s.Running)
	assert.Equal(t, 0, s.Queued)

	release := make(chan struct{})
	running := make(chan struct{})
	go func() {
		_, _ = q.Enqueue(context.Background(), func(ctx context.Context) (any, error) {
			close(running)
			<-release
			return nil, nil
		}, 0)
	}()
	<-running

	assert.Equal(t, 1, q.Stats().Running)
	close(release)

	require.Eventually(t, func() bool {
		return q.Stats().Running == 0
	}, time.Second, time.Millisecond)
}

func TestEnqueueTyped(t *testing.T) {
	q := New(DefaultConfig(), zap.NewNop())
	defer q.Close()

	n, err := EnqueueTyped(q, context.Background(), 0, func(ctx context.Context) (int, error) {
		return 21 * 2, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, n)
}
