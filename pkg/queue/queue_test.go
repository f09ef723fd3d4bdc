package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"zapai.dev/pkg/utils/context"
)

func TestProcessesEnqueuedTasks(t *testing.T) {
	q := New(Config{Workers: 4, MaxSize: 100, TaskTimeout: time.Second,
		RetryAttempts: 1, RetryDelay: time.Millisecond})
	ctx, cancel := context.Cancel(context.Bg())
	defer cancel()
	q.Start(ctx)

	var ran atomic.Int64
	for i := 0; i < 20; i++ {
		_, err := q.Enqueue(func(context.T) error {
			ran.Inc()
			return nil
		})
		require.NoError(t, err)
	}
	assert.Eventually(t, func() bool { return ran.Load() == 20 },
		2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return q.Snapshot().Processed == 20 },
		2*time.Second, 10*time.Millisecond)
}

func TestEnqueueFullAndStopped(t *testing.T) {
	q := New(Config{Workers: 1, MaxSize: 2, TaskTimeout: time.Second,
		RetryAttempts: 1, RetryDelay: time.Millisecond})
	// no Start: tasks stay pending
	_, err := q.Enqueue(func(context.T) error { return nil })
	require.NoError(t, err)
	_, err = q.Enqueue(func(context.T) error { return nil })
	require.NoError(t, err)
	_, err = q.Enqueue(func(context.T) error { return nil })
	assert.ErrorIs(t, err, ErrQueueFull)

	q.Stop()
	_, err = q.Enqueue(func(context.T) error { return nil })
	assert.ErrorIs(t, err, ErrStopped)
	assert.GreaterOrEqual(t, q.Snapshot().Dropped, int64(3))
}

func TestRetryEventuallySucceeds(t *testing.T) {
	q := New(Config{Workers: 1, MaxSize: 10, TaskTimeout: time.Second,
		RetryAttempts: 3, RetryDelay: time.Millisecond})
	ctx, cancel := context.Cancel(context.Bg())
	defer cancel()
	q.Start(ctx)

	var attempts atomic.Int64
	_, err := q.Enqueue(func(context.T) error {
		if attempts.Inc() < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return q.Snapshot().Processed == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(3), attempts.Load())
	assert.Equal(t, int64(2), q.Snapshot().Retried)
}

func TestPermanentFailureAfterBudget(t *testing.T) {
	q := New(Config{Workers: 1, MaxSize: 10, TaskTimeout: time.Second,
		RetryAttempts: 2, RetryDelay: time.Millisecond})
	ctx, cancel := context.Cancel(context.Bg())
	defer cancel()
	q.Start(ctx)

	var attempts atomic.Int64
	_, err := q.Enqueue(func(context.T) error {
		attempts.Inc()
		return errors.New("always")
	})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return q.Snapshot().Failed == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(2), attempts.Load())
}

func TestRequeuedTaskJumpsPendingWork(t *testing.T) {
	q := New(Config{Workers: 1, MaxSize: 10, TaskTimeout: time.Second,
		RetryAttempts: 2, RetryDelay: time.Millisecond})
	ctx, cancel := context.Cancel(context.Bg())
	defer cancel()

	var order []string
	done := make(chan struct{})
	_, err := q.Enqueue(func(context.T) error {
		order = append(order, "pending")
		close(done)
		return nil
	})
	require.NoError(t, err)
	q.pushFront(&item{id: 99, run: func(context.T) error {
		order = append(order, "retried")
		return nil
	}})
	q.Start(ctx)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queue never drained")
	}
	// the requeued task ran ahead of work already pending
	require.Len(t, order, 2)
	assert.Equal(t, "retried", order[0])
}

func TestNilReturnAtDeadlineCountsAsSuccess(t *testing.T) {
	q := New(Config{Workers: 1, MaxSize: 10, TaskTimeout: 20 * time.Millisecond,
		RetryAttempts: 3, RetryDelay: time.Millisecond})
	ctx, cancel := context.Cancel(context.Bg())
	defer cancel()
	q.Start(ctx)

	// the task finishes its work exactly as the deadline fires; its nil
	// return wins over the expired context
	_, err := q.Enqueue(func(tctx context.T) error {
		<-tctx.Done()
		return nil
	})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return q.Snapshot().Processed == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(0), q.Snapshot().Failed)
	assert.Equal(t, int64(0), q.Snapshot().Retried)
}

func TestTaskTimeout(t *testing.T) {
	q := New(Config{Workers: 1, MaxSize: 10, TaskTimeout: 20 * time.Millisecond,
		RetryAttempts: 1, RetryDelay: time.Millisecond})
	ctx, cancel := context.Cancel(context.Bg())
	defer cancel()
	q.Start(ctx)

	_, err := q.Enqueue(func(tctx context.T) error {
		<-tctx.Done()
		return tctx.Err()
	})
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return q.Snapshot().Failed == 1 },
		2*time.Second, 10*time.Millisecond)
}
