package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/docrelay/core/queue"
)

func newTask(clock clockwork.Clock, q string, p queue.Priority, offset time.Duration) *queue.Task {
	now := clock.Now()
	return &queue.Task{
		ID:          uuid.New(),
		Queue:       q,
		TaskName:    "test",
		Status:      queue.TaskStatusPending,
		Priority:    p,
		MaxRetries:  3,
		ScheduledAt: now.Add(offset),
		CreatedAt:   now,
	}
}

func TestMemoryStorage_ClaimTask(t *testing.T) {
	t.Parallel()

	t.Run("priority_then_schedule_order", func(t *testing.T) {
		t.Parallel()

		clock := clockwork.NewFakeClock()
		ms := queue.NewMemoryStorage(queue.WithMemoryStorageClock(clock))
		ctx := context.Background()

		low := newTask(clock, "default", queue.PriorityLow, -3*time.Second)
		highLate := newTask(clock, "default", queue.PriorityHigh, -time.Second)
		highEarly := newTask(clock, "default", queue.PriorityHigh, -2*time.Second)
		for _, task := range []*queue.Task{low, highLate, highEarly} {
			require.NoError(t, ms.CreateTask(ctx, task))
		}

		worker := uuid.New()
		var got []uuid.UUID
		for range 3 {
			task, err := ms.ClaimTask(ctx, worker, []string{"default"}, time.Minute)
			require.NoError(t, err)
			assert.Equal(t, queue.TaskStatusProcessing, task.Status)
			require.NotNil(t, task.LockedBy)
			assert.Equal(t, worker, *task.LockedBy)
			got = append(got, task.ID)
		}
		assert.Equal(t, []uuid.UUID{highEarly.ID, highLate.ID, low.ID}, got)

		_, err := ms.ClaimTask(ctx, worker, []string{"default"}, time.Minute)
		assert.ErrorIs(t, err, queue.ErrNoTaskToClaim)
	})

	t.Run("respects_queues_and_schedule", func(t *testing.T) {
		t.Parallel()

		clock := clockwork.NewFakeClock()
		ms := queue.NewMemoryStorage(queue.WithMemoryStorageClock(clock))
		ctx := context.Background()

		require.NoError(t, ms.CreateTask(ctx, newTask(clock, "other", queue.PriorityMax, 0)))
		delayed := newTask(clock, "default", queue.PriorityMax, time.Minute)
		require.NoError(t, ms.CreateTask(ctx, delayed))

		_, err := ms.ClaimTask(ctx, uuid.New(), []string{"default"}, time.Minute)
		assert.ErrorIs(t, err, queue.ErrNoTaskToClaim)

		clock.Advance(time.Minute)
		task, err := ms.ClaimTask(ctx, uuid.New(), []string{"default"}, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, delayed.ID, task.ID)
	})
}

func TestMemoryStorage_StateErrors(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	ms := queue.NewMemoryStorage(queue.WithMemoryStorageClock(clock))
	ctx := context.Background()

	task := newTask(clock, "default", queue.PriorityDefault, 0)
	require.NoError(t, ms.CreateTask(ctx, task))
	assert.ErrorIs(t, ms.CreateTask(ctx, task), queue.ErrTaskExists)
	assert.ErrorIs(t, ms.CreateTask(ctx, nil), queue.ErrPayloadNil)

	assert.ErrorIs(t, ms.CompleteTask(ctx, task.ID), queue.ErrTaskNotProcessing)
	assert.ErrorIs(t, ms.FailTask(ctx, task.ID, "x"), queue.ErrTaskNotProcessing)
	assert.ErrorIs(t, ms.ExtendLock(ctx, task.ID, time.Minute), queue.ErrTaskNotProcessing)

	missing := uuid.New()
	assert.ErrorIs(t, ms.CompleteTask(ctx, missing), queue.ErrTaskNotFound)
	assert.ErrorIs(t, ms.MoveToDLQ(ctx, missing), queue.ErrTaskNotFound)
	_, err := ms.GetTask(ctx, missing)
	assert.ErrorIs(t, err, queue.ErrTaskNotFound)
}

func TestMemoryStorage_FailTask(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	ms := queue.NewMemoryStorage(queue.WithMemoryStorageClock(clock))
	ctx := context.Background()

	task := newTask(clock, "default", queue.PriorityDefault, 0)
	task.MaxRetries = 2
	require.NoError(t, ms.CreateTask(ctx, task))

	_, err := ms.ClaimTask(ctx, uuid.New(), []string{"default"}, time.Minute)
	require.NoError(t, err)
	require.NoError(t, ms.FailTask(ctx, task.ID, "first"))

	stored, err := ms.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskStatusPending, stored.Status)
	assert.Equal(t, int8(1), stored.RetryCount)
	assert.Equal(t, clock.Now().Add(30*time.Second), stored.ScheduledAt)
	assert.Nil(t, stored.LockedBy)

	clock.Advance(30 * time.Second)
	_, err = ms.ClaimTask(ctx, uuid.New(), []string{"default"}, time.Minute)
	require.NoError(t, err)
	require.NoError(t, ms.FailTask(ctx, task.ID, "second"))

	stored, err = ms.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, queue.TaskStatusFailed, stored.Status)
	assert.True(t, stored.Exhausted())
	require.NotNil(t, stored.Error)
	assert.Equal(t, "second", *stored.Error)

	require.NoError(t, ms.MoveToDLQ(ctx, task.ID))
	stats := ms.Stats()
	assert.Equal(t, 0, stats.ActiveTasks)
	assert.Equal(t, 1, stats.DeadLetters)
}

func TestMemoryStorage_ListDeadLetters(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	ms := queue.NewMemoryStorage(queue.WithMemoryStorageClock(clock))
	ctx := context.Background()

	var ids []uuid.UUID
	for range 3 {
		task := newTask(clock, "default", queue.PriorityDefault, 0)
		require.NoError(t, ms.CreateTask(ctx, task))
		require.NoError(t, ms.MoveToDLQ(ctx, task.ID))
		ids = append(ids, task.ID)
	}

	all, err := ms.ListDeadLetters(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, ids[2], all[0].TaskID, "newest first")

	two, err := ms.ListDeadLetters(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{ids[2], ids[1]}, []uuid.UUID{two[0].TaskID, two[1].TaskID})

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = ms.ListDeadLetters(cancelled, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryStorage_LockExpiry(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClock()
	ms := queue.NewMemoryStorage(queue.WithMemoryStorageClock(clock))
	ctx := context.Background()

	task := newTask(clock, "default", queue.PriorityDefault, 0)
	require.NoError(t, ms.CreateTask(ctx, task))
	_, err := ms.ClaimTask(ctx, uuid.New(), []string{"default"}, time.Minute)
	require.NoError(t, err)

	require.NoError(t, ms.ExtendLock(ctx, task.ID, 2*time.Minute))
	clock.Advance(90 * time.Second)
	assert.Equal(t, 0, ms.ExpireLocks())

	clock.Advance(time.Minute)
	assert.Equal(t, 1, ms.ExpireLocks())
	assert.Equal(t, int64(1), ms.Stats().ExpiredLocksFreed)

	claimed, err := ms.ClaimTask(ctx, uuid.New(), []string{"default"}, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, task.ID, claimed.ID)
	require.NoError(t, ms.CompleteTask(ctx, task.ID))
	assert.Equal(t, int64(1), ms.Stats().CompletedTasks)
}

func TestMemoryStorage_Run(t *testing.T) {
	t.Parallel()

	ms := queue.NewMemoryStorage(queue.WithLockCheckInterval(5 * time.Millisecond))
	assert.ErrorIs(t, ms.Healthcheck(context.Background()), queue.ErrStorageNotStarted)
	assert.ErrorIs(t, ms.Stop(), queue.ErrStorageNotStarted)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ms.Run(ctx)() }()

	require.Eventually(t, func() bool { return ms.Healthcheck(context.Background()) == nil }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("storage did not stop")
	}
	assert.False(t, ms.Stats().IsRunning)
}
