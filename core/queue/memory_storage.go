package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// MemoryStorageStats describes the in-memory backend.
type MemoryStorageStats struct {
	ActiveTasks       int   `json:"active_tasks"`
	CompletedTasks    int64 `json:"completed_tasks"`
	DeadLetters       int   `json:"dead_letters"`
	ExpiredLocksFreed int64 `json:"expired_locks_freed"`
	IsRunning         bool  `json:"is_running"`
}

// MemoryStorage implements Storage in process memory. It backs tests and
// QUEUE_DRIVER=memory; tasks do not survive a restart.
type MemoryStorage struct {
	mu       sync.RWMutex
	tasks    map[uuid.UUID]*Task
	dlq      []DeadLetter
	byStatus map[TaskStatus][]uuid.UUID

	lockCheckInterval time.Duration
	shutdownTimeout   time.Duration
	clock             clockwork.Clock
	logger            *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	expiredLocksFreed int64
	completed         int64
}

// MemoryStorageOption configures a MemoryStorage.
type MemoryStorageOption func(*MemoryStorage)

// WithLockCheckInterval sets how often expired locks are released.
func WithLockCheckInterval(interval time.Duration) MemoryStorageOption {
	return func(ms *MemoryStorage) {
		if interval > 0 {
			ms.lockCheckInterval = interval
		}
	}
}

func WithMemoryStorageShutdownTimeout(timeout time.Duration) MemoryStorageOption {
	return func(ms *MemoryStorage) {
		if timeout > 0 {
			ms.shutdownTimeout = timeout
		}
	}
}

func WithMemoryStorageLogger(logger *slog.Logger) MemoryStorageOption {
	return func(ms *MemoryStorage) {
		if logger != nil {
			ms.logger = logger
		}
	}
}

// WithMemoryStorageClock sets the clock used for scheduling and lock expiry.
func WithMemoryStorageClock(c clockwork.Clock) MemoryStorageOption {
	return func(ms *MemoryStorage) {
		if c != nil {
			ms.clock = c
		}
	}
}

// NewMemoryStorage creates an empty in-memory storage.
// Start (or Run) releases locks held by crashed workers.
func NewMemoryStorage(opts ...MemoryStorageOption) *MemoryStorage {
	ms := &MemoryStorage{
		tasks:             make(map[uuid.UUID]*Task),
		byStatus:          make(map[TaskStatus][]uuid.UUID),
		lockCheckInterval: time.Second,
		shutdownTimeout:   30 * time.Second,
		clock:             clockwork.NewRealClock(),
		logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(ms)
	}
	return ms
}

func (ms *MemoryStorage) CreateTask(ctx context.Context, task *Task) error {
	if task == nil {
		return ErrPayloadNil
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.tasks[task.ID]; exists {
		return fmt.Errorf("%w: %s", ErrTaskExists, task.ID)
	}

	taskCopy := *task
	ms.tasks[task.ID] = &taskCopy
	ms.byStatus[task.Status] = append(ms.byStatus[task.Status], task.ID)
	return nil
}

// ClaimTask picks the highest priority due task; ties go to the earliest ScheduledAt.
func (ms *MemoryStorage) ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.clock.Now()
	var best *Task

	for _, taskID := range ms.byStatus[TaskStatusPending] {
		task := ms.tasks[taskID]
		if !slices.Contains(queues, task.Queue) {
			continue
		}
		if task.ScheduledAt.After(now) {
			continue
		}
		if task.LockedUntil != nil && task.LockedUntil.After(now) {
			continue
		}
		if best == nil ||
			task.Priority > best.Priority ||
			(task.Priority == best.Priority && task.ScheduledAt.Before(best.ScheduledAt)) {
			best = task
		}
	}

	if best == nil {
		return nil, ErrNoTaskToClaim
	}

	lockUntil := now.Add(lockDuration)
	best.Status = TaskStatusProcessing
	best.LockedUntil = &lockUntil
	best.LockedBy = &workerID
	ms.moveStatus(best.ID, TaskStatusPending, TaskStatusProcessing)

	taskCopy := *best
	return &taskCopy, nil
}

func (ms *MemoryStorage) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, err := ms.processingTask(taskID)
	if err != nil {
		return err
	}

	// Completed tasks are not kept; only counters survive.
	ms.removeFromStatus(task.ID, TaskStatusProcessing)
	delete(ms.tasks, taskID)
	ms.completed++
	return nil
}

func (ms *MemoryStorage) FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, err := ms.processingTask(taskID)
	if err != nil {
		return err
	}

	task.RetryCount++
	task.Error = &errorMsg
	task.LockedUntil = nil
	task.LockedBy = nil

	if task.Exhausted() {
		task.Status = TaskStatusFailed
		ms.moveStatus(taskID, TaskStatusProcessing, TaskStatusFailed)
		return nil
	}

	task.Status = TaskStatusPending
	task.ScheduledAt = ms.clock.Now().Add(RetryBackoff(task.RetryCount))
	ms.moveStatus(taskID, TaskStatusProcessing, TaskStatusPending)
	return nil
}

// MoveToDLQ removes the task and records it as a dead letter.
func (ms *MemoryStorage) MoveToDLQ(ctx context.Context, taskID uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, exists := ms.tasks[taskID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	entry := DeadLetter{
		ID:         uuid.New(),
		TaskID:     task.ID,
		Queue:      task.Queue,
		TaskName:   task.TaskName,
		Payload:    task.Payload,
		Priority:   task.Priority,
		RetryCount: task.RetryCount,
		FailedAt:   ms.clock.Now(),
	}
	if task.Error != nil {
		entry.Error = *task.Error
	}
	ms.dlq = append(ms.dlq, entry)

	ms.removeFromStatus(taskID, task.Status)
	delete(ms.tasks, taskID)
	return nil
}

func (ms *MemoryStorage) ExtendLock(ctx context.Context, taskID uuid.UUID, duration time.Duration) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	task, err := ms.processingTask(taskID)
	if err != nil {
		return err
	}

	lockUntil := ms.clock.Now().Add(duration)
	task.LockedUntil = &lockUntil
	return nil
}

// ListDeadLetters returns up to limit dead letters, newest first. A
// non-positive limit returns all of them.
func (ms *MemoryStorage) ListDeadLetters(ctx context.Context, limit int) ([]DeadLetter, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ms.mu.RLock()
	defer ms.mu.RUnlock()

	n := len(ms.dlq)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]DeadLetter, 0, n)
	for i := len(ms.dlq) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, ms.dlq[i])
	}
	return out, nil
}

// GetTask returns a copy of a stored task.
func (ms *MemoryStorage) GetTask(ctx context.Context, taskID uuid.UUID) (*Task, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	task, exists := ms.tasks[taskID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	taskCopy := *task
	return &taskCopy, nil
}

func (ms *MemoryStorage) processingTask(taskID uuid.UUID) (*Task, error) {
	task, exists := ms.tasks[taskID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	if task.Status != TaskStatusProcessing {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotProcessing, taskID)
	}
	return task, nil
}

func (ms *MemoryStorage) moveStatus(taskID uuid.UUID, from, to TaskStatus) {
	ms.removeFromStatus(taskID, from)
	ms.byStatus[to] = append(ms.byStatus[to], taskID)
}

func (ms *MemoryStorage) removeFromStatus(taskID uuid.UUID, status TaskStatus) {
	ms.byStatus[status] = slices.DeleteFunc(ms.byStatus[status], func(id uuid.UUID) bool {
		return id == taskID
	})
}

// Start releases expired locks until ctx is cancelled or Stop is called.
func (ms *MemoryStorage) Start(ctx context.Context) error {
	ms.mu.Lock()
	if ms.cancel != nil {
		ms.mu.Unlock()
		return errors.New("queue: memory storage already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	ms.cancel = cancel
	ms.mu.Unlock()

	ms.logger.InfoContext(runCtx, "memory storage lock expiration started",
		slog.Duration("check_interval", ms.lockCheckInterval))

	ticker := ms.clock.NewTicker(ms.lockCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-runCtx.Done():
			return runCtx.Err()
		case <-ticker.Chan():
			ms.expireLocksWithWait()
		}
	}
}

// Stop cancels Start and waits for an in-flight expiry pass.
func (ms *MemoryStorage) Stop() error {
	ms.mu.Lock()
	if ms.cancel == nil {
		ms.mu.Unlock()
		return ErrStorageNotStarted
	}
	cancel := ms.cancel
	ms.cancel = nil
	ms.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		ms.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(ms.shutdownTimeout):
		return fmt.Errorf("%w after %s", ErrShutdownTimeout, ms.shutdownTimeout)
	}
}

// Run adapts Start/Stop to errgroup.
func (ms *MemoryStorage) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- ms.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			_ = ms.Stop()
			<-errCh
			return nil
		case err := <-errCh:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

func (ms *MemoryStorage) expireLocksWithWait() {
	ms.mu.RLock()
	if ms.cancel == nil {
		ms.mu.RUnlock()
		return
	}
	ms.wg.Add(1)
	ms.mu.RUnlock()

	defer ms.wg.Done()
	ms.ExpireLocks()
}

// ExpireLocks returns processing tasks with expired locks to pending and
// reports how many were released.
func (ms *MemoryStorage) ExpireLocks() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	now := ms.clock.Now()
	var expired []uuid.UUID
	for _, taskID := range ms.byStatus[TaskStatusProcessing] {
		task := ms.tasks[taskID]
		if task.LockedUntil != nil && task.LockedUntil.Before(now) {
			expired = append(expired, taskID)
		}
	}

	for _, taskID := range expired {
		task := ms.tasks[taskID]
		task.Status = TaskStatusPending
		task.LockedUntil = nil
		task.LockedBy = nil
		ms.moveStatus(taskID, TaskStatusProcessing, TaskStatusPending)
	}

	ms.expiredLocksFreed += int64(len(expired))
	if len(expired) > 0 {
		ms.logger.Warn("released expired task locks", slog.Int("count", len(expired)))
	}
	return len(expired)
}

// Stats returns current counters.
func (ms *MemoryStorage) Stats() MemoryStorageStats {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	return MemoryStorageStats{
		ActiveTasks:       len(ms.tasks),
		CompletedTasks:    ms.completed,
		DeadLetters:       len(ms.dlq),
		ExpiredLocksFreed: ms.expiredLocksFreed,
		IsRunning:         ms.cancel != nil,
	}
}

// Healthcheck fails when the lock expiration loop is not running.
func (ms *MemoryStorage) Healthcheck(ctx context.Context) error {
	if !ms.Stats().IsRunning {
		return errors.Join(ErrHealthcheckFailed, ErrStorageNotStarted)
	}
	return nil
}
