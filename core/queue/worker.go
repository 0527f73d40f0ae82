package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/dmitrymomot/docrelay/core/logger"
)

// WorkerRepository is the storage side used by Worker.
type WorkerRepository interface {
	// ClaimTask atomically locks the highest-priority due task in queues.
	// Returns ErrNoTaskToClaim when nothing is ready.
	ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*Task, error)
	CompleteTask(ctx context.Context, taskID uuid.UUID) error
	// FailTask records the error and increments the retry count. Tasks with
	// retries left return to pending after RetryBackoff.
	FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) error
	MoveToDLQ(ctx context.Context, taskID uuid.UUID) error
	ExtendLock(ctx context.Context, taskID uuid.UUID, duration time.Duration) error
}

// Worker claims and executes tasks.
type Worker struct {
	repo     WorkerRepository
	handlers map[string]Handler
	queues   []string
	workerID uuid.UUID
	sem      chan struct{}
	wg       sync.WaitGroup
	mu       sync.RWMutex

	pullInterval    time.Duration
	lockTimeout     time.Duration
	shutdownTimeout time.Duration
	clock           clockwork.Clock
	logger          *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	tasksProcessed atomic.Int64
	tasksFailed    atomic.Int64
	activeTasks    atomic.Int32
}

// WorkerStats is a snapshot of worker counters.
type WorkerStats struct {
	TasksProcessed int64 `json:"tasks_processed"`
	TasksFailed    int64 `json:"tasks_failed"`
	ActiveTasks    int32 `json:"active_tasks"`
	IsRunning      bool  `json:"is_running"`
}

// NewWorker creates a worker backed by repo.
func NewWorker(repo WorkerRepository, opts ...WorkerOption) (*Worker, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &workerOptions{
		queues:             []string{DefaultQueueName},
		pullInterval:       time.Second,
		lockTimeout:        5 * time.Minute,
		shutdownTimeout:    30 * time.Second,
		maxConcurrentTasks: 1,
		clock:              clockwork.NewRealClock(),
		logger:             slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Worker{
		repo:            repo,
		handlers:        make(map[string]Handler),
		queues:          options.queues,
		workerID:        uuid.New(),
		sem:             make(chan struct{}, options.maxConcurrentTasks),
		pullInterval:    options.pullInterval,
		lockTimeout:     options.lockTimeout,
		shutdownTimeout: options.shutdownTimeout,
		clock:           options.clock,
		logger:          options.logger.With(logger.Component("queue_worker")),
	}, nil
}

// NewWorkerFromConfig creates a Worker from cfg; opts override config values.
func NewWorkerFromConfig(cfg Config, repo WorkerRepository, opts ...WorkerOption) (*Worker, error) {
	return NewWorker(repo, append([]WorkerOption{
		WithPullInterval(cfg.PollInterval),
		WithLockTimeout(cfg.LockTimeout),
		WithShutdownTimeout(cfg.ShutdownTimeout),
		WithMaxConcurrentTasks(cfg.MaxConcurrentTasks),
		WithQueues(cfg.Queues...),
	}, opts...)...)
}

// RegisterHandlers adds task handlers. Nil handlers are skipped.
func (w *Worker) RegisterHandlers(handlers ...Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, h := range handlers {
		if h != nil {
			w.handlers[h.Name()] = h
		}
	}
}

// Start processes tasks until ctx is cancelled or Stop is called.
// Each tick starts one claimer if a slot is free; a claimer keeps its slot
// while tasks are available so backlogs drain without waiting for ticks.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.cancel != nil {
		w.mu.Unlock()
		return ErrWorkerAlreadyStarted
	}
	if len(w.handlers) == 0 {
		w.mu.Unlock()
		return ErrNoHandlers
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	runCtx := w.ctx
	w.mu.Unlock()

	w.logger.InfoContext(runCtx, "worker started",
		slog.String("worker_id", w.workerID.String()),
		slog.Any("queues", w.queues),
		slog.Int("max_concurrent", cap(w.sem)))

	ticker := w.clock.NewTicker(w.pullInterval)
	defer ticker.Stop()

	for {
		select {
		case <-runCtx.Done():
			return runCtx.Err()
		case <-ticker.Chan():
			select {
			case w.sem <- struct{}{}:
				// Checking cancel and adding to the WaitGroup under one lock keeps Stop's Wait accurate.
				w.mu.RLock()
				if w.cancel == nil {
					w.mu.RUnlock()
					<-w.sem
					return nil
				}
				w.wg.Add(1)
				w.mu.RUnlock()

				go func() {
					defer w.wg.Done()
					defer func() { <-w.sem }()
					w.drain(runCtx)
				}()
			default:
				w.logger.DebugContext(runCtx, "all worker slots busy, skipping tick")
			}
		}
	}
}

// drain claims and runs tasks until the queue is empty or the worker stops.
func (w *Worker) drain(ctx context.Context) {
	for ctx.Err() == nil {
		err := w.pullAndProcess(ctx)
		switch {
		case errors.Is(err, ErrNoTaskToClaim):
			return
		case errors.Is(err, ErrHandlerNotFound):
		case err != nil:
			w.logger.ErrorContext(ctx, "failed to process task", logger.Error(err))
			return
		}
	}
}

// Stop cancels claiming and waits up to the shutdown timeout for running tasks.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.cancel == nil {
		w.mu.Unlock()
		return ErrWorkerNotStarted
	}
	cancel := w.cancel
	w.cancel = nil
	w.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("worker stopped", slog.String("worker_id", w.workerID.String()))
		return nil
	case <-w.clock.After(w.shutdownTimeout):
		w.logger.Warn("worker shutdown timeout exceeded, some tasks may be abandoned",
			slog.Duration("timeout", w.shutdownTimeout))
		return fmt.Errorf("%w after %s", ErrShutdownTimeout, w.shutdownTimeout)
	}
}

// Run adapts the worker to errgroup: it starts the worker and stops it
// gracefully when ctx is cancelled.
func (w *Worker) Run(ctx context.Context) func() error {
	return func() error {
		errCh := make(chan error, 1)
		go func() {
			errCh <- w.Start(ctx)
		}()

		select {
		case <-ctx.Done():
			stopErr := w.Stop()
			<-errCh
			if errors.Is(stopErr, ErrShutdownTimeout) {
				return stopErr
			}
			return nil
		case err := <-errCh:
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

func (w *Worker) pullAndProcess(ctx context.Context) error {
	task, err := w.repo.ClaimTask(ctx, w.workerID, w.queues, w.lockTimeout)
	if err != nil {
		if errors.Is(err, ErrNoTaskToClaim) {
			return err
		}
		return fmt.Errorf("failed to claim task: %w", err)
	}
	if task == nil {
		return ErrNoTaskToClaim
	}

	w.logger.DebugContext(ctx, "claimed task",
		logger.TaskID(task.ID.String()),
		slog.String("task_name", task.TaskName),
		logger.Queue(task.Queue))

	return w.processTask(task)
}

func (w *Worker) processTask(task *Task) (retErr error) {
	start := w.clock.Now()

	w.activeTasks.Add(1)
	defer w.activeTasks.Add(-1)

	// A panicking handler fails its task instead of the worker.
	defer func() {
		if r := recover(); r != nil {
			panicErr := fmt.Errorf("panic in handler: %v", r)
			w.logger.Error("handler panicked",
				logger.TaskID(task.ID.String()),
				slog.String("task_name", task.TaskName),
				slog.Any("panic", r))
			retErr = w.handleTaskFailure(task, panicErr, w.clock.Since(start))
		}
	}()

	w.mu.RLock()
	h, ok := w.handlers[task.TaskName]
	w.mu.RUnlock()
	if !ok {
		return w.handleMissingHandler(task)
	}

	// Tasks run on their own context so a worker shutdown lets them finish
	// within the lock timeout.
	ctx, cancel := context.WithTimeout(context.Background(), w.lockTimeout)
	defer cancel()

	if err := h.Handle(ctx, task.Payload); err != nil {
		return w.handleTaskFailure(task, err, w.clock.Since(start))
	}
	return w.handleTaskSuccess(task, w.clock.Since(start))
}

// handleMissingHandler moves the task straight to the DLQ; retrying cannot help.
func (w *Worker) handleMissingHandler(task *Task) error {
	w.tasksFailed.Add(1)

	w.logger.Error("no handler registered for task",
		logger.TaskID(task.ID.String()),
		slog.String("task_name", task.TaskName))

	// Storage-level calls use a fresh context so results are recorded during shutdown.
	ctx := context.Background()
	if err := w.repo.FailTask(ctx, task.ID, ErrHandlerNotFound.Error()+": "+task.TaskName); err != nil {
		return fmt.Errorf("failed to mark task %s as failed: %w", task.ID, err)
	}
	if err := w.repo.MoveToDLQ(ctx, task.ID); err != nil {
		return fmt.Errorf("failed to move task %s to DLQ: %w", task.ID, err)
	}
	return ErrHandlerNotFound
}

func (w *Worker) handleTaskFailure(task *Task, execErr error, duration time.Duration) error {
	w.tasksFailed.Add(1)

	// FailTask increments the stored count; mirror it on the local copy.
	attempt := task.RetryCount + 1

	w.logger.Error("task failed",
		logger.TaskID(task.ID.String()),
		slog.String("task_name", task.TaskName),
		logger.RetryCount(int(attempt)),
		slog.Int("max_retries", int(task.MaxRetries)),
		logger.Duration(duration),
		logger.Error(execErr))

	ctx := context.Background()
	if err := w.repo.FailTask(ctx, task.ID, execErr.Error()); err != nil {
		return fmt.Errorf("failed to update task %s status to failed: %w", task.ID, err)
	}

	if attempt >= task.MaxRetries {
		if err := w.repo.MoveToDLQ(ctx, task.ID); err != nil {
			return fmt.Errorf("failed to move task %s to DLQ after max retries: %w", task.ID, err)
		}
		w.logger.Warn("task moved to dead letter queue",
			logger.TaskID(task.ID.String()),
			slog.String("task_name", task.TaskName))
	}
	return nil
}

func (w *Worker) handleTaskSuccess(task *Task, duration time.Duration) error {
	if err := w.repo.CompleteTask(context.Background(), task.ID); err != nil {
		return fmt.Errorf("failed to mark task %s as completed: %w", task.ID, err)
	}

	w.tasksProcessed.Add(1)

	w.logger.Info("task completed",
		logger.TaskID(task.ID.String()),
		slog.String("task_name", task.TaskName),
		logger.Queue(task.Queue),
		logger.Duration(duration))
	return nil
}

// ExtendLockForTask extends the lock of a long-running task.
func (w *Worker) ExtendLockForTask(ctx context.Context, taskID uuid.UUID, extension time.Duration) error {
	return w.repo.ExtendLock(ctx, taskID, extension)
}

// ID returns the worker identity used for task locks.
func (w *Worker) ID() uuid.UUID { return w.workerID }

// HandlerCount returns the number of registered handlers.
func (w *Worker) HandlerCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.handlers)
}

// Queues returns a copy of the queues this worker polls.
func (w *Worker) Queues() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	result := make([]string, len(w.queues))
	copy(result, w.queues)
	return result
}

// Stats returns current counters.
func (w *Worker) Stats() WorkerStats {
	w.mu.RLock()
	isRunning := w.cancel != nil
	w.mu.RUnlock()

	return WorkerStats{
		TasksProcessed: w.tasksProcessed.Load(),
		TasksFailed:    w.tasksFailed.Load(),
		ActiveTasks:    w.activeTasks.Load(),
		IsRunning:      isRunning,
	}
}

// Healthcheck fails when the worker is stopped or every slot is busy.
func (w *Worker) Healthcheck(ctx context.Context) error {
	stats := w.Stats()
	if !stats.IsRunning {
		return errors.Join(ErrHealthcheckFailed, ErrWorkerNotRunning)
	}

	maxConcurrent := int32(cap(w.sem))
	if stats.ActiveTasks >= maxConcurrent {
		return errors.Join(ErrHealthcheckFailed, ErrWorkerOverloaded,
			fmt.Errorf("%d/%d slots busy", stats.ActiveTasks, maxConcurrent))
	}
	return nil
}
