package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/docrelay/core/queue"
)

const (
	defaultPrefix    = "docrelay:queue"
	defaultScanLimit = 100
	maxTxAttempts    = 5
)

var (
	_ queue.Storage          = (*Storage)(nil)
	_ queue.DeadLetterLister = (*Storage)(nil)
)

// Stats is a snapshot of storage counters.
type Stats struct {
	Pending     map[string]int64 `json:"pending"`
	Processing  int64            `json:"processing"`
	Completed   int64            `json:"completed"`
	DeadLetters int64            `json:"dead_letters"`
}

// Storage implements queue.Storage on Redis.
type Storage struct {
	client    redis.UniversalClient
	prefix    string
	scanLimit int
	clock     clockwork.Clock
}

// Option configures a Storage.
type Option func(*Storage)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Storage) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// WithScanLimit bounds how many due tasks per queue a claim inspects when
// choosing by priority.
func WithScanLimit(n int) Option {
	return func(s *Storage) {
		if n > 0 {
			s.scanLimit = n
		}
	}
}

// WithClock sets the clock used for schedules and lock expiry.
func WithClock(clock clockwork.Clock) Option {
	return func(s *Storage) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// New creates a Storage on client.
func New(client redis.UniversalClient, opts ...Option) (*Storage, error) {
	if client == nil {
		return nil, ErrClientNil
	}
	s := &Storage{
		client:    client,
		prefix:    defaultPrefix,
		scanLimit: defaultScanLimit,
		clock:     clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// NewFromConfig creates a Storage from cfg; opts override config values.
func NewFromConfig(cfg Config, client redis.UniversalClient, opts ...Option) (*Storage, error) {
	base := []Option{WithPrefix(cfg.Prefix), WithScanLimit(cfg.ScanLimit)}
	return New(client, append(base, opts...)...)
}

func (s *Storage) taskKeyPrefix() string       { return s.prefix + ":task:" }
func (s *Storage) pendingKeyPrefix() string    { return s.prefix + ":pending:" }
func (s *Storage) taskKey(id uuid.UUID) string { return s.taskKeyPrefix() + id.String() }
func (s *Storage) pendingKey(q string) string  { return s.pendingKeyPrefix() + q }
func (s *Storage) processingKey() string       { return s.prefix + ":processing" }
func (s *Storage) completedKey() string        { return s.prefix + ":completed" }
func (s *Storage) dlqKey() string              { return s.prefix + ":dlq" }

func (s *Storage) CreateTask(ctx context.Context, task *queue.Task) error {
	if task == nil {
		return queue.ErrPayloadNil
	}

	args := append([]any{millis(task.ScheduledAt), task.ID.String()}, encodeTask(task)...)
	created, err := createScript.Run(ctx, s.client,
		[]string{s.taskKey(task.ID), s.pendingKey(task.Queue)}, args...).Int()
	if err != nil {
		return fmt.Errorf("redisqueue: create task: %w", err)
	}
	if created == 0 {
		return fmt.Errorf("%w: %s", queue.ErrTaskExists, task.ID)
	}
	return nil
}

// ClaimTask locks the highest-priority due task across queues. Ties go to
// the earliest scheduled task.
func (s *Storage) ClaimTask(ctx context.Context, workerID uuid.UUID, queues []string, lockDuration time.Duration) (*queue.Task, error) {
	if len(queues) == 0 {
		return nil, queue.ErrNoTaskToClaim
	}

	keys := make([]string, 0, len(queues)+1)
	keys = append(keys, s.processingKey())
	for _, q := range queues {
		keys = append(keys, s.pendingKey(q))
	}

	now := s.clock.Now()
	id, err := claimScript.Run(ctx, s.client, keys,
		millis(now),
		millis(now.Add(lockDuration)),
		workerID.String(),
		s.taskKeyPrefix(),
		s.pendingKeyPrefix(),
		strconv.Itoa(s.scanLimit),
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, queue.ErrNoTaskToClaim
	}
	if err != nil {
		return nil, fmt.Errorf("redisqueue: claim task: %w", err)
	}

	taskID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: claimed id %q", ErrCorruptTask, id)
	}
	return s.GetTask(ctx, taskID)
}

func (s *Storage) CompleteTask(ctx context.Context, taskID uuid.UUID) error {
	code, err := completeScript.Run(ctx, s.client,
		[]string{s.taskKey(taskID), s.processingKey(), s.completedKey()},
		taskID.String()).Int()
	if err != nil {
		return fmt.Errorf("redisqueue: complete task: %w", err)
	}
	return codeError(code, taskID)
}

func (s *Storage) ExtendLock(ctx context.Context, taskID uuid.UUID, duration time.Duration) error {
	code, err := extendScript.Run(ctx, s.client,
		[]string{s.taskKey(taskID), s.processingKey()},
		taskID.String(), millis(s.clock.Now().Add(duration))).Int()
	if err != nil {
		return fmt.Errorf("redisqueue: extend lock: %w", err)
	}
	return codeError(code, taskID)
}

// FailTask records errorMsg and either reschedules the task after
// queue.RetryBackoff or marks it failed once retries are exhausted.
func (s *Storage) FailTask(ctx context.Context, taskID uuid.UUID, errorMsg string) error {
	key := s.taskKey(taskID)
	return s.transact(ctx, key, func(tx *redis.Tx) error {
		task, err := s.loadTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		if task.Status != queue.TaskStatusProcessing {
			return fmt.Errorf("%w: %s", queue.ErrTaskNotProcessing, taskID)
		}

		task.RetryCount++
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, s.processingKey(), taskID.String())
			pipe.HDel(ctx, key, fieldLockedUntil, fieldLockedBy)
			if task.Exhausted() {
				pipe.HSet(ctx, key,
					fieldStatus, string(queue.TaskStatusFailed),
					fieldRetryCount, strconv.Itoa(int(task.RetryCount)),
					fieldError, errorMsg)
				return nil
			}
			at := s.clock.Now().Add(queue.RetryBackoff(task.RetryCount))
			pipe.HSet(ctx, key,
				fieldStatus, string(queue.TaskStatusPending),
				fieldRetryCount, strconv.Itoa(int(task.RetryCount)),
				fieldError, errorMsg,
				fieldScheduledAt, millis(at))
			pipe.ZAdd(ctx, s.pendingKey(task.Queue), redis.Z{
				Score:  float64(at.UnixMilli()),
				Member: taskID.String(),
			})
			return nil
		})
		return err
	})
}

// MoveToDLQ removes the task, whatever its state, and prepends it to the
// dead-letter list.
func (s *Storage) MoveToDLQ(ctx context.Context, taskID uuid.UUID) error {
	key := s.taskKey(taskID)
	return s.transact(ctx, key, func(tx *redis.Tx) error {
		task, err := s.loadTask(ctx, tx, taskID)
		if err != nil {
			return err
		}

		entry := queue.DeadLetter{
			ID:         uuid.New(),
			TaskID:     task.ID,
			Queue:      task.Queue,
			TaskName:   task.TaskName,
			Payload:    task.Payload,
			Priority:   task.Priority,
			RetryCount: task.RetryCount,
			FailedAt:   s.clock.Now().UTC(),
		}
		if task.Error != nil {
			entry.Error = *task.Error
		}
		data, err := gojson.Marshal(entry)
		if err != nil {
			return fmt.Errorf("redisqueue: encode dead letter: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, s.pendingKey(task.Queue), taskID.String())
			pipe.ZRem(ctx, s.processingKey(), taskID.String())
			pipe.Del(ctx, key)
			pipe.LPush(ctx, s.dlqKey(), data)
			return nil
		})
		return err
	})
}

// ListDeadLetters returns up to limit dead letters, newest first. A
// non-positive limit returns all of them.
func (s *Storage) ListDeadLetters(ctx context.Context, limit int) ([]queue.DeadLetter, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	raw, err := s.client.LRange(ctx, s.dlqKey(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redisqueue: list dead letters: %w", err)
	}

	out := make([]queue.DeadLetter, 0, len(raw))
	for _, item := range raw {
		var entry queue.DeadLetter
		if err := gojson.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("redisqueue: decode dead letter: %w", err)
		}
		out = append(out, entry)
	}
	return out, nil
}

// GetTask returns the stored task.
func (s *Storage) GetTask(ctx context.Context, taskID uuid.UUID) (*queue.Task, error) {
	return s.loadTask(ctx, s.client, taskID)
}

// Stats reports counters; pending counts cover the given queues.
func (s *Storage) Stats(ctx context.Context, queues ...string) (Stats, error) {
	pipe := s.client.Pipeline()
	pending := make(map[string]*redis.IntCmd, len(queues))
	for _, q := range queues {
		pending[q] = pipe.ZCard(ctx, s.pendingKey(q))
	}
	processing := pipe.ZCard(ctx, s.processingKey())
	completed := pipe.Get(ctx, s.completedKey())
	dead := pipe.LLen(ctx, s.dlqKey())

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return Stats{}, fmt.Errorf("redisqueue: stats: %w", err)
	}

	stats := Stats{
		Pending:     make(map[string]int64, len(queues)),
		Processing:  processing.Val(),
		DeadLetters: dead.Val(),
	}
	for q, cmd := range pending {
		stats.Pending[q] = cmd.Val()
	}
	if n, err := completed.Int64(); err == nil {
		stats.Completed = n
	}
	return stats, nil
}

// Healthcheck pings Redis.
func (s *Storage) Healthcheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return errors.Join(queue.ErrHealthcheckFailed, err)
	}
	return nil
}

type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func (s *Storage) loadTask(ctx context.Context, r hashReader, taskID uuid.UUID) (*queue.Task, error) {
	h, err := r.HGetAll(ctx, s.taskKey(taskID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redisqueue: load task: %w", err)
	}
	if len(h) == 0 {
		return nil, fmt.Errorf("%w: %s", queue.ErrTaskNotFound, taskID)
	}
	return decodeTask(h)
}

// transact runs fn under WATCH on key, retrying when a concurrent writer
// touched the key first.
func (s *Storage) transact(ctx context.Context, key string, fn func(*redis.Tx) error) error {
	for range maxTxAttempts {
		err := s.client.Watch(ctx, fn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return ErrTxConflict
}

func codeError(code int, taskID uuid.UUID) error {
	switch code {
	case codeOK:
		return nil
	case codeNotFound:
		return fmt.Errorf("%w: %s", queue.ErrTaskNotFound, taskID)
	case codeNotProcessing:
		return fmt.Errorf("%w: %s", queue.ErrTaskNotProcessing, taskID)
	default:
		return fmt.Errorf("redisqueue: unexpected script result %d", code)
	}
}
