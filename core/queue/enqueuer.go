package queue

import (
	"context"
	"fmt"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// EnqueuerRepository stores new tasks.
type EnqueuerRepository interface {
	CreateTask(ctx context.Context, task *Task) error
}

// Enqueuer creates tasks with configurable defaults.
type Enqueuer struct {
	repo              EnqueuerRepository
	defaultQueue      string
	defaultPriority   Priority
	defaultMaxRetries int8
	clock             clockwork.Clock
}

// NewEnqueuer creates an Enqueuer backed by repo.
func NewEnqueuer(repo EnqueuerRepository, opts ...EnqueuerOption) (*Enqueuer, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	options := &enqueuerOptions{
		defaultQueue:      DefaultQueueName,
		defaultPriority:   PriorityDefault,
		defaultMaxRetries: 3,
		clock:             clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Enqueuer{
		repo:              repo,
		defaultQueue:      options.defaultQueue,
		defaultPriority:   options.defaultPriority,
		defaultMaxRetries: options.defaultMaxRetries,
		clock:             options.clock,
	}, nil
}

// NewEnqueuerFromConfig creates an Enqueuer from cfg; opts override config values.
func NewEnqueuerFromConfig(cfg Config, repo EnqueuerRepository, opts ...EnqueuerOption) (*Enqueuer, error) {
	var configOpts []EnqueuerOption
	if cfg.DefaultQueue != "" {
		configOpts = append(configOpts, WithDefaultQueue(cfg.DefaultQueue))
	}
	if cfg.DefaultPriority.Valid() {
		configOpts = append(configOpts, WithDefaultPriority(cfg.DefaultPriority))
	}
	if cfg.DefaultMaxRetries > 0 {
		configOpts = append(configOpts, WithDefaultMaxRetries(cfg.DefaultMaxRetries))
	}
	return NewEnqueuer(repo, append(configOpts, opts...)...)
}

// Enqueue stores a task for payload and returns the created task.
// The task name defaults to the payload's type name, which is what
// NewTaskHandler registers under.
func (e *Enqueuer) Enqueue(ctx context.Context, payload any, opts ...EnqueueOption) (*Task, error) {
	if payload == nil {
		return nil, ErrPayloadNil
	}

	options := &enqueueOptions{
		queue:      e.defaultQueue,
		priority:   e.defaultPriority,
		maxRetries: e.defaultMaxRetries,
	}
	for _, opt := range opts {
		opt(options)
	}

	if !options.priority.Valid() {
		return nil, ErrInvalidPriority
	}

	task, err := e.buildTask(payload, options)
	if err != nil {
		return nil, err
	}

	if err := e.repo.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to create task %q in queue %q: %w", task.TaskName, task.Queue, err)
	}
	return task, nil
}

func (e *Enqueuer) buildTask(payload any, options *enqueueOptions) (*Task, error) {
	payloadBytes, err := gojson.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload of type %T: %w", payload, err)
	}

	taskName := options.taskName
	if taskName == "" {
		taskName = qualifiedStructName(payload)
	}

	now := e.clock.Now()
	scheduledAt := now
	if options.scheduledAt != nil {
		scheduledAt = *options.scheduledAt
	} else if options.delay > 0 {
		scheduledAt = now.Add(options.delay)
	}

	return &Task{
		ID:          uuid.New(),
		Queue:       options.queue,
		TaskName:    taskName,
		Payload:     payloadBytes,
		Status:      TaskStatusPending,
		Priority:    options.priority,
		MaxRetries:  options.maxRetries,
		ScheduledAt: scheduledAt,
		CreatedAt:   now,
	}, nil
}

type enqueuerOptions struct {
	defaultQueue      string
	defaultPriority   Priority
	defaultMaxRetries int8
	clock             clockwork.Clock
}

// EnqueuerOption configures an Enqueuer.
type EnqueuerOption func(*enqueuerOptions)

func WithDefaultQueue(queue string) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if queue != "" {
			o.defaultQueue = queue
		}
	}
}

func WithDefaultPriority(p Priority) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if p.Valid() {
			o.defaultPriority = p
		}
	}
}

func WithDefaultMaxRetries(n int8) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if n >= 0 {
			o.defaultMaxRetries = n
		}
	}
}

// WithEnqueuerClock sets the clock used for CreatedAt and ScheduledAt.
func WithEnqueuerClock(c clockwork.Clock) EnqueuerOption {
	return func(o *enqueuerOptions) {
		if c != nil {
			o.clock = c
		}
	}
}

type enqueueOptions struct {
	queue       string
	priority    Priority
	maxRetries  int8
	taskName    string
	delay       time.Duration
	scheduledAt *time.Time
}

// EnqueueOption configures a single Enqueue call.
type EnqueueOption func(*enqueueOptions)

func WithQueue(queue string) EnqueueOption {
	return func(o *enqueueOptions) {
		if queue != "" {
			o.queue = queue
		}
	}
}

func WithPriority(p Priority) EnqueueOption {
	return func(o *enqueueOptions) { o.priority = p }
}

func WithMaxRetries(n int8) EnqueueOption {
	return func(o *enqueueOptions) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// WithTaskName overrides the name derived from the payload type.
func WithTaskName(name string) EnqueueOption {
	return func(o *enqueueOptions) { o.taskName = name }
}

func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) { o.delay = d }
}

// WithScheduledAt runs the task no earlier than t. It takes precedence over WithDelay.
func WithScheduledAt(t time.Time) EnqueueOption {
	return func(o *enqueueOptions) { o.scheduledAt = &t }
}
