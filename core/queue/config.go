package queue

import "time"

// Config holds worker and enqueuer settings loaded from QUEUE_* variables.
type Config struct {
	PollInterval       time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"1s"`
	LockTimeout        time.Duration `env:"QUEUE_LOCK_TIMEOUT" envDefault:"5m"`
	ShutdownTimeout    time.Duration `env:"QUEUE_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	MaxConcurrentTasks int           `env:"QUEUE_MAX_CONCURRENT_TASKS" envDefault:"10"`
	Queues             []string      `env:"QUEUE_WORKER_QUEUES" envDefault:"default" envSeparator:","`

	DefaultQueue      string   `env:"QUEUE_DEFAULT_QUEUE" envDefault:"default"`
	DefaultPriority   Priority `env:"QUEUE_DEFAULT_PRIORITY" envDefault:"50"`
	DefaultMaxRetries int8     `env:"QUEUE_DEFAULT_MAX_RETRIES" envDefault:"3"`
}

// DefaultConfig mirrors the envDefault values.
func DefaultConfig() Config {
	return Config{
		PollInterval:       time.Second,
		LockTimeout:        5 * time.Minute,
		ShutdownTimeout:    30 * time.Second,
		MaxConcurrentTasks: 10,
		Queues:             []string{DefaultQueueName},
		DefaultQueue:       DefaultQueueName,
		DefaultPriority:    PriorityDefault,
		DefaultMaxRetries:  3,
	}
}
