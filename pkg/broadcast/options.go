package broadcast

import (
	"io"
	"log/slog"

	"github.com/jonboulle/clockwork"
)

// DefaultQueueSize is the per-subscriber queue capacity used when none is configured.
const DefaultQueueSize = 64

type config struct {
	queueSize      int
	maxSubscribers int
	policy         Policy
	clock          clockwork.Clock
	logger         *slog.Logger
	observer       Observer
}

func newConfig(opts []Option) config {
	cfg := config{
		queueSize: DefaultQueueSize,
		policy:    DropNewest,
		clock:     clockwork.NewRealClock(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		observer:  noopObserver{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Option configures a Registry or Broadcaster.
type Option func(*config)

// WithQueueSize sets the per-subscriber queue capacity. Values below 1 are ignored.
func WithQueueSize(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.queueSize = n
		}
	}
}

// WithMaxSubscribers caps the number of registered subscribers. Zero means unlimited.
func WithMaxSubscribers(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.maxSubscribers = n
		}
	}
}

// WithPolicy sets the queue overflow policy.
func WithPolicy(p Policy) Option {
	return func(c *config) {
		c.policy = p
	}
}

// WithClock sets the clock used for timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(c *config) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithObserver attaches an Observer for metrics.
func WithObserver(o Observer) Option {
	return func(c *config) {
		if o != nil {
			c.observer = o
		}
	}
}
