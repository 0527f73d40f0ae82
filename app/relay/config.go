package relay

import (
	"fmt"
	"time"

	"github.com/dmitrymomot/docrelay/core/queue"
	"github.com/dmitrymomot/docrelay/core/server"
	"github.com/dmitrymomot/docrelay/integration/database/mongo"
	"github.com/dmitrymomot/docrelay/integration/database/redis"
	"github.com/dmitrymomot/docrelay/integration/queue/redisqueue"
	"github.com/dmitrymomot/docrelay/pkg/broadcast"
)

const (
	StoreMongo  = "mongo"
	StoreMemory = "memory"
	QueueRedis  = "redis"
	QueueMemory = "memory"
)

// Config aggregates every setting of the relay process.
type Config struct {
	Server     server.Config
	Mongo      mongo.Config
	Redis      redis.Config
	Queue      queue.Config
	RedisQueue redisqueue.Config
	Broadcast  BroadcastConfig
	Ingest     IngestConfig
	Stream     StreamConfig

	AppName     string `env:"APP_NAME" envDefault:"docrelay"`
	Env         string `env:"APP_ENV" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	StoreDriver string `env:"STORE_DRIVER" envDefault:"mongo"`
	QueueDriver string `env:"QUEUE_DRIVER" envDefault:"redis"`
}

// BroadcastConfig holds fan-out settings.
type BroadcastConfig struct {
	QueueSize      int    `env:"BROADCAST_QUEUE_SIZE" envDefault:"64"`
	Policy         string `env:"BROADCAST_POLICY" envDefault:"drop_newest"`
	MaxSubscribers int    `env:"BROADCAST_MAX_SUBSCRIBERS" envDefault:"0"`
}

// IngestConfig limits the write endpoints.
type IngestConfig struct {
	RateLimit    float64 `env:"INGEST_RATE_LIMIT" envDefault:"0"`
	MaxBodyBytes int64   `env:"INGEST_MAX_BODY_BYTES" envDefault:"1048576"`
}

// StreamConfig tunes the WebSocket handshake and keep-alive.
// AllowedOrigins lists exact Origin values; "*" accepts any origin and an
// empty list keeps the same-origin check.
type StreamConfig struct {
	WriteTimeout     time.Duration `env:"STREAM_WRITE_TIMEOUT" envDefault:"5s"`
	PingInterval     time.Duration `env:"STREAM_PING_INTERVAL" envDefault:"30s"`
	PongTimeout      time.Duration `env:"STREAM_PONG_TIMEOUT" envDefault:"60s"`
	ReadLimit        int64         `env:"STREAM_READ_LIMIT" envDefault:"65536"`
	AllowedOrigins   []string      `env:"STREAM_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	ReadBufferSize   int           `env:"STREAM_READ_BUFFER_SIZE" envDefault:"1024"`
	WriteBufferSize  int           `env:"STREAM_WRITE_BUFFER_SIZE" envDefault:"1024"`
	HandshakeTimeout time.Duration `env:"STREAM_HANDSHAKE_TIMEOUT" envDefault:"10s"`
}

// DefaultStreamConfig mirrors the envDefault values.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		PongTimeout:      60 * time.Second,
		ReadLimit:        64 * 1024,
		AllowedOrigins:   []string{"*"},
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
	}
}

// Validate checks driver names and the overflow policy.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case StoreMongo, StoreMemory:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownStoreDriver, c.StoreDriver)
	}
	switch c.QueueDriver {
	case QueueRedis, QueueMemory:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownQueueDriver, c.QueueDriver)
	}
	if _, ok := broadcast.ParsePolicy(c.Broadcast.Policy); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPolicy, c.Broadcast.Policy)
	}
	return nil
}

// Options converts the settings into broadcaster options.
func (c BroadcastConfig) Options() []broadcast.Option {
	policy, _ := broadcast.ParsePolicy(c.Policy)
	return []broadcast.Option{
		broadcast.WithQueueSize(c.QueueSize),
		broadcast.WithMaxSubscribers(c.MaxSubscribers),
		broadcast.WithPolicy(policy),
	}
}

// IsProduction reports whether APP_ENV selects production logging.
func (c Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}
