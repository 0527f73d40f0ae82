package redisqueue

// Config holds storage settings.
type Config struct {
	Prefix    string `env:"QUEUE_REDIS_PREFIX" envDefault:"docrelay:queue"`
	ScanLimit int    `env:"QUEUE_REDIS_SCAN_LIMIT" envDefault:"100"`
}
