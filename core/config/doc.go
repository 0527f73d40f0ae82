// Package config provides type-safe environment variable loading with caching
// using Go generics. Each configuration type is loaded once and cached for
// subsequent calls.
//
// The package automatically loads .env files on first use and uses the
// caarlos0/env library for parsing environment variables into struct fields.
//
// Basic usage:
//
//	import "github.com/dmitrymomot/docrelay/core/config"
//
//	type BroadcastConfig struct {
//		QueueSize      int    `env:"BROADCAST_QUEUE_SIZE" envDefault:"64"`
//		Policy         string `env:"BROADCAST_POLICY" envDefault:"drop_newest"`
//		MaxSubscribers int    `env:"BROADCAST_MAX_SUBSCRIBERS" envDefault:"0"`
//	}
//
//	func main() {
//		var cfg BroadcastConfig
//
//		// Load with error handling
//		if err := config.Load(&cfg); err != nil {
//			log.Fatal(err)
//		}
//
//		// Or panic on failure (useful for startup)
//		config.MustLoad(&cfg)
//	}
//
// # Caching Behavior
//
// Each configuration type is loaded only once per application lifetime:
//
//	var cfg1 BroadcastConfig
//	config.Load(&cfg1) // Loads from environment
//
//	var cfg2 BroadcastConfig
//	config.Load(&cfg2) // Returns cached value, cfg1 == cfg2
//
// Different types are cached independently:
//
//	config.MustLoad(&server.Config{})
//	config.MustLoad(&redis.Config{})
//
// Parse skips the cache; Reset clears it between test scenarios.
package config
