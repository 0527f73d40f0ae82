package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/dmitrymomot/docrelay/core/handler"
	"github.com/dmitrymomot/docrelay/core/response"
)

// RateLimitConfig configures the rate limiting middleware.
type RateLimitConfig struct {
	// Skip defines a function to skip middleware execution for specific requests
	Skip func(ctx handler.Context) bool
	// Rate is the sustained number of requests per second per key
	Rate rate.Limit
	// Burst is the bucket size (default: Rate rounded up, at least 1)
	Burst int
	// KeyExtractor defines the rate limiting key (default: client IP)
	KeyExtractor func(ctx handler.Context) string
	// ErrorHandler renders rejected requests (default: 429 with retry_after)
	ErrorHandler func(ctx handler.Context, retryAfter time.Duration) handler.Response
	// SetHeaders adds X-RateLimit-Limit, X-RateLimit-Remaining and Retry-After
	SetHeaders bool
	// IdleTTL evicts limiters for keys not seen for this long (default: 10m)
	IdleTTL time.Duration
}

// RateLimitPerSecond limits each client IP to n requests per second.
func RateLimitPerSecond[C handler.Context](n float64) handler.Middleware[C] {
	return RateLimit[C](RateLimitConfig{Rate: rate.Limit(n), SetHeaders: true})
}

// RateLimit applies a token bucket per key. A non-positive Rate disables limiting.
func RateLimit[C handler.Context](cfg RateLimitConfig) handler.Middleware[C] {
	if cfg.Rate <= 0 || cfg.Rate == rate.Inf {
		return func(next handler.HandlerFunc[C]) handler.HandlerFunc[C] { return next }
	}
	if cfg.Burst <= 0 {
		cfg.Burst = max(int(math.Ceil(float64(cfg.Rate))), 1)
	}
	if cfg.KeyExtractor == nil {
		cfg.KeyExtractor = func(ctx handler.Context) string {
			return clientIP(ctx.Request())
		}
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = func(ctx handler.Context, retryAfter time.Duration) handler.Response {
			return response.Error(response.ErrTooManyRequests.WithDetails(map[string]any{
				"retry_after": retryAfterSeconds(retryAfter),
			}))
		}
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}

	limiters := newKeyedLimiter(cfg.Rate, cfg.Burst, cfg.IdleTTL)

	return func(next handler.HandlerFunc[C]) handler.HandlerFunc[C] {
		return func(ctx C) handler.Response {
			if cfg.Skip != nil && cfg.Skip(ctx) {
				return next(ctx)
			}

			now := time.Now()
			lim := limiters.get(cfg.KeyExtractor(ctx), now)
			res := lim.ReserveN(now, 1)
			if delay := res.DelayFrom(now); !res.OK() || delay > 0 {
				res.CancelAt(now)
				resp := cfg.ErrorHandler(ctx, delay)
				if cfg.SetHeaders {
					return withRateLimitHeaders(resp, cfg.Burst, 0, delay)
				}
				return resp
			}

			resp := next(ctx)
			if cfg.SetHeaders && resp != nil {
				remaining := max(int(lim.TokensAt(now)), 0)
				return withRateLimitHeaders(resp, cfg.Burst, remaining, 0)
			}
			return resp
		}
	}
}

func withRateLimitHeaders(resp handler.Response, limit, remaining int, retryAfter time.Duration) handler.Response {
	return func(w http.ResponseWriter, r *http.Request) error {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if retryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(retryAfter)))
		}
		return resp(w, r)
	}
}

func retryAfterSeconds(d time.Duration) int {
	return max(int(math.Ceil(d.Seconds())), 1)
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// keyedLimiter holds one limiter per key and sweeps idle keys at most once per ttl.
type keyedLimiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	ttl       time.Duration
	entries   map[string]*limiterEntry
	lastSweep time.Time
}

func newKeyedLimiter(limit rate.Limit, burst int, ttl time.Duration) *keyedLimiter {
	return &keyedLimiter{
		limit:   limit,
		burst:   burst,
		ttl:     ttl,
		entries: make(map[string]*limiterEntry),
	}
}

func (k *keyedLimiter) get(key string, now time.Time) *rate.Limiter {
	k.mu.Lock()
	defer k.mu.Unlock()

	if now.Sub(k.lastSweep) >= k.ttl {
		for key, e := range k.entries {
			if now.Sub(e.lastSeen) >= k.ttl {
				delete(k.entries, key)
			}
		}
		k.lastSweep = now
	}

	e, ok := k.entries[key]
	if !ok {
		e = &limiterEntry{lim: rate.NewLimiter(k.limit, k.burst)}
		k.entries[key] = e
	}
	e.lastSeen = now
	return e.lim
}
