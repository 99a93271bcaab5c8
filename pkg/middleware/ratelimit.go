package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/permit/pkg/observability"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate
	BurstSize int
	// MaxClients bounds the number of tracked callers; the least recently
	// seen caller is evicted first
	MaxClients int
}

// DefaultRateLimitConfig returns default rate limit settings
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 1000,
		WindowDuration:    time.Minute,
		BurstSize:         50,
		MaxClients:        10000,
	}
}

func (c *RateLimitConfig) capacity() int {
	return c.RequestsPerWindow + c.BurstSize
}

// Limiter decides whether a caller may proceed
type Limiter interface {
	Allow(r *http.Request, key string) (allowed bool, remaining int, err error)
	Config() *RateLimitConfig
}

// RateLimiter is an in-process token bucket limiter
type RateLimiter struct {
	config  *RateLimitConfig
	buckets *lru.LRU[string, *bucket]
	mu      sync.Mutex
}

type bucket struct {
	tokens     int
	lastUpdate time.Time
}

// NewRateLimiter creates a new rate limiter. Idle buckets expire after two
// windows.
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	size := config.MaxClients
	if size <= 0 {
		size = DefaultRateLimitConfig().MaxClients
	}

	return &RateLimiter{
		config:  config,
		buckets: lru.NewLRU[string, *bucket](size, nil, config.WindowDuration*2),
	}
}

// Config returns the limiter settings
func (rl *RateLimiter) Config() *RateLimitConfig {
	return rl.config
}

// AllowKey takes one token for key
func (rl *RateLimiter) AllowKey(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	b, ok := rl.buckets.Get(key)
	if !ok {
		b = &bucket{tokens: rl.config.capacity(), lastUpdate: now}
	}

	tokensToAdd := int(now.Sub(b.lastUpdate).Seconds() * float64(rl.config.RequestsPerWindow) / rl.config.WindowDuration.Seconds())
	if tokensToAdd > 0 {
		b.tokens += tokensToAdd
		if b.tokens > rl.config.capacity() {
			b.tokens = rl.config.capacity()
		}
		b.lastUpdate = now
	}

	allowed := b.tokens > 0
	if allowed {
		b.tokens--
	}
	// re-adding refreshes both recency and expiry
	rl.buckets.Add(key, b)
	return allowed
}

// Remaining returns the number of remaining tokens for a key
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets.Peek(key)
	if !ok {
		return rl.config.capacity()
	}
	return b.tokens
}

// Tracked returns how many callers currently hold a bucket
func (rl *RateLimiter) Tracked() int {
	return rl.buckets.Len()
}

// Allow implements Limiter
func (rl *RateLimiter) Allow(r *http.Request, key string) (bool, int, error) {
	allowed := rl.AllowKey(key)
	return allowed, rl.Remaining(key), nil
}

// RateLimitMiddleware provides HTTP rate limiting keyed by principal, or by
// client address for anonymous callers
type RateLimitMiddleware struct {
	limiter  Limiter
	metrics  *observability.Metrics
	logger   *observability.Logger
	failOpen bool
}

// NewRateLimitMiddleware creates rate limit middleware over any limiter.
// Limiter errors let the request through.
func NewRateLimitMiddleware(limiter Limiter, metrics *observability.Metrics, logger *observability.Logger) *RateLimitMiddleware {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RateLimitMiddleware{
		limiter:  limiter,
		metrics:  metrics,
		logger:   logger,
		failOpen: true,
	}
}

// SetFailOpen controls whether limiter errors allow (true) or reject with
// 503 (false)
func (m *RateLimitMiddleware) SetFailOpen(enabled bool) {
	m.failOpen = enabled
}

// Handler wraps an HTTP handler with rate limiting
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := rateLimitKey(r)
		cfg := m.limiter.Config()

		allowed, remaining, err := m.limiter.Allow(r, key)
		if err != nil {
			m.logger.WithError(err).WithField("key", key).Warn("Rate limiter unavailable")
			if m.failOpen {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"service temporarily unavailable"}`))
			return
		}

		reset := time.Now().Add(cfg.WindowDuration).Unix()
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.RequestsPerWindow))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", reset))

		if !allowed {
			m.metrics.RecordRateLimited()
			retryAfter := cfg.WindowDuration.Seconds()
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", retryAfter))
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded","retry_after":` + fmt.Sprintf("%.0f", retryAfter) + `}`))
			return
		}

		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		next.ServeHTTP(w, r)
	})
}
