package mw

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/MrSnakeDoc/marks/internal/utils"
)

// RateLimitConfig configures the token buckets guarding mutating routes.
type RateLimitConfig struct {
	Burst             int // bucket size
	RefillPerIPPerMin int // tokens added per key per minute
	MaxEntries        int // sweep early once this many keys are tracked
	SweepInterval     time.Duration
	IdleTTL           time.Duration // forget keys idle for longer than this
	TrustProxy        bool          // resolve the client IP from proxy headers

	// Now is the clock of the limiter. Tests only.
	Now func() time.Time
}

type bucket struct {
	tokens   float64
	lastRef  time.Time
	lastSeen time.Time
}

// limiter keeps one bucket per key. A single mutex is enough: the
// critical section is a few float operations.
type limiter struct {
	cfg       RateLimitConfig
	rate      float64 // tokens per second
	capacity  float64
	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

func newLimiter(cfg RateLimitConfig) *limiter {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 15 * time.Minute
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	if cfg.RefillPerIPPerMin < 1 {
		cfg.RefillPerIPPerMin = 1
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &limiter{
		cfg:       cfg,
		rate:      float64(cfg.RefillPerIPPerMin) / 60.0,
		capacity:  float64(cfg.Burst),
		buckets:   make(map[string]*bucket, 256),
		lastSweep: cfg.Now(),
	}
}

// take consumes one token of key. It returns the tokens left, or the
// seconds to wait when the bucket is empty.
func (l *limiter) take(key string, now time.Time) (ok bool, remaining int, retryAfter int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.cfg.SweepInterval ||
		(l.cfg.MaxEntries > 0 && len(l.buckets) >= l.cfg.MaxEntries) {
		l.sweep(now)
	}

	b, found := l.buckets[key]
	if !found {
		b = &bucket{tokens: l.capacity, lastRef: now}
		l.buckets[key] = b
	}
	b.lastSeen = now

	if elapsed := now.Sub(b.lastRef).Seconds(); elapsed > 0 {
		b.tokens = math.Min(l.capacity, b.tokens+elapsed*l.rate)
		b.lastRef = now
	}

	if b.tokens < 1 {
		wait := int(math.Ceil((1 - b.tokens) / l.rate))
		return false, 0, max(wait, 1)
	}
	b.tokens--
	return true, int(b.tokens), 0
}

func (l *limiter) sweep(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.cfg.IdleTTL {
			delete(l.buckets, key)
		}
	}
	l.lastSweep = now
}

// rateKeys returns the buckets charged for r: its client IP, and its
// device when one is known. Clearing cookies does not reset the IP budget.
func rateKeys(r *http.Request, trustProxy bool) []string {
	keys := []string{"ip:" + utils.ClientIP(r, trustProxy)}
	if device := DeviceFrom(r.Context()); device != "" {
		keys = append(keys, "device:"+device)
	}
	return keys
}

// RateLimit returns a token bucket middleware. Buckets are kept per client
// IP and per device; a request passes only when both have a token.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	l := newLimiter(cfg)
	limit := strconv.Itoa(l.cfg.Burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := l.cfg.Now()

			remaining := l.cfg.Burst
			for _, key := range rateKeys(r, l.cfg.TrustProxy) {
				ok, rem, retry := l.take(key, now)
				if !ok {
					w.Header().Set("Retry-After", strconv.Itoa(retry))
					w.Header().Set("X-RateLimit-Limit", limit)
					w.Header().Set("X-RateLimit-Remaining", "0")
					http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
					return
				}
				remaining = min(remaining, rem)
			}

			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			next.ServeHTTP(w, r)
		})
	}
}
