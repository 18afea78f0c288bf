// Package ratelimit keys golang.org/x/time/rate token buckets by client.
// The HTTP middleware limits requests per client IP; the editor server also
// uses a Limiter directly to throttle WebSocket messages per connection.
package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/conneroisu/playpen/internal/errors"
	"github.com/conneroisu/playpen/internal/logging"
)

// Config configures a Limiter.
type Config struct {
	Enabled           bool
	RequestsPerMinute int
	BurstSize         int
	// IdleExpiry drops buckets not used for this long.
	IdleExpiry time.Duration
}

// DefaultConfig allows 600 requests per minute with bursts of 60.
func DefaultConfig() Config {
	return Config{
		Enabled:           true,
		RequestsPerMinute: 600,
		BurstSize:         60,
		IdleExpiry:        10 * time.Minute,
	}
}

type bucket struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter holds one token bucket per key.
type Limiter struct {
	config Config
	logger logging.Logger

	mu      sync.Mutex
	buckets map[string]*bucket

	stop chan struct{}
	once sync.Once
}

// Result is the outcome of a Check.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// New creates a limiter and starts its idle-bucket sweeper. Call Stop to
// release it.
func New(config Config, logger logging.Logger) *Limiter {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = DefaultConfig().RequestsPerMinute
	}
	if config.BurstSize <= 0 {
		config.BurstSize = DefaultConfig().BurstSize
	}
	if config.IdleExpiry <= 0 {
		config.IdleExpiry = DefaultConfig().IdleExpiry
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	l := &Limiter{
		config:  config,
		logger:  logger.WithComponent("ratelimit"),
		buckets: make(map[string]*bucket),
		stop:    make(chan struct{}),
	}
	go l.sweep()
	return l
}

func (l *Limiter) limit() rate.Limit {
	return rate.Limit(float64(l.config.RequestsPerMinute) / 60)
}

// Check consumes a token for key.
func (l *Limiter) Check(key string) Result {
	if !l.config.Enabled {
		return Result{Allowed: true, Remaining: l.config.BurstSize}
	}

	now := time.Now()
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit(), l.config.BurstSize)}
		l.buckets[key] = b
	}
	b.lastAccess = now
	l.mu.Unlock()

	res := b.limiter.ReserveN(now, 1)
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return Result{Allowed: false, RetryAfter: delay}
	}
	return Result{Allowed: true, Remaining: int(b.limiter.TokensAt(now))}
}

// Allow reports whether key may proceed.
func (l *Limiter) Allow(key string) bool {
	return l.Check(key).Allowed
}

// Forget drops the bucket of key, e.g. when a connection closes.
func (l *Limiter) Forget(key string) {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
}

// Len returns the number of live buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) sweep() {
	ticker := time.NewTicker(l.config.IdleExpiry / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.expire(time.Now())
		case <-l.stop:
			return
		}
	}
}

func (l *Limiter) expire(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if now.Sub(b.lastAccess) > l.config.IdleExpiry {
			delete(l.buckets, key)
		}
	}
}

// Stop ends the sweeper. It is safe to call more than once.
func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stop) })
}

// Middleware limits requests per client IP and answers 429 with
// Retry-After when a client runs dry.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIP(r)
		result := l.Check(ip)

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", l.config.RequestsPerMinute))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", result.Remaining))

		if !result.Allowed {
			secs := int(result.RetryAfter.Seconds() + 0.999)
			if secs < 1 {
				secs = 1
			}
			w.Header().Set("Retry-After", fmt.Sprintf("%d", secs))
			l.logger.Warn(r.Context(),
				errors.NewValidationError("RATE_LIMIT_EXCEEDED", "rate limit exceeded"),
				"Rate limit exceeded",
				"client_ip", ip,
				"path", r.URL.Path,
				"method", r.Method)
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// ClientIP extracts the client address. X-Forwarded-For and X-Real-IP are
// only trusted when the immediate peer is a loopback or private address.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	peer := net.ParseIP(host)
	trusted := peer != nil && (peer.IsLoopback() || peer.IsPrivate())

	if trusted {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}

	if peer != nil {
		return peer.String()
	}
	return host
}

// Wait blocks until key may proceed or ctx ends.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	for {
		res := l.Check(key)
		if res.Allowed {
			return nil
		}
		t := time.NewTimer(res.RetryAfter)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}
