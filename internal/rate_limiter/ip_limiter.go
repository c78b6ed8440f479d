// Package ratelimiter throttles websocket handshakes per client IP.
package ratelimiter

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/johndosdos/supportchat/internal/clock"
)

type CleanupOpts struct {
	// TTL is how long an idle IP keeps its bucket.
	TTL time.Duration
	// Interval between sweeps. Zero disables sweeping.
	Interval time.Duration
}

type ipAddr string

type visitor struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

type IPRateLimiter struct {
	limit  rate.Limit
	burst  int
	opts   CleanupOpts
	clock  clock.Clock
	logger *slog.Logger

	mu       sync.Mutex
	visitors map[ipAddr]*visitor
	sweep    *clock.Timer
	closed   bool
}

type Option func(*IPRateLimiter)

func WithClock(c clock.Clock) Option {
	return func(rl *IPRateLimiter) { rl.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(rl *IPRateLimiter) {
		if l != nil {
			rl.logger = l
		}
	}
}

// NewIPRateLimiter allows requests per window for each IP. Idle IPs are
// forgotten after cleanupOpts.TTL.
func NewIPRateLimiter(requests int, window time.Duration, cleanupOpts CleanupOpts, opts ...Option) *IPRateLimiter {
	rl := &IPRateLimiter{
		limit:    rate.Every(window / time.Duration(requests)),
		burst:    requests,
		opts:     cleanupOpts,
		clock:    clock.Real(),
		logger:   slog.Default(),
		visitors: make(map[ipAddr]*visitor),
	}
	for _, opt := range opts {
		opt(rl)
	}

	rl.mu.Lock()
	rl.scheduleLocked()
	rl.mu.Unlock()
	return rl
}

// Close stops sweeping.
func (rl *IPRateLimiter) Close() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.closed = true
	rl.sweep.Stop()
}

func (rl *IPRateLimiter) scheduleLocked() {
	if rl.closed || rl.opts.Interval <= 0 {
		return
	}
	rl.sweep = rl.clock.AfterFunc(rl.opts.Interval, func() {
		rl.evict(rl.clock.Now())

		rl.mu.Lock()
		rl.scheduleLocked()
		rl.mu.Unlock()
	})
}

func (rl *IPRateLimiter) evict(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	for ip, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rl.opts.TTL {
			delete(rl.visitors, ip)
		}
	}
}

// GetClientIP trusts the last X-Forwarded-For hop, the one appended by our
// own proxy, and falls back to the peer address.
func (rl *IPRateLimiter) GetClientIP(r *http.Request) ipAddr {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		return ipAddr(strings.TrimSpace(hops[len(hops)-1]))
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		rl.logger.Warn("remote address without port", "remote_addr", r.RemoteAddr)
		return ipAddr(r.RemoteAddr)
	}
	return ipAddr(host)
}

// Allow takes a token from ip's bucket. When it is empty, Allow reports how
// long until the next token.
func (rl *IPRateLimiter) Allow(ip ipAddr) (bool, time.Duration) {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[ip]
	if !ok {
		v = &visitor{bucket: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now

	r := v.bucket.ReserveN(now, 1)
	if !r.OK() {
		return false, 0
	}
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return false, wait
	}
	return true, 0
}

// Tracked returns the number of IPs with a live bucket.
func (rl *IPRateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

func (rl *IPRateLimiter) Middleware(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := rl.GetClientIP(r)

		ok, wait := rl.Allow(ip)
		if !ok {
			rl.logger.WarnContext(r.Context(), "handshake rate limit exceeded",
				"ip", ip,
				"path", r.URL.Path,
				"retry_after", wait)

			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			http.Error(w, "Too many requests. Try again later.", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	}
}
