package ratelimit

import (
	"context"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/cleanplanet/cleanplanet-web/internal/httpmw"
)

// visitor tracks a single IP's token bucket and last activity.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
	// logged tracks whether the first-denial log already fired.
	// Resets when the entry is evicted and re-created.
	logged bool
}

// IPLimiter holds per-IP token buckets with background eviction. It is the
// site-wide flood limiter, not the per-endpoint submission limiter; see
// WindowLimiter for that.
type IPLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	// requests refilled per second and burst ceiling
	perSecond rate.Limit
	burst     int

	// how long an idle IP stays in the map before eviction
	ttl time.Duration

	// hard cap on tracked IPs; new IPs are rejected at capacity.
	// 0 disables the cap.
	maxVisitors int
	// capacityLogged makes OnCapacity a one-shot
	capacityLogged bool

	// OnFirstDenied fires once per visitor on their first denial
	OnFirstDenied func(ip string)

	// OnDenied fires on every denied request
	OnDenied func(ip string)

	// OnCapacity fires the first time a new IP is rejected because the
	// visitor map is full
	OnCapacity func()
}

type Option func(*IPLimiter)

// WithRate sets the bucket size and refill rate. burst is the bucket
// capacity, perSecond is the refill rate. WithRate(10, 50) allows 50
// requests at once, refilling 10 per second.
func WithRate(perSecond float64, burst int) Option {
	return func(l *IPLimiter) {
		l.perSecond = rate.Limit(perSecond)
		l.burst = burst
	}
}

// WithTTL controls how long an idle IP stays tracked before cleanup.
func WithTTL(d time.Duration) Option {
	return func(l *IPLimiter) {
		l.ttl = d
	}
}

// WithMaxVisitors caps the visitor map size. At capacity, requests from new
// IPs are rejected until eviction frees room. Zero means no cap.
func WithMaxVisitors(n int) Option {
	return func(l *IPLimiter) {
		l.maxVisitors = n
	}
}

// WithOnFirstDenied sets the once-per-visitor denial callback, used for
// logging without log spam.
func WithOnFirstDenied(fn func(ip string)) Option {
	return func(l *IPLimiter) {
		l.OnFirstDenied = fn
	}
}

// WithOnDenied sets the every-denial callback, used for counters.
func WithOnDenied(fn func(ip string)) Option {
	return func(l *IPLimiter) {
		l.OnDenied = fn
	}
}

// WithOnCapacity sets the callback fired once when the visitor map first
// rejects a new IP at capacity.
func WithOnCapacity(fn func()) Option {
	return func(l *IPLimiter) {
		l.OnCapacity = fn
	}
}

// New creates an IPLimiter and starts its cleanup goroutine, which exits
// when ctx is cancelled.
func New(ctx context.Context, opts ...Option) *IPLimiter {
	l := &IPLimiter{
		visitors:    make(map[string]*visitor),
		perSecond:   10,
		burst:       30,
		ttl:         5 * time.Minute,
		maxVisitors: 100000,
	}
	for _, o := range opts {
		o(l)
	}
	go l.cleanup(ctx)
	return l
}

// allow reports whether ip is within its rate limit, creating the visitor
// entry if needed.
func (l *IPLimiter) allow(ip string) bool {
	l.mu.Lock()
	v, exists := l.visitors[ip]
	if !exists {
		if l.maxVisitors > 0 && len(l.visitors) >= l.maxVisitors {
			fireCapacity := !l.capacityLogged
			l.capacityLogged = true
			l.mu.Unlock()

			if fireCapacity && l.OnCapacity != nil {
				l.OnCapacity()
			}
			if l.OnDenied != nil {
				l.OnDenied(ip)
			}
			return false
		}
		v = &visitor{
			limiter: rate.NewLimiter(l.perSecond, l.burst),
		}
		l.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	allowed := v.limiter.Allow()

	first := !allowed && !v.logged
	if first {
		v.logged = true
	}
	// hooks run after unlock, they may do slow work
	l.mu.Unlock()

	if !allowed {
		if first && l.OnFirstDenied != nil {
			l.OnFirstDenied(ip)
		}
		if l.OnDenied != nil {
			l.OnDenied(ip)
		}
	}
	return allowed
}

// cleanup evicts visitors idle longer than the TTL. Runs every TTL/2 so
// stale entries do not linger much past their deadline.
func (l *IPLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(l.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.mu.Lock()
			for ip, v := range l.visitors {
				if now.Sub(v.lastSeen) > l.ttl {
					delete(l.visitors, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}

// Middleware rejects requests over the per-IP limit with a 429. The response
// intentionally carries no detail about limits or refill timing.
func (l *IPLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := httpmw.ClientIPFromContext(r.Context())

		if !l.allow(ip) {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"too many requests"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}
