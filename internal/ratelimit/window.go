package ratelimit

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// windowEntry tracks one client's count within the current fixed window.
type windowEntry struct {
	count   int
	resetAt time.Time
	// logged tracks whether OnFirstDenied has fired for this window's entry.
	// A fresh window (or LRU eviction) resets it.
	logged bool
}

// WindowLimiter is a fixed-window rate limiter keyed by an opaque client id.
//
// Each client gets a counter that resets when its window expires. The first
// request of a window starts a new window anchored at that request, so a
// client can land up to 2x the limit across a window boundary. That leniency
// is accepted; the simplicity of never needing a timer per client wins.
//
// Client entries live in a bounded LRU so a flood of unique ids cannot grow
// memory without bound. Eviction silently forgets the oldest client, which
// at worst grants that client a fresh window.
type WindowLimiter struct {
	mu      sync.Mutex
	clients *lru.Cache[string, *windowEntry]

	limit      int
	window     time.Duration
	maxClients int

	// now is replaceable for tests
	now func() time.Time

	// capacityNoted ensures OnCapacity fires once, not per eviction
	capacityNoted bool

	// OnFirstDenied fires once per client per window on the first denial
	OnFirstDenied func(id string)

	// OnDenied fires on every denied request
	OnDenied func(id string)

	// OnCapacity fires the first time an entry is evicted to make room
	OnCapacity func()
}

type WindowOption func(*WindowLimiter)

// WithWindow sets how many requests a client may make per window.
func WithWindow(limit int, window time.Duration) WindowOption {
	return func(l *WindowLimiter) {
		l.limit = limit
		l.window = window
	}
}

// WithMaxClients bounds how many client entries are tracked at once.
func WithMaxClients(n int) WindowOption {
	return func(l *WindowLimiter) {
		if n > 0 {
			l.maxClients = n
		}
	}
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) WindowOption {
	return func(l *WindowLimiter) {
		l.now = now
	}
}

// WithWindowOnFirstDenied sets the once-per-window denial callback, used for logging.
func WithWindowOnFirstDenied(fn func(id string)) WindowOption {
	return func(l *WindowLimiter) {
		l.OnFirstDenied = fn
	}
}

// WithWindowOnDenied sets the every-denial callback, used for counters.
func WithWindowOnDenied(fn func(id string)) WindowOption {
	return func(l *WindowLimiter) {
		l.OnDenied = fn
	}
}

// WithWindowOnCapacity sets the callback fired when the client table first
// evicts an entry to stay within its bound.
func WithWindowOnCapacity(fn func()) WindowOption {
	return func(l *WindowLimiter) {
		l.OnCapacity = fn
	}
}

// NewWindow creates a WindowLimiter. Defaults: 5 requests per minute,
// 500 tracked clients.
func NewWindow(opts ...WindowOption) *WindowLimiter {
	l := &WindowLimiter{
		limit:      5,
		window:     time.Minute,
		maxClients: 500,
		now:        time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	// error is only possible for size < 1, which WithMaxClients prevents
	l.clients, _ = lru.New[string, *windowEntry](l.maxClients)
	return l
}

// Allow records a request for id and reports whether it is within the limit.
// Check and increment happen under one lock so concurrent requests cannot
// both observe the same pre-increment count.
func (l *WindowLimiter) Allow(id string) bool {
	now := l.now()

	l.mu.Lock()
	e, ok := l.clients.Get(id)
	if !ok || !now.Before(e.resetAt) {
		// new client, or the previous window expired: start a fresh one
		evicted := l.clients.Add(id, &windowEntry{count: 1, resetAt: now.Add(l.window)})
		fireCapacity := evicted && !l.capacityNoted
		if fireCapacity {
			l.capacityNoted = true
		}
		l.mu.Unlock()

		if fireCapacity && l.OnCapacity != nil {
			l.OnCapacity()
		}
		return true
	}

	if e.count < l.limit {
		e.count++
		l.mu.Unlock()
		return true
	}

	first := !e.logged
	e.logged = true
	l.mu.Unlock()

	// callbacks run outside the lock, they may do slow work
	if first && l.OnFirstDenied != nil {
		l.OnFirstDenied(id)
	}
	if l.OnDenied != nil {
		l.OnDenied(id)
	}
	return false
}

// Remaining reports the requests left in id's current window and when the
// window resets. It never mutates state: an unknown or expired client is
// reported as a full fresh window ending one window from now.
func (l *WindowLimiter) Remaining(id string) (remaining int, resetAt time.Time) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.clients.Peek(id)
	if !ok || !now.Before(e.resetAt) {
		return l.limit, now.Add(l.window)
	}
	remaining = l.limit - e.count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, e.resetAt
}

// Sweep drops expired entries. The LRU bound already caps memory, so this
// only matters for keeping Len honest; call it from a ticker if desired.
func (l *WindowLimiter) Sweep() {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for _, id := range l.clients.Keys() {
		if e, ok := l.clients.Peek(id); ok && !now.Before(e.resetAt) {
			l.clients.Remove(id)
		}
	}
}

// Len reports how many client entries are currently tracked.
func (l *WindowLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.clients.Len()
}
