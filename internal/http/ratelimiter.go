package httpapi

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// SlidingWindowLimiter enforces a maximum number of events within a time window.
type SlidingWindowLimiter struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu     sync.Mutex
	events []time.Time
}

// NewSlidingWindowLimiter constructs a limiter allowing up to limit events per window. A
// non-positive window or limit disables limiting.
func NewSlidingWindowLimiter(window time.Duration, limit int, timeSource func() time.Time) *SlidingWindowLimiter {
	if timeSource == nil {
		timeSource = time.Now
	}
	return &SlidingWindowLimiter{window: window, limit: limit, now: timeSource}
}

// Allow reports whether the caller may proceed under the current rate limits.
func (l *SlidingWindowLimiter) Allow() bool {
	if l == nil || l.limit <= 0 || l.window <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.pruneLocked(now)
	if len(l.events) >= l.limit {
		return false
	}
	l.events = append(l.events, now)
	return true
}

func (l *SlidingWindowLimiter) pruneLocked(now time.Time) {
	cutoff := now.Add(-l.window)
	kept := l.events[:0]
	for _, ts := range l.events {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	l.events = kept
}

func (l *SlidingWindowLimiter) idle(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneLocked(now)
	return len(l.events) == 0
}

// ClientLimiter keeps one sliding window per client address so a single caller cannot starve the
// validation pool for everyone else.
type ClientLimiter struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu      sync.Mutex
	clients map[string]*SlidingWindowLimiter
	calls   int
}

// NewClientLimiter constructs a per-client limiter.
func NewClientLimiter(window time.Duration, limit int, timeSource func() time.Time) *ClientLimiter {
	if timeSource == nil {
		timeSource = time.Now
	}
	return &ClientLimiter{window: window, limit: limit, now: timeSource, clients: make(map[string]*SlidingWindowLimiter)}
}

// AllowRequest reports whether the request's client may proceed.
func (c *ClientLimiter) AllowRequest(r *http.Request) bool {
	if c == nil || c.limit <= 0 || c.window <= 0 {
		return true
	}
	key := clientKey(r)
	c.mu.Lock()
	limiter, ok := c.clients[key]
	if !ok {
		limiter = NewSlidingWindowLimiter(c.window, c.limit, c.now)
		c.clients[key] = limiter
	}
	//1.- Sweep idle clients every so often so the map tracks only active callers.
	c.calls++
	if c.calls%256 == 0 {
		now := c.now()
		for k, l := range c.clients {
			if k != key && l.idle(now) {
				delete(c.clients, k)
			}
		}
	}
	c.mu.Unlock()
	return limiter.Allow()
}

func clientKey(r *http.Request) string {
	if forwarded := strings.TrimSpace(strings.Split(r.Header.Get("X-Forwarded-For"), ",")[0]); forwarded != "" {
		return forwarded
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
