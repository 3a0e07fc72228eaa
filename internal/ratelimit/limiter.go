// Package ratelimit throttles repeated credential failures per client.
package ratelimit

import (
	"sync"
	"time"
)

type bucket struct {
	hits  int
	start time.Time
}

// Limiter is a fixed-window counter of failures per key. Successful
// requests are never counted.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]bucket
}

func New(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		buckets: map[string]bucket{},
	}
}

// Blocked reports whether key has used up its failures for the current
// window, and when the window resets.
func (l *Limiter) Blocked(key string) (bool, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.current(key)
	if !ok {
		return false, time.Time{}
	}
	return b.hits >= l.limit, b.start.Add(l.window)
}

// Fail records one failure for key.
func (l *Limiter) Fail(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.current(key)
	if !ok {
		b = bucket{start: l.now()}
	}
	b.hits++
	l.buckets[key] = b
	if len(l.buckets) > 1024 {
		l.pruneLocked()
	}
}

// Reset forgets key, e.g. after a successful login.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
}

func (l *Limiter) current(key string) (bucket, bool) {
	b, ok := l.buckets[key]
	if !ok {
		return bucket{}, false
	}
	if l.now().Sub(b.start) >= l.window {
		delete(l.buckets, key)
		return bucket{}, false
	}
	return b, true
}

func (l *Limiter) pruneLocked() {
	now := l.now()
	for k, b := range l.buckets {
		if now.Sub(b.start) >= l.window {
			delete(l.buckets, k)
		}
	}
}
