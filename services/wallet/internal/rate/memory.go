package rate

import (
	"context"
	"sync"
	"time"
)

const defaultMaxKeys = 10000

// MemoryLimiter is a sliding-window log limiter. It keeps at most maxKeys
// callers and drops the least recently seen one when full.
type MemoryLimiter struct {
	mu           sync.Mutex
	limit        int
	window       time.Duration
	maxKeys      int
	entries      map[string]*window
	lastCleanup  time.Time
	cleanupEvery time.Duration
}

type window struct {
	hits     []time.Time
	lastSeen time.Time
}

func NewMemory(limit int, window time.Duration, maxKeys int) *MemoryLimiter {
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}
	return &MemoryLimiter{
		limit:        limit,
		window:       window,
		maxKeys:      maxKeys,
		entries:      map[string]*window{},
		cleanupEvery: window,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, now time.Time) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) >= l.cleanupEvery {
		l.cleanup(now)
	}

	w, ok := l.entries[key]
	if !ok {
		if len(l.entries) >= l.maxKeys {
			l.evictOldest()
		}
		w = &window{}
		l.entries[key] = w
	}
	w.lastSeen = now
	w.hits = trim(w.hits, now.Add(-l.window))

	if len(w.hits) >= l.limit {
		retryAfter := w.hits[0].Add(l.window).Sub(now)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, retryAfter, nil
	}
	w.hits = append(w.hits, now)
	return true, 0, nil
}

// Len reports how many callers are tracked.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *MemoryLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-l.window)
	for k, w := range l.entries {
		w.hits = trim(w.hits, cutoff)
		if len(w.hits) == 0 {
			delete(l.entries, k)
		}
	}
	l.lastCleanup = now
}

func (l *MemoryLimiter) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for k, w := range l.entries {
		if oldestKey == "" || w.lastSeen.Before(oldest) {
			oldestKey, oldest = k, w.lastSeen
		}
	}
	delete(l.entries, oldestKey)
}

// trim drops hits at or before cutoff. hits is kept in ascending order.
func trim(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0], hits[i:]...)
}
