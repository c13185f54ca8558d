// Package ratelimit implements a per-key sliding window used to mark
// repeated landing hits from one (slug, IP) pair as invalid clicks.
//
// The limiter never blocks a request; exceeding the window only flips the
// click record's validity, so the filter stays invisible to the visitor.
package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindow counts events per key over a trailing window.
//
// Example usage:
//
//	lim := NewSlidingWindow(10, time.Minute)
//	if !lim.Allow(slug+"|"+ip, time.Now()) {
//	    // over the window: record the click as rate_limited
//	}
type SlidingWindow struct {
	limit  int
	window time.Duration

	mu      sync.Mutex // protects entries and counters
	entries map[string][]time.Time

	hitCount   int64
	totalCount int64
}

// NewSlidingWindow creates a limiter allowing limit events per window per key.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:   limit,
		window:  window,
		entries: make(map[string][]time.Time),
	}
}

// Allow records one event for key at the given time and reports whether the
// key is still inside its window budget.
func (w *SlidingWindow) Allow(key string, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.totalCount++

	cutoff := now.Add(-w.window)
	times := w.entries[key]
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= w.limit {
		w.entries[key] = kept
		w.hitCount++
		return false
	}

	w.entries[key] = append(kept, now)
	return true
}

// Sweep drops keys with no events inside the window. Run it periodically so
// idle keys do not accumulate.
func (w *SlidingWindow) Sweep(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-w.window)
	for key, times := range w.entries {
		live := false
		for _, t := range times {
			if t.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(w.entries, key)
		}
	}
}

// Stats returns the number of over-limit events and the total processed.
func (w *SlidingWindow) Stats() (hits, total int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.hitCount, w.totalCount
}
