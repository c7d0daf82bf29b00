// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rotor Contributors

package rotation

import (
	"sync"
	"time"
)

// ewmaAlpha is the smoothing factor for the latency average; recent
// observations dominate so the performance strategy tracks current behavior.
const ewmaAlpha = 0.3

// LatencyTracker records per-combination latency and success observations
// backing the performance_optimized strategy.
type LatencyTracker struct {
	mu    sync.RWMutex
	stats map[string]*latencyStat
}

type latencyStat struct {
	ewma      float64 // seconds
	successes int64
	failures  int64
}

// NewLatencyTracker creates an empty tracker.
func NewLatencyTracker() *LatencyTracker {
	return &LatencyTracker{stats: make(map[string]*latencyStat)}
}

// Observe records one attempt against key.
func (l *LatencyTracker) Observe(key string, d time.Duration, success bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.stats[key]
	if !ok {
		st = &latencyStat{}
		l.stats[key] = st
	}

	secs := d.Seconds()
	if st.ewma == 0 {
		st.ewma = secs
	} else {
		st.ewma = ewmaAlpha*secs + (1-ewmaAlpha)*st.ewma
	}
	if success {
		st.successes++
	} else {
		st.failures++
	}
}

// Score rates a combination: success rate divided by smoothed latency, so
// reliable-and-fast ranks highest. Unobserved keys score a neutral 1.0 and
// keys that have only failed score 0.
func (l *LatencyTracker) Score(key string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st, ok := l.stats[key]
	if !ok {
		return 1.0
	}
	total := st.successes + st.failures
	if total == 0 {
		return 1.0
	}
	rate := float64(st.successes) / float64(total)
	lat := st.ewma
	if lat < 0.001 {
		lat = 0.001
	}
	return rate / lat
}

// SuccessRate returns the observed success ratio for key, 1.0 if unobserved.
func (l *LatencyTracker) SuccessRate(key string) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st, ok := l.stats[key]
	if !ok {
		return 1.0
	}
	total := st.successes + st.failures
	if total == 0 {
		return 1.0
	}
	return float64(st.successes) / float64(total)
}

// Reset drops all observations.
func (l *LatencyTracker) Reset() {
	l.mu.Lock()
	l.stats = make(map[string]*latencyStat)
	l.mu.Unlock()
}
