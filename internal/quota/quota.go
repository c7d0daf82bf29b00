// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rotor Contributors

// Package quota counts rate-limit events per provider/model combination
// against a configured allowance. The tracker feeds rotation decisions and
// operator display; it never gates a retry on its own.
package quota

import (
	"sync"

	"github.com/rotor-dev/rotor/pkg/health"
)

// DefaultLimit is the per-combination allowance when none is configured.
const DefaultLimit int64 = 1000

// Tracker accumulates usage per combination key.
type Tracker struct {
	mu           sync.RWMutex
	defaultLimit int64
	used         map[string]int64
	limits       map[string]int64
}

// New creates a Tracker. A non-positive defaultLimit falls back to DefaultLimit.
func New(defaultLimit int64) *Tracker {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	return &Tracker{
		defaultLimit: defaultLimit,
		used:         make(map[string]int64),
		limits:       make(map[string]int64),
	}
}

// SetLimit overrides the allowance for one combination.
func (t *Tracker) SetLimit(key string, limit int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if limit <= 0 {
		delete(t.limits, key)
		return
	}
	t.limits[key] = limit
}

// RecordRateLimitEvent increments usage for key and returns the new count.
func (t *Tracker) RecordRateLimitEvent(key string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.used[key]++
	return t.used[key]
}

// Usage returns the quota snapshot for key.
func (t *Tracker) Usage(key string) health.Quota {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return health.Quota{Used: t.used[key], Limit: t.limitLocked(key)}
}

// Percent returns used/limit for key as a percentage.
func (t *Tracker) Percent(key string) float64 {
	return t.Usage(key).Percent()
}

// Remaining returns the headroom left for key.
func (t *Tracker) Remaining(key string) int64 {
	return t.Usage(key).Remaining()
}

// Clear zeroes the usage for key. An empty key clears everything.
func (t *Tracker) Clear(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if key == "" {
		t.used = make(map[string]int64)
		return
	}
	delete(t.used, key)
}

// Snapshot copies every combination's quota standing.
func (t *Tracker) Snapshot() map[string]health.Quota {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]health.Quota, len(t.used))
	for k, used := range t.used {
		out[k] = health.Quota{Used: used, Limit: t.limitLocked(k)}
	}
	return out
}

// Restore replaces usage counters from a persisted snapshot. Limits in the
// snapshot that differ from the default are kept as per-key overrides.
func (t *Tracker) Restore(snap map[string]health.Quota) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.used = make(map[string]int64, len(snap))
	for k, q := range snap {
		t.used[k] = q.Used
		if q.Limit > 0 && q.Limit != t.defaultLimit {
			t.limits[k] = q.Limit
		}
	}
}

func (t *Tracker) limitLocked(key string) int64 {
	if l, ok := t.limits[key]; ok {
		return l
	}
	return t.defaultLimit
}
