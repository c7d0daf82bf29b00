// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rotor Contributors

package retry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rotor-dev/rotor/internal/rotation"
)

// DefaultHistoryCap bounds the rotation history ring.
const DefaultHistoryCap = 1000

// EntryType distinguishes retry attempts from rotations.
type EntryType string

const (
	EntryRetry    EntryType = "retry"
	EntryRotation EntryType = "rotation"
)

// HistoryEntry records one attempt or rotation. Statistics only; nothing
// reads the history to make a routing decision.
type HistoryEntry struct {
	ID        string               `json:"id"`
	Timestamp time.Time            `json:"timestamp"`
	Type      EntryType            `json:"type"`
	From      rotation.Combination `json:"from"`
	To        rotation.Combination `json:"to"`
	Success   bool                 `json:"success"`
	Duration  time.Duration        `json:"duration"`
	Reason    string               `json:"reason"`
}

// History is an append-only bounded ring of entries; the oldest entry is
// evicted once the cap is reached.
type History struct {
	mu      sync.RWMutex
	cap     int
	entries []HistoryEntry
	start   int
	count   int
}

// NewHistory creates a ring with the given cap (DefaultHistoryCap if <= 0).
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCap
	}
	return &History{
		cap:     capacity,
		entries: make([]HistoryEntry, capacity),
	}
}

// Append records an entry, stamping an ID and timestamp when absent.
func (h *History) Append(e HistoryEntry) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count < h.cap {
		h.entries[(h.start+h.count)%h.cap] = e
		h.count++
		return
	}
	// Full: overwrite the oldest.
	h.entries[h.start] = e
	h.start = (h.start + 1) % h.cap
}

// Entries returns the ring contents oldest-first.
func (h *History) Entries() []HistoryEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]HistoryEntry, h.count)
	for i := 0; i < h.count; i++ {
		out[i] = h.entries[(h.start+i)%h.cap]
	}
	return out
}

// Len returns the number of retained entries.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}
