// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rotor Contributors

// Package breaker tracks per-combination health and implements the circuit
// breaker state machine: closed until a failure threshold, open through a
// cooldown, then a half-open probe that either re-closes or re-opens it.
package breaker

import (
	"strings"
	"sync"
	"time"

	rotorerr "github.com/rotor-dev/rotor/pkg/errors"
	"github.com/rotor-dev/rotor/pkg/health"
)

const (
	// DefaultFailureThreshold is how many consecutive failures open the circuit.
	DefaultFailureThreshold = 5
	// DefaultCooldown is how long an open circuit blocks before the next
	// probe is allowed through.
	DefaultCooldown = 300 * time.Second
)

// Key builds the tracking key for a provider or a provider/model pair.
func Key(provider, model string) string {
	if model == "" {
		return provider
	}
	return provider + "/" + model
}

// SplitKey is the inverse of Key.
func SplitKey(key string) (provider, model string) {
	idx := strings.Index(key, "/")
	if idx < 0 {
		return key, ""
	}
	return key[:idx], key[idx+1:]
}

// Options configures a Breaker.
type Options struct {
	FailureThreshold int
	Cooldown         time.Duration
}

func (o Options) withDefaults() Options {
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = DefaultFailureThreshold
	}
	if o.Cooldown <= 0 {
		o.Cooldown = DefaultCooldown
	}
	return o
}

// Breaker holds the health records for every tracked combination. All
// mutations for a key are serialized behind one mutex so concurrent
// recordings cannot interleave into inconsistent counters.
type Breaker struct {
	mu      sync.RWMutex
	opts    Options
	records map[string]*health.Record
	nowFunc func() time.Time
}

// New creates a Breaker with every combination starting healthy.
func New(opts Options) *Breaker {
	return &Breaker{
		opts:    opts.withDefaults(),
		records: make(map[string]*health.Record),
		nowFunc: time.Now,
	}
}

// SetNowFunc overrides the time source (for testing).
func (b *Breaker) SetNowFunc(fn func() time.Time) {
	b.mu.Lock()
	b.nowFunc = fn
	b.mu.Unlock()
}

func (b *Breaker) recordLocked(key string) *health.Record {
	rec, ok := b.records[key]
	if !ok {
		r := health.NewRecord()
		rec = &r
		b.records[key] = rec
	}
	return rec
}

// RecordSuccess closes the breaker for key: error count to zero, status
// healthy, any unhealthy reason (auth included) cleared. An explicit success
// is one of the two writers allowed to override the reason precedence.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec := b.recordLocked(key)
	rec.SuccessCount++
	rec.ErrorCount = 0
	rec.Status = health.StatusHealthy
	rec.UnhealthyReason = health.ReasonNone
	rec.CircuitOpen = false
	rec.LastUpdated = b.nowFunc()
}

// RecordFailure counts a failure for key and opens the circuit once the
// consecutive-failure threshold is reached. A failure during the half-open
// window restarts the cooldown.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.nowFunc()
	rec := b.recordLocked(key)
	rec.ErrorCount++
	rec.LastUpdated = now
	t := now
	rec.LastFailureAt = &t

	if rec.ErrorCount >= int64(b.opts.FailureThreshold) {
		rec.CircuitOpen = true
		if rec.UnhealthyReason == health.ReasonAuth {
			// Sticky: exhaustion never downgrades an auth failure.
			return
		}
		rec.Status = health.StatusCircuitBreakerOpen
		if health.ReasonFailExhausted.Outranks(rec.UnhealthyReason) {
			rec.UnhealthyReason = health.ReasonFailExhausted
		}
	}
}

// MarkAuthFailure flags key as unhealthy for authentication reasons,
// bypassing the failure threshold. Auth outranks every other reason and
// only an explicit success or reset clears it.
func (b *Breaker) MarkAuthFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec := b.recordLocked(key)
	rec.Status = health.StatusUnhealthyAuth
	rec.UnhealthyReason = health.ReasonAuth
	rec.LastUpdated = b.nowFunc()
}

// MarkFailureExhausted flags key as unhealthy because its retry budget ran
// out, and opens the circuit so subsequent requests skip it without
// re-probing. No-ops when a higher-precedence reason (auth) is already set.
func (b *Breaker) MarkFailureExhausted(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec := b.recordLocked(key)
	rec.LastUpdated = b.nowFunc()
	if rec.UnhealthyReason == health.ReasonAuth {
		rec.CircuitOpen = true
		return
	}
	rec.Status = health.StatusUnhealthy
	rec.UnhealthyReason = health.ReasonFailExhausted
	rec.CircuitOpen = true
	t := b.nowFunc()
	rec.LastFailureAt = &t
}

// MarkRateLimited stamps the last-rate-limited time and records the
// rate-limit reason when nothing weightier is already present. Rate limits
// do not open the circuit; availability filtering handles them separately.
func (b *Breaker) MarkRateLimited(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	rec := b.recordLocked(key)
	now := b.nowFunc()
	rec.LastUpdated = now
	rec.LastRateLimited = &now
	if health.ReasonRateLimit.Outranks(rec.UnhealthyReason) {
		rec.UnhealthyReason = health.ReasonRateLimit
	}
}

// Open reports whether the circuit for key currently blocks traffic. Once
// the cooldown since the last failure elapses the circuit reads as closed,
// letting the next call through as the half-open probe.
func (b *Breaker) Open(key string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.openLocked(key)
}

func (b *Breaker) openLocked(key string) bool {
	rec, ok := b.records[key]
	if !ok || !rec.CircuitOpen {
		return false
	}
	if rec.LastFailureAt == nil {
		return true
	}
	return b.nowFunc().Sub(*rec.LastFailureAt) < b.opts.Cooldown
}

// Healthy reports whether key may receive traffic. Auth-unhealthy records
// never self-heal; everything else recovers once the cooldown has elapsed.
func (b *Breaker) Healthy(key string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	rec, ok := b.records[key]
	if !ok {
		return true
	}
	if rec.UnhealthyReason == health.ReasonAuth {
		return false
	}
	if b.openLocked(key) {
		return false
	}
	switch rec.Status {
	case health.StatusHealthy:
		return true
	case health.StatusUnhealthy, health.StatusCircuitBreakerOpen:
		// Cooldown already elapsed (openLocked said no), allow a probe.
		if rec.LastFailureAt == nil {
			return false
		}
		return b.nowFunc().Sub(*rec.LastFailureAt) >= b.opts.Cooldown
	default:
		return false
	}
}

// Record returns a copy of the health record for key, or a fresh healthy
// record when the key was never seen.
func (b *Breaker) Record(key string) health.Record {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if rec, ok := b.records[key]; ok {
		return *rec
	}
	return health.NewRecord()
}

// Snapshot copies every tracked record, keyed by combination.
func (b *Breaker) Snapshot() map[string]health.Record {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]health.Record, len(b.records))
	for k, rec := range b.records {
		out[k] = *rec
	}
	return out
}

// Restore replaces the tracked records with a persisted snapshot.
func (b *Breaker) Restore(records map[string]health.Record) error {
	for k := range records {
		if k == "" {
			return rotorerr.New(rotorerr.CodeBreakerKeyInvalid, "empty combination key in snapshot")
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.records = make(map[string]*health.Record, len(records))
	for k, rec := range records {
		r := rec
		b.records[k] = &r
	}
	return nil
}

// Reset drops every record, returning all combinations to healthy.
func (b *Breaker) Reset() {
	b.mu.Lock()
	b.records = make(map[string]*health.Record)
	b.mu.Unlock()
}
