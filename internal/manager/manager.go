// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rotor Contributors

// Package manager composes the health, quota, rate-limit, rotation, and
// persistence components behind one coordinator. It owns the current
// provider/model combination and is the only writer of persisted state.
package manager

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rotor-dev/rotor/internal/breaker"
	"github.com/rotor-dev/rotor/internal/config"
	"github.com/rotor-dev/rotor/internal/events"
	"github.com/rotor-dev/rotor/internal/quota"
	"github.com/rotor-dev/rotor/internal/ratelimit"
	"github.com/rotor-dev/rotor/internal/retry"
	"github.com/rotor-dev/rotor/internal/rotation"
	"github.com/rotor-dev/rotor/internal/state"
	rotorerr "github.com/rotor-dev/rotor/pkg/errors"
	"github.com/rotor-dev/rotor/pkg/health"
)

// Options configures a Manager. Config is required; Store nil disables
// persistence and Emitter nil discards events.
type Options struct {
	Config  *config.Config
	Store   state.Store
	Emitter events.Emitter
}

// Metrics is a point-in-time snapshot for display.
type Metrics struct {
	Current    rotation.Combination
	Strategy   rotation.Strategy
	Counters   state.Counters
	Health     map[string]health.Record
	RateLimits map[string]health.RateLimit
	Quotas     map[string]health.Quota
	Switches   []state.SwitchRecord
}

// Manager implements the retry loop's Coordinator contract and the operator
// surface. All methods are safe for concurrent use.
type Manager struct {
	// mu guards current, rateLimits, switches, and counters. The breaker
	// and quota tracker carry their own locks.
	mu sync.Mutex

	cfg      *config.Config
	chain    []string
	strategy rotation.Strategy

	breaker  *breaker.Breaker
	quota    *quota.Tracker
	detector *ratelimit.Detector
	latency  *rotation.LatencyTracker
	engine   *rotation.Engine

	store   state.Store
	emitter events.Emitter

	current rotation.Combination

	// rateLimits is keyed by provider name; entries expire lazily.
	rateLimits map[string]health.RateLimit
	switches   []state.SwitchRecord
	counters   state.Counters

	nowFunc func() time.Time
}

// maxSwitchRecords bounds the persisted switch history.
const maxSwitchRecords = 100

var _ retry.Coordinator = (*Manager)(nil)

// New builds a Manager from configuration, restoring any persisted state.
// A restored current combination that is no longer configured falls back to
// the head of the fallback chain.
func New(opts Options) (*Manager, error) {
	cfg := opts.Config
	if cfg == nil || len(cfg.Providers) == 0 {
		return nil, rotorerr.New(rotorerr.CodeManagerNoFallback, "no providers configured")
	}

	emitter := opts.Emitter
	if emitter == nil {
		emitter = events.Nop{}
	}

	m := &Manager{
		cfg:      cfg,
		chain:    cfg.FallbackOrDefault(),
		strategy: rotation.Strategy(cfg.Rotation.Strategy),
		breaker: breaker.New(breaker.Options{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			Cooldown:         cfg.Breaker.Cooldown,
		}),
		quota:      quota.New(cfg.Quota.DefaultLimit),
		detector:   ratelimit.New(),
		latency:    rotation.NewLatencyTracker(),
		store:      opts.Store,
		emitter:    emitter,
		rateLimits: make(map[string]health.RateLimit),
		nowFunc:    time.Now,
	}

	candidates, err := buildCandidates(cfg, m.chain)
	if err != nil {
		return nil, err
	}
	m.engine = rotation.NewEngine(candidates, m.usableLocked, m.quota, m.latency)

	m.current = m.defaultCombination()
	if m.current.IsZero() {
		return nil, rotorerr.New(rotorerr.CodeManagerNoFallback, "fallback chain resolves to no usable combination")
	}

	if err := m.restore(); err != nil {
		return nil, err
	}

	return m, nil
}

// SetNowFunc overrides the clock for tests, propagating to the breaker and
// the rate-limit detector.
func (m *Manager) SetNowFunc(fn func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nowFunc = fn
	m.breaker.SetNowFunc(fn)
	m.detector.SetNowFunc(fn)
}

// buildCandidates flattens the provider/model configuration into the
// rotation pool, in fallback-chain order then configuration order.
func buildCandidates(cfg *config.Config, chain []string) ([]rotation.Candidate, error) {
	var out []rotation.Candidate
	for _, name := range chain {
		p, ok := cfg.Providers[name]
		if !ok {
			return nil, rotorerr.New(rotorerr.CodeManagerProviderNotFound,
				"fallback provider not configured", rotorerr.FieldProvider(name))
		}
		for _, mdl := range p.Models {
			cost, err := mdl.Cost()
			if err != nil {
				return nil, rotorerr.Wrapf(err, rotorerr.CodeConfigValidateInvalidValue,
					"parsing cost for %s/%s", name, mdl.Name)
			}
			if p.Type.FlatRate() {
				// Flat-rate plans have no marginal per-token cost, so
				// cost ranking treats their models as free.
				cost = decimal.Zero
			}
			out = append(out, rotation.Candidate{
				Combination:  rotation.Combination{Provider: name, Model: mdl.Name},
				Priority:     p.Priority,
				Weight:       candidateWeight(p.Weight, mdl.Weight),
				CostPerToken: cost,
			})
		}
	}
	if len(out) == 0 {
		return nil, rotorerr.New(rotorerr.CodeManagerNoFallback, "no provider declares a model")
	}
	return out, nil
}

// candidateWeight combines provider and model weight; an unset model weight
// inherits the provider's.
func candidateWeight(provider, model int) int {
	if model <= 0 {
		return provider
	}
	if provider <= 0 {
		return model
	}
	return provider * model
}

func (m *Manager) defaultCombination() rotation.Combination {
	for _, name := range m.chain {
		if mdl := m.cfg.DefaultModel(name); mdl != "" {
			return rotation.Combination{Provider: name, Model: mdl}
		}
	}
	return rotation.Combination{}
}

// restore loads persisted state and rehydrates the components.
func (m *Manager) restore() error {
	if m.store == nil {
		return nil
	}
	st, err := m.store.Load()
	if err != nil {
		return err
	}
	if st.Empty() {
		return nil
	}

	if err := m.breaker.Restore(st.Health); err != nil {
		return err
	}
	m.quota.Restore(st.Quotas)
	if st.RateLimits != nil {
		m.rateLimits = make(map[string]health.RateLimit, len(st.RateLimits))
		for k, v := range st.RateLimits {
			m.rateLimits[k] = v
		}
	}
	m.switches = append([]state.SwitchRecord(nil), st.Switches...)
	m.counters = st.Counters

	restored := rotation.Combination{Provider: st.CurrentProvider, Model: st.CurrentModel}
	if m.configured(restored) {
		m.current = restored
	}
	return nil
}

// configured reports whether the combination exists in the loaded config.
func (m *Manager) configured(c rotation.Combination) bool {
	p, ok := m.cfg.Providers[c.Provider]
	if !ok {
		return false
	}
	for _, mdl := range p.Models {
		if mdl.Name == c.Model {
			return true
		}
	}
	return false
}

// usableLocked is the rotation engine's live filter. The engine is only
// invoked with m.mu held, so rateLimits may be read directly.
func (m *Manager) usableLocked(c rotation.Combination) bool {
	if !m.breaker.Healthy(c.Key()) {
		return false
	}
	rl, ok := m.rateLimits[c.Provider]
	if !ok || !rl.Limited {
		return true
	}
	if rl.Expired(m.nowFunc()) {
		delete(m.rateLimits, c.Provider)
		return true
	}
	return false
}

// Current returns the authoritative current combination.
func (m *Manager) Current() rotation.Combination {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// RecordSuccess feeds health and latency tracking and persists.
func (m *Manager) RecordSuccess(combo rotation.Combination, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.breaker.RecordSuccess(combo.Key())
	m.latency.Observe(combo.Key(), d, true)
	if rl, ok := m.rateLimits[combo.Provider]; ok && rl.Expired(m.nowFunc()) {
		delete(m.rateLimits, combo.Provider)
	}

	m.emitter.Emit(context.Background(), events.Event{
		Type:     events.TypeRecovery,
		Provider: combo.Provider,
		Model:    combo.Model,
		Attrs:    []slog.Attr{slog.Duration("latency", d)},
	})
	m.saveLocked()
}

// RecordFailure feeds health and latency tracking and persists. A non-nil
// err is run through rate-limit detection so limited providers are marked
// for the full reset window, not just the breaker cooldown.
func (m *Manager) RecordFailure(combo rotation.Combination, d time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.breaker.RecordFailure(combo.Key())
	m.latency.Observe(combo.Key(), d, false)
	m.counters.ErrorEvents++
	m.counters.RetryAttempts++

	attrs := []slog.Attr{slog.Duration("latency", d)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		if det := m.detector.Detect("", err); det.Limited {
			m.markRateLimitedLocked(combo.Provider, det.ResetOrDefault(m.nowFunc()))
		}
	}

	m.emitter.Emit(context.Background(), events.Event{
		Type:     events.TypeError,
		Provider: combo.Provider,
		Model:    combo.Model,
		Attrs:    attrs,
	})
	m.saveLocked()
}

// MarkAuthFailure flags a terminal credential problem on the combination.
// The mark is sticky; only an explicit success or Reset clears it.
func (m *Manager) MarkAuthFailure(combo rotation.Combination) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.breaker.MarkAuthFailure(combo.Key())
	m.counters.ErrorEvents++
	m.emitter.Emit(context.Background(), events.Event{
		Type:     events.TypeCircuitBreaker,
		Provider: combo.Provider,
		Model:    combo.Model,
		Reason:   string(health.ReasonAuth),
	})
	m.saveLocked()
}

// MarkFailureExhausted flags a spent retry budget on the combination,
// opening its circuit.
func (m *Manager) MarkFailureExhausted(combo rotation.Combination) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.breaker.MarkFailureExhausted(combo.Key())
	m.emitter.Emit(context.Background(), events.Event{
		Type:     events.TypeCircuitBreaker,
		Provider: combo.Provider,
		Model:    combo.Model,
		Reason:   string(health.ReasonFailExhausted),
	})
	m.saveLocked()
}

// MarkRateLimited records that provider is limited until resetAt. When the
// current combination uses that provider the manager rotates away from it;
// the returned combination is the new current and switched reports whether
// a rotation happened.
func (m *Manager) MarkRateLimited(provider string, resetAt time.Time) (rotation.Combination, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.cfg.Providers[provider]; !ok {
		return m.current, false, rotorerr.New(rotorerr.CodeManagerProviderNotFound,
			"provider not configured", rotorerr.FieldProvider(provider))
	}

	m.markRateLimitedLocked(provider, resetAt)

	if m.current.Provider != provider {
		m.saveLocked()
		return m.current, false, nil
	}

	next, switched, err := m.rotateLocked("rate_limited")
	m.saveLocked()
	if err != nil {
		return m.current, false, err
	}
	return next, switched, nil
}

func (m *Manager) markRateLimitedLocked(provider string, resetAt time.Time) {
	usage := m.quota.RecordRateLimitEvent(provider)
	q := m.quota.Usage(provider)
	reset := resetAt
	m.rateLimits[provider] = health.RateLimit{
		Limited:    true,
		ResetAt:    &reset,
		QuotaUsed:  usage,
		QuotaLimit: q.Limit,
	}
	for _, mdl := range m.cfg.Providers[provider].Models {
		m.breaker.MarkRateLimited(breaker.Key(provider, mdl.Name))
	}
	m.counters.RateLimitEvents++

	m.emitter.Emit(context.Background(), events.Event{
		Type:     events.TypeRateLimit,
		Provider: provider,
		Attrs: []slog.Attr{
			slog.Time("reset_at", resetAt),
			slog.Int64("quota_used", usage),
		},
	})
}

// HandleRateLimitSignal inspects a provider response and error for
// rate-limit phrasing. When detected the provider is marked limited and, if
// it is current, rotated away from.
func (m *Manager) HandleRateLimitSignal(provider, response string, err error) (ratelimit.Detection, error) {
	det := m.detector.Detect(response, err)
	if !det.Limited {
		return det, nil
	}
	_, _, markErr := m.MarkRateLimited(provider, det.ResetOrDefault(m.now()))
	return det, markErr
}

func (m *Manager) now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nowFunc()
}

// Rotate asks for the next combination per the configured strategy.
// switched is false with a nil error when no candidate qualifies.
func (m *Manager) Rotate(reason string) (rotation.Combination, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, switched, err := m.rotateLocked(reason)
	m.saveLocked()
	return next, switched, err
}

// SwitchProvider is the operator-facing rotation; unlike Rotate it treats
// "no candidate" as an error.
func (m *Manager) SwitchProvider(reason string) (rotation.Combination, error) {
	next, switched, err := m.Rotate(reason)
	if err != nil {
		return next, err
	}
	if !switched {
		return next, rotorerr.New(rotorerr.CodeRotationNoCandidate,
			"no usable combination to switch to")
	}
	return next, nil
}

func (m *Manager) rotateLocked(reason string) (rotation.Combination, bool, error) {
	dec, err := m.engine.Next(m.current, m.strategy)
	if err != nil {
		return m.current, false, err
	}
	if dec.Action != rotation.ActionSwitch {
		return m.current, false, nil
	}

	from := m.current
	m.current = dec.Combination
	m.counters.ProviderSwitches++
	m.switches = append(m.switches, state.SwitchRecord{
		Timestamp:    m.nowFunc(),
		FromProvider: from.Provider,
		FromModel:    from.Model,
		ToProvider:   dec.Combination.Provider,
		ToModel:      dec.Combination.Model,
		Reason:       reason,
	})
	if len(m.switches) > maxSwitchRecords {
		m.switches = m.switches[len(m.switches)-maxSwitchRecords:]
	}

	m.emitter.Emit(context.Background(), events.Event{
		Type:     events.TypeSwitch,
		Provider: dec.Combination.Provider,
		Model:    dec.Combination.Model,
		Reason:   reason,
		Attrs: []slog.Attr{
			slog.String("from_provider", from.Provider),
			slog.String("from_model", from.Model),
		},
	})
	return dec.Combination, true, nil
}

// Metrics snapshots the coordination state for display.
func (m *Manager) Metrics() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	rls := make(map[string]health.RateLimit, len(m.rateLimits))
	for k, v := range m.rateLimits {
		rls[k] = v
	}
	return Metrics{
		Current:    m.current,
		Strategy:   m.strategy,
		Counters:   m.counters,
		Health:     m.breaker.Snapshot(),
		RateLimits: rls,
		Quotas:     m.quota.Snapshot(),
		Switches:   append([]state.SwitchRecord(nil), m.switches...),
	}
}

// Reset clears all coordination state, in memory and persisted, and returns
// the current combination to the head of the fallback chain.
func (m *Manager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.breaker.Reset()
	m.quota.Clear("")
	m.latency.Reset()
	m.rateLimits = make(map[string]health.RateLimit)
	m.switches = nil
	m.counters = state.Counters{}
	m.current = m.defaultCombination()

	if m.store != nil {
		if err := m.store.Clear(); err != nil {
			return err
		}
	}
	m.emitter.Emit(context.Background(), events.Event{Type: events.TypePersistence, Reason: "reset"})
	return nil
}

// Save forces a persistence write outside the usual mutation paths.
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.save()
}

// Close persists one final time and releases the store.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store == nil {
		return nil
	}
	saveErr := m.save()
	closeErr := m.store.Close()
	if saveErr != nil {
		return saveErr
	}
	return closeErr
}

// saveLocked persists best-effort: mutations must not fail because the disk
// is briefly unavailable. Failures surface as persistence events.
func (m *Manager) saveLocked() {
	if err := m.save(); err != nil {
		m.emitter.Emit(context.Background(), events.Event{
			Type:   events.TypePersistence,
			Reason: "save_failed",
			Attrs:  []slog.Attr{slog.String("error", err.Error())},
		})
	}
}

func (m *Manager) save() error {
	if m.store == nil {
		return nil
	}

	rls := make(map[string]health.RateLimit, len(m.rateLimits))
	for k, v := range m.rateLimits {
		rls[k] = v
	}
	return m.store.Save(&state.HarnessState{
		CurrentProvider: m.current.Provider,
		CurrentModel:    m.current.Model,
		Health:          m.breaker.Snapshot(),
		RateLimits:      rls,
		Quotas:          m.quota.Snapshot(),
		Switches:        append([]state.SwitchRecord(nil), m.switches...),
		Counters:        m.counters,
		LastUpdated:     m.nowFunc(),
	})
}

// CostOf returns the configured per-token cost of a combination, zero when
// unknown.
func (m *Manager) CostOf(c rotation.Combination) decimal.Decimal {
	p, ok := m.cfg.Providers[c.Provider]
	if !ok {
		return decimal.Zero
	}
	for _, mdl := range p.Models {
		if mdl.Name == c.Model {
			cost, err := mdl.Cost()
			if err == nil {
				return cost
			}
		}
	}
	return decimal.Zero
}
