// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rotor Contributors

// Package rotation decides which provider/model combination to try next
// after a failure or rate limit. Strategies rank the candidate pool; a
// shared filter excludes circuit-open and rate-limited combinations first.
package rotation

import (
	"math/rand/v2"
	"slices"

	"github.com/shopspring/decimal"

	rotorerr "github.com/rotor-dev/rotor/pkg/errors"
)

// Combination names one routable (provider, model) pair.
type Combination struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Key returns the breaker/quota tracking key for the combination.
func (c Combination) Key() string {
	if c.Model == "" {
		return c.Provider
	}
	return c.Provider + "/" + c.Model
}

func (c Combination) IsZero() bool {
	return c.Provider == ""
}

// Strategy names a rotation policy.
type Strategy string

const (
	StrategyProviderFirst        Strategy = "provider_first"
	StrategyModelFirst           Strategy = "model_first"
	StrategyCostOptimized        Strategy = "cost_optimized"
	StrategyPerformanceOptimized Strategy = "performance_optimized"
	StrategyQuotaAware           Strategy = "quota_aware"
)

// DefaultStrategy is used when the configuration names none.
const DefaultStrategy = StrategyProviderFirst

// Valid reports whether s names a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyProviderFirst, StrategyModelFirst, StrategyCostOptimized,
		StrategyPerformanceOptimized, StrategyQuotaAware:
		return true
	}
	return false
}

// Action is the engine's verdict.
type Action string

const (
	// ActionSwitch proposes the combination in the decision.
	ActionSwitch Action = "switch"
	// ActionNone means no candidate qualifies; the caller must fail the
	// request rather than loop.
	ActionNone Action = "none"
)

// Decision is the outcome of one rotation request.
type Decision struct {
	Action      Action
	Combination Combination
}

// Candidate is one routable combination with its selection metadata.
type Candidate struct {
	Combination Combination
	// Priority orders providers, lower preferred.
	Priority int
	// Weight drives the cumulative-weight draw among peers.
	Weight int
	// CostPerToken ranks candidates for cost_optimized.
	CostPerToken decimal.Decimal
}

// Filter reports whether a combination may receive traffic right now. The
// manager wires this to the breaker and rate-limit bookkeeping.
type Filter func(Combination) bool

// QuotaSource exposes remaining quota headroom per combination key.
type QuotaSource interface {
	Remaining(key string) int64
}

// Engine ranks candidates per strategy. The candidate pool is fixed at
// construction (providers are immutable once loaded); the filter and the
// observation sources are consulted live on every call.
type Engine struct {
	candidates []Candidate
	usable     Filter
	quota      QuotaSource
	latency    *LatencyTracker

	// rng overrides the weighted-draw source for tests.
	rng func(n int) int
}

// NewEngine creates an Engine over the candidate pool, in configuration
// order. usable must not be nil; quota and latency may be nil when the
// corresponding strategies are unused.
func NewEngine(candidates []Candidate, usable Filter, quota QuotaSource, latency *LatencyTracker) *Engine {
	return &Engine{
		candidates: slices.Clone(candidates),
		usable:     usable,
		quota:      quota,
		latency:    latency,
		rng:        rand.IntN,
	}
}

// Next proposes the combination to try after current, per strategy. Every
// strategy excludes unusable combinations and the current one; an empty
// field leaves ActionNone, which callers must treat as terminal.
func (e *Engine) Next(current Combination, strategy Strategy) (Decision, error) {
	if strategy == "" {
		strategy = DefaultStrategy
	}
	if !strategy.Valid() {
		return Decision{}, rotorerr.Errorf(rotorerr.CodeRotationStrategyUnknown,
			"unknown rotation strategy %q", strategy)
	}

	pool := e.eligible(current)
	if len(pool) == 0 {
		return Decision{Action: ActionNone}, nil
	}

	var pick Candidate
	switch strategy {
	case StrategyModelFirst:
		siblings := filterCandidates(pool, func(c Candidate) bool {
			return c.Combination.Provider == current.Provider
		})
		if len(siblings) == 0 {
			return Decision{Action: ActionNone}, nil
		}
		pick = e.weightedDraw(orderByWeightThenConfig(siblings))
	case StrategyCostOptimized:
		pick = cheapest(pool)
	case StrategyPerformanceOptimized:
		pick = e.fastest(pool)
	case StrategyQuotaAware:
		pick = e.mostHeadroom(pool)
	default: // provider_first
		next := filterCandidates(pool, func(c Candidate) bool {
			return c.Combination.Provider != current.Provider
		})
		if len(next) == 0 {
			return Decision{Action: ActionNone}, nil
		}
		pick = e.weightedDraw(defaultPerProvider(topPriority(next)))
	}

	return Decision{Action: ActionSwitch, Combination: pick.Combination}, nil
}

// eligible returns the candidates that pass the live filter, excluding the
// current combination itself.
func (e *Engine) eligible(current Combination) []Candidate {
	out := make([]Candidate, 0, len(e.candidates))
	for _, c := range e.candidates {
		if c.Combination == current {
			continue
		}
		if e.usable != nil && !e.usable(c.Combination) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func filterCandidates(in []Candidate, keep func(Candidate) bool) []Candidate {
	out := make([]Candidate, 0, len(in))
	for _, c := range in {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}

// firstByPriority picks the lowest-priority candidate; configuration order
// breaks ties.
func firstByPriority(pool []Candidate) Candidate {
	best := pool[0]
	for _, c := range pool[1:] {
		if c.Priority < best.Priority {
			best = c
		}
	}
	return best
}

// defaultPerProvider keeps each provider's first usable candidate. The pool
// preserves configuration order, so that is the provider's default model
// (or the next one when the default is filtered out).
func defaultPerProvider(pool []Candidate) []Candidate {
	seen := make(map[string]bool, len(pool))
	out := make([]Candidate, 0, len(pool))
	for _, c := range pool {
		if seen[c.Combination.Provider] {
			continue
		}
		seen[c.Combination.Provider] = true
		out = append(out, c)
	}
	return out
}

// topPriority returns every candidate sharing the lowest priority in pool,
// in configuration order. provider_first draws among these providers by
// weight, each represented by its default model.
func topPriority(pool []Candidate) []Candidate {
	min := pool[0].Priority
	for _, c := range pool[1:] {
		if c.Priority < min {
			min = c.Priority
		}
	}
	return filterCandidates(pool, func(c Candidate) bool { return c.Priority == min })
}

// weightedDraw performs a cumulative-weight draw over pool. A total weight
// of zero deterministically returns the first candidate; this is the
// documented fallback, not a random choice.
func (e *Engine) weightedDraw(pool []Candidate) Candidate {
	total := 0
	for _, c := range pool {
		if c.Weight > 0 {
			total += c.Weight
		}
	}
	if total == 0 {
		return pool[0]
	}

	roll := e.rng(total)
	for _, c := range pool {
		if c.Weight <= 0 {
			continue
		}
		if roll < c.Weight {
			return c
		}
		roll -= c.Weight
	}
	return pool[len(pool)-1]
}

// orderByWeightThenConfig sorts descending by weight, preserving
// configuration order among equals, so the draw walks the fallback order.
func orderByWeightThenConfig(pool []Candidate) []Candidate {
	out := slices.Clone(pool)
	slices.SortStableFunc(out, func(a, b Candidate) int {
		return b.Weight - a.Weight
	})
	return out
}

// cheapest ranks by ascending per-token cost; configuration order breaks ties.
func cheapest(pool []Candidate) Candidate {
	best := pool[0]
	for _, c := range pool[1:] {
		if c.CostPerToken.LessThan(best.CostPerToken) {
			best = c
		}
	}
	return best
}

// fastest ranks by observed score (success rate over latency). Unobserved
// candidates score neutrally, so fresh combinations still get traffic.
func (e *Engine) fastest(pool []Candidate) Candidate {
	if e.latency == nil {
		return firstByPriority(pool)
	}
	best := pool[0]
	bestScore := e.latency.Score(best.Combination.Key())
	for _, c := range pool[1:] {
		if s := e.latency.Score(c.Combination.Key()); s > bestScore {
			best, bestScore = c, s
		}
	}
	return best
}

// mostHeadroom prefers the candidate with the most remaining quota. Quota
// is tracked per provider, not per model.
func (e *Engine) mostHeadroom(pool []Candidate) Candidate {
	if e.quota == nil {
		return firstByPriority(pool)
	}
	best := pool[0]
	bestLeft := e.quota.Remaining(best.Combination.Provider)
	for _, c := range pool[1:] {
		if left := e.quota.Remaining(c.Combination.Provider); left > bestLeft {
			best, bestLeft = c, left
		}
	}
	return best
}
