// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rotor Contributors

// Package backoff computes retry delays for the orchestrator. A Policy pairs
// a strategy with its bounds; Delay is pure so it can be asserted exactly,
// jitter excepted.
package backoff

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/rotor-dev/rotor/internal/classify"
)

// Strategy selects how the delay grows with the attempt count.
type Strategy string

const (
	// StrategyExponential grows base * factor^attempt, capped at Max.
	StrategyExponential Strategy = "exponential_backoff"
	// StrategyLinear grows base * attempt, capped at Max.
	StrategyLinear Strategy = "linear_backoff"
	// StrategyFixed always waits Base.
	StrategyFixed Strategy = "fixed_delay"
	// StrategyImmediateFail never waits and signals the caller not to retry.
	StrategyImmediateFail Strategy = "immediate_fail"
)

// Policy holds the parameters for one delay schedule.
type Policy struct {
	Strategy Strategy
	Base     time.Duration
	Max      time.Duration
	// Factor is the exponential base; ignored by other strategies.
	Factor float64
	// Jitter perturbs the computed delay by up to ±Jitter fraction
	// (0 disables, 0.2 means ±20%).
	Jitter float64

	// rng overrides the jitter source for tests.
	rng func() float64
}

// Delay computes the wait before the given zero-based attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	var d time.Duration
	switch p.Strategy {
	case StrategyImmediateFail:
		return 0
	case StrategyFixed:
		d = p.Base
	case StrategyLinear:
		d = time.Duration(float64(p.Base) * float64(attempt))
	default: // exponential
		factor := p.Factor
		if factor <= 0 {
			factor = 2
		}
		scaled := float64(p.Base) * math.Pow(factor, float64(attempt))
		if scaled > float64(p.Max) && p.Max > 0 {
			d = p.Max
		} else {
			d = time.Duration(scaled)
		}
	}

	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	if d < 0 {
		d = p.Max
	}

	return p.applyJitter(d)
}

// Retryable reports whether this policy permits any retry at all.
func (p Policy) Retryable() bool {
	return p.Strategy != StrategyImmediateFail
}

func (p Policy) applyJitter(d time.Duration) time.Duration {
	if p.Jitter <= 0 || d <= 0 {
		return d
	}
	roll := rand.Float64
	if p.rng != nil {
		roll = p.rng
	}
	// Uniform in [1-jitter, 1+jitter].
	scale := 1 + p.Jitter*(2*roll()-1)
	out := time.Duration(float64(d) * scale)
	if out < 0 {
		return 0
	}
	return out
}

// ForKind returns the delay policy matched to an error kind. Terminal kinds
// map to immediate fail; throttling maps to a fixed wait; transport noise
// backs off exponentially.
func ForKind(kind classify.Kind) Policy {
	if !classify.Recoverable(kind) {
		return Policy{Strategy: StrategyImmediateFail}
	}
	switch kind {
	case classify.KindRateLimit, classify.KindQuotaExceeded:
		return Policy{Strategy: StrategyFixed, Base: 60 * time.Second, Max: 60 * time.Second}
	case classify.KindTimeout:
		return Policy{Strategy: StrategyExponential, Base: 5 * time.Second, Max: 5 * time.Minute, Factor: 2}
	case classify.KindNetwork, classify.KindDNSResolution, classify.KindSSLTLS:
		return Policy{Strategy: StrategyExponential, Base: 2 * time.Second, Max: 2 * time.Minute, Factor: 2}
	case classify.KindServerError:
		return Policy{Strategy: StrategyExponential, Base: 3 * time.Second, Max: 3 * time.Minute, Factor: 2}
	default:
		return Policy{Strategy: StrategyExponential, Base: time.Second, Max: time.Minute, Factor: 2}
	}
}
