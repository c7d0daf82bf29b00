// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rotor Contributors

package backoff

import (
	"testing"
	"time"

	"github.com/rotor-dev/rotor/internal/classify"
	"github.com/stretchr/testify/assert"
)

func TestExponentialDelay(t *testing.T) {
	p := Policy{Strategy: StrategyExponential, Base: time.Second, Max: time.Minute, Factor: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{5, 32 * time.Second},
		{6, time.Minute}, // 64s capped
		{20, time.Minute},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestExponentialCustomFactor(t *testing.T) {
	p := Policy{Strategy: StrategyExponential, Base: time.Second, Max: time.Hour, Factor: 3}
	assert.Equal(t, time.Second, p.Delay(0))
	assert.Equal(t, 3*time.Second, p.Delay(1))
	assert.Equal(t, 9*time.Second, p.Delay(2))
}

func TestLinearDelay(t *testing.T) {
	p := Policy{Strategy: StrategyLinear, Base: 2 * time.Second, Max: 7 * time.Second}
	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, 2*time.Second, p.Delay(1))
	assert.Equal(t, 4*time.Second, p.Delay(2))
	assert.Equal(t, 6*time.Second, p.Delay(3))
	assert.Equal(t, 7*time.Second, p.Delay(4), "linear growth caps at max")
}

func TestFixedDelay(t *testing.T) {
	p := Policy{Strategy: StrategyFixed, Base: 60 * time.Second, Max: 60 * time.Second}
	for attempt := 0; attempt < 5; attempt++ {
		assert.Equal(t, 60*time.Second, p.Delay(attempt))
	}
}

func TestImmediateFail(t *testing.T) {
	p := Policy{Strategy: StrategyImmediateFail, Base: time.Second, Max: time.Minute}
	assert.Equal(t, time.Duration(0), p.Delay(0))
	assert.Equal(t, time.Duration(0), p.Delay(9))
	assert.False(t, p.Retryable())
}

func TestNegativeAttemptClamped(t *testing.T) {
	p := Policy{Strategy: StrategyExponential, Base: time.Second, Max: time.Minute, Factor: 2}
	assert.Equal(t, time.Second, p.Delay(-3))
}

func TestOverflowFallsBackToMax(t *testing.T) {
	p := Policy{Strategy: StrategyExponential, Base: time.Hour, Max: 2 * time.Hour, Factor: 10}
	assert.Equal(t, 2*time.Hour, p.Delay(500))
}

// Jitter is random by construction; assert a range, not an exact value.
func TestJitterStaysWithinBounds(t *testing.T) {
	p := Policy{Strategy: StrategyFixed, Base: 10 * time.Second, Max: 10 * time.Second, Jitter: 0.2}

	lo := 8 * time.Second
	hi := 12 * time.Second
	for i := 0; i < 200; i++ {
		d := p.Delay(0)
		assert.GreaterOrEqual(t, d, lo)
		assert.LessOrEqual(t, d, hi)
	}
}

func TestJitterDeterministicWithInjectedSource(t *testing.T) {
	p := Policy{Strategy: StrategyFixed, Base: 10 * time.Second, Max: 10 * time.Second, Jitter: 0.5}

	p.rng = func() float64 { return 1 } // +50%
	assert.Equal(t, 15*time.Second, p.Delay(0))

	p.rng = func() float64 { return 0 } // -50%
	assert.Equal(t, 5*time.Second, p.Delay(0))

	p.rng = func() float64 { return 0.5 } // midpoint, no perturbation
	assert.Equal(t, 10*time.Second, p.Delay(0))
}

func TestForKindMapping(t *testing.T) {
	assert.Equal(t, StrategyImmediateFail, ForKind(classify.KindAuthentication).Strategy)
	assert.Equal(t, StrategyImmediateFail, ForKind(classify.KindPermission).Strategy)

	rl := ForKind(classify.KindRateLimit)
	assert.Equal(t, StrategyFixed, rl.Strategy)
	assert.Equal(t, 60*time.Second, rl.Base)

	to := ForKind(classify.KindTimeout)
	assert.Equal(t, StrategyExponential, to.Strategy)
	assert.Equal(t, 5*time.Second, to.Base)
	assert.Equal(t, 10*time.Second, to.Delay(1))

	assert.Equal(t, StrategyExponential, ForKind(classify.KindUnknown).Strategy)
}
