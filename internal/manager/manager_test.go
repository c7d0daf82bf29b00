// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rotor Contributors

package manager_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rotor-dev/rotor/internal/classify"
	"github.com/rotor-dev/rotor/internal/config"
	"github.com/rotor-dev/rotor/internal/manager"
	"github.com/rotor-dev/rotor/internal/retry"
	"github.com/rotor-dev/rotor/internal/rotation"
	"github.com/rotor-dev/rotor/internal/state"
	rotorerr "github.com/rotor-dev/rotor/pkg/errors"
	"github.com/rotor-dev/rotor/pkg/health"
)

func testConfig() *config.Config {
	return &config.Config{
		Project: "test",
		Mode:    "default",
		Providers: map[string]config.ProviderConfig{
			"claude": {
				Priority: 0,
				Weight:   3,
				Type:     config.ProviderTypeSubscription,
				Models: []config.ModelConfig{
					{Name: "claude-sonnet", Weight: 2, CostPerToken: "0.000003"},
					{Name: "claude-haiku", Weight: 1, CostPerToken: "0.0000008"},
				},
			},
			"gemini": {
				Priority: 1,
				Weight:   2,
				Type:     config.ProviderTypeUsageBased,
				Models: []config.ModelConfig{
					{Name: "gemini-pro", Weight: 1, CostPerToken: "0.0000025"},
				},
			},
			"cursor": {
				Priority: 2,
				Weight:   1,
				Type:     config.ProviderTypePassthrough,
				Models: []config.ModelConfig{
					{Name: "cursor-fast", Weight: 1},
				},
			},
		},
		Fallback: []string{"claude", "gemini", "cursor"},
		Rotation: config.RotationConfig{Strategy: "provider_first"},
		Breaker:  config.BreakerConfig{FailureThreshold: 5, Cooldown: 300 * time.Second},
		Quota:    config.QuotaConfig{DefaultLimit: 1000},
	}
}

func memStore(t *testing.T) state.Store {
	t.Helper()
	st, err := state.New(state.Config{Backend: "memory"}, state.Key{Project: "test", Mode: "default"})
	require.NoError(t, err)
	return st
}

func newManager(t *testing.T, st state.Store) *manager.Manager {
	t.Helper()
	m, err := manager.New(manager.Options{Config: testConfig(), Store: st})
	require.NoError(t, err)
	return m
}

func TestNew_StartsAtFallbackHead(t *testing.T) {
	m := newManager(t, nil)
	assert.Equal(t, rotation.Combination{Provider: "claude", Model: "claude-sonnet"}, m.Current())
}

func TestNew_RequiresProviders(t *testing.T) {
	_, err := manager.New(manager.Options{Config: &config.Config{}})
	require.Error(t, err)
	assert.Equal(t, rotorerr.CodeManagerNoFallback, rotorerr.CodeOf(err))
}

func TestMarkRateLimited_RotatesAwayFromCurrent(t *testing.T) {
	m := newManager(t, nil)

	next, switched, err := m.MarkRateLimited("claude", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.True(t, switched)
	assert.Equal(t, "gemini", next.Provider)
	assert.Equal(t, next, m.Current())

	metrics := m.Metrics()
	require.Contains(t, metrics.RateLimits, "claude")
	assert.True(t, metrics.RateLimits["claude"].Limited)
	assert.Equal(t, int64(1), metrics.Counters.RateLimitEvents)
	assert.Equal(t, int64(1), metrics.Counters.ProviderSwitches)
}

func TestMarkRateLimited_NonCurrentDoesNotSwitch(t *testing.T) {
	m := newManager(t, nil)

	cur, switched, err := m.MarkRateLimited("gemini", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, switched)
	assert.Equal(t, "claude", cur.Provider)
}

func TestMarkRateLimited_UnknownProvider(t *testing.T) {
	m := newManager(t, nil)

	_, _, err := m.MarkRateLimited("openai", time.Now().Add(time.Hour))
	require.Error(t, err)
	assert.Equal(t, rotorerr.CodeManagerProviderNotFound, rotorerr.CodeOf(err))
}

func TestMarkRateLimited_ExpiryRestoresEligibility(t *testing.T) {
	m := newManager(t, nil)

	now := time.Unix(1_700_000_000, 0)
	m.SetNowFunc(func() time.Time { return now })

	_, switched, err := m.MarkRateLimited("claude", now.Add(30*time.Minute))
	require.NoError(t, err)
	require.True(t, switched)

	// Still limited: rotating from gemini skips claude and lands on cursor.
	next, switched, err := m.Rotate("manual")
	require.NoError(t, err)
	require.True(t, switched)
	assert.Equal(t, "cursor", next.Provider)

	now = now.Add(31 * time.Minute)
	next, switched, err = m.Rotate("manual")
	require.NoError(t, err)
	require.True(t, switched)
	assert.Equal(t, "claude", next.Provider)
}

func TestRecordFailure_OpensCircuitAtThreshold(t *testing.T) {
	m := newManager(t, nil)
	combo := m.Current()

	for i := 0; i < 5; i++ {
		m.RecordFailure(combo, 10*time.Millisecond, errors.New("request timed out"))
	}

	metrics := m.Metrics()
	rec := metrics.Health[combo.Key()]
	assert.True(t, rec.CircuitOpen)
	assert.Equal(t, int64(5), rec.ErrorCount)
	assert.Equal(t, int64(5), metrics.Counters.ErrorEvents)

	// The open circuit excludes the combination from rotation back.
	next, switched, err := m.Rotate("circuit_open")
	require.NoError(t, err)
	require.True(t, switched)
	assert.NotEqual(t, combo, next)
}

func TestRecordSuccess_ClosesCircuit(t *testing.T) {
	m := newManager(t, nil)
	combo := m.Current()

	for i := 0; i < 5; i++ {
		m.RecordFailure(combo, time.Millisecond, errors.New("request timed out"))
	}
	m.RecordSuccess(combo, time.Millisecond)

	rec := m.Metrics().Health[combo.Key()]
	assert.False(t, rec.CircuitOpen)
	assert.Equal(t, int64(0), rec.ErrorCount)
	assert.Equal(t, int64(1), rec.SuccessCount)
}

func TestRecordFailure_DetectsRateLimit(t *testing.T) {
	m := newManager(t, nil)
	combo := m.Current()

	m.RecordFailure(combo, time.Millisecond, errors.New("429 Too Many Requests: rate limit exceeded, retry after 120 seconds"))

	metrics := m.Metrics()
	require.Contains(t, metrics.RateLimits, "claude")
	assert.True(t, metrics.RateLimits["claude"].Limited)
	assert.Positive(t, metrics.Quotas["claude"].Used)
	assert.Equal(t, int64(1), metrics.Counters.RateLimitEvents)
}

func TestMarkAuthFailure_IsSticky(t *testing.T) {
	m := newManager(t, nil)
	combo := m.Current()

	m.MarkAuthFailure(combo)

	rec := m.Metrics().Health[combo.Key()]
	assert.Equal(t, health.StatusUnhealthyAuth, rec.Status)
	assert.Equal(t, health.ReasonAuth, rec.UnhealthyReason)

	// Rotation never proposes the auth-failed combination again.
	for i := 0; i < 5; i++ {
		next, switched, err := m.Rotate("manual")
		require.NoError(t, err)
		if !switched {
			break
		}
		assert.NotEqual(t, combo, next)
	}
}

func TestRotate_ExhaustedPoolReportsNoSwitch(t *testing.T) {
	m := newManager(t, nil)

	for name, p := range testConfig().Providers {
		for _, mdl := range p.Models {
			m.MarkFailureExhausted(rotation.Combination{Provider: name, Model: mdl.Name})
		}
	}

	_, switched, err := m.Rotate("everything_down")
	require.NoError(t, err)
	assert.False(t, switched)

	_, err = m.SwitchProvider("everything_down")
	require.Error(t, err)
	assert.Equal(t, rotorerr.CodeRotationNoCandidate, rotorerr.CodeOf(err))
}

func TestPersistence_SurvivesRestart(t *testing.T) {
	st := memStore(t)

	m := newManager(t, st)
	combo := m.Current()
	m.RecordFailure(combo, time.Millisecond, errors.New("request timed out"))
	_, switched, err := m.MarkRateLimited("claude", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.True(t, switched)
	require.NoError(t, m.Save())

	m2 := newManager(t, st)
	assert.Equal(t, "gemini", m2.Current().Provider)

	metrics := m2.Metrics()
	assert.Equal(t, int64(1), metrics.Counters.ErrorEvents)
	assert.Equal(t, int64(1), metrics.Counters.RateLimitEvents)
	assert.Equal(t, int64(1), metrics.Counters.ProviderSwitches)
	require.Contains(t, metrics.RateLimits, "claude")
	assert.Equal(t, int64(1), metrics.Health[combo.Key()].ErrorCount)
	require.NotEmpty(t, metrics.Switches)
	assert.Equal(t, "rate_limited", metrics.Switches[0].Reason)
}

func TestRestore_DropsUnconfiguredCurrent(t *testing.T) {
	st := memStore(t)
	require.NoError(t, st.Save(&state.HarnessState{
		CurrentProvider: "openai",
		CurrentModel:    "gpt",
		LastUpdated:     time.Now(),
	}))

	m := newManager(t, st)
	assert.Equal(t, "claude", m.Current().Provider)
}

func TestReset_ClearsEverything(t *testing.T) {
	st := memStore(t)
	m := newManager(t, st)

	m.RecordFailure(m.Current(), time.Millisecond, errors.New("request timed out"))
	_, _, err := m.MarkRateLimited("claude", time.Now().Add(time.Hour))
	require.NoError(t, err)

	require.NoError(t, m.Reset())

	metrics := m.Metrics()
	assert.Equal(t, "claude", metrics.Current.Provider)
	assert.Empty(t, metrics.RateLimits)
	assert.Equal(t, state.Counters{}, metrics.Counters)

	has, err := st.Has()
	require.NoError(t, err)
	assert.False(t, has)
}

func TestHandleRateLimitSignal(t *testing.T) {
	m := newManager(t, nil)

	det, err := m.HandleRateLimitSignal("claude", "quota exceeded for this billing period", nil)
	require.NoError(t, err)
	assert.True(t, det.Limited)
	assert.Equal(t, "gemini", m.Current().Provider)

	det, err = m.HandleRateLimitSignal("gemini", "all good", nil)
	require.NoError(t, err)
	assert.False(t, det.Limited)
}

// End-to-end: the retry orchestrator drives the manager through failure
// exhaustion, rotation, and eventual success on the next provider.
func TestRetryLoopRotatesThroughManager(t *testing.T) {
	st := memStore(t)
	m := newManager(t, st)

	h := retry.NewHandler(m, retry.NewHistory(0))
	h.SetSleepFunc(func(context.Context, time.Duration) error { return nil })

	calls := map[string]int{}
	work := func(_ context.Context, combo rotation.Combination) error {
		calls[combo.Key()]++
		if combo.Provider == "claude" {
			return errors.New("connection refused by upstream")
		}
		return nil
	}

	out := h.Execute(context.Background(), work)
	require.True(t, out.Completed())
	assert.Equal(t, "gemini", out.Provider)
	assert.GreaterOrEqual(t, out.Rotations, 1)
	assert.Greater(t, calls["claude/claude-sonnet"], 1)

	// The failed combination is recorded exhausted and skipped afterwards.
	rec := m.Metrics().Health["claude/claude-sonnet"]
	assert.Equal(t, health.ReasonFailExhausted, rec.UnhealthyReason)
	assert.True(t, rec.CircuitOpen)
	assert.Equal(t, "gemini", m.Current().Provider)
}

// A provider answering 429s must end up rate-limit marked, not merely
// circuit-broken: the limit window outlives the breaker cooldown.
func TestRetryLoopMarksRateLimitedProvider(t *testing.T) {
	m := newManager(t, nil)

	h := retry.NewHandler(m, nil)
	h.SetSleepFunc(func(context.Context, time.Duration) error { return nil })

	out := h.Execute(context.Background(), func(_ context.Context, combo rotation.Combination) error {
		if combo.Provider == "claude" {
			return errors.New("429 Too Many Requests: rate limit exceeded, retry after 120 seconds")
		}
		return nil
	})

	require.True(t, out.Completed())
	assert.Equal(t, "gemini", out.Provider)

	metrics := m.Metrics()
	require.Contains(t, metrics.RateLimits, "claude")
	assert.True(t, metrics.RateLimits["claude"].Limited)
	require.NotNil(t, metrics.RateLimits["claude"].ResetAt)
	assert.Positive(t, metrics.Quotas["claude"].Used)
	assert.Positive(t, metrics.Counters.RateLimitEvents)
}

// With a single configured provider, exhausting the retry budget must both
// fail the execution and leave the health record showing why.
func TestRetryLoopSingleProviderExhaustion(t *testing.T) {
	cfg := &config.Config{
		Project: "test",
		Mode:    "default",
		Providers: map[string]config.ProviderConfig{
			"claude": {
				Priority: 0,
				Weight:   1,
				Type:     config.ProviderTypeSubscription,
				Models:   []config.ModelConfig{{Name: "claude-sonnet", Weight: 1}},
			},
		},
		Fallback: []string{"claude"},
		Rotation: config.RotationConfig{Strategy: "provider_first"},
		Breaker:  config.BreakerConfig{FailureThreshold: 5, Cooldown: 300 * time.Second},
		Quota:    config.QuotaConfig{DefaultLimit: 1000},
	}
	m, err := manager.New(manager.Options{Config: cfg})
	require.NoError(t, err)

	h := retry.NewHandler(m, nil)
	h.SetSleepFunc(func(context.Context, time.Duration) error { return nil })

	out := h.Execute(context.Background(), func(context.Context, rotation.Combination) error {
		return errors.New("something inexplicable went wrong")
	})

	require.False(t, out.Completed())
	assert.Equal(t, retry.StatusFailed, out.Status)
	assert.Equal(t, 5, out.Attempts)
	assert.Equal(t, rotorerr.CodeRetryExhausted, rotorerr.CodeOf(out.Err))

	rec := m.Metrics().Health["claude/claude-sonnet"]
	assert.Equal(t, health.ReasonFailExhausted, rec.UnhealthyReason)
	assert.True(t, rec.CircuitOpen)
}

func TestRetryLoopTerminalAuthFailure(t *testing.T) {
	m := newManager(t, nil)
	h := retry.NewHandler(m, nil)

	out := h.Execute(context.Background(), func(context.Context, rotation.Combination) error {
		return errors.New("401 unauthorized: invalid api key")
	})

	require.False(t, out.Completed())
	assert.Equal(t, classify.KindAuthentication, out.ErrorKind)
	assert.Equal(t, rotorerr.CodeRetryTerminal, rotorerr.CodeOf(out.Err))

	rec := m.Metrics().Health["claude/claude-sonnet"]
	assert.Equal(t, health.ReasonAuth, rec.UnhealthyReason)
}

// Subscription plans bill flat rate, so cost ranking must prefer them over
// cheaper-on-paper metered providers.
func TestCostOptimizedPrefersSubscriptionProvider(t *testing.T) {
	cfg := &config.Config{
		Project: "test",
		Mode:    "default",
		Providers: map[string]config.ProviderConfig{
			"metered": {
				Priority: 0,
				Weight:   1,
				Type:     config.ProviderTypeUsageBased,
				Models:   []config.ModelConfig{{Name: "metered-mini", Weight: 1, CostPerToken: "0.000001"}},
			},
			"pro": {
				Priority: 1,
				Weight:   1,
				Type:     config.ProviderTypeSubscription,
				Models:   []config.ModelConfig{{Name: "pro-max", Weight: 1, CostPerToken: "0.00001"}},
			},
			"cheap": {
				Priority: 2,
				Weight:   1,
				Type:     config.ProviderTypeUsageBased,
				Models:   []config.ModelConfig{{Name: "cheap-nano", Weight: 1, CostPerToken: "0.0000005"}},
			},
		},
		Fallback: []string{"metered", "pro", "cheap"},
		Rotation: config.RotationConfig{Strategy: "cost_optimized"},
		Breaker:  config.BreakerConfig{FailureThreshold: 5, Cooldown: 300 * time.Second},
		Quota:    config.QuotaConfig{DefaultLimit: 1000},
	}
	m, err := manager.New(manager.Options{Config: cfg})
	require.NoError(t, err)

	// pro's configured per-token cost is the highest, but its flat-rate
	// plan makes its marginal cost zero.
	next, switched, err := m.Rotate("manual")
	require.NoError(t, err)
	require.True(t, switched)
	assert.Equal(t, rotation.Combination{Provider: "pro", Model: "pro-max"}, next)
}

func TestCostOf(t *testing.T) {
	m := newManager(t, nil)

	cost := m.CostOf(rotation.Combination{Provider: "claude", Model: "claude-haiku"})
	assert.Equal(t, "0.0000008", cost.String())
	assert.True(t, m.CostOf(rotation.Combination{Provider: "nope", Model: "x"}).IsZero())
}
