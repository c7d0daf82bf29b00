// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rotor Contributors

// Package state persists the coordination state (health records, rate
// limits, quotas, switch history, counters) so a restarted process resumes
// with the same knowledge. One authoritative document exists per
// (project, mode) key, guarded against concurrent corruption.
package state

import (
	"time"

	"github.com/rotor-dev/rotor/pkg/health"
)

// Key identifies one persisted state document.
type Key struct {
	Project string
	Mode    string
}

// Counters aggregates the coordination event totals.
type Counters struct {
	ProviderSwitches int64 `json:"provider_switches"`
	RateLimitEvents  int64 `json:"rate_limit_events"`
	ErrorEvents      int64 `json:"error_events"`
	RetryAttempts    int64 `json:"retry_attempts"`
}

// SwitchRecord is one provider/model switch, kept for display.
type SwitchRecord struct {
	Timestamp    time.Time `json:"timestamp"`
	FromProvider string    `json:"from_provider"`
	FromModel    string    `json:"from_model,omitempty"`
	ToProvider   string    `json:"to_provider"`
	ToModel      string    `json:"to_model,omitempty"`
	Reason       string    `json:"reason"`
}

// HarnessState is the persisted coordination document.
type HarnessState struct {
	CurrentProvider string                      `json:"current_provider"`
	CurrentModel    string                      `json:"current_model"`
	Health          map[string]health.Record    `json:"health,omitempty"`
	RateLimits      map[string]health.RateLimit `json:"rate_limits,omitempty"`
	Quotas          map[string]health.Quota     `json:"quotas,omitempty"`
	Switches        []SwitchRecord              `json:"switches,omitempty"`
	Counters        Counters                    `json:"counters"`
	LastUpdated     time.Time                   `json:"last_updated"`
}

// Empty reports whether the state carries no information.
func (s *HarnessState) Empty() bool {
	return s == nil || (s.CurrentProvider == "" && len(s.Health) == 0 &&
		len(s.RateLimits) == 0 && len(s.Quotas) == 0 && len(s.Switches) == 0)
}

// Store is the durable persistence contract. Load returns nil for absent or
// unreadable-as-in-corrupt state (never an error for corruption); permission
// and locking problems are surfaced. Implementations serialize writers.
type Store interface {
	Load() (*HarnessState, error)
	Save(s *HarnessState) error
	Has() (bool, error)
	Clear() error
	Close() error
}

// DefaultLockTimeout bounds how long a store waits to acquire its advisory
// lock before failing with the lock-not-acquired condition.
const DefaultLockTimeout = 5 * time.Second
