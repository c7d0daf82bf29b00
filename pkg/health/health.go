// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rotor Contributors

// Package health defines the serializable health, rate-limit, and quota
// snapshot types shared by the breaker, rotation, manager, and state layers.
package health

import "time"

// Status is the externally visible health of a provider/model combination.
type Status string

const (
	StatusHealthy            Status = "healthy"
	StatusUnhealthy          Status = "unhealthy"
	StatusUnhealthyAuth      Status = "unhealthy_auth"
	StatusCircuitBreakerOpen Status = "circuit_breaker_open"
)

// Reason explains why a combination is unhealthy. Reasons carry a strict
// precedence: auth > fail_exhausted > rate_limit > none. A writer with a
// lower-precedence reason must not overwrite a higher one; only an explicit
// success or reset clears the record.
type Reason string

const (
	ReasonNone          Reason = "none"
	ReasonAuth          Reason = "auth"
	ReasonFailExhausted Reason = "fail_exhausted"
	ReasonRateLimit     Reason = "rate_limit"
)

// rank orders reasons by precedence, highest first.
func (r Reason) rank() int {
	switch r {
	case ReasonAuth:
		return 3
	case ReasonFailExhausted:
		return 2
	case ReasonRateLimit:
		return 1
	default:
		return 0
	}
}

// Outranks reports whether r takes precedence over other, i.e. whether a
// writer carrying r may overwrite a record currently holding other.
func (r Reason) Outranks(other Reason) bool {
	return r.rank() > other.rank()
}

// Record is a point-in-time snapshot of one combination's health. All fields
// are safe to serialize; the breaker owns the authoritative copy.
type Record struct {
	SuccessCount    int64      `json:"success_count"`
	ErrorCount      int64      `json:"error_count"`
	Status          Status     `json:"status"`
	UnhealthyReason Reason     `json:"unhealthy_reason"`
	CircuitOpen     bool       `json:"circuit_breaker_open"`
	LastUpdated     time.Time  `json:"last_updated"`
	LastFailureAt   *time.Time `json:"last_failure_at,omitempty"`
	LastRateLimited *time.Time `json:"last_rate_limited,omitempty"`
}

// NewRecord returns a healthy zero-valued record.
func NewRecord() Record {
	return Record{Status: StatusHealthy, UnhealthyReason: ReasonNone}
}

// RateLimit is a point-in-time snapshot of one combination's rate-limit
// standing, owned by the rate-limit bookkeeping in the manager.
type RateLimit struct {
	Limited    bool       `json:"rate_limited"`
	ResetAt    *time.Time `json:"reset_time,omitempty"`
	QuotaUsed  int64      `json:"quota_used"`
	QuotaLimit int64      `json:"quota_limit"`
}

// Expired reports whether the rate limit has lapsed as of now. A record
// without a reset time never expires on its own; it must be cleared.
func (rl RateLimit) Expired(now time.Time) bool {
	if !rl.Limited {
		return true
	}
	if rl.ResetAt == nil {
		return false
	}
	return !now.Before(*rl.ResetAt)
}

// Quota is a usage snapshot against a configured allowance.
type Quota struct {
	Used  int64 `json:"used"`
	Limit int64 `json:"limit"`
}

// Percent returns used/limit as a percentage, 0 when the limit is unset.
func (q Quota) Percent() float64 {
	if q.Limit <= 0 {
		return 0
	}
	return float64(q.Used) / float64(q.Limit) * 100
}

// Remaining returns the headroom left under the limit, never negative.
func (q Quota) Remaining() int64 {
	if q.Limit <= 0 {
		return 0
	}
	if q.Used >= q.Limit {
		return 0
	}
	return q.Limit - q.Used
}
