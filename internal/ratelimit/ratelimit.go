// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rotor Contributors

// Package ratelimit inspects provider responses and errors for throttling or
// quota exhaustion and extracts any reset hint the provider supplied.
package ratelimit

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotor-dev/rotor/internal/classify"
)

// DefaultResetWindow is the wait applied when a provider signals a rate
// limit without telling us when it resets.
const DefaultResetWindow = 1800 * time.Second

// Detection is the outcome of inspecting one response/error pair.
type Detection struct {
	Limited bool
	// Kind is KindRateLimit for throttling phrasing, KindQuotaExceeded for
	// quota phrasing, empty when not limited.
	Kind classify.Kind
	// ResetAt is the absolute reset time when one could be derived.
	ResetAt *time.Time
	// RetryAfter is the relative wait when the provider phrased it that way.
	RetryAfter time.Duration
}

// ResetOrDefault returns the absolute time to wait until, falling back to
// now+DefaultResetWindow when the provider gave no hint.
func (d Detection) ResetOrDefault(now time.Time) time.Time {
	if d.ResetAt != nil {
		return *d.ResetAt
	}
	if d.RetryAfter > 0 {
		return now.Add(d.RetryAfter)
	}
	return now.Add(DefaultResetWindow)
}

// Detector holds the detection configuration.
type Detector struct {
	nowFunc func() time.Time
}

// New creates a Detector.
func New() *Detector {
	return &Detector{nowFunc: time.Now}
}

// SetNowFunc overrides the time source (for testing).
func (d *Detector) SetNowFunc(fn func() time.Time) {
	d.nowFunc = fn
}

var (
	quotaRe = regexp.MustCompile(`(?i)quota|usage limit|monthly limit|credit.* exhausted|allowance`)
	limitRe = regexp.MustCompile(`(?i)rate[ -]?limit|too many requests|429|throttl|slow down`)

	retryAfterSecondsRe = regexp.MustCompile(`(?i)retry[- ]after[:\s]+(\d+)`)
	tryAgainRe          = regexp.MustCompile(`(?i)(?:try again|retry) in (\d+)\s*(seconds?|secs?|minutes?|mins?|hours?|hrs?|s|m|h)\b`)
	resetEpochRe        = regexp.MustCompile(`(?i)reset[s]?(?:[ _]at|[ _]time)?[:\s]+(\d{9,11})\b`)
	resetRFC3339Re      = regexp.MustCompile(`(?i)reset[s]?(?: at)?[:\s]+(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}(?:Z|[+-]\d{2}:\d{2}))`)
)

// Detect inspects a raw response body and/or an error for rate-limit
// phrasing. Either input may be empty/nil. Quota phrasing takes precedence
// over generic throttling phrasing because quota exhaustion implies the
// longer wait.
func (d *Detector) Detect(response string, err error) Detection {
	msg := response
	if err != nil {
		if msg != "" {
			msg += "\n"
		}
		msg += err.Error()
	}
	if strings.TrimSpace(msg) == "" {
		return Detection{}
	}

	var kind classify.Kind
	switch {
	case quotaRe.MatchString(msg):
		kind = classify.KindQuotaExceeded
	case limitRe.MatchString(msg):
		kind = classify.KindRateLimit
	default:
		return Detection{}
	}

	det := Detection{Limited: true, Kind: kind}
	det.RetryAfter = parseRetryAfter(msg)
	det.ResetAt = d.parseResetAt(msg)
	if det.ResetAt == nil && det.RetryAfter > 0 {
		at := d.nowFunc().Add(det.RetryAfter)
		det.ResetAt = &at
	}
	return det
}

func parseRetryAfter(msg string) time.Duration {
	if m := retryAfterSecondsRe.FindStringSubmatch(msg); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	if m := tryAgainRe.FindStringSubmatch(msg); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0
		}
		unit := strings.ToLower(m[2])
		switch {
		case strings.HasPrefix(unit, "h"):
			return time.Duration(n) * time.Hour
		case strings.HasPrefix(unit, "m"):
			return time.Duration(n) * time.Minute
		default:
			return time.Duration(n) * time.Second
		}
	}
	return 0
}

func (d *Detector) parseResetAt(msg string) *time.Time {
	if m := resetRFC3339Re.FindStringSubmatch(msg); m != nil {
		if ts, err := time.Parse(time.RFC3339, m[1]); err == nil {
			return &ts
		}
	}
	if m := resetEpochRe.FindStringSubmatch(msg); m != nil {
		if n, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			ts := time.Unix(n, 0)
			// Reject epochs that are obviously in the past; a stale or
			// misparsed value would make the caller skip waiting entirely.
			if ts.After(d.nowFunc()) {
				return &ts
			}
		}
	}
	return nil
}
