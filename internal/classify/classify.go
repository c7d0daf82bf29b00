// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rotor Contributors

// Package classify maps provider errors onto a closed taxonomy of kinds and
// derives the retry policy inputs for each kind: severity, recoverability,
// retry budget, and suggested delay.
package classify

import (
	"time"
)

// Kind is the closed taxonomy of provider error classifications.
type Kind string

const (
	KindTimeout           Kind = "timeout"
	KindNetwork           Kind = "network"
	KindDNSResolution     Kind = "dns_resolution"
	KindSSLTLS            Kind = "ssl_tls"
	KindAuthentication    Kind = "authentication"
	KindPermission        Kind = "permission"
	KindAccessDenied      Kind = "access_denied"
	KindNotFound          Kind = "not_found"
	KindServerError       Kind = "server_error"
	KindBadRequest        Kind = "bad_request"
	KindRateLimit         Kind = "rate_limit"
	KindQuotaExceeded     Kind = "quota_exceeded"
	KindFileNotFound      Kind = "file_not_found"
	KindDiskFull          Kind = "disk_full"
	KindMemoryError       Kind = "memory_error"
	KindConfiguration     Kind = "configuration"
	KindMissingDependency Kind = "missing_dependency"
	KindProviderSpecific  Kind = "provider_specific"
	KindParsingError      Kind = "parsing_error"
	KindValidationError   Kind = "validation_error"
	KindSystemError       Kind = "system_error"
	KindInterrupted       Kind = "interrupted"
	KindUnknown           Kind = "unknown"
)

// Severity grades how urgently a kind needs operator attention.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Result is the tagged classification of one error. Terminal results must
// never be retried; everything else carries a retry budget.
type Result struct {
	Kind     Kind
	Severity Severity
	// Recoverable is true when the retry loop may attempt the same
	// combination again. Terminal is its complement, kept explicit so
	// call sites read as policy rather than double negation.
	Recoverable bool
	Terminal    bool
}

// Classify maps err onto the taxonomy. A nil error yields KindUnknown, as
// does any message no table rule matches.
func Classify(err error) Result {
	kind := KindUnknown
	if err != nil {
		kind = classifyMessage(err.Error())
	}
	return resultFor(kind)
}

// ClassifyMessage is Classify for raw response/stderr text that never became
// an error value.
func ClassifyMessage(msg string) Result {
	return resultFor(classifyMessage(msg))
}

func resultFor(kind Kind) Result {
	recoverable := Recoverable(kind)
	return Result{
		Kind:        kind,
		Severity:    SeverityOf(kind),
		Recoverable: recoverable,
		Terminal:    !recoverable,
	}
}

// SeverityOf grades a kind.
func SeverityOf(kind Kind) Severity {
	switch kind {
	case KindAuthentication, KindPermission, KindAccessDenied,
		KindDiskFull, KindMemoryError, KindConfiguration, KindMissingDependency:
		return SeverityCritical
	case KindRateLimit, KindQuotaExceeded, KindServerError, KindSSLTLS:
		return SeverityHigh
	case KindTimeout, KindNetwork, KindDNSResolution, KindProviderSpecific,
		KindSystemError, KindInterrupted, KindUnknown:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Recoverable reports whether the retry loop may re-attempt after this kind.
// Terminal kinds (auth, permission, access denied, bad request, plus local
// defects that retrying cannot fix) get zero retries.
func Recoverable(kind Kind) bool {
	switch kind {
	case KindAuthentication, KindPermission, KindAccessDenied, KindBadRequest,
		KindConfiguration, KindMissingDependency, KindValidationError,
		KindInterrupted:
		return false
	default:
		return true
	}
}

// MaxRetries returns the per-kind retry budget for a single combination.
func MaxRetries(kind Kind) int {
	switch kind {
	case KindTimeout, KindNetwork, KindServerError:
		return 3
	case KindUnknown:
		// Conservative default: with the initial attempt this lines up
		// with the breaker's five-failure threshold.
		return 4
	case KindDNSResolution, KindRateLimit, KindQuotaExceeded,
		KindProviderSpecific:
		return 2
	case KindSSLTLS, KindNotFound, KindFileNotFound, KindDiskFull,
		KindMemoryError, KindParsingError, KindSystemError:
		return 1
	default:
		return 0
	}
}

// RetryDelay returns the classifier's suggested wait before retry attempt
// (zero-based). Timeouts back off exponentially from a 5s base; rate limits
// wait a fixed 60s; terminal kinds wait nothing because they never retry.
func RetryDelay(kind Kind, attempt int) time.Duration {
	if !Recoverable(kind) {
		return 0
	}
	switch kind {
	case KindRateLimit, KindQuotaExceeded:
		return 60 * time.Second
	case KindTimeout:
		return capDelay(5*time.Second*(1<<attempt), 5*time.Minute)
	case KindNetwork, KindDNSResolution, KindSSLTLS:
		return capDelay(2*time.Second*(1<<attempt), 2*time.Minute)
	case KindServerError:
		return capDelay(3*time.Second*(1<<attempt), 3*time.Minute)
	default:
		return capDelay(1*time.Second*(1<<attempt), time.Minute)
	}
}

func capDelay(d, max time.Duration) time.Duration {
	if d > max || d < 0 {
		return max
	}
	return d
}

// Suggestions returns static operator guidance for a kind. Display only;
// nothing routes on this text.
func Suggestions(kind Kind) []string {
	switch kind {
	case KindAuthentication:
		return []string{
			"verify the provider API key or login session is valid",
			"re-authenticate with the provider CLI or refresh the token",
		}
	case KindPermission, KindAccessDenied:
		return []string{"check account entitlements for the requested model"}
	case KindRateLimit:
		return []string{
			"wait for the rate-limit window to reset",
			"lower request concurrency or rotate to another provider",
		}
	case KindQuotaExceeded:
		return []string{"raise the provider quota or rotate to a provider with headroom"}
	case KindTimeout:
		return []string{"increase the per-model timeout or try a faster model"}
	case KindNetwork, KindDNSResolution:
		return []string{"check connectivity and proxy settings"}
	case KindSSLTLS:
		return []string{"check system certificates and clock skew"}
	case KindConfiguration:
		return []string{"fix the provider entry in the rotor configuration"}
	case KindMissingDependency:
		return []string{"install the provider executable and ensure it is on PATH"}
	case KindDiskFull:
		return []string{"free disk space on the harness host"}
	case KindMemoryError:
		return []string{"reduce concurrent work or add memory"}
	default:
		return nil
	}
}
