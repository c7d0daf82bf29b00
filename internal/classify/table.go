// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rotor Contributors

package classify

import (
	"regexp"
	"strings"
)

// rule maps a message pattern to a kind. Rules are evaluated in table order
// and the first match wins, so the order below is part of the contract:
// terminal auth conditions first, then throttling, then transport layers
// from most specific (DNS, TLS) to least (generic network), then local
// filesystem/runtime conditions, then HTTP-ish statuses, then text-shape
// problems. A message matching both "timeout" and "network" classifies as
// timeout.
type rule struct {
	re   *regexp.Regexp
	kind Kind
}

var table = []rule{
	{re: regexp.MustCompile(`(?i)unauthorized|invalid[ _]?api[ _]?key|api key|authentication|auth(entication)? fail|401|invalid credential|credential|token (is )?expired|login required`), kind: KindAuthentication},
	{re: regexp.MustCompile(`(?i)permission denied|insufficient permission|403|forbidden`), kind: KindPermission},
	{re: regexp.MustCompile(`(?i)access (is )?denied|not authorized for`), kind: KindAccessDenied},
	{re: regexp.MustCompile(`(?i)rate[ -]?limit|too many requests|429|throttl`), kind: KindRateLimit},
	{re: regexp.MustCompile(`(?i)quota|usage limit|monthly limit|credit.* exhausted|limit exceeded`), kind: KindQuotaExceeded},
	{re: regexp.MustCompile(`(?i)no such host|dns|name resolution|could not resolve`), kind: KindDNSResolution},
	{re: regexp.MustCompile(`(?i)\bssl\b|\btls\b|certificate|x509|handshake failure`), kind: KindSSLTLS},
	{re: regexp.MustCompile(`(?i)timeout|timed out|deadline exceeded`), kind: KindTimeout},
	{re: regexp.MustCompile(`(?i)connection refused|connection reset|connection closed|network|unreachable|broken pipe|\beof\b`), kind: KindNetwork},
	{re: regexp.MustCompile(`(?i)command not found|executable file not found|not recognized as an? (internal|external) command|missing dependency`), kind: KindMissingDependency},
	{re: regexp.MustCompile(`(?i)no such file|file (does )?not (exist|found)|file not found`), kind: KindFileNotFound},
	{re: regexp.MustCompile(`(?i)no space left|disk (is )?full|out of disk`), kind: KindDiskFull},
	{re: regexp.MustCompile(`(?i)out of memory|cannot allocate memory|\boom\b|memory exhausted`), kind: KindMemoryError},
	{re: regexp.MustCompile(`(?i)not found|404|no such model|unknown model`), kind: KindNotFound},
	{re: regexp.MustCompile(`(?i)internal server error|bad gateway|service unavailable|gateway timeout|server error|overloaded|\b(500|502|503|504|529)\b`), kind: KindServerError},
	{re: regexp.MustCompile(`(?i)bad request|invalid request|\b400\b|malformed request`), kind: KindBadRequest},
	{re: regexp.MustCompile(`(?i)parse error|parsing|unmarshal|unexpected token|invalid json|syntax error|malformed response`), kind: KindParsingError},
	{re: regexp.MustCompile(`(?i)validation|invalid value|invalid argument|must be (a|an|one of|between)`), kind: KindValidationError},
	{re: regexp.MustCompile(`(?i)misconfigur|configuration|config (file|error|invalid)`), kind: KindConfiguration},
	{re: regexp.MustCompile(`(?i)content (policy|filter)|safety (system|filter)|model (is )?(deprecated|retired|not available)`), kind: KindProviderSpecific},
	{re: regexp.MustCompile(`(?i)interrupt|sigint|sigterm|killed|cancell?ed`), kind: KindInterrupted},
	{re: regexp.MustCompile(`(?i)system error|resource temporarily unavailable|too many open files`), kind: KindSystemError},
}

// classifyMessage walks the rule table in order and returns the first match,
// or KindUnknown when nothing matches or the message is blank.
func classifyMessage(msg string) Kind {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		return KindUnknown
	}
	for _, r := range table {
		if r.re.MatchString(msg) {
			return r.kind
		}
	}
	return KindUnknown
}
