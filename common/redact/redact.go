// Package redact strips secrets (hook tokens, provider API keys, the Matrix
// access token) from strings before they reach logs or stdout.
//
// Redaction is best-effort and works on string representations only. Keep
// secrets out of log call-sites in the first place.
package redact

import (
	"strings"
)

// Placeholder replaces every redacted value.
const Placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s with
// Placeholder. Values shorter than 4 characters are skipped to avoid
// spurious redaction of common substrings.
//
//	safe := redact.String(err.Error(), accessToken)
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, Placeholder)
	}
	return s
}

// Secret returns Placeholder for a non-empty value and "" otherwise, so an
// unset secret stays visibly unset.
func Secret(v string) string {
	if v == "" {
		return ""
	}
	return Placeholder
}

// Error returns err's message with the sensitive values redacted, or "" for
// a nil error.
func Error(err error, sensitiveValues ...string) string {
	if err == nil {
		return ""
	}
	return String(err.Error(), sensitiveValues...)
}
