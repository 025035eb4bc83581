// Package retry classifies job failures as retryable or terminal.
//
// The ordering of the token tables is a deliberate policy choice: prefer
// retrying unknown failures (availability over false negatives) while
// still failing fast on clearly client-caused errors. Server-error codes
// are checked before validation and auth tokens so a message containing
// both a 5xx code and an unrelated client word still retries.
package retry

import "strings"

var retryableTokens = [][]string{
	// Network-class failures.
	{
		"econnrefused", "connection refused",
		"enotfound", "getaddrinfo",
		"etimedout", "timeout", "timed out",
		"econnreset", "connection reset",
		"socket hang up",
		"network error",
		"fetch failed",
	},
	// Rate limits.
	{"429", "rate limit"},
	// Server errors.
	{"500", "502", "503", "504"},
}

var terminalTokens = [][]string{
	// Validation.
	{"validation", "invalid "},
	// Auth.
	{"401", "unauthorized", "403", "forbidden"},
	// Not found.
	{"404", "not found"},
	// Bad request.
	{"400", "bad request"},
}

// IsRetryable reports whether the failure should be retried. A nil error
// carries no signal and defaults to retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return true
	}
	return ClassifyMessage(err.Error())
}

// ClassifyMessage classifies a rendered failure message. Matching is
// case-insensitive substring, first match wins, retryable tables before
// terminal tables. A message matching nothing defaults to retryable.
func ClassifyMessage(message string) bool {
	msg := strings.ToLower(message)
	for _, group := range retryableTokens {
		if containsAny(msg, group) {
			return true
		}
	}
	for _, group := range terminalTokens {
		if containsAny(msg, group) {
			return false
		}
	}
	return true
}

func containsAny(msg string, tokens []string) bool {
	for _, tok := range tokens {
		if strings.Contains(msg, tok) {
			return true
		}
	}
	return false
}
