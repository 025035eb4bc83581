package retry

import (
	"errors"
	"testing"
)

func TestClassifyMessage(t *testing.T) {
	tests := []struct {
		name      string
		message   string
		retryable bool
	}{
		{"server error", "HTTP 500 Internal Server Error", true},
		{"bad gateway", "upstream returned 502 Bad Gateway", true},
		{"service unavailable", "503 Service Unavailable", true},
		{"gateway timeout", "504 Gateway Timeout", true},
		{"rate limit code", "429 Too Many Requests", true},
		{"rate limit phrase", "provider rate limit exceeded", true},
		{"connection refused", "dial tcp: connection refused", true},
		{"econnrefused", "connect ECONNREFUSED 10.0.0.4:443", true},
		{"dns failure", "getaddrinfo ENOTFOUND api.provider.example", true},
		{"timeout", "request timed out after 30s", true},
		{"connection reset", "read: connection reset by peer", true},
		{"socket hang up", "socket hang up", true},
		{"fetch failed", "fetch failed", true},

		{"unauthorized", "HTTP 401 Unauthorized", false},
		{"forbidden", "403 Forbidden", false},
		{"not found", "model not found", false},
		{"bad request", "400 Bad Request", false},
		{"validation", "validation failed: missing field", false},
		{"invalid", "invalid temperature setting", false},

		// Server-error codes outrank client-error words.
		{"mixed signals prefer retry", "500 validation error", true},
		{"unknown defaults to retryable", "something inexplicable happened", true},
		{"empty defaults to retryable", "", true},
		{"case insensitive", "Connection REFUSED", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyMessage(tt.message); got != tt.retryable {
				t.Errorf("ClassifyMessage(%q) = %v, want %v", tt.message, got, tt.retryable)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(nil) {
		t.Error("nil error should default to retryable")
	}
	if IsRetryable(errors.New("HTTP 404 Not Found")) {
		t.Error("404 should be terminal")
	}
	if !IsRetryable(errors.New("network error")) {
		t.Error("network error should be retryable")
	}
}
