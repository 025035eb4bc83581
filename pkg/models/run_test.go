package models

import "testing"

func TestModelFingerprint(t *testing.T) {
	tests := []struct {
		name     string
		models   []string
		expected string
	}{
		{
			name:     "sorted and joined",
			models:   []string{"gpt-x", "claude-y"},
			expected: "claude-y,gpt-x",
		},
		{
			name:     "order independent",
			models:   []string{"claude-y", "gpt-x"},
			expected: "claude-y,gpt-x",
		},
		{
			name:     "case insensitive",
			models:   []string{"GPT-X", "Claude-Y"},
			expected: "claude-y,gpt-x",
		},
		{
			name:     "whitespace trimmed",
			models:   []string{" gpt-x ", "claude-y"},
			expected: "claude-y,gpt-x",
		},
		{
			name:     "single model",
			models:   []string{"gpt-x"},
			expected: "gpt-x",
		},
		{
			name:     "empty set",
			models:   nil,
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ModelFingerprint(tt.models); got != tt.expected {
				t.Errorf("ModelFingerprint(%v) = %q, want %q", tt.models, got, tt.expected)
			}
		})
	}
}

func TestValidPriority(t *testing.T) {
	for _, p := range []string{PriorityLow, PriorityNormal, PriorityHigh} {
		if !ValidPriority(p) {
			t.Errorf("ValidPriority(%q) = false", p)
		}
	}
	for _, p := range []string{"", "urgent", "NORMAL"} {
		if ValidPriority(p) {
			t.Errorf("ValidPriority(%q) = true", p)
		}
	}
}
