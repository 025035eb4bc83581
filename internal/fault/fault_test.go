package fault

import (
	"errors"
	"fmt"
	"testing"
)

func TestHelpersWrapSentinels(t *testing.T) {
	tests := []struct {
		err      error
		sentinel error
		want     string
	}{
		{NotFound("definition %s", "abc"), ErrNotFound, "not found: definition abc"},
		{Validation("percentage %d out of range", 101), ErrValidation, "validation failed: percentage 101 out of range"},
		{Conflict("run %s already active", "xyz"), ErrConflict, "conflict: run xyz already active"},
	}

	for _, tt := range tests {
		if !errors.Is(tt.err, tt.sentinel) {
			t.Errorf("%v does not match its sentinel", tt.err)
		}
		if tt.err.Error() != tt.want {
			t.Errorf("message %q, want %q", tt.err.Error(), tt.want)
		}
	}
}

func TestSentinelsSurviveFurtherWrapping(t *testing.T) {
	err := fmt.Errorf("launch run: %w", Validation("models list is empty"))
	if !errors.Is(err, ErrValidation) {
		t.Error("wrapped validation error lost its sentinel")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("wrapped validation error matches the wrong sentinel")
	}
}
