// Package fault defines the error taxonomy shared by the orchestration
// services. Callers classify failures with errors.Is against the
// sentinels; messages are attached by wrapping at the call site.
package fault

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means a referenced definition, experiment, domain,
	// provider or model does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation means the caller's input is malformed or out of range.
	ErrValidation = errors.New("validation failed")

	// ErrConflict means an equivalent active run already exists or a
	// concurrent aggregate update is in progress.
	ErrConflict = errors.New("conflict")

	// ErrTransient marks a failure worth retrying (network, rate limit,
	// enqueue failure).
	ErrTransient = errors.New("transient failure")

	// ErrTerminal marks a failure that retrying cannot fix.
	ErrTerminal = errors.New("terminal failure")
)

func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}
