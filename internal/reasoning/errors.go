package reasoning

import "errors"

var (
	// ErrAlertNotFound is returned by alert transitions for unknown ids.
	ErrAlertNotFound = errors.New("alert not found")

	// ErrInvalidSnapshot is returned by RestoreFindings when ids are out of
	// order or beyond the recorded counter.
	ErrInvalidSnapshot = errors.New("invalid findings snapshot")
)
