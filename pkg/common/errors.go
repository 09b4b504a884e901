package common

import "errors"

// Error taxonomy for the payment core. Callers branch with errors.Is; services
// add context with fmt.Errorf("...: %w", Err...).
var (
	ErrValidation             = errors.New("validation failed")
	ErrNotFound               = errors.New("record not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrImmutableRecord        = errors.New("record is immutable")
	ErrProvider               = errors.New("provider request failed")
	ErrTimeout                = errors.New("provider request timed out")
)
