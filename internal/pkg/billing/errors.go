package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrPlanRecommended blocks deleting the recommended plan.
	ErrPlanRecommended = errors.New("cannot delete the recommended plan; mark another plan as recommended first")
	// ErrInitiationDisabled is returned in stk mode when no payment initiator is configured.
	ErrInitiationDisabled = errors.New("automated payment initiation is not configured")
	// ErrInitiationFailed wraps provider errors from a payment push.
	ErrInitiationFailed = errors.New("payment initiation failed")
)

// ValidationError carries a message that is safe to show to the caller.
// Nothing has been written when it is returned.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// IsValidationError reports whether err is or wraps a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
