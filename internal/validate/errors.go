package validate

import (
	"errors"
	"fmt"
)

// ValidationError identifies the first field of a candidate document that
// violates the schema.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid document: " + e.Reason
	}
	return fmt.Sprintf("invalid document: %s: %s", e.Field, e.Reason)
}

func fieldErr(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// AsValidationError unwraps err into a *ValidationError if it is one.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}
