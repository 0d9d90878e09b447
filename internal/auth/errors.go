package auth

import (
	"errors"
	"strings"
)

// Fixed gate failure values. Their messages are part of the wire contract and
// must not change.
var (
	// ErrUnauthorized means no valid principal could be resolved.
	ErrUnauthorized = errors.New("Unauthorized")
	// ErrNoOrganization means a valid principal has no membership in the
	// target organization and is not a super-admin.
	ErrNoOrganization = errors.New("No organization found")
	// ErrInsufficientPermissions means the membership's custom role lacks a
	// required grant.
	ErrInsufficientPermissions = errors.New("Insufficient permissions")
)

// FieldError is a single field-level validation failure.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError carries structured per-field validation failures from a
// business action. The gate surfaces the joined messages verbatim.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return strings.Join(parts, ", ")
}

// NewValidationError builds a ValidationError from field/message pairs.
func NewValidationError(pairs ...string) *ValidationError {
	e := &ValidationError{}
	for i := 0; i+1 < len(pairs); i += 2 {
		e.Fields = append(e.Fields, FieldError{Field: pairs[i], Message: pairs[i+1]})
	}
	return e
}
