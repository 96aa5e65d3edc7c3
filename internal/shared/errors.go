package shared

import (
	"errors"
	"fmt"
)

// Error codes returned inside structured operation errors.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeRoleNotFound      = "ROLE_NOT_FOUND"
	CodeRoleAlreadyExists = "ROLE_ALREADY_EXISTS"
	CodeInvalidRoleData   = "INVALID_ROLE_DATA"
	CodePermissionDenied  = "PERMISSION_ERROR"
	CodeWorkflow          = "WORKFLOW_ERROR"
	CodeSchemaNotFound    = "SCHEMA_NOT_FOUND"
	CodeInternal          = "INTERNAL_ERROR"
)

// Error is the structured error carried across service boundaries. Every
// recoverable failure surfaces as one of these; only unexpected conditions
// (storage corruption and the like) escalate as plain wrapped errors.
type Error struct {
	Code       string
	Message    string
	Field      string
	Suggestion string
	Details    map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds a structured error.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// FieldError builds a validation error bound to a field.
func FieldError(field, message string) *Error {
	return &Error{Code: CodeValidation, Message: message, Field: field}
}

// CodeOf extracts the structured code from err, or CodeInternal when the
// error is not a structured one.
func CodeOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given structured code.
func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}
