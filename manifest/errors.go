package manifest

import (
	"errors"
	"fmt"
)

// Validation failure kinds. A *ValidationError unwraps to exactly one of
// these, so callers can match with errors.Is.
var (
	ErrMalformedSchema      = errors.New("malformed manifest")
	ErrUnknownPermissionKey = errors.New("unknown permission key")
	ErrDuplicateToolName    = errors.New("duplicate tool name")
	ErrMissingRequiredField = errors.New("missing required field")
)

// ValidationError reports why a manifest was rejected. Field is a dotted
// path into the document, e.g. "permissions.filesystem[1].access".
type ValidationError struct {
	Kind   error
	Field  string
	Detail string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	switch {
	case e.Field != "" && e.Detail != "":
		return fmt.Sprintf("%v: %s: %s", e.Kind, e.Field, e.Detail)
	case e.Field != "":
		return fmt.Sprintf("%v: %s", e.Kind, e.Field)
	case e.Detail != "":
		return fmt.Sprintf("%v: %s", e.Kind, e.Detail)
	}
	return e.Kind.Error()
}

// Unwrap returns the failure kind.
func (e *ValidationError) Unwrap() error {
	return e.Kind
}

func malformed(field, format string, args ...any) *ValidationError {
	return &ValidationError{Kind: ErrMalformedSchema, Field: field, Detail: fmt.Sprintf(format, args...)}
}

func missing(field string) *ValidationError {
	return &ValidationError{Kind: ErrMissingRequiredField, Field: field}
}
