package query

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidClause signals a clause that cannot be sent to the backend.
	ErrInvalidClause = errors.New("invalid clause")
	// ErrInvalidSpec signals an invalid group or query spec.
	ErrInvalidSpec = errors.New("invalid spec")
)

// Error wraps ErrInvalidClause or ErrInvalidSpec with the offending field.
type Error struct {
	Err     error
	Field   string
	Message string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
	}
	return fmt.Sprintf("%s: field %q: %s", e.Err.Error(), e.Field, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func clauseErr(field, format string, args ...any) error {
	return &Error{Err: ErrInvalidClause, Field: field, Message: fmt.Sprintf(format, args...)}
}

func specErr(field, format string, args ...any) error {
	return &Error{Err: ErrInvalidSpec, Field: field, Message: fmt.Sprintf(format, args...)}
}
