package workflow

import (
	"errors"
	"fmt"
)

// ErrNotFound reports a decision or step that does not exist.
var ErrNotFound = errors.New("not found")

// ErrForbidden reports a caller lacking the capability for an operation.
var ErrForbidden = errors.New("forbidden")

// ValidationError reports malformed input; it maps to a 400 at the API
// boundary.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func validationErr(field, msg string) error {
	return &ValidationError{Field: field, Msg: msg}
}

// InvalidOpError reports an operation that is not legal in the decision's
// current state; it maps to a 409 at the API boundary.
type InvalidOpError struct {
	Op     string
	Status string
	Msg    string
}

func (e *InvalidOpError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf("cannot %s a decision in status %s", e.Op, e.Status)
}

func invalidOp(op, status string) error {
	return &InvalidOpError{Op: op, Status: status}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsInvalidOp reports whether err is an InvalidOpError.
func IsInvalidOp(err error) bool {
	var ie *InvalidOpError
	return errors.As(err, &ie)
}
