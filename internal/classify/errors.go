package classify

import (
	"errors"
	"fmt"
)

// Kind tags a classification failure so callers can branch on the class
// of error without matching message strings.
type Kind string

const (
	// KindValidation covers malformed response bodies and schema
	// violations. Model output is probabilistically well-formed, so
	// these are retried like transport errors.
	KindValidation Kind = "validation"

	// KindTransient covers transport and API failures.
	KindTransient Kind = "transient"

	// KindExhausted marks a terminal failure after the retry budget.
	KindExhausted Kind = "exhausted"
)

// Error is a typed classification failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("classify: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the outermost classify.Error in err's chain,
// or "" if there is none.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

func validationError(op string, err error) *Error {
	return &Error{Kind: KindValidation, Op: op, Err: err}
}

func transientError(op string, err error) *Error {
	return &Error{Kind: KindTransient, Op: op, Err: err}
}
