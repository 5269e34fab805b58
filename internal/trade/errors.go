package trade

import (
	"errors"
	"fmt"
)

// ErrUnknownOrder is the sentinel venue adapters wrap when a cancel or
// query names an order the venue has no live record of.
var ErrUnknownOrder = errors.New("unknown order")

// ErrorKind classifies trade failures. Steady-state outcomes (timeouts,
// rejections, partial exits) travel as data on legs and trades, not as
// raised errors.
type ErrorKind string

const (
	ErrValidation     ErrorKind = "VALIDATION"
	ErrVenueRejected  ErrorKind = "VENUE_REJECTED"
	ErrFillTimeout    ErrorKind = "FILL_TIMEOUT"
	ErrChaseExceeded  ErrorKind = "CHASE_LIMIT_EXCEEDED"
	ErrRetryExhausted ErrorKind = "RETRY_EXHAUSTED"
	ErrPartialExit    ErrorKind = "PARTIAL_EXIT_FAILURE"
	ErrTotalExit      ErrorKind = "TOTAL_EXIT_FAILURE"
	ErrAccount        ErrorKind = "ACCOUNT_ERROR"
)

type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`

	cause error
}

func Errf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Message: err.Error(), cause: err}
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// KindOf extracts the classification from an error chain, or "" when
// the error carries none.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}
