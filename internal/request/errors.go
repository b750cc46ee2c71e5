package request

import "fmt"

// Error is a structured rejection carrying an HTTP-style status code and a
// machine-stable reason string. The reason is both the ledger failure reason
// and the error body returned to the caller.
type Error struct {
	Status int
	Reason string
}

func (e *Error) Error() string {
	return e.Reason
}

// NewError builds a rejection with the given status code.
func NewError(status int, format string, args ...any) *Error {
	return &Error{Status: status, Reason: fmt.Sprintf(format, args...)}
}
