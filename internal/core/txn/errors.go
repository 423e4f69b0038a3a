package txn

import (
	"errors"

	"github.com/samber/oops"
)

// FatalError marks an error that must abort the surrounding transaction
// instead of being logged and swallowed by trigger dispatch.
type FatalError struct {
	msg string
}

func (e *FatalError) Error() string { return e.msg }

// NewFatal returns a sentinel that IsFatal recognises through any wrapping.
func NewFatal(msg string) error {
	return &FatalError{msg: msg}
}

var (
	// ErrInvariant reports a broken structural invariant. Always fatal.
	ErrInvariant = NewFatal("structural invariant violation")

	ErrTooManyRetries  = errors.New("transaction retry limit exceeded")
	ErrNestedExclusive = errors.New("exclusive transaction requested from inside a transaction")
)

func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}

// Invariant wraps ErrInvariant with context.
func Invariant(format string, args ...any) error {
	return oops.In("txn").Wrapf(ErrInvariant, format, args...)
}

// conflict is the panic value used to unwind a transaction body after a
// stale read. Manager catches it and reruns the body.
type conflict struct{}

// IsConflict reports whether a recovered panic value is the retry signal.
// Code that recovers panics inside a transaction body must re-panic it.
func IsConflict(r any) bool {
	_, ok := r.(conflict)
	return ok
}
