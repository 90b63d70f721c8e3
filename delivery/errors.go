package delivery

import "errors"

// Terminal outcomes are surfaced to the client as-is and never retried.
// Transient store failures are wrapped and reach the client as a 500.
var (
	ErrNotFound            = errors.New("delivery: grant not found")
	ErrExpired             = errors.New("delivery: grant expired")
	ErrExhausted           = errors.New("delivery: download limit reached")
	ErrDeleted             = errors.New("delivery: grant deleted")
	ErrRangeNotSatisfiable = errors.New("delivery: range not satisfiable")
)

// Terminal reports whether the error is a final authorization outcome rather
// than a transient failure.
func Terminal(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrExhausted) ||
		errors.Is(err, ErrDeleted)
}
