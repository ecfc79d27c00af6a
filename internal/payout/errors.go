package payout

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for callers and HTTP mapping.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindExternal
	KindPersistence
	// KindIndeterminate: the processor outcome is not known (timeout).
	KindIndeterminate
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindExternal:
		return "external"
	case KindPersistence:
		return "persistence"
	case KindIndeterminate:
		return "indeterminate"
	default:
		return "unknown"
	}
}

// Error carries a Kind, the failing operation, a message safe to show to
// buyers and the internal cause.
type Error struct {
	Kind   Kind
	Op     string
	Public string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Public, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Public)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op, public string, err error) *Error {
	return &Error{Kind: kind, Op: op, Public: public, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// PublicMessage returns the buyer-safe message for err.
func PublicMessage(err error) string {
	var pe *Error
	if errors.As(err, &pe) && pe.Public != "" {
		return pe.Public
	}
	return "internal error"
}
