package strategy

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAction      = errors.New("strategy: invalid action")
	ErrInvalidCondition   = errors.New("strategy: invalid condition")
	ErrInvalidCadence     = errors.New("strategy: invalid cadence")
	ErrTreeTooDeep        = errors.New("strategy: action tree exceeds depth limit")
	ErrTreeTooLarge       = errors.New("strategy: action tree exceeds size limit")
	ErrStrategyNotFound   = errors.New("strategy: not found")
	ErrUnauthorized       = errors.New("strategy: unauthorized")
	ErrNotActive          = errors.New("strategy: not active")
	ErrInvalidTransition  = errors.New("strategy: invalid status transition")
	ErrEscrowedWithdrawal = errors.New("strategy: denom is escrowed by an in-flight action")
	ErrCallbackNotFound   = errors.New("strategy: no pending callback")
	ErrNilStore           = errors.New("strategy: store not configured")
)

// unmetError is the recoverable "condition not met" failure. Its text is the
// human-readable reason surfaced verbatim in skip events. Everything else
// returned by a check is a query failure and aborts the invocation.
type unmetError struct {
	reason string
}

func (e unmetError) Error() string { return e.reason }

// Unmetf builds a recoverable condition failure from a reason string.
func Unmetf(format string, args ...any) error {
	return unmetError{reason: fmt.Sprintf(format, args...)}
}

// IsUnmet reports whether err is a recoverable condition failure rather than
// a query or configuration error.
func IsUnmet(err error) bool {
	var unmet unmetError
	return errors.As(err, &unmet)
}
