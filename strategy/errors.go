package strategy

import (
	"errors"
	"fmt"
)

// ArgumentError reports invalid caller input. It is always raised
// before any quote or chain read, so callers can treat it as a
// programming error rather than a transient failure.
type ArgumentError struct {
	Reason string
}

func (e *ArgumentError) Error() string {
	return "invalid argument: " + e.Reason
}

func argErrorf(format string, args ...interface{}) error {
	return &ArgumentError{Reason: fmt.Sprintf(format, args...)}
}

// QuoteError wraps a swap collaborator failure, including the no-route
// case (unwrap to swap.ErrNoRoute to distinguish it).
type QuoteError struct {
	Err error
}

func (e *QuoteError) Error() string {
	return "quote: " + e.Err.Error()
}

func (e *QuoteError) Unwrap() error {
	return e.Err
}

// ProtocolError wraps a failed lending-protocol read.
type ProtocolError struct {
	Err error
}

func (e *ProtocolError) Error() string {
	return "protocol read: " + e.Err.Error()
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// SimulationError wraps a simulator invariant violation such as
// simulate.ErrBelowDust or simulate.ErrExceedsMaxLTV.
type SimulationError struct {
	Err error
}

func (e *SimulationError) Error() string {
	return "simulation: " + e.Err.Error()
}

func (e *SimulationError) Unwrap() error {
	return e.Err
}

// UnsupportedError names a protocol, token or lender combination the
// builder cannot serve.
type UnsupportedError struct {
	Combination string
}

func (e *UnsupportedError) Error() string {
	return "unsupported combination: " + e.Combination
}

// errClass maps an error to its metrics label. Empty means success.
func errClass(err error) string {
	if err == nil {
		return ""
	}
	var (
		argErr   *ArgumentError
		quoteErr *QuoteError
		protoErr *ProtocolError
		simErr   *SimulationError
		unsErr   *UnsupportedError
	)
	switch {
	case errors.As(err, &argErr):
		return "argument"
	case errors.As(err, &quoteErr):
		return "quote"
	case errors.As(err, &protoErr):
		return "protocol"
	case errors.As(err, &simErr):
		return "simulation"
	case errors.As(err, &unsErr):
		return "unsupported"
	default:
		return "internal"
	}
}
