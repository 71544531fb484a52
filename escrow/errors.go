package escrow

import "errors"

var (
	// ErrPrecondition is returned when a call is well formed but not legal
	// in the current state: wrong caller, wrong phase, wrong group size or
	// an occupied buyer slot.
	ErrPrecondition = errors.New("escrow: precondition violated")
	// ErrEncoding is returned for malformed arguments or storage slots. It
	// is detected before any state is read.
	ErrEncoding = errors.New("escrow: malformed input")
)
