package trials

import "errors"

var (
	// ErrInvalidParameter is returned when a generator is called with a
	// non-positive trial count, a probability outside [0,1], or inconsistent
	// distribution options. No generation is attempted.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrGenerationTimeout is returned when stay-time rejection sampling does
	// not produce an acceptable sequence within the attempt budget.
	ErrGenerationTimeout = errors.New("generation did not converge")
)
