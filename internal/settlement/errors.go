package settlement

import "errors"

// Structural errors surfaced by the engine. All of them are recoverable by
// correcting the input and retrying; none leaves any state mutated.
var (
	ErrInvalidQuantity      = errors.New("invalid quantity")
	ErrOverAllocation       = errors.New("over allocation")
	ErrAlreadyResolved      = errors.New("line already resolved")
	ErrIncompleteResolution = errors.New("incomplete resolution")
	ErrInvalidTransition    = errors.New("invalid transition")
	ErrAlreadyFinal         = errors.New("shipment already final")
	ErrUnknownLine          = errors.New("unknown shipment line")
)
