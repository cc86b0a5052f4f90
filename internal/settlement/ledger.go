package settlement

import (
	"fmt"

	"condicional/backend/internal/domain"
)

// ApplyResolution records a client-reported disposition on one shipment line
// and returns the updated line. It is a pure function: the input line is
// never mutated and the only effect is the returned value.
//
// Quantities in the resolution are absolute, not incremental: a later
// resolution on a still-open line replaces the earlier one. Once a line is
// terminal, re-submitting the identical resolution is accepted as a no-op
// (safe retry after a failed persist); any different resolution is rejected.
func ApplyResolution(line domain.ShipmentLine, res domain.LineResolution) (domain.ShipmentLine, error) {
	if res.QuantityKept < 0 || res.QuantityReturned < 0 {
		return line, fmt.Errorf("%w: line %s: kept=%d returned=%d", ErrInvalidQuantity, line.ID, res.QuantityKept, res.QuantityReturned)
	}
	if res.QuantityKept+res.QuantityReturned > line.QuantitySent {
		return line, fmt.Errorf("%w: line %s: kept=%d returned=%d exceeds sent=%d",
			ErrOverAllocation, line.ID, res.QuantityKept, res.QuantityReturned, line.QuantitySent)
	}

	status, err := resolutionStatus(line, res)
	if err != nil {
		return line, err
	}

	if line.Resolved() {
		if res.QuantityKept == line.QuantityKept && res.QuantityReturned == line.QuantityReturned && status == line.ItemStatus {
			return line, nil
		}
		return line, fmt.Errorf("%w: line %s is %s", ErrAlreadyResolved, line.ID, line.ItemStatus)
	}

	updated := line
	updated.QuantityKept = res.QuantityKept
	updated.QuantityReturned = res.QuantityReturned
	updated.ItemStatus = status
	return updated, nil
}

// resolutionStatus validates the requested item status against the
// quantities and derives one when the client did not choose.
func resolutionStatus(line domain.ShipmentLine, res domain.LineResolution) (string, error) {
	pending := line.QuantitySent - res.QuantityKept - res.QuantityReturned

	switch res.ItemStatus {
	case domain.ItemStatusDamaged, domain.ItemStatusLost:
		// Write-off: the entire sent quantity is non-recoverable. Nothing may
		// be kept and the full quantity lands in the returned (no charge) bucket.
		if res.QuantityKept != 0 || res.QuantityReturned != line.QuantitySent {
			return "", fmt.Errorf("%w: line %s: %s lines must account the full sent quantity as not kept",
				ErrInvalidQuantity, line.ID, res.ItemStatus)
		}
		return res.ItemStatus, nil
	case domain.ItemStatusKept:
		if res.QuantityKept == 0 {
			return "", fmt.Errorf("%w: line %s: kept status with zero kept quantity", ErrInvalidQuantity, line.ID)
		}
	case domain.ItemStatusReturned:
		if res.QuantityKept != 0 || res.QuantityReturned == 0 {
			return "", fmt.Errorf("%w: line %s: returned status with kept quantity", ErrInvalidQuantity, line.ID)
		}
	case domain.ItemStatusSent, "":
		// Derived below.
	default:
		return "", fmt.Errorf("%w: line %s: unknown item status %q", ErrInvalidQuantity, line.ID, res.ItemStatus)
	}

	if pending > 0 {
		return domain.ItemStatusSent, nil
	}
	if res.QuantityKept > 0 {
		return domain.ItemStatusKept, nil
	}
	return domain.ItemStatusReturned, nil
}
