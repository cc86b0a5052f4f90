package settlement

import (
	"fmt"
	"time"

	"condicional/backend/internal/domain"
)

// MarkSent advances a shipment from pending to sent and stamps sent_at.
// Any other starting state is an invalid transition; terminal states are
// never re-entered.
func MarkSent(shipment domain.Shipment, now time.Time) (domain.Shipment, error) {
	if shipment.Status != domain.ShipmentStatusPending {
		return shipment, fmt.Errorf("%w: cannot mark %s shipment as sent", ErrInvalidTransition, shipment.Status)
	}

	sentAt := now.UTC()
	updated := shipment
	updated.Status = domain.ShipmentStatusSent
	updated.SentAt = &sentAt
	updated.UpdatedAt = sentAt

	for i := range updated.Lines {
		updated.Lines[i].ItemStatus = domain.ItemStatusSent
	}
	return updated, nil
}

// Resolve selects the terminal outcome for a sent shipment whose lines have
// all been fully allocated by the ledger. Outcome selection, first match wins:
//
//	totalKept == 0          -> returned_no_sale      (returned_at stamped)
//	totalKept == totalSent  -> completed_full_sale   (completed_at stamped)
//	otherwise               -> completed_partial_sale (both stamped)
//
// A batch that leaves any line with pending quantity does not transition:
// the shipment stays sent and the caller gets ErrIncompleteResolution.
func Resolve(shipment domain.Shipment, lines []domain.ShipmentLine, now time.Time) (domain.Shipment, error) {
	if shipment.Terminal() {
		return shipment, fmt.Errorf("%w: shipment %s is %s", ErrAlreadyFinal, shipment.ID, shipment.Status)
	}
	if shipment.Status != domain.ShipmentStatusSent {
		return shipment, fmt.Errorf("%w: cannot resolve %s shipment", ErrInvalidTransition, shipment.Status)
	}

	totalSent := 0
	totalKept := 0
	for _, line := range lines {
		if line.QuantityPending() > 0 {
			return shipment, fmt.Errorf("%w: line %s has %d units pending", ErrIncompleteResolution, line.ID, line.QuantityPending())
		}
		totalSent += line.QuantitySent
		totalKept += line.QuantityKept
	}

	at := now.UTC()
	updated := shipment
	updated.Lines = lines
	updated.UpdatedAt = at

	switch {
	case totalKept == 0:
		updated.Status = domain.ShipmentStatusReturnedNoSale
		updated.ReturnedAt = &at
	case totalKept == totalSent:
		updated.Status = domain.ShipmentStatusCompletedFullSale
		updated.CompletedAt = &at
	default:
		updated.Status = domain.ShipmentStatusCompletedPartialSale
		updated.ReturnedAt = &at
		updated.CompletedAt = &at
	}

	return updated, nil
}
