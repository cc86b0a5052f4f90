package settlement

import (
	"fmt"
	"time"

	"condicional/backend/internal/domain"
)

// Settle runs one settlement attempt over a materialized shipment copy:
// ledger pass, state machine resolution, and, when requested, tender
// validation for the resulting sale. It is pure; persisting the returned
// shipment is the caller's job.
//
// The ledger pass is atomic all-or-nothing: the first per-line error aborts
// the whole batch and the returned shipment is the untouched input. A tender
// failure happens after the resolution committed, so the resolved shipment
// is returned together with the tender errors and the caller retries sale
// creation separately.
func Settle(shipment domain.Shipment, req domain.SettlementRequest, now time.Time) (domain.Shipment, domain.SettlementOutcome, error) {
	if shipment.Terminal() {
		return shipment, domain.SettlementOutcome{}, fmt.Errorf("%w: shipment %s is %s", ErrAlreadyFinal, shipment.ID, shipment.Status)
	}

	lines := make([]domain.ShipmentLine, len(shipment.Lines))
	copy(lines, shipment.Lines)

	index := make(map[string]int, len(lines))
	for i, line := range lines {
		index[line.ID] = i
	}

	seen := make(map[string]bool, len(req.Resolutions))
	for _, res := range req.Resolutions {
		i, ok := index[res.LineID]
		if !ok {
			return shipment, domain.SettlementOutcome{}, fmt.Errorf("%w: %s", ErrUnknownLine, res.LineID)
		}
		if seen[res.LineID] {
			return shipment, domain.SettlementOutcome{}, fmt.Errorf("%w: duplicate resolution for line %s", ErrInvalidQuantity, res.LineID)
		}
		seen[res.LineID] = true

		updated, err := ApplyResolution(lines[i], res)
		if err != nil {
			return shipment, domain.SettlementOutcome{}, err
		}
		lines[i] = updated
	}

	resolved, err := Resolve(shipment, lines, now)
	if err != nil {
		return shipment, domain.SettlementOutcome{}, err
	}

	outcome := domain.SettlementOutcome{
		Status:         resolved.Status,
		Lines:          resolved.Lines,
		ReturnedAt:     resolved.ReturnedAt,
		CompletedAt:    resolved.CompletedAt,
		KeptValueCents: resolved.TotalValueKeptCents(),
	}

	if !req.CreateSale || resolved.Status == domain.ShipmentStatusReturnedNoSale {
		return resolved, outcome, nil
	}

	tenderResult := ValidateTender(req.Tender, outcome.KeptValueCents)
	outcome.TenderResult = &tenderResult
	if !tenderResult.Valid {
		return resolved, outcome, nil
	}

	items := make([]domain.SaleItem, 0, len(resolved.Lines))
	for _, line := range resolved.Lines {
		if line.QuantityKept == 0 {
			continue
		}
		items = append(items, domain.SaleItem{
			SKU:            line.SKU,
			Quantity:       line.QuantityKept,
			UnitPriceCents: line.UnitPriceCents,
		})
	}

	outcome.SaleRequest = &domain.SaleRequest{
		ShipmentID:     resolved.ID,
		CustomerID:     resolved.CustomerID,
		Items:          items,
		TotalCents:     outcome.KeptValueCents,
		Tender:         req.Tender,
		IdempotencyKey: req.IdempotencyKey,
	}
	return resolved, outcome, nil
}
