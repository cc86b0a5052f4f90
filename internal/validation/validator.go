package validation

import (
	validatorv10 "github.com/go-playground/validator/v10"

	"condicional/backend/internal/domain"
)

// New returns a configured validator with struct-level rules registered for
// the request shapes that need cross-field checks.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	v.RegisterStructValidation(settlementRequestValidation, domain.SettlementRequest{})
	v.RegisterStructValidation(checkoutRequestValidation, domain.CheckoutRequest{})

	return v
}

// settlementRequestValidation catches structurally broken settlement calls
// before they reach the engine: an empty batch, duplicate line targets, or
// plainly negative quantities.
func settlementRequestValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(domain.SettlementRequest)

	if len(req.Resolutions) == 0 {
		sl.ReportError(req.Resolutions, "resolutions", "Resolutions", "min", "1")
		return
	}

	seen := make(map[string]struct{}, len(req.Resolutions))
	for _, res := range req.Resolutions {
		if res.LineID == "" {
			sl.ReportError(res.LineID, "resolutions", "Resolutions", "line_id_required", "")
			continue
		}
		if _, dup := seen[res.LineID]; dup {
			sl.ReportError(res.LineID, "resolutions", "Resolutions", "duplicate_line_id", res.LineID)
		}
		seen[res.LineID] = struct{}{}

		if res.QuantityKept < 0 || res.QuantityReturned < 0 {
			sl.ReportError(res.LineID, "resolutions", "Resolutions", "negative_quantity", res.LineID)
		}
	}

	if req.CreateSale && len(req.Tender) == 0 {
		sl.ReportError(req.Tender, "tender", "Tender", "tender_required_for_sale", "")
	}
}

// checkoutRequestValidation rejects carts that repeat a SKU; quantity
// adjustments belong on the existing item, not on a second entry, and
// collapsing them silently would hide client bugs.
func checkoutRequestValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(domain.CheckoutRequest)

	seen := make(map[string]struct{}, len(req.Items))
	for _, item := range req.Items {
		if _, dup := seen[item.SKU]; dup {
			sl.ReportError(item.SKU, "items", "Items", "duplicate_sku", item.SKU)
		}
		seen[item.SKU] = struct{}{}
	}
}

// FieldErrors flattens a validator error into a field->message map suitable
// for a JSON error response.
func FieldErrors(err error) map[string]string {
	out := map[string]string{}
	if ve, ok := err.(validatorv10.ValidationErrors); ok {
		for _, fe := range ve {
			out[fe.StructNamespace()] = fe.Error()
		}
	} else if err != nil {
		out["error"] = err.Error()
	}
	return out
}
