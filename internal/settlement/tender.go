package settlement

import (
	"fmt"

	"condicional/backend/internal/domain"
)

// Payment methods accepted by both ordinary checkout and
// settlement-triggered sales.
const (
	MethodCash          = "cash"
	MethodCreditCard    = "credit_card"
	MethodDebitCard     = "debit_card"
	MethodPix           = "pix"
	MethodBankTransfer  = "bank_transfer"
	MethodInstallments  = "installments"
	MethodLoyaltyPoints = "loyalty_points"
)

var supportedMethods = map[string]bool{
	MethodCash:          true,
	MethodCreditCard:    true,
	MethodDebitCard:     true,
	MethodPix:           true,
	MethodBankTransfer:  true,
	MethodInstallments:  true,
	MethodLoyaltyPoints: true,
}

func IsSupportedMethod(method string) bool {
	return supportedMethods[method]
}

// ValidateTender checks a proposed set of payments against a monetary total.
// Problems are accumulated, not fail-fast, so a caller can present every
// issue in one pass. Overpayment is accepted (cash with change); computing
// the change due is a presentation concern, not a validation failure.
func ValidateTender(tender domain.PaymentTender, totalCents int64) domain.TenderValidation {
	result := domain.TenderValidation{}

	if len(tender) == 0 {
		result.Errors = append(result.Errors, "tender is empty")
	}
	for i, entry := range tender {
		if !supportedMethods[entry.Method] {
			result.Errors = append(result.Errors, fmt.Sprintf("entry %d: unsupported payment method %q", i+1, entry.Method))
		}
		if entry.AmountCents <= 0 {
			result.Errors = append(result.Errors, fmt.Sprintf("entry %d: amount must be positive, got %d", i+1, entry.AmountCents))
		}
	}

	if paid := tender.TotalCents(); paid < totalCents {
		result.ShortfallCents = totalCents - paid
		result.Errors = append(result.Errors, fmt.Sprintf("insufficient funds: short %d cents of %d", result.ShortfallCents, totalCents))
	}

	result.Valid = len(result.Errors) == 0
	return result
}
