package validation

import (
	"testing"

	"condicional/backend/internal/domain"
)

func TestSettlementRequestValid(t *testing.T) {
	v := New()

	req := domain.SettlementRequest{
		Resolutions: []domain.LineResolution{
			{LineID: "line-1", QuantityKept: 2, QuantityReturned: 1},
			{LineID: "line-2", QuantityReturned: 3},
		},
	}

	if err := v.Struct(req); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}
}

func TestSettlementRequestEmptyBatch(t *testing.T) {
	v := New()

	if err := v.Struct(domain.SettlementRequest{}); err == nil {
		t.Fatal("expected validation error for empty resolution batch, got nil")
	}
}

func TestSettlementRequestDuplicateLine(t *testing.T) {
	v := New()

	req := domain.SettlementRequest{
		Resolutions: []domain.LineResolution{
			{LineID: "line-1", QuantityKept: 1},
			{LineID: "line-1", QuantityReturned: 1},
		},
	}

	if err := v.Struct(req); err == nil {
		t.Fatal("expected validation error for duplicate line id, got nil")
	}
}

func TestSettlementRequestSaleNeedsTender(t *testing.T) {
	v := New()

	req := domain.SettlementRequest{
		Resolutions: []domain.LineResolution{
			{LineID: "line-1", QuantityKept: 1},
		},
		CreateSale: true,
	}

	if err := v.Struct(req); err == nil {
		t.Fatal("expected validation error for sale without tender, got nil")
	}
}

func TestCheckoutRequestDuplicateSKU(t *testing.T) {
	v := New()

	req := domain.CheckoutRequest{
		Items: []domain.CartItem{
			{SKU: "SKU-1", Quantity: 1},
			{SKU: "SKU-1", Quantity: 2},
		},
		Tender: []domain.PaymentEntry{{Method: "cash", AmountCents: 1000}},
	}

	if err := v.Struct(req); err == nil {
		t.Fatal("expected validation error for duplicate sku, got nil")
	}
}

func TestCheckoutRequestValid(t *testing.T) {
	v := New()

	req := domain.CheckoutRequest{
		Items: []domain.CartItem{
			{SKU: "SKU-1", Quantity: 1},
			{SKU: "SKU-2", Quantity: 2},
		},
		Tender: []domain.PaymentEntry{{Method: "cash", AmountCents: 1000}},
	}

	if err := v.Struct(req); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}
}
