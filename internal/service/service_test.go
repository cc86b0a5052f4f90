package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"condicional/backend/internal/cache"
	"condicional/backend/internal/domain"
	"condicional/backend/internal/settlement"
	"condicional/backend/internal/store"
	"condicional/backend/internal/store/memory"
)

func newTestService() *Service {
	repo := memory.NewSeeded()
	return New(repo, cache.NoopProductCache{}, "main-store", 7, 5*time.Minute)
}

func sellerContext() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "seller", Role: "seller"})
}

func createSentShipment(t *testing.T, svc *Service) domain.ShipmentView {
	t.Helper()
	ctx := sellerContext()

	created, err := svc.CreateShipment(ctx, domain.ShipmentCreateRequest{
		CustomerID: "cust-ana",
		Lines: []domain.ShipmentLineInput{
			{SKU: "SKU-VEST-01", Quantity: 2},
			{SKU: "SKU-CAM-01", Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("create shipment failed: %v", err)
	}

	sent, err := svc.MarkShipmentSent(ctx, created.Shipment.ID)
	if err != nil {
		t.Fatalf("mark sent failed: %v", err)
	}
	return sent
}

func TestCreateShipmentSnapshotsPrices(t *testing.T) {
	svc := newTestService()

	view, err := svc.CreateShipment(sellerContext(), domain.ShipmentCreateRequest{
		CustomerID: "cust-ana",
		Lines: []domain.ShipmentLineInput{
			{SKU: "SKU-VEST-01", Quantity: 2},
		},
	})
	if err != nil {
		t.Fatalf("create shipment failed: %v", err)
	}

	if view.Shipment.Status != domain.ShipmentStatusPending {
		t.Fatalf("expected pending shipment, got %s", view.Shipment.Status)
	}
	line := view.Shipment.Lines[0]
	if line.UnitPriceCents != 12900 || line.ProductName == "" {
		t.Fatalf("expected price and name snapshot, got %+v", line)
	}
	if view.Deadline.HasDeadline {
		t.Fatalf("pending shipment must not have a deadline yet")
	}
}

func TestCreateShipmentUnknownCustomer(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateShipment(sellerContext(), domain.ShipmentCreateRequest{
		CustomerID: "cust-missing",
		Lines: []domain.ShipmentLineInput{
			{SKU: "SKU-VEST-01", Quantity: 1},
		},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown customer, got %v", err)
	}
}

func TestMarkSentReservesStockAndStartsDeadline(t *testing.T) {
	svc := newTestService()
	sent := createSentShipment(t, svc)

	if sent.Shipment.Status != domain.ShipmentStatusSent {
		t.Fatalf("expected sent status, got %s", sent.Shipment.Status)
	}
	if !sent.Deadline.HasDeadline || sent.Deadline.Overdue {
		t.Fatalf("expected future deadline, got %+v", sent.Deadline)
	}
	if sent.Deadline.DaysRemaining != 7 {
		t.Fatalf("expected 7 days remaining with default window, got %d", sent.Deadline.DaysRemaining)
	}

	products, err := svc.repo.GetProductsBySKUs(context.Background(), []string{"SKU-VEST-01", "SKU-CAM-01"})
	if err != nil {
		t.Fatalf("products lookup failed: %v", err)
	}
	if products["SKU-VEST-01"].Stock != 16 {
		t.Fatalf("expected stock 16 after reserving 2, got %d", products["SKU-VEST-01"].Stock)
	}
	if products["SKU-CAM-01"].Stock != 29 {
		t.Fatalf("expected stock 29 after reserving 1, got %d", products["SKU-CAM-01"].Stock)
	}
}

func TestMarkSentTwiceRejected(t *testing.T) {
	svc := newTestService()
	sent := createSentShipment(t, svc)

	_, err := svc.MarkShipmentSent(sellerContext(), sent.Shipment.ID)
	if !errors.Is(err, settlement.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on double send, got %v", err)
	}
}

func TestSettleShipmentFullSaleCreatesSale(t *testing.T) {
	svc := newTestService()
	sent := createSentShipment(t, svc)

	resolutions := make([]domain.LineResolution, 0, len(sent.Shipment.Lines))
	for _, line := range sent.Shipment.Lines {
		resolutions = append(resolutions, domain.LineResolution{
			LineID:       line.ID,
			QuantityKept: line.QuantitySent,
		})
	}

	resp, err := svc.SettleShipment(sellerContext(), sent.Shipment.ID, domain.SettlementRequest{
		Resolutions: resolutions,
		CreateSale:  true,
		Tender: domain.PaymentTender{
			{Method: "credit_card", AmountCents: 2 * 12900},
			{Method: "cash", AmountCents: 8900},
		},
	})
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	if resp.Shipment.Shipment.Status != domain.ShipmentStatusCompletedFullSale {
		t.Fatalf("expected full sale status, got %s", resp.Shipment.Shipment.Status)
	}
	if resp.Sale == nil {
		t.Fatalf("expected sale to be created, sale error: %s", resp.SaleError)
	}
	if resp.Sale.TotalCents != 2*12900+8900 {
		t.Fatalf("expected sale total %d, got %d", 2*12900+8900, resp.Sale.TotalCents)
	}

	persisted, err := svc.GetShipment(context.Background(), sent.Shipment.ID)
	if err != nil {
		t.Fatalf("get shipment failed: %v", err)
	}
	if persisted.Shipment.SaleID != resp.Sale.ID {
		t.Fatalf("expected sale linked to shipment, got %q", persisted.Shipment.SaleID)
	}
}

func TestSettleShipmentFullReturnRestocks(t *testing.T) {
	svc := newTestService()
	sent := createSentShipment(t, svc)

	resolutions := make([]domain.LineResolution, 0, len(sent.Shipment.Lines))
	for _, line := range sent.Shipment.Lines {
		resolutions = append(resolutions, domain.LineResolution{
			LineID:           line.ID,
			QuantityReturned: line.QuantitySent,
		})
	}

	resp, err := svc.SettleShipment(sellerContext(), sent.Shipment.ID, domain.SettlementRequest{
		Resolutions: resolutions,
	})
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if resp.Shipment.Shipment.Status != domain.ShipmentStatusReturnedNoSale {
		t.Fatalf("expected returned no sale, got %s", resp.Shipment.Shipment.Status)
	}
	if resp.Sale != nil {
		t.Fatalf("full return must not create a sale")
	}

	products, err := svc.repo.GetProductsBySKUs(context.Background(), []string{"SKU-VEST-01", "SKU-CAM-01"})
	if err != nil {
		t.Fatalf("products lookup failed: %v", err)
	}
	if products["SKU-VEST-01"].Stock != 18 || products["SKU-CAM-01"].Stock != 30 {
		t.Fatalf("expected full restock, got %d and %d", products["SKU-VEST-01"].Stock, products["SKU-CAM-01"].Stock)
	}
}

func TestSettleShipmentTenderShortfallKeepsResolution(t *testing.T) {
	svc := newTestService()
	sent := createSentShipment(t, svc)

	resolutions := make([]domain.LineResolution, 0, len(sent.Shipment.Lines))
	for _, line := range sent.Shipment.Lines {
		resolutions = append(resolutions, domain.LineResolution{
			LineID:       line.ID,
			QuantityKept: line.QuantitySent,
		})
	}

	resp, err := svc.SettleShipment(sellerContext(), sent.Shipment.ID, domain.SettlementRequest{
		Resolutions: resolutions,
		CreateSale:  true,
		Tender: domain.PaymentTender{
			{Method: "cash", AmountCents: 1000},
		},
	})
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if resp.Sale != nil {
		t.Fatalf("short tender must not create a sale")
	}
	if resp.Outcome.TenderResult == nil || resp.Outcome.TenderResult.Valid {
		t.Fatalf("expected invalid tender result, got %+v", resp.Outcome.TenderResult)
	}

	persisted, err := svc.GetShipment(context.Background(), sent.Shipment.ID)
	if err != nil {
		t.Fatalf("get shipment failed: %v", err)
	}
	if persisted.Shipment.Status != domain.ShipmentStatusCompletedFullSale {
		t.Fatalf("resolution must commit despite tender failure, got %s", persisted.Shipment.Status)
	}

	// The retry path completes the sale with a corrected tender.
	retry, err := svc.CreateShipmentSale(sellerContext(), sent.Shipment.ID, domain.ShipmentSaleRequest{
		Tender: domain.PaymentTender{
			{Method: "pix", AmountCents: persisted.Shipment.TotalValueKeptCents()},
		},
	})
	if err != nil {
		t.Fatalf("sale retry failed: %v", err)
	}
	if retry.Sale == nil || retry.TenderResult != nil {
		t.Fatalf("expected sale from retry, got %+v", retry)
	}
}

func TestCreateShipmentSaleIdempotent(t *testing.T) {
	svc := newTestService()
	sent := createSentShipment(t, svc)

	resolutions := make([]domain.LineResolution, 0, len(sent.Shipment.Lines))
	for _, line := range sent.Shipment.Lines {
		resolutions = append(resolutions, domain.LineResolution{
			LineID:       line.ID,
			QuantityKept: line.QuantitySent,
		})
	}
	if _, err := svc.SettleShipment(sellerContext(), sent.Shipment.ID, domain.SettlementRequest{Resolutions: resolutions}); err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	tender := domain.PaymentTender{{Method: "cash", AmountCents: 2*12900 + 8900}}
	first, err := svc.CreateShipmentSale(sellerContext(), sent.Shipment.ID, domain.ShipmentSaleRequest{
		Tender:         tender,
		IdempotencyKey: "idem-sale-retry",
	})
	if err != nil {
		t.Fatalf("first sale failed: %v", err)
	}
	second, err := svc.CreateShipmentSale(sellerContext(), sent.Shipment.ID, domain.ShipmentSaleRequest{
		Tender:         tender,
		IdempotencyKey: "idem-sale-retry",
	})
	if err != nil {
		t.Fatalf("second sale failed: %v", err)
	}
	if !second.Duplicate || second.Sale.ID != first.Sale.ID {
		t.Fatalf("expected duplicate sale %s, got %+v", first.Sale.ID, second)
	}
}

func TestSettleShipmentValidationRejectsEmptyBatch(t *testing.T) {
	svc := newTestService()
	sent := createSentShipment(t, svc)

	_, err := svc.SettleShipment(sellerContext(), sent.Shipment.ID, domain.SettlementRequest{})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListOverdueShipmentsFiltersDueToday(t *testing.T) {
	svc := newTestService()
	sent := createSentShipment(t, svc)

	// A freshly sent shipment is inside its window.
	resp, err := svc.ListOverdueShipments(context.Background(), "main-store", 50)
	if err != nil {
		t.Fatalf("list overdue failed: %v", err)
	}
	for _, view := range resp.Shipments {
		if view.Shipment.ID == sent.Shipment.ID {
			t.Fatalf("shipment inside its window must not be overdue")
		}
	}
}

func TestCheckoutHappyPathAndChange(t *testing.T) {
	svc := newTestService()

	resp, err := svc.Checkout(sellerContext(), domain.CheckoutRequest{
		IdempotencyKey: "idem-checkout-1",
		Items: []domain.CartItem{
			{SKU: "SKU-CINTO-01", Quantity: 2},
		},
		Tender: []domain.PaymentEntry{
			{Method: "cash", AmountCents: 10000},
		},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if resp.Sale.TotalCents != 9800 {
		t.Fatalf("expected total 9800, got %d", resp.Sale.TotalCents)
	}
	if resp.ChangeDue != 200 {
		t.Fatalf("expected change 200, got %d", resp.ChangeDue)
	}

	dup, err := svc.Checkout(sellerContext(), domain.CheckoutRequest{
		IdempotencyKey: "idem-checkout-1",
		Items: []domain.CartItem{
			{SKU: "SKU-CINTO-01", Quantity: 2},
		},
		Tender: []domain.PaymentEntry{
			{Method: "cash", AmountCents: 10000},
		},
	})
	if err != nil {
		t.Fatalf("duplicate checkout failed: %v", err)
	}
	if !dup.Duplicate || dup.Sale.ID != resp.Sale.ID {
		t.Fatalf("expected idempotent replay of sale %s, got %+v", resp.Sale.ID, dup)
	}
}

func TestCheckoutShortTenderRejected(t *testing.T) {
	svc := newTestService()

	_, err := svc.Checkout(sellerContext(), domain.CheckoutRequest{
		Items: []domain.CartItem{
			{SKU: "SKU-CINTO-01", Quantity: 1},
		},
		Tender: []domain.PaymentEntry{
			{Method: "cash", AmountCents: 100},
		},
	})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected validation error for short tender, got %v", err)
	}
}

func TestCreateProductRequiresAdmin(t *testing.T) {
	svc := newTestService()

	_, err := svc.CreateProduct(sellerContext(), domain.ProductCreateRequest{
		SKU:        "SKU-NEW-01",
		Name:       "Jaqueta Jeans",
		PriceCents: 15900,
	})
	if err == nil {
		t.Fatalf("expected seller to be rejected from product creation")
	}

	adminCtx := WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
	created, err := svc.CreateProduct(adminCtx, domain.ProductCreateRequest{
		SKU:          "sku-new-01",
		Name:         "Jaqueta Jeans",
		PriceCents:   15900,
		InitialStock: 5,
	})
	if err != nil {
		t.Fatalf("admin product creation failed: %v", err)
	}
	if created.SKU != "SKU-NEW-01" {
		t.Fatalf("expected normalized sku, got %s", created.SKU)
	}
}

func TestAuditTrailRecordsSettlement(t *testing.T) {
	svc := newTestService()
	sent := createSentShipment(t, svc)

	resolutions := make([]domain.LineResolution, 0, len(sent.Shipment.Lines))
	for _, line := range sent.Shipment.Lines {
		resolutions = append(resolutions, domain.LineResolution{
			LineID:           line.ID,
			QuantityReturned: line.QuantitySent,
		})
	}
	if _, err := svc.SettleShipment(sellerContext(), sent.Shipment.ID, domain.SettlementRequest{Resolutions: resolutions}); err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	logs, err := svc.ListAuditLogs(context.Background(), "main-store", "", 100)
	if err != nil {
		t.Fatalf("list audit logs failed: %v", err)
	}

	found := false
	for _, entry := range logs {
		if entry.Action == "shipment_settle" && entry.EntityID == sent.Shipment.ID {
			if entry.ActorUsername != "seller" {
				t.Fatalf("expected actor seller, got %s", entry.ActorUsername)
			}
			found = true
		}
	}
	if !found {
		t.Fatalf("expected settlement audit entry for %s", sent.Shipment.ID)
	}
}

// saleFailRepo makes CreateSale fail a configured number of times so the
// compensation paths around sale creation can be exercised.
type saleFailRepo struct {
	store.Repository
	failures int
}

func (r *saleFailRepo) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if r.failures > 0 {
		r.failures--
		return nil, store.ErrUnavailable
	}
	return r.Repository.CreateSale(ctx, sale)
}

func TestCheckoutRetryAfterSaleFailureDoesNotDoubleDeduct(t *testing.T) {
	repo := memory.NewSeeded()
	svc := New(&saleFailRepo{Repository: repo, failures: 1}, cache.NoopProductCache{}, "main-store", 7, 5*time.Minute)
	ctx := sellerContext()

	req := domain.CheckoutRequest{
		IdempotencyKey: "idem-flaky-sale",
		Items:          []domain.CartItem{{SKU: "SKU-CINTO-01", Quantity: 5}},
		Tender:         []domain.PaymentEntry{{Method: "cash", AmountCents: 5 * 4900}},
	}

	if _, err := svc.Checkout(ctx, req); !errors.Is(err, store.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable on first attempt, got %v", err)
	}

	resp, err := svc.Checkout(ctx, req)
	if err != nil {
		t.Fatalf("retry checkout failed: %v", err)
	}
	if resp.Duplicate {
		t.Fatalf("expected a fresh sale on retry, got a duplicate")
	}
	if resp.Sale.TotalCents != 5*4900 {
		t.Fatalf("unexpected sale total %d", resp.Sale.TotalCents)
	}

	products, err := repo.GetProductsBySKUs(ctx, []string{"SKU-CINTO-01"})
	if err != nil {
		t.Fatalf("get products failed: %v", err)
	}
	if got := products["SKU-CINTO-01"].Stock; got != 35 {
		t.Fatalf("stock after one successful sale of 5: want 35, got %d", got)
	}
}
