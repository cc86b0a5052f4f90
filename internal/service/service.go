package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	validatorv10 "github.com/go-playground/validator/v10"

	"condicional/backend/internal/cache"
	"condicional/backend/internal/domain"
	"condicional/backend/internal/settlement"
	"condicional/backend/internal/store"
	"condicional/backend/internal/validation"
	"condicional/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// ValidationError carries the flattened field errors of a rejected request so
// the HTTP layer can turn them into a structured 400 body.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, field+": "+msg)
	}
	sort.Strings(parts)
	return "validation failed: " + strings.Join(parts, "; ")
}

type Service struct {
	repo            store.Repository
	products        cache.ProductCache
	validate        *validatorv10.Validate
	defaultStoreID  string
	deadlineDays    int
	productCacheTTL time.Duration
}

func New(repo store.Repository, products cache.ProductCache, defaultStoreID string, deadlineDays int, productCacheTTL time.Duration) *Service {
	if defaultStoreID == "" {
		defaultStoreID = "main-store"
	}
	if deadlineDays < 1 {
		deadlineDays = 7
	}
	if products == nil {
		products = cache.NoopProductCache{}
	}

	return &Service{
		repo:            repo,
		products:        products,
		validate:        validation.New(),
		defaultStoreID:  defaultStoreID,
		deadlineDays:    deadlineDays,
		productCacheTTL: productCacheTTL,
	}
}

func (s *Service) checkStruct(req any) error {
	if err := s.validate.Struct(req); err != nil {
		return &ValidationError{Fields: validation.FieldErrors(err)}
	}
	return nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	cacheKey := "products:active"
	if cached, hit, err := s.products.GetProducts(ctx, cacheKey); err == nil && hit {
		return cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: product cache read failed: %v", err)
	}

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}

	if err := s.products.SetProducts(ctx, cacheKey, products, s.productCacheTTL); err != nil {
		log.Printf("[service] WARN: product cache write failed: %v", err)
	}
	return products, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	if req.SKU == "" || req.Name == "" || req.PriceCents < 1 || req.InitialStock < 0 {
		return domain.Product{}, store.ErrInvalidShipment
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		SKU:        req.SKU,
		Name:       req.Name,
		PriceCents: req.PriceCents,
		Stock:      req.InitialStock,
		Active:     true,
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, s.defaultStoreID, "product_create", "product", created.SKU, fmt.Sprintf("name=%s,price=%d,stock=%d", created.Name, created.PriceCents, created.Stock))
	return *created, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Customer{}, store.ErrInvalidShipment
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		ID:        xid.New("cust"),
		Name:      req.Name,
		Phone:     strings.TrimSpace(req.Phone),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, s.defaultStoreID, "customer_create", "customer", created.ID, "name="+created.Name)
	return *created, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomerByID(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx, limit)
}

// CreateShipment assembles a PENDING shipment with per-line price and name
// snapshots taken at creation time. Later catalog price changes never touch
// a shipment that is already out with the customer.
func (s *Service) CreateShipment(ctx context.Context, req domain.ShipmentCreateRequest) (domain.ShipmentView, error) {
	if err := s.checkStruct(req); err != nil {
		return domain.ShipmentView{}, err
	}
	if req.StoreID == "" {
		req.StoreID = s.defaultStoreID
	}

	if _, err := s.repo.GetCustomerByID(ctx, req.CustomerID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.ShipmentView{}, fmt.Errorf("customer %s: %w", req.CustomerID, store.ErrNotFound)
		}
		return domain.ShipmentView{}, err
	}

	skus := make([]string, 0, len(req.Lines))
	for _, line := range req.Lines {
		skus = append(skus, line.SKU)
	}
	products, err := s.repo.GetProductsBySKUs(ctx, skus)
	if err != nil {
		return domain.ShipmentView{}, err
	}

	now := time.Now().UTC()
	lines := make([]domain.ShipmentLine, 0, len(req.Lines))
	for _, input := range req.Lines {
		product, exists := products[input.SKU]
		if !exists {
			return domain.ShipmentView{}, fmt.Errorf("product %s: %w", input.SKU, store.ErrNotFound)
		}
		if product.Stock < input.Quantity {
			return domain.ShipmentView{}, fmt.Errorf("product %s: %w", input.SKU, store.ErrInsufficientStock)
		}
		lines = append(lines, domain.ShipmentLine{
			ID:             xid.New("line"),
			SKU:            product.SKU,
			ProductName:    product.Name,
			QuantitySent:   input.Quantity,
			UnitPriceCents: product.PriceCents,
			ItemStatus:     domain.ItemStatusSent,
		})
	}

	created, err := s.repo.CreateShipment(ctx, domain.Shipment{
		ID:           xid.New("cond"),
		StoreID:      req.StoreID,
		CustomerID:   req.CustomerID,
		Status:       domain.ShipmentStatusPending,
		DeadlineDays: req.DeadlineDays,
		Lines:        lines,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return domain.ShipmentView{}, err
	}

	s.logAudit(ctx, created.StoreID, "shipment_create", "shipment", created.ID, fmt.Sprintf("customer=%s,lines=%d,value=%d", created.CustomerID, len(created.Lines), created.TotalValueSentCents()))
	return s.toView(*created, now), nil
}

// MarkShipmentSent moves a pending shipment out the door: stock is reserved
// for every sent unit, the deadline clock starts, and the state machine moves
// to SENT. Reserved stock comes back only for units the settlement returns.
func (s *Service) MarkShipmentSent(ctx context.Context, id string) (domain.ShipmentView, error) {
	shipment, err := s.repo.GetShipmentByID(ctx, id)
	if err != nil {
		return domain.ShipmentView{}, err
	}

	now := time.Now().UTC()
	sent, err := settlement.MarkSent(*shipment, now)
	if err != nil {
		return domain.ShipmentView{}, err
	}

	reserved := make([]domain.ShipmentLine, 0, len(sent.Lines))
	for _, line := range sent.Lines {
		if err := s.repo.AdjustStock(ctx, line.SKU, -line.QuantitySent); err != nil {
			s.releaseLineStock(ctx, reserved)
			return domain.ShipmentView{}, fmt.Errorf("reserve stock for %s: %w", line.SKU, err)
		}
		reserved = append(reserved, line)
	}

	days := sent.DeadlineDays
	if days < 1 {
		days = s.deadlineDays
	}
	deadline := now.AddDate(0, 0, days)
	sent.Deadline = &deadline

	persisted, err := s.repo.MarkShipmentSent(ctx, sent)
	if err != nil {
		s.releaseLineStock(ctx, reserved)
		return domain.ShipmentView{}, err
	}

	s.logAudit(ctx, persisted.StoreID, "shipment_sent", "shipment", persisted.ID, fmt.Sprintf("deadline=%s", deadline.Format(time.RFC3339)))
	return s.toView(*persisted, now), nil
}

// releaseLineStock compensates reservations made for shipment lines when a
// later step fails.
func (s *Service) releaseLineStock(ctx context.Context, lines []domain.ShipmentLine) {
	for _, line := range lines {
		if err := s.repo.AdjustStock(ctx, line.SKU, line.QuantitySent); err != nil {
			log.Printf("[service] WARN: stock rollback failed sku=%s qty=%d: %v", line.SKU, line.QuantitySent, err)
		}
	}
}

// releaseItemStock compensates a checkout deduction when the sale that
// justified it did not land.
func (s *Service) releaseItemStock(ctx context.Context, items []domain.SaleItem) {
	for _, item := range items {
		if err := s.repo.AdjustStock(ctx, item.SKU, item.Quantity); err != nil {
			log.Printf("[service] WARN: stock rollback failed sku=%s qty=%d: %v", item.SKU, item.Quantity, err)
		}
	}
}

// SettleShipment runs the full resolution: engine pass over every line,
// atomic persistence of the outcome (returned units are restocked inside
// that same write), then sale creation when requested.
// The resolution commits even when the sale step fails afterwards; the
// client retries the sale alone through CreateShipmentSale.
func (s *Service) SettleShipment(ctx context.Context, id string, req domain.SettlementRequest) (domain.SettleShipmentResponse, error) {
	if err := s.checkStruct(req); err != nil {
		return domain.SettleShipmentResponse{}, err
	}

	shipment, err := s.repo.GetShipmentByID(ctx, id)
	if err != nil {
		return domain.SettleShipmentResponse{}, err
	}

	now := time.Now().UTC()
	resolved, outcome, err := settlement.Settle(*shipment, req, now)
	if err != nil {
		return domain.SettleShipmentResponse{}, err
	}

	persisted, err := s.repo.ApplySettlement(ctx, store.SettlementUpdate{
		ShipmentID:  resolved.ID,
		Status:      resolved.Status,
		Lines:       resolved.Lines,
		ReturnedAt:  resolved.ReturnedAt,
		CompletedAt: resolved.CompletedAt,
		UpdatedAt:   now,
	})
	if err != nil {
		return domain.SettleShipmentResponse{}, err
	}

	resp := domain.SettleShipmentResponse{
		Shipment: s.toView(*persisted, now),
		Outcome:  outcome,
	}

	s.logAudit(ctx, persisted.StoreID, "shipment_settle", "shipment", persisted.ID, fmt.Sprintf("status=%s,kept_value=%d", persisted.Status, outcome.KeptValueCents))

	if outcome.SaleRequest == nil {
		return resp, nil
	}

	sale, _, err := s.createShipmentSale(ctx, *persisted, *outcome.SaleRequest)
	if err != nil {
		log.Printf("[service] WARN: settlement committed but sale creation failed shipment=%s: %v", persisted.ID, err)
		resp.SaleError = err.Error()
		return resp, nil
	}
	resp.Sale = sale
	return resp, nil
}

// CreateShipmentSale is the retry path for a settled shipment whose sale was
// blocked earlier, either by an invalid tender or by a storage failure.
func (s *Service) CreateShipmentSale(ctx context.Context, id string, req domain.ShipmentSaleRequest) (domain.ShipmentSaleResponse, error) {
	if err := s.checkStruct(req); err != nil {
		return domain.ShipmentSaleResponse{}, err
	}

	shipment, err := s.repo.GetShipmentByID(ctx, id)
	if err != nil {
		return domain.ShipmentSaleResponse{}, err
	}
	switch shipment.Status {
	case domain.ShipmentStatusCompletedPartialSale, domain.ShipmentStatusCompletedFullSale:
	default:
		return domain.ShipmentSaleResponse{}, settlement.ErrInvalidTransition
	}

	if shipment.SaleID != "" {
		existing, err := s.repo.FindSaleByID(ctx, shipment.SaleID)
		if err != nil {
			return domain.ShipmentSaleResponse{}, err
		}
		return domain.ShipmentSaleResponse{Sale: existing, Duplicate: true}, nil
	}

	keptValue := shipment.TotalValueKeptCents()
	tenderResult := settlement.ValidateTender(req.Tender, keptValue)
	if !tenderResult.Valid {
		return domain.ShipmentSaleResponse{TenderResult: &tenderResult}, nil
	}

	items := make([]domain.SaleItem, 0, len(shipment.Lines))
	for _, line := range shipment.Lines {
		if line.QuantityKept == 0 {
			continue
		}
		items = append(items, domain.SaleItem{
			SKU:            line.SKU,
			Quantity:       line.QuantityKept,
			UnitPriceCents: line.UnitPriceCents,
		})
	}

	sale, duplicate, err := s.createShipmentSale(ctx, *shipment, domain.SaleRequest{
		ShipmentID:     shipment.ID,
		CustomerID:     shipment.CustomerID,
		Items:          items,
		TotalCents:     keptValue,
		Tender:         req.Tender,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return domain.ShipmentSaleResponse{}, err
	}
	return domain.ShipmentSaleResponse{Sale: sale, Duplicate: duplicate}, nil
}

// createShipmentSale persists the sale and links it back to the shipment.
// The idempotency key makes the whole thing safe to retry after a lost
// response: a second attempt with the same key returns the first sale.
func (s *Service) createShipmentSale(ctx context.Context, shipment domain.Shipment, req domain.SaleRequest) (*domain.Sale, bool, error) {
	idem := req.IdempotencyKey
	if idem == "" {
		idem = uuid.NewString()
	}

	if existing, err := s.repo.FindSaleByIdempotency(ctx, idem); err == nil {
		if linkErr := s.repo.LinkSale(ctx, shipment.ID, existing.ID); linkErr != nil && !errors.Is(linkErr, store.ErrConflict) {
			return nil, false, linkErr
		}
		return existing, true, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	sale := domain.Sale{
		ID:             xid.New("sale"),
		StoreID:        shipment.StoreID,
		ShipmentID:     shipment.ID,
		CustomerID:     shipment.CustomerID,
		Items:          req.Items,
		TotalCents:     req.TotalCents,
		Tender:         req.Tender,
		Status:         domain.SaleStatusPaid,
		IdempotencyKey: idem,
		CreatedAt:      time.Now().UTC(),
	}

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			if existing, findErr := s.repo.FindSaleByIdempotency(ctx, idem); findErr == nil {
				_ = s.repo.LinkSale(ctx, shipment.ID, existing.ID)
				return existing, true, nil
			}
		}
		return nil, false, err
	}

	if err := s.repo.LinkSale(ctx, shipment.ID, created.ID); err != nil && !errors.Is(err, store.ErrConflict) {
		return nil, false, err
	}

	s.logAudit(ctx, shipment.StoreID, "shipment_sale", "sale", created.ID, fmt.Sprintf("shipment=%s,total=%d", shipment.ID, created.TotalCents))
	return created, false, nil
}

func (s *Service) GetShipment(ctx context.Context, id string) (domain.ShipmentView, error) {
	shipment, err := s.repo.GetShipmentByID(ctx, id)
	if err != nil {
		return domain.ShipmentView{}, err
	}
	return s.toView(*shipment, time.Now().UTC()), nil
}

func (s *Service) ListShipments(ctx context.Context, storeID string, status string, limit int) (domain.ShipmentListResponse, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	shipments, err := s.repo.ListShipments(ctx, storeID, status, limit)
	if err != nil {
		return domain.ShipmentListResponse{}, err
	}

	now := time.Now().UTC()
	views := make([]domain.ShipmentView, 0, len(shipments))
	for _, shipment := range shipments {
		views = append(views, s.toView(shipment, now))
	}
	return domain.ShipmentListResponse{Shipments: views}, nil
}

func (s *Service) ListShipmentsByCustomer(ctx context.Context, customerID string, limit int) (domain.ShipmentListResponse, error) {
	shipments, err := s.repo.ListShipmentsByCustomer(ctx, customerID, limit)
	if err != nil {
		return domain.ShipmentListResponse{}, err
	}

	now := time.Now().UTC()
	views := make([]domain.ShipmentView, 0, len(shipments))
	for _, shipment := range shipments {
		views = append(views, s.toView(shipment, now))
	}
	return domain.ShipmentListResponse{Shipments: views}, nil
}

// ListOverdueShipments returns sent shipments whose deadline day has passed.
// A shipment due today is not overdue yet.
func (s *Service) ListOverdueShipments(ctx context.Context, storeID string, limit int) (domain.ShipmentListResponse, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}
	shipments, err := s.repo.ListShipments(ctx, storeID, domain.ShipmentStatusSent, limit)
	if err != nil {
		return domain.ShipmentListResponse{}, err
	}

	now := time.Now().UTC()
	views := make([]domain.ShipmentView, 0, len(shipments))
	for _, shipment := range shipments {
		status := settlement.EvaluateDeadline(shipment.Deadline, now)
		if !status.Overdue {
			continue
		}
		views = append(views, domain.ShipmentView{Shipment: shipment, Deadline: status})
	}
	return domain.ShipmentListResponse{Shipments: views}, nil
}

// Checkout is the ordinary over-the-counter sale, sharing the tender rules
// with settlement.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	if err := s.checkStruct(req); err != nil {
		return domain.CheckoutResponse{}, err
	}
	if req.StoreID == "" {
		req.StoreID = s.defaultStoreID
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = uuid.NewString()
	}

	if existing, err := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey); err == nil {
		return domain.CheckoutResponse{Sale: *existing, Duplicate: true}, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.CheckoutResponse{}, err
	}

	skus := make([]string, 0, len(req.Items))
	for _, item := range req.Items {
		skus = append(skus, item.SKU)
	}
	products, err := s.repo.GetProductsBySKUs(ctx, skus)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	total := int64(0)
	items := make([]domain.SaleItem, 0, len(req.Items))
	for _, item := range req.Items {
		product, exists := products[item.SKU]
		if !exists {
			return domain.CheckoutResponse{}, fmt.Errorf("product %s: %w", item.SKU, store.ErrNotFound)
		}
		total += int64(item.Quantity) * product.PriceCents
		items = append(items, domain.SaleItem{
			SKU:            item.SKU,
			Quantity:       item.Quantity,
			UnitPriceCents: product.PriceCents,
		})
	}

	tender := domain.PaymentTender(req.Tender)
	tenderResult := settlement.ValidateTender(tender, total)
	if !tenderResult.Valid {
		return domain.CheckoutResponse{}, &ValidationError{Fields: tenderFields(tenderResult)}
	}

	deducted := make([]domain.SaleItem, 0, len(items))
	for _, item := range items {
		if err := s.repo.AdjustStock(ctx, item.SKU, -item.Quantity); err != nil {
			s.releaseItemStock(ctx, deducted)
			return domain.CheckoutResponse{}, fmt.Errorf("deduct stock for %s: %w", item.SKU, err)
		}
		deducted = append(deducted, item)
	}

	sale := domain.Sale{
		ID:             xid.New("sale"),
		StoreID:        req.StoreID,
		CustomerID:     req.CustomerID,
		Items:          items,
		TotalCents:     total,
		Tender:         tender,
		Status:         domain.SaleStatusPaid,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      time.Now().UTC(),
	}

	created, err := s.repo.CreateSale(ctx, sale)
	if err != nil {
		// The sale did not land under this attempt, so this attempt's
		// deduction must not stand: either a concurrent request with the same
		// key already deducted for its own sale, or nothing was sold at all
		// and a retry will deduct again.
		s.releaseItemStock(ctx, deducted)
		if errors.Is(err, store.ErrConflict) {
			if existing, findErr := s.repo.FindSaleByIdempotency(ctx, req.IdempotencyKey); findErr == nil {
				return domain.CheckoutResponse{Sale: *existing, Duplicate: true}, nil
			}
		}
		return domain.CheckoutResponse{}, err
	}

	s.logAudit(ctx, req.StoreID, "checkout", "sale", created.ID, fmt.Sprintf("total=%d,tendered=%d", created.TotalCents, tender.TotalCents()))

	return domain.CheckoutResponse{
		Sale:      *created,
		ChangeDue: tender.TotalCents() - total,
	}, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, storeID string, date string, limit int) ([]domain.AuditLog, error) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}

	day := time.Now().UTC()
	if date != "" {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, fmt.Errorf("invalid date %q, want YYYY-MM-DD", date)
		}
		day = parsed
	}
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	return s.repo.ListAuditLogs(ctx, storeID, from, to, limit)
}

func (s *Service) toView(shipment domain.Shipment, now time.Time) domain.ShipmentView {
	return domain.ShipmentView{
		Shipment: shipment,
		Deadline: settlement.EvaluateDeadline(shipment.Deadline, now),
	}
}

func (s *Service) logAudit(ctx context.Context, storeID string, action string, entityType string, entityID string, detail string) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StoreID:       storeID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[audit] WARN: failed to write audit log action=%s entity=%s/%s: %v", action, entityType, entityID, err)
	}
}

func tenderFields(result domain.TenderValidation) map[string]string {
	fields := make(map[string]string, len(result.Errors))
	for i, msg := range result.Errors {
		fields[fmt.Sprintf("tender[%d]", i)] = msg
	}
	return fields
}
