package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"condicional/backend/internal/domain"
	"condicional/backend/internal/store"
)

type Store struct {
	mu          sync.RWMutex
	shipments   map[string]domain.Shipment
	salesByID   map[string]domain.Sale
	salesByIdem map[string]string
	products    map[string]domain.Product
	customers   map[string]domain.Customer
	auditLogs   []domain.AuditLog
	users       map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_SELLER_PASSWORD
// environment variables, with hardcoded dev defaults and a warning when
// unset. Production deployments use PostgreSQL (DATABASE_URL).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	sellerPwd := envOr("SEED_SELLER_PASSWORD", "seller123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_SELLER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_SELLER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"seller", sellerPwd, "seller"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	products := []domain.Product{
		{SKU: "SKU-VEST-01", Name: "Vestido Floral M", PriceCents: 12900, Stock: 18, Active: true},
		{SKU: "SKU-CAM-01", Name: "Camisa Social Branca", PriceCents: 8900, Stock: 30, Active: true},
		{SKU: "SKU-CALCA-01", Name: "Calça Jeans 40", PriceCents: 14900, Stock: 22, Active: true},
		{SKU: "SKU-SAIA-01", Name: "Saia Midi Preta", PriceCents: 7400, Stock: 15, Active: true},
		{SKU: "SKU-BLUSA-01", Name: "Blusa Tricô", PriceCents: 6900, Stock: 25, Active: true},
		{SKU: "SKU-TENIS-01", Name: "Tênis Casual 38", PriceCents: 19900, Stock: 12, Active: true},
		{SKU: "SKU-CINTO-01", Name: "Cinto Couro", PriceCents: 4900, Stock: 40, Active: true},
		{SKU: "SKU-BOLSA-01", Name: "Bolsa Transversal", PriceCents: 11900, Stock: 10, Active: true},
	}
	productMap := make(map[string]domain.Product, len(products))
	for _, p := range products {
		productMap[p.SKU] = p
	}

	now := time.Now().UTC()
	customers := map[string]domain.Customer{
		"cust-ana":   {ID: "cust-ana", Name: "Ana Souza", Phone: "+55 11 98888-0001", CreatedAt: now},
		"cust-bruno": {ID: "cust-bruno", Name: "Bruno Lima", Phone: "+55 11 98888-0002", CreatedAt: now},
	}

	return &Store{
		shipments:   make(map[string]domain.Shipment),
		salesByID:   make(map[string]domain.Sale),
		salesByIdem: make(map[string]string),
		products:    productMap,
		customers:   customers,
		auditLogs:   make([]domain.AuditLog, 0, 128),
		users:       seedUsers(),
	}
}

func copyShipment(s domain.Shipment) domain.Shipment {
	out := s
	out.Lines = make([]domain.ShipmentLine, len(s.Lines))
	copy(out.Lines, s.Lines)
	return out
}

func (s *Store) CreateShipment(_ context.Context, shipment domain.Shipment) (*domain.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if shipment.ID == "" || shipment.CustomerID == "" || len(shipment.Lines) == 0 {
		return nil, store.ErrInvalidShipment
	}
	if _, exists := s.shipments[shipment.ID]; exists {
		return nil, store.ErrConflict
	}

	s.shipments[shipment.ID] = copyShipment(shipment)
	created := copyShipment(shipment)
	return &created, nil
}

func (s *Store) GetShipmentByID(_ context.Context, id string) (*domain.Shipment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shipment, exists := s.shipments[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	found := copyShipment(shipment)
	return &found, nil
}

func (s *Store) ListShipments(_ context.Context, storeID string, status string, limit int) ([]domain.Shipment, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Shipment, 0, limit)
	for _, shipment := range s.shipments {
		if storeID != "" && shipment.StoreID != storeID {
			continue
		}
		if status != "" && shipment.Status != status {
			continue
		}
		result = append(result, copyShipment(shipment))
	}

	slices.SortFunc(result, func(a, b domain.Shipment) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListShipmentsByCustomer(_ context.Context, customerID string, limit int) ([]domain.Shipment, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Shipment, 0, limit)
	for _, shipment := range s.shipments {
		if shipment.CustomerID != customerID {
			continue
		}
		result = append(result, copyShipment(shipment))
	}
	slices.SortFunc(result, func(a, b domain.Shipment) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) MarkShipmentSent(_ context.Context, sent domain.Shipment) (*domain.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.shipments[sent.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if current.Status != domain.ShipmentStatusPending {
		return nil, store.ErrConflict
	}

	s.shipments[sent.ID] = copyShipment(sent)
	updated := copyShipment(sent)
	return &updated, nil
}

func (s *Store) ApplySettlement(_ context.Context, update store.SettlementUpdate) (*domain.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shipment, exists := s.shipments[update.ShipmentID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if shipment.Terminal() {
		// Retry of an already-applied settlement is a safe no-op as long as it
		// lands on the same outcome.
		if shipment.Status == update.Status {
			applied := copyShipment(shipment)
			return &applied, nil
		}
		return nil, store.ErrConflict
	}
	if shipment.Status != domain.ShipmentStatusSent {
		return nil, store.ErrConflict
	}

	// Validate restock targets before mutating anything so the settlement
	// stays all-or-nothing.
	for _, line := range update.Lines {
		if restockQuantity(line) == 0 {
			continue
		}
		if _, ok := s.products[line.SKU]; !ok {
			return nil, fmt.Errorf("restock %s: %w", line.SKU, store.ErrNotFound)
		}
	}

	updated := copyShipment(shipment)
	updated.Status = update.Status
	updated.Lines = make([]domain.ShipmentLine, len(update.Lines))
	copy(updated.Lines, update.Lines)
	updated.ReturnedAt = update.ReturnedAt
	updated.CompletedAt = update.CompletedAt
	updated.UpdatedAt = update.UpdatedAt

	for _, line := range updated.Lines {
		qty := restockQuantity(line)
		if qty == 0 {
			continue
		}
		product := s.products[line.SKU]
		product.Stock += qty
		s.products[line.SKU] = product
	}

	s.shipments[update.ShipmentID] = copyShipment(updated)
	return &updated, nil
}

// restockQuantity is how many units of a resolved line go back to stock.
// Damaged and lost lines are write-offs and never come back.
func restockQuantity(line domain.ShipmentLine) int {
	switch line.ItemStatus {
	case domain.ItemStatusDamaged, domain.ItemStatusLost:
		return 0
	}
	return line.QuantityReturned
}

func (s *Store) LinkSale(_ context.Context, shipmentID string, saleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	shipment, exists := s.shipments[shipmentID]
	if !exists {
		return store.ErrNotFound
	}
	if shipment.SaleID != "" && shipment.SaleID != saleID {
		return store.ErrConflict
	}

	shipment.SaleID = saleID
	shipment.UpdatedAt = time.Now().UTC()
	s.shipments[shipmentID] = shipment
	return nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.ID == "" || len(sale.Items) == 0 {
		return nil, store.ErrInvalidShipment
	}
	if _, exists := s.salesByID[sale.ID]; exists {
		return nil, store.ErrConflict
	}
	if sale.IdempotencyKey != "" {
		if _, exists := s.salesByIdem[sale.IdempotencyKey]; exists {
			return nil, store.ErrConflict
		}
	}

	s.salesByID[sale.ID] = sale
	if sale.IdempotencyKey != "" {
		s.salesByIdem[sale.IdempotencyKey] = sale.ID
	}
	created := sale
	return &created, nil
}

func (s *Store) FindSaleByIdempotency(_ context.Context, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.salesByIdem[key]
	if !exists {
		return nil, store.ErrNotFound
	}
	sale := s.salesByID[id]
	return &sale, nil
}

func (s *Store) FindSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.salesByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	found := sale
	return &found, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if !p.Active {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.SKU == "" || product.Name == "" || product.PriceCents < 1 || product.Stock < 0 {
		return nil, store.ErrInvalidShipment
	}
	if _, exists := s.products[product.SKU]; exists {
		return nil, store.ErrConflict
	}

	product.Active = true
	s.products[product.SKU] = product
	created := product
	return &created, nil
}

func (s *Store) GetProductsBySKUs(_ context.Context, skus []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(skus))
	for _, sku := range skus {
		if p, exists := s.products[sku]; exists && p.Active {
			result[sku] = p
		}
	}
	return result, nil
}

func (s *Store) AdjustStock(_ context.Context, sku string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[sku]
	if !exists {
		return store.ErrNotFound
	}
	if product.Stock+delta < 0 {
		return store.ErrInsufficientStock
	}
	product.Stock += delta
	s.products[sku] = product
	return nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if customer.ID == "" || customer.Name == "" {
		return nil, store.ErrInvalidShipment
	}
	if _, exists := s.customers[customer.ID]; exists {
		return nil, store.ErrConflict
	}

	s.customers[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByID(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customers[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	found := customer
	return &found, nil
}

func (s *Store) ListCustomers(_ context.Context, limit int) ([]domain.Customer, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		result = append(result, c)
	}
	slices.SortFunc(result, func(a, b domain.Customer) int {
		return strings.Compare(a.Name, b.Name)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, limit)
	for _, entry := range s.auditLogs {
		if storeID != "" && entry.StoreID != storeID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrInvalidShipment
	}
	if _, exists := s.users[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	s.users[username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		result = append(result, user)
	}
	slices.SortFunc(result, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return result, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}
