package store

import (
	"context"
	"errors"
	"time"

	"condicional/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidShipment   = errors.New("invalid shipment")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrUnavailable marks opaque backend/network failures. A caller may
	// safely retry the same request: settlement resolutions are idempotent.
	ErrUnavailable = errors.New("store unavailable")
)

// SettlementUpdate is the unit the engine pushes back to the authoritative
// store after a successful resolution: new status, per-line dispositions,
// and the lifecycle timestamps, applied atomically. Returned units go back
// to product stock in the same step; damaged and lost write-offs do not.
type SettlementUpdate struct {
	ShipmentID  string
	Status      string
	Lines       []domain.ShipmentLine
	ReturnedAt  *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time
}

type Repository interface {
	CreateShipment(ctx context.Context, shipment domain.Shipment) (*domain.Shipment, error)
	GetShipmentByID(ctx context.Context, id string) (*domain.Shipment, error)
	ListShipments(ctx context.Context, storeID string, status string, limit int) ([]domain.Shipment, error)
	ListShipmentsByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Shipment, error)
	// MarkShipmentSent persists a shipment the state machine already stamped
	// as sent. The store only guards that the stored record is still pending.
	MarkShipmentSent(ctx context.Context, sent domain.Shipment) (*domain.Shipment, error)
	ApplySettlement(ctx context.Context, update SettlementUpdate) (*domain.Shipment, error)
	LinkSale(ctx context.Context, shipmentID string, saleID string) error

	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error)
	FindSaleByID(ctx context.Context, id string) (*domain.Sale, error)

	ListProducts(ctx context.Context) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductsBySKUs(ctx context.Context, skus []string) (map[string]domain.Product, error)
	AdjustStock(ctx context.Context, sku string, delta int) error

	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error)
	ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
