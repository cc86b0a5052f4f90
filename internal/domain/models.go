package domain

import "time"

// Shipment lifecycle. PENDING and SENT are the only non-terminal states;
// the three outcome states are final and never re-entered.
const (
	ShipmentStatusPending              = "pending"
	ShipmentStatusSent                 = "sent"
	ShipmentStatusReturnedNoSale       = "returned_no_sale"
	ShipmentStatusCompletedPartialSale = "completed_partial_sale"
	ShipmentStatusCompletedFullSale    = "completed_full_sale"
)

// Per-line disposition. Damaged and lost units are written off: the full
// sent quantity is accounted as non-recoverable, never charged to a sale.
const (
	ItemStatusSent     = "sent"
	ItemStatusKept     = "kept"
	ItemStatusReturned = "returned"
	ItemStatusDamaged  = "damaged"
	ItemStatusLost     = "lost"
)

const (
	SaleStatusPaid    = "paid"
	SaleStatusPending = "pending_payment"
)

type ShipmentLine struct {
	ID               string `json:"id"`
	SKU              string `json:"sku"`
	ProductName      string `json:"product_name,omitempty"`
	QuantitySent     int    `json:"quantity_sent"`
	QuantityKept     int    `json:"quantity_kept"`
	QuantityReturned int    `json:"quantity_returned"`
	UnitPriceCents   int64  `json:"unit_price_cents"`
	ItemStatus       string `json:"item_status"`
}

// QuantityPending is the portion of the sent quantity not yet accounted for.
// Invariant: kept + returned + pending == sent.
func (l ShipmentLine) QuantityPending() int {
	return l.QuantitySent - l.QuantityKept - l.QuantityReturned
}

// Resolved reports whether this line is terminal: every sent unit has a
// disposition and the item status is no longer "sent".
func (l ShipmentLine) Resolved() bool {
	return l.ItemStatus != ItemStatusSent && l.QuantityPending() == 0
}

type Shipment struct {
	ID           string         `json:"id"`
	StoreID      string         `json:"store_id"`
	CustomerID   string         `json:"customer_id"`
	Status       string         `json:"status"`
	DeadlineDays int            `json:"deadline_days,omitempty"`
	Lines        []ShipmentLine `json:"lines"`
	SentAt       *time.Time     `json:"sent_at,omitempty"`
	Deadline     *time.Time     `json:"deadline,omitempty"`
	ReturnedAt   *time.Time     `json:"returned_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	SaleID       string         `json:"sale_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

func (s Shipment) Terminal() bool {
	switch s.Status {
	case ShipmentStatusReturnedNoSale, ShipmentStatusCompletedPartialSale, ShipmentStatusCompletedFullSale:
		return true
	}
	return false
}

// TotalValueSentCents sums unit price times sent quantity over all lines.
func (s Shipment) TotalValueSentCents() int64 {
	total := int64(0)
	for _, line := range s.Lines {
		total += int64(line.QuantitySent) * line.UnitPriceCents
	}
	return total
}

// TotalValueKeptCents sums unit price times kept quantity over all lines.
// This is the monetary total a settlement-triggered sale is validated against.
func (s Shipment) TotalValueKeptCents() int64 {
	total := int64(0)
	for _, line := range s.Lines {
		total += int64(line.QuantityKept) * line.UnitPriceCents
	}
	return total
}

// DeadlineStatus is the single place overdue/remaining-day state is computed.
// HasDeadline false means "no deadline", not "due in zero days".
type DeadlineStatus struct {
	HasDeadline   bool `json:"has_deadline"`
	Overdue       bool `json:"overdue"`
	DaysRemaining int  `json:"days_remaining"`
}

type PaymentEntry struct {
	Method      string `json:"method"`
	AmountCents int64  `json:"amount_cents"`
}

// PaymentTender is an ordered set of payment entries offered against a total.
// It has no identity of its own and is discarded once the operation finishes.
type PaymentTender []PaymentEntry

func (t PaymentTender) TotalCents() int64 {
	total := int64(0)
	for _, entry := range t {
		total += entry.AmountCents
	}
	return total
}

// LineResolution is the client-reported disposition for one shipment line.
type LineResolution struct {
	LineID           string `json:"line_id"`
	QuantityKept     int    `json:"quantity_kept"`
	QuantityReturned int    `json:"quantity_returned"`
	ItemStatus       string `json:"item_status"`
}

// SettlementRequest is one orchestration call: a batch of per-line
// resolutions plus the optional sale-creation instruction.
type SettlementRequest struct {
	Resolutions    []LineResolution `json:"resolutions"`
	CreateSale     bool             `json:"create_sale"`
	Tender         PaymentTender    `json:"tender,omitempty"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
}

// TenderValidation accumulates every problem with a proposed tender so the
// caller can surface all of them in one pass.
type TenderValidation struct {
	Valid          bool     `json:"valid"`
	Errors         []string `json:"errors,omitempty"`
	ShortfallCents int64    `json:"shortfall_cents,omitempty"`
}

type SaleItem struct {
	SKU            string `json:"sku"`
	Quantity       int    `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents"`
}

// SaleRequest is what the orchestrator hands to the sale-creation service
// once a settlement completes with a valid tender.
type SaleRequest struct {
	ShipmentID     string        `json:"shipment_id,omitempty"`
	CustomerID     string        `json:"customer_id,omitempty"`
	Items          []SaleItem    `json:"items"`
	TotalCents     int64         `json:"total_cents"`
	Tender         PaymentTender `json:"tender"`
	IdempotencyKey string        `json:"idempotency_key"`
}

type Sale struct {
	ID             string        `json:"id"`
	StoreID        string        `json:"store_id"`
	ShipmentID     string        `json:"shipment_id,omitempty"`
	CustomerID     string        `json:"customer_id,omitempty"`
	Items          []SaleItem    `json:"items"`
	TotalCents     int64         `json:"total_cents"`
	Tender         PaymentTender `json:"tender"`
	Status         string        `json:"status"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// SettlementOutcome carries everything the caller needs after a successful
// resolution: the new status, the updated lines, and, when a sale was
// requested, either the validated sale request or the tender errors that
// blocked it. A present TenderResult with Valid false means the shipment is
// resolved but sale creation must be retried separately.
type SettlementOutcome struct {
	Status         string            `json:"status"`
	Lines          []ShipmentLine    `json:"lines"`
	ReturnedAt     *time.Time        `json:"returned_at,omitempty"`
	CompletedAt    *time.Time        `json:"completed_at,omitempty"`
	KeptValueCents int64             `json:"kept_value_cents"`
	SaleRequest    *SaleRequest      `json:"sale_request,omitempty"`
	TenderResult   *TenderValidation `json:"tender_result,omitempty"`
}

type Product struct {
	SKU        string `json:"sku"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Stock      int    `json:"stock"`
	Active     bool   `json:"active"`
}

type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
}

type ProductCreateRequest struct {
	SKU          string `json:"sku"`
	Name         string `json:"name"`
	PriceCents   int64  `json:"price_cents"`
	InitialStock int    `json:"initial_stock"`
}

type ShipmentLineInput struct {
	SKU      string `json:"sku" validate:"required"`
	Quantity int    `json:"quantity" validate:"required,gt=0"`
}

type ShipmentCreateRequest struct {
	StoreID      string              `json:"store_id,omitempty"`
	CustomerID   string              `json:"customer_id" validate:"required"`
	DeadlineDays int                 `json:"deadline_days,omitempty" validate:"omitempty,gt=0"`
	Lines        []ShipmentLineInput `json:"lines" validate:"required,min=1,dive"`
}

// ShipmentView pairs a shipment with its computed deadline state for
// presentation; the stored record never carries derived overdue flags.
type ShipmentView struct {
	Shipment Shipment       `json:"shipment"`
	Deadline DeadlineStatus `json:"deadline_status"`
}

type ShipmentListResponse struct {
	Shipments []ShipmentView `json:"shipments"`
}

type SettleShipmentResponse struct {
	Shipment ShipmentView      `json:"shipment"`
	Outcome  SettlementOutcome `json:"outcome"`
	Sale     *Sale             `json:"sale,omitempty"`
	// SaleError is set when the resolution committed but the sale itself could
	// not be created; the client retries via the shipment sale endpoint.
	SaleError string `json:"sale_error,omitempty"`
}

// ShipmentSaleRequest retries sale creation for a shipment whose resolution
// already committed but whose sale was blocked by a bad tender or a storage
// failure.
type ShipmentSaleRequest struct {
	Tender         PaymentTender `json:"tender" validate:"required,min=1"`
	IdempotencyKey string        `json:"idempotency_key,omitempty"`
}

type ShipmentSaleResponse struct {
	Sale         *Sale             `json:"sale,omitempty"`
	Duplicate    bool              `json:"duplicate,omitempty"`
	TenderResult *TenderValidation `json:"tender_result,omitempty"`
}

type CartItem struct {
	SKU      string `json:"sku" validate:"required"`
	Quantity int    `json:"quantity" validate:"required,gt=0"`
}

type CheckoutRequest struct {
	StoreID        string         `json:"store_id,omitempty"`
	CustomerID     string         `json:"customer_id,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Items          []CartItem     `json:"items" validate:"required,min=1,dive"`
	Tender         []PaymentEntry `json:"tender" validate:"required,min=1"`
}

type CheckoutResponse struct {
	Sale      Sale  `json:"sale"`
	Duplicate bool  `json:"duplicate"`
	ChangeDue int64 `json:"change_due_cents"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type AuditLog struct {
	ID            string    `json:"id"`
	StoreID       string    `json:"store_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type SellerCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type SellerUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}
