package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"condicional/backend/internal/domain"
	"condicional/backend/internal/store"
	"condicional/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateShipment(ctx context.Context, shipment domain.Shipment) (*domain.Shipment, error) {
	if shipment.ID == "" || shipment.CustomerID == "" || len(shipment.Lines) == 0 {
		return nil, store.ErrInvalidShipment
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, mapConnErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO shipments (id, store_id, customer_id, status, deadline_days, sale_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,'',$6,$6)
	`, shipment.ID, shipment.StoreID, shipment.CustomerID, shipment.Status, shipment.DeadlineDays, shipment.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, mapConnErr(err)
	}

	for _, line := range shipment.Lines {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO shipment_lines (
				id, shipment_id, sku, product_name, qty_sent, qty_kept, qty_returned, unit_price_cents, item_status
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, line.ID, shipment.ID, line.SKU, line.ProductName, line.QuantitySent, line.QuantityKept, line.QuantityReturned, line.UnitPriceCents, line.ItemStatus)
		if err != nil {
			return nil, mapConnErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, mapConnErr(err)
	}

	created := shipment
	return &created, nil
}

func (s *Store) GetShipmentByID(ctx context.Context, id string) (*domain.Shipment, error) {
	shipment, err := s.scanShipment(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return shipment, nil
}

type rowQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) scanShipment(ctx context.Context, q rowQuerier, id string) (*domain.Shipment, error) {
	var shipment domain.Shipment
	var sentAt, deadline, returnedAt, completedAt sql.NullTime

	err := q.QueryRowContext(ctx, `
		SELECT id, store_id, customer_id, status, deadline_days, sent_at, deadline, returned_at, completed_at,
			COALESCE(sale_id,''), created_at, updated_at
		FROM shipments
		WHERE id = $1
	`, id).Scan(
		&shipment.ID,
		&shipment.StoreID,
		&shipment.CustomerID,
		&shipment.Status,
		&shipment.DeadlineDays,
		&sentAt,
		&deadline,
		&returnedAt,
		&completedAt,
		&shipment.SaleID,
		&shipment.CreatedAt,
		&shipment.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, mapConnErr(err)
	}
	shipment.SentAt = nullableTime(sentAt)
	shipment.Deadline = nullableTime(deadline)
	shipment.ReturnedAt = nullableTime(returnedAt)
	shipment.CompletedAt = nullableTime(completedAt)
	shipment.CreatedAt = shipment.CreatedAt.UTC()
	shipment.UpdatedAt = shipment.UpdatedAt.UTC()

	lines, err := s.scanLines(ctx, q, shipment.ID)
	if err != nil {
		return nil, err
	}
	shipment.Lines = lines

	return &shipment, nil
}

func (s *Store) scanLines(ctx context.Context, q rowQuerier, shipmentID string) ([]domain.ShipmentLine, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, sku, product_name, qty_sent, qty_kept, qty_returned, unit_price_cents, item_status
		FROM shipment_lines
		WHERE shipment_id = $1
		ORDER BY id ASC
	`, shipmentID)
	if err != nil {
		return nil, mapConnErr(err)
	}
	defer rows.Close()

	lines := make([]domain.ShipmentLine, 0, 8)
	for rows.Next() {
		var line domain.ShipmentLine
		if err := rows.Scan(&line.ID, &line.SKU, &line.ProductName, &line.QuantitySent, &line.QuantityKept, &line.QuantityReturned, &line.UnitPriceCents, &line.ItemStatus); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, mapConnErr(err)
	}
	return lines, nil
}

func (s *Store) ListShipments(ctx context.Context, storeID string, status string, limit int) ([]domain.Shipment, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id
		FROM shipments
		WHERE ($1 = '' OR store_id = $1)
			AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, storeID, status, limit)
	if err != nil {
		return nil, mapConnErr(err)
	}
	defer rows.Close()

	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, mapConnErr(err)
	}

	return s.loadShipments(ctx, ids)
}

func (s *Store) ListShipmentsByCustomer(ctx context.Context, customerID string, limit int) ([]domain.Shipment, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id
		FROM shipments
		WHERE customer_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, customerID, limit)
	if err != nil {
		return nil, mapConnErr(err)
	}
	defer rows.Close()

	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, mapConnErr(err)
	}

	return s.loadShipments(ctx, ids)
}

func (s *Store) loadShipments(ctx context.Context, ids []string) ([]domain.Shipment, error) {
	shipments := make([]domain.Shipment, 0, len(ids))
	for _, id := range ids {
		shipment, err := s.scanShipment(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		shipments = append(shipments, *shipment)
	}
	return shipments, nil
}

func (s *Store) MarkShipmentSent(ctx context.Context, sent domain.Shipment) (*domain.Shipment, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, mapConnErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM shipments WHERE id = $1 FOR UPDATE
	`, sent.ID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, mapConnErr(err)
	}
	if status != domain.ShipmentStatusPending {
		return nil, store.ErrConflict
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE shipments
		SET status = $2, sent_at = $3, deadline = $4, updated_at = $5
		WHERE id = $1
	`, sent.ID, sent.Status, sent.SentAt, sent.Deadline, sent.UpdatedAt)
	if err != nil {
		return nil, mapConnErr(err)
	}
	for _, line := range sent.Lines {
		_, err = tx.ExecContext(ctx, `
			UPDATE shipment_lines SET item_status = $3 WHERE shipment_id = $1 AND id = $2
		`, sent.ID, line.ID, line.ItemStatus)
		if err != nil {
			return nil, mapConnErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, mapConnErr(err)
	}
	return s.GetShipmentByID(ctx, sent.ID)
}

// ApplySettlement writes the resolved line quantities, the terminal status,
// the lifecycle timestamps and the returned-unit restock in one serializable
// transaction. Re-applying the same terminal status is a no-op so a caller
// that lost the response of a previous attempt can simply retry without
// restocking twice.
func (s *Store) ApplySettlement(ctx context.Context, update store.SettlementUpdate) (*domain.Shipment, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, mapConnErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM shipments WHERE id = $1 FOR UPDATE
	`, update.ShipmentID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, mapConnErr(err)
	}

	switch status {
	case domain.ShipmentStatusSent:
	case update.Status:
		_ = tx.Rollback()
		return s.GetShipmentByID(ctx, update.ShipmentID)
	default:
		return nil, store.ErrConflict
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE shipments
		SET status = $2, returned_at = $3, completed_at = $4, updated_at = $5
		WHERE id = $1
	`, update.ShipmentID, update.Status, update.ReturnedAt, update.CompletedAt, update.UpdatedAt)
	if err != nil {
		return nil, mapConnErr(err)
	}

	for _, line := range update.Lines {
		res, err := tx.ExecContext(ctx, `
			UPDATE shipment_lines
			SET qty_kept = $3, qty_returned = $4, item_status = $5
			WHERE shipment_id = $1 AND id = $2
		`, update.ShipmentID, line.ID, line.QuantityKept, line.QuantityReturned, line.ItemStatus)
		if err != nil {
			return nil, mapConnErr(err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, store.ErrInvalidShipment
		}
	}

	// Returned units go back to stock in the same transaction. Damaged and
	// lost lines are write-offs and are never restocked.
	for _, line := range update.Lines {
		if line.QuantityReturned == 0 {
			continue
		}
		switch line.ItemStatus {
		case domain.ItemStatusDamaged, domain.ItemStatusLost:
			continue
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE products SET stock = stock + $2 WHERE sku = $1
		`, line.SKU, line.QuantityReturned)
		if err != nil {
			return nil, mapConnErr(err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, fmt.Errorf("restock %s: %w", line.SKU, store.ErrNotFound)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, mapConnErr(err)
	}
	return s.GetShipmentByID(ctx, update.ShipmentID)
}

func (s *Store) LinkSale(ctx context.Context, shipmentID string, saleID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE shipments
		SET sale_id = $2, updated_at = now()
		WHERE id = $1 AND (sale_id = '' OR sale_id IS NULL OR sale_id = $2)
	`, shipmentID, saleID)
	if err != nil {
		return mapConnErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT true FROM shipments WHERE id = $1`, shipmentID).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return mapConnErr(err)
		}
		return store.ErrConflict
	}
	return nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.ID == "" || len(sale.Items) == 0 {
		return nil, store.ErrInvalidShipment
	}

	tenderJSON, err := json.Marshal(sale.Tender)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, mapConnErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, store_id, shipment_id, customer_id, total_cents, tender, status, idempotency_key, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,NULLIF($8,''),$9)
	`, sale.ID, sale.StoreID, sale.ShipmentID, sale.CustomerID, sale.TotalCents, tenderJSON, sale.Status, sale.IdempotencyKey, sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, mapConnErr(err)
	}

	for _, item := range sale.Items {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, sku, qty, unit_price_cents)
			VALUES ($1,$2,$3,$4)
		`, sale.ID, item.SKU, item.Quantity, item.UnitPriceCents)
		if err != nil {
			return nil, mapConnErr(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, mapConnErr(err)
	}

	created := sale
	return &created, nil
}

func (s *Store) FindSaleByIdempotency(ctx context.Context, key string) (*domain.Sale, error) {
	return s.findSale(ctx, "idempotency_key", key)
}

func (s *Store) FindSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	return s.findSale(ctx, "id", id)
}

func (s *Store) findSale(ctx context.Context, column string, value string) (*domain.Sale, error) {
	if column != "id" && column != "idempotency_key" {
		return nil, fmt.Errorf("unsupported lookup column")
	}

	var sale domain.Sale
	var tenderRaw []byte

	query := fmt.Sprintf(`
		SELECT id, store_id, COALESCE(shipment_id,''), COALESCE(customer_id,''),
			total_cents, tender, status, COALESCE(idempotency_key,''), created_at
		FROM sales
		WHERE %s = $1
	`, column)

	err := s.db.QueryRowContext(ctx, query, value).Scan(
		&sale.ID,
		&sale.StoreID,
		&sale.ShipmentID,
		&sale.CustomerID,
		&sale.TotalCents,
		&tenderRaw,
		&sale.Status,
		&sale.IdempotencyKey,
		&sale.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, mapConnErr(err)
	}
	if len(tenderRaw) > 0 {
		if err := json.Unmarshal(tenderRaw, &sale.Tender); err != nil {
			return nil, err
		}
	}
	sale.CreatedAt = sale.CreatedAt.UTC()

	rows, err := s.db.QueryContext(ctx, `
		SELECT sku, qty, unit_price_cents
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY sku ASC
	`, sale.ID)
	if err != nil {
		return nil, mapConnErr(err)
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0, 8)
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.SKU, &item.Quantity, &item.UnitPriceCents); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, mapConnErr(err)
	}
	sale.Items = items

	return &sale, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sku, name, price_cents, stock, active
		FROM products
		WHERE active = true
		ORDER BY name
	`)
	if err != nil {
		return nil, mapConnErr(err)
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.SKU, &p.Name, &p.PriceCents, &p.Stock, &p.Active); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, mapConnErr(err)
	}

	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.SKU == "" || product.Name == "" || product.PriceCents < 1 || product.Stock < 0 {
		return nil, store.ErrInvalidShipment
	}

	product.Active = true
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (sku, name, price_cents, stock, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now(),now())
	`, product.SKU, product.Name, product.PriceCents, product.Stock, product.Active)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, mapConnErr(err)
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductsBySKUs(ctx context.Context, skus []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(skus))
	if len(skus) == 0 {
		return result, nil
	}

	placeholders := make([]string, 0, len(skus))
	args := make([]any, 0, len(skus))
	for i, sku := range skus {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+1))
		args = append(args, sku)
	}

	query := fmt.Sprintf(`
		SELECT sku, name, price_cents, stock, active
		FROM products
		WHERE active = true AND sku IN (%s)
	`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapConnErr(err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.SKU, &p.Name, &p.PriceCents, &p.Stock, &p.Active); err != nil {
			return nil, err
		}
		result[p.SKU] = p
	}
	if err := rows.Err(); err != nil {
		return nil, mapConnErr(err)
	}

	return result, nil
}

func (s *Store) AdjustStock(ctx context.Context, sku string, delta int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = now()
		WHERE sku = $1 AND stock + $2 >= 0
	`, sku, delta)
	if err != nil {
		return mapConnErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT true FROM products WHERE sku = $1`, sku).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return mapConnErr(err)
		}
		return store.ErrInsufficientStock
	}
	return nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" {
		customer.ID = xid.New("cust")
	}
	if customer.Name == "" {
		return nil, store.ErrInvalidShipment
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, name, phone, created_at)
		VALUES ($1,$2,$3,$4)
	`, customer.ID, customer.Name, customer.Phone, customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, mapConnErr(err)
	}

	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error) {
	var customer domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(phone,''), created_at
		FROM customers
		WHERE id = $1
	`, id).Scan(&customer.ID, &customer.Name, &customer.Phone, &customer.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, mapConnErr(err)
	}
	customer.CreatedAt = customer.CreatedAt.UTC()
	return &customer, nil
}

func (s *Store) ListCustomers(ctx context.Context, limit int) ([]domain.Customer, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, COALESCE(phone,''), created_at
		FROM customers
		ORDER BY name ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, mapConnErr(err)
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, limit)
	for rows.Next() {
		var c domain.Customer
		if err := rows.Scan(&c.ID, &c.Name, &c.Phone, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, mapConnErr(err)
	}
	return customers, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.StoreID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return mapConnErr(err)
}

func (s *Store) ListAuditLogs(ctx context.Context, storeID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, store_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE store_id = $1
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, storeID, from, to, limit)
	if err != nil {
		return nil, mapConnErr(err)
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.StoreID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, mapConnErr(err)
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidShipment
	}
	if user.Role == "" {
		user.Role = "seller"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return mapConnErr(err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, mapConnErr(err)
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, mapConnErr(err)
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidShipment
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return mapConnErr(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func nullableTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	at := t.Time.UTC()
	return &at
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

// mapConnErr folds connection-level failures into store.ErrUnavailable so
// callers can distinguish "retry later" from data errors. SQLSTATE class 08
// is connection exceptions, class 57 covers server shutdown and cancellation.
func mapConnErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57") {
			return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
		}
		return err
	}
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return err
}
