package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	_ "github.com/jackc/pgx/v5/stdlib"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/store"
	"apotekpos/backend/internal/xid"
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

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, name, category, unit_price, stock, updated_at
		FROM products
		ORDER BY sku ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &p.UnitPrice, &p.Stock, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.UpdatedAt = p.UpdatedAt.UTC()
		products = append(products, p)
	}
	return products, rows.Err()
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO products (sku, name, category, unit_price, stock, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id
	`, product.SKU, product.Name, product.Category, product.UnitPrice, product.Stock, product.UpdatedAt).Scan(&product.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("sku %s already exists: %w", product.SKU, store.ErrInvalidInput)
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) GetProductByID(ctx context.Context, id int64) (*domain.Product, error) {
	return s.getProduct(ctx, `WHERE id = $1`, id)
}

func (s *Store) GetProductBySKU(ctx context.Context, sku string) (*domain.Product, error) {
	return s.getProduct(ctx, `WHERE sku = $1`, sku)
}

func (s *Store) getProduct(ctx context.Context, where string, arg any) (*domain.Product, error) {
	var p domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, sku, name, category, unit_price, stock, updated_at
		FROM products `+where,
		arg).Scan(&p.ID, &p.SKU, &p.Name, &p.Category, &p.UnitPrice, &p.Stock, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	p.UpdatedAt = p.UpdatedAt.UTC()
	return &p, nil
}

// UpdateProduct writes catalog fields only. Stock is intentionally absent
// from the UPDATE: only CreateSale and ReceivePurchaseOrder touch it.
func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, unit_price = $4, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.Category, product.UnitPrice)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetProductByID(ctx, product.ID)
}

// CreateSale persists a sale and decrements stock for every line item as one
// serializable transaction. Product rows are locked FOR UPDATE before the
// quantity check so concurrent sales of the same product serialize instead of
// both passing a stale read. Any failure rolls back everything, including
// decrements already applied for earlier items.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if len(sale.Items) == 0 {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	ids := uniqueProductIDs(sale.Items)
	rows, err := tx.QueryContext(ctx, `
		SELECT id, stock
		FROM products
		WHERE id = ANY($1)
		ORDER BY id ASC
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, err
	}
	stockByID := make(map[int64]int, len(ids))
	for rows.Next() {
		var id int64
		var stock int
		if err := rows.Scan(&id, &stock); err != nil {
			_ = rows.Close()
			return nil, err
		}
		stockByID[id] = stock
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	subtotal := decimal.Zero
	for _, item := range sale.Items {
		if item.Quantity < 1 || item.PriceAtSale.IsNegative() {
			return nil, store.ErrInvalidInput
		}
		available, exists := stockByID[item.ProductID]
		if !exists {
			return nil, fmt.Errorf("product %d: %w", item.ProductID, store.ErrNotFound)
		}
		if available < item.Quantity {
			return nil, &store.InsufficientStockError{
				ProductID: item.ProductID,
				Available: available,
				Requested: item.Quantity,
			}
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock - $1, updated_at = now()
			WHERE id = $2
		`, item.Quantity, item.ProductID)
		if err != nil {
			return nil, err
		}

		// Track the remainder locally so a cart holding the same product
		// twice is checked against what this transaction already took.
		stockByID[item.ProductID] = available - item.Quantity
		subtotal = subtotal.Add(item.PriceAtSale.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	sale.Subtotal = subtotal
	sale.Total = subtotal
	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	if sale.Status == "" {
		sale.Status = domain.SaleStatusCompleted
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (id, client_id, subtotal, total, payment_method, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, sale.ID, nullIfEmpty(sale.ClientID), sale.Subtotal, sale.Total, sale.PaymentMethod, sale.Status, sale.CreatedAt)
	if err != nil {
		return nil, err
	}

	for _, item := range sale.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, qty, price_at_sale)
			VALUES ($1,$2,$3,$4)
		`, sale.ID, item.ProductID, item.Quantity, item.PriceAtSale)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &sale, nil
}

func (s *Store) GetSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	var sale domain.Sale
	var clientID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, client_id, subtotal, total, payment_method, status, created_at
		FROM sales
		WHERE id = $1
	`, id).Scan(&sale.ID, &clientID, &sale.Subtotal, &sale.Total, &sale.PaymentMethod, &sale.Status, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.ClientID = clientID.String
	sale.CreatedAt = sale.CreatedAt.UTC()

	items, err := s.loadSaleItems(ctx, sale.ID)
	if err != nil {
		return nil, err
	}
	sale.Items = items
	return &sale, nil
}

func (s *Store) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_id, subtotal, total, payment_method, status, created_at
		FROM sales
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, limit)
	for rows.Next() {
		var sale domain.Sale
		var clientID sql.NullString
		if err := rows.Scan(&sale.ID, &clientID, &sale.Subtotal, &sale.Total, &sale.PaymentMethod, &sale.Status, &sale.CreatedAt); err != nil {
			return nil, err
		}
		sale.ClientID = clientID.String
		sale.CreatedAt = sale.CreatedAt.UTC()
		sales = append(sales, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range sales {
		items, err := s.loadSaleItems(ctx, sales[i].ID)
		if err != nil {
			return nil, err
		}
		sales[i].Items = items
	}
	return sales, nil
}

func (s *Store) loadSaleItems(ctx context.Context, saleID string) ([]domain.SaleItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, qty, price_at_sale
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY id ASC
	`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.SaleItem, 0, 8)
	for rows.Next() {
		var item domain.SaleItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.PriceAtSale); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *Store) CreateClient(ctx context.Context, client domain.Client) (*domain.Client, error) {
	if client.ID == "" {
		client.ID = xid.New("cli")
	}
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, external_id, name, phone, email, loyalty_points, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, client.ID, nullIfEmpty(client.ExternalID), client.Name, client.Phone, client.Email, client.LoyaltyPoints, client.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("client external id already exists: %w", store.ErrInvalidInput)
		}
		return nil, err
	}
	return &client, nil
}

func (s *Store) GetClientByID(ctx context.Context, id string) (*domain.Client, error) {
	var c domain.Client
	var externalID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, external_id, name, phone, email, loyalty_points, created_at
		FROM clients
		WHERE id = $1
	`, id).Scan(&c.ID, &externalID, &c.Name, &c.Phone, &c.Email, &c.LoyaltyPoints, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	c.ExternalID = externalID.String
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) ListClients(ctx context.Context) ([]domain.Client, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, external_id, name, phone, email, loyalty_points, created_at
		FROM clients
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	clients := make([]domain.Client, 0, 32)
	for rows.Next() {
		var c domain.Client
		var externalID sql.NullString
		if err := rows.Scan(&c.ID, &externalID, &c.Name, &c.Phone, &c.Email, &c.LoyaltyPoints, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.ExternalID = externalID.String
		c.CreatedAt = c.CreatedAt.UTC()
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

func (s *Store) AddLoyaltyPoints(ctx context.Context, clientID string, points int) error {
	if points < 0 {
		return store.ErrInvalidInput
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE clients
		SET loyalty_points = loyalty_points + $1
		WHERE id = $2
	`, points, clientID)
	if err != nil {
		return err
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

func (s *Store) CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO suppliers (id, name, phone, email, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, supplier.ID, supplier.Name, supplier.Phone, supplier.Email, supplier.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &supplier, nil
}

func (s *Store) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phone, email, created_at
		FROM suppliers
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	suppliers := make([]domain.Supplier, 0, 16)
	for rows.Next() {
		var sp domain.Supplier
		if err := rows.Scan(&sp.ID, &sp.Name, &sp.Phone, &sp.Email, &sp.CreatedAt); err != nil {
			return nil, err
		}
		sp.CreatedAt = sp.CreatedAt.UTC()
		suppliers = append(suppliers, sp)
	}
	return suppliers, rows.Err()
}

// CreatePurchaseOrder inserts the order and its line items in one
// transaction. Stock is deliberately untouched until the order is received.
func (s *Store) CreatePurchaseOrder(ctx context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	if len(po.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	if po.ID == "" {
		po.ID = xid.New("po")
	}
	if po.CreatedAt.IsZero() {
		po.CreatedAt = time.Now().UTC()
	}
	if po.Status == "" {
		po.Status = domain.PurchaseStatusPending
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO purchase_orders (id, supplier_id, total, status, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, po.ID, nullIfEmpty(po.SupplierID), po.Total, string(po.Status), po.CreatedAt)
	if err != nil {
		return nil, err
	}

	for _, item := range po.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO purchase_order_items (purchase_order_id, product_id, qty, cost_price)
			VALUES ($1,$2,$3,$4)
		`, po.ID, item.ProductID, item.Quantity, item.CostPrice)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &po, nil
}

func (s *Store) GetPurchaseOrderByID(ctx context.Context, id string) (*domain.PurchaseOrder, error) {
	var po domain.PurchaseOrder
	var supplierID sql.NullString
	var status string
	var receivedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, supplier_id, total, status, created_at, received_at
		FROM purchase_orders
		WHERE id = $1
	`, id).Scan(&po.ID, &supplierID, &po.Total, &status, &po.CreatedAt, &receivedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	po.SupplierID = supplierID.String
	po.Status = domain.PurchaseOrderStatus(status)
	po.CreatedAt = po.CreatedAt.UTC()
	if receivedAt.Valid {
		at := receivedAt.Time.UTC()
		po.ReceivedAt = &at
	}

	items, err := s.loadPurchaseItems(ctx, po.ID)
	if err != nil {
		return nil, err
	}
	po.Items = items
	return &po, nil
}

func (s *Store) ListPurchaseOrders(ctx context.Context, status string, limit int) ([]domain.PurchaseOrder, error) {
	if limit < 1 {
		limit = 100
	}
	query := `
		SELECT id, supplier_id, total, status, created_at, received_at
		FROM purchase_orders
	`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1 ORDER BY created_at DESC LIMIT $2`
		args = append(args, status, limit)
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]domain.PurchaseOrder, 0, limit)
	for rows.Next() {
		var po domain.PurchaseOrder
		var supplierID sql.NullString
		var st string
		var receivedAt sql.NullTime
		if err := rows.Scan(&po.ID, &supplierID, &po.Total, &st, &po.CreatedAt, &receivedAt); err != nil {
			return nil, err
		}
		po.SupplierID = supplierID.String
		po.Status = domain.PurchaseOrderStatus(st)
		po.CreatedAt = po.CreatedAt.UTC()
		if receivedAt.Valid {
			at := receivedAt.Time.UTC()
			po.ReceivedAt = &at
		}
		orders = append(orders, po)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range orders {
		items, err := s.loadPurchaseItems(ctx, orders[i].ID)
		if err != nil {
			return nil, err
		}
		orders[i].Items = items
	}
	return orders, nil
}

func (s *Store) loadPurchaseItems(ctx context.Context, purchaseOrderID string) ([]domain.PurchaseItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT product_id, qty, cost_price
		FROM purchase_order_items
		WHERE purchase_order_id = $1
		ORDER BY id ASC
	`, purchaseOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.PurchaseItem, 0, 8)
	for rows.Next() {
		var item domain.PurchaseItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.CostPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ReceivePurchaseOrder flips the order to received and credits stock for
// every line item in one serializable transaction. The order row is locked
// first so a concurrent receive of the same order blocks and then fails the
// status check instead of crediting twice. Any failure rolls back the status
// change and every increment already applied.
func (s *Store) ReceivePurchaseOrder(ctx context.Context, id string, receivedAt time.Time) (*domain.PurchaseOrder, error) {
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var po domain.PurchaseOrder
	var supplierID sql.NullString
	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT id, supplier_id, total, status, created_at
		FROM purchase_orders
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&po.ID, &supplierID, &po.Total, &status, &po.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	po.SupplierID = supplierID.String
	po.Status = domain.PurchaseOrderStatus(status)
	po.CreatedAt = po.CreatedAt.UTC()
	if !po.Status.CanReceive() {
		return nil, store.ErrAlreadyReceived
	}

	itemRows, err := tx.QueryContext(ctx, `
		SELECT product_id, qty, cost_price
		FROM purchase_order_items
		WHERE purchase_order_id = $1
		ORDER BY id ASC
	`, id)
	if err != nil {
		return nil, err
	}
	items := make([]domain.PurchaseItem, 0, 8)
	for itemRows.Next() {
		var item domain.PurchaseItem
		if err := itemRows.Scan(&item.ProductID, &item.Quantity, &item.CostPrice); err != nil {
			_ = itemRows.Close()
			return nil, err
		}
		items = append(items, item)
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return nil, err
	}
	_ = itemRows.Close()
	if len(items) == 0 {
		return nil, store.ErrInvalidInput
	}
	po.Items = items

	ids := make([]int64, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	lockRows, err := tx.QueryContext(ctx, `
		SELECT id
		FROM products
		WHERE id = ANY($1)
		ORDER BY id ASC
		FOR UPDATE
	`, ids)
	if err != nil {
		return nil, err
	}
	locked := make(map[int64]bool, len(ids))
	for lockRows.Next() {
		var productID int64
		if err := lockRows.Scan(&productID); err != nil {
			_ = lockRows.Close()
			return nil, err
		}
		locked[productID] = true
	}
	if err := lockRows.Err(); err != nil {
		_ = lockRows.Close()
		return nil, err
	}
	_ = lockRows.Close()

	for _, item := range items {
		if !locked[item.ProductID] {
			return nil, fmt.Errorf("product %d: %w", item.ProductID, store.ErrNotFound)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE products
			SET stock = stock + $1, updated_at = now()
			WHERE id = $2
		`, item.Quantity, item.ProductID)
		if err != nil {
			return nil, err
		}
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE purchase_orders
		SET status = $2, received_at = $3
		WHERE id = $1 AND status = $4
	`, id, string(domain.PurchaseStatusReceived), receivedAt, string(domain.PurchaseStatusPending))
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrAlreadyReceived
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	po.Status = domain.PurchaseStatusReceived
	po.ReceivedAt = &receivedAt
	return &po, nil
}

func (s *Store) GetStockRanking(ctx context.Context, limit int) ([]domain.StockRankingEntry, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sku, name, category, stock
		FROM products
		ORDER BY stock ASC, sku ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.StockRankingEntry, 0, limit)
	for rows.Next() {
		var e domain.StockRankingEntry
		if err := rows.Scan(&e.ProductID, &e.SKU, &e.Name, &e.Category, &e.Stock); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5)
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("username already exists: %w", store.ErrInvalidInput)
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM users
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET password = $2
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
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

func uniqueProductIDs(items []domain.SaleItem) []int64 {
	seen := make(map[int64]bool, len(items))
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		if seen[item.ProductID] {
			continue
		}
		seen[item.ProductID] = true
		ids = append(ids, item.ProductID)
	}
	return ids
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}
