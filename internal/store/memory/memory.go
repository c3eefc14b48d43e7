package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/store"
	"apotekpos/backend/internal/xid"
)

// Store is a mutex-guarded in-memory implementation of store.Repository for
// dev mode and unit tests. The single mutex makes every operation atomic,
// which gives CreateSale and ReceivePurchaseOrder the same all-or-nothing
// semantics the postgres store gets from transactions.
type Store struct {
	mu               sync.Mutex
	nextProductID    int64
	productsByID     map[int64]domain.Product
	salesByID        map[string]domain.Sale
	clientsByID      map[string]domain.Client
	suppliersByID    map[string]domain.Supplier
	purchasesByID    map[string]domain.PurchaseOrder
	auditLogs        []domain.AuditLog
	usersByUsername  map[string]domain.UserAccount
	saleOrder        []string
	purchaseOrder    []string
}

func New() *Store {
	return &Store{
		nextProductID:   1,
		productsByID:    make(map[int64]domain.Product),
		salesByID:       make(map[string]domain.Sale),
		clientsByID:     make(map[string]domain.Client),
		suppliersByID:   make(map[string]domain.Supplier),
		purchasesByID:   make(map[string]domain.PurchaseOrder),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns a store preloaded with a small pharmacy catalog and the
// dev admin/cashier accounts.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	seed := []domain.Product{
		{SKU: "MED-PARA-500", Name: "Paracetamol 500mg", Category: "analgesic", UnitPrice: decimal.NewFromFloat(2.50), Stock: 120},
		{SKU: "MED-AMOX-500", Name: "Amoxicillin 500mg", Category: "antibiotic", UnitPrice: decimal.NewFromFloat(6.80), Stock: 80},
		{SKU: "MED-IBU-400", Name: "Ibuprofen 400mg", Category: "analgesic", UnitPrice: decimal.NewFromFloat(3.20), Stock: 95},
		{SKU: "SUP-VITC-1000", Name: "Vitamin C 1000mg", Category: "supplement", UnitPrice: decimal.NewFromFloat(4.10), Stock: 150},
		{SKU: "MED-CETI-10", Name: "Cetirizine 10mg", Category: "antihistamine", UnitPrice: decimal.NewFromFloat(2.90), Stock: 60},
		{SKU: "MED-OMEP-20", Name: "Omeprazole 20mg", Category: "antacid", UnitPrice: decimal.NewFromFloat(5.40), Stock: 70},
		{SKU: "CARE-GAUZE-01", Name: "Sterile Gauze Pads", Category: "first-aid", UnitPrice: decimal.NewFromFloat(1.80), Stock: 200},
		{SKU: "CARE-THERM-01", Name: "Digital Thermometer", Category: "device", UnitPrice: decimal.NewFromFloat(12.00), Stock: 25},
	}
	for _, p := range seed {
		p.ID = s.nextProductID
		s.nextProductID++
		p.UpdatedAt = now
		s.productsByID[p.ID] = p
	}
	s.usersByUsername = seedUsers()
	return s
}

// seedUsers builds the initial dev/demo user accounts. Credentials come from
// SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; if unset, hardcoded dev
// defaults are used with a warning. Production deployments use PostgreSQL and
// never hit this path.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
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

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	products := make([]domain.Product, 0, len(s.productsByID))
	for _, p := range s.productsByID {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].SKU < products[j].SKU })
	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.productsByID {
		if strings.EqualFold(existing.SKU, product.SKU) {
			return nil, fmt.Errorf("sku %s already exists: %w", product.SKU, store.ErrInvalidInput)
		}
	}
	product.ID = s.nextProductID
	s.nextProductID++
	if product.UpdatedAt.IsZero() {
		product.UpdatedAt = time.Now().UTC()
	}
	s.productsByID[product.ID] = product
	return &product, nil
}

func (s *Store) GetProductByID(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.productsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *Store) GetProductBySKU(_ context.Context, sku string) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.productsByID {
		if strings.EqualFold(p.SKU, sku) {
			return &p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.productsByID[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	// Stock stays as-is: catalog edits never touch quantity on hand.
	existing.Name = product.Name
	existing.Category = product.Category
	existing.UnitPrice = product.UnitPrice
	existing.UpdatedAt = time.Now().UTC()
	s.productsByID[existing.ID] = existing
	return &existing, nil
}

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(sale.Items) == 0 {
		return nil, store.ErrInvalidInput
	}

	// Stage the decrements against a copy of the current stocks so a failure
	// on any line leaves the real map untouched.
	staged := make(map[int64]int, len(sale.Items))
	subtotal := decimal.Zero
	for _, item := range sale.Items {
		if item.Quantity < 1 || item.PriceAtSale.IsNegative() {
			return nil, store.ErrInvalidInput
		}
		p, ok := s.productsByID[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("product %d: %w", item.ProductID, store.ErrNotFound)
		}
		available, seen := staged[item.ProductID]
		if !seen {
			available = p.Stock
		}
		if available < item.Quantity {
			return nil, &store.InsufficientStockError{
				ProductID: item.ProductID,
				Available: available,
				Requested: item.Quantity,
			}
		}
		staged[item.ProductID] = available - item.Quantity
		subtotal = subtotal.Add(item.PriceAtSale.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	for id, remaining := range staged {
		p := s.productsByID[id]
		p.Stock = remaining
		p.UpdatedAt = time.Now().UTC()
		s.productsByID[id] = p
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
	s.salesByID[sale.ID] = sale
	s.saleOrder = append(s.saleOrder, sale.ID)
	return &sale, nil
}

func (s *Store) GetSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sale, nil
}

func (s *Store) ListSales(_ context.Context, limit int) ([]domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit < 1 {
		limit = 100
	}
	sales := make([]domain.Sale, 0, limit)
	for i := len(s.saleOrder) - 1; i >= 0 && len(sales) < limit; i-- {
		sales = append(sales, s.salesByID[s.saleOrder[i]])
	}
	return sales, nil
}

func (s *Store) CreateClient(_ context.Context, client domain.Client) (*domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if client.ExternalID != "" {
		for _, existing := range s.clientsByID {
			if existing.ExternalID == client.ExternalID {
				return nil, fmt.Errorf("client external id already exists: %w", store.ErrInvalidInput)
			}
		}
	}
	if client.ID == "" {
		client.ID = xid.New("cli")
	}
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now().UTC()
	}
	s.clientsByID[client.ID] = client
	return &client, nil
}

func (s *Store) GetClientByID(_ context.Context, id string) (*domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.clientsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (s *Store) ListClients(_ context.Context) ([]domain.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clients := make([]domain.Client, 0, len(s.clientsByID))
	for _, c := range s.clientsByID {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].Name < clients[j].Name })
	return clients, nil
}

func (s *Store) AddLoyaltyPoints(_ context.Context, clientID string, points int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if points < 0 {
		return store.ErrInvalidInput
	}
	c, ok := s.clientsByID[clientID]
	if !ok {
		return store.ErrNotFound
	}
	c.LoyaltyPoints += points
	s.clientsByID[clientID] = c
	return nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}
	s.suppliersByID[supplier.ID] = supplier
	return &supplier, nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	suppliers := make([]domain.Supplier, 0, len(s.suppliersByID))
	for _, sp := range s.suppliersByID {
		suppliers = append(suppliers, sp)
	}
	sort.Slice(suppliers, func(i, j int) bool { return suppliers[i].Name < suppliers[j].Name })
	return suppliers, nil
}

func (s *Store) CreatePurchaseOrder(_ context.Context, po domain.PurchaseOrder) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

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
	s.purchasesByID[po.ID] = po
	s.purchaseOrder = append(s.purchaseOrder, po.ID)
	return &po, nil
}

func (s *Store) GetPurchaseOrderByID(_ context.Context, id string) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	po, ok := s.purchasesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &po, nil
}

func (s *Store) ListPurchaseOrders(_ context.Context, status string, limit int) ([]domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit < 1 {
		limit = 100
	}
	orders := make([]domain.PurchaseOrder, 0, limit)
	for i := len(s.purchaseOrder) - 1; i >= 0 && len(orders) < limit; i-- {
		po := s.purchasesByID[s.purchaseOrder[i]]
		if status != "" && string(po.Status) != status {
			continue
		}
		orders = append(orders, po)
	}
	return orders, nil
}

func (s *Store) ReceivePurchaseOrder(_ context.Context, id string, receivedAt time.Time) (*domain.PurchaseOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	po, ok := s.purchasesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !po.Status.CanReceive() {
		return nil, store.ErrAlreadyReceived
	}

	// Validate every line before crediting any stock.
	for _, item := range po.Items {
		if _, ok := s.productsByID[item.ProductID]; !ok {
			return nil, fmt.Errorf("product %d: %w", item.ProductID, store.ErrNotFound)
		}
	}
	for _, item := range po.Items {
		p := s.productsByID[item.ProductID]
		p.Stock += item.Quantity
		p.UpdatedAt = time.Now().UTC()
		s.productsByID[item.ProductID] = p
	}

	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	po.Status = domain.PurchaseStatusReceived
	po.ReceivedAt = &receivedAt
	s.purchasesByID[id] = po
	return &po, nil
}

func (s *Store) GetStockRanking(_ context.Context, limit int) ([]domain.StockRankingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit < 1 {
		limit = 50
	}
	entries := make([]domain.StockRankingEntry, 0, len(s.productsByID))
	for _, p := range s.productsByID {
		entries = append(entries, domain.StockRankingEntry{
			ProductID: p.ID,
			SKU:       p.SKU,
			Name:      p.Name,
			Category:  p.Category,
			Stock:     p.Stock,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Stock != entries[j].Stock {
			return entries[i].Stock < entries[j].Stock
		}
		return entries[i].SKU < entries[j].SKU
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit < 1 {
		limit = 100
	}
	logs := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(logs) < limit; i-- {
		entry := s.auditLogs[i]
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.usersByUsername[user.Username]; exists {
		return fmt.Errorf("username already exists: %w", store.ErrInvalidInput)
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, u := range s.usersByUsername {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Username < users[j].Username })
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.usersByUsername[username]
	if !ok {
		return store.ErrNotFound
	}
	u.Password = password
	s.usersByUsername[username] = u
	return nil
}
