package service

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"apotekpos/backend/internal/cache"
	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/store"
	"apotekpos/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo         store.Repository
	rankingCache cache.RankingCache
	rankingTTL   time.Duration
}

func New(repo store.Repository, rankingCache cache.RankingCache, rankingTTL time.Duration) *Service {
	if rankingCache == nil {
		rankingCache = cache.NoopRankingCache{}
	}
	if rankingTTL <= 0 {
		rankingTTL = 60 * time.Second
	}

	return &Service{
		repo:         repo,
		rankingCache: rankingCache,
		rankingTTL:   rankingTTL,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	return s.repo.GetProductByID(ctx, id)
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (*domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, fmt.Errorf("admin role required")
	}

	req.SKU = strings.ToUpper(strings.TrimSpace(req.SKU))
	req.Name = strings.TrimSpace(req.Name)
	req.Category = strings.TrimSpace(req.Category)

	if req.SKU == "" || req.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if req.UnitPrice.IsNegative() || req.InitialStock < 0 {
		return nil, store.ErrInvalidInput
	}

	if existing, err := s.repo.GetProductBySKU(ctx, req.SKU); err == nil && existing != nil {
		return nil, fmt.Errorf("sku %s already exists: %w", req.SKU, store.ErrInvalidInput)
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		SKU:       req.SKU,
		Name:      req.Name,
		Category:  req.Category,
		UnitPrice: req.UnitPrice,
		Stock:     req.InitialStock,
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "product_create", "product", fmt.Sprintf("%d", created.ID), fmt.Sprintf("sku=%s,price=%s,stock=%d", created.SKU, created.UnitPrice.String(), created.Stock))
	return created, nil
}

// UpdateProduct edits catalog fields. It can never change stock: quantity on
// hand moves only through CreateSale and ReceivePurchaseOrder.
func (s *Service) UpdateProduct(ctx context.Context, id int64, req domain.ProductUpdateRequest) (*domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, fmt.Errorf("admin role required")
	}

	current, err := s.repo.GetProductByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, store.ErrInvalidInput
		}
		current.Name = name
	}
	if req.Category != nil {
		current.Category = strings.TrimSpace(*req.Category)
	}
	if req.UnitPrice != nil {
		if req.UnitPrice.IsNegative() {
			return nil, store.ErrInvalidInput
		}
		current.UnitPrice = *req.UnitPrice
	}

	saved, err := s.repo.UpdateProduct(ctx, *current)
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "product_update", "product", fmt.Sprintf("%d", saved.ID), fmt.Sprintf("name=%s,price=%s", saved.Name, saved.UnitPrice.String()))
	return saved, nil
}

// CreateSale validates the cart fully before touching the repository, then
// delegates to the store's atomic create. Loyalty accrual happens after the
// sale has committed and is best-effort: its failure never unwinds the sale.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleCreateRequest) (*domain.Sale, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("sale requires at least one item: %w", store.ErrInvalidInput)
	}
	if strings.TrimSpace(req.PaymentMethod) == "" {
		return nil, fmt.Errorf("payment method is required: %w", store.ErrInvalidInput)
	}
	for _, item := range req.Items {
		if item.Quantity < 1 {
			return nil, fmt.Errorf("quantity must be at least 1: %w", store.ErrInvalidInput)
		}
		if item.PriceAtSale.IsNegative() {
			return nil, fmt.Errorf("price_at_sale must not be negative: %w", store.ErrInvalidInput)
		}
	}

	sale, err := s.repo.CreateSale(ctx, domain.Sale{
		ClientID:      strings.TrimSpace(req.ClientID),
		PaymentMethod: strings.TrimSpace(req.PaymentMethod),
		Status:        domain.SaleStatusCompleted,
		Items:         req.Items,
	})
	if err != nil {
		return nil, err
	}

	if sale.ClientID != "" {
		points := int(sale.Total.Div(decimal.NewFromInt(10)).IntPart())
		if points > 0 {
			if err := s.repo.AddLoyaltyPoints(ctx, sale.ClientID, points); err != nil {
				log.Printf("[service] WARN loyalty accrual failed for sale %s client %s: %v", sale.ID, sale.ClientID, err)
			}
		}
	}

	s.logAudit(ctx, "sale_create", "sale", sale.ID, fmt.Sprintf("items=%d,total=%s,payment=%s", len(sale.Items), sale.Total.String(), sale.PaymentMethod))
	return sale, nil
}

func (s *Service) GetSale(ctx context.Context, id string) (*domain.Sale, error) {
	return s.repo.GetSaleByID(ctx, id)
}

func (s *Service) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx, limit)
}

func (s *Service) CreateClient(ctx context.Context, req domain.ClientCreateRequest) (*domain.Client, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, fmt.Errorf("client name is required: %w", store.ErrInvalidInput)
	}

	created, err := s.repo.CreateClient(ctx, domain.Client{
		ExternalID: strings.TrimSpace(req.ExternalID),
		Name:       req.Name,
		Phone:      strings.TrimSpace(req.Phone),
		Email:      strings.TrimSpace(req.Email),
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "client_create", "client", created.ID, created.Name)
	return created, nil
}

func (s *Service) GetClient(ctx context.Context, id string) (*domain.Client, error) {
	return s.repo.GetClientByID(ctx, id)
}

func (s *Service) ListClients(ctx context.Context) ([]domain.Client, error) {
	return s.repo.ListClients(ctx)
}

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (*domain.Supplier, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, fmt.Errorf("admin role required")
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return nil, fmt.Errorf("supplier name is required: %w", store.ErrInvalidInput)
	}

	created, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		Name:  req.Name,
		Phone: strings.TrimSpace(req.Phone),
		Email: strings.TrimSpace(req.Email),
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "supplier_create", "supplier", created.ID, created.Name)
	return created, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

// CreatePurchaseOrder records a pending order. Stock is not touched until the
// order is received. The order total is recomputed from the line items.
func (s *Service) CreatePurchaseOrder(ctx context.Context, req domain.PurchaseOrderCreateRequest) (*domain.PurchaseOrder, error) {
	if len(req.Items) == 0 {
		return nil, fmt.Errorf("purchase order requires at least one item: %w", store.ErrInvalidInput)
	}
	total := decimal.Zero
	for _, item := range req.Items {
		if item.Quantity < 1 {
			return nil, fmt.Errorf("quantity must be at least 1: %w", store.ErrInvalidInput)
		}
		if item.CostPrice.IsNegative() {
			return nil, fmt.Errorf("cost_price must not be negative: %w", store.ErrInvalidInput)
		}
		total = total.Add(item.CostPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	created, err := s.repo.CreatePurchaseOrder(ctx, domain.PurchaseOrder{
		SupplierID: strings.TrimSpace(req.SupplierID),
		Total:      total,
		Status:     domain.PurchaseStatusPending,
		Items:      req.Items,
	})
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "purchase_order_create", "purchase_order", created.ID, fmt.Sprintf("items=%d,total=%s", len(created.Items), created.Total.String()))
	return created, nil
}

// ReceivePurchaseOrder transitions a pending order to received and credits
// stock exactly once. A repeat call surfaces store.ErrAlreadyReceived.
func (s *Service) ReceivePurchaseOrder(ctx context.Context, id string) (*domain.PurchaseOrder, error) {
	if strings.TrimSpace(id) == "" {
		return nil, store.ErrInvalidInput
	}

	received, err := s.repo.ReceivePurchaseOrder(ctx, id, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	s.logAudit(ctx, "purchase_order_receive", "purchase_order", received.ID, fmt.Sprintf("items=%d", len(received.Items)))
	return received, nil
}

func (s *Service) GetPurchaseOrder(ctx context.Context, id string) (*domain.PurchaseOrder, error) {
	return s.repo.GetPurchaseOrderByID(ctx, id)
}

func (s *Service) ListPurchaseOrders(ctx context.Context, status string, limit int) ([]domain.PurchaseOrder, error) {
	if status != "" && status != string(domain.PurchaseStatusPending) && status != string(domain.PurchaseStatusReceived) {
		return nil, store.ErrInvalidInput
	}
	return s.repo.ListPurchaseOrders(ctx, status, limit)
}

// StockRanking returns products ascending by quantity on hand, cached for a
// short TTL. Cache failures fall through to the repository.
func (s *Service) StockRanking(ctx context.Context, limit int) (*domain.StockRankingReport, error) {
	if cached, found, err := s.rankingCache.Get(ctx, limit); err != nil {
		log.Printf("[service] WARN stock ranking cache read failed: %v", err)
	} else if found {
		return cached, nil
	}

	entries, err := s.repo.GetStockRanking(ctx, limit)
	if err != nil {
		return nil, err
	}
	report := &domain.StockRankingReport{
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Products:    entries,
	}

	if err := s.rankingCache.Set(ctx, limit, report, s.rankingTTL); err != nil {
		log.Printf("[service] WARN stock ranking cache write failed: %v", err)
	}
	return report, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, fmt.Errorf("admin role required")
	}
	if to.IsZero() {
		to = time.Now().UTC().Add(time.Minute)
	}
	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		log.Printf("[service] WARN audit log write failed for %s %s: %v", action, entityID, err)
	}
}
