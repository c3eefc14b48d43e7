package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"apotekpos/backend/internal/cache"
	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/store"
	"apotekpos/backend/internal/store/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	return New(repo, cache.NoopRankingCache{}, 5*time.Second), repo
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func mustCreateProduct(t *testing.T, repo *memory.Store, sku string, price string, stock int) *domain.Product {
	t.Helper()
	unitPrice, err := decimal.NewFromString(price)
	if err != nil {
		t.Fatalf("parse price: %v", err)
	}
	created, err := repo.CreateProduct(context.Background(), domain.Product{
		SKU:       sku,
		Name:      sku,
		Category:  "test",
		UnitPrice: unitPrice,
		Stock:     stock,
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	return created
}

func TestCreateSaleRejectsEmptyCart(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateSale(context.Background(), domain.SaleCreateRequest{
		PaymentMethod: "cash",
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty cart, got %v", err)
	}
}

func TestCreateSaleRejectsMissingPaymentMethod(t *testing.T) {
	svc, repo := newTestService(t)
	p := mustCreateProduct(t, repo, "TEST-01", "2.50", 10)

	_, err := svc.CreateSale(context.Background(), domain.SaleCreateRequest{
		Items: []domain.SaleItem{{ProductID: p.ID, Quantity: 1, PriceAtSale: p.UnitPrice}},
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing payment method, got %v", err)
	}
}

func TestCreateSaleRejectsBadQuantity(t *testing.T) {
	svc, repo := newTestService(t)
	p := mustCreateProduct(t, repo, "TEST-01", "2.50", 10)

	_, err := svc.CreateSale(context.Background(), domain.SaleCreateRequest{
		PaymentMethod: "cash",
		Items:         []domain.SaleItem{{ProductID: p.ID, Quantity: 0, PriceAtSale: p.UnitPrice}},
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero quantity, got %v", err)
	}

	got, err := repo.GetProductByID(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if got.Stock != 10 {
		t.Fatalf("stock changed by rejected sale: %d", got.Stock)
	}
}

func TestCreateSaleDecrementsStockAndRecomputesTotals(t *testing.T) {
	svc, repo := newTestService(t)
	p := mustCreateProduct(t, repo, "TEST-01", "2.50", 5)

	// Client-sent totals are deliberately wrong; the service must recompute.
	sale, err := svc.CreateSale(context.Background(), domain.SaleCreateRequest{
		PaymentMethod: "cash",
		Subtotal:      decimal.NewFromInt(999),
		Total:         decimal.NewFromInt(999),
		Items:         []domain.SaleItem{{ProductID: p.ID, Quantity: 3, PriceAtSale: p.UnitPrice}},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	want := decimal.RequireFromString("7.5")
	if !sale.Subtotal.Equal(want) || !sale.Total.Equal(want) {
		t.Fatalf("expected recomputed total 7.5, got subtotal=%s total=%s", sale.Subtotal, sale.Total)
	}
	if sale.Status != domain.SaleStatusCompleted {
		t.Fatalf("expected status completed, got %q", sale.Status)
	}
	if len(sale.Items) != 1 || !sale.Items[0].PriceAtSale.Equal(p.UnitPrice) {
		t.Fatalf("expected frozen price %s on line item, got %+v", p.UnitPrice, sale.Items)
	}

	got, err := repo.GetProductByID(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if got.Stock != 2 {
		t.Fatalf("expected stock 2 after selling 3 of 5, got %d", got.Stock)
	}
}

func TestCreateSaleInsufficientStock(t *testing.T) {
	svc, repo := newTestService(t)
	p := mustCreateProduct(t, repo, "TEST-01", "2.50", 5)

	_, err := svc.CreateSale(context.Background(), domain.SaleCreateRequest{
		PaymentMethod: "cash",
		Items:         []domain.SaleItem{{ProductID: p.ID, Quantity: 6, PriceAtSale: p.UnitPrice}},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if !strings.Contains(err.Error(), "Available: 5, Requested: 6") {
		t.Fatalf("expected quantities in error message, got %q", err.Error())
	}

	got, err := repo.GetProductByID(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if got.Stock != 5 {
		t.Fatalf("stock changed by failed sale: %d", got.Stock)
	}
}

func TestCreateSaleRollsBackAllItemsOnPartialFailure(t *testing.T) {
	svc, repo := newTestService(t)
	first := mustCreateProduct(t, repo, "TEST-01", "2.50", 10)
	second := mustCreateProduct(t, repo, "TEST-02", "4.00", 1)

	_, err := svc.CreateSale(context.Background(), domain.SaleCreateRequest{
		PaymentMethod: "cash",
		Items: []domain.SaleItem{
			{ProductID: first.ID, Quantity: 2, PriceAtSale: first.UnitPrice},
			{ProductID: second.ID, Quantity: 5, PriceAtSale: second.UnitPrice},
		},
	})
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}

	gotFirst, _ := repo.GetProductByID(context.Background(), first.ID)
	gotSecond, _ := repo.GetProductByID(context.Background(), second.ID)
	if gotFirst.Stock != 10 || gotSecond.Stock != 1 {
		t.Fatalf("partial effects leaked: first=%d second=%d", gotFirst.Stock, gotSecond.Stock)
	}

	sales, err := repo.ListSales(context.Background(), 10)
	if err != nil {
		t.Fatalf("list sales: %v", err)
	}
	if len(sales) != 0 {
		t.Fatalf("failed sale was persisted: %+v", sales)
	}
}

func TestCreateSaleUnknownProduct(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateSale(context.Background(), domain.SaleCreateRequest{
		PaymentMethod: "cash",
		Items:         []domain.SaleItem{{ProductID: 9999, Quantity: 1, PriceAtSale: decimal.NewFromInt(1)}},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown product, got %v", err)
	}
}

func TestCreateSaleAccruesLoyaltyPoints(t *testing.T) {
	svc, repo := newTestService(t)
	p := mustCreateProduct(t, repo, "TEST-01", "12.50", 10)
	client, err := repo.CreateClient(context.Background(), domain.Client{Name: "Budi"})
	if err != nil {
		t.Fatalf("create client: %v", err)
	}

	// Total 25.00 -> 2 points at 1 point per whole 10 currency units.
	_, err = svc.CreateSale(context.Background(), domain.SaleCreateRequest{
		ClientID:      client.ID,
		PaymentMethod: "card",
		Items:         []domain.SaleItem{{ProductID: p.ID, Quantity: 2, PriceAtSale: p.UnitPrice}},
	})
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}

	got, err := repo.GetClientByID(context.Background(), client.ID)
	if err != nil {
		t.Fatalf("get client: %v", err)
	}
	if got.LoyaltyPoints != 2 {
		t.Fatalf("expected 2 loyalty points, got %d", got.LoyaltyPoints)
	}
}

func TestCreateSaleLoyaltyFailureDoesNotFailSale(t *testing.T) {
	svc, repo := newTestService(t)
	p := mustCreateProduct(t, repo, "TEST-01", "50.00", 10)

	sale, err := svc.CreateSale(context.Background(), domain.SaleCreateRequest{
		ClientID:      "cli-does-not-exist",
		PaymentMethod: "cash",
		Items:         []domain.SaleItem{{ProductID: p.ID, Quantity: 1, PriceAtSale: p.UnitPrice}},
	})
	if err != nil {
		t.Fatalf("sale must survive loyalty failure, got %v", err)
	}

	got, _ := repo.GetProductByID(context.Background(), p.ID)
	if got.Stock != 9 {
		t.Fatalf("expected stock 9, got %d", got.Stock)
	}
	if _, err := repo.GetSaleByID(context.Background(), sale.ID); err != nil {
		t.Fatalf("committed sale missing: %v", err)
	}
}

func TestPurchaseOrderLifecycle(t *testing.T) {
	svc, repo := newTestService(t)
	p := mustCreateProduct(t, repo, "TEST-01", "2.50", 3)

	po, err := svc.CreatePurchaseOrder(context.Background(), domain.PurchaseOrderCreateRequest{
		Items: []domain.PurchaseItem{{ProductID: p.ID, Quantity: 10, CostPrice: decimal.RequireFromString("1.20")}},
	})
	if err != nil {
		t.Fatalf("create purchase order: %v", err)
	}
	if po.Status != domain.PurchaseStatusPending {
		t.Fatalf("expected pending order, got %q", po.Status)
	}
	if !po.Total.Equal(decimal.RequireFromString("12")) {
		t.Fatalf("expected computed total 12, got %s", po.Total)
	}

	// Creating the order must not move stock.
	got, _ := repo.GetProductByID(context.Background(), p.ID)
	if got.Stock != 3 {
		t.Fatalf("pending order changed stock: %d", got.Stock)
	}

	received, err := svc.ReceivePurchaseOrder(context.Background(), po.ID)
	if err != nil {
		t.Fatalf("receive purchase order: %v", err)
	}
	if received.Status != domain.PurchaseStatusReceived {
		t.Fatalf("expected received status, got %q", received.Status)
	}
	if received.ReceivedAt == nil {
		t.Fatalf("expected received_at to be stamped")
	}

	got, _ = repo.GetProductByID(context.Background(), p.ID)
	if got.Stock != 13 {
		t.Fatalf("expected stock 13 after receipt, got %d", got.Stock)
	}

	// Second receive is rejected and the stock credit is not repeated.
	_, err = svc.ReceivePurchaseOrder(context.Background(), po.ID)
	if !errors.Is(err, store.ErrAlreadyReceived) {
		t.Fatalf("expected ErrAlreadyReceived on double receive, got %v", err)
	}
	got, _ = repo.GetProductByID(context.Background(), p.ID)
	if got.Stock != 13 {
		t.Fatalf("double receive credited stock twice: %d", got.Stock)
	}
}

func TestReceiveUnknownPurchaseOrder(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.ReceivePurchaseOrder(context.Background(), "po-missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreatePurchaseOrderRejectsEmptyItems(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreatePurchaseOrder(context.Background(), domain.PurchaseOrderCreateRequest{})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestUpdateProductCannotChangeStock(t *testing.T) {
	svc, repo := newTestService(t)
	p := mustCreateProduct(t, repo, "TEST-01", "2.50", 42)

	newName := "Renamed"
	saved, err := svc.UpdateProduct(adminCtx(), p.ID, domain.ProductUpdateRequest{Name: &newName})
	if err != nil {
		t.Fatalf("update product: %v", err)
	}
	if saved.Stock != 42 {
		t.Fatalf("catalog edit changed stock: %d", saved.Stock)
	}
	if saved.Name != "Renamed" {
		t.Fatalf("expected renamed product, got %q", saved.Name)
	}
}

func TestCreateProductRequiresAdmin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := WithActor(context.Background(), domain.Actor{Username: "kasir", Role: "cashier"})

	_, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{
		SKU: "TEST-01", Name: "Test", UnitPrice: decimal.NewFromInt(1),
	})
	if err == nil || err.Error() != "admin role required" {
		t.Fatalf("expected admin gate, got %v", err)
	}
}

func TestStockRankingAscendsByQuantity(t *testing.T) {
	svc, repo := newTestService(t)
	mustCreateProduct(t, repo, "TEST-HIGH", "1.00", 100)
	mustCreateProduct(t, repo, "TEST-LOW", "1.00", 2)
	mustCreateProduct(t, repo, "TEST-MID", "1.00", 40)

	report, err := svc.StockRanking(context.Background(), 10)
	if err != nil {
		t.Fatalf("stock ranking: %v", err)
	}
	if len(report.Products) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(report.Products))
	}
	for i := 1; i < len(report.Products); i++ {
		if report.Products[i-1].Stock > report.Products[i].Stock {
			t.Fatalf("ranking not ascending: %+v", report.Products)
		}
	}
	if report.Products[0].SKU != "TEST-LOW" {
		t.Fatalf("expected lowest-stock product first, got %s", report.Products[0].SKU)
	}
}
