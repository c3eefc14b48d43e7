package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"apotekpos/backend/internal/cache"
	"apotekpos/backend/internal/domain"
	"apotekpos/backend/internal/service"
	"apotekpos/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) (*API, *memory.Store) {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopRankingCache{}, 5*time.Second)
	auth := NewAuthManager("test-secret-key", time.Hour, repo)

	return New(svc, auth, "*"), repo
}

func loginToken(t *testing.T, handler http.Handler, username string, password string) string {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login failed: %d (body: %s)", rec.Code, rec.Body.String())
	}
	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func mustSeedProduct(t *testing.T, repo *memory.Store, sku string, price string, stock int) *domain.Product {
	t.Helper()
	created, err := repo.CreateProduct(context.Background(), domain.Product{
		SKU:       sku,
		Name:      sku,
		Category:  "test",
		UnitPrice: decimal.RequireFromString(price),
		Stock:     stock,
	})
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
	return created
}

func TestHandleHealth(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api, _ := newTestAPI(t)
	token := loginToken(t, api.Handler(), "admin", "admin123")
	if token == "" {
		t.Fatalf("expected non-empty access token")
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "wrong-password",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleLogin_RateLimited(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "wrong-password",
	})
	var last int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		last = rec.Code
	}
	if last != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after repeated failures, got %d", last)
	}
}

func TestProductsRequireAuth(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
}

func TestListProductsWithToken(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	token := loginToken(t, handler, "cashier", "cashier123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var body struct {
		Products []domain.Product `json:"products"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Products) == 0 {
		t.Fatalf("expected seeded products")
	}
}

func TestCreateProductRequiresAdminRole(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	token := loginToken(t, handler, "cashier", "cashier123")

	payload, _ := json.Marshal(map[string]any{
		"sku": "TEST-NEW", "name": "New", "category": "test", "unit_price": 1.5, "initial_stock": 4,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/products", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCreateSaleEndpoint_Success(t *testing.T) {
	api, repo := newTestAPI(t)
	handler := api.Handler()
	p := mustSeedProduct(t, repo, "TEST-SALE", "2.50", 5)

	payload, _ := json.Marshal(map[string]any{
		"payment_method": "cash",
		"items": []map[string]any{
			{"product_id": p.ID, "quantity": 2, "price_at_sale": 2.5},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/sales", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var sale domain.Sale
	if err := json.NewDecoder(rec.Body).Decode(&sale); err != nil {
		t.Fatalf("decode sale: %v", err)
	}
	if sale.ID == "" || sale.Status != domain.SaleStatusCompleted {
		t.Fatalf("unexpected sale payload: %+v", sale)
	}
	if !sale.Total.Equal(decimal.RequireFromString("5")) {
		t.Fatalf("expected total 5, got %s", sale.Total)
	}

	got, _ := repo.GetProductByID(context.Background(), p.ID)
	if got.Stock != 3 {
		t.Fatalf("expected stock 3 after sale, got %d", got.Stock)
	}
}

func TestCreateSaleEndpoint_InsufficientStock(t *testing.T) {
	api, repo := newTestAPI(t)
	handler := api.Handler()
	p := mustSeedProduct(t, repo, "TEST-SALE", "2.50", 5)

	payload, _ := json.Marshal(map[string]any{
		"payment_method": "cash",
		"items": []map[string]any{
			{"product_id": p.ID, "quantity": 6, "price_at_sale": 2.5},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/sales", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Available: 5, Requested: 6") {
		t.Fatalf("expected quantities in error body, got %s", rec.Body.String())
	}

	got, _ := repo.GetProductByID(context.Background(), p.ID)
	if got.Stock != 5 {
		t.Fatalf("failed sale moved stock: %d", got.Stock)
	}
}

func TestCreateSaleEndpoint_EmptyItems(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]any{
		"payment_method": "cash",
		"items":          []map[string]any{},
	})
	req := httptest.NewRequest(http.MethodPost, "/sales", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCreateSaleEndpoint_UnknownProduct(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]any{
		"payment_method": "cash",
		"items": []map[string]any{
			{"product_id": 99999, "quantity": 1, "price_at_sale": 1.0},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/sales", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown product, got %d", rec.Code)
	}
}

func TestPurchaseEndpoints_CreateAndReceive(t *testing.T) {
	api, repo := newTestAPI(t)
	handler := api.Handler()
	p := mustSeedProduct(t, repo, "TEST-PO", "2.50", 3)

	payload, _ := json.Marshal(map[string]any{
		"items": []map[string]any{
			{"product_id": p.ID, "quantity": 10, "cost_price": 1.2},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/purchases", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var po domain.PurchaseOrder
	if err := json.NewDecoder(rec.Body).Decode(&po); err != nil {
		t.Fatalf("decode purchase order: %v", err)
	}
	if po.Status != domain.PurchaseStatusPending {
		t.Fatalf("expected pending, got %q", po.Status)
	}

	// Creating the order must not move stock.
	got, _ := repo.GetProductByID(context.Background(), p.ID)
	if got.Stock != 3 {
		t.Fatalf("pending order changed stock: %d", got.Stock)
	}

	receiveURL := fmt.Sprintf("/purchases/%s/receive", po.ID)
	req = httptest.NewRequest(http.MethodPut, receiveURL, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on receive, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	got, _ = repo.GetProductByID(context.Background(), p.ID)
	if got.Stock != 13 {
		t.Fatalf("expected stock 13 after receipt, got %d", got.Stock)
	}

	// Double receive is a client error, and the credit is not repeated.
	req = httptest.NewRequest(http.MethodPut, receiveURL, nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 on double receive, got %d", rec.Code)
	}
	got, _ = repo.GetProductByID(context.Background(), p.ID)
	if got.Stock != 13 {
		t.Fatalf("double receive credited stock twice: %d", got.Stock)
	}
}

func TestPurchaseEndpoints_CreateEmptyItems(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(map[string]any{"items": []map[string]any{}})
	req := httptest.NewRequest(http.MethodPost, "/purchases", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestReceiveUnknownPurchaseIs404(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodPut, "/purchases/po-missing/receive", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestStockRankingEndpoint(t *testing.T) {
	api, _ := newTestAPI(t)
	handler := api.Handler()
	token := loginToken(t, handler, "admin", "admin123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/stock-ranking?limit=3", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var report domain.StockRankingReport
	if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(report.Products) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(report.Products))
	}
	for i := 1; i < len(report.Products); i++ {
		if report.Products[i-1].Stock > report.Products[i].Stock {
			t.Fatalf("ranking not ascending: %+v", report.Products)
		}
	}
}
