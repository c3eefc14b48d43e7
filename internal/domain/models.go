package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Monetary amounts are serialized as plain JSON numbers so clients see
// prices like 2.5 instead of "2.5".
func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

type Product struct {
	ID        int64           `json:"id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Stock     int             `json:"stock"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type ProductCreateRequest struct {
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	Category     string          `json:"category"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	InitialStock int             `json:"initial_stock"`
}

// ProductUpdateRequest deliberately has no stock field: quantity on hand is
// owned by the sale and purchase-receipt paths, never by catalog edits.
type ProductUpdateRequest struct {
	Name      *string          `json:"name,omitempty"`
	Category  *string          `json:"category,omitempty"`
	UnitPrice *decimal.Decimal `json:"unit_price,omitempty"`
}

type SaleItem struct {
	ProductID   int64           `json:"product_id"`
	Quantity    int             `json:"quantity"`
	PriceAtSale decimal.Decimal `json:"price_at_sale"`
}

type Sale struct {
	ID            string          `json:"id"`
	ClientID      string          `json:"client_id,omitempty"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod string          `json:"payment_method"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	Items         []SaleItem      `json:"items"`
}

// SaleCreateRequest mirrors the POST /sales body. Subtotal and Total are
// accepted for wire compatibility but recomputed server-side from the line
// items; the client-sent values are never persisted.
type SaleCreateRequest struct {
	ClientID      string          `json:"client_id,omitempty"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod string          `json:"payment_method"`
	Items         []SaleItem      `json:"items"`
}

type SaleListResponse struct {
	Sales []Sale `json:"sales"`
}

// PurchaseOrderStatus is the explicit state machine for a purchase order.
// The only legal transition is pending -> received, and received is terminal.
type PurchaseOrderStatus string

const (
	PurchaseStatusPending  PurchaseOrderStatus = "pending"
	PurchaseStatusReceived PurchaseOrderStatus = "received"
)

// CanReceive reports whether the order may still transition to received.
func (s PurchaseOrderStatus) CanReceive() bool {
	return s == PurchaseStatusPending
}

type PurchaseItem struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	CostPrice decimal.Decimal `json:"cost_price"`
}

type PurchaseOrder struct {
	ID         string              `json:"id"`
	SupplierID string              `json:"supplier_id,omitempty"`
	Total      decimal.Decimal     `json:"total"`
	Status     PurchaseOrderStatus `json:"status"`
	CreatedAt  time.Time           `json:"created_at"`
	ReceivedAt *time.Time          `json:"received_at,omitempty"`
	Items      []PurchaseItem      `json:"items"`
}

// PurchaseOrderCreateRequest mirrors the POST /purchases body. Total is
// accepted for wire compatibility and recomputed from the line items.
type PurchaseOrderCreateRequest struct {
	SupplierID string          `json:"supplier_id,omitempty"`
	Total      decimal.Decimal `json:"total"`
	Items      []PurchaseItem  `json:"items"`
}

type PurchaseOrderListResponse struct {
	PurchaseOrders []PurchaseOrder `json:"purchase_orders"`
}

type Client struct {
	ID            string    `json:"id"`
	ExternalID    string    `json:"external_id,omitempty"`
	Name          string    `json:"name"`
	Phone         string    `json:"phone,omitempty"`
	Email         string    `json:"email,omitempty"`
	LoyaltyPoints int       `json:"loyalty_points"`
	CreatedAt     time.Time `json:"created_at"`
}

type ClientCreateRequest struct {
	ExternalID string `json:"external_id,omitempty"`
	Name       string `json:"name"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
}

type Supplier struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type SupplierCreateRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

type StockRankingEntry struct {
	ProductID int64  `json:"product_id"`
	SKU       string `json:"sku"`
	Name      string `json:"name"`
	Category  string `json:"category"`
	Stock     int    `json:"stock"`
}

// StockRankingReport lists products ascending by quantity on hand. It is a
// restock-attention view, not a sales-velocity metric.
type StockRankingReport struct {
	GeneratedAt string              `json:"generated_at"`
	Products    []StockRankingEntry `json:"products"`
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

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
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

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const SaleStatusCompleted = "completed"
