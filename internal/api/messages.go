package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/wtfpos/posd/internal/catalog"
	"github.com/wtfpos/posd/internal/pos"
	"github.com/wtfpos/posd/internal/store"
)

// Empty is the request or response of calls that carry nothing.
type Empty struct{}

// StatusResponse is a snapshot of the terminal.
type StatusResponse struct {
	Terminal              string   `json:"terminal"`
	Server                string   `json:"server,omitempty"`
	State                 string   `json:"state"`
	Connectivity          string   `json:"connectivity"`
	Online                bool     `json:"online"`
	ShowReconnected       bool     `json:"showReconnected"`
	LastCheckUnixMs       int64    `json:"lastCheckUnixMs,omitempty"`
	Authenticated         bool     `json:"authenticated"`
	PendingCount          int      `json:"pendingCount"`
	Syncing               bool     `json:"syncing"`
	Locks                 []string `json:"locks,omitempty"`
	CatalogLoaded         bool     `json:"catalogLoaded"`
	CatalogLoading        bool     `json:"catalogLoading"`
	CatalogSyncing        bool     `json:"catalogSyncing"`
	CatalogSyncedAtUnixMs int64    `json:"catalogSyncedAtUnixMs,omitempty"`
	Products              int      `json:"products"`
	UptimeMs              int64    `json:"uptimeMs"`
}

// CheckResponse is the outcome of a manual connectivity check.
type CheckResponse struct {
	Online       bool   `json:"online"`
	Connectivity string `json:"connectivity"`
}

// ProductsRequest filters the product list. By default add-ons and
// inactive products are left out.
type ProductsRequest struct {
	Query string `json:"query,omitempty"`
	All   bool   `json:"all,omitempty"`
}

// ProductsResponse lists catalog products.
type ProductsResponse struct {
	Products []pos.Product `json:"products"`
	SyncedAt time.Time     `json:"syncedAt"`
}

// CustomersRequest filters the customer list by name.
type CustomersRequest struct {
	Query string `json:"query,omitempty"`
}

// CustomersResponse lists catalog customers.
type CustomersResponse struct {
	Customers []pos.Customer `json:"customers"`
}

// AddOnsRequest names a product.
type AddOnsRequest struct {
	ProductID uuid.UUID `json:"productId"`
}

// AddOnsResponse lists the add-on groups offered for a product.
type AddOnsResponse struct {
	Groups []pos.AddOnGroup `json:"groups"`
}

// RefreshResponse is the outcome of a manual catalog refresh.
type RefreshResponse struct {
	Refreshed   bool                 `json:"refreshed"`
	StalePrices []catalog.StalePrice `json:"stalePrices,omitempty"`
}

// StalePricesResponse lists prices that changed in the last sync.
type StalePricesResponse struct {
	StalePrices []catalog.StalePrice `json:"stalePrices"`
}

// PendingOrder is a stored order as shown to clients.
type PendingOrder struct {
	LocalID      string                 `json:"localId"`
	Command      pos.CreateOrderCommand `json:"command"`
	Cart         []pos.CartItem         `json:"cart"`
	CustomerName string                 `json:"customerName,omitempty"`
	Status       string                 `json:"status"`
	Error        string                 `json:"error,omitempty"`
	RetryCount   int                    `json:"retryCount"`
	Total        decimal.Decimal        `json:"total"`
	CreatedAt    time.Time              `json:"createdAt"`
	Locked       bool                   `json:"locked,omitempty"`
}

func pendingView(p store.PendingOrder, locked bool) PendingOrder {
	return PendingOrder{
		LocalID:      p.LocalID,
		Command:      p.Command,
		Cart:         p.CartSnapshot,
		CustomerName: p.CustomerName,
		Status:       p.Status,
		Error:        p.ErrorMessage,
		RetryCount:   p.RetryCount,
		Total:        pos.CartTotal(p.CartSnapshot),
		CreatedAt:    p.CreatedAt,
		Locked:       locked,
	}
}

// PendingListResponse lists stored orders in delivery order.
type PendingListResponse struct {
	Orders  []PendingOrder `json:"orders"`
	Syncing bool           `json:"syncing"`
}

// LocalIDRequest names a stored order.
type LocalIDRequest struct {
	LocalID string `json:"localId"`
}

// OrderRequest carries an order and the cart it was built from.
type OrderRequest struct {
	Command      pos.CreateOrderCommand `json:"command"`
	Cart         []pos.CartItem         `json:"cart"`
	CustomerName string                 `json:"customerName,omitempty"`
}

// QueueResponse returns the local id minted for a queued order.
type QueueResponse struct {
	LocalID string `json:"localId"`
}

// UpdateRequest replaces a stored order's payload.
type UpdateRequest struct {
	LocalID string `json:"localId"`
	OrderRequest
}

// LoginRequest carries a bearer token for the POS server.
type LoginRequest struct {
	Token string `json:"token"`
}

// Draft is the in-progress cart.
type Draft struct {
	Items        []pos.CartItem  `json:"items"`
	CustomerID   *uuid.UUID      `json:"customerId,omitempty"`
	CustomerName string          `json:"customerName,omitempty"`
	Total        decimal.Decimal `json:"total"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// DraftResponse returns the stored draft, if any.
type DraftResponse struct {
	Found bool   `json:"found"`
	Draft *Draft `json:"draft,omitempty"`
}

// WatchRequest selects the event kinds to stream by prefix. Empty streams
// everything.
type WatchRequest struct {
	Prefix string `json:"prefix,omitempty"`
}

// Event is a bus event as streamed to clients.
type Event struct {
	ID               string          `json:"id"`
	Kind             string          `json:"kind"`
	OccurredAtUnixMs int64           `json:"occurredAtUnixMs"`
	Payload          json.RawMessage `json:"payload,omitempty"`
}
