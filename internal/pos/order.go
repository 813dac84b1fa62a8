package pos

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Order statuses as numbered by the server.
const (
	OrderStatusPending   = 1
	OrderStatusCompleted = 2
	OrderStatusCancelled = 3
)

// OrderItemRequest is one line of an order-creation command. Add-ons are
// order items themselves but may not nest further.
type OrderItemRequest struct {
	ProductID           uuid.UUID          `json:"productId"`
	Quantity            int                `json:"quantity"`
	AddOns              []OrderItemRequest `json:"addOns"`
	SpecialInstructions *string            `json:"specialInstructions,omitempty"`
}

// CreateOrderCommand is the order-creation payload sent to POST /api/orders.
// ClientOrderID carries the terminal's local id so the server can drop a
// resubmitted order.
type CreateOrderCommand struct {
	CustomerID          *uuid.UUID         `json:"customerId"`
	Items               []OrderItemRequest `json:"items"`
	SpecialInstructions *string            `json:"specialInstructions,omitempty"`
	Status              int                `json:"status"`
	PaymentMethod       *int               `json:"paymentMethod,omitempty"`
	AmountReceived      *decimal.Decimal   `json:"amountReceived,omitempty"`
	ChangeAmount        *decimal.Decimal   `json:"changeAmount,omitempty"`
	Tips                *decimal.Decimal   `json:"tips,omitempty"`
	ClientOrderID       string             `json:"clientOrderId,omitempty"`
}

// BatchCreateRequest is the body of POST /api/orders/batch.
type BatchCreateRequest struct {
	Orders []CreateOrderCommand `json:"orders"`
}

// Order is a server-side order as returned from creation.
type Order struct {
	ID            uuid.UUID       `json:"id"`
	OrderNumber   int             `json:"orderNumber"`
	CustomerID    *uuid.UUID      `json:"customerId,omitempty"`
	Status        int             `json:"status"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	ClientOrderID string          `json:"clientOrderId,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// CartAddOn is an add-on as shown in the cart.
type CartAddOn struct {
	AddOnID uuid.UUID       `json:"addOnId"`
	Name    string          `json:"name"`
	Price   decimal.Decimal `json:"price"`
	Type    int             `json:"type,omitempty"`
}

// CartItem is a denormalized cart line: enough to render an order without
// looking anything up in the catalog.
type CartItem struct {
	ProductID           uuid.UUID       `json:"productId"`
	Name                string          `json:"name"`
	Price               decimal.Decimal `json:"price"`
	Quantity            int             `json:"quantity"`
	ImageURL            string          `json:"imageUrl,omitempty"`
	AddOns              []CartAddOn     `json:"addOns,omitempty"`
	SpecialInstructions string          `json:"specialInstructions,omitempty"`
}

// LineTotal is (price + add-on prices) * quantity.
func (c CartItem) LineTotal() decimal.Decimal {
	unit := c.Price
	for _, a := range c.AddOns {
		unit = unit.Add(a.Price)
	}
	return unit.Mul(decimal.NewFromInt(int64(c.Quantity)))
}

// CartTotal sums the line totals of a cart.
func CartTotal(items []CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal())
	}
	return total
}
