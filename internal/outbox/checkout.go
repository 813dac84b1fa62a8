package outbox

import (
	"context"
	"fmt"

	"github.com/wtfpos/posd/internal/pos"
	"github.com/wtfpos/posd/internal/posapi"
	"go.uber.org/zap"
)

// OrderCreator submits one order directly.
type OrderCreator interface {
	CreateOrder(ctx context.Context, cmd pos.CreateOrderCommand) (*pos.Order, error)
}

// Checker triggers a connectivity check.
type Checker interface {
	IsOnline() bool
	CheckNow(ctx context.Context) bool
}

// DraftClearer forgets the in-progress cart after a sale.
type DraftClearer interface {
	ClearDraft() error
}

// CheckoutResult says where a completed sale went.
type CheckoutResult struct {
	Queued  bool       `json:"queued"`
	LocalID string     `json:"localId,omitempty"`
	Order   *pos.Order `json:"order,omitempty"`
}

// Checkout completes a sale: straight to the server when online, into the
// queue otherwise. A sale never fails because the network did.
type Checkout struct {
	api    OrderCreator
	queue  *Queue
	conn   Checker
	draft  DraftClearer
	logger *zap.Logger
}

// NewCheckout wires a checkout. draft may be nil.
func NewCheckout(api OrderCreator, queue *Queue, conn Checker, draft DraftClearer, logger *zap.Logger) *Checkout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checkout{api: api, queue: queue, conn: conn, draft: draft, logger: logger}
}

// Submit completes a sale. An HTTP error response from a direct submit is
// returned as is; a failure with no response falls back to the queue.
//
// A direct submit carries a freshly reserved local id as its client order
// id and the fallback queues under that same id, so a server that committed
// the order before the response was lost drops the later resubmission.
func (c *Checkout) Submit(ctx context.Context, cmd pos.CreateOrderCommand, cart []pos.CartItem, customerName string) (CheckoutResult, error) {
	if !c.conn.IsOnline() {
		return c.enqueue(ctx, "", cmd, cart, customerName)
	}

	localID, err := c.queue.Reserve()
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("reserve local id: %w", err)
	}
	cmd.ClientOrderID = localID

	order, err := c.api.CreateOrder(ctx, cmd)
	if err == nil {
		c.clearDraft()
		c.logger.Info("order submitted", zap.Int("order_number", order.OrderNumber), zap.String("client_order_id", localID))
		return CheckoutResult{Order: order}, nil
	}
	if !posapi.IsTransport(err) {
		return CheckoutResult{}, fmt.Errorf("submit order: %w", err)
	}
	c.logger.Warn("order submit got no response, queueing", zap.String("local_id", localID), zap.Error(err))
	c.conn.CheckNow(ctx)
	return c.enqueue(ctx, localID, cmd, cart, customerName)
}

// enqueue stores the sale, under reserved when it is set.
func (c *Checkout) enqueue(ctx context.Context, reserved string, cmd pos.CreateOrderCommand, cart []pos.CartItem, customerName string) (CheckoutResult, error) {
	var (
		localID string
		err     error
	)
	if reserved != "" {
		localID, err = c.queue.QueueReserved(ctx, reserved, cmd, cart, customerName)
	} else {
		localID, err = c.queue.Queue(ctx, cmd, cart, customerName)
	}
	if err != nil {
		return CheckoutResult{}, fmt.Errorf("queue order: %w", err)
	}
	c.clearDraft()
	return CheckoutResult{Queued: true, LocalID: localID}, nil
}

func (c *Checkout) clearDraft() {
	if c.draft == nil {
		return
	}
	if err := c.draft.ClearDraft(); err != nil {
		c.logger.Warn("failed to clear cart draft", zap.Error(err))
	}
}
