// Package outbox is the terminal's durable queue of orders the server has
// not acknowledged yet, and the logic that delivers them once the terminal
// is back online.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wtfpos/posd/internal/bus"
	"github.com/wtfpos/posd/internal/pos"
	"github.com/wtfpos/posd/internal/store"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned for an unknown local id.
	ErrNotFound = errors.New("pending order not found")
	// ErrSyncing is returned when editing a record a sync run owns.
	ErrSyncing = store.ErrSyncing
)

// Submitter delivers a batch of orders to the server in one call.
type Submitter interface {
	CreateOrderBatch(ctx context.Context, cmds []pos.CreateOrderCommand) ([]pos.Order, error)
}

// Connectivity reports whether the server is reachable.
type Connectivity interface {
	IsOnline() bool
}

// Auth reports whether the terminal holds a token.
type Auth interface {
	IsAuthenticated() bool
}

// Options tunes delivery.
type Options struct {
	BatchSize int
	Retry     RetryPolicy
	Now       func() time.Time
}

// Queue owns the pending_orders table and its in-memory view.
type Queue struct {
	db     *store.DB
	api    Submitter
	online Connectivity
	auth   Auth
	bus    *bus.Bus
	logger *zap.Logger
	opts   Options

	syncing          atomic.Bool
	queuedDuringSync atomic.Bool

	mu         sync.Mutex
	counterDay string
	counter    int
	pending    []store.PendingOrder
	locks      map[string]struct{}

	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a queue. Call Load before use.
func New(db *store.DB, api Submitter, online Connectivity, auth Auth, b *bus.Bus, logger *zap.Logger, opts Options) *Queue {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if opts.Retry.Attempts <= 0 {
		opts.Retry = DefaultRetry()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		db:     db,
		api:    api,
		online: online,
		auth:   auth,
		bus:    b,
		logger: logger,
		opts:   opts,
		locks:  make(map[string]struct{}),
		runCtx: context.Background(),
	}
}

// Load reloads the pending records and recomputes today's id counter.
// Records left in 'syncing' by an interrupted run go back to 'pending'.
func (q *Queue) Load(ctx context.Context) error {
	if !q.syncing.Load() {
		n, err := q.db.ResetSyncing()
		if err != nil {
			return fmt.Errorf("reset interrupted sync: %w", err)
		}
		if n > 0 {
			q.logger.Warn("recovered orders left syncing by an interrupted run", zap.Int64("count", n))
		}
	}

	q.mu.Lock()
	err := q.loadCounterLocked(dayOf(q.opts.Now()))
	if err == nil {
		err = q.reloadLocked()
	}
	count := len(q.pending)
	q.mu.Unlock()
	if err != nil {
		return err
	}

	q.logger.Info("outbox loaded", zap.Int("pending", count))
	q.bus.Emit(bus.QueueChanged, count)
	q.evaluate()
	return nil
}

// loadCounterLocked sets the counter for day to the larger of the persisted
// counter and the highest suffix among that day's stored ids.
func (q *Queue) loadCounterLocked(day string) error {
	highest := 0
	if v, ok, err := q.db.GetValue(counterKey); err != nil {
		return fmt.Errorf("read id counter: %w", err)
	} else if ok {
		if d, n, valid := decodeCounter(v); valid && d == day {
			highest = n
		}
	}
	ids, err := q.db.LocalIDsWithPrefix(localIDPrefix + day + "-")
	if err != nil {
		return fmt.Errorf("scan local ids: %w", err)
	}
	for _, id := range ids {
		if _, seq, ok := parseLocalID(id); ok && seq > highest {
			highest = seq
		}
	}
	q.counterDay = day
	q.counter = highest
	return nil
}

func (q *Queue) reloadLocked() error {
	orders, err := q.db.ListPending()
	if err != nil {
		return fmt.Errorf("list pending orders: %w", err)
	}
	q.pending = orders
	return nil
}

// reload refreshes the in-memory view and publishes the new count.
func (q *Queue) reload() {
	q.mu.Lock()
	err := q.reloadLocked()
	count := len(q.pending)
	q.mu.Unlock()
	if err != nil {
		q.logger.Error("failed to reload outbox", zap.Error(err))
		return
	}
	q.bus.Emit(bus.QueueChanged, count)
}

// Reserve mints and persists the next local id without storing an order.
// Checkout sends the id as the idempotency key of a direct submit so a
// fallback to the queue can reuse it. An id that is never queued leaves a
// gap in the day's sequence.
func (q *Queue) Reserve() (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.nextIDLocked()
}

func (q *Queue) nextIDLocked() (string, error) {
	day := dayOf(q.opts.Now())
	if day != q.counterDay {
		if err := q.loadCounterLocked(day); err != nil {
			return "", err
		}
	}
	q.counter++
	if err := q.db.SetValue(counterKey, encodeCounter(day, q.counter)); err != nil {
		q.counter--
		return "", fmt.Errorf("persist id counter: %w", err)
	}
	return FormatLocalID(day, q.counter), nil
}

// Queue stores an order for later delivery and returns its local id. The
// order is durable when Queue returns.
func (q *Queue) Queue(ctx context.Context, cmd pos.CreateOrderCommand, cart []pos.CartItem, customerName string) (string, error) {
	q.mu.Lock()
	localID, err := q.nextIDLocked()
	q.mu.Unlock()
	if err != nil {
		return "", err
	}
	return q.insert(localID, cmd, cart, customerName)
}

// QueueReserved stores an order under an id obtained from Reserve.
func (q *Queue) QueueReserved(ctx context.Context, localID string, cmd pos.CreateOrderCommand, cart []pos.CartItem, customerName string) (string, error) {
	if _, _, ok := parseLocalID(localID); !ok {
		return "", fmt.Errorf("invalid local id %q", localID)
	}
	return q.insert(localID, cmd, cart, customerName)
}

func (q *Queue) insert(localID string, cmd pos.CreateOrderCommand, cart []pos.CartItem, customerName string) (string, error) {
	cmd.ClientOrderID = localID
	rec := &store.PendingOrder{
		LocalID:      localID,
		Command:      cmd,
		CartSnapshot: cart,
		CustomerName: pos.NormalizeName(customerName),
		Status:       store.StatusPending,
	}

	q.mu.Lock()
	rec.CreatedAt = q.opts.Now()
	if err := q.db.InsertPending(rec); err != nil {
		q.mu.Unlock()
		q.logger.Error("failed to queue order", zap.String("local_id", localID), zap.Error(err))
		return "", err
	}
	err := q.reloadLocked()
	count := len(q.pending)
	q.mu.Unlock()
	if err != nil {
		q.logger.Error("failed to reload outbox", zap.Error(err))
	}

	if q.syncing.Load() {
		q.queuedDuringSync.Store(true)
	}
	q.logger.Info("order queued", zap.String("local_id", localID), zap.Int("items", len(cmd.Items)))
	q.bus.Emit(bus.QueueChanged, count)
	q.evaluate()
	return localID, nil
}

// Update replaces the payload of a stored order. A failed order returns to
// pending; an order a sync run owns is rejected with ErrSyncing.
func (q *Queue) Update(ctx context.Context, localID string, cmd pos.CreateOrderCommand, cart []pos.CartItem, customerName string) error {
	cmd.ClientOrderID = localID
	ok, err := q.db.UpdatePendingPayload(localID, cmd, cart, pos.NormalizeName(customerName))
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	q.logger.Info("queued order updated", zap.String("local_id", localID))
	q.reload()
	q.evaluate()
	return nil
}

// Remove discards a stored order.
func (q *Queue) Remove(ctx context.Context, localID string) error {
	ok, err := q.db.DeletePending(localID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	q.logger.Info("queued order removed", zap.String("local_id", localID))
	q.reload()
	return nil
}

// Get returns one stored order.
func (q *Queue) Get(ctx context.Context, localID string) (*store.PendingOrder, error) {
	p, err := q.db.GetPending(localID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrNotFound
	}
	return p, nil
}

// Pending returns the in-memory view in delivery order.
func (q *Queue) Pending() []store.PendingOrder {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]store.PendingOrder(nil), q.pending...)
}

// Count returns the number of stored orders.
func (q *Queue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// IsSyncing reports whether a sync run is in progress.
func (q *Queue) IsSyncing() bool {
	return q.syncing.Load()
}

// LockSyncForOfflineEdit suppresses automatic sync while a cashier edits
// the given order.
func (q *Queue) LockSyncForOfflineEdit(localID string) {
	q.mu.Lock()
	q.locks[localID] = struct{}{}
	n := len(q.locks)
	q.mu.Unlock()
	q.logger.Debug("sync locked for edit", zap.String("local_id", localID), zap.Int("locks", n))
}

// UnlockSyncForOfflineEdit releases a lock taken by LockSyncForOfflineEdit.
func (q *Queue) UnlockSyncForOfflineEdit(localID string) {
	q.mu.Lock()
	delete(q.locks, localID)
	n := len(q.locks)
	q.mu.Unlock()
	q.logger.Debug("sync unlocked", zap.String("local_id", localID), zap.Int("locks", n))
	q.evaluate()
}

// Locks returns the local ids currently locked for editing.
func (q *Queue) Locks() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, 0, len(q.locks))
	for id := range q.locks {
		ids = append(ids, id)
	}
	return ids
}
