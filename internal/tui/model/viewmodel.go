package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/wtfpos/posd/internal/api"
	"github.com/wtfpos/posd/internal/bus"
	"github.com/wtfpos/posd/internal/outbox"
	"github.com/wtfpos/posd/internal/pos"
	"google.golang.org/grpc/status"
)

const flashTTL = 5 * time.Second

// Backend is the part of the daemon API the console uses.
type Backend interface {
	Status(ctx context.Context) (*api.StatusResponse, error)
	CheckConnectivity(ctx context.Context) (*api.CheckResponse, error)
	ListProducts(ctx context.Context, req *api.ProductsRequest) (*api.ProductsResponse, error)
	RefreshCatalog(ctx context.Context) (*api.RefreshResponse, error)
	ListPending(ctx context.Context) (*api.PendingListResponse, error)
	RemovePending(ctx context.Context, localID string) error
	LockSync(ctx context.Context, localID string) error
	UnlockSync(ctx context.Context, localID string) error
	SyncNow(ctx context.Context) (*outbox.SyncResult, error)
	Login(ctx context.Context, token string) error
	Logout(ctx context.Context) error
}

// ViewModel caches daemon state for the views.
type ViewModel struct {
	mu sync.RWMutex

	backend  Backend
	status   *api.StatusResponse
	pending  []api.PendingOrder
	products []pos.Product
	query    string

	Flash Flash
}

// NewViewModel creates a view model backed by the daemon client.
func NewViewModel(b Backend) *ViewModel {
	return &ViewModel{backend: b}
}

// errorMessage is the daemon's message for a failed call.
func errorMessage(err error) string {
	return status.Convert(err).Message()
}

func (vm *ViewModel) fail(action string, err error) error {
	vm.Flash.Set(LevelWarning, action+": "+errorMessage(err), flashTTL)
	return err
}

// Reload fetches status and the pending queue.
func (vm *ViewModel) Reload(ctx context.Context) error {
	st, err := vm.backend.Status(ctx)
	if err != nil {
		return vm.fail("Status", err)
	}
	pending, err := vm.backend.ListPending(ctx)
	if err != nil {
		return vm.fail("Pending", err)
	}
	vm.mu.Lock()
	vm.status = st
	vm.pending = pending.Orders
	vm.mu.Unlock()
	return nil
}

// LoadProducts fetches sellable products matching the current filter.
func (vm *ViewModel) LoadProducts(ctx context.Context) error {
	vm.mu.RLock()
	q := vm.query
	vm.mu.RUnlock()

	resp, err := vm.backend.ListProducts(ctx, &api.ProductsRequest{Query: q})
	if err != nil {
		return vm.fail("Products", err)
	}
	vm.mu.Lock()
	vm.products = resp.Products
	vm.mu.Unlock()
	return nil
}

// SetQuery sets the product filter used by LoadProducts.
func (vm *ViewModel) SetQuery(q string) {
	vm.mu.Lock()
	vm.query = strings.TrimSpace(q)
	vm.mu.Unlock()
}

// Query returns the product filter.
func (vm *ViewModel) Query() string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.query
}

// SyncNow asks the daemon to deliver the queue.
func (vm *ViewModel) SyncNow(ctx context.Context) error {
	r, err := vm.backend.SyncNow(ctx)
	if err != nil {
		return vm.fail("Sync", err)
	}
	switch {
	case r.Skipped:
		vm.Flash.Set(LevelInfo, "Sync already in progress", flashTTL)
	case r.Failed > 0:
		vm.Flash.Set(LevelWarning, pos.Plural(pos.MsgOrdersFailed, r.Failed), flashTTL)
	case r.Synced > 0:
		vm.Flash.Set(LevelSuccess, pos.Plural(pos.MsgOrdersSynced, r.Synced), flashTTL)
	default:
		vm.Flash.Set(LevelInfo, "Nothing to sync", flashTTL)
	}
	return nil
}

// CheckConnectivity probes the POS server now.
func (vm *ViewModel) CheckConnectivity(ctx context.Context) error {
	r, err := vm.backend.CheckConnectivity(ctx)
	if err != nil {
		return vm.fail("Check", err)
	}
	if r.Online {
		vm.Flash.Set(LevelSuccess, "POS server reachable", flashTTL)
	} else {
		vm.Flash.Set(LevelWarning, "POS server unreachable", flashTTL)
	}
	return nil
}

// RefreshCatalog fetches the catalog now.
func (vm *ViewModel) RefreshCatalog(ctx context.Context) error {
	r, err := vm.backend.RefreshCatalog(ctx)
	if err != nil {
		return vm.fail("Refresh", err)
	}
	switch {
	case !r.Refreshed:
		vm.Flash.Set(LevelInfo, "Catalog refresh already running", flashTTL)
	case len(r.StalePrices) > 0:
		vm.Flash.Set(LevelWarning, fmt.Sprintf("Catalog refreshed, %d prices changed", len(r.StalePrices)), flashTTL)
	default:
		vm.Flash.Set(LevelSuccess, "Catalog refreshed", flashTTL)
	}
	return nil
}

// Remove deletes a stored order.
func (vm *ViewModel) Remove(ctx context.Context, localID string) error {
	if err := vm.backend.RemovePending(ctx, localID); err != nil {
		return vm.fail("Remove", err)
	}
	vm.Flash.Set(LevelInfo, "Removed "+localID, flashTTL)
	return nil
}

// ToggleLock locks an unlocked order for editing, or unlocks a locked one.
func (vm *ViewModel) ToggleLock(ctx context.Context, localID string) error {
	locked := false
	for _, o := range vm.Pending() {
		if o.LocalID == localID {
			locked = o.Locked
		}
	}
	if locked {
		if err := vm.backend.UnlockSync(ctx, localID); err != nil {
			return vm.fail("Unlock", err)
		}
		vm.Flash.Set(LevelInfo, "Unlocked "+localID, flashTTL)
		return nil
	}
	if err := vm.backend.LockSync(ctx, localID); err != nil {
		return vm.fail("Lock", err)
	}
	vm.Flash.Set(LevelInfo, "Locked "+localID+" for editing", flashTTL)
	return nil
}

// Login stores a POS server token.
func (vm *ViewModel) Login(ctx context.Context, token string) error {
	if err := vm.backend.Login(ctx, token); err != nil {
		return vm.fail("Login", err)
	}
	vm.Flash.Set(LevelSuccess, "Signed in", flashTTL)
	return nil
}

// Logout forgets the token.
func (vm *ViewModel) Logout(ctx context.Context) error {
	if err := vm.backend.Logout(ctx); err != nil {
		return vm.fail("Logout", err)
	}
	vm.Flash.Set(LevelInfo, "Signed out", flashTTL)
	return nil
}

// HandleEvent applies a streamed daemon event. Notifications become flash
// messages; it reports whether the event changes state worth reloading.
func (vm *ViewModel) HandleEvent(evt *api.Event) bool {
	if strings.HasPrefix(evt.Kind, "notify.") {
		var n bus.Notification
		if err := json.Unmarshal(evt.Payload, &n); err != nil || n.Message == "" {
			return false
		}
		level := LevelInfo
		switch evt.Kind {
		case bus.NotifySuccess:
			level = LevelSuccess
		case bus.NotifyWarning:
			level = LevelWarning
		}
		vm.Flash.Set(level, n.Message, flashTTL)
		return false
	}
	return true
}

// Status returns the last fetched status, nil before the first Reload.
func (vm *ViewModel) Status() *api.StatusResponse {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.status
}

// Pending returns the last fetched queue.
func (vm *ViewModel) Pending() []api.PendingOrder {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.pending
}

// Products returns the last fetched products.
func (vm *ViewModel) Products() []pos.Product {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	return vm.products
}
