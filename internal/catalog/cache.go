// Package catalog keeps the terminal's read-through copy of products,
// add-ons and customers. The server is the source of truth when online; the
// local mirror in pos.db serves the terminal when it is not.
package catalog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/wtfpos/posd/internal/bus"
	"github.com/wtfpos/posd/internal/connectivity"
	"github.com/wtfpos/posd/internal/pos"
	"github.com/wtfpos/posd/internal/store"
	"go.uber.org/zap"
)

// Source fetches the catalog from the server.
type Source interface {
	Catalog(ctx context.Context) (*pos.Catalog, error)
}

// Images caches and resolves catalog images.
type Images interface {
	CacheImages(ctx context.Context, cat *pos.Catalog) error
	ResolveCatalog(ctx context.Context, cat *pos.Catalog) pos.Catalog
}

// Connectivity reports whether the server is reachable.
type Connectivity interface {
	IsOnline() bool
}

// StalePrice is a product whose effective price changed in the last sync.
type StalePrice struct {
	ProductID uuid.UUID       `json:"productId"`
	Name      string          `json:"name"`
	OldPrice  decimal.Decimal `json:"oldPrice"`
	NewPrice  decimal.Decimal `json:"newPrice"`
}

// Cache is the in-memory catalog plus its sync logic.
type Cache struct {
	src     Source
	db      *store.DB
	images  Images
	online  Connectivity
	bus     *bus.Bus
	logger  *zap.Logger
	refresh time.Duration

	loadMu  sync.Mutex
	loading atomic.Bool
	syncing atomic.Bool

	mu      sync.RWMutex
	loaded  bool
	current pos.Catalog
	stale   []StalePrice

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a catalog cache. refresh is the background refresh period;
// zero disables the periodic refresh.
func New(src Source, db *store.DB, images Images, online Connectivity, b *bus.Bus, logger *zap.Logger, refresh time.Duration) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		src:     src,
		db:      db,
		images:  images,
		online:  online,
		bus:     b,
		logger:  logger,
		refresh: refresh,
	}
}

// Load populates the cache once: from the server when online, otherwise
// from the local mirror. Later calls are no-ops.
func (c *Cache) Load(ctx context.Context) error {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	if c.IsLoaded() {
		return nil
	}
	c.loading.Store(true)
	defer c.loading.Store(false)

	var err error
	if c.online.IsOnline() {
		err = c.sync(ctx)
	} else {
		err = c.loadLocal(ctx)
	}
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.loaded = true
	c.mu.Unlock()
	return nil
}

// Refresh re-syncs from the server. It does nothing when offline or while
// another refresh runs, and reports whether it ran.
func (c *Cache) Refresh(ctx context.Context) (bool, error) {
	if !c.online.IsOnline() {
		c.logger.Debug("catalog refresh skipped: offline")
		return false, nil
	}
	if !c.syncing.CompareAndSwap(false, true) {
		c.logger.Debug("catalog refresh skipped: already running")
		return false, nil
	}
	defer c.syncing.Store(false)

	if err := c.sync(ctx); err != nil {
		return true, err
	}
	c.mu.Lock()
	c.loaded = true
	c.mu.Unlock()
	return true, nil
}

// sync fetches, persists, caches images and publishes. Any failure on the
// way falls back to the local mirror.
func (c *Cache) sync(ctx context.Context) error {
	cat, err := c.src.Catalog(ctx)
	if err != nil {
		c.logger.Warn("catalog fetch failed, using local mirror", zap.Error(err))
		return c.loadLocal(ctx)
	}

	prev := c.previousProducts()

	if err := c.db.SaveCatalog(cat); err != nil {
		c.logger.Error("failed to persist catalog, using local mirror", zap.Error(err))
		return c.loadLocal(ctx)
	}
	if err := c.images.CacheImages(ctx, cat); err != nil {
		c.logger.Warn("image caching failed", zap.Error(err))
	}

	resolved := c.images.ResolveCatalog(ctx, cat)
	stale := diffPrices(prev, cat.Products)
	c.publish(resolved, stale)

	c.logger.Info("catalog synced",
		zap.Int("products", len(cat.Products)),
		zap.Int("customers", len(cat.Customers)),
		zap.Int("stale_prices", len(stale)))
	return nil
}

func (c *Cache) loadLocal(ctx context.Context) error {
	cat, err := c.db.LoadCatalog()
	if err != nil {
		return fmt.Errorf("load local catalog: %w", err)
	}
	if cat == nil {
		c.logger.Warn("no local catalog mirror yet")
		cat = &pos.Catalog{AddOnsByProductID: map[uuid.UUID][]pos.AddOnGroup{}}
	}
	c.publish(c.images.ResolveCatalog(ctx, cat), nil)
	c.logger.Info("catalog loaded from local mirror", zap.Int("products", len(cat.Products)))
	return nil
}

// previousProducts returns the products to compare a fresh sync against:
// the current view, or the local mirror before the first load.
func (c *Cache) previousProducts() []pos.Product {
	c.mu.RLock()
	loaded, products := c.loaded, c.current.Products
	c.mu.RUnlock()
	if loaded {
		return products
	}
	cat, err := c.db.LoadCatalog()
	if err != nil || cat == nil {
		return nil
	}
	return cat.Products
}

func (c *Cache) publish(cat pos.Catalog, stale []StalePrice) {
	c.mu.Lock()
	c.current = cat
	c.stale = stale
	c.mu.Unlock()

	c.bus.Emit(bus.CatalogUpdated, len(cat.Products))
	if len(stale) > 0 {
		c.bus.Emit(bus.CatalogStalePrices, stale)
	}
}

func diffPrices(prev, next []pos.Product) []StalePrice {
	if len(prev) == 0 {
		return nil
	}
	old := make(map[uuid.UUID]decimal.Decimal, len(prev))
	for _, p := range prev {
		old[p.ID] = p.EffectivePrice()
	}
	var stale []StalePrice
	for _, p := range next {
		was, ok := old[p.ID]
		if !ok {
			continue
		}
		if now := p.EffectivePrice(); !now.Equal(was) {
			stale = append(stale, StalePrice{ProductID: p.ID, Name: p.Name, OldPrice: was, NewPrice: now})
		}
	}
	return stale
}

// Start runs the background refresh: every refresh period and whenever
// connectivity comes back, once the catalog has been loaded.
func (c *Cache) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	ch, unsub := c.bus.Subscribe(bus.ConnectivityChanged, 16)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer unsub()

		var tick <-chan time.Time
		if c.refresh > 0 {
			t := time.NewTicker(c.refresh)
			defer t.Stop()
			tick = t.C
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick:
				c.backgroundRefresh(ctx, "interval")
			case evt := <-ch:
				if change, ok := evt.Payload.(connectivity.Change); ok && change.To == connectivity.Online {
					c.backgroundRefresh(ctx, "reconnected")
				}
			}
		}
	}()
}

// Stop stops the background refresh.
func (c *Cache) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

func (c *Cache) backgroundRefresh(ctx context.Context, reason string) {
	// A Load in flight decides for itself; wait for it before checking.
	c.loadMu.Lock()
	loaded := c.IsLoaded()
	c.loadMu.Unlock()
	if !loaded {
		return
	}
	if _, err := c.Refresh(ctx); err != nil {
		c.logger.Warn("background catalog refresh failed", zap.String("reason", reason), zap.Error(err))
	}
}

// IsLoaded reports whether Load or Refresh has completed once.
func (c *Cache) IsLoaded() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loaded
}

// IsLoading reports whether Load is running.
func (c *Cache) IsLoading() bool { return c.loading.Load() }

// IsSyncing reports whether Refresh is running.
func (c *Cache) IsSyncing() bool { return c.syncing.Load() }

// Products returns the current products.
func (c *Cache) Products() []pos.Product {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]pos.Product(nil), c.current.Products...)
}

// Product looks up one product by id.
func (c *Cache) Product(id uuid.UUID) (pos.Product, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.current.Products {
		if p.ID == id {
			return p, true
		}
	}
	return pos.Product{}, false
}

// Customers returns the current customers.
func (c *Cache) Customers() []pos.Customer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]pos.Customer(nil), c.current.Customers...)
}

// AddOnsForProduct returns the add-on groups of a product, or nil.
func (c *Cache) AddOnsForProduct(id uuid.UUID) []pos.AddOnGroup {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current.AddOnsByProductID[id]
}

// SyncedAt returns the server timestamp of the current snapshot.
func (c *Cache) SyncedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current.SyncedAt
}

// StalePrices returns the price changes detected by the last sync.
func (c *Cache) StalePrices() []StalePrice {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]StalePrice(nil), c.stale...)
}
