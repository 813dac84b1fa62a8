package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/wtfpos/posd/internal/bus"
	"github.com/wtfpos/posd/internal/connectivity"
	"github.com/wtfpos/posd/internal/pos"
	"github.com/wtfpos/posd/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type fakeSource struct {
	mu    sync.Mutex
	cat   *pos.Catalog
	err   error
	calls atomic.Int32
	block chan struct{}
}

func (s *fakeSource) Catalog(ctx context.Context) (*pos.Catalog, error) {
	s.calls.Add(1)
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	cp := *s.cat
	return &cp, nil
}

func (s *fakeSource) set(cat *pos.Catalog, err error) {
	s.mu.Lock()
	s.cat, s.err = cat, err
	s.mu.Unlock()
}

// fakeImages rewrites every image url to "local:<url>".
type fakeImages struct {
	cached atomic.Int32
}

func (f *fakeImages) CacheImages(ctx context.Context, cat *pos.Catalog) error {
	f.cached.Add(1)
	return nil
}

func (f *fakeImages) ResolveCatalog(ctx context.Context, cat *pos.Catalog) pos.Catalog {
	return cat.MapImages(func(u string) string { return "local:" + u })
}

type fakeOnline struct{ v atomic.Bool }

func (f *fakeOnline) IsOnline() bool { return f.v.Load() }

func online(v bool) *fakeOnline {
	f := &fakeOnline{}
	f.v.Store(v)
	return f
}

var (
	latteID = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	mochaID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

func snapshot(lattePrice string) *pos.Catalog {
	return &pos.Catalog{
		Products: []pos.Product{
			{ID: latteID, Name: "Latte", Price: decimal.RequireFromString(lattePrice), ImageURL: "http://img/latte", IsActive: true},
			{ID: mochaID, Name: "Mocha", Price: decimal.RequireFromString("4.00"), IsActive: true},
		},
		AddOnsByProductID: map[uuid.UUID][]pos.AddOnGroup{
			latteID: {{Type: 1, DisplayName: "Milk", Options: []pos.Product{{ID: uuid.New(), Name: "Oat", IsAddOn: true}}}},
		},
		Customers: []pos.Customer{{ID: uuid.New(), FirstName: "Ana", ImageURL: "http://img/ana"}},
		SyncedAt:  time.Unix(1_700_000_000, 0).UTC(),
	}
}

func TestLoadOnlineSyncsAndPersists(t *testing.T) {
	db := testDB(t)
	src := &fakeSource{cat: snapshot("3.50")}
	imgs := &fakeImages{}
	b := bus.New()
	ch, unsub := b.Subscribe("catalog.", 8)
	defer unsub()

	c := New(src, db, imgs, online(true), b, nil, 0)
	if err := c.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := c.Products(); len(got) != 2 || got[0].ImageURL != "local:http://img/latte" {
		t.Errorf("products = %+v", got)
	}
	if groups := c.AddOnsForProduct(latteID); len(groups) != 1 || groups[0].DisplayName != "Milk" {
		t.Errorf("add-ons = %+v", groups)
	}
	if c.AddOnsForProduct(mochaID) != nil {
		t.Error("mocha has no add-ons")
	}
	if c.Customers()[0].ImageURL != "local:http://img/ana" {
		t.Errorf("customer image not resolved")
	}
	if imgs.cached.Load() != 1 {
		t.Errorf("CacheImages calls = %d, want 1", imgs.cached.Load())
	}
	if mirror, _ := db.LoadCatalog(); mirror == nil || len(mirror.Products) != 2 {
		t.Errorf("local mirror = %+v", mirror)
	}
	select {
	case evt := <-ch:
		if evt.Kind != bus.CatalogUpdated {
			t.Errorf("event = %s", evt.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("no catalog.updated event")
	}

	// Load is idempotent.
	if err := c.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if src.calls.Load() != 1 {
		t.Errorf("source calls = %d, want 1", src.calls.Load())
	}
}

func TestLoadOfflineUsesMirror(t *testing.T) {
	db := testDB(t)
	if err := db.SaveCatalog(snapshot("3.50")); err != nil {
		t.Fatal(err)
	}
	src := &fakeSource{cat: snapshot("9.99")}

	c := New(src, db, &fakeImages{}, online(false), nil, nil, 0)
	if err := c.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if src.calls.Load() != 0 {
		t.Error("offline Load must not call the server")
	}
	p, ok := c.Product(latteID)
	if !ok || !p.Price.Equal(decimal.RequireFromString("3.5")) {
		t.Errorf("latte = %+v %v", p, ok)
	}
	if !c.IsLoaded() || c.IsLoading() {
		t.Error("expected loaded and not loading")
	}
}

func TestFetchFailureFallsBackToMirror(t *testing.T) {
	db := testDB(t)
	if err := db.SaveCatalog(snapshot("3.50")); err != nil {
		t.Fatal(err)
	}
	src := &fakeSource{err: errors.New("502 bad gateway")}

	c := New(src, db, &fakeImages{}, online(true), nil, nil, 0)
	if err := c.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(c.Products()) != 2 {
		t.Errorf("products = %d, want mirror's 2", len(c.Products()))
	}
}

func TestLoadWithoutMirrorOrServer(t *testing.T) {
	c := New(&fakeSource{}, testDB(t), &fakeImages{}, online(false), nil, nil, 0)
	if err := c.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(c.Products()) != 0 {
		t.Error("expected an empty catalog")
	}
}

func TestRefreshDetectsStalePrices(t *testing.T) {
	db := testDB(t)
	src := &fakeSource{cat: snapshot("3.50")}
	b := bus.New()
	ch, unsub := b.Subscribe(bus.CatalogStalePrices, 4)
	defer unsub()

	c := New(src, db, &fakeImages{}, online(true), b, nil, 0)
	if err := c.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(c.StalePrices()) != 0 {
		t.Fatal("first sync has nothing to compare against")
	}

	next := snapshot("3.50")
	override := decimal.RequireFromString("3.00")
	next.Products[0].OverridePrice = &override
	src.set(next, nil)

	ran, err := c.Refresh(context.Background())
	if err != nil || !ran {
		t.Fatalf("Refresh() = %v, %v", ran, err)
	}
	stale := c.StalePrices()
	if len(stale) != 1 {
		t.Fatalf("stale = %+v, want latte only", stale)
	}
	if stale[0].ProductID != latteID || !stale[0].OldPrice.Equal(decimal.RequireFromString("3.5")) || !stale[0].NewPrice.Equal(override) {
		t.Errorf("stale[0] = %+v", stale[0])
	}
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no catalog.stale_prices event")
	}
}

func TestStalePricesAgainstMirrorAfterRestart(t *testing.T) {
	db := testDB(t)
	if err := db.SaveCatalog(snapshot("3.50")); err != nil {
		t.Fatal(err)
	}
	c := New(&fakeSource{cat: snapshot("3.75")}, db, &fakeImages{}, online(true), nil, nil, 0)
	if err := c.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(c.StalePrices()) != 1 {
		t.Errorf("stale = %+v, want the latte price change since the mirror", c.StalePrices())
	}
}

func TestRefreshSkipsWhenOfflineOrBusy(t *testing.T) {
	db := testDB(t)
	src := &fakeSource{cat: snapshot("3.50"), block: make(chan struct{})}
	net := online(false)
	c := New(src, db, &fakeImages{}, net, nil, nil, 0)
	ctx := context.Background()

	if ran, _ := c.Refresh(ctx); ran {
		t.Error("Refresh ran while offline")
	}

	net.v.Store(true)
	done := make(chan struct{})
	go func() {
		_, _ = c.Refresh(ctx)
		close(done)
	}()
	for !c.IsSyncing() {
		time.Sleep(time.Millisecond)
	}
	if ran, _ := c.Refresh(ctx); ran {
		t.Error("overlapping Refresh should be a no-op")
	}
	close(src.block)
	<-done
	if src.calls.Load() != 1 {
		t.Errorf("source calls = %d, want 1", src.calls.Load())
	}
	if c.IsSyncing() {
		t.Error("IsSyncing still true")
	}
}

func TestBackgroundRefreshOnReconnect(t *testing.T) {
	db := testDB(t)
	src := &fakeSource{cat: snapshot("3.50")}
	b := bus.New()
	net := online(true)
	c := New(src, db, &fakeImages{}, net, b, nil, 0)
	ctx := context.Background()

	updates, unsub := b.Subscribe(bus.CatalogUpdated, 8)
	defer unsub()

	c.Start(ctx)
	defer c.Stop()

	// Not loaded yet: a reconnect does not trigger a refresh.
	b.Emit(bus.ConnectivityChanged, connectivity.Change{From: connectivity.Offline, To: connectivity.Online})
	time.Sleep(20 * time.Millisecond)
	if src.calls.Load() != 0 {
		t.Fatal("refresh before Load")
	}

	if err := c.Load(ctx); err != nil {
		t.Fatal(err)
	}
	<-updates

	b.Emit(bus.ConnectivityChanged, connectivity.Change{From: connectivity.Offline, To: connectivity.Online})
	select {
	case <-updates:
	case <-time.After(2 * time.Second):
		t.Fatal("no refresh after reconnect")
	}
	if src.calls.Load() != 2 {
		t.Errorf("source calls = %d, want 2", src.calls.Load())
	}
}
