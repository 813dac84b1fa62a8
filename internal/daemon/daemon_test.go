package daemon

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/wtfpos/posd/internal/api"
	"github.com/wtfpos/posd/internal/auth"
	"github.com/wtfpos/posd/internal/bus"
	"github.com/wtfpos/posd/internal/catalog"
	"github.com/wtfpos/posd/internal/config"
	"github.com/wtfpos/posd/internal/connectivity"
	"github.com/wtfpos/posd/internal/imagecache"
	"github.com/wtfpos/posd/internal/mockserver"
	"github.com/wtfpos/posd/internal/outbox"
	"github.com/wtfpos/posd/internal/pos"
	"github.com/wtfpos/posd/internal/posapi"
	"github.com/wtfpos/posd/internal/status"
	"github.com/wtfpos/posd/internal/store"
	"github.com/wtfpos/posd/internal/terminal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

func orderFor(p pos.Product) *api.OrderRequest {
	return &api.OrderRequest{
		Command: pos.CreateOrderCommand{
			Items:  []pos.OrderItemRequest{{ProductID: p.ID, Quantity: 1}},
			Status: pos.OrderStatusPending,
		},
		Cart: []pos.CartItem{{ProductID: p.ID, Name: p.Name, Price: p.EffectivePrice(), Quantity: 1}},
	}
}

func TestDaemonServesTerminalAPI(t *testing.T) {
	// Use a short path to avoid macOS 104-char Unix socket limit.
	tmpDir, err := os.MkdirTemp("/tmp", "pos-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()
	socketPath := filepath.Join(tmpDir, "d.sock")

	db, err := store.Open(filepath.Join(tmpDir, "pos.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	// Setup components. The monitor is never started, so the terminal
	// stays offline and every sale is queued.
	logger := zap.NewNop()
	b := bus.New()
	machine := status.NewMachine(b)
	sess := auth.NewSession(db, b, logger)
	client := posapi.New("http://127.0.0.1:1", sess, time.Second)
	monitor := connectivity.New(connectivity.ProberFunc(client.Health), b, logger, connectivity.DefaultOptions())
	images := imagecache.New(db, filepath.Join(tmpDir, "images"), imagecache.NewHTTPFetcher(time.Second), logger, imagecache.DefaultOptions())
	cat := catalog.New(client, db, images, monitor, b, logger, 0)
	queue := outbox.New(db, client, monitor, sess, b, logger, outbox.Options{})
	if err := queue.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	svc := api.NewService(api.Components{
		Terminal: "test",
		Server:   client.BaseURL(),
		Machine:  machine,
		Monitor:  monitor,
		Catalog:  cat,
		Queue:    queue,
		Checkout: outbox.NewCheckout(client, queue, monitor, db, logger),
		Auth:     sess,
		DB:       db,
		Bus:      b,
		Logger:   logger,
	})

	srv, err := NewServer(Params{Terminal: "test", SocketPath: socketPath}, logger, svc)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	defer srv.Stop(context.Background())

	c, err := api.Dial(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping error = %v", err)
	}

	st, err := c.Status(ctx)
	if err != nil {
		t.Fatalf("Status error = %v", err)
	}
	if st.Terminal != "test" || st.State != string(status.Booting) || st.Online || st.Authenticated {
		t.Errorf("status = %+v", st)
	}
	if st.Server != "http://127.0.0.1:1" {
		t.Errorf("server = %q, want http://127.0.0.1:1", st.Server)
	}

	events, err := c.WatchEvents(ctx, "queue.")
	if err != nil {
		t.Fatal(err)
	}

	product := pos.Product{ID: uuid.New(), Name: "Latte", Price: decimal.RequireFromString("3.50")}
	res, err := c.Checkout(ctx, orderFor(product))
	if err != nil {
		t.Fatalf("Checkout error = %v", err)
	}
	if !res.Queued || !strings.HasPrefix(res.LocalID, "OFF-") {
		t.Errorf("checkout = %+v, want queued", res)
	}

	evt, err := events.Recv()
	if err != nil {
		t.Fatal(err)
	}
	if evt.Kind != bus.QueueChanged || string(evt.Payload) != "1" {
		t.Errorf("event = %s %s, want queue.changed 1", evt.Kind, evt.Payload)
	}

	list, err := c.ListPending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list.Orders) != 1 || !list.Orders[0].Total.Equal(decimal.RequireFromString("3.50")) {
		t.Fatalf("pending = %+v", list.Orders)
	}

	if err := c.LockSync(ctx, res.LocalID); err != nil {
		t.Fatal(err)
	}
	got, err := c.GetPending(ctx, res.LocalID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Locked || got.Command.ClientOrderID != res.LocalID {
		t.Errorf("pending = %+v, want locked with client order id", got)
	}
	if err := c.UnlockSync(ctx, res.LocalID); err != nil {
		t.Fatal(err)
	}

	// Invalid orders never reach the queue.
	_, err = c.QueueOrder(ctx, &api.OrderRequest{})
	if grpcstatus.Code(err) != codes.InvalidArgument {
		t.Errorf("QueueOrder(empty) code = %v", grpcstatus.Code(err))
	}

	if err := c.RemovePending(ctx, res.LocalID); err != nil {
		t.Fatal(err)
	}
	err = c.RemovePending(ctx, res.LocalID)
	if grpcstatus.Code(err) != codes.NotFound {
		t.Errorf("second RemovePending code = %v, want NotFound", grpcstatus.Code(err))
	}

	// Sync needs a token.
	_, err = c.SyncNow(ctx)
	if grpcstatus.Code(err) != codes.Unauthenticated {
		t.Errorf("SyncNow code = %v, want Unauthenticated", grpcstatus.Code(err))
	}
	if err := c.Login(ctx, "tok"); err != nil {
		t.Fatal(err)
	}
	st, _ = c.Status(ctx)
	if !st.Authenticated {
		t.Error("expected authenticated after login")
	}

	// Draft round trip.
	draft := &api.Draft{Items: orderFor(product).Cart, CustomerName: "  Ana  "}
	if err := c.SaveDraft(ctx, draft); err != nil {
		t.Fatal(err)
	}
	d, err := c.LoadDraft(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !d.Found || d.Draft.CustomerName != "Ana" || !d.Draft.Total.Equal(decimal.RequireFromString("3.5")) {
		t.Errorf("draft = %+v", d.Draft)
	}
	if err := c.ClearDraft(ctx); err != nil {
		t.Fatal(err)
	}
	if d, _ := c.LoadDraft(ctx); d.Found {
		t.Error("draft still present after clear")
	}
}

// TestStatusTransitionsToAuthRequired verifies the daemon leaves BOOTING when
// no token is configured.
func TestStatusTransitionsToAuthRequired(t *testing.T) {
	tmpDir := t.TempDir()
	db, err := store.Open(filepath.Join(tmpDir, "pos.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	b := bus.New()
	machine := status.NewMachine(b)
	sess := auth.NewSession(db, b, nil)
	client := posapi.New("http://127.0.0.1:1", sess, time.Second)
	monitor := connectivity.New(connectivity.ProberFunc(client.Health), b, nil, connectivity.DefaultOptions())
	images := imagecache.New(db, filepath.Join(tmpDir, "images"), imagecache.NewHTTPFetcher(time.Second), nil, imagecache.DefaultOptions())
	cat := catalog.New(client, db, images, monitor, b, nil, 0)

	statusCh, unsub := b.Subscribe(bus.TerminalStatusChanged, 8)
	defer unsub()

	d := newStatusDriver(machine, monitor, sess, cat, b, zap.NewNop())
	d.Start(context.Background())
	defer d.Stop()

	if got := machine.Current(); got != status.AuthRequired {
		t.Fatalf("state = %s, want AUTH_REQUIRED", got)
	}

	// Logging in loads the catalog and settles offline.
	if err := sess.Login("tok"); err != nil {
		t.Fatal(err)
	}
	deadline := time.After(3 * time.Second)
	for machine.Current() != status.Offline {
		select {
		case <-statusCh:
		case <-deadline:
			t.Fatalf("state = %s, want OFFLINE after login", machine.Current())
		}
	}
	if !cat.IsLoaded() {
		t.Error("catalog should be loaded after login")
	}

	if err := sess.Logout(); err != nil {
		t.Fatal(err)
	}
	deadline = time.After(3 * time.Second)
	for machine.Current() != status.AuthRequired {
		select {
		case <-statusCh:
		case <-deadline:
			t.Fatalf("state = %s, want AUTH_REQUIRED after logout", machine.Current())
		}
	}
}

// TestFxModuleEndToEnd starts the whole daemon against the mock server: a
// direct sale while online, a queued sale while the server is down, and
// automatic delivery once it is back.
func TestFxModuleEndToEnd(t *testing.T) {
	// Use /tmp for short socket paths (macOS 104-char limit).
	home, err := os.MkdirTemp("/tmp", "pos-fx-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(home) }()
	t.Setenv("WTFPOS_HOME", home)

	mock := mockserver.New(pos.Catalog{}, "tok", nil)
	httpSrv := httptest.NewServer(mock.Handler())
	defer httpSrv.Close()
	mock.SetCatalog(mockserver.SampleCatalog(httpSrv.URL))

	settings := config.Defaults()
	settings.APIURL = httpSrv.URL
	settings.Token = "tok"
	settings.ProbeInterval = 100 * time.Millisecond
	settings.OfflineRecheck = 50 * time.Millisecond

	app := fx.New(Module(Params{Terminal: "fx", Settings: &settings}), fx.NopLogger)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("app.Start() error = %v", err)
	}
	defer func() { _ = app.Stop(context.Background()) }()

	c, err := api.Dial(terminal.SocketPath("fx"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	waitStatus(t, ctx, c, "online with catalog", func(s *api.StatusResponse) bool {
		return s.State == string(status.Online) && s.Products > 0
	})

	products, err := c.ListProducts(ctx, &api.ProductsRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(products.Products) != 3 {
		t.Fatalf("products = %d, want 3 sellable", len(products.Products))
	}
	for _, p := range products.Products {
		if !strings.HasPrefix(p.ImageURL, "file://") {
			t.Errorf("%s image = %q, want a cached file", p.Name, p.ImageURL)
		}
	}

	res, err := c.Checkout(ctx, orderFor(products.Products[0]))
	if err != nil {
		t.Fatal(err)
	}
	if res.Queued || res.Order == nil {
		t.Fatalf("online checkout = %+v, want direct", res)
	}

	mock.SetDown(true)
	waitStatus(t, ctx, c, "server unreachable", func(s *api.StatusResponse) bool { return !s.Online })

	res, err = c.Checkout(ctx, orderFor(products.Products[1]))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Queued {
		t.Fatalf("offline checkout = %+v, want queued", res)
	}

	mock.SetDown(false)
	waitStatus(t, ctx, c, "queue drained", func(s *api.StatusResponse) bool {
		return s.Online && s.PendingCount == 0 && !s.Syncing
	})

	orders := mock.Orders()
	if len(orders) != 2 {
		t.Fatalf("server orders = %d, want 2", len(orders))
	}
	if orders[1].ClientOrderID != res.LocalID {
		t.Errorf("client order id = %q, want %q", orders[1].ClientOrderID, res.LocalID)
	}
}

func waitStatus(t *testing.T, ctx context.Context, c *api.Client, what string, cond func(*api.StatusResponse) bool) {
	t.Helper()
	var last *api.StatusResponse
	for {
		st, err := c.Status(ctx)
		if err == nil {
			last = st
			if cond(st) {
				return
			}
		}
		select {
		case <-ctx.Done():
			t.Fatalf("timeout waiting for %s; last status %+v, err %v", what, last, errors.Join(err, ctx.Err()))
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestDriverLogsRejectedTransition(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	m := status.NewMachine(bus.New())
	d := newStatusDriver(m, nil, nil, nil, nil, zap.New(core))

	d.transition(status.Online)
	if m.Current() != status.Booting {
		t.Fatalf("state = %s, want BOOTING after a rejected move", m.Current())
	}
	entries := logs.FilterMessage("status transition rejected").All()
	if len(entries) != 1 {
		t.Fatalf("got %d log entries, want 1", len(entries))
	}
	if entries[0].Level != zap.DebugLevel || entries[0].ContextMap()["to"] != "ONLINE" {
		t.Errorf("entry = %+v", entries[0])
	}

	d.transition(status.Loading)
	if m.Current() != status.Loading || logs.Len() != 1 {
		t.Errorf("state = %s, log entries = %d", m.Current(), logs.Len())
	}
}
