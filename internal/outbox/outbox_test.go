package outbox

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
	"github.com/wtfpos/posd/internal/pos"
	"github.com/wtfpos/posd/internal/store"
	"go.uber.org/zap"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// fakeSubmitter records every batch call. fail decides the outcome of the
// n-th call (0-based); after runs once the call returns.
type fakeSubmitter struct {
	mu      sync.Mutex
	batches [][]pos.CreateOrderCommand
	fail    func(call int) error
	after   func(call int)
	block   chan struct{}
}

func (f *fakeSubmitter) CreateOrderBatch(ctx context.Context, cmds []pos.CreateOrderCommand) ([]pos.Order, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	call := len(f.batches)
	f.batches = append(f.batches, append([]pos.CreateOrderCommand(nil), cmds...))
	f.mu.Unlock()

	if f.after != nil {
		defer f.after(call)
	}
	if f.fail != nil {
		if err := f.fail(call); err != nil {
			return nil, err
		}
	}
	orders := make([]pos.Order, len(cmds))
	for i, c := range cmds {
		orders[i] = pos.Order{ID: uuid.New(), ClientOrderID: c.ClientOrderID}
	}
	return orders, nil
}

func (f *fakeSubmitter) calls() [][]pos.CreateOrderCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]pos.CreateOrderCommand(nil), f.batches...)
}

type flag struct{ v atomic.Bool }

func newFlag(v bool) *flag {
	f := &flag{}
	f.v.Store(v)
	return f
}

func (f *flag) IsOnline() bool        { return f.v.Load() }
func (f *flag) IsAuthenticated() bool { return f.v.Load() }

type harness struct {
	db     *store.DB
	bus    *bus.Bus
	api    *fakeSubmitter
	online *flag
	auth   *flag
	q      *Queue
}

var jan1 = time.Date(2024, 1, 1, 9, 30, 0, 0, time.Local)

func newHarness(t *testing.T, online bool) *harness {
	t.Helper()
	h := &harness{
		db:     testDB(t),
		bus:    bus.New(),
		api:    &fakeSubmitter{},
		online: newFlag(online),
		auth:   newFlag(true),
	}
	clock := jan1
	h.q = New(h.db, h.api, h.online, h.auth, h.bus, zap.NewNop(), Options{
		BatchSize: 5,
		Retry:     RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond},
		Now: func() time.Time {
			// Strictly increasing creation times, all on Jan 1.
			clock = clock.Add(time.Millisecond)
			return clock
		},
	})
	if err := h.q.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	return h
}

func order(n int) (pos.CreateOrderCommand, []pos.CartItem) {
	pid := uuid.New()
	cmd := pos.CreateOrderCommand{
		Items:  []pos.OrderItemRequest{{ProductID: pid, Quantity: n}},
		Status: pos.OrderStatusPending,
	}
	cart := []pos.CartItem{{ProductID: pid, Name: "Latte", Price: decimal.RequireFromString("3.50"), Quantity: n}}
	return cmd, cart
}

func (h *harness) queueN(t *testing.T, n int) []string {
	t.Helper()
	var ids []string
	for i := 0; i < n; i++ {
		cmd, cart := order(i + 1)
		id, err := h.q.Queue(context.Background(), cmd, cart, "")
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	return ids
}

func waitEvent(t *testing.T, ch <-chan bus.Event, kind string) bus.Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case evt := <-ch:
			if evt.Kind == kind {
				return evt
			}
		case <-timeout:
			t.Fatalf("timeout waiting for %s", kind)
		}
	}
}

func notifications(ch <-chan bus.Event) []string {
	var msgs []string
	for {
		select {
		case evt := <-ch:
			msgs = append(msgs, evt.Payload.(bus.Notification).Message)
		default:
			return msgs
		}
	}
}

func TestLocalIDFormatAndParse(t *testing.T) {
	if got := FormatLocalID("240101", 1); got != "OFF-240101-001" {
		t.Errorf("FormatLocalID = %q", got)
	}
	if got := FormatLocalID("240101", 1234); got != "OFF-240101-1234" {
		t.Errorf("FormatLocalID past 999 = %q", got)
	}
	day, seq, ok := parseLocalID("OFF-240101-042")
	if !ok || day != "240101" || seq != 42 {
		t.Errorf("parseLocalID = %q %d %v", day, seq, ok)
	}
	for _, bad := range []string{"", "ORD-240101-001", "OFF-2401-001", "OFF-240101-x"} {
		if _, _, ok := parseLocalID(bad); ok {
			t.Errorf("parseLocalID(%q) should fail", bad)
		}
	}
}

func TestShouldSync(t *testing.T) {
	tests := []struct {
		online, auth   bool
		locks, pending int
		want           bool
	}{
		{true, true, 0, 1, true},
		{false, true, 0, 1, false},
		{true, false, 0, 1, false},
		{true, true, 1, 1, false},
		{true, true, 0, 0, false},
	}
	for _, tt := range tests {
		if got := shouldSync(tt.online, tt.auth, tt.locks, tt.pending); got != tt.want {
			t.Errorf("shouldSync(%v, %v, %d, %d) = %v", tt.online, tt.auth, tt.locks, tt.pending, got)
		}
	}
}

func TestQueueMintsSequentialIDs(t *testing.T) {
	h := newHarness(t, false)

	ids := h.queueN(t, 3)
	want := []string{"OFF-240101-001", "OFF-240101-002", "OFF-240101-003"}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %s, want %s", i, ids[i], want[i])
		}
	}

	pending := h.q.Pending()
	if len(pending) != 3 || h.q.Count() != 3 {
		t.Fatalf("pending = %d, want 3", len(pending))
	}
	for i, p := range pending {
		if p.LocalID != want[i] || p.Status != store.StatusPending {
			t.Errorf("pending[%d] = %s %s", i, p.LocalID, p.Status)
		}
		if p.Command.ClientOrderID != p.LocalID {
			t.Errorf("client order id = %q, want %q", p.Command.ClientOrderID, p.LocalID)
		}
	}
}

func TestCounterSurvivesRemovalAndRestart(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	ids := h.queueN(t, 2)
	for _, id := range ids {
		if err := h.q.Remove(ctx, id); err != nil {
			t.Fatal(err)
		}
	}

	// A new queue over the same database continues the day's sequence.
	clock := jan1.Add(time.Hour)
	q2 := New(h.db, h.api, h.online, h.auth, nil, nil, Options{Now: func() time.Time { return clock }})
	if err := q2.Load(ctx); err != nil {
		t.Fatal(err)
	}
	cmd, cart := order(1)
	id, err := q2.Queue(ctx, cmd, cart, "")
	if err != nil {
		t.Fatal(err)
	}
	if id != "OFF-240101-003" {
		t.Errorf("id = %s, want OFF-240101-003", id)
	}
}

func TestCounterTakesHighestStoredSuffix(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()

	cmd, _ := order(1)
	if err := h.db.InsertPending(&store.PendingOrder{LocalID: "OFF-240101-007", Command: cmd}); err != nil {
		t.Fatal(err)
	}
	if err := h.q.Load(ctx); err != nil {
		t.Fatal(err)
	}
	ids := h.queueN(t, 1)
	if ids[0] != "OFF-240101-008" {
		t.Errorf("id = %s, want OFF-240101-008", ids[0])
	}
}

func TestCounterRestartsNextDay(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	now := jan1
	q := New(db, &fakeSubmitter{}, newFlag(false), newFlag(true), nil, nil, Options{Now: func() time.Time { return now }})
	if err := q.Load(ctx); err != nil {
		t.Fatal(err)
	}

	cmd, cart := order(1)
	if id, _ := q.Queue(ctx, cmd, cart, ""); id != "OFF-240101-001" {
		t.Errorf("id = %s", id)
	}
	now = jan1.Add(24 * time.Hour)
	if id, _ := q.Queue(ctx, cmd, cart, ""); id != "OFF-240102-001" {
		t.Errorf("id = %s, want OFF-240102-001", id)
	}
}

func TestSyncAllSingleBatch(t *testing.T) {
	h := newHarness(t, false)
	notes, unsub := h.bus.Subscribe("notify.", 8)
	defer unsub()

	h.queueN(t, 3)
	h.online.v.Store(true)

	result, err := h.q.SyncAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Synced != 3 || result.Batches != 1 || result.Remaining != 0 {
		t.Errorf("result = %+v", result)
	}

	calls := h.api.calls()
	if len(calls) != 1 {
		t.Fatalf("batch calls = %d, want 1", len(calls))
	}
	for i, want := range []string{"OFF-240101-001", "OFF-240101-002", "OFF-240101-003"} {
		if calls[0][i].ClientOrderID != want {
			t.Errorf("batch[%d] = %s, want %s", i, calls[0][i].ClientOrderID, want)
		}
	}
	if h.q.Count() != 0 {
		t.Errorf("count = %d after sync, want 0", h.q.Count())
	}
	if n, _ := h.db.CountPending(); n != 0 {
		t.Errorf("stored = %d after sync, want 0", n)
	}
	if msgs := notifications(notes); len(msgs) != 1 || msgs[0] != "3 orders synced" {
		t.Errorf("notifications = %v", msgs)
	}
}

func TestSyncStopsWhenConnectivityDrops(t *testing.T) {
	h := newHarness(t, false)
	h.queueN(t, 7)
	h.online.v.Store(true)
	h.api.after = func(call int) {
		if call == 0 {
			h.online.v.Store(false)
		}
	}

	result, err := h.q.SyncAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !result.Stopped || result.Synced != 5 || result.Remaining != 2 {
		t.Errorf("result = %+v", result)
	}
	if got := len(h.api.calls()); got != 1 {
		t.Errorf("batch calls = %d, want 1", got)
	}

	pending := h.q.Pending()
	if len(pending) != 2 {
		t.Fatalf("pending = %d, want 2", len(pending))
	}
	for i, want := range []string{"OFF-240101-006", "OFF-240101-007"} {
		if pending[i].LocalID != want || pending[i].Status != store.StatusPending {
			t.Errorf("pending[%d] = %s %s, want %s pending", i, pending[i].LocalID, pending[i].Status, want)
		}
	}
}

func TestFailedBatchDoesNotBlockLaterBatches(t *testing.T) {
	h := newHarness(t, true)
	h.auth.v.Store(false) // keep the trigger out of the way
	notes, unsub := h.bus.Subscribe("notify.", 8)
	defer unsub()

	h.queueN(t, 7)
	boom := errors.New("server returned 500: boom")
	h.api.fail = func(call int) error {
		if call < 3 {
			return boom
		}
		return nil
	}

	result, err := h.q.SyncAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Failed != 5 || result.Synced != 2 || result.Batches != 2 {
		t.Errorf("result = %+v", result)
	}
	if got := len(h.api.calls()); got != 4 {
		t.Errorf("batch calls = %d, want 3 attempts for the first batch + 1", got)
	}

	pending := h.q.Pending()
	if len(pending) != 5 {
		t.Fatalf("pending = %d, want 5", len(pending))
	}
	for _, p := range pending {
		if p.Status != store.StatusFailed || p.RetryCount != 1 || p.ErrorMessage != boom.Error() {
			t.Errorf("%s: status=%s retries=%d err=%q", p.LocalID, p.Status, p.RetryCount, p.ErrorMessage)
		}
	}
	msgs := notifications(notes)
	if len(msgs) != 2 || msgs[0] != "2 orders synced" || msgs[1] != "5 orders failed to sync" {
		t.Errorf("notifications = %v", msgs)
	}

	// Failed orders are retried by the next run, in their original order.
	h.api.fail = nil
	result, err = h.q.SyncAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Synced != 5 || result.Remaining != 0 {
		t.Errorf("retry result = %+v", result)
	}
	last := h.api.calls()[4]
	if last[0].ClientOrderID != "OFF-240101-001" || last[4].ClientOrderID != "OFF-240101-005" {
		t.Errorf("retry batch order = %s..%s", last[0].ClientOrderID, last[4].ClientOrderID)
	}
}

func TestRetrySucceedsWithinAttempts(t *testing.T) {
	h := newHarness(t, true)
	h.auth.v.Store(false)
	h.queueN(t, 2)
	h.api.fail = func(call int) error {
		if call < 2 {
			return errors.New("timeout")
		}
		return nil
	}

	result, err := h.q.SyncAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if result.Synced != 2 || result.Failed != 0 {
		t.Errorf("result = %+v", result)
	}
}

// A batch the server accepted but whose response was lost is submitted
// again with the same client order ids.
func TestAtLeastOnceResubmitsSameIDs(t *testing.T) {
	h := newHarness(t, true)
	h.auth.v.Store(false)
	h.queueN(t, 1)
	h.api.fail = func(call int) error {
		if call < 3 {
			return errors.New("connection reset")
		}
		return nil
	}

	if _, err := h.q.SyncAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := h.q.SyncAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	calls := h.api.calls()
	if len(calls) != 4 {
		t.Fatalf("calls = %d, want 4", len(calls))
	}
	for _, c := range calls {
		if c[0].ClientOrderID != "OFF-240101-001" {
			t.Errorf("client order id = %s", c[0].ClientOrderID)
		}
	}
	if h.q.Count() != 0 {
		t.Error("order should be gone after the acknowledged submit")
	}
}

func TestSyncAllOverlapIsSkipped(t *testing.T) {
	h := newHarness(t, true)
	h.auth.v.Store(false)
	h.queueN(t, 1)
	h.api.block = make(chan struct{})

	done := make(chan SyncResult)
	go func() {
		r, _ := h.q.SyncAll(context.Background())
		done <- r
	}()
	deadline := time.Now().Add(3 * time.Second)
	for {
		p, err := h.db.GetPending("OFF-240101-001")
		if err != nil {
			t.Fatal(err)
		}
		if p.Status == store.StatusSyncing {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("record never entered syncing")
		}
		time.Sleep(time.Millisecond)
	}
	if !h.q.IsSyncing() {
		t.Error("IsSyncing = false during a run")
	}

	r, err := h.q.SyncAll(context.Background())
	if err != nil || !r.Skipped {
		t.Errorf("overlapping SyncAll = %+v, %v; want skipped", r, err)
	}

	// The record belongs to the running sync.
	cmd, cart := order(9)
	if err := h.q.Update(context.Background(), "OFF-240101-001", cmd, cart, ""); !errors.Is(err, ErrSyncing) {
		t.Errorf("Update during sync = %v, want ErrSyncing", err)
	}

	close(h.api.block)
	if first := <-done; first.Synced != 1 {
		t.Errorf("first run = %+v", first)
	}
}

func TestAutomaticSyncOnReconnect(t *testing.T) {
	h := newHarness(t, false)
	finished, unsub := h.bus.Subscribe(bus.QueueSyncFinished, 4)
	defer unsub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.q.Start(ctx)
	defer h.q.Stop()

	h.queueN(t, 2)
	time.Sleep(20 * time.Millisecond)
	if len(h.api.calls()) != 0 {
		t.Fatal("synced while offline")
	}

	h.online.v.Store(true)
	h.bus.Emit(bus.ConnectivityChanged, nil)

	evt := waitEvent(t, finished, bus.QueueSyncFinished)
	if r := evt.Payload.(SyncResult); r.Synced != 2 {
		t.Errorf("result = %+v", r)
	}
}

func TestAutomaticSyncWaitsForAuth(t *testing.T) {
	h := newHarness(t, true)
	h.auth.v.Store(false)
	finished, unsub := h.bus.Subscribe(bus.QueueSyncFinished, 4)
	defer unsub()

	h.q.Start(context.Background())
	defer h.q.Stop()

	h.queueN(t, 1)
	time.Sleep(20 * time.Millisecond)
	if len(h.api.calls()) != 0 {
		t.Fatal("synced without a token")
	}

	h.auth.v.Store(true)
	h.bus.Emit(bus.AuthChanged, true)
	waitEvent(t, finished, bus.QueueSyncFinished)
	if h.q.Count() != 0 {
		t.Errorf("count = %d, want 0", h.q.Count())
	}
}

func TestStopWaitsForAutomaticSync(t *testing.T) {
	h := newHarness(t, true)
	h.auth.v.Store(false)
	h.api.block = make(chan struct{})

	h.q.Start(context.Background())
	h.queueN(t, 1)
	h.auth.v.Store(true)
	h.bus.Emit(bus.AuthChanged, true)

	deadline := time.Now().Add(3 * time.Second)
	for {
		p, err := h.db.GetPending("OFF-240101-001")
		if err != nil {
			t.Fatal(err)
		}
		if p.Status == store.StatusSyncing {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("automatic sync never started")
		}
		time.Sleep(time.Millisecond)
	}

	stopped := make(chan struct{})
	go func() {
		h.q.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while a batch was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(h.api.block)
	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return after the batch finished")
	}
	if h.q.IsSyncing() {
		t.Error("IsSyncing = true after Stop")
	}
	// The delivered batch was deleted before Stop returned.
	left, err := h.db.ListPending()
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 0 {
		t.Errorf("records after Stop = %+v, want none", left)
	}
}

func TestEditLockSuppressesSync(t *testing.T) {
	h := newHarness(t, true)
	finished, unsub := h.bus.Subscribe(bus.QueueSyncFinished, 4)
	defer unsub()

	h.q.Start(context.Background())
	defer h.q.Stop()

	// The cashier opens an order for editing before it is queued.
	h.q.LockSyncForOfflineEdit("OFF-240101-001")
	h.queueN(t, 1)
	h.bus.Emit(bus.ConnectivityChanged, nil)
	time.Sleep(30 * time.Millisecond)
	if len(h.api.calls()) != 0 {
		t.Fatal("synced while an order was locked for editing")
	}
	if got := h.q.Locks(); len(got) != 1 {
		t.Errorf("locks = %v", got)
	}

	h.q.UnlockSyncForOfflineEdit("OFF-240101-001")
	waitEvent(t, finished, bus.QueueSyncFinished)
	if len(h.api.calls()) != 1 {
		t.Errorf("calls = %d, want 1", len(h.api.calls()))
	}
}

func TestUpdateAndRemove(t *testing.T) {
	h := newHarness(t, false)
	ctx := context.Background()
	ids := h.queueN(t, 1)

	if err := h.db.MarkPendingFailed([]int64{h.q.Pending()[0].ID}, "rejected"); err != nil {
		t.Fatal(err)
	}
	cmd, cart := order(4)
	if err := h.q.Update(ctx, ids[0], cmd, cart, "Ana"); err != nil {
		t.Fatal(err)
	}
	got, err := h.q.Get(ctx, ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != store.StatusPending || got.ErrorMessage != "" || got.RetryCount != 1 {
		t.Errorf("after update: %+v", got)
	}
	if got.Command.Items[0].Quantity != 4 || got.Command.ClientOrderID != ids[0] || got.CustomerName != "Ana" {
		t.Errorf("payload not replaced: %+v", got.Command)
	}

	if err := h.q.Update(ctx, "OFF-240101-999", cmd, cart, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update(missing) = %v, want ErrNotFound", err)
	}
	if _, err := h.q.Get(ctx, "OFF-240101-999"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
	if err := h.q.Remove(ctx, ids[0]); err != nil {
		t.Fatal(err)
	}
	if err := h.q.Remove(ctx, ids[0]); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Remove = %v, want ErrNotFound", err)
	}
	if h.q.Count() != 0 {
		t.Errorf("count = %d", h.q.Count())
	}
}

func TestLoadRecoversInterruptedSync(t *testing.T) {
	h := newHarness(t, false)
	h.queueN(t, 2)
	var ids []int64
	for _, p := range h.q.Pending() {
		ids = append(ids, p.ID)
	}
	if err := h.db.MarkPendingSyncing(ids); err != nil {
		t.Fatal(err)
	}

	if err := h.q.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, p := range h.q.Pending() {
		if p.Status != store.StatusPending {
			t.Errorf("%s status = %s, want pending", p.LocalID, p.Status)
		}
	}
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := RetryPolicy{Attempts: 3, BaseDelay: 10 * time.Millisecond}
	calls := 0
	start := time.Now()
	err := p.Do(context.Background(), func(context.Context) error {
		calls++
		return errors.New("nope")
	})
	elapsed := time.Since(start)
	if err == nil || calls != 3 {
		t.Errorf("err=%v calls=%d", err, calls)
	}
	// 10ms + 20ms between the three attempts.
	if elapsed < 30*time.Millisecond {
		t.Errorf("elapsed = %v, want at least 30ms", elapsed)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls = 0
	_ = RetryPolicy{Attempts: 3, BaseDelay: time.Hour}.Do(ctx, func(context.Context) error {
		calls++
		return errors.New("nope")
	})
	if calls != 1 {
		t.Errorf("calls after cancel = %d, want 1", calls)
	}
}
