// Package connectivity decides whether the terminal can reach its server.
//
// The Monitor combines an active probe of the server's health endpoint with
// passive link notifications. Probe failures never surface as errors; they
// only move the state.
package connectivity

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wtfpos/posd/internal/bus"
	"go.uber.org/zap"
)

// State is the terminal's view of its connection to the server.
type State string

const (
	// Offline means no usable network link.
	Offline State = "OFFLINE"
	// ServerUnreachable means the link is up but the health probe failed.
	ServerUnreachable State = "SERVER_UNREACHABLE"
	// Online means the last probe succeeded.
	Online State = "ONLINE"
)

// Change is the payload of connectivity.changed events.
type Change struct {
	From State
	To   State
}

// Prober performs one health probe. A nil error means the server is up.
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) error

// Probe calls f.
func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// Options tunes the monitor. Zero fields take the DefaultOptions value,
// except OfflineRecheck where a negative value disables the recheck.
type Options struct {
	ProbeInterval   time.Duration
	OfflineRecheck  time.Duration
	ManualThrottle  time.Duration
	ProbeTimeout    time.Duration
	ReconnectWindow time.Duration
	Now             func() time.Time
}

// DefaultOptions returns the production timings.
func DefaultOptions() Options {
	return Options{
		ProbeInterval:   30 * time.Second,
		OfflineRecheck:  5 * time.Second,
		ManualThrottle:  3 * time.Second,
		ProbeTimeout:    3 * time.Second,
		ReconnectWindow: 3 * time.Second,
		Now:             time.Now,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.ProbeInterval <= 0 {
		o.ProbeInterval = d.ProbeInterval
	}
	if o.OfflineRecheck == 0 {
		o.OfflineRecheck = d.OfflineRecheck
	}
	if o.ManualThrottle <= 0 {
		o.ManualThrottle = d.ManualThrottle
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = d.ProbeTimeout
	}
	if o.ReconnectWindow <= 0 {
		o.ReconnectWindow = d.ReconnectWindow
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	return o
}

// Monitor tracks connectivity and publishes transitions on the bus.
type Monitor struct {
	prober Prober
	bus    *bus.Bus
	logger *zap.Logger
	opts   Options

	probing atomic.Bool

	mu              sync.Mutex
	state           State
	linkUp          bool
	sawOffline      bool
	showReconnected bool
	reconnectGen    uint64
	reconnectTimer  *time.Timer
	lastManual      time.Time
	lastSuccess     time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a monitor. It starts Offline and makes no probe until Start
// or CheckNow.
func New(prober Prober, b *bus.Bus, logger *zap.Logger, opts Options) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		prober: prober,
		bus:    b,
		logger: logger,
		opts:   opts.withDefaults(),
		state:  Offline,
		linkUp: true,
	}
}

// Start runs an immediate probe, then probes every ProbeInterval. While not
// online it also rechecks every OfflineRecheck.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.loop(ctx)
	m.logger.Info("connectivity monitor started",
		zap.Duration("probe_interval", m.opts.ProbeInterval),
		zap.Duration("offline_recheck", m.opts.OfflineRecheck))
}

// Stop stops the probe loop and any pending reconnected timer.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.mu.Lock()
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
	}
	m.mu.Unlock()
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	m.probe(ctx)

	ticker := time.NewTicker(m.opts.ProbeInterval)
	defer ticker.Stop()

	var recheck <-chan time.Time
	if m.opts.OfflineRecheck > 0 {
		t := time.NewTicker(m.opts.OfflineRecheck)
		defer t.Stop()
		recheck = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		case <-recheck:
			if !m.IsOnline() {
				m.probe(ctx)
			}
		}
	}
}

// State returns the current state.
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsOnline reports whether the state is Online.
func (m *Monitor) IsOnline() bool {
	return m.State() == Online
}

// ShowReconnected reports whether the terminal came back online within the
// last ReconnectWindow after having been seen offline.
func (m *Monitor) ShowReconnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.showReconnected
}

// LastSuccessfulCheck returns the time of the last successful probe.
func (m *Monitor) LastSuccessfulCheck() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSuccess
}

// CheckNow runs a manual probe. A call within ManualThrottle of the previous
// manual call is dropped. Returns true when a probe actually ran.
func (m *Monitor) CheckNow(ctx context.Context) bool {
	m.mu.Lock()
	now := m.opts.Now()
	if !m.lastManual.IsZero() && now.Sub(m.lastManual) < m.opts.ManualThrottle {
		m.mu.Unlock()
		m.logger.Debug("manual connectivity check throttled")
		return false
	}
	m.lastManual = now
	m.mu.Unlock()
	return m.probe(ctx)
}

// NetworkChanged reports a passive link transition. Down moves to Offline
// at once; up runs an unthrottled probe.
func (m *Monitor) NetworkChanged(ctx context.Context, up bool) {
	m.mu.Lock()
	m.linkUp = up
	m.mu.Unlock()

	m.logger.Info("network link changed", zap.Bool("up", up))
	if !up {
		m.setState(Offline)
		return
	}
	m.probe(ctx)
}

// probe runs one health probe unless another is already in flight.
func (m *Monitor) probe(ctx context.Context) bool {
	if !m.probing.CompareAndSwap(false, true) {
		return false
	}
	defer m.probing.Store(false)

	pctx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	err := m.prober.Probe(pctx)
	cancel()

	if err == nil {
		m.mu.Lock()
		m.lastSuccess = m.opts.Now()
		m.mu.Unlock()
		m.setState(Online)
		return true
	}

	m.logger.Debug("health probe failed", zap.Error(err))
	m.mu.Lock()
	to := ServerUnreachable
	if !m.linkUp {
		to = Offline
	}
	m.mu.Unlock()
	m.setState(to)
	return true
}

func (m *Monitor) setState(to State) {
	m.mu.Lock()
	from := m.state
	if to != Online {
		m.sawOffline = true
		if m.showReconnected || m.reconnectTimer != nil {
			m.clearReconnectLocked()
		}
	}
	if from == to {
		m.mu.Unlock()
		return
	}
	m.state = to

	reconnected := false
	if to == Online && m.sawOffline {
		m.sawOffline = false
		m.showReconnected = true
		m.reconnectGen++
		gen := m.reconnectGen
		m.reconnectTimer = time.AfterFunc(m.opts.ReconnectWindow, func() { m.expireReconnected(gen) })
		reconnected = true
	}
	m.mu.Unlock()

	m.logger.Info("connectivity changed", zap.String("from", string(from)), zap.String("to", string(to)))
	m.bus.Emit(bus.ConnectivityChanged, Change{From: from, To: to})
	if reconnected {
		m.bus.Emit(bus.ConnectivityReconnected, nil)
	}
}

func (m *Monitor) clearReconnectLocked() {
	m.reconnectGen++
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.showReconnected = false
}

func (m *Monitor) expireReconnected(gen uint64) {
	m.mu.Lock()
	if gen != m.reconnectGen {
		m.mu.Unlock()
		return
	}
	m.showReconnected = false
	m.reconnectTimer = nil
	m.mu.Unlock()
	m.bus.Emit(bus.ConnectivityReconnectedClear, nil)
}
