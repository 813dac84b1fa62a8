package daemon

import (
	"context"
	"sync"

	"github.com/wtfpos/posd/internal/auth"
	"github.com/wtfpos/posd/internal/bus"
	"github.com/wtfpos/posd/internal/catalog"
	"github.com/wtfpos/posd/internal/connectivity"
	"github.com/wtfpos/posd/internal/status"
	"go.uber.org/zap"
)

// statusDriver moves the terminal state machine in response to
// authentication and connectivity events, and loads the catalog once the
// terminal has a token.
type statusDriver struct {
	machine *status.Machine
	monitor *connectivity.Monitor
	auth    *auth.Session
	catalog *catalog.Cache
	bus     *bus.Bus
	logger  *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newStatusDriver(m *status.Machine, mon *connectivity.Monitor, a *auth.Session, c *catalog.Cache, b *bus.Bus, logger *zap.Logger) *statusDriver {
	return &statusDriver{machine: m, monitor: mon, auth: a, catalog: c, bus: b, logger: logger}
}

// Start leaves BOOTING and begins following events.
func (d *statusDriver) Start(ctx context.Context) {
	ctx, d.cancel = context.WithCancel(ctx)
	connCh, unsubConn := d.bus.Subscribe(bus.ConnectivityChanged, 16)
	authCh, unsubAuth := d.bus.Subscribe(bus.AuthChanged, 16)

	authed := d.auth.IsAuthenticated()
	if authed {
		d.transition(status.Loading)
	} else {
		d.logger.Info("no token configured, auth required")
		d.transition(status.AuthRequired)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer unsubConn()
		defer unsubAuth()

		// The local mirror is served even before login.
		d.load(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-connCh:
				d.machine.Settle(d.monitor.IsOnline())
			case evt := <-authCh:
				loggedIn, _ := evt.Payload.(bool)
				d.authChanged(ctx, loggedIn)
			}
		}
	}()
}

// Stop stops following events.
func (d *statusDriver) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *statusDriver) load(ctx context.Context) {
	if err := d.catalog.Load(ctx); err != nil {
		d.logger.Error("catalog load failed", zap.Error(err))
	}
	d.machine.Settle(d.monitor.IsOnline())
}

func (d *statusDriver) authChanged(ctx context.Context, loggedIn bool) {
	if !loggedIn {
		if d.machine.Current() != status.AuthRequired {
			d.transition(status.AuthRequired)
		}
		return
	}
	if d.machine.Current() != status.AuthRequired {
		return
	}
	d.transition(status.Loading)
	if d.catalog.IsLoaded() {
		if _, err := d.catalog.Refresh(ctx); err != nil {
			d.logger.Warn("catalog refresh after login failed", zap.Error(err))
		}
	}
	d.load(ctx)
}

// transition moves the machine, logging a move the machine rejects.
func (d *statusDriver) transition(to status.State) {
	from := d.machine.Current()
	if err := d.machine.Transition(to); err != nil {
		d.logger.Debug("status transition rejected", zap.String("from", string(from)), zap.String("to", string(to)), zap.Error(err))
	}
}
