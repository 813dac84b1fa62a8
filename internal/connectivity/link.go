package connectivity

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// LinkFunc reports whether a usable network link is present.
type LinkFunc func() (bool, error)

// LinkWatcher polls the local network interfaces and tells the monitor
// when the link goes up or down.
type LinkWatcher struct {
	monitor  *Monitor
	interval time.Duration
	linkUp   LinkFunc
	logger   *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLinkWatcher creates a watcher. A nil linkUp uses InterfacesUp.
func NewLinkWatcher(m *Monitor, interval time.Duration, linkUp LinkFunc, logger *zap.Logger) *LinkWatcher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if linkUp == nil {
		linkUp = InterfacesUp
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinkWatcher{monitor: m, interval: interval, linkUp: linkUp, logger: logger}
}

// Start begins polling. The first observation only reports a down link.
func (w *LinkWatcher) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		last, err := w.linkUp()
		if err != nil {
			w.logger.Warn("cannot read network interfaces", zap.Error(err))
			last = true
		}
		if !last {
			w.monitor.NetworkChanged(ctx, false)
		}

		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				up, err := w.linkUp()
				if err != nil {
					w.logger.Debug("cannot read network interfaces", zap.Error(err))
					continue
				}
				if up != last {
					last = up
					w.monitor.NetworkChanged(ctx, up)
				}
			}
		}
	}()
}

// Stop stops polling.
func (w *LinkWatcher) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// InterfacesUp reports whether any non-loopback interface is up and has at
// least one address.
func InterfacesUp() (bool, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return false, err
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		if len(addrs) > 0 {
			return true, nil
		}
	}
	return false, nil
}
