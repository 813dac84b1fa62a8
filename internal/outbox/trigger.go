package outbox

import (
	"context"

	"github.com/wtfpos/posd/internal/bus"
	"go.uber.org/zap"
)

// shouldSync is the automatic delivery condition.
func shouldSync(online, authenticated bool, locks, pending int) bool {
	return online && authenticated && locks == 0 && pending > 0
}

// evaluate starts a sync run in the background when the delivery condition
// holds. SyncAll's own guard turns overlapping starts into no-ops. The run
// is tracked by wg so Stop waits for it.
func (q *Queue) evaluate() {
	q.mu.Lock()
	locks, pending := len(q.locks), len(q.pending)
	q.mu.Unlock()

	if !shouldSync(q.online.IsOnline(), q.auth.IsAuthenticated(), locks, pending) {
		return
	}
	if q.syncing.Load() {
		return
	}

	// wg.Add happens under mu so it cannot race with Stop's cancel and Wait.
	q.mu.Lock()
	ctx := q.runCtx
	if ctx.Err() != nil {
		q.mu.Unlock()
		return
	}
	q.wg.Add(1)
	q.mu.Unlock()

	go func() {
		defer q.wg.Done()
		if _, err := q.SyncAll(ctx); err != nil {
			q.logger.Error("automatic sync failed", zap.Error(err))
		}
	}()
}

// Start re-evaluates the delivery condition whenever connectivity or
// authentication changes.
func (q *Queue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.mu.Lock()
	q.runCtx, q.cancel = ctx, cancel
	q.mu.Unlock()

	connCh, unsubConn := q.bus.Subscribe(bus.ConnectivityChanged, 16)
	authCh, unsubAuth := q.bus.Subscribe(bus.AuthChanged, 16)

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		defer unsubConn()
		defer unsubAuth()
		for {
			select {
			case <-ctx.Done():
				return
			case <-connCh:
				q.evaluate()
			case <-authCh:
				q.evaluate()
			}
		}
	}()
	q.evaluate()
}

// Stop stops reacting to changes and waits for an automatic sync run in
// flight. The run sees the cancelled context, so its current batch ends
// deleted or marked failed before Stop returns.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Unlock()
	q.wg.Wait()
}
