package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/wtfpos/posd/internal/bus"
	"github.com/wtfpos/posd/internal/pos"
	"github.com/wtfpos/posd/internal/store"
	"go.uber.org/zap"
)

// SyncResult summarizes one SyncAll call.
type SyncResult struct {
	Skipped   bool `json:"skipped"`   // another run was in progress
	Synced    int  `json:"synced"`    // orders acknowledged and deleted
	Failed    int  `json:"failed"`    // orders marked failed
	Batches   int  `json:"batches"`   // batches submitted
	Stopped   bool `json:"stopped"`   // connectivity was lost before all batches ran
	Remaining int  `json:"remaining"` // orders still stored afterwards
}

// SyncAll delivers every pending or failed order in batches, oldest first.
// It stops before the next batch when connectivity is lost; a batch that
// fails after all retries is marked failed and later batches still run.
// A call made while another run is in progress returns Skipped.
func (q *Queue) SyncAll(ctx context.Context) (SyncResult, error) {
	if !q.syncing.CompareAndSwap(false, true) {
		return SyncResult{Skipped: true}, nil
	}
	q.bus.Emit(bus.QueueSyncStarted, nil)

	result, err := q.syncAll(ctx)
	q.syncing.Store(false)
	result = q.finishSync(result, err)

	if q.queuedDuringSync.Swap(false) {
		q.evaluate()
	}
	return result, err
}

func (q *Queue) syncAll(ctx context.Context) (SyncResult, error) {
	var result SyncResult
	records, err := q.db.ListSyncable()
	if err != nil {
		return result, fmt.Errorf("list syncable orders: %w", err)
	}

	var storeErr error
	for _, batch := range chunk(records, q.opts.BatchSize) {
		if !q.online.IsOnline() || ctx.Err() != nil {
			result.Stopped = true
			q.logger.Info("connectivity lost, stopping sync", zap.Int("batches_done", result.Batches))
			break
		}
		if err := q.syncBatch(ctx, batch, &result); err != nil {
			storeErr = errors.Join(storeErr, err)
		}
	}
	return result, storeErr
}

func (q *Queue) syncBatch(ctx context.Context, batch []store.PendingOrder, result *SyncResult) error {
	ids := make([]int64, len(batch))
	localIDs := make([]string, len(batch))
	cmds := make([]pos.CreateOrderCommand, len(batch))
	for i, rec := range batch {
		ids[i] = rec.ID
		localIDs[i] = rec.LocalID
		cmd := rec.Command
		cmd.ClientOrderID = rec.LocalID
		cmds[i] = cmd
	}

	if err := q.db.MarkPendingSyncing(ids); err != nil {
		return fmt.Errorf("mark syncing: %w", err)
	}
	q.reload()
	result.Batches++

	err := q.opts.Retry.Do(ctx, func(ctx context.Context) error {
		_, err := q.api.CreateOrderBatch(ctx, cmds)
		return err
	})
	if err == nil {
		if derr := q.db.DeletePendingIDs(ids); derr != nil {
			// Delivered but still stored: the next run resubmits them.
			q.logger.Error("failed to delete delivered orders", zap.Strings("local_ids", localIDs), zap.Error(derr))
			return fmt.Errorf("delete delivered orders: %w", derr)
		}
		result.Synced += len(batch)
		q.logger.Info("batch synced", zap.Strings("local_ids", localIDs))
		return nil
	}

	result.Failed += len(batch)
	q.logger.Warn("batch failed to sync", zap.Strings("local_ids", localIDs), zap.Error(err))
	if merr := q.db.MarkPendingFailed(ids, err.Error()); merr != nil {
		return fmt.Errorf("mark failed: %w", merr)
	}
	return nil
}

func (q *Queue) finishSync(result SyncResult, err error) SyncResult {
	q.reload()
	if result.Synced > 0 {
		q.bus.Notify(bus.NotifySuccess, pos.Plural(pos.MsgOrdersSynced, result.Synced))
	}
	if result.Failed > 0 {
		q.bus.Notify(bus.NotifyWarning, pos.Plural(pos.MsgOrdersFailed, result.Failed))
	}
	result.Remaining = q.Count()
	q.logger.Info("sync finished",
		zap.Int("synced", result.Synced),
		zap.Int("failed", result.Failed),
		zap.Int("remaining", result.Remaining),
		zap.Bool("stopped", result.Stopped),
		zap.NamedError("store_error", err))
	q.bus.Emit(bus.QueueSyncFinished, result)
	return result
}

func chunk(records []store.PendingOrder, size int) [][]store.PendingOrder {
	var out [][]store.PendingOrder
	for size < len(records) {
		out = append(out, records[:size:size])
		records = records[size:]
	}
	if len(records) > 0 {
		out = append(out, records)
	}
	return out
}
