package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/wtfpos/posd/internal/pos"
)

const pendingColumns = `id, local_id, command, cart_snapshot, customer_name, status, error_message, retry_count, created_at`

// InsertPending stores a new pending order and sets its ID.
func (db *DB) InsertPending(p *PendingOrder) error {
	cmd, cart, err := encodePayload(p.Command, p.CartSnapshot)
	if err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	if p.Status == "" {
		p.Status = StatusPending
	}
	res, err := db.Exec(`
		INSERT INTO pending_orders (local_id, command, cart_snapshot, customer_name, status, error_message, retry_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.LocalID, cmd, cart, nullString(p.CustomerName), p.Status, nullString(p.ErrorMessage), p.RetryCount,
		p.CreatedAt.UnixMilli(), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert pending order %s: %w", p.LocalID, err)
	}
	p.ID, err = res.LastInsertId()
	return err
}

// GetPending returns the pending order with the given local id, or nil if
// there is none.
func (db *DB) GetPending(localID string) (*PendingOrder, error) {
	row := db.QueryRow(`SELECT `+pendingColumns+` FROM pending_orders WHERE local_id = ?`, localID)
	p, err := scanPending(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListPending returns every pending order in delivery order.
func (db *DB) ListPending() ([]PendingOrder, error) {
	return db.queryPending(`SELECT ` + pendingColumns + ` FROM pending_orders ORDER BY created_at ASC, id ASC`)
}

// ListSyncable returns the orders eligible for a sync run (pending or
// failed) in delivery order.
func (db *DB) ListSyncable() ([]PendingOrder, error) {
	return db.queryPending(`SELECT `+pendingColumns+` FROM pending_orders
		WHERE status IN (?, ?) ORDER BY created_at ASC, id ASC`, StatusPending, StatusFailed)
}

// CountPending returns the number of stored pending orders in any status.
func (db *DB) CountPending() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pending_orders`).Scan(&n)
	return n, err
}

// LocalIDsWithPrefix returns the local ids starting with prefix.
func (db *DB) LocalIDsWithPrefix(prefix string) ([]string, error) {
	rows, err := db.Query(`SELECT local_id FROM pending_orders WHERE substr(local_id, 1, ?) = ?`, len(prefix), prefix)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdatePendingPayload replaces the command, cart snapshot and customer name
// of a pending order. A failed order goes back to pending with its error
// cleared. Returns ErrSyncing while a sync run owns the record, and
// (false, nil) when no such order exists.
func (db *DB) UpdatePendingPayload(localID string, cmd pos.CreateOrderCommand, cart []pos.CartItem, customerName string) (bool, error) {
	cmdJSON, cartJSON, err := encodePayload(cmd, cart)
	if err != nil {
		return false, err
	}
	res, err := db.Exec(`
		UPDATE pending_orders
		SET command = ?, cart_snapshot = ?, customer_name = ?, status = ?, error_message = NULL, updated_at = ?
		WHERE local_id = ? AND status != ?`,
		cmdJSON, cartJSON, nullString(customerName), StatusPending, time.Now().UnixMilli(), localID, StatusSyncing)
	if err != nil {
		return false, fmt.Errorf("update pending order %s: %w", localID, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	var status string
	err = db.QueryRow(`SELECT status FROM pending_orders WHERE local_id = ?`, localID).Scan(&status)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return false, ErrSyncing
}

// DeletePending removes a pending order by local id. Reports whether a row
// was removed.
func (db *DB) DeletePending(localID string) (bool, error) {
	res, err := db.Exec(`DELETE FROM pending_orders WHERE local_id = ?`, localID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeletePendingIDs removes the pending orders with the given row ids.
func (db *DB) DeletePendingIDs(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := db.Exec(`DELETE FROM pending_orders WHERE id IN (`+placeholders(len(ids))+`)`, int64Args(ids)...)
	return err
}

// MarkPendingSyncing moves the given orders to 'syncing'.
func (db *DB) MarkPendingSyncing(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	args := append([]any{StatusSyncing, time.Now().UnixMilli()}, int64Args(ids)...)
	_, err := db.Exec(`UPDATE pending_orders SET status = ?, updated_at = ? WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	return err
}

// MarkPendingFailed moves the given orders to 'failed', records errMsg and
// increments their retry count.
func (db *DB) MarkPendingFailed(ids []int64, errMsg string) error {
	if len(ids) == 0 {
		return nil
	}
	args := append([]any{StatusFailed, errMsg, time.Now().UnixMilli()}, int64Args(ids)...)
	_, err := db.Exec(`
		UPDATE pending_orders
		SET status = ?, error_message = ?, retry_count = retry_count + 1, updated_at = ?
		WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	return err
}

// ResetSyncing returns orders left in 'syncing' by an interrupted run to
// 'pending' and reports how many there were.
func (db *DB) ResetSyncing() (int64, error) {
	res, err := db.Exec(`UPDATE pending_orders SET status = ?, updated_at = ? WHERE status = ?`,
		StatusPending, time.Now().UnixMilli(), StatusSyncing)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (db *DB) queryPending(query string, args ...any) ([]PendingOrder, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var orders []PendingOrder
	for rows.Next() {
		p, err := scanPending(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *p)
	}
	return orders, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPending(s scanner) (*PendingOrder, error) {
	var (
		p                    PendingOrder
		cmd, cart            string
		customerName, errMsg sql.NullString
		createdAt            int64
	)
	if err := s.Scan(&p.ID, &p.LocalID, &cmd, &cart, &customerName, &p.Status, &errMsg, &p.RetryCount, &createdAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(cmd), &p.Command); err != nil {
		return nil, fmt.Errorf("decode command of %s: %w", p.LocalID, err)
	}
	if err := json.Unmarshal([]byte(cart), &p.CartSnapshot); err != nil {
		return nil, fmt.Errorf("decode cart of %s: %w", p.LocalID, err)
	}
	p.CustomerName = customerName.String
	p.ErrorMessage = errMsg.String
	p.CreatedAt = time.UnixMilli(createdAt)
	return &p, nil
}

func encodePayload(cmd pos.CreateOrderCommand, cart []pos.CartItem) (string, string, error) {
	cmdJSON, err := json.Marshal(cmd)
	if err != nil {
		return "", "", fmt.Errorf("encode command: %w", err)
	}
	if cart == nil {
		cart = []pos.CartItem{}
	}
	cartJSON, err := json.Marshal(cart)
	if err != nil {
		return "", "", fmt.Errorf("encode cart: %w", err)
	}
	return string(cmdJSON), string(cartJSON), nil
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}
