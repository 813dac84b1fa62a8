package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wtfpos/posd/internal/pos"
)

// SaveDraft replaces the persisted cart draft.
func (db *DB) SaveDraft(d *Draft) error {
	items := d.Items
	if items == nil {
		items = []pos.CartItem{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	var customerID sql.NullString
	if d.CustomerID != nil {
		customerID = sql.NullString{String: d.CustomerID.String(), Valid: true}
	}
	d.UpdatedAt = time.Now()
	_, err = db.Exec(`
		INSERT INTO cart_draft (id, items, customer_id, customer_name, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			items = excluded.items,
			customer_id = excluded.customer_id,
			customer_name = excluded.customer_name,
			updated_at = excluded.updated_at`,
		string(data), customerID, nullString(d.CustomerName), d.UpdatedAt.UnixMilli())
	return err
}

// LoadDraft returns the persisted cart draft, or nil if there is none.
func (db *DB) LoadDraft() (*Draft, error) {
	var (
		d                        Draft
		items                    string
		customerID, customerName sql.NullString
		updatedAt                int64
	)
	err := db.QueryRow(`SELECT items, customer_id, customer_name, updated_at FROM cart_draft WHERE id = 1`).
		Scan(&items, &customerID, &customerName, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(items), &d.Items); err != nil {
		return nil, fmt.Errorf("decode draft: %w", err)
	}
	if customerID.Valid {
		id, err := uuid.Parse(customerID.String)
		if err != nil {
			return nil, fmt.Errorf("decode draft customer: %w", err)
		}
		d.CustomerID = &id
	}
	d.CustomerName = customerName.String
	d.UpdatedAt = time.UnixMilli(updatedAt)
	return &d, nil
}

// ClearDraft deletes the persisted cart draft.
func (db *DB) ClearDraft() error {
	_, err := db.Exec(`DELETE FROM cart_draft WHERE id = 1`)
	return err
}
