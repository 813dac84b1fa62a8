package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/wtfpos/posd/internal/pos"
)

// SaveCatalog replaces the local catalog mirror with c.
func (db *DB) SaveCatalog(c *pos.Catalog) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO catalog_snapshot (id, payload, synced_at, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload = excluded.payload,
			synced_at = excluded.synced_at,
			updated_at = excluded.updated_at`,
		string(payload), c.SyncedAt.UnixMilli(), time.Now().UnixMilli())
	return err
}

// LoadCatalog returns the local catalog mirror, or nil if none was saved yet.
func (db *DB) LoadCatalog() (*pos.Catalog, error) {
	var payload string
	err := db.QueryRow(`SELECT payload FROM catalog_snapshot WHERE id = 1`).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var c pos.Catalog
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return &c, nil
}
