package store

import (
	"database/sql"
	"time"
)

// SetValue stores value under key, replacing any previous value.
func (db *DB) SetValue(key, value string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// GetValue retrieves the value stored under key. ok is false when the key
// is absent.
func (db *DB) GetValue(key string) (value string, ok bool, err error) {
	err = db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// DeleteValue removes key.
func (db *DB) DeleteValue(key string) error {
	_, err := db.Exec(`DELETE FROM kv WHERE key = ?`, key)
	return err
}
