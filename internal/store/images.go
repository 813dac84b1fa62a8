package store

import (
	"database/sql"
	"fmt"
	"time"
)

// PutImage inserts or replaces the metadata row for a cached image.
func (db *DB) PutImage(e *ImageEntry) error {
	if e.CachedAt.IsZero() {
		e.CachedAt = time.Now()
	}
	_, err := db.Exec(`
		INSERT INTO image_cache (url, hash, content_type, size, cached_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			hash = excluded.hash,
			content_type = excluded.content_type,
			size = excluded.size,
			cached_at = excluded.cached_at`,
		e.URL, e.Hash, e.ContentType, e.Size, e.CachedAt.UnixMilli())
	return err
}

// GetImage returns the metadata row for url, or nil if it is not cached.
func (db *DB) GetImage(url string) (*ImageEntry, error) {
	var (
		e        ImageEntry
		cachedAt int64
	)
	err := db.QueryRow(`SELECT url, hash, content_type, size, cached_at FROM image_cache WHERE url = ?`, url).
		Scan(&e.URL, &e.Hash, &e.ContentType, &e.Size, &cachedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.CachedAt = time.UnixMilli(cachedAt)
	return &e, nil
}

// ListImages returns every cached image ordered by cached_at ascending.
func (db *DB) ListImages() ([]ImageEntry, error) {
	rows, err := db.Query(`SELECT url, hash, content_type, size, cached_at FROM image_cache ORDER BY cached_at ASC, url ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []ImageEntry
	for rows.Next() {
		var (
			e        ImageEntry
			cachedAt int64
		)
		if err := rows.Scan(&e.URL, &e.Hash, &e.ContentType, &e.Size, &cachedAt); err != nil {
			return nil, err
		}
		e.CachedAt = time.UnixMilli(cachedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// DeleteImages removes the rows for urls and returns the hashes that no
// remaining row references.
func (db *DB) DeleteImages(urls []string) ([]string, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	args := make([]any, len(urls))
	for i, u := range urls {
		args[i] = u
	}
	rows, err := tx.Query(`SELECT DISTINCT hash FROM image_cache WHERE url IN (`+placeholders(len(urls))+`)`, args...)
	if err != nil {
		return nil, err
	}
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			_ = rows.Close()
			return nil, err
		}
		hashes = append(hashes, h)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(`DELETE FROM image_cache WHERE url IN (`+placeholders(len(urls))+`)`, args...); err != nil {
		return nil, fmt.Errorf("delete images: %w", err)
	}

	var orphaned []string
	for _, h := range hashes {
		var n int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM image_cache WHERE hash = ?`, h).Scan(&n); err != nil {
			return nil, err
		}
		if n == 0 {
			orphaned = append(orphaned, h)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return orphaned, nil
}
