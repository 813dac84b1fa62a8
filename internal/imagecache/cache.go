// Package imagecache keeps local copies of catalog images so product and
// customer pictures still render while the terminal is offline.
package imagecache

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/wtfpos/posd/internal/pos"
	"github.com/wtfpos/posd/internal/store"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Options bounds the cache.
type Options struct {
	MaxAge      time.Duration
	MaxEntries  int
	Concurrency int
	Now         func() time.Time
}

// DefaultOptions keeps images for 30 days and at most 2000 of them.
func DefaultOptions() Options {
	return Options{
		MaxAge:      30 * 24 * time.Hour,
		MaxEntries:  2000,
		Concurrency: 6,
		Now:         time.Now,
	}
}

// Cache maps remote image URLs to local file references.
type Cache struct {
	db     *store.DB
	blobs  *Blobs
	fetch  Fetcher
	logger *zap.Logger
	opts   Options

	mu   sync.RWMutex
	refs map[string]string // remote URL -> file:// reference
}

// New creates a cache storing metadata in db and bytes under dir.
func New(db *store.DB, dir string, fetch Fetcher, logger *zap.Logger, opts Options) *Cache {
	d := DefaultOptions()
	if opts.MaxAge <= 0 {
		opts.MaxAge = d.MaxAge
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = d.MaxEntries
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = d.Concurrency
	}
	if opts.Now == nil {
		opts.Now = d.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		db:     db,
		blobs:  NewBlobs(dir),
		fetch:  fetch,
		logger: logger,
		opts:   opts,
		refs:   make(map[string]string),
	}
}

// CacheImages downloads every image the catalog references that is not
// cached yet, then runs Cleanup. Failed downloads are skipped.
func (c *Cache) CacheImages(ctx context.Context, cat *pos.Catalog) error {
	entries, err := c.db.ListImages()
	if err != nil {
		return fmt.Errorf("list cached images: %w", err)
	}
	cached := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		cached[e.URL] = struct{}{}
	}

	var missing []string
	for _, u := range cat.ImageURLs() {
		if _, ok := cached[u]; !ok {
			missing = append(missing, u)
		}
	}

	if len(missing) > 0 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.opts.Concurrency)
		for _, u := range missing {
			u := u
			g.Go(func() error {
				if err := c.CacheURL(gctx, u); err != nil {
					c.logger.Debug("image download skipped", zap.String("url", u), zap.Error(err))
				}
				return nil
			})
		}
		_ = g.Wait()
		c.logger.Info("images cached", zap.Int("requested", len(missing)))
	}

	if _, err := c.Cleanup(ctx); err != nil {
		return err
	}
	return nil
}

// CacheURL caches a single image if it is not cached yet, or if its row
// outlived the blob file.
func (c *Cache) CacheURL(ctx context.Context, remote string) error {
	if remote == "" {
		return nil
	}
	e, err := c.db.GetImage(remote)
	if err != nil {
		return err
	}
	if e != nil && c.blobs.Exists(e.Hash) {
		return nil
	}
	return c.download(ctx, remote)
}

func (c *Cache) download(ctx context.Context, remote string) error {
	data, contentType, err := c.fetch.Fetch(ctx, remote)
	if err != nil {
		return err
	}
	hash, err := c.blobs.Put(data)
	if err != nil {
		return err
	}
	entry := &store.ImageEntry{
		URL:         remote,
		Hash:        hash,
		ContentType: contentType,
		Size:        int64(len(data)),
		CachedAt:    c.opts.Now(),
	}
	if err := c.db.PutImage(entry); err != nil {
		return fmt.Errorf("save image row: %w", err)
	}
	c.remember(remote, c.localRef(hash))
	return nil
}

// ResolveURL returns the local reference for remote if one is already known
// in memory, else remote unchanged. It never touches the disk.
func (c *Cache) ResolveURL(remote string) string {
	if remote == "" {
		return ""
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if ref, ok := c.refs[remote]; ok {
		return ref
	}
	return remote
}

// Resolve returns the local reference for remote, consulting the store,
// or remote unchanged when the image is not cached.
func (c *Cache) Resolve(ctx context.Context, remote string) (string, error) {
	if remote == "" {
		return "", nil
	}
	c.mu.RLock()
	ref, ok := c.refs[remote]
	c.mu.RUnlock()
	if ok {
		return ref, nil
	}
	if err := ctx.Err(); err != nil {
		return remote, err
	}

	e, err := c.db.GetImage(remote)
	if err != nil {
		return remote, err
	}
	if e == nil || !c.blobs.Exists(e.Hash) {
		return remote, nil
	}
	ref = c.localRef(e.Hash)
	c.remember(remote, ref)
	return ref, nil
}

// ResolveCatalog returns a copy of cat with every image reference resolved.
// Lookup failures leave the remote URL in place.
func (c *Cache) ResolveCatalog(ctx context.Context, cat *pos.Catalog) pos.Catalog {
	return cat.MapImages(func(remote string) string {
		ref, err := c.Resolve(ctx, remote)
		if err != nil {
			c.logger.Debug("image resolve failed", zap.String("url", remote), zap.Error(err))
			return remote
		}
		return ref
	})
}

// Cleanup drops entries older than MaxAge, then the oldest entries until at
// most MaxEntries remain. Returns how many entries were removed.
func (c *Cache) Cleanup(ctx context.Context) (int, error) {
	entries, err := c.db.ListImages()
	if err != nil {
		return 0, fmt.Errorf("list cached images: %w", err)
	}

	cutoff := c.opts.Now().Add(-c.opts.MaxAge)
	var remove, keep []string
	for _, e := range entries {
		if e.CachedAt.Before(cutoff) {
			remove = append(remove, e.URL)
		} else {
			keep = append(keep, e.URL)
		}
	}
	// keep is still ordered by cached_at ascending.
	if excess := len(keep) - c.opts.MaxEntries; excess > 0 {
		remove = append(remove, keep[:excess]...)
	}
	if len(remove) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	orphaned, err := c.db.DeleteImages(remove)
	if err != nil {
		return 0, fmt.Errorf("evict images: %w", err)
	}
	c.forget(remove...)
	for _, h := range orphaned {
		if err := c.blobs.Delete(h); err != nil {
			c.logger.Warn("failed to delete image blob", zap.String("hash", h), zap.Error(err))
		}
	}

	c.logger.Info("image cache cleaned", zap.Int("removed", len(remove)), zap.Int("blobs_deleted", len(orphaned)))
	return len(remove), nil
}

// forget drops the in-memory references of evicted URLs.
func (c *Cache) forget(remotes ...string) {
	c.mu.Lock()
	for _, u := range remotes {
		delete(c.refs, u)
	}
	c.mu.Unlock()
}

func (c *Cache) remember(remote, ref string) {
	c.mu.Lock()
	c.refs[remote] = ref
	c.mu.Unlock()
}

func (c *Cache) localRef(hash string) string {
	p, err := filepath.Abs(c.blobs.Path(hash))
	if err != nil {
		p = c.blobs.Path(hash)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(p)}).String()
}
