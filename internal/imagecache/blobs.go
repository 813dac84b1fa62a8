package imagecache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// Blobs stores image bytes by their SHA-256, so identical images fetched
// from different URLs share one file. Files live at dir/{h[0:2]}/{h[2:4]}/{h}.
type Blobs struct {
	dir string
}

// NewBlobs creates a blob store rooted at dir.
func NewBlobs(dir string) *Blobs {
	return &Blobs{dir: dir}
}

// Hash returns the hex SHA-256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Put stores data and returns its hash. Existing content is not rewritten.
func (b *Blobs) Put(data []byte) (string, error) {
	hash := Hash(data)
	path := b.Path(hash)
	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), hash+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create blob: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("commit blob: %w", err)
	}
	return hash, nil
}

// Path returns where the blob for hash lives.
func (b *Blobs) Path(hash string) string {
	if len(hash) < 4 {
		return filepath.Join(b.dir, hash)
	}
	return filepath.Join(b.dir, hash[0:2], hash[2:4], hash)
}

// Exists reports whether the blob for hash is on disk.
func (b *Blobs) Exists(hash string) bool {
	_, err := os.Stat(b.Path(hash))
	return err == nil
}

// Delete removes the blob for hash and prunes empty fan-out directories.
func (b *Blobs) Delete(hash string) error {
	path := b.Path(hash)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("delete blob: %w", err)
	}
	dir := filepath.Dir(path)
	_ = os.Remove(dir)
	_ = os.Remove(filepath.Dir(dir))
	return nil
}
