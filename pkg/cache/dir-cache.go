package cache

import (
	"bytes"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"vdisk/pkg/storeerr"
	"vdisk/pkg/utils/fs"
)

// DirCache keeps one file per entry under root, laid out as
// <root>/<disk>/<file> with both names path-escaped. Directories are created
// on first Put; a missing directory reads as a miss.
type DirCache struct {
	root string
	mu   sync.Mutex
}

func NewDirCache(root string) *DirCache {
	return &DirCache{root: root}
}

func (c *DirCache) Root() string {
	return c.root
}

func escapeName(name string) string {
	escaped := url.PathEscape(name)
	if strings.HasPrefix(escaped, ".") {
		escaped = "%2E" + escaped[1:]
	}
	return escaped
}

func (c *DirCache) entryPath(key Key) string {
	return filepath.Join(c.root, escapeName(key.Disk), escapeName(key.File))
}

func (c *DirCache) Get(key Key) ([]byte, bool, error) {
	if !key.valid() {
		return nil, false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.entryPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errors.Wrapf(storeerr.ErrIO, "read cache entry %s: %v", key, err)
	}
	return data, true, nil
}

func (c *DirCache) Put(key Key, value []byte) error {
	if !key.valid() {
		return errors.Wrapf(storeerr.ErrInvalidArgument, "cache key %q is incomplete", key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	path := c.entryPath(key)
	if err := fs.EnsureDir(filepath.Dir(path)); err != nil {
		return errors.Wrapf(storeerr.ErrIO, "cache entry %s: %v", key, err)
	}
	err := fs.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		_, err := io.Copy(w, bytes.NewReader(value))
		return err
	})
	if err != nil {
		return errors.Wrapf(storeerr.ErrIO, "write cache entry %s: %v", key, err)
	}
	return nil
}

func (c *DirCache) Invalidate(key Key) error {
	if !key.valid() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.Remove(c.entryPath(key)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(storeerr.ErrIO, "remove cache entry %s: %v", key, err)
	}
	return nil
}

func (c *DirCache) Close() error {
	return nil
}
