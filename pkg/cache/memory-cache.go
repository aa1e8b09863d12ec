package cache

import (
	"sync"

	"github.com/pkg/errors"

	"vdisk/pkg/storeerr"
)

type MemoryCache struct {
	mu    sync.Mutex
	items map[Key][]byte
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[Key][]byte)}
}

// Get returns a copy of the cached bytes, so callers may modify the result.
func (c *MemoryCache) Get(key Key) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, ok := c.items[key]
	if !ok {
		return nil, false, nil
	}
	return clone(value), true, nil
}

func (c *MemoryCache) Put(key Key, value []byte) error {
	if !key.valid() {
		return errors.Wrapf(storeerr.ErrInvalidArgument, "cache key %q is incomplete", key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = clone(value)
	return nil
}

func (c *MemoryCache) Invalidate(key Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[Key][]byte)
	return nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
