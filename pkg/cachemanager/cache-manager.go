package cachemanager

import (
	"vdisk/pkg/cache"
	"vdisk/pkg/metrics"
)

// CacheManager is the only caller of the cache. It builds keys from disk and
// file names and records hits and misses.
type CacheManager struct {
	cache   cache.ICache
	metrics *metrics.Metrics
}

func NewCacheManager(c cache.ICache, m *metrics.Metrics) *CacheManager {
	if c == nil {
		c = cache.NewMemoryCache()
	}
	return &CacheManager{cache: c, metrics: m}
}

func (cm *CacheManager) GetKey(disk, file string) cache.Key {
	return cache.Key{Disk: disk, File: file}
}

// Get looks up the content of file on disk. A failing cache reports the error
// alongside a miss so callers can fall back to the pool.
func (cm *CacheManager) Get(disk, file string) ([]byte, bool, error) {
	value, ok, err := cm.cache.Get(cm.GetKey(disk, file))
	if cm.metrics != nil {
		switch {
		case err != nil:
			cm.metrics.CacheError()
		case ok:
			cm.metrics.CacheHit()
		default:
			cm.metrics.CacheMiss()
		}
	}
	if err != nil {
		return nil, false, err
	}
	return value, ok, nil
}

func (cm *CacheManager) Put(disk, file string, value []byte) error {
	return cm.cache.Put(cm.GetKey(disk, file), value)
}

func (cm *CacheManager) Invalidate(disk, file string) error {
	return cm.cache.Invalidate(cm.GetKey(disk, file))
}

func (cm *CacheManager) Close() error {
	return cm.cache.Close()
}
