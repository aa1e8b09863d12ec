package cachemanager

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"vdisk/pkg/cache"
	"vdisk/pkg/metrics"
	"vdisk/pkg/storeerr"
)

type brokenCache struct{}

func (brokenCache) Get(cache.Key) ([]byte, bool, error) {
	return []byte("stale"), true, errors.Wrap(storeerr.ErrIO, "disk gone")
}
func (brokenCache) Put(cache.Key, []byte) error { return storeerr.ErrIO }
func (brokenCache) Invalidate(cache.Key) error { return storeerr.ErrIO }
func (brokenCache) Close() error { return nil }

func TestCacheManagerCountsHitsAndMisses(t *testing.T) {
	m := metrics.NewMetrics()
	cm := NewCacheManager(cache.NewMemoryCache(), m)

	_, ok, err := cm.Get("D1", "a.txt")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cm.Put("D1", "a.txt", []byte("hello")))
	value, ok, err := cm.Get("D1", "a.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello", string(value))

	require.NoError(t, cm.Invalidate("D1", "a.txt"))
	_, ok, _ = cm.Get("D1", "a.txt")
	require.False(t, ok)

	snap := m.Snapshot()
	require.EqualValues(t, 1, snap.CacheHits)
	require.EqualValues(t, 2, snap.CacheMisses)
	require.NoError(t, cm.Close())
}

func TestCacheManagerErrorIsNeverAHit(t *testing.T) {
	m := metrics.NewMetrics()
	cm := NewCacheManager(brokenCache{}, m)

	value, ok, err := cm.Get("D1", "a.txt")
	require.ErrorIs(t, err, storeerr.ErrIO)
	require.False(t, ok)
	require.Nil(t, value)
	require.EqualValues(t, 1, m.Snapshot().CacheErrors)
}

func TestCacheManagerWithoutMetrics(t *testing.T) {
	cm := NewCacheManager(nil, nil)
	require.NoError(t, cm.Put("D1", "a.txt", []byte("x")))
	_, ok, err := cm.Get("D1", "a.txt")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, cache.Key{Disk: "D1", File: "a.txt"}, cm.GetKey("D1", "a.txt"))
}
