package cache

import (
	"bytes"
	"testing"
)

func FuzzCache_FullBehavior(f *testing.F) {
	f.Add("D1", "alpha", []byte("value1"))
	f.Add("D2", "..", []byte{})
	f.Add("a/b", "%2E", []byte{0, 1, 2})

	f.Fuzz(func(t *testing.T, disk, file string, value []byte) {
		key := Key{Disk: disk, File: file}
		caches := map[string]ICache{
			"memory": NewMemoryCache(),
			"dir":    NewDirCache(t.TempDir()),
		}

		for name, cache := range caches {
			err := cache.Put(key, value)
			if !key.valid() {
				if err == nil {
					t.Errorf("%s: expected incomplete key %v to be rejected", name, key)
				}
				continue
			}
			if err != nil {
				// names the file system cannot hold are not a cache bug
				if name == "dir" {
					continue
				}
				t.Fatalf("%s: put failed: %v", name, err)
			}

			v, ok, err := cache.Get(key)
			if err != nil || !ok || !bytes.Equal(v, value) {
				t.Errorf("%s: expected %q for key=%v, got %q ok=%v err=%v", name, value, key, v, ok, err)
			}

			// Ensure invalidation works
			if err := cache.Invalidate(key); err != nil {
				t.Errorf("%s: invalidate failed: %v", name, err)
			}
			if _, ok, _ := cache.Get(key); ok {
				t.Errorf("%s: expected key=%v to be invalidated", name, key)
			}
		}
	})
}
