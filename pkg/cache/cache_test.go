package cache

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func implementations(t *testing.T) map[string]ICache {
	return map[string]ICache{
		"memory": NewMemoryCache(),
		"dir":    NewDirCache(filepath.Join(t.TempDir(), "cache")),
	}
}

// Test basic Put and Get operations.
func TestCache_PutGet(t *testing.T) {
	for name, c := range implementations(t) {
		key := Key{Disk: "D1", File: "a.txt"}

		if _, ok, err := c.Get(key); ok || err != nil {
			t.Errorf("%s: expected a miss on an empty cache, got ok=%v err=%v", name, ok, err)
		}

		if err := c.Put(key, []byte("hello")); err != nil {
			t.Fatalf("%s: put failed: %v", name, err)
		}
		val, ok, err := c.Get(key)
		if err != nil || !ok || string(val) != "hello" {
			t.Errorf("%s: expected 'hello', got %q ok=%v err=%v", name, val, ok, err)
		}

		if err := c.Put(key, []byte("world")); err != nil {
			t.Fatalf("%s: overwrite failed: %v", name, err)
		}
		val, _, _ = c.Get(key)
		if string(val) != "world" {
			t.Errorf("%s: expected overwrite to win, got %q", name, val)
		}

		if err := c.Close(); err != nil {
			t.Errorf("%s: close failed: %v", name, err)
		}
	}
}

// Same file name on two disks must not collide.
func TestCache_KeyedByDisk(t *testing.T) {
	for name, c := range implementations(t) {
		c.Put(Key{Disk: "D1", File: "a.txt"}, []byte("one"))
		c.Put(Key{Disk: "D2", File: "a.txt"}, []byte("two"))

		v1, _, _ := c.Get(Key{Disk: "D1", File: "a.txt"})
		v2, _, _ := c.Get(Key{Disk: "D2", File: "a.txt"})
		if string(v1) != "one" || string(v2) != "two" {
			t.Errorf("%s: entries collided: %q %q", name, v1, v2)
		}
	}
}

func TestCache_Invalidate(t *testing.T) {
	for name, c := range implementations(t) {
		key := Key{Disk: "D1", File: "a.txt"}

		if err := c.Invalidate(key); err != nil {
			t.Errorf("%s: invalidating an absent entry should be a no-op, got %v", name, err)
		}

		c.Put(key, []byte("hello"))
		if err := c.Invalidate(key); err != nil {
			t.Fatalf("%s: invalidate failed: %v", name, err)
		}
		if _, ok, _ := c.Get(key); ok {
			t.Errorf("%s: expected a miss after invalidate", name)
		}
	}
}

func TestCache_RejectsIncompleteKey(t *testing.T) {
	for name, c := range implementations(t) {
		if err := c.Put(Key{Disk: "D1"}, []byte("x")); err == nil {
			t.Errorf("%s: expected an error for a key without file name", name)
		}
	}
}

func TestMemoryCache_OwnsCopies(t *testing.T) {
	c := NewMemoryCache()
	key := Key{Disk: "D1", File: "a.txt"}
	value := []byte("hello")
	c.Put(key, value)
	value[0] = 'j'

	got, _, _ := c.Get(key)
	if string(got) != "hello" {
		t.Fatalf("cache shares the caller's buffer: %q", got)
	}
	got[0] = 'y'
	again, _, _ := c.Get(key)
	if string(again) != "hello" {
		t.Fatalf("cache returned its own buffer: %q", again)
	}
}

func TestDirCache_AutoCreate(t *testing.T) {
	root := filepath.Join(t.TempDir(), "does", "not", "exist")
	c := NewDirCache(root)
	key := Key{Disk: "D1", File: "a.txt"}

	if _, ok, err := c.Get(key); ok || err != nil {
		t.Fatalf("missing root should read as a miss, got ok=%v err=%v", ok, err)
	}
	if err := c.Put(key, []byte("hello")); err != nil {
		t.Fatalf("put should create the directory: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "D1", "a.txt")); err != nil {
		t.Fatalf("expected entry file on disk: %v", err)
	}

	// removing the whole directory behind the cache's back is still a miss
	if err := os.RemoveAll(root); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := c.Get(key); ok || err != nil {
		t.Fatalf("expected a miss after the directory vanished, got ok=%v err=%v", ok, err)
	}
}

func TestDirCache_EscapesNames(t *testing.T) {
	root := t.TempDir()
	c := NewDirCache(root)
	key := Key{Disk: "..", File: "a/b.txt"}

	if err := c.Put(key, []byte("x")); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "%2E." {
		t.Fatalf("expected a single escaped disk directory, got %v", entries)
	}
	if _, err := os.Stat(filepath.Join(root, "%2E.", "a%2Fb.txt")); err != nil {
		t.Fatalf("expected escaped file name: %v", err)
	}
}

// Test concurrent access for race conditions.
func TestCache_Concurrency(t *testing.T) {
	for name, c := range implementations(t) {
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				key := Key{Disk: "D1", File: string(rune('a' + i%5))}
				payload := bytes.Repeat([]byte{byte(i)}, 16)
				c.Put(key, payload)
				c.Get(key)
				if i%7 == 0 {
					c.Invalidate(key)
				}
			}(i)
		}
		wg.Wait()
		t.Logf("%s: concurrent access finished", name)
	}
}
