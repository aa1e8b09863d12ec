package cache

import "fmt"

// Key identifies a cached file. The disk name is part of the key so two disks
// holding a file of the same name never share an entry.
type Key struct {
	Disk string
	File string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Disk, k.File)
}

func (k Key) valid() bool {
	return k.Disk != "" && k.File != ""
}

// ICache holds decompressed file content. Entries are disposable copies and
// never the record of a file's existence. There is no TTL and no size bound.
type ICache interface {
	Get(key Key) ([]byte, bool, error)
	Put(key Key, value []byte) error
	Invalidate(key Key) error
	Close() error
}
