package filetable

import (
	"iter"
	"slices"

	"vdisk/pkg/storeerr"
)

// StoredFile describes one file inside a virtual disk. StoredOffset is
// relative to the start of the disk.
type StoredFile struct {
	Name         string
	LogicalSize  int64
	StoredOffset int64
	StoredSize   int64
	Hash         uint64
	Algorithm    string
}

// End is the first disk-relative byte after the stored range.
func (f StoredFile) End() int64 {
	return f.StoredOffset + f.StoredSize
}

// FileTable maps file names to their stored descriptors. It is not safe for
// concurrent use.
type FileTable struct {
	entries map[string]StoredFile
}

func New() *FileTable {
	return &FileTable{entries: make(map[string]StoredFile)}
}

// InsertOrReplace stores f under f.Name and returns the descriptor it
// replaced, if any. The replaced range is not reclaimed here.
func (t *FileTable) InsertOrReplace(f StoredFile) (StoredFile, bool) {
	prev, ok := t.entries[f.Name]
	t.entries[f.Name] = f
	return prev, ok
}

func (t *FileTable) Lookup(name string) (StoredFile, bool) {
	f, ok := t.entries[name]
	return f, ok
}

// Remove deletes name from the table and returns its descriptor so the
// caller can reclaim the byte range.
func (t *FileTable) Remove(name string) (StoredFile, error) {
	f, ok := t.entries[name]
	if !ok {
		return StoredFile{}, storeerr.ErrNotFound
	}
	delete(t.entries, name)
	return f, nil
}

func (t *FileTable) Len() int {
	return len(t.entries)
}

// Names returns the file names in ascending order.
func (t *FileTable) Names() []string {
	names := make([]string, 0, len(t.entries))
	for name := range t.entries {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// All yields a snapshot of the table taken when All is called, ordered by
// name. The sequence can be ranged over any number of times.
func (t *FileTable) All() iter.Seq[StoredFile] {
	snapshot := make([]StoredFile, 0, len(t.entries))
	for _, name := range t.Names() {
		snapshot = append(snapshot, t.entries[name])
	}
	return slices.Values(snapshot)
}

// HighWaterMark is the end of the highest live entry, which is where the
// next file is written. Holes below it are not reused.
func (t *FileTable) HighWaterMark() int64 {
	var mark int64
	for _, f := range t.entries {
		if end := f.End(); end > mark {
			mark = end
		}
	}
	return mark
}

// UsedBytes is the sum of stored sizes of live entries.
func (t *FileTable) UsedBytes() int64 {
	var used int64
	for _, f := range t.entries {
		used += f.StoredSize
	}
	return used
}
