package metadata

import (
	"github.com/pkg/errors"

	"vdisk/pkg/filetable"
	"vdisk/pkg/storeerr"
)

// VirtualDisk is a named, fixed range of the pool with its own file table.
// It is never resized after creation.
type VirtualDisk struct {
	Name        string
	StartOffset int64
	Size        int64
	Files       *filetable.FileTable
}

func NewVirtualDisk(name string, startOffset, size int64) *VirtualDisk {
	return &VirtualDisk{
		Name:        name,
		StartOffset: startOffset,
		Size:        size,
		Files:       filetable.New(),
	}
}

// CheckEntry verifies that f lies inside the disk.
func (d *VirtualDisk) CheckEntry(f filetable.StoredFile) error {
	if f.Name == "" {
		return errors.Wrap(storeerr.ErrInvalidArgument, "file name should not be empty")
	}
	if f.StoredOffset < 0 || f.StoredSize < 0 || f.LogicalSize < 0 {
		return errors.Wrapf(storeerr.ErrInvalidArgument,
			"file %q has negative offset or size", f.Name)
	}
	if f.StoredSize > d.Size || f.StoredOffset > d.Size-f.StoredSize {
		return errors.Wrapf(storeerr.ErrCapacityExceeded,
			"file %q range [%d, %d) exceeds disk %q of %d bytes", f.Name, f.StoredOffset, f.End(), d.Name, d.Size)
	}
	return nil
}

// PutFile inserts or replaces f after checking it fits the disk. It returns
// the replaced descriptor, if any.
func (d *VirtualDisk) PutFile(f filetable.StoredFile) (filetable.StoredFile, bool, error) {
	if err := d.CheckEntry(f); err != nil {
		return filetable.StoredFile{}, false, err
	}
	prev, replaced := d.Files.InsertOrReplace(f)
	return prev, replaced, nil
}

// NextSlot is the disk-relative offset the next file is written at and the
// number of bytes left after it.
func (d *VirtualDisk) NextSlot() (offset, remaining int64) {
	offset = d.Files.HighWaterMark()
	return offset, d.Size - offset
}

// PoolOffset converts a disk-relative offset to a pool offset.
func (d *VirtualDisk) PoolOffset(rel int64) int64 {
	return d.StartOffset + rel
}
