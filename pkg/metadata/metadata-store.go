package metadata

import (
	"io"
	"iter"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"vdisk/pkg/filetable"
	"vdisk/pkg/storeerr"
	"vdisk/pkg/utils/fs"
)

// Save writes the descriptor and full file table of d to path. The record is
// written to a temporary file and renamed into place, so a reader never sees
// a half-written record.
func Save(path string, d *VirtualDisk) error {
	err := fs.WriteFileAtomic(path, 0o644, func(w io.Writer) error {
		return encodeRecord(w, d)
	})
	if err != nil {
		return errors.Wrapf(storeerr.ErrIO, "save metadata of disk %q to %s: %v", d.Name, path, err)
	}
	return nil
}

// Load reads and validates the record at path.
func Load(path string) (_ *VirtualDisk, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(storeerr.ErrNotFound, "metadata %s does not exist", path)
		}
		return nil, errors.Wrapf(storeerr.ErrIO, "open metadata %s: %v", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			err = multierr.Append(err, errors.Wrapf(storeerr.ErrIO, "close metadata %s: %v", path, cerr))
		}
	}()

	d, err := decodeRecord(f)
	if err != nil {
		return nil, errors.Wrapf(err, "metadata %s", path)
	}
	return d, nil
}

// List yields the files of d as they are when List is called. Mutating the
// disk while ranging over the result does not change what is yielded.
func List(d *VirtualDisk) iter.Seq[filetable.StoredFile] {
	return d.Files.All()
}
