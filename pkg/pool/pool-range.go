package pool

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"vdisk/pkg/storeerr"
)

// RangeReader is a read-only view of a byte range of the pool.
type RangeReader interface {
	io.Reader
	io.ReaderAt
	io.Closer
	Size() int64
}

// OpenRange returns a view of n bytes of the pool file starting at off.
func OpenRange(path string, off, n int64) (RangeReader, error) {
	if err := checkRange(path, off, n); err != nil {
		return nil, err
	}
	r, err := openRangeReader(path, off, n)
	if err != nil {
		return nil, errors.Wrapf(storeerr.ErrIO, "open range [%d, %d) of %s: %v", off, off+n, path, err)
	}
	return r, nil
}

func checkRange(path string, off, n int64) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(storeerr.ErrNotFound, "pool %s does not exist", path)
		}
		return errors.Wrapf(storeerr.ErrIO, "stat pool %s: %v", path, err)
	}
	if off < 0 || n < 0 || off+n > info.Size() {
		return errors.Wrapf(storeerr.ErrInvalidArgument,
			"range [%d, %d) is outside pool %s of %d bytes", off, off+n, path, info.Size())
	}
	return nil
}

// RangeWriter writes sequentially into a bounded range of the pool. A write
// that would cross the end of the range fails with ErrCapacityExceeded and
// writes nothing.
type RangeWriter struct {
	f       *os.File
	off     int64
	limit   int64
	written int64
}

func OpenRangeWriter(path string, off, limit int64) (*RangeWriter, error) {
	if err := checkRange(path, off, limit); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, errors.Wrapf(storeerr.ErrIO, "open pool %s: %v", path, err)
	}
	return &RangeWriter{f: f, off: off, limit: limit}, nil
}

func (w *RangeWriter) Write(p []byte) (int, error) {
	if w.written+int64(len(p)) > w.limit {
		return 0, errors.Wrapf(storeerr.ErrCapacityExceeded,
			"%d more bytes do not fit in the %d byte range at %d", len(p), w.limit-w.written, w.off)
	}
	n, err := w.f.WriteAt(p, w.off+w.written)
	w.written += int64(n)
	if err != nil {
		return n, errors.Wrapf(storeerr.ErrIO, "write pool at %d: %v", w.off+w.written, err)
	}
	return n, nil
}

// Written is the number of bytes written so far.
func (w *RangeWriter) Written() int64 {
	return w.written
}

// Close syncs and closes the pool handle.
func (w *RangeWriter) Close() error {
	if w.f == nil {
		return nil
	}
	err := multierr.Append(w.f.Sync(), w.f.Close())
	w.f = nil
	if err != nil {
		return errors.Wrapf(storeerr.ErrIO, "close pool: %v", err)
	}
	return nil
}

// ZeroRange overwrites n bytes at off with zeros, chunkSize bytes at a time.
func ZeroRange(path string, off, n int64, chunkSize int) (err error) {
	if err := checkRange(path, off, n); err != nil {
		return err
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return errors.Wrapf(storeerr.ErrIO, "open pool %s: %v", path, err)
	}
	defer func() {
		if cerr := multierr.Append(f.Sync(), f.Close()); cerr != nil {
			err = multierr.Append(err, errors.Wrapf(storeerr.ErrIO, "close pool %s: %v", path, cerr))
		}
	}()

	if err := fillZero(f, off, n, chunkSize); err != nil {
		return errors.Wrapf(storeerr.ErrIO, "zero range [%d, %d) of %s: %v", off, off+n, path, err)
	}
	return nil
}

func fillZero(f *os.File, off, n int64, chunkSize int) error {
	buf := make([]byte, chunkSize)
	var written int64
	for written < n {
		towrite := min(n-written, int64(chunkSize))
		if _, err := f.WriteAt(buf[:towrite], off+written); err != nil {
			return err
		}
		written += towrite
	}
	return nil
}
