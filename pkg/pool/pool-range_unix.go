//go:build unix

package pool

import (
	"bytes"
	"os"

	"golang.org/x/sys/unix"
)

type mmapRange struct {
	*bytes.Reader
	data []byte
}

func (m *mmapRange) Close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	return err
}

// openRangeReader maps the range read-only. The mapping has to start on a
// page boundary, so the view skips the leading bytes of the first page.
func openRangeReader(path string, off, n int64) (RangeReader, error) {
	if n == 0 {
		return &mmapRange{Reader: bytes.NewReader(nil)}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pageSize := int64(unix.Getpagesize())
	aligned := off - off%pageSize
	delta := off - aligned

	data, err := unix.Mmap(int(f.Fd()), aligned, int(delta+n), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return &mmapRange{Reader: bytes.NewReader(data[delta:]), data: data}, nil
}
