//go:build !unix

package pool

import (
	"io"
	"os"
)

type fileRange struct {
	*io.SectionReader
	f *os.File
}

func (r *fileRange) Close() error {
	return r.f.Close()
}

func openRangeReader(path string, off, n int64) (RangeReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &fileRange{SectionReader: io.NewSectionReader(f, off, n), f: f}, nil
}
