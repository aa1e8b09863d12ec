package codec

import (
	"io"
	"sort"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"

	"vdisk/pkg/storeerr"
)

const (
	AlgorithmNone   = "none"
	AlgorithmZstd   = "zstd"
	AlgorithmS2     = "s2"
	AlgorithmLZ4    = "lz4"
	AlgorithmBrotli = "brotli"
	AlgorithmXZ     = "xz"

	DefaultAlgorithm = AlgorithmZstd
)

type algorithm struct {
	newWriter func(w io.Writer) (io.WriteCloser, error)
	newReader func(r io.Reader) (io.ReadCloser, error)
}

var algorithms = map[string]algorithm{
	AlgorithmNone: {
		newWriter: func(w io.Writer) (io.WriteCloser, error) { return nopWriteCloser{w}, nil },
		newReader: func(r io.Reader) (io.ReadCloser, error) { return io.NopCloser(r), nil },
	},
	AlgorithmZstd: {
		newWriter: func(w io.Writer) (io.WriteCloser, error) {
			return zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
		},
		newReader: func(r io.Reader) (io.ReadCloser, error) {
			d, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
			if err != nil {
				return nil, err
			}
			return d.IOReadCloser(), nil
		},
	},
	AlgorithmS2: {
		newWriter: func(w io.Writer) (io.WriteCloser, error) { return s2.NewWriter(w), nil },
		newReader: func(r io.Reader) (io.ReadCloser, error) { return io.NopCloser(s2.NewReader(r)), nil },
	},
	AlgorithmLZ4: {
		newWriter: func(w io.Writer) (io.WriteCloser, error) { return lz4.NewWriter(w), nil },
		newReader: func(r io.Reader) (io.ReadCloser, error) { return io.NopCloser(lz4.NewReader(r)), nil },
	},
	AlgorithmBrotli: {
		newWriter: func(w io.Writer) (io.WriteCloser, error) {
			return brotli.NewWriterLevel(w, brotli.DefaultCompression), nil
		},
		newReader: func(r io.Reader) (io.ReadCloser, error) { return io.NopCloser(brotli.NewReader(r)), nil },
	},
	AlgorithmXZ: {
		newWriter: func(w io.Writer) (io.WriteCloser, error) { return xz.NewWriter(w) },
		newReader: func(r io.Reader) (io.ReadCloser, error) {
			xr, err := xz.NewReader(r)
			if err != nil {
				return nil, err
			}
			return io.NopCloser(xr), nil
		},
	},
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func lookupAlgorithm(name string) (algorithm, error) {
	a, ok := algorithms[name]
	if !ok {
		return algorithm{}, errors.Wrapf(storeerr.ErrInvalidArgument,
			"unknown compression algorithm %q, expected one of %v", name, Algorithms())
	}
	return a, nil
}

// Algorithms lists the supported algorithm names.
func Algorithms() []string {
	names := make([]string, 0, len(algorithms))
	for name := range algorithms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Supported reports whether name is a known algorithm.
func Supported(name string) bool {
	_, ok := algorithms[name]
	return ok
}
