package codec

import (
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"vdisk/pkg/pool"
	"vdisk/pkg/storeerr"
	"vdisk/pkg/utils/fs"
)

var ErrChecksumMismatch = errors.New("checksum mismatch")

// PoolCodec compresses straight into the pool file and decompresses straight
// out of it. The content hash is xxhash64 of the uncompressed bytes.
type PoolCodec struct {
	// Algorithm is used when a request does not name one.
	Algorithm string
}

func NewPoolCodec(algorithm string) (*PoolCodec, error) {
	if algorithm == "" {
		algorithm = DefaultAlgorithm
	}
	if _, err := lookupAlgorithm(algorithm); err != nil {
		return nil, err
	}
	return &PoolCodec{Algorithm: algorithm}, nil
}

// rangeSink remembers that the range ran out, whatever the compressor does
// with the error afterwards.
type rangeSink struct {
	w        *pool.RangeWriter
	overflow bool
}

func (s *rangeSink) Write(p []byte) (int, error) {
	n, err := s.w.Write(p)
	if errors.Is(err, storeerr.ErrCapacityExceeded) {
		s.overflow = true
	}
	return n, err
}

func (c *PoolCodec) Compress(req CompressRequest) (_ CompressResult, err error) {
	name := req.Algorithm
	if name == "" {
		name = c.Algorithm
	}
	algo, err := lookupAlgorithm(name)
	if err != nil {
		return CompressResult{}, err
	}

	src, err := os.Open(req.SourcePath)
	if err != nil {
		if os.IsNotExist(err) {
			return CompressResult{}, errors.Wrapf(storeerr.ErrNotFound, "source %s does not exist", req.SourcePath)
		}
		return CompressResult{}, errors.Wrapf(storeerr.ErrIO, "open source %s: %v", req.SourcePath, err)
	}
	defer func() {
		err = multierr.Append(err, src.Close())
	}()

	rw, err := pool.OpenRangeWriter(req.PoolPath, req.Offset, req.Limit)
	if err != nil {
		return CompressResult{}, err
	}
	sink := &rangeSink{w: rw}
	defer func() {
		err = multierr.Append(err, rw.Close())
	}()

	zw, err := algo.newWriter(sink)
	if err != nil {
		return CompressResult{}, errors.Wrapf(storeerr.ErrIO, "%s writer: %v", name, err)
	}

	hash := xxhash.New()
	logical, copyErr := io.Copy(zw, io.TeeReader(src, hash))
	closeErr := zw.Close()
	if sink.overflow {
		return CompressResult{}, errors.Wrapf(storeerr.ErrCapacityExceeded,
			"compressed %s does not fit in the %d bytes left at pool offset %d", req.FileName, req.Limit, req.Offset)
	}
	if err := multierr.Append(copyErr, closeErr); err != nil {
		return CompressResult{}, errors.Wrapf(storeerr.ErrIO, "compress %s with %s: %v", req.FileName, name, err)
	}

	return CompressResult{
		LogicalSize: logical,
		StoredSize:  rw.Written(),
		Hash:        hash.Sum64(),
		Algorithm:   name,
	}, nil
}

func (c *PoolCodec) Decompress(req DecompressRequest) (err error) {
	algo, err := lookupAlgorithm(req.Algorithm)
	if err != nil {
		return err
	}

	rr, err := pool.OpenRange(req.PoolPath, req.Offset, req.StoredSize)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, rr.Close())
	}()

	// some encoders emit nothing at all for empty input
	var zr io.ReadCloser = io.NopCloser(rr)
	if req.StoredSize > 0 {
		zr, err = algo.newReader(rr)
		if err != nil {
			return errors.Wrapf(storeerr.ErrIO, "%s reader for %s: %v", req.Algorithm, req.FileName, err)
		}
	}
	defer func() {
		err = multierr.Append(err, zr.Close())
	}()

	return fs.WriteFileAtomic(req.OutputPath, 0o644, func(w io.Writer) error {
		hash := xxhash.New()
		// one extra byte is enough to notice content longer than recorded
		n, err := io.Copy(io.MultiWriter(w, hash), io.LimitReader(zr, req.LogicalSize+1))
		if err != nil {
			return errors.Wrapf(storeerr.ErrIO, "decompress %s: %v", req.FileName, err)
		}
		if n != req.LogicalSize {
			return errors.Wrapf(ErrChecksumMismatch, "%s decompressed to %d bytes, expected %d", req.FileName, n, req.LogicalSize)
		}
		if sum := hash.Sum64(); sum != req.Hash {
			return errors.Wrapf(ErrChecksumMismatch, "%s hash %016x, expected %016x", req.FileName, sum, req.Hash)
		}
		return nil
	})
}

// ZeroReclaimer overwrites a reclaimed range with zeros so no stale content
// stays readable in the pool.
type ZeroReclaimer struct {
	ChunkSize int
}

func (z ZeroReclaimer) Reclaim(req ReclaimRequest) error {
	if req.Size == 0 {
		return nil
	}
	return pool.ZeroRange(req.PoolPath, req.Offset, req.Size, z.ChunkSize)
}
