package codec

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"vdisk/pkg/pool"
	"vdisk/pkg/storeerr"
)

type fixture struct {
	dir  string
	pool *pool.Pool
}

func newFixture(t *testing.T, capacity int64) fixture {
	dir := t.TempDir()
	p, err := pool.CreatePool(filepath.Join(dir, "storage.bin"), capacity, 0)
	require.NoError(t, err)
	return fixture{dir: dir, pool: p}
}

func (f fixture) source(t *testing.T, name string, content []byte) string {
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestRoundTripAllAlgorithms(t *testing.T) {
	content := []byte(strings.Repeat("the quick brown fox jumps over the lazy dog\n", 200))

	for _, name := range Algorithms() {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, 64*1024)
			c, err := NewPoolCodec(name)
			require.NoError(t, err)

			res, err := c.Compress(CompressRequest{
				PoolPath:   f.pool.Path,
				SourcePath: f.source(t, "in.txt", content),
				FileName:   "in.txt",
				Offset:     1000,
				Limit:      20000,
			})
			require.NoError(t, err)
			require.Equal(t, name, res.Algorithm)
			require.EqualValues(t, len(content), res.LogicalSize)
			require.Positive(t, res.StoredSize)
			if name != AlgorithmNone {
				require.Less(t, res.StoredSize, res.LogicalSize)
			}

			out := filepath.Join(f.dir, "out.txt")
			err = c.Decompress(DecompressRequest{
				PoolPath:    f.pool.Path,
				FileName:    "in.txt",
				Offset:      1000,
				StoredSize:  res.StoredSize,
				LogicalSize: res.LogicalSize,
				Hash:        res.Hash,
				Algorithm:   res.Algorithm,
				OutputPath:  out,
			})
			require.NoError(t, err)

			got, err := os.ReadFile(out)
			require.NoError(t, err)
			require.Equal(t, content, got)
		})
	}
}

func TestCompressEmptyFile(t *testing.T) {
	f := newFixture(t, 4096)
	c, err := NewPoolCodec(AlgorithmZstd)
	require.NoError(t, err)

	res, err := c.Compress(CompressRequest{
		PoolPath:   f.pool.Path,
		SourcePath: f.source(t, "empty", nil),
		FileName:   "empty",
		Limit:      4096,
	})
	require.NoError(t, err)
	require.EqualValues(t, 0, res.LogicalSize)

	out := filepath.Join(f.dir, "empty.out")
	require.NoError(t, c.Decompress(DecompressRequest{
		PoolPath: f.pool.Path, FileName: "empty", StoredSize: res.StoredSize,
		Hash: res.Hash, Algorithm: res.Algorithm, OutputPath: out,
	}))
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestCompressCapacityExceeded(t *testing.T) {
	f := newFixture(t, 4096)
	c, err := NewPoolCodec(AlgorithmNone)
	require.NoError(t, err)

	_, err = c.Compress(CompressRequest{
		PoolPath:   f.pool.Path,
		SourcePath: f.source(t, "big", bytes.Repeat([]byte{1}, 500)),
		FileName:   "big",
		Offset:     100,
		Limit:      100,
	})
	require.ErrorIs(t, err, storeerr.ErrCapacityExceeded)
}

func TestCompressErrors(t *testing.T) {
	f := newFixture(t, 4096)

	_, err := NewPoolCodec("rot13")
	require.ErrorIs(t, err, storeerr.ErrInvalidArgument)

	c, err := NewPoolCodec("")
	require.NoError(t, err)
	require.Equal(t, DefaultAlgorithm, c.Algorithm)

	_, err = c.Compress(CompressRequest{PoolPath: f.pool.Path, SourcePath: filepath.Join(f.dir, "nope"), Limit: 10})
	require.ErrorIs(t, err, storeerr.ErrNotFound)

	_, err = c.Compress(CompressRequest{
		PoolPath: f.pool.Path, SourcePath: f.source(t, "x", []byte("x")), Limit: 10, Algorithm: "rot13",
	})
	require.ErrorIs(t, err, storeerr.ErrInvalidArgument)
}

func TestDecompressDetectsCorruption(t *testing.T) {
	f := newFixture(t, 4096)
	c, err := NewPoolCodec(AlgorithmNone)
	require.NoError(t, err)

	res, err := c.Compress(CompressRequest{
		PoolPath:   f.pool.Path,
		SourcePath: f.source(t, "a.txt", []byte("hello")),
		FileName:   "a.txt",
		Limit:      4096,
	})
	require.NoError(t, err)

	out := filepath.Join(f.dir, "a.out")
	req := DecompressRequest{
		PoolPath: f.pool.Path, FileName: "a.txt", StoredSize: res.StoredSize,
		LogicalSize: res.LogicalSize, Hash: res.Hash ^ 1, Algorithm: res.Algorithm, OutputPath: out,
	}
	require.ErrorIs(t, c.Decompress(req), ErrChecksumMismatch)
	_, err = os.Stat(out)
	require.True(t, os.IsNotExist(err), "no output on a failed decompress")

	req.Hash = res.Hash
	req.LogicalSize = 4
	require.ErrorIs(t, c.Decompress(req), ErrChecksumMismatch)
}

func TestZeroReclaimer(t *testing.T) {
	f := newFixture(t, 4096)
	c, err := NewPoolCodec(AlgorithmNone)
	require.NoError(t, err)

	res, err := c.Compress(CompressRequest{
		PoolPath:   f.pool.Path,
		SourcePath: f.source(t, "a.txt", []byte("hello")),
		FileName:   "a.txt",
		Offset:     10,
		Limit:      100,
	})
	require.NoError(t, err)

	r := ZeroReclaimer{ChunkSize: 2}
	require.NoError(t, r.Reclaim(ReclaimRequest{PoolPath: f.pool.Path, FileName: "a.txt", Offset: 10, Size: res.StoredSize}))
	require.NoError(t, r.Reclaim(ReclaimRequest{PoolPath: f.pool.Path, Offset: 10, Size: 0}))

	data, err := os.ReadFile(f.pool.Path)
	require.NoError(t, err)
	require.Equal(t, make([]byte, 4096), data)

	err = r.Reclaim(ReclaimRequest{PoolPath: f.pool.Path, Offset: 4090, Size: 10})
	require.ErrorIs(t, err, storeerr.ErrInvalidArgument)
}
