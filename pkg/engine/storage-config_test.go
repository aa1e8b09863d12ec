package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"vdisk/pkg/codec"
	"vdisk/pkg/models"
	"vdisk/pkg/pool"
	"vdisk/pkg/storeerr"
)

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vdisk.config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pool:\n  capacity: 1MiB\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "storage.bin"), cfg.Pool.Path)
	require.EqualValues(t, 1<<20, cfg.Pool.Capacity)
	require.EqualValues(t, pool.DefaultChunkSize, cfg.Pool.ChunkSize)
	require.True(t, *cfg.Pool.AutoCreate)
	require.Equal(t, models.CACHE_TYPE_DIR, cfg.Cache.Type)
	require.NotEmpty(t, cfg.Cache.Dir)
	require.Equal(t, codec.DefaultAlgorithm, cfg.Codec.Algorithm)
	require.NotEmpty(t, cfg.Codec.ScratchDir)
	require.False(t, cfg.Metrics.Enabled)
	require.True(t, cfg.Log.ToConsole)

	again := *cfg
	require.NoError(t, ApplyDefaults(&again, ""))
	require.Equal(t, cfg.Pool.Path, again.Pool.Path)
	require.Equal(t, cfg.Cache.Dir, again.Cache.Dir)
}

func TestDefaultCacheDirIsPerPool(t *testing.T) {
	a := &models.VdiskConfig{Pool: &models.PoolConfig{Path: "/data/a.bin"}}
	b := &models.VdiskConfig{Pool: &models.PoolConfig{Path: "/data/b.bin"}}
	require.NoError(t, ApplyDefaults(a, ""))
	require.NoError(t, ApplyDefaults(b, ""))
	require.NotEqual(t, a.Cache.Dir, b.Cache.Dir)
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadConfig(filepath.Join(dir, "none.yaml"))
	require.ErrorIs(t, err, storeerr.ErrNotFound)

	cases := map[string]string{
		"bad yaml":      "pool: [",
		"bad size":      "pool:\n  capacity: plenty\n",
		"bad cache":     "cache:\n  type: redis\n",
		"bad algorithm": "codec:\n  algorithm: rot13\n",
	}
	for name, doc := range cases {
		path := filepath.Join(dir, name+".yaml")
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
		_, err := LoadConfig(path)
		require.ErrorIs(t, err, storeerr.ErrInvalidArgument, name)
	}
}

func TestInitConfigAndPool(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "conf", "vdisk.config.yaml")

	require.NoError(t, InitConfig(path))
	require.ErrorIs(t, InitConfig(path), storeerr.ErrInvalidArgument)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "conf", "storage.bin"), cfg.Pool.Path)
	require.Equal(t, filepath.Join(dir, "conf", "cache"), cfg.Cache.Dir)
	require.Equal(t, filepath.Join(dir, "conf", "vdisk.log"), cfg.Log.FilePath)
	require.EqualValues(t, pool.DefaultCapacity, cfg.Pool.Capacity)
	require.False(t, *cfg.Pool.AutoCreate)
	require.True(t, cfg.Metrics.Enabled)

	// sizes are written in their human form
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "capacity: 1.0 GiB")

	_, err = InstantiateStorageEngine(path)
	require.ErrorIs(t, err, storeerr.ErrNotFound, "init does not create the pool by itself")
}

func TestInitPool(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vdisk.config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pool:\n  capacity: 64KiB\n  autoCreate: false\nlog:\n  toConsole: false\n"), 0o644))

	p, err := InitPool(path)
	require.NoError(t, err)
	require.EqualValues(t, 64*1024, p.Capacity)

	_, err = InitPool(path)
	require.ErrorIs(t, err, storeerr.ErrInvalidArgument)

	e, err := InstantiateStorageEngine(path)
	require.NoError(t, err)
	require.NoError(t, e.Close())
}
