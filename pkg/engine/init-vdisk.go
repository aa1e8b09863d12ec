package engine

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"vdisk/pkg/codec"
	"vdisk/pkg/models"
	"vdisk/pkg/pool"
	"vdisk/pkg/storeerr"
	"vdisk/pkg/utils/fs"
)

// InitConfig writes a default config to configPath. The pool, cache and log
// live next to the config file; an existing config is left alone.
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return errors.Wrapf(storeerr.ErrInvalidArgument, "config %s already exists", configPath)
	}

	autoCreate := false
	defaultConfig := &models.VdiskConfig{
		Log: &models.LogConfig{
			ToFile:    true,
			FilePath:  "vdisk.log",
			ToConsole: true,
			Prefix:    "[vdisk]",
		},
		Pool: &models.PoolConfig{
			Path:       "storage.bin",
			Capacity:   pool.DefaultCapacity,
			ChunkSize:  pool.DefaultChunkSize,
			AutoCreate: &autoCreate,
		},
		Cache: &models.CacheConfig{
			Type: models.CACHE_TYPE_DIR,
			Dir:  "cache",
		},
		Codec: &models.CodecConfig{
			Algorithm: codec.DefaultAlgorithm,
		},
		Metrics: &models.MetricsConfig{
			Enabled:      true,
			TextfilePath: "vdisk.prom",
		},
	}

	if err := fs.EnsureDir(filepath.Dir(configPath)); err != nil {
		return errors.Wrap(storeerr.ErrIO, err.Error())
	}

	err := fs.WriteFileAtomic(configPath, 0o644, func(w io.Writer) error {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(defaultConfig); err != nil {
			return err
		}
		return enc.Close()
	})
	if err != nil {
		return errors.Wrapf(storeerr.ErrIO, "write config %s: %v", configPath, err)
	}
	return nil
}

// InitPool creates the zero-filled pool named by the config at configPath.
func InitPool(configPath string) (*pool.Pool, error) {
	config, err := LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	return pool.CreatePool(config.Pool.Path, int64(config.Pool.Capacity), int(config.Pool.ChunkSize))
}
