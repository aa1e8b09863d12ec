package engine

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"vdisk/pkg/codec"
	"vdisk/pkg/models"
	"vdisk/pkg/pool"
	"vdisk/pkg/storeerr"
	"vdisk/pkg/utils/fs"
	"vdisk/pkg/utils/hash"
)

const appName = "vdisk"

// LoadConfig reads the YAML config at configPath and fills in defaults.
// Relative paths in the file are taken relative to the file's directory.
func LoadConfig(configPath string) (*models.VdiskConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(storeerr.ErrNotFound, "config %s does not exist", configPath)
		}
		return nil, errors.Wrapf(storeerr.ErrIO, "unable to read the config-path %s: %v", configPath, err)
	}

	var config models.VdiskConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrapf(storeerr.ErrInvalidArgument, "unable to parse the config at %s: %v", configPath, err)
	}

	if err := ApplyDefaults(&config, filepath.Dir(configPath)); err != nil {
		return nil, err
	}
	return &config, nil
}

// ApplyDefaults fills every unset field. Relative paths are joined to baseDir
// unless it is empty, so a second call with an empty baseDir changes nothing.
func ApplyDefaults(config *models.VdiskConfig, baseDir string) error {
	// Intelligent defaults
	if config.Log == nil {
		config.Log = &models.LogConfig{
			ToConsole: true,
			Prefix:    "[vdisk]",
		}
	}
	if config.Log.ToFile && config.Log.FilePath != "" {
		config.Log.FilePath = resolve(baseDir, config.Log.FilePath)
	}

	if config.Pool == nil {
		config.Pool = &models.PoolConfig{}
	}
	if config.Pool.Path == "" {
		config.Pool.Path = "storage.bin"
	}
	config.Pool.Path = resolve(baseDir, config.Pool.Path)
	if config.Pool.Capacity == 0 {
		config.Pool.Capacity = pool.DefaultCapacity
	}
	if config.Pool.ChunkSize == 0 {
		config.Pool.ChunkSize = pool.DefaultChunkSize
	}
	if config.Pool.AutoCreate == nil {
		autoCreate := true
		config.Pool.AutoCreate = &autoCreate
	}

	if config.Cache == nil {
		config.Cache = &models.CacheConfig{}
	}
	switch config.Cache.Type {
	case "":
		config.Cache.Type = models.CACHE_TYPE_DIR
	case models.CACHE_TYPE_DIR, models.CACHE_TYPE_MEMORY:
	default:
		return errors.Wrapf(storeerr.ErrInvalidArgument,
			"cache type should be %q or %q, got: %q", models.CACHE_TYPE_DIR, models.CACHE_TYPE_MEMORY, config.Cache.Type)
	}
	if config.Cache.Dir == "" {
		config.Cache.Dir = filepath.Join(stateDir(config.Pool.Path), "cache")
	}
	config.Cache.Dir = resolve(baseDir, config.Cache.Dir)

	if config.Codec == nil {
		config.Codec = &models.CodecConfig{}
	}
	if config.Codec.Algorithm == "" {
		config.Codec.Algorithm = codec.DefaultAlgorithm
	}
	if !codec.Supported(config.Codec.Algorithm) {
		return errors.Wrapf(storeerr.ErrInvalidArgument,
			"codec algorithm should be one of %v, got: %q", codec.Algorithms(), config.Codec.Algorithm)
	}
	if config.Codec.ScratchDir == "" {
		config.Codec.ScratchDir = filepath.Join(stateDir(config.Pool.Path), "scratch")
	}
	config.Codec.ScratchDir = resolve(baseDir, config.Codec.ScratchDir)

	if config.Metrics == nil {
		config.Metrics = &models.MetricsConfig{}
	}
	if config.Metrics.Enabled && config.Metrics.TextfilePath == "" {
		config.Metrics.TextfilePath = filepath.Join(stateDir(config.Pool.Path), "vdisk.prom")
	}
	if config.Metrics.TextfilePath != "" {
		config.Metrics.TextfilePath = resolve(baseDir, config.Metrics.TextfilePath)
	}
	return nil
}

// stateDir is the per-pool directory under the user's app-data dir, keyed by
// a hash of the pool path so two pools never share a cache.
func stateDir(poolPath string) string {
	base, err := fs.GetUserAppDataDir(appName)
	if err != nil {
		base = filepath.Join(os.TempDir(), appName)
	}
	abs, err := filepath.Abs(poolPath)
	if err != nil {
		abs = poolPath
	}
	return filepath.Join(base, hash.HashString(abs))
}

func resolve(baseDir, path string) string {
	if filepath.IsAbs(path) || baseDir == "" {
		return path
	}
	return filepath.Join(baseDir, path)
}
