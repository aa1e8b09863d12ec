package models

import (
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	CACHE_TYPE_MEMORY = "memory"
	CACHE_TYPE_DIR    = "dir"
)

type LogConfig struct {
	ToFile       bool   `yaml:"toFile"`
	FilePath     string `yaml:"filePath"`
	ToConsole    bool   `yaml:"toConsole"`
	Prefix       string `yaml:"prefix"`
	DebugEnabled bool   `yaml:"debugEnabled"`
}

type PoolConfig struct {
	Path       string   `yaml:"path"`
	Capacity   ByteSize `yaml:"capacity"`
	ChunkSize  ByteSize `yaml:"chunkSize"`
	AutoCreate *bool    `yaml:"autoCreate"`
}

type CacheConfig struct {
	Type string `yaml:"type"`
	Dir  string `yaml:"dir"`
}

type CodecConfig struct {
	Algorithm  string `yaml:"algorithm"`
	ScratchDir string `yaml:"scratchDir"`
}

type MetricsConfig struct {
	Enabled      bool   `yaml:"enabled"`
	TextfilePath string `yaml:"textfilePath"`
}

type VdiskConfig struct {
	Log     *LogConfig     `yaml:"log"`
	Pool    *PoolConfig    `yaml:"pool"`
	Cache   *CacheConfig   `yaml:"cache"`
	Codec   *CodecConfig   `yaml:"codec"`
	Metrics *MetricsConfig `yaml:"metrics"`
}

// ByteSize is a byte count that reads either a plain integer or a human
// string such as "1GiB" or "4 KB".
type ByteSize int64

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return errors.Errorf("line %d: byte size should be a scalar", value.Line)
	}
	if n, err := strconv.ParseInt(value.Value, 10, 64); err == nil {
		if n < 0 {
			return errors.Errorf("line %d: byte size %d is negative", value.Line, n)
		}
		*b = ByteSize(n)
		return nil
	}
	n, err := humanize.ParseBytes(value.Value)
	if err != nil {
		return errors.Wrapf(err, "line %d: invalid byte size %q", value.Line, value.Value)
	}
	*b = ByteSize(n)
	return nil
}

// MarshalYAML writes the human form when it reads back to the same value.
func (b ByteSize) MarshalYAML() (interface{}, error) {
	human := humanize.IBytes(uint64(b))
	if n, err := humanize.ParseBytes(human); err == nil && ByteSize(n) == b {
		return human, nil
	}
	return int64(b), nil
}

func (b ByteSize) String() string {
	return humanize.IBytes(uint64(b))
}
