// Package config holds the storage engine configuration: the YAML
// engine configuration file and the XML data-file-pool settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete storage engine configuration.
type Config struct {
	// DataDir is the root directory for all shard files.
	DataDir string `yaml:"data_dir"`

	// KeepOpenMaxDetailLevel is the highest detail level whose file
	// descriptors stay open while a shard is initialized. Higher
	// levels reopen per call.
	KeepOpenMaxDetailLevel int64 `yaml:"keep_open_max_detail_level"`

	// Pool configures shard allocation.
	Pool PoolConfig `yaml:"pool"`

	// Archive configures the Parquet cold archive.
	Archive ArchiveConfig `yaml:"archive"`

	// Query configures the archive query service.
	Query QueryConfig `yaml:"query"`
}

// PoolConfig configures shard allocation per detail level.
type PoolConfig struct {
	// ShardTimespan is the width of newly allocated shards.
	ShardTimespan Duration `yaml:"shard_timespan"`

	// PerLevel overrides the shard width for specific detail levels.
	PerLevel map[int64]Duration `yaml:"per_level"`
}

// Duration is a time.Duration that unmarshals from YAML strings like
// "30m" or "6h" as well as from plain nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("invalid duration node")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Milliseconds returns the duration in milliseconds.
func (d Duration) Milliseconds() int64 {
	return time.Duration(d).Milliseconds()
}

// ArchiveConfig configures the Parquet cold archive.
type ArchiveConfig struct {
	// Dir is the archive directory. Defaults to {DataDir}/archive.
	Dir string `yaml:"dir"`

	// Compression is the Parquet compression algorithm: snappy, zstd,
	// lz4, gzip, none.
	Compression string `yaml:"compression"`

	// Workers bounds the number of shards exported concurrently.
	Workers int `yaml:"workers"`
}

// QueryConfig configures the archive query service.
type QueryConfig struct {
	// MemoryLimit caps DuckDB memory usage, e.g. "1GB".
	MemoryLimit string `yaml:"memory_limit"`

	// SketchAccuracy is the relative accuracy of percentile summaries
	// (0.01 = 1% error).
	SketchAccuracy float64 `yaml:"sketch_accuracy"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir:                "data",
		KeepOpenMaxDetailLevel: 1,
		Pool: PoolConfig{
			ShardTimespan: Duration(time.Hour),
		},
		Archive: ArchiveConfig{
			Compression: "zstd",
			Workers:     4,
		},
		Query: QueryConfig{
			SketchAccuracy: 0.01,
		},
	}
}

// Load reads a YAML configuration file, filling unset fields with
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config '%s': %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config '%s': %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Pool.ShardTimespan <= 0 {
		return fmt.Errorf("pool.shard_timespan must be positive")
	}
	for level, span := range c.Pool.PerLevel {
		if level < 0 {
			return fmt.Errorf("pool.per_level: negative detail level %d", level)
		}
		if span <= 0 {
			return fmt.Errorf("pool.per_level[%d]: timespan must be positive", level)
		}
	}
	if c.Query.SketchAccuracy < 0 || c.Query.SketchAccuracy >= 1 {
		return fmt.Errorf("query.sketch_accuracy must be in [0,1)")
	}
	return nil
}

// ArchiveDir returns the archive directory, derived from DataDir when
// unset.
func (c *Config) ArchiveDir() string {
	if c.Archive.Dir != "" {
		return c.Archive.Dir
	}
	return c.DataDir + "/archive"
}

// ShardTimespans returns the per-level shard widths in milliseconds.
func (c *Config) ShardTimespans() map[int64]int64 {
	out := make(map[int64]int64, len(c.Pool.PerLevel))
	for level, span := range c.Pool.PerLevel {
		out[level] = span.Milliseconds()
	}
	return out
}
