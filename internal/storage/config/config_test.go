package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
data_dir: /var/lib/hsdb
keep_open_max_detail_level: 2
pool:
  shard_timespan: 30m
  per_level:
    2: 6h
archive:
  compression: snappy
query:
  sketch_accuracy: 0.02
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != "/var/lib/hsdb" {
		t.Errorf("data_dir: got %q", cfg.DataDir)
	}
	if cfg.KeepOpenMaxDetailLevel != 2 {
		t.Errorf("keep_open_max_detail_level: got %d", cfg.KeepOpenMaxDetailLevel)
	}
	if cfg.Pool.ShardTimespan != Duration(30*time.Minute) {
		t.Errorf("shard_timespan: got %v", cfg.Pool.ShardTimespan)
	}
	if cfg.Pool.PerLevel[2] != Duration(6*time.Hour) {
		t.Errorf("per_level: got %v", cfg.Pool.PerLevel)
	}
	if cfg.Archive.Compression != "snappy" {
		t.Errorf("compression: got %q", cfg.Archive.Compression)
	}
	if cfg.Query.SketchAccuracy != 0.02 {
		t.Errorf("sketch_accuracy: got %v", cfg.Query.SketchAccuracy)
	}

	spans := cfg.ShardTimespans()
	if spans[2] != (6 * time.Hour).Milliseconds() {
		t.Errorf("ShardTimespans: got %v", spans)
	}
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("data_dir: \"\"\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("empty data_dir accepted")
	}
}

func TestArchiveDirDerived(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/d"
	if got := cfg.ArchiveDir(); got != "/d/archive" {
		t.Errorf("got %q", got)
	}
	cfg.Archive.Dir = "/a"
	if got := cfg.ArchiveDir(); got != "/a" {
		t.Errorf("got %q", got)
	}
}
