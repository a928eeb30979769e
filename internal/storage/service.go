// Package storage wires the engine components into one store: the
// file back-end factory, the per-configuration shard manager, one
// multiplexer and pipeline level per configured detail level, and the
// channel registry fanning updates out to all levels.
package storage

import (
	"fmt"

	"github.com/xtxerr/hsdb/internal/logging"
	"github.com/xtxerr/hsdb/internal/storage/backend"
	"github.com/xtxerr/hsdb/internal/storage/backend/file"
	"github.com/xtxerr/hsdb/internal/storage/calc"
	"github.com/xtxerr/hsdb/internal/storage/channel"
	"github.com/xtxerr/hsdb/internal/storage/config"
	"github.com/xtxerr/hsdb/internal/storage/pipeline"
	"github.com/xtxerr/hsdb/internal/storage/types"
)

var log = logging.Component("storage")

// LevelSpec describes one detail level of a store.
type LevelSpec struct {
	// DetailLevelID is the level's rung; 0 is raw.
	DetailLevelID int64

	// Method is the reduction applied at this level. Level 0 is
	// native.
	Method types.CalculationMethod

	// RequiredTimespan is the calculation window in milliseconds.
	// Ignored for native levels.
	RequiredTimespan int64
}

// Store is one configured stream persisted at multiple detail levels.
type Store struct {
	cfg      *config.Config
	meta     *types.Metadata
	factory  *file.Factory
	manager  *backend.Manager
	registry *channel.Registry

	levels []*pipeline.Level
	muxes  []*backend.Multiplexer
	specs  []LevelSpec
}

// NewStore builds a store for the given channel metadata and level
// set. The metadata supplies the configuration id, the data type, the
// retention and the overall validity span; every level derives its own
// channel metadata from it.
func NewStore(cfg *config.Config, meta *types.Metadata, levels []LevelSpec) (*Store, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	if len(levels) == 0 {
		return nil, fmt.Errorf("store for '%s': no levels configured", meta.ConfigurationID)
	}

	factory := file.NewFactory(cfg.DataDir, cfg.KeepOpenMaxDetailLevel)
	manager := backend.NewManager(factory, meta.ConfigurationID, cfg.KeepOpenMaxDetailLevel, backend.ManagerOptions{
		ShardTimespans:       cfg.ShardTimespans(),
		DefaultShardTimespan: cfg.Pool.ShardTimespan.Milliseconds(),
	})

	s := &Store{
		cfg:      cfg,
		meta:     meta.Clone(),
		factory:  factory,
		manager:  manager,
		registry: channel.NewRegistry(),
		specs:    levels,
	}

	for _, spec := range levels {
		levelMeta := meta.Clone()
		levelMeta.DetailLevelID = spec.DetailLevelID
		levelMeta.Method = spec.Method
		if spec.Method != types.MethodNative {
			levelMeta.MethodParameters = []int64{spec.RequiredTimespan}
		}

		mux := backend.NewMultiplexer(manager)
		if err := mux.Initialize(levelMeta); err != nil {
			return nil, fmt.Errorf("initialize level %d of '%s': %w", spec.DetailLevelID, meta.ConfigurationID, err)
		}

		provider := calc.New(spec.Method, meta.DataType, meta.DataType, levelMeta.MethodParameters)
		if provider == nil {
			return nil, fmt.Errorf("store for '%s': unsupported method %v at level %d", meta.ConfigurationID, spec.Method, spec.DetailLevelID)
		}

		level := pipeline.NewLevel(provider, mux)
		s.levels = append(s.levels, level)
		s.muxes = append(s.muxes, mux)
		s.registry.Register(level)
	}

	log.Info("store assembled", "config", meta.ConfigurationID, "levels", len(levels))
	return s, nil
}

// Metadata returns the store's base channel metadata.
func (s *Store) Metadata() *types.Metadata {
	return s.meta.Clone()
}

// Factory returns the file back-end factory of the store.
func (s *Store) Factory() *file.Factory {
	return s.factory
}

// UpdateLong fans one long value out to every detail level.
func (s *Store) UpdateLong(v types.Sample) error {
	return s.registry.UpdateLong(v)
}

// UpdateLongs fans a batch of long values out to every detail level.
func (s *Store) UpdateLongs(vs []types.Sample) error {
	return s.registry.UpdateLongs(vs)
}

// UpdateDouble fans one double value out to every detail level.
func (s *Store) UpdateDouble(v types.Sample) error {
	return s.registry.UpdateDouble(v)
}

// UpdateDoubles fans a batch of double values out to every detail
// level.
func (s *Store) UpdateDoubles(vs []types.Sample) error {
	return s.registry.UpdateDoubles(vs)
}

// GetLongValues reads the given detail level as long values.
func (s *Store) GetLongValues(detailLevelID int64, start, end int64) ([]types.Sample, error) {
	level, err := s.level(detailLevelID)
	if err != nil {
		return nil, err
	}
	return level.GetLongValues(start, end)
}

// GetDoubleValues reads the given detail level as double values.
func (s *Store) GetDoubleValues(detailLevelID int64, start, end int64) ([]types.Sample, error) {
	level, err := s.level(detailLevelID)
	if err != nil {
		return nil, err
	}
	return level.GetDoubleValues(start, end)
}

// Registry exposes the channel registry, e.g. to register additional
// observers.
func (s *Store) Registry() *channel.Registry {
	return s.registry
}

func (s *Store) level(detailLevelID int64) (*pipeline.Level, error) {
	for i, spec := range s.specs {
		if spec.DetailLevelID == detailLevelID {
			return s.levels[i], nil
		}
	}
	return nil, fmt.Errorf("store for '%s': no level %d", s.meta.ConfigurationID, detailLevelID)
}

// CleanupRelicts purges shards older than the retention boundary on
// every level.
func (s *Store) CleanupRelicts() error {
	return s.registry.CleanupRelicts()
}

// Dispose flushes partial windows, releases every shard handle and
// waits until outstanding borrows are returned.
func (s *Store) Dispose() {
	for _, level := range s.levels {
		if err := level.Flush(); err != nil {
			log.Warn("flush on dispose failed", "config", s.meta.ConfigurationID, "error", err)
		}
	}
	for _, mux := range s.muxes {
		_ = mux.Deinitialize()
	}
	s.manager.Dispose()
	log.Info("store disposed", "config", s.meta.ConfigurationID)
}

// DeleteAll removes every shard of the configuration from disk. The
// store must not be used afterwards.
func (s *Store) DeleteAll() error {
	return s.factory.DeleteBackEnds(s.meta.ConfigurationID)
}
