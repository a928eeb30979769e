// Package backend defines the storage back-end abstraction and the
// components that organize many back ends into one logical stream: the
// manager, which owns shard handles and their locks, and the
// multiplexer, which routes calls to the shard covering the requested
// time span.
package backend

import (
	"sync"

	"github.com/xtxerr/hsdb/internal/storage/types"
)

// BackEnd stores the samples of one storage channel. A file-bound
// implementation covers one fixed time span (a shard); the multiplexer
// presents many shards as one unbounded back end.
//
// Lifecycle: Create (once, for file-bound back ends) -> Initialize ->
// any number of Update/GetValues -> Deinitialize -> optionally Delete.
type BackEnd interface {
	// Create creates the persistent representation of the back end.
	// It fails when the representation already exists.
	Create(meta *types.Metadata) error

	// Initialize prepares the back end for read and write access.
	// File-bound implementations ignore the passed metadata and trust
	// their header; virtual implementations require it.
	Initialize(meta *types.Metadata) error

	// Metadata returns the channel metadata of the back end.
	Metadata() (*types.Metadata, error)

	// Update inserts the passed samples. Samples before the covered
	// span are dropped silently; samples at or after its end terminate
	// the batch. A sample whose time is already present overwrites the
	// stored one.
	Update(samples []types.Sample) error

	// GetValues returns all samples with time in [start, end), sorted
	// ascending, plus the last sample before start when one exists.
	GetValues(start, end int64) ([]types.Sample, error)

	// Delete removes the persistent representation. Idempotent.
	Delete() error

	// Deinitialize releases any held resources and drops cached state.
	Deinitialize() error

	// IsTimeSpanConstant reports whether the covered span is fixed at
	// creation.
	IsTimeSpanConstant() bool

	// SetLock attaches the reader/writer lock serializing file access.
	SetLock(lock *sync.RWMutex)

	// Lock returns the attached lock, or nil.
	Lock() *sync.RWMutex
}

// Factory creates back ends and discovers existing ones on disk.
type Factory interface {
	// CreateNewBackEnd constructs an uninitialized back end bound to
	// the location derived from the metadata. The caller invokes
	// Create on it.
	CreateNewBackEnd(meta *types.Metadata) (BackEnd, error)

	// GetExistingBackEnds returns all discovered back ends of the
	// given channel, sorted by end time descending. The returned back
	// ends are deinitialized.
	GetExistingBackEnds(configID string, detailLevelID int64, method types.CalculationMethod) ([]BackEnd, error)

	// GetExistingBackEndsMetaData returns the metadata of every
	// discovered back end of the configuration. With merge set, the
	// entries are grouped by (configuration, detail level, method) and
	// the group's time span is widened accordingly.
	GetExistingBackEndsMetaData(configID string, merge bool) ([]*types.Metadata, error)

	// DeleteBackEnds removes every back end of the configuration.
	DeleteBackEnds(configID string) error
}
