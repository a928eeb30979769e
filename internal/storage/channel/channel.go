// Package channel defines the public storage channel surface and the
// registry that fans updates out to every registered channel.
package channel

import (
	"sync"

	"github.com/xtxerr/hsdb/internal/storage/types"
)

// StorageChannel is the public surface of one stored stream flavor.
// Long and double methods operate on the same tagged sample type; the
// split mirrors the two payload flavors of the engine.
type StorageChannel interface {
	// UpdateLong updates the passed long value. A value with an
	// already stored time stamp replaces the stored one.
	UpdateLong(v types.Sample) error

	// UpdateLongs updates the passed long values.
	UpdateLongs(vs []types.Sample) error

	// GetLongValues returns all long values within [start, end) sorted
	// by time, plus the last value before start when one exists.
	GetLongValues(start, end int64) ([]types.Sample, error)

	// UpdateDouble updates the passed double value.
	UpdateDouble(v types.Sample) error

	// UpdateDoubles updates the passed double values.
	UpdateDoubles(vs []types.Sample) error

	// GetDoubleValues returns all double values within [start, end)
	// sorted by time, plus the last value before start when one exists.
	GetDoubleValues(start, end int64) ([]types.Sample, error)

	// CleanupRelicts deletes data older than the retention boundary.
	CleanupRelicts() error
}

// Registry broadcasts channel operations to every registered storage
// channel. Registrations are serialized against broadcasts by an
// internal monitor.
//
// The type itself implements StorageChannel.
type Registry struct {
	mu       sync.Mutex
	channels []StorageChannel
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a storage channel to the broadcast set.
func (r *Registry) Register(c StorageChannel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels = append(r.channels, c)
}

// Unregister removes a storage channel from the broadcast set.
func (r *Registry) Unregister(c StorageChannel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.channels {
		if existing == c {
			r.channels = append(r.channels[:i], r.channels[i+1:]...)
			return
		}
	}
}

// Size returns the number of registered channels.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

// UpdateLong broadcasts the value to every registered channel.
func (r *Registry) UpdateLong(v types.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.channels {
		if err := c.UpdateLong(v); err != nil {
			return err
		}
	}
	return nil
}

// UpdateLongs broadcasts the values to every registered channel.
func (r *Registry) UpdateLongs(vs []types.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.channels {
		if err := c.UpdateLongs(vs); err != nil {
			return err
		}
	}
	return nil
}

// GetLongValues returns the values of the single registered channel,
// or the concatenation over all channels.
func (r *Registry) GetLongValues(start, end int64) ([]types.Sample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Skip the concatenation when exactly one channel is registered.
	if len(r.channels) == 1 {
		return r.channels[0].GetLongValues(start, end)
	}
	var out []types.Sample
	for _, c := range r.channels {
		values, err := c.GetLongValues(start, end)
		if err != nil {
			return nil, err
		}
		out = append(out, values...)
	}
	return out, nil
}

// UpdateDouble broadcasts the value to every registered channel.
func (r *Registry) UpdateDouble(v types.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.channels {
		if err := c.UpdateDouble(v); err != nil {
			return err
		}
	}
	return nil
}

// UpdateDoubles broadcasts the values to every registered channel.
func (r *Registry) UpdateDoubles(vs []types.Sample) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.channels {
		if err := c.UpdateDoubles(vs); err != nil {
			return err
		}
	}
	return nil
}

// GetDoubleValues returns the values of the single registered channel,
// or the concatenation over all channels.
func (r *Registry) GetDoubleValues(start, end int64) ([]types.Sample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.channels) == 1 {
		return r.channels[0].GetDoubleValues(start, end)
	}
	var out []types.Sample
	for _, c := range r.channels {
		values, err := c.GetDoubleValues(start, end)
		if err != nil {
			return nil, err
		}
		out = append(out, values...)
	}
	return out, nil
}

// CleanupRelicts broadcasts the cleanup to every registered channel.
func (r *Registry) CleanupRelicts() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.channels {
		if err := c.CleanupRelicts(); err != nil {
			return err
		}
	}
	return nil
}
