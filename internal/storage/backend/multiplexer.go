package backend

import (
	"fmt"
	"sync"
	"time"

	"github.com/xtxerr/hsdb/internal/errors"
	"github.com/xtxerr/hsdb/internal/logging"
	"github.com/xtxerr/hsdb/internal/storage/types"
)

var muxLog = logging.Component("backend.multiplexer")

// Multiplexer presents the many shards of one channel as one virtual
// back end over an unbounded time span. Writes are routed to the shard
// covering the sample time; reads merge the covering shards. A failing
// shard never fails the whole stream: it is marked corrupt and its
// span is represented by a zero-quality sentinel sample.
//
// The type implements BackEnd.
type Multiplexer struct {
	mu sync.Mutex

	meta        *types.Metadata
	manager     *Manager
	initialized bool

	// now is the clock used for retention decisions; replaced in
	// tests.
	now func() int64
}

// NewMultiplexer creates a multiplexer backed by the given manager.
func NewMultiplexer(manager *Manager) *Multiplexer {
	return &Multiplexer{
		manager: manager,
		now:     func() int64 { return time.Now().UnixMilli() },
	}
}

// Manager returns the manager that creates and owns the shards.
func (x *Multiplexer) Manager() *Manager {
	return x.manager
}

// Create is not supported; the multiplexer has no persistent
// representation of its own.
func (x *Multiplexer) Create(*types.Metadata) error {
	return errors.InvalidArgument("multiplexer has no persistent representation")
}

// Initialize stores a defensive copy of the channel metadata.
func (x *Multiplexer) Initialize(meta *types.Metadata) error {
	if err := meta.Validate(); err != nil {
		return errors.InvalidArgument("initialize multiplexer: %v", err)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	x.meta = meta.Clone()
	x.initialized = true
	return nil
}

// Deinitialize releases every shard descriptor held for this
// multiplexer.
func (x *Multiplexer) Deinitialize() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.manager.FreeRelatedResources(x)
	x.initialized = false
	x.meta = nil
	return nil
}

// Metadata returns the channel metadata.
func (x *Multiplexer) Metadata() (*types.Metadata, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if !x.initialized {
		return nil, fmt.Errorf("multiplexer: %w", errors.ErrNotInitialized)
	}
	return x.meta, nil
}

// IsTimeSpanConstant reports that the covered span grows with the
// data.
func (x *Multiplexer) IsTimeSpanConstant() bool {
	return false
}

// SetLock is a no-op; locking happens per shard.
func (x *Multiplexer) SetLock(*sync.RWMutex) {}

// Lock returns nil; locking happens per shard.
func (x *Multiplexer) Lock() *sync.RWMutex { return nil }

// Delete is a no-op; shards are deleted through the manager.
func (x *Multiplexer) Delete() error { return nil }

// Update partitions the samples by their insert shard and writes each
// bucket. A failing shard is marked corrupt and the remaining buckets
// proceed; one bad shard never aborts the batch.
func (x *Multiplexer) Update(samples []types.Sample) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.initialized {
		return fmt.Errorf("multiplexer: %w", errors.ErrNotInitialized)
	}
	if len(samples) == 0 {
		return nil
	}

	template := x.meta.Clone()
	level := template.DetailLevelID
	method := template.Method

	// Partition by the owning shard's start time.
	buckets := make(map[int64][]types.Sample)
	var order []int64
	for _, s := range samples {
		start, ok := x.insertShardStart(template, s.Time)
		if !ok {
			continue
		}
		if _, seen := buckets[start]; !seen {
			order = append(order, start)
		}
		buckets[start] = append(buckets[start], s)
	}

	for _, start := range order {
		bucket := buckets[start]
		be, err := x.manager.GetBackEndForInsert(x, template, start)
		if err != nil {
			muxLog.Error("could not access sub back end", "channel", x.meta, "start", start, "error", err)
			x.manager.MarkBackEndAsCorrupt(level, method, start)
			continue
		}
		err = be.Update(bucket)
		x.manager.DeinitializeBackEnd(x, be)
		if err != nil {
			muxLog.Error("could not write to sub back end", "channel", x.meta, "start", start, "error", err)
			x.manager.MarkBackEndAsCorrupt(level, method, start)
		}
	}
	return nil
}

// insertShardStart resolves the start time of the shard owning the
// given instant. A shard that cannot be resolved is marked corrupt.
func (x *Multiplexer) insertShardStart(template *types.Metadata, t int64) (int64, bool) {
	be, err := x.manager.GetBackEndForInsert(x, template, t)
	if err != nil {
		muxLog.Error("could not access sub back end", "channel", x.meta, "time", t, "error", err)
		x.manager.MarkBackEndAsCorrupt(template.DetailLevelID, template.Method, t)
		return 0, false
	}
	meta, err := be.Metadata()
	start := int64(0)
	if err == nil {
		start = meta.StartTime
	}
	x.manager.DeinitializeBackEnd(x, be)
	if err != nil {
		muxLog.Error("could not read sub back end metadata", "channel", x.meta, "time", t, "error", err)
		x.manager.MarkBackEndAsCorrupt(template.DetailLevelID, template.Method, t)
		return 0, false
	}
	return start, true
}

// GetValues merges the covering shards in descending end-time order
// into one ascending result. A failing shard contributes a
// zero-quality sentinel at its span start so downstream consumers see
// the gap; the merge stops as soon as the query start is covered.
func (x *Multiplexer) GetValues(start, end int64) ([]types.Sample, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.initialized {
		return nil, fmt.Errorf("multiplexer: %w", errors.ErrNotInitialized)
	}

	backEnds, err := x.manager.GetExistingBackEnds(x, x.meta.DetailLevelID, x.meta.Method, start, end)
	if err != nil {
		return nil, err
	}
	defer func() {
		for _, be := range backEnds {
			x.manager.DeinitializeBackEnd(x, be)
		}
	}()

	var out []types.Sample
	for _, be := range backEnds {
		meta, err := be.Metadata()
		if err != nil {
			x.logReadFailure(start, "could not access sub back end", err)
			continue
		}
		metaStart, metaEnd := meta.StartTime, meta.EndTime
		covers := start <= metaEnd && end > metaStart
		older := start >= metaEnd
		if !covers && !older {
			continue
		}

		values, err := be.GetValues(start, end)
		if err != nil {
			x.logReadFailure(start, "could not read from sub back end", err)
			x.manager.MarkBackEndAsCorrupt(meta.DetailLevelID, meta.Method, metaStart)
			// Synthesize a zero-quality gap covering the shard's span.
			out = append([]types.Sample{{Time: metaStart, Kind: x.meta.DataType}}, out...)
			if metaStart <= start {
				break
			}
			continue
		}
		if len(values) > 0 {
			out = append(values, out...)
		}
		if len(out) > 0 && out[0].Time <= start {
			break
		}
	}
	return out, nil
}

// logReadFailure reports a shard read failure, downgraded to INFO when
// the affected time precedes the retention window: failures on
// out-of-retention data are expected.
func (x *Multiplexer) logReadFailure(start int64, msg string, err error) {
	if start < x.now()-x.meta.ProposedDataAge {
		muxLog.Info(msg+" - back end is probably outdated", "channel", x.meta, "error", err)
	} else {
		muxLog.Error(msg, "channel", x.meta, "error", err)
	}
}

// CleanupRelicts deletes shards older than the retention boundary
// derived from the newest stored sample. At least the two newest
// samples always survive.
func (x *Multiplexer) CleanupRelicts() error {
	x.mu.Lock()
	initialized := x.initialized
	x.mu.Unlock()
	if !initialized {
		return fmt.Errorf("multiplexer: %w", errors.ErrNotInitialized)
	}

	muxLog.Debug("deleting old data", "channel", x.meta)
	now := x.now()

	// The newest stored sample anchors the retention boundary.
	newest, err := x.GetValues(now-1, now)
	if err != nil || len(newest) == 0 {
		return err
	}
	anchor := newest[0].Time

	// The sample preceding the boundary must survive, so the boundary
	// moves to just before it.
	age := func() int64 {
		x.mu.Lock()
		defer x.mu.Unlock()
		return x.meta.ProposedDataAge
	}()
	boundary, err := x.GetValues(anchor-age-1, anchor-age)
	if err != nil || len(boundary) == 0 {
		return err
	}

	x.mu.Lock()
	level, method := x.meta.DetailLevelID, x.meta.Method
	x.mu.Unlock()
	return x.manager.DeleteOldBackEnds(level, method, boundary[0].Time-1)
}
