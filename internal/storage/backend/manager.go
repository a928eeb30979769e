package backend

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/xtxerr/hsdb/internal/logging"
	"github.com/xtxerr/hsdb/internal/storage/types"
)

var managerLog = logging.Component("backend.manager")

// ManagerOptions configures shard allocation.
type ManagerOptions struct {
	// ShardTimespans maps a detail level to the width of newly
	// allocated shards in milliseconds.
	ShardTimespans map[int64]int64

	// DefaultShardTimespan is used for levels without an explicit
	// entry. Default: one hour.
	DefaultShardTimespan int64
}

// DefaultManagerOptions returns default manager options.
func DefaultManagerOptions() ManagerOptions {
	return ManagerOptions{
		DefaultShardTimespan: 60 * 60 * 1000,
	}
}

// channelKey addresses one detail level of one configuration.
type channelKey struct {
	detailLevelID int64
	method        types.CalculationMethod
}

// slot is one shard under management: its span, its back end and the
// lock serializing file access.
type slot struct {
	startTime int64
	endTime   int64
	be        BackEnd
	lock      *sync.RWMutex

	// borrowed counts handles currently held by callers.
	borrowed int

	// open tracks whether the back end is initialized.
	open bool

	// keepOpen keeps the back end initialized when all handles are
	// returned.
	keepOpen bool
}

// Manager exclusively owns the shard handles of one configuration. It
// maintains, per detail level and calculation method, an ordered index
// of shards covering disjoint time spans, allocates new shards on
// demand, marks corrupt ones aside and deletes aged ones.
//
// Callers borrow handles through GetBackEndForInsert and
// GetExistingBackEnds and must return every handle via
// DeinitializeBackEnd on every exit path.
type Manager struct {
	mu   sync.Mutex
	cond *sync.Cond

	factory  Factory
	configID string
	opts     ManagerOptions

	// maxKeepOpenLevel mirrors the factory's descriptor policy.
	maxKeepOpenLevel int64

	index     map[channelKey][]*slot
	discovery map[channelKey]bool

	disposed bool
}

// NewManager creates a manager for one configuration on top of the
// given factory.
func NewManager(factory Factory, configID string, maxKeepOpenLevel int64, opts ManagerOptions) *Manager {
	if opts.DefaultShardTimespan <= 0 {
		opts.DefaultShardTimespan = DefaultManagerOptions().DefaultShardTimespan
	}
	m := &Manager{
		factory:          factory,
		configID:         configID,
		opts:             opts,
		maxKeepOpenLevel: maxKeepOpenLevel,
		index:            make(map[channelKey][]*slot),
		discovery:        make(map[channelKey]bool),
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// shardTimespan returns the allocation width for a detail level.
func (m *Manager) shardTimespan(detailLevelID int64) int64 {
	if w, ok := m.opts.ShardTimespans[detailLevelID]; ok && w > 0 {
		return w
	}
	return m.opts.DefaultShardTimespan
}

// ensureDiscovered populates the index for a channel from disk once.
// Caller holds m.mu.
func (m *Manager) ensureDiscovered(key channelKey) error {
	if m.discovery[key] {
		return nil
	}
	backEnds, err := m.factory.GetExistingBackEnds(m.configID, key.detailLevelID, key.method)
	if err != nil {
		return err
	}
	keepOpen := key.detailLevelID <= m.maxKeepOpenLevel
	for _, be := range backEnds {
		if err := be.Initialize(nil); err != nil {
			managerLog.Warn("discovered shard could not be initialized", "error", err)
			continue
		}
		meta, err := be.Metadata()
		if err != nil {
			_ = be.Deinitialize()
			continue
		}
		s := &slot{
			startTime: meta.StartTime,
			endTime:   meta.EndTime,
			be:        be,
			lock:      &sync.RWMutex{},
			keepOpen:  keepOpen,
			open:      true,
		}
		be.SetLock(s.lock)
		if !keepOpen {
			_ = be.Deinitialize()
			s.open = false
		}
		m.insertSlot(key, s)
	}
	m.discovery[key] = true
	return nil
}

// insertSlot places a slot into the key's span-ordered index.
// Caller holds m.mu.
func (m *Manager) insertSlot(key channelKey, s *slot) {
	slots := m.index[key]
	pos := len(slots)
	for i, existing := range slots {
		if s.startTime < existing.startTime {
			pos = i
			break
		}
	}
	slots = append(slots, nil)
	copy(slots[pos+1:], slots[pos:])
	slots[pos] = s
	m.index[key] = slots
}

// borrow initializes the slot's back end if necessary and hands it
// out. Caller holds m.mu.
func (m *Manager) borrow(s *slot) (BackEnd, error) {
	if !s.open {
		if err := s.be.Initialize(nil); err != nil {
			return nil, err
		}
		s.open = true
	}
	s.borrowed++
	return s.be, nil
}

// GetBackEndForInsert returns the unique shard whose span includes the
// given time, allocating and creating a fresh one when none exists.
// The parent identifies the borrowing multiplexer; it is a pure lookup
// key, not an ownership edge. The template supplies the channel
// metadata a fresh shard derives its header from.
func (m *Manager) GetBackEndForInsert(parent *Multiplexer, template *types.Metadata, time int64) (BackEnd, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return nil, fmt.Errorf("manager for '%s' is disposed", m.configID)
	}
	key := channelKey{template.DetailLevelID, template.Method}
	if err := m.ensureDiscovered(key); err != nil {
		return nil, err
	}
	for _, s := range m.index[key] {
		if time >= s.startTime && time < s.endTime {
			return m.borrow(s)
		}
	}
	return m.allocate(template, key, time)
}

// allocate creates a fresh shard of configured width aligned around
// the given time. Caller holds m.mu.
func (m *Manager) allocate(template *types.Metadata, key channelKey, time int64) (BackEnd, error) {
	width := m.shardTimespan(key.detailLevelID)
	start := floorDiv(time, width) * width
	end := start + width

	meta := template.Clone()
	meta.DetailLevelID = key.detailLevelID
	meta.Method = key.method
	meta.StartTime = start
	meta.EndTime = end

	be, err := m.factory.CreateNewBackEnd(meta)
	if err != nil {
		return nil, err
	}
	s := &slot{
		startTime: start,
		endTime:   end,
		be:        be,
		lock:      &sync.RWMutex{},
		keepOpen:  key.detailLevelID <= m.maxKeepOpenLevel,
	}
	be.SetLock(s.lock)
	if err := be.Create(meta); err != nil {
		return nil, err
	}
	if err := be.Initialize(nil); err != nil {
		return nil, err
	}
	s.open = true
	m.insertSlot(key, s)
	managerLog.Debug("allocated shard", "config", m.configID, "detailLevel", key.detailLevelID, "method", key.method.ShortString(), "start", start, "end", end)
	return m.borrow(s)
}

// GetExistingBackEnds returns every shard overlapping [startTime,
// endTime) plus older shards, ordered by end time descending. All
// returned handles are borrowed and must be returned.
func (m *Manager) GetExistingBackEnds(parent *Multiplexer, detailLevelID int64, method types.CalculationMethod, startTime, endTime int64) ([]BackEnd, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disposed {
		return nil, fmt.Errorf("manager for '%s' is disposed", m.configID)
	}
	key := channelKey{detailLevelID, method}
	if err := m.ensureDiscovered(key); err != nil {
		return nil, err
	}

	var out []BackEnd
	slots := m.index[key]
	// The index is ordered ascending by span; emit descending so the
	// multiplexer can stop as soon as the query start is covered.
	for i := len(slots) - 1; i >= 0; i-- {
		s := slots[i]
		if s.startTime >= endTime {
			continue
		}
		be, err := m.borrow(s)
		if err != nil {
			// Hand the failure to the caller as a shard that knows its
			// span but fails every access, so the multiplexer can
			// synthesize its gap sentinel.
			managerLog.Warn("shard could not be borrowed", "config", m.configID, "start", s.startTime, "error", err)
			out = append(out, &failedBackEnd{
				meta: &types.Metadata{
					ConfigurationID: m.configID,
					DetailLevelID:   key.detailLevelID,
					Method:          key.method,
					StartTime:       s.startTime,
					EndTime:         s.endTime,
					DataType:        types.DataTypeUnknown,
				},
				err: err,
			})
			continue
		}
		out = append(out, be)
	}
	return out, nil
}

// failedBackEnd stands in for a shard whose initialization failed. It
// reports the shard's span but fails every data access with the
// original error.
type failedBackEnd struct {
	meta *types.Metadata
	err  error
}

func (f *failedBackEnd) Create(*types.Metadata) error     { return f.err }
func (f *failedBackEnd) Initialize(*types.Metadata) error { return f.err }
func (f *failedBackEnd) Metadata() (*types.Metadata, error) {
	return f.meta, nil
}
func (f *failedBackEnd) Update([]types.Sample) error { return f.err }
func (f *failedBackEnd) GetValues(int64, int64) ([]types.Sample, error) {
	return nil, f.err
}
func (f *failedBackEnd) Delete() error            { return nil }
func (f *failedBackEnd) Deinitialize() error      { return nil }
func (f *failedBackEnd) IsTimeSpanConstant() bool { return true }
func (f *failedBackEnd) SetLock(*sync.RWMutex)    {}
func (f *failedBackEnd) Lock() *sync.RWMutex      { return nil }

// DeinitializeBackEnd returns a borrowed handle. Back ends of high
// detail levels are closed; low levels keep their descriptor open.
func (m *Manager) DeinitializeBackEnd(parent *Multiplexer, be BackEnd) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.findSlot(be)
	if s == nil {
		_ = be.Deinitialize()
		return
	}
	if s.borrowed > 0 {
		s.borrowed--
	}
	if s.borrowed == 0 && !s.keepOpen {
		_ = s.be.Deinitialize()
		s.open = false
	}
	m.cond.Broadcast()
}

// findSlot locates the slot owning a handle. Caller holds m.mu.
func (m *Manager) findSlot(be BackEnd) *slot {
	for _, slots := range m.index {
		for _, s := range slots {
			if s.be == be {
				return s
			}
		}
	}
	return nil
}

// MarkBackEndAsCorrupt moves the shard covering the given time aside
// and removes it from the index, so subsequent inserts for its span
// allocate a fresh shard.
func (m *Manager) MarkBackEndAsCorrupt(detailLevelID int64, method types.CalculationMethod, time int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := channelKey{detailLevelID, method}
	slots := m.index[key]
	for i, s := range slots {
		if time < s.startTime || time >= s.endTime {
			continue
		}
		_ = s.be.Deinitialize()
		s.open = false
		m.index[key] = append(slots[:i], slots[i+1:]...)
		m.quarantine(s.be)
		return
	}
}

// fileNamed is implemented by file-bound back ends.
type fileNamed interface {
	FileName() string
}

// quarantine renames the shard file with a unique corruption suffix so
// the data stays available for manual inspection. Back ends without a
// file representation are only excluded. Caller holds m.mu.
func (m *Manager) quarantine(be BackEnd) {
	named, ok := be.(fileNamed)
	if !ok {
		return
	}
	from := named.FileName()
	to := from + ".corrupt-" + uuid.NewString()
	if err := os.Rename(from, to); err != nil {
		managerLog.Warn("corrupt shard could not be renamed", "file", from, "error", err)
		return
	}
	managerLog.Warn("corrupt shard moved aside", "file", from, "quarantined", to)
}

// DeleteOldBackEnds deletes every shard whose end time is at or before
// the given boundary.
func (m *Manager) DeleteOldBackEnds(detailLevelID int64, method types.CalculationMethod, olderThan int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := channelKey{detailLevelID, method}
	if err := m.ensureDiscovered(key); err != nil {
		return err
	}
	slots := m.index[key]
	kept := slots[:0]
	for _, s := range slots {
		if s.endTime > olderThan {
			kept = append(kept, s)
			continue
		}
		if s.borrowed > 0 {
			// An in-flight call still holds the shard; the next
			// cleanup pass picks it up.
			kept = append(kept, s)
			continue
		}
		_ = s.be.Deinitialize()
		s.open = false
		if err := s.be.Delete(); err != nil {
			managerLog.Warn("aged shard could not be deleted", "error", err)
			kept = append(kept, s)
		}
	}
	m.index[key] = kept
	return nil
}

// FreeRelatedResources releases every descriptor held on behalf of the
// given multiplexer.
func (m *Manager) FreeRelatedResources(parent *Multiplexer) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, slots := range m.index {
		for _, s := range slots {
			if s.borrowed == 0 && s.open {
				_ = s.be.Deinitialize()
				s.open = false
			}
		}
	}
	m.cond.Broadcast()
}

// Dispose blocks until every outstanding handle is returned, then
// closes all shards. Further borrow attempts fail.
func (m *Manager) Dispose() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.disposed = true
	for {
		outstanding := 0
		for _, slots := range m.index {
			for _, s := range slots {
				outstanding += s.borrowed
			}
		}
		if outstanding == 0 {
			break
		}
		m.cond.Wait()
	}
	for _, slots := range m.index {
		for _, s := range slots {
			if s.open {
				_ = s.be.Deinitialize()
				s.open = false
			}
		}
	}
}

// floorDiv divides rounding towards negative infinity, aligning shard
// spans for negative timestamps as well.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
