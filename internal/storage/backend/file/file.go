// Package file implements the file-bound storage back end: one file
// holds the samples of one channel for one contiguous time span,
// protected by a header checksum and per-record parity bytes.
package file

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/xtxerr/hsdb/internal/errors"
	"github.com/xtxerr/hsdb/internal/logging"
	"github.com/xtxerr/hsdb/internal/storage/types"
)

var log = logging.Component("backend.file")

// BackEnd stores samples in a single file. Records are kept sorted
// strictly ascending by time; writes insert in place. The type
// implements backend.BackEnd.
type BackEnd struct {
	mu sync.Mutex

	fileName string

	// keepOpen keeps the file descriptor open between calls while the
	// instance is initialized.
	keepOpen bool

	meta        *types.Metadata
	f           *os.File
	writeMode   bool
	dataOffset  int64
	initialized bool

	// lock serializes file access between readers and writers of the
	// same shard. Attached by the manager; nil in single-user setups.
	lock *sync.RWMutex

	isEmpty        bool
	firstValueTime int64
	hasFirstValue  bool
}

// New creates a back end bound to the given file. The file is not
// touched until Create or Initialize.
func New(fileName string, keepOpenWhileInitialized bool) (*BackEnd, error) {
	if fileName == "" {
		return nil, errors.InvalidArgument("empty filename")
	}
	return &BackEnd{
		fileName: fileName,
		keepOpen: keepOpenWhileInitialized,
		isEmpty:  true,
	}, nil
}

// FileName returns the name of the file of the back end.
func (b *BackEnd) FileName() string {
	return b.fileName
}

// SetLock attaches the reader/writer lock serializing file access.
func (b *BackEnd) SetLock(lock *sync.RWMutex) {
	b.lock = lock
}

// Lock returns the attached lock, or nil.
func (b *BackEnd) Lock() *sync.RWMutex {
	return b.lock
}

// IsTimeSpanConstant reports that the covered span is fixed at
// creation.
func (b *BackEnd) IsTimeSpanConstant() bool {
	return true
}

// Create writes a fresh file consisting of only the header. Parent
// directories are created as needed. The call fails when the file
// already exists.
func (b *BackEnd) Create(meta *types.Metadata) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := meta.Validate(); err != nil {
		return errors.InvalidArgument("create '%s': %v", b.fileName, err)
	}
	if err := os.MkdirAll(filepath.Dir(b.fileName), 0o755); err != nil {
		return fmt.Errorf("create parent of '%s': %w", b.fileName, err)
	}

	log.Info("creating file", "file", b.fileName)
	f, err := os.OpenFile(b.fileName, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("create '%s': %w", b.fileName, errors.ErrAlreadyExists)
		}
		return fmt.Errorf("create '%s': %w", b.fileName, err)
	}
	b.f = f
	b.writeMode = true

	if b.lock != nil {
		b.lock.Lock()
		defer b.lock.Unlock()
	}
	header := encodeHeader(meta)
	if _, err := b.f.WriteAt(header, 0); err != nil {
		b.closeFile()
		return fmt.Errorf("write header of '%s': %w", b.fileName, err)
	}
	if b.lock != nil {
		if err := b.f.Sync(); err != nil {
			b.closeFile()
			return fmt.Errorf("sync '%s': %w", b.fileName, err)
		}
	}
	b.closeIfRequired()
	return nil
}

// Initialize opens the file, validates the header and caches the data
// offset, emptiness and the time of the first record. The passed
// metadata is ignored; the header is authoritative.
func (b *BackEnd) Initialize(_ *types.Metadata) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.meta = nil
	b.initialized = true
	if err := b.readMetaData(); err != nil {
		b.initialized = false
		return err
	}
	b.closeIfRequired()
	return nil
}

// Deinitialize closes any open descriptor and drops cached state.
func (b *BackEnd) Deinitialize() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closeFile()
	b.initialized = false
	b.meta = nil
	b.isEmpty = true
	b.hasFirstValue = false
	return nil
}

// Delete removes the file. Idempotent.
func (b *BackEnd) Delete() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lock != nil {
		b.lock.Lock()
		defer b.lock.Unlock()
	}
	b.closeFile()
	err := os.Remove(b.fileName)
	if err != nil && !os.IsNotExist(err) {
		log.Warn("deletion of file failed", "file", b.fileName, "error", err)
		return fmt.Errorf("delete '%s': %w", b.fileName, err)
	}
	if err == nil {
		log.Info("deleted file", "file", b.fileName)
	}
	return nil
}

// Metadata returns the channel metadata read from the file header.
func (b *BackEnd) Metadata() (*types.Metadata, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.assureInitialized(); err != nil {
		return nil, err
	}
	if b.meta == nil {
		if err := b.readMetaData(); err != nil {
			return nil, err
		}
		b.closeIfRequired()
	}
	return b.meta, nil
}

// IsEmpty reports whether the file holds no complete record.
// Only available while initialized.
func (b *BackEnd) IsEmpty() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.assureInitialized(); err != nil {
		return false, err
	}
	return b.isEmpty, nil
}

// FirstEntryTime returns the time of the first record in the file.
// The second result is false when the file is empty.
func (b *BackEnd) FirstEntryTime() (int64, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.assureInitialized(); err != nil {
		return 0, false, err
	}
	return b.firstValueTime, b.hasFirstValue, nil
}

// Update inserts the passed samples, keeping the record array sorted.
// Samples before the covered span are dropped; a sample at or past the
// span end terminates the batch. Equal times overwrite in place.
func (b *BackEnd) Update(samples []types.Sample) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.assureInitialized(); err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}
	if err := b.open(true); err != nil {
		return err
	}
	defer b.closeIfRequired()

	sorted := make([]types.Sample, len(samples))
	copy(sorted, samples)
	types.SortSamples(sorted)
	return b.writeSamples(sorted)
}

// GetValues returns all samples with time in [start, end) sorted
// ascending, preceded by the last sample before start when one exists.
func (b *BackEnd) GetValues(start, end int64) ([]types.Sample, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.assureInitialized(); err != nil {
		return nil, err
	}
	if start >= end {
		return nil, nil
	}
	if err := b.open(false); err != nil {
		return nil, err
	}
	defer b.closeIfRequired()

	fileSize, err := b.alignedSize()
	if err != nil {
		return nil, err
	}
	pos, err := b.firstEntryPosition(start, fileSize)
	if err != nil {
		return nil, err
	}

	var out []types.Sample
	for pos+recordSize <= fileSize {
		s, err := b.readRecord(pos)
		if err != nil {
			return nil, err
		}
		if s.Time >= end {
			break
		}
		out = append(out, s)
		pos += recordSize
	}
	return out, nil
}

// ----------------------------------------------------------------------------
// internals
// ----------------------------------------------------------------------------

func (b *BackEnd) assureInitialized() error {
	if !b.initialized {
		return fmt.Errorf("back end '%s': %w", b.fileName, errors.ErrNotInitialized)
	}
	return nil
}

// open assures a usable descriptor, reopening when write access is
// required but the current descriptor is read-only.
func (b *BackEnd) open(write bool) error {
	if b.f != nil && write && !b.writeMode {
		b.closeFile()
	}
	if b.f != nil {
		return nil
	}
	flag := os.O_RDONLY
	if write {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(b.fileName, flag, 0o644)
	if err != nil {
		return fmt.Errorf("open '%s': %w", b.fileName, err)
	}
	b.f = f
	b.writeMode = write
	return nil
}

func (b *BackEnd) closeFile() {
	if b.f != nil {
		if err := b.f.Close(); err != nil {
			log.Warn("file could not be closed", "file", b.fileName, "error", err)
		}
		b.f = nil
	}
}

func (b *BackEnd) closeIfRequired() {
	if !b.keepOpen {
		b.closeFile()
	}
}

// readMetaData opens the file, parses and verifies the header and
// caches the derived state.
func (b *BackEnd) readMetaData() error {
	if err := b.open(false); err != nil {
		return err
	}
	if b.lock != nil {
		b.lock.RLock()
		defer b.lock.RUnlock()
	}

	info, err := b.f.Stat()
	if err != nil {
		return fmt.Errorf("stat '%s': %w", b.fileName, err)
	}
	fileSize := info.Size()
	if fileSize < 16 {
		return errors.CorruptHeader(b.fileName, "too small")
	}

	head := make([]byte, 16)
	if _, err := b.f.ReadAt(head, 0); err != nil {
		return fmt.Errorf("read header of '%s': %w", b.fileName, err)
	}
	_, dataOffset, derr := decodeHeader(head)
	if derr != nil && derr != errShortHeader {
		return errors.CorruptHeader(b.fileName, "%v", derr)
	}
	if dataOffset < minHeaderSize || dataOffset > fileSize {
		return errors.CorruptHeader(b.fileName, "invalid data offset %d", dataOffset)
	}

	full := make([]byte, dataOffset)
	if _, err := b.f.ReadAt(full, 0); err != nil {
		return fmt.Errorf("read header of '%s': %w", b.fileName, err)
	}
	meta, _, derr := decodeHeader(full)
	if derr != nil {
		return errors.CorruptHeader(b.fileName, "%v", derr)
	}

	b.meta = meta
	b.dataOffset = dataOffset
	b.isEmpty = fileSize < dataOffset+recordSize
	b.hasFirstValue = false
	if !b.isEmpty {
		first, err := b.readRecordLocked(dataOffset)
		if err != nil {
			return err
		}
		b.firstValueTime = first.Time
		b.hasFirstValue = true
	}
	return nil
}

// alignedSize returns the file size reduced to the last complete
// record. A torn tail is reported once per call chain and otherwise
// ignored.
func (b *BackEnd) alignedSize() (int64, error) {
	info, err := b.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat '%s': %w", b.fileName, err)
	}
	size := info.Size()
	if torn := (size - b.dataOffset) % recordSize; torn != 0 {
		size -= torn
		log.Warn("skipping incomplete last entry", "file", b.fileName, "tornBytes", torn)
	}
	return size, nil
}

// readRecord reads and verifies one record, taking the shard read
// lock.
func (b *BackEnd) readRecord(pos int64) (types.Sample, error) {
	if b.lock != nil {
		b.lock.RLock()
		defer b.lock.RUnlock()
	}
	return b.readRecordLocked(pos)
}

func (b *BackEnd) readRecordLocked(pos int64) (types.Sample, error) {
	var buf [recordSize]byte
	if _, err := b.f.ReadAt(buf[:], pos); err != nil {
		return types.Sample{}, fmt.Errorf("read record of '%s' at %d: %w", b.fileName, pos, err)
	}
	kind := types.DataTypeLong
	if b.meta != nil {
		kind = b.meta.DataType
	}
	s, ok := decodeRecord(buf[:], kind)
	if !ok {
		return types.Sample{}, errors.CorruptRecord(b.fileName, pos, "lrc mismatch")
	}
	if b.meta != nil && !b.meta.Contains(s.Time) {
		log.Warn("valid entry has a time outside the covered span", "file", b.fileName, "time", s.Time)
	}
	return s, nil
}

// insertionPoint scans backwards from the file end for the position of
// a record with the given time. Most writes append, so the scan
// terminates after one comparison in the common case. The caller holds
// the shard write lock; the RWMutex is not reentrant, so the scan uses
// the lock-free record reader.
func (b *BackEnd) insertionPoint(time, fileSize int64) (int64, error) {
	pos := fileSize - recordSize
	for pos >= b.dataOffset {
		existing, err := b.readRecordLocked(pos)
		if err != nil {
			return 0, err
		}
		if time > existing.Time {
			return pos + recordSize, nil
		}
		if time == existing.Time {
			return pos, nil
		}
		pos -= recordSize
	}
	return b.dataOffset, nil
}

// shiftTail moves the records in [pos, fileEnd) one record slot
// towards the file end, copying back-to-front in bounded chunks.
func (b *BackEnd) shiftTail(pos, fileEnd int64) error {
	buf := make([]byte, min(int64(maxCopyBufferFillSize), fileEnd-pos))
	endCopy := fileEnd
	startCopy := max(endCopy-int64(len(buf)), pos)
	for startCopy < endCopy {
		fill := int(endCopy - startCopy)
		if _, err := b.f.ReadAt(buf[:fill], startCopy); err != nil {
			return fmt.Errorf("shift read of '%s' at %d: %w", b.fileName, startCopy, err)
		}
		if _, err := b.f.WriteAt(buf[:fill], startCopy+recordSize); err != nil {
			return fmt.Errorf("shift write of '%s' at %d: %w", b.fileName, startCopy+recordSize, err)
		}
		endCopy = startCopy
		startCopy = max(pos, startCopy-int64(fill))
	}
	return nil
}

// writeSamples inserts the sorted batch under the shard write lock.
func (b *BackEnd) writeSamples(samples []types.Sample) error {
	startTime := b.meta.StartTime
	endTime := b.meta.EndTime

	if b.lock != nil {
		b.lock.Lock()
		defer b.lock.Unlock()
	}

	i := 0
	for i < len(samples) {
		t := samples[i].Time
		if t < startTime {
			// Out of range towards the past: drop silently.
			i++
			continue
		}
		if t >= endTime {
			// The batch is sorted; nothing further fits this shard.
			break
		}

		fileSize, err := b.alignedSize()
		if err != nil {
			return err
		}
		pos, err := b.insertionPoint(t, fileSize)
		if err != nil {
			return err
		}

		if pos == fileSize {
			// Append run: keep writing as long as times keep
			// ascending past the last written record.
			last := t - 1
			for i < len(samples) && samples[i].Time > last && samples[i].Time < endTime {
				rec := encodeRecord(samples[i])
				if _, err := b.f.WriteAt(rec[:], pos); err != nil {
					return fmt.Errorf("append to '%s' at %d: %w", b.fileName, pos, err)
				}
				last = samples[i].Time
				pos += recordSize
				i++
			}
			continue
		}

		existing, err := b.readRecordLocked(pos)
		if err != nil {
			return err
		}
		if existing.Time != t {
			if err := b.shiftTail(pos, fileSize); err != nil {
				return err
			}
		}
		rec := encodeRecord(samples[i])
		if _, err := b.f.WriteAt(rec[:], pos); err != nil {
			return fmt.Errorf("write to '%s' at %d: %w", b.fileName, pos, err)
		}
		i++
	}

	if b.lock != nil {
		if err := b.f.Sync(); err != nil {
			return fmt.Errorf("sync '%s': %w", b.fileName, err)
		}
	}
	return nil
}

// firstEntryPosition locates the offset at which a read for the given
// start time begins: the record at start, or the last record before it.
func (b *BackEnd) firstEntryPosition(start, fileSize int64) (int64, error) {
	// Bound checks avoid the search entirely for queries outside the
	// covered span.
	if b.meta.EndTime < start {
		if fileSize > b.dataOffset {
			return fileSize - recordSize, nil
		}
		return fileSize, nil
	}
	if b.meta.StartTime > start {
		return b.dataOffset, nil
	}

	n := (fileSize - b.dataOffset) / recordSize
	if n == 0 {
		return b.dataOffset, nil
	}

	lo, hi := int64(0), n
	for lo < hi {
		mid := (lo + hi) / 2
		pos := b.dataOffset + mid*recordSize
		s, err := b.readRecord(pos)
		if err != nil {
			return 0, err
		}
		switch {
		case s.Time < start:
			lo = mid + 1
		case s.Time > start:
			hi = mid - 1
		default:
			return pos, nil
		}
	}

	idx := max(int64(0), min(lo, hi))
	pos := b.dataOffset + idx*recordSize
	if pos < fileSize {
		s, err := b.readRecord(pos)
		if err != nil {
			return 0, err
		}
		if s.Time > start {
			// Step back to include the state at the query start.
			idx--
		}
	}
	result := b.dataOffset + max(int64(0), idx)*recordSize
	if result > b.dataOffset && result == fileSize {
		result -= recordSize
	}
	return result, nil
}
