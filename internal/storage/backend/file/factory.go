package file

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xtxerr/hsdb/internal/storage/backend"
	"github.com/xtxerr/hsdb/internal/storage/types"
)

// filenamePartSeparator splits the fragments of a shard filename.
const filenamePartSeparator = "_"

// fileSuffix is the extension of shard files.
const fileSuffix = ".va"

// Factory creates file back ends and discovers existing ones below a
// root directory. Shards of one configuration live in one
// subdirectory named after the encoded configuration id:
//
//	{root}/{configId}/{configId}_{detailLevel}_{method}_{start}_{end}.va
//
// The type implements backend.Factory.
type Factory struct {
	fileRoot string

	// maxKeepOpenLevel is the highest detail level for which file
	// descriptors stay open while a back end is initialized.
	maxKeepOpenLevel int64
}

// NewFactory creates a factory rooted at the given directory.
func NewFactory(fileRoot string, maxKeepOpenLevel int64) *Factory {
	return &Factory{
		fileRoot:         fileRoot,
		maxKeepOpenLevel: maxKeepOpenLevel,
	}
}

// FileRoot returns the root directory of the factory.
func (fa *Factory) FileRoot() string {
	return fa.fileRoot
}

// keepFileConnectionOpen reports whether descriptors should stay open
// for the given detail level.
func (fa *Factory) keepFileConnectionOpen(detailLevelID int64) bool {
	return detailLevelID <= fa.maxKeepOpenLevel
}

// EncodeFileNamePart converts free text to a valid filename fragment.
// The encoding is percent-based; the separator character is mapped to
// a space so fragments can be split unambiguously.
func EncodeFileNamePart(raw string) string {
	return strings.ReplaceAll(url.QueryEscape(raw), filenamePartSeparator, " ")
}

// DecodeFileNamePart restores the origin value of an encoded filename
// fragment.
func DecodeFileNamePart(part string) string {
	decoded, err := url.QueryUnescape(strings.ReplaceAll(part, " ", filenamePartSeparator))
	if err != nil {
		return part
	}
	return decoded
}

// EncodeTimePart converts a timestamp to the readable filename form
// YYYYMMDD.HHMMSS.mmm.dstOffset, in UTC. The trailing field carries
// the DST offset in milliseconds, always zero for UTC.
func EncodeTimePart(ms int64) string {
	t := time.UnixMilli(ms).UTC()
	return fmt.Sprintf("%04d%02d%02d.%02d%02d%02d.%03d.%d",
		t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond()/1e6, 0)
}

// GenerateFileName returns the path of the file matching the passed
// metadata.
func (fa *Factory) GenerateFileName(meta *types.Metadata) string {
	configID := EncodeFileNamePart(meta.ConfigurationID)
	name := strings.Join([]string{
		configID,
		strconv.FormatInt(meta.DetailLevelID, 10),
		meta.Method.ShortString(),
		EncodeTimePart(meta.StartTime),
		EncodeTimePart(meta.EndTime),
	}, filenamePartSeparator) + fileSuffix
	return filepath.Join(fa.fileRoot, configID, name)
}

// fileNameParts holds the fragments a shard filename claims.
type fileNameParts struct {
	configID      string
	detailLevelID int64
	method        types.CalculationMethod
}

// parseFileName splits a shard filename into its fragments. The
// second result is false when the name does not follow the schema.
func parseFileName(name string) (fileNameParts, bool) {
	if !strings.HasSuffix(name, fileSuffix) {
		return fileNameParts{}, false
	}
	fragments := strings.Split(strings.TrimSuffix(name, fileSuffix), filenamePartSeparator)
	if len(fragments) != 5 {
		return fileNameParts{}, false
	}
	level, err := strconv.ParseInt(fragments[1], 10, 64)
	if err != nil {
		return fileNameParts{}, false
	}
	return fileNameParts{
		configID:      fragments[0],
		detailLevelID: level,
		method:        types.ParseMethodShortString(fragments[2]),
	}, true
}

// CreateNewBackEnd constructs an uninitialized back end bound to the
// path derived from the metadata. The file is not created yet.
func (fa *Factory) CreateNewBackEnd(meta *types.Metadata) (backend.BackEnd, error) {
	if meta == nil {
		return nil, fmt.Errorf("nil metadata passed to factory")
	}
	return New(fa.GenerateFileName(meta), fa.keepFileConnectionOpen(meta.DetailLevelID))
}

// openValidated opens a discovered file, verifies that the header's
// own view of the channel matches what the filename claims and returns
// the deinitialized back end plus its metadata. Files failing
// validation are ignored with a warning.
func (fa *Factory) openValidated(path string, keepOpen bool) (*BackEnd, *types.Metadata) {
	be, err := New(path, keepOpen)
	if err != nil {
		return nil, nil
	}
	if err := be.Initialize(nil); err != nil {
		log.Warn("file could not be evaluated and will be ignored", "file", path, "error", err)
		return nil, nil
	}
	meta, err := be.Metadata()
	if err != nil {
		_ = be.Deinitialize()
		log.Warn("metadata could not be retrieved, file will be ignored", "file", path, "error", err)
		return nil, nil
	}
	meta = meta.Clone()
	_ = be.Deinitialize()

	claims, ok := parseFileName(filepath.Base(path))
	if !ok ||
		claims.configID != EncodeFileNamePart(meta.ConfigurationID) ||
		claims.detailLevelID != meta.DetailLevelID ||
		claims.method != meta.Method {
		log.Warn("file content does not match its file name, file will be ignored", "file", path, "metadata", meta)
		return nil, nil
	}
	return be, meta
}

// GetExistingBackEnds returns all valid back ends of the given channel
// sorted by end time descending, then start time descending.
func (fa *Factory) GetExistingBackEnds(configID string, detailLevelID int64, method types.CalculationMethod) ([]backend.BackEnd, error) {
	if configID == "" {
		return nil, nil
	}
	dir := filepath.Join(fa.fileRoot, EncodeFileNamePart(configID))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan '%s': %w", dir, err)
	}

	keepOpen := fa.keepFileConnectionOpen(detailLevelID)
	type discovered struct {
		be   *BackEnd
		meta *types.Metadata
	}
	var found []discovered
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		claims, ok := parseFileName(entry.Name())
		if !ok || claims.detailLevelID != detailLevelID || claims.method != method {
			continue
		}
		be, meta := fa.openValidated(filepath.Join(dir, entry.Name()), keepOpen)
		if be == nil {
			continue
		}
		found = append(found, discovered{be, meta})
	}

	sort.SliceStable(found, func(i, j int) bool {
		a, b := found[i].meta, found[j].meta
		if a.EndTime != b.EndTime {
			return a.EndTime > b.EndTime
		}
		return a.StartTime > b.StartTime
	})
	out := make([]backend.BackEnd, len(found))
	for i, d := range found {
		out[i] = d.be
	}
	return out, nil
}

// GetExistingBackEndsMetaData returns the metadata of every valid back
// end of the configuration; with an empty configID all configurations
// are scanned. With merge set, entries are grouped by (configuration,
// detail level, method): the group's time span is widened to cover all
// members and the remaining fields are copied from the member with the
// latest end time.
func (fa *Factory) GetExistingBackEndsMetaData(configID string, merge bool) ([]*types.Metadata, error) {
	root, err := os.ReadDir(fa.fileRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan '%s': %w", fa.fileRoot, err)
	}

	wanted := ""
	if configID != "" {
		wanted = EncodeFileNamePart(configID)
	}

	var metas []*types.Metadata
	for _, dirEntry := range root {
		if !dirEntry.IsDir() {
			continue
		}
		if wanted != "" && dirEntry.Name() != wanted {
			continue
		}
		dir := filepath.Join(fa.fileRoot, dirEntry.Name())
		entries, err := os.ReadDir(dir)
		if err != nil {
			log.Warn("directory could not be scanned", "dir", dir, "error", err)
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			if claims, ok := parseFileName(entry.Name()); !ok || claims.configID != dirEntry.Name() {
				continue
			}
			be, meta := fa.openValidated(filepath.Join(dir, entry.Name()), false)
			if be == nil {
				continue
			}
			if merge {
				metas = mergeMetaData(metas, meta)
			} else {
				metas = append(metas, meta)
			}
		}
	}
	return metas, nil
}

// mergeMetaData folds the new entry into an existing group or appends
// it.
func mergeMetaData(metas []*types.Metadata, meta *types.Metadata) []*types.Metadata {
	for _, entry := range metas {
		if entry.ConfigurationID != meta.ConfigurationID ||
			entry.DetailLevelID != meta.DetailLevelID ||
			entry.Method != meta.Method {
			continue
		}
		start := min(entry.StartTime, meta.StartTime)
		end := max(entry.EndTime, meta.EndTime)
		if entry.EndTime < meta.EndTime {
			// The entry with the latest end time supplies every field
			// except the widened span.
			*entry = *meta.Clone()
		}
		entry.StartTime = start
		entry.EndTime = end
		return metas
	}
	return append(metas, meta.Clone())
}

// DeleteBackEnds removes every file of the configuration and its
// directory.
func (fa *Factory) DeleteBackEnds(configID string) error {
	if configID == "" {
		return nil
	}
	dir := filepath.Join(fa.fileRoot, EncodeFileNamePart(configID))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("scan '%s': %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := parseFileName(entry.Name()); !ok {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			log.Warn("file could not be deleted", "file", entry.Name(), "error", err)
		}
	}
	if err := os.Remove(dir); err != nil {
		log.Warn("directory could not be deleted", "dir", dir, "error", err)
	}
	return nil
}
