// Package archive exports shard data to Parquet files for cold
// storage. One archive file holds the samples of one back end's span;
// the query service reads the whole archive directory with DuckDB.
package archive

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"
	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/hsdb/internal/logging"
	"github.com/xtxerr/hsdb/internal/storage/backend"
	"github.com/xtxerr/hsdb/internal/storage/types"
)

var log = logging.Component("archive")

// Options configures the archive writer.
type Options struct {
	// Compression algorithm: snappy, zstd, lz4, gzip, none.
	Compression string

	// Workers bounds the number of channels exported concurrently.
	Workers int
}

// DefaultOptions returns default archive options.
func DefaultOptions() Options {
	return Options{
		Compression: "zstd",
		Workers:     4,
	}
}

// getCompression returns the parquet-go codec for a compression name.
func getCompression(name string) compress.Codec {
	switch name {
	case "snappy":
		return &parquet.Snappy
	case "zstd":
		return &parquet.Zstd
	case "lz4":
		return &parquet.Lz4Raw
	case "gzip":
		return &parquet.Gzip
	case "none", "":
		return &parquet.Uncompressed
	default:
		return &parquet.Zstd
	}
}

// SampleRow is one sample in Parquet form. Both payload columns are
// filled so consumers can pick the flavor without a join.
type SampleRow struct {
	ConfigurationID string  `parquet:"configuration_id,zstd"`
	DetailLevelID   int64   `parquet:"detail_level_id"`
	Method          string  `parquet:"method,zstd"`
	TimestampMs     int64   `parquet:"timestamp_ms"`
	Quality         float64 `parquet:"quality"`
	Manual          float64 `parquet:"manual"`
	BaseValueCount  int64   `parquet:"base_value_count"`
	ValueLong       int64   `parquet:"value_long"`
	ValueDouble     float64 `parquet:"value_double"`
}

// rowFromSample converts a sample to its Parquet form.
func rowFromSample(meta *types.Metadata, s types.Sample) SampleRow {
	return SampleRow{
		ConfigurationID: meta.ConfigurationID,
		DetailLevelID:   meta.DetailLevelID,
		Method:          meta.Method.ShortString(),
		TimestampMs:     s.Time,
		Quality:         s.Quality,
		Manual:          s.Manual,
		BaseValueCount:  s.BaseValueCount,
		ValueLong:       s.LongValue(),
		ValueDouble:     s.DoubleValue(),
	}
}

// Writer exports channels into an archive directory.
type Writer struct {
	dir  string
	opts Options
}

// NewWriter creates an archive writer rooted at the given directory.
func NewWriter(dir string, opts Options) *Writer {
	if opts.Workers <= 0 {
		opts.Workers = DefaultOptions().Workers
	}
	return &Writer{dir: dir, opts: opts}
}

// fileName derives the archive file path of a back end. The covered
// span keeps files of the same channel apart.
func (w *Writer) fileName(meta *types.Metadata) string {
	name := fmt.Sprintf("%s_%d_%s_%d_%d.parquet", meta.ConfigurationID, meta.DetailLevelID, meta.Method.ShortString(), meta.StartTime, meta.EndTime)
	return filepath.Join(w.dir, name)
}

// ExportChannel reads the channel's samples for [start, end) from the
// given back end and writes them into one Parquet file. The archive
// file is replaced atomically.
func (w *Writer) ExportChannel(be backend.BackEnd, start, end int64) (int, error) {
	meta, err := be.Metadata()
	if err != nil {
		return 0, err
	}
	samples, err := be.GetValues(start, end)
	if err != nil {
		return 0, err
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return 0, fmt.Errorf("create archive dir: %w", err)
	}
	target := w.fileName(meta)
	tmp := target + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create archive file: %w", err)
	}

	pw := parquet.NewGenericWriter[SampleRow](f, parquet.Compression(getCompression(w.opts.Compression)))
	rows := make([]SampleRow, 0, len(samples))
	for _, s := range samples {
		rows = append(rows, rowFromSample(meta, s))
	}
	if len(rows) > 0 {
		if _, err := pw.Write(rows); err != nil {
			f.Close()
			os.Remove(tmp)
			return 0, fmt.Errorf("write archive rows: %w", err)
		}
	}
	if err := pw.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("close archive writer: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("close archive file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("replace archive file: %w", err)
	}

	log.Info("channel archived", "channel", meta, "rows", len(rows), "file", target)
	return len(rows), nil
}

// ExportAll exports several channels concurrently, bounded by the
// configured worker count. The per-channel read paths hold their own
// shard locks, so exports of distinct channels do not contend.
func (w *Writer) ExportAll(backEnds []backend.BackEnd, start, end int64) (int, error) {
	var g errgroup.Group
	g.SetLimit(w.opts.Workers)

	total := make([]int, len(backEnds))
	for i, be := range backEnds {
		g.Go(func() error {
			n, err := w.ExportChannel(be, start, end)
			total[i] = n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	sum := 0
	for _, n := range total {
		sum += n
	}
	return sum, nil
}
