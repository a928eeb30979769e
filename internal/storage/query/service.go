// Package query provides SQL access to archived channel data and
// statistical summaries over sample sets. Archived Parquet files are
// queried through DuckDB; percentile summaries use DDSketch.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/DataDog/sketches-go/ddsketch"
	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/hsdb/internal/storage/types"
)

// Service queries archived channel data.
type Service struct {
	mu sync.RWMutex

	archiveDir string
	db         *sql.DB

	sketchAccuracy float64
}

// Options configures the query service.
type Options struct {
	// MemoryLimit caps DuckDB memory usage, e.g. "1GB". Empty means
	// unlimited.
	MemoryLimit string

	// SketchAccuracy is the relative accuracy of percentile summaries.
	// Default: 0.01.
	SketchAccuracy float64
}

// New creates a query service over the given archive directory.
func New(archiveDir string, opts Options) (*Service, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if opts.MemoryLimit != "" {
		if _, err := db.Exec(fmt.Sprintf("SET memory_limit='%s'", opts.MemoryLimit)); err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}
	if opts.SketchAccuracy <= 0 {
		opts.SketchAccuracy = 0.01
	}
	return &Service{
		archiveDir:     archiveDir,
		db:             db,
		sketchAccuracy: opts.SketchAccuracy,
	}, nil
}

// Close closes the query service.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// ChannelQuery selects archived samples of one channel.
type ChannelQuery struct {
	ConfigurationID string
	DetailLevelID   int64
	Method          types.CalculationMethod
	StartTime       int64 // inclusive, Unix milliseconds
	EndTime         int64 // exclusive
	Limit           int
}

// Samples returns the archived samples matching the query, sorted
// ascending by time.
func (s *Service) Samples(ctx context.Context, q ChannelQuery) ([]types.Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// The file pattern is a table function argument and cannot be
	// bound as a parameter; single quotes in the path are escaped.
	pattern := filepath.Join(s.archiveDir, "*.parquet")
	pattern = strings.ReplaceAll(pattern, "'", "''")
	query := fmt.Sprintf(`
		SELECT timestamp_ms, quality, manual, base_value_count, value_long, value_double
		FROM read_parquet('%s')
		WHERE configuration_id = ?
		  AND detail_level_id = ?
		  AND method = ?
		  AND timestamp_ms >= ?
		  AND timestamp_ms < ?
		ORDER BY timestamp_ms`, pattern)
	args := []any{q.ConfigurationID, q.DetailLevelID, q.Method.ShortString(), q.StartTime, q.EndTime}
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query archive: %w", err)
	}
	defer rows.Close()

	var out []types.Sample
	for rows.Next() {
		var (
			ts, bvc, vl int64
			quality     float64
			manual      float64
			vd          float64
		)
		if err := rows.Scan(&ts, &quality, &manual, &bvc, &vl, &vd); err != nil {
			return nil, fmt.Errorf("scan archive row: %w", err)
		}
		out = append(out, types.NewDouble(ts, quality, manual, bvc, vd))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate archive rows: %w", err)
	}
	return out, nil
}

// Summary holds the statistics of a sample set. Percentiles are
// approximate within the configured sketch accuracy.
type Summary struct {
	Count int64
	Min   float64
	Max   float64
	Avg   float64
	P50   float64
	P90   float64
	P99   float64
}

// Summarize computes statistics over the given samples, ignoring
// zero-quality entries.
func (s *Service) Summarize(samples []types.Sample) (*Summary, error) {
	sketch, err := ddsketch.NewDefaultDDSketch(s.sketchAccuracy)
	if err != nil {
		return nil, fmt.Errorf("create sketch: %w", err)
	}

	out := &Summary{}
	var sum float64
	for _, sample := range samples {
		if sample.Quality <= 0 {
			continue
		}
		v := sample.DoubleValue()
		if out.Count == 0 || v < out.Min {
			out.Min = v
		}
		if out.Count == 0 || v > out.Max {
			out.Max = v
		}
		sum += v
		out.Count++
		if err := sketch.Add(v); err != nil {
			return nil, fmt.Errorf("add to sketch: %w", err)
		}
	}
	if out.Count == 0 {
		return out, nil
	}
	out.Avg = sum / float64(out.Count)

	quantiles, err := sketch.GetValuesAtQuantiles([]float64{0.5, 0.9, 0.99})
	if err != nil {
		return nil, fmt.Errorf("sketch quantiles: %w", err)
	}
	out.P50, out.P90, out.P99 = quantiles[0], quantiles[1], quantiles[2]
	return out, nil
}

// SummarizeArchive queries the archive and summarizes the result in
// one step.
func (s *Service) SummarizeArchive(ctx context.Context, q ChannelQuery) (*Summary, error) {
	samples, err := s.Samples(ctx, q)
	if err != nil {
		return nil, err
	}
	return s.Summarize(samples)
}
