// Package pipeline implements the detail level channels of the
// aggregation pipeline. Each level buffers incoming raw samples,
// reduces a filled calculation window through its provider and writes
// the aggregate into the level's own multiplexed back end. The native
// level forwards every sample immediately.
package pipeline

import (
	"fmt"
	"sync"

	"github.com/xtxerr/hsdb/internal/logging"
	"github.com/xtxerr/hsdb/internal/storage/backend"
	"github.com/xtxerr/hsdb/internal/storage/calc"
	"github.com/xtxerr/hsdb/internal/storage/types"
)

var log = logging.Component("pipeline")

// Level is one rung of the aggregation pipeline: a calculation
// provider plus the back end receiving its output. It implements the
// storage channel surface and is registered on the channel registry,
// so every incoming raw sample fans out to every level.
type Level struct {
	mu sync.Mutex

	provider calc.Provider
	out      backend.BackEnd

	// Current calculation window and its buffered input. The buffer
	// additionally carries the last sample before the window, which
	// paints the state at the window start.
	windowStart int64
	windowSet   bool
	buffer      []types.Sample

	// lastEmitted guards the ordering guarantee: aggregates leave a
	// level strictly ascending in time.
	lastEmitted int64
	emittedAny  bool
}

// NewLevel creates a pipeline level writing through the given back
// end.
func NewLevel(provider calc.Provider, out backend.BackEnd) *Level {
	return &Level{
		provider: provider,
		out:      out,
	}
}

// BackEnd returns the back end receiving the level's output.
func (l *Level) BackEnd() backend.BackEnd {
	return l.out
}

// UpdateLong processes one long value.
func (l *Level) UpdateLong(v types.Sample) error {
	return l.UpdateLongs([]types.Sample{v})
}

// UpdateLongs processes a batch of long values.
func (l *Level) UpdateLongs(vs []types.Sample) error {
	return l.update(vs)
}

// UpdateDouble processes one double value.
func (l *Level) UpdateDouble(v types.Sample) error {
	return l.UpdateDoubles([]types.Sample{v})
}

// UpdateDoubles processes a batch of double values.
func (l *Level) UpdateDoubles(vs []types.Sample) error {
	return l.update(vs)
}

// GetLongValues reads the level's aggregates as long values.
func (l *Level) GetLongValues(start, end int64) ([]types.Sample, error) {
	return l.getValues(start, end, types.DataTypeLong)
}

// GetDoubleValues reads the level's aggregates as double values.
func (l *Level) GetDoubleValues(start, end int64) ([]types.Sample, error) {
	return l.getValues(start, end, types.DataTypeDouble)
}

func (l *Level) getValues(start, end int64, kind types.DataType) ([]types.Sample, error) {
	values, err := l.out.GetValues(start, end)
	if err != nil {
		return nil, err
	}
	for i := range values {
		values[i] = values[i].Convert(kind)
	}
	return values, nil
}

// CleanupRelicts forwards the retention cleanup to the level's back
// end.
func (l *Level) CleanupRelicts() error {
	type cleaner interface{ CleanupRelicts() error }
	if c, ok := l.out.(cleaner); ok {
		return c.CleanupRelicts()
	}
	return nil
}

// update runs the level's calculation for a batch of input samples.
func (l *Level) update(vs []types.Sample) error {
	if len(vs) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.provider.PassThrough() {
		converted := make([]types.Sample, 0, len(vs))
		for _, v := range vs {
			converted = append(converted, v.Convert(l.provider.OutputType()))
			if !l.emittedAny || v.Time > l.lastEmitted {
				l.lastEmitted = v.Time
				l.emittedAny = true
			}
		}
		return l.out.Update(converted)
	}

	sorted := make([]types.Sample, len(vs))
	copy(sorted, vs)
	types.SortSamples(sorted)

	for _, v := range sorted {
		if err := l.processWindowed(v.Convert(l.provider.InputType())); err != nil {
			return err
		}
	}
	return nil
}

// processWindowed buffers one sample, emitting every window that it
// slides past. Caller holds l.mu.
func (l *Level) processWindowed(v types.Sample) error {
	span := l.provider.RequiredTimespan()
	if span <= 0 {
		return fmt.Errorf("provider of level has no required timespan")
	}

	if !l.windowSet {
		l.windowStart = floorDiv(v.Time, span) * span
		l.windowSet = true
	}

	for v.Time >= l.windowStart+span {
		if err := l.emitWindow(); err != nil {
			return err
		}
		l.windowStart += span
		l.pruneBuffer()
	}

	if v.Time < l.windowStart {
		// A late sample behind the current window cannot be reduced
		// anymore without emitting out of order.
		log.Warn("dropping late sample behind current window", "time", v.Time, "windowStart", l.windowStart)
		return nil
	}
	l.buffer = append(l.buffer, v)
	return nil
}

// emitWindow reduces the current window and writes the aggregate.
// Caller holds l.mu.
func (l *Level) emitWindow() error {
	if len(l.buffer) == 0 {
		return nil
	}
	if l.emittedAny && l.windowStart <= l.lastEmitted {
		return nil
	}
	aggregate := l.provider.Generate(l.windowStart, l.buffer)
	if err := l.out.Update([]types.Sample{aggregate}); err != nil {
		return err
	}
	l.lastEmitted = aggregate.Time
	l.emittedAny = true
	return nil
}

// pruneBuffer drops samples no longer relevant after a window slide:
// everything before the window except the newest such sample, which
// carries the state at the new window start. Caller holds l.mu.
func (l *Level) pruneBuffer() {
	var carry types.Sample
	var haveCarry bool
	var kept []types.Sample
	for _, s := range l.buffer {
		if s.Time < l.windowStart {
			if !haveCarry || s.Time > carry.Time {
				carry = s
				haveCarry = true
			}
			continue
		}
		kept = append(kept, s)
	}
	if haveCarry {
		kept = append([]types.Sample{carry}, kept...)
	}
	l.buffer = kept
}

// Flush emits the current partial window without waiting for a sample
// past its end. Used on shutdown so the freshest aggregate is not
// lost.
func (l *Level) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.provider.PassThrough() || !l.windowSet {
		return nil
	}
	return l.emitWindow()
}

// floorDiv divides rounding towards negative infinity.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
