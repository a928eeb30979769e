package calc

import "github.com/xtxerr/hsdb/internal/storage/types"

// extremum keeps the best value of the window; it implements both the
// minimum and the maximum provider. Long payloads are compared in
// integer space so large values keep their exact magnitude. The output
// quality is the fraction of the window covered by valid samples.
type extremum struct {
	base
	wantMin bool
}

func (e *extremum) PassThrough() bool { return false }

// betterThan compares two candidate samples in the input value space.
func (e *extremum) betterThan(candidate, current types.Sample) bool {
	if candidate.Kind == types.DataTypeLong && current.Kind == types.DataTypeLong {
		if e.wantMin {
			return candidate.LongValue() < current.LongValue()
		}
		return candidate.LongValue() > current.LongValue()
	}
	if e.wantMin {
		return candidate.DoubleValue() < current.DoubleValue()
	}
	return candidate.DoubleValue() > current.DoubleValue()
}

func (e *extremum) Generate(windowStart int64, samples []types.Sample) types.Sample {
	windowEnd := windowStart + e.RequiredTimespan()

	var (
		best      types.Sample
		have      bool
		validSpan int64
		manualSum float64
		baseCount int64
	)
	for i, s := range samples {
		from := segmentStart(s, windowStart)
		to := segmentEnd(samples, i, windowEnd)
		if to <= from {
			continue
		}
		d := to - from
		manualSum += s.Manual * float64(d)
		if s.Quality <= 0 {
			continue
		}
		validSpan += d
		baseCount += s.BaseValueCount
		if !have || e.betterThan(s, best) {
			best = s
			have = true
		}
	}
	if !have {
		return e.emptyResult(windowStart)
	}

	window := float64(windowEnd - windowStart)
	out := best.Convert(e.outputType)
	out.Time = windowStart
	out.Quality = clamp01(float64(validSpan) / window)
	out.Manual = clamp01(manualSum / window)
	out.BaseValueCount = baseCount
	return out
}
