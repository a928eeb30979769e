package calc

import "github.com/xtxerr/hsdb/internal/storage/types"

// average computes a time-weighted mean: every sample is current from
// its own time until the next sample, and contributes with that
// duration as weight.
type average struct {
	base
}

func (a *average) PassThrough() bool { return false }

func (a *average) Generate(windowStart int64, samples []types.Sample) types.Sample {
	windowEnd := windowStart + a.RequiredTimespan()

	var (
		valueSum   float64
		valueWght  int64
		qualitySum float64
		manualSum  float64
		baseCount  int64
	)
	for i, s := range samples {
		from := segmentStart(s, windowStart)
		to := segmentEnd(samples, i, windowEnd)
		if to <= from {
			continue
		}
		d := to - from
		qualitySum += s.Quality * float64(d)
		manualSum += s.Manual * float64(d)
		if s.Quality > 0 {
			valueSum += s.DoubleValue() * float64(d)
			valueWght += d
			baseCount += s.BaseValueCount
		}
	}
	if valueWght == 0 {
		return a.emptyResult(windowStart)
	}

	window := float64(windowEnd - windowStart)
	return a.convert(types.NewDouble(
		windowStart,
		clamp01(qualitySum/window),
		clamp01(manualSum/window),
		baseCount,
		valueSum/float64(valueWght),
	))
}

// clamp01 bounds an indicator to [0,1] against rounding drift.
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
