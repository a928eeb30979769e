// Package calc implements the calculation logic providers that reduce
// a window of input samples into one aggregated output sample: native
// pass-through, time-weighted average, minimum and maximum.
package calc

import (
	"math"

	"github.com/xtxerr/hsdb/internal/storage/types"
)

// Provider reduces input samples of one calculation window into one
// output sample.
type Provider interface {
	// PassThrough reports whether input values are forwarded without
	// delay instead of being buffered for a window calculation.
	PassThrough() bool

	// RequiredTimespan returns the window length in milliseconds for
	// which input has to be collected before a value can be
	// calculated. Pass-through providers return 0.
	RequiredTimespan() int64

	// InputType returns the data type of the input values.
	InputType() types.DataType

	// OutputType returns the data type of the calculated values.
	OutputType() types.DataType

	// Generate calculates the output sample for the window starting at
	// windowStart. The passed samples are sorted ascending by time;
	// the first one may precede the window and then carries the state
	// at the window start.
	Generate(windowStart int64, samples []types.Sample) types.Sample
}

// New returns the provider for the given method, or nil for an
// unknown method. The first method parameter of a windowed method is
// its required time span in milliseconds.
func New(method types.CalculationMethod, inputType, outputType types.DataType, parameters []int64) Provider {
	base := base{inputType: inputType, outputType: outputType, parameters: parameters}
	switch method {
	case types.MethodNative:
		return &native{base}
	case types.MethodAverage:
		return &average{base}
	case types.MethodMinimum:
		return &extremum{base: base, wantMin: true}
	case types.MethodMaximum:
		return &extremum{base: base, wantMin: false}
	default:
		return nil
	}
}

// base carries the configuration shared by all providers.
type base struct {
	inputType  types.DataType
	outputType types.DataType
	parameters []int64
}

func (b *base) InputType() types.DataType  { return b.inputType }
func (b *base) OutputType() types.DataType { return b.outputType }

func (b *base) RequiredTimespan() int64 {
	if len(b.parameters) == 0 {
		return 0
	}
	return b.parameters[0]
}

// emptyResult is the output when no sample of the window carries any
// quality: a zero-quality marker with a zero (long) or NaN (double)
// payload.
func (b *base) emptyResult(windowStart int64) types.Sample {
	if b.outputType == types.DataTypeDouble {
		return types.NewDouble(windowStart, 0, 0, 0, math.NaN())
	}
	return types.NewLong(windowStart, 0, 0, 0, 0)
}

// convert adjusts a calculated sample to the provider's output type.
func (b *base) convert(s types.Sample) types.Sample {
	return s.Convert(b.outputType)
}

// segmentEnd returns the time at which the given sample stops being
// current: the next sample's time, or the window end.
func segmentEnd(samples []types.Sample, i int, windowEnd int64) int64 {
	if i+1 < len(samples) {
		return min(samples[i+1].Time, windowEnd)
	}
	return windowEnd
}

// segmentStart clips the sample's time to the window.
func segmentStart(s types.Sample, windowStart int64) int64 {
	return max(s.Time, windowStart)
}
