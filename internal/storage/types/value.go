package types

import (
	"fmt"
	"math"
	"time"
)

// DataType indicates the payload type of a sample.
type DataType int64

const (
	// DataTypeUnknown marks an unconfigured channel.
	DataTypeUnknown DataType = 0
	// DataTypeLong is a signed 64-bit integer payload.
	DataTypeLong DataType = 1
	// DataTypeDouble is a 64-bit IEEE-754 payload.
	DataTypeDouble DataType = 2
)

// String returns a human-readable representation of the DataType.
func (d DataType) String() string {
	switch d {
	case DataTypeLong:
		return "LONG_VALUE"
	case DataTypeDouble:
		return "DOUBLE_VALUE"
	default:
		return "UNKNOWN"
	}
}

// ParseDataType parses the on-disk long representation of a data type.
func ParseDataType(v int64) DataType {
	switch v {
	case 1:
		return DataTypeLong
	case 2:
		return DataTypeDouble
	default:
		return DataTypeUnknown
	}
}

// Sample is a single measurement flowing through the storage engine.
// The payload is kept as raw 64-bit words together with a type tag, so
// long and double flavored channels share one representation and the
// file back-end can persist the payload without conversion.
type Sample struct {
	// Time is the sample timestamp in Unix milliseconds.
	Time int64

	// Quality is the quality indicator in [0,1]. 0 means no valid data.
	Quality float64

	// Manual is the fraction of the sample's window that was manually
	// overridden, in [0,1].
	Manual float64

	// BaseValueCount is the number of primitive samples folded into
	// this one. Raw samples carry 1.
	BaseValueCount int64

	// Kind tags the payload interpretation of Bits.
	Kind DataType

	// Bits holds the payload: the two's complement representation for
	// long samples, the IEEE-754 representation for double samples.
	Bits uint64
}

// NewLong creates a long flavored sample.
func NewLong(time int64, quality, manual float64, baseValueCount, value int64) Sample {
	return Sample{
		Time:           time,
		Quality:        quality,
		Manual:         manual,
		BaseValueCount: baseValueCount,
		Kind:           DataTypeLong,
		Bits:           uint64(value),
	}
}

// NewDouble creates a double flavored sample.
func NewDouble(time int64, quality, manual float64, baseValueCount int64, value float64) Sample {
	return Sample{
		Time:           time,
		Quality:        quality,
		Manual:         manual,
		BaseValueCount: baseValueCount,
		Kind:           DataTypeDouble,
		Bits:           math.Float64bits(value),
	}
}

// LongValue returns the payload as a signed 64-bit integer. Double
// payloads are rounded half away from zero.
func (s Sample) LongValue() int64 {
	if s.Kind == DataTypeDouble {
		return int64(math.Round(math.Float64frombits(s.Bits)))
	}
	return int64(s.Bits)
}

// DoubleValue returns the payload as a 64-bit float. Long payloads are
// widened.
func (s Sample) DoubleValue() float64 {
	if s.Kind == DataTypeDouble {
		return math.Float64frombits(s.Bits)
	}
	return float64(int64(s.Bits))
}

// Convert returns the sample converted to the given data type. Long to
// double widens; double to long rounds half away from zero.
func (s Sample) Convert(kind DataType) Sample {
	if s.Kind == kind {
		return s
	}
	out := s
	out.Kind = kind
	switch kind {
	case DataTypeDouble:
		out.Bits = math.Float64bits(s.DoubleValue())
	case DataTypeLong:
		out.Bits = uint64(s.LongValue())
	}
	return out
}

// TimestampTime returns the sample time as a time.Time.
func (s Sample) TimestampTime() time.Time {
	return time.UnixMilli(s.Time)
}

// Equal reports field-wise equality.
func (s Sample) Equal(o Sample) bool {
	return s == o
}

// Before orders samples by time, ascending.
func (s Sample) Before(o Sample) bool {
	return s.Time < o.Time
}

// String returns a debug representation of the sample.
func (s Sample) String() string {
	switch s.Kind {
	case DataTypeDouble:
		return fmt.Sprintf("DOUBLE: %v (q: %v, m: %v, @: %d, t: %d)", s.DoubleValue(), s.Quality, s.Manual, s.BaseValueCount, s.Time)
	default:
		return fmt.Sprintf("LONG: %d (q: %v, m: %v, @: %d, t: %d)", s.LongValue(), s.Quality, s.Manual, s.BaseValueCount, s.Time)
	}
}

// SortSamples sorts samples ascending by time in place using insertion
// on mostly-sorted input. Batches arriving from field devices are
// nearly ordered already.
func SortSamples(samples []Sample) {
	for i := 1; i < len(samples); i++ {
		for j := i; j > 0 && samples[j].Time < samples[j-1].Time; j-- {
			samples[j], samples[j-1] = samples[j-1], samples[j]
		}
	}
}
