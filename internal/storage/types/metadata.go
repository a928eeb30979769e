package types

import (
	"fmt"
	"slices"
)

// Metadata describes one storage channel: a logical stream at one
// detail level under one calculation method, bounded to a time span.
// Every shard file persists a copy of its channel's metadata in the
// file header.
type Metadata struct {
	// ConfigurationID identifies the logical stream.
	ConfigurationID string

	// Method is the reduction function of the channel's detail level.
	Method CalculationMethod

	// MethodParameters further specify the calculation method. The
	// first parameter of a non-native method is the required time span
	// of its calculation window in milliseconds.
	MethodParameters []int64

	// DetailLevelID is the rung in the aggregation pipeline. 0 is raw.
	DetailLevelID int64

	// StartTime and EndTime bound the covered time span in Unix
	// milliseconds. StartTime is inclusive, EndTime exclusive.
	StartTime int64
	EndTime   int64

	// ProposedDataAge is the retention target in milliseconds.
	ProposedDataAge int64

	// AcceptedTimeDelta is the tolerance for merging in milliseconds.
	// The engine carries it as metadata only.
	AcceptedTimeDelta int64

	// DataType is the payload type of the channel's samples.
	DataType DataType
}

// Clone returns a deep copy. Sub-components receive defensive clones
// so a caller cannot mutate a shard's view of its own metadata.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}
	out := *m
	out.MethodParameters = slices.Clone(m.MethodParameters)
	return &out
}

// Validate checks the invariants every channel metadata must satisfy.
func (m *Metadata) Validate() error {
	if m == nil {
		return fmt.Errorf("metadata is nil")
	}
	if m.ConfigurationID == "" {
		return fmt.Errorf("configuration id is empty")
	}
	if m.StartTime >= m.EndTime {
		return fmt.Errorf("invalid timespan (startTime %d >= endTime %d)", m.StartTime, m.EndTime)
	}
	if m.DetailLevelID < 0 {
		return fmt.Errorf("negative detail level id %d", m.DetailLevelID)
	}
	return nil
}

// Contains reports whether the given instant falls into the covered
// span.
func (m *Metadata) Contains(time int64) bool {
	return time >= m.StartTime && time < m.EndTime
}

// RequiredTimespan returns the calculation window in milliseconds, or
// 0 when the method has no windowed calculation (native, unknown, or
// missing parameters).
func (m *Metadata) RequiredTimespan() int64 {
	if m.Method == MethodNative || m.Method == MethodUnknown {
		return 0
	}
	if len(m.MethodParameters) == 0 {
		return 0
	}
	return m.MethodParameters[0]
}

// String returns a debug representation of the metadata.
func (m *Metadata) String() string {
	if m == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s/%d/%s [%d,%d) %s", m.ConfigurationID, m.DetailLevelID, m.Method.ShortString(), m.StartTime, m.EndTime, m.DataType)
}
