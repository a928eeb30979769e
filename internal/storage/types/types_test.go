package types

import (
	"math"
	"testing"
)

func TestSampleRoundTrip(t *testing.T) {
	l := NewLong(100, 1, 0, 1, -42)
	if l.LongValue() != -42 {
		t.Errorf("LongValue: got %d, want -42", l.LongValue())
	}
	if l.DoubleValue() != -42.0 {
		t.Errorf("DoubleValue: got %v, want -42", l.DoubleValue())
	}

	d := NewDouble(200, 0.5, 0.25, 3, 2.75)
	if d.DoubleValue() != 2.75 {
		t.Errorf("DoubleValue: got %v, want 2.75", d.DoubleValue())
	}
}

func TestSampleConvert(t *testing.T) {
	cases := []struct {
		name string
		in   Sample
		kind DataType
		want int64
	}{
		{"double half up", NewDouble(0, 1, 0, 1, 2.5), DataTypeLong, 3},
		{"double half down", NewDouble(0, 1, 0, 1, -2.5), DataTypeLong, -3},
		{"double truncating", NewDouble(0, 1, 0, 1, 1.4), DataTypeLong, 1},
		{"long identity", NewLong(0, 1, 0, 1, 7), DataTypeLong, 7},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.in.Convert(tc.kind)
			if got.Kind != tc.kind {
				t.Fatalf("kind: got %v, want %v", got.Kind, tc.kind)
			}
			if got.LongValue() != tc.want {
				t.Errorf("value: got %d, want %d", got.LongValue(), tc.want)
			}
		})
	}

	widened := NewLong(0, 1, 0, 1, 9).Convert(DataTypeDouble)
	if widened.DoubleValue() != 9.0 {
		t.Errorf("widened: got %v, want 9", widened.DoubleValue())
	}
}

func TestSampleEqual(t *testing.T) {
	a := NewLong(1, 0.5, 0, 2, 10)
	b := NewLong(1, 0.5, 0, 2, 10)
	if !a.Equal(b) {
		t.Error("identical samples not equal")
	}
	b.Quality = 0.6
	if a.Equal(b) {
		t.Error("differing quality still equal")
	}
}

func TestSampleNaNPayload(t *testing.T) {
	s := NewDouble(0, 0, 0, 0, math.NaN())
	if !math.IsNaN(s.DoubleValue()) {
		t.Error("NaN payload not preserved")
	}
}

func TestSortSamples(t *testing.T) {
	samples := []Sample{
		NewLong(300, 1, 0, 1, 3),
		NewLong(100, 1, 0, 1, 1),
		NewLong(200, 1, 0, 1, 2),
	}
	SortSamples(samples)
	for i, want := range []int64{100, 200, 300} {
		if samples[i].Time != want {
			t.Errorf("index %d: got time %d, want %d", i, samples[i].Time, want)
		}
	}
}

func TestMethodCodes(t *testing.T) {
	cases := []struct {
		method CalculationMethod
		id     int64
		short  string
	}{
		{MethodNative, 0, "NAT"},
		{MethodAverage, 1, "AVG"},
		{MethodMinimum, 2, "MIN"},
		{MethodMaximum, 3, "MAX"},
		{MethodUnknown, -1, "UNK"},
	}
	for _, tc := range cases {
		if got := tc.method.ID(); got != tc.id {
			t.Errorf("%v: id %d, want %d", tc.method, got, tc.id)
		}
		if got := tc.method.ShortString(); got != tc.short {
			t.Errorf("%v: short %q, want %q", tc.method, got, tc.short)
		}
		if got := ParseMethodID(tc.id); got != tc.method {
			t.Errorf("ParseMethodID(%d): got %v, want %v", tc.id, got, tc.method)
		}
		if got := ParseMethodShortString(tc.short); got != tc.method {
			t.Errorf("ParseMethodShortString(%q): got %v, want %v", tc.short, got, tc.method)
		}
	}
}

func TestMetadataValidate(t *testing.T) {
	meta := &Metadata{
		ConfigurationID: "channel-a",
		Method:          MethodNative,
		DetailLevelID:   0,
		StartTime:       0,
		EndTime:         1000,
		DataType:        DataTypeLong,
	}
	if err := meta.Validate(); err != nil {
		t.Fatalf("valid metadata rejected: %v", err)
	}

	bad := meta.Clone()
	bad.StartTime, bad.EndTime = 1000, 1000
	if err := bad.Validate(); err == nil {
		t.Error("startTime >= endTime accepted")
	}

	bad = meta.Clone()
	bad.ConfigurationID = ""
	if err := bad.Validate(); err == nil {
		t.Error("empty configuration id accepted")
	}
}

func TestMetadataClone(t *testing.T) {
	meta := &Metadata{
		ConfigurationID:  "c",
		Method:           MethodAverage,
		MethodParameters: []int64{60000},
		StartTime:        0,
		EndTime:          10,
	}
	clone := meta.Clone()
	clone.MethodParameters[0] = 1
	if meta.MethodParameters[0] != 60000 {
		t.Error("clone shares parameter slice")
	}
}
