package pipeline

import (
	"sort"
	"sync"
	"testing"

	"github.com/xtxerr/hsdb/internal/storage/calc"
	"github.com/xtxerr/hsdb/internal/storage/types"
)

// memBackEnd collects updates in memory; reads return the stored
// samples sorted ascending.
type memBackEnd struct {
	mu      sync.Mutex
	samples map[int64]types.Sample
}

func newMemBackEnd() *memBackEnd {
	return &memBackEnd{samples: make(map[int64]types.Sample)}
}

func (m *memBackEnd) Create(*types.Metadata) error     { return nil }
func (m *memBackEnd) Initialize(*types.Metadata) error { return nil }
func (m *memBackEnd) Metadata() (*types.Metadata, error) {
	return &types.Metadata{ConfigurationID: "mem", StartTime: 0, EndTime: 1 << 60}, nil
}
func (m *memBackEnd) Delete() error            { return nil }
func (m *memBackEnd) Deinitialize() error      { return nil }
func (m *memBackEnd) IsTimeSpanConstant() bool { return false }
func (m *memBackEnd) SetLock(*sync.RWMutex)    {}
func (m *memBackEnd) Lock() *sync.RWMutex      { return nil }

func (m *memBackEnd) Update(samples []types.Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range samples {
		m.samples[s.Time] = s
	}
	return nil
}

func (m *memBackEnd) GetValues(start, end int64) ([]types.Sample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Sample
	for _, s := range m.samples {
		if s.Time >= start && s.Time < end {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

func (m *memBackEnd) ordered() []types.Sample {
	out, _ := m.GetValues(-1<<62, 1<<62)
	return out
}

func TestPassThroughForwardsImmediately(t *testing.T) {
	out := newMemBackEnd()
	level := NewLevel(calc.New(types.MethodNative, types.DataTypeLong, types.DataTypeLong, nil), out)

	if err := level.UpdateLong(types.NewLong(10, 1, 0, 1, 5)); err != nil {
		t.Fatalf("UpdateLong: %v", err)
	}
	stored := out.ordered()
	if len(stored) != 1 || stored[0].Time != 10 {
		t.Fatalf("native sample not forwarded: %v", stored)
	}
}

func TestWindowedEmitsOnSlide(t *testing.T) {
	out := newMemBackEnd()
	level := NewLevel(calc.New(types.MethodAverage, types.DataTypeLong, types.DataTypeLong, []int64{100}), out)

	// Fill window [0,100); nothing emitted yet.
	if err := level.UpdateLongs([]types.Sample{
		types.NewLong(10, 1, 0, 1, 10),
		types.NewLong(60, 1, 0, 1, 20),
	}); err != nil {
		t.Fatalf("UpdateLongs: %v", err)
	}
	if got := out.ordered(); len(got) != 0 {
		t.Fatalf("window emitted early: %v", got)
	}

	// A sample past the window end triggers the emission.
	if err := level.UpdateLong(types.NewLong(120, 1, 0, 1, 30)); err != nil {
		t.Fatalf("UpdateLong: %v", err)
	}
	got := out.ordered()
	if len(got) != 1 {
		t.Fatalf("expected one aggregate, got %v", got)
	}
	if got[0].Time != 0 {
		t.Errorf("aggregate time: got %d, want 0", got[0].Time)
	}
	if got[0].BaseValueCount != 2 {
		t.Errorf("baseValueCount: got %d, want 2", got[0].BaseValueCount)
	}
}

func TestWindowedSkipsEmptyWindows(t *testing.T) {
	out := newMemBackEnd()
	level := NewLevel(calc.New(types.MethodMaximum, types.DataTypeLong, types.DataTypeLong, []int64{100}), out)

	if err := level.UpdateLong(types.NewLong(10, 1, 0, 1, 1)); err != nil {
		t.Fatalf("UpdateLong: %v", err)
	}
	// Jump four windows ahead.
	if err := level.UpdateLong(types.NewLong(450, 1, 0, 1, 2)); err != nil {
		t.Fatalf("UpdateLong: %v", err)
	}

	got := out.ordered()
	// Window [0,100) emits from its own data; the carried sample keeps
	// painting the state through the empty windows.
	if len(got) == 0 || got[0].Time != 0 {
		t.Fatalf("first aggregate missing: %v", got)
	}
	var emitted []int64
	for _, s := range got {
		emitted = append(emitted, s.Time)
	}
	for i := 1; i < len(emitted); i++ {
		if emitted[i] <= emitted[i-1] {
			t.Fatalf("aggregates not strictly ascending: %v", emitted)
		}
	}
}

func TestOrderingGuarantee(t *testing.T) {
	out := newMemBackEnd()
	level := NewLevel(calc.New(types.MethodAverage, types.DataTypeLong, types.DataTypeLong, []int64{100}), out)

	batches := [][]types.Sample{
		{types.NewLong(10, 1, 0, 1, 1)},
		{types.NewLong(110, 1, 0, 1, 2)},
		{types.NewLong(90, 1, 0, 1, 3)}, // late, behind the window
		{types.NewLong(210, 1, 0, 1, 4)},
		{types.NewLong(500, 1, 0, 1, 5)},
	}
	for _, b := range batches {
		if err := level.UpdateLongs(b); err != nil {
			t.Fatalf("UpdateLongs: %v", err)
		}
	}

	got := out.ordered()
	var last int64 = -1
	for _, s := range got {
		if s.Time <= last {
			t.Fatalf("emission order violated: %v", got)
		}
		last = s.Time
	}
}

func TestCarriedStateFeedsNextWindow(t *testing.T) {
	out := newMemBackEnd()
	level := NewLevel(calc.New(types.MethodAverage, types.DataTypeDouble, types.DataTypeDouble, []int64{100}), out)

	// One sample in window [0,100); nothing in [100,200); the carried
	// state must give window [100,200) full coverage with value 4.
	if err := level.UpdateDouble(types.NewDouble(0, 1, 0, 1, 4)); err != nil {
		t.Fatalf("UpdateDouble: %v", err)
	}
	if err := level.UpdateDouble(types.NewDouble(250, 1, 0, 1, 9)); err != nil {
		t.Fatalf("UpdateDouble: %v", err)
	}

	got := out.ordered()
	if len(got) < 2 {
		t.Fatalf("expected aggregates for two windows, got %v", got)
	}
	second := got[1]
	if second.Time != 100 {
		t.Fatalf("second window time: got %d", second.Time)
	}
	if second.DoubleValue() != 4 {
		t.Errorf("carried value: got %v, want 4", second.DoubleValue())
	}
	if second.Quality != 1 {
		t.Errorf("carried quality: got %v, want 1", second.Quality)
	}
}

func TestFlushEmitsPartialWindow(t *testing.T) {
	out := newMemBackEnd()
	level := NewLevel(calc.New(types.MethodAverage, types.DataTypeLong, types.DataTypeLong, []int64{100}), out)

	if err := level.UpdateLong(types.NewLong(10, 1, 0, 1, 7)); err != nil {
		t.Fatalf("UpdateLong: %v", err)
	}
	if err := level.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	got := out.ordered()
	if len(got) != 1 || got[0].Time != 0 {
		t.Fatalf("flush did not emit the partial window: %v", got)
	}
}

func TestGetValuesConverts(t *testing.T) {
	out := newMemBackEnd()
	level := NewLevel(calc.New(types.MethodNative, types.DataTypeLong, types.DataTypeLong, nil), out)
	if err := level.UpdateLong(types.NewLong(10, 1, 0, 1, 5)); err != nil {
		t.Fatalf("UpdateLong: %v", err)
	}
	values, err := level.GetDoubleValues(0, 100)
	if err != nil {
		t.Fatalf("GetDoubleValues: %v", err)
	}
	if len(values) != 1 || values[0].Kind != types.DataTypeDouble || values[0].DoubleValue() != 5.0 {
		t.Fatalf("conversion failed: %v", values)
	}
}
