package channel

import (
	"testing"

	"github.com/xtxerr/hsdb/internal/storage/types"
)

// recordingChannel counts operations and echoes a fixed result.
type recordingChannel struct {
	updates  int
	cleanups int
	result   []types.Sample
}

func (c *recordingChannel) UpdateLong(types.Sample) error      { c.updates++; return nil }
func (c *recordingChannel) UpdateLongs([]types.Sample) error   { c.updates++; return nil }
func (c *recordingChannel) UpdateDouble(types.Sample) error    { c.updates++; return nil }
func (c *recordingChannel) UpdateDoubles([]types.Sample) error { c.updates++; return nil }
func (c *recordingChannel) CleanupRelicts() error              { c.cleanups++; return nil }
func (c *recordingChannel) GetLongValues(int64, int64) ([]types.Sample, error) {
	return c.result, nil
}
func (c *recordingChannel) GetDoubleValues(int64, int64) ([]types.Sample, error) {
	return c.result, nil
}

func TestBroadcast(t *testing.T) {
	r := NewRegistry()
	a := &recordingChannel{}
	b := &recordingChannel{}
	r.Register(a)
	r.Register(b)

	if err := r.UpdateLong(types.NewLong(1, 1, 0, 1, 1)); err != nil {
		t.Fatalf("UpdateLong: %v", err)
	}
	if err := r.UpdateDoubles([]types.Sample{types.NewDouble(2, 1, 0, 1, 2)}); err != nil {
		t.Fatalf("UpdateDoubles: %v", err)
	}
	if a.updates != 2 || b.updates != 2 {
		t.Errorf("updates: a=%d b=%d, want 2 each", a.updates, b.updates)
	}

	if err := r.CleanupRelicts(); err != nil {
		t.Fatalf("CleanupRelicts: %v", err)
	}
	if a.cleanups != 1 || b.cleanups != 1 {
		t.Errorf("cleanups: a=%d b=%d, want 1 each", a.cleanups, b.cleanups)
	}
}

func TestSingleChannelReadPassesThrough(t *testing.T) {
	r := NewRegistry()
	want := []types.Sample{types.NewLong(5, 1, 0, 1, 50)}
	r.Register(&recordingChannel{result: want})

	got, err := r.GetLongValues(0, 10)
	if err != nil {
		t.Fatalf("GetLongValues: %v", err)
	}
	if len(got) != 1 || !got[0].Equal(want[0]) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestMultiChannelReadConcatenates(t *testing.T) {
	r := NewRegistry()
	r.Register(&recordingChannel{result: []types.Sample{types.NewLong(1, 1, 0, 1, 1)}})
	r.Register(&recordingChannel{result: []types.Sample{types.NewLong(2, 1, 0, 1, 2)}})

	got, err := r.GetDoubleValues(0, 10)
	if err != nil {
		t.Fatalf("GetDoubleValues: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected concatenation of both channels, got %v", got)
	}
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()
	a := &recordingChannel{}
	r.Register(a)
	if r.Size() != 1 {
		t.Fatalf("size: got %d", r.Size())
	}
	r.Unregister(a)
	if r.Size() != 0 {
		t.Fatalf("size after unregister: got %d", r.Size())
	}
	if err := r.UpdateLong(types.NewLong(1, 1, 0, 1, 1)); err != nil {
		t.Fatalf("UpdateLong on empty registry: %v", err)
	}
	if a.updates != 0 {
		t.Error("unregistered channel still receives updates")
	}
}
