package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/hsdb/internal/storage/backend"
	"github.com/xtxerr/hsdb/internal/storage/backend/file"
	"github.com/xtxerr/hsdb/internal/storage/types"
)

func archiveShard(t *testing.T) *file.BackEnd {
	t.Helper()
	meta := &types.Metadata{
		ConfigurationID: "arch",
		Method:          types.MethodNative,
		DetailLevelID:   0,
		StartTime:       0,
		EndTime:         1000,
		DataType:        types.DataTypeLong,
	}
	be, err := file.New(filepath.Join(t.TempDir(), "arch_0_NAT_a_b.va"), true)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := be.Create(meta); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := be.Initialize(nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { be.Deinitialize() })

	samples := []types.Sample{
		types.NewLong(100, 1, 0, 1, 10),
		types.NewLong(200, 0.5, 0.25, 2, 20),
		types.NewLong(300, 1, 0, 1, 30),
	}
	if err := be.Update(samples); err != nil {
		t.Fatalf("Update: %v", err)
	}
	return be
}

func TestExportChannel(t *testing.T) {
	be := archiveShard(t)
	dir := t.TempDir()
	w := NewWriter(dir, DefaultOptions())

	n, err := w.ExportChannel(be, 0, 1000)
	if err != nil {
		t.Fatalf("ExportChannel: %v", err)
	}
	if n != 3 {
		t.Fatalf("exported rows: got %d, want 3", n)
	}

	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("archive dir: %v entries=%d", err, len(entries))
	}

	rows, err := parquet.ReadFile[SampleRow](filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("read parquet: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows: got %d, want 3", len(rows))
	}
	second := rows[1]
	if second.TimestampMs != 200 || second.ValueLong != 20 || second.Quality != 0.5 || second.Manual != 0.25 || second.BaseValueCount != 2 {
		t.Errorf("row mismatch: %+v", second)
	}
	if second.ConfigurationID != "arch" || second.Method != "NAT" {
		t.Errorf("channel columns: %+v", second)
	}
}

func TestExportAllConcurrent(t *testing.T) {
	be := archiveShard(t)
	dir := t.TempDir()
	w := NewWriter(dir, Options{Compression: "snappy", Workers: 2})

	n, err := w.ExportAll([]backend.BackEnd{be}, 0, 1000)
	if err != nil {
		t.Fatalf("ExportAll: %v", err)
	}
	if n != 3 {
		t.Fatalf("total rows: got %d, want 3", n)
	}
}
