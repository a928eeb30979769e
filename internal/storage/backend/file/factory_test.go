package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/xtxerr/hsdb/internal/storage/types"
)

func TestEncodeDecodeFileNamePart(t *testing.T) {
	cases := []string{
		"plain",
		"with space",
		"under_score",
		"per%cent",
		"umlaut-äöü",
		"slash/colon:",
	}
	for _, raw := range cases {
		encoded := EncodeFileNamePart(raw)
		if filepath.Base(encoded) != encoded {
			t.Errorf("%q: encoded form %q contains a path separator", raw, encoded)
		}
		if decoded := DecodeFileNamePart(encoded); decoded != raw {
			t.Errorf("%q: round trip gave %q via %q", raw, decoded, encoded)
		}
	}
}

func TestEncodeTimePart(t *testing.T) {
	// 2001-09-09 01:46:40.000 UTC
	got := EncodeTimePart(1000000000000)
	want := "20010909.014640.000.0"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestGenerateAndParseFileName(t *testing.T) {
	fa := NewFactory("/data", 1)
	meta := &types.Metadata{
		ConfigurationID: "my_channel",
		Method:          types.MethodAverage,
		DetailLevelID:   2,
		StartTime:       0,
		EndTime:         3600000,
		DataType:        types.DataTypeLong,
	}
	path := fa.GenerateFileName(meta)
	if filepath.Ext(path) != ".va" {
		t.Fatalf("unexpected extension in %q", path)
	}

	claims, ok := parseFileName(filepath.Base(path))
	if !ok {
		t.Fatalf("generated name %q does not parse", filepath.Base(path))
	}
	if claims.configID != EncodeFileNamePart("my_channel") {
		t.Errorf("config: got %q", claims.configID)
	}
	if claims.detailLevelID != 2 {
		t.Errorf("level: got %d", claims.detailLevelID)
	}
	if claims.method != types.MethodAverage {
		t.Errorf("method: got %v", claims.method)
	}
}

func discoverySetup(t *testing.T) (*Factory, *types.Metadata) {
	t.Helper()
	fa := NewFactory(t.TempDir(), 1)
	meta := &types.Metadata{
		ConfigurationID: "disc",
		Method:          types.MethodNative,
		DetailLevelID:   0,
		StartTime:       0,
		EndTime:         1000,
		ProposedDataAge: 5000,
		DataType:        types.DataTypeLong,
	}
	return fa, meta
}

func createShard(t *testing.T, fa *Factory, meta *types.Metadata) {
	t.Helper()
	be, err := fa.CreateNewBackEnd(meta)
	if err != nil {
		t.Fatalf("CreateNewBackEnd: %v", err)
	}
	if err := be.Create(meta); err != nil {
		t.Fatalf("Create: %v", err)
	}
}

func TestDiscovery(t *testing.T) {
	fa, meta := discoverySetup(t)

	second := meta.Clone()
	second.StartTime, second.EndTime = 1000, 2000
	createShard(t, fa, meta)
	createShard(t, fa, second)

	backEnds, err := fa.GetExistingBackEnds("disc", 0, types.MethodNative)
	if err != nil {
		t.Fatalf("GetExistingBackEnds: %v", err)
	}
	if len(backEnds) != 2 {
		t.Fatalf("expected 2 back ends, got %d", len(backEnds))
	}

	// Sorted by end time descending.
	for i, wantEnd := range []int64{2000, 1000} {
		if err := backEnds[i].Initialize(nil); err != nil {
			t.Fatalf("Initialize %d: %v", i, err)
		}
		got, err := backEnds[i].Metadata()
		if err != nil {
			t.Fatalf("Metadata %d: %v", i, err)
		}
		if got.EndTime != wantEnd {
			t.Errorf("back end %d: end %d, want %d", i, got.EndTime, wantEnd)
		}
		backEnds[i].Deinitialize()
	}
}

func TestDiscoveryIgnoresMismatchedName(t *testing.T) {
	fa, meta := discoverySetup(t)
	createShard(t, fa, meta)

	// Rename the shard so its name claims another detail level.
	dir := filepath.Join(fa.FileRoot(), "disc")
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("setup: %v", err)
	}
	old := filepath.Join(dir, entries[0].Name())
	lied := filepath.Join(dir, "disc_1_NAT_x_y.va")
	if err := os.Rename(old, lied); err != nil {
		t.Fatalf("rename: %v", err)
	}

	backEnds, err := fa.GetExistingBackEnds("disc", 1, types.MethodNative)
	if err != nil {
		t.Fatalf("GetExistingBackEnds: %v", err)
	}
	if len(backEnds) != 0 {
		t.Fatalf("expected mismatched file to be ignored, got %d back ends", len(backEnds))
	}
}

func TestDiscoveryIgnoresCorruptHeader(t *testing.T) {
	fa, meta := discoverySetup(t)
	createShard(t, fa, meta)

	dir := filepath.Join(fa.FileRoot(), "disc")
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) != 1 {
		t.Fatalf("setup: %v", err)
	}
	flipBit(t, filepath.Join(dir, entries[0].Name()), 20)

	backEnds, err := fa.GetExistingBackEnds("disc", 0, types.MethodNative)
	if err != nil {
		t.Fatalf("GetExistingBackEnds: %v", err)
	}
	if len(backEnds) != 0 {
		t.Fatalf("expected corrupt file to be ignored, got %d back ends", len(backEnds))
	}
}

func TestMetaDataMerge(t *testing.T) {
	fa, meta := discoverySetup(t)
	second := meta.Clone()
	second.StartTime, second.EndTime = 1000, 2000
	second.ProposedDataAge = 9999
	createShard(t, fa, meta)
	createShard(t, fa, second)

	merged, err := fa.GetExistingBackEndsMetaData("disc", true)
	if err != nil {
		t.Fatalf("GetExistingBackEndsMetaData: %v", err)
	}
	if len(merged) != 1 {
		t.Fatalf("expected 1 merged entry, got %d", len(merged))
	}
	got := merged[0]
	if got.StartTime != 0 || got.EndTime != 2000 {
		t.Errorf("span: got [%d,%d), want [0,2000)", got.StartTime, got.EndTime)
	}
	// Non-span fields come from the entry with the latest end time.
	if got.ProposedDataAge != 9999 {
		t.Errorf("proposedDataAge: got %d, want 9999", got.ProposedDataAge)
	}

	plain, err := fa.GetExistingBackEndsMetaData("disc", false)
	if err != nil {
		t.Fatalf("unmerged: %v", err)
	}
	if len(plain) != 2 {
		t.Errorf("expected 2 unmerged entries, got %d", len(plain))
	}
}

func TestDeleteBackEnds(t *testing.T) {
	fa, meta := discoverySetup(t)
	createShard(t, fa, meta)

	if err := fa.DeleteBackEnds("disc"); err != nil {
		t.Fatalf("DeleteBackEnds: %v", err)
	}
	if _, err := os.Stat(filepath.Join(fa.FileRoot(), "disc")); !os.IsNotExist(err) {
		t.Error("configuration directory still exists")
	}
}
