package replay

import (
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"rigidsync/broker/internal/logging"
)

func TestCleanerKeepsNewestArchives(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	//1.- Directory mtimes are all "now"; only the headers say which recording is oldest.
	seedArchive(t, root, "gear-pair-a", now.Add(-3*time.Hour), 64)
	seedArchive(t, root, "pulley-b", now.Add(-2*time.Hour), 32)
	seedArchive(t, root, "sphere-stack-c", now.Add(-time.Hour), 48)
	if err := os.MkdirAll(filepath.Join(root, "scratch"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}

	cleaner := NewCleaner(root, RetentionPolicy{MaxPackets: 2}, logging.NewTestLogger())
	cleaner.now = func() time.Time { return now }
	stats, err := cleaner.Sweep()
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}

	if got := rootEntries(t, root); len(got) != 3 || got[0] != "pulley-b" || got[1] != "scratch" || got[2] != "sphere-stack-c" {
		t.Fatalf("unexpected retained entries %v", got)
	}
	if stats.Packets != 2 || stats.Removed != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.Bytes <= 32+48 {
		t.Fatalf("expected packet and header bytes to be counted, got %d", stats.Bytes)
	}
	if cleaner.Stats() != stats {
		t.Fatalf("expected Stats to report the last sweep")
	}
}

func TestCleanerExpiresLoosePacketsAndBundlesByAge(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 3, 16, 9, 0, 0, 0, time.UTC)
	seedArchive(t, root, "session-a", now.Add(-72*time.Hour), 8)
	seedArchive(t, root, "session-b", now.Add(-time.Hour), 8)

	//1.- A loose packet without a header ages by modification time.
	loose := filepath.Join(root, "falling-sphere.json.zst")
	if err := os.WriteFile(loose, make([]byte, 16), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	old := now.Add(-48 * time.Hour)
	if err := os.Chtimes(loose, old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	//2.- A loose packet with a companion header ages by the header.
	fresh := filepath.Join(root, "pulley.json")
	if err := os.WriteFile(fresh, []byte(`{}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.Chtimes(fresh, old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	if err := WriteHeader(fresh+".header.json", Header{SchemaVersion: HeaderSchemaVersion, FilePointer: "pulley.json", CreatedAt: now.Add(-2 * time.Hour)}); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}

	cleaner := NewCleaner(root, RetentionPolicy{MaxAge: 36 * time.Hour, MaxPackets: 5}, logging.NewTestLogger())
	cleaner.now = func() time.Time { return now }
	cleaner.RunOnce()

	want := []string{"pulley.json", "pulley.json.header.json", "session-b"}
	got := rootEntries(t, root)
	if len(got) != len(want) {
		t.Fatalf("unexpected retained entries %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected retained entries %v", got)
		}
	}
	if stats := cleaner.Stats(); stats.Packets != 2 || stats.Removed != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestCleanerWithoutRootIsNoop(t *testing.T) {
	stats, err := NewCleaner("", RetentionPolicy{MaxPackets: 1}, logging.NewTestLogger()).Sweep()
	if err != nil || stats.Packets != 0 {
		t.Fatalf("expected empty root to be ignored, got %+v %v", stats, err)
	}
	if _, err := NewCleaner(filepath.Join(t.TempDir(), "missing"), RetentionPolicy{}, logging.NewTestLogger()).Sweep(); err == nil {
		t.Fatalf("expected missing root to fail")
	}
}

func seedArchive(t *testing.T, root, name string, recorded time.Time, packetBytes int) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, PacketFile), make([]byte, packetBytes), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	header := Header{SchemaVersion: HeaderSchemaVersion, FilePointer: ManifestFile, CreatedAt: recorded, Mode: Strict}
	if err := WriteHeader(filepath.Join(dir, HeaderFile), header); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
}

func rootEntries(t *testing.T, root string) []string {
	t.Helper()
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names
}
