package replaycatalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"rigidsync/broker/internal/replay"
)

func writeArchiveHeader(t *testing.T, root, name string, header replay.Header) string {
	t.Helper()
	dir := filepath.Join(root, name)
	header.SchemaVersion = replay.HeaderSchemaVersion
	header.FilePointer = replay.ManifestFile
	if err := replay.WriteHeader(filepath.Join(dir, replay.HeaderFile), header); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	return dir
}

func TestListOrdersByCreation(t *testing.T) {
	root := t.TempDir()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	late := writeArchiveHeader(t, root, "b-late", replay.Header{Scene: "pulley", Mode: replay.Strict, CreatedAt: base.Add(time.Minute), LastStep: 90})
	early := writeArchiveHeader(t, root, "a-early", replay.Header{Scene: "gear-pair", Mode: replay.Behavioural, CreatedAt: base, PacketSHA256: "abcdef0123456789"})
	//1.- Stray files next to the archives are ignored.
	if err := os.WriteFile(filepath.Join(root, "notes.json"), []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write stray file: %v", err)
	}

	entries, err := List(root)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected two entries, got %d", len(entries))
	}
	if entries[0].ArchiveDir != early || entries[1].ArchiveDir != late {
		t.Fatalf("unexpected order %q, %q", entries[0].ArchiveDir, entries[1].ArchiveDir)
	}
	if entries[1].Header.LastStep != 90 || entries[1].HeaderPath != filepath.Join(late, replay.HeaderFile) {
		t.Fatalf("unexpected entry %+v", entries[1])
	}

	if found, ok := FindDigest(entries, "ABCDEF01"); !ok || found.ArchiveDir != early {
		t.Fatalf("expected digest prefix lookup to find the early archive")
	}
	if _, ok := FindDigest(entries, "abc"); ok {
		t.Fatalf("expected short digest prefix to be refused")
	}

	payload, err := MarshalEntries(entries)
	if err != nil {
		t.Fatalf("MarshalEntries: %v", err)
	}
	if len(payload) == 0 {
		t.Fatalf("expected JSON payload to be non-empty")
	}
}

func TestSearchFiltersByMode(t *testing.T) {
	root := t.TempDir()
	writeArchiveHeader(t, root, "strict", replay.Header{Scene: "pulley", Backend: "impulse", Mode: replay.Strict})
	writeArchiveHeader(t, root, "behavioural", replay.Header{Scene: "pulley", Backend: "xpbd", Mode: replay.Behavioural})

	entries, err := Search(root, Query{Mode: replay.Behavioural})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(entries) != 1 || entries[0].Header.Backend != "xpbd" {
		t.Fatalf("unexpected filtered entries %+v", entries)
	}
	entries, err = Search(root, Query{Scene: "gear-pair"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no gear-pair archives, got %d", len(entries))
	}
}

func TestListRejectsBadRoot(t *testing.T) {
	if _, err := List(""); err == nil {
		t.Fatalf("expected empty root to fail")
	}
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := List(file); err == nil {
		t.Fatalf("expected file root to fail")
	}
}
