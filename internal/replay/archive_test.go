package replay

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestArchiveRoundTrip(t *testing.T) {
	root := t.TempDir()
	p := smallPacket(t)
	dir, err := Archive(root, "Session #7", p, fixedClock)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if filepath.Base(dir) != "Session7-20260504T103000Z" {
		t.Fatalf("unexpected archive directory %s", dir)
	}

	//1.- The packet loads back from the directory and from the compressed file directly.
	for _, path := range []string{dir, filepath.Join(dir, PacketFile)} {
		loaded, err := LoadPacket(path)
		if err != nil {
			t.Fatalf("load %s: %v", path, err)
		}
		if loaded.OpCount() != p.OpCount() || loaded.LastStep() != p.LastStep() || loaded.InitialSnapshotB64 != p.InitialSnapshotB64 {
			t.Fatalf("archived packet differs")
		}
	}

	//2.- The op stream mirrors the packet inputs.
	inputs, err := LoadInputs(dir)
	if err != nil {
		t.Fatalf("load inputs: %v", err)
	}
	var steps []uint32
	if err := inputs.Replay(func(frame InputFrame) error {
		steps = append(steps, frame.Step)
		return nil
	}); err != nil {
		t.Fatalf("replay inputs: %v", err)
	}
	if len(steps) != len(p.Inputs) || steps[0] != p.Inputs[0].Step {
		t.Fatalf("unexpected input steps %v", steps)
	}

	//3.- Header and manifest describe the bundle.
	header, err := ReadHeader(filepath.Join(dir, HeaderFile))
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if header.Scene != "falling-sphere" || header.Backend != "impulse" || header.Mode != Strict || header.Seed != 42 {
		t.Fatalf("unexpected header %+v", header)
	}
	if header.LastStep != 10 || header.Ops != 1 || len(header.PacketSHA256) != 64 {
		t.Fatalf("unexpected header counters %+v", header)
	}
	raw, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		t.Fatalf("decode manifest: %v", err)
	}
	if manifest.PacketPath != PacketFile || manifest.InputsPath != InputsFile {
		t.Fatalf("unexpected manifest %+v", manifest)
	}
}

func TestLoadPacketReadsPlainJSON(t *testing.T) {
	p := smallPacket(t)
	raw, err := p.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	path := filepath.Join(t.TempDir(), "packet.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	loaded, err := LoadPacket(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Backend != p.Backend {
		t.Fatalf("unexpected backend %q", loaded.Backend)
	}
}

func TestHeaderValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), HeaderFile)
	if err := WriteHeader(path, Header{SchemaVersion: HeaderSchemaVersion}); err == nil || !strings.Contains(err.Error(), "file_pointer") {
		t.Fatalf("expected missing file pointer to be rejected, got %v", err)
	}
	if err := WriteHeader(path, Header{SchemaVersion: HeaderSchemaVersion, FilePointer: ManifestFile, Mode: "LOOSE"}); err == nil {
		t.Fatalf("expected unknown mode to be rejected")
	}
}
