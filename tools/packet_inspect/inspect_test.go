package packetinspect

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"rigidsync/broker/internal/logging"
	"rigidsync/broker/internal/physics"
	"rigidsync/broker/internal/replay"
	"rigidsync/broker/internal/simulation"
)

func recordArchive(t *testing.T) (string, *replay.Packet) {
	t.Helper()
	clock := func() time.Time { return time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC) }
	m := simulation.NewManager(
		simulation.WithLogger(logging.NewTestLogger()),
		simulation.WithClock(clock),
		simulation.WithArchiveRoot(t.TempDir()),
	)
	t.Cleanup(func() { _ = m.Close() })
	session, err := m.Create(simulation.SessionConfig{Scene: "falling-sphere", CheckpointEvery: 10, Seed: 7})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	v, point := physics.V3(1, 0, 0), physics.V3(0, 0, 0)
	if _, err := session.Enqueue(replay.Op{Op: replay.OpApplyImpulse, Body: 2, Vector: &v, Point: &point}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := session.Advance(25); err != nil {
		t.Fatalf("advance: %v", err)
	}
	sealed, err := m.Seal(session.ID())
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	return sealed.ArchiveDir, sealed.Packet
}

func TestInspectArchive(t *testing.T) {
	dir, packet := recordArchive(t)

	report, err := Inspect(dir)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if !report.Consistent() {
		t.Fatalf("expected consistent archive, problems: %v", report.Problems)
	}
	if report.Manifest == nil || report.Header == nil {
		t.Fatalf("expected manifest and header in report")
	}
	summary := report.Packet
	if summary.Scene != "falling-sphere" || summary.Seed != 7 || summary.Mode != replay.Strict {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.LastStep != packet.LastStep() || summary.Ops != 1 || summary.OpsByKind[replay.OpApplyImpulse] != 1 {
		t.Fatalf("unexpected op accounting %+v", summary)
	}
	if summary.Bodies != 2 || summary.Checkpoints != len(packet.Checkpoints) {
		t.Fatalf("unexpected baseline accounting %+v", summary)
	}
	if report.InputLines != len(packet.Inputs) || report.Header.PacketSHA256 != report.SHA256 {
		t.Fatalf("unexpected stream or digest %+v", report)
	}
}

func TestInspectFlagsHeaderDrift(t *testing.T) {
	dir, _ := recordArchive(t)
	headerPath := filepath.Join(dir, replay.HeaderFile)
	header, err := replay.ReadHeader(headerPath)
	if err != nil {
		t.Fatalf("ReadHeader: %v", err)
	}
	//1.- A header that no longer matches its packet is reported, not fatal.
	header.LastStep += 100
	header.PacketSHA256 = "00"
	if err := replay.WriteHeader(headerPath, header); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	report, err := Inspect(dir)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if len(report.Problems) != 2 {
		t.Fatalf("expected two header problems, got %v", report.Problems)
	}

	//2.- A missing op stream is a problem too.
	if err := os.Remove(filepath.Join(dir, replay.InputsFile)); err != nil {
		t.Fatalf("remove inputs: %v", err)
	}
	report, err = Inspect(dir)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if len(report.Problems) != 3 {
		t.Fatalf("expected input stream problem, got %v", report.Problems)
	}
}

func TestInspectPlainPacketFile(t *testing.T) {
	_, packet := recordArchive(t)
	raw, err := packet.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	path := filepath.Join(t.TempDir(), "run.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write packet: %v", err)
	}
	report, err := Inspect(path)
	if err != nil {
		t.Fatalf("Inspect: %v", err)
	}
	if report.Manifest != nil || report.Header != nil || !report.Consistent() {
		t.Fatalf("plain packets carry no archive metadata: %+v", report)
	}
	if report.Packet.Frames != len(packet.Inputs) {
		t.Fatalf("unexpected frame count %d", report.Packet.Frames)
	}

	if err := os.WriteFile(path, []byte(`{"magic":"NOPE"}`), 0o644); err != nil {
		t.Fatalf("write packet: %v", err)
	}
	if _, err := Inspect(path); err == nil {
		t.Fatalf("expected malformed packet to fail")
	}
}
