package replay

import (
	"encoding/json"
	"errors"
	"testing"

	"rigidsync/broker/internal/physics"
)

func smallPacket(t *testing.T) *Packet {
	t.Helper()
	rec := newRecorder(t, newWorld(t, "impulse", "deterministic"), "falling-sphere", Strict)
	if err := rec.ApplyImpulse(rec.BodyIDs()[1], physics.V3(0, 1, 0), physics.V3(0, 5, 0)); err != nil {
		t.Fatalf("impulse: %v", err)
	}
	advance(t, rec, 10)
	p, err := rec.BuildPacket()
	if err != nil {
		t.Fatalf("build packet: %v", err)
	}
	return p
}

func mutateJSON(t *testing.T, p *Packet, edit func(doc map[string]any)) []byte {
	t.Helper()
	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	edit(doc)
	out, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("remarshal: %v", err)
	}
	return out
}

func TestDecodePacketAcceptsRecorderOutput(t *testing.T) {
	p := smallPacket(t)
	raw, err := p.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodePacket(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	//1.- Scene params survive the protojson detour.
	if decoded.Scene.Name != "falling-sphere" || decoded.Scene.Params.GetFields()["height"].GetNumberValue() != 5 {
		t.Fatalf("scene lost in transit: %+v", decoded.Scene)
	}
	if decoded.Inputs[0].Ops[0].Op != OpApplyImpulse || decoded.Checkpoints[0] != p.Checkpoints[0] {
		t.Fatalf("unexpected decoded packet %+v", decoded)
	}
	if result := runnerFor(t, decoded, Options{}).Run(); !result.Success {
		t.Fatalf("decoded packet failed to replay: %v", result.Err)
	}
}

func TestDecodePacketRejectsBadFraming(t *testing.T) {
	p := smallPacket(t)
	cases := map[string]func(doc map[string]any){
		"magic":         func(doc map[string]any) { doc["magic"] = "RPKX" },
		"version":       func(doc map[string]any) { doc["formatVersion"] = 2 },
		"mode":          func(doc map[string]any) { doc["validationMode"] = "strict" },
		"missing field": func(doc map[string]any) { delete(doc, "initialSnapshotB64") },
		"timestep":      func(doc map[string]any) { doc["worldConfig"].(map[string]any)["fixedTimeStep"] = 0 },
		"hash":          func(doc map[string]any) { doc["checkpoints"].([]any)[0].(map[string]any)["sha256"] = "abc" },
		"base64":        func(doc map[string]any) { doc["initialSnapshotB64"] = "!!not-base64!!" },
		"unknown op": func(doc map[string]any) {
			doc["inputs"].([]any)[0].(map[string]any)["ops"].([]any)[0].(map[string]any)["op"] = "explode"
		},
		"op missing arg": func(doc map[string]any) {
			delete(doc["inputs"].([]any)[0].(map[string]any)["ops"].([]any)[0].(map[string]any), "vector")
		},
		"checkpoint order": func(doc map[string]any) {
			cps := doc["checkpoints"].([]any)
			doc["checkpoints"] = append(cps, cps[0])
		},
		"input order": func(doc map[string]any) {
			inputs := doc["inputs"].([]any)
			doc["inputs"] = append(inputs, inputs[0])
		},
	}
	for name, edit := range cases {
		if _, err := DecodePacket(mutateJSON(t, p, edit)); !errors.Is(err, ErrPacketFraming) {
			t.Fatalf("%s: expected ErrPacketFraming, got %v", name, err)
		}
	}
	if _, err := DecodePacket([]byte("{")); !errors.Is(err, ErrPacketFraming) {
		t.Fatalf("truncated json: expected ErrPacketFraming, got %v", err)
	}
}

func TestRunnerRejectsCorruptBaseline(t *testing.T) {
	p := smallPacket(t)
	p.InitialSnapshotB64 = "UkJJTQ=="
	runner, err := NewRunner(p, Options{})
	if err != nil {
		t.Fatalf("framing should pass for valid base64: %v", err)
	}
	if result := runner.Run(); !errors.Is(result.Err, ErrPacketFraming) {
		t.Fatalf("expected ErrPacketFraming for a truncated baseline, got %v", result.Err)
	}
}
