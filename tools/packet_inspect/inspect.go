package packetinspect

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"rigidsync/broker/internal/replay"
	"rigidsync/broker/internal/scene"
)

// PacketSummary condenses a decoded packet for display.
type PacketSummary struct {
	Magic         string                `json:"magic"`
	FormatVersion int                   `json:"format_version"`
	EngineVersion string                `json:"engine_version"`
	Backend       string                `json:"backend"`
	Profile       string                `json:"profile"`
	Deterministic bool                  `json:"deterministic"`
	Threads       int                   `json:"threads"`
	Scene         string                `json:"scene"`
	Params        json.RawMessage       `json:"params"`
	Mode          replay.Mode           `json:"mode"`
	Seed          uint64                `json:"seed"`
	FixedTimeStep float64               `json:"fixed_time_step"`
	MaxSubSteps   int                   `json:"max_sub_steps"`
	LastStep      uint32                `json:"last_step"`
	Frames        int                   `json:"frames"`
	Ops           int                   `json:"ops"`
	OpsByKind     map[replay.OpKind]int `json:"ops_by_kind"`
	Checkpoints   int                   `json:"checkpoints"`
	Bodies        int                   `json:"bodies"`
	Constraints   int                   `json:"constraints"`
	Rigs          int                   `json:"rigs"`
}

// Report is everything Inspect learned about a packet or an archive directory. Problems lists
// disagreements between the archive artefacts; an empty list means they are consistent.
type Report struct {
	Path       string           `json:"path"`
	Manifest   *replay.Manifest `json:"manifest,omitempty"`
	Header     *replay.Header   `json:"header,omitempty"`
	SHA256     string           `json:"sha256"`
	Packet     PacketSummary    `json:"packet"`
	InputLines int              `json:"input_lines"`
	Problems   []string         `json:"problems,omitempty"`
}

// Consistent reports whether no cross-check failed.
func (r Report) Consistent() bool { return len(r.Problems) == 0 }

// Inspect reads an archive directory or a standalone packet file.
func Inspect(path string) (Report, error) {
	if path == "" {
		return Report{}, fmt.Errorf("path is required")
	}
	info, err := os.Stat(path)
	if err != nil {
		return Report{}, err
	}
	if !info.IsDir() {
		return inspectFile(path)
	}
	return inspectArchive(path)
}

func inspectFile(path string) (Report, error) {
	raw, err := replay.ReadPacketBytes(path)
	if err != nil {
		return Report{}, err
	}
	report := Report{Path: path}
	p, err := decode(raw, &report)
	if err != nil {
		return Report{}, err
	}
	report.InputLines = len(p.Inputs)
	return report, nil
}

func inspectArchive(dir string) (Report, error) {
	report := Report{Path: dir}

	//1.- The manifest locates the artefacts; older bundles without one use the default names.
	manifest := replay.Manifest{Version: 1, PacketPath: replay.PacketFile, InputsPath: replay.InputsFile}
	data, err := os.ReadFile(filepath.Join(dir, replay.ManifestFile))
	switch {
	case err == nil:
		if err := json.Unmarshal(data, &manifest); err != nil {
			return Report{}, fmt.Errorf("manifest: %w", err)
		}
		if manifest.Version != 1 {
			return Report{}, fmt.Errorf("unsupported manifest version %d", manifest.Version)
		}
		report.Manifest = &manifest
	case errors.Is(err, fs.ErrNotExist):
		report.Problems = append(report.Problems, "manifest.json missing")
	default:
		return Report{}, err
	}

	raw, err := replay.ReadPacketBytes(filepath.Join(dir, manifest.PacketPath))
	if err != nil {
		return Report{}, err
	}
	p, err := decode(raw, &report)
	if err != nil {
		return Report{}, err
	}

	//2.- The header is written last, so a crash mid-archive leaves it absent.
	header, err := replay.ReadHeader(filepath.Join(dir, replay.HeaderFile))
	switch {
	case err == nil:
		report.Header = &header
		report.Problems = append(report.Problems, compareHeader(header, p, report.SHA256)...)
	case errors.Is(err, fs.ErrNotExist):
		report.Problems = append(report.Problems, "header.json missing")
	default:
		report.Problems = append(report.Problems, fmt.Sprintf("header.json unreadable: %v", err))
	}

	//3.- The streamed op log must carry exactly the packet's frames.
	if manifest.InputsPath != "" {
		log, err := replay.LoadInputs(dir)
		if err != nil {
			report.Problems = append(report.Problems, fmt.Sprintf("input stream unreadable: %v", err))
		} else {
			frames := log.Frames()
			report.InputLines = len(frames)
			report.Problems = append(report.Problems, compareInputs(frames, p.Inputs)...)
		}
	}
	return report, nil
}

func decode(raw []byte, report *Report) (*replay.Packet, error) {
	sum := sha256.Sum256(raw)
	report.SHA256 = hex.EncodeToString(sum[:])
	p, err := replay.DecodePacket(raw)
	if err != nil {
		return nil, err
	}
	summary, err := summarize(p)
	if err != nil {
		return nil, err
	}
	report.Packet = summary
	return p, nil
}

func summarize(p *replay.Packet) (PacketSummary, error) {
	params, err := scene.MarshalParams(p.Scene.Params)
	if err != nil {
		return PacketSummary{}, err
	}
	summary := PacketSummary{
		Magic:         p.Magic,
		FormatVersion: p.FormatVersion,
		EngineVersion: p.EngineVersion,
		Backend:       p.Backend,
		Profile:       p.Tuning.Profile,
		Deterministic: p.Tuning.Deterministic,
		Threads:       p.Tuning.Threads,
		Scene:         p.Scene.Name,
		Params:        params,
		Mode:          p.ValidationMode,
		Seed:          p.Seed,
		FixedTimeStep: p.WorldConfig.FixedTimeStep,
		MaxSubSteps:   p.WorldConfig.MaxSubSteps,
		LastStep:      p.LastStep(),
		Frames:        len(p.Inputs),
		Ops:           p.OpCount(),
		OpsByKind:     make(map[replay.OpKind]int),
		Checkpoints:   len(p.Checkpoints),
	}
	for _, frame := range p.Inputs {
		for _, op := range frame.Ops {
			summary.OpsByKind[op.Op]++
		}
	}
	ws, err := p.InitialState()
	if err != nil {
		return PacketSummary{}, err
	}
	summary.Bodies = len(ws.Bodies)
	summary.Constraints = len(ws.Constraints)
	summary.Rigs = len(ws.Rigs)
	return summary, nil
}

func compareHeader(h replay.Header, p *replay.Packet, sha string) []string {
	var problems []string
	mismatch := func(field string, header, packet any) {
		problems = append(problems, fmt.Sprintf("header %s %v differs from packet %v", field, header, packet))
	}
	if h.PacketSHA256 != "" && h.PacketSHA256 != sha {
		mismatch("packet_sha256", h.PacketSHA256, sha)
	}
	if h.Seed != p.Seed {
		mismatch("seed", h.Seed, p.Seed)
	}
	if h.Scene != p.Scene.Name {
		mismatch("scene", h.Scene, p.Scene.Name)
	}
	if h.Mode != p.ValidationMode {
		mismatch("mode", h.Mode, p.ValidationMode)
	}
	if h.LastStep != p.LastStep() {
		mismatch("last_step", h.LastStep, p.LastStep())
	}
	if h.Ops != p.OpCount() {
		mismatch("ops", h.Ops, p.OpCount())
	}
	if h.Checkpoints != len(p.Checkpoints) {
		mismatch("checkpoints", h.Checkpoints, len(p.Checkpoints))
	}
	return problems
}

func compareInputs(stream, packet []replay.InputFrame) []string {
	if len(stream) != len(packet) {
		return []string{fmt.Sprintf("input stream has %d frames, packet has %d", len(stream), len(packet))}
	}
	for i := range stream {
		if stream[i].Step != packet[i].Step || len(stream[i].Ops) != len(packet[i].Ops) {
			return []string{fmt.Sprintf("input frame %d differs: stream step %d with %d ops, packet step %d with %d ops",
				i, stream[i].Step, len(stream[i].Ops), packet[i].Step, len(packet[i].Ops))}
		}
	}
	return nil
}
