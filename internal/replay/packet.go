package replay

import (
	"bytes"
	_ "embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"rigidsync/broker/internal/backend"
	"rigidsync/broker/internal/physics"
	"rigidsync/broker/internal/scene"
	"rigidsync/broker/internal/snapshot"
	"rigidsync/broker/internal/state"
)

const (
	// PacketMagic opens every replay packet.
	PacketMagic = "RPKT"
	// PacketFormatVersion is the only packet layout this build reads and writes.
	PacketFormatVersion = 1
)

// Mode selects how a replay is judged.
type Mode string

const (
	// Strict compares SHA-256 checkpoints and needs the recording backend and a deterministic tuning.
	Strict Mode = "STRICT"
	// Behavioural checks physical invariants on the bodies the inputs touched.
	Behavioural Mode = "BEHAVIOURAL"
)

// ParseMode accepts the packet spelling of a validation mode, case-sensitively.
func ParseMode(raw string) (Mode, error) {
	switch Mode(raw) {
	case Strict, Behavioural:
		return Mode(raw), nil
	default:
		return "", fmt.Errorf("unknown validation mode %q", raw)
	}
}

// Invariants bound BEHAVIOURAL replays.
type Invariants struct {
	MinY                   float64 `json:"minY"`
	MaxSpeed               float64 `json:"maxSpeed"`
	RequireFinite          bool    `json:"requireFinite"`
	RequireBodyCountStable bool    `json:"requireBodyCountStable"`
}

// DefaultInvariants returns the bounds used when a recorder is not told otherwise.
func DefaultInvariants() Invariants {
	return Invariants{MinY: -10, MaxSpeed: 1000, RequireFinite: true}
}

// WorldConfig carries the fixed stepping parameters of the recording.
type WorldConfig struct {
	FixedTimeStep float64 `json:"fixedTimeStep"`
	MaxSubSteps   int     `json:"maxSubSteps"`
}

// SceneRef names the scene the recording started from together with its resolved params.
type SceneRef struct {
	Name   string
	Params *scene.Params
}

type sceneJSON struct {
	Name   string          `json:"name"`
	Params json.RawMessage `json:"params"`
}

// MarshalJSON renders params through protojson so the bag stays canonical.
func (s SceneRef) MarshalJSON() ([]byte, error) {
	params, err := scene.MarshalParams(s.Params)
	if err != nil {
		return nil, err
	}
	return json.Marshal(sceneJSON{Name: s.Name, Params: params})
}

// UnmarshalJSON parses params back into a structpb.Struct.
func (s *SceneRef) UnmarshalJSON(raw []byte) error {
	var wire sceneJSON
	if err := json.Unmarshal(raw, &wire); err != nil {
		return err
	}
	params, err := scene.UnmarshalParams(wire.Params)
	if err != nil {
		return err
	}
	s.Name = wire.Name
	s.Params = params
	return nil
}

// InputFrame groups the operations issued before the world advanced past Step.
type InputFrame struct {
	Step uint32 `json:"step"`
	Ops  []Op   `json:"ops"`
}

// Checkpoint is the state hash observed after the world reached Step.
type Checkpoint struct {
	Step   uint32 `json:"step"`
	SHA256 string `json:"sha256"`
}

// Packet is a self-contained, immutable recording of a simulation run.
type Packet struct {
	Magic              string         `json:"magic"`
	FormatVersion      int            `json:"formatVersion"`
	CreatedUTC         time.Time      `json:"createdUtc"`
	EngineVersion      string         `json:"engineVersion"`
	Backend            string         `json:"backend"`
	Tuning             backend.Tuning `json:"tuning"`
	WorldConfig        WorldConfig    `json:"worldConfig"`
	Scene              SceneRef       `json:"scene"`
	ValidationMode     Mode           `json:"validationMode"`
	Invariants         Invariants     `json:"invariants"`
	Seed               uint64         `json:"seed"`
	InitialSnapshotB64 string         `json:"initialSnapshotB64"`
	Inputs             []InputFrame   `json:"inputs"`
	Checkpoints        []Checkpoint   `json:"checkpoints"`
}

// InitialSnapshot decodes the base64 baseline.
func (p *Packet) InitialSnapshot() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(p.InitialSnapshotB64)
	if err != nil {
		return nil, framing("initial snapshot is not base64: %v", err)
	}
	return raw, nil
}

// InitialState decodes the baseline with the variant of the recording backend.
func (p *Packet) InitialState() (*state.WorldState, error) {
	raw, err := p.InitialSnapshot()
	if err != nil {
		return nil, err
	}
	variant, err := snapshot.ForBackend(p.Backend)
	if err != nil {
		return nil, framing("%v", err)
	}
	ws, err := snapshot.Decode(variant, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPacketFraming, err)
	}
	return ws, nil
}

// LastStep is the furthest step the packet says anything about.
func (p *Packet) LastStep() uint32 {
	var last uint32
	if n := len(p.Inputs); n > 0 {
		last = p.Inputs[n-1].Step
	}
	if n := len(p.Checkpoints); n > 0 && p.Checkpoints[n-1].Step > last {
		last = p.Checkpoints[n-1].Step
	}
	return last
}

// OpCount totals the recorded operations.
func (p *Packet) OpCount() int {
	total := 0
	for _, frame := range p.Inputs {
		total += len(frame.Ops)
	}
	return total
}

// Validate checks the framing rules the schema cannot express.
func (p *Packet) Validate() error {
	if p == nil {
		return framing("nil packet")
	}
	//1.- Header fields pin the packet to this engine's layout.
	if p.Magic != PacketMagic {
		return framing("magic %q", p.Magic)
	}
	if p.FormatVersion != PacketFormatVersion {
		return framing("unsupported format version %d", p.FormatVersion)
	}
	if _, err := ParseMode(string(p.ValidationMode)); err != nil {
		return framing("%v", err)
	}
	if p.Backend == "" {
		return framing("backend is required")
	}
	if !(p.WorldConfig.FixedTimeStep > 0) || !physics.IsFinite(p.WorldConfig.FixedTimeStep) {
		return framing("fixed timestep must be positive")
	}
	if p.WorldConfig.MaxSubSteps < 1 {
		return framing("max substeps must be at least 1")
	}
	if p.InitialSnapshotB64 == "" {
		return framing("initial snapshot is required")
	}
	if _, err := p.InitialSnapshot(); err != nil {
		return err
	}
	//2.- Inputs and checkpoints must be strictly ascending so the runner can stream them.
	for i, frame := range p.Inputs {
		if i > 0 && frame.Step <= p.Inputs[i-1].Step {
			return framing("inputs not strictly ascending at index %d (step %d)", i, frame.Step)
		}
		for j, op := range frame.Ops {
			if err := op.Validate(); err != nil {
				return framing("input step %d op %d: %v", frame.Step, j, err)
			}
		}
	}
	for i, cp := range p.Checkpoints {
		if i > 0 && cp.Step <= p.Checkpoints[i-1].Step {
			return framing("checkpoints not strictly ascending at index %d (step %d)", i, cp.Step)
		}
		if len(cp.SHA256) != 64 {
			return framing("checkpoint at step %d has malformed hash", cp.Step)
		}
	}
	//3.- Behavioural bounds must be usable numbers.
	if p.ValidationMode == Behavioural {
		if !physics.IsFinite(p.Invariants.MinY) || !(p.Invariants.MaxSpeed > 0) {
			return framing("invariants need a finite minY and positive maxSpeed")
		}
	}
	return nil
}

// Encode renders the packet as indented JSON.
func (p *Packet) Encode() ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

// Clone deep copies the packet through its JSON form so callers cannot alias recorded ops.
func (p *Packet) Clone() (*Packet, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var out Packet
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

//go:embed packet.schema.json
var packetSchemaJSON []byte

const packetSchemaURL = "https://rigidsync.local/schema/replay-packet.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func packetSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(packetSchemaURL, bytes.NewReader(packetSchemaJSON)); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = compiler.Compile(packetSchemaURL)
	})
	return schema, schemaErr
}

// DecodePacket parses raw JSON, checks it against the packet schema and validates its framing.
func DecodePacket(raw []byte) (*Packet, error) {
	//1.- Schema validation runs over the generic JSON tree before any typed decoding.
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, framing("invalid json: %v", err)
	}
	compiled, err := packetSchema()
	if err != nil {
		return nil, fmt.Errorf("compile packet schema: %w", err)
	}
	if err := compiled.Validate(doc); err != nil {
		return nil, framing("schema: %v", err)
	}
	//2.- Typed decoding then applies the ordering and op rules.
	var p Packet
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, framing("decode: %v", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
