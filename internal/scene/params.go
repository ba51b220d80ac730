package scene

import (
	"encoding/json"
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// Params is the opaque parameter bag stored with a scene in replay packets.
type Params = structpb.Struct

// NewParams builds a parameter struct from plain Go values.
func NewParams(values map[string]any) (*Params, error) {
	if values == nil {
		values = map[string]any{}
	}
	return structpb.NewStruct(values)
}

// MarshalParams renders params as canonical protobuf JSON.
func MarshalParams(p *Params) (json.RawMessage, error) {
	if p == nil {
		return json.RawMessage("{}"), nil
	}
	raw, err := protojson.MarshalOptions{UseProtoNames: true}.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal scene params: %w", err)
	}
	return raw, nil
}

// UnmarshalParams parses protobuf JSON into a parameter struct. Empty input yields an empty struct.
func UnmarshalParams(raw json.RawMessage) (*Params, error) {
	p := &structpb.Struct{}
	if len(raw) == 0 || string(raw) == "null" {
		return p, nil
	}
	if err := protojson.Unmarshal(raw, p); err != nil {
		return nil, fmt.Errorf("unmarshal scene params: %w", err)
	}
	return p, nil
}

// reader resolves typed parameters with defaults and remembers every value it handed out.
type reader struct {
	in       *Params
	resolved map[string]any
	err      error
}

func newReader(p *Params) *reader {
	return &reader{in: p, resolved: make(map[string]any)}
}

func (r *reader) number(key string, fallback float64) float64 {
	value := fallback
	if r.in != nil {
		if field, ok := r.in.GetFields()[key]; ok {
			switch kind := field.GetKind().(type) {
			case *structpb.Value_NumberValue:
				value = kind.NumberValue
			default:
				r.fail(fmt.Errorf("param %q must be a number", key))
			}
		}
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		r.fail(fmt.Errorf("param %q must be finite", key))
	}
	r.resolved[key] = value
	return value
}

func (r *reader) positive(key string, fallback float64) float64 {
	value := r.number(key, fallback)
	if !(value > 0) {
		r.fail(fmt.Errorf("param %q must be positive", key))
	}
	return value
}

func (r *reader) count(key string, fallback, limit int) int {
	value := r.number(key, float64(fallback))
	if value != math.Trunc(value) || value < 0 || value > float64(limit) {
		r.fail(fmt.Errorf("param %q must be an integer in [0, %d]", key, limit))
		return 0
	}
	return int(value)
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) params() (*Params, error) {
	if r.err != nil {
		return nil, r.err
	}
	return structpb.NewStruct(r.resolved)
}
