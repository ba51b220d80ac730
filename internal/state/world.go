package state

import (
	"sort"

	"rigidsync/broker/internal/physics"
)

// Header carries the global world parameters captured alongside the records.
type Header struct {
	FormatVersion    uint16       `json:"formatVersion"`
	Backend          string       `json:"backend"`
	StepCount        uint32       `json:"stepCount"`
	Gravity          physics.Vec3 `json:"gravity"`
	SolverIterations uint16       `json:"solverIterations"`
	Substeps         uint16       `json:"substeps"`
	TimeScale        float64      `json:"timeScale"`
	Deterministic    bool         `json:"deterministic"`
	Compliance       float64      `json:"compliance,omitempty"`
}

// WorldState is a complete, backend-neutral description of a world.
type WorldState struct {
	Header      Header             `json:"header"`
	Bodies      []BodyRecord       `json:"bodies"`
	Constraints []ConstraintRecord `json:"constraints"`
	Rigs        []RigRecord        `json:"rigs"`
}

// Clone deep copies the world state.
func (w *WorldState) Clone() *WorldState {
	if w == nil {
		return nil
	}
	out := &WorldState{Header: w.Header}
	out.Bodies = make([]BodyRecord, len(w.Bodies))
	for i, body := range w.Bodies {
		out.Bodies[i] = body.Clone()
	}
	out.Constraints = append([]ConstraintRecord(nil), w.Constraints...)
	out.Rigs = make([]RigRecord, len(w.Rigs))
	for i, rig := range w.Rigs {
		out.Rigs[i] = rig.Clone()
	}
	return out
}

// Sort orders every record family by ascending stable id; rigs sort by kind then id.
func (w *WorldState) Sort() {
	if w == nil {
		return
	}
	sort.Slice(w.Bodies, func(i, j int) bool { return w.Bodies[i].ID < w.Bodies[j].ID })
	sort.Slice(w.Constraints, func(i, j int) bool { return w.Constraints[i].ID < w.Constraints[j].ID })
	sort.Slice(w.Rigs, func(i, j int) bool {
		if w.Rigs[i].Kind != w.Rigs[j].Kind {
			return w.Rigs[i].Kind < w.Rigs[j].Kind
		}
		return w.Rigs[i].ID < w.Rigs[j].ID
	})
}

// Body finds a body record by id.
func (w *WorldState) Body(id StableID) (BodyRecord, bool) {
	if w == nil {
		return BodyRecord{}, false
	}
	for _, body := range w.Bodies {
		if body.ID == id {
			return body, true
		}
	}
	return BodyRecord{}, false
}
