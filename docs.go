package main

import (
	"encoding/json"
	"net/http"

	"rigidsync/broker/internal/backend"
	"rigidsync/broker/internal/replay"
	"rigidsync/broker/internal/scene"
)

// OpDoc describes one replay operation a client may enqueue into a live session.
type OpDoc struct {
	Op          replay.OpKind `json:"op"`
	Fields      []string      `json:"fields"`
	Description string        `json:"description"`
}

// SceneDoc describes a registered scene.
type SceneDoc struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// opDocs is listed in replay.OpKinds order by listOpDocs.
var opDocs = map[replay.OpKind]OpDoc{
	replay.OpApplyImpulse:          {Fields: []string{"body", "vector", "point"}, Description: "Instant momentum change applied at a world point."},
	replay.OpApplyForce:            {Fields: []string{"body", "vector"}, Description: "Force accumulated for the next step."},
	replay.OpApplyTorque:           {Fields: []string{"body", "vector"}, Description: "Torque accumulated for the next step."},
	replay.OpSetVelocity:           {Fields: []string{"body", "vector", "angular"}, Description: "Overwrite linear and angular velocity."},
	replay.OpTeleport:              {Fields: []string{"body", "vector", "orientation"}, Description: "Move a body without sweeping."},
	replay.OpApplyThrottle:         {Fields: []string{"rig", "value"}, Description: "Vehicle throttle in [0,1]."},
	replay.OpApplyBrake:            {Fields: []string{"rig", "value"}, Description: "Vehicle brake in [0,1]."},
	replay.OpApplySteer:            {Fields: []string{"rig", "value"}, Description: "Vehicle steering in [-1,1]."},
	replay.OpSetHandbrake:          {Fields: []string{"rig", "engaged"}, Description: "Engage or release the handbrake."},
	replay.OpMoveCharacter:         {Fields: []string{"rig", "vector"}, Description: "Desired character displacement for the step."},
	replay.OpJumpCharacter:         {Fields: []string{"rig"}, Description: "Jump when the character is grounded."},
	replay.OpActivateRagdoll:       {Fields: []string{"rig"}, Description: "Hand the ragdoll to the physics engine."},
	replay.OpDeactivateRagdoll:     {Fields: []string{"rig"}, Description: "Return the ragdoll to animation control."},
	replay.OpSetRagdollBlendTarget: {Fields: []string{"rig", "pose", "value"}, Description: "Blend the ragdoll toward a pose."},
	replay.OpSpawnBody:             {Fields: []string{"spawn"}, Description: "Create a body; its id is the next one the registry hands out."},
	replay.OpDestroyBody:           {Fields: []string{"body"}, Description: "Remove a body and any joints attached to it."},
	replay.OpSetBodyState:          {Fields: []string{"body", "state"}, Description: "Overwrite the full kinematic state of a body."},
	replay.OpAddConstraint:         {Fields: []string{"joint"}, Description: "Attach a joint or mechanical coupling."},
	replay.OpRemoveConstraint:      {Fields: []string{"constraint"}, Description: "Detach a joint or mechanical coupling."},
	replay.OpAddRig:                {Fields: []string{"install"}, Description: "Install a vehicle, character or ragdoll rig."},
	replay.OpRemoveRig:             {Fields: []string{"rig", "rigKind"}, Description: "Remove a rig of the given kind."},
}

func listOpDocs() []OpDoc {
	docs := make([]OpDoc, 0, len(replay.OpKinds))
	for _, kind := range replay.OpKinds {
		doc := opDocs[kind]
		doc.Op = kind
		docs = append(docs, doc)
	}
	return docs
}

func listSceneDocs() []SceneDoc {
	names := scene.Names()
	docs := make([]SceneDoc, 0, len(names))
	for _, name := range names {
		s, err := scene.Lookup(name)
		if err != nil {
			continue
		}
		docs = append(docs, SceneDoc{Name: s.Name, Description: s.Description})
	}
	return docs
}

// registerDocEndpoints serves what a client needs to build sessions: op kinds, scenes, backends
// and tuning profiles.
func registerDocEndpoints(mux *http.ServeMux, profiles backend.Profiles) {
	mux.HandleFunc("GET /api/ops", func(w http.ResponseWriter, r *http.Request) {
		writeDoc(w, listOpDocs())
	})
	mux.HandleFunc("GET /api/scenes", func(w http.ResponseWriter, r *http.Request) {
		writeDoc(w, listSceneDocs())
	})
	mux.HandleFunc("GET /api/backends", func(w http.ResponseWriter, r *http.Request) {
		writeDoc(w, backend.Names())
	})
	mux.HandleFunc("GET /api/profiles", func(w http.ResponseWriter, r *http.Request) {
		names := profiles.Names()
		out := make([]backend.Tuning, 0, len(names))
		for _, name := range names {
			out = append(out, profiles[name])
		}
		writeDoc(w, out)
	})
}

func writeDoc(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
