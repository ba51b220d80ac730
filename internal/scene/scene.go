// Package scene builds the named worlds used by recordings, validation runs and tests.
package scene

import (
	"errors"
	"fmt"
	"sort"

	"rigidsync/broker/internal/physics"
	"rigidsync/broker/internal/state"
	"rigidsync/broker/internal/world"
)

// ErrUnknownScene is returned for names that are not registered.
var ErrUnknownScene = errors.New("unknown scene")

// Scene is a named world builder.
type Scene struct {
	Name        string
	Description string
	build       func(w world.World, p *reader) error
}

var scenes = map[string]Scene{}

func register(s Scene) { scenes[s.Name] = s }

// Names lists the registered scenes alphabetically.
func Names() []string {
	names := make([]string, 0, len(scenes))
	for name := range scenes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lookup returns the scene registered under name.
func Lookup(name string) (Scene, error) {
	s, ok := scenes[name]
	if !ok {
		return Scene{}, fmt.Errorf("%w: %q", ErrUnknownScene, name)
	}
	return s, nil
}

// Build populates w with the named scene and returns the parameters it resolved, defaults included.
func Build(w world.World, name string, params *Params) (*Params, error) {
	s, err := Lookup(name)
	if err != nil {
		return nil, err
	}
	r := newReader(params)
	if err := s.build(w, r); err != nil {
		return nil, fmt.Errorf("build scene %q: %w", name, err)
	}
	resolved, err := r.params()
	if err != nil {
		return nil, fmt.Errorf("build scene %q: %w", name, err)
	}
	return resolved, nil
}

func init() {
	register(Scene{Name: "falling-sphere", Description: "a sphere dropped onto a ground plane", build: fallingSphere})
	register(Scene{Name: "sphere-stack", Description: "a column of spheres settling on the ground", build: sphereStack})
	register(Scene{Name: "gear-pair", Description: "two floating wheels coupled by a gear", build: gearPair})
	register(Scene{Name: "pulley", Description: "two weights hanging from a rope over a pulley", build: pulley})
	register(Scene{Name: "vehicle-yard", Description: "a vehicle, a walker, a ragdoll and crates on flat ground", build: vehicleYard})
}

func ground(w world.World) (state.StableID, error) {
	return w.SpawnBody(state.NewBody(state.Static, state.Plane(physics.V3(0, 1, 0), 0), 0, physics.Vec3{}))
}

func fallingSphere(w world.World, p *reader) error {
	radius := p.positive("radius", 0.5)
	height := p.number("height", 5)
	mass := p.positive("mass", 1)
	restitution := p.number("restitution", 0.2)
	if p.err != nil {
		return p.err
	}
	if _, err := ground(w); err != nil {
		return err
	}
	ball := state.NewBody(state.Dynamic, state.Sphere(radius), mass, physics.V3(0, height, 0))
	ball.Material.Restitution = restitution
	_, err := w.SpawnBody(ball)
	return err
}

func sphereStack(w world.World, p *reader) error {
	count := p.count("count", 5, 64)
	radius := p.positive("radius", 0.5)
	gap := p.number("gap", 0.05)
	if p.err != nil {
		return p.err
	}
	if _, err := ground(w); err != nil {
		return err
	}
	for i := 0; i < count; i++ {
		y := radius + float64(i)*(2*radius+gap)
		if _, err := w.SpawnBody(state.NewBody(state.Dynamic, state.Sphere(radius), 1, physics.V3(0, y, 0))); err != nil {
			return fmt.Errorf("sphere %d: %w", i, err)
		}
	}
	return nil
}

func gearPair(w world.World, p *reader) error {
	ratio := p.number("ratio", 2)
	omega := p.number("omega", 8)
	radius := p.positive("radius", 0.5)
	separation := p.positive("separation", 3)
	if p.err != nil {
		return p.err
	}
	//1.- The wheels float: no gravity so only the coupling acts on them.
	wheel := func(x float64) (state.StableID, error) {
		rec := state.NewBody(state.Dynamic, state.Sphere(radius), 1, physics.V3(x, 2, 0))
		rec.GravityScale = 0
		return w.SpawnBody(rec)
	}
	a, err := wheel(-separation / 2)
	if err != nil {
		return err
	}
	b, err := wheel(separation / 2)
	if err != nil {
		return err
	}
	axis := physics.V3(0, 0, 1)
	if _, err := w.AddConstraint(state.Gear(a, b, axis, axis, ratio)); err != nil {
		return err
	}
	return w.SetVelocity(a, physics.Vec3{}, axis.Scale(omega))
}

func pulley(w world.World, p *reader) error {
	ratio := p.number("ratio", 1)
	rope := p.positive("ropeLength", 4)
	height := p.number("anchorHeight", 5)
	massA := p.positive("massA", 1)
	massB := p.positive("massB", 1)
	if p.err != nil {
		return p.err
	}
	if ratio == 0 {
		ratio = 1
	}
	//1.- Hang both weights so the rope starts exactly taut.
	segment := rope / (1 + ratio)
	anchorA, anchorB := physics.V3(-1, height, 0), physics.V3(1, height, 0)
	a, err := w.SpawnBody(state.NewBody(state.Dynamic, state.Sphere(0.25), massA, anchorA.Sub(physics.V3(0, segment, 0))))
	if err != nil {
		return err
	}
	b, err := w.SpawnBody(state.NewBody(state.Dynamic, state.Sphere(0.25), massB, anchorB.Sub(physics.V3(0, segment, 0))))
	if err != nil {
		return err
	}
	down := physics.V3(0, -1, 0)
	_, err = w.AddConstraint(state.Pulley(a, b, anchorA, anchorB, down, down, ratio, rope))
	return err
}

func vehicleYard(w world.World, p *reader) error {
	crates := p.count("crates", 4, 32)
	engine := p.positive("engineForce", 8000)
	if p.err != nil {
		return p.err
	}
	if _, err := ground(w); err != nil {
		return err
	}
	//1.- Vehicle chassis with its rig.
	chassisRec := state.NewBody(state.Dynamic, state.Box(physics.V3(1, 0.4, 2)), 800, physics.V3(0, 0.4, 0))
	chassisRec.Material.Friction = 0.05
	chassis, err := w.SpawnBody(chassisRec)
	if err != nil {
		return err
	}
	if _, err := w.AddRig(state.RigRecord{Kind: state.KindVehicle, Vehicle: &state.VehicleRig{
		Chassis: chassis, EngineForce: engine, BrakeForce: 2 * engine, SteerTorque: 800,
	}}); err != nil {
		return err
	}
	//2.- A walking character.
	walker, err := w.SpawnBody(state.NewBody(state.Dynamic, state.Capsule(0.3, 0.5), 70, physics.V3(-5, 0.8, 0)))
	if err != nil {
		return err
	}
	if _, err := w.AddRig(state.RigRecord{Kind: state.KindCharacter, Character: &state.CharacterRig{
		Body: walker, MoveSpeed: 3, JumpImpulse: 350,
	}}); err != nil {
		return err
	}
	//3.- A dormant two-piece ragdoll.
	torso, err := w.SpawnBody(state.NewBody(state.Kinematic, state.Capsule(0.2, 0.4), 10, physics.V3(5, 1.5, 0)))
	if err != nil {
		return err
	}
	head, err := w.SpawnBody(state.NewBody(state.Kinematic, state.Sphere(0.15), 3, physics.V3(5, 2.3, 0)))
	if err != nil {
		return err
	}
	neck, err := w.AddConstraint(state.ConstraintRecord{
		Type: state.ConstraintConeTwist, BodyA: torso, BodyB: head,
		PivotA: physics.V3(0, 0.6, 0), PivotB: physics.V3(0, -0.2, 0),
		AngularLimit: state.Limit{Lower: -0.6, Upper: 0.6},
	})
	if err != nil {
		return err
	}
	if _, err := w.AddRig(state.RigRecord{Kind: state.KindRagdoll, Ragdoll: &state.RagdollRig{
		Bodies: []state.StableID{torso, head}, Constraints: []state.StableID{neck},
	}}); err != nil {
		return err
	}
	//4.- Crates along the far edge.
	for i := 0; i < crates; i++ {
		crate := state.NewBody(state.Dynamic, state.Box(physics.V3(0.5, 0.5, 0.5)), 20, physics.V3(-6+3*float64(i), 0.5, 12))
		if _, err := w.SpawnBody(crate); err != nil {
			return fmt.Errorf("crate %d: %w", i, err)
		}
	}
	return nil
}
