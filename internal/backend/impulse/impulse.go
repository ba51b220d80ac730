// Package impulse is a sequential-impulse reference backend: semi-implicit Euler integration,
// velocity-level contact and joint impulses, and a positional push-out pass.
package impulse

import (
	"errors"
	"math"

	"rigidsync/broker/internal/backend"
	"rigidsync/broker/internal/backend/rigid"
	"rigidsync/broker/internal/logging"
	"rigidsync/broker/internal/physics"
)

// Name identifies the backend in packets and snapshots.
const Name = "impulse"

const (
	jointBeta          = 0.2
	restitutionCutoff  = 1.0
	penetrationSlop    = 0.005
	positionCorrection = 0.8
)

func init() {
	backend.Register(backend.Definition{Name: Name, Variant: "RBIM", Factory: New})
}

// World is the impulse backend instance.
type World struct {
	*rigid.Store
	log *logging.Logger
}

// New constructs an impulse world from the resolved tuning.
func New(cfg backend.Config) (backend.Backend, error) {
	settings := backend.Settings{
		SolverIterations: uint16(cfg.Tuning.SolverIterations),
		Substeps:         1,
		TimeScale:        1,
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.L()
	}
	return &World{
		Store: rigid.NewStore(cfg.Gravity, settings, cfg.Tuning.Threads),
		log:   logger.With(logging.String("backend", Name)),
	}, nil
}

// Name returns the backend identifier.
func (w *World) Name() string { return Name }

// Step advances the world by dt seconds split into substeps.
func (w *World) Step(dt float64, substeps int) error {
	if !(dt > 0) || math.IsInf(dt, 0) {
		return errors.New("impulse: timestep must be positive and finite")
	}
	settings := w.Settings()
	n := max(substeps, int(settings.Substeps), 1)
	h := dt * settings.TimeScale / float64(n)
	for i := 0; i < n; i++ {
		w.substep(h, int(settings.SolverIterations))
	}
	w.ClearForces()
	w.FlushContactEvents()
	return nil
}

type contactPoint struct {
	a, b        *rigid.Body
	normal      physics.Vec3
	point       physics.Vec3
	mass        float64
	bounce      float64
	friction    float64
	accumulated float64
}

func (w *World) substep(h float64, iterations int) {
	//1.- Gravity and accumulated forces.
	gravity := w.Gravity()
	w.ForEachAwake(func(b *rigid.Body) { b.IntegrateVelocity(gravity, h) })

	//2.- Prepare contact rows from the current overlap.
	points := prepare(w.Contacts())

	//3.- Iterate joints then contacts so contacts win ties.
	joints := w.Joints()
	for _, j := range joints {
		j.LinearImpulse, j.AngularImpulse = 0, 0
	}
	for iter := 0; iter < max(iterations, 1); iter++ {
		for _, j := range joints {
			j.SolvePointVelocity(h, jointBeta)
			j.SolveAngularVelocity(h)
		}
		for i := range points {
			solveContact(&points[i])
		}
	}

	//4.- Joints whose impulse exceeded their thresholds break.
	for _, j := range joints {
		if j.Broken(h) {
			w.log.Debug("joint broken", logging.Int64("handle", int64(j.Handle)))
			w.BreakJoint(j)
		}
	}

	//5.- Integrate positions, then push remaining overlap apart.
	for _, b := range w.Bodies() {
		b.IntegratePosition(h)
	}
	w.pushOut()
}

func prepare(sets []rigid.ContactSet) []contactPoint {
	var points []contactPoint
	for _, set := range sets {
		friction := math.Sqrt(math.Max(set.A.Material.Friction, 0) * math.Max(set.B.Material.Friction, 0))
		restitution := math.Max(set.A.Material.Restitution, set.B.Material.Restitution)
		for _, c := range set.Contacts {
			p := contactPoint{a: set.A, b: set.B, normal: c.Normal, point: c.Point, friction: friction}
			p.mass = effectiveMass(set.A, set.B, c.Point, c.Normal)
			if p.mass == 0 {
				continue
			}
			//1.- Bounce only above the cutoff so resting contacts settle.
			vn := set.B.VelocityAt(c.Point).Sub(set.A.VelocityAt(c.Point)).Dot(c.Normal)
			if vn < -restitutionCutoff {
				p.bounce = -restitution * vn
			}
			points = append(points, p)
		}
	}
	return points
}

func effectiveMass(a, b *rigid.Body, point, normal physics.Vec3) float64 {
	rA := point.Sub(a.State.Position).Cross(normal)
	rB := point.Sub(b.State.Position).Cross(normal)
	k := a.EffectiveInvMass() + b.EffectiveInvMass() + a.EffectiveInvInertia()*rA.LengthSq() + b.EffectiveInvInertia()*rB.LengthSq()
	if k == 0 {
		return 0
	}
	return 1 / k
}

func solveContact(p *contactPoint) {
	rel := p.b.VelocityAt(p.point).Sub(p.a.VelocityAt(p.point))
	vn := rel.Dot(p.normal)
	//1.- Clamp the accumulated normal impulse so contacts only push.
	delta := p.mass * (p.bounce - vn)
	next := math.Max(p.accumulated+delta, 0)
	delta = next - p.accumulated
	p.accumulated = next
	impulse := p.normal.Scale(delta)
	p.a.ApplyImpulseAt(impulse.Neg(), p.point)
	p.b.ApplyImpulseAt(impulse, p.point)

	//2.- Coulomb friction bounded by the accumulated normal impulse.
	rel = p.b.VelocityAt(p.point).Sub(p.a.VelocityAt(p.point))
	tangent := rel.Sub(p.normal.Scale(rel.Dot(p.normal)))
	speed := tangent.Length()
	if speed < 1e-9 {
		return
	}
	tangent = tangent.Scale(1 / speed)
	tMass := effectiveMass(p.a, p.b, p.point, tangent)
	jt := math.Min(speed*tMass, p.friction*p.accumulated)
	friction := tangent.Scale(-jt)
	p.a.ApplyImpulseAt(friction.Neg(), p.point)
	p.b.ApplyImpulseAt(friction, p.point)
}

func (w *World) pushOut() {
	for _, set := range w.Overlaps() {
		wA, wB := set.A.EffectiveInvMass(), set.B.EffectiveInvMass()
		if wA+wB == 0 {
			continue
		}
		//1.- Correct along the deepest contact only to avoid over-pushing multi-point manifolds.
		deepest := set.Contacts[0]
		for _, c := range set.Contacts[1:] {
			if c.Depth > deepest.Depth {
				deepest = c
			}
		}
		correction := math.Max(deepest.Depth-penetrationSlop, 0) * positionCorrection / (wA + wB)
		if correction == 0 {
			continue
		}
		shift := deepest.Normal.Scale(correction)
		set.A.State.Position = set.A.State.Position.Sub(shift.Scale(wA))
		set.B.State.Position = set.B.State.Position.Add(shift.Scale(wB))
	}
}
