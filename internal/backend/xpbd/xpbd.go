// Package xpbd is a substepped position-based reference backend. Bodies carry their own
// native stable ids, which the world adopts instead of allocating new ones.
package xpbd

import (
	"errors"
	"math"

	"rigidsync/broker/internal/backend"
	"rigidsync/broker/internal/backend/rigid"
	"rigidsync/broker/internal/logging"
	"rigidsync/broker/internal/physics"
	"rigidsync/broker/internal/state"
)

// Name identifies the backend in packets and snapshots.
const Name = "xpbd"

const (
	defaultSubsteps   = 8
	defaultCompliance = 1e-7
	restitutionCutoff = 1.0
)

func init() {
	backend.Register(backend.Definition{Name: Name, Variant: "RBXP", Factory: New})
}

// World is the xpbd backend instance.
type World struct {
	*rigid.Store
	log    *logging.Logger
	native map[state.Kind]map[state.Handle]state.StableID
	next   map[state.Kind]state.StableID
}

// New constructs an xpbd world from the resolved tuning.
func New(cfg backend.Config) (backend.Backend, error) {
	iterations := cfg.Tuning.SolverIterations
	if iterations > 4 {
		iterations = 4
	}
	settings := backend.Settings{
		SolverIterations: uint16(max(iterations, 1)),
		Substeps:         defaultSubsteps,
		TimeScale:        1,
		Compliance:       defaultCompliance,
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.L()
	}
	return &World{
		Store:  rigid.NewStore(cfg.Gravity, settings, cfg.Tuning.Threads),
		log:    logger.With(logging.String("backend", Name)),
		native: map[state.Kind]map[state.Handle]state.StableID{state.KindBody: {}, state.KindConstraint: {}},
		next:   map[state.Kind]state.StableID{},
	}, nil
}

// Name returns the backend identifier.
func (w *World) Name() string { return Name }

// NativeID reports the engine's own id for a body or constraint.
func (w *World) NativeID(kind state.Kind, h state.Handle) (state.StableID, bool) {
	ids, ok := w.native[kind]
	if !ok {
		return 0, false
	}
	id, ok := ids[h]
	return id, ok
}

func (w *World) assign(kind state.Kind, h state.Handle, hint state.StableID) {
	//1.- Honour a recorded id and keep the counter past it.
	id := hint
	if id == state.WorldAnchor {
		w.next[kind]++
		id = w.next[kind]
	} else if id > w.next[kind] {
		w.next[kind] = id
	}
	w.native[kind][h] = id
}

// SpawnBody inserts a body, keeping rec.ID as its native id when set.
func (w *World) SpawnBody(rec state.BodyRecord) (state.Handle, error) {
	h, err := w.Store.SpawnBody(rec)
	if err != nil {
		return 0, err
	}
	w.assign(state.KindBody, h, rec.ID)
	return h, nil
}

// DestroyBody removes the body and its native id.
func (w *World) DestroyBody(h state.Handle) error {
	if err := w.Store.DestroyBody(h); err != nil {
		return err
	}
	delete(w.native[state.KindBody], h)
	return nil
}

// AddConstraint inserts a joint, keeping rec.ID as its native id when set.
func (w *World) AddConstraint(rec state.ConstraintRecord, a, b state.Handle) (state.Handle, error) {
	h, err := w.Store.AddConstraint(rec, a, b)
	if err != nil {
		return 0, err
	}
	w.assign(state.KindConstraint, h, rec.ID)
	return h, nil
}

// RemoveConstraint deletes a joint and its native id.
func (w *World) RemoveConstraint(h state.Handle) error {
	if err := w.Store.RemoveConstraint(h); err != nil {
		return err
	}
	delete(w.native[state.KindConstraint], h)
	return nil
}

// Step advances the world by dt seconds using position-based substeps.
func (w *World) Step(dt float64, substeps int) error {
	if !(dt > 0) || math.IsInf(dt, 0) {
		return errors.New("xpbd: timestep must be positive and finite")
	}
	settings := w.Settings()
	n := max(substeps, int(settings.Substeps), 1)
	h := dt * settings.TimeScale / float64(n)
	for i := 0; i < n; i++ {
		w.substep(h, settings)
	}
	w.ClearForces()
	w.FlushContactEvents()
	return nil
}

func (w *World) substep(h float64, settings backend.Settings) {
	gravity := w.Gravity()
	//1.- Predict positions from velocities.
	w.ForEachAwake(func(b *rigid.Body) {
		b.PrevPosition, b.PrevOrientation = b.State.Position, b.State.Orientation
		b.IntegrateVelocity(gravity, h)
		b.IntegratePosition(h)
	})
	for _, b := range w.Bodies() {
		if b.Mode == state.Kinematic {
			b.IntegratePosition(h)
		}
	}

	//2.- Project contacts and joints onto valid positions.
	alpha := settings.Compliance / (h * h)
	contacts := w.Contacts()
	preVelocity := normalVelocities(contacts)
	joints := w.Joints()
	for _, j := range joints {
		j.LinearImpulse, j.AngularImpulse = 0, 0
	}
	for iter := 0; iter < int(max(settings.SolverIterations, 1)); iter++ {
		for _, set := range contacts {
			projectContacts(set, alpha)
		}
		for _, j := range joints {
			projectJoint(j, alpha, h)
		}
	}

	//3.- Derive velocities from the positional change.
	w.ForEachAwake(func(b *rigid.Body) {
		b.State.LinearVelocity = b.State.Position.Sub(b.PrevPosition).Scale(1 / h)
		b.State.AngularVelocity = angularFromDelta(b.PrevOrientation, b.State.Orientation, h)
	})

	//4.- Velocity pass: restitution, friction and angular joint locks.
	for i, set := range contacts {
		solveVelocities(set, preVelocity[i])
	}
	for _, j := range joints {
		j.SolveAngularVelocity(h)
		if j.Broken(h) {
			w.log.Debug("joint broken", logging.Int64("handle", int64(j.Handle)))
			w.BreakJoint(j)
		}
	}
}

func angularFromDelta(prev, next physics.Quat, h float64) physics.Vec3 {
	dq := next.Mul(prev.Conjugate())
	omega := physics.Vec3{X: dq.X, Y: dq.Y, Z: dq.Z}.Scale(2 / h)
	if dq.W < 0 {
		omega = omega.Neg()
	}
	return omega
}

func normalVelocities(sets []rigid.ContactSet) [][]float64 {
	out := make([][]float64, len(sets))
	for i, set := range sets {
		out[i] = make([]float64, len(set.Contacts))
		for k, c := range set.Contacts {
			out[i][k] = set.B.VelocityAt(c.Point).Sub(set.A.VelocityAt(c.Point)).Dot(c.Normal)
		}
	}
	return out
}

func projectContacts(set rigid.ContactSet, alpha float64) {
	wA, wB := set.A.EffectiveInvMass(), set.B.EffectiveInvMass()
	if wA+wB == 0 {
		return
	}
	//1.- Resolve along the deepest point; the remaining manifold moves with it.
	deepest := set.Contacts[0]
	for _, c := range set.Contacts[1:] {
		if c.Depth > deepest.Depth {
			deepest = c
		}
	}
	if deepest.Depth <= 0 {
		return
	}
	lambda := deepest.Depth / (wA + wB + alpha)
	shift := deepest.Normal.Scale(lambda)
	set.A.State.Position = set.A.State.Position.Sub(shift.Scale(wA))
	set.B.State.Position = set.B.State.Position.Add(shift.Scale(wB))
	for k := range set.Contacts {
		set.Contacts[k].Depth -= lambda * (wA + wB)
	}
}

func projectJoint(j *rigid.Joint, alpha, h float64) {
	wA, wB := 0.0, 0.0
	if j.A != nil {
		wA = j.A.EffectiveInvMass()
	}
	if j.B != nil {
		wB = j.B.EffectiveInvMass()
	}
	if wA+wB == 0 {
		return
	}
	pA, pB := j.Anchors()
	gap := pB.Sub(pA)
	if j.Record.Type == state.ConstraintSlider {
		axis := j.Axis()
		gap = gap.Sub(axis.Scale(gap.Dot(axis)))
	}
	length := gap.Length()
	if length == 0 {
		return
	}
	lambda := length / (wA + wB + alpha)
	correction := gap.Scale(lambda / length)
	if j.A != nil {
		j.A.State.Position = j.A.State.Position.Add(correction.Scale(wA))
	}
	if j.B != nil {
		j.B.State.Position = j.B.State.Position.Sub(correction.Scale(wB))
	}
	j.LinearImpulse += lambda / h
}

func solveVelocities(set rigid.ContactSet, before []float64) {
	wA, wB := set.A.EffectiveInvMass(), set.B.EffectiveInvMass()
	if wA+wB == 0 {
		return
	}
	friction := math.Sqrt(math.Max(set.A.Material.Friction, 0) * math.Max(set.B.Material.Friction, 0))
	restitution := math.Max(set.A.Material.Restitution, set.B.Material.Restitution)
	for k, c := range set.Contacts {
		rel := set.B.State.LinearVelocity.Sub(set.A.State.LinearVelocity)
		vn := rel.Dot(c.Normal)
		if vn >= 0 {
			continue
		}
		//1.- Remove approach velocity, restoring a bounce for fast impacts.
		target := 0.0
		if before[k] < -restitutionCutoff {
			target = -restitution * before[k]
		}
		dvn := target - vn
		//2.- Friction removes tangential slip up to mu times the normal change.
		tangent := rel.Sub(c.Normal.Scale(vn))
		slip := tangent.Length()
		dv := c.Normal.Scale(dvn)
		if slip > 1e-9 {
			dv = dv.Sub(tangent.Scale(math.Min(friction*dvn, slip) / slip))
		}
		set.A.State.LinearVelocity = set.A.State.LinearVelocity.Sub(dv.Scale(wA / (wA + wB)))
		set.B.State.LinearVelocity = set.B.State.LinearVelocity.Add(dv.Scale(wB / (wA + wB)))
	}
}
