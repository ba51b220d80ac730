package rigid

import (
	"fmt"
	"sort"

	"rigidsync/broker/internal/backend"
	"rigidsync/broker/internal/backend/collide"
	"rigidsync/broker/internal/physics"
	"rigidsync/broker/internal/state"
)

// ContactSet groups the contacts of one body pair. Normals point from A towards B.
type ContactSet struct {
	A, B     *Body
	Contacts []collide.Contact
}

// Store owns bodies and joints keyed by handle and iterates them in ascending handle order.
type Store struct {
	next     state.Handle
	bodies   map[state.Handle]*Body
	order    []*Body
	joints   map[state.Handle]*Joint
	jorder   []*Joint
	gravity  physics.Vec3
	settings backend.Settings
	events   []backend.Event
	pairs    *collide.PairTracker
	threads  int
}

// NewStore constructs an empty store.
func NewStore(gravity physics.Vec3, settings backend.Settings, threads int) *Store {
	if threads < 1 {
		threads = 1
	}
	return &Store{
		bodies:   make(map[state.Handle]*Body),
		joints:   make(map[state.Handle]*Joint),
		gravity:  gravity,
		settings: settings,
		pairs:    collide.NewPairTracker(),
		threads:  threads,
	}
}

func (s *Store) allocate() state.Handle {
	s.next++
	return s.next
}

// Bodies returns the bodies in ascending handle order. Callers must not retain the slice.
func (s *Store) Bodies() []*Body { return s.order }

// Joints returns the joints in ascending handle order.
func (s *Store) Joints() []*Joint { return s.jorder }

// Threads is the worker count hinted by the tuning.
func (s *Store) Threads() int { return s.threads }

// Body looks up a live body.
func (s *Store) Body(h state.Handle) (*Body, error) {
	b, ok := s.bodies[h]
	if !ok {
		return nil, fmt.Errorf("body %d: %w", h, backend.ErrUnknownHandle)
	}
	return b, nil
}

// SpawnBody validates and inserts a body.
func (s *Store) SpawnBody(rec state.BodyRecord) (state.Handle, error) {
	if err := rec.Validate(); err != nil {
		return 0, err
	}
	if rec.Mode == state.Dynamic && !collide.Bounded(rec.Shape) {
		return 0, fmt.Errorf("%s shapes must be static or kinematic", rec.Shape.Type)
	}
	h := s.allocate()
	b := newBody(h, rec)
	s.bodies[h] = b
	s.order = append(s.order, b)
	return h, nil
}

// DestroyBody removes a body and every joint that references it.
func (s *Store) DestroyBody(h state.Handle) error {
	b, err := s.Body(h)
	if err != nil {
		return err
	}
	for _, j := range append([]*Joint(nil), s.jorder...) {
		if j.A == b || j.B == b {
			s.removeJoint(j)
		}
	}
	delete(s.bodies, h)
	s.order = removeBody(s.order, b)
	s.pairs.Forget(h)
	return nil
}

func removeBody(list []*Body, target *Body) []*Body {
	out := make([]*Body, 0, len(list))
	for _, b := range list {
		if b != target {
			out = append(out, b)
		}
	}
	return out
}

// BodyState returns the kinematic state.
func (s *Store) BodyState(h state.Handle) (state.BodyState, error) {
	b, err := s.Body(h)
	if err != nil {
		return state.BodyState{}, err
	}
	return b.State, nil
}

// SetBodyState overwrites the kinematic state.
func (s *Store) SetBodyState(h state.Handle, st state.BodyState) error {
	b, err := s.Body(h)
	if err != nil {
		return err
	}
	if !st.IsFinite() {
		return fmt.Errorf("body %d: non-finite state", h)
	}
	st.Orientation = st.Orientation.Unitize()
	b.State = st
	return nil
}

// SetMotionMode switches between static, kinematic and dynamic.
func (s *Store) SetMotionMode(h state.Handle, mode state.MotionMode) error {
	b, err := s.Body(h)
	if err != nil {
		return err
	}
	if mode == state.Dynamic && (!(b.Mass > 0) || !b.Bounded) {
		return fmt.Errorf("body %d cannot become dynamic", h)
	}
	b.setMode(mode)
	if mode == state.Static {
		b.State.LinearVelocity, b.State.AngularVelocity = physics.Vec3{}, physics.Vec3{}
	}
	return nil
}

// AddConstraint inserts a native joint.
func (s *Store) AddConstraint(rec state.ConstraintRecord, a, b state.Handle) (state.Handle, error) {
	if err := rec.Validate(); err != nil {
		return 0, err
	}
	if rec.Type.IsCoupling() {
		return 0, fmt.Errorf("%s couplings are not native joints", rec.Type)
	}
	j := &Joint{Record: rec}
	var err error
	if a != backend.NoHandle {
		if j.A, err = s.Body(a); err != nil {
			return 0, err
		}
	}
	if b != backend.NoHandle {
		if j.B, err = s.Body(b); err != nil {
			return 0, err
		}
	}
	j.Handle = s.allocate()
	s.joints[j.Handle] = j
	s.jorder = append(s.jorder, j)
	return j.Handle, nil
}

// RemoveConstraint deletes a joint.
func (s *Store) RemoveConstraint(h state.Handle) error {
	j, ok := s.joints[h]
	if !ok {
		return fmt.Errorf("constraint %d: %w", h, backend.ErrUnknownHandle)
	}
	s.removeJoint(j)
	return nil
}

func (s *Store) removeJoint(j *Joint) {
	//1.- Copy rather than filter in place; callers may be ranging over the old slice.
	delete(s.joints, j.Handle)
	out := make([]*Joint, 0, len(s.jorder))
	for _, candidate := range s.jorder {
		if candidate != j {
			out = append(out, candidate)
		}
	}
	s.jorder = out
}

// BreakJoint removes the joint and queues a broken notification.
func (s *Store) BreakJoint(j *Joint) {
	s.removeJoint(j)
	ev := backend.Event{Kind: state.EventConstraintBroken, Constraint: j.Handle}
	if j.A != nil {
		ev.BodyA = j.A.Handle
	}
	if j.B != nil {
		ev.BodyB = j.B.Handle
	}
	s.events = append(s.events, ev)
}

// ApplyImpulse applies an impulse at a world-space point and wakes the body.
func (s *Store) ApplyImpulse(h state.Handle, impulse, point physics.Vec3) error {
	b, err := s.Body(h)
	if err != nil {
		return err
	}
	b.Wake()
	b.ApplyImpulseAt(impulse, point)
	return nil
}

// ApplyForce accumulates a force at the centre of mass until the next step ends.
func (s *Store) ApplyForce(h state.Handle, force physics.Vec3) error {
	b, err := s.Body(h)
	if err != nil {
		return err
	}
	b.Wake()
	b.Force = b.Force.Add(force)
	return nil
}

// ApplyTorque accumulates a torque until the next step ends.
func (s *Store) ApplyTorque(h state.Handle, torque physics.Vec3) error {
	b, err := s.Body(h)
	if err != nil {
		return err
	}
	b.Wake()
	b.Torque = b.Torque.Add(torque)
	return nil
}

// SetVelocity overwrites linear and angular velocity.
func (s *Store) SetVelocity(h state.Handle, linear, angular physics.Vec3) error {
	b, err := s.Body(h)
	if err != nil {
		return err
	}
	if b.Mode == state.Static {
		return fmt.Errorf("body %d is static", h)
	}
	b.Wake()
	b.State.LinearVelocity, b.State.AngularVelocity = linear, angular
	return nil
}

// Teleport moves the body without changing its velocity.
func (s *Store) Teleport(h state.Handle, position physics.Vec3, orientation physics.Quat) error {
	b, err := s.Body(h)
	if err != nil {
		return err
	}
	b.Wake()
	b.State.Position, b.State.Orientation = position, orientation.Unitize()
	return nil
}

// SetGravity replaces the world gravity.
func (s *Store) SetGravity(g physics.Vec3) { s.gravity = g }

// Gravity returns the world gravity.
func (s *Store) Gravity() physics.Vec3 { return s.gravity }

// Settings returns the solver settings.
func (s *Store) Settings() backend.Settings { return s.settings }

// Configure replaces the solver settings, keeping positive defaults.
func (s *Store) Configure(settings backend.Settings) {
	if settings.SolverIterations == 0 {
		settings.SolverIterations = s.settings.SolverIterations
	}
	if settings.Substeps == 0 {
		settings.Substeps = s.settings.Substeps
	}
	if !(settings.TimeScale > 0) {
		settings.TimeScale = 1
	}
	s.settings = settings
}

// DrainEvents returns and clears queued events.
func (s *Store) DrainEvents() []backend.Event {
	events := s.events
	s.events = nil
	return events
}

// Close releases every resource.
func (s *Store) Close() error {
	s.bodies = map[state.Handle]*Body{}
	s.joints = map[state.Handle]*Joint{}
	s.order, s.jorder, s.events = nil, nil, nil
	s.pairs.Reset()
	return nil
}

// ClearForces zeroes force and torque accumulators after a full step.
func (s *Store) ClearForces() {
	for _, b := range s.order {
		b.Force, b.Torque = physics.Vec3{}, physics.Vec3{}
	}
}

// ForEachAwake runs fn over awake dynamic bodies, split across the tuned worker count.
// fn must only touch the body it is given.
func (s *Store) ForEachAwake(fn func(*Body)) {
	awake := make([]*Body, 0, len(s.order))
	for _, b := range s.order {
		if b.Awake() {
			awake = append(awake, b)
		}
	}
	parallel(awake, s.threads, fn)
}

// Contacts runs collision detection over every eligible pair and records touching pairs.
func (s *Store) Contacts() []ContactSet { return s.detect(true) }

// Overlaps re-runs detection without waking bodies or recording contact transitions.
func (s *Store) Overlaps() []ContactSet { return s.detect(false) }

func (s *Store) detect(track bool) []ContactSet {
	jointed := make(map[collide.Pair]struct{}, len(s.jorder))
	for _, j := range s.jorder {
		if j.A != nil && j.B != nil {
			jointed[collide.MakePair(j.A.Handle, j.B.Handle)] = struct{}{}
		}
	}
	var sets []ContactSet
	for i, a := range s.order {
		for _, b := range s.order[i+1:] {
			//1.- At least one side must be able to move.
			if !a.Dynamic() && !b.Dynamic() {
				continue
			}
			if !a.Awake() && !b.Awake() {
				continue
			}
			if a.Layer&b.Mask == 0 || b.Layer&a.Mask == 0 {
				continue
			}
			pair := collide.MakePair(a.Handle, b.Handle)
			if _, skip := jointed[pair]; skip {
				continue
			}
			//2.- Bounding sphere rejection before the narrow test.
			if a.Bounded && b.Bounded {
				reach := a.Radius + b.Radius
				if a.State.Position.Sub(b.State.Position).LengthSq() > reach*reach {
					continue
				}
			}
			contacts := collide.Detect(a.Shape, a.Pose(), b.Shape, b.Pose())
			if len(contacts) == 0 {
				continue
			}
			if !track {
				sets = append(sets, ContactSet{A: a, B: b, Contacts: contacts})
				continue
			}
			//3.- Contact with an awake body wakes a sleeper.
			if a.Dynamic() && b.Awake() {
				a.Wake()
			}
			if b.Dynamic() && a.Awake() {
				b.Wake()
			}
			s.pairs.Touch(pair)
			sets = append(sets, ContactSet{A: a, B: b, Contacts: contacts})
		}
	}
	return sets
}

// FlushContactEvents converts pair transitions since the last flush into events.
func (s *Store) FlushContactEvents() {
	began, ended := s.pairs.Flush()
	for _, p := range began {
		s.events = append(s.events, backend.Event{Kind: state.EventContactBegin, BodyA: p.A, BodyB: p.B})
	}
	for _, p := range ended {
		s.events = append(s.events, backend.Event{Kind: state.EventContactEnd, BodyA: p.A, BodyB: p.B})
	}
}

// Handles lists the live body handles ascending.
func (s *Store) Handles() []state.Handle {
	handles := make([]state.Handle, 0, len(s.bodies))
	for h := range s.bodies {
		handles = append(handles, h)
	}
	sort.Slice(handles, func(i, j int) bool { return handles[i] < handles[j] })
	return handles
}
