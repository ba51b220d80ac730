package world

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"rigidsync/broker/internal/backend"
	"rigidsync/broker/internal/logging"
	"rigidsync/broker/internal/mechanical"
	"rigidsync/broker/internal/physics"
	"rigidsync/broker/internal/registry"
	"rigidsync/broker/internal/state"
)

// virtualBase starts the handle range used for resources the backend never sees.
const virtualBase state.Handle = 1 << 62

type bodyEntry struct {
	rec    state.BodyRecord
	handle state.Handle
}

type constraintEntry struct {
	rec      state.ConstraintRecord
	handle   state.Handle
	coupling bool
}

// core is everything a restore replaces in one swap.
type core struct {
	be          backend.Backend
	reg         *registry.Registry
	mech        *mechanical.Controller
	bodies      map[state.StableID]*bodyEntry
	constraints map[state.StableID]*constraintEntry
	rigs        map[state.Kind]map[state.StableID]*state.RigRecord
	step        uint32
	virtual     state.Handle
	report      mechanical.Report
}

func newCore(be backend.Backend, logger *logging.Logger) core {
	return core{
		be:          be,
		reg:         registry.New(),
		mech:        mechanical.NewController(logger),
		bodies:      make(map[state.StableID]*bodyEntry),
		constraints: make(map[state.StableID]*constraintEntry),
		rigs: map[state.Kind]map[state.StableID]*state.RigRecord{
			state.KindVehicle:   {},
			state.KindCharacter: {},
			state.KindRagdoll:   {},
		},
		virtual: virtualBase,
	}
}

// Sim is the concrete World. One goroutine drives it; the mutex lets status readers observe it.
type Sim struct {
	mu     sync.RWMutex
	cfg    Config
	log    *logging.Logger
	events *state.EventStore
	closed bool
	core
}

var _ World = (*Sim)(nil)

// New opens the configured backend and returns an empty world.
func New(cfg Config) (*Sim, error) {
	cfg = cfg.withDefaults()
	logger := cfg.Logger.With(logging.String("backend", cfg.Backend))
	be, err := backend.Open(cfg.Backend, backend.Config{Tuning: cfg.Tuning, Gravity: cfg.Gravity, Logger: logger})
	if err != nil {
		return nil, err
	}
	return &Sim{cfg: cfg, log: logger, events: state.NewEventStore(), core: newCore(be, logger)}, nil
}

// Backend names the engine behind the world.
func (s *Sim) Backend() string { return s.cfg.Backend }

// Tuning returns the resolved engine tuning.
func (s *Sim) Tuning() backend.Tuning { return s.cfg.Tuning }

// FixedTimeStep is the dt every recorded step uses.
func (s *Sim) FixedTimeStep() float64 { return s.cfg.FixedTimeStep }

// MaxSubSteps caps backend substeps per step.
func (s *Sim) MaxSubSteps() int { return s.cfg.MaxSubSteps }

// StepCount returns the number of completed steps, including those carried in by a restore.
func (s *Sim) StepCount() uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.step
}

// CouplingReport returns the mechanical pass summary of the last step.
func (s *Sim) CouplingReport() mechanical.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.report
}

// Gravity returns the live backend gravity.
func (s *Sim) Gravity() physics.Vec3 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.be.Gravity()
}

func (s *Sim) usable() error {
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Step advances the world by dt: rigs drive their bodies, the backend solves, broken joints are
// retired and the mechanical couplings correct the result.
func (s *Sim) Step(dt float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	if !(dt > 0) || math.IsInf(dt, 0) {
		return ErrInvalidTimestep
	}
	//1.- Rig controllers turn pending commands into forces and velocities.
	if err := s.driveRigs(dt); err != nil {
		return err
	}
	//2.- Advance the engine.
	if err := s.be.Step(dt, s.cfg.MaxSubSteps); err != nil {
		return fmt.Errorf("backend step: %w", err)
	}
	//3.- The engine has advanced, so the counter follows it whatever the couplings report.
	s.step++
	//4.- Translate engine events onto stable ids.
	s.collectEvents(s.step)
	//5.- Post-solve coupling correction.
	report, err := s.mech.Apply(dt, mechanicalView{s: s})
	s.report = report
	if err != nil {
		return fmt.Errorf("mechanical pass: %w", err)
	}
	return nil
}

func (s *Sim) collectEvents(step uint32) {
	for _, ev := range s.be.DrainEvents() {
		out := state.Event{Kind: ev.Kind, Step: step}
		out.BodyA, _ = s.reg.Lookup(state.KindBody, ev.BodyA)
		out.BodyB, _ = s.reg.Lookup(state.KindBody, ev.BodyB)
		if ev.Kind == state.EventConstraintBroken {
			id, ok := s.reg.Lookup(state.KindConstraint, ev.Constraint)
			if !ok {
				continue
			}
			//1.- The engine already dropped the joint; retire its id and rig references.
			s.forgetConstraint(id)
			out.Constraint = id
			s.log.Info("constraint broken", logging.Uint32("constraint", uint32(id)), logging.Int64("step", int64(step)))
		}
		s.events.Add(out)
	}
}

// Events drains the queued contact and break notifications.
func (s *Sim) Events() []state.Event { return s.events.Drain() }

// Close releases the backend. Further calls fail with ErrClosed.
func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.be.Close()
}

func (s *Sim) bodyEntry(id state.StableID) (*bodyEntry, error) {
	if entry, ok := s.bodies[id]; ok {
		return entry, nil
	}
	return nil, &registry.UnknownIDError{Kind: state.KindBody, ID: id}
}

func (s *Sim) nextVirtual() state.Handle {
	s.virtual++
	return s.virtual
}

// bind registers a freshly created backend resource, preferring native then recorded ids.
func (s *Sim) bind(kind state.Kind, h state.Handle, hint state.StableID) (state.StableID, error) {
	if native, ok := s.be.(backend.NativeIdentifier); ok {
		if id, ok := native.NativeID(kind, h); ok {
			hint = id
		}
	}
	if hint == state.WorldAnchor {
		return s.reg.Register(kind, h), nil
	}
	if err := s.reg.Adopt(kind, h, hint); err != nil {
		return 0, err
	}
	return hint, nil
}

// hint picks the id handed to native-id backends so their numbering tracks the registry.
func (s *Sim) hint(kind state.Kind, requested state.StableID) state.StableID {
	if requested != state.WorldAnchor {
		return requested
	}
	if _, ok := s.be.(backend.NativeIdentifier); ok {
		return s.reg.Watermark(kind) + 1
	}
	return state.WorldAnchor
}

func (s *Sim) ensureFree(kind state.Kind, id state.StableID) error {
	if id == state.WorldAnchor {
		return nil
	}
	if _, err := s.reg.Resolve(kind, id); err == nil {
		return fmt.Errorf("%s %d: %w", kind, id, registry.ErrIDInUse)
	}
	return nil
}

// SpawnBody creates a body. A non-zero rec.ID is kept; otherwise the next id is assigned.
func (s *Sim) SpawnBody(rec state.BodyRecord) (state.StableID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return 0, err
	}
	return s.spawnBody(rec)
}

func (s *Sim) spawnBody(rec state.BodyRecord) (state.StableID, error) {
	//1.- Refuse live ids before the backend allocates anything.
	if err := s.ensureFree(state.KindBody, rec.ID); err != nil {
		return 0, err
	}
	rec.ID = s.hint(state.KindBody, rec.ID)
	h, err := s.be.SpawnBody(rec)
	if err != nil {
		return 0, fmt.Errorf("spawn body: %w", err)
	}
	//2.- Bind the handle; roll the backend back if the id cannot be taken.
	id, err := s.bind(state.KindBody, h, rec.ID)
	if err != nil {
		_ = s.be.DestroyBody(h)
		return 0, err
	}
	rec.ID = id
	rec.Shape = rec.Shape.Clone()
	s.bodies[id] = &bodyEntry{rec: rec, handle: h}
	return id, nil
}

// DestroyBody removes a body together with every constraint and rig that references it.
func (s *Sim) DestroyBody(id state.StableID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	return s.destroyBody(id)
}

func (s *Sim) destroyBody(id state.StableID) error {
	entry, err := s.bodyEntry(id)
	if err != nil {
		return err
	}
	//1.- Dependents go first so no record points at a missing body.
	for _, cid := range s.sortedConstraintIDs() {
		c := s.constraints[cid]
		if c.rec.BodyA == id || c.rec.BodyB == id {
			if err := s.removeConstraint(cid); err != nil {
				return err
			}
		}
	}
	for _, kind := range rigKinds {
		for _, rid := range sortedRigIDs(s.rigs[kind]) {
			if rigReferences(s.rigs[kind][rid], id) {
				s.dropRig(kind, rid)
			}
		}
	}
	//2.- Then the body itself.
	if err := s.be.DestroyBody(entry.handle); err != nil {
		return fmt.Errorf("destroy body %d: %w", id, err)
	}
	delete(s.bodies, id)
	return s.reg.Release(state.KindBody, id)
}

// Body returns the static record of a body merged with its live state.
func (s *Sim) Body(id state.StableID) (state.BodyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.body(id)
}

func (s *Sim) body(id state.StableID) (state.BodyRecord, error) {
	entry, err := s.bodyEntry(id)
	if err != nil {
		return state.BodyRecord{}, err
	}
	live, err := s.be.BodyState(entry.handle)
	if err != nil {
		return state.BodyRecord{}, fmt.Errorf("body %d: %w", id, err)
	}
	rec := entry.rec.Clone()
	rec.State = live
	return rec, nil
}

// BodyIDs lists live bodies in ascending id order.
func (s *Sim) BodyIDs() []state.StableID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reg.IDs(state.KindBody)
}

// SetBodyState overwrites a body's kinematic state.
func (s *Sim) SetBodyState(id state.StableID, st state.BodyState) error {
	return s.withBody(id, func(h state.Handle) error { return s.be.SetBodyState(h, st) })
}

// ApplyImpulse applies an impulse at a world-space point.
func (s *Sim) ApplyImpulse(id state.StableID, impulse, point physics.Vec3) error {
	return s.withBody(id, func(h state.Handle) error { return s.be.ApplyImpulse(h, impulse, point) })
}

// ApplyForce accumulates a force through the body's centre for the next step.
func (s *Sim) ApplyForce(id state.StableID, force physics.Vec3) error {
	return s.withBody(id, func(h state.Handle) error { return s.be.ApplyForce(h, force) })
}

// ApplyTorque accumulates a torque for the next step.
func (s *Sim) ApplyTorque(id state.StableID, torque physics.Vec3) error {
	return s.withBody(id, func(h state.Handle) error { return s.be.ApplyTorque(h, torque) })
}

// SetVelocity overwrites linear and angular velocity.
func (s *Sim) SetVelocity(id state.StableID, linear, angular physics.Vec3) error {
	return s.withBody(id, func(h state.Handle) error { return s.be.SetVelocity(h, linear, angular) })
}

// Teleport moves a body without touching its velocity.
func (s *Sim) Teleport(id state.StableID, position physics.Vec3, orientation physics.Quat) error {
	return s.withBody(id, func(h state.Handle) error { return s.be.Teleport(h, position, orientation) })
}

func (s *Sim) withBody(id state.StableID, fn func(h state.Handle) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	entry, err := s.bodyEntry(id)
	if err != nil {
		return err
	}
	if err := fn(entry.handle); err != nil {
		return fmt.Errorf("body %d: %w", id, err)
	}
	return nil
}

// AddConstraint joins bodies. Couplings go to the mechanical layer, everything else to the engine.
func (s *Sim) AddConstraint(rec state.ConstraintRecord) (state.StableID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return 0, err
	}
	return s.addConstraint(rec)
}

func (s *Sim) participant(id state.StableID) (state.Handle, error) {
	if id == state.WorldAnchor {
		return backend.NoHandle, nil
	}
	entry, err := s.bodyEntry(id)
	if err != nil {
		return 0, err
	}
	return entry.handle, nil
}

func (s *Sim) addConstraint(rec state.ConstraintRecord) (state.StableID, error) {
	if err := rec.Validate(); err != nil {
		return 0, fmt.Errorf("constraint: %w", err)
	}
	//1.- Resolve both participants through the registry.
	ha, err := s.participant(rec.BodyA)
	if err != nil {
		return 0, err
	}
	hb, err := s.participant(rec.BodyB)
	if err != nil {
		return 0, err
	}
	if err := s.ensureFree(state.KindConstraint, rec.ID); err != nil {
		return 0, err
	}
	//2.- Couplings never reach the engine; they live on a virtual handle.
	if rec.Type.IsCoupling() {
		h := s.nextVirtual()
		id := rec.ID
		if id == state.WorldAnchor {
			id = s.reg.Register(state.KindConstraint, h)
		} else if err := s.reg.Adopt(state.KindConstraint, h, id); err != nil {
			return 0, err
		}
		rec.ID = id
		if err := s.mech.Add(rec); err != nil {
			_ = s.reg.Release(state.KindConstraint, id)
			return 0, err
		}
		s.constraints[id] = &constraintEntry{rec: rec, handle: h, coupling: true}
		return id, nil
	}
	//3.- Native joints.
	rec.ID = s.hint(state.KindConstraint, rec.ID)
	h, err := s.be.AddConstraint(rec, ha, hb)
	if err != nil {
		return 0, fmt.Errorf("add %s constraint: %w", rec.Type, err)
	}
	id, err := s.bind(state.KindConstraint, h, rec.ID)
	if err != nil {
		_ = s.be.RemoveConstraint(h)
		return 0, err
	}
	rec.ID = id
	s.constraints[id] = &constraintEntry{rec: rec, handle: h}
	return id, nil
}

// RemoveConstraint deletes a constraint and releases its id.
func (s *Sim) RemoveConstraint(id state.StableID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.usable(); err != nil {
		return err
	}
	return s.removeConstraint(id)
}

func (s *Sim) removeConstraint(id state.StableID) error {
	entry, ok := s.constraints[id]
	if !ok {
		return &registry.UnknownIDError{Kind: state.KindConstraint, ID: id}
	}
	if entry.coupling {
		s.mech.Remove(id)
	} else if err := s.be.RemoveConstraint(entry.handle); err != nil {
		return fmt.Errorf("remove constraint %d: %w", id, err)
	}
	s.forgetConstraint(id)
	return nil
}

// forgetConstraint drops the bookkeeping of a constraint the engine no longer holds.
func (s *Sim) forgetConstraint(id state.StableID) {
	delete(s.constraints, id)
	_ = s.reg.Release(state.KindConstraint, id)
	for _, rig := range s.rigs[state.KindRagdoll] {
		rig.Ragdoll.Constraints = without(rig.Ragdoll.Constraints, id)
	}
}

// Constraint returns a constraint record.
func (s *Sim) Constraint(id state.StableID) (state.ConstraintRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.constraints[id]
	if !ok {
		return state.ConstraintRecord{}, &registry.UnknownIDError{Kind: state.KindConstraint, ID: id}
	}
	return entry.rec, nil
}

// ConstraintIDs lists live constraints in ascending id order.
func (s *Sim) ConstraintIDs() []state.StableID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedConstraintIDs()
}

func (s *Sim) sortedConstraintIDs() []state.StableID {
	ids := make([]state.StableID, 0, len(s.constraints))
	for id := range s.constraints {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func without(ids []state.StableID, target state.StableID) []state.StableID {
	out := ids[:0:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// mechanicalView exposes world bodies to the coupling controller by stable id.
type mechanicalView struct{ s *Sim }

func (v mechanicalView) MechanicalBody(id state.StableID) (mechanical.Body, bool) {
	entry, ok := v.s.bodies[id]
	if !ok {
		return mechanical.Body{}, false
	}
	live, err := v.s.be.BodyState(entry.handle)
	if err != nil {
		return mechanical.Body{}, false
	}
	return mechanical.Body{
		Mode:            entry.rec.Mode,
		Position:        live.Position,
		LinearVelocity:  live.LinearVelocity,
		AngularVelocity: live.AngularVelocity,
	}, true
}

func (v mechanicalView) SetMechanicalVelocity(id state.StableID, linear, angular physics.Vec3) error {
	entry, ok := v.s.bodies[id]
	if !ok {
		return &registry.UnknownIDError{Kind: state.KindBody, ID: id}
	}
	return v.s.be.SetVelocity(entry.handle, linear, angular)
}
