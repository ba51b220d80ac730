// Package mechanical applies gear, rack-and-pinion and pulley couplings as a velocity-level
// correction after each backend step.
package mechanical

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"rigidsync/broker/internal/logging"
	"rigidsync/broker/internal/physics"
	"rigidsync/broker/internal/state"
)

const (
	// Epsilon is the smallest usable coupling ratio magnitude.
	Epsilon = 1e-4
	// Beta is the positional feedback gain of the pulley rope constraint.
	Beta = 0.2
)

// ErrNotCoupling is returned when a non-coupling record is handed to the controller.
var ErrNotCoupling = errors.New("mechanical: constraint is not a coupling")

// Body is the participant view the controller reads each step.
type Body struct {
	Mode            state.MotionMode
	Position        physics.Vec3
	LinearVelocity  physics.Vec3
	AngularVelocity physics.Vec3
}

// BodyAccess exposes participant bodies by stable id.
type BodyAccess interface {
	MechanicalBody(id state.StableID) (Body, bool)
	SetMechanicalVelocity(id state.StableID, linear, angular physics.Vec3) error
}

// Coupling is one registered mechanical constraint with its resolved parameters.
type Coupling struct {
	ID         state.StableID
	Type       state.ConstraintType
	BodyA      state.StableID
	BodyB      state.StableID
	AxisA      physics.Vec3
	AxisB      physics.Vec3
	AnchorA    physics.Vec3
	AnchorB    physics.Vec3
	Ratio      float64
	RopeLength float64
	Degenerate bool
}

// FromRecord resolves a coupling record, substituting a unit ratio when the stored one is unusable.
func FromRecord(rec state.ConstraintRecord) (Coupling, error) {
	if !rec.Type.IsCoupling() {
		return Coupling{}, fmt.Errorf("%w: %s", ErrNotCoupling, rec.Type)
	}
	ratio := rec.Ratio()
	degenerate := false
	if math.IsNaN(ratio) || math.IsInf(ratio, 0) || math.Abs(ratio) < Epsilon {
		ratio = 1
		degenerate = true
	}
	return Coupling{
		ID:         rec.ID,
		Type:       rec.Type,
		BodyA:      rec.BodyA,
		BodyB:      rec.BodyB,
		AxisA:      rec.AxisA.Normalize(),
		AxisB:      rec.AxisB.Normalize(),
		AnchorA:    rec.PivotA,
		AnchorB:    rec.PivotB,
		Ratio:      ratio,
		RopeLength: rec.RopeLength(),
		Degenerate: degenerate,
	}, nil
}

// Report summarises one Apply pass.
type Report struct {
	Applied  int
	Skipped  int
	MaxError float64
}

// Controller owns the coupling set of one world. It is not safe for concurrent use.
type Controller struct {
	couplings map[state.StableID]Coupling
	order     []state.StableID
	log       *logging.Logger
}

// NewController builds an empty controller; a nil logger falls back to the global one.
func NewController(logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.L()
	}
	return &Controller{couplings: make(map[state.StableID]Coupling), log: logger}
}

// Add registers a coupling record under its id, replacing any previous entry.
func (c *Controller) Add(rec state.ConstraintRecord) error {
	coupling, err := FromRecord(rec)
	if err != nil {
		return err
	}
	if coupling.Degenerate {
		c.log.Debug("degenerate coupling ratio replaced",
			logging.Uint32("constraint", uint32(rec.ID)),
			logging.String("type", rec.Type.String()),
			logging.Float64("ratio", rec.Ratio()),
		)
	}
	if _, exists := c.couplings[rec.ID]; !exists {
		c.order = append(c.order, rec.ID)
		sort.Slice(c.order, func(i, j int) bool { return c.order[i] < c.order[j] })
	}
	c.couplings[rec.ID] = coupling
	return nil
}

// Remove drops a coupling; unknown ids are ignored.
func (c *Controller) Remove(id state.StableID) bool {
	if _, ok := c.couplings[id]; !ok {
		return false
	}
	delete(c.couplings, id)
	for i, existing := range c.order {
		if existing == id {
			c.order = append(c.order[:i:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the coupling registered under id.
func (c *Controller) Get(id state.StableID) (Coupling, bool) {
	coupling, ok := c.couplings[id]
	return coupling, ok
}

// IDs lists the registered couplings in ascending id order.
func (c *Controller) IDs() []state.StableID {
	return append([]state.StableID(nil), c.order...)
}

// Len reports the number of registered couplings.
func (c *Controller) Len() int { return len(c.order) }

// Reset clears every coupling.
func (c *Controller) Reset() {
	c.couplings = make(map[state.StableID]Coupling)
	c.order = nil
}

// Involving lists couplings that reference body id.
func (c *Controller) Involving(id state.StableID) []state.StableID {
	var out []state.StableID
	for _, cid := range c.order {
		coupling := c.couplings[cid]
		if coupling.BodyA == id || coupling.BodyB == id {
			out = append(out, cid)
		}
	}
	return out
}

// Apply corrects participant velocities for every coupling in ascending id order.
func (c *Controller) Apply(dt float64, access BodyAccess) (Report, error) {
	var report Report
	var errs []error
	for _, id := range c.order {
		coupling := c.couplings[id]
		//1.- Fetch both sides; a missing participant behaves like a static one.
		a, okA := access.MechanicalBody(coupling.BodyA)
		b, okB := access.MechanicalBody(coupling.BodyB)
		dynA := okA && a.Mode == state.Dynamic
		dynB := okB && b.Mode == state.Dynamic
		if !dynA && !dynB {
			report.Skipped++
			continue
		}
		if coupling.Type == state.ConstraintPulley && (!okA || !okB) {
			report.Skipped++
			continue
		}
		//2.- Solve the coupling and write back only the dynamic sides.
		residual := coupling.solve(dt, &a, &b, dynA, dynB)
		report.MaxError = math.Max(report.MaxError, math.Abs(residual))
		report.Applied++
		if math.Abs(residual) <= Epsilon {
			continue
		}
		if dynA {
			if err := access.SetMechanicalVelocity(coupling.BodyA, a.LinearVelocity, a.AngularVelocity); err != nil {
				errs = append(errs, fmt.Errorf("coupling %d body %d: %w", id, coupling.BodyA, err))
			}
		}
		if dynB {
			if err := access.SetMechanicalVelocity(coupling.BodyB, b.LinearVelocity, b.AngularVelocity); err != nil {
				errs = append(errs, fmt.Errorf("coupling %d body %d: %w", id, coupling.BodyB, err))
			}
		}
	}
	return report, errors.Join(errs...)
}

// solve mutates a and b in place and returns the velocity error before correction. Errors within
// Epsilon are left uncorrected.
func (cp Coupling) solve(dt float64, a, b *Body, dynA, dynB bool) float64 {
	r := cp.Ratio
	shareA, shareB := 0.5, 0.5
	switch {
	case !dynA:
		shareA, shareB = 0, 1
	case !dynB:
		shareA, shareB = 1, 0
	}

	var err float64
	switch cp.Type {
	case state.ConstraintGear:
		err = a.AngularVelocity.Dot(cp.AxisA) + r*b.AngularVelocity.Dot(cp.AxisB)
	case state.ConstraintRackPinion:
		err = a.LinearVelocity.Dot(cp.AxisA) - r*b.AngularVelocity.Dot(cp.AxisB)
	case state.ConstraintPulley:
		dA := a.Position.Sub(cp.AnchorA).Dot(cp.AxisA)
		dB := b.Position.Sub(cp.AnchorB).Dot(cp.AxisB)
		err = a.LinearVelocity.Dot(cp.AxisA) + r*b.LinearVelocity.Dot(cp.AxisB)
		if dt > 0 {
			err += Beta * (dA + r*dB - cp.RopeLength) / dt
		}
	default:
		return 0
	}
	if math.Abs(err) <= Epsilon {
		return err
	}

	switch cp.Type {
	case state.ConstraintGear:
		a.AngularVelocity = a.AngularVelocity.Sub(cp.AxisA.Scale(shareA * err))
		b.AngularVelocity = b.AngularVelocity.Sub(cp.AxisB.Scale(shareB * err / r))
	case state.ConstraintRackPinion:
		a.LinearVelocity = a.LinearVelocity.Sub(cp.AxisA.Scale(shareA * err))
		b.AngularVelocity = b.AngularVelocity.Add(cp.AxisB.Scale(shareB * err / r))
	case state.ConstraintPulley:
		a.LinearVelocity = a.LinearVelocity.Sub(cp.AxisA.Scale(shareA * err))
		b.LinearVelocity = b.LinearVelocity.Sub(cp.AxisB.Scale(shareB * err / r))
	}
	return err
}

// RopeDistances reports the signed distances of both pulley bodies along their rope axes.
func RopeDistances(cp Coupling, a, b physics.Vec3) (float64, float64) {
	return a.Sub(cp.AnchorA).Dot(cp.AxisA), b.Sub(cp.AnchorB).Dot(cp.AxisB)
}
