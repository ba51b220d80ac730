package snapshot

import (
	"fmt"

	"rigidsync/broker/internal/physics"
	"rigidsync/broker/internal/state"
)

func writeBody(w *writer, b *state.BodyRecord) error {
	w.u32(uint32(b.ID))
	w.u8(uint8(b.Mode))
	if err := writeShape(w, &b.Shape); err != nil {
		return fmt.Errorf("body %d: %w", b.ID, err)
	}
	w.f64(b.Mass)
	w.f64(b.Material.Friction)
	w.f64(b.Material.Restitution)
	w.f64(b.Material.RollingFriction)
	w.f64(b.Material.SpinningFriction)
	w.str(b.Material.Tag)
	w.u32(b.Layer)
	w.u32(b.Mask)
	w.f64(b.GravityScale)
	w.vec(b.State.Position)
	w.quat(b.State.Orientation)
	w.vec(b.State.LinearVelocity)
	w.vec(b.State.AngularVelocity)
	w.boolean(b.State.Sleeping)
	return nil
}

func readBody(r *reader, b *state.BodyRecord) {
	b.ID = state.StableID(r.u32())
	at := r.off
	b.Mode = state.MotionMode(r.u8())
	if r.err == nil && (b.Mode < state.Static || b.Mode > state.Dynamic) {
		r.off = at
		r.fail(fmt.Sprintf("unknown motion mode %d", b.Mode))
	}
	readShape(r, &b.Shape)
	b.Mass = r.f64()
	b.Material.Friction = r.f64()
	b.Material.Restitution = r.f64()
	b.Material.RollingFriction = r.f64()
	b.Material.SpinningFriction = r.f64()
	b.Material.Tag = r.str()
	b.Layer = r.u32()
	b.Mask = r.u32()
	b.GravityScale = r.f64()
	b.State.Position = r.vec()
	b.State.Orientation = r.quat()
	b.State.LinearVelocity = r.vec()
	b.State.AngularVelocity = r.vec()
	b.State.Sleeping = r.boolean()
}

func writeShape(w *writer, s *state.Shape) error {
	w.u8(uint8(s.Type))
	size := 1.0
	if w.layout.FullExtents {
		size = 2
	}
	switch s.Type {
	case state.ShapeSphere:
		w.f64(s.Radius)
	case state.ShapeBox:
		w.vec(s.HalfExtents.Scale(size))
	case state.ShapeCapsule, state.ShapeCylinder:
		w.f64(s.Radius)
		w.f64(s.HalfHeight * size)
	case state.ShapePlane:
		w.vec(s.Normal)
		w.f64(s.Offset)
	case state.ShapeConvexHull:
		writePoints(w, s.Points)
	case state.ShapeTriangleMesh:
		writePoints(w, s.Points)
		w.u32(uint32(len(s.Indices)))
		for _, idx := range s.Indices {
			w.u32(idx)
		}
	case state.ShapeHeightfield:
		if uint64(s.Rows)*uint64(s.Cols) != uint64(len(s.Heights)) {
			return fmt.Errorf("heightfield %dx%d has %d samples", s.Rows, s.Cols, len(s.Heights))
		}
		w.u32(s.Rows)
		w.u32(s.Cols)
		w.vec(s.Scale)
		for _, h := range s.Heights {
			w.f64(h)
		}
	case state.ShapeCompound:
		w.u32(uint32(len(s.Children)))
		for i := range s.Children {
			child := &s.Children[i]
			w.vec(child.Position)
			w.quat(child.Orientation)
			if err := writeShape(w, &child.Shape); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unknown shape type %d", s.Type)
	}
	return nil
}

func writePoints(w *writer, points []physics.Vec3) {
	w.u32(uint32(len(points)))
	for _, p := range points {
		w.vec(p)
	}
}

func readShape(r *reader, s *state.Shape) {
	at := r.off
	s.Type = state.ShapeType(r.u8())
	if r.err != nil {
		return
	}
	size := 1.0
	if r.layout.FullExtents {
		size = 2
	}
	switch s.Type {
	case state.ShapeSphere:
		s.Radius = r.f64()
	case state.ShapeBox:
		s.HalfExtents = r.vec().Scale(1 / size)
	case state.ShapeCapsule, state.ShapeCylinder:
		s.Radius = r.f64()
		s.HalfHeight = r.f64() / size
	case state.ShapePlane:
		s.Normal = r.vec()
		s.Offset = r.f64()
	case state.ShapeConvexHull:
		s.Points = readPoints(r)
	case state.ShapeTriangleMesh:
		s.Points = readPoints(r)
		if n := r.count(4, "index"); n > 0 {
			s.Indices = make([]uint32, n)
			for i := range s.Indices {
				s.Indices[i] = r.u32()
			}
		}
	case state.ShapeHeightfield:
		s.Rows = r.u32()
		s.Cols = r.u32()
		s.Scale = r.vec()
		samples := uint64(s.Rows) * uint64(s.Cols)
		if r.err == nil && samples > uint64(r.remaining())/8 {
			r.fail("heightfield samples exceed buffer")
			return
		}
		if samples > 0 {
			s.Heights = make([]float64, samples)
			for i := range s.Heights {
				s.Heights[i] = r.f64()
			}
		}
	case state.ShapeCompound:
		n := r.count(8*7+1, "compound child")
		if n > 0 {
			s.Children = make([]state.CompoundChild, n)
			for i := 0; i < n && r.err == nil; i++ {
				s.Children[i].Position = r.vec()
				s.Children[i].Orientation = r.quat()
				readShape(r, &s.Children[i].Shape)
			}
		}
	default:
		r.off = at
		r.fail(fmt.Sprintf("unknown shape tag %d", s.Type))
	}
}

func readPoints(r *reader) []physics.Vec3 {
	n := r.count(24, "point")
	if n == 0 {
		return nil
	}
	points := make([]physics.Vec3, n)
	for i := range points {
		points[i] = r.vec()
	}
	return points
}

func writeConstraint(w *writer, c *state.ConstraintRecord) {
	w.u32(uint32(c.ID))
	w.u8(uint8(c.Type))
	w.u32(uint32(c.BodyA))
	w.u32(uint32(c.BodyB))
	if w.layout.AxisFirst {
		w.vec(c.AxisA)
		w.vec(c.PivotA)
		w.vec(c.AxisB)
		w.vec(c.PivotB)
	} else {
		w.vec(c.PivotA)
		w.vec(c.PivotB)
		w.vec(c.AxisA)
		w.vec(c.AxisB)
	}
	w.f64(c.LinearLimit.Lower)
	w.f64(c.LinearLimit.Upper)
	w.f64(c.AngularLimit.Lower)
	w.f64(c.AngularLimit.Upper)
	w.boolean(c.Motor.Enabled)
	w.f64(c.Motor.TargetVelocity)
	w.f64(c.Motor.TargetPosition)
	w.f64(c.Motor.MaxForce)
	w.f64(c.Motor.MaxTorque)
	w.f64(c.BreakForce)
	w.f64(c.BreakTorque)
}

func readConstraint(r *reader, c *state.ConstraintRecord) {
	c.ID = state.StableID(r.u32())
	at := r.off
	c.Type = state.ConstraintType(r.u8())
	if r.err == nil && (c.Type < state.ConstraintFixed || c.Type > state.ConstraintPulley) {
		r.off = at
		r.fail(fmt.Sprintf("unknown constraint tag %d", c.Type))
		return
	}
	c.BodyA = state.StableID(r.u32())
	c.BodyB = state.StableID(r.u32())
	if r.layout.AxisFirst {
		c.AxisA = r.vec()
		c.PivotA = r.vec()
		c.AxisB = r.vec()
		c.PivotB = r.vec()
	} else {
		c.PivotA = r.vec()
		c.PivotB = r.vec()
		c.AxisA = r.vec()
		c.AxisB = r.vec()
	}
	c.LinearLimit = state.Limit{Lower: r.f64(), Upper: r.f64()}
	c.AngularLimit = state.Limit{Lower: r.f64(), Upper: r.f64()}
	c.Motor.Enabled = r.boolean()
	c.Motor.TargetVelocity = r.f64()
	c.Motor.TargetPosition = r.f64()
	c.Motor.MaxForce = r.f64()
	c.Motor.MaxTorque = r.f64()
	c.BreakForce = r.f64()
	c.BreakTorque = r.f64()
}

func writeRig(w *writer, rig *state.RigRecord) error {
	w.u8(uint8(rig.Kind))
	w.u32(uint32(rig.ID))
	switch {
	case rig.Kind == state.KindVehicle && rig.Vehicle != nil:
		v := rig.Vehicle
		w.u32(uint32(v.Chassis))
		w.f64(v.EngineForce)
		w.f64(v.BrakeForce)
		w.f64(v.SteerTorque)
		w.f64(v.Throttle)
		w.f64(v.Brake)
		w.f64(v.Steer)
		w.boolean(v.Handbrake)
	case rig.Kind == state.KindCharacter && rig.Character != nil:
		c := rig.Character
		w.u32(uint32(c.Body))
		w.f64(c.MoveSpeed)
		w.f64(c.JumpImpulse)
		w.vec(c.Move)
		w.boolean(c.PendingJump)
	case rig.Kind == state.KindRagdoll && rig.Ragdoll != nil:
		rd := rig.Ragdoll
		writeIDs(w, rd.Bodies)
		writeIDs(w, rd.Constraints)
		w.boolean(rd.Active)
		w.u32(uint32(len(rd.BlendPose)))
		for _, q := range rd.BlendPose {
			w.quat(q)
		}
		w.f64(rd.BlendWeight)
	default:
		return fmt.Errorf("rig %s %d has no matching payload", rig.Kind, rig.ID)
	}
	return nil
}

func writeIDs(w *writer, ids []state.StableID) {
	w.u32(uint32(len(ids)))
	for _, id := range ids {
		w.u32(uint32(id))
	}
}

func readIDs(r *reader) []state.StableID {
	n := r.count(4, "id")
	if n == 0 {
		return nil
	}
	ids := make([]state.StableID, n)
	for i := range ids {
		ids[i] = state.StableID(r.u32())
	}
	return ids
}

func readRig(r *reader, rig *state.RigRecord) {
	at := r.off
	rig.Kind = state.Kind(r.u8())
	rig.ID = state.StableID(r.u32())
	if r.err != nil {
		return
	}
	switch rig.Kind {
	case state.KindVehicle:
		rig.Vehicle = &state.VehicleRig{
			Chassis:     state.StableID(r.u32()),
			EngineForce: r.f64(),
			BrakeForce:  r.f64(),
			SteerTorque: r.f64(),
			Throttle:    r.f64(),
			Brake:       r.f64(),
			Steer:       r.f64(),
			Handbrake:   r.boolean(),
		}
	case state.KindCharacter:
		rig.Character = &state.CharacterRig{
			Body:        state.StableID(r.u32()),
			MoveSpeed:   r.f64(),
			JumpImpulse: r.f64(),
			Move:        r.vec(),
			PendingJump: r.boolean(),
		}
	case state.KindRagdoll:
		rd := &state.RagdollRig{Bodies: readIDs(r), Constraints: readIDs(r), Active: r.boolean()}
		if n := r.count(32, "blend pose"); n > 0 {
			rd.BlendPose = make([]physics.Quat, n)
			for i := range rd.BlendPose {
				rd.BlendPose[i] = r.quat()
			}
		}
		rd.BlendWeight = r.f64()
		rig.Ragdoll = rd
	default:
		r.off = at
		r.fail(fmt.Sprintf("unknown rig tag %d", rig.Kind))
	}
}
