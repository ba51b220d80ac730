// Package collide provides the coarse contact queries shared by the reference backends.
package collide

import (
	"math"

	"rigidsync/broker/internal/physics"
	"rigidsync/broker/internal/state"
)

// Pose places a shape in world space.
type Pose struct {
	Position    physics.Vec3
	Orientation physics.Quat
}

// Contact is a single penetration between two shapes. Normal points from A towards B.
type Contact struct {
	Normal physics.Vec3
	Depth  float64
	Point  physics.Vec3
}

type primitiveKind uint8

const (
	primSwept primitiveKind = iota + 1
	primBox
	primPlane
	primTerrain
)

// primitive is a world-space proxy for a shape.
type primitive struct {
	kind   primitiveKind
	p0, p1 physics.Vec3
	radius float64
	pose   Pose
	half   physics.Vec3
	normal physics.Vec3
	offset float64
	shape  *state.Shape
}

func (p *primitive) ends() []physics.Vec3 {
	if p.p0 == p.p1 {
		return []physics.Vec3{p.p0}
	}
	return []physics.Vec3{p.p0, p.p1}
}

// BoundingRadius returns the radius of a sphere around the body origin enclosing the shape.
// Planes and heightfields are unbounded and report +Inf.
func BoundingRadius(s state.Shape) float64 {
	switch s.Type {
	case state.ShapeSphere:
		return s.Radius
	case state.ShapeBox:
		return s.HalfExtents.Length()
	case state.ShapeCapsule, state.ShapeCylinder:
		return s.Radius + s.HalfHeight
	case state.ShapeConvexHull, state.ShapeTriangleMesh:
		r := 0.0
		for _, p := range s.Points {
			r = math.Max(r, p.Length())
		}
		return r
	case state.ShapeCompound:
		r := 0.0
		for _, child := range s.Children {
			r = math.Max(r, child.Position.Length()+BoundingRadius(child.Shape))
		}
		return r
	default:
		return math.Inf(1)
	}
}

// Bounded reports whether the shape has a finite extent.
func Bounded(s state.Shape) bool {
	return !math.IsInf(BoundingRadius(s), 1)
}

func flatten(s *state.Shape, pose Pose, out []primitive) []primitive {
	switch s.Type {
	case state.ShapeSphere:
		return append(out, primitive{kind: primSwept, p0: pose.Position, p1: pose.Position, radius: s.Radius})
	case state.ShapeCapsule, state.ShapeCylinder:
		axis := pose.Orientation.Rotate(physics.Vec3{Y: s.HalfHeight})
		return append(out, primitive{kind: primSwept, p0: pose.Position.Sub(axis), p1: pose.Position.Add(axis), radius: s.Radius})
	case state.ShapeBox:
		return append(out, primitive{kind: primBox, pose: pose, half: s.HalfExtents})
	case state.ShapePlane:
		n := pose.Orientation.Rotate(s.Normal).Normalize()
		return append(out, primitive{kind: primPlane, normal: n, offset: s.Offset + pose.Position.Dot(n)})
	case state.ShapeHeightfield:
		return append(out, primitive{kind: primTerrain, pose: pose, shape: s})
	case state.ShapeCompound:
		for i := range s.Children {
			child := &s.Children[i]
			childPose := Pose{
				Position:    pose.Position.Add(pose.Orientation.Rotate(child.Position)),
				Orientation: pose.Orientation.Mul(child.Orientation).Normalize(),
			}
			out = flatten(&child.Shape, childPose, out)
		}
		return out
	default:
		r := BoundingRadius(*s)
		return append(out, primitive{kind: primSwept, p0: pose.Position, p1: pose.Position, radius: r})
	}
}

// Detect returns the contacts between shape a at pose pa and shape b at pose pb.
func Detect(a state.Shape, pa Pose, b state.Shape, pb Pose) []Contact {
	//1.- Reduce both shapes to world-space primitives.
	primsA := flatten(&a, pa, nil)
	primsB := flatten(&b, pb, nil)
	//2.- Test every primitive pair in a fixed order so results are reproducible.
	var contacts []Contact
	for i := range primsA {
		for j := range primsB {
			contacts = append(contacts, detectPair(&primsA[i], &primsB[j])...)
		}
	}
	return contacts
}

func flip(contacts []Contact) []Contact {
	for i := range contacts {
		contacts[i].Normal = contacts[i].Normal.Neg()
	}
	return contacts
}

func detectPair(a, b *primitive) []Contact {
	if a.kind > b.kind {
		return flip(detectPair(b, a))
	}
	switch a.kind {
	case primSwept:
		switch b.kind {
		case primSwept:
			return sweptSwept(a, b)
		case primBox:
			return sweptBox(a, b)
		case primPlane:
			return sweptPlane(a, b)
		case primTerrain:
			return pointsTerrain(a.ends(), a.radius, b)
		}
	case primBox:
		switch b.kind {
		case primBox:
			return boxBox(a, b)
		case primPlane:
			return boxPlane(a, b)
		case primTerrain:
			return pointsTerrain(boxCorners(a), 0, b)
		}
	}
	return nil
}

func sweptSwept(a, b *primitive) []Contact {
	pa, pb := closestSegmentSegment(a.p0, a.p1, b.p0, b.p1)
	return sphereSphere(pa, a.radius, pb, b.radius)
}

func sphereSphere(ca physics.Vec3, ra float64, cb physics.Vec3, rb float64) []Contact {
	delta := cb.Sub(ca)
	distSq := delta.LengthSq()
	sum := ra + rb
	if distSq >= sum*sum {
		return nil
	}
	dist := math.Sqrt(distSq)
	normal := physics.Vec3{Y: 1}
	if dist > 1e-12 {
		normal = delta.Scale(1 / dist)
	}
	return []Contact{{Normal: normal, Depth: sum - dist, Point: ca.Add(normal.Scale(ra - 0.5*(sum-dist)))}}
}

func sweptPlane(a, plane *primitive) []Contact {
	var contacts []Contact
	for _, c := range a.ends() {
		d := c.Dot(plane.normal) - plane.offset
		if d >= a.radius {
			continue
		}
		contacts = append(contacts, Contact{
			Normal: plane.normal.Neg(),
			Depth:  a.radius - d,
			Point:  c.Sub(plane.normal.Scale(d)),
		})
	}
	return contacts
}

func sweptBox(a, box *primitive) []Contact {
	//1.- Find the segment point closest to the box centre, then the box point closest to it.
	centre := box.pose.Position
	segPoint := closestPointSegment(a.p0, a.p1, centre)
	local := box.pose.Orientation.Conjugate().Rotate(segPoint.Sub(centre))
	clamped := physics.Vec3{
		X: clamp(local.X, -box.half.X, box.half.X),
		Y: clamp(local.Y, -box.half.Y, box.half.Y),
		Z: clamp(local.Z, -box.half.Z, box.half.Z),
	}
	if clamped == local {
		//2.- Centre inside the box: push out through the nearest face.
		normal, depth := insideFace(local, box.half)
		worldNormal := box.pose.Orientation.Rotate(normal)
		return []Contact{{Normal: worldNormal.Neg(), Depth: depth + a.radius, Point: segPoint}}
	}
	closest := centre.Add(box.pose.Orientation.Rotate(clamped))
	delta := closest.Sub(segPoint)
	distSq := delta.LengthSq()
	if distSq >= a.radius*a.radius {
		return nil
	}
	dist := math.Sqrt(distSq)
	return []Contact{{Normal: delta.Scale(1 / dist), Depth: a.radius - dist, Point: closest}}
}

func boxPlane(box, plane *primitive) []Contact {
	var contacts []Contact
	for _, corner := range boxCorners(box) {
		d := corner.Dot(plane.normal) - plane.offset
		if d >= 0 {
			continue
		}
		contacts = append(contacts, Contact{Normal: plane.normal.Neg(), Depth: -d, Point: corner})
	}
	return contacts
}

func boxBox(a, b *primitive) []Contact {
	var contacts []Contact
	//1.- Corners of A inside B push B away along B's nearest face.
	for _, corner := range boxCorners(a) {
		if normal, depth, ok := pointInBox(corner, b); ok {
			contacts = append(contacts, Contact{Normal: normal.Neg(), Depth: depth, Point: corner})
		}
	}
	//2.- Corners of B inside A push along A's nearest face.
	for _, corner := range boxCorners(b) {
		if normal, depth, ok := pointInBox(corner, a); ok {
			contacts = append(contacts, Contact{Normal: normal, Depth: depth, Point: corner})
		}
	}
	return contacts
}

func pointInBox(p physics.Vec3, box *primitive) (physics.Vec3, float64, bool) {
	local := box.pose.Orientation.Conjugate().Rotate(p.Sub(box.pose.Position))
	if math.Abs(local.X) >= box.half.X || math.Abs(local.Y) >= box.half.Y || math.Abs(local.Z) >= box.half.Z {
		return physics.Vec3{}, 0, false
	}
	normal, depth := insideFace(local, box.half)
	return box.pose.Orientation.Rotate(normal), depth, true
}

// insideFace returns the outward normal and depth of the face nearest an interior point.
func insideFace(local, half physics.Vec3) (physics.Vec3, float64) {
	dx := half.X - math.Abs(local.X)
	dy := half.Y - math.Abs(local.Y)
	dz := half.Z - math.Abs(local.Z)
	switch {
	case dy <= dx && dy <= dz:
		return physics.Vec3{Y: sign(local.Y)}, dy
	case dx <= dz:
		return physics.Vec3{X: sign(local.X)}, dx
	default:
		return physics.Vec3{Z: sign(local.Z)}, dz
	}
}

func boxCorners(box *primitive) []physics.Vec3 {
	corners := make([]physics.Vec3, 0, 8)
	for _, sx := range []float64{-1, 1} {
		for _, sy := range []float64{-1, 1} {
			for _, sz := range []float64{-1, 1} {
				local := physics.Vec3{X: sx * box.half.X, Y: sy * box.half.Y, Z: sz * box.half.Z}
				corners = append(corners, box.pose.Position.Add(box.pose.Orientation.Rotate(local)))
			}
		}
	}
	return corners
}

func pointsTerrain(points []physics.Vec3, radius float64, terrain *primitive) []Contact {
	var contacts []Contact
	up := terrain.pose.Orientation.Rotate(physics.Vec3{Y: 1})
	for _, p := range points {
		local := terrain.pose.Orientation.Conjugate().Rotate(p.Sub(terrain.pose.Position))
		h, ok := SampleHeight(*terrain.shape, local.X, local.Z)
		if !ok {
			continue
		}
		depth := h + radius - local.Y
		if depth <= 0 {
			continue
		}
		contacts = append(contacts, Contact{Normal: up.Neg(), Depth: depth, Point: p.Sub(up.Scale(radius))})
	}
	return contacts
}

// SampleHeight bilinearly interpolates a heightfield in its local XZ plane. The grid is
// centred on the origin with Scale.X and Scale.Z spacing; heights are multiplied by Scale.Y.
func SampleHeight(s state.Shape, x, z float64) (float64, bool) {
	if s.Type != state.ShapeHeightfield || s.Rows < 2 || s.Cols < 2 || s.Scale.X <= 0 || s.Scale.Z <= 0 {
		return 0, false
	}
	fx := x/s.Scale.X + float64(s.Cols-1)/2
	fz := z/s.Scale.Z + float64(s.Rows-1)/2
	if fx < 0 || fz < 0 || fx > float64(s.Cols-1) || fz > float64(s.Rows-1) {
		return 0, false
	}
	c0 := int(math.Min(math.Floor(fx), float64(s.Cols-2)))
	r0 := int(math.Min(math.Floor(fz), float64(s.Rows-2)))
	tx, tz := fx-float64(c0), fz-float64(r0)
	at := func(r, c int) float64 { return s.Heights[r*int(s.Cols)+c] }
	top := at(r0, c0)*(1-tx) + at(r0, c0+1)*tx
	bottom := at(r0+1, c0)*(1-tx) + at(r0+1, c0+1)*tx
	scaleY := s.Scale.Y
	if scaleY == 0 {
		scaleY = 1
	}
	return (top*(1-tz) + bottom*tz) * scaleY, true
}

func closestPointSegment(a, b, p physics.Vec3) physics.Vec3 {
	ab := b.Sub(a)
	lenSq := ab.LengthSq()
	if lenSq == 0 {
		return a
	}
	t := clamp(p.Sub(a).Dot(ab)/lenSq, 0, 1)
	return a.Add(ab.Scale(t))
}

func closestSegmentSegment(p1, q1, p2, q2 physics.Vec3) (physics.Vec3, physics.Vec3) {
	d1 := q1.Sub(p1)
	d2 := q2.Sub(p2)
	r := p1.Sub(p2)
	a := d1.Dot(d1)
	e := d2.Dot(d2)
	f := d2.Dot(r)
	var s, t float64
	switch {
	case a == 0 && e == 0:
		return p1, p2
	case a == 0:
		t = clamp(f/e, 0, 1)
	default:
		c := d1.Dot(r)
		if e == 0 {
			s = clamp(-c/a, 0, 1)
		} else {
			b := d1.Dot(d2)
			denom := a*e - b*b
			if denom != 0 {
				s = clamp((b*f-c*e)/denom, 0, 1)
			}
			t = (b*s + f) / e
			if t < 0 {
				t = 0
				s = clamp(-c/a, 0, 1)
			} else if t > 1 {
				t = 1
				s = clamp((b-c)/a, 0, 1)
			}
		}
	}
	return p1.Add(d1.Scale(s)), p2.Add(d2.Scale(t))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func sign(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}
