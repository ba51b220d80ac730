package state

import (
	"fmt"

	"rigidsync/broker/internal/physics"
)

// ShapeType tags the payload carried by a Shape.
type ShapeType uint8

const (
	ShapeSphere ShapeType = iota + 1
	ShapeBox
	ShapeCapsule
	ShapeCylinder
	ShapePlane
	ShapeConvexHull
	ShapeTriangleMesh
	ShapeHeightfield
	ShapeCompound
)

// String names the shape tag.
func (t ShapeType) String() string {
	switch t {
	case ShapeSphere:
		return "sphere"
	case ShapeBox:
		return "box"
	case ShapeCapsule:
		return "capsule"
	case ShapeCylinder:
		return "cylinder"
	case ShapePlane:
		return "plane"
	case ShapeConvexHull:
		return "convex-hull"
	case ShapeTriangleMesh:
		return "triangle-mesh"
	case ShapeHeightfield:
		return "heightfield"
	case ShapeCompound:
		return "compound"
	default:
		return fmt.Sprintf("shape(%d)", uint8(t))
	}
}

// Shape is a self-describing collision shape. Only the fields relevant to Type are meaningful:
//
//	sphere        Radius
//	box           HalfExtents
//	capsule       Radius, HalfHeight (along local Y)
//	cylinder      Radius, HalfHeight (along local Y)
//	plane         Normal, Offset (points p with p·Normal = Offset)
//	convex hull   Points
//	triangle mesh Points, Indices
//	heightfield   Rows, Cols, Heights (row-major), Scale
//	compound      Children
type Shape struct {
	Type        ShapeType       `json:"type"`
	Radius      float64         `json:"radius,omitempty"`
	HalfExtents physics.Vec3    `json:"halfExtents,omitempty"`
	HalfHeight  float64         `json:"halfHeight,omitempty"`
	Normal      physics.Vec3    `json:"normal,omitempty"`
	Offset      float64         `json:"offset,omitempty"`
	Points      []physics.Vec3  `json:"points,omitempty"`
	Indices     []uint32        `json:"indices,omitempty"`
	Rows        uint32          `json:"rows,omitempty"`
	Cols        uint32          `json:"cols,omitempty"`
	Heights     []float64       `json:"heights,omitempty"`
	Scale       physics.Vec3    `json:"scale,omitempty"`
	Children    []CompoundChild `json:"children,omitempty"`
}

// CompoundChild places a sub-shape in the parent's local frame.
type CompoundChild struct {
	Position    physics.Vec3 `json:"position"`
	Orientation physics.Quat `json:"orientation"`
	Shape       Shape        `json:"shape"`
}

// Sphere builds a sphere shape.
func Sphere(radius float64) Shape { return Shape{Type: ShapeSphere, Radius: radius} }

// Box builds a box shape from its half extents.
func Box(halfExtents physics.Vec3) Shape { return Shape{Type: ShapeBox, HalfExtents: halfExtents} }

// Capsule builds a Y-aligned capsule.
func Capsule(radius, halfHeight float64) Shape {
	return Shape{Type: ShapeCapsule, Radius: radius, HalfHeight: halfHeight}
}

// Cylinder builds a Y-aligned cylinder.
func Cylinder(radius, halfHeight float64) Shape {
	return Shape{Type: ShapeCylinder, Radius: radius, HalfHeight: halfHeight}
}

// Plane builds an infinite plane.
func Plane(normal physics.Vec3, offset float64) Shape {
	return Shape{Type: ShapePlane, Normal: normal, Offset: offset}
}

// Clone deep copies the shape including nested compound children.
func (s Shape) Clone() Shape {
	out := s
	if s.Points != nil {
		out.Points = append([]physics.Vec3(nil), s.Points...)
	}
	if s.Indices != nil {
		out.Indices = append([]uint32(nil), s.Indices...)
	}
	if s.Heights != nil {
		out.Heights = append([]float64(nil), s.Heights...)
	}
	if s.Children != nil {
		out.Children = make([]CompoundChild, len(s.Children))
		for i, child := range s.Children {
			out.Children[i] = CompoundChild{Position: child.Position, Orientation: child.Orientation, Shape: child.Shape.Clone()}
		}
	}
	return out
}

// Validate checks the payload is usable for the tagged type.
func (s Shape) Validate() error {
	switch s.Type {
	case ShapeSphere:
		if !(s.Radius > 0) {
			return fmt.Errorf("sphere radius must be positive")
		}
	case ShapeBox:
		if !(s.HalfExtents.X > 0 && s.HalfExtents.Y > 0 && s.HalfExtents.Z > 0) {
			return fmt.Errorf("box half extents must be positive")
		}
	case ShapeCapsule, ShapeCylinder:
		if !(s.Radius > 0) || s.HalfHeight < 0 {
			return fmt.Errorf("%s requires positive radius and non-negative half height", s.Type)
		}
	case ShapePlane:
		if s.Normal.LengthSq() == 0 {
			return fmt.Errorf("plane normal must be non-zero")
		}
	case ShapeConvexHull:
		if len(s.Points) == 0 {
			return fmt.Errorf("convex hull requires points")
		}
	case ShapeTriangleMesh:
		if len(s.Indices)%3 != 0 {
			return fmt.Errorf("triangle mesh index count must be a multiple of 3")
		}
		for _, idx := range s.Indices {
			if int(idx) >= len(s.Points) {
				return fmt.Errorf("triangle mesh index %d out of range", idx)
			}
		}
	case ShapeHeightfield:
		if uint64(s.Rows)*uint64(s.Cols) != uint64(len(s.Heights)) {
			return fmt.Errorf("heightfield expects %dx%d samples, got %d", s.Rows, s.Cols, len(s.Heights))
		}
	case ShapeCompound:
		for i, child := range s.Children {
			if err := child.Shape.Validate(); err != nil {
				return fmt.Errorf("compound child %d: %w", i, err)
			}
		}
	default:
		return fmt.Errorf("unknown shape type %d", s.Type)
	}
	return nil
}
