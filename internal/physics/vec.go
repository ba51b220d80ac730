package physics

import "math"

// Vec3 is a lightweight vector helper used by the physics utilities.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// V3 is shorthand for building vectors in scene and test code.
func V3(x, y, z float64) Vec3 { return Vec3{X: x, Y: y, Z: z} }

// Add returns the component-wise sum.
func (v Vec3) Add(o Vec3) Vec3 { return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z} }

// Sub returns the component-wise difference.
func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z} }

// Scale multiplies each component by s.
func (v Vec3) Scale(s float64) Vec3 { return Vec3{X: v.X * s, Y: v.Y * s, Z: v.Z * s} }

// Neg flips the vector direction.
func (v Vec3) Neg() Vec3 { return Vec3{X: -v.X, Y: -v.Y, Z: -v.Z} }

// Dot returns the scalar product.
func (v Vec3) Dot(o Vec3) float64 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }

// Cross returns the vector product.
func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		X: v.Y*o.Z - v.Z*o.Y,
		Y: v.Z*o.X - v.X*o.Z,
		Z: v.X*o.Y - v.Y*o.X,
	}
}

// LengthSq returns the squared magnitude.
func (v Vec3) LengthSq() float64 { return v.Dot(v) }

// Length returns the magnitude.
func (v Vec3) Length() float64 { return math.Sqrt(v.LengthSq()) }

// Normalize returns the unit vector or the zero vector when the input has no length.
func (v Vec3) Normalize() Vec3 {
	length := v.Length()
	if length == 0 || math.IsNaN(length) {
		return Vec3{}
	}
	return v.Scale(1 / length)
}

// IsFinite reports whether every component is a finite number.
func (v Vec3) IsFinite() bool {
	return isFinite(v.X) && isFinite(v.Y) && isFinite(v.Z)
}

// ClampMagnitude limits the vector length to limit; non-positive limits disable the guard.
func (v Vec3) ClampMagnitude(limit float64) Vec3 {
	//1.- Skip clamping when the limit disables the guard.
	if !(limit > 0) {
		return v
	}
	magnitudeSq := v.LengthSq()
	if magnitudeSq == 0 || magnitudeSq <= limit*limit {
		return v
	}
	//2.- Scale each axis uniformly so the resulting magnitude matches the limit.
	return v.Scale(limit / math.Sqrt(magnitudeSq))
}

// Max returns the largest absolute component.
func (v Vec3) Max() float64 {
	return math.Max(math.Abs(v.X), math.Max(math.Abs(v.Y), math.Abs(v.Z)))
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// IsFinite reports whether x is neither NaN nor infinite.
func IsFinite(x float64) bool { return isFinite(x) }
