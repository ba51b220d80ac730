package physics

import "math"

// Quat is a rotation quaternion stored scalar-first.
type Quat struct {
	W float64 `json:"w"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// IdentityQuat returns the no-rotation quaternion.
func IdentityQuat() Quat { return Quat{W: 1} }

// AxisAngle builds a rotation of angle radians about axis.
func AxisAngle(axis Vec3, angle float64) Quat {
	unit := axis.Normalize()
	if unit == (Vec3{}) {
		return IdentityQuat()
	}
	half := angle * 0.5
	s := math.Sin(half)
	return Quat{W: math.Cos(half), X: unit.X * s, Y: unit.Y * s, Z: unit.Z * s}
}

// Mul composes q then o (q*o applies o first).
func (q Quat) Mul(o Quat) Quat {
	return Quat{
		W: q.W*o.W - q.X*o.X - q.Y*o.Y - q.Z*o.Z,
		X: q.W*o.X + q.X*o.W + q.Y*o.Z - q.Z*o.Y,
		Y: q.W*o.Y - q.X*o.Z + q.Y*o.W + q.Z*o.X,
		Z: q.W*o.Z + q.X*o.Y - q.Y*o.X + q.Z*o.W,
	}
}

// Conjugate returns the inverse rotation for unit quaternions.
func (q Quat) Conjugate() Quat { return Quat{W: q.W, X: -q.X, Y: -q.Y, Z: -q.Z} }

// Normalize rescales q to unit length, falling back to identity for degenerate input.
func (q Quat) Normalize() Quat {
	n := math.Sqrt(q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z)
	if n == 0 || math.IsNaN(n) {
		return IdentityQuat()
	}
	inv := 1 / n
	return Quat{W: q.W * inv, X: q.X * inv, Y: q.Y * inv, Z: q.Z * inv}
}

// Rotate applies the rotation to v.
func (q Quat) Rotate(v Vec3) Vec3 {
	//1.- Use the t = 2*(u x v) form to avoid building a full matrix.
	u := Vec3{X: q.X, Y: q.Y, Z: q.Z}
	t := u.Cross(v).Scale(2)
	return v.Add(t.Scale(q.W)).Add(u.Cross(t))
}

// Integrate advances the orientation by angular velocity omega over dt seconds.
func (q Quat) Integrate(omega Vec3, dt float64) Quat {
	//1.- Skip the update entirely when nothing rotates so resting bodies keep exact bits.
	if dt <= 0 || omega == (Vec3{}) {
		return q
	}
	//2.- Apply dq = 0.5 * (0, omega) * q then renormalise.
	spin := Quat{X: omega.X, Y: omega.Y, Z: omega.Z}.Mul(q)
	next := Quat{
		W: q.W + 0.5*dt*spin.W,
		X: q.X + 0.5*dt*spin.X,
		Y: q.Y + 0.5*dt*spin.Y,
		Z: q.Z + 0.5*dt*spin.Z,
	}
	return next.Normalize()
}

// IsFinite reports whether every component is a finite number.
func (q Quat) IsFinite() bool {
	return isFinite(q.W) && isFinite(q.X) && isFinite(q.Y) && isFinite(q.Z)
}

// Unitize renormalises q only when its squared length drifts beyond 1e-5 of unity, so restored
// orientations keep their exact encoded components.
func (q Quat) Unitize() Quat {
	n := q.W*q.W + q.X*q.X + q.Y*q.Y + q.Z*q.Z
	if math.Abs(n-1) <= 1e-5 {
		return q
	}
	return q.Normalize()
}
