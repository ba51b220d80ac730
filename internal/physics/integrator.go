package physics

// Limits bounds the speeds an integrator may produce; zero disables a guard.
type Limits struct {
	MaxLinearSpeed  float64
	MaxAngularSpeed float64
}

// IntegrateLinear applies velocity over the timestep to update the position.
func IntegrateLinear(position *Vec3, velocity *Vec3, step float64, limits Limits) {
	//1.- Skip integration when inputs are missing or invalid.
	if position == nil || velocity == nil || step <= 0 {
		return
	}
	//2.- Clamp the velocity vector so runaway bodies stay representable.
	*velocity = velocity.ClampMagnitude(limits.MaxLinearSpeed)
	//3.- Advance each axis using semi-implicit Euler integration.
	position.X += velocity.X * step
	position.Y += velocity.Y * step
	position.Z += velocity.Z * step
}

// IntegrateAngular applies angular velocity to the orientation quaternion.
func IntegrateAngular(orientation *Quat, angularVelocity *Vec3, step float64, limits Limits) {
	//1.- Require valid orientation data before attempting integration.
	if orientation == nil || angularVelocity == nil || step <= 0 {
		return
	}
	//2.- Clamp the angular velocity magnitude against the configured limit.
	*angularVelocity = angularVelocity.ClampMagnitude(limits.MaxAngularSpeed)
	//3.- Rotate the orientation and renormalise to keep it a unit quaternion.
	*orientation = orientation.Integrate(*angularVelocity, step)
}

// ApplyAcceleration adds acceleration*step to the velocity in place.
func ApplyAcceleration(velocity *Vec3, acceleration Vec3, step float64) {
	if velocity == nil || step <= 0 {
		return
	}
	velocity.X += acceleration.X * step
	velocity.Y += acceleration.Y * step
	velocity.Z += acceleration.Z * step
}
