// Package control implements the bounded speed-to-motor PID regulator.
// It deliberately forgoes back-calculated anti-windup: output saturation
// alone is the accepted simplification for this controller.
package control

import "time"

// PID is a variable-dt, output-saturated PID regulator.
type PID struct {
	kp, ki, kd float64
	minOutput  float64
	maxOutput  float64

	integral  float64
	prevError float64
	hasPrev   bool
}

// New constructs a PID with the given gains and output saturation bounds.
func New(kp, ki, kd, minOutput, maxOutput float64) *PID {
	return &PID{
		kp:        kp,
		ki:        ki,
		kd:        kd,
		minOutput: minOutput,
		maxOutput: maxOutput,
	}
}

// Reset zeroes the integrator and clears the derivative's "has previous
// error" flag, so the next Update behaves as if freshly constructed.
func (p *PID) Reset() {
	p.integral = 0
	p.prevError = 0
	p.hasPrev = false
}

// Update computes the saturated control output for the given target and
// measurement, over a step of dt. The integrator only accumulates and the
// derivative only engages when dt > 0; the very first call after
// construction or Reset has no derivative term since there is no previous
// error yet.
func (p *PID) Update(target, measurement float64, dt time.Duration) float64 {
	err := target - measurement

	dtSeconds := dt.Seconds()
	if dtSeconds > 0 {
		p.integral += err * dtSeconds
	}

	var derivative float64
	if p.hasPrev && dtSeconds > 0 {
		derivative = (err - p.prevError) / dtSeconds
	}

	out := p.kp*err + p.ki*p.integral + p.kd*derivative

	if out > p.maxOutput {
		out = p.maxOutput
	} else if out < p.minOutput {
		out = p.minOutput
	}

	p.prevError = err
	p.hasPrev = true

	return out
}
