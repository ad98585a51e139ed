// Package control holds the actuation-side control primitives: the PID
// control law, the fixed-interval scheduler that drives it, and the
// single-slot channel that decouples the controller from irregular sensor
// arrival.
package control

import (
	"errors"
	"math"
)

// Contract violations rejected at the Compute boundary. State is left
// untouched when these are returned.
var (
	ErrNonPositiveDt = errors.New("control: dt must be > 0")
	ErrInvalidInput  = errors.New("control: setpoint or measurement is NaN")
)

// ClampPolicy selects the anti-windup strategy applied inside Compute.
type ClampPolicy int

const (
	// ClampNone applies no anti-windup. The integral term can grow without
	// bound while the error persists.
	ClampNone ClampPolicy = iota
	// ClampIntegral bounds the integral accumulator to [-Limit, +Limit].
	ClampIntegral
	// ClampOutput bounds the computed output to [-Limit, +Limit] and leaves
	// the integral accumulator free.
	ClampOutput
)

// ParseClampPolicy maps a config string onto a ClampPolicy.
func ParseClampPolicy(s string) (ClampPolicy, error) {
	switch s {
	case "", "none":
		return ClampNone, nil
	case "clamp-integral":
		return ClampIntegral, nil
	case "clamp-output":
		return ClampOutput, nil
	default:
		return ClampNone, errors.New("control: unknown clamp policy " + s)
	}
}

// PID is a per-axis proportional-integral-derivative controller. Not safe
// for concurrent use; each axis is owned by one scheduler task.
type PID struct {
	kp, ki, kd float64
	policy     ClampPolicy
	limit      float64

	prevError float64
	integral  float64
}

// NewPID creates a controller with the given gains and no anti-windup.
func NewPID(kp, ki, kd float64) *PID {
	return &PID{kp: kp, ki: ki, kd: kd}
}

// WithAntiWindup sets the clamp policy and its symmetric limit. A
// non-positive limit disables clamping regardless of policy.
func (p *PID) WithAntiWindup(policy ClampPolicy, limit float64) *PID {
	p.policy = policy
	p.limit = limit
	return p
}

// Compute advances the controller one step and returns the command value.
// dt is the elapsed interval in seconds and must be > 0; NaN setpoint or
// measurement is rejected. On error the controller state is unchanged.
//
// The integral only accumulates when ki is non-zero, so a purely
// proportional controller carries no windup state.
func (p *PID) Compute(setpoint, measurement, dt float64) (float64, error) {
	if dt <= 0 || math.IsNaN(dt) {
		return 0, ErrNonPositiveDt
	}
	if math.IsNaN(setpoint) || math.IsNaN(measurement) {
		return 0, ErrInvalidInput
	}

	err := setpoint - measurement
	if p.ki != 0 {
		p.integral += err * dt
		if p.policy == ClampIntegral && p.limit > 0 {
			p.integral = clamp(p.integral, p.limit)
		}
	}
	derivative := (err - p.prevError) / dt
	p.prevError = err

	out := p.kp*err + p.ki*p.integral + p.kd*derivative
	if p.policy == ClampOutput && p.limit > 0 {
		out = clamp(out, p.limit)
	}
	return out, nil
}

// Reset clears the integral accumulator and error history.
func (p *PID) Reset() {
	p.prevError = 0
	p.integral = 0
}

// Integral exposes the accumulator for tests and diagnostics.
func (p *PID) Integral() float64 { return p.integral }

func clamp(v, limit float64) float64 {
	if v > limit {
		return limit
	}
	if v < -limit {
		return -limit
	}
	return v
}
