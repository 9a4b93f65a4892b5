// Package control implements the feedback controllers used by the mission
// states.
package control

import "math"

// Config holds the tuning of a single-axis PID controller.
//
// The integral and derivative terms carry fixed gain multipliers
// (IntegralGain and DerivativeGain). The controller works in ticks, not
// seconds: the same gains give a slower response at a longer tick period.
type Config struct {
	Kp   float64 `json:"kp" yaml:"kp"`
	Ki   float64 `json:"ki" yaml:"ki"`
	Kd   float64 `json:"kd" yaml:"kd"`
	Bias float64 `json:"bias" yaml:"bias"`

	OutputMin float64 `json:"output_min" yaml:"output_min"`
	OutputMax float64 `json:"output_max" yaml:"output_max"`

	// SaturationLimit bounds Ki*integral; the integral itself is clamped
	// to +/- SaturationLimit/Ki.
	SaturationLimit float64 `json:"saturation_limit" yaml:"saturation_limit"`

	IntegralGain   float64 `json:"integral_gain,omitempty" yaml:"integral_gain,omitempty"`
	DerivativeGain float64 `json:"derivative_gain,omitempty" yaml:"derivative_gain,omitempty"`

	// Smooth averages each new output with the previous one before clamping.
	Smooth bool `json:"smooth,omitempty" yaml:"smooth,omitempty"`
}

// State is the controller memory carried between ticks.
type State struct {
	LastError  float64
	Integral   float64
	LastOutput float64
}

// PID is a discrete PID controller with integral anti-windup and output
// clamping. It is not safe for concurrent use.
type PID struct {
	cfg   Config
	state State
}

// NewPID returns a controller for cfg. Zero IntegralGain and DerivativeGain
// default to 0.1 and 10.
func NewPID(cfg Config) *PID {
	if cfg.IntegralGain == 0 {
		cfg.IntegralGain = 0.1
	}
	if cfg.DerivativeGain == 0 {
		cfg.DerivativeGain = 10
	}
	if cfg.OutputMin > cfg.OutputMax {
		cfg.OutputMin, cfg.OutputMax = cfg.OutputMax, cfg.OutputMin
	}
	return &PID{cfg: cfg}
}

// Config returns the controller tuning.
func (p *PID) Config() Config { return p.cfg }

// State returns a copy of the controller memory.
func (p *PID) State() State { return p.state }

// integralLimit is the anti-windup bound on the accumulated error.
func (p *PID) integralLimit() float64 {
	if p.cfg.Ki == 0 {
		return 0
	}
	return math.Abs(p.cfg.SaturationLimit / p.cfg.Ki)
}

// Step advances the controller by one tick with the given error and returns
// the clamped output. A non-finite error holds the previous output.
func (p *PID) Step(err float64) float64 {
	if math.IsNaN(err) || math.IsInf(err, 0) {
		return p.Hold()
	}

	limit := p.integralLimit()
	p.state.Integral = clamp(p.state.Integral+err, -limit, limit)

	out := p.cfg.Bias +
		p.cfg.Kp*err +
		p.cfg.Ki*p.cfg.IntegralGain*p.state.Integral +
		p.cfg.Kd*p.cfg.DerivativeGain*(err-p.state.LastError)

	if p.cfg.Smooth {
		out = (out + p.state.LastOutput) / 2
	}
	out = clamp(out, p.cfg.OutputMin, p.cfg.OutputMax)

	p.state.LastError = err
	p.state.LastOutput = out
	return out
}

// Hold returns the previous output without advancing the controller. States
// call it while their input is stale.
func (p *PID) Hold() float64 {
	return p.state.LastOutput
}

// Reset clears the controller memory.
func (p *PID) Reset() {
	p.state = State{}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
