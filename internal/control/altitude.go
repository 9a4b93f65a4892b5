package control

import (
	"fmt"
	"math"
	"time"

	"go.einride.tech/pid"
)

// AltitudeMode selects how AltitudeHold derives a vertical speed.
type AltitudeMode string

const (
	// AltitudeStep commands a fixed climb or descent speed outside a dead band.
	AltitudeStep AltitudeMode = "step"
	// AltitudePID drives vertical speed from a continuous PID loop.
	AltitudePID AltitudeMode = "pid"
)

// AltitudeConfig tunes an AltitudeHold.
type AltitudeConfig struct {
	Mode     AltitudeMode `json:"mode" yaml:"mode"`
	DeadBand float64      `json:"dead_band" yaml:"dead_band"`
	Speed    float64      `json:"speed" yaml:"speed"`

	Kp float64 `json:"kp,omitempty" yaml:"kp,omitempty"`
	Ki float64 `json:"ki,omitempty" yaml:"ki,omitempty"`
	Kd float64 `json:"kd,omitempty" yaml:"kd,omitempty"`
}

// AltitudeHold produces a NED vertical speed that keeps the vehicle at a
// target Z while it is flown in velocity mode.
type AltitudeHold struct {
	cfg    AltitudeConfig
	period time.Duration
	loop   pid.Controller
}

// NewAltitudeHold validates cfg and returns a hold updated once per period.
func NewAltitudeHold(cfg AltitudeConfig, period time.Duration) (*AltitudeHold, error) {
	switch cfg.Mode {
	case "":
		cfg.Mode = AltitudeStep
	case AltitudeStep, AltitudePID:
	default:
		return nil, fmt.Errorf("unknown altitude mode %q", cfg.Mode)
	}
	if cfg.Speed <= 0 {
		return nil, fmt.Errorf("altitude speed must be positive, got %v", cfg.Speed)
	}
	return &AltitudeHold{
		cfg:    cfg,
		period: period,
		loop: pid.Controller{
			Config: pid.ControllerConfig{
				ProportionalGain: cfg.Kp,
				IntegralGain:     cfg.Ki,
				DerivativeGain:   cfg.Kd,
			},
		},
	}, nil
}

// Update returns the vertical speed for the current and target Z.
// NED Z grows downward, so a vehicle below its target gets a negative speed.
func (a *AltitudeHold) Update(z, targetZ float64) float64 {
	if a.cfg.Mode == AltitudePID {
		a.loop.Update(pid.ControllerInput{
			ReferenceSignal:  targetZ,
			ActualSignal:     z,
			SamplingInterval: a.period,
		})
		return clamp(a.loop.State.ControlSignal, -a.cfg.Speed, a.cfg.Speed)
	}

	e := z - targetZ
	if math.Abs(e) <= a.cfg.DeadBand {
		return 0
	}
	if e > 0 {
		return -a.cfg.Speed
	}
	return a.cfg.Speed
}

// Reset clears the PID memory.
func (a *AltitudeHold) Reset() {
	a.loop.Reset()
}
