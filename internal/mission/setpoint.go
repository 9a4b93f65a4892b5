package mission

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// ErrInvalidSetpoint is returned by Setpoint.Validate.
var ErrInvalidSetpoint = errors.New("invalid setpoint")

// Mode is the primary control mode a setpoint requests from the flight stack.
type Mode int

const (
	ModePosition Mode = iota
	ModeLoiter
	ModeTakeoff
	ModeLand
	ModeIdle
)

func (m Mode) String() string {
	switch m {
	case ModePosition:
		return "position"
	case ModeLoiter:
		return "loiter"
	case ModeTakeoff:
		return "takeoff"
	case ModeLand:
		return "land"
	case ModeIdle:
		return "idle"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// Frame is the coordinate frame of a setpoint's position and velocity.
type Frame int

const (
	FrameLocalNED Frame = iota
	FrameBodyNED
)

func (f Frame) String() string {
	if f == FrameBodyNED {
		return "body_ned"
	}
	return "local_ned"
}

// Setpoint is the command produced once per tick.
type Setpoint struct {
	X, Y, Z    float64
	VX, VY, VZ float64
	Yaw        float64

	IgnorePosition bool
	IgnoreVelocity bool
	IgnoreAltitude bool
	IgnoreAttitude bool

	IsTakeoff bool
	IsLand    bool
	IsLoiter  bool
	IsIdle    bool

	Frame Frame
}

// Position returns the position fields as a vector.
func (s Setpoint) Position() r3.Vector { return r3.Vector{X: s.X, Y: s.Y, Z: s.Z} }

// Velocity returns the velocity fields as a vector.
func (s Setpoint) Velocity() r3.Vector { return r3.Vector{X: s.VX, Y: s.VY, Z: s.VZ} }

// Mode resolves the primary mode. When several flags are set the downstream
// priority loiter > takeoff > land > idle > position applies.
func (s Setpoint) Mode() Mode {
	switch {
	case s.IsLoiter:
		return ModeLoiter
	case s.IsTakeoff:
		return ModeTakeoff
	case s.IsLand:
		return ModeLand
	case s.IsIdle:
		return ModeIdle
	}
	return ModePosition
}

// Validate checks that at most one mode flag is set and that every field the
// setpoint does not ignore is finite.
func (s Setpoint) Validate() error {
	flags := 0
	for _, f := range []bool{s.IsTakeoff, s.IsLand, s.IsLoiter, s.IsIdle} {
		if f {
			flags++
		}
	}
	if flags > 1 {
		return fmt.Errorf("%w: %d mode flags set", ErrInvalidSetpoint, flags)
	}
	if s.Mode() == ModePosition && s.IgnorePosition && s.IgnoreVelocity {
		return fmt.Errorf("%w: position mode ignores both position and velocity", ErrInvalidSetpoint)
	}
	check := func(name string, ignored bool, vs ...float64) error {
		if ignored {
			return nil
		}
		for _, v := range vs {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: non-finite %s", ErrInvalidSetpoint, name)
			}
		}
		return nil
	}
	if err := check("position", s.IgnorePosition, s.X, s.Y); err != nil {
		return err
	}
	if err := check("altitude", s.IgnoreAltitude && s.IgnorePosition, s.Z); err != nil {
		return err
	}
	if err := check("velocity", s.IgnoreVelocity, s.VX, s.VY, s.VZ); err != nil {
		return err
	}
	return check("yaw", s.IgnoreAttitude, s.Yaw)
}

// Idle requests no motion; every field is ignored.
func Idle() Setpoint {
	return Setpoint{
		IgnorePosition: true,
		IgnoreVelocity: true,
		IgnoreAltitude: true,
		IgnoreAttitude: true,
		IsIdle:         true,
	}
}

// HoldPosition flies to p in the local frame.
func HoldPosition(p r3.Vector) Setpoint {
	return Setpoint{
		X: p.X, Y: p.Y, Z: p.Z,
		IgnoreVelocity: true,
		IgnoreAttitude: true,
	}
}

// HoldPositionYaw flies to p in the local frame facing yaw.
func HoldPositionYaw(p r3.Vector, yaw float64) Setpoint {
	sp := HoldPosition(p)
	sp.Yaw = yaw
	sp.IgnoreAttitude = false
	return sp
}

// Velocity commands v in frame, with a heading.
func Velocity(v r3.Vector, frame Frame, yaw float64) Setpoint {
	return Setpoint{
		VX: v.X, VY: v.Y, VZ: v.Z,
		Yaw:            yaw,
		IgnorePosition: true,
		IgnoreAltitude: true,
		Frame:          frame,
	}
}

// Takeoff climbs to p.
func Takeoff(p r3.Vector) Setpoint {
	sp := HoldPosition(p)
	sp.IsTakeoff = true
	return sp
}

// Land descends at p. p.Z is the touchdown altitude.
func Land(p r3.Vector) Setpoint {
	sp := HoldPosition(p)
	sp.IsLand = true
	return sp
}

// Loiter holds at p.
func Loiter(p r3.Vector) Setpoint {
	sp := HoldPosition(p)
	sp.IsLoiter = true
	return sp
}
