// Package mavlink bridges the mission loop to a PX4 flight controller:
// local position and distance sensor messages feed the sensor topics, and
// every published setpoint becomes a SET_POSITION_TARGET_LOCAL_NED.
package mavlink

import (
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/golang/geo/r3"

	"github.com/banshee-data/offboard/internal/mission"
	"github.com/banshee-data/offboard/internal/sensor"
)

// PX4 reads these type mask bits as setpoint kinds. They are not part of
// the common dialect.
const (
	typeMaskTakeoff common.POSITION_TARGET_TYPEMASK = 0x1000
	typeMaskLand    common.POSITION_TARGET_TYPEMASK = 0x2000
	typeMaskLoiter  common.POSITION_TARGET_TYPEMASK = 0x3000
	typeMaskIdle    common.POSITION_TARGET_TYPEMASK = 0x4000
)

const (
	maskPosition = common.POSITION_TARGET_TYPEMASK_X_IGNORE |
		common.POSITION_TARGET_TYPEMASK_Y_IGNORE |
		common.POSITION_TARGET_TYPEMASK_Z_IGNORE
	maskVelocity = common.POSITION_TARGET_TYPEMASK_VX_IGNORE |
		common.POSITION_TARGET_TYPEMASK_VY_IGNORE |
		common.POSITION_TARGET_TYPEMASK_VZ_IGNORE
	maskAcceleration = common.POSITION_TARGET_TYPEMASK_AX_IGNORE |
		common.POSITION_TARGET_TYPEMASK_AY_IGNORE |
		common.POSITION_TARGET_TYPEMASK_AZ_IGNORE
)

// TypeMask derives the type mask for sp. Acceleration and yaw rate are
// never commanded.
func TypeMask(sp mission.Setpoint) common.POSITION_TARGET_TYPEMASK {
	mask := maskAcceleration | common.POSITION_TARGET_TYPEMASK_YAW_RATE_IGNORE
	if sp.IgnorePosition {
		mask |= maskPosition
	}
	if sp.IgnoreAltitude {
		mask |= common.POSITION_TARGET_TYPEMASK_Z_IGNORE
	}
	if sp.IgnoreVelocity {
		mask |= maskVelocity
	}
	if sp.IgnoreAttitude {
		mask |= common.POSITION_TARGET_TYPEMASK_YAW_IGNORE
	}
	switch sp.Mode() {
	case mission.ModeTakeoff:
		mask |= typeMaskTakeoff
	case mission.ModeLand:
		mask |= typeMaskLand
	case mission.ModeLoiter:
		mask |= typeMaskLoiter
	case mission.ModeIdle:
		mask |= typeMaskIdle
	}
	return mask
}

// Frame maps a setpoint frame to its MAVLink frame.
func Frame(f mission.Frame) common.MAV_FRAME {
	if f == mission.FrameBodyNED {
		return common.MAV_FRAME_BODY_NED
	}
	return common.MAV_FRAME_LOCAL_NED
}

// Target identifies the flight controller the bridge commands.
type Target struct {
	System    uint8
	Component uint8
}

// SetpointMessage builds the message for sp.
func SetpointMessage(sp mission.Setpoint, target Target, bootMs uint32) *common.MessageSetPositionTargetLocalNed {
	return &common.MessageSetPositionTargetLocalNed{
		TimeBootMs:      bootMs,
		TargetSystem:    target.System,
		TargetComponent: target.Component,
		CoordinateFrame: Frame(sp.Frame),
		TypeMask:        TypeMask(sp),
		X:               float32(sp.X),
		Y:               float32(sp.Y),
		Z:               float32(sp.Z),
		Vx:              float32(sp.VX),
		Vy:              float32(sp.VY),
		Vz:              float32(sp.VZ),
		Yaw:             float32(sp.Yaw),
	}
}

// GripperMessage opens (release) or closes the payload gripper.
func GripperMessage(release bool, target Target) *common.MessageCommandLong {
	action := float32(common.GRIPPER_ACTION_GRAB)
	if release {
		action = float32(common.GRIPPER_ACTION_RELEASE)
	}
	return &common.MessageCommandLong{
		TargetSystem:    target.System,
		TargetComponent: target.Component,
		Command:         common.MAV_CMD_DO_GRIPPER,
		Param1:          1,
		Param2:          action,
	}
}

// PositionSample converts a LOCAL_POSITION_NED message.
func PositionSample(m *common.MessageLocalPositionNed, at time.Time) sensor.PositionVelocitySample {
	return sensor.PositionVelocitySample{
		Position: r3.Vector{X: float64(m.X), Y: float64(m.Y), Z: float64(m.Z)},
		Velocity: r3.Vector{X: float64(m.Vx), Y: float64(m.Vy), Z: float64(m.Vz)},
		At:       at,
	}
}

// RangeSample converts a DISTANCE_SENSOR message; distances arrive in cm.
func RangeSample(m *common.MessageDistanceSensor) sensor.RangeSample {
	return sensor.RangeSample{
		Distance: float64(m.CurrentDistance) / 100,
		MinValid: float64(m.MinDistance) / 100,
		MaxValid: float64(m.MaxDistance) / 100,
	}
}
