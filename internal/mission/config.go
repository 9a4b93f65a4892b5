package mission

import (
	"fmt"
	"time"

	"github.com/banshee-data/offboard/internal/control"
	"github.com/banshee-data/offboard/internal/sensor"
)

// Kind selects a mission definition.
type Kind string

const (
	KindAvoidance Kind = "avoidance"
	KindDelivery  Kind = "delivery"
	KindHoming    Kind = "homing"
)

// Kinds lists the supported missions.
var Kinds = []Kind{KindAvoidance, KindDelivery, KindHoming}

// LateralMode selects the sideways command used while transiting in
// velocity mode.
type LateralMode string

const (
	// LateralDrift applies DriftSpeed for the first DriftTicks of a transit
	// leg and nothing afterwards.
	LateralDrift LateralMode = "drift"
	// LateralCrossTrack steers back onto the home-target line whenever the
	// vehicle is more than CorrectionBand away from it.
	LateralCrossTrack LateralMode = "cross_track"
	LateralOff        LateralMode = "off"
)

type LateralConfig struct {
	Mode            LateralMode
	DriftTicks      int
	DriftSpeed      float64
	CorrectionSpeed float64
	CorrectionBand  float64
}

// AvoidanceConfig tunes the obstacle-avoiding transit mission. Distances are
// metres, speeds m/s, squared quantities m^2 or m^2/s^2.
type AvoidanceConfig struct {
	ReferenceSamples int
	AnchorSamples    int

	ObstacleMin     float64
	ClearMax        float64
	SideClearance   float64
	SideGrowth      float64
	ForwardDistance float64

	// CruiseAltitude is added to the home Z; negative is up.
	CruiseAltitude   float64
	CruiseSpeed      float64
	TakeoffTolerance float64
	LandOffset       float64

	NearTargetRadiusSq float64
	SettledSpeedSq     float64

	TakeoffConfirmTicks  int
	ObstacleConfirmTicks int
	AnchorStartTick      int
	ProbeDelayTicks      int
	ProbeSettleTicks     int

	Lateral  LateralConfig
	Altitude control.AltitudeConfig
}

// DefaultAvoidanceConfig returns the flight-tested tuning.
func DefaultAvoidanceConfig() AvoidanceConfig {
	return AvoidanceConfig{
		ReferenceSamples:     10,
		AnchorSamples:        3,
		ObstacleMin:          2.0,
		ClearMax:             3.0,
		SideClearance:        1.0,
		SideGrowth:           0.15,
		ForwardDistance:      4.0,
		CruiseAltitude:       -2.5,
		CruiseSpeed:          0.5,
		TakeoffTolerance:     0.5,
		LandOffset:           0.3,
		NearTargetRadiusSq:   9,
		SettledSpeedSq:       0.01,
		TakeoffConfirmTicks:  3,
		ObstacleConfirmTicks: 5,
		AnchorStartTick:      2,
		ProbeDelayTicks:      5,
		ProbeSettleTicks:     5,
		Lateral: LateralConfig{
			Mode:            LateralDrift,
			DriftTicks:      20,
			DriftSpeed:      0.05,
			CorrectionSpeed: 0.2,
			CorrectionBand:  0.2,
		},
		Altitude: control.AltitudeConfig{
			Mode:     control.AltitudeStep,
			DeadBand: 0.2,
			Speed:    0.1,
			Kp:       0.5,
			Ki:       0.05,
			Kd:       0.1,
		},
	}
}

// DeliveryConfig tunes the three-point delivery mission.
type DeliveryConfig struct {
	ReferenceSamples int

	CruiseAltitude   float64
	TakeoffTolerance float64
	LandOffset       float64

	ArrivalRadiusSq       float64
	SettledSpeedSq        float64
	LandedVerticalSpeedSq float64
	// LandedAltitudeTolerance is how close to the reference Z the vehicle
	// must be to count as landed.
	LandedAltitudeTolerance float64

	LoiterTicks int
	// LandAtB lands at B for the first drop and takes off again before
	// heading to C. When false the first drop happens hovering at cruise
	// altitude.
	LandAtB bool
	// The drop signal is asserted while the state tick count is in
	// (DropAssertAfter, DropReleaseAfter]; the state exits on the next tick.
	DropAssertAfter  int
	DropReleaseAfter int
}

// DefaultDeliveryConfig returns the flight-tested tuning.
func DefaultDeliveryConfig() DeliveryConfig {
	return DeliveryConfig{
		ReferenceSamples:        10,
		CruiseAltitude:          -2.5,
		TakeoffTolerance:        0.5,
		LandOffset:              0.3,
		ArrivalRadiusSq:         1.0,
		SettledSpeedSq:          0.01,
		LandedVerticalSpeedSq:   0.01,
		LandedAltitudeTolerance: 0.4,
		LoiterTicks:             5,
		DropAssertAfter:         30,
		DropReleaseAfter:        50,
	}
}

// HomingConfig tunes the vision-guided homing mission.
type HomingConfig struct {
	ReferenceSamples int

	CruiseAltitude   float64
	TakeoffTolerance float64
	// LandOffset is added to the home Z for the landing setpoint.
	LandOffset float64

	HoverTicks       int
	MissionTicks     int
	ReturnDwellTicks int
	SettledSpeedSq   float64

	ImageCenter sensor.ImageCenter
	// DeadBand is the pixel radius inside which the marker counts as centred.
	DeadBand float64

	North    control.Config
	East     control.Config
	Altitude control.Config
}

// DefaultHomingConfig returns the flight-tested tuning.
func DefaultHomingConfig() HomingConfig {
	lateral := control.Config{
		Kp: 0.0035, Ki: 0.001, Kd: 0.0028,
		OutputMin: -0.2, OutputMax: 0.2,
		SaturationLimit: 1,
		Smooth:          true,
	}
	return HomingConfig{
		ReferenceSamples: 10,
		CruiseAltitude:   -5,
		TakeoffTolerance: 0.2,
		LandOffset:       1.0,
		HoverTicks:       5,
		MissionTicks:     1800,
		ReturnDwellTicks: 30,
		SettledSpeedSq:   0.02,
		ImageCenter:      sensor.DefaultImageCenter,
		DeadBand:         7,
		North:            lateral,
		East:             lateral,
		Altitude: control.Config{
			Kp: 0.17, Ki: 0.08, Kd: 0.12,
			OutputMin: -0.15, OutputMax: 0.15,
			SaturationLimit: 1.5,
		},
	}
}

// Settings carries everything needed to build any mission.
type Settings struct {
	TickPeriod time.Duration
	Filter     sensor.FilterConfig
	Avoidance  AvoidanceConfig
	Delivery   DeliveryConfig
	Homing     HomingConfig
}

// NominalTickPeriod is the period the controller gains are tuned for.
const NominalTickPeriod = 100 * time.Millisecond

// DefaultSettings returns the defaults for every mission.
func DefaultSettings() Settings {
	return Settings{
		TickPeriod: NominalTickPeriod,
		Filter:     sensor.DefaultFilterConfig(),
		Avoidance:  DefaultAvoidanceConfig(),
		Delivery:   DefaultDeliveryConfig(),
		Homing:     DefaultHomingConfig(),
	}
}

// New builds a fresh machine for kind.
func New(kind Kind, s Settings, opts ...Option) (*Machine, error) {
	filter := sensor.NewFilter(s.Filter)
	var def *Definition
	var err error
	switch kind {
	case KindAvoidance:
		var a *avoidance
		if a, err = newAvoidance(s.Avoidance, s.TickPeriod); err == nil {
			def = a.definition()
		}
	case KindDelivery:
		def = newDelivery(s.Delivery)
	case KindHoming:
		def = newHoming(s.Homing)
	default:
		return nil, fmt.Errorf("unknown mission kind %q", kind)
	}
	if err != nil {
		return nil, err
	}
	return NewMachine(def, filter, opts...)
}
