package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banshee-data/offboard/internal/control"
	"github.com/banshee-data/offboard/internal/mission"
	"github.com/banshee-data/offboard/internal/serialmux"
)

// DefaultConfigPath is the path to the canonical mission defaults file.
const DefaultConfigPath = "config/mission.defaults.json"

// maxFileSize caps config files at 1MB.
const maxFileSize = 1 * 1024 * 1024

// MissionConfig is the root of a mission configuration file. Every field is
// optional; the Get* methods and Settings fall back to the flight-tested
// defaults for anything left unset.
type MissionConfig struct {
	Mission    *string `json:"mission,omitempty" yaml:"mission,omitempty"`
	TickPeriod *string `json:"tick_period,omitempty" yaml:"tick_period,omitempty"` // duration string like "100ms"

	PositionStaleLimit *int `json:"position_stale_limit,omitempty" yaml:"position_stale_limit,omitempty"`
	RangeStaleLimit    *int `json:"range_stale_limit,omitempty" yaml:"range_stale_limit,omitempty"`
	VisionStaleLimit   *int `json:"vision_stale_limit,omitempty" yaml:"vision_stale_limit,omitempty"`

	Avoidance *AvoidanceSection `json:"avoidance,omitempty" yaml:"avoidance,omitempty"`
	Delivery  *DeliverySection  `json:"delivery,omitempty" yaml:"delivery,omitempty"`
	Homing    *HomingSection    `json:"homing,omitempty" yaml:"homing,omitempty"`

	Serial  *SerialSection  `json:"serial,omitempty" yaml:"serial,omitempty"`
	MAVLink *MAVLinkSection `json:"mavlink,omitempty" yaml:"mavlink,omitempty"`
}

// AvoidanceSection overrides mission.AvoidanceConfig.
type AvoidanceSection struct {
	ReferenceSamples     *int     `json:"reference_samples,omitempty" yaml:"reference_samples,omitempty"`
	AnchorSamples        *int     `json:"anchor_samples,omitempty" yaml:"anchor_samples,omitempty"`
	ObstacleMin          *float64 `json:"obstacle_min,omitempty" yaml:"obstacle_min,omitempty"`
	ClearMax             *float64 `json:"clear_max,omitempty" yaml:"clear_max,omitempty"`
	SideClearance        *float64 `json:"side_clearance,omitempty" yaml:"side_clearance,omitempty"`
	SideGrowth           *float64 `json:"side_growth,omitempty" yaml:"side_growth,omitempty"`
	ForwardDistance      *float64 `json:"forward_distance,omitempty" yaml:"forward_distance,omitempty"`
	CruiseAltitude       *float64 `json:"cruise_altitude,omitempty" yaml:"cruise_altitude,omitempty"`
	CruiseSpeed          *float64 `json:"cruise_speed,omitempty" yaml:"cruise_speed,omitempty"`
	NearTargetRadiusSq   *float64 `json:"near_target_radius_sq,omitempty" yaml:"near_target_radius_sq,omitempty"`
	SettledSpeedSq       *float64 `json:"settled_speed_sq,omitempty" yaml:"settled_speed_sq,omitempty"`
	ObstacleConfirmTicks *int     `json:"obstacle_confirm_ticks,omitempty" yaml:"obstacle_confirm_ticks,omitempty"`
	ProbeDelayTicks      *int     `json:"probe_delay_ticks,omitempty" yaml:"probe_delay_ticks,omitempty"`
	ProbeSettleTicks     *int     `json:"probe_settle_ticks,omitempty" yaml:"probe_settle_ticks,omitempty"`
	LateralMode          *string  `json:"lateral_mode,omitempty" yaml:"lateral_mode,omitempty"`
	DriftTicks           *int     `json:"drift_ticks,omitempty" yaml:"drift_ticks,omitempty"`
	DriftSpeed           *float64 `json:"drift_speed,omitempty" yaml:"drift_speed,omitempty"`
	CorrectionSpeed      *float64 `json:"correction_speed,omitempty" yaml:"correction_speed,omitempty"`
	CorrectionBand       *float64 `json:"correction_band,omitempty" yaml:"correction_band,omitempty"`
	TakeoffTolerance     *float64 `json:"takeoff_tolerance,omitempty" yaml:"takeoff_tolerance,omitempty"`
	LandOffset           *float64 `json:"land_offset,omitempty" yaml:"land_offset,omitempty"`

	Altitude *AltitudeSection `json:"altitude,omitempty" yaml:"altitude,omitempty"`
}

// DeliverySection overrides mission.DeliveryConfig.
type DeliverySection struct {
	ReferenceSamples        *int     `json:"reference_samples,omitempty" yaml:"reference_samples,omitempty"`
	CruiseAltitude          *float64 `json:"cruise_altitude,omitempty" yaml:"cruise_altitude,omitempty"`
	TakeoffTolerance        *float64 `json:"takeoff_tolerance,omitempty" yaml:"takeoff_tolerance,omitempty"`
	LandOffset              *float64 `json:"land_offset,omitempty" yaml:"land_offset,omitempty"`
	ArrivalRadiusSq         *float64 `json:"arrival_radius_sq,omitempty" yaml:"arrival_radius_sq,omitempty"`
	SettledSpeedSq          *float64 `json:"settled_speed_sq,omitempty" yaml:"settled_speed_sq,omitempty"`
	LandedVerticalSpeedSq   *float64 `json:"landed_vertical_speed_sq,omitempty" yaml:"landed_vertical_speed_sq,omitempty"`
	LandedAltitudeTolerance *float64 `json:"landed_altitude_tolerance,omitempty" yaml:"landed_altitude_tolerance,omitempty"`
	LoiterTicks             *int     `json:"loiter_ticks,omitempty" yaml:"loiter_ticks,omitempty"`
	LandAtB                 *bool    `json:"land_at_b,omitempty" yaml:"land_at_b,omitempty"`
	DropAssertAfter         *int     `json:"drop_assert_after,omitempty" yaml:"drop_assert_after,omitempty"`
	DropReleaseAfter        *int     `json:"drop_release_after,omitempty" yaml:"drop_release_after,omitempty"`
}

// HomingSection overrides mission.HomingConfig.
type HomingSection struct {
	ReferenceSamples *int     `json:"reference_samples,omitempty" yaml:"reference_samples,omitempty"`
	CruiseAltitude   *float64 `json:"cruise_altitude,omitempty" yaml:"cruise_altitude,omitempty"`
	HoverTicks       *int     `json:"hover_ticks,omitempty" yaml:"hover_ticks,omitempty"`
	MissionTicks     *int     `json:"mission_ticks,omitempty" yaml:"mission_ticks,omitempty"`
	DeadBand         *float64 `json:"dead_band,omitempty" yaml:"dead_band,omitempty"`
	TakeoffTolerance *float64 `json:"takeoff_tolerance,omitempty" yaml:"takeoff_tolerance,omitempty"`
	LandOffset       *float64 `json:"land_offset,omitempty" yaml:"land_offset,omitempty"`
	ReturnDwellTicks *int     `json:"return_dwell_ticks,omitempty" yaml:"return_dwell_ticks,omitempty"`
	SettledSpeedSq   *float64 `json:"settled_speed_sq,omitempty" yaml:"settled_speed_sq,omitempty"`

	North    *PIDSection `json:"north,omitempty" yaml:"north,omitempty"`
	East     *PIDSection `json:"east,omitempty" yaml:"east,omitempty"`
	Altitude *PIDSection `json:"altitude,omitempty" yaml:"altitude,omitempty"`
}

// PIDSection overrides a control.Config field by field; unset gains and
// bounds keep their defaults.
type PIDSection struct {
	Kp              *float64 `json:"kp,omitempty" yaml:"kp,omitempty"`
	Ki              *float64 `json:"ki,omitempty" yaml:"ki,omitempty"`
	Kd              *float64 `json:"kd,omitempty" yaml:"kd,omitempty"`
	Bias            *float64 `json:"bias,omitempty" yaml:"bias,omitempty"`
	OutputMin       *float64 `json:"output_min,omitempty" yaml:"output_min,omitempty"`
	OutputMax       *float64 `json:"output_max,omitempty" yaml:"output_max,omitempty"`
	SaturationLimit *float64 `json:"saturation_limit,omitempty" yaml:"saturation_limit,omitempty"`
	IntegralGain    *float64 `json:"integral_gain,omitempty" yaml:"integral_gain,omitempty"`
	DerivativeGain  *float64 `json:"derivative_gain,omitempty" yaml:"derivative_gain,omitempty"`
	Smooth          *bool    `json:"smooth,omitempty" yaml:"smooth,omitempty"`
}

func (p *PIDSection) overlay(dst *control.Config) {
	if p == nil {
		return
	}
	apply(&dst.Kp, p.Kp)
	apply(&dst.Ki, p.Ki)
	apply(&dst.Kd, p.Kd)
	apply(&dst.Bias, p.Bias)
	apply(&dst.OutputMin, p.OutputMin)
	apply(&dst.OutputMax, p.OutputMax)
	apply(&dst.SaturationLimit, p.SaturationLimit)
	apply(&dst.IntegralGain, p.IntegralGain)
	apply(&dst.DerivativeGain, p.DerivativeGain)
	apply(&dst.Smooth, p.Smooth)
}

// AltitudeSection overrides a control.AltitudeConfig field by field.
type AltitudeSection struct {
	Mode     *string  `json:"mode,omitempty" yaml:"mode,omitempty"`
	DeadBand *float64 `json:"dead_band,omitempty" yaml:"dead_band,omitempty"`
	Speed    *float64 `json:"speed,omitempty" yaml:"speed,omitempty"`
	Kp       *float64 `json:"kp,omitempty" yaml:"kp,omitempty"`
	Ki       *float64 `json:"ki,omitempty" yaml:"ki,omitempty"`
	Kd       *float64 `json:"kd,omitempty" yaml:"kd,omitempty"`
}

func (a *AltitudeSection) overlay(dst *control.AltitudeConfig) {
	if a == nil {
		return
	}
	if a.Mode != nil {
		dst.Mode = control.AltitudeMode(*a.Mode)
	}
	apply(&dst.DeadBand, a.DeadBand)
	apply(&dst.Speed, a.Speed)
	apply(&dst.Kp, a.Kp)
	apply(&dst.Ki, a.Ki)
	apply(&dst.Kd, a.Kd)
}

// SerialSection describes the vision/range serial device.
type SerialSection struct {
	Port     *string `json:"port,omitempty" yaml:"port,omitempty"`
	BaudRate *int    `json:"baud_rate,omitempty" yaml:"baud_rate,omitempty"`
	DataBits *int    `json:"data_bits,omitempty" yaml:"data_bits,omitempty"`
	StopBits *int    `json:"stop_bits,omitempty" yaml:"stop_bits,omitempty"`
	Parity   *string `json:"parity,omitempty" yaml:"parity,omitempty"`
}

// MAVLinkSection describes the flight-controller link.
type MAVLinkSection struct {
	Endpoint *string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	SystemID *int    `json:"system_id,omitempty" yaml:"system_id,omitempty"`
}

// EmptyMissionConfig returns a config with every field unset.
func EmptyMissionConfig() *MissionConfig {
	return &MissionConfig{}
}

// LoadMissionConfig reads a JSON (.json) or YAML (.yaml, .yml) file. Omitted
// fields keep their defaults, so partial files are safe.
func LoadMissionConfig(path string) (*MissionConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyMissionConfig()
	if ext == ".json" {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config JSON: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath from the current directory
// or one of its parents. It panics when the file cannot be found, and is
// intended for tests and tooling run inside the repository.
func MustLoadDefaultConfig() *MissionConfig {
	candidates := []string{
		DefaultConfigPath,
		"../" + DefaultConfigPath,
		"../../" + DefaultConfigPath,
		"../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadMissionConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run from repository root")
}

// Validate checks values that would make a mission unflyable.
func (c *MissionConfig) Validate() error {
	if c.Mission != nil {
		if _, err := parseKind(*c.Mission); err != nil {
			return err
		}
	}
	if c.TickPeriod != nil && *c.TickPeriod != "" {
		d, err := time.ParseDuration(*c.TickPeriod)
		if err != nil {
			return fmt.Errorf("invalid tick_period '%s': %w", *c.TickPeriod, err)
		}
		if d <= 0 {
			return fmt.Errorf("tick_period must be positive, got %s", d)
		}
	}

	s := c.Settings()
	a := s.Avoidance
	if a.ObstacleMin <= 0 || a.ClearMax < a.ObstacleMin {
		return fmt.Errorf("avoidance obstacle_min must be positive and no larger than clear_max, got %v and %v", a.ObstacleMin, a.ClearMax)
	}
	switch a.Lateral.Mode {
	case mission.LateralDrift, mission.LateralCrossTrack, mission.LateralOff:
	default:
		return fmt.Errorf("unknown avoidance lateral_mode %q", a.Lateral.Mode)
	}
	if a.NearTargetRadiusSq <= 0 || a.SettledSpeedSq <= 0 {
		return fmt.Errorf("avoidance radii must be positive")
	}
	if a.ReferenceSamples < 1 || a.AnchorSamples < 1 {
		return fmt.Errorf("avoidance sample counts must be at least 1")
	}
	switch a.Altitude.Mode {
	case "", control.AltitudeStep, control.AltitudePID:
	default:
		return fmt.Errorf("unknown avoidance altitude mode %q", a.Altitude.Mode)
	}
	if a.Altitude.Speed <= 0 {
		return fmt.Errorf("avoidance altitude speed must be positive, got %v", a.Altitude.Speed)
	}

	d := s.Delivery
	if d.DropAssertAfter >= d.DropReleaseAfter {
		return fmt.Errorf("delivery drop_assert_after (%d) must be less than drop_release_after (%d)", d.DropAssertAfter, d.DropReleaseAfter)
	}
	if d.ArrivalRadiusSq <= 0 {
		return fmt.Errorf("delivery arrival_radius_sq must be positive, got %v", d.ArrivalRadiusSq)
	}

	h := s.Homing
	for name, pc := range map[string]control.Config{"north": h.North, "east": h.East, "altitude": h.Altitude} {
		if err := validatePID(pc); err != nil {
			return fmt.Errorf("homing %s: %w", name, err)
		}
	}
	if h.MissionTicks <= h.HoverTicks {
		return fmt.Errorf("homing mission_ticks (%d) must exceed hover_ticks (%d)", h.MissionTicks, h.HoverTicks)
	}
	return nil
}

// validatePID rejects tunings that pin the output or leave the integral
// limit undefined.
func validatePID(c control.Config) error {
	if c.OutputMin >= c.OutputMax {
		return fmt.Errorf("output_min (%v) must be less than output_max (%v)", c.OutputMin, c.OutputMax)
	}
	if c.SaturationLimit < 0 {
		return fmt.Errorf("saturation_limit must not be negative, got %v", c.SaturationLimit)
	}
	if c.SaturationLimit > 0 && c.Ki == 0 {
		return fmt.Errorf("saturation_limit %v needs a non-zero ki", c.SaturationLimit)
	}
	return nil
}

func parseKind(s string) (mission.Kind, error) {
	for _, k := range mission.Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown mission %q", s)
}

// GetMission returns the configured mission kind, defaulting to avoidance.
func (c *MissionConfig) GetMission() mission.Kind {
	if c.Mission == nil {
		return mission.KindAvoidance
	}
	k, err := parseKind(*c.Mission)
	if err != nil {
		return mission.KindAvoidance
	}
	return k
}

// GetTickPeriod returns the loop period, 100ms by default.
func (c *MissionConfig) GetTickPeriod() time.Duration {
	if c.TickPeriod == nil || *c.TickPeriod == "" {
		return mission.NominalTickPeriod
	}
	d, err := time.ParseDuration(*c.TickPeriod)
	if err != nil || d <= 0 {
		return mission.NominalTickPeriod
	}
	return d
}

// GetSerialPort returns the vision/range device path.
func (c *MissionConfig) GetSerialPort() string {
	if c.Serial == nil || c.Serial.Port == nil {
		return "/dev/ttyUSB0"
	}
	return *c.Serial.Port
}

// GetSerialOptions returns the serial line settings, 9600 8N1 by default.
func (c *MissionConfig) GetSerialOptions() serialmux.PortOptions {
	opts := serialmux.PortOptions{BaudRate: serialmux.DefaultBaudRate}
	if c.Serial == nil {
		return opts
	}
	apply(&opts.BaudRate, c.Serial.BaudRate)
	apply(&opts.DataBits, c.Serial.DataBits)
	apply(&opts.StopBits, c.Serial.StopBits)
	apply(&opts.Parity, c.Serial.Parity)
	return opts
}

// GetMAVLinkEndpoint returns the MAVLink endpoint description.
func (c *MissionConfig) GetMAVLinkEndpoint() string {
	if c.MAVLink == nil || c.MAVLink.Endpoint == nil {
		return "udp-server:0.0.0.0:14540"
	}
	return *c.MAVLink.Endpoint
}

// GetMAVLinkSystemID returns the system id used for outgoing frames.
func (c *MissionConfig) GetMAVLinkSystemID() int {
	if c.MAVLink == nil || c.MAVLink.SystemID == nil {
		return 10
	}
	return *c.MAVLink.SystemID
}

// Settings overlays the configured values on mission.DefaultSettings.
func (c *MissionConfig) Settings() mission.Settings {
	s := mission.DefaultSettings()
	s.TickPeriod = c.GetTickPeriod()
	apply(&s.Filter.PositionStaleLimit, c.PositionStaleLimit)
	apply(&s.Filter.RangeStaleLimit, c.RangeStaleLimit)
	apply(&s.Filter.VisionStaleLimit, c.VisionStaleLimit)

	if a := c.Avoidance; a != nil {
		dst := &s.Avoidance
		apply(&dst.ReferenceSamples, a.ReferenceSamples)
		apply(&dst.AnchorSamples, a.AnchorSamples)
		apply(&dst.ObstacleMin, a.ObstacleMin)
		apply(&dst.ClearMax, a.ClearMax)
		apply(&dst.SideClearance, a.SideClearance)
		apply(&dst.SideGrowth, a.SideGrowth)
		apply(&dst.ForwardDistance, a.ForwardDistance)
		apply(&dst.CruiseAltitude, a.CruiseAltitude)
		apply(&dst.CruiseSpeed, a.CruiseSpeed)
		apply(&dst.NearTargetRadiusSq, a.NearTargetRadiusSq)
		apply(&dst.SettledSpeedSq, a.SettledSpeedSq)
		apply(&dst.ObstacleConfirmTicks, a.ObstacleConfirmTicks)
		apply(&dst.ProbeDelayTicks, a.ProbeDelayTicks)
		apply(&dst.ProbeSettleTicks, a.ProbeSettleTicks)
		apply(&dst.Lateral.DriftTicks, a.DriftTicks)
		apply(&dst.Lateral.DriftSpeed, a.DriftSpeed)
		apply(&dst.Lateral.CorrectionSpeed, a.CorrectionSpeed)
		apply(&dst.Lateral.CorrectionBand, a.CorrectionBand)
		apply(&dst.TakeoffTolerance, a.TakeoffTolerance)
		apply(&dst.LandOffset, a.LandOffset)
		a.Altitude.overlay(&dst.Altitude)
		if a.LateralMode != nil {
			dst.Lateral.Mode = mission.LateralMode(*a.LateralMode)
		}
	}

	if d := c.Delivery; d != nil {
		dst := &s.Delivery
		apply(&dst.ReferenceSamples, d.ReferenceSamples)
		apply(&dst.CruiseAltitude, d.CruiseAltitude)
		apply(&dst.TakeoffTolerance, d.TakeoffTolerance)
		apply(&dst.LandOffset, d.LandOffset)
		apply(&dst.ArrivalRadiusSq, d.ArrivalRadiusSq)
		apply(&dst.SettledSpeedSq, d.SettledSpeedSq)
		apply(&dst.LandedVerticalSpeedSq, d.LandedVerticalSpeedSq)
		apply(&dst.LandedAltitudeTolerance, d.LandedAltitudeTolerance)
		apply(&dst.LoiterTicks, d.LoiterTicks)
		apply(&dst.LandAtB, d.LandAtB)
		apply(&dst.DropAssertAfter, d.DropAssertAfter)
		apply(&dst.DropReleaseAfter, d.DropReleaseAfter)
	}

	if h := c.Homing; h != nil {
		dst := &s.Homing
		apply(&dst.ReferenceSamples, h.ReferenceSamples)
		apply(&dst.CruiseAltitude, h.CruiseAltitude)
		apply(&dst.HoverTicks, h.HoverTicks)
		apply(&dst.MissionTicks, h.MissionTicks)
		apply(&dst.DeadBand, h.DeadBand)
		apply(&dst.TakeoffTolerance, h.TakeoffTolerance)
		apply(&dst.LandOffset, h.LandOffset)
		apply(&dst.ReturnDwellTicks, h.ReturnDwellTicks)
		apply(&dst.SettledSpeedSq, h.SettledSpeedSq)
		h.North.overlay(&dst.North)
		h.East.overlay(&dst.East)
		h.Altitude.overlay(&dst.Altitude)
	}
	return s
}

func apply[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}
