// Package sim is a point-mass multicopter that stands in for the flight
// stack and the serial sensors. It is used by the dev mode of the mission
// binary and by the closed-loop mission tests.
package sim

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/banshee-data/offboard/internal/bus"
	"github.com/banshee-data/offboard/internal/mission"
	"github.com/banshee-data/offboard/internal/monitoring"
	"github.com/banshee-data/offboard/internal/sensor"
	"github.com/banshee-data/offboard/internal/serialmux"
	"github.com/banshee-data/offboard/internal/timeutil"
)

var logf = monitoring.Scoped("sim")

// noVisionLine is sent by the camera when no marker is in view. Both
// coordinates are out of range, so decoders mark the sample invalid.
const noVisionLine = "X9999Y9999"

// groundContact is how close to the ground plane counts as touching it.
const groundContact = 0.01

// Config describes the simulated airframe and sensors.
type Config struct {
	// Period is the integration step, normally one mission tick.
	Period time.Duration

	MaxSpeed     float64 // metres per second, horizontal
	MaxClimb     float64 // metres per second
	MaxDescent   float64 // metres per second
	LandSpeed    float64 // metres per second
	PositionGain float64 // 1/s, position error to commanded speed
	Lag          float64 // seconds, first-order velocity response

	RangeMin float64 // metres
	RangeMax float64 // metres
	Camera   Camera

	// Standard deviations of the additive sensor noise.
	PositionNoise float64
	VelocityNoise float64
	RangeNoise    float64
	// Seed makes a run reproducible.
	Seed uint64
}

// DefaultConfig returns an airframe that responds like a small quadcopter
// under PX4 offboard control.
func DefaultConfig() Config {
	return Config{
		Period:       mission.NominalTickPeriod,
		MaxSpeed:     1.0,
		MaxClimb:     1.0,
		MaxDescent:   0.7,
		LandSpeed:    0.5,
		PositionGain: 1.0,
		Lag:          0.2,
		RangeMin:     0.2,
		RangeMax:     8,
		Camera: Camera{
			Focal:     200,
			Width:     320,
			Height:    240,
			MinHeight: 0.5,
		},
		PositionNoise: 0.01,
		VelocityNoise: 0.005,
		RangeNoise:    0.01,
		Seed:          1,
	}
}

// Vehicle is the true state of the airframe.
type Vehicle struct {
	Position r3.Vector `json:"position"`
	Velocity r3.Vector `json:"velocity"`
	Yaw      float64   `json:"yaw"`
	// Released is the gripper state.
	Released bool `json:"released"`
}

// Outputs are where a Sim delivers its sensor data.
type Outputs struct {
	Position *bus.Topic[sensor.PositionVelocitySample]
	// Serial receives the camera and range finder lines, usually
	// serialmux.Decoder.Handle.
	Serial func(line string) error
}

// Snapshot is a copy of the simulator state.
type Snapshot struct {
	Vehicle  Vehicle `json:"vehicle"`
	World    World   `json:"world"`
	Ticks    uint64  `json:"ticks"`
	Releases int     `json:"releases"`
	OnGround bool    `json:"on_ground"`
}

// Sim integrates one vehicle in one world. It implements the controller's
// Publisher so it can close the loop behind a running mission.
type Sim struct {
	cfg   Config
	out   Outputs
	clock timeutil.Clock

	mu       sync.Mutex
	world    World
	vehicle  Vehicle
	ticks    uint64
	releases int
	noise    distuv.Normal
}

// New places a vehicle at rest on the ground at start.
func New(cfg Config, world World, out Outputs, clock timeutil.Clock) *Sim {
	if cfg.Period <= 0 {
		cfg.Period = mission.NominalTickPeriod
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	s := &Sim{
		cfg:   cfg,
		out:   out,
		clock: clock,
		world: world,
		noise: distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewPCG(cfg.Seed, cfg.Seed^0x5eed)},
	}
	s.vehicle.Position.Z = world.GroundZ
	return s
}

// Place carries the vehicle to p, as an operator walking it to a reference
// point would. The vehicle ends up at rest.
func (s *Sim) Place(p r3.Vector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Z > s.world.GroundZ {
		p.Z = s.world.GroundZ
	}
	s.vehicle.Position = p
	s.vehicle.Velocity = r3.Vector{}
}

// SetWorld replaces the scene.
func (s *Sim) SetWorld(w World) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.world = w
}

// Snapshot returns a copy of the current state.
func (s *Sim) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.world
	w.Obstacles = append([]Obstacle(nil), w.Obstacles...)
	return Snapshot{
		Vehicle:  s.vehicle,
		World:    w,
		Ticks:    s.ticks,
		Releases: s.releases,
		OnGround: s.onGround(),
	}
}

// Step advances the vehicle by one period under out's setpoint.
func (s *Sim) Step(out mission.Output) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.integrate(out.Setpoint)
	if out.Drop && !s.vehicle.Released {
		s.releases++
		logf("gripper released at tick %d over (%.2f, %.2f)", out.Tick, s.vehicle.Position.X, s.vehicle.Position.Y)
	}
	s.vehicle.Released = out.Drop
	s.ticks++
}

// Publish steps the vehicle and emits the resulting sensor data.
func (s *Sim) Publish(out mission.Output) error {
	s.Step(out)
	return s.Emit()
}

// Emit sends one round of sensor data to the outputs.
func (s *Sim) Emit() error {
	m := s.measure()
	if s.out.Position != nil {
		s.out.Position.Publish(m.position)
	}
	if s.out.Serial == nil {
		return nil
	}
	if err := s.out.Serial(m.rangeLine); err != nil {
		return fmt.Errorf("range line %q: %w", m.rangeLine, err)
	}
	if err := s.out.Serial(m.visionLine); err != nil {
		return fmt.Errorf("vision line %q: %w", m.visionLine, err)
	}
	return nil
}

// Sense returns one round of sensor data as a tick snapshot, decoding the
// serial lines the same way the hardware path does.
func (s *Sim) Sense() sensor.Inputs {
	m := s.measure()
	in := sensor.Inputs{Position: &m.position}
	if d, err := serialmux.ParseRange(m.rangeLine); err == nil {
		in.Range = &sensor.RangeSample{Distance: d, MinValid: s.cfg.RangeMin, MaxValid: s.cfg.RangeMax}
	}
	if v, err := serialmux.ParseVision(m.visionLine); err == nil {
		in.Vision = &v
	}
	return in
}

type measurement struct {
	position   sensor.PositionVelocitySample
	rangeLine  string
	visionLine string
}

func (s *Sim) measure() measurement {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.vehicle
	m := measurement{
		position: sensor.PositionVelocitySample{
			Position: v.Position.Add(s.jitter(s.cfg.PositionNoise)),
			Velocity: v.Velocity.Add(s.jitter(s.cfg.VelocityNoise)),
			At:       s.clock.Now(),
		},
	}

	// the range finder saturates at its maximum when nothing is in front
	d := s.cfg.RangeMax
	rn := s.cfg.RangeNoise * s.noise.Rand()
	if hit, ok := s.world.RangeAlong(v.Position, v.Yaw); ok && hit < s.cfg.RangeMax {
		d = clamp(hit+rn, s.cfg.RangeMin, s.cfg.RangeMax)
	}
	m.rangeLine = fmt.Sprintf("D%.2f", d)

	m.visionLine = noVisionLine
	if s.world.Marker != nil {
		if x, y, ok := s.cfg.Camera.Project(v.Position, v.Yaw, *s.world.Marker, s.world.GroundZ); ok {
			m.visionLine = fmt.Sprintf("X%04dY%04d", x, y)
		}
	}
	return m
}

func (s *Sim) jitter(sigma float64) r3.Vector {
	return r3.Vector{
		X: sigma * s.noise.Rand(),
		Y: sigma * s.noise.Rand(),
		Z: sigma * s.noise.Rand(),
	}
}

func (s *Sim) onGround() bool {
	return s.vehicle.Position.Z >= s.world.GroundZ-groundContact
}

// integrate applies one setpoint for one period. Commanded velocities follow
// a first-order lag and are limited to the airframe's speeds.
func (s *Sim) integrate(sp mission.Setpoint) {
	v := &s.vehicle
	dt := s.cfg.Period.Seconds()
	if !sp.IgnoreAttitude {
		v.Yaw = sp.Yaw
	}

	var cmd r3.Vector
	switch sp.Mode() {
	case mission.ModeIdle:
	case mission.ModeLand:
		cmd = s.towards(sp.Position())
		cmd.Z = s.cfg.LandSpeed
	case mission.ModeTakeoff, mission.ModeLoiter:
		cmd = s.towards(sp.Position())
	default:
		switch {
		case !sp.IgnorePosition:
			cmd = s.towards(sp.Position())
			if sp.IgnoreAltitude {
				cmd.Z = 0
			}
		case !sp.IgnoreVelocity:
			cmd = sp.Velocity()
			if sp.Frame == mission.FrameBodyNED {
				cmd = bodyToLocal(cmd, v.Yaw)
			}
		}
	}
	cmd = s.limit(cmd)

	alpha := 1.0
	if s.cfg.Lag > 0 {
		alpha = math.Min(1, dt/s.cfg.Lag)
	}
	v.Velocity = v.Velocity.Add(cmd.Sub(v.Velocity).Mul(alpha))
	v.Position = v.Position.Add(v.Velocity.Mul(dt))

	if v.Position.Z >= s.world.GroundZ {
		v.Position.Z = s.world.GroundZ
		// resting on the ground holds the airframe until it climbs
		if cmd.Z >= 0 {
			v.Velocity = r3.Vector{}
		}
	}
}

func (s *Sim) towards(p r3.Vector) r3.Vector {
	return p.Sub(s.vehicle.Position).Mul(s.cfg.PositionGain)
}

func (s *Sim) limit(cmd r3.Vector) r3.Vector {
	if h := math.Hypot(cmd.X, cmd.Y); h > s.cfg.MaxSpeed && h > 0 {
		k := s.cfg.MaxSpeed / h
		cmd.X *= k
		cmd.Y *= k
	}
	cmd.Z = clamp(cmd.Z, -s.cfg.MaxClimb, s.cfg.MaxDescent)
	return cmd
}

// bodyToLocal rotates a body-frame vector by the heading.
func bodyToLocal(b r3.Vector, yaw float64) r3.Vector {
	sin, cos := math.Sincos(yaw)
	return r3.Vector{
		X: b.X*cos - b.Y*sin,
		Y: b.X*sin + b.Y*cos,
		Z: b.Z,
	}
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
