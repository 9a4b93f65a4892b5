package mission

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/banshee-data/offboard/internal/control"
	"github.com/banshee-data/offboard/internal/sensor"
)

// Homing states.
const (
	HomeAcquire StateID = "Acquire"
	HomeTakeoff StateID = "Takeoff"
	HomeHover   StateID = "Hover"
	HomeTrack   StateID = "Track"
	HomeReturn  StateID = "ReturnHome"
	HomeLand    StateID = "Land"
)

// homing flies towards a visual marker under PID control until the mission
// timer runs out, then returns home and lands.
type homing struct {
	cfg HomingConfig

	north, east, alt *control.PID

	cruiseZ float64
	// elapsed counts ticks since the takeoff altitude was reached; zero
	// means the timer has not started.
	elapsed int
}

func newHoming(cfg HomingConfig) *Definition {
	h := &homing{
		cfg:   cfg,
		north: control.NewPID(cfg.North),
		east:  control.NewPID(cfg.East),
		alt:   control.NewPID(cfg.Altitude),
	}
	return h.definition()
}

func (h *homing) definition() *Definition {
	cfg := h.cfg
	return &Definition{
		Name:    string(KindHoming),
		Initial: HomeAcquire,
		Marks:   map[string]int{RefHome: cfg.ReferenceSamples},
		BeforeTick: func(*Context) {
			if h.elapsed > 0 {
				h.elapsed++
			}
		},
		Global: []GlobalTransition{{
			Transition: Transition{
				Name: "mission time elapsed",
				When: func(*Context) bool { return h.elapsed > cfg.MissionTicks },
				To:   HomeReturn,
			},
			Except: []StateID{HomeAcquire, HomeTakeoff, HomeReturn, HomeLand},
		}},
		States: []*State{
			{
				ID:       HomeAcquire,
				Assemble: func(*Context) (Setpoint, error) { return Idle(), nil },
				Transitions: []Transition{
					{Name: "home acquired", When: Acquired(RefHome), To: HomeTakeoff},
				},
			},
			{
				ID: HomeTakeoff,
				Enter: func(ctx *Context) error {
					home, err := ctx.Refs.Get(RefHome)
					if err != nil {
						return err
					}
					h.cruiseZ = home.Z + cfg.CruiseAltitude
					return nil
				},
				Assemble: func(ctx *Context) (Setpoint, error) {
					p, err := h.overHome(ctx)
					if err != nil {
						return Setpoint{}, err
					}
					return Takeoff(p), nil
				},
				Transitions: []Transition{
					{Name: "altitude reached", When: h.atCruise, To: HomeHover},
				},
			},
			{
				ID: HomeHover,
				Enter: func(*Context) error {
					h.elapsed = 1
					return nil
				},
				Assemble: func(ctx *Context) (Setpoint, error) {
					p, err := h.overHome(ctx)
					if err != nil {
						return Setpoint{}, err
					}
					return HoldPosition(p), nil
				},
				Transitions: []Transition{
					{Name: "hover complete", When: func(ctx *Context) bool { return ctx.StateTicks >= cfg.HoverTicks }, To: HomeTrack},
				},
			},
			{
				ID: HomeTrack,
				Enter: func(*Context) error {
					h.north.Reset()
					h.east.Reset()
					h.alt.Reset()
					return nil
				},
				Assemble: h.track,
			},
			{
				ID: HomeReturn,
				Assemble: func(ctx *Context) (Setpoint, error) {
					p, err := h.overHome(ctx)
					if err != nil {
						return Setpoint{}, err
					}
					return HoldPosition(p), nil
				},
				Transitions: []Transition{
					{
						Name: "settled over home",
						When: func(ctx *Context) bool {
							return ctx.StateTicks > cfg.ReturnDwellTicks && ctx.Settled(cfg.SettledSpeedSq)
						},
						To: HomeLand,
					},
				},
			},
			{
				ID: HomeLand,
				Assemble: func(ctx *Context) (Setpoint, error) {
					home, err := ctx.Refs.Get(RefHome)
					if err != nil {
						return Setpoint{}, err
					}
					home.Z += cfg.LandOffset
					return Land(home), nil
				},
				Terminal: true,
			},
		},
	}
}

func (h *homing) overHome(ctx *Context) (r3.Vector, error) {
	home, err := ctx.Refs.Get(RefHome)
	if err != nil {
		return r3.Vector{}, err
	}
	home.Z = h.cruiseZ
	return home, nil
}

func (h *homing) atCruise(ctx *Context) bool {
	s, ok := ctx.Position()
	return ok && s.Position.Z < h.cruiseZ+h.cfg.TakeoffTolerance
}

// track commands body-frame velocity from the marker offset. The lateral
// controllers only advance on a fresh marker sample and hold their last
// output otherwise.
func (h *homing) track(ctx *Context) (Setpoint, error) {
	var vx, vy float64
	if v, ok := ctx.Filter.Vision(); ok && ctx.Filter.Fresh(sensor.TopicVision) {
		n, e := v.Offset(h.cfg.ImageCenter)
		if math.Hypot(n, e) <= h.cfg.DeadBand {
			n, e = 0, 0
		}
		vx = h.north.Step(n)
		vy = h.east.Step(e)
	} else {
		vx = h.north.Hold()
		vy = h.east.Hold()
	}

	var vz float64
	if s, ok := ctx.Position(); ok {
		// positive error means the vehicle sits below the cruise altitude
		vz = -h.alt.Step(s.Position.Z - h.cruiseZ)
	} else {
		vz = -h.alt.Hold()
	}
	sp := Velocity(r3.Vector{X: vx, Y: vy, Z: vz}, FrameBodyNED, 0)
	sp.IgnoreAttitude = true
	return sp, nil
}
