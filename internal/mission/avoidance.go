package mission

import (
	"fmt"
	"math"
	"time"

	"github.com/golang/geo/r3"

	"github.com/banshee-data/offboard/internal/control"
	"github.com/banshee-data/offboard/internal/geom"
	"github.com/banshee-data/offboard/internal/sensor"
)

// Avoidance states.
const (
	AvoidAcquire       StateID = "Acquire"
	AvoidTakeoff       StateID = "Takeoff"
	AvoidTransit       StateID = "TransitToTarget"
	AvoidProbeSide     StateID = "ProbeAvoidSide"
	AvoidProbeForwardC StateID = "ProbeForwardC"
	AvoidProbeForwardD StateID = "ProbeForwardD"
	AvoidFinalApproach StateID = "FinalApproach"
	AvoidLand          StateID = "Land"
)

// avoidanceAnchorPoint is the reference id of the obstacle encounter point.
const avoidanceAnchorPoint = "a"

// avoidance is the run memory of one obstacle-avoiding transit.
type avoidance struct {
	cfg AvoidanceConfig
	alt *control.AltitudeHold

	line    geom.Line
	cruiseZ float64

	climbed       int
	transitTicks  int
	obstacleTicks int
	settled       int

	// anchor is where the current obstacle was met. It is re-acquired on
	// every encounter.
	anchor ReferencePoint
	// side carries the probe direction in its sign and the clearance growth
	// in its magnitude.
	side    float64
	b, c, d r3.Vector
}

func newAvoidance(cfg AvoidanceConfig, period time.Duration) (*avoidance, error) {
	alt, err := control.NewAltitudeHold(cfg.Altitude, period)
	if err != nil {
		return nil, fmt.Errorf("avoidance altitude hold: %w", err)
	}
	return &avoidance{cfg: cfg, alt: alt, side: 1}, nil
}

func (a *avoidance) definition() *Definition {
	cfg := a.cfg
	return &Definition{
		Name:    string(KindAvoidance),
		Initial: AvoidAcquire,
		Marks: map[string]int{
			RefHome:   cfg.ReferenceSamples,
			RefTarget: cfg.ReferenceSamples,
		},
		Claim: a.claim,
		Global: []GlobalTransition{{
			Transition: Transition{Name: "near target", When: a.nearTarget, To: AvoidFinalApproach},
			Except:     []StateID{AvoidAcquire, AvoidFinalApproach, AvoidLand},
		}},
		States: []*State{
			{
				ID:       AvoidAcquire,
				Assemble: func(*Context) (Setpoint, error) { return Idle(), nil },
				Transitions: []Transition{
					{Name: "references acquired", When: Acquired(RefHome, RefTarget), To: AvoidTakeoff},
				},
			},
			{
				ID:       AvoidTakeoff,
				Enter:    a.enterTakeoff,
				Assemble: a.takeoff,
				Transitions: []Transition{
					{
						Name: "altitude reached",
						When: All(Acquired(RefTarget), func(*Context) bool { return a.climbed >= cfg.TakeoffConfirmTicks }),
						To:   AvoidTransit,
					},
				},
			},
			{
				ID:       AvoidTransit,
				Enter:    a.enterTransit,
				Assemble: a.transit,
				Transitions: []Transition{
					{
						Name: "obstacle confirmed",
						When: func(*Context) bool { return a.obstacleTicks >= cfg.ObstacleConfirmTicks && a.anchor.Acquired },
						To:   AvoidProbeSide,
					},
				},
			},
			{
				ID:       AvoidProbeSide,
				Enter:    a.enterProbeSide,
				Assemble: a.probeSide,
				Transitions: []Transition{
					{Name: "side clear", When: a.sideDone(true), To: AvoidProbeForwardC},
					{Name: "side blocked", When: a.sideDone(false), To: AvoidProbeSide},
				},
			},
			{
				ID: AvoidProbeForwardC,
				Enter: func(*Context) error {
					a.side = 1
					a.c = a.line.Forward(a.b, cfg.ForwardDistance)
					a.c.Z = a.cruiseZ
					return nil
				},
				Assemble: func(*Context) (Setpoint, error) { return HoldPositionYaw(a.c, a.line.Bearing), nil },
				Transitions: []Transition{
					{Name: "passed obstacle", When: a.probeSettled, To: AvoidProbeForwardD},
				},
			},
			{
				ID: AvoidProbeForwardD,
				Enter: func(*Context) error {
					a.d = a.line.Forward(a.anchor.Position, cfg.ForwardDistance)
					a.d.Z = a.cruiseZ
					return nil
				},
				Assemble: func(*Context) (Setpoint, error) { return HoldPositionYaw(a.d, a.line.Bearing), nil },
				Transitions: []Transition{
					{Name: "back on line", When: All(Acquired(RefTarget), a.probeSettled), To: AvoidTransit},
				},
			},
			{
				ID: AvoidFinalApproach,
				Assemble: func(ctx *Context) (Setpoint, error) {
					target, err := ctx.Refs.Get(RefTarget)
					if err != nil {
						return Setpoint{}, err
					}
					target.Z = a.cruiseZ
					return HoldPositionYaw(target, a.line.Bearing), nil
				},
				Transitions: []Transition{
					{Name: "settled over target", When: a.probeSettled, To: AvoidLand},
				},
			},
			{
				ID:       AvoidLand,
				Assemble: a.land,
				Terminal: true,
			},
		},
	}
}

func (a *avoidance) claim(_ *Context, acq sensor.Acquisition) bool {
	if acq.ID != avoidanceAnchorPoint {
		return false
	}
	a.anchor = ReferencePoint{ID: acq.ID, Position: acq.Position, Acquired: true}
	a.anchor.Position.Z = a.cruiseZ
	return true
}

func (a *avoidance) nearTarget(ctx *Context) bool {
	target, err := ctx.Refs.Get(RefTarget)
	if err != nil {
		return false
	}
	s, ok := ctx.Position()
	return ok && geom.Within(s.Position, target, a.cfg.NearTargetRadiusSq)
}

func (a *avoidance) probeSettled(ctx *Context) bool {
	return ctx.StateTicks > a.cfg.ProbeDelayTicks && ctx.Settled(a.cfg.SettledSpeedSq)
}

func (a *avoidance) enterTakeoff(ctx *Context) error {
	home, err := ctx.Refs.Get(RefHome)
	if err != nil {
		return err
	}
	target, err := ctx.Refs.Get(RefTarget)
	if err != nil {
		return err
	}
	line, err := geom.ReferenceLine(home, target)
	if err != nil {
		return fmt.Errorf("home to target: %w", err)
	}
	a.line = line
	a.cruiseZ = home.Z + a.cfg.CruiseAltitude
	a.climbed = 0
	return nil
}

func (a *avoidance) takeoff(ctx *Context) (Setpoint, error) {
	p := r3.Vector{X: a.line.Home.X, Y: a.line.Home.Y, Z: a.cruiseZ}
	if s, ok := ctx.Position(); ok && s.Position.Z < a.cruiseZ+a.cfg.TakeoffTolerance {
		a.climbed++
		return HoldPosition(p), nil
	}
	return Takeoff(p), nil
}

func (a *avoidance) enterTransit(ctx *Context) error {
	a.transitTicks = 0
	a.alt.Reset()
	a.forgetEncounter(ctx)
	return nil
}

func (a *avoidance) forgetEncounter(ctx *Context) {
	a.obstacleTicks = 0
	a.anchor = ReferencePoint{}
	if id, ok := ctx.Filter.Acquiring(); ok && id == avoidanceAnchorPoint {
		ctx.Filter.CancelAcquire()
	}
}

func (a *avoidance) transit(ctx *Context) (Setpoint, error) {
	a.transitTicks++
	s, ok := ctx.Position()
	if !ok {
		// hold still until the position estimate recovers
		last, _ := ctx.Filter.LastPosition()
		return Loiter(last.Position), nil
	}

	if ctx.Filter.ObstacleWithin(a.cfg.ObstacleMin) {
		a.obstacleTicks++
		if a.obstacleTicks == a.cfg.AnchorStartTick {
			ctx.Filter.BeginAcquire(avoidanceAnchorPoint, a.cfg.AnchorSamples)
		}
		hold := s.Position
		hold.Z = a.cruiseZ
		return Loiter(hold), nil
	}
	if a.obstacleTicks > 0 {
		a.forgetEncounter(ctx)
	}

	v := r3.Vector{
		X: a.cfg.CruiseSpeed,
		Y: a.lateral(s.Position),
		Z: a.alt.Update(s.Position.Z, a.cruiseZ),
	}
	return Velocity(v, FrameBodyNED, a.line.Bearing), nil
}

// lateral is the body-frame sideways speed for the configured mode.
func (a *avoidance) lateral(p r3.Vector) float64 {
	l := a.cfg.Lateral
	switch l.Mode {
	case LateralDrift:
		if a.transitTicks <= l.DriftTicks {
			return l.DriftSpeed
		}
	case LateralCrossTrack:
		off := a.line.Offset(p)
		if math.Abs(off) > l.CorrectionBand {
			return -math.Copysign(l.CorrectionSpeed, off)
		}
	}
	return 0
}

func (a *avoidance) enterProbeSide(ctx *Context) error {
	if ctx.From == AvoidProbeSide {
		if a.side < 0 {
			a.side -= a.cfg.SideGrowth
		}
		a.side = -a.side
	} else {
		a.side = 1
	}
	a.settled = 0
	a.b = a.line.Side(a.anchor.Position, a.cfg.SideClearance*math.Abs(a.side), math.Copysign(1, a.side))
	a.b.Z = a.cruiseZ
	return nil
}

func (a *avoidance) probeSide(ctx *Context) (Setpoint, error) {
	if ctx.StateTicks > a.cfg.ProbeDelayTicks && ctx.Settled(a.cfg.SettledSpeedSq) {
		a.settled++
	}
	return HoldPositionYaw(a.b, a.line.Bearing), nil
}

func (a *avoidance) sideDone(clear bool) Predicate {
	return func(ctx *Context) bool {
		if a.settled < a.cfg.ProbeSettleTicks {
			return false
		}
		return ctx.Filter.ClearBeyond(a.cfg.ClearMax) == clear
	}
}

func (a *avoidance) land(ctx *Context) (Setpoint, error) {
	target, err := ctx.Refs.Get(RefTarget)
	if err != nil {
		return Setpoint{}, err
	}
	target.Z = a.line.Home.Z + a.cfg.LandOffset
	return Land(target), nil
}
