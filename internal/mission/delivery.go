package mission

import (
	"math"

	"github.com/golang/geo/r3"

	"github.com/banshee-data/offboard/internal/geom"
)

// Delivery states.
const (
	DeliverAcquire    StateID = "Acquire"
	DeliverTakeoffAtA StateID = "TakeoffAtA"
	DeliverLoiterAtA  StateID = "LoiterAfterTakeoffA"
	DeliverTransitToB StateID = "TransitToB"
	DeliverDropAtB    StateID = "DropAtB"
	DeliverLandAtB    StateID = "LandAtB"
	DeliverTakeoffAtB StateID = "TakeoffAtB"
	DeliverLoiterAtB  StateID = "LoiterAfterTakeoffB"
	DeliverTransitToC StateID = "TransitToC"
	DeliverLandAtC    StateID = "LandAtC"
	DeliverDropAtC    StateID = "DropAtC"
	DeliverTakeoffAtC StateID = "TakeoffAtC"
	DeliverLoiterAtC  StateID = "LoiterAfterTakeoffC"
	DeliverTransitToA StateID = "TransitToA"
	DeliverLandAtA    StateID = "LandAtA"
)

type delivery struct {
	cfg DeliveryConfig
}

func newDelivery(cfg DeliveryConfig) *Definition {
	d := &delivery{cfg: cfg}
	return d.definition()
}

func (d *delivery) definition() *Definition {
	cfg := d.cfg
	states := []*State{
		{
			ID:       DeliverAcquire,
			Assemble: func(*Context) (Setpoint, error) { return Idle(), nil },
			Transitions: []Transition{
				{Name: "references acquired", When: Acquired(RefHome, RefB, RefC), To: DeliverTakeoffAtA},
			},
		},
		d.takeoffState(DeliverTakeoffAtA, RefHome, DeliverLoiterAtA),
		d.loiterState(DeliverLoiterAtA, RefHome, RefB, DeliverTransitToB),
	}
	if cfg.LandAtB {
		states = append(states,
			d.transitState(DeliverTransitToB, RefB, DeliverLandAtB),
			d.landState(DeliverLandAtB, RefB, DeliverDropAtB),
			d.dropState(DeliverDropAtB, RefB, true, RefB, DeliverTakeoffAtB),
			d.takeoffState(DeliverTakeoffAtB, RefB, DeliverLoiterAtB),
			d.loiterState(DeliverLoiterAtB, RefB, RefC, DeliverTransitToC),
		)
	} else {
		states = append(states,
			d.transitState(DeliverTransitToB, RefB, DeliverDropAtB),
			d.dropState(DeliverDropAtB, RefB, false, RefC, DeliverTransitToC),
		)
	}
	states = append(states,
		d.transitState(DeliverTransitToC, RefC, DeliverLandAtC),
		d.landState(DeliverLandAtC, RefC, DeliverDropAtC),
		d.dropState(DeliverDropAtC, RefC, true, RefC, DeliverTakeoffAtC),
		d.takeoffState(DeliverTakeoffAtC, RefC, DeliverLoiterAtC),
		d.loiterState(DeliverLoiterAtC, RefC, RefHome, DeliverTransitToA),
		d.transitState(DeliverTransitToA, RefHome, DeliverLandAtA),
		&State{
			ID:       DeliverLandAtA,
			Assemble: d.landAt(RefHome),
			Terminal: true,
		},
	)

	return &Definition{
		Name:    string(KindDelivery),
		Initial: DeliverAcquire,
		Marks: map[string]int{
			RefHome: cfg.ReferenceSamples,
			RefB:    cfg.ReferenceSamples,
			RefC:    cfg.ReferenceSamples,
		},
		States: states,
	}
}

// cruise returns the reference point lifted to the cruise altitude.
func (d *delivery) cruise(ctx *Context, ref string) (r3.Vector, error) {
	p, err := ctx.Refs.Get(ref)
	if err != nil {
		return r3.Vector{}, err
	}
	p.Z += d.cfg.CruiseAltitude
	return p, nil
}

func (d *delivery) takeoffState(id StateID, at string, next StateID) *State {
	return &State{
		ID: id,
		Assemble: func(ctx *Context) (Setpoint, error) {
			p, err := d.cruise(ctx, at)
			if err != nil {
				return Setpoint{}, err
			}
			return Takeoff(p), nil
		},
		Transitions: []Transition{{
			Name: "altitude reached",
			When: func(ctx *Context) bool {
				p, err := d.cruise(ctx, at)
				if err != nil {
					return false
				}
				s, ok := ctx.Position()
				return ok && s.Position.Z < p.Z+d.cfg.TakeoffTolerance
			},
			To: next,
		}},
	}
}

func (d *delivery) loiterState(id StateID, at, nextRef string, next StateID) *State {
	return &State{
		ID: id,
		Assemble: func(ctx *Context) (Setpoint, error) {
			p, err := d.cruise(ctx, at)
			if err != nil {
				return Setpoint{}, err
			}
			return Loiter(p), nil
		},
		Transitions: []Transition{{
			Name: "loiter complete",
			When: All(Acquired(nextRef), func(ctx *Context) bool { return ctx.StateTicks >= d.cfg.LoiterTicks }),
			To:   next,
		}},
	}
}

func (d *delivery) transitState(id StateID, to string, next StateID) *State {
	return &State{
		ID: id,
		Assemble: func(ctx *Context) (Setpoint, error) {
			p, err := d.cruise(ctx, to)
			if err != nil {
				return Setpoint{}, err
			}
			return HoldPosition(p), nil
		},
		Transitions: []Transition{{
			Name: "arrived",
			When: func(ctx *Context) bool { return d.arrived(ctx, to) },
			To:   next,
		}},
	}
}

// dropState holds over (or on) ref and raises the drop signal for a fixed
// window of ticks.
func (d *delivery) dropState(id StateID, at string, onGround bool, nextRef string, next StateID) *State {
	return &State{
		ID: id,
		Assemble: func(ctx *Context) (Setpoint, error) {
			n := ctx.StateTicks
			ctx.Drop = n > d.cfg.DropAssertAfter && n <= d.cfg.DropReleaseAfter
			if onGround {
				return d.landAt(at)(ctx)
			}
			p, err := d.cruise(ctx, at)
			if err != nil {
				return Setpoint{}, err
			}
			return HoldPosition(p), nil
		},
		Transitions: []Transition{{
			Name: "drop complete",
			When: All(Acquired(nextRef), After(d.cfg.DropReleaseAfter)),
			To:   next,
		}},
	}
}

func (d *delivery) landState(id StateID, at string, next StateID) *State {
	return &State{
		ID:       id,
		Assemble: d.landAt(at),
		Transitions: []Transition{
			{Name: "landed", When: d.landed(at), To: next},
		},
	}
}

func (d *delivery) landAt(ref string) func(*Context) (Setpoint, error) {
	return func(ctx *Context) (Setpoint, error) {
		p, err := ctx.Refs.Get(ref)
		if err != nil {
			return Setpoint{}, err
		}
		p.Z += d.cfg.LandOffset
		return Land(p), nil
	}
}

// arrived is true inside the arrival radius of ref at settled speed.
func (d *delivery) arrived(ctx *Context, ref string) bool {
	p, err := ctx.Refs.Get(ref)
	if err != nil {
		return false
	}
	s, ok := ctx.Position()
	return ok && geom.Within(s.Position, p, d.cfg.ArrivalRadiusSq) && ctx.Settled(d.cfg.SettledSpeedSq)
}

func (d *delivery) landed(ref string) Predicate {
	return func(ctx *Context) bool {
		if !d.arrived(ctx, ref) {
			return false
		}
		p, _ := ctx.Refs.Get(ref)
		s, _ := ctx.Position()
		vz := s.Velocity.Z
		return vz*vz < d.cfg.LandedVerticalSpeedSq && math.Abs(s.Position.Z-p.Z) <= d.cfg.LandedAltitudeTolerance
	}
}
