// Package mission sequences a scripted flight as a table-driven state
// machine. Each mission type is a Definition: a list of states, each with an
// entry hook, a setpoint assembler and an ordered list of transitions.
package mission

import (
	"errors"
	"fmt"
	"slices"

	"github.com/golang/geo/r3"

	"github.com/banshee-data/offboard/internal/monitoring"
	"github.com/banshee-data/offboard/internal/sensor"
)

// StateID names a mission state.
type StateID string

// StateAbort is entered by every mission after a fault.
const StateAbort StateID = "Abort"

// Predicate decides whether a transition fires. Predicates only read ctx.
type Predicate func(ctx *Context) bool

// Transition moves the machine to To when When holds.
type Transition struct {
	Name string
	When Predicate
	To   StateID
}

// GlobalTransition is evaluated before the current state's own transitions
// in every state not listed in Except.
type GlobalTransition struct {
	Transition
	Except []StateID
}

// State is one row of a mission table.
type State struct {
	ID StateID
	// Enter runs when the state is entered, including re-entry through a
	// self transition. An error faults the mission.
	Enter func(ctx *Context) error
	// Assemble builds this tick's setpoint. An error faults the mission.
	Assemble    func(ctx *Context) (Setpoint, error)
	Transitions []Transition
	// Terminal marks states that complete the mission.
	Terminal bool
}

// Definition describes a mission type.
type Definition struct {
	Name    string
	Initial StateID
	States  []*State
	Global  []GlobalTransition

	// Marks lists the reference points an operator may acquire and the
	// number of samples averaged for each.
	Marks map[string]int

	// BeforeTick runs at the start of every tick, after the sensor snapshot
	// was applied.
	BeforeTick func(ctx *Context)

	// Claim may take ownership of an acquisition before it is frozen into
	// the mission references. It returns true when it did.
	Claim func(ctx *Context, acq sensor.Acquisition) bool
}

// Validate checks that the table is closed: every transition target exists.
func (d *Definition) Validate() error {
	ids := make(map[StateID]bool, len(d.States))
	for _, s := range d.States {
		if s.ID == "" || s.ID == StateAbort {
			return fmt.Errorf("mission %s: reserved or empty state id %q", d.Name, s.ID)
		}
		if ids[s.ID] {
			return fmt.Errorf("mission %s: duplicate state %s", d.Name, s.ID)
		}
		if s.Assemble == nil {
			return fmt.Errorf("mission %s: state %s has no assembler", d.Name, s.ID)
		}
		ids[s.ID] = true
	}
	if !ids[d.Initial] {
		return fmt.Errorf("mission %s: unknown initial state %s", d.Name, d.Initial)
	}
	check := func(from StateID, t Transition) error {
		if t.When == nil {
			return fmt.Errorf("mission %s: transition %q from %s has no predicate", d.Name, t.Name, from)
		}
		if !ids[t.To] && t.To != StateAbort {
			return fmt.Errorf("mission %s: transition %q from %s to unknown state %s", d.Name, t.Name, from, t.To)
		}
		return nil
	}
	for _, s := range d.States {
		for _, t := range s.Transitions {
			if err := check(s.ID, t); err != nil {
				return err
			}
		}
	}
	for _, g := range d.Global {
		if err := check("*", g.Transition); err != nil {
			return err
		}
	}
	return nil
}

// Context is the mutable record of one mission run. It is owned by a single
// Machine and never shared.
type Context struct {
	// Tick counts machine steps from 1.
	Tick uint64
	// State is the current state and StateTicks the number of ticks spent
	// in it, counting the current tick as 1.
	State      StateID
	StateTicks int
	// From is the state left by the most recent transition.
	From StateID

	Refs   *References
	Filter *sensor.Filter

	// Drop is the delivery signal for the current tick. It is cleared
	// before every assembly.
	Drop bool

	Fault error
	Last  Setpoint
}

// Position returns the latest usable position sample.
func (c *Context) Position() (sensor.PositionVelocitySample, bool) {
	return c.Filter.Position()
}

// Settled reports whether the horizontal speed squared is below speedSq.
func (c *Context) Settled(speedSq float64) bool {
	s, ok := c.Position()
	return ok && s.Velocity.X*s.Velocity.X+s.Velocity.Y*s.Velocity.Y < speedSq
}

// Acquired returns a predicate true once every id is acquired.
func Acquired(ids ...string) Predicate {
	return func(ctx *Context) bool {
		for _, id := range ids {
			if !ctx.Refs.Acquired(id) {
				return false
			}
		}
		return true
	}
}

// All combines predicates with logical and.
func All(ps ...Predicate) Predicate {
	return func(ctx *Context) bool {
		for _, p := range ps {
			if !p(ctx) {
				return false
			}
		}
		return true
	}
}

// After holds once the state has run for more than n ticks.
func After(n int) Predicate {
	return func(ctx *Context) bool { return ctx.StateTicks > n }
}

// Output is what a Machine produces each tick.
type Output struct {
	Tick     uint64
	State    StateID
	Setpoint Setpoint
	Drop     bool
}

// TransitionFunc observes state changes.
type TransitionFunc func(tick uint64, from, to StateID, name string)

// FaultFunc observes mission faults.
type FaultFunc func(tick uint64, state StateID, err error)

// Option configures a Machine.
type Option func(*Machine)

// WithTransitionHook registers fn for every transition.
func WithTransitionHook(fn TransitionFunc) Option {
	return func(m *Machine) { m.onTransition = fn }
}

// WithFaultHook registers fn for faults.
func WithFaultHook(fn FaultFunc) Option {
	return func(m *Machine) { m.onFault = fn }
}

// Machine steps a Definition once per tick.
type Machine struct {
	def    *Definition
	states map[StateID]*State
	ctx    *Context

	abortAt      r3.Vector
	abortHasPos  bool
	onTransition TransitionFunc
	onFault      FaultFunc
}

// NewMachine validates def and returns a machine in its initial state.
func NewMachine(def *Definition, filter *sensor.Filter, opts ...Option) (*Machine, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	m := &Machine{
		def:    def,
		states: make(map[StateID]*State, len(def.States)),
		ctx: &Context{
			State:  def.Initial,
			Refs:   newReferences(),
			Filter: filter,
		},
	}
	for _, s := range def.States {
		m.states[s.ID] = s
	}
	for _, o := range opts {
		o(m)
	}
	if err := m.enter(def.Initial); err != nil {
		return nil, fmt.Errorf("mission %s: entering %s: %w", def.Name, def.Initial, err)
	}
	return m, nil
}

// Name is the mission type.
func (m *Machine) Name() string { return m.def.Name }

// State is the current state.
func (m *Machine) State() StateID { return m.ctx.State }

// Context exposes the run record for inspection. Callers must not mutate it.
func (m *Machine) Context() *Context { return m.ctx }

// Fault returns the error that aborted the mission, if any.
func (m *Machine) Fault() error { return m.ctx.Fault }

// Done reports whether the mission reached a terminal state or aborted.
func (m *Machine) Done() bool {
	if m.ctx.State == StateAbort {
		return true
	}
	s := m.states[m.ctx.State]
	return s != nil && s.Terminal
}

// Mark starts acquiring reference point id from the next position samples.
func (m *Machine) Mark(id string) error {
	n, ok := m.def.Marks[id]
	if !ok {
		return fmt.Errorf("%w %q for mission %s", ErrUnknownMark, id, m.def.Name)
	}
	if m.ctx.Refs.Acquired(id) {
		return fmt.Errorf("%w: %s", ErrAlreadyAcquired, id)
	}
	m.ctx.Filter.BeginAcquire(id, n)
	monitoring.Logf("mission %s: acquiring %s over %d samples", m.def.Name, id, n)
	return nil
}

// Step runs one tick: apply the sensor snapshot, assemble the current
// state's setpoint, then evaluate transitions. A transition taken this tick
// affects the next tick's setpoint.
func (m *Machine) Step(in sensor.Inputs) Output {
	ctx := m.ctx
	ctx.Tick++
	ctx.StateTicks++
	ctx.Drop = false

	if acq, ok := ctx.Filter.Tick(in); ok {
		m.acquire(acq)
	}
	if s, ok := ctx.Filter.LastPosition(); ok && ctx.State != StateAbort {
		m.abortAt, m.abortHasPos = s.Position, true
	}
	if m.def.BeforeTick != nil && ctx.State != StateAbort {
		m.def.BeforeTick(ctx)
	}

	state := ctx.State
	sp, err := m.assemble()
	if err != nil {
		m.fault(err)
		sp = m.abortSetpoint()
		ctx.Drop = false
	} else if ctx.State != StateAbort {
		m.transition()
	}

	ctx.Last = sp
	return Output{Tick: ctx.Tick, State: state, Setpoint: sp, Drop: ctx.Drop}
}

func (m *Machine) acquire(acq sensor.Acquisition) {
	if m.def.Claim != nil && m.def.Claim(m.ctx, acq) {
		return
	}
	if err := m.ctx.Refs.Acquire(acq.ID, acq.Position); err != nil {
		monitoring.Logf("mission %s: %v", m.def.Name, err)
		return
	}
	monitoring.Logf("mission %s: acquired %s at (%.2f, %.2f, %.2f)",
		m.def.Name, acq.ID, acq.Position.X, acq.Position.Y, acq.Position.Z)
}

func (m *Machine) assemble() (Setpoint, error) {
	if m.ctx.State == StateAbort {
		return m.abortSetpoint(), nil
	}
	sp, err := m.states[m.ctx.State].Assemble(m.ctx)
	if err != nil {
		return Setpoint{}, err
	}
	if err := sp.Validate(); err != nil {
		return Setpoint{}, err
	}
	return sp, nil
}

func (m *Machine) transition() {
	ctx := m.ctx
	cur := m.states[ctx.State]
	for _, g := range m.def.Global {
		if slices.Contains(g.Except, ctx.State) {
			continue
		}
		if g.When(ctx) {
			m.take(g.Transition)
			return
		}
	}
	for _, t := range cur.Transitions {
		if t.When(ctx) {
			m.take(t)
			return
		}
	}
}

func (m *Machine) take(t Transition) {
	from := m.ctx.State
	if m.onTransition != nil {
		m.onTransition(m.ctx.Tick, from, t.To, t.Name)
	}
	monitoring.Logf("mission %s: tick %d %s -> %s (%s)", m.def.Name, m.ctx.Tick, from, t.To, t.Name)
	m.ctx.From = from
	if err := m.enter(t.To); err != nil {
		m.fault(fmt.Errorf("entering %s: %w", t.To, err))
	}
}

func (m *Machine) enter(id StateID) error {
	m.ctx.State = id
	m.ctx.StateTicks = 0
	if id == StateAbort {
		return nil
	}
	if s := m.states[id]; s.Enter != nil {
		return s.Enter(m.ctx)
	}
	return nil
}

func (m *Machine) fault(err error) {
	if m.ctx.Fault == nil {
		m.ctx.Fault = err
	} else {
		m.ctx.Fault = errors.Join(m.ctx.Fault, err)
	}
	from := m.ctx.State
	monitoring.Logf("mission %s: fault in %s at tick %d: %v", m.def.Name, from, m.ctx.Tick, err)
	if m.onFault != nil {
		m.onFault(m.ctx.Tick, from, err)
	}
	if from != StateAbort {
		m.ctx.From = from
		m.ctx.State = StateAbort
		m.ctx.StateTicks = 0
		if m.onTransition != nil {
			m.onTransition(m.ctx.Tick, from, StateAbort, "fault")
		}
	}
}

// abortSetpoint loiters where the vehicle was last seen before the fault, or
// idles when no position was ever received.
func (m *Machine) abortSetpoint() Setpoint {
	if !m.abortHasPos {
		return Idle()
	}
	return Loiter(m.abortAt)
}
