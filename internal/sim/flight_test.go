package sim_test

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/offboard/internal/mission"
	"github.com/banshee-data/offboard/internal/sim"
)

// flight closes the loop between a mission machine and a simulated vehicle
// without a scheduler: every Step is one tick.
type flight struct {
	t       *testing.T
	vehicle *sim.Sim
	machine *mission.Machine

	transitions []string
	outputs     []mission.Output
	// track records the true position after every tick.
	track []r3.Vector
}

func newFlight(t *testing.T, kind mission.Kind, world sim.World, seed uint64) *flight {
	t.Helper()
	cfg := sim.DefaultConfig()
	cfg.Seed = seed
	f := &flight{t: t, vehicle: sim.New(cfg, world, sim.Outputs{}, nil)}
	m, err := mission.New(kind, mission.DefaultSettings(),
		mission.WithTransitionHook(func(_ uint64, from, to mission.StateID, _ string) {
			f.transitions = append(f.transitions, string(from)+"->"+string(to))
		}))
	require.NoError(t, err)
	f.machine = m
	return f
}

func (f *flight) step() mission.Output {
	out := f.machine.Step(f.vehicle.Sense())
	f.vehicle.Step(out)
	f.outputs = append(f.outputs, out)
	f.track = append(f.track, f.vehicle.Snapshot().Vehicle.Position)
	return out
}

// mark carries the vehicle to p and averages a reference point there.
func (f *flight) mark(id string, p r3.Vector) {
	f.t.Helper()
	f.vehicle.Place(p)
	require.NoError(f.t, f.machine.Mark(id))
	for range 30 {
		f.step()
		if f.machine.Context().Refs.Acquired(id) {
			return
		}
	}
	f.t.Fatalf("reference %s not acquired", id)
}

// fly steps until the mission is done, then lets the vehicle settle.
func (f *flight) fly(limit int) {
	f.t.Helper()
	for range limit {
		f.step()
		if f.machine.Done() {
			require.NoError(f.t, f.machine.Fault())
			for range 150 {
				f.step()
			}
			return
		}
	}
	f.t.Fatalf("mission still in %s after %d ticks", f.machine.State(), limit)
}

func (f *flight) statesVisited() []mission.StateID {
	var out []mission.StateID
	for _, o := range f.outputs {
		if len(out) == 0 || out[len(out)-1] != o.State {
			out = append(out, o.State)
		}
	}
	return out
}

func planar(p, q r3.Vector) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

func TestFlight_Delivery(t *testing.T) {
	home := r3.Vector{}
	b := r3.Vector{X: 6}
	c := r3.Vector{X: 6, Y: 6}

	f := newFlight(t, mission.KindDelivery, sim.World{}, 1)
	f.mark(mission.RefB, b)
	f.mark(mission.RefC, c)
	f.mark(mission.RefHome, home)
	f.fly(3000)

	want := []string{
		"Acquire->TakeoffAtA",
		"TakeoffAtA->LoiterAfterTakeoffA",
		"LoiterAfterTakeoffA->TransitToB",
		"TransitToB->DropAtB",
		"DropAtB->TransitToC",
		"TransitToC->LandAtC",
		"LandAtC->DropAtC",
		"DropAtC->TakeoffAtC",
		"TakeoffAtC->LoiterAfterTakeoffC",
		"LoiterAfterTakeoffC->TransitToA",
		"TransitToA->LandAtA",
	}
	if diff := cmp.Diff(want, f.transitions); diff != "" {
		t.Errorf("transitions mismatch (-want +got):\n%s", diff)
	}

	drops := map[mission.StateID]int{}
	for i, o := range f.outputs {
		if !o.Drop {
			continue
		}
		drops[o.State]++
		switch o.State {
		case mission.DeliverDropAtB:
			assert.Less(t, planar(f.track[i], b), 0.5)
			assert.Less(t, f.track[i].Z, -2.0, "payload B is dropped from cruise")
		case mission.DeliverDropAtC:
			assert.Less(t, planar(f.track[i], c), 0.5)
			assert.Greater(t, f.track[i].Z, -0.1, "payload C is dropped on the ground")
		}
	}
	assert.Equal(t, map[mission.StateID]int{mission.DeliverDropAtB: 20, mission.DeliverDropAtC: 20}, drops)

	snap := f.vehicle.Snapshot()
	assert.Equal(t, 2, snap.Releases)
	assert.True(t, snap.OnGround)
	assert.Less(t, planar(snap.Vehicle.Position, home), 0.2)
}

func TestFlight_Homing(t *testing.T) {
	marker := r3.Vector{X: 2, Y: 1.5}
	f := newFlight(t, mission.KindHoming, sim.World{Marker: &marker}, 1)
	f.mark(mission.RefHome, r3.Vector{})
	f.fly(5000)

	want := []mission.StateID{
		mission.HomeAcquire,
		mission.HomeTakeoff,
		mission.HomeHover,
		mission.HomeTrack,
		mission.HomeReturn,
		mission.HomeLand,
	}
	if diff := cmp.Diff(want, f.statesVisited()); diff != "" {
		t.Errorf("states mismatch (-want +got):\n%s", diff)
	}

	// once the tracker has converged the vehicle stays over the marker
	tracked := 0
	for i, o := range f.outputs {
		if o.State != mission.HomeTrack {
			continue
		}
		tracked++
		if tracked > 1000 {
			assert.Less(t, planar(f.track[i], marker), 0.5, "tick %d", o.Tick)
		}
	}
	assert.Greater(t, tracked, 1500)

	snap := f.vehicle.Snapshot()
	assert.True(t, snap.OnGround)
	assert.Less(t, planar(snap.Vehicle.Position, r3.Vector{}), 0.2)
}

func TestFlight_AvoidanceAroundObstacle(t *testing.T) {
	target := r3.Vector{X: 10}
	world := sim.World{Obstacles: []sim.Obstacle{{X: 5, Y: 0, Radius: 0.5}}}

	f := newFlight(t, mission.KindAvoidance, world, 1)
	f.mark(mission.RefTarget, target)
	f.mark(mission.RefHome, r3.Vector{})
	f.fly(3000)

	want := []mission.StateID{
		mission.AvoidAcquire,
		mission.AvoidTakeoff,
		mission.AvoidTransit,
		mission.AvoidProbeSide,
		mission.AvoidProbeForwardC,
		mission.AvoidProbeForwardD,
		mission.AvoidTransit,
		mission.AvoidFinalApproach,
		mission.AvoidLand,
	}
	if diff := cmp.Diff(want, f.statesVisited()); diff != "" {
		t.Errorf("states mismatch (-want +got):\n%s", diff)
	}

	for _, p := range f.track {
		assert.Greater(t, planar(p, r3.Vector{X: 5}), 0.5, "vehicle entered the obstacle at %v", p)
	}
	snap := f.vehicle.Snapshot()
	assert.True(t, snap.OnGround)
	assert.Less(t, planar(snap.Vehicle.Position, target), 0.2)
}

func TestFlight_AvoidanceProbesOtherSide(t *testing.T) {
	// the obstacle leans towards the first probe side, so the first probe
	// still sees it and the second one, mirrored across the line, clears it
	world := sim.World{Obstacles: []sim.Obstacle{{X: 5, Y: 0.6, Radius: 0.8}}}

	f := newFlight(t, mission.KindAvoidance, world, 1)
	f.mark(mission.RefTarget, r3.Vector{X: 10})
	f.mark(mission.RefHome, r3.Vector{})
	f.fly(3000)

	assert.Contains(t, f.transitions, "ProbeAvoidSide->ProbeAvoidSide")
	assert.Contains(t, f.transitions, "ProbeAvoidSide->ProbeForwardC")
	assert.Equal(t, mission.AvoidLand, f.machine.State())

	// the clear side is the negative one
	var minY float64
	for i, o := range f.outputs {
		if o.State == mission.AvoidProbeForwardC {
			minY = math.Min(minY, f.track[i].Y)
		}
	}
	assert.Less(t, minY, -0.5)
}

func TestFlight_Deterministic(t *testing.T) {
	run := func() ([]mission.Output, []string) {
		f := newFlight(t, mission.KindDelivery, sim.World{}, 42)
		f.mark(mission.RefB, r3.Vector{X: 4, Y: 2})
		f.mark(mission.RefC, r3.Vector{X: -3, Y: 5})
		f.mark(mission.RefHome, r3.Vector{})
		f.fly(3000)
		return f.outputs, f.transitions
	}
	out1, tr1 := run()
	out2, tr2 := run()
	if diff := cmp.Diff(tr1, tr2); diff != "" {
		t.Errorf("transitions differ between runs (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(out1, out2); diff != "" {
		t.Errorf("outputs differ between runs (-first +second):\n%s", diff)
	}
}
