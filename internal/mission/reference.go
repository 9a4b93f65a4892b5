package mission

import (
	"errors"
	"fmt"
	"sort"

	"github.com/golang/geo/r3"
)

var (
	ErrAlreadyAcquired = errors.New("reference point already acquired")
	ErrNotAcquired     = errors.New("reference point not acquired")
	ErrUnknownMark     = errors.New("unknown reference point")
)

// Reference point ids shared by the mission definitions.
const (
	RefHome   = "home"
	RefTarget = "target"
	RefB      = "b"
	RefC      = "c"
)

// ReferencePoint is an averaged mission anchor. Once acquired it never
// changes for the lifetime of the mission.
type ReferencePoint struct {
	ID       string
	Position r3.Vector
	Acquired bool
}

// References is the set of anchors of one mission run.
type References struct {
	points map[string]ReferencePoint
}

func newReferences() *References {
	return &References{points: make(map[string]ReferencePoint)}
}

// Acquire freezes id at p.
func (r *References) Acquire(id string, p r3.Vector) error {
	if rp, ok := r.points[id]; ok && rp.Acquired {
		return fmt.Errorf("%w: %s", ErrAlreadyAcquired, id)
	}
	r.points[id] = ReferencePoint{ID: id, Position: p, Acquired: true}
	return nil
}

// Acquired reports whether id has been frozen.
func (r *References) Acquired(id string) bool {
	return r.points[id].Acquired
}

// Get returns an acquired point or ErrNotAcquired.
func (r *References) Get(id string) (r3.Vector, error) {
	rp, ok := r.points[id]
	if !ok || !rp.Acquired {
		return r3.Vector{}, fmt.Errorf("%w: %s", ErrNotAcquired, id)
	}
	return rp.Position, nil
}

// All returns the acquired points ordered by id.
func (r *References) All() []ReferencePoint {
	out := make([]ReferencePoint, 0, len(r.points))
	for _, rp := range r.points {
		out = append(out, rp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
