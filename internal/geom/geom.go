// Package geom holds the planar path-planning helpers used by the mission
// state machines. Positions are local NED metres; only X (north) and Y (east)
// take part in the planar calculations, Z is carried through unchanged.
package geom

import (
	"errors"
	"math"

	"github.com/golang/geo/r3"
)

var (
	// ErrUndefinedSlope is returned when the two points share an X coordinate.
	ErrUndefinedSlope = errors.New("slope undefined for points with equal x")
	// ErrDegenerateGeometry is returned when a reference line cannot be built
	// from a home/target pair.
	ErrDegenerateGeometry = errors.New("degenerate reference geometry")
)

// Bearing returns atan2(dy, dx) from p1 to p2 in radians.
func Bearing(p1, p2 r3.Vector) float64 {
	return math.Atan2(p2.Y-p1.Y, p2.X-p1.X)
}

// Slope returns dy/dx of the line through p1 and p2.
func Slope(p1, p2 r3.Vector) (float64, error) {
	dx := p2.X - p1.X
	if dx == 0 {
		return 0, ErrUndefinedSlope
	}
	return (p2.Y - p1.Y) / dx, nil
}

// PerpendicularOffset displaces base by distance along the line perpendicular
// to a line of the given slope. sign selects the side and should be +1 or -1.
//
// For a horizontal line (slope 0) the perpendicular is the Y axis and the
// displacement is (0, sign*distance).
func PerpendicularOffset(base r3.Vector, slope, distance, sign float64) r3.Vector {
	if slope == 0 {
		return r3.Vector{X: base.X, Y: base.Y + sign*distance, Z: base.Z}
	}
	return ForwardOffset(base, -1/slope, distance, sign)
}

// ForwardOffset displaces base by distance along a line of the given slope.
// sign chooses the direction of travel, see DirectionalSign.
func ForwardOffset(base r3.Vector, slope, distance, sign float64) r3.Vector {
	scale := sign * distance / math.Sqrt(1+slope*slope)
	return r3.Vector{
		X: base.X + scale,
		Y: base.Y + scale*slope,
		Z: base.Z,
	}
}

// DirectionalSign returns +1 when the target lies at larger X than home and
// -1 otherwise.
func DirectionalSign(home, target r3.Vector) float64 {
	if target.X > home.X {
		return 1
	}
	return -1
}

// DistanceSq is the squared planar distance between p and q.
func DistanceSq(p, q r3.Vector) float64 {
	dx, dy := p.X-q.X, p.Y-q.Y
	return dx*dx + dy*dy
}

// Within reports whether p lies inside or on the planar circle of squared
// radius radiusSq centred on q. A point is within any non-negative radius of
// itself.
func Within(p, q r3.Vector, radiusSq float64) bool {
	return DistanceSq(p, q) <= radiusSq
}

// SpeedSq is the squared horizontal speed.
func SpeedSq(vx, vy float64) float64 {
	return vx*vx + vy*vy
}

// Line is a validated planar reference line from home towards target.
type Line struct {
	Home    r3.Vector
	Target  r3.Vector
	Slope   float64
	Bearing float64
	// Dir is the DirectionalSign of the pair.
	Dir float64
}

// ReferenceLine builds the line used by the avoidance planner. Coincident
// points and pairs sharing an X coordinate are rejected because the offset
// formulas have no defined slope for them.
func ReferenceLine(home, target r3.Vector) (Line, error) {
	if DistanceSq(home, target) == 0 {
		return Line{}, ErrDegenerateGeometry
	}
	k, err := Slope(home, target)
	if err != nil {
		return Line{}, errors.Join(ErrDegenerateGeometry, err)
	}
	return Line{
		Home:    home,
		Target:  target,
		Slope:   k,
		Bearing: Bearing(home, target),
		Dir:     DirectionalSign(home, target),
	}, nil
}

// Side returns the perpendicular offset of base from the line.
func (l Line) Side(base r3.Vector, distance, sign float64) r3.Vector {
	return PerpendicularOffset(base, l.Slope, distance, sign)
}

// Forward returns base advanced by distance towards the target.
func (l Line) Forward(base r3.Vector, distance float64) r3.Vector {
	return ForwardOffset(base, l.Slope, distance, l.Dir)
}

// Offset returns the signed distance of p from the line, positive to the
// right of the direction of travel.
func (l Line) Offset(p r3.Vector) float64 {
	d := p.Sub(l.Home)
	sin, cos := math.Sincos(l.Bearing)
	return -d.X*sin + d.Y*cos
}
