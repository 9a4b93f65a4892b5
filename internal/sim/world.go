package sim

import (
	"math"

	"github.com/golang/geo/r3"
)

// Obstacle is a vertical cylinder of infinite height standing on the local
// NED plane.
type Obstacle struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius"`
}

// World is the static scene the vehicle flies in.
type World struct {
	// GroundZ is the NED altitude of the ground plane.
	GroundZ   float64    `json:"ground_z"`
	Obstacles []Obstacle `json:"obstacles,omitempty"`
	// Marker is the ground target seen by the downward camera. Nil means
	// no marker.
	Marker *r3.Vector `json:"marker,omitempty"`
}

// RangeAlong casts a horizontal ray from p along heading yaw and returns the
// distance to the nearest obstacle surface. A point inside an obstacle sees
// it at zero range.
func (w World) RangeAlong(p r3.Vector, yaw float64) (float64, bool) {
	sin, cos := math.Sincos(yaw)
	best := math.Inf(1)
	for _, o := range w.Obstacles {
		fx, fy := p.X-o.X, p.Y-o.Y
		c := fx*fx + fy*fy - o.Radius*o.Radius
		if c <= 0 {
			return 0, true
		}
		b := fx*cos + fy*sin
		disc := b*b - c
		if disc < 0 {
			continue
		}
		t := -b - math.Sqrt(disc)
		if t >= 0 && t < best {
			best = t
		}
	}
	return best, !math.IsInf(best, 1)
}

// Camera is a downward-looking pinhole camera fixed to the airframe. Image
// rows grow towards the tail and columns towards the right wing.
type Camera struct {
	Focal  float64 `json:"focal"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
	// MinHeight is the lowest height above ground at which the marker can
	// be resolved.
	MinHeight float64 `json:"min_height"`
}

// Project returns the pixel at which the marker appears for a vehicle at p
// with heading yaw, and whether it is inside the frame.
func (c Camera) Project(p r3.Vector, yaw float64, marker r3.Vector, groundZ float64) (x, y int, ok bool) {
	h := groundZ - p.Z
	if h < c.MinHeight || c.Focal <= 0 {
		return 0, 0, false
	}
	dn, de := marker.X-p.X, marker.Y-p.Y
	sin, cos := math.Sincos(yaw)
	forward := dn*cos + de*sin
	right := -dn*sin + de*cos

	k := c.Focal / h
	px := math.Round(float64(c.Width)/2 + right*k)
	py := math.Round(float64(c.Height)/2 - forward*k)
	if px < 0 || py < 0 || px >= float64(c.Width) || py >= float64(c.Height) {
		return 0, 0, false
	}
	return int(px), int(py), true
}
