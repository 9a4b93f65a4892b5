// Package sensor turns raw position, range and vision samples into the
// filtered quantities the mission states consume.
package sensor

import (
	"math"
	"time"

	"github.com/golang/geo/r3"
)

// Topic names a sample stream.
type Topic string

const (
	TopicPosition Topic = "position"
	TopicRange    Topic = "range"
	TopicVision   Topic = "vision"
)

// Sample is implemented by every sample type accepted by Filter.Update.
type Sample interface {
	Topic() Topic
}

// PositionVelocitySample is a local NED position and velocity estimate.
type PositionVelocitySample struct {
	Position r3.Vector
	Velocity r3.Vector
	At       time.Time
}

func (PositionVelocitySample) Topic() Topic { return TopicPosition }

// Finite reports whether every component is a finite number.
func (s PositionVelocitySample) Finite() bool {
	return finite(s.Position) && finite(s.Velocity)
}

// RangeSample is a forward range-finder reading in metres together with the
// sensor's valid measuring interval.
type RangeSample struct {
	Distance float64
	MinValid float64
	MaxValid float64
}

func (RangeSample) Topic() Topic { return TopicRange }

// InBounds reports whether the reading lies within [MinValid, MaxValid].
func (s RangeSample) InBounds() bool {
	return !math.IsNaN(s.Distance) && s.Distance >= s.MinValid && s.Distance <= s.MaxValid
}

// VisionSample is a marker position in camera pixel coordinates.
type VisionSample struct {
	X     float64
	Y     float64
	Valid bool
}

func (VisionSample) Topic() Topic { return TopicVision }

// ImageCenter is the pixel the vision controllers steer the marker towards.
type ImageCenter struct {
	X float64
	Y float64
}

// DefaultImageCenter matches a 320x240 camera frame.
var DefaultImageCenter = ImageCenter{X: 160, Y: 120}

// Offset returns the marker displacement from c as (north, east) errors.
// Image rows grow downward, so a marker above the centre is ahead.
func (s VisionSample) Offset(c ImageCenter) (north, east float64) {
	return c.Y - s.Y, s.X - c.X
}

func finite(v r3.Vector) bool {
	for _, f := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
