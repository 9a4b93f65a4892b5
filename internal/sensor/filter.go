package sensor

import (
	"github.com/golang/geo/r3"
)

// FilterConfig tunes a Filter.
type FilterConfig struct {
	// PositionStaleLimit, RangeStaleLimit and VisionStaleLimit are the number
	// of consecutive missed ticks tolerated before a topic stops being useful.
	PositionStaleLimit int
	RangeStaleLimit    int
	VisionStaleLimit   int
}

// DefaultFilterConfig returns the limits used by the flight missions.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		PositionStaleLimit: 5,
		RangeStaleLimit:    5,
		VisionStaleLimit:   5,
	}
}

// Inputs is the snapshot of fresh samples taken at the start of a tick. A nil
// field means the topic produced nothing new.
type Inputs struct {
	Position *PositionVelocitySample
	Range    *RangeSample
	Vision   *VisionSample
}

// Acquisition is a completed reference-point average.
type Acquisition struct {
	ID       string
	Position r3.Vector
}

// Filter holds the per-mission view of the sensor topics.
type Filter struct {
	cfg FilterConfig

	position     PositionVelocitySample
	havePosition bool
	positionAge  Staleness

	ranges   RangeWindow
	lastDist float64
	rangeAge Staleness

	vision    VisionSample
	visionAge Staleness

	seen  map[Topic]bool
	fresh map[Topic]bool

	pendingID string
	pending   *Window
	acquired  *Acquisition
}

// NewFilter returns an empty filter.
func NewFilter(cfg FilterConfig) *Filter {
	return &Filter{
		cfg:         cfg,
		positionAge: Staleness{Limit: cfg.PositionStaleLimit},
		rangeAge:    Staleness{Limit: cfg.RangeStaleLimit},
		visionAge:   Staleness{Limit: cfg.VisionStaleLimit},
		seen:        make(map[Topic]bool, 3),
		fresh:       make(map[Topic]bool, 3),
	}
}

// Update folds one sample into the filter. Samples outside their validity
// bounds are discarded and count against the topic's staleness.
func (f *Filter) Update(s Sample) {
	f.seen[s.Topic()] = true
	switch s := s.(type) {
	case PositionVelocitySample:
		if !s.Finite() {
			f.positionAge.Miss()
			return
		}
		f.position = s
		f.havePosition = true
		f.fresh[TopicPosition] = true
		f.positionAge.Fresh()
		f.feedAcquisition(s.Position)
	case RangeSample:
		if !s.InBounds() {
			f.rangeAge.Miss()
			return
		}
		f.ranges.Push(s.Distance)
		f.lastDist = s.Distance
		f.rangeAge.Fresh()
		f.fresh[TopicRange] = true
	case VisionSample:
		if !s.Valid {
			f.visionAge.Miss()
			return
		}
		f.vision = s
		f.visionAge.Fresh()
		f.fresh[TopicVision] = true
	}
}

// Tick applies one tick's snapshot. Topics absent from in age by one tick.
// It returns a reference point whose averaging window completed this tick.
func (f *Filter) Tick(in Inputs) (Acquisition, bool) {
	clear(f.seen)
	clear(f.fresh)
	f.acquired = nil

	if in.Position != nil {
		f.Update(*in.Position)
	}
	if in.Range != nil {
		f.Update(*in.Range)
	}
	if in.Vision != nil {
		f.Update(*in.Vision)
	}

	if !f.seen[TopicPosition] {
		f.positionAge.Miss()
	}
	if !f.seen[TopicRange] {
		f.rangeAge.Miss()
	}
	if !f.seen[TopicVision] {
		f.visionAge.Miss()
	}

	if f.acquired == nil {
		return Acquisition{}, false
	}
	return *f.acquired, true
}

// BeginAcquire starts averaging the next n position samples into the
// reference point id. A pending acquisition for another id is abandoned.
func (f *Filter) BeginAcquire(id string, n int) {
	f.pendingID = id
	f.pending = NewWindow(n)
}

// Acquiring returns the id of the pending acquisition, if any.
func (f *Filter) Acquiring() (string, bool) {
	return f.pendingID, f.pending != nil
}

// CancelAcquire abandons any pending acquisition.
func (f *Filter) CancelAcquire() {
	f.pendingID = ""
	f.pending = nil
}

func (f *Filter) feedAcquisition(p r3.Vector) {
	if f.pending == nil {
		return
	}
	avg, ok := f.pending.Add(p)
	if !ok {
		return
	}
	f.acquired = &Acquisition{ID: f.pendingID, Position: avg}
	f.CancelAcquire()
}

// Position returns the latest valid position sample and whether one has been
// seen and is not stale.
func (f *Filter) Position() (PositionVelocitySample, bool) {
	return f.position, f.havePosition && f.positionAge.Useful()
}

// LastPosition returns the latest valid position sample regardless of age.
func (f *Filter) LastPosition() (PositionVelocitySample, bool) {
	return f.position, f.havePosition
}

// ObstacleWithin reports whether the last three range readings were all
// closer than threshold.
func (f *Filter) ObstacleWithin(threshold float64) bool {
	return f.rangeAge.Useful() && f.ranges.AllBelow(threshold)
}

// ClearBeyond reports whether the last three range readings were all farther
// than threshold.
func (f *Filter) ClearBeyond(threshold float64) bool {
	return f.rangeAge.Useful() && f.ranges.AllAbove(threshold)
}

// Range returns the latest in-bounds range reading.
func (f *Filter) Range() (float64, bool) {
	return f.lastDist, f.ranges.n > 0 && f.rangeAge.Useful()
}

// Vision returns the latest valid marker sample and whether it is still
// useful.
func (f *Filter) Vision() (VisionSample, bool) {
	return f.vision, f.vision.Valid && f.visionAge.Useful()
}

// Fresh reports whether a valid sample arrived on t during the current tick.
func (f *Filter) Fresh(t Topic) bool {
	return f.fresh[t]
}

// Staleness returns the miss counter of a topic.
func (f *Filter) Staleness(t Topic) int {
	switch t {
	case TopicPosition:
		return f.positionAge.Count()
	case TopicRange:
		return f.rangeAge.Count()
	case TopicVision:
		return f.visionAge.Count()
	}
	return 0
}
