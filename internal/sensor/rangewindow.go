package sensor

// rangeDepth is the number of consecutive readings an obstacle decision needs.
const rangeDepth = 3

// RangeWindow keeps the last three in-bounds range readings.
type RangeWindow struct {
	buf  [rangeDepth]float64
	next int
	n    int
}

// Push records a reading, evicting the oldest once full.
func (r *RangeWindow) Push(d float64) {
	r.buf[r.next] = d
	r.next = (r.next + 1) % rangeDepth
	if r.n < rangeDepth {
		r.n++
	}
}

// Full reports whether three readings have been recorded.
func (r *RangeWindow) Full() bool { return r.n == rangeDepth }

// AllBelow reports whether the last three readings are all below t.
func (r *RangeWindow) AllBelow(t float64) bool {
	if !r.Full() {
		return false
	}
	for _, d := range r.buf {
		if d >= t {
			return false
		}
	}
	return true
}

// AllAbove reports whether the last three readings are all above t.
func (r *RangeWindow) AllAbove(t float64) bool {
	if !r.Full() {
		return false
	}
	for _, d := range r.buf {
		if d <= t {
			return false
		}
	}
	return true
}

// Reset empties the window.
func (r *RangeWindow) Reset() {
	*r = RangeWindow{}
}
