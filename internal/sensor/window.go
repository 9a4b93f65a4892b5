package sensor

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/stat"
)

// Window averages a fixed number of position samples. The mean is reported
// exactly once, when the n-th sample arrives, after which the window starts
// over. Partial windows never report.
type Window struct {
	n       int
	x, y, z []float64
}

// NewWindow returns a window of n samples. n < 1 is treated as 1.
func NewWindow(n int) *Window {
	if n < 1 {
		n = 1
	}
	return &Window{
		n: n,
		x: make([]float64, 0, n),
		y: make([]float64, 0, n),
		z: make([]float64, 0, n),
	}
}

// Size is the number of samples averaged per report.
func (w *Window) Size() int { return w.n }

// Len is the number of samples accumulated since the last report.
func (w *Window) Len() int { return len(w.x) }

// Add accumulates p and returns the mean once the window is full.
func (w *Window) Add(p r3.Vector) (r3.Vector, bool) {
	w.x = append(w.x, p.X)
	w.y = append(w.y, p.Y)
	w.z = append(w.z, p.Z)
	if len(w.x) < w.n {
		return r3.Vector{}, false
	}
	avg := r3.Vector{
		X: stat.Mean(w.x, nil),
		Y: stat.Mean(w.y, nil),
		Z: stat.Mean(w.z, nil),
	}
	w.Reset()
	return avg, true
}

// Reset discards accumulated samples.
func (w *Window) Reset() {
	w.x = w.x[:0]
	w.y = w.y[:0]
	w.z = w.z[:0]
}
