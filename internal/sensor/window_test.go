package sensor

import (
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
)

func TestWindow_ReportsExactlyOnce(t *testing.T) {
	t.Parallel()

	w := NewWindow(4)
	pts := []r3.Vector{{X: 1, Y: 2, Z: 3}, {X: 3, Y: 2, Z: 1}, {X: 5, Y: -2, Z: 0}, {X: 7, Y: 6, Z: 4}}

	reports := 0
	var got r3.Vector
	for _, p := range pts {
		if avg, ok := w.Add(p); ok {
			reports++
			got = avg
		}
	}
	assert.Equal(t, 1, reports)
	assert.InDelta(t, 4.0, got.X, 1e-12)
	assert.InDelta(t, 2.0, got.Y, 1e-12)
	assert.InDelta(t, 2.0, got.Z, 1e-12)
	assert.Equal(t, 0, w.Len(), "window resets after reporting")
}

func TestWindow_PartialNeverReports(t *testing.T) {
	t.Parallel()

	w := NewWindow(10)
	for i := 0; i < 9; i++ {
		_, ok := w.Add(r3.Vector{X: 1, Y: 2, Z: 3})
		assert.False(t, ok)
	}
	assert.Equal(t, 9, w.Len())
}

func TestWindow_SizeFloor(t *testing.T) {
	t.Parallel()

	w := NewWindow(0)
	assert.Equal(t, 1, w.Size())
	avg, ok := w.Add(r3.Vector{X: 9})
	assert.True(t, ok)
	assert.Equal(t, 9.0, avg.X)
}

func TestRangeWindow(t *testing.T) {
	t.Parallel()

	var r RangeWindow
	r.Push(1)
	r.Push(1)
	assert.False(t, r.AllBelow(2), "needs three readings")
	r.Push(1)
	assert.True(t, r.AllBelow(2))
	assert.False(t, r.AllAbove(0.5) && r.AllBelow(0.5))

	r.Push(5)
	assert.False(t, r.AllBelow(2))
	r.Push(5)
	r.Push(5)
	assert.True(t, r.AllAbove(3))

	r.Reset()
	assert.False(t, r.Full())
}

func TestStaleness(t *testing.T) {
	t.Parallel()

	s := Staleness{Limit: 2}
	assert.True(t, s.Useful())
	s.Miss()
	s.Miss()
	assert.True(t, s.Useful())
	s.Miss()
	assert.False(t, s.Useful())
	s.Fresh()
	assert.True(t, s.Useful())
	assert.Equal(t, 0, s.Count())
}
