package geom

import (
	"errors"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eps = 1e-9

func TestBearing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		to   r3.Vector
		want float64
	}{
		{"north", r3.Vector{X: 1}, 0},
		{"east", r3.Vector{Y: 1}, math.Pi / 2},
		{"south", r3.Vector{X: -1}, math.Pi},
		{"west", r3.Vector{Y: -1}, -math.Pi / 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Bearing(r3.Vector{}, tt.to), eps)
		})
	}
}

func TestSlope(t *testing.T) {
	t.Parallel()

	k, err := Slope(r3.Vector{X: 0, Y: 0}, r3.Vector{X: 2, Y: 4})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, k, eps)

	_, err = Slope(r3.Vector{X: 1, Y: 0}, r3.Vector{X: 1, Y: 5})
	assert.ErrorIs(t, err, ErrUndefinedSlope)
}

func TestPerpendicularOffset_ReflectsThroughBase(t *testing.T) {
	t.Parallel()

	base := r3.Vector{X: 3, Y: -2, Z: -2.5}
	for _, slope := range []float64{0, 0.5, -1, 3, 1e-3} {
		plus := PerpendicularOffset(base, slope, 1.5, 1)
		minus := PerpendicularOffset(base, slope, 1.5, -1)

		mid := plus.Add(minus).Mul(0.5)
		assert.InDelta(t, base.X, mid.X, eps, "slope %v", slope)
		assert.InDelta(t, base.Y, mid.Y, eps, "slope %v", slope)
		assert.InDelta(t, 1.5*1.5, DistanceSq(plus, base), 1e-9, "slope %v", slope)
		assert.Equal(t, base.Z, plus.Z)
	}
}

func TestPerpendicularOffset_IsPerpendicular(t *testing.T) {
	t.Parallel()

	slope := 0.75
	base := r3.Vector{X: 1, Y: 1}
	p := PerpendicularOffset(base, slope, 2, 1)
	d := p.Sub(base)
	// dot product with the line direction (1, slope) vanishes
	assert.InDelta(t, 0, d.X+d.Y*slope, eps)
}

func TestForwardOffset(t *testing.T) {
	t.Parallel()

	base := r3.Vector{X: 0, Y: 0}
	p := ForwardOffset(base, 1, math.Sqrt2, 1)
	assert.InDelta(t, 1, p.X, eps)
	assert.InDelta(t, 1, p.Y, eps)

	q := ForwardOffset(base, 1, math.Sqrt2, -1)
	assert.InDelta(t, -1, q.X, eps)
	assert.InDelta(t, -1, q.Y, eps)
}

func TestDirectionalSign(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1.0, DirectionalSign(r3.Vector{X: 0}, r3.Vector{X: 5}))
	assert.Equal(t, -1.0, DirectionalSign(r3.Vector{X: 5}, r3.Vector{X: 0}))
}

func TestWithin(t *testing.T) {
	t.Parallel()

	points := []r3.Vector{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: -3, Y: 2.5}, {X: 10, Y: -4}}
	for _, p := range points {
		assert.True(t, Within(p, p, 0), "reflexive at zero radius for %v", p)
		assert.True(t, Within(p, p, 1e-6), "reflexive for %v", p)
		for _, q := range points {
			for _, r := range []float64{0.5, 2, 9, 200} {
				assert.Equal(t, Within(p, q, r), Within(q, p, r), "symmetric for %v %v %v", p, q, r)
			}
		}
	}
	assert.True(t, Within(r3.Vector{X: 3}, r3.Vector{}, 9), "boundary is inside")
	assert.True(t, Within(r3.Vector{X: 2.9}, r3.Vector{}, 9))
	assert.False(t, Within(r3.Vector{X: 3.1}, r3.Vector{}, 9))
}

func TestSpeedSq(t *testing.T) {
	t.Parallel()
	assert.InDelta(t, 25.0, SpeedSq(3, -4), eps)
}

func TestReferenceLine(t *testing.T) {
	t.Parallel()

	t.Run("valid", func(t *testing.T) {
		l, err := ReferenceLine(r3.Vector{X: 0, Y: 0}, r3.Vector{X: 10, Y: 5})
		require.NoError(t, err)
		assert.InDelta(t, 0.5, l.Slope, eps)
		assert.Equal(t, 1.0, l.Dir)

		fwd := l.Forward(r3.Vector{}, math.Sqrt(1.25))
		assert.InDelta(t, 1, fwd.X, eps)
		assert.InDelta(t, 0.5, fwd.Y, eps)
		assert.InDelta(t, 0, l.Offset(fwd), eps)
	})

	t.Run("offset sign", func(t *testing.T) {
		// heading north, east is to the right
		l, err := ReferenceLine(r3.Vector{}, r3.Vector{X: 10, Y: 1e-12})
		require.NoError(t, err)
		assert.InDelta(t, 2, l.Offset(r3.Vector{X: 5, Y: 2}), 1e-9)
		assert.InDelta(t, -2, l.Offset(r3.Vector{X: 5, Y: -2}), 1e-9)
	})

	t.Run("coincident", func(t *testing.T) {
		_, err := ReferenceLine(r3.Vector{X: 1, Y: 1}, r3.Vector{X: 1, Y: 1})
		assert.ErrorIs(t, err, ErrDegenerateGeometry)
	})

	t.Run("same x", func(t *testing.T) {
		_, err := ReferenceLine(r3.Vector{X: 1, Y: 0}, r3.Vector{X: 1, Y: 8})
		assert.True(t, errors.Is(err, ErrDegenerateGeometry))
		assert.True(t, errors.Is(err, ErrUndefinedSlope))
	})
}
