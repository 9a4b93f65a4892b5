package control

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAltitudeHold_Step(t *testing.T) {
	t.Parallel()

	a, err := NewAltitudeHold(AltitudeConfig{DeadBand: 0.2, Speed: 0.1}, 100*time.Millisecond)
	require.NoError(t, err)

	assert.Equal(t, 0.0, a.Update(-2.4, -2.5), "inside dead band")
	assert.Equal(t, -0.1, a.Update(-1.0, -2.5), "below target climbs")
	assert.Equal(t, 0.1, a.Update(-4.0, -2.5), "above target descends")
}

func TestAltitudeHold_PID(t *testing.T) {
	t.Parallel()

	a, err := NewAltitudeHold(AltitudeConfig{Mode: AltitudePID, Speed: 0.3, Kp: 1}, 100*time.Millisecond)
	require.NoError(t, err)

	assert.InDelta(t, -0.3, a.Update(0, -2.5), 1e-9, "clamped climb")
	assert.InDelta(t, -0.1, a.Update(-2.4, -2.5), 1e-9)
	assert.InDelta(t, 0.3, a.Update(-5, -2.5), 1e-9)
}

func TestNewAltitudeHold_Invalid(t *testing.T) {
	t.Parallel()

	_, err := NewAltitudeHold(AltitudeConfig{Mode: "bogus", Speed: 1}, time.Second)
	assert.Error(t, err)
	_, err = NewAltitudeHold(AltitudeConfig{Speed: 0}, time.Second)
	assert.Error(t, err)
}
