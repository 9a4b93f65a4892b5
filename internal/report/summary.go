// Package report turns a recorded mission run into summary statistics, a
// PNG track plot and an interactive HTML chart.
package report

import (
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/offboard/internal/db"
)

// StateTime is how long a run spent in one state.
type StateTime struct {
	State string `json:"state"`
	Ticks int    `json:"ticks"`
}

// Summary describes one run.
type Summary struct {
	Ticks    int           `json:"ticks"`
	Duration time.Duration `json:"duration"`
	// States lists every state in order of first visit.
	States    []StateTime `json:"states"`
	DropTicks int         `json:"drop_ticks"`

	// Coverage is the fraction of ticks that carried a position.
	Coverage   float64 `json:"coverage"`
	PathLength float64 `json:"path_length"`
	MeanSpeed  float64 `json:"mean_speed"`
	SpeedStd   float64 `json:"speed_std"`
	MaxSpeed   float64 `json:"max_speed"`
	// MaxHeight is the highest climb above the first reported position.
	MaxHeight float64 `json:"max_height"`
}

// Summarize computes the summary of ticks recorded at period.
func Summarize(ticks []db.TickRecord, period time.Duration) Summary {
	s := Summary{
		Ticks:    len(ticks),
		Duration: time.Duration(len(ticks)) * period,
	}
	if len(ticks) == 0 {
		return s
	}

	index := make(map[string]int)
	var (
		speeds  []float64
		heights []float64
		prev    *db.TickRecord
		havePos int
	)
	for i := range ticks {
		t := &ticks[i]
		if j, ok := index[t.State]; ok {
			s.States[j].Ticks++
		} else {
			index[t.State] = len(s.States)
			s.States = append(s.States, StateTime{State: t.State, Ticks: 1})
		}
		if t.Drop {
			s.DropTicks++
		}
		if !t.HasPosition {
			continue
		}
		havePos++
		heights = append(heights, -t.PosZ)
		if prev != nil && t.Tick > prev.Tick {
			d := math.Hypot(t.PosX-prev.PosX, t.PosY-prev.PosY)
			s.PathLength += d
			if period > 0 {
				dt := float64(t.Tick-prev.Tick) * period.Seconds()
				speeds = append(speeds, d/dt)
			}
		}
		prev = t
	}

	s.Coverage = float64(havePos) / float64(len(ticks))
	if len(heights) > 0 {
		s.MaxHeight = floats.Max(heights) - heights[0]
	}
	if len(speeds) > 0 {
		s.MeanSpeed, s.SpeedStd = stat.MeanStdDev(speeds, nil)
		s.MaxSpeed = floats.Max(speeds)
	}
	if math.IsNaN(s.SpeedStd) {
		s.SpeedStd = 0
	}
	return s
}
