package report

import (
	"errors"
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/offboard/internal/db"
)

// ErrNoPositions is returned when a run has nothing to draw.
var ErrNoPositions = errors.New("run has no reported positions")

// Default PNG size.
const (
	PlotWidth  = 8 * vg.Inch
	PlotHeight = 8 * vg.Inch
)

var (
	trackColor    = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	setpointColor = color.RGBA{R: 255, G: 127, B: 14, A: 255}
	dropColor     = color.RGBA{R: 214, G: 39, B: 40, A: 255}
)

// PlotTrack draws the planar track of a run: reported positions, position
// setpoints and the points where the drop signal was raised. East is drawn
// to the right and north up.
func PlotTrack(title string, ticks []db.TickRecord) (*plot.Plot, error) {
	var track, setpoints, drops plotter.XYs
	for _, t := range ticks {
		if t.HasPosition {
			track = append(track, plotter.XY{X: t.PosY, Y: t.PosX})
			if t.Drop {
				drops = append(drops, plotter.XY{X: t.PosY, Y: t.PosX})
			}
		}
		if t.Mode != "idle" && t.Frame == "local_ned" {
			setpoints = append(setpoints, plotter.XY{X: t.Y, Y: t.X})
		}
	}
	if len(track) == 0 {
		return nil, ErrNoPositions
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "East (m)"
	p.Y.Label.Text = "North (m)"
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(track)
	if err != nil {
		return nil, fmt.Errorf("track line: %w", err)
	}
	line.Color = trackColor
	line.Width = vg.Points(1.5)
	p.Add(line)
	p.Legend.Add("position", line)

	if len(setpoints) > 0 {
		sp, err := plotter.NewScatter(setpoints)
		if err != nil {
			return nil, fmt.Errorf("setpoint scatter: %w", err)
		}
		sp.GlyphStyle.Color = setpointColor
		sp.GlyphStyle.Shape = draw.CrossGlyph{}
		sp.GlyphStyle.Radius = vg.Points(3)
		p.Add(sp)
		p.Legend.Add("setpoint", sp)
	}

	if len(drops) > 0 {
		dp, err := plotter.NewScatter(drops)
		if err != nil {
			return nil, fmt.Errorf("drop scatter: %w", err)
		}
		dp.GlyphStyle.Color = dropColor
		dp.GlyphStyle.Shape = draw.CircleGlyph{}
		dp.GlyphStyle.Radius = vg.Points(3)
		p.Add(dp)
		p.Legend.Add("drop", dp)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// SaveTrack renders the track of a run to path. The format follows the
// file extension.
func SaveTrack(path, title string, ticks []db.TickRecord) error {
	p, err := PlotTrack(title, ticks)
	if err != nil {
		return err
	}
	if err := p.Save(PlotWidth, PlotHeight, path); err != nil {
		return fmt.Errorf("save track plot: %w", err)
	}
	return nil
}

// WriteTrackPNG renders the track of a run as PNG to w.
func WriteTrackPNG(w io.Writer, title string, ticks []db.TickRecord) error {
	p, err := PlotTrack(title, ticks)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(PlotWidth, PlotHeight, "png")
	if err != nil {
		return fmt.Errorf("png writer: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
