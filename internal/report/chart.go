package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/offboard/internal/db"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// maxChartPoints bounds the points per series sent to the browser.
const maxChartPoints = 4000

// TrackPage builds an HTML page with the planar track and the height
// profile of a run. State transitions are marked on the height profile.
func TrackPage(run db.Run, ticks []db.TickRecord, transitions []db.TransitionRecord) *components.Page {
	stride := 1
	if len(ticks) > maxChartPoints {
		stride = (len(ticks) + maxChartPoints - 1) / maxChartPoints
	}

	var (
		track    []opts.ScatterData
		drops    []opts.ScatterData
		labels   []string
		height   []opts.LineData
		setpoint []opts.LineData
	)
	for i := 0; i < len(ticks); i += stride {
		t := ticks[i]
		labels = append(labels, strconv.FormatUint(t.Tick, 10))
		if t.HasPosition {
			track = append(track, opts.ScatterData{Value: []interface{}{t.PosY, t.PosX}})
			height = append(height, opts.LineData{Value: -t.PosZ})
		} else {
			height = append(height, opts.LineData{Value: nil})
		}
		if t.Mode != "idle" && t.Frame == "local_ned" {
			setpoint = append(setpoint, opts.LineData{Value: -t.Z})
		} else {
			setpoint = append(setpoint, opts.LineData{Value: nil})
		}
	}
	// drop points are few, keep all of them
	for _, t := range ticks {
		if t.Drop && t.HasPosition {
			drops = append(drops, opts.ScatterData{Value: []interface{}{t.PosY, t.PosX}})
		}
	}

	subtitle := fmt.Sprintf("mission=%s run=%s ticks=%d", run.Mission, run.ID, len(ticks))

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Mission track", Width: "900px", Height: "700px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Planar track", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "East (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "North (m)", NameLocation: "middle", NameGap: 30}),
	)
	scatter.AddSeries("position", track, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))
	if len(drops) > 0 {
		scatter.AddSeries("drop", drops, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}), charts.WithItemStyleOpts(opts.ItemStyle{Color: "#d62728"}))
	}

	marks := make([]opts.MarkLineNameXAxisItem, 0, len(transitions))
	for _, tr := range transitions {
		marks = append(marks, opts.MarkLineNameXAxisItem{Name: tr.To, XAxis: strconv.FormatUint(tr.Tick, 10)})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "400px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Height above origin", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Height (m)"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
	)
	line.SetXAxis(labels).
		AddSeries("position", height, charts.WithMarkLineNameXAxisItemOpts(marks...)).
		AddSeries("setpoint", setpoint)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(scatter, line)
	return page
}

// RenderTrackPage writes the HTML track page of a run to w.
func RenderTrackPage(w io.Writer, run db.Run, ticks []db.TickRecord, transitions []db.TransitionRecord) error {
	if err := TrackPage(run, ticks, transitions).Render(w); err != nil {
		return fmt.Errorf("render track page: %w", err)
	}
	return nil
}
