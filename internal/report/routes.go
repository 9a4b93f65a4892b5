package report

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/offboard/internal/db"
	"github.com/banshee-data/offboard/internal/httputil"
	"github.com/banshee-data/offboard/internal/security"
)

// Source reads recorded runs. *db.DB implements it.
type Source interface {
	Run(runID string) (db.Run, error)
	Runs(limit int) ([]db.Run, error)
	Ticks(runID string) ([]db.TickRecord, error)
	Transitions(runID string) ([]db.TransitionRecord, error)
}

// RunSummary pairs a run with its statistics.
type RunSummary struct {
	db.Run
	Summary Summary `json:"summary"`
}

// Load reads one run and summarises it.
func Load(src Source, runID string, period time.Duration) (RunSummary, []db.TickRecord, error) {
	run, err := src.Run(runID)
	if err != nil {
		return RunSummary{}, nil, err
	}
	ticks, err := src.Ticks(runID)
	if err != nil {
		return RunSummary{}, nil, fmt.Errorf("ticks of %s: %w", runID, err)
	}
	return RunSummary{Run: run, Summary: Summarize(ticks, period)}, ticks, nil
}

// AttachAdminRoutes serves run reports under /debug/report/. period is the
// tick period the runs were recorded at.
func AttachAdminRoutes(mux *http.ServeMux, src Source, period time.Duration) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("report/runs", "recorded mission runs", func(w http.ResponseWriter, r *http.Request) {
		limit := 20
		if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 500 {
			limit = v
		}
		runs, err := src.Runs(limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out := make([]RunSummary, 0, len(runs))
		for _, run := range runs {
			rs, _, err := Load(src, run.ID, period)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			out = append(out, rs)
		}
		httputil.WriteJSONOK(w, out)
	})

	debug.HandleSilentFunc("report/track", func(w http.ResponseWriter, r *http.Request) {
		runID := r.URL.Query().Get("run")
		rs, ticks, ok := loadForRequest(w, src, runID, period)
		if !ok {
			return
		}
		transitions, err := src.Transitions(runID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		var buf bytes.Buffer
		if err := RenderTrackPage(&buf, rs.Run, ticks, transitions); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(buf.Bytes())
	})

	debug.HandleSilentFunc("report/track.png", func(w http.ResponseWriter, r *http.Request) {
		runID := r.URL.Query().Get("run")
		rs, ticks, ok := loadForRequest(w, src, runID, period)
		if !ok {
			return
		}
		var buf bytes.Buffer
		if err := WriteTrackPNG(&buf, rs.Mission+" "+rs.ID, ticks); err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, ErrNoPositions) {
				code = http.StatusNotFound
			}
			http.Error(w, err.Error(), code)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		if r.URL.Query().Get("download") != "" {
			name := security.SanitizeFilename(rs.Mission+"-"+rs.ID) + ".png"
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		}
		w.Write(buf.Bytes())
	})
}

func loadForRequest(w http.ResponseWriter, src Source, runID string, period time.Duration) (RunSummary, []db.TickRecord, bool) {
	if runID == "" {
		http.Error(w, "Missing run", http.StatusBadRequest)
		return RunSummary{}, nil, false
	}
	rs, ticks, err := Load(src, runID, period)
	if errors.Is(err, db.ErrRunNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return RunSummary{}, nil, false
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return RunSummary{}, nil, false
	}
	return rs, ticks, true
}
