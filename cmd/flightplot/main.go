// flightplot renders the track of a recorded mission run.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/banshee-data/offboard/internal/config"
	"github.com/banshee-data/offboard/internal/db"
	"github.com/banshee-data/offboard/internal/report"
	"github.com/banshee-data/offboard/internal/security"
	"github.com/banshee-data/offboard/internal/units"
)

var (
	dbPath     = flag.String("db", "flight.db", "Flight log database")
	runID      = flag.String("run", "", "Run to plot (default: the latest run)")
	out        = flag.String("out", "track.png", "Output image; the format follows the extension")
	htmlOut    = flag.String("html", "", "Also write the interactive chart page to this file")
	configPath = flag.String("config", "", "Mission config the run was flown with, for its tick period")
	speedUnits = flag.String("units", "mps", "Speed units for the printed summary: mps, kmph, mph or kn")
	asJSON     = flag.Bool("json", false, "Print the summary as JSON")
)

func main() {
	flag.Parse()

	speed, err := units.ParseSpeed(*speedUnits)
	if err != nil {
		log.Fatal(err)
	}
	for _, path := range []string{*out, *htmlOut} {
		if path == "" {
			continue
		}
		if err := security.ValidateOutputPath(path); err != nil {
			log.Fatalf("refusing to write %s: %v", path, err)
		}
	}

	cfg := config.EmptyMissionConfig()
	if *configPath != "" {
		cfg, err = config.LoadMissionConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}

	store, err := db.OpenDB(*dbPath)
	if err != nil {
		log.Fatalf("failed to open flight log: %v", err)
	}
	defer store.Close()

	id := *runID
	if id == "" {
		runs, err := store.Runs(1)
		if err != nil {
			log.Fatalf("failed to list runs: %v", err)
		}
		if len(runs) == 0 {
			log.Fatal("no runs recorded")
		}
		id = runs[0].ID
	}

	rs, ticks, err := report.Load(store, id, cfg.GetTickPeriod())
	if err != nil {
		log.Fatalf("failed to load run %s: %v", id, err)
	}

	title := fmt.Sprintf("%s %s", rs.Mission, rs.ID)
	if err := report.SaveTrack(*out, title, ticks); err != nil {
		log.Fatalf("failed to plot run: %v", err)
	}
	log.Printf("wrote %s", *out)

	if *htmlOut != "" {
		transitions, err := store.Transitions(id)
		if err != nil {
			log.Fatalf("failed to read transitions: %v", err)
		}
		f, err := os.Create(*htmlOut)
		if err != nil {
			log.Fatalf("failed to create %s: %v", *htmlOut, err)
		}
		if err := report.RenderTrackPage(f, rs.Run, ticks, transitions); err != nil {
			f.Close()
			log.Fatalf("failed to render chart: %v", err)
		}
		if err := f.Close(); err != nil {
			log.Fatalf("failed to write %s: %v", *htmlOut, err)
		}
		log.Printf("wrote %s", *htmlOut)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rs); err != nil {
			log.Fatalf("failed to encode summary: %v", err)
		}
		return
	}

	s := rs.Summary
	fmt.Printf("run %s (%s), final state %s\n", rs.ID, rs.Mission, rs.FinalState)
	fmt.Printf("  %s ticks over %s, %.0f%% with a position\n", humanize.Comma(int64(s.Ticks)), s.Duration, s.Coverage*100)
	fmt.Printf("  path %.1f m, speed mean %.2f %s (std %.2f, max %.2f), max height %.1f m\n",
		s.PathLength, speed.FromMPS(s.MeanSpeed), speed.Label(), speed.FromMPS(s.SpeedStd), speed.FromMPS(s.MaxSpeed), s.MaxHeight)
	for _, st := range s.States {
		fmt.Printf("  %-24s %6d ticks\n", st.State, st.Ticks)
	}
	if s.DropTicks > 0 {
		fmt.Printf("  drop signal raised for %d ticks\n", s.DropTicks)
	}
}
