package sim

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/golang/geo/r3"
	"tailscale.com/tsweb"

	"github.com/banshee-data/offboard/internal/httputil"
)

// AttachAdminRoutes serves the simulator state and the operator's carry
// command under /debug/sim/.
func (s *Sim) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("sim/state", "simulated vehicle", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, s.Snapshot())
	})

	debug.HandleSilentFunc("sim/place", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequirePost(w, r) {
			return
		}
		var p r3.Vector
		for _, f := range []struct {
			name string
			dst  *float64
		}{{"x", &p.X}, {"y", &p.Y}, {"z", &p.Z}} {
			raw := r.FormValue(f.name)
			if raw == "" {
				continue
			}
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				http.Error(w, fmt.Sprintf("bad %s: %v", f.name, err), http.StatusBadRequest)
				return
			}
			*f.dst = v
		}
		s.Place(p)
		fmt.Fprintf(w, "placed at (%.2f, %.2f, %.2f)\n", p.X, p.Y, p.Z)
	})
}
