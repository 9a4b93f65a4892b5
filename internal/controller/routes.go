package controller

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"tailscale.com/tsweb"

	"github.com/banshee-data/offboard/internal/httputil"
)

// AttachAdminRoutes serves the control surface under /debug/mission/.
func (c *Controller) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("mission/status", "mission loop status", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, c.Status())
	})

	debug.HandleSilentFunc("mission/start", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequirePost(w, r) {
			return
		}
		if err := c.Start(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		io.WriteString(w, "started\n")
	})

	debug.HandleSilentFunc("mission/stop", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequirePost(w, r) {
			return
		}
		if err := c.Stop(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		io.WriteString(w, "stopped\n")
	})

	debug.HandleSilentFunc("mission/mark", func(w http.ResponseWriter, r *http.Request) {
		if !httputil.RequirePost(w, r) {
			return
		}
		ref := strings.TrimSpace(r.FormValue("ref"))
		if ref == "" {
			http.Error(w, "Missing ref", http.StatusBadRequest)
			return
		}
		if err := c.Mark(ref); err != nil {
			code := http.StatusInternalServerError
			if errors.Is(err, ErrNotRunning) || errors.Is(err, ErrMarkPending) {
				code = http.StatusConflict
			}
			http.Error(w, err.Error(), code)
			return
		}
		io.WriteString(w, "marking "+ref+"\n")
	})
}
