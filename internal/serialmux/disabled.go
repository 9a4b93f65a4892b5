package serialmux

import (
	"context"
	"net/http"
	"sync"

	"tailscale.com/tsweb"

	"github.com/banshee-data/offboard/internal/httputil"
)

// DisabledSerialMux stands in when no vision/range device is attached, e.g.
// in dev mode where the simulator feeds the decoder directly. Its
// subscribers never see a line; their channels close on Unsubscribe or
// Close so decoders shut down cleanly.
type DisabledSerialMux struct {
	reason string

	mu          sync.Mutex
	subscribers map[string]chan string
	closed      bool
}

// NewDisabledSerialMux returns a mux with no device behind it. reason is
// shown on /debug/serial/status.
func NewDisabledSerialMux(reason string) *DisabledSerialMux {
	return &DisabledSerialMux{
		reason:      reason,
		subscribers: make(map[string]chan string),
	}
}

func (d *DisabledSerialMux) Subscribe() (string, chan string) {
	id := randomID()
	ch := make(chan string)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		close(ch)
		return id, ch
	}
	d.subscribers[id] = ch
	return id, ch
}

func (d *DisabledSerialMux) Unsubscribe(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.subscribers[id]; ok {
		close(ch)
		delete(d.subscribers, id)
	}
}

// SendCommand drops the command.
func (d *DisabledSerialMux) SendCommand(string) error { return nil }

func (d *DisabledSerialMux) Monitor(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (d *DisabledSerialMux) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	for id, ch := range d.subscribers {
		close(ch)
		delete(d.subscribers, id)
	}
	return nil
}

func (d *DisabledSerialMux) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("serial/status", "vision/range serial port", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, map[string]interface{}{
			"enabled": false,
			"reason":  d.reason,
		})
	})
}
