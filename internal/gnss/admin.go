package gnss

import (
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/roadway/internal/httputil"
)

// AttachAdminRoutes mounts /debug/gnss with the sentence counters.
func (r *Reader) AttachAdminRoutes(mux *http.ServeMux) {
	tsweb.Debugger(mux).HandleFunc("gnss", "NMEA sentence counters", func(w http.ResponseWriter, req *http.Request) {
		httputil.WriteJSONOK(w, r.Stats())
	})
}
