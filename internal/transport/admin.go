package transport

import (
	"net/http"

	"tailscale.com/tsweb"

	"github.com/banshee-data/roadway/internal/httputil"
)

type adminStatus struct {
	Addr    string `json:"addr,omitempty"`
	Running bool   `json:"running"`
	Stats
}

// AttachAdminRoutes mounts /debug/grpc with the bridge counters.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	tsweb.Debugger(mux).HandleFunc("grpc", "gRPC bridge counters", func(w http.ResponseWriter, r *http.Request) {
		st := adminStatus{Running: s.running.Load(), Stats: s.Stats()}
		if addr := s.Addr(); addr != nil {
			st.Addr = addr.String()
		}
		httputil.WriteJSONOK(w, st)
	})
}
