package recorder

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/roadway/internal/httputil"
)

// AttachAdminRoutes mounts the recorder's debug endpoints: recorder
// (row counts and recent snapshots as JSON) and a tailsql console over the
// database.
func (r *Recorder) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://"+r.path, r.db, &tailsql.DBOptions{
		Label: "Roadway recorder",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.HandleFunc("recorder", "recorded snapshots", r.handleRecent)
	return nil
}

func (r *Recorder) handleRecent(w http.ResponseWriter, req *http.Request) {
	limit := 20
	if s := req.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			httputil.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}

	counts, err := r.Counts()
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	recent, err := r.RecentSnapshots(limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]any{
		"counts":    counts,
		"snapshots": recent,
	})
}
