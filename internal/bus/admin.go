package bus

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"tailscale.com/tsweb"

	"github.com/banshee-data/roadway/internal/httputil"
)

type tailEvent struct {
	Topic       string    `json:"topic"`
	Seq         uint64    `json:"seq"`
	PublishedAt time.Time `json:"published_at"`
	Payload     any       `json:"payload"`
}

// AttachAdminRoutes mounts the bus debug endpoints under /debug/:
// bus (counters as JSON) and bus/tail (Server-Sent Events of every message,
// optionally filtered with ?topic=a,b).
func (b *Bus) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("bus", "bus counters", b.handleStats)
	debug.HandleSilentFunc("bus/tail", b.handleTail)
}

func (b *Bus) handleStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, b.Stats())
}

func (b *Bus) handleTail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}

	var topics []string
	if q := strings.TrimSpace(r.URL.Query().Get("topic")); q != "" {
		topics = strings.Split(q, ",")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, c := b.Subscribe(topics...)
	defer b.Unsubscribe(id)

	// Send initial ping to establish connection
	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case msg, ok := <-c:
			if !ok {
				return
			}
			data, err := json.Marshal(tailEvent{
				Topic:       msg.Topic,
				Seq:         msg.Seq,
				PublishedAt: msg.PublishedAt,
				Payload:     msg.Payload,
			})
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.Topic, data); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}
