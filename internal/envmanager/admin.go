package envmanager

import (
	"bytes"
	"fmt"
	"image/color"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"tailscale.com/tsweb"

	"github.com/banshee-data/roadway/internal/httputil"
	"github.com/banshee-data/roadway/internal/messages"
)

// AttachAdminRoutes mounts the node's debug endpoints under /debug/envmanager.
func (n *Node) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("envmanager", "Environment manager status", n.handleStatus)
	debug.HandleFunc("envmanager/ticks", "Tick duration chart", n.handleTickChart)
	debug.HandleFunc("envmanager/snapshot", "Last roadway environment (JSON)", n.handleSnapshot)
	debug.HandleFunc("envmanager/snapshot.png", "Last roadway environment (plot)", n.handleSnapshotPlot)
}

func (n *Node) handleStatus(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, n.Status())
}

func (n *Node) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	env := n.LastSnapshot()
	if env == nil {
		httputil.NotFound(w, "no roadway environment composed yet")
		return
	}
	httputil.WriteJSONOK(w, env)
}

// handleTickChart renders tick durations as an HTML line chart.
func (n *Node) handleTickChart(w http.ResponseWriter, r *http.Request) {
	records := n.TickHistory()

	xs := make([]uint64, 0, len(records))
	durations := make([]opts.LineData, 0, len(records))
	snapshots := make([]opts.LineData, 0, len(records))
	for _, rec := range records {
		xs = append(xs, rec.Seq)
		ms := float64(rec.Duration.Microseconds()) / 1000
		durations = append(durations, opts.LineData{Value: ms})
		published := 0
		if rec.Snapshot {
			published = 1
		}
		snapshots = append(snapshots, opts.LineData{Value: published})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Environment manager ticks", Theme: "dark", Width: "1100px", Height: "500px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Tick duration",
			Subtitle: fmt.Sprintf("period=%s ticks=%d state=%s", n.cfg.TickPeriod, n.ticks.Load(), n.gate.State()),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "seq", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "ms", NameLocation: "middle", NameGap: 40}),
	)
	line.SetXAxis(xs).
		AddSeries("duration", durations).
		AddSeries("snapshot published", snapshots)

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleSnapshotPlot draws the last snapshot's lane centre lines, the host
// vehicle and the tracked vehicles as a PNG.
func (n *Node) handleSnapshotPlot(w http.ResponseWriter, r *http.Request) {
	env := n.LastSnapshot()
	if env == nil {
		httputil.NotFound(w, "no roadway environment composed yet")
		return
	}

	p, err := plotSnapshot(env)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to plot snapshot: %v", err))
		return
	}
	wt, err := p.WriterTo(8*vg.Inch, 8*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}

	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to encode plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}

func plotSnapshot(env *messages.RoadwayEnvironment) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Roadway environment seq=%d", env.Sequence)
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	for i, lane := range env.Lanes {
		pts := make(plotter.XYs, 0, 2*len(lane.LaneSegments))
		for _, seg := range lane.LaneSegments {
			pts = append(pts,
				plotter.XY{X: float64(seg.UptrackPoint.X), Y: float64(seg.UptrackPoint.Y)},
				plotter.XY{X: float64(seg.DowntrackPoint.X), Y: float64(seg.DowntrackPoint.Y)},
			)
		}
		if len(pts) == 0 {
			continue
		}
		l, err := plotter.NewLine(pts)
		if err != nil {
			return nil, err
		}
		l.Color = plotutil.Color(i)
		l.Width = vg.Points(1)
		l.Dashes = []vg.Length{vg.Points(6), vg.Points(4)}
		p.Add(l)
		p.Legend.Add(fmt.Sprintf("lane %d", lane.LaneIndex), l)
	}

	host := env.HostVehicle.Object.Pose.Pose.Position
	hs, err := plotter.NewScatter(plotter.XYs{{X: host.X, Y: host.Y}})
	if err != nil {
		return nil, err
	}
	hs.GlyphStyle.Shape = draw.BoxGlyph{}
	hs.GlyphStyle.Radius = vg.Points(5)
	hs.GlyphStyle.Color = color.RGBA{R: 220, G: 40, B: 40, A: 255}
	p.Add(hs)
	p.Legend.Add("host", hs)

	if len(env.OtherVehicles) > 0 {
		pts := make(plotter.XYs, 0, len(env.OtherVehicles))
		for _, v := range env.OtherVehicles {
			pos := v.Object.Pose.Pose.Position
			pts = append(pts, plotter.XY{X: pos.X, Y: pos.Y})
		}
		tracked, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, err
		}
		tracked.GlyphStyle.Shape = draw.CircleGlyph{}
		tracked.GlyphStyle.Radius = vg.Points(4)
		tracked.GlyphStyle.Color = color.RGBA{R: 40, G: 90, B: 220, A: 255}
		p.Add(tracked)
		p.Legend.Add("tracked", tracked)
	}

	return p, nil
}
