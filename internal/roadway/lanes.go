package roadway

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/roadway/internal/messages"
)

// minSegmentLength below which the segment direction is undefined and +X
// is used instead.
const minSegmentLength = 1e-6

// LanesFromSegment lays out one single-segment Lane per lane of the
// downtrack waypoint. Waypoint locations are the roadway centre line; lane
// centres are offset perpendicular to the travel direction, lane 0 being
// the rightmost. Outer edges take the waypoint's edge types and inner
// edges are dashed white.
func LanesFromSegment(seg messages.RouteSegment) []messages.Lane {
	n := int(seg.Waypoint.LaneCount)
	lanes := make([]messages.Lane, 0, n)
	if n == 0 {
		return lanes
	}

	up := toVec(seg.PrevWaypoint.Location)
	down := toVec(seg.Waypoint.Location)
	left := leftNormal(up, down)

	width := float64(seg.Waypoint.LaneWidth)
	upWidth := float64(seg.PrevWaypoint.LaneWidth)
	if upWidth <= 0 {
		upWidth = width
	}

	for i := 0; i < n; i++ {
		slot := float64(i) - float64(n-1)/2
		ls := messages.LaneSegment{
			Width:          seg.Waypoint.LaneWidth,
			LeftSideType:   messages.EdgeDashedWhite,
			RightSideType:  messages.EdgeDashedWhite,
			UptrackPoint:   toPoint32(r3.Add(up, r3.Scale(slot*upWidth, left))),
			DowntrackPoint: toPoint32(r3.Add(down, r3.Scale(slot*width, left))),
		}
		if i == 0 {
			ls.RightSideType = seg.Waypoint.RightMostLaneEdge
		}
		if i == n-1 {
			ls.LeftSideType = seg.Waypoint.LeftMostLaneEdge
		}
		lanes = append(lanes, messages.Lane{
			LaneIndex:    uint8(i),
			LaneSegments: []messages.LaneSegment{ls},
		})
	}
	return lanes
}

// leftNormal is the unit vector in the ground plane pointing left of the
// direction of travel from up to down.
func leftNormal(up, down r3.Vec) r3.Vec {
	dir := r3.Sub(down, up)
	dir.Z = 0
	norm := r3.Norm(dir)
	if norm < minSegmentLength {
		dir, norm = r3.Vec{X: 1}, 1
	}
	return r3.Vec{X: -dir.Y / norm, Y: dir.X / norm}
}

func toVec(p messages.Point) r3.Vec {
	return r3.Vec{X: p.X, Y: p.Y, Z: p.Z}
}

func toPoint32(v r3.Vec) messages.Point32 {
	return messages.Point32{X: float32(v.X), Y: float32(v.Y), Z: float32(v.Z)}
}
