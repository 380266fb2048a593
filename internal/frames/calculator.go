package frames

import (
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/roadway/internal/inputcache"
	"github.com/banshee-data/roadway/internal/messages"
)

// earthRadius is the WGS84 equatorial radius in metres.
const earthRadius = 6378137.0

// Source is the subset of the input cache the calculator reads.
type Source interface {
	Odometry() (inputcache.Stamped[messages.Odometry], bool)
	NavSatFix() (inputcache.Stamped[messages.NavSatFix], bool)
	Heading() (inputcache.Stamped[messages.HeadingStamped], bool)
}

// Datum anchors the map frame origin at a geodetic position. The map frame
// is east-north-up around it.
type Datum struct {
	Latitude  float64
	Longitude float64
	Altitude  float64
}

// ENU projects a fix onto the local tangent plane of the datum using an
// equirectangular approximation, accurate to centimetres over the few
// kilometres a map frame covers.
func (d Datum) ENU(lat, lon, alt float64) r3.Vec {
	const deg = math.Pi / 180
	return r3.Vec{
		X: (lon - d.Longitude) * deg * earthRadius * math.Cos(d.Latitude*deg),
		Y: (lat - d.Latitude) * deg * earthRadius,
		Z: alt - d.Altitude,
	}
}

// HeadingYaw converts a compass heading (degrees clockwise from north) to
// an ENU yaw (radians counter-clockwise from east).
func HeadingYaw(headingDeg float64) float64 {
	return (90 - headingDeg) * math.Pi / 180
}

// Calculator computes the two broadcast transforms from the latest cached
// inputs. Every method is a pure function of its arguments and falls back
// to the identity transform when an input it needs has never arrived, so a
// transform is always available to publish.
type Calculator struct {
	// Datum is the geodetic origin of the map frame. Without it the map
	// frame cannot be related to GNSS fixes and map→odom stays identity.
	Datum *Datum
}

// OdomToBody places the body in the odom frame using the odometry pose.
func (c Calculator) OdomToBody(src Source, now time.Time) FrameTransform {
	ft := FrameTransform{
		Transform: Identity(),
		Target:    messages.FrameOdom,
		Source:    messages.FrameBody,
		Stamp:     now,
	}
	if odom, ok := src.Odometry(); ok {
		ft.Transform = FromPose(odom.Value.Pose.Pose)
	}
	return ft
}

// MapToOdom relates the map frame to the odom frame. The body's map pose
// comes from the GNSS fix and heading; the odom drift is what remains
// after removing the odometry pose:
//
//	map→odom = map→body ∘ (odom→body)⁻¹
func (c Calculator) MapToOdom(src Source, now time.Time) FrameTransform {
	ft := FrameTransform{
		Transform: Identity(),
		Target:    messages.FrameMap,
		Source:    messages.FrameOdom,
		Stamp:     now,
	}
	mapBody, ok := c.mapToBody(src)
	if !ok {
		return ft
	}
	odomBody := c.OdomToBody(src, now).Transform
	ft.Transform = Compose(mapBody, odomBody.Inverse())
	return ft
}

func (c Calculator) mapToBody(src Source) (Transform, bool) {
	if c.Datum == nil {
		return Transform{}, false
	}
	fix, ok := src.NavSatFix()
	if !ok || !fix.Value.HasFix() {
		return Transform{}, false
	}
	heading, ok := src.Heading()
	if !ok {
		return Transform{}, false
	}
	f := fix.Value
	return Transform{
		Translation: c.Datum.ENU(f.Latitude, f.Longitude, f.Altitude),
		Rotation:    YawRotation(HeadingYaw(heading.Value.Heading)),
	}, true
}

// Pair returns map→odom and odom→body, in broadcast order.
func (c Calculator) Pair(src Source, now time.Time) [2]FrameTransform {
	return [2]FrameTransform{c.MapToOdom(src, now), c.OdomToBody(src, now)}
}
