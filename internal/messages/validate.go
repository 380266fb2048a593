package messages

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid message")

// MaxLanes bounds the lane count accepted on a route waypoint.
const MaxLanes = 16

// Validator is implemented by inbound payloads that can be structurally
// checked before they are cached.
type Validator interface {
	Validate() error
}

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (v Vector3) finite() bool    { return finite(v.X, v.Y, v.Z) }
func (p Point) finite() bool      { return finite(p.X, p.Y, p.Z) }
func (q Quaternion) finite() bool { return finite(q.X, q.Y, q.Z, q.W) }

func (c Covariance) finite() bool {
	return finite(c[:]...)
}

func (p PoseWithCovariance) validate(what string) error {
	if !p.Pose.Position.finite() || !p.Pose.Orientation.finite() {
		return invalidf("%s pose is not finite", what)
	}
	if !p.Covariance.finite() {
		return invalidf("%s pose covariance is not finite", what)
	}
	return nil
}

func (t TwistWithCovariance) validate(what string) error {
	if !t.Twist.Linear.finite() || !t.Twist.Angular.finite() {
		return invalidf("%s twist is not finite", what)
	}
	if !t.Covariance.finite() {
		return invalidf("%s twist covariance is not finite", what)
	}
	return nil
}

func (h HeadingStamped) Validate() error {
	if !finite(h.Heading) {
		return invalidf("heading %v is not finite", h.Heading)
	}
	return nil
}

func (f NavSatFix) Validate() error {
	if !finite(f.Latitude, f.Longitude, f.Altitude) {
		return invalidf("fix position is not finite")
	}
	if f.Latitude < -90 || f.Latitude > 90 {
		return invalidf("latitude %f out of range", f.Latitude)
	}
	if f.Longitude < -180 || f.Longitude > 180 {
		return invalidf("longitude %f out of range", f.Longitude)
	}
	if f.Status < StatusNoFix || f.Status > StatusGBAS {
		return invalidf("unknown fix status %d", f.Status)
	}
	return nil
}

func (o Odometry) Validate() error {
	if err := o.Pose.validate("odometry"); err != nil {
		return err
	}
	return o.Twist.validate("odometry")
}

func (t TwistStamped) Validate() error {
	if !t.Twist.Linear.finite() || !t.Twist.Angular.finite() {
		return invalidf("velocity is not finite")
	}
	return nil
}

func (o ExternalObject) Validate() error {
	if !o.Size.finite() || o.Size.X < 0 || o.Size.Y < 0 || o.Size.Z < 0 {
		return invalidf("object %d has invalid size %+v", o.ID, o.Size)
	}
	what := fmt.Sprintf("object %d", o.ID)
	if err := o.Pose.validate(what); err != nil {
		return err
	}
	if err := o.Velocity.validate(what); err != nil {
		return err
	}
	return o.VelocityInst.validate(what)
}

func (l ExternalObjectList) Validate() error {
	for i := range l.Objects {
		if err := l.Objects[i].Validate(); err != nil {
			return fmt.Errorf("objects[%d]: %w", i, err)
		}
	}
	return nil
}

func (c CommunicationClass) valid() bool { return c <= CommTwoWay }

func (l ConnectedVehicleList) Validate() error {
	for i, v := range l.Vehicles {
		if !v.CommunicationClass.valid() {
			return fmt.Errorf("vehicles[%d]: %w", i, invalidf("unknown communication class %d", v.CommunicationClass))
		}
		if err := v.Object.Validate(); err != nil {
			return fmt.Errorf("vehicles[%d]: %w", i, err)
		}
	}
	return nil
}

func (e LaneEdgeType) valid() bool { return e <= EdgeCurb }

func (w RouteWaypoint) validate(what string) error {
	if !w.Location.finite() {
		return invalidf("%s location is not finite", what)
	}
	if w.LaneCount > MaxLanes {
		return invalidf("%s lane count %d exceeds %d", what, w.LaneCount, MaxLanes)
	}
	if !finite(float64(w.LaneWidth)) || w.LaneWidth < 0 {
		return invalidf("%s lane width %f is invalid", what, w.LaneWidth)
	}
	if !w.LeftMostLaneEdge.valid() || !w.RightMostLaneEdge.valid() {
		return invalidf("%s has unknown lane edge type", what)
	}
	return nil
}

func (r RouteSegment) Validate() error {
	if !finite(r.Length) || r.Length < 0 {
		return invalidf("segment length %f is invalid", r.Length)
	}
	if err := r.PrevWaypoint.validate("prev_waypoint"); err != nil {
		return err
	}
	return r.Waypoint.validate("waypoint")
}

func (a SystemAlert) Validate() error {
	if a.Type < AlertCaution || a.Type > AlertShutdown {
		return invalidf("unknown alert type %d", a.Type)
	}
	return nil
}
