// Package roadway composes the roadway environment snapshot: lane geometry
// from the current route segment, the host vehicle from its own odometry
// and velocity, and every externally tracked vehicle and object.
package roadway

import (
	"time"

	"github.com/banshee-data/roadway/internal/inputcache"
	"github.com/banshee-data/roadway/internal/messages"
)

// HostID is the object id reserved for the host vehicle.
const HostID uint32 = 0

// Source is the subset of the input cache the composer reads.
type Source interface {
	Odometry() (inputcache.Stamped[messages.Odometry], bool)
	Velocity() (inputcache.Stamped[messages.TwistStamped], bool)
	TrackedObjects() (inputcache.Stamped[messages.ExternalObjectList], bool)
	TrackedVehicles() (inputcache.Stamped[messages.ConnectedVehicleList], bool)
	RouteSegment() (inputcache.Stamped[messages.RouteSegment], bool)
}

// Config holds the static description of the host vehicle.
type Config struct {
	// HostSize is the bounding box of the host vehicle (length, width,
	// height in metres).
	HostSize messages.Vector3
}

// Composer builds snapshots. It keeps no state between calls.
type Composer struct {
	cfg Config
}

// NewComposer returns a Composer for the given host description.
func NewComposer(cfg Config) *Composer {
	return &Composer{cfg: cfg}
}

// Compose returns the snapshot for one tick, or ok=false while the system
// is not ready. It never waits for inputs: anything absent is replaced by
// a zero or identity default, and a missing route segment yields an empty
// lane list.
func (c *Composer) Compose(src Source, ready bool, now time.Time, seq uint64) (*messages.RoadwayEnvironment, bool) {
	if !ready {
		return nil, false
	}

	env := &messages.RoadwayEnvironment{
		Header: messages.Header{
			Seq:     uint32(seq),
			Stamp:   now,
			FrameID: messages.FrameMap,
		},
		Lanes:         []messages.Lane{},
		HostVehicle:   c.hostVehicle(src, now, seq),
		OtherVehicles: []messages.VehicleObstacle{},
		Sequence:      seq,
	}

	if seg, ok := src.RouteSegment(); ok {
		env.Lanes = LanesFromSegment(seg.Value)
	}

	if vehicles, ok := src.TrackedVehicles(); ok {
		for _, v := range vehicles.Value.Vehicles {
			v.Object = withDefaults(v.Object)
			env.OtherVehicles = append(env.OtherVehicles, v)
		}
	}
	if objects, ok := src.TrackedObjects(); ok {
		for _, obj := range objects.Value.Objects {
			env.OtherVehicles = append(env.OtherVehicles, messages.VehicleObstacle{
				CommunicationClass: messages.CommNoComms,
				Object:             withDefaults(obj),
			})
		}
	}

	return env, true
}

func (c *Composer) hostVehicle(src Source, now time.Time, seq uint64) messages.VehicleObstacle {
	obj := messages.ExternalObject{
		Header: messages.Header{
			Seq:     uint32(seq),
			Stamp:   now,
			FrameID: messages.FrameOdom,
		},
		ID:   HostID,
		Size: c.cfg.HostSize,
		Pose: messages.UnmodeledPose(),
	}

	if odom, ok := src.Odometry(); ok {
		obj.Pose = odom.Value.Pose
		obj.Velocity = odom.Value.Twist
		if odom.Value.Header.FrameID != "" {
			obj.Header.FrameID = odom.Value.Header.FrameID
		}
	}
	if vel, ok := src.Velocity(); ok {
		// The velocity channel carries no uncertainty.
		obj.VelocityInst = messages.TwistWithCovariance{Twist: vel.Value.Twist}
	}

	return messages.VehicleObstacle{
		CommunicationClass: messages.CommTwoWay,
		Object:             withDefaults(obj),
	}
}

// withDefaults replaces an unset orientation with the identity.
func withDefaults(obj messages.ExternalObject) messages.ExternalObject {
	if obj.Pose.Pose.Orientation.IsZero() {
		obj.Pose.Pose.Orientation = messages.IdentityQuaternion()
	}
	return obj
}
