package messages

// HeadingStamped is the vehicle heading in degrees clockwise from true
// north.
type HeadingStamped struct {
	Header  Header  `json:"header"`
	Heading float64 `json:"heading"`
}

// NavSatStatus mirrors the GNSS fix quality reported by the receiver.
type NavSatStatus int8

const (
	StatusNoFix NavSatStatus = -1
	StatusFix   NavSatStatus = 0
	StatusSBAS  NavSatStatus = 1
	StatusGBAS  NavSatStatus = 2
)

// NavSatFix is a global position fix in WGS84 degrees and metres.
type NavSatFix struct {
	Header                 Header       `json:"header"`
	Status                 NavSatStatus `json:"status"`
	Latitude               float64      `json:"latitude"`
	Longitude              float64      `json:"longitude"`
	Altitude               float64      `json:"altitude"`
	PositionCovariance     [9]float64   `json:"position_covariance"`
	PositionCovarianceType uint8        `json:"position_covariance_type"`
}

// HasFix reports whether the receiver claims a usable position.
func (f NavSatFix) HasFix() bool {
	return f.Status >= StatusFix
}

// Odometry is the local pose and velocity estimate of the body in the odom
// frame.
type Odometry struct {
	Header       Header              `json:"header"`
	ChildFrameID string              `json:"child_frame_id"`
	Pose         PoseWithCovariance  `json:"pose"`
	Twist        TwistWithCovariance `json:"twist"`
}

// TwistStamped is the body-frame velocity.
type TwistStamped struct {
	Header Header `json:"header"`
	Twist  Twist  `json:"twist"`
}

// ExternalObject is one object tracked by perception.
type ExternalObject struct {
	Header       Header              `json:"header"`
	ID           uint32              `json:"id"`
	Size         Vector3             `json:"size"`
	Pose         PoseWithCovariance  `json:"pose"`
	Velocity     TwistWithCovariance `json:"velocity"`
	VelocityInst TwistWithCovariance `json:"velocity_inst"`
}

// ExternalObjectList is the payload of tracked_objects.
type ExternalObjectList struct {
	Header  Header           `json:"header"`
	Objects []ExternalObject `json:"objects"`
}

// ConnectedVehicleList is the payload of tracked_vehicles.
type ConnectedVehicleList struct {
	Header   Header            `json:"header"`
	Vehicles []VehicleObstacle `json:"vehicles"`
}

// RouteWaypoint is one end of the current route segment. Location is the
// centre of the roadway in the map frame.
type RouteWaypoint struct {
	WaypointID        int32        `json:"waypoint_id"`
	Location          Point        `json:"location"`
	LaneCount         uint8        `json:"lane_count"`
	LaneWidth         float32      `json:"lane_width"`
	LeftMostLaneEdge  LaneEdgeType `json:"left_most_lane_edge"`
	RightMostLaneEdge LaneEdgeType `json:"right_most_lane_edge"`
}

// RouteSegment is the stretch of route between the previous and the next
// waypoint.
type RouteSegment struct {
	Header       Header        `json:"header"`
	Length       float64       `json:"length"`
	PrevWaypoint RouteWaypoint `json:"prev_waypoint"`
	Waypoint     RouteWaypoint `json:"waypoint"`
}

// AlertType classifies a SystemAlert.
type AlertType uint8

const (
	AlertCaution     AlertType = 1
	AlertWarning     AlertType = 2
	AlertFatal       AlertType = 3
	AlertNotReady    AlertType = 4
	AlertSystemReady AlertType = 5
	AlertShutdown    AlertType = 6
)

func (a AlertType) String() string {
	switch a {
	case AlertCaution:
		return "caution"
	case AlertWarning:
		return "warning"
	case AlertFatal:
		return "fatal"
	case AlertNotReady:
		return "not_ready"
	case AlertSystemReady:
		return "system_ready"
	case AlertShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// SystemAlert is exchanged on system_alert by every node of the platform.
type SystemAlert struct {
	Type        AlertType `json:"type"`
	Description string    `json:"description"`
	Source      string    `json:"source,omitempty"`
}

// Clone returns a copy whose Objects slice does not alias l's.
func (l ExternalObjectList) Clone() ExternalObjectList {
	l.Objects = append([]ExternalObject(nil), l.Objects...)
	return l
}

// Clone returns a copy whose Vehicles slice does not alias l's.
func (l ConnectedVehicleList) Clone() ConnectedVehicleList {
	l.Vehicles = append([]VehicleObstacle(nil), l.Vehicles...)
	return l
}
