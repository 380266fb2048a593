package messages

// LaneEdgeType is the marking along one side of a lane.
type LaneEdgeType uint8

const (
	EdgeUnknown LaneEdgeType = iota
	EdgeSolidWhite
	EdgeSolidYellow
	EdgeDashedWhite
	EdgeDashedYellow
	EdgeDoubleSolidYellow
	EdgeCurb
)

// CommunicationClass describes how a vehicle can exchange messages with the
// host.
type CommunicationClass uint8

const (
	CommUnknown CommunicationClass = iota
	CommNoComms
	CommOneWay
	CommTwoWay
)

// LaneSegment is one straight piece of a lane between an uptrack and a
// downtrack point.
type LaneSegment struct {
	Width          float32      `json:"width"`
	LeftSideType   LaneEdgeType `json:"left_side_type"`
	RightSideType  LaneEdgeType `json:"right_side_type"`
	UptrackPoint   Point32      `json:"uptrack_point"`
	DowntrackPoint Point32      `json:"downtrack_point"`
}

// Lane is indexed from the rightmost lane (0) leftwards.
type Lane struct {
	LaneIndex    uint8         `json:"lane_index"`
	LaneSegments []LaneSegment `json:"lane_segments"`
}

// VehicleObstacle is an ExternalObject with a communication capability.
type VehicleObstacle struct {
	CommunicationClass CommunicationClass `json:"communication_class"`
	Object             ExternalObject     `json:"object"`
}

// RoadwayEnvironment is one published snapshot. Sequence is the tick
// counter of the publishing loop.
type RoadwayEnvironment struct {
	Header        Header            `json:"header"`
	Lanes         []Lane            `json:"lanes"`
	HostVehicle   VehicleObstacle   `json:"host_vehicle"`
	OtherVehicles []VehicleObstacle `json:"other_vehicles"`
	Sequence      uint64            `json:"sequence"`
}
