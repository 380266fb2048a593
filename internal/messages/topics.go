package messages

import (
	"encoding/json"
	"fmt"
)

// Inbound topics.
const (
	TopicRouteSegment    = "route_current_segment"
	TopicHeading         = "heading"
	TopicNavSatFix       = "nav_sat_fix"
	TopicOdometry        = "odometry"
	TopicTrackedObjects  = "tracked_objects"
	TopicTrackedVehicles = "tracked_vehicles"
	TopicVelocity        = "velocity"
	TopicSystemAlert     = "system_alert"
)

// Outbound topics. system_alert is both consumed and produced.
const (
	TopicTransformBroadcast = "transform_broadcast"
	TopicRoadwayEnvironment = "roadway_environment"
)

// Frame identifiers of the transform chain map → odom → body.
const (
	FrameMap  = "map"
	FrameOdom = "odom"
	FrameBody = "body"
)

// InboundTopics lists the channels the node subscribes to, in a stable order.
var InboundTopics = []string{
	TopicRouteSegment,
	TopicHeading,
	TopicNavSatFix,
	TopicOdometry,
	TopicTrackedObjects,
	TopicTrackedVehicles,
	TopicVelocity,
	TopicSystemAlert,
}

var payloadFactories = map[string]func() any{
	TopicRouteSegment:       func() any { return &RouteSegment{} },
	TopicHeading:            func() any { return &HeadingStamped{} },
	TopicNavSatFix:          func() any { return &NavSatFix{} },
	TopicOdometry:           func() any { return &Odometry{} },
	TopicTrackedObjects:     func() any { return &ExternalObjectList{} },
	TopicTrackedVehicles:    func() any { return &ConnectedVehicleList{} },
	TopicVelocity:           func() any { return &TwistStamped{} },
	TopicSystemAlert:        func() any { return &SystemAlert{} },
	TopicTransformBroadcast: func() any { return &TFMessage{} },
	TopicRoadwayEnvironment: func() any { return &RoadwayEnvironment{} },
}

// KnownTopic reports whether topic carries a payload type defined here.
func KnownTopic(topic string) bool {
	_, ok := payloadFactories[topic]
	return ok
}

// DecodeJSON decodes data into the payload type registered for topic and
// returns a pointer to it.
func DecodeJSON(topic string, data []byte) (any, error) {
	factory, ok := payloadFactories[topic]
	if !ok {
		return nil, fmt.Errorf("unknown topic %q", topic)
	}
	v := factory()
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", topic, err)
	}
	return v, nil
}
