package messages

import "time"

// Header stamps a message with a sequence number, a time and the frame its
// coordinates are expressed in.
type Header struct {
	Seq     uint32    `json:"seq"`
	Stamp   time.Time `json:"stamp"`
	FrameID string    `json:"frame_id"`
}

type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Point32 is the single precision point used by lane geometry.
type Point32 struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	Z float32 `json:"z"`
}

type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// IdentityQuaternion is the no-rotation orientation.
func IdentityQuaternion() Quaternion {
	return Quaternion{W: 1}
}

// IsZero reports whether every component is zero, which marks an
// orientation that was never filled in.
func (q Quaternion) IsZero() bool {
	return q.X == 0 && q.Y == 0 && q.Z == 0 && q.W == 0
}

type Pose struct {
	Position    Point      `json:"position"`
	Orientation Quaternion `json:"orientation"`
}

// IdentityPose is the pose at the frame origin with no rotation.
func IdentityPose() Pose {
	return Pose{Orientation: IdentityQuaternion()}
}

type Twist struct {
	Linear  Vector3 `json:"linear"`
	Angular Vector3 `json:"angular"`
}

// Covariance is a row-major 6×6 matrix over (x, y, z, roll, pitch, yaw).
type Covariance [36]float64

// PoseWithCovariance carries a pose and its uncertainty. CovarianceModeled
// is false when no estimator supplied the matrix; an all-zero Covariance
// with CovarianceModeled=false means "unknown", not "exact".
type PoseWithCovariance struct {
	Pose              Pose       `json:"pose"`
	Covariance        Covariance `json:"covariance"`
	CovarianceModeled bool       `json:"covariance_modeled"`
}

// TwistWithCovariance carries a velocity and its uncertainty, with the same
// CovarianceModeled convention as PoseWithCovariance.
type TwistWithCovariance struct {
	Twist             Twist      `json:"twist"`
	Covariance        Covariance `json:"covariance"`
	CovarianceModeled bool       `json:"covariance_modeled"`
}

// UnmodeledPose returns an identity pose with unknown uncertainty.
func UnmodeledPose() PoseWithCovariance {
	return PoseWithCovariance{Pose: IdentityPose()}
}

type Transform struct {
	Translation Vector3    `json:"translation"`
	Rotation    Quaternion `json:"rotation"`
}

// TransformStamped relates Header.FrameID (the target, or parent, frame) to
// ChildFrameID (the source frame).
type TransformStamped struct {
	Header       Header    `json:"header"`
	ChildFrameID string    `json:"child_frame_id"`
	Transform    Transform `json:"transform"`
}

// TFMessage is the payload of transform_broadcast: map→odom followed by
// odom→body.
type TFMessage struct {
	Transforms []TransformStamped `json:"transforms"`
}
