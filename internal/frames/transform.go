// Package frames computes the map → odom → body transform chain broadcast
// by the environment manager.
//
// Rotations are unit quaternions and translations are r3 vectors from
// gonum. A Transform maps coordinates expressed in its source frame into
// its target frame: p_target = R·p_source + t.
package frames

import (
	"math"
	"time"

	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/roadway/internal/messages"
)

// IdentityTolerance is the component tolerance used by IsIdentity.
const IdentityTolerance = 1e-9

// Transform is a rigid rotation followed by a translation.
type Transform struct {
	Translation r3.Vec
	Rotation    quat.Number
}

// Identity returns the transform that leaves every point unchanged.
func Identity() Transform {
	return Transform{Rotation: quat.Number{Real: 1}}
}

// YawRotation is the rotation of yaw radians about +Z.
func YawRotation(yaw float64) quat.Number {
	return quat.Number{Real: math.Cos(yaw / 2), Kmag: math.Sin(yaw / 2)}
}

// normalize returns q scaled to unit length. A zero or non-finite
// quaternion carries no orientation and becomes the identity.
func normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

func rotate(q quat.Number, v r3.Vec) r3.Vec {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(q, p), quat.Conj(q))
	return r3.Vec{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

// Apply maps p from the source frame into the target frame.
func (t Transform) Apply(p r3.Vec) r3.Vec {
	return r3.Add(rotate(t.Rotation, p), t.Translation)
}

// Inverse returns the transform mapping target coordinates back to source.
func (t Transform) Inverse() Transform {
	inv := quat.Conj(t.Rotation)
	return Transform{
		Translation: r3.Scale(-1, rotate(inv, t.Translation)),
		Rotation:    inv,
	}
}

// Compose returns a∘b: apply b, then a. If b maps C into B and a maps B
// into A, the result maps C into A.
func Compose(a, b Transform) Transform {
	return Transform{
		Translation: r3.Add(a.Translation, rotate(a.Rotation, b.Translation)),
		Rotation:    normalize(quat.Mul(a.Rotation, b.Rotation)),
	}
}

// IsIdentity reports whether t is the identity within IdentityTolerance.
// q and -q describe the same rotation, so both signs are accepted.
func (t Transform) IsIdentity() bool {
	if r3.Norm(t.Translation) > IdentityTolerance {
		return false
	}
	q := t.Rotation
	imag := math.Abs(q.Imag) + math.Abs(q.Jmag) + math.Abs(q.Kmag)
	return imag <= IdentityTolerance && math.Abs(math.Abs(q.Real)-1) <= IdentityTolerance
}

// FromPose builds the transform that places a body with the given pose.
func FromPose(p messages.Pose) Transform {
	o := p.Orientation
	return Transform{
		Translation: r3.Vec{X: p.Position.X, Y: p.Position.Y, Z: p.Position.Z},
		Rotation:    normalize(quat.Number{Real: o.W, Imag: o.X, Jmag: o.Y, Kmag: o.Z}),
	}
}

// FrameTransform is a Transform tagged with the frames it relates and the
// time it was computed for. Values are never modified after construction.
type FrameTransform struct {
	Transform
	Target string
	Source string
	Stamp  time.Time
}

// Message converts f to its wire form. The target frame becomes the header
// frame and the source frame the child frame.
func (f FrameTransform) Message(seq uint32) messages.TransformStamped {
	q := f.Rotation
	return messages.TransformStamped{
		Header:       messages.Header{Seq: seq, Stamp: f.Stamp, FrameID: f.Target},
		ChildFrameID: f.Source,
		Transform: messages.Transform{
			Translation: messages.Vector3{X: f.Translation.X, Y: f.Translation.Y, Z: f.Translation.Z},
			Rotation:    messages.Quaternion{X: q.Imag, Y: q.Jmag, Z: q.Kmag, W: q.Real},
		},
	}
}

// FromMessage is the inverse of Message.
func FromMessage(m messages.TransformStamped) FrameTransform {
	tr := m.Transform
	return FrameTransform{
		Transform: Transform{
			Translation: r3.Vec{X: tr.Translation.X, Y: tr.Translation.Y, Z: tr.Translation.Z},
			Rotation:    normalize(quat.Number{Real: tr.Rotation.W, Imag: tr.Rotation.X, Jmag: tr.Rotation.Y, Kmag: tr.Rotation.Z}),
		},
		Target: m.Header.FrameID,
		Source: m.ChildFrameID,
		Stamp:  m.Header.Stamp,
	}
}
