// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package geometry

import (
	"math"

	"gonum.org/v1/gonum/num/quat"
)

// Translation3D is a spatial vector in meters.
type Translation3D struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// Plus returns t + o.
func (t Translation3D) Plus(o Translation3D) Translation3D {
	return Translation3D{X: t.X + o.X, Y: t.Y + o.Y, Z: t.Z + o.Z}
}

// Neg returns -t.
func (t Translation3D) Neg() Translation3D {
	return Translation3D{X: -t.X, Y: -t.Y, Z: -t.Z}
}

// Norm is the Euclidean length.
func (t Translation3D) Norm() float64 {
	return math.Sqrt(t.X*t.X + t.Y*t.Y + t.Z*t.Z)
}

// Rotation3D is a unit quaternion. The zero value is not a valid rotation;
// use IdentityRotation3D or one of the constructors.
type Rotation3D struct {
	q quat.Number
}

// IdentityRotation3D is the rotation that leaves every vector unchanged.
func IdentityRotation3D() Rotation3D {
	return Rotation3D{q: quat.Number{Real: 1}}
}

// RotationFromQuaternion normalizes (w, x, y, z) into a rotation. A zero
// quaternion yields the identity.
func RotationFromQuaternion(w, x, y, z float64) Rotation3D {
	q := quat.Number{Real: w, Imag: x, Jmag: y, Kmag: z}
	n := quat.Abs(q)
	if n == 0 || math.IsNaN(n) {
		return IdentityRotation3D()
	}
	return Rotation3D{q: quat.Scale(1/n, q)}
}

// RotationFromEuler builds a rotation from extrinsic roll (X), pitch (Y) and
// yaw (Z), applied in that order.
func RotationFromEuler(roll, pitch, yaw float64) Rotation3D {
	qx := quat.Number{Real: math.Cos(roll / 2), Imag: math.Sin(roll / 2)}
	qy := quat.Number{Real: math.Cos(pitch / 2), Jmag: math.Sin(pitch / 2)}
	qz := quat.Number{Real: math.Cos(yaw / 2), Kmag: math.Sin(yaw / 2)}
	return Rotation3D{q: quat.Mul(qz, quat.Mul(qy, qx))}
}

// Quaternion returns the (w, x, y, z) components.
func (r Rotation3D) Quaternion() (w, x, y, z float64) {
	return r.q.Real, r.q.Imag, r.q.Jmag, r.q.Kmag
}

// Rotate applies the rotation to v.
func (r Rotation3D) Rotate(v Translation3D) Translation3D {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	out := quat.Mul(quat.Mul(r.q, p), quat.Conj(r.q))
	return Translation3D{X: out.Imag, Y: out.Jmag, Z: out.Kmag}
}

// Then returns the rotation that applies other in r's frame, i.e. r·other.
func (r Rotation3D) Then(other Rotation3D) Rotation3D {
	return Rotation3D{q: quat.Mul(r.q, other.q)}
}

// Inverse is the opposite rotation.
func (r Rotation3D) Inverse() Rotation3D {
	return Rotation3D{q: quat.Conj(r.q)}
}

// Roll is the rotation about X in radians.
func (r Rotation3D) Roll() float64 {
	w, x, y, z := r.Quaternion()
	return math.Atan2(2*(w*x+y*z), 1-2*(x*x+y*y))
}

// Pitch is the rotation about Y in radians.
func (r Rotation3D) Pitch() float64 {
	w, x, y, z := r.Quaternion()
	s := 2 * (w*y - z*x)
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return math.Asin(s)
}

// Yaw is the rotation about Z in radians.
func (r Rotation3D) Yaw() float64 {
	w, x, y, z := r.Quaternion()
	return math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))
}

// Transform3D is a rigid motion expressed in the frame it starts from.
type Transform3D struct {
	Translation Translation3D
	Rotation    Rotation3D
}

// NewTransform3D builds a transform.
func NewTransform3D(t Translation3D, r Rotation3D) Transform3D {
	return Transform3D{Translation: t, Rotation: r}
}

// Inverse returns the transform that undoes tr.
func (tr Transform3D) Inverse() Transform3D {
	inv := tr.Rotation.Inverse()
	return Transform3D{
		Translation: inv.Rotate(tr.Translation).Neg(),
		Rotation:    inv,
	}
}

// Pose3D is a position and orientation in field coordinates.
type Pose3D struct {
	Translation Translation3D
	Rotation    Rotation3D
}

// NewPose3D builds a pose.
func NewPose3D(t Translation3D, r Rotation3D) Pose3D {
	return Pose3D{Translation: t, Rotation: r}
}

// Pose3DFromPose2D lifts a planar pose onto the floor plane.
func Pose3DFromPose2D(p Pose2D) Pose3D {
	return Pose3D{
		Translation: Translation3D{X: p.X, Y: p.Y},
		Rotation:    RotationFromEuler(0, 0, p.Heading),
	}
}

// TransformBy applies tr expressed in p's own frame.
func (p Pose3D) TransformBy(tr Transform3D) Pose3D {
	return Pose3D{
		Translation: p.Translation.Plus(p.Rotation.Rotate(tr.Translation)),
		Rotation:    p.Rotation.Then(tr.Rotation),
	}
}

// TransformTo returns the transform that carries p onto target, so that
// p.TransformBy(p.TransformTo(target)) == target.
func (p Pose3D) TransformTo(target Pose3D) Transform3D {
	inv := p.Rotation.Inverse()
	return Transform3D{
		Translation: inv.Rotate(target.Translation.Plus(p.Translation.Neg())),
		Rotation:    inv.Then(target.Rotation),
	}
}

// ToPose2D projects onto the floor plane, keeping yaw as heading.
func (p Pose3D) ToPose2D() Pose2D {
	return Pose2D{X: p.Translation.X, Y: p.Translation.Y, Heading: NormalizeAngle(p.Rotation.Yaw())}
}
