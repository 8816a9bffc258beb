// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package geometry holds the planar and spatial pose types shared by the
// odometry, vision and estimator packages.
//
// Headings are radians, counter-clockwise positive, normalized into (-π, π].
// Never subtract two headings directly; use AngleDiff.
package geometry

import (
	"fmt"
	"math"
)

// Translation2D is a planar vector in meters.
type Translation2D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Plus returns t + o.
func (t Translation2D) Plus(o Translation2D) Translation2D {
	return Translation2D{X: t.X + o.X, Y: t.Y + o.Y}
}

// Minus returns t - o.
func (t Translation2D) Minus(o Translation2D) Translation2D {
	return Translation2D{X: t.X - o.X, Y: t.Y - o.Y}
}

// Times scales the vector.
func (t Translation2D) Times(s float64) Translation2D {
	return Translation2D{X: t.X * s, Y: t.Y * s}
}

// Rotate rotates the vector counter-clockwise by theta radians.
func (t Translation2D) Rotate(theta float64) Translation2D {
	c, s := math.Cos(theta), math.Sin(theta)
	return Translation2D{X: t.X*c - t.Y*s, Y: t.X*s + t.Y*c}
}

// Norm is the Euclidean length.
func (t Translation2D) Norm() float64 {
	return math.Hypot(t.X, t.Y)
}

// Angle is the direction of the vector from the +X axis.
func (t Translation2D) Angle() float64 {
	return math.Atan2(t.Y, t.X)
}

// Twist2D is a robot-relative motion over one step: forward, left and
// counter-clockwise rotation.
type Twist2D struct {
	DX     float64 `json:"dx"`
	DY     float64 `json:"dy"`
	DTheta float64 `json:"dtheta"`
}

// Scale multiplies every component of the twist.
func (tw Twist2D) Scale(s float64) Twist2D {
	return Twist2D{DX: tw.DX * s, DY: tw.DY * s, DTheta: tw.DTheta * s}
}

// IsZero reports whether the twist describes no motion at all.
func (tw Twist2D) IsZero() bool {
	return tw.DX == 0 && tw.DY == 0 && tw.DTheta == 0
}

// Pose2D is a position and heading in field coordinates.
type Pose2D struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
}

// NewPose2D builds a pose with the heading normalized.
func NewPose2D(x, y, heading float64) Pose2D {
	return Pose2D{X: x, Y: y, Heading: NormalizeAngle(heading)}
}

// Translation returns the position part of the pose.
func (p Pose2D) Translation() Translation2D {
	return Translation2D{X: p.X, Y: p.Y}
}

// TransformBy applies rel expressed in p's frame: p ∘ rel.
func (p Pose2D) TransformBy(rel Pose2D) Pose2D {
	d := rel.Translation().Rotate(p.Heading)
	return Pose2D{
		X:       p.X + d.X,
		Y:       p.Y + d.Y,
		Heading: NormalizeAngle(p.Heading + rel.Heading),
	}
}

// RelativeTo expresses p in origin's frame: origin⁻¹ ∘ p.
func (p Pose2D) RelativeTo(origin Pose2D) Pose2D {
	d := p.Translation().Minus(origin.Translation()).Rotate(-origin.Heading)
	return Pose2D{X: d.X, Y: d.Y, Heading: AngleDiff(p.Heading, origin.Heading)}
}

// Exp integrates a twist starting at p along a constant-curvature arc. The
// twist translation is taken in p's own frame, so a step with zero rotation
// moves straight along p's heading.
func (p Pose2D) Exp(tw Twist2D) Pose2D {
	sinTheta := math.Sin(tw.DTheta)
	cosTheta := math.Cos(tw.DTheta)

	var s, c float64
	if math.Abs(tw.DTheta) < 1e-9 {
		s = 1 - tw.DTheta*tw.DTheta/6
		c = 0.5 * tw.DTheta
	} else {
		s = sinTheta / tw.DTheta
		c = (1 - cosTheta) / tw.DTheta
	}

	rel := Pose2D{
		X:       tw.DX*s - tw.DY*c,
		Y:       tw.DX*c + tw.DY*s,
		Heading: tw.DTheta,
	}
	return p.TransformBy(rel)
}

// Log returns the twist that carries p to end, the inverse of Exp.
func (p Pose2D) Log(end Pose2D) Twist2D {
	rel := end.RelativeTo(p)
	dtheta := rel.Heading
	halfDtheta := dtheta / 2
	cosMinusOne := math.Cos(dtheta) - 1

	var halfThetaByTanOfHalfDtheta float64
	if math.Abs(cosMinusOne) < 1e-9 {
		halfThetaByTanOfHalfDtheta = 1 - dtheta*dtheta/12
	} else {
		halfThetaByTanOfHalfDtheta = -(halfDtheta * math.Sin(dtheta)) / cosMinusOne
	}

	tr := rel.Translation().
		Rotate(math.Atan2(-halfDtheta, halfThetaByTanOfHalfDtheta)).
		Times(math.Hypot(halfThetaByTanOfHalfDtheta, halfDtheta))

	return Twist2D{DX: tr.X, DY: tr.Y, DTheta: dtheta}
}

// Interpolate moves a fraction t ∈ [0, 1] of the way from p to end along the
// twist connecting them.
func (p Pose2D) Interpolate(end Pose2D, t float64) Pose2D {
	switch {
	case t <= 0:
		return p
	case t >= 1:
		return end
	}
	return p.Exp(p.Log(end).Scale(t))
}

func (p Pose2D) String() string {
	return fmt.Sprintf("Pose2D(x=%.3f, y=%.3f, heading=%.2f°)", p.X, p.Y, Degrees(p.Heading))
}

// NormalizeAngle wraps a into (-π, π]. Angles already in range are returned
// unchanged so repeated normalization is exact.
func NormalizeAngle(a float64) float64 {
	if a > -math.Pi && a <= math.Pi {
		return a
	}
	a = math.Mod(a, 2*math.Pi)
	switch {
	case a > math.Pi:
		a -= 2 * math.Pi
	case a <= -math.Pi:
		a += 2 * math.Pi
	}
	return a
}

// AngleDiff returns the shortest signed rotation from b to a.
func AngleDiff(a, b float64) float64 {
	return NormalizeAngle(a - b)
}

// Degrees converts radians to degrees.
func Degrees(rad float64) float64 { return rad * 180 / math.Pi }

// Radians converts degrees to radians.
func Radians(deg float64) float64 { return deg * math.Pi / 180 }
