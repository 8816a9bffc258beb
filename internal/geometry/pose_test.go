package geometry

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

func TestNormalizeAngle(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{math.Pi, math.Pi},
		{-math.Pi, math.Pi},
		{3 * math.Pi / 2, -math.Pi / 2},
		{-3 * math.Pi / 2, math.Pi / 2},
		{5 * math.Pi, math.Pi},
		{0.25, 0.25},
	}
	for _, tt := range tests {
		got := NormalizeAngle(tt.in)
		if math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("NormalizeAngle(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestAngleDiffShortestPath(t *testing.T) {
	got := AngleDiff(Radians(-179), Radians(179))
	if math.Abs(got-Radians(2)) > 1e-12 {
		t.Errorf("AngleDiff(-179°, 179°) = %v°, want 2°", Degrees(got))
	}
}

func TestExpStraightLine(t *testing.T) {
	start := NewPose2D(1, 2, math.Pi/2)
	got := start.Exp(Twist2D{DX: 1})
	want := Pose2D{X: 1, Y: 3, Heading: math.Pi / 2}
	if diff := cmp.Diff(want, got, approx); diff != "" {
		t.Errorf("Exp mismatch (-want +got):\n%s", diff)
	}
}

func TestExpQuarterArc(t *testing.T) {
	// Driving a quarter circle of radius 1 to the left.
	got := Pose2D{}.Exp(Twist2D{DX: math.Pi / 2, DTheta: math.Pi / 2})
	want := Pose2D{X: 1, Y: 1, Heading: math.Pi / 2}
	if diff := cmp.Diff(want, got, approx); diff != "" {
		t.Errorf("Exp mismatch (-want +got):\n%s", diff)
	}
}

func TestExpZeroTwistIsExact(t *testing.T) {
	p := NewPose2D(0.1, -7.3, 2.9)
	if got := p.Exp(Twist2D{}); got != p {
		t.Errorf("zero twist moved pose: %v -> %v", p, got)
	}
}

func TestLogInvertsExp(t *testing.T) {
	start := NewPose2D(3, -1, 0.4)
	tw := Twist2D{DX: 0.7, DY: -0.2, DTheta: 1.1}
	end := start.Exp(tw)
	if diff := cmp.Diff(tw, start.Log(end), approx); diff != "" {
		t.Errorf("Log(Exp(tw)) mismatch (-want +got):\n%s", diff)
	}
}

func TestRelativeToAndTransformBy(t *testing.T) {
	origin := NewPose2D(2, 1, math.Pi/2)
	p := NewPose2D(2, 3, math.Pi)
	rel := p.RelativeTo(origin)
	if diff := cmp.Diff(Pose2D{X: 2, Y: 0, Heading: math.Pi / 2}, rel, approx); diff != "" {
		t.Errorf("RelativeTo mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(p, origin.TransformBy(rel), approx); diff != "" {
		t.Errorf("TransformBy round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestInterpolateAcrossWrap(t *testing.T) {
	a := NewPose2D(0, 0, Radians(170))
	b := NewPose2D(0, 0, Radians(-170))
	mid := a.Interpolate(b, 0.5)
	if math.Abs(math.Abs(mid.Heading)-math.Pi) > 1e-9 {
		t.Errorf("midpoint heading = %v°, want ±180°", Degrees(mid.Heading))
	}
}

func TestInterpolateClampsFraction(t *testing.T) {
	a := NewPose2D(0, 0, 0)
	b := NewPose2D(1, 1, 1)
	if got := a.Interpolate(b, -1); got != a {
		t.Errorf("t<0 = %v, want %v", got, a)
	}
	if got := a.Interpolate(b, 2); got != b {
		t.Errorf("t>1 = %v, want %v", got, b)
	}
}
