// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package kinematics maps between chassis motion and per-module swerve
// motion.
//
// The inverse path (chassis speeds → module states) is a fixed 2N×3 linear
// map built from the module mounting offsets. The forward path (module
// deltas → twist) uses the least-squares generalized inverse of that same
// map, so slip on one wheel is spread across the fit instead of taken at
// face value. Steer angles are continuous; wrap handling belongs to the
// actuation layer.
package kinematics

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/relabs-tech/swerve_localizer/internal/geometry"
)

var (
	// ErrGeometry reports missing or degenerate module geometry.
	ErrGeometry = errors.New("kinematics: invalid module geometry")
	// ErrModuleCount reports a reading whose length differs from the
	// configured module count.
	ErrModuleCount = errors.New("kinematics: module count mismatch")
)

// WheelState is one module's accumulated drive distance and its current
// steer angle.
type WheelState struct {
	DistanceMeters float64 `json:"distance_m"`
	Angle          float64 `json:"angle_rad"`
}

// ModuleState is a module's wheel speed and steer angle.
type ModuleState struct {
	SpeedMetersPerSec float64 `json:"speed_mps"`
	Angle             float64 `json:"angle_rad"`
}

// ChassisSpeeds is a robot-relative velocity.
type ChassisSpeeds struct {
	VX    float64 `json:"vx"`
	VY    float64 `json:"vy"`
	Omega float64 `json:"omega"`
}

// Swerve holds the module geometry and the two precomputed matrices.
//
// The forward path (ToTwist, ToChassisSpeeds) only reads immutable state and
// may be shared, e.g. with the pose estimator. The inverse path
// (ToModuleStates, ResetHeadings) remembers the last commanded steer angles
// and must have a single owner, normally the drive command loop.
type Swerve struct {
	offsets  []geometry.Translation2D
	inverse  *mat.Dense // 2N×3, chassis → module vector components
	forward  *mat.Dense // 3×2N, least-squares inverse of inverse
	headings []float64
}

// New builds kinematics for modules mounted at the given offsets from the
// chassis center. At least two distinct mounting points are required.
func New(offsets []geometry.Translation2D) (*Swerve, error) {
	n := len(offsets)
	if n < 2 {
		return nil, fmt.Errorf("%w: need at least 2 modules, got %d", ErrGeometry, n)
	}
	distinct := false
	for _, o := range offsets[1:] {
		if o != offsets[0] {
			distinct = true
			break
		}
	}
	if !distinct {
		return nil, fmt.Errorf("%w: all modules share one mounting point", ErrGeometry)
	}

	inverse := mat.NewDense(2*n, 3, nil)
	for i, o := range offsets {
		inverse.SetRow(2*i, []float64{1, 0, -o.Y})
		inverse.SetRow(2*i+1, []float64{0, 1, o.X})
	}

	identity := mat.NewDense(2*n, 2*n, nil)
	for i := 0; i < 2*n; i++ {
		identity.Set(i, i, 1)
	}
	var forward mat.Dense
	if err := forward.Solve(inverse, identity); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGeometry, err)
	}

	return &Swerve{
		offsets:  append([]geometry.Translation2D(nil), offsets...),
		inverse:  inverse,
		forward:  &forward,
		headings: make([]float64, n),
	}, nil
}

// RectangularOffsets returns front-left, front-right, back-left and
// back-right mounting offsets for a rectangular chassis. trackLength is the
// front-to-back wheel distance, trackWidth the left-to-right distance.
func RectangularOffsets(trackLength, trackWidth float64) []geometry.Translation2D {
	return []geometry.Translation2D{
		{X: trackLength / 2, Y: trackWidth / 2},
		{X: trackLength / 2, Y: -trackWidth / 2},
		{X: -trackLength / 2, Y: trackWidth / 2},
		{X: -trackLength / 2, Y: -trackWidth / 2},
	}
}

// ModuleCount is the number of configured modules.
func (s *Swerve) ModuleCount() int { return len(s.offsets) }

// Offsets returns a copy of the module mounting offsets.
func (s *Swerve) Offsets() []geometry.Translation2D {
	return append([]geometry.Translation2D(nil), s.offsets...)
}

// DriveBaseRadius is the distance from the chassis center to the farthest
// module.
func (s *Swerve) DriveBaseRadius() float64 {
	var r float64
	for _, o := range s.offsets {
		r = math.Max(r, o.Norm())
	}
	return r
}

// ToModuleStates converts a chassis velocity into per-module targets. A zero
// velocity keeps the previously commanded steer angles so the modules do not
// snap back to zero when the robot stops. Not safe for concurrent use.
func (s *Swerve) ToModuleStates(speeds ChassisSpeeds) []ModuleState {
	n := len(s.offsets)
	states := make([]ModuleState, n)
	if speeds == (ChassisSpeeds{}) {
		for i := range states {
			states[i] = ModuleState{Angle: s.headings[i]}
		}
		return states
	}

	var out mat.VecDense
	out.MulVec(s.inverse, mat.NewVecDense(3, []float64{speeds.VX, speeds.VY, speeds.Omega}))
	for i := 0; i < n; i++ {
		x, y := out.AtVec(2*i), out.AtVec(2*i+1)
		angle := math.Atan2(y, x)
		states[i] = ModuleState{SpeedMetersPerSec: math.Hypot(x, y), Angle: angle}
		s.headings[i] = angle
	}
	return states
}

// ResetHeadings sets the steer angles held while the chassis is stopped.
func (s *Swerve) ResetHeadings(angles []float64) error {
	if len(angles) != len(s.headings) {
		return fmt.Errorf("%w: %d headings for %d modules", ErrModuleCount, len(angles), len(s.headings))
	}
	copy(s.headings, angles)
	return nil
}

// XLockHeadings returns steer angles that point every module at the chassis
// center, which resists being pushed.
func (s *Swerve) XLockHeadings() []float64 {
	out := make([]float64, len(s.offsets))
	for i, o := range s.offsets {
		out[i] = o.Angle()
	}
	return out
}

// DesaturateWheelSpeeds scales every module speed down by the same factor
// when any of them exceeds maxSpeed. Angles and speed ratios are preserved.
func DesaturateWheelSpeeds(states []ModuleState, maxSpeed float64) {
	var highest float64
	for _, st := range states {
		highest = math.Max(highest, math.Abs(st.SpeedMetersPerSec))
	}
	if highest <= maxSpeed || highest == 0 {
		return
	}
	scale := maxSpeed / highest
	for i := range states {
		states[i].SpeedMetersPerSec *= scale
	}
}

// ToTwist converts per-module distance deltas into the chassis motion that
// best explains them.
func (s *Swerve) ToTwist(deltas []WheelState) (geometry.Twist2D, error) {
	if len(deltas) != len(s.offsets) {
		return geometry.Twist2D{}, fmt.Errorf("%w: %d deltas for %d modules", ErrModuleCount, len(deltas), len(s.offsets))
	}
	v := make([]float64, 2*len(deltas))
	for i, d := range deltas {
		v[2*i] = d.DistanceMeters * math.Cos(d.Angle)
		v[2*i+1] = d.DistanceMeters * math.Sin(d.Angle)
	}
	x := s.solve(v)
	return geometry.Twist2D{DX: x[0], DY: x[1], DTheta: x[2]}, nil
}

// ToChassisSpeeds converts measured module states into a chassis velocity.
func (s *Swerve) ToChassisSpeeds(states []ModuleState) (ChassisSpeeds, error) {
	if len(states) != len(s.offsets) {
		return ChassisSpeeds{}, fmt.Errorf("%w: %d states for %d modules", ErrModuleCount, len(states), len(s.offsets))
	}
	v := make([]float64, 2*len(states))
	for i, st := range states {
		v[2*i] = st.SpeedMetersPerSec * math.Cos(st.Angle)
		v[2*i+1] = st.SpeedMetersPerSec * math.Sin(st.Angle)
	}
	x := s.solve(v)
	return ChassisSpeeds{VX: x[0], VY: x[1], Omega: x[2]}, nil
}

func (s *Swerve) solve(v []float64) [3]float64 {
	var out mat.VecDense
	out.MulVec(s.forward, mat.NewVecDense(len(v), v))
	return [3]float64{out.AtVec(0), out.AtVec(1), out.AtVec(2)}
}
