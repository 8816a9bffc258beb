package kinematics

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/swerve_localizer/internal/geometry"
)

func newSquare(t *testing.T) *Swerve {
	t.Helper()
	kin, err := New(RectangularOffsets(0.6, 0.6))
	require.NoError(t, err)
	return kin
}

func TestNewRejectsBadGeometry(t *testing.T) {
	_, err := New(nil)
	assert.True(t, errors.Is(err, ErrGeometry))

	_, err = New([]geometry.Translation2D{{X: 1}})
	assert.True(t, errors.Is(err, ErrGeometry))

	_, err = New([]geometry.Translation2D{{X: 1, Y: 1}, {X: 1, Y: 1}})
	assert.True(t, errors.Is(err, ErrGeometry))
}

func TestRectangularOffsetsOrder(t *testing.T) {
	got := RectangularOffsets(0.5, 0.4)
	assert.Equal(t, []geometry.Translation2D{
		{X: 0.25, Y: 0.2},
		{X: 0.25, Y: -0.2},
		{X: -0.25, Y: 0.2},
		{X: -0.25, Y: -0.2},
	}, got)
}

func TestToModuleStatesPureTranslation(t *testing.T) {
	kin := newSquare(t)
	states := kin.ToModuleStates(ChassisSpeeds{VX: 0, VY: 2})
	require.Len(t, states, 4)
	for _, st := range states {
		assert.InDelta(t, 2, st.SpeedMetersPerSec, 1e-9)
		assert.InDelta(t, math.Pi/2, st.Angle, 1e-9)
	}
}

func TestToModuleStatesPureRotation(t *testing.T) {
	kin := newSquare(t)
	states := kin.ToModuleStates(ChassisSpeeds{Omega: 1})
	r := math.Hypot(0.3, 0.3)
	for i, st := range states {
		assert.InDelta(t, r, st.SpeedMetersPerSec, 1e-9, "module %d", i)
	}
	// Front-left module moves toward -X, +Y rotated: tangent is offset angle + 90°.
	assert.InDelta(t, math.Pi*3/4, states[0].Angle, 1e-9)
}

func TestZeroSpeedKeepsLastHeadings(t *testing.T) {
	kin := newSquare(t)
	kin.ToModuleStates(ChassisSpeeds{VY: 1})
	for _, st := range kin.ToModuleStates(ChassisSpeeds{}) {
		assert.Zero(t, st.SpeedMetersPerSec)
		assert.InDelta(t, math.Pi/2, st.Angle, 1e-9)
	}
}

func TestXLockHeadings(t *testing.T) {
	kin := newSquare(t)
	require.NoError(t, kin.ResetHeadings(kin.XLockHeadings()))
	states := kin.ToModuleStates(ChassisSpeeds{})
	assert.InDelta(t, math.Pi/4, states[0].Angle, 1e-9)
	assert.InDelta(t, -math.Pi/4, states[1].Angle, 1e-9)

	err := kin.ResetHeadings([]float64{0})
	assert.True(t, errors.Is(err, ErrModuleCount))
}

func TestDesaturateWheelSpeeds(t *testing.T) {
	states := []ModuleState{
		{SpeedMetersPerSec: 5, Angle: 0.1},
		{SpeedMetersPerSec: -2.5, Angle: 0.2},
		{SpeedMetersPerSec: 1, Angle: 0.3},
	}
	DesaturateWheelSpeeds(states, 4)

	assert.InDelta(t, 4, states[0].SpeedMetersPerSec, 1e-12)
	assert.InDelta(t, -2, states[1].SpeedMetersPerSec, 1e-12)
	assert.InDelta(t, 0.8, states[2].SpeedMetersPerSec, 1e-12)
	assert.Equal(t, 0.2, states[1].Angle)
}

func TestDesaturateLeavesSlowStatesAlone(t *testing.T) {
	states := []ModuleState{{SpeedMetersPerSec: 1}, {SpeedMetersPerSec: -3}}
	DesaturateWheelSpeeds(states, 3)
	assert.Equal(t, []ModuleState{{SpeedMetersPerSec: 1}, {SpeedMetersPerSec: -3}}, states)
}

func TestToTwistRoundTripsInverse(t *testing.T) {
	kin := newSquare(t)
	want := ChassisSpeeds{VX: 0.7, VY: -0.4, Omega: 1.3}
	states := kin.ToModuleStates(want)

	deltas := make([]WheelState, len(states))
	for i, st := range states {
		deltas[i] = WheelState{DistanceMeters: st.SpeedMetersPerSec, Angle: st.Angle}
	}
	tw, err := kin.ToTwist(deltas)
	require.NoError(t, err)
	assert.InDelta(t, want.VX, tw.DX, 1e-9)
	assert.InDelta(t, want.VY, tw.DY, 1e-9)
	assert.InDelta(t, want.Omega, tw.DTheta, 1e-9)

	got, err := kin.ToChassisSpeeds(states)
	require.NoError(t, err)
	assert.InDelta(t, want.Omega, got.Omega, 1e-9)
}

func TestForwardPathIgnoresCommandedHeadings(t *testing.T) {
	kin := newSquare(t)
	deltas := []WheelState{
		{DistanceMeters: 0.1, Angle: 0.2},
		{DistanceMeters: 0.1, Angle: 0.2},
		{DistanceMeters: 0.1, Angle: 0.2},
		{DistanceMeters: 0.1, Angle: 0.2},
	}
	before, err := kin.ToTwist(deltas)
	require.NoError(t, err)

	kin.ToModuleStates(ChassisSpeeds{VY: 1, Omega: -2})
	require.NoError(t, kin.ResetHeadings(kin.XLockHeadings()))

	after, err := kin.ToTwist(deltas)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestToTwistSmoothsSingleWheelSlip(t *testing.T) {
	kin := newSquare(t)
	deltas := []WheelState{
		{DistanceMeters: 1},
		{DistanceMeters: 1},
		{DistanceMeters: 1},
		{DistanceMeters: 1.2}, // slipping wheel
	}
	tw, err := kin.ToTwist(deltas)
	require.NoError(t, err)
	assert.InDelta(t, 1.05, tw.DX, 1e-9)
	assert.InDelta(t, 0, tw.DY, 1e-9)
}

func TestToTwistTwoModuleSpin(t *testing.T) {
	kin, err := New([]geometry.Translation2D{{X: 0.5}, {X: -0.5}})
	require.NoError(t, err)

	theta := 0.3
	tw, err := kin.ToTwist([]WheelState{
		{DistanceMeters: 0.5 * theta, Angle: math.Pi / 2},
		{DistanceMeters: 0.5 * theta, Angle: -math.Pi / 2},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0, tw.DX, 1e-9)
	assert.InDelta(t, 0, tw.DY, 1e-9)
	assert.InDelta(t, theta, tw.DTheta, 1e-9)
}

func TestToTwistModuleCountMismatch(t *testing.T) {
	kin := newSquare(t)
	_, err := kin.ToTwist([]WheelState{{}, {}})
	assert.True(t, errors.Is(err, ErrModuleCount))
}

func TestDriveBaseRadius(t *testing.T) {
	kin := newSquare(t)
	assert.InDelta(t, math.Hypot(0.3, 0.3), kin.DriveBaseRadius(), 1e-12)
}
