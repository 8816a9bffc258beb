package estimator

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/relabs-tech/swerve_localizer/internal/geometry"
	"github.com/relabs-tech/swerve_localizer/internal/kinematics"
	"github.com/relabs-tech/swerve_localizer/internal/odometry"
)

const tick = 10 * time.Millisecond

var (
	approx = cmpopts.EquateApprox(0, 1e-9)
	start  = time.Unix(5000, 0)
)

// rig drives a simulated chassis through a sampler into an engine.
type rig struct {
	t       *testing.T
	sim     *odometry.SimulatedChassis
	sampler *odometry.Sampler
	engine  *Engine
	now     time.Time
}

func newRig(t *testing.T, opts Options) *rig {
	t.Helper()
	sim, err := odometry.NewSimulatedChassis(kinematics.RectangularOffsets(0.6, 0.5))
	require.NoError(t, err)

	r := &rig{t: t, sim: sim, now: start}
	r.sampler, err = odometry.NewSampler(sim.Readers(), sim.Gyro, odometry.WithClock(func() time.Time { return r.now }))
	require.NoError(t, err)

	if opts.Logger == nil {
		opts.Logger = zaptest.NewLogger(t)
	}
	r.engine, err = New(sim.Kinematics(), make([]kinematics.WheelState, 4), 0, geometry.Pose2D{}, opts)
	require.NoError(t, err)
	return r
}

func (r *rig) drive(speeds kinematics.ChassisSpeeds, steps int) {
	r.t.Helper()
	r.sim.Command(speeds)
	for range steps {
		r.sim.Step(tick.Seconds())
		r.now = r.now.Add(tick)
		require.NoError(r.t, r.sampler.Capture())
		require.NoError(r.t, r.engine.Periodic(r.sampler))
	}
}

func (r *rig) wheels() []kinematics.WheelState {
	out := make([]kinematics.WheelState, len(r.sim.Modules))
	for i, m := range r.sim.Modules {
		w, err := m.ReadWheel()
		require.NoError(r.t, err)
		out[i] = w
	}
	return out
}

func TestNoMotionKeepsPose(t *testing.T) {
	r := newRig(t, Options{})
	want := geometry.NewPose2D(1.25, -3.5, 2.2)
	require.NoError(t, r.engine.ResetPose(want, r.wheels(), 0))

	r.drive(kinematics.ChassisSpeeds{}, 50)
	assert.Equal(t, want, r.engine.Estimate())
	assert.Equal(t, want, r.engine.OdometryPose())
}

func TestResetThenZeroMotionIsExact(t *testing.T) {
	r := newRig(t, Options{})
	r.drive(kinematics.ChassisSpeeds{VX: 1.1, VY: -0.3, Omega: 0.7}, 73)

	want := geometry.NewPose2D(0.1+0.2, 7.77, -3.0)
	heading, _ := r.sim.Gyro.ReadHeading()
	require.NoError(t, r.engine.ResetPose(want, r.wheels(), heading))

	r.drive(kinematics.ChassisSpeeds{}, 1)
	assert.Equal(t, want, r.engine.Estimate())
}

func TestResetRejectsWrongWheelCount(t *testing.T) {
	r := newRig(t, Options{})
	err := r.engine.ResetPose(geometry.Pose2D{}, make([]kinematics.WheelState, 3), 0)
	assert.True(t, errors.Is(err, ErrModuleCount))
}

func TestTwoModuleSpinWithoutGyro(t *testing.T) {
	kin, err := kinematics.New([]geometry.Translation2D{{X: 0.5}, {X: -0.5}})
	require.NoError(t, err)
	e, err := New(kin, make([]kinematics.WheelState, 2), 0, geometry.Pose2D{}, Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	const theta = 0.3
	states := kin.ToModuleStates(kinematics.ChassisSpeeds{Omega: theta})
	wheels := make([]kinematics.WheelState, len(states))
	for i, st := range states {
		wheels[i] = kinematics.WheelState{DistanceMeters: st.SpeedMetersPerSec, Angle: st.Angle}
	}

	require.NoError(t, e.Update(odometry.Sample{Timestamp: start, Wheels: wheels, GyroValid: false}))
	assert.InDelta(t, theta, e.Estimate().Heading, 1e-12)
	assert.InDelta(t, 0, e.Estimate().X, 1e-12)
	assert.InDelta(t, 0, e.Estimate().Y, 1e-12)
	assert.InDelta(t, theta, e.RawHeading(), 1e-12)
}

func TestUpdateRejectsWrongWheelCount(t *testing.T) {
	r := newRig(t, Options{})
	err := r.engine.Update(odometry.Sample{Timestamp: start, Wheels: make([]kinematics.WheelState, 2)})
	assert.True(t, errors.Is(err, ErrModuleCount))
}

func TestNewRejectsWrongWheelCount(t *testing.T) {
	kin, err := kinematics.New(kinematics.RectangularOffsets(0.6, 0.5))
	require.NoError(t, err)
	_, err = New(kin, make([]kinematics.WheelState, 2), 0, geometry.Pose2D{}, Options{})
	assert.True(t, errors.Is(err, ErrModuleCount))
}

func TestOdometryTracksSimulation(t *testing.T) {
	r := newRig(t, Options{})
	r.drive(kinematics.ChassisSpeeds{VX: 1.5}, 40)
	r.drive(kinematics.ChassisSpeeds{VX: 0.8, VY: 0.4, Omega: 1.2}, 120)
	r.drive(kinematics.ChassisSpeeds{Omega: -2}, 60)

	if diff := cmp.Diff(r.sim.TruePose(), r.engine.Estimate(), approx); diff != "" {
		t.Errorf("estimate mismatch (-truth +estimate):\n%s", diff)
	}
	// Without vision the fused estimate is the odometry pose.
	assert.Equal(t, r.engine.OdometryPose(), r.engine.Estimate())
}

func TestGyroDisconnectFallsBackToKinematics(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	r := newRig(t, Options{Logger: zap.New(core)})

	r.drive(kinematics.ChassisSpeeds{Omega: 1}, 20)
	r.sim.Gyro.SetConnected(false)
	r.drive(kinematics.ChassisSpeeds{VX: 0.5, Omega: -0.5}, 30)
	r.sim.Gyro.SetConnected(true)
	r.drive(kinematics.ChassisSpeeds{Omega: 0.2}, 10)

	if diff := cmp.Diff(r.sim.TruePose(), r.engine.Estimate(), approx); diff != "" {
		t.Errorf("estimate mismatch (-truth +estimate):\n%s", diff)
	}
	assert.Equal(t, 1, logs.FilterMessage("gyro disconnected, heading from wheel kinematics").Len())
	assert.Equal(t, 1, logs.FilterMessage("gyro reconnected, heading from gyro").Len())
}

func TestVisionWithZeroStdDevSnaps(t *testing.T) {
	r := newRig(t, Options{})
	r.drive(kinematics.ChassisSpeeds{VX: 1}, 50)

	vision := geometry.NewPose2D(3, 4, 1)
	require.NoError(t, r.engine.AddVisionMeasurement(vision, r.now, [3]float64{}))
	if diff := cmp.Diff(vision, r.engine.Estimate(), approx); diff != "" {
		t.Errorf("estimate mismatch (-want +got):\n%s", diff)
	}
	// Odometry is untouched by vision.
	assert.InDelta(t, 0.5, r.engine.OdometryPose().X, 1e-9)
}

func TestVisionGainBlendsHalfway(t *testing.T) {
	r := newRig(t, Options{StateStdDevs: [3]float64{0.2, 0.2, 0.2}})
	r.drive(kinematics.ChassisSpeeds{VX: 1}, 100)

	odom := r.engine.OdometryPose()
	vision := geometry.NewPose2D(odom.X+1, odom.Y, odom.Heading)
	require.NoError(t, r.engine.AddVisionMeasurement(vision, r.now, [3]float64{0.2, 0.2, 0.2}))
	assert.InDelta(t, odom.X+0.5, r.engine.Estimate().X, 1e-9)
	assert.InDelta(t, odom.Y, r.engine.Estimate().Y, 1e-9)
}

func TestLatencyCompensation(t *testing.T) {
	r := newRig(t, Options{})
	r.drive(kinematics.ChassisSpeeds{VX: 1}, 100)

	// Vision says that half a second ago the robot was two meters further
	// along than odometry believed.
	captured := r.now.Add(-500 * time.Millisecond)
	require.NoError(t, r.engine.AddVisionMeasurement(geometry.NewPose2D(2.5, 0, 0), captured, [3]float64{}))
	assert.InDelta(t, 3.0, r.engine.Estimate().X, 1e-9)

	// Motion after the measurement keeps the correction.
	r.drive(kinematics.ChassisSpeeds{VX: 1}, 50)
	assert.InDelta(t, 3.5, r.engine.Estimate().X, 1e-9)
	assert.InDelta(t, 1.5, r.engine.OdometryPose().X, 1e-9)
}

func TestStaleVisionClampsToOldestEntry(t *testing.T) {
	r := newRig(t, Options{})
	r.drive(kinematics.ChassisSpeeds{VX: 1}, 300)

	require.NoError(t, r.engine.AddVisionMeasurement(geometry.NewPose2D(10, 5, 0), start, [3]float64{}))
	// The oldest entry is 1.5 s back, at x = 1.5; 1.5 m of travel is replayed.
	assert.InDelta(t, 11.5, r.engine.Estimate().X, 1e-9)
	assert.InDelta(t, 5, r.engine.Estimate().Y, 1e-9)
}

func TestVisionNewerThanOdometryUsesNewest(t *testing.T) {
	r := newRig(t, Options{})
	r.drive(kinematics.ChassisSpeeds{VX: 1}, 10)

	require.NoError(t, r.engine.AddVisionMeasurement(geometry.NewPose2D(-1, -1, 0), r.now.Add(time.Second), [3]float64{}))
	if diff := cmp.Diff(geometry.NewPose2D(-1, -1, 0), r.engine.Estimate(), approx); diff != "" {
		t.Errorf("estimate mismatch (-want +got):\n%s", diff)
	}
}

func TestVisionBeforeFirstSample(t *testing.T) {
	r := newRig(t, Options{})
	require.NoError(t, r.engine.AddVisionMeasurement(geometry.NewPose2D(2, 1, 0.5), start, [3]float64{}))
	if diff := cmp.Diff(geometry.NewPose2D(2, 1, 0.5), r.engine.Estimate(), approx); diff != "" {
		t.Errorf("estimate mismatch (-want +got):\n%s", diff)
	}
	r.drive(kinematics.ChassisSpeeds{VX: 1}, 10)
	assert.InDelta(t, 2+0.1*math.Cos(0.5), r.engine.Estimate().X, 1e-9)
	assert.InDelta(t, 1+0.1*math.Sin(0.5), r.engine.Estimate().Y, 1e-9)
}

func TestEarlierVisionDiscardsLaterCorrections(t *testing.T) {
	r := newRig(t, Options{})
	r.drive(kinematics.ChassisSpeeds{VX: 1}, 100)

	require.NoError(t, r.engine.AddVisionMeasurement(geometry.NewPose2D(50, 50, 0), r.now.Add(-200*time.Millisecond), [3]float64{}))
	require.NoError(t, r.engine.AddVisionMeasurement(geometry.NewPose2D(7, 0, 0), r.now.Add(-500*time.Millisecond), [3]float64{}))
	assert.InDelta(t, 7.5, r.engine.Estimate().X, 1e-9)
	assert.InDelta(t, 0, r.engine.Estimate().Y, 1e-9)
}

func TestInvalidVisionStdDevIsIgnored(t *testing.T) {
	r := newRig(t, Options{})
	r.drive(kinematics.ChassisSpeeds{VX: 1}, 10)
	before := r.engine.Estimate()

	for _, std := range [][3]float64{
		{math.NaN(), 0.1, 0.1},
		{0.1, math.Inf(1), 0.1},
		{0.1, 0.1, -1},
	} {
		err := r.engine.AddVisionMeasurement(geometry.NewPose2D(9, 9, 0), r.now, std)
		assert.True(t, errors.Is(err, ErrStdDev), "std %v", std)
	}
	assert.Equal(t, before, r.engine.Estimate())
}

func TestSampleAt(t *testing.T) {
	r := newRig(t, Options{})
	_, ok := r.engine.SampleAt(start)
	assert.False(t, ok)

	r.drive(kinematics.ChassisSpeeds{VX: 1}, 100)
	p, ok := r.engine.SampleAt(start.Add(505 * time.Millisecond))
	require.True(t, ok)
	assert.InDelta(t, 0.505, p.X, 1e-9)

	require.NoError(t, r.engine.AddVisionMeasurement(geometry.NewPose2D(0, 1, 0), start.Add(300*time.Millisecond), [3]float64{}))
	p, ok = r.engine.SampleAt(start.Add(800 * time.Millisecond))
	require.True(t, ok)
	assert.InDelta(t, 0.5, p.X, 1e-9)
	assert.InDelta(t, 1, p.Y, 1e-9)
}

func TestPeriodicEmptyDrain(t *testing.T) {
	r := newRig(t, Options{})
	require.NoError(t, r.engine.Periodic(r.sampler))
	assert.Equal(t, geometry.Pose2D{}, r.engine.Estimate())
}

func TestGain(t *testing.T) {
	assert.Equal(t, 1.0, gain(0.1, 0))
	assert.InDelta(t, 0.5, gain(0.3, 0.3), 1e-12)
	assert.InDelta(t, 0.01/(0.01+0.81), gain(0.1, 0.9), 1e-12)
	assert.Equal(t, 0.0, gain(0, 0.5))
}
