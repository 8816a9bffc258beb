package vision

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/relabs-tech/swerve_localizer/internal/geometry"
)

var (
	testLayout = FieldLayout{
		1: geometry.NewPose3D(geometry.Translation3D{X: 5, Y: 2, Z: 0.5}, geometry.RotationFromEuler(0, 0, math.Pi)),
		2: geometry.NewPose3D(geometry.Translation3D{X: 0, Y: 4, Z: 0.5}, geometry.RotationFromEuler(0, 0, -math.Pi/2)),
		3: geometry.NewPose3D(geometry.Translation3D{X: 3, Y: -1, Z: 1.2}, geometry.RotationFromEuler(0, 0, math.Pi/2)),
	}
	testCameras = []Camera{
		{Name: "front", RobotToCamera: geometry.NewTransform3D(geometry.Translation3D{X: 0.3, Z: 0.4}, geometry.RotationFromEuler(0, -0.2, 0))},
		{Name: "left", RobotToCamera: geometry.NewTransform3D(geometry.Translation3D{Y: 0.25, Z: 0.35}, geometry.RotationFromEuler(0, -0.1, math.Pi/2))},
		{Name: "right", RobotToCamera: geometry.NewTransform3D(geometry.Translation3D{Y: -0.25, Z: 0.35}, geometry.RotationFromEuler(0, -0.1, -math.Pi/2))},
	}
	captureTime = time.Unix(1000, 0)
)

// sightingFor builds the camera-relative transform a perfect detector would
// report for marker id if the robot stood at robot.
func sightingFor(cam Camera, id int, robot geometry.Pose2D) Observation {
	camPose := geometry.Pose3DFromPose2D(robot).TransformBy(cam.RobotToCamera)
	return Observation{MarkerID: id, CameraToMarker: camPose.TransformTo(testLayout[id])}
}

func newTestEstimator(t *testing.T, filter Filter, opts Options) *Estimator {
	t.Helper()
	opts.Logger = zaptest.NewLogger(t)
	est, err := NewEstimator(testLayout, testCameras, filter, opts)
	require.NoError(t, err)
	return est
}

func emptyCaptures() []Capture {
	return []Capture{{Timestamp: captureTime}, {Timestamp: captureTime}, {Timestamp: captureTime}}
}

func TestEstimateCameraCountMismatch(t *testing.T) {
	est := newTestEstimator(t, nil, Options{})
	_, _, err := est.Estimate([]Capture{{}}, geometry.Pose2D{})
	assert.True(t, errors.Is(err, ErrCameraCount))
}

func TestEstimateNoMarkersIsAbsent(t *testing.T) {
	est := newTestEstimator(t, nil, Options{})
	_, ok, err := est.Estimate(emptyCaptures(), geometry.Pose2D{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEstimateUnknownMarkerIsDiscarded(t *testing.T) {
	var diag Diagnostics
	est := newTestEstimator(t, nil, Options{OnDiagnostics: func(d Diagnostics) { diag = d }})
	caps := emptyCaptures()
	caps[0].Observations = []Observation{{
		MarkerID:       99,
		CameraToMarker: geometry.NewTransform3D(geometry.Translation3D{X: 2}, geometry.IdentityRotation3D()),
	}}

	_, ok, err := est.Estimate(caps, geometry.Pose2D{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, diag.Discarded)
	assert.Empty(t, diag.Candidates)
	assert.Nil(t, diag.Result)
}

func TestEstimateReconstructsRobotPose(t *testing.T) {
	truth := geometry.NewPose2D(2.5, 1.5, 0.3)
	est := newTestEstimator(t, nil, Options{})
	caps := emptyCaptures()
	caps[0].Observations = []Observation{sightingFor(testCameras[0], 1, truth)}

	res, ok, err := est.Estimate(caps, geometry.Pose2D{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, truth.X, res.Pose.X, 1e-9)
	assert.InDelta(t, truth.Y, res.Pose.Y, 1e-9)
	assert.InDelta(t, truth.Heading, res.Pose.Heading, 1e-9)
	assert.Equal(t, captureTime, res.Timestamp)
	assert.Equal(t, 1, res.Count)
}

func TestSingleCandidateUsesFixedStdDevs(t *testing.T) {
	single := StdDevs{Translation: 0.42, Rotation: 0.9}
	est := newTestEstimator(t, nil, Options{SingleObservation: single})

	for _, truth := range []geometry.Pose2D{
		geometry.NewPose2D(1, 1, 0),
		geometry.NewPose2D(4, 3, 2),
		geometry.NewPose2D(-2, 7, -1),
	} {
		caps := emptyCaptures()
		caps[1].Observations = []Observation{sightingFor(testCameras[1], 2, truth)}
		res, ok, err := est.Estimate(caps, truth)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, [3]float64{0.42, 0.42, 0.9}, res.StdDev)
	}
}

func TestThreeCameraFusion(t *testing.T) {
	est := newTestEstimator(t, nil, Options{})
	poses := []geometry.Pose2D{
		geometry.NewPose2D(1.00, 2.00, 0),
		geometry.NewPose2D(1.02, 1.98, geometry.Radians(1)),
		geometry.NewPose2D(0.99, 2.01, geometry.Radians(-1)),
	}
	caps := emptyCaptures()
	for i, p := range poses {
		caps[i].Observations = []Observation{sightingFor(testCameras[i], i+1, p)}
	}

	res, ok, err := est.Estimate(caps, geometry.Pose2D{})
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 1.0033333, res.Pose.X, 1e-6)
	assert.InDelta(t, 1.9966667, res.Pose.Y, 1e-6)
	assert.InDelta(t, 0, res.Pose.Heading, 1e-9)
	for axis, s := range res.StdDev {
		assert.Positive(t, s, "axis %d", axis)
		assert.Less(t, s, 0.05, "axis %d", axis)
	}
	assert.Equal(t, 3, res.Count)
}

func TestFilterRejectionsAreReported(t *testing.T) {
	var diag Diagnostics
	reject := FilterFunc{Label: "no-camera-0", Fn: func(c Candidate) bool { return c.Camera != 0 }}
	est := newTestEstimator(t, reject, Options{OnDiagnostics: func(d Diagnostics) { diag = d }})

	truth := geometry.NewPose2D(2, 2, 0.1)
	caps := emptyCaptures()
	caps[0].Observations = []Observation{sightingFor(testCameras[0], 1, truth)}
	caps[2].Observations = []Observation{sightingFor(testCameras[2], 3, truth)}

	res, ok, err := est.Estimate(caps, truth)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, "no-camera-0", diag.Filter)
	assert.Equal(t, []bool{false, true}, diag.Accepted)
	require.Len(t, diag.ObservedMarkers, 2)
	// With the estimate at the truth the projected marker lands on its surveyed pose.
	assert.InDelta(t, testLayout[3].Translation.X, diag.ObservedMarkers[1].Translation.X, 1e-9)
	assert.InDelta(t, testLayout[3].Translation.Z, diag.ObservedMarkers[1].Translation.Z, 1e-9)
}

func TestCurrentPoseDoesNotAffectResult(t *testing.T) {
	est := newTestEstimator(t, nil, Options{})
	truth := geometry.NewPose2D(3, 1, -0.4)
	caps := emptyCaptures()
	caps[0].Observations = []Observation{sightingFor(testCameras[0], 1, truth)}

	a, _, err := est.Estimate(caps, geometry.Pose2D{})
	require.NoError(t, err)
	b, _, err := est.Estimate(caps, geometry.NewPose2D(-10, 40, 2))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestMalformedSightingIsDiscarded(t *testing.T) {
	var diag Diagnostics
	est := newTestEstimator(t, nil, Options{OnDiagnostics: func(d Diagnostics) { diag = d }})
	caps := emptyCaptures()
	caps[0].Observations = []Observation{{
		MarkerID:       1,
		CameraToMarker: geometry.NewTransform3D(geometry.Translation3D{X: math.NaN()}, geometry.IdentityRotation3D()),
	}}
	_, ok, err := est.Estimate(caps, geometry.Pose2D{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, diag.Discarded)
}

func TestResultTimestampIsMeanOfSurvivors(t *testing.T) {
	est := newTestEstimator(t, nil, Options{})
	truth := geometry.NewPose2D(2, 2, 0)
	caps := emptyCaptures()
	caps[0].Timestamp = captureTime
	caps[1].Timestamp = captureTime.Add(40 * time.Millisecond)
	caps[0].Observations = []Observation{sightingFor(testCameras[0], 1, truth)}
	caps[1].Observations = []Observation{sightingFor(testCameras[1], 2, truth)}

	res, ok, err := est.Estimate(caps, truth)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, captureTime.Add(20*time.Millisecond), res.Timestamp)
}

func TestNewEstimatorNeedsCameras(t *testing.T) {
	_, err := NewEstimator(testLayout, nil, nil, Options{})
	assert.Error(t, err)
}
