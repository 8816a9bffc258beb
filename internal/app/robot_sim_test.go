package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/relabs-tech/swerve_localizer/internal/config"
	"github.com/relabs-tech/swerve_localizer/internal/telemetry"
)

func TestRobotSimPublishesWheelsAndDetections(t *testing.T) {
	field := config.Field{Length: 16, Width: 8, Markers: testLayout}
	sim, err := newSimulation(testConfig(), field, NewSynthesizer(testLayout, testCameras, 0, 1))
	require.NoError(t, err)

	pub := &fakePublisher{}
	r := &robotSim{
		sim:         sim,
		pub:         pub,
		wheelTopic:  "wheels",
		detectTopic: "detections",
		log:         zaptest.NewLogger(t),
		logEvery:    time.Second,
	}

	now := time.Unix(50, 0)
	for range 3 {
		now = now.Add(20 * time.Millisecond)
		require.NoError(t, r.tick(now, 20*time.Millisecond))
	}

	wheels := pub.on("wheels")
	require.Len(t, wheels, 3)
	last := wheels[2].(telemetry.WheelFrame)
	assert.Equal(t, now, last.Timestamp)
	assert.Len(t, last.Wheels, 4)
	require.NotNil(t, last.GyroHeading)
	assert.Greater(t, last.Wheels[0].DistanceMeters, 0.0)

	detections := pub.on("detections")
	require.Len(t, detections, 1)
	frame := detections[0].(telemetry.DetectionFrame)
	assert.Len(t, frame.Cameras, len(testCameras))
}
