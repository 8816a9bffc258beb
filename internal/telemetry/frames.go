// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package telemetry defines the JSON frames exchanged over MQTT and the
// websocket dashboard, plus the MQTT plumbing that carries them.
package telemetry

import (
	"fmt"
	"time"

	"github.com/relabs-tech/swerve_localizer/internal/geometry"
	"github.com/relabs-tech/swerve_localizer/internal/kinematics"
	"github.com/relabs-tech/swerve_localizer/internal/vision"
)

// PoseFrame is published by the localizer every control cycle.
type PoseFrame struct {
	RunID     string          `json:"run_id"`
	Timestamp time.Time       `json:"timestamp"`
	Estimate  geometry.Pose2D `json:"estimate"`
	Odometry  geometry.Pose2D `json:"odometry"`
	// VisionStdDev is the deviation of the last applied vision measurement.
	VisionStdDev [3]float64 `json:"vision_std_dev"`
	GyroValid    bool       `json:"gyro_valid"`
	Dropped      uint64     `json:"dropped_samples"`
}

// MarkerFrame is a marker pose flattened for the dashboard.
type MarkerFrame struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Z       float64 `json:"z"`
	Heading float64 `json:"heading"`
}

func markerFrame(p geometry.Pose3D) MarkerFrame {
	return MarkerFrame{X: p.Translation.X, Y: p.Translation.Y, Z: p.Translation.Z, Heading: p.Rotation.Yaw()}
}

// CandidateFrame is one reconstructed robot pose and its filter verdict.
type CandidateFrame struct {
	Camera    int             `json:"camera"`
	MarkerID  int             `json:"marker_id"`
	Pose      geometry.Pose2D `json:"pose"`
	Z         float64         `json:"z"`
	Ambiguity float64         `json:"ambiguity"`
	Accepted  bool            `json:"accepted"`
}

// VisionFrame reports one vision estimation pass.
type VisionFrame struct {
	RunID      string           `json:"run_id"`
	Timestamp  time.Time        `json:"timestamp"`
	Filter     string           `json:"filter"`
	Candidates []CandidateFrame `json:"candidates"`
	Visible    []MarkerFrame    `json:"visible_markers"`
	Observed   []MarkerFrame    `json:"observed_markers"`
	Discarded  int              `json:"discarded"`
	// Pose, StdDev and Count are only meaningful when OK is set.
	OK     bool            `json:"ok"`
	Pose   geometry.Pose2D `json:"pose"`
	StdDev [3]float64      `json:"std_dev"`
	Count  int             `json:"count"`
}

// NewVisionFrame flattens estimator diagnostics.
func NewVisionFrame(runID string, at time.Time, d vision.Diagnostics) VisionFrame {
	f := VisionFrame{
		RunID:      runID,
		Timestamp:  at,
		Filter:     d.Filter,
		Candidates: make([]CandidateFrame, len(d.Candidates)),
		Visible:    make([]MarkerFrame, len(d.VisibleMarkers)),
		Observed:   make([]MarkerFrame, len(d.ObservedMarkers)),
		Discarded:  d.Discarded,
	}
	for i, c := range d.Candidates {
		f.Candidates[i] = CandidateFrame{
			Camera:    c.Camera,
			MarkerID:  c.MarkerID,
			Pose:      c.Pose.ToPose2D(),
			Z:         c.Pose.Translation.Z,
			Ambiguity: c.Ambiguity,
			Accepted:  i < len(d.Accepted) && d.Accepted[i],
		}
	}
	for i, m := range d.VisibleMarkers {
		f.Visible[i] = markerFrame(m)
	}
	for i, m := range d.ObservedMarkers {
		f.Observed[i] = markerFrame(m)
	}
	if d.Result != nil {
		f.OK = true
		f.Pose = d.Result.Pose
		f.StdDev = d.Result.StdDev
		f.Count = d.Result.Count
	}
	return f
}

// MarkerDetection is one marker as reported by the camera computer.
// Translation is x, y, z in meters and Rotation a w, x, y, z quaternion, both
// in the camera frame.
type MarkerDetection struct {
	ID          int        `json:"id"`
	Translation [3]float64 `json:"translation"`
	Rotation    [4]float64 `json:"rotation"`
	Ambiguity   float64    `json:"ambiguity"`
}

// CameraDetections is one camera frame.
type CameraDetections struct {
	Camera int `json:"camera"`
	// LatencyMillis is the time from exposure to publication.
	LatencyMillis float64           `json:"latency_ms"`
	Markers       []MarkerDetection `json:"markers"`
}

// DetectionFrame carries the latest frame of every camera.
type DetectionFrame struct {
	Timestamp time.Time          `json:"timestamp"`
	Cameras   []CameraDetections `json:"cameras"`
}

// Captures converts the frame into one vision.Capture per configured
// camera. Cameras missing from the frame yield an empty capture. Capture
// times are the frame timestamp minus each camera's latency; a zero frame
// timestamp uses received instead.
func (f DetectionFrame) Captures(cameraCount int, received time.Time) ([]vision.Capture, error) {
	base := f.Timestamp
	if base.IsZero() {
		base = received
	}
	out := make([]vision.Capture, cameraCount)
	for i := range out {
		out[i].Timestamp = base
	}
	for _, cam := range f.Cameras {
		if cam.Camera < 0 || cam.Camera >= cameraCount {
			return nil, fmt.Errorf("%w: detection for camera %d, have %d", vision.ErrCameraCount, cam.Camera, cameraCount)
		}
		if cam.LatencyMillis < 0 {
			return nil, fmt.Errorf("camera %d: negative latency %v", cam.Camera, cam.LatencyMillis)
		}
		c := &out[cam.Camera]
		c.Timestamp = base.Add(-time.Duration(cam.LatencyMillis * float64(time.Millisecond)))
		for _, m := range cam.Markers {
			c.Observations = append(c.Observations, vision.Observation{
				MarkerID: m.ID,
				CameraToMarker: geometry.NewTransform3D(
					geometry.Translation3D{X: m.Translation[0], Y: m.Translation[1], Z: m.Translation[2]},
					geometry.RotationFromQuaternion(m.Rotation[0], m.Rotation[1], m.Rotation[2], m.Rotation[3]),
				),
				Ambiguity: m.Ambiguity,
			})
		}
	}
	return out, nil
}

// WheelFrame is published by the drive controller with every module's
// accumulated distance and steer angle.
type WheelFrame struct {
	Timestamp time.Time               `json:"timestamp"`
	Wheels    []kinematics.WheelState `json:"wheels"`
	// GyroHeading is the controller's own gyro heading in radians, absent
	// when the controller has no working gyro.
	GyroHeading *float64 `json:"gyro_heading,omitempty"`
}

// ResetFrame asks the localizer to move its estimate to Pose.
type ResetFrame struct {
	Pose geometry.Pose2D `json:"pose"`
}
