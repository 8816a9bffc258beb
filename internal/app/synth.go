// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"maps"
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/relabs-tech/swerve_localizer/internal/geometry"
	"github.com/relabs-tech/swerve_localizer/internal/telemetry"
	"github.com/relabs-tech/swerve_localizer/internal/vision"
)

// Synthesizer fakes the camera computer: it renders what each camera would
// see from a ground-truth pose as a DetectionFrame.
type Synthesizer struct {
	layout  vision.FieldLayout
	ids     []int
	cameras []vision.Camera

	MaxRange float64       // meters
	HalfFOV  float64       // radians, horizontal
	Latency  time.Duration // exposure to publication

	noise     distuv.Normal
	ambiguity distuv.Uniform
}

// NewSynthesizer builds a synthesizer. noisePerMeter is the standard
// deviation of the translation error per meter of range; zero gives exact
// detections.
func NewSynthesizer(layout vision.FieldLayout, cameras []vision.Camera, noisePerMeter float64, seed uint64) *Synthesizer {
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	return &Synthesizer{
		layout:   layout,
		ids:      slices.Sorted(maps.Keys(layout)),
		cameras:  cameras,
		MaxRange: 6,
		HalfFOV:  geometry.Radians(35),
		Latency:  30 * time.Millisecond,
		noise:    distuv.Normal{Mu: 0, Sigma: noisePerMeter, Src: src},
		ambiguity: distuv.Uniform{
			Min: 0, Max: 0.1, Src: src,
		},
	}
}

// Detections renders the markers visible from truth at exposure time
// exposed. The frame is stamped as published Latency later.
func (s *Synthesizer) Detections(truth geometry.Pose2D, exposed time.Time) telemetry.DetectionFrame {
	frame := telemetry.DetectionFrame{
		Timestamp: exposed.Add(s.Latency),
		Cameras:   make([]telemetry.CameraDetections, 0, len(s.cameras)),
	}
	robot := geometry.Pose3DFromPose2D(truth)
	for i, cam := range s.cameras {
		camera := robot.TransformBy(cam.RobotToCamera)
		det := telemetry.CameraDetections{
			Camera:        i,
			LatencyMillis: float64(s.Latency) / float64(time.Millisecond),
		}
		for _, id := range s.ids {
			marker := s.layout[id]
			toMarker := camera.TransformTo(marker)
			if !s.visible(toMarker) {
				continue
			}
			det.Markers = append(det.Markers, s.detection(id, toMarker))
		}
		frame.Cameras = append(frame.Cameras, det)
	}
	return frame
}

// visible checks range, field of view and that the marker faces the camera.
func (s *Synthesizer) visible(toMarker geometry.Transform3D) bool {
	t := toMarker.Translation
	if t.X <= 0 || t.Norm() > s.MaxRange {
		return false
	}
	if math.Abs(math.Atan2(t.Y, t.X)) > s.HalfFOV {
		return false
	}
	return toMarker.Inverse().Translation.X > 0
}

func (s *Synthesizer) detection(id int, toMarker geometry.Transform3D) telemetry.MarkerDetection {
	t := toMarker.Translation
	d := t.Norm()
	w, x, y, z := toMarker.Rotation.Quaternion()
	det := telemetry.MarkerDetection{
		ID:          id,
		Translation: [3]float64{t.X, t.Y, t.Z},
		Rotation:    [4]float64{w, x, y, z},
	}
	if s.noise.Sigma > 0 {
		for i := range det.Translation {
			det.Translation[i] += s.noise.Rand() * d
		}
		det.Ambiguity = s.ambiguity.Rand()
	}
	return det
}
