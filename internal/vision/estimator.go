// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package vision turns fiducial marker sightings from several cameras into
// one robot pose measurement with a per-axis standard deviation.
//
// Each sighting is chained with the marker's known field pose and the
// camera's mount offset to give a candidate robot pose. Candidates pass a
// pluggable Filter and the survivors are averaged; their spread becomes the
// reported uncertainty, so several agreeing markers produce a tighter
// measurement than one.
package vision

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/swerve_localizer/internal/geometry"
)

// ErrCameraCount reports captures that do not line up with the configured
// cameras.
var ErrCameraCount = errors.New("vision: capture count does not match camera count")

// FieldLayout maps marker IDs to their surveyed field poses.
type FieldLayout map[int]geometry.Pose3D

// Lookup returns the field pose of a marker.
func (l FieldLayout) Lookup(id int) (geometry.Pose3D, bool) {
	p, ok := l[id]
	return p, ok
}

// Camera is a camera rigidly mounted on the robot.
type Camera struct {
	Name          string
	RobotToCamera geometry.Transform3D
}

// Observation is one detected marker in one camera frame.
type Observation struct {
	MarkerID       int
	CameraToMarker geometry.Transform3D
	Ambiguity      float64
}

// Capture is everything one camera saw in one frame. Timestamp is when the
// frame was exposed, not when it arrived.
type Capture struct {
	Timestamp    time.Time
	Observations []Observation
}

// Result is a fused pose measurement.
type Result struct {
	Pose      geometry.Pose2D
	StdDev    [3]float64 // x, y meters; heading radians
	Timestamp time.Time
	Count     int
}

// Diagnostics describe one Estimate call. They are informational only.
type Diagnostics struct {
	Filter          string
	Candidates      []Candidate
	Accepted        []bool
	VisibleMarkers  []geometry.Pose3D // layout poses of the markers seen
	ObservedMarkers []geometry.Pose3D // where the current estimate places them
	Discarded       int               // unknown IDs and malformed sightings
	Result          *Result
}

// Options tune an Estimator.
type Options struct {
	SingleObservation StdDevs
	Logger            *zap.Logger
	// OnDiagnostics, when set, receives the diagnostics of every call.
	OnDiagnostics func(Diagnostics)
}

// Estimator is stateless between calls and safe for concurrent use.
type Estimator struct {
	layout  FieldLayout
	cameras []Camera
	filter  Filter
	single  StdDevs
	log     *zap.Logger
	onDiag  func(Diagnostics)
}

// NewEstimator builds an estimator. A nil filter accepts everything.
func NewEstimator(layout FieldLayout, cameras []Camera, filter Filter, opts Options) (*Estimator, error) {
	if len(cameras) == 0 {
		return nil, errors.New("vision: no cameras configured")
	}
	if filter == nil {
		filter = AcceptAll{}
	}
	if opts.SingleObservation == (StdDevs{}) {
		opts.SingleObservation = DefaultSingleObservation
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Estimator{
		layout:  layout,
		cameras: append([]Camera(nil), cameras...),
		filter:  filter,
		single:  opts.SingleObservation,
		log:     opts.Logger,
		onDiag:  opts.OnDiagnostics,
	}, nil
}

// Cameras returns the configured cameras.
func (e *Estimator) Cameras() []Camera {
	return append([]Camera(nil), e.cameras...)
}

// FilterName names the active filter.
func (e *Estimator) FilterName() string { return e.filter.Name() }

type sighting struct {
	candidate Candidate
	timestamp time.Time
	visible   geometry.Pose3D
	observed  geometry.Pose3D
}

// Estimate fuses one capture per camera, in camera order. current is only
// used to place observed markers for diagnostics and never influences the
// result. ok is false when no candidate survived.
func (e *Estimator) Estimate(captures []Capture, current geometry.Pose2D) (res Result, ok bool, err error) {
	if len(captures) != len(e.cameras) {
		return Result{}, false, fmt.Errorf("%w: got %d, want %d", ErrCameraCount, len(captures), len(e.cameras))
	}

	perCamera := make([][]sighting, len(captures))
	discarded := make([]int, len(captures))
	var g errgroup.Group
	for i := range captures {
		g.Go(func() error {
			perCamera[i], discarded[i] = e.sightings(i, captures[i], current)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, false, err
	}

	diag := Diagnostics{Filter: e.filter.Name()}
	var accepted []geometry.Pose2D
	var stampSum time.Duration
	var stampBase time.Time
	for i, list := range perCamera {
		diag.Discarded += discarded[i]
		for _, s := range list {
			keep := e.filter.Accept(s.candidate)
			diag.Candidates = append(diag.Candidates, s.candidate)
			diag.Accepted = append(diag.Accepted, keep)
			diag.VisibleMarkers = append(diag.VisibleMarkers, s.visible)
			diag.ObservedMarkers = append(diag.ObservedMarkers, s.observed)
			if !keep {
				continue
			}
			if len(accepted) == 0 {
				stampBase = s.timestamp
			}
			stampSum += s.timestamp.Sub(stampBase)
			accepted = append(accepted, s.candidate.Pose.ToPose2D())
		}
	}

	pose, std, ok := fuse(accepted, e.single)
	if ok {
		res = Result{
			Pose:      pose,
			StdDev:    std,
			Timestamp: stampBase.Add(stampSum / time.Duration(len(accepted))),
			Count:     len(accepted),
		}
		diag.Result = &res
	}

	e.log.Debug("vision estimate",
		zap.String("filter", diag.Filter),
		zap.Int("candidates", len(diag.Candidates)),
		zap.Int("accepted", len(accepted)),
		zap.Int("discarded", diag.Discarded),
		zap.Bool("ok", ok))

	if e.onDiag != nil {
		e.onDiag(diag)
	}
	return res, ok, nil
}

// sightings reconstructs a candidate for every known marker one camera saw.
func (e *Estimator) sightings(cam int, c Capture, current geometry.Pose2D) ([]sighting, int) {
	robotToCamera := e.cameras[cam].RobotToCamera
	cameraToRobot := robotToCamera.Inverse()
	currentCamera := geometry.Pose3DFromPose2D(current).TransformBy(robotToCamera)

	out := make([]sighting, 0, len(c.Observations))
	var discarded int
	for _, obs := range c.Observations {
		markerPose, known := e.layout.Lookup(obs.MarkerID)
		if !known || !finite(obs.CameraToMarker) {
			discarded++
			continue
		}
		robot := markerPose.
			TransformBy(obs.CameraToMarker.Inverse()).
			TransformBy(cameraToRobot)
		out = append(out, sighting{
			candidate: Candidate{
				Camera:    cam,
				MarkerID:  obs.MarkerID,
				Pose:      robot,
				Ambiguity: obs.Ambiguity,
			},
			timestamp: c.Timestamp,
			visible:   markerPose,
			observed:  currentCamera.TransformBy(obs.CameraToMarker),
		})
	}
	return out, discarded
}

func finite(tr geometry.Transform3D) bool {
	w, x, y, z := tr.Rotation.Quaternion()
	for _, v := range []float64{tr.Translation.X, tr.Translation.Y, tr.Translation.Z, w, x, y, z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
