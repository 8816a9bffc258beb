// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package estimator fuses high-rate wheel odometry and gyro heading with
// delayed, noisy vision measurements into one field-relative robot pose.
//
// Odometry is integrated sample by sample and recorded in a short pose
// history. A vision measurement stamped in the past is blended against the
// odometry pose interpolated at its timestamp, and the odometry travelled
// since then is replayed on top of the corrected pose.
package estimator

import (
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/swerve_localizer/internal/geometry"
	"github.com/relabs-tech/swerve_localizer/internal/kinematics"
	"github.com/relabs-tech/swerve_localizer/internal/odometry"
)

const (
	// DefaultHistoryWindow is how far back vision measurements can reach.
	DefaultHistoryWindow = 1500 * time.Millisecond
)

// DefaultStateStdDevs is the trust placed in odometry: x, y in meters and
// heading in radians.
var DefaultStateStdDevs = [3]float64{0.1, 0.1, 0.1}

var (
	// ErrModuleCount reports a sample whose wheel count differs from the
	// drivetrain. It is a configuration error and is not recoverable.
	ErrModuleCount = errors.New("estimator: wheel count does not match module count")
	// ErrStdDev reports a vision measurement with an unusable deviation.
	ErrStdDev = errors.New("estimator: invalid vision standard deviation")
)

// Drainer hands over every sample captured since the last call, oldest first.
type Drainer interface {
	Drain() []odometry.Sample
}

// Options tune an Engine. Zero values select the defaults.
type Options struct {
	StateStdDevs  [3]float64
	HistoryWindow time.Duration
	Logger        *zap.Logger
}

type correction struct {
	t         time.Time
	corrected geometry.Pose2D
	odom      geometry.Pose2D
}

// Engine owns the fusion state. It is not safe for concurrent use; the
// control loop is its only caller.
type Engine struct {
	kin *kinematics.Swerve
	log *zap.Logger

	baseline []kinematics.WheelState
	deltas   []kinematics.WheelState

	rawHeading float64
	gyroValid  bool
	odom       geometry.Pose2D
	estimate   geometry.Pose2D

	q           [3]float64
	history     poseHistory
	corrections []correction
}

// New builds an engine starting at initialPose with the given wheel and raw
// heading readings as baselines.
func New(kin *kinematics.Swerve, initialWheels []kinematics.WheelState, initialRawHeading float64, initialPose geometry.Pose2D, opts Options) (*Engine, error) {
	if kin == nil {
		return nil, errors.New("estimator: nil kinematics")
	}
	if opts.StateStdDevs == ([3]float64{}) {
		opts.StateStdDevs = DefaultStateStdDevs
	}
	for _, s := range opts.StateStdDevs {
		if s < 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("estimator: invalid state standard deviation %v", opts.StateStdDevs)
		}
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = DefaultHistoryWindow
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	e := &Engine{
		kin:       kin,
		log:       opts.Logger,
		baseline:  make([]kinematics.WheelState, kin.ModuleCount()),
		deltas:    make([]kinematics.WheelState, kin.ModuleCount()),
		gyroValid: true,
		q:         opts.StateStdDevs,
		history:   poseHistory{window: opts.HistoryWindow},
	}
	if err := e.ResetPose(initialPose, initialWheels, initialRawHeading); err != nil {
		return nil, err
	}
	return e, nil
}

// Periodic integrates every pending sample in capture order.
func (e *Engine) Periodic(src Drainer) error {
	for _, s := range src.Drain() {
		if err := e.Update(s); err != nil {
			return err
		}
	}
	return nil
}

// Update integrates one odometry sample.
func (e *Engine) Update(s odometry.Sample) error {
	if len(s.Wheels) != len(e.baseline) {
		return fmt.Errorf("%w: got %d, want %d", ErrModuleCount, len(s.Wheels), len(e.baseline))
	}

	for i, w := range s.Wheels {
		e.deltas[i] = kinematics.WheelState{
			DistanceMeters: w.DistanceMeters - e.baseline[i].DistanceMeters,
			Angle:          w.Angle,
		}
	}
	twist, err := e.kin.ToTwist(e.deltas)
	if err != nil {
		return fmt.Errorf("estimator: %w", err)
	}
	copy(e.baseline, s.Wheels)

	if s.GyroValid != e.gyroValid {
		if s.GyroValid {
			e.log.Info("gyro reconnected, heading from gyro")
		} else {
			e.log.Warn("gyro disconnected, heading from wheel kinematics")
		}
		e.gyroValid = s.GyroValid
	}

	newRaw := geometry.NormalizeAngle(e.rawHeading + twist.DTheta)
	if s.GyroValid {
		newRaw = geometry.NormalizeAngle(s.GyroHeading)
	}
	dtheta := geometry.AngleDiff(newRaw, e.rawHeading)
	e.rawHeading = newRaw

	prev := e.odom
	next := prev.Exp(geometry.Twist2D{DX: twist.DX, DY: twist.DY, DTheta: dtheta})
	next.Heading = geometry.NormalizeAngle(prev.Heading + dtheta)
	e.odom = next

	e.history.add(s.Timestamp, e.odom)
	e.pruneCorrections()
	e.estimate = e.replay(e.odom)
	return nil
}

// AddVisionMeasurement blends a vision pose captured at timestamp into the
// estimate. stdDevs are x, y in meters and heading in radians; a zero entry
// trusts vision fully on that axis. Call it between Periodic cycles.
func (e *Engine) AddVisionMeasurement(pose geometry.Pose2D, timestamp time.Time, stdDevs [3]float64) error {
	for _, r := range stdDevs {
		if r < 0 || math.IsNaN(r) || math.IsInf(r, 0) {
			e.log.Debug("vision measurement ignored", zap.Float64s("std_devs", stdDevs[:]))
			return fmt.Errorf("%w: %v", ErrStdDev, stdDevs)
		}
	}

	t, odomAt := e.odometryAt(timestamp)
	before := e.correctedAt(t, odomAt)
	tw := before.Log(pose)
	k := [3]float64{gain(e.q[0], stdDevs[0]), gain(e.q[1], stdDevs[1]), gain(e.q[2], stdDevs[2])}
	after := before.Exp(geometry.Twist2D{DX: tw.DX * k[0], DY: tw.DY * k[1], DTheta: tw.DTheta * k[2]})

	// Corrections after t were computed against a history this one replaces.
	keep := len(e.corrections)
	for keep > 0 && e.corrections[keep-1].t.After(t) {
		keep--
	}
	e.corrections = append(e.corrections[:keep], correction{t: t, corrected: after, odom: odomAt})
	e.estimate = e.replay(e.odom)

	e.log.Debug("vision measurement applied",
		zap.Stringer("measured", pose),
		zap.Stringer("estimate", e.estimate),
		zap.Float64s("gain", k[:]))
	return nil
}

// Estimate returns the fused pose.
func (e *Engine) Estimate() geometry.Pose2D { return e.estimate }

// OdometryPose returns the dead-reckoned pose without vision.
func (e *Engine) OdometryPose() geometry.Pose2D { return e.odom }

// RawHeading returns the last heading reading in the sensor's own frame.
func (e *Engine) RawHeading() float64 { return e.rawHeading }

// ResetPose moves the robot to pose. wheels and rawHeading are the current
// sensor readings, so a following sample with no motion yields pose exactly.
func (e *Engine) ResetPose(pose geometry.Pose2D, wheels []kinematics.WheelState, rawHeading float64) error {
	if len(wheels) != len(e.baseline) {
		return fmt.Errorf("%w: got %d, want %d", ErrModuleCount, len(wheels), len(e.baseline))
	}
	copy(e.baseline, wheels)
	e.rawHeading = geometry.NormalizeAngle(rawHeading)
	pose.Heading = geometry.NormalizeAngle(pose.Heading)
	e.odom = pose
	e.estimate = pose
	e.history.clear()
	e.corrections = e.corrections[:0]
	e.log.Info("pose reset", zap.Stringer("pose", pose))
	return nil
}

// SampleAt returns the fused pose interpolated at t, clamped to the history
// window. ok is false before the first sample after a reset.
func (e *Engine) SampleAt(t time.Time) (geometry.Pose2D, bool) {
	if e.history.len() == 0 {
		return geometry.Pose2D{}, false
	}
	return e.correctedAt(t, e.history.at(t)), true
}

// odometryAt resolves the odometry pose for a measurement timestamp and the
// time it is anchored to once clamped into the history.
func (e *Engine) odometryAt(ts time.Time) (time.Time, geometry.Pose2D) {
	if e.history.len() == 0 {
		e.log.Debug("vision measurement before first sample, using current odometry")
		return ts, e.odom
	}
	first, last := e.history.oldest(), e.history.newest()
	switch {
	case ts.Before(first.t):
		e.log.Debug("stale vision measurement clamped to oldest history entry",
			zap.Duration("clamp", first.t.Sub(ts)))
		return first.t, first.pose
	case ts.After(last.t):
		e.log.Debug("vision measurement newer than odometry, using newest entry",
			zap.Duration("clamp", ts.Sub(last.t)))
		return last.t, last.pose
	}
	return ts, e.history.at(ts)
}

// correctedAt applies the newest correction at or before t to the odometry
// pose odomAt.
func (e *Engine) correctedAt(t time.Time, odomAt geometry.Pose2D) geometry.Pose2D {
	for i := len(e.corrections) - 1; i >= 0; i-- {
		c := e.corrections[i]
		if !c.t.After(t) {
			return c.corrected.TransformBy(odomAt.RelativeTo(c.odom))
		}
	}
	return odomAt
}

// replay carries the newest correction forward to odomNow.
func (e *Engine) replay(odomNow geometry.Pose2D) geometry.Pose2D {
	if len(e.corrections) == 0 {
		return odomNow
	}
	c := e.corrections[len(e.corrections)-1]
	return c.corrected.TransformBy(odomNow.RelativeTo(c.odom))
}

// pruneCorrections drops corrections superseded by a newer one that is still
// at or before the oldest history entry.
func (e *Engine) pruneCorrections() {
	if len(e.corrections) < 2 || e.history.len() == 0 {
		return
	}
	oldest := e.history.oldest().t
	floor := 0
	for i, c := range e.corrections {
		if c.t.After(oldest) {
			break
		}
		floor = i
	}
	if floor > 0 {
		e.corrections = append(e.corrections[:0], e.corrections[floor:]...)
	}
}

// gain is the fraction of the innovation applied on one axis: the odometry
// variance over the summed variances.
func gain(q, r float64) float64 {
	if r == 0 {
		return 1
	}
	q2 := q * q
	return q2 / (q2 + r*r)
}
