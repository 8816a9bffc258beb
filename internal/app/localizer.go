// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/swerve_localizer/internal/estimator"
	"github.com/relabs-tech/swerve_localizer/internal/geometry"
	"github.com/relabs-tech/swerve_localizer/internal/kinematics"
	"github.com/relabs-tech/swerve_localizer/internal/odometry"
	"github.com/relabs-tech/swerve_localizer/internal/recorder"
	"github.com/relabs-tech/swerve_localizer/internal/telemetry"
	"github.com/relabs-tech/swerve_localizer/internal/vision"
)

// SampleSource is the consumer side of the odometry sampler.
type SampleSource interface {
	Drain() []odometry.Sample
	Dropped() uint64
}

// LocalizerConfig wires a Localizer. Publisher and Recorder may be nil.
type LocalizerConfig struct {
	RunID       string
	Kinematics  *kinematics.Swerve
	Source      SampleSource
	InitialPose geometry.Pose2D
	Engine      estimator.Options

	Layout  vision.FieldLayout
	Cameras []vision.Camera
	Filter  vision.Filter
	Single  vision.StdDevs

	Publisher   telemetry.Publisher
	PoseTopic   string
	VisionTopic string
	Recorder    *recorder.Recorder
	Logger      *zap.Logger
}

// Localizer runs the control cycle: it drains odometry samples into the
// estimator, applies the latest vision measurement and pending pose resets,
// then publishes and records the fused pose.
//
// Detections and resets arrive on MQTT callback goroutines and are handed
// to the control loop through one-slot channels where the newest value
// replaces an unconsumed one.
type Localizer struct {
	cfg    LocalizerConfig
	log    *zap.Logger
	vision *vision.Estimator
	now    func() time.Time

	// owned by the control loop
	engine    *estimator.Engine
	initial   geometry.Pose2D
	last      odometry.Sample
	visionStd [3]float64
	// vision captured before the last reset is discarded
	resetAt time.Time

	visionCh chan vision.Result
	resetCh  chan geometry.Pose2D

	mu     sync.RWMutex
	latest geometry.Pose2D
}

// NewLocalizer validates the configuration and builds the vision estimator.
func NewLocalizer(cfg LocalizerConfig) (*Localizer, error) {
	if cfg.Kinematics == nil || cfg.Source == nil {
		return nil, errors.New("localizer: kinematics and sample source are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Engine.Logger == nil {
		cfg.Engine.Logger = cfg.Logger.Named("estimator")
	}

	l := &Localizer{
		cfg:      cfg,
		log:      cfg.Logger,
		now:      time.Now,
		initial:  cfg.InitialPose,
		latest:   cfg.InitialPose,
		visionCh: make(chan vision.Result, 1),
		resetCh:  make(chan geometry.Pose2D, 1),
	}

	est, err := vision.NewEstimator(cfg.Layout, cfg.Cameras, cfg.Filter, vision.Options{
		SingleObservation: cfg.Single,
		Logger:            cfg.Logger.Named("vision"),
		OnDiagnostics:     l.onDiagnostics,
	})
	if err != nil {
		return nil, err
	}
	l.vision = est
	return l, nil
}

// Latest returns the most recently published estimate.
func (l *Localizer) Latest() geometry.Pose2D {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.latest
}

// HandleDetections runs the vision estimator on one detection frame and
// queues the result for the next control cycle.
func (l *Localizer) HandleDetections(frame telemetry.DetectionFrame, received time.Time) {
	captures, err := frame.Captures(len(l.cfg.Cameras), received)
	if err != nil {
		l.log.Warn("detection frame rejected", zap.Error(err))
		return
	}
	res, ok, err := l.vision.Estimate(captures, l.Latest())
	if err != nil {
		l.log.Warn("vision estimate failed", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	offer(l.visionCh, res)
}

// RequestReset moves the estimate to pose at the next control cycle.
func (l *Localizer) RequestReset(pose geometry.Pose2D) {
	l.log.Info("pose reset requested", zap.Stringer("pose", pose))
	offer(l.resetCh, pose)
}

// Cycle performs one control step. It returns an error only for
// configuration faults the estimator cannot recover from.
func (l *Localizer) Cycle() error {
	samples := l.cfg.Source.Drain()

	if l.engine == nil {
		select {
		case pose := <-l.resetCh:
			l.initial = pose
			select {
			case <-l.visionCh:
			default:
			}
		default:
		}
		if len(samples) == 0 {
			return nil
		}
		first := samples[0]
		raw := 0.0
		if first.GyroValid {
			raw = first.GyroHeading
		}
		eng, err := estimator.New(l.cfg.Kinematics, first.Wheels, raw, l.initial, l.cfg.Engine)
		if err != nil {
			return fmt.Errorf("localizer: %w", err)
		}
		l.engine = eng
		l.log.Info("estimator started",
			zap.Stringer("pose", l.initial),
			zap.Bool("gyro_valid", first.GyroValid))
	}

	changed := len(samples) > 0
	if err := l.engine.Periodic(drained(samples)); err != nil {
		return fmt.Errorf("localizer: %w", err)
	}
	if len(samples) > 0 {
		l.last = samples[len(samples)-1]
	}

	select {
	case pose := <-l.resetCh:
		if err := l.engine.ResetPose(pose, l.last.Wheels, l.engine.RawHeading()); err != nil {
			return fmt.Errorf("localizer: %w", err)
		}
		l.resetAt = l.last.Timestamp
		changed = true
	default:
	}

	select {
	case res := <-l.visionCh:
		if res.Timestamp.Before(l.resetAt) {
			l.log.Debug("vision measurement predates reset, dropped",
				zap.Time("captured", res.Timestamp),
				zap.Time("reset", l.resetAt))
			break
		}
		if err := l.engine.AddVisionMeasurement(res.Pose, res.Timestamp, res.StdDev); err != nil {
			l.log.Warn("vision measurement rejected", zap.Error(err))
		} else {
			l.visionStd = res.StdDev
			changed = true
		}
	default:
	}

	if !changed {
		return nil
	}

	estimate := l.engine.Estimate()
	l.mu.Lock()
	l.latest = estimate
	l.mu.Unlock()

	frame := telemetry.PoseFrame{
		RunID:        l.cfg.RunID,
		Timestamp:    l.last.Timestamp,
		Estimate:     estimate,
		Odometry:     l.engine.OdometryPose(),
		VisionStdDev: l.visionStd,
		GyroValid:    l.last.GyroValid,
		Dropped:      l.cfg.Source.Dropped(),
	}
	if l.cfg.Publisher != nil {
		if err := l.cfg.Publisher.Publish(l.cfg.PoseTopic, frame); err != nil {
			l.log.Warn("pose publish failed", zap.Error(err))
		}
	}
	if l.cfg.Recorder != nil {
		if err := l.cfg.Recorder.RecordPose(frame.Timestamp, frame.Estimate, frame.Odometry, frame.GyroValid); err != nil {
			l.log.Warn("pose record failed", zap.Error(err))
		}
	}
	return nil
}

// Run calls Cycle every period until ctx ends.
func (l *Localizer) Run(ctx context.Context, period time.Duration) error {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	l.log.Info("control loop started", zap.Duration("period", period), zap.String("run_id", l.cfg.RunID))
	for {
		select {
		case <-ctx.Done():
			l.log.Info("control loop stopped", zap.Stringer("estimate", l.Latest()))
			return nil
		case <-ticker.C:
			if err := l.Cycle(); err != nil {
				return err
			}
		}
	}
}

func (l *Localizer) onDiagnostics(d vision.Diagnostics) {
	at := l.now()
	if d.Result != nil {
		at = d.Result.Timestamp
	}
	if l.cfg.Publisher != nil {
		if err := l.cfg.Publisher.Publish(l.cfg.VisionTopic, telemetry.NewVisionFrame(l.cfg.RunID, at, d)); err != nil {
			l.log.Warn("vision diagnostics publish failed", zap.Error(err))
		}
	}
	if l.cfg.Recorder != nil {
		if err := l.cfg.Recorder.RecordVision(at, d); err != nil {
			l.log.Warn("vision record failed", zap.Error(err))
		}
	}
}

// drained adapts an already drained batch to estimator.Drainer.
type drained []odometry.Sample

func (d drained) Drain() []odometry.Sample { return d }

// offer stores v in a one-slot channel, replacing any unconsumed value.
func offer[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}
