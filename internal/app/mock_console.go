// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/relabs-tech/swerve_localizer/internal/config"
	"github.com/relabs-tech/swerve_localizer/internal/estimator"
	"github.com/relabs-tech/swerve_localizer/internal/geometry"
	"github.com/relabs-tech/swerve_localizer/internal/odometry"
	"github.com/relabs-tech/swerve_localizer/internal/vision"
)

// simNoisePerMeter is the detection noise of the simulated cameras.
const simNoisePerMeter = 0.01

// RunMockConsole runs the whole localizer in-process against a simulated
// chassis and simulated cameras, printing ground truth against the
// estimate. No broker or hardware is needed.
func RunMockConsole(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	field, err := config.LoadField(cfg.FieldLayoutPath)
	if err != nil {
		return err
	}
	cameras, err := config.LoadCameras(cfg.CamerasPath)
	if err != nil {
		return err
	}

	synth := NewSynthesizer(field.Markers, cameras, simNoisePerMeter, uint64(time.Now().UnixNano()))
	sim, err := newSimulation(cfg, field, synth)
	if err != nil {
		return err
	}
	// Samples and detections are both stamped with the tick time.
	var simNow time.Time
	sampler, err := odometry.NewSampler(sim.chassis.Readers(), sim.chassis.Gyro,
		odometry.WithClock(func() time.Time { return simNow }),
		odometry.WithCapacity(cfg.SamplerCapacity),
		odometry.WithLogger(log.Named("sampler")))
	if err != nil {
		return err
	}
	loc, err := NewLocalizer(LocalizerConfig{
		RunID:      uuid.NewString(),
		Kinematics: sim.chassis.Kinematics(),
		Source:     sampler,
		Engine: estimator.Options{
			StateStdDevs:  cfg.StateStdDevs(),
			HistoryWindow: cfg.HistoryDuration(),
		},
		Layout:  field.Markers,
		Cameras: cameras,
		Filter:  VisionFilter(cfg, field),
		Single:  vision.StdDevs{Translation: cfg.VisionSingleStdDevXY, Rotation: cfg.VisionSingleStdDevHeading},
		Logger:  log,
	})
	if err != nil {
		return err
	}

	tick := time.Duration(float64(time.Second) / cfg.OdometryFrequencyHz)
	printEvery := time.Duration(cfg.ConsoleLogInterval) * time.Millisecond
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	var sinceControl, sinceVision, sincePrint time.Duration
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			simNow = now
			if err := sim.step(tick); err != nil {
				return err
			}
			if err := sampler.Capture(); err != nil {
				return err
			}

			sinceVision += tick
			if sinceVision >= visionPeriod {
				sinceVision = 0
				loc.HandleDetections(sim.detections(now), now)
			}

			sinceControl += tick
			if sinceControl >= cfg.ControlInterval() {
				sinceControl = 0
				if err := loc.Cycle(); err != nil {
					return err
				}
			}

			sincePrint += tick
			if sincePrint >= printEvery {
				sincePrint = 0
				fmt.Println(formatTruth(sim.chassis.TruePose(), loc.Latest()))
			}
		}
	}
}

func formatTruth(truth, estimate geometry.Pose2D) string {
	d := estimate.RelativeTo(truth)
	return fmt.Sprintf("TRUE %s  EST %s  ERR %.3fm %.2f°",
		formatPose2D(truth), formatPose2D(estimate),
		d.Translation().Norm(), geometry.Degrees(d.Heading))
}
