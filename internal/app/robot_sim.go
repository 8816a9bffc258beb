// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/swerve_localizer/internal/config"
	"github.com/relabs-tech/swerve_localizer/internal/telemetry"
)

// robotSim publishes what a real robot would: wheel states from the drive
// controller and marker detections from the camera computer.
type robotSim struct {
	sim         *simulation
	pub         telemetry.Publisher
	wheelTopic  string
	detectTopic string
	log         *zap.Logger

	sinceVision time.Duration
	sinceLog    time.Duration
	logEvery    time.Duration
}

// tick advances the simulation by dt and publishes the frames due at now.
func (r *robotSim) tick(now time.Time, dt time.Duration) error {
	if err := r.sim.step(dt); err != nil {
		return err
	}

	wheels, err := r.sim.wheelFrame(now)
	if err != nil {
		return err
	}
	if err := r.pub.Publish(r.wheelTopic, wheels); err != nil {
		r.log.Warn("wheel frame publish failed", zap.Error(err))
	}

	r.sinceVision += dt
	if r.sinceVision >= visionPeriod {
		r.sinceVision = 0
		if err := r.pub.Publish(r.detectTopic, r.sim.detections(now)); err != nil {
			r.log.Warn("detection publish failed", zap.Error(err))
		}
	}

	r.sinceLog += dt
	if r.logEvery > 0 && r.sinceLog >= r.logEvery {
		r.sinceLog = 0
		r.log.Info("simulated robot", zap.Stringer("true_pose", r.sim.chassis.TruePose()))
	}
	return nil
}

// RunRobotSim drives a simulated robot and publishes its wheel states and
// camera detections so the localizer can run without hardware.
func RunRobotSim(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	field, err := config.LoadField(cfg.FieldLayoutPath)
	if err != nil {
		return err
	}
	cameras, err := config.LoadCameras(cfg.CamerasPath)
	if err != nil {
		return err
	}
	sim, err := newSimulation(cfg, field, NewSynthesizer(field.Markers, cameras, simNoisePerMeter, uint64(time.Now().UnixNano())))
	if err != nil {
		return err
	}

	client, err := telemetry.Connect(cfg.MQTTBroker, cfg.MQTTClientIDRobotSim, log)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	r := &robotSim{
		sim:         sim,
		pub:         telemetry.NewMQTTPublisher(client, false),
		wheelTopic:  cfg.TopicWheelStates,
		detectTopic: cfg.TopicDetections,
		log:         log,
		logEvery:    time.Duration(cfg.ConsoleLogInterval) * time.Millisecond,
	}

	// The drive controller publishes slower than the localizer samples.
	dt := 4 * time.Duration(float64(time.Second)/cfg.OdometryFrequencyHz)
	ticker := time.NewTicker(dt)
	defer ticker.Stop()
	log.Info("robot simulation started", zap.Duration("period", dt), zap.Stringer("true_pose", sim.chassis.TruePose()))

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := r.tick(now, dt); err != nil {
				return err
			}
		}
	}
}
