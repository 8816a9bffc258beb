// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"fmt"
	"math"
	"time"

	"github.com/relabs-tech/swerve_localizer/internal/config"
	"github.com/relabs-tech/swerve_localizer/internal/geometry"
	"github.com/relabs-tech/swerve_localizer/internal/kinematics"
	"github.com/relabs-tech/swerve_localizer/internal/odometry"
	"github.com/relabs-tech/swerve_localizer/internal/telemetry"
)

const (
	// visionPeriod is how often the simulated cameras publish.
	visionPeriod = 50 * time.Millisecond

	figureSpeed  = 1.2 // m/s
	figureRadius = 2.0 // m
)

// simulation drives a simulated chassis around the field on a fixed
// figure-eight script and renders camera detections from its true pose.
type simulation struct {
	chassis  *odometry.SimulatedChassis
	synth    *Synthesizer
	maxSpeed float64
	maxOmega float64
	elapsed  time.Duration
}

func newSimulation(cfg *config.Config, field config.Field, synth *Synthesizer) (*simulation, error) {
	chassis, err := odometry.NewSimulatedChassis(kinematics.RectangularOffsets(cfg.TrackLength, cfg.TrackWidth))
	if err != nil {
		return nil, err
	}
	// The robot is carried onto the field; the estimator still believes it
	// is at the origin until vision pulls it over.
	chassis.Place(geometry.NewPose2D(field.Length/2, field.Width/2, 0))

	maxOmega := cfg.MaxAngularVelocity
	if maxOmega == 0 {
		maxOmega = cfg.MaxLinearVelocity / chassis.Kinematics().DriveBaseRadius()
	}
	return &simulation{chassis: chassis, synth: synth, maxSpeed: cfg.MaxLinearVelocity, maxOmega: maxOmega}, nil
}

// script returns the commanded robot-relative speeds at t: alternating
// full circles of figureRadius, which trace a figure eight around the
// starting point.
func (s *simulation) script(t time.Duration) kinematics.ChassisSpeeds {
	omega := math.Min(figureSpeed/figureRadius, s.maxOmega)
	lap := 2 * math.Pi / omega
	if int(t.Seconds()/lap)%2 == 1 {
		omega = -omega
	}
	return kinematics.ChassisSpeeds{VX: figureSpeed, Omega: omega}
}

// step advances the simulation by dt. Commanded speeds are desaturated to
// the module speed limit the way a drive controller would.
func (s *simulation) step(dt time.Duration) error {
	kin := s.chassis.Kinematics()
	states := kin.ToModuleStates(s.script(s.elapsed))
	kinematics.DesaturateWheelSpeeds(states, s.maxSpeed)
	speeds, err := kin.ToChassisSpeeds(states)
	if err != nil {
		return fmt.Errorf("simulation: %w", err)
	}
	s.chassis.Command(speeds)
	s.chassis.Step(dt.Seconds())
	s.elapsed += dt
	return nil
}

// wheelFrame reports the simulated modules as the drive controller would.
func (s *simulation) wheelFrame(at time.Time) (telemetry.WheelFrame, error) {
	frame := telemetry.WheelFrame{Timestamp: at, Wheels: make([]kinematics.WheelState, len(s.chassis.Modules))}
	for i, m := range s.chassis.Modules {
		w, err := m.ReadWheel()
		if err != nil {
			return telemetry.WheelFrame{}, err
		}
		frame.Wheels[i] = w
	}
	if h, ok := s.chassis.Gyro.ReadHeading(); ok {
		frame.GyroHeading = &h
	}
	return frame, nil
}

func (s *simulation) detections(at time.Time) telemetry.DetectionFrame {
	return s.synth.Detections(s.chassis.TruePose(), at)
}
