// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/relabs-tech/swerve_localizer/internal/config"
	"github.com/relabs-tech/swerve_localizer/internal/estimator"
	"github.com/relabs-tech/swerve_localizer/internal/kinematics"
	"github.com/relabs-tech/swerve_localizer/internal/odometry"
	"github.com/relabs-tech/swerve_localizer/internal/recorder"
	"github.com/relabs-tech/swerve_localizer/internal/sensors"
	"github.com/relabs-tech/swerve_localizer/internal/telemetry"
	"github.com/relabs-tech/swerve_localizer/internal/vision"
)

// fieldMargin widens the field rectangle for the bounds filter.
const fieldMargin = 0.5

// VisionFilter builds the candidate filter chain from configuration.
func VisionFilter(cfg *config.Config, field config.Field) vision.Filter {
	return vision.AllOf(
		vision.HeightFilter{MaxAbsZ: cfg.VisionMaxHeight},
		vision.TiltFilter{MaxTilt: cfg.VisionMaxTilt},
		vision.AmbiguityFilter{MaxAmbiguity: cfg.VisionMaxAmbiguity},
		vision.FieldBoundsFilter{Length: field.Length, Width: field.Width, Margin: fieldMargin},
	)
}

// RunLocalizer subscribes to wheel states, detections and reset commands,
// and publishes the fused pose every control period until ctx ends.
func RunLocalizer(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	runID := uuid.NewString()
	log = log.With(zap.String("run_id", runID))

	kin, err := kinematics.New(kinematics.RectangularOffsets(cfg.TrackLength, cfg.TrackWidth))
	if err != nil {
		return err
	}
	field, err := config.LoadField(cfg.FieldLayoutPath)
	if err != nil {
		return err
	}
	cameras, err := config.LoadCameras(cfg.CamerasPath)
	if err != nil {
		return err
	}
	log.Info("field loaded",
		zap.Int("markers", len(field.Markers)),
		zap.Int("cameras", len(cameras)),
		zap.Float64("drive_base_radius", kin.DriveBaseRadius()))

	client, err := telemetry.Connect(cfg.MQTTBroker, cfg.MQTTClientIDLocalizer, log)
	if err != nil {
		return err
	}
	defer client.Disconnect(250)

	feed := telemetry.NewWheelFeed(kin.ModuleCount())
	gyro, serialPort, err := openGyro(cfg, feed, log)
	if err != nil {
		return err
	}

	sampler, err := odometry.NewSampler(feed.Readers(), gyro,
		odometry.WithCapacity(cfg.SamplerCapacity),
		odometry.WithFrameClock(feed),
		odometry.WithLogger(log.Named("sampler")))
	if err != nil {
		return err
	}

	var rec *recorder.Recorder
	if cfg.RecorderPath != "" {
		rec, err = recorder.Open(cfg.RecorderPath, runID, fmt.Sprintf("gyro=%s", cfg.GyroSource), log)
		if err != nil {
			return err
		}
		defer rec.Close()
	}

	loc, err := NewLocalizer(LocalizerConfig{
		RunID:      runID,
		Kinematics: kin,
		Source:     sampler,
		Engine: estimator.Options{
			StateStdDevs:  cfg.StateStdDevs(),
			HistoryWindow: cfg.HistoryDuration(),
		},
		Layout:  field.Markers,
		Cameras: cameras,
		Filter:  VisionFilter(cfg, field),
		Single: vision.StdDevs{
			Translation: cfg.VisionSingleStdDevXY,
			Rotation:    cfg.VisionSingleStdDevHeading,
		},
		Publisher:   telemetry.NewMQTTPublisher(client, true),
		PoseTopic:   cfg.TopicPose,
		VisionTopic: cfg.TopicVisionDiag,
		Recorder:    rec,
		Logger:      log,
	})
	if err != nil {
		return err
	}

	if err := telemetry.SubscribeJSON(client, cfg.TopicWheelStates, log, func(f telemetry.WheelFrame) {
		if err := feed.Update(f); err != nil {
			log.Warn("wheel frame rejected", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	if err := telemetry.SubscribeJSON(client, cfg.TopicDetections, log, func(f telemetry.DetectionFrame) {
		loc.HandleDetections(f, time.Now())
	}); err != nil {
		return err
	}
	if err := telemetry.SubscribeJSON(client, cfg.TopicResetPose, log, func(f telemetry.ResetFrame) {
		loc.RequestReset(f.Pose)
	}); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sampler.Run(ctx, cfg.OdometryFrequencyHz) })
	g.Go(func() error { return loc.Run(ctx, cfg.ControlInterval()) })
	if compass, ok := gyro.(*sensors.CompassGyro); ok {
		g.Go(func() error {
			if err := compass.Run(ctx, serialPort); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return serialPort.Close()
		})
	}
	return g.Wait()
}

// openGyro builds the configured heading source. The serial port is only
// returned for the NMEA compass and must be closed by the caller.
func openGyro(cfg *config.Config, feed *telemetry.WheelFeed, log *zap.Logger) (odometry.GyroReader, io.ReadWriteCloser, error) {
	switch cfg.GyroSource {
	case config.GyroSourceMPU9250:
		var bias sensors.Bias
		if cfg.GyroBiasPath != "" {
			b, err := sensors.LoadBias(cfg.GyroBiasPath)
			if err != nil {
				return nil, nil, err
			}
			bias = b
			log.Info("gyro bias loaded", zap.Float64("mean", b.Mean), zap.Float64("std_dev", b.StdDev))
		}
		g, err := sensors.NewMPU9250Gyro(cfg.GyroSPIDevice, cfg.GyroCSPin, bias, log.Named("gyro"))
		if err != nil {
			return nil, nil, err
		}
		return g, nil, nil
	case config.GyroSourceNMEA:
		port, err := sensors.OpenSerial(cfg.NMEASerialPort, cfg.NMEABaudRate)
		if err != nil {
			return nil, nil, err
		}
		log.Info("gyro compass opened", zap.String("port", cfg.NMEASerialPort), zap.Int("baud", cfg.NMEABaudRate))
		return sensors.NewCompassGyro(sensors.DefaultStaleAfter, log.Named("compass")), port, nil
	case config.GyroSourceFrame:
		return feed, nil, nil
	default:
		log.Warn("no gyro configured, heading from wheel kinematics only")
		return nil, nil, nil
	}
}
