// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/swerve_localizer/internal/config"
	"github.com/relabs-tech/swerve_localizer/internal/sensors"
)

const (
	calibrationHz        = 100
	calibrationMaxErrors = 20
	// stillStdGood is the raw-count deviation below which the robot was
	// clearly not moving during calibration.
	stillStdGood = 3.0
)

// RunGyroCalibration measures the MPU9250 yaw rate bias while the robot is
// still and writes it to GYRO_BIAS_PATH.
func RunGyroCalibration(ctx context.Context, cfg *config.Config, duration time.Duration, log *zap.Logger) error {
	if cfg.GyroBiasPath == "" {
		return errors.New("GYRO_BIAS_PATH is not set")
	}
	imu, err := sensors.OpenMPU9250(cfg.GyroSPIDevice, cfg.GyroCSPin, log)
	if err != nil {
		return err
	}

	n := int(duration.Seconds() * calibrationHz)
	log.Info("keep the robot still", zap.Duration("duration", duration), zap.Int("samples", n))
	bias, err := sensors.CollectBias(ctx, imu, n, time.Second/calibrationHz, calibrationMaxErrors)
	if err != nil {
		return err
	}

	fields := []zap.Field{
		zap.Float64("mean", bias.Mean),
		zap.Float64("std_dev", bias.StdDev),
		zap.Int("samples", bias.N),
	}
	if bias.StdDev > stillStdGood {
		log.Warn("gyro was noisy during calibration, was the robot moving?", fields...)
	} else {
		log.Info("gyro bias measured", fields...)
	}
	if err := sensors.SaveBias(cfg.GyroBiasPath, bias); err != nil {
		return err
	}
	log.Info("gyro bias written", zap.String("path", cfg.GyroBiasPath))
	return nil
}
