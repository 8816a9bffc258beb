// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"
)

// OpenMPU9250 initializes an MPU9250 over SPI and runs its factory
// calibration. The robot must be still while this runs.
func OpenMPU9250(spiDev, csPin string, log *zap.Logger) (*mpu9250.MPU9250, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("gyro: periph host init: %w", err)
	}

	cs := gpioreg.ByName(csPin)
	if cs == nil {
		return nil, fmt.Errorf("gyro: CS pin %q not found", csPin)
	}

	tr, err := mpu9250.NewSpiTransport(spiDev, cs)
	if err != nil {
		return nil, fmt.Errorf("gyro: SPI transport (%s): %w", spiDev, err)
	}

	imu, err := mpu9250.New(*tr)
	if err != nil {
		return nil, fmt.Errorf("gyro: device creation: %w", err)
	}

	if err := imu.Init(); err != nil {
		return nil, fmt.Errorf("gyro: initialization: %w", err)
	}

	if _, err := imu.SelfTest(); err != nil {
		log.Warn("gyro self-test failed", zap.Error(err))
	} else {
		log.Info("gyro self-test passed")
	}

	if err := imu.Calibrate(); err != nil {
		log.Warn("gyro calibration failed", zap.Error(err))
	} else {
		log.Info("gyro calibration complete", zap.String("spi", spiDev), zap.String("cs", csPin))
	}
	return imu, nil
}

// NewMPU9250Gyro opens the device and wraps it in an Integrator.
func NewMPU9250Gyro(spiDev, csPin string, bias Bias, log *zap.Logger) (*Integrator, error) {
	imu, err := OpenMPU9250(spiDev, csPin, log)
	if err != nil {
		return nil, err
	}
	deadband := 3 * bias.StdDev
	return NewIntegrator(imu, WithBias(bias, deadband), WithIntegratorLogger(log)), nil
}
