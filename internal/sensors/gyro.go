// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package sensors provides heading sources for the odometry sampler: an
// integrating yaw-rate gyro and an NMEA gyro-compass.
package sensors

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
)

// GyroLSBPerDegS is the MPU9250 sensitivity at its default ±250°/s range.
const GyroLSBPerDegS = 131.0

// maxStep bounds a single integration step; longer gaps mean the sensor
// was not being read and are not integrated.
const maxStep = 100 * time.Millisecond

// RateSource reads the raw yaw rate register.
type RateSource interface {
	GetRotationZ() (int16, error)
}

// Bias is the stationary offset of a rate gyro in raw counts.
type Bias struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	N      int     `json:"samples"`
}

// EstimateBias computes the offset from readings taken while the robot is
// still.
func EstimateBias(raw []float64) (Bias, error) {
	if len(raw) < 2 {
		return Bias{}, errors.New("sensors: need at least two samples to estimate bias")
	}
	mean, std := stat.MeanStdDev(raw, nil)
	return Bias{Mean: mean, StdDev: std, N: len(raw)}, nil
}

// LoadBias reads a bias written by SaveBias.
func LoadBias(path string) (Bias, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Bias{}, fmt.Errorf("failed to read gyro bias: %w", err)
	}
	var b Bias
	if err := json.Unmarshal(data, &b); err != nil {
		return Bias{}, fmt.Errorf("failed to parse gyro bias %s: %w", path, err)
	}
	return b, nil
}

// SaveBias writes b as indented JSON.
func SaveBias(path string, b Bias) error {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write gyro bias: %w", err)
	}
	return nil
}

// Integrator turns yaw rate readings into a heading. The heading is in
// radians, counter-clockwise positive, starting at zero.
type Integrator struct {
	src  RateSource
	bias float64
	// deadband in raw counts; |rate - bias| below it counts as zero.
	deadband float64
	now      func() time.Time
	log      *zap.Logger

	mu        sync.Mutex
	heading   float64
	last      time.Time
	connected bool
}

// IntegratorOption configures an Integrator.
type IntegratorOption func(*Integrator)

// WithBias subtracts a calibrated bias; readings within deadband counts of
// it are treated as zero rotation.
func WithBias(b Bias, deadband float64) IntegratorOption {
	return func(g *Integrator) {
		g.bias = b.Mean
		g.deadband = deadband
	}
}

// WithIntegratorClock replaces time.Now.
func WithIntegratorClock(now func() time.Time) IntegratorOption {
	return func(g *Integrator) { g.now = now }
}

// WithIntegratorLogger sets the logger.
func WithIntegratorLogger(l *zap.Logger) IntegratorOption {
	return func(g *Integrator) { g.log = l }
}

// NewIntegrator wraps a rate source.
func NewIntegrator(src RateSource, opts ...IntegratorOption) *Integrator {
	g := &Integrator{src: src, now: time.Now, log: zap.NewNop(), connected: true}
	for _, o := range opts {
		o(g)
	}
	return g
}

// ReadHeading samples the rate and integrates it over the time since the
// previous call. A read error reports the gyro as disconnected and leaves
// the heading untouched.
func (g *Integrator) ReadHeading() (float64, bool) {
	raw, err := g.src.GetRotationZ()
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if err != nil {
		if g.connected {
			g.log.Warn("gyro read failed", zap.Error(err))
		}
		g.connected = false
		g.last = time.Time{}
		return g.heading, false
	}
	if !g.connected {
		g.log.Info("gyro readings resumed")
	}
	g.connected = true

	if !g.last.IsZero() {
		dt := now.Sub(g.last)
		if dt > 0 && dt <= maxStep {
			g.heading += g.rate(raw) * dt.Seconds()
		}
	}
	g.last = now
	return g.heading, true
}

// rate converts a raw reading to rad/s.
func (g *Integrator) rate(raw int16) float64 {
	counts := float64(raw) - g.bias
	if math.Abs(counts) < g.deadband {
		return 0
	}
	return counts / GyroLSBPerDegS * math.Pi / 180
}

// Reset sets the integrated heading.
func (g *Integrator) Reset(heading float64) {
	g.mu.Lock()
	g.heading = heading
	g.last = time.Time{}
	g.mu.Unlock()
}
