// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package telemetry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/relabs-tech/swerve_localizer/internal/kinematics"
	"github.com/relabs-tech/swerve_localizer/internal/odometry"
)

// ErrNoWheelData is returned by a wheel reader before the first frame.
var ErrNoWheelData = errors.New("telemetry: no wheel frame received yet")

// WheelFeed holds the latest WheelFrame and exposes each module as an
// odometry.ModuleReader. It is also an odometry.GyroReader for the heading
// carried in the frames and an odometry.FrameClock, so samples carry the
// robot's measurement time rather than the time they were read here.
type WheelFeed struct {
	mu        sync.RWMutex
	count     int
	now       func() time.Time
	seq       uint64
	measured  time.Time
	wheels    []kinematics.WheelState
	heading   float64
	gyroValid bool
}

// NewWheelFeed expects frames with exactly count wheels.
func NewWheelFeed(count int) *WheelFeed {
	return &WheelFeed{count: count, now: time.Now}
}

// Update stores a frame. Frames with the wrong wheel count are rejected. A
// frame without a timestamp is stamped with its arrival time.
func (f *WheelFeed) Update(frame WheelFrame) error {
	if len(frame.Wheels) != f.count {
		return fmt.Errorf("%w: frame has %d wheels, want %d", kinematics.ErrModuleCount, len(frame.Wheels), f.count)
	}
	wheels := append([]kinematics.WheelState(nil), frame.Wheels...)
	measured := frame.Timestamp
	if measured.IsZero() {
		measured = f.now()
	}
	f.mu.Lock()
	f.seq++
	f.measured = measured
	f.wheels = wheels
	if frame.GyroHeading != nil {
		f.heading = *frame.GyroHeading
		f.gyroValid = true
	} else {
		f.gyroValid = false
	}
	f.mu.Unlock()
	return nil
}

// Frame returns the sequence number and measurement time of the latest
// frame.
func (f *WheelFeed) Frame() (uint64, time.Time, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.seq, f.measured, f.seq > 0
}

// ReadHeading returns the heading of the latest frame. A frame without one
// marks the gyro as disconnected and keeps the previous value.
func (f *WheelFeed) ReadHeading() (float64, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.heading, f.gyroValid
}

// Snapshot returns the latest wheels, or false before the first frame.
func (f *WheelFeed) Snapshot() ([]kinematics.WheelState, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.wheels == nil {
		return nil, false
	}
	return append([]kinematics.WheelState(nil), f.wheels...), true
}

// Readers returns one ModuleReader per wheel.
func (f *WheelFeed) Readers() []odometry.ModuleReader {
	out := make([]odometry.ModuleReader, f.count)
	for i := range out {
		out[i] = wheelReader{feed: f, index: i}
	}
	return out
}

type wheelReader struct {
	feed  *WheelFeed
	index int
}

func (r wheelReader) ReadWheel() (kinematics.WheelState, error) {
	r.feed.mu.RLock()
	defer r.feed.mu.RUnlock()
	if r.feed.wheels == nil {
		return kinematics.WheelState{}, ErrNoWheelData
	}
	return r.feed.wheels[r.index], nil
}
