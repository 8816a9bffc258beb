// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package odometry captures wheel and gyro readings at a rate higher than the
// control loop and hands them over in batches.
//
// Capture and drain meet at one short critical section: capture appends a
// fully built sample, drain copies the queue and clears it. Sensor reads
// happen outside the lock, so a slow drain never stalls capture for longer
// than a slice copy.
package odometry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/relabs-tech/swerve_localizer/internal/kinematics"
)

// DefaultCapacity bounds the queue between two drains.
const DefaultCapacity = 64

// ModuleReader reads one swerve module's current wheel distance and steer
// angle.
type ModuleReader interface {
	ReadWheel() (kinematics.WheelState, error)
}

// GyroReader reports the robot heading in radians and whether the sensor is
// currently connected.
type GyroReader interface {
	ReadHeading() (heading float64, connected bool)
}

// FrameClock is implemented by readers that replay timestamped frames
// measured in another process. Frame reports a sequence number that changes
// with every new frame and the time the frame was measured; ok is false
// before the first frame.
type FrameClock interface {
	Frame() (seq uint64, measured time.Time, ok bool)
}

// Sample is one synchronized snapshot of every module plus the gyro.
type Sample struct {
	Timestamp   time.Time               `json:"timestamp"`
	Wheels      []kinematics.WheelState `json:"wheels"`
	GyroHeading float64                 `json:"gyro_heading"`
	GyroValid   bool                    `json:"gyro_valid"`
}

// Sampler owns the capture side of the hand-off queue.
type Sampler struct {
	modules  []ModuleReader
	gyro     GyroReader
	now      func() time.Time
	frames   FrameClock
	log      *zap.Logger
	capacity int

	mu      sync.Mutex
	queue   []Sample
	lastSeq uint64
	seen    bool

	dropped atomic.Uint64
	errs    atomic.Uint64
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithCapacity sets the maximum number of samples held between drains.
func WithCapacity(n int) Option {
	return func(s *Sampler) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithClock replaces time.Now for sample timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Sampler) { s.now = now }
}

// WithFrameClock stamps samples with the measurement time of the frame the
// module readers serve and captures each frame once. Ticks between frames
// queue nothing.
func WithFrameClock(fc FrameClock) Option {
	return func(s *Sampler) { s.frames = fc }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Sampler) {
		if l != nil {
			s.log = l
		}
	}
}

// NewSampler creates a sampler over the given modules. gyro may be nil, in
// which case every sample is marked as having no gyro reading.
func NewSampler(modules []ModuleReader, gyro GyroReader, opts ...Option) (*Sampler, error) {
	if len(modules) == 0 {
		return nil, errors.New("odometry: sampler needs at least one module")
	}
	s := &Sampler{
		modules:  append([]ModuleReader(nil), modules...),
		gyro:     gyro,
		now:      time.Now,
		log:      zap.NewNop(),
		capacity: DefaultCapacity,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.queue = make([]Sample, 0, s.capacity)
	return s, nil
}

// Capture reads all sensors and queues one sample. If any module read fails
// nothing is queued for this tick. When the queue is full the oldest sample
// is discarded so capture never waits on the consumer.
func (s *Sampler) Capture() error {
	ts := s.now()
	var seq uint64
	if s.frames != nil {
		n, measured, ok := s.frames.Frame()
		if !ok || s.captured(n) {
			return nil
		}
		seq, ts = n, measured
	}

	wheels := make([]kinematics.WheelState, len(s.modules))
	for i, m := range s.modules {
		w, err := m.ReadWheel()
		if err != nil {
			s.errs.Add(1)
			return fmt.Errorf("odometry: module %d read: %w", i, err)
		}
		wheels[i] = w
	}

	sample := Sample{Timestamp: ts, Wheels: wheels}
	if s.gyro != nil {
		sample.GyroHeading, sample.GyroValid = s.gyro.ReadHeading()
	}
	if s.frames != nil {
		// A frame that arrived mid-read is taken whole on the next tick.
		if n, _, _ := s.frames.Frame(); n != seq {
			return nil
		}
	}

	s.mu.Lock()
	if s.frames != nil {
		s.lastSeq, s.seen = seq, true
	}
	if len(s.queue) >= s.capacity {
		copy(s.queue, s.queue[1:])
		s.queue = s.queue[:len(s.queue)-1]
		s.dropped.Add(1)
	}
	s.queue = append(s.queue, sample)
	s.mu.Unlock()
	return nil
}

func (s *Sampler) captured(seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen && s.lastSeq == seq
}

// Lock enters the hand-off critical section. Hold it only around
// DrainLocked and other reads that must be consistent with the drain.
func (s *Sampler) Lock() { s.mu.Lock() }

// Unlock leaves the critical section.
func (s *Sampler) Unlock() { s.mu.Unlock() }

// DrainLocked returns the queued samples oldest-first and clears the queue.
// The caller must hold the lock. The result is never nil.
func (s *Sampler) DrainLocked() []Sample {
	out := make([]Sample, len(s.queue))
	copy(out, s.queue)
	clear(s.queue)
	s.queue = s.queue[:0]
	return out
}

// Drain is DrainLocked wrapped in Lock/Unlock.
func (s *Sampler) Drain() []Sample {
	s.Lock()
	defer s.Unlock()
	return s.DrainLocked()
}

// Pending is the number of samples waiting to be drained.
func (s *Sampler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Dropped counts samples discarded because the queue was full.
func (s *Sampler) Dropped() uint64 { return s.dropped.Load() }

// Errors counts ticks skipped because a module read failed.
func (s *Sampler) Errors() uint64 { return s.errs.Load() }

// Run captures at frequencyHz until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context, frequencyHz float64) error {
	if frequencyHz <= 0 {
		return fmt.Errorf("odometry: invalid sampling frequency %v", frequencyHz)
	}
	period := time.Duration(float64(time.Second) / frequencyHz)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	s.log.Info("odometry sampler started",
		zap.Int("modules", len(s.modules)),
		zap.Duration("period", period),
		zap.Int("capacity", s.capacity))

	for {
		select {
		case <-ctx.Done():
			s.log.Info("odometry sampler stopped",
				zap.Uint64("dropped", s.Dropped()),
				zap.Uint64("errors", s.Errors()))
			return nil
		case <-ticker.C:
			if err := s.Capture(); err != nil {
				s.log.Debug("odometry capture skipped", zap.Error(err))
			}
		}
	}
}
