// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package odometry

import (
	"sync"

	"github.com/relabs-tech/swerve_localizer/internal/geometry"
	"github.com/relabs-tech/swerve_localizer/internal/kinematics"
)

// MockModule is a settable ModuleReader.
type MockModule struct {
	mu    sync.Mutex
	state kinematics.WheelState
	err   error
}

// Set replaces the reported wheel state.
func (m *MockModule) Set(w kinematics.WheelState) {
	m.mu.Lock()
	m.state = w
	m.mu.Unlock()
}

// Advance adds distance and sets the steer angle.
func (m *MockModule) Advance(distance, angle float64) {
	m.mu.Lock()
	m.state.DistanceMeters += distance
	m.state.Angle = angle
	m.mu.Unlock()
}

// Fail makes subsequent reads return err; nil clears it.
func (m *MockModule) Fail(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *MockModule) ReadWheel() (kinematics.WheelState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return kinematics.WheelState{}, m.err
	}
	return m.state, nil
}

// MockGyro is a settable GyroReader.
type MockGyro struct {
	mu           sync.Mutex
	heading      float64
	disconnected bool
}

// Set replaces the reported heading.
func (g *MockGyro) Set(heading float64) {
	g.mu.Lock()
	g.heading = heading
	g.mu.Unlock()
}

// SetConnected toggles the connected flag.
func (g *MockGyro) SetConnected(connected bool) {
	g.mu.Lock()
	g.disconnected = !connected
	g.mu.Unlock()
}

func (g *MockGyro) ReadHeading() (float64, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.heading, !g.disconnected
}

// SimulatedChassis drives a set of MockModules and a MockGyro consistently
// with a commanded chassis velocity, so the estimator can be exercised
// without hardware.
type SimulatedChassis struct {
	mu      sync.Mutex
	kin     *kinematics.Swerve
	pose    geometry.Pose2D
	heading float64 // unwrapped gyro heading
	speeds  kinematics.ChassisSpeeds

	Modules []*MockModule
	Gyro    *MockGyro
}

// NewSimulatedChassis creates a simulated chassis at the origin.
func NewSimulatedChassis(offsets []geometry.Translation2D) (*SimulatedChassis, error) {
	kin, err := kinematics.New(offsets)
	if err != nil {
		return nil, err
	}
	mods := make([]*MockModule, len(offsets))
	for i := range mods {
		mods[i] = &MockModule{}
	}
	return &SimulatedChassis{kin: kin, Modules: mods, Gyro: &MockGyro{}}, nil
}

// Readers returns the modules as ModuleReaders for NewSampler.
func (c *SimulatedChassis) Readers() []ModuleReader {
	out := make([]ModuleReader, len(c.Modules))
	for i, m := range c.Modules {
		out[i] = m
	}
	return out
}

// Command sets the robot-relative velocity used by subsequent steps.
func (c *SimulatedChassis) Command(speeds kinematics.ChassisSpeeds) {
	c.mu.Lock()
	c.speeds = speeds
	c.mu.Unlock()
}

// Step advances the simulation by dt seconds.
func (c *SimulatedChassis) Step(dt float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	states := c.kin.ToModuleStates(c.speeds)
	for i, st := range states {
		c.Modules[i].Advance(st.SpeedMetersPerSec*dt, st.Angle)
	}
	tw := geometry.Twist2D{DX: c.speeds.VX * dt, DY: c.speeds.VY * dt, DTheta: c.speeds.Omega * dt}
	c.pose = c.pose.Exp(tw)
	c.heading += tw.DTheta
	c.Gyro.Set(c.heading)
}

// TruePose is the simulated ground-truth pose.
func (c *SimulatedChassis) TruePose() geometry.Pose2D {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pose
}

// Place teleports the chassis to pose without moving the wheels, the way a
// robot is carried onto the field. The gyro keeps counting from its current
// reading.
func (c *SimulatedChassis) Place(pose geometry.Pose2D) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pose = pose
}

// Kinematics returns the drivetrain model the simulation uses.
func (c *SimulatedChassis) Kinematics() *kinematics.Swerve { return c.kin }
