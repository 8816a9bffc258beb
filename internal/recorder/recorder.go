// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package recorder stores pose and vision history of a localizer run in
// SQLite for later replay and tuning.
package recorder

import (
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/relabs-tech/swerve_localizer/internal/geometry"
	"github.com/relabs-tech/swerve_localizer/internal/vision"
)

// schema.sql creates the runs, poses and vision tables.
//
//go:embed schema.sql
var schemaSQL string

// Recorder writes rows tagged with one run ID.
type Recorder struct {
	db    *sql.DB
	runID string
	log   *zap.Logger
}

// PoseRow is one stored pose.
type PoseRow struct {
	Timestamp time.Time
	Estimate  geometry.Pose2D
	Odometry  geometry.Pose2D
	GyroValid bool
}

// VisionRow is one stored vision pass.
type VisionRow struct {
	Timestamp  time.Time
	Filter     string
	Candidates int
	Accepted   int
	Discarded  int
	OK         bool
	Pose       geometry.Pose2D
	StdDev     [3]float64
}

// Open creates or opens the database at path and registers the run.
// ":memory:" keeps everything in memory.
func Open(path, runID, notes string, log *zap.Logger) (*Recorder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recorder database: %w", err)
	}
	// One connection keeps writes ordered and makes :memory: a single database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create recorder schema: %w", err)
	}
	if _, err := db.Exec(`INSERT INTO runs (run_id, started_ns, notes) VALUES (?, ?, ?)`,
		runID, time.Now().UnixNano(), notes); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to register run %s: %w", runID, err)
	}

	log.Info("recorder ready", zap.String("path", path), zap.String("run_id", runID))
	return &Recorder{db: db, runID: runID, log: log}, nil
}

// RunID returns the run the recorder writes under.
func (r *Recorder) RunID() string { return r.runID }

// RecordPose stores the fused and odometry poses at t.
func (r *Recorder) RecordPose(t time.Time, estimate, odom geometry.Pose2D, gyroValid bool) error {
	query := `
		INSERT INTO poses (run_id, timestamp_ns, x, y, heading, odom_x, odom_y, odom_heading, gyro_valid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, r.runID, t.UnixNano(),
		estimate.X, estimate.Y, estimate.Heading,
		odom.X, odom.Y, odom.Heading, gyroValid)
	if err != nil {
		return fmt.Errorf("failed to insert pose: %w", err)
	}
	return nil
}

// RecordVision stores the outcome of one vision pass.
func (r *Recorder) RecordVision(t time.Time, d vision.Diagnostics) error {
	accepted := 0
	for _, a := range d.Accepted {
		if a {
			accepted++
		}
	}

	var x, y, h, sx, sy, sh sql.NullFloat64
	if d.Result != nil {
		p, s := d.Result.Pose, d.Result.StdDev
		x, y, h = valid(p.X), valid(p.Y), valid(p.Heading)
		sx, sy, sh = valid(s[0]), valid(s[1]), valid(s[2])
	}

	query := `
		INSERT INTO vision (run_id, timestamp_ns, filter, candidates, accepted, discarded, ok,
			x, y, heading, std_x, std_y, std_heading)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.Exec(query, r.runID, t.UnixNano(), d.Filter, len(d.Candidates), accepted, d.Discarded,
		d.Result != nil, x, y, h, sx, sy, sh)
	if err != nil {
		return fmt.Errorf("failed to insert vision pass: %w", err)
	}
	return nil
}

func valid(v float64) sql.NullFloat64 { return sql.NullFloat64{Float64: v, Valid: true} }

// Poses returns the poses of a run in time order.
func (r *Recorder) Poses(runID string) ([]PoseRow, error) {
	rows, err := r.db.Query(`
		SELECT timestamp_ns, x, y, heading, odom_x, odom_y, odom_heading, gyro_valid
		FROM poses WHERE run_id = ? ORDER BY timestamp_ns, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query poses: %w", err)
	}
	defer rows.Close()

	var out []PoseRow
	for rows.Next() {
		var ns int64
		var p PoseRow
		if err := rows.Scan(&ns, &p.Estimate.X, &p.Estimate.Y, &p.Estimate.Heading,
			&p.Odometry.X, &p.Odometry.Y, &p.Odometry.Heading, &p.GyroValid); err != nil {
			return nil, fmt.Errorf("failed to scan pose: %w", err)
		}
		p.Timestamp = time.Unix(0, ns)
		out = append(out, p)
	}
	return out, rows.Err()
}

// Vision returns the vision passes of a run in time order.
func (r *Recorder) Vision(runID string) ([]VisionRow, error) {
	rows, err := r.db.Query(`
		SELECT timestamp_ns, filter, candidates, accepted, discarded, ok,
			x, y, heading, std_x, std_y, std_heading
		FROM vision WHERE run_id = ? ORDER BY timestamp_ns, id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query vision: %w", err)
	}
	defer rows.Close()

	var out []VisionRow
	for rows.Next() {
		var ns int64
		var v VisionRow
		var x, y, h, sx, sy, sh sql.NullFloat64
		if err := rows.Scan(&ns, &v.Filter, &v.Candidates, &v.Accepted, &v.Discarded, &v.OK,
			&x, &y, &h, &sx, &sy, &sh); err != nil {
			return nil, fmt.Errorf("failed to scan vision pass: %w", err)
		}
		v.Timestamp = time.Unix(0, ns)
		v.Pose = geometry.Pose2D{X: x.Float64, Y: y.Float64, Heading: h.Float64}
		v.StdDev = [3]float64{sx.Float64, sy.Float64, sh.Float64}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Close releases the database.
func (r *Recorder) Close() error {
	return r.db.Close()
}
