// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package vision

import (
	"gonum.org/v1/gonum/stat"

	"github.com/relabs-tech/swerve_localizer/internal/geometry"
)

// StdDevs are the standard deviations reported for a lone observation.
type StdDevs struct {
	Translation float64 // meters, applied to both x and y
	Rotation    float64 // radians
}

// DefaultSingleObservation is used when only one candidate survives.
var DefaultSingleObservation = StdDevs{Translation: 0.3, Rotation: 0.6}

// fuse combines accepted planar candidates. One candidate is returned as is
// with the fixed deviations; two or more return the componentwise mean and
// sample standard deviation. Headings use the circular mean, and their
// deviation is taken on the wrapped offsets from that mean.
func fuse(poses []geometry.Pose2D, single StdDevs) (geometry.Pose2D, [3]float64, bool) {
	switch len(poses) {
	case 0:
		return geometry.Pose2D{}, [3]float64{}, false
	case 1:
		return poses[0], [3]float64{single.Translation, single.Translation, single.Rotation}, true
	}

	xs := make([]float64, len(poses))
	ys := make([]float64, len(poses))
	hs := make([]float64, len(poses))
	for i, p := range poses {
		xs[i], ys[i], hs[i] = p.X, p.Y, p.Heading
	}

	heading := geometry.NormalizeAngle(stat.CircularMean(hs, nil))
	offsets := make([]float64, len(hs))
	for i, h := range hs {
		offsets[i] = geometry.AngleDiff(h, heading)
	}

	mean := geometry.Pose2D{X: stat.Mean(xs, nil), Y: stat.Mean(ys, nil), Heading: heading}
	std := [3]float64{stat.StdDev(xs, nil), stat.StdDev(ys, nil), stat.StdDev(offsets, nil)}
	return mean, std, true
}
