// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package vision

import (
	"math"
	"strings"

	"github.com/relabs-tech/swerve_localizer/internal/geometry"
)

// Candidate is one robot pose hypothesis reconstructed from a single marker
// sighting.
type Candidate struct {
	Camera    int             `json:"camera"`
	MarkerID  int             `json:"marker_id"`
	Pose      geometry.Pose3D `json:"-"`
	Ambiguity float64         `json:"ambiguity"`
}

// Filter decides whether a candidate is plausible enough to be fused.
// Implementations must be pure.
type Filter interface {
	Name() string
	Accept(c Candidate) bool
}

// AcceptAll keeps every candidate.
type AcceptAll struct{}

func (AcceptAll) Name() string          { return "accept-all" }
func (AcceptAll) Accept(Candidate) bool { return true }

// HeightFilter rejects candidates that put the robot off the floor.
type HeightFilter struct {
	MaxAbsZ float64
}

func (HeightFilter) Name() string { return "height" }

func (f HeightFilter) Accept(c Candidate) bool {
	return math.Abs(c.Pose.Translation.Z) <= f.MaxAbsZ
}

// TiltFilter rejects candidates whose roll or pitch exceeds MaxTilt radians;
// a ground robot does not tip over between frames.
type TiltFilter struct {
	MaxTilt float64
}

func (TiltFilter) Name() string { return "tilt" }

func (f TiltFilter) Accept(c Candidate) bool {
	return math.Abs(c.Pose.Rotation.Roll()) <= f.MaxTilt &&
		math.Abs(c.Pose.Rotation.Pitch()) <= f.MaxTilt
}

// AmbiguityFilter rejects detections whose two pose solutions were too close
// to call, as reported by the detector.
type AmbiguityFilter struct {
	MaxAmbiguity float64
}

func (AmbiguityFilter) Name() string { return "ambiguity" }

func (f AmbiguityFilter) Accept(c Candidate) bool {
	return c.Ambiguity >= 0 && c.Ambiguity <= f.MaxAmbiguity
}

// FieldBoundsFilter rejects candidates outside the field rectangle
// [0, Length] × [0, Width], widened by Margin.
type FieldBoundsFilter struct {
	Length, Width, Margin float64
}

func (FieldBoundsFilter) Name() string { return "field-bounds" }

func (f FieldBoundsFilter) Accept(c Candidate) bool {
	p := c.Pose.Translation
	return p.X >= -f.Margin && p.X <= f.Length+f.Margin &&
		p.Y >= -f.Margin && p.Y <= f.Width+f.Margin
}

// FilterFunc adapts a function to Filter.
type FilterFunc struct {
	Label string
	Fn    func(Candidate) bool
}

func (f FilterFunc) Name() string            { return f.Label }
func (f FilterFunc) Accept(c Candidate) bool { return f.Fn(c) }

// AllOf accepts a candidate only if every filter does.
func AllOf(filters ...Filter) Filter {
	return allOf(append([]Filter(nil), filters...))
}

type allOf []Filter

func (a allOf) Name() string {
	if len(a) == 0 {
		return AcceptAll{}.Name()
	}
	names := make([]string, len(a))
	for i, f := range a {
		names[i] = f.Name()
	}
	return strings.Join(names, "+")
}

func (a allOf) Accept(c Candidate) bool {
	for _, f := range a {
		if !f.Accept(c) {
			return false
		}
	}
	return true
}
