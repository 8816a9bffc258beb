// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package estimator

import (
	"sort"
	"time"

	"github.com/relabs-tech/swerve_localizer/internal/geometry"
)

type timedPose struct {
	t    time.Time
	pose geometry.Pose2D
}

// poseHistory is a time-ordered buffer of odometry poses covering a fixed
// window behind the newest entry.
type poseHistory struct {
	window  time.Duration
	entries []timedPose
}

func (h *poseHistory) len() int { return len(h.entries) }

func (h *poseHistory) oldest() timedPose { return h.entries[0] }

func (h *poseHistory) newest() timedPose { return h.entries[len(h.entries)-1] }

func (h *poseHistory) clear() { h.entries = h.entries[:0] }

// add records pose at t. A timestamp that does not advance overwrites the
// newest entry instead of breaking the ordering.
func (h *poseHistory) add(t time.Time, pose geometry.Pose2D) {
	if n := len(h.entries); n > 0 && !t.After(h.entries[n-1].t) {
		h.entries[n-1].pose = pose
		return
	}
	h.entries = append(h.entries, timedPose{t: t, pose: pose})
	h.prune()
}

// prune drops entries older than the window, always keeping the newest.
func (h *poseHistory) prune() {
	if len(h.entries) < 2 {
		return
	}
	cutoff := h.newest().t.Add(-h.window)
	i := sort.Search(len(h.entries)-1, func(i int) bool {
		return !h.entries[i].t.Before(cutoff)
	})
	if i > 0 {
		h.entries = append(h.entries[:0], h.entries[i:]...)
	}
}

// at interpolates the pose at t. Timestamps outside the buffer clamp to the
// nearest end. The caller guarantees the buffer is not empty.
func (h *poseHistory) at(t time.Time) geometry.Pose2D {
	first, last := h.oldest(), h.newest()
	if !t.After(first.t) {
		return first.pose
	}
	if !t.Before(last.t) {
		return last.pose
	}
	i := sort.Search(len(h.entries), func(i int) bool {
		return h.entries[i].t.After(t)
	})
	lo, hi := h.entries[i-1], h.entries[i]
	frac := float64(t.Sub(lo.t)) / float64(hi.t.Sub(lo.t))
	return lo.pose.Interpolate(hi.pose, frac)
}
