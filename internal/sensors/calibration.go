// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"context"
	"fmt"
	"time"
)

// CollectBias reads n yaw rate samples, one per period, and estimates the
// bias from them. The robot must stay still. Failed reads are skipped and
// count against maxErrors.
func CollectBias(ctx context.Context, src RateSource, n int, period time.Duration, maxErrors int) (Bias, error) {
	raw := make([]float64, 0, n)
	errs := 0

	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for len(raw) < n {
		select {
		case <-ctx.Done():
			return Bias{}, ctx.Err()
		case <-ticker.C:
		}
		v, err := src.GetRotationZ()
		if err != nil {
			errs++
			if errs > maxErrors {
				return Bias{}, fmt.Errorf("gyro calibration: too many read errors: %w", err)
			}
			continue
		}
		raw = append(raw, float64(v))
	}
	return EstimateBias(raw)
}
