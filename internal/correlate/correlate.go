// Package correlate matches detection timestamps to the nearest camera
// trajectory sample.
package correlate

import (
	"math"

	"shopscan/internal/trajectory"
)

// Seconds converts a minutes/seconds/milliseconds appearance time into
// floating-point seconds.
func Seconds(min, sec, ms int) float64 {
	return float64(min)*60 + float64(sec) + float64(ms)/1000
}

// Nearest returns the trajectory sample whose timestamp is closest to t.
// The scan is linear and only a strictly smaller difference replaces the
// current best, so on an exact tie the earliest sample in file order wins.
// Returns false when samples is empty.
func Nearest(samples []trajectory.Sample, t float64) (trajectory.Sample, bool) {
	if len(samples) == 0 {
		return trajectory.Sample{}, false
	}
	best := samples[0]
	bestDiff := math.Abs(samples[0].Time - t)
	for _, sample := range samples[1:] {
		diff := math.Abs(sample.Time - t)
		if diff < bestDiff {
			bestDiff = diff
			best = sample
		}
	}
	return best, true
}
