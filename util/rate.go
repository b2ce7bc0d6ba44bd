package util

import "time"

// Rate computes the per-second rate of n events over dt.
func Rate(n int, dt time.Duration) float64 {
	if dt <= 0 {
		return 0
	}
	return float64(n) / dt.Seconds()
}

// Delta returns curr - prev, or 0 if curr < prev (counter reset by a format or revert).
func Delta(prev, curr uint64) uint64 {
	if curr < prev {
		return 0
	}
	return curr - prev
}
