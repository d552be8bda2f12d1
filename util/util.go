// Package util contains misc internal utilities.
package util

import "time"

// Clamp restricts x to the range [low, high]
func Clamp(x, low, high float64) float64 {
	if x < low {
		return low
	}
	if x > high {
		return high
	}
	return x
}

// Limiter is a pair of software limits on a motion axis
type Limiter struct {
	// Min is the lower limit
	Min float64

	// Max is the upper limit
	Max float64
}

// Check returns true if the position satisfies the limits
func (l Limiter) Check(pos float64) bool {
	return pos >= l.Min && pos <= l.Max
}

// Clamp restricts the position to the limits
func (l Limiter) Clamp(pos float64) float64 {
	return Clamp(pos, l.Min, l.Max)
}

// SecsToDuration converts a float number of seconds to a time.Duration
func SecsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
