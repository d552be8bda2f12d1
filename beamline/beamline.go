/*Package beamline defines the data model and device contracts used by the
automated alignment loop.

Two device capabilities matter to alignment: something that produces a beam
position measurement (an Imager) and something that steers the beam (an
Actuator).  Anything satisfying these interfaces can participate in a walk;
the concrete binding (simulator, HTTP client to a hardware server, etc) is a
detail the loop never sees.
*/
package beamline

import "time"

// Imager produces beam position readings from an imaging diagnostic.
type Imager interface {
	// Read acquires an image, reduces it to a centroid along the
	// configured axis, and returns the result.  It blocks for at most the
	// implementation's configured timeout.  A stale, saturated, or absent
	// beam yields an AcquisitionError, never a junk value.
	Read() (Reading, error)
}

// Actuator steers the beam, e.g. a picomotor on a mirror pitch axis.
type Actuator interface {
	// GetPos gets the current position of the axis
	GetPos() (float64, error)

	// MoveAbs moves the axis to an absolute position, blocking until the
	// motion completes or the implementation's timeout elapses.  Requests
	// outside the declared travel are rejected with an OutOfBoundsError,
	// not clamped.
	MoveAbs(float64) error
}

// Reading is one reduced measurement from an imager.
type Reading struct {
	// Name identifies the measurement channel, e.g. "dg3-x"
	Name string

	// Value is the beam centroid in the imager's units (typically pixels)
	Value float64
}

// Sample is a snapshot of the beamline taken between moves: every actuator
// position and every reading at one instant.  Samples are immutable once
// recorded; the walk history is an append-only sequence of them.
type Sample struct {
	// Seq is the 0-based index of the sample within one walk
	Seq int

	// Time is when the sample was recorded
	Time time.Time

	// Positions maps actuator name to position
	Positions map[string]float64

	// Readings maps reading name to value
	Readings map[string]float64
}

// Clone returns a deep copy of the sample.  Estimators index into history
// freely, so samples must never share maps.
func (s Sample) Clone() Sample {
	out := Sample{Seq: s.Seq, Time: s.Time,
		Positions: make(map[string]float64, len(s.Positions)),
		Readings:  make(map[string]float64, len(s.Readings))}
	for k, v := range s.Positions {
		out.Positions[k] = v
	}
	for k, v := range s.Readings {
		out.Readings[k] = v
	}
	return out
}
