package beamline

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNoBeam is generated when an image contains no usable beam spot
	ErrNoBeam = errors.New("no beam detected in image")

	// ErrShutdown is generated when a walk is cancelled by its caller
	ErrShutdown = errors.New("walk cancelled by caller")
)

// AcquisitionError is generated when an imager cannot produce a valid
// reading: acquisition timed out, the centroid was invalid, or the frame was
// stale.
type AcquisitionError struct {
	Imager string
	Cause  error
}

func (e AcquisitionError) Error() string {
	return fmt.Sprintf("acquisition failed on %s: %v", e.Imager, e.Cause)
}

func (e AcquisitionError) Unwrap() error { return e.Cause }

// OutOfBoundsError is generated when a commanded position violates an
// actuator's declared travel.  The actuator does not move.
type OutOfBoundsError struct {
	Actuator  string
	Requested float64
	Min       float64
	Max       float64
}

func (e OutOfBoundsError) Error() string {
	return fmt.Sprintf("%s: requested position %g outside limits [%g, %g], aborted",
		e.Actuator, e.Requested, e.Min, e.Max)
}

// MoveTimeoutError is generated when a motion does not complete within the
// adapter's configured timeout.  The final position is unknown.
type MoveTimeoutError struct {
	Actuator string
	Timeout  time.Duration
}

func (e MoveTimeoutError) Error() string {
	return fmt.Sprintf("%s: move did not complete within %v", e.Actuator, e.Timeout)
}

// UnsolvableError is generated when no actuator has a usable sensitivity
// estimate and bootstrap perturbation has been exhausted; the system is
// degenerate or fully decoupled from the readings.
type UnsolvableError struct {
	Reason string
}

func (e UnsolvableError) Error() string {
	return fmt.Sprintf("no usable sensitivity estimate: %s", e.Reason)
}
