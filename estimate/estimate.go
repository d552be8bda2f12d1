/*Package estimate builds local sensitivity estimates from walk history.

The alignment loop has no optical model; it learns how each reading responds
to each actuator by differencing pairs of samples.  The two most recent
samples in which an actuator's position differs by more than the noise floor
define its finite-difference derivative for every reading present in both.
An actuator with no such pair simply has no estimate yet, which is a normal
condition the controller resolves by perturbing it, not a fault.
*/
package estimate

import "github.com/nasa-jpl/beamwalk/beamline"

// Matrix holds the estimated partial derivative of each reading with respect
// to each actuator.  It is sparse: entries may be absent for actuators that
// have not yet been perturbed beyond the noise floor.
type Matrix struct {
	// sens maps actuator -> reading -> d(reading)/d(actuator)
	sens map[string]map[string]float64
}

// Sensitivity returns the estimated derivative for an (actuator, reading)
// pair and whether an estimate is available.
func (m Matrix) Sensitivity(actuator, reading string) (float64, bool) {
	row, ok := m.sens[actuator]
	if !ok {
		return 0, false
	}
	v, ok := row[reading]
	return v, ok
}

// HasActuator returns true if at least one reading has an estimate for the
// actuator.
func (m Matrix) HasActuator(actuator string) bool {
	return len(m.sens[actuator]) > 0
}

// Missing returns the subset of actuators with no estimate for any reading;
// these must be perturbed before the solver can use them.
func (m Matrix) Missing(actuators []string) []string {
	var out []string
	for _, a := range actuators {
		if !m.HasActuator(a) {
			out = append(out, a)
		}
	}
	return out
}

// Empty returns true if the matrix holds no estimates at all.
func (m Matrix) Empty() bool {
	for _, row := range m.sens {
		if len(row) > 0 {
			return false
		}
	}
	return true
}

// New computes a sensitivity matrix from the sample history.  noiseFloor is
// the minimum actuator displacement for a pair of samples to qualify;
// smaller displacements would amplify sensor noise through the division and
// are rejected, leaving the entry unavailable.  readingFloor plays the same
// role on the reading side: a reading change at or below it is
// indistinguishable from no response, and an actuator whose perturbations
// produce no response has no estimate, not an estimate of zero.  A partial
// result is valid and expected early in a walk.
func New(history []beamline.Sample, actuators, readings []string, noiseFloor, readingFloor float64) Matrix {
	m := Matrix{sens: make(map[string]map[string]float64, len(actuators))}
	for _, act := range actuators {
		i, j, ok := newestPair(history, act, actuators, noiseFloor)
		if !ok {
			continue
		}
		a, b := history[i], history[j]
		dp := a.Positions[act] - b.Positions[act]
		row := make(map[string]float64, len(readings))
		for _, rd := range readings {
			ra, aok := a.Readings[rd]
			rb, bok := b.Readings[rd]
			if !aok || !bok {
				continue
			}
			if abs(ra-rb) <= readingFloor {
				continue
			}
			row[rd] = (ra - rb) / dp
		}
		if len(row) > 0 {
			m.sens[act] = row
		}
	}
	return m
}

// newestPair finds the two most recent samples whose positions for the given
// actuator differ by more than the noise floor.  Pairs in which no other
// actuator moved beyond the floor are preferred: they attribute the reading
// change to this actuator alone, where a pair spanning a coupled group move
// would fold the other actuators' effects into the derivative.  When no
// isolating pair exists the most recent qualifying pair is used anyway; a
// crude estimate still steers the loop, and the secant-style refinement of
// later iterations cleans it up.  Returns indices with i more recent than j.
func newestPair(history []beamline.Sample, actuator string, actuators []string, noiseFloor float64) (i, j int, ok bool) {
	fi, fj := -1, -1
	for i = len(history) - 1; i > 0; i-- {
		pi, present := history[i].Positions[actuator]
		if !present {
			continue
		}
		for j = i - 1; j >= 0; j-- {
			pj, present := history[j].Positions[actuator]
			if !present {
				continue
			}
			if abs(pi-pj) <= noiseFloor {
				continue
			}
			if fi < 0 {
				fi, fj = i, j
			}
			if isolated(history[i], history[j], actuator, actuators, noiseFloor) {
				return i, j, true
			}
		}
	}
	if fi >= 0 {
		return fi, fj, true
	}
	return 0, 0, false
}

// isolated reports whether no actuator other than the given one moved beyond
// the noise floor between the two samples
func isolated(a, b beamline.Sample, actuator string, actuators []string, noiseFloor float64) bool {
	for _, other := range actuators {
		if other == actuator {
			continue
		}
		if abs(a.Positions[other]-b.Positions[other]) > noiseFloor {
			return false
		}
	}
	return true
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
