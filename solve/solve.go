/*Package solve turns residual beam error into bounded actuator moves.

The one-mirror, one-imager case is a direct inverse: delta = residual over
sensitivity.  Coupled systems are a linear least-squares problem over the
sensitivity matrix; a truncated SVD drops the poorly determined directions so
a rank-deficient system still moves along the subspace the data supports,
leaving the ambiguous remainder for later iterations once more samples
decouple it.  Every proposed delta is independently clamped to the actuator's
travel and to a per-iteration step ceiling so one noisy derivative cannot
command an unsafe jump.
*/
package solve

import (
	"gonum.org/v1/gonum/mat"

	"github.com/nasa-jpl/beamwalk/estimate"
	"github.com/nasa-jpl/beamwalk/util"
)

// DefaultRankTol is the fraction of the largest singular value below which a
// direction is considered undetermined and excluded from the solution.
const DefaultRankTol = 1e-6

// Motion describes the travel constraints and current position of one
// actuator, everything the solver needs to clamp a proposal.
type Motion struct {
	// Pos is the current position
	Pos float64

	// Limits is the declared travel
	Limits util.Limiter

	// MaxStep is the per-iteration step ceiling
	MaxStep float64
}

// Residual is the error on one reading.  Err is target minus measured value;
// a residual within Tol of zero is already satisfied and commands no motion.
type Residual struct {
	Err float64
	Tol float64
}

// active returns the residual with satisfied errors zeroed
func (r Residual) active() float64 {
	e := r.Err
	if e < 0 {
		e = -e
	}
	if e <= r.Tol {
		return 0
	}
	return r.Err
}

// Deltas computes the actuator moves that should null the residuals, given
// the current sensitivity estimates.  actuators and readings fix the row and
// column ordering.  Actuators with no estimate are returned in missing and
// receive no delta; the controller perturbs those directly.  The returned
// deltas are clamped to each actuator's MaxStep and travel.
func Deltas(actuators, readings []string, residuals map[string]Residual,
	m estimate.Matrix, motions map[string]Motion, rankTol float64) (deltas map[string]float64, missing []string) {
	if rankTol <= 0 {
		rankTol = DefaultRankTol
	}
	missing = m.Missing(actuators)
	known := make([]string, 0, len(actuators))
	for _, a := range actuators {
		if m.HasActuator(a) {
			known = append(known, a)
		}
	}
	deltas = make(map[string]float64, len(known))
	if len(known) == 0 {
		return deltas, missing
	}
	if len(known) == 1 && len(readings) == 1 {
		deltas[known[0]] = direct(known[0], readings[0], residuals, m, motions)
		return deltas, missing
	}
	solved := leastSquares(known, readings, residuals, m, rankTol)
	for i, a := range known {
		deltas[a] = clampDelta(solved[i], motions[a])
	}
	return deltas, missing
}

// direct is the uncoupled single actuator, single reading inverse
func direct(actuator, reading string, residuals map[string]Residual,
	m estimate.Matrix, motions map[string]Motion) float64 {
	r := residuals[reading].active()
	if r == 0 {
		return 0
	}
	s, ok := m.Sensitivity(actuator, reading)
	if !ok || s == 0 {
		return 0
	}
	return clampDelta(r/s, motions[actuator])
}

// leastSquares solves S * delta = residual by truncated SVD.  Unavailable
// matrix entries are taken as zero coupling; singular values below
// rankTol * sigma_max are dropped rather than inverted.
func leastSquares(actuators, readings []string, residuals map[string]Residual,
	m estimate.Matrix, rankTol float64) []float64 {
	nr, na := len(readings), len(actuators)
	a := mat.NewDense(nr, na, nil)
	b := mat.NewVecDense(nr, nil)
	for i, rd := range readings {
		b.SetVec(i, residuals[rd].active())
		for j, act := range actuators {
			if s, ok := m.Sensitivity(act, rd); ok {
				a.Set(i, j, s)
			}
		}
	}
	var svd mat.SVD
	if ok := svd.Factorize(a, mat.SVDThin); !ok {
		return make([]float64, na)
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	sigma := svd.Values(nil)
	// project the residual onto the left singular vectors, invert only the
	// well-determined directions, and map back through the right ones
	out := make([]float64, na)
	if len(sigma) == 0 || sigma[0] == 0 {
		return out
	}
	floor := sigma[0] * rankTol
	for k := range sigma {
		if sigma[k] <= floor {
			continue
		}
		var proj float64
		for i := 0; i < nr; i++ {
			proj += u.At(i, k) * b.AtVec(i)
		}
		scale := proj / sigma[k]
		for j := 0; j < na; j++ {
			out[j] += scale * v.At(j, k)
		}
	}
	return out
}

func clampDelta(delta float64, mo Motion) float64 {
	if mo.MaxStep > 0 {
		delta = util.Clamp(delta, -mo.MaxStep, mo.MaxStep)
	}
	// shrink the step so the target stays inside the travel
	target := mo.Limits.Clamp(mo.Pos + delta)
	return target - mo.Pos
}
