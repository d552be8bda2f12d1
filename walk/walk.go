/*Package walk implements the iterative beam alignment procedure.

A walk owns a set of mirror actuators and imager readings with goals, and
drives the measured beam centroids to their targets by alternating measure,
estimate, solve, move.  It is a strictly sequential loop: each iteration's
readings must reflect the completed moves of the previous iteration or the
finite-difference sensitivity estimates are meaningless, so there is no
concurrency inside a walk and the caller must not share devices between
concurrent walks.

The procedure is a small state machine:

	Bootstrap -> Iterate -> Converged | Diverged | Stalled | Aborted

Bootstrap perturbs any actuator that has no sensitivity estimate yet.
Iterate measures, solves and moves until every residual is within tolerance
(Converged), the residual grows for too many consecutive iterations
(Diverged), progress dries up or the iteration budget runs out (Stalled), or
a device fault or cancellation ends the walk (Aborted).  Terminal states are
final; retrying is the caller's decision.
*/
package walk

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/nasa-jpl/beamwalk/beamline"
	"github.com/nasa-jpl/beamwalk/estimate"
	"github.com/nasa-jpl/beamwalk/solve"
	"github.com/nasa-jpl/beamwalk/util"
)

// Phase is the state of an alignment procedure
type Phase int

// phases of a walk; Converged through Aborted are terminal
const (
	Bootstrap Phase = iota
	Iterate
	Converged
	Diverged
	Stalled
	Aborted
)

func (p Phase) String() string {
	switch p {
	case Bootstrap:
		return "BOOTSTRAP"
	case Iterate:
		return "ITERATE"
	case Converged:
		return "CONVERGED"
	case Diverged:
		return "DIVERGED"
	case Stalled:
		return "STALLED"
	case Aborted:
		return "ABORTED"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// Terminal returns true if the phase ends a walk
func (p Phase) Terminal() bool { return p >= Converged }

// MarshalJSON encodes the phase as its string form
func (p Phase) MarshalJSON() ([]byte, error) {
	return []byte(`"` + p.String() + `"`), nil
}

// ActuatorConfig declares one actuator participating in a walk
type ActuatorConfig struct {
	// Name identifies the actuator, e.g. "m1h-pitch"
	Name string `yaml:"Name" json:"name"`

	// Min and Max are the travel limits
	Min float64 `yaml:"Min" json:"min"`
	Max float64 `yaml:"Max" json:"max"`

	// MaxStep is the per-iteration step ceiling
	MaxStep float64 `yaml:"MaxStep" json:"maxStep"`
}

// GoalConfig declares one reading participating in a walk.  Target and
// Tolerance are fixed for the duration of the walk.
type GoalConfig struct {
	// Name identifies the reading, e.g. "dg3-x"
	Name string `yaml:"Name" json:"name"`

	// Target is the goal centroid value
	Target float64 `yaml:"Target" json:"target"`

	// Tolerance is the half-width of the acceptance band around Target
	Tolerance float64 `yaml:"Tolerance" json:"tolerance"`
}

// Config holds the per-invocation parameters of a walk
type Config struct {
	Actuators []ActuatorConfig `yaml:"Actuators" json:"actuators"`
	Goals     []GoalConfig     `yaml:"Goals" json:"goals"`

	// NoiseFloor is the minimum actuator displacement for a sample pair to
	// produce a derivative estimate
	NoiseFloor float64 `yaml:"NoiseFloor" json:"noiseFloor"`

	// ReadingFloor is the minimum reading change for a derivative estimate
	// to be usable; an actuator that produces no measurable response has no
	// estimate, not an estimate of zero
	ReadingFloor float64 `yaml:"ReadingFloor" json:"readingFloor"`

	// BootstrapStep is the perturbation applied to actuators lacking an
	// estimate, directed away from the nearer travel limit
	BootstrapStep float64 `yaml:"BootstrapStep" json:"bootstrapStep"`

	// BootstrapCap is the number of perturbation passes allowed before the
	// walk aborts as unsolvable
	BootstrapCap int `yaml:"BootstrapCap" json:"bootstrapCap"`

	// DivergenceWindow is the number of consecutive residual increases that
	// ends the walk as Diverged
	DivergenceWindow int `yaml:"DivergenceWindow" json:"divergenceWindow"`

	// StallWindow is the number of consecutive below-StallMin commanded
	// steps that ends the walk as Stalled
	StallWindow int `yaml:"StallWindow" json:"stallWindow"`

	// StallMin is the commanded step magnitude below which an iteration
	// counts toward the stall window
	StallMin float64 `yaml:"StallMin" json:"stallMin"`

	// MaxIterations is the iteration budget; exceeding it ends the walk as
	// Stalled
	MaxIterations int `yaml:"MaxIterations" json:"maxIterations"`

	// RankTol is the singular value cutoff fraction for the coupled solve;
	// zero selects solve.DefaultRankTol
	RankTol float64 `yaml:"RankTol" json:"rankTol"`

	// Interval paces the loop; zero runs iterations back to back
	Interval time.Duration `yaml:"Interval" json:"interval"`

	// Seed optionally carries samples from a previous walk so known
	// sensitivities survive a re-invocation
	Seed []beamline.Sample `yaml:"-" json:"-"`

	// Log receives progress lines when non-nil
	Log *log.Logger `yaml:"-" json:"-"`
}

// Defaults fills unset numeric parameters with workable values
func (c *Config) Defaults() {
	if c.NoiseFloor == 0 {
		c.NoiseFloor = 1e-6
	}
	if c.BootstrapStep == 0 {
		c.BootstrapStep = 1e-3
	}
	if c.BootstrapCap == 0 {
		c.BootstrapCap = 3
	}
	if c.DivergenceWindow == 0 {
		c.DivergenceWindow = 3
	}
	if c.StallWindow == 0 {
		c.StallWindow = 5
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = 100
	}
}

// Result is what a finished walk hands back to its caller
type Result struct {
	// Phase is the terminal state
	Phase Phase `json:"phase"`

	// Reason is a human-readable account of why the walk ended
	Reason string `json:"reason"`

	// Err is non-nil only when Phase is Aborted
	Err error `json:"-"`

	// Iterations is the number of completed Iterate passes
	Iterations int `json:"iterations"`

	// Residuals holds the final target-minus-measured error per reading
	Residuals map[string]float64 `json:"residuals"`

	// History is the full ordered sample record of the walk
	History []beamline.Sample `json:"history"`
}

// Controller runs walks over a fixed set of devices.  It is single-owner:
// one walk at a time, and the devices must not be shared with another
// controller while a walk is in flight.
type Controller struct {
	cfg       Config
	actuators map[string]beamline.Actuator
	imagers   map[string]beamline.Imager

	history []beamline.Sample
	phase   int32 // Phase, read concurrently by Phase()
	iter    int
	pacer   *rate.Limiter

	// bootstrap budget consumed, including mid-walk re-perturbations
	bootstraps int

	// divergence bookkeeping
	initialTotal float64
	prevTotal    float64
	divCount     int

	// stall bookkeeping
	stallCount int
}

// New validates the configuration against the supplied devices and returns a
// controller ready to Walk.  Every configured actuator and goal must have a
// matching device.
func New(cfg Config, actuators map[string]beamline.Actuator, imagers map[string]beamline.Imager) (*Controller, error) {
	cfg.Defaults()
	if len(cfg.Actuators) == 0 {
		return nil, errors.New("walk: no actuators configured")
	}
	if len(cfg.Goals) == 0 {
		return nil, errors.New("walk: no goals configured")
	}
	for _, a := range cfg.Actuators {
		if _, ok := actuators[a.Name]; !ok {
			return nil, fmt.Errorf("walk: no actuator device for %q", a.Name)
		}
		if a.Min >= a.Max {
			return nil, fmt.Errorf("walk: actuator %q has empty travel [%g, %g]", a.Name, a.Min, a.Max)
		}
	}
	for _, g := range cfg.Goals {
		if _, ok := imagers[g.Name]; !ok {
			return nil, fmt.Errorf("walk: no imager device for %q", g.Name)
		}
		if g.Tolerance <= 0 {
			return nil, fmt.Errorf("walk: goal %q has non-positive tolerance", g.Name)
		}
	}
	c := &Controller{cfg: cfg, actuators: actuators, imagers: imagers}
	if cfg.Interval > 0 {
		c.pacer = rate.NewLimiter(rate.Every(cfg.Interval), 1)
	}
	return c, nil
}

// Phase returns the current phase.  It may be called from any goroutine
// while a walk is in flight.
func (c *Controller) Phase() Phase { return Phase(atomic.LoadInt32(&c.phase)) }

func (c *Controller) setPhase(p Phase) { atomic.StoreInt32(&c.phase, int32(p)) }

// Walk runs the alignment procedure to a terminal state.  Cancellation of
// ctx is honored between iterations; an in-flight read or move completes or
// times out first.
func (c *Controller) Walk(ctx context.Context) Result {
	c.history = append([]beamline.Sample{}, c.cfg.Seed...)
	c.setPhase(Bootstrap)
	c.iter = 0
	c.bootstraps = 0
	c.divCount = 0
	c.stallCount = 0
	c.initialTotal = -1
	c.prevTotal = -1

	if res, done := c.bootstrap(ctx); done {
		return res
	}
	c.setPhase(Iterate)
	for {
		res, done := c.iterate(ctx)
		if done {
			return res
		}
	}
}

// bootstrap perturbs actuators until every one has a sensitivity estimate,
// or the attempt budget runs out
func (c *Controller) bootstrap(ctx context.Context) (Result, bool) {
	// a baseline sample so the first perturbation has a partner
	if len(c.history) == 0 {
		if _, err := c.measure(); err != nil {
			return c.abort(err), true
		}
	}
	for {
		if err := ctx.Err(); err != nil {
			return c.abort(beamline.ErrShutdown), true
		}
		m := c.matrix()
		missing := m.Missing(c.actuatorNames())
		if len(missing) == 0 {
			return Result{}, false
		}
		if c.bootstraps >= c.cfg.BootstrapCap {
			return c.abort(beamline.UnsolvableError{
				Reason: fmt.Sprintf("bootstrap cap %d reached with no estimate for %v", c.cfg.BootstrapCap, missing),
			}), true
		}
		c.bootstraps++
		c.logf("bootstrap pass %d, perturbing %v", c.bootstraps, missing)
		for _, name := range missing {
			if err := c.perturb(name); err != nil {
				return c.abort(err), true
			}
			if _, err := c.measure(); err != nil {
				return c.abort(err), true
			}
		}
	}
}

// perturb nudges one actuator by the bootstrap step, directed away from the
// nearer travel limit so the move can never leave the declared bounds
func (c *Controller) perturb(name string) error {
	acfg := c.actuatorConfig(name)
	act := c.actuators[name]
	pos, err := act.GetPos()
	if err != nil {
		return err
	}
	step := c.cfg.BootstrapStep
	if pos-acfg.Min > acfg.Max-pos {
		step = -step
	}
	target := util.Limiter{Min: acfg.Min, Max: acfg.Max}.Clamp(pos + step)
	return act.MoveAbs(target)
}

// iterate runs one measure-solve-move pass, returning a Result when the walk
// reaches a terminal state
func (c *Controller) iterate(ctx context.Context) (Result, bool) {
	if err := ctx.Err(); err != nil {
		return c.abort(beamline.ErrShutdown), true
	}
	if c.pacer != nil {
		if err := c.pacer.Wait(ctx); err != nil {
			return c.abort(beamline.ErrShutdown), true
		}
	}
	sample, err := c.measure()
	if err != nil {
		return c.abort(err), true
	}
	residuals := c.residuals(sample)
	if c.satisfied(residuals) {
		return c.finish(Converged, fmt.Sprintf("converged in %d iterations", c.iter), residuals), true
	}
	if res, done := c.checkDivergence(residuals); done {
		return res, true
	}

	m := c.matrix()
	if m.Empty() {
		// estimates evaporated mid-walk; spend bootstrap budget to recover
		if c.bootstraps >= c.cfg.BootstrapCap {
			return c.abort(beamline.UnsolvableError{
				Reason: fmt.Sprintf("bootstrap cap %d exhausted during iteration %d", c.cfg.BootstrapCap, c.iter),
			}), true
		}
	}
	deltas, missing := solve.Deltas(c.actuatorNames(), c.readingNames(), c.solveResiduals(residuals), m, c.motions(sample), c.cfg.RankTol)
	// actuators the solver can't place yet get a bootstrap perturbation
	// instead, consuming the same budget as the bootstrap phase
	if len(missing) > 0 && c.bootstraps < c.cfg.BootstrapCap {
		c.bootstraps++
		for _, name := range missing {
			if err := c.perturb(name); err != nil {
				return c.abort(err), true
			}
		}
	}

	if res, done := c.checkStall(deltas); done {
		return res, true
	}
	for _, a := range c.cfg.Actuators {
		d := deltas[a.Name]
		if d == 0 {
			continue
		}
		if err := c.moveActuator(a, sample.Positions[a.Name]+d); err != nil {
			return c.abort(err), true
		}
	}
	c.iter++
	c.logf("iteration %d, total residual %g", c.iter, total(residuals))
	if c.iter >= c.cfg.MaxIterations {
		return c.finish(Stalled, fmt.Sprintf("iteration cap %d reached", c.cfg.MaxIterations), residuals), true
	}
	return Result{}, false
}

// moveActuator issues a bounded move; a target outside the declared travel
// is a hard fault, not a clamp, though the solver should never produce one
func (c *Controller) moveActuator(a ActuatorConfig, target float64) error {
	lim := util.Limiter{Min: a.Min, Max: a.Max}
	if !lim.Check(target) {
		return beamline.OutOfBoundsError{Actuator: a.Name, Requested: target, Min: a.Min, Max: a.Max}
	}
	return c.actuators[a.Name].MoveAbs(target)
}

// measure reads every actuator position and every imager, appending one
// sample to the history
func (c *Controller) measure() (beamline.Sample, error) {
	s := beamline.Sample{
		Seq:       len(c.history),
		Time:      time.Now(),
		Positions: make(map[string]float64, len(c.cfg.Actuators)),
		Readings:  make(map[string]float64, len(c.cfg.Goals)),
	}
	for _, a := range c.cfg.Actuators {
		pos, err := c.actuators[a.Name].GetPos()
		if err != nil {
			return s, err
		}
		s.Positions[a.Name] = pos
	}
	for _, g := range c.cfg.Goals {
		r, err := c.imagers[g.Name].Read()
		if err != nil {
			var acq beamline.AcquisitionError
			if errors.As(err, &acq) {
				return s, err
			}
			return s, beamline.AcquisitionError{Imager: g.Name, Cause: err}
		}
		s.Readings[g.Name] = r.Value
	}
	c.history = append(c.history, s)
	return s, nil
}

func (c *Controller) residuals(s beamline.Sample) map[string]float64 {
	out := make(map[string]float64, len(c.cfg.Goals))
	for _, g := range c.cfg.Goals {
		out[g.Name] = g.Target - s.Readings[g.Name]
	}
	return out
}

func (c *Controller) satisfied(residuals map[string]float64) bool {
	for _, g := range c.cfg.Goals {
		if math.Abs(residuals[g.Name]) > g.Tolerance {
			return false
		}
	}
	return true
}

// checkDivergence ends the walk when the total residual strictly increases
// for DivergenceWindow consecutive iterations beyond its initial magnitude.
// Any non-increasing iteration resets the count.
func (c *Controller) checkDivergence(residuals map[string]float64) (Result, bool) {
	t := total(residuals)
	if c.initialTotal < 0 {
		c.initialTotal = t
	}
	if c.prevTotal >= 0 && t > c.prevTotal {
		c.divCount++
	} else {
		c.divCount = 0
	}
	c.prevTotal = t
	if c.divCount >= c.cfg.DivergenceWindow && t > c.initialTotal {
		return c.finish(Diverged,
			fmt.Sprintf("total residual increased %d consecutive iterations, %g vs initial %g", c.divCount, t, c.initialTotal),
			residuals), true
	}
	return Result{}, false
}

// checkStall ends the walk when the commanded step stays below StallMin for
// StallWindow consecutive iterations without reaching tolerance
func (c *Controller) checkStall(deltas map[string]float64) (Result, bool) {
	if c.cfg.StallMin <= 0 {
		return Result{}, false
	}
	var biggest float64
	for _, d := range deltas {
		if math.Abs(d) > biggest {
			biggest = math.Abs(d)
		}
	}
	if biggest < c.cfg.StallMin {
		c.stallCount++
	} else {
		c.stallCount = 0
	}
	if c.stallCount >= c.cfg.StallWindow {
		return c.finish(Stalled,
			fmt.Sprintf("commanded step below %g for %d consecutive iterations", c.cfg.StallMin, c.stallCount),
			c.lastResiduals()), true
	}
	return Result{}, false
}

func (c *Controller) matrix() estimate.Matrix {
	return estimate.New(c.history, c.actuatorNames(), c.readingNames(), c.cfg.NoiseFloor, c.cfg.ReadingFloor)
}

func (c *Controller) solveResiduals(residuals map[string]float64) map[string]solve.Residual {
	out := make(map[string]solve.Residual, len(residuals))
	for _, g := range c.cfg.Goals {
		out[g.Name] = solve.Residual{Err: residuals[g.Name], Tol: g.Tolerance}
	}
	return out
}

func (c *Controller) motions(s beamline.Sample) map[string]solve.Motion {
	out := make(map[string]solve.Motion, len(c.cfg.Actuators))
	for _, a := range c.cfg.Actuators {
		out[a.Name] = solve.Motion{
			Pos:     s.Positions[a.Name],
			Limits:  util.Limiter{Min: a.Min, Max: a.Max},
			MaxStep: a.MaxStep,
		}
	}
	return out
}

func (c *Controller) actuatorNames() []string {
	out := make([]string, len(c.cfg.Actuators))
	for i, a := range c.cfg.Actuators {
		out[i] = a.Name
	}
	return out
}

func (c *Controller) readingNames() []string {
	out := make([]string, len(c.cfg.Goals))
	for i, g := range c.cfg.Goals {
		out[i] = g.Name
	}
	return out
}

func (c *Controller) actuatorConfig(name string) ActuatorConfig {
	for _, a := range c.cfg.Actuators {
		if a.Name == name {
			return a
		}
	}
	return ActuatorConfig{}
}

func (c *Controller) lastResiduals() map[string]float64 {
	if len(c.history) == 0 {
		return map[string]float64{}
	}
	return c.residuals(c.history[len(c.history)-1])
}

func (c *Controller) finish(p Phase, reason string, residuals map[string]float64) Result {
	c.setPhase(p)
	c.logf("%s: %s", p, reason)
	return Result{
		Phase:      p,
		Reason:     reason,
		Iterations: c.iter,
		Residuals:  residuals,
		History:    c.history,
	}
}

func (c *Controller) abort(err error) Result {
	res := c.finish(Aborted, err.Error(), c.lastResiduals())
	res.Err = err
	return res
}

func (c *Controller) logf(format string, args ...interface{}) {
	if c.cfg.Log != nil {
		c.cfg.Log.Printf(format, args...)
	}
}

// total is the Euclidean norm of the residual vector
func total(residuals map[string]float64) float64 {
	var sum float64
	for _, r := range residuals {
		sum += r * r
	}
	return math.Sqrt(sum)
}
