/*Package sim provides a simulated beamline for tests and offline use.

Mirrors and imagers satisfy the beamline adapter contracts.  An imager's
value is a linear combination of the mirror positions plus an offset and
optional noise, which is exactly the local model the walk estimates, so the
simulator is both a test fixture and a sanity check on the loop's
convergence.  Both device types support fault injection so error paths can be
exercised without hardware.
*/
package sim

import (
	"sync"

	"github.com/nasa-jpl/beamwalk/beamline"
)

// Mirror is a simulated steerable mirror axis
type Mirror struct {
	sync.Mutex

	// Name identifies the mirror
	Name string

	// Min and Max are the enforced travel limits
	Min float64
	Max float64

	pos float64

	// FailNext, when non-nil, is returned by the next MoveAbs and cleared
	FailNext error
}

// NewMirror returns a mirror at the given starting position
func NewMirror(name string, pos, min, max float64) *Mirror {
	return &Mirror{Name: name, Min: min, Max: max, pos: pos}
}

// GetPos gets the current position
func (m *Mirror) GetPos() (float64, error) {
	m.Lock()
	defer m.Unlock()
	return m.pos, nil
}

// MoveAbs moves to an absolute position, rejecting targets outside the
// travel limits
func (m *Mirror) MoveAbs(pos float64) error {
	m.Lock()
	defer m.Unlock()
	if m.FailNext != nil {
		err := m.FailNext
		m.FailNext = nil
		return err
	}
	if pos < m.Min || pos > m.Max {
		return beamline.OutOfBoundsError{Actuator: m.Name, Requested: pos, Min: m.Min, Max: m.Max}
	}
	m.pos = pos
	return nil
}

// Imager is a simulated imaging diagnostic.  Its reading is
// Offset + sum over mirrors of Coupling * position, plus Noise() if set.
type Imager struct {
	// Name identifies the reading this imager produces
	Name string

	// Offset is the reading when every coupled mirror sits at zero
	Offset float64

	// Couplings maps each upstream mirror to its sensitivity
	Couplings map[*Mirror]float64

	// Noise, when non-nil, is added to every reading
	Noise func() float64

	// FailNext, when non-nil, is returned by the next Read and cleared
	FailNext error
}

// Read produces the current simulated centroid
func (im *Imager) Read() (beamline.Reading, error) {
	if im.FailNext != nil {
		err := im.FailNext
		im.FailNext = nil
		return beamline.Reading{}, beamline.AcquisitionError{Imager: im.Name, Cause: err}
	}
	v := im.Offset
	for m, c := range im.Couplings {
		p, err := m.GetPos()
		if err != nil {
			return beamline.Reading{}, err
		}
		v += c * p
	}
	if im.Noise != nil {
		v += im.Noise()
	}
	return beamline.Reading{Name: im.Name, Value: v}, nil
}
