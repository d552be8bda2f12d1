package estimate_test

import (
	"testing"

	"github.com/nasa-jpl/beamwalk/beamline"
	"github.com/nasa-jpl/beamwalk/estimate"
)

func sample(seq int, pos, read float64) beamline.Sample {
	return beamline.Sample{
		Seq:       seq,
		Positions: map[string]float64{"m1": pos},
		Readings:  map[string]float64{"y1": read},
	}
}

func TestFiniteDifference(t *testing.T) {
	history := []beamline.Sample{
		sample(0, 0, 0),
		sample(1, 1, 2),
	}
	m := estimate.New(history, []string{"m1"}, []string{"y1"}, 1e-6, 0)
	s, ok := m.Sensitivity("m1", "y1")
	if !ok {
		t.Fatal("expected a sensitivity estimate from two well-separated samples")
	}
	if s != 2 {
		t.Errorf("expected sensitivity 2, got %f", s)
	}
}

func TestUsesMostRecentQualifyingPair(t *testing.T) {
	// the older pair has slope 2, the newer pair slope 4; the newer wins
	history := []beamline.Sample{
		sample(0, 0, 0),
		sample(1, 1, 2),
		sample(2, 2, 6),
	}
	m := estimate.New(history, []string{"m1"}, []string{"y1"}, 1e-6, 0)
	s, _ := m.Sensitivity("m1", "y1")
	if s != 4 {
		t.Errorf("expected the most recent qualifying pair (slope 4), got %f", s)
	}
}

func TestNoiseFloorRejectsSmallDisplacement(t *testing.T) {
	history := []beamline.Sample{
		sample(0, 0, 0),
		sample(1, 1e-9, 5), // huge apparent slope from a sub-floor move
	}
	m := estimate.New(history, []string{"m1"}, []string{"y1"}, 1e-6, 0)
	if _, ok := m.Sensitivity("m1", "y1"); ok {
		t.Error("expected no estimate when the only candidate pair is below the noise floor")
	}
	if m.HasActuator("m1") {
		t.Error("expected the actuator to be reported missing")
	}
}

func TestSkipsSubFloorPartner(t *testing.T) {
	// the most recent sample's nearest partner is below the floor, but an
	// older partner qualifies
	history := []beamline.Sample{
		sample(0, 0, 0),
		sample(1, 1, 2),
		sample(2, 1+1e-9, 2),
	}
	m := estimate.New(history, []string{"m1"}, []string{"y1"}, 1e-6, 0)
	s, ok := m.Sensitivity("m1", "y1")
	if !ok {
		t.Fatal("expected the estimator to look past the sub-floor partner")
	}
	if s < 1.9 || s > 2.1 {
		t.Errorf("expected sensitivity near 2, got %f", s)
	}
}

func TestSingleSampleHasNoEstimate(t *testing.T) {
	history := []beamline.Sample{sample(0, 0, 0)}
	m := estimate.New(history, []string{"m1"}, []string{"y1"}, 1e-6, 0)
	if !m.Empty() {
		t.Error("expected an empty matrix from a single sample")
	}
	missing := m.Missing([]string{"m1"})
	if len(missing) != 1 || missing[0] != "m1" {
		t.Errorf("expected m1 missing, got %v", missing)
	}
}

func TestPartialMatrixIsNotAFault(t *testing.T) {
	// m1 perturbed, m2 never moved: m1 estimated, m2 missing
	history := []beamline.Sample{
		{Seq: 0, Positions: map[string]float64{"m1": 0, "m2": 5}, Readings: map[string]float64{"y1": 0}},
		{Seq: 1, Positions: map[string]float64{"m1": 1, "m2": 5}, Readings: map[string]float64{"y1": 3}},
	}
	m := estimate.New(history, []string{"m1", "m2"}, []string{"y1"}, 1e-6, 0)
	if !m.HasActuator("m1") {
		t.Error("expected an estimate for the perturbed actuator")
	}
	if m.HasActuator("m2") {
		t.Error("expected no estimate for the unperturbed actuator")
	}
	if m.Empty() {
		t.Error("expected a partial matrix, not an empty one")
	}
}
