package beamline

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// scripted is an Imager that replays a fixed sequence of values
type scripted struct {
	values []float64
	err    error
	calls  int
}

func (s *scripted) Read() (Reading, error) {
	if s.err != nil {
		return Reading{}, s.err
	}
	v := s.values[s.calls%len(s.values)]
	s.calls++
	return Reading{Name: "y1", Value: v}, nil
}

func ExampleCentroid() {
	buf := []uint16{
		0, 0, 0,
		0, 500, 0,
		0, 0, 0}
	x, y, _ := Centroid(buf, 3, 0)
	fmt.Println(x, y)
	// Output: 1 1
}

func TestCentroid(t *testing.T) {
	// single bright pixel at (x=2, y=1) in a 3x3 frame
	buf := make([]uint16, 9)
	buf[1*3+2] = 100
	x, y, err := Centroid(buf, 3, 10)
	if err != nil {
		t.Fatal(err)
	}
	if x != 2 || y != 1 {
		t.Errorf("centroid (%g, %g), expected (2, 1)", x, y)
	}
}

func TestCentroidWeighted(t *testing.T) {
	// 100 counts at x=0 and 300 at x=2, both floor-subtracted, land at x=1.5
	buf := []uint16{110, 0, 310}
	x, _, err := Centroid(buf, 3, 10)
	if err != nil {
		t.Fatal(err)
	}
	if x != 1.5 {
		t.Errorf("centroid x %g, expected 1.5", x)
	}
}

func TestCentroidIgnoresBackground(t *testing.T) {
	// uniform background at the floor plus one real pixel; the background
	// must not drag the centroid toward the frame center
	buf := make([]uint16, 25)
	for i := range buf {
		buf[i] = 10
	}
	buf[2*5+4] = 500
	x, y, err := Centroid(buf, 5, 10)
	if err != nil {
		t.Fatal(err)
	}
	if x != 4 || y != 2 {
		t.Errorf("centroid (%g, %g), expected (4, 2)", x, y)
	}
}

func TestCentroidNoBeam(t *testing.T) {
	buf := make([]uint16, 16)
	_, _, err := Centroid(buf, 4, 0)
	if !errors.Is(err, ErrNoBeam) {
		t.Errorf("expected ErrNoBeam, got %v", err)
	}
}

func TestRotated(t *testing.T) {
	cases := []struct {
		rot    int
		expect float64
	}{
		{0, 3},
		{90, 7},
		{180, 7},
		{270, 3},
		{-90, 3},  // -90 is the same mount as 270
		{450, 7},  // full turn plus 90
	}
	for _, c := range cases {
		ro := Rotated{Imager: &scripted{values: []float64{3}}, Rotation: c.rot, Extent: 10}
		r, err := ro.Read()
		if err != nil {
			t.Fatal(err)
		}
		if r.Value != c.expect {
			t.Errorf("rotation %d: value %g, expected %g", c.rot, r.Value, c.expect)
		}
	}
}

func TestRotatedPropagatesError(t *testing.T) {
	ro := Rotated{Imager: &scripted{err: ErrNoBeam}, Rotation: 90, Extent: 10}
	if _, err := ro.Read(); !errors.Is(err, ErrNoBeam) {
		t.Errorf("expected ErrNoBeam, got %v", err)
	}
}

func TestAveraged(t *testing.T) {
	a := Averaged{Imager: &scripted{values: []float64{1, 2, 3}}, N: 3}
	r, err := a.Read()
	if err != nil {
		t.Fatal(err)
	}
	if r.Value != 2 {
		t.Errorf("averaged value %g, expected 2", r.Value)
	}
}

func TestAveragedBelowTwoPassesThrough(t *testing.T) {
	src := &scripted{values: []float64{5}}
	a := Averaged{Imager: src, N: 1}
	r, err := a.Read()
	if err != nil {
		t.Fatal(err)
	}
	if r.Value != 5 || src.calls != 1 {
		t.Errorf("value %g after %d reads, expected 5 after 1", r.Value, src.calls)
	}
}

func TestAveragedFailsWhole(t *testing.T) {
	a := Averaged{Imager: &scripted{err: ErrNoBeam}, N: 4}
	if _, err := a.Read(); !errors.Is(err, ErrNoBeam) {
		t.Errorf("expected ErrNoBeam, got %v", err)
	}
}

func TestAcquisitionErrorUnwraps(t *testing.T) {
	err := AcquisitionError{Imager: "y1", Cause: ErrNoBeam}
	if !errors.Is(err, ErrNoBeam) {
		t.Error("AcquisitionError did not unwrap to its cause")
	}
	if !strings.Contains(err.Error(), "y1") {
		t.Errorf("message %q missing imager name", err.Error())
	}
}

func TestOutOfBoundsErrorMessage(t *testing.T) {
	err := OutOfBoundsError{Actuator: "m1", Requested: 15, Min: -10, Max: 10}
	msg := err.Error()
	for _, want := range []string{"m1", "15", "-10", "10"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q missing %q", msg, want)
		}
	}
}
