package sim

import "github.com/nasa-jpl/beamwalk/beamline"

// FrameImager is an Imager that routes its value through a synthetic camera
// frame and the centroid reduction instead of reporting it directly.  It
// renders a square spot at the model's predicted position and reduces the
// frame the same way a hardware binding would, so the image processing path
// gets exercised by the walk tests.
type FrameImager struct {
	Imager

	// Width and Height are the frame dimensions in pixels
	Width  int
	Height int

	// Floor is the background level passed to the centroid reduction
	Floor uint16
}

// Frame renders the current frame.  The spot is 3x3 pixels of full scale on
// a background of Floor; a model value outside the frame leaves it empty,
// mimicking the beam walking off the imager.
func (fi *FrameImager) Frame() ([]uint16, error) {
	r, err := fi.Imager.Read()
	if err != nil {
		return nil, err
	}
	buf := make([]uint16, fi.Width*fi.Height)
	for i := range buf {
		buf[i] = fi.Floor
	}
	cx := int(r.Value)
	cy := fi.Height / 2
	for i := cy - 1; i <= cy+1; i++ {
		for j := cx - 1; j <= cx+1; j++ {
			if i < 0 || i >= fi.Height || j < 0 || j >= fi.Width {
				continue
			}
			buf[i*fi.Width+j] = 65535
		}
	}
	return buf, nil
}

// Read renders a frame and reduces it to an x centroid
func (fi *FrameImager) Read() (beamline.Reading, error) {
	buf, err := fi.Frame()
	if err != nil {
		return beamline.Reading{}, err
	}
	x, _, err := beamline.Centroid(buf, fi.Width, fi.Floor)
	if err != nil {
		return beamline.Reading{}, beamline.AcquisitionError{Imager: fi.Name, Cause: err}
	}
	return beamline.Reading{Name: fi.Name, Value: x}, nil
}
