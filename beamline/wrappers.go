package beamline

// Rotated adapts an Imager whose camera is mounted at a multiple of 90
// degrees to the beamline coordinate frame.  For 90 and 180 degree mounts the
// reported axis runs backwards, so the true value is Extent minus the raw
// value, where Extent is the sensor size along the reported axis in the same
// units as the reading.  0 and 270 degree mounts report correctly and pass
// through.
type Rotated struct {
	Imager

	// Rotation is the camera mounting angle in degrees
	Rotation int

	// Extent is the sensor extent along the reported axis
	Extent float64
}

func (ro Rotated) Read() (Reading, error) {
	r, err := ro.Imager.Read()
	if err != nil {
		return r, err
	}
	rot := ro.Rotation % 360
	if rot < 0 {
		rot += 360
	}
	if rot == 90 || rot == 180 {
		r.Value = ro.Extent - r.Value
	}
	return r, nil
}

// Averaged adapts an Imager to average N acquisitions per reading, knocking
// shot-to-shot jitter down by sqrt(N).  Any failed acquisition fails the
// whole reading.
type Averaged struct {
	Imager

	// N is the number of acquisitions per reading; values below 2 pass through
	N int
}

func (a Averaged) Read() (Reading, error) {
	if a.N < 2 {
		return a.Imager.Read()
	}
	var (
		out Reading
		sum float64
	)
	for i := 0; i < a.N; i++ {
		r, err := a.Imager.Read()
		if err != nil {
			return r, err
		}
		out = r
		sum += r.Value
	}
	out.Value = sum / float64(a.N)
	return out, nil
}
