// this file contains the image reduction used to turn frames into readings
package beamline

// Centroid computes the center of mass of a row-major strided image buffer.
// Pixels at or below floor are treated as background and contribute nothing,
// which keeps dark current and readout noise from dragging the centroid
// toward the frame center.  Returns ErrNoBeam if nothing is above the floor.
func Centroid(stridedBuffer []uint16, width int, floor uint16) (x, y float64, err error) {
	var mass, mx, my float64
	for idx, px := range stridedBuffer {
		if px <= floor {
			continue
		}
		v := float64(px - floor)
		i := idx / width
		j := idx % width
		mass += v
		mx += v * float64(j)
		my += v * float64(i)
	}
	if mass == 0 {
		return 0, 0, ErrNoBeam
	}
	return mx / mass, my / mass, nil
}
