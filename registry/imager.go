package registry

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/nasa-jpl/beamwalk/beamline"
)

// Imager returns an adapter for a named camera centroid channel, verifying
// the serving camera server is reachable first.  The axis in the registry
// entry selects x or y.  Averaging per the registry configuration is applied
// here so the walk sees one reading per sample.
func (r *Registry) Imager(name string) (beamline.Imager, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	axis := strings.ToLower(e.Axis)
	if axis == "" {
		axis = "x"
	}
	im := &httpImager{reg: r, name: name, route: fmt.Sprintf("%s/centroid?axis=%s", strings.TrimRight(e.URL, "/"), axis)}
	if err := r.ping(im.route); err != nil {
		return nil, fmt.Errorf("registry: imager %s unreachable: %w", name, err)
	}
	if r.Averages > 1 {
		return beamline.Averaged{Imager: im, N: r.Averages}, nil
	}
	return im, nil
}

// httpImager adapts a camera server's centroid route to the beamline
// contract.  Any transport failure, non-200 status, or timeout is an
// AcquisitionError; the walk never sees a stale value.
type httpImager struct {
	reg   *Registry
	name  string
	route string
}

func (im *httpImager) Read() (beamline.Reading, error) {
	resp, err := im.reg.client.Get(im.route)
	if err != nil {
		return beamline.Reading{}, beamline.AcquisitionError{Imager: im.name, Cause: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := ioutil.ReadAll(resp.Body)
		return beamline.Reading{}, beamline.AcquisitionError{
			Imager: im.name,
			Cause:  fmt.Errorf("centroid returned %s: %s", resp.Status, strings.TrimSpace(string(body))),
		}
	}
	f := FloatT{}
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		return beamline.Reading{}, beamline.AcquisitionError{Imager: im.name, Cause: err}
	}
	return beamline.Reading{Name: im.name, Value: f.F64}, nil
}
