package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/nasa-jpl/beamwalk/beamline"
)

// Actuator returns an adapter for a named motor axis, verifying the serving
// motion server is reachable first.
func (r *Registry) Actuator(name string) (beamline.Actuator, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	a := &httpActuator{reg: r, name: name, route: fmt.Sprintf("%s/axis/%s/pos", strings.TrimRight(e.URL, "/"), e.Axis)}
	if err := r.ping(a.route); err != nil {
		return nil, fmt.Errorf("registry: actuator %s unreachable: %w", name, err)
	}
	return a, nil
}

// httpActuator adapts a motion server axis to the beamline contract.  The
// server blocks the POST until the motion completes, so MoveAbs inherits
// blocking semantics from the transport; the client timeout turns an
// overlong motion into a MoveTimeoutError.
type httpActuator struct {
	reg   *Registry
	name  string
	route string
}

func (a *httpActuator) GetPos() (float64, error) {
	resp, err := a.reg.client.Get(a.route)
	if err != nil {
		return 0, fmt.Errorf("%s: get pos: %w", a.name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := ioutil.ReadAll(resp.Body)
		return 0, fmt.Errorf("%s: get pos returned %s: %s", a.name, resp.Status, strings.TrimSpace(string(body)))
	}
	f := FloatT{}
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		return 0, fmt.Errorf("%s: decode pos: %w", a.name, err)
	}
	return f.F64, nil
}

func (a *httpActuator) MoveAbs(pos float64) error {
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(FloatT{F64: pos}); err != nil {
		return err
	}
	resp, err := a.reg.client.Post(a.route, "application/json", buf)
	if err != nil {
		// the client timeout is the only deadline on the blocking move
		if strings.Contains(err.Error(), "Client.Timeout") {
			return beamline.MoveTimeoutError{Actuator: a.name, Timeout: a.reg.Timeout}
		}
		return fmt.Errorf("%s: move: %w", a.name, err)
	}
	defer resp.Body.Close()
	body, _ := ioutil.ReadAll(resp.Body)
	switch resp.StatusCode {
	case http.StatusOK:
		return nil
	case http.StatusBadRequest:
		// the limit middleware rejects moves that violate software limits
		if strings.Contains(string(body), "limits") {
			return beamline.OutOfBoundsError{Actuator: a.name, Requested: pos}
		}
	}
	return fmt.Errorf("%s: move returned %s: %s", a.name, resp.Status, strings.TrimSpace(string(body)))
}
