/*Package registry resolves device names to alignment adapters backed by
lab hardware HTTP servers.

The beamline devices are already served over HTTP by the motion and camera
server fleet; this package is the client side.  An actuator maps onto the
/axis/{axis}/pos routes of a motion server and an imager onto the /centroid
route of a camera server.  Lookup pings the device before handing back an
adapter, retrying with exponential backoff so a server that is still coming
up does not fail the walk setup.
*/
package registry

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/go-yaml/yaml"
)

// FloatT is a float worked with over JSON as {"f64": value}, the payload
// shape the hardware servers speak
type FloatT struct {
	F64 float64 `json:"f64"`
}

var (
	// ErrUnknownDevice is generated when the registry has no entry for a name
	ErrUnknownDevice = errors.New("registry: unknown device")
)

// Entry describes where one device is served
type Entry struct {
	// URL is the base route for the device, e.g. http://host:8000/omc/esp
	URL string `yaml:"URL"`

	// Axis is the controller axis for actuators, e.g. "X"; ignored for imagers
	Axis string `yaml:"Axis"`
}

// Registry maps device names to the servers that own them and mints adapter
// handles for the walk controller
type Registry struct {
	// Entries maps device name to location
	Entries map[string]Entry

	// Timeout bounds every read and move call; the zero value selects 30s
	Timeout time.Duration

	// Averages is the number of acquisitions an imager averages per
	// reading; values below 2 read once
	Averages int

	client *http.Client
}

// New returns a registry over the given entries
func New(entries map[string]Entry, timeout time.Duration) *Registry {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Registry{
		Entries: entries,
		Timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// LoadYaml converts a (path to a) yaml file into a registry entry map.  The
// file maps device names to entries:
//
//	m1h-pitch:
//	  URL: http://mcs01:8000/homs/esp
//	  Axis: "1"
func LoadYaml(path string) (map[string]Entry, error) {
	entries := map[string]Entry{}
	f, err := os.Open(path)
	if err != nil {
		return entries, err
	}
	defer f.Close()
	err = yaml.NewDecoder(f).Decode(&entries)
	return entries, err
}

// lookup finds the entry and verifies the name exists
func (r *Registry) lookup(name string) (Entry, error) {
	e, ok := r.Entries[name]
	if !ok {
		return e, fmt.Errorf("%w: %s", ErrUnknownDevice, name)
	}
	if _, err := url.Parse(e.URL); err != nil {
		return e, fmt.Errorf("registry: bad URL for %s: %w", name, err)
	}
	return e, nil
}

// ping GETs a route until it answers or the backoff gives up; servers may
// still be binding their hardware when a walk is configured
func (r *Registry) ping(route string) error {
	op := func() error {
		resp, err := r.client.Get(route)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("registry: ping %s returned %s", route, resp.Status)
		}
		return nil
	}
	return backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     100 * time.Millisecond,
		RandomizationFactor: 0.5,
		Multiplier:          2,
		MaxInterval:         2 * time.Second,
		MaxElapsedTime:      10 * time.Second,
		Clock:               backoff.SystemClock})
}
