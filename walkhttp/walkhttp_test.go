package walkhttp

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nasa-jpl/beamwalk/beamline"
	"github.com/nasa-jpl/beamwalk/sim"
	"github.com/nasa-jpl/beamwalk/walk"
)

// testRig is a walk server over one simulated mirror and imager
func testRig(readDelay time.Duration) (*httptest.Server, walk.Config) {
	m := sim.NewMirror("m1", 2, -10, 10)
	im := &sim.Imager{Name: "y1", Couplings: map[*sim.Mirror]float64{m: 2.0}}
	if readDelay > 0 {
		im.Noise = func() float64 {
			time.Sleep(readDelay)
			return 0
		}
	}
	s := NewServer(
		map[string]beamline.Actuator{"m1": m},
		map[string]beamline.Imager{"y1": im},
	)
	cfg := walk.Config{
		Actuators: []walk.ActuatorConfig{{Name: "m1", Min: -10, Max: 10, MaxStep: 5}},
		Goals:     []walk.GoalConfig{{Name: "y1", Target: 0, Tolerance: 0.01}},
	}
	return httptest.NewServer(s.Routes()), cfg
}

func startWalk(t *testing.T, srv *httptest.Server, cfg walk.Config) *http.Response {
	t.Helper()
	body, err := json.Marshal(cfg)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(srv.URL+"/walk", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp
}

func phaseOf(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp, err := http.Get(srv.URL + "/walk/phase")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	s := StrT{}
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	return s.Str
}

func waitTerminal(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		switch p := phaseOf(t, srv); p {
		case "BOOTSTRAP", "ITERATE":
			time.Sleep(5 * time.Millisecond)
		default:
			return p
		}
	}
	t.Fatal("walk did not reach a terminal phase")
	return ""
}

func TestStartWalkToConvergence(t *testing.T) {
	srv, cfg := testRig(0)
	defer srv.Close()

	if resp := startWalk(t, srv, cfg); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start returned %s", resp.Status)
	}
	if p := waitTerminal(t, srv); p != "CONVERGED" {
		t.Fatalf("walk ended %s", p)
	}

	resp, err := http.Get(srv.URL + "/walk/result")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("result returned %s", resp.Status)
	}
	var res struct {
		Phase      string             `json:"phase"`
		Iterations int                `json:"iterations"`
		Residuals  map[string]float64 `json:"residuals"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.Phase != "CONVERGED" {
		t.Errorf("result phase %s", res.Phase)
	}
	if r := res.Residuals["y1"]; r < -0.01 || r > 0.01 {
		t.Errorf("final residual %g outside tolerance", r)
	}
}

func TestSecondWalkIsLocked(t *testing.T) {
	srv, cfg := testRig(20 * time.Millisecond)
	defer srv.Close()

	if resp := startWalk(t, srv, cfg); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("start returned %s", resp.Status)
	}
	if resp := startWalk(t, srv, cfg); resp.StatusCode != http.StatusLocked {
		t.Fatalf("second start returned %s, expected 423", resp.Status)
	}
	resp, err := http.Post(srv.URL+"/walk/abort", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	waitTerminal(t, srv)
}

func TestAbortEndsWalkAborted(t *testing.T) {
	srv, cfg := testRig(20 * time.Millisecond)
	defer srv.Close()

	startWalk(t, srv, cfg)
	resp, err := http.Post(srv.URL+"/walk/abort", "", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if p := waitTerminal(t, srv); p != "ABORTED" {
		t.Fatalf("walk ended %s, expected ABORTED", p)
	}
}

func TestHistoryAfterWalk(t *testing.T) {
	srv, cfg := testRig(0)
	defer srv.Close()

	startWalk(t, srv, cfg)
	waitTerminal(t, srv)

	resp, err := http.Get(srv.URL + "/walk/history")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var history []beamline.Sample
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		t.Fatal(err)
	}
	if len(history) == 0 {
		t.Fatal("history is empty after a finished walk")
	}
	if _, ok := history[0].Readings["y1"]; !ok {
		t.Error("samples missing the y1 reading")
	}
}

func TestResultBeforeAnyWalk(t *testing.T) {
	srv, _ := testRig(0)
	defer srv.Close()

	for _, route := range []string{"/walk/result", "/walk/history"} {
		resp, err := http.Get(srv.URL + route)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("%s returned %s before any walk, expected 404", route, resp.Status)
		}
	}
	if p := phaseOf(t, srv); p != "IDLE" {
		t.Errorf("phase %s before any walk, expected IDLE", p)
	}
}

func TestBadConfigRejected(t *testing.T) {
	srv, _ := testRig(0)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/walk", "application/json", strings.NewReader("{not json"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("malformed body returned %s, expected 400", resp.Status)
	}

	// well-formed but invalid: no actuators
	resp, err = http.Post(srv.URL+"/walk", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty config returned %s, expected 400", resp.Status)
	}
}

func TestUnknownDeviceRejected(t *testing.T) {
	srv, cfg := testRig(0)
	defer srv.Close()

	cfg.Actuators[0].Name = "m9"
	resp := startWalk(t, srv, cfg)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown actuator returned %s, expected 400", resp.Status)
	}
}
