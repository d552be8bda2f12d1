/*Package walkhttp exposes the alignment procedure over HTTP.

One Server owns one set of devices and runs at most one walk at a time;
starting a second while one is in flight returns 423 Locked, since sharing
hardware between concurrent walks would corrupt the sample history's causal
ordering.  The routes are:

	POST /walk          start a walk from a JSON walk.Config body
	GET  /walk/phase    current phase as JSON {"str": "ITERATE"}
	POST /walk/abort    cancel the running walk between iterations
	GET  /walk/result   result of the most recent finished walk
	GET  /walk/history  sample history of the most recent finished walk
*/
package walkhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi"

	"github.com/nasa-jpl/beamwalk/beamline"
	"github.com/nasa-jpl/beamwalk/walk"
)

// StrT is a string worked with over JSON as {"str": value}
type StrT struct {
	Str string `json:"str"`
}

// Server drives walks over a fixed device set in response to HTTP requests
type Server struct {
	actuators map[string]beamline.Actuator
	imagers   map[string]beamline.Imager

	mu      sync.Mutex
	running bool
	phase   func() walk.Phase
	cancel  context.CancelFunc
	last    *walk.Result
}

// NewServer returns a server over the given devices
func NewServer(actuators map[string]beamline.Actuator, imagers map[string]beamline.Imager) *Server {
	return &Server{actuators: actuators, imagers: imagers}
}

// Routes builds the route tree
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/walk", s.Start)
	r.Get("/walk/phase", s.GetPhase)
	r.Post("/walk/abort", s.Abort)
	r.Get("/walk/result", s.GetResult)
	r.Get("/walk/history", s.GetHistory)
	return r
}

// Start begins a walk in the background, bouncing the request with 423 if
// one is already in flight
func (s *Server) Start(w http.ResponseWriter, r *http.Request) {
	cfg := walk.Config{}
	err := json.NewDecoder(r.Body).Decode(&cfg)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctl, err := walk.New(cfg, s.actuators, s.imagers)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		w.WriteHeader(http.StatusLocked)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.phase = ctl.Phase
	s.mu.Unlock()
	go func() {
		res := ctl.Walk(ctx)
		cancel()
		s.mu.Lock()
		s.running = false
		s.cancel = nil
		s.phase = nil
		s.last = &res
		s.mu.Unlock()
	}()
	w.WriteHeader(http.StatusAccepted)
}

// GetPhase reports the live phase of a running walk, or that of the last
// result when idle
func (s *Server) GetPhase(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	var str string
	switch {
	case s.running && s.phase != nil:
		str = s.phase().String()
	case s.last != nil:
		str = s.last.Phase.String()
	default:
		str = "IDLE"
	}
	s.mu.Unlock()
	respondJSON(w, StrT{Str: str})
}

// Abort cancels the running walk; it is not an error to abort when idle
func (s *Server) Abort(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

// GetResult returns the most recent finished walk, 404 when none has run
func (s *Server) GetResult(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()
	if last == nil {
		http.Error(w, "no walk has finished", http.StatusNotFound)
		return
	}
	respondJSON(w, last)
}

// GetHistory returns the sample history of the most recent finished walk
func (s *Server) GetHistory(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()
	if last == nil {
		http.Error(w, "no walk has finished", http.StatusNotFound)
		return
	}
	respondJSON(w, last.History)
}

func respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
