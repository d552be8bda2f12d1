package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/theckman/yacspin"

	"github.com/nasa-jpl/beamwalk/beamline"
	"github.com/nasa-jpl/beamwalk/registry"
	"github.com/nasa-jpl/beamwalk/sim"
	"github.com/nasa-jpl/beamwalk/util"
	"github.com/nasa-jpl/beamwalk/walk"
	"github.com/nasa-jpl/beamwalk/walkhttp"
)

// Config is the YAML-mapped configuration for the beamwalk tool
type Config struct {
	// Addr is the address the serve command listens at
	Addr string `yaml:"Addr" koanf:"Addr"`

	// Mock selects the built-in simulated beamline instead of hardware
	Mock bool `yaml:"Mock" koanf:"Mock"`

	// Averages is the number of acquisitions averaged per reading
	Averages int `yaml:"Averages" koanf:"Averages"`

	// Timeout is the per-call device timeout in seconds
	Timeout float64 `yaml:"Timeout" koanf:"Timeout"`

	// WalkTimeout is the overall deadline for one walk in seconds; zero
	// means no deadline
	WalkTimeout float64 `yaml:"WalkTimeout" koanf:"WalkTimeout"`

	// Retries is how many times a Diverged or Stalled walk is re-invoked
	// with relaxed tolerances
	Retries int `yaml:"Retries" koanf:"Retries"`

	// TolScaling multiplies every tolerance on each retry
	TolScaling float64 `yaml:"TolScaling" koanf:"TolScaling"`

	// CacheFile persists nominal mirror positions and goals between runs
	CacheFile string `yaml:"CacheFile" koanf:"CacheFile"`

	// Registry locates the HTTP hardware server for each device name
	Registry map[string]registry.Entry `yaml:"Registry" koanf:"Registry"`

	// RegistryFile optionally points at a standalone registry YAML shared
	// between tools; its entries fill in any name missing from Registry
	RegistryFile string `yaml:"RegistryFile" koanf:"RegistryFile"`

	// Walk is the alignment procedure configuration
	Walk walk.Config `yaml:"Walk" koanf:"Walk"`
}

func loadconfig() Config {
	c := Config{}
	if err := k.Unmarshal("", &c); err != nil {
		log.Fatal(err)
	}
	if len(c.Walk.Actuators) == 0 {
		c.Walk.Actuators = []walk.ActuatorConfig{{Name: "m1h-pitch", Min: -10, Max: 10, MaxStep: 2}}
	}
	if len(c.Walk.Goals) == 0 {
		c.Walk.Goals = []walk.GoalConfig{{Name: "dg3-x", Target: 0, Tolerance: 0.1}}
	}
	return c
}

// buildDevices produces the adapter maps, simulated or hardware-backed
func buildDevices(c Config) (map[string]beamline.Actuator, map[string]beamline.Imager, error) {
	actuators := map[string]beamline.Actuator{}
	imagers := map[string]beamline.Imager{}
	if c.Mock {
		// each goal couples to every mirror, strongest to its own index,
		// which gives the walk a mildly coupled system to chew on
		mirrors := make([]*sim.Mirror, len(c.Walk.Actuators))
		for i, a := range c.Walk.Actuators {
			start := util.Clamp((a.Min+a.Max)/2+2, a.Min, a.Max)
			m := sim.NewMirror(a.Name, start, a.Min, a.Max)
			mirrors[i] = m
			actuators[a.Name] = m
		}
		for i, g := range c.Walk.Goals {
			couplings := map[*sim.Mirror]float64{}
			for j, m := range mirrors {
				if i == j%len(c.Walk.Goals) {
					couplings[m] = 2.0
				} else {
					couplings[m] = 0.3
				}
			}
			imagers[g.Name] = &sim.Imager{Name: g.Name, Couplings: couplings}
		}
		return actuators, imagers, nil
	}
	entries := c.Registry
	if c.RegistryFile != "" {
		shared, err := registry.LoadYaml(c.RegistryFile)
		if err != nil {
			return nil, nil, fmt.Errorf("registry file %s: %w", c.RegistryFile, err)
		}
		if entries == nil {
			entries = map[string]registry.Entry{}
		}
		for name, e := range shared {
			if _, ok := entries[name]; !ok {
				entries[name] = e
			}
		}
	}
	reg := registry.New(entries, util.SecsToDuration(c.Timeout))
	reg.Averages = c.Averages
	for _, a := range c.Walk.Actuators {
		dev, err := reg.Actuator(a.Name)
		if err != nil {
			return nil, nil, err
		}
		actuators[a.Name] = dev
	}
	for _, g := range c.Walk.Goals {
		dev, err := reg.Imager(g.Name)
		if err != nil {
			return nil, nil, err
		}
		imagers[g.Name] = dev
	}
	return actuators, imagers, nil
}

// nominal is the cache file schema: device name to position or goal
type nominal map[string]float64

func readCache(fn string) nominal {
	n := nominal{}
	if fn == "" {
		return n
	}
	f, err := os.Open(fn)
	if err != nil {
		return n
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(&n); err != nil {
		log.Printf("cache file %s unreadable: %v", fn, err)
	}
	return n
}

func writeCache(fn string, n nominal) {
	if fn == "" {
		return
	}
	f, err := os.Create(fn)
	if err != nil {
		log.Printf("cannot write cache file %s: %v", fn, err)
		return
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(n); err != nil {
		log.Printf("cannot encode cache file %s: %v", fn, err)
	}
}

// restoreNominal moves mirrors to their cached nominal positions before the
// walk begins, matching the operator workflow of starting from the last
// known-good alignment
func restoreNominal(c Config, cache nominal, actuators map[string]beamline.Actuator) {
	for _, a := range c.Walk.Actuators {
		pos, ok := cache[a.Name]
		if !ok {
			continue
		}
		if err := actuators[a.Name].MoveAbs(pos); err != nil {
			log.Printf("could not restore %s to nominal %g: %v", a.Name, pos, err)
		}
	}
}

func run() {
	c := loadconfig()
	actuators, imagers, err := buildDevices(c)
	if err != nil {
		log.Fatal(err)
	}
	cache := readCache(c.CacheFile)
	restoreNominal(c, cache, actuators)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if c.WalkTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, util.SecsToDuration(c.WalkTimeout))
		defer cancel()
	}

	spin, err := yacspin.New(yacspin.Config{
		Frequency:       100 * time.Millisecond,
		CharSet:         yacspin.CharSets[59],
		Suffix:          " walking beam",
		SuffixAutoColon: true,
		StopCharacter:   "✓",
		StopColors:      []string{"fgGreen"},
	})
	if err != nil {
		log.Fatal(err)
	}
	spin.Start()

	cfg := c.Walk
	var res walk.Result
	for attempt := 0; ; attempt++ {
		spin.Message(fmt.Sprintf("attempt %d", attempt+1))
		ctl, err := walk.New(cfg, actuators, imagers)
		if err != nil {
			spin.Stop()
			log.Fatal(err)
		}
		res = ctl.Walk(ctx)
		if res.Phase == walk.Converged || res.Phase == walk.Aborted || attempt >= c.Retries {
			break
		}
		// relax tolerances and keep the samples already gathered
		for i := range cfg.Goals {
			cfg.Goals[i].Tolerance *= c.TolScaling
		}
		cfg.Seed = res.History
		log.Printf("walk %s (%s), retrying with tolerances scaled by %g", res.Phase, res.Reason, c.TolScaling)
	}
	spin.Stop()

	fmt.Printf("%s after %d iterations: %s\n", res.Phase, res.Iterations, res.Reason)
	for name, r := range res.Residuals {
		fmt.Printf("  %s residual %+.3f\n", name, r)
	}
	if res.Phase != walk.Converged {
		os.Exit(1)
	}
	// persist the aligned state as the next run's nominal
	if len(res.History) > 0 {
		final := res.History[len(res.History)-1]
		for name, pos := range final.Positions {
			cache[name] = pos
		}
		for _, g := range cfg.Goals {
			cache[g.Name] = g.Target
		}
		writeCache(c.CacheFile, cache)
	}
}

func serve() {
	c := loadconfig()
	if c.Addr == "" {
		c.Addr = ":8001"
	}
	actuators, imagers, err := buildDevices(c)
	if err != nil {
		log.Fatal(err)
	}
	srv := walkhttp.NewServer(actuators, imagers)
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	root.Mount("/", srv.Routes())
	log.Println("now serving alignment on", c.Addr)
	log.Fatal(http.ListenAndServe(c.Addr, root))
}
