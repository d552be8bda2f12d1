package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"

	yml "gopkg.in/yaml.v2"

	"github.com/nasa-jpl/beamwalk/walk"
)

var (
	// Version is the version number.  Typically injected via ldflags with git build
	Version = "1"

	// ConfigFileName is what it sounds like
	ConfigFileName = "beamwalk.yml"
	k              = koanf.New(".")
)

func setupconfig() {
	k.Load(structs.Provider(Config{
		Mock:       true,
		Averages:   10,
		Timeout:    30,
		Retries:    0,
		TolScaling: 2,
		Walk: walk.Config{
			NoiseFloor:       1e-4,
			BootstrapStep:    0.5,
			BootstrapCap:     3,
			DivergenceWindow: 3,
			StallWindow:      5,
			StallMin:         1e-4,
			MaxIterations:    100,
		}}, "koanf"), nil)
	if err := k.Load(file.Provider(ConfigFileName), yaml.Parser()); err != nil {
		errtxt := err.Error()
		if !strings.Contains(errtxt, "no such") { // file missing, who cares
			log.Fatalf("error loading config: %v", err)
		}
	}
}

func root() {
	str := `beamwalk aligns a beam through steerable mirrors using imaging diagnostics.
It walks the measured centroid on each imager to its goal by estimating the
local response of each reading to each mirror and iterating to convergence.

Usage:
	beamwalk <command>

Commands:
	run
	serve
	help
	mkconf
	conf
	version`
	fmt.Println(str)
}

func help() {
	str := `beamwalk is amenable to configuration via its .yaml file.  For a primer on YAML, see
https://yaml.org/start.html

With Mock: true the walk runs against a built-in simulated beamline, useful
for dry runs of a configuration before touching hardware.

With Mock: false every actuator and goal name must have a Registry entry
pointing at the HTTP hardware server that owns the device:

Registry:
  m1h-pitch:
    URL: http://mcs01:8000/homs/esp
    Axis: "1"
  dg3-x:
    URL: http://cam03:8000/dg3
    Axis: x

Goals bind imager readings to targets; tolerances are in the same units as
the readings (typically pixels).  Retries > 0 re-invokes a Diverged or
Stalled walk with tolerances relaxed by TolScaling each attempt, seeding the
next attempt with the samples already gathered.  A converged run writes the
final mirror positions and goals to CacheFile, and later runs restore the
mirrors to those nominal positions before walking.

run executes one alignment; serve exposes the same procedure over HTTP.`
	fmt.Println(str)
}

func mkconf() {
	c := Config{}
	err := k.Unmarshal("", &c)
	if err != nil {
		log.Fatal(err)
	}
	f, err := os.Create(ConfigFileName)
	if err != nil {
		log.Fatal(err)
	}
	defer f.Close()
	err = yml.NewEncoder(f).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func printconf() {
	c := Config{}
	k.Unmarshal("", &c)
	err := yml.NewEncoder(os.Stdout).Encode(c)
	if err != nil {
		log.Fatal(err)
	}
}

func main() {
	setupconfig()
	var cmd string
	args := os.Args
	if len(args) > 1 {
		cmd = args[1]
	}
	switch cmd {
	case "help":
		help()
	case "mkconf":
		mkconf()
	case "conf":
		printconf()
	case "version":
		fmt.Printf("beamwalk version %s\n", Version)
	case "run":
		run()
	case "serve":
		serve()
	default:
		root()
	}
}
