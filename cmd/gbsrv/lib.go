package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/theckman/yacspin"
	"goji.io"

	"github.com/nasa-jpl/gooseberry/generichttp/ascii"
	"github.com/nasa-jpl/gooseberry/gooseberry"
	"github.com/nasa-jpl/gooseberry/mdac"
	"github.com/nasa-jpl/gooseberry/server/middleware/locker"
)

// ErrLevelMismatch is generated when the rack and the chip disagree on the
// logic levels
var ErrLevelMismatch = errors.New("rack and chip logic levels differ")

// GateSetup describes one gate handle
type GateSetup struct {
	// Name is the handle name used in URLs
	Name string `yaml:"Name" koanf:"Name"`

	// IDs are the gate terminals; more than one makes a cluster
	IDs []int `yaml:"IDs" koanf:"IDs"`

	// Settling overrides Chip.SettlingDelay when not zero
	Settling time.Duration `yaml:"Settling" koanf:"Settling"`
}

// Config is a struct that holds the initialization parameters of the server
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr" koanf:"Addr"`

	// Endpoint is the URL stem the chip routes are served under
	Endpoint string `yaml:"Endpoint" koanf:"Endpoint"`

	// PowerUpOnStart brings the chip up before serving
	PowerUpOnStart bool `yaml:"PowerUpOnStart" koanf:"PowerUpOnStart"`

	// Verbose logs every register frame
	Verbose bool `yaml:"Verbose" koanf:"Verbose"`

	Rack  mdac.Config            `yaml:"Rack" koanf:"Rack"`
	Chip  gooseberry.Config      `yaml:"Chip" koanf:"Chip"`
	Clock gooseberry.ClockConfig `yaml:"Clock" koanf:"Clock"`
	Gates []GateSetup            `yaml:"Gates" koanf:"Gates"`
}

// DefaultConfig is the bench setup
func DefaultConfig() Config {
	return Config{
		Addr:     ":8000",
		Endpoint: "gb",
		Rack:     mdac.DefaultConfig(),
		Chip:     gooseberry.DefaultConfig(),
		Clock:    gooseberry.DefaultClock(),
		Gates: []GateSetup{
			{Name: "P1", IDs: []int{4}},
			{Name: "P2", IDs: []int{5}},
			{Name: "J", IDs: []int{18, 20}},
			{Name: "ST", IDs: []int{10}},
		},
	}
}

// System is the rack and the chip controller on it
type System struct {
	Rack  *mdac.Rack
	GB    *gooseberry.Gooseberry
	Clock gooseberry.ClockConfig
}

// Build connects to the rack and creates the controller and gate handles
func Build(c Config) (*System, error) {
	if c.Rack.VHigh != c.Chip.VHigh || c.Rack.VLow != c.Chip.VLow {
		return nil, fmt.Errorf("%w: rack %g/%g V, chip %g/%g V", ErrLevelMismatch,
			c.Rack.VHigh, c.Rack.VLow, c.Chip.VHigh, c.Chip.VLow)
	}
	rack, err := mdac.NewRack(c.Rack)
	if err != nil {
		return nil, err
	}
	gb, err := gooseberry.New(rack, c.Chip)
	if err != nil {
		return nil, err
	}
	gb.Transport().Verbose = c.Verbose
	for _, g := range c.Gates {
		id := gooseberry.Cluster(g.IDs...)
		if len(g.IDs) == 1 {
			id = gooseberry.Single(g.IDs[0])
		}
		if _, err = gb.AddGate(g.Name, id, g.Settling); err != nil {
			return nil, fmt.Errorf("gate %s: %w", g.Name, err)
		}
	}
	return &System{Rack: rack, GB: gb, Clock: c.Clock}, nil
}

// bringUp powers the chip, initializes the registers and sets the clock
func (s *System) bringUp() error {
	if idn, err := s.Rack.Identify(); err == nil {
		log.Println("rack:", idn)
	}
	if err := s.GB.PowerUp(); err != nil {
		return err
	}
	if err := s.GB.InitializeRegisters(); err != nil {
		return err
	}
	return s.GB.SetClock(s.Clock)
}

// withSpinner runs fcn behind a terminal spinner
func withSpinner(msg string, fcn func() error) error {
	spinner, err := yacspin.New(yacspin.Config{
		Frequency:         100 * time.Millisecond,
		CharSet:           yacspin.CharSets[14],
		Suffix:            " " + msg,
		StopCharacter:     "✓",
		StopColors:        []string{"fgGreen"},
		StopFailCharacter: "✗",
		StopFailColors:    []string{"fgRed"},
	})
	if err != nil {
		// no terminal to draw on
		return fcn()
	}
	spinner.Start()
	if err = fcn(); err != nil {
		spinner.StopFailMessage(err.Error())
		spinner.StopFail()
		return err
	}
	spinner.Stop()
	return nil
}

// sanitize turns "gb", "/gb/" or "/gb/*" into "/gb"
func sanitize(stem string) string {
	stem = strings.TrimSuffix(strings.TrimSuffix(stem, "*"), "/")
	if !strings.HasPrefix(stem, "/") {
		stem = "/" + stem
	}
	return stem
}

// BuildMux serves the chip and rack routes under c.Endpoint behind a lock,
// plus /endpoints listing every route
func BuildMux(c Config, sys *System) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)

	gbw := gooseberry.NewHTTPWrapper(sys.GB)
	rackw := mdac.NewHTTPWrapper("/rack/", sys.Rack, gbw.Mu)
	for p, h := range rackw.RT() {
		gbw.RouteTable[p] = h
	}
	ascii.InjectRawComm(gbw, sys.Rack, "/rack/raw", gbw.Mu)
	lock := locker.New()
	locker.Inject(gbw, lock)

	stem := sanitize(c.Endpoint)
	sub := goji.NewMux()
	sub.Use(lock.Check)
	gbw.RT().Bind(sub)
	root.Mount(stem, http.StripPrefix(stem, sub))

	supergraph := map[string][]string{stem: gbw.RT().Endpoints()}
	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root
}
