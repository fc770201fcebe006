/*Package gooseberry controls the gooseberry charge-locking chip.

The chip has one shared analog rail (VICL) which can be connected to any of 32
gate terminals through the CLEN register.  Gates are driven by first making
them the owner of the rail, waiting for the rail to settle, then setting the
rail voltage.  A Gate handle does this for one terminal or a cluster of
terminals that are always switched together; it is the only thing that writes
the shared rail.

Basic usage is as followed:
 gb, err := gooseberry.New(rack, gooseberry.DefaultConfig())
 if err != nil {
 	log.Fatal(err)
 }
 err = gb.PowerUp()        // rails in safe order, then a hard reset
 err = gb.InitializeRegisters() // zero the registers, then operating mode
 p1, err := gb.AddGate("P1", gooseberry.Single(4), 0) // 0 => default settling delay
 j, err := gb.AddGate("J", gooseberry.Cluster(18, 20), 0)
 err = p1.SetVoltage(0.8) // switches CLEN, settles, then sets VICL
 err = p1.SetVoltage(0.9) // already the owner: no bus write, no wait
 err = gb.PowerDown()

The controller is synchronous and not safe for concurrent use.  Every call
that talks to the chip blocks until the transfer finishes, and ownership
changes block for the full settling delay.
*/
package gooseberry

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/nasa-jpl/gooseberry/regbus"
	"github.com/nasa-jpl/gooseberry/register"
)

// Analog rail and digital line names on the breakout
const (
	RailVSS1P8    = "VSS1P8"
	RailVDD1P0    = "VDD1P0"
	RailVDD1P8    = "VDD1P8"
	RailVDD1P8ANA = "VDD1P8_ANA"
	RailBGN1P8    = "BGN1P8"
	RailBGP1P8    = "BGP1P8"
	RailBGN1P0    = "BGN1P0"
	RailBGP1P0    = "BGP1P0"
	RailVICL      = "VICL"

	DigitalResetN = "RST_N"
	DigitalTMODE  = "TMODE"
)

// BackGates are the back gate bias rails, raised with the low rails
var BackGates = []string{RailBGN1P8, RailBGP1P8, RailBGN1P0, RailBGP1P0}

var (
	// ErrDeviceTypeMismatch is generated when the device handed to New has no serial bus
	ErrDeviceTypeMismatch = errors.New("device must be an SPIDevice with a non-nil SPI bus")

	// ErrMissingLine is generated when the device lacks a rail or digital line the chip needs
	ErrMissingLine = errors.New("device is missing a required line")

	// ErrInvalidOscillatorTrim is generated when the oscillator trim does not match the enable state
	ErrInvalidOscillatorTrim = errors.New("invalid oscillator trim")

	// ErrUnknownGate is generated when a gate handle name is not registered
	ErrUnknownGate = errors.New("unknown gate")

	// ErrDuplicateGate is generated when a gate handle name is registered twice
	ErrDuplicateGate = errors.New("gate already exists")
)

// Device is the hardware the chip is wired to: named analog rails and named
// digital lines
type Device interface {
	// SetRail sets an analog rail to a voltage
	SetRail(name string, volts float64) error

	// Rails lists the analog rails
	Rails() []string

	// SetDigital drives a digital line high or low
	SetDigital(name string, high bool) error

	// ZeroDigital parks a digital line at 0V, which is not the logic low
	// level when that is offset from ground
	ZeroDigital(name string) error

	// Digitals lists the digital lines
	Digitals() []string
}

// SPIDevice is a Device that carries the serial register bus of the chip
type SPIDevice interface {
	Device

	// SPI returns the register bus
	SPI() regbus.Bus
}

// VoltageSource is anything that can be set to a voltage
type VoltageSource interface {
	SetVoltage(float64) error
}

// railSource is a VoltageSource for one named rail of a Device
type railSource struct {
	dev  Device
	name string
}

func (r railSource) SetVoltage(v float64) error {
	return r.dev.SetRail(r.name, v)
}

// Config holds the electrical parameters of the chip
type Config struct {
	// VHigh is the logic high level and the 1.8V rail setpoint
	VHigh float64 `yaml:"VHigh" koanf:"VHigh"`

	// VLow is the logic low level and ground reference
	VLow float64 `yaml:"VLow" koanf:"VLow"`

	// VDD1P0 is the nominal 1.0V rail, relative to VLow
	VDD1P0 float64 `yaml:"VDD1P0" koanf:"VDD1P0"`

	// Headroom is added on top of VDD1P0 when the rail is raised
	Headroom float64 `yaml:"Headroom" koanf:"Headroom"`

	// SharedRail is the rail gate handles drive
	SharedRail string `yaml:"SharedRail" koanf:"SharedRail"`

	// SettlingDelay is the default wait after a rail ownership change
	SettlingDelay time.Duration `yaml:"SettlingDelay" koanf:"SettlingDelay"`

	// DTest1 and DTest2 select what the debug pins show in operating mode
	DTest1 DebugSignal `yaml:"DTest1" koanf:"DTest1"`
	DTest2 DebugSignal `yaml:"DTest2" koanf:"DTest2"`
}

// DefaultConfig returns the configuration used on the bench
func DefaultConfig() Config {
	return Config{
		VHigh:         1.8,
		VLow:          0,
		VDD1P0:        1,
		SharedRail:    RailVICL,
		SettlingDelay: 30 * time.Second,
		DTest1:        DebugFSMIdleB1,
		DTest2:        DebugFSMIdleB1,
	}
}

// Gooseberry is a controller for one chip
type Gooseberry struct {
	dev    Device
	bus    *regbus.Transport
	cfg    Config
	shared VoltageSource

	regs  map[string]*register.Register
	order []*register.Register

	gates     map[string]*Gate
	gateOrder []string

	state State

	// Sleep blocks for a duration.  It is time.Sleep unless replaced.
	Sleep func(time.Duration)

	// Logger receives ownership changes and power sequencing steps
	Logger *log.Logger
}

// New creates a controller over dev.  dev must be an SPIDevice whose SPI bus
// is not nil, and must have every rail and digital line the power sequence
// touches.  The chip is assumed unpowered.
func New(dev Device, cfg Config) (*Gooseberry, error) {
	sd, ok := dev.(SPIDevice)
	if !ok || sd.SPI() == nil {
		return nil, ErrDeviceTypeMismatch
	}
	if cfg.SharedRail == "" {
		cfg.SharedRail = RailVICL
	}
	rails := append([]string{RailVSS1P8, RailVDD1P0, RailVDD1P8, RailVDD1P8ANA, cfg.SharedRail}, BackGates...)
	if err := requireNames(dev.Rails(), rails); err != nil {
		return nil, err
	}
	if err := requireNames(dev.Digitals(), []string{DigitalResetN, DigitalTMODE}); err != nil {
		return nil, err
	}

	g := &Gooseberry{
		dev:    dev,
		bus:    regbus.New(sd.SPI()),
		cfg:    cfg,
		shared: railSource{dev: dev, name: cfg.SharedRail},
		regs:   map[string]*register.Register{},
		order:  newRegisterTable(),
		gates:  map[string]*Gate{},
		state:  Unpowered,
		Sleep:  time.Sleep,
		Logger: log.Default(),
	}
	for _, r := range g.order {
		g.regs[r.Name] = r
	}
	return g, nil
}

func requireNames(have, want []string) error {
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return fmt.Errorf("%w: %s", ErrMissingLine, w)
		}
	}
	return nil
}

func (g *Gooseberry) logf(format string, args ...interface{}) {
	if g.Logger != nil {
		g.Logger.Printf("gooseberry: "+format, args...)
	}
}

// Config returns the configuration the controller was built with
func (g *Gooseberry) Config() Config {
	return g.cfg
}

// Transport returns the register bus transport
func (g *Gooseberry) Transport() *regbus.Transport {
	return g.bus
}

// Register returns the named register, or nil
func (g *Gooseberry) Register(name string) *register.Register {
	return g.regs[name]
}

// Registers returns every register in bus write order
func (g *Gooseberry) Registers() []*register.Register {
	out := make([]*register.Register, len(g.order))
	copy(out, g.order)
	return out
}

// GateStatus is the printable state of a gate handle
type GateStatus struct {
	Name        string   `json:"name"`
	IDs         []int    `json:"ids"`
	Settling    string   `json:"settling"`
	LastVoltage *float64 `json:"lastVoltage"`
}

// Status is the printable state of the controller
type Status struct {
	State       string              `json:"state"`
	Owner       []int               `json:"owner"`
	ManualClock bool                `json:"manualClock"`
	Gates       []GateStatus        `json:"gates"`
	Registers   []register.Snapshot `json:"registers"`
}

// Snapshot reports the power state, rail owner, gates and registers
func (g *Gooseberry) Snapshot() Status {
	s := Status{
		State:       g.state.String(),
		Owner:       []int{},
		ManualClock: g.bus.ManualClockHeld(),
		Gates:       make([]GateStatus, 0, len(g.gateOrder)),
		Registers:   make([]register.Snapshot, 0, len(g.order)),
	}
	if owner, ok := g.EnabledOwner(); ok {
		s.Owner = owner.IDs()
	}
	for _, name := range g.gateOrder {
		h := g.gates[name]
		gs := GateStatus{Name: name, IDs: h.id.IDs(), Settling: h.settle.String()}
		if v, ok := h.LastVoltage(); ok {
			gs.LastVoltage = &v
		}
		s.Gates = append(s.Gates, gs)
	}
	for _, r := range g.order {
		s.Registers = append(s.Registers, r.Snapshot())
	}
	return s
}
