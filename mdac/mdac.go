/*Package mdac drives a multi-channel DAC rack over SCPI and presents it as the
breakout a gooseberry chip is wired to.

Every rack channel is addressed by number.  Rails are channels set to an
analog voltage; digital lines are channels switched between a low and a high
level.  Four digital lines carry a bit-banged SPI bus, and one carries the
APBCLK square wave generated by the channel's AWG.

The rack speaks line-oriented SCPI:

	*IDN?
	CH<n>:VOLT <v>
	CH<n>:VOLT?
	CH<n>:AWG:SQU <freq>,<amplitude>,<offset>

Setting a DC voltage on a channel stops any waveform on it.
*/
package mdac

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nasa-jpl/gooseberry/comm"
	"github.com/nasa-jpl/gooseberry/gooseberry"
	"github.com/nasa-jpl/gooseberry/regbus"
	"github.com/nasa-jpl/gooseberry/scpi"
)

// Names of the SPI and clock lines among the digital lines
const (
	LineMOSI   = "MOSI"
	LineSCLK   = "SCLK"
	LineSSN    = "SS_N"
	LineAPBCLK = "APBCLK"
)

var (
	// ErrUnknownChannel is generated when a rail or line name has no channel
	ErrUnknownChannel = errors.New("no channel for name")

	// ErrUnknownTransport is generated when Config.Transport is not recognized
	ErrUnknownTransport = errors.New("transport must be one of tcp, serial, usb, mock")
)

// Config describes how to reach the rack and how the breakout is wired to it
type Config struct {
	// Transport is one of tcp, serial, usb, mock
	Transport string `yaml:"Transport" koanf:"Transport"`

	// Addr is host:port for tcp or the device path for serial
	Addr string `yaml:"Addr" koanf:"Addr"`

	// Baud is the serial line rate
	Baud int `yaml:"Baud" koanf:"Baud"`

	// VID and PID select a USBTMC rack
	VID uint16 `yaml:"VID" koanf:"VID"`
	PID uint16 `yaml:"PID" koanf:"PID"`

	// Timeout bounds connection and I/O
	Timeout time.Duration `yaml:"Timeout" koanf:"Timeout"`

	// Handshaking queries the error queue after every command
	Handshaking bool `yaml:"Handshaking" koanf:"Handshaking"`

	// VHigh and VLow are the digital line levels
	VHigh float64 `yaml:"VHigh" koanf:"VHigh"`
	VLow  float64 `yaml:"VLow" koanf:"VLow"`

	// Rails maps analog rail names to channels
	Rails map[string]int `yaml:"Rails" koanf:"Rails"`

	// Digitals maps digital line names to channels.  It must include the
	// SPI lines and APBCLK.
	Digitals map[string]int `yaml:"Digitals" koanf:"Digitals"`

	// SPIRate is the SPI bit rate in Hz; 0 is unpaced
	SPIRate float64 `yaml:"SPIRate" koanf:"SPIRate"`

	// ClockFreq is the APBCLK square wave frequency in Hz
	ClockFreq float64 `yaml:"ClockFreq" koanf:"ClockFreq"`
}

// DefaultConfig is the bench wiring of the gooseberry breakout
func DefaultConfig() Config {
	return Config{
		Transport: "tcp",
		Addr:      "192.168.100.2:5025",
		Baud:      115200,
		Timeout:   3 * time.Second,
		VHigh:     1.8,
		VLow:      0,
		Rails: map[string]int{
			gooseberry.RailVSS1P8:    2,
			gooseberry.RailVICL:      5,
			"VLFG":                   7,
			"VHFG":                   10,
			gooseberry.RailBGN1P0:    24,
			gooseberry.RailVDD1P8ANA: 29,
			gooseberry.RailVDD1P0:    32,
			gooseberry.RailVDD1P8:    34,
			"VSS1P0":                 36,
			gooseberry.RailBGN1P8:    39,
			gooseberry.RailBGP1P8:    45,
			gooseberry.RailBGP1P0:    46,
		},
		Digitals: map[string]int{
			LineMOSI:                 4,
			LineAPBCLK:               6,
			LineSSN:                  9,
			LineSCLK:                 13,
			gooseberry.DigitalResetN: 15,
			gooseberry.DigitalTMODE:  21,
		},
		SPIRate:   100,
		ClockFreq: 1000,
	}
}

// Rack is a DAC rack wired to a gooseberry breakout.  It implements
// gooseberry.SPIDevice.
type Rack struct {
	scpi.SCPI

	cfg      Config
	rails    []string
	digitals []string
	spi      *SPIController
}

// Maker returns the connection maker for cfg.Transport.  The mock transport
// needs a *Mock and is built with NewRackWithPool instead.
func Maker(cfg Config) (comm.CreationFunc, error) {
	switch cfg.Transport {
	case "tcp", "":
		return comm.BackingOffTCPConnMaker(cfg.Addr, cfg.Timeout), nil
	case "serial":
		return comm.BackingOffSerialConnMaker(comm.SerialConf(cfg.Addr, cfg.Baud, cfg.Timeout)), nil
	case "usb":
		return comm.USBTMCConnMaker(cfg.VID, cfg.PID), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTransport, cfg.Transport)
}

// NewRack connects to the rack described by cfg
func NewRack(cfg Config) (*Rack, error) {
	if cfg.Transport == "mock" {
		return NewRackWithPool(cfg, comm.NewPool(1, time.Minute, NewMock().Maker()))
	}
	maker, err := Maker(cfg)
	if err != nil {
		return nil, err
	}
	return NewRackWithPool(cfg, comm.NewPool(1, 30*time.Second, maker))
}

// NewRackWithPool builds a rack that talks over connections from pool
func NewRackWithPool(cfg Config, pool *comm.Pool) (*Rack, error) {
	for _, line := range []string{LineMOSI, LineSCLK, LineSSN, LineAPBCLK} {
		if _, ok := cfg.Digitals[line]; !ok {
			return nil, fmt.Errorf("%w: digital line %s", ErrUnknownChannel, line)
		}
	}
	r := &Rack{
		SCPI:     scpi.SCPI{Pool: pool, Handshaking: cfg.Handshaking},
		cfg:      cfg,
		rails:    byChannel(cfg.Rails),
		digitals: byChannel(cfg.Digitals),
	}
	r.spi = newSPIController(r, cfg.SPIRate, cfg.ClockFreq)
	return r, nil
}

// byChannel returns the names of m ordered by channel number
func byChannel(m map[string]int) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return m[names[i]] < m[names[j]] })
	return names
}

// Identify returns the *IDN? string
func (r *Rack) Identify() (string, error) {
	return r.ReadString("*IDN?")
}

// SetVoltage sets a DC voltage on a channel, stopping any waveform on it
func (r *Rack) SetVoltage(ch int, v float64) error {
	return r.Write(fmt.Sprintf("CH%d:VOLT %.6f", ch, v))
}

// Voltage reads back the voltage on a channel
func (r *Rack) Voltage(ch int) (float64, error) {
	return r.ReadFloat(fmt.Sprintf("CH%d:VOLT?", ch))
}

// SquareWave starts a square wave on a channel
func (r *Rack) SquareWave(ch int, freq, amplitude, offset float64) error {
	return r.Write(fmt.Sprintf("CH%d:AWG:SQU %g,%g,%g", ch, freq, amplitude, offset))
}

// Channel returns the channel of a rail or digital line
func (r *Rack) Channel(name string) (int, error) {
	if ch, ok := r.cfg.Rails[name]; ok {
		return ch, nil
	}
	if ch, ok := r.cfg.Digitals[name]; ok {
		return ch, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownChannel, name)
}

// SetRail sets an analog rail
func (r *Rack) SetRail(name string, v float64) error {
	ch, ok := r.cfg.Rails[name]
	if !ok {
		return fmt.Errorf("%w: rail %s", ErrUnknownChannel, name)
	}
	return r.SetVoltage(ch, v)
}

// Rails lists the analog rails in channel order
func (r *Rack) Rails() []string {
	return r.rails
}

// SetDigital drives a digital line to VHigh or VLow
func (r *Rack) SetDigital(name string, high bool) error {
	ch, ok := r.cfg.Digitals[name]
	if !ok {
		return fmt.Errorf("%w: digital line %s", ErrUnknownChannel, name)
	}
	v := r.cfg.VLow
	if high {
		v = r.cfg.VHigh
	}
	return r.SetVoltage(ch, v)
}

// ZeroDigital parks a digital line at 0V regardless of VLow
func (r *Rack) ZeroDigital(name string) error {
	ch, ok := r.cfg.Digitals[name]
	if !ok {
		return fmt.Errorf("%w: digital line %s", ErrUnknownChannel, name)
	}
	return r.SetVoltage(ch, 0)
}

// Digitals lists the digital lines in channel order
func (r *Rack) Digitals() []string {
	return r.digitals
}

// SPI returns the bit-banged register bus
func (r *Rack) SPI() regbus.Bus {
	return r.spi
}

// Readback reads every rail and digital line, keyed by name
func (r *Rack) Readback() (map[string]float64, error) {
	out := make(map[string]float64, len(r.rails)+len(r.digitals))
	for _, names := range [][]string{r.rails, r.digitals} {
		for _, name := range names {
			ch, _ := r.Channel(name)
			v, err := r.Voltage(ch)
			if err != nil {
				return out, fmt.Errorf("reading %s on CH%d: %w", name, ch, err)
			}
			out[name] = v
		}
	}
	return out, nil
}
