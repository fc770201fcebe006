package gooseberry_test

import (
	"fmt"
	"time"

	"github.com/nasa-jpl/gooseberry/gooseberry"
	"github.com/nasa-jpl/gooseberry/regbus"
)

var (
	fakeRails = []string{
		gooseberry.RailVSS1P8, gooseberry.RailVDD1P0, gooseberry.RailVDD1P8,
		gooseberry.RailVDD1P8ANA, gooseberry.RailBGN1P8, gooseberry.RailBGP1P8,
		gooseberry.RailBGN1P0, gooseberry.RailBGP1P0, gooseberry.RailVICL,
	}
	fakeDigitals = []string{gooseberry.DigitalResetN, gooseberry.DigitalTMODE}
)

// bench is a fake breakout that records rail, digital and bus activity in
// one ordered log
type bench struct {
	rails    []string
	digitals []string
	log      []string
	frames   [][]byte
	sleeps   []time.Duration
	clockOn  bool
	noSPI    bool

	failRail string
}

func newBench() *bench {
	return &bench{rails: fakeRails, digitals: fakeDigitals}
}

func (b *bench) SetRail(name string, v float64) error {
	b.log = append(b.log, fmt.Sprintf("rail %s %.2f", name, v))
	if name == b.failRail {
		return fmt.Errorf("rail %s is stuck", name)
	}
	return nil
}

func (b *bench) Rails() []string { return b.rails }

func (b *bench) SetDigital(name string, high bool) error {
	b.log = append(b.log, fmt.Sprintf("dig %s %v", name, high))
	return nil
}

func (b *bench) ZeroDigital(name string) error {
	b.log = append(b.log, fmt.Sprintf("dig %s 0.00", name))
	return nil
}

func (b *bench) Digitals() []string { return b.digitals }

func (b *bench) SPI() regbus.Bus {
	if b.noSPI {
		return nil
	}
	return b
}

func (b *bench) Transfer(p []byte) error {
	b.log = append(b.log, fmt.Sprintf("xfer %02x", p[3]))
	b.frames = append(b.frames, append([]byte(nil), p...))
	return nil
}

func (b *bench) ClockEnable(on bool) error {
	b.clockOn = on
	b.log = append(b.log, fmt.Sprintf("clk %v", on))
	return nil
}

func (b *bench) sleep(d time.Duration) {
	b.sleeps = append(b.sleeps, d)
	b.log = append(b.log, fmt.Sprintf("sleep %v", d))
}

// reset forgets everything recorded so far
func (b *bench) reset() {
	b.log = nil
	b.frames = nil
	b.sleeps = nil
}

// railOnly is a Device without a register bus
type railOnly struct{}

func (railOnly) SetRail(string, float64) error { return nil }
func (railOnly) Rails() []string               { return fakeRails }
func (railOnly) SetDigital(string, bool) error { return nil }
func (railOnly) ZeroDigital(string) error      { return nil }
func (railOnly) Digitals() []string            { return fakeDigitals }

// running returns a controller brought up to Running on a fresh bench
func running(settle time.Duration) (*gooseberry.Gooseberry, *bench, error) {
	b := newBench()
	cfg := gooseberry.DefaultConfig()
	cfg.SettlingDelay = settle
	gb, err := gooseberry.New(b, cfg)
	if err != nil {
		return nil, nil, err
	}
	gb.Sleep = b.sleep
	gb.Logger = nil
	if err = gb.PowerUp(); err != nil {
		return nil, nil, err
	}
	if err = gb.InitializeRegisters(); err != nil {
		return nil, nil, err
	}
	b.reset()
	return gb, b, nil
}
