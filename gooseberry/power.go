package gooseberry

import (
	"errors"
	"fmt"
)

// State is the power state of the chip
type State int

const (
	// Unpowered means every rail is at 0V
	Unpowered State = iota

	// RailsUp means the rails are raised but the registers are not initialized
	RailsUp

	// Running means the registers hold their operating values
	Running
)

func (s State) String() string {
	switch s {
	case Unpowered:
		return "unpowered"
	case RailsUp:
		return "rails-up"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrInvalidTransition is generated when a power operation is called from a
// state it does not apply to
var ErrInvalidTransition = errors.New("invalid power state transition")

// State returns the current power state
func (g *Gooseberry) State() State {
	return g.state
}

func (g *Gooseberry) setRails(v float64, names ...string) error {
	for _, name := range names {
		g.logf("rail %s -> %.3f V", name, v)
		if err := g.dev.SetRail(name, v); err != nil {
			return fmt.Errorf("setting rail %s: %w", name, err)
		}
	}
	return nil
}

// PowerUp raises the rails in the only order that is safe for the die: the
// ground referenced low rails and back gates first, then the 1.8V rails, and
// the 1.0V rail last.  It ends with a hard reset.
func (g *Gooseberry) PowerUp() error {
	if g.state != Unpowered {
		return fmt.Errorf("%w: power up from %v", ErrInvalidTransition, g.state)
	}
	lo, hi := g.cfg.VLow, g.cfg.VHigh
	if err := g.dev.SetDigital(DigitalTMODE, false); err != nil {
		return err
	}
	if err := g.setRails(lo, RailVSS1P8, RailVDD1P0); err != nil {
		return err
	}
	if err := g.setRails(lo, BackGates...); err != nil {
		return err
	}
	if err := g.setRails(hi, RailVDD1P8, RailVDD1P8ANA); err != nil {
		return err
	}
	if err := g.setRails(lo+g.cfg.VDD1P0+g.cfg.Headroom, RailVDD1P0); err != nil {
		return err
	}
	g.state = RailsUp
	return g.HardReset()
}

// HardReset pulses the reset line low then high
func (g *Gooseberry) HardReset() error {
	if g.state == Unpowered {
		return fmt.Errorf("%w: hard reset while %v", ErrInvalidTransition, g.state)
	}
	g.logf("hard reset")
	if err := g.dev.SetDigital(DigitalResetN, false); err != nil {
		return err
	}
	return g.dev.SetDigital(DigitalResetN, true)
}

// InitializeRegisters zeroes every register and writes them all, then writes
// the operating mode: debug mux selection, external clock disabled and the
// charge-lock domain selection.
func (g *Gooseberry) InitializeRegisters() error {
	if g.state == Unpowered {
		return fmt.Errorf("%w: initialize registers while %v", ErrInvalidTransition, g.state)
	}
	for _, r := range g.order {
		r.Zero()
	}
	if err := g.bus.WriteBatch(g.order...); err != nil {
		return err
	}

	dbg, ctl := g.regs[DBGCTL], g.regs[CTL1]
	fields := []struct {
		reg   string
		field string
		v     uint64
	}{
		{DBGCTL, "DTEST1_MUX", uint64(g.cfg.DTest1)},
		{DBGCTL, "DTEST2_MUX", uint64(g.cfg.DTest2)},
		{CTL1, "EN_SEL", 1},
		{CTL1, "XCLK_DIS", 1},
		{CTL1, "FG_SEL", 1},
		{CTL1, "BEGIN_CHRG", 0},
		{CTL1, "CHRG_SEL", 3},
	}
	for _, f := range fields {
		if err := g.regs[f.reg].SetField(f.field, f.v); err != nil {
			return err
		}
	}
	if err := g.bus.WriteBatch(dbg, ctl, g.regs[CLMODE]); err != nil {
		return err
	}
	g.state = Running
	g.logf("registers initialized")
	return nil
}

// Reset is HardReset followed by InitializeRegisters
func (g *Gooseberry) Reset() error {
	if err := g.HardReset(); err != nil {
		return err
	}
	return g.InitializeRegisters()
}

// PowerDown drives every digital line and every rail to 0V.  Order does
// not matter on the way down.  It keeps going past failures and returns the
// first one.  Committed register values and gate voltages are forgotten.
func (g *Gooseberry) PowerDown() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	for _, name := range g.dev.Digitals() {
		keep(g.dev.ZeroDigital(name))
	}
	for _, name := range g.dev.Rails() {
		keep(g.dev.SetRail(name, 0))
	}
	for _, r := range g.order {
		r.Invalidate()
	}
	for _, h := range g.gates {
		h.forget()
	}
	g.state = Unpowered
	g.logf("powered down")
	return first
}
