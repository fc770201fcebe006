package gooseberry

import (
	"fmt"
	"math/bits"
)

// ClockConfig is the state of the internal oscillator and clock divider
type ClockConfig struct {
	// FDiv is the clock divider, 8 bits
	FDiv uint64 `json:"fdiv" yaml:"FDiv" koanf:"FDiv"`

	// OscSel selects the internal oscillator (1) or the external clock (0)
	OscSel uint64 `json:"oscSel" yaml:"OscSel" koanf:"OscSel"`

	// OscTrim is a one-hot 8 bit trim; it must be 0 when the oscillator is off
	OscTrim uint64 `json:"oscTrim" yaml:"OscTrim" koanf:"OscTrim"`

	// OscEnable turns the internal oscillator on
	OscEnable bool `json:"oscEnable" yaml:"OscEnable" koanf:"OscEnable"`
}

// DefaultClock is the slowest divider on the internal oscillator with the
// lowest trim
func DefaultClock() ClockConfig {
	return ClockConfig{FDiv: 255, OscSel: 1, OscTrim: 1, OscEnable: true}
}

// Validate checks the trim against the enable state
func (c ClockConfig) Validate() error {
	if c.OscEnable {
		if bits.OnesCount64(c.OscTrim) != 1 {
			return fmt.Errorf("%w: %#b must have exactly one bit set with the oscillator enabled", ErrInvalidOscillatorTrim, c.OscTrim)
		}
		return nil
	}
	if c.OscTrim != 0 {
		return fmt.Errorf("%w: %#b must be 0 with the oscillator disabled", ErrInvalidOscillatorTrim, c.OscTrim)
	}
	return nil
}

// SetClock validates c and writes CLKCTL.  Nothing is written if c is invalid
// or a value does not fit its field.
func (g *Gooseberry) SetClock(c ClockConfig) error {
	if err := c.Validate(); err != nil {
		return err
	}
	var en uint64
	if c.OscEnable {
		en = 1
	}
	r := g.regs[CLKCTL]
	prev := r.Value()
	for _, f := range []struct {
		name string
		v    uint64
	}{
		{"FDIV", c.FDiv},
		{"OSC_SEL", c.OscSel},
		{"OSC_TRIM", c.OscTrim},
		{"OSC_EN", en},
	} {
		if err := r.SetField(f.name, f.v); err != nil {
			r.Restore(prev)
			return err
		}
	}
	return g.bus.WriteOne(r)
}
