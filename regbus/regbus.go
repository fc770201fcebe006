/*Package regbus pushes register values to a device over a clocked serial bus.

Each register write is one frame: a fixed preamble, the register's bus
address, then the register value, MSB first.  The device only latches data
while its bus clock toggles, so every transfer happens with the clock running.
A standalone write starts the clock, transfers and stops it again.  Writing
several registers back to back is faster and quieter with the clock held open
for the whole sequence; WriteBatch and HoldClock do that.

Writes are fire-and-forget: there is no read back.  A register is committed
only after its transfer returns without error.
*/
package regbus

import (
	"errors"
	"fmt"
	"log"

	"github.com/nasa-jpl/gooseberry/register"
)

var (
	// ErrBusTransferFailed is generated when the raw bus transfer reports a failure
	ErrBusTransferFailed = errors.New("bus transfer failed")

	// preamble is the framing header that precedes the address byte
	preamble = [...]byte{0x00, 0x00, 0xF0}
)

// TransferError describes a failed register write.  It matches
// ErrBusTransferFailed with errors.Is and unwraps to the bus error.
type TransferError struct {
	Register string
	Err      error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("%v: writing %s: %v", ErrBusTransferFailed, e.Register, e.Err)
}

// Is reports whether target is ErrBusTransferFailed
func (e *TransferError) Is(target error) bool {
	return target == ErrBusTransferFailed
}

// Unwrap returns the bus error
func (e *TransferError) Unwrap() error {
	return e.Err
}

// Bus is the raw serial primitive a Transport writes through
type Bus interface {
	// Transfer shifts the bytes out on the bus
	Transfer([]byte) error

	// ClockEnable starts (true) or stops (false) the bus clock
	ClockEnable(bool) error
}

// Frame returns the bytes sent on the bus for one write of r
func Frame(r *register.Register) []byte {
	payload := r.Bytes()
	out := make([]byte, 0, len(preamble)+1+len(payload))
	out = append(out, preamble[:]...)
	out = append(out, r.Address)
	return append(out, payload...)
}

// Transport writes registers over a Bus.  It is not safe for concurrent use;
// a held clock window must not be interleaved with other writes.
type Transport struct {
	bus  Bus
	held bool

	// Logger receives one line per frame when Verbose is true
	Logger  *log.Logger
	Verbose bool
}

// New returns a Transport with the clock assumed stopped
func New(bus Bus) *Transport {
	return &Transport{bus: bus, Logger: log.Default()}
}

// ManualClockHeld is true while a caller holds the clock open
func (t *Transport) ManualClockHeld() bool {
	return t.held
}

// HoldClock keeps the bus clock running until the returned release func is
// called.  Holds nest: only the outermost hold starts and stops the clock,
// and release always restores the flag to what it was on entry.  Release
// may be called more than once.
func (t *Transport) HoldClock() (release func() error, err error) {
	if t.held {
		return func() error { return nil }, nil
	}
	if err := t.bus.ClockEnable(true); err != nil {
		return func() error { return nil }, fmt.Errorf("starting bus clock: %w", err)
	}
	t.held = true
	done := false
	return func() error {
		if done {
			return nil
		}
		done = true
		t.held = false
		return t.bus.ClockEnable(false)
	}, nil
}

// WriteOne transfers the shadow value of r and commits it on success.
// If no clock hold is active the clock runs only for this transfer.
func (t *Transport) WriteOne(r *register.Register) (err error) {
	release, err := t.HoldClock()
	if err != nil {
		return err
	}
	defer func() {
		if rerr := release(); rerr != nil && err == nil {
			err = fmt.Errorf("stopping bus clock: %w", rerr)
		}
	}()

	frame := Frame(r)
	if t.Verbose && t.Logger != nil {
		t.Logger.Printf("regbus: %s @%#02x <- % x", r.Name, r.Address, frame)
	}
	if err := t.bus.Transfer(frame); err != nil {
		return &TransferError{Register: r.Name, Err: err}
	}
	r.Commit()
	return nil
}

// WriteBatch writes the registers in order with the clock held open for the
// whole sequence.  It stops at the first failure; registers written before
// it remain committed.
func (t *Transport) WriteBatch(regs ...*register.Register) (err error) {
	release, err := t.HoldClock()
	if err != nil {
		return err
	}
	defer func() {
		if rerr := release(); rerr != nil && err == nil {
			err = fmt.Errorf("stopping bus clock: %w", rerr)
		}
	}()
	for _, r := range regs {
		if err := t.WriteOne(r); err != nil {
			return err
		}
	}
	return nil
}
