package gooseberry

import (
	"github.com/nasa-jpl/gooseberry/register"
)

// Register names
const (
	IOCTL  = "IOCTL"
	DBGCTL = "DBGCTL"
	CTL1   = "CTL1"
	CLEN   = "CLEN"
	CLMODE = "CLMODE"
	TST    = "TST"
	DCSR   = "DCSR"
	CLKCTL = "CLKCTL"
	FGSR   = "FGSR"
	FGSR0  = "FGSR0"
	FGSR1  = "FGSR1"
	FGSR2  = "FGSR2"
	FGSR3  = "FGSR3"
)

// DebugSignal selects what the DTEST pins observe through DBGCTL
type DebugSignal uint64

const (
	DebugAPBCLK DebugSignal = iota
	DebugSCLK
	DebugAPBCTLNewReq
	DebugOSCCLK
	DebugCLCLKOut
	DebugCLFG
	DebugCLCHRG
	DebugFSMIdleB1
)

func bf(name string, start, end uint) register.BitField {
	return register.BitField{Name: name, Start: start, End: end}
}

// newRegisterTable builds the register set of the chip in bus write order.
// FGSR0..3 alias the 128 bit FGSR one word at a time.
func newRegisterTable() []*register.Register {
	return []*register.Register{
		register.MustNew(IOCTL, 0x04, 0, true, bf("DRIVE", 0, 2)),
		register.MustNew(DBGCTL, 0x08, 0, true, bf("DTEST1_MUX", 0, 2), bf("DTEST2_MUX", 3, 5)),
		register.MustNew(CTL1, 0x0C, 0, true,
			bf("EN_SEL", 0, 0),
			bf("XCLK_DIS", 1, 1),
			bf("FG_SEL", 2, 3),
			bf("BEGIN_CHRG", 4, 5),
			bf("CHRG_SEL", 6, 7),
			bf("FGSR_EN", 8, 8)),
		register.MustNew(CLEN, 0x10, 0, true, bf("CLEN", 0, 31)),
		register.MustNew(CLMODE, 0x14, 0, true, bf("CLMODE", 0, 15)),
		register.MustNew(TST, 0x18, 0, true, bf("TST", 0, 31)),
		register.MustNew(DCSR, 0x1C, 0, true, bf("DCSR", 0, 15)),
		register.MustNew(CLKCTL, 0x20, 0, true,
			bf("FDIV", 0, 7),
			bf("OSC_SEL", 8, 8),
			bf("OSC_TRIM", 9, 16),
			bf("OSC_EN", 17, 17)),
		register.MustNew(FGSR, 0x24, 128, true, bf("FGSR", 0, 127)),
		register.MustNew(FGSR0, 0x24, 0, true, bf("FGSR0", 0, 31)),
		register.MustNew(FGSR1, 0x28, 0, true, bf("FGSR1", 0, 31)),
		register.MustNew(FGSR2, 0x2C, 0, true, bf("FGSR2", 0, 31)),
		register.MustNew(FGSR3, 0x30, 0, true, bf("FGSR3", 0, 31)),
	}
}
