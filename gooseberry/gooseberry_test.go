package gooseberry_test

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/gooseberry/gooseberry"
	"github.com/nasa-jpl/gooseberry/register"
)

func TestNewRejectsDeviceWithoutBus(t *testing.T) {
	_, err := gooseberry.New(railOnly{}, gooseberry.DefaultConfig())
	assert.True(t, errors.Is(err, gooseberry.ErrDeviceTypeMismatch))

	b := newBench()
	b.noSPI = true
	_, err = gooseberry.New(b, gooseberry.DefaultConfig())
	assert.True(t, errors.Is(err, gooseberry.ErrDeviceTypeMismatch))
}

func TestNewRejectsMissingLines(t *testing.T) {
	b := newBench()
	b.rails = fakeRails[:len(fakeRails)-1] // no VICL
	_, err := gooseberry.New(b, gooseberry.DefaultConfig())
	require.Error(t, err)
	assert.True(t, errors.Is(err, gooseberry.ErrMissingLine))
	assert.Contains(t, err.Error(), gooseberry.RailVICL)

	b = newBench()
	b.digitals = []string{gooseberry.DigitalTMODE}
	_, err = gooseberry.New(b, gooseberry.DefaultConfig())
	assert.True(t, errors.Is(err, gooseberry.ErrMissingLine))
}

func TestPowerUpOrder(t *testing.T) {
	b := newBench()
	cfg := gooseberry.DefaultConfig()
	cfg.Headroom = 0.05
	gb, err := gooseberry.New(b, cfg)
	require.NoError(t, err)
	gb.Logger = nil

	require.NoError(t, gb.PowerUp())
	want := []string{
		"dig TMODE false",
		"rail VSS1P8 0.00",
		"rail VDD1P0 0.00",
		"rail BGN1P8 0.00",
		"rail BGP1P8 0.00",
		"rail BGN1P0 0.00",
		"rail BGP1P0 0.00",
		"rail VDD1P8 1.80",
		"rail VDD1P8_ANA 1.80",
		"rail VDD1P0 1.05",
		"dig RST_N false",
		"dig RST_N true",
	}
	if diff := cmp.Diff(want, b.log); diff != "" {
		t.Errorf("power up sequence mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, gooseberry.RailsUp, gb.State())
	assert.Empty(t, b.frames, "power up must not touch the register bus")
}

func TestInitializeRegisters(t *testing.T) {
	b := newBench()
	gb, err := gooseberry.New(b, gooseberry.DefaultConfig())
	require.NoError(t, err)
	gb.Logger = nil
	require.NoError(t, gb.PowerUp())
	b.reset()

	require.NoError(t, gb.InitializeRegisters())
	want := []string{
		"clk true",
		"xfer 04", "xfer 08", "xfer 0c", "xfer 10", "xfer 14", "xfer 18", "xfer 1c",
		"xfer 20", "xfer 24", "xfer 24", "xfer 28", "xfer 2c", "xfer 30",
		"clk false",
		"clk true",
		"xfer 08", "xfer 0c", "xfer 14",
		"clk false",
	}
	if diff := cmp.Diff(want, b.log); diff != "" {
		t.Errorf("initialization mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, gooseberry.Running, gb.State())

	dbg, err := gb.Register(gooseberry.DBGCTL).CommittedField("DTEST1_MUX")
	require.NoError(t, err)
	assert.Equal(t, uint64(gooseberry.DebugFSMIdleB1), dbg)
	ctl := gb.Register(gooseberry.CTL1)
	for field, v := range map[string]uint64{"EN_SEL": 1, "XCLK_DIS": 1, "FG_SEL": 1, "BEGIN_CHRG": 0, "CHRG_SEL": 3} {
		got, err := ctl.CommittedField(field)
		require.NoError(t, err)
		assert.Equal(t, v, got, field)
	}
	_, ok := gb.EnabledOwner()
	assert.False(t, ok)
}

func TestTransitions(t *testing.T) {
	b := newBench()
	gb, err := gooseberry.New(b, gooseberry.DefaultConfig())
	require.NoError(t, err)
	gb.Logger = nil

	assert.True(t, errors.Is(gb.HardReset(), gooseberry.ErrInvalidTransition))
	assert.True(t, errors.Is(gb.InitializeRegisters(), gooseberry.ErrInvalidTransition))
	assert.True(t, errors.Is(gb.Reset(), gooseberry.ErrInvalidTransition))
	assert.Empty(t, b.log)

	require.NoError(t, gb.PowerUp())
	assert.True(t, errors.Is(gb.PowerUp(), gooseberry.ErrInvalidTransition))
	require.NoError(t, gb.Reset())
	assert.Equal(t, gooseberry.Running, gb.State())
	assert.Equal(t, "running", gb.State().String())
}

func TestSingleRoundTrip(t *testing.T) {
	gb, b, err := running(time.Millisecond)
	require.NoError(t, err)
	for i := 0; i <= gooseberry.MaxGate; i++ {
		require.NoError(t, gb.EnableSingle(i))
		owner, ok := gb.EnabledOwner()
		require.True(t, ok, "gate %d", i)
		assert.False(t, owner.IsCluster())
		assert.Equal(t, []int{i}, owner.IDs())
		assert.True(t, owner.Equal(gooseberry.Single(i)))
	}
	assert.Len(t, b.frames, gooseberry.MaxGate+1)
}

func TestClusterRoundTrip(t *testing.T) {
	gb, b, err := running(time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, gb.EnableCluster(20, 18))

	owner, ok := gb.EnabledOwner()
	require.True(t, ok)
	assert.True(t, owner.IsCluster())
	assert.Equal(t, []int{18, 20}, owner.IDs())
	assert.True(t, owner.Equal(gooseberry.Cluster(20, 18)))
	require.Len(t, b.frames, 1)
	assert.Equal(t, []byte{0x00, 0x00, 0xF0, 0x10, 0x00, 0x14, 0x00, 0x00}, b.frames[0])
}

func TestDisableAllClearsOwner(t *testing.T) {
	gb, _, err := running(time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, gb.EnableSingle(7))
	require.NoError(t, gb.DisableAll())
	_, ok := gb.EnabledOwner()
	assert.False(t, ok)
}

func TestInvalidGateWritesNothing(t *testing.T) {
	gb, b, err := running(time.Millisecond)
	require.NoError(t, err)
	assert.True(t, errors.Is(gb.EnableSingle(32), gooseberry.ErrInvalidGate))
	assert.True(t, errors.Is(gb.EnableSingle(-1), gooseberry.ErrInvalidGate))
	assert.True(t, errors.Is(gb.EnableCluster(), gooseberry.ErrInvalidGate))
	assert.True(t, errors.Is(gb.EnableCluster(3, 40), gooseberry.ErrInvalidGate))
	assert.True(t, errors.Is(gb.EnableATest(32), gooseberry.ErrInvalidGate))
	assert.Empty(t, b.log)
}

func TestEnableAllExcept(t *testing.T) {
	gb, b, err := running(time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, gb.EnableAllExcept(3))
	assert.Equal(t, []byte{0x00, 0x00, 0xF0, 0x10, 0xFF, 0xFF, 0xFF, 0xF7}, b.frames[0])
	owner, ok := gb.EnabledOwner()
	require.True(t, ok)
	assert.Len(t, owner.IDs(), 31)
	assert.NotContains(t, owner.IDs(), 3)
}

func TestEnableATest(t *testing.T) {
	gb, b, err := running(time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, gb.EnableATest(5))
	assert.Equal(t, []byte{0x00, 0x00, 0xF0, 0x18, 0x00, 0x00, 0x00, 0x20}, b.frames[0])
}

func TestDecodeMask(t *testing.T) {
	_, ok := gooseberry.DecodeMask(0)
	assert.False(t, ok)

	id, ok := gooseberry.DecodeMask(1 << 31)
	require.True(t, ok)
	assert.Equal(t, []int{31}, id.IDs())
	assert.Equal(t, "gate 31", id.String())

	id, ok = gooseberry.DecodeMask(0b1010)
	require.True(t, ok)
	assert.Equal(t, "cluster [1 3]", id.String())
}

func TestSetClock(t *testing.T) {
	gb, b, err := running(time.Millisecond)
	require.NoError(t, err)

	require.NoError(t, gb.SetClock(gooseberry.DefaultClock()))
	assert.Equal(t, []byte{0x00, 0x00, 0xF0, 0x20, 0x00, 0x02, 0x03, 0xFF}, b.frames[0])

	off := gooseberry.ClockConfig{FDiv: 1, OscSel: 0, OscTrim: 0, OscEnable: false}
	require.NoError(t, gb.SetClock(off))
	assert.Len(t, b.frames, 2)
}

func TestSetClockRejectsBadTrim(t *testing.T) {
	gb, b, err := running(time.Millisecond)
	require.NoError(t, err)
	before := gb.Register(gooseberry.CLKCTL).Value()

	cases := []gooseberry.ClockConfig{
		{FDiv: 255, OscSel: 1, OscTrim: 0, OscEnable: true},
		{FDiv: 255, OscSel: 1, OscTrim: 0b11, OscEnable: true},
		{FDiv: 255, OscSel: 1, OscTrim: 1, OscEnable: false},
	}
	for _, c := range cases {
		assert.True(t, errors.Is(gb.SetClock(c), gooseberry.ErrInvalidOscillatorTrim), "%+v", c)
	}
	assert.Empty(t, b.frames)
	assert.Equal(t, 0, before.Cmp(gb.Register(gooseberry.CLKCTL).Value()))
}

func TestSetClockRollsBackEarlierFields(t *testing.T) {
	gb, b, err := running(time.Millisecond)
	require.NoError(t, err)
	before := gb.Register(gooseberry.CLKCTL).Value()

	c := gooseberry.DefaultClock()
	c.FDiv = 7
	c.OscSel = 2
	err = gb.SetClock(c)
	assert.True(t, errors.Is(err, register.ErrFieldOverflow))
	assert.Empty(t, b.frames)
	assert.Equal(t, 0, before.Cmp(gb.Register(gooseberry.CLKCTL).Value()))
	fdiv, err := gb.Register(gooseberry.CLKCTL).Field("FDIV")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), fdiv)
}

func TestSetClockOverflowLeavesShadow(t *testing.T) {
	gb, b, err := running(time.Millisecond)
	require.NoError(t, err)
	before := gb.Register(gooseberry.CLKCTL).Value()

	c := gooseberry.DefaultClock()
	c.FDiv = 256
	err = gb.SetClock(c)
	assert.True(t, errors.Is(err, register.ErrFieldOverflow))
	assert.Empty(t, b.frames)
	assert.Equal(t, 0, before.Cmp(gb.Register(gooseberry.CLKCTL).Value()))
}

func TestPowerDown(t *testing.T) {
	gb, b, err := running(time.Millisecond)
	require.NoError(t, err)
	p1, err := gb.AddGate("P1", gooseberry.Single(4), 0)
	require.NoError(t, err)
	require.NoError(t, p1.SetVoltage(0.5))
	b.reset()

	require.NoError(t, gb.PowerDown())
	assert.Equal(t, gooseberry.Unpowered, gb.State())
	assert.Equal(t, "dig RST_N 0.00", b.log[0])
	assert.Equal(t, "dig TMODE 0.00", b.log[1])
	assert.Len(t, b.log, len(fakeDigitals)+len(fakeRails))
	for _, l := range b.log {
		assert.Contains(t, l, " 0.00")
	}
	_, ok := gb.EnabledOwner()
	assert.False(t, ok)
	_, ok = p1.LastVoltage()
	assert.False(t, ok)
}

func TestPowerDownContinuesPastFailure(t *testing.T) {
	gb, b, err := running(time.Millisecond)
	require.NoError(t, err)
	b.failRail = gooseberry.RailVDD1P0

	err = gb.PowerDown()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stuck")
	assert.Len(t, b.log, len(fakeDigitals)+len(fakeRails))
	assert.Equal(t, gooseberry.Unpowered, gb.State())
}

func TestSnapshot(t *testing.T) {
	gb, _, err := running(time.Second)
	require.NoError(t, err)
	j, err := gb.AddGate("J", gooseberry.Cluster(18, 20), 0)
	require.NoError(t, err)
	require.NoError(t, j.SetVoltage(0.25))

	s := gb.Snapshot()
	assert.Equal(t, "running", s.State)
	assert.Equal(t, []int{18, 20}, s.Owner)
	assert.False(t, s.ManualClock)
	require.Len(t, s.Gates, 1)
	assert.Equal(t, "J", s.Gates[0].Name)
	assert.Equal(t, "1s", s.Gates[0].Settling)
	require.NotNil(t, s.Gates[0].LastVoltage)
	assert.Equal(t, 0.25, *s.Gates[0].LastVoltage)
	assert.Len(t, s.Registers, len(gb.Registers()))
}
