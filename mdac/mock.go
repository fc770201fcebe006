package mdac

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/nasa-jpl/gooseberry/comm"
)

// Wave is a square wave running on a mock channel
type Wave struct {
	Freq, Amplitude, Offset float64
}

// Mock is an in-memory rack.  It understands the same SCPI subset as the
// real one and records every command it accepts, for offline runs and tests.
type Mock struct {
	mu     sync.Mutex
	volts  map[int]float64
	waves  map[int]Wave
	log    []string
	errors []string

	// IDN is returned by *IDN?
	IDN string
}

// NewMock returns a mock rack with every channel at 0V
func NewMock() *Mock {
	return &Mock{
		volts: map[int]float64{},
		waves: map[int]Wave{},
		IDN:   "MOCK,MDAC,0,1.0",
	}
}

// Maker returns a connection maker whose connections all reach m
func (m *Mock) Maker() comm.CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return &mockConn{m: m}, nil
	}
}

// Log returns the accepted set commands in order
func (m *Mock) Log() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.log))
	copy(out, m.log)
	return out
}

// Voltage returns the DC level on a channel
func (m *Mock) Voltage(ch int) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volts[ch]
}

// Wave returns the waveform on a channel, and false if there is none
func (m *Mock) Wave(ch int) (Wave, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.waves[ch]
	return w, ok
}

// exec runs one command and returns the reply, "" for set commands
func (m *Mock) exec(cmd string) string {
	cmd = strings.TrimPrefix(strings.TrimSpace(cmd), ":")
	upper := strings.ToUpper(cmd)
	switch {
	case upper == "":
		return ""
	case upper == "*CLS":
		m.errors = nil
		return ""
	case upper == "*IDN?":
		return m.IDN
	case upper == "SYSTEM:ERROR?" || upper == "SYST:ERR?":
		if len(m.errors) == 0 {
			return `+0,"No error"`
		}
		e := m.errors[0]
		m.errors = m.errors[1:]
		return e
	case strings.HasPrefix(upper, "CH"):
		return m.channel(cmd, upper)
	}
	m.errors = append(m.errors, fmt.Sprintf(`-113,"Undefined header; %s"`, cmd))
	return ""
}

func (m *Mock) channel(cmd, upper string) string {
	colon := strings.IndexByte(upper, ':')
	if colon < 0 {
		m.errors = append(m.errors, fmt.Sprintf(`-113,"Undefined header; %s"`, cmd))
		return ""
	}
	ch, err := strconv.Atoi(upper[2:colon])
	if err != nil {
		m.errors = append(m.errors, fmt.Sprintf(`-114,"Header suffix out of range; %s"`, cmd))
		return ""
	}
	rest := upper[colon+1:]
	switch {
	case rest == "VOLT?":
		return strconv.FormatFloat(m.volts[ch], 'f', 6, 64)
	case strings.HasPrefix(rest, "VOLT "):
		v, err := strconv.ParseFloat(strings.TrimSpace(rest[5:]), 64)
		if err != nil {
			break
		}
		m.volts[ch] = v
		delete(m.waves, ch)
		m.log = append(m.log, cmd)
		return ""
	case strings.HasPrefix(rest, "AWG:SQU "):
		args := strings.Split(rest[8:], ",")
		if len(args) != 3 {
			break
		}
		var f [3]float64
		for i, a := range args {
			if f[i], err = strconv.ParseFloat(strings.TrimSpace(a), 64); err != nil {
				break
			}
		}
		if err != nil {
			break
		}
		m.waves[ch] = Wave{Freq: f[0], Amplitude: f[1], Offset: f[2]}
		m.log = append(m.log, cmd)
		return ""
	}
	m.errors = append(m.errors, fmt.Sprintf(`-224,"Illegal parameter value; %s"`, cmd))
	return ""
}

// mockConn is one connection to a Mock.  Replies are produced during Write
// and consumed by Read.
type mockConn struct {
	m   *Mock
	out bytes.Buffer
}

func (c *mockConn) Write(p []byte) (int, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	for _, line := range strings.Split(string(p), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var replies []string
		for _, cmd := range strings.Split(line, ";") {
			if r := c.m.exec(cmd); r != "" {
				replies = append(replies, r)
			}
		}
		if len(replies) > 0 {
			c.out.WriteString(strings.Join(replies, ";"))
			c.out.WriteByte('\n')
		}
	}
	return len(p), nil
}

func (c *mockConn) Read(p []byte) (int, error) {
	return c.out.Read(p)
}

func (c *mockConn) Close() error {
	return nil
}
