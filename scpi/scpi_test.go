package scpi_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/gooseberry/comm"
	"github.com/nasa-jpl/gooseberry/scpi"
)

// canned answers each line written to it from a table, and records the lines
type canned struct {
	replies map[string]string
	sent    []string
	out     bytes.Buffer
	closed  bool
}

func (c *canned) Write(p []byte) (int, error) {
	line := strings.TrimSuffix(string(p), "\n")
	c.sent = append(c.sent, line)
	if r, ok := c.replies[line]; ok {
		c.out.WriteString(r + "\n")
	}
	return len(p), nil
}

func (c *canned) Read(p []byte) (int, error) { return c.out.Read(p) }

func (c *canned) Close() error {
	c.closed = true
	return nil
}

func newSCPI(c *canned, handshake bool) *scpi.SCPI {
	maker := func() (io.ReadWriteCloser, error) { return c, nil }
	return &scpi.SCPI{Pool: comm.NewPool(1, time.Hour, maker), Handshaking: handshake}
}

func TestReadFloat(t *testing.T) {
	c := &canned{replies: map[string]string{"CH5:VOLT?": "0.250000\r"}}
	s := newSCPI(c, false)
	v, err := s.ReadFloat("CH5:VOLT?")
	require.NoError(t, err)
	assert.Equal(t, 0.25, v)
}

func TestWriteWithoutHandshake(t *testing.T) {
	c := &canned{}
	s := newSCPI(c, false)
	require.NoError(t, s.Write("CH5:VOLT", "0.1"))
	assert.Equal(t, []string{"CH5:VOLT 0.1"}, c.sent)
}

func TestHandshake(t *testing.T) {
	c := &canned{replies: map[string]string{
		"*CLS; CH5:VOLT 0.1 ;:SYSTem:ERRor?": `+0,"No error"`,
		"*CLS; CH5:VOLT 9 ;:SYSTem:ERRor?":   `-222,"Data out of range"`,
		"*CLS; CH5:VOLT? ;:SYSTem:ERRor?":    `0.100000;+0,"No error"`,
	}}
	s := newSCPI(c, true)
	require.NoError(t, s.Write("CH5:VOLT 0.1"))

	err := s.Write("CH5:VOLT 9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "-222")
	assert.False(t, c.closed, "a device error keeps the link")

	str, err := s.ReadString("CH5:VOLT?")
	require.NoError(t, err)
	assert.Equal(t, "0.100000", str)
}

func TestEmptyResponse(t *testing.T) {
	c := &canned{replies: map[string]string{"*IDN?": ""}}
	s := newSCPI(c, false)
	_, err := s.ReadString("*IDN?")
	assert.True(t, errors.Is(err, scpi.ErrEmptyResponse))
}

func TestAllErrors(t *testing.T) {
	queue := []string{`-113,"Undefined header"`, `-222,"Data out of range"`, `+0,"No error"`}
	c := &queueConn{queue: queue}
	maker := func() (io.ReadWriteCloser, error) { return c, nil }
	s := &scpi.SCPI{Pool: comm.NewPool(1, time.Hour, maker)}

	str, err := s.AllErrorsString()
	require.Error(t, err)
	assert.Equal(t, "-113,\"Undefined header\"\n-222,\"Data out of range\"", str)
}

// queueConn answers every query with the next entry of queue
type queueConn struct {
	queue []string
	out   bytes.Buffer
}

func (q *queueConn) Write(p []byte) (int, error) {
	if len(q.queue) > 0 {
		q.out.WriteString(q.queue[0] + "\n")
		q.queue = q.queue[1:]
	}
	return len(p), nil
}

func (q *queueConn) Read(p []byte) (int, error) { return q.out.Read(p) }

func (q *queueConn) Close() error { return nil }
