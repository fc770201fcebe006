package comm_test

import (
	"bytes"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/gooseberry/comm"
)

// fakeConn is an in-memory connection that counts closes
type fakeConn struct {
	bytes.Buffer
	mu     sync.Mutex
	closed int
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed++
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type maker struct {
	mu    sync.Mutex
	made  []*fakeConn
	fails int
}

func (m *maker) make() (io.ReadWriteCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fails > 0 {
		m.fails--
		return nil, errors.New("no route to host")
	}
	c := &fakeConn{}
	m.made = append(m.made, c)
	return c, nil
}

func TestPoolReusesReturnedConn(t *testing.T) {
	m := &maker{}
	pool := comm.NewPool(2, time.Hour, m.make)
	c1, err := pool.Get()
	require.NoError(t, err)
	pool.Put(c1)
	c2, err := pool.Get()
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Len(t, m.made, 1)
	assert.Equal(t, 1, pool.Active())
	assert.Equal(t, 1, pool.Size())
}

func TestPoolBlocksAtCapacity(t *testing.T) {
	m := &maker{}
	pool := comm.NewPool(1, time.Hour, m.make)
	c1, err := pool.Get()
	require.NoError(t, err)

	got := make(chan io.ReadWriter, 1)
	go func() {
		c, _ := pool.Get()
		got <- c
	}()
	select {
	case <-got:
		t.Fatal("Get returned with every connection on lease")
	case <-time.After(50 * time.Millisecond):
	}
	pool.Put(c1)
	select {
	case c := <-got:
		assert.Same(t, c1, c)
	case <-time.After(time.Second):
		t.Fatal("Get did not wake after Put")
	}
}

func TestPoolReclaimsIdle(t *testing.T) {
	m := &maker{}
	pool := comm.NewPool(1, 10*time.Millisecond, m.make)
	c, err := pool.Get()
	require.NoError(t, err)
	pool.Put(c)
	require.Eventually(t, func() bool { return m.made[0].closes() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, pool.Size())
}

func TestPoolReturnWithError(t *testing.T) {
	m := &maker{}
	pool := comm.NewPool(1, time.Hour, m.make)
	c, err := pool.Get()
	require.NoError(t, err)
	pool.ReturnWithError(c, errors.New("garbled"))
	assert.Equal(t, 1, m.made[0].closes())
	assert.Equal(t, 0, pool.Size())

	c, err = pool.Get()
	require.NoError(t, err)
	assert.Len(t, m.made, 2)
	pool.ReturnWithError(c, nil)
	assert.Equal(t, 1, pool.Size())
}

func TestPoolMakerErrorFreesSlot(t *testing.T) {
	m := &maker{fails: 1}
	pool := comm.NewPool(1, time.Hour, m.make)
	_, err := pool.Get()
	assert.Error(t, err)
	_, err = pool.Get()
	assert.NoError(t, err)
}

func TestTerminator(t *testing.T) {
	c := &fakeConn{}
	term := comm.NewTerminator(c, '\n', '\r')
	n, err := io.WriteString(term, "CH1:VOLT?")
	require.NoError(t, err)
	assert.Equal(t, 9, n)
	assert.Equal(t, "CH1:VOLT?\n", c.String())

	c.Reset()
	c.WriteString("1.25\r")
	buf := make([]byte, 64)
	n, err = term.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "1.25", string(buf[:n]))

	c.WriteString("no terminator")
	_, err = term.Read(make([]byte, 4))
	assert.True(t, errors.Is(err, comm.ErrTerminatorNotFound))
}

func TestBackingOffTCPConnMaker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		io.Copy(conn, conn)
	}()

	conn, err := comm.BackingOffTCPConnMaker(ln.Addr().String(), time.Second)()
	require.NoError(t, err)
	defer conn.Close()
	wrap, err := comm.NewTimeout(comm.NewTerminator(conn, '\n', '\n'), time.Second)
	require.NoError(t, err)
	_, err = io.WriteString(wrap, "*IDN?")
	require.NoError(t, err)
	buf := make([]byte, 32)
	n, err := wrap.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "*IDN?", string(buf[:n]))
}

func TestBackingOffTCPConnMakerRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	start := time.Now()
	_, err = comm.BackingOffTCPConnMaker(addr, time.Second)()
	assert.Error(t, err)
	assert.Less(t, int64(time.Since(start)), int64(time.Second), "a refused connection is not retried")
}

func TestSerialMakerNeedsConfig(t *testing.T) {
	_, err := comm.BackingOffSerialConnMaker(nil)()
	assert.True(t, errors.Is(err, comm.ErrNoSerialConf))
}
