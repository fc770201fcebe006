package comm

import (
	"io"
	"time"
)

// deadliner is anything that supports read and write deadlines, e.g. net.Conn
type deadliner interface {
	SetDeadline(time.Time) error
}

// Terminator appends a transmit terminator to every Write and reads until
// the receive terminator, which it strips
type Terminator struct {
	rw     io.ReadWriter
	tx, rx byte
}

// NewTerminator wraps rw with the given transmit and receive terminators
func NewTerminator(rw io.ReadWriter, tx, rx byte) *Terminator {
	return &Terminator{rw: rw, tx: tx, rx: rx}
}

// Write sends p followed by the transmit terminator.  The count does not
// include the terminator.
func (t *Terminator) Write(p []byte) (int, error) {
	buf := make([]byte, 0, len(p)+1)
	buf = append(buf, p...)
	buf = append(buf, t.tx)
	n, err := t.rw.Write(buf)
	if n > len(p) {
		n = len(p)
	}
	return n, err
}

// Read fills p until the receive terminator arrives and returns the data
// before it.  ErrTerminatorNotFound is returned if p fills first.
func (t *Terminator) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		m, err := t.rw.Read(p[n:])
		n += m
		if n > 0 && p[n-1] == t.rx {
			return n - 1, nil
		}
		if err != nil {
			return n, err
		}
	}
	return n, ErrTerminatorNotFound
}

// SetDeadline forwards to the wrapped connection if it supports deadlines
func (t *Terminator) SetDeadline(d time.Time) error {
	if dl, ok := t.rw.(deadliner); ok {
		return dl.SetDeadline(d)
	}
	return nil
}

// NewTimeout sets a deadline timeout from now on rw if it supports
// deadlines.  Links without deadlines, like serial ports, rely on their own
// read timeout and are returned as-is.
func NewTimeout(rw io.ReadWriter, timeout time.Duration) (io.ReadWriter, error) {
	if dl, ok := rw.(deadliner); ok {
		if err := dl.SetDeadline(time.Now().Add(timeout)); err != nil {
			return nil, err
		}
	}
	return rw, nil
}
