/*Package comm provides connection plumbing for instruments: a pool of leased
connections, makers that open TCP, serial and USBTMC links with retry, and
wrappers that add line terminators and deadlines.

Typical usage, for a rack on a terminal server:

	maker := comm.BackingOffTCPConnMaker("192.168.100.2:5025", 3*time.Second)
	pool := comm.NewPool(1, 30*time.Second, maker)
	conn, err := pool.Get()
	if err != nil {
		return err
	}
	defer func() { pool.ReturnWithError(conn, err) }()
	wrap := comm.NewTerminator(conn, '\n', '\n')
	_, err = io.WriteString(wrap, "*IDN?")
*/
package comm

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"

	"github.com/nasa-jpl/gooseberry/usbtmc"
)

var (
	// ErrNoSerialConf is generated when a serial maker is given a nil config
	ErrNoSerialConf = errors.New("serial connection maker needs a non-nil serial.Config")

	// ErrTerminatorNotFound is generated when the termination byte is not found in a response
	ErrTerminatorNotFound = errors.New("termination byte not found")
)

// CreationFunc is a function which returns a new "connection" to something.
// A closure should be used to encapsulate the variables needed.
type CreationFunc func() (io.ReadWriteCloser, error)

// connectBackoff is the schedule used when opening links.  Instruments do
// not like being connection thrashed.
func connectBackoff() backoff.BackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0.,
		Multiplier:          2.,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock}
}

// retryOpen runs open until it succeeds or the backoff gives up.  A refused
// connection is final; the remote is there and said no.
func retryOpen(what string, open func() (io.ReadWriteCloser, error)) (io.ReadWriteCloser, error) {
	var conn io.ReadWriteCloser
	op := func() error {
		c, err := open()
		if err != nil {
			if strings.Contains(strings.ToLower(err.Error()), "refused") {
				return backoff.Permanent(err)
			}
			return err
		}
		conn = c
		return nil
	}
	b := connectBackoff()
	b.Reset()
	if err := backoff.Retry(op, b); err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", what, err)
	}
	return conn, nil
}

// BackingOffTCPConnMaker returns a CreationFunc that dials addr over TCP,
// retrying with exponential backoff.  timeout bounds each dial.
func BackingOffTCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return retryOpen(addr, func() (io.ReadWriteCloser, error) {
			return net.DialTimeout("tcp", addr, timeout)
		})
	}
}

// BackingOffSerialConnMaker returns a CreationFunc that opens a serial port,
// retrying with exponential backoff
func BackingOffSerialConnMaker(conf *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		if conf == nil {
			return nil, ErrNoSerialConf
		}
		return retryOpen(conf.Name, func() (io.ReadWriteCloser, error) {
			return serial.OpenPort(conf)
		})
	}
}

// USBTMCConnMaker returns a CreationFunc that opens a USB Test and
// Measurement Class device by vendor and product ID
func USBTMCConnMaker(vid, pid uint16) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return retryOpen(fmt.Sprintf("usb %04x:%04x", vid, pid), func() (io.ReadWriteCloser, error) {
			return usbtmc.NewUSBDevice(vid, pid)
		})
	}
}

// SerialConf returns a serial config for an 8N1 port with a read timeout
func SerialConf(name string, baud int, timeout time.Duration) *serial.Config {
	return &serial.Config{
		Name:        name,
		Baud:        baud,
		ReadTimeout: timeout,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
	}
}
