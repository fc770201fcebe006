// Package scpi provides primitives for working with devices that
// have SCPI interfaces
package scpi

import (
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/nasa-jpl/gooseberry/comm"
)

const (
	timeout = 5 * time.Second

	tcpFrameSize = 1500
)

// ErrEmptyResponse is generated when a query returns no data
var ErrEmptyResponse = errors.New("empty response from device")

// SCPI is a type for encapsulating SCPI communication
type SCPI struct {
	Pool *comm.Pool

	// Handshaking indicates if the communication shall use handshaking,
	// where an error query is sent with every message
	// to ensure the device accepted the input
	Handshaking bool
}

// deviceError turns an error queue entry into an error, or nil for "+0,..."
func deviceError(s string) error {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "+0") || strings.HasPrefix(s, "0,") || s == "0" {
		return nil
	}
	return errors.New(s)
}

func (s *SCPI) frame(cmds []string) string {
	if s.Handshaking {
		cmds = append([]string{"*CLS;"}, cmds...)
		cmds = append(cmds, ";:SYSTem:ERRor?")
	}
	return strings.Join(cmds, " ")
}

// Write sends a command to the device.  if s.Handshaking == true,
// it also requests an error response and checks that it is OK.
// It is assumed this is used for set operations and not get.
func (s *SCPI) Write(cmds ...string) (err error) {
	conn, err := s.Pool.Get()
	if err != nil {
		return err
	}
	defer func() { s.Pool.ReturnWithError(conn, linkErr(err)) }()
	wrap, err := comm.NewTimeout(comm.NewTerminator(conn, '\n', '\n'), timeout)
	if err != nil {
		return err
	}
	if _, err = io.WriteString(wrap, s.frame(cmds)); err != nil {
		return err
	}
	if !s.Handshaking {
		return nil
	}
	buf := make([]byte, tcpFrameSize)
	n, err := wrap.Read(buf)
	if err != nil {
		return err
	}
	if derr := deviceError(string(buf[:n])); derr != nil {
		return &devErr{derr}
	}
	return nil
}

// WriteRead is write, but with a read call after.  It is assumed that "get"
// calls use this underlying mechanism
func (s *SCPI) WriteRead(cmds ...string) (resp []byte, err error) {
	conn, err := s.Pool.Get()
	if err != nil {
		return nil, err
	}
	defer func() { s.Pool.ReturnWithError(conn, linkErr(err)) }()
	wrap, err := comm.NewTimeout(comm.NewTerminator(conn, '\n', '\n'), timeout)
	if err != nil {
		return nil, err
	}
	if _, err = io.WriteString(wrap, s.frame(cmds)); err != nil {
		return nil, err
	}
	buf := make([]byte, tcpFrameSize)
	n, err := wrap.Read(buf)
	if err != nil {
		return nil, err
	}
	resp = buf[:n]
	if s.Handshaking {
		pieces := bytes.Split(resp, []byte{';'})
		if derr := deviceError(string(pieces[len(pieces)-1])); derr != nil {
			return resp, &devErr{derr}
		}
		return bytes.Join(pieces[:len(pieces)-1], []byte{}), nil
	}
	return resp, nil
}

// devErr marks an error reported by the device over a healthy link
type devErr struct{ error }

func (e *devErr) Unwrap() error { return e.error }

// linkErr is err unless err came from the device's own error queue
func linkErr(err error) error {
	var d *devErr
	if errors.As(err, &d) {
		return nil
	}
	return err
}

// ReadString sends a command to the device, the reads the response
// and returns it as a decoded ASCII or UTF-8 string
func (s *SCPI) ReadString(cmds ...string) (string, error) {
	resp, err := s.WriteRead(cmds...)
	if err != nil {
		return string(resp), err
	}
	resp = bytes.TrimRight(resp, "\r\n")
	if len(resp) == 0 {
		return "", ErrEmptyResponse
	}
	return string(resp), nil
}

// ReadFloat sends a command to the device, then reads the
// response and parses it as a floating point value
func (s *SCPI) ReadFloat(cmds ...string) (float64, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(resp, 64)
}

// ReadBool sends a command to the device, then reads the
// response and parses it as a boolean
func (s *SCPI) ReadBool(cmds ...string) (bool, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(resp)
}

// ReadInt sends a command to the device, then reads the
// response and parses it as an integer
func (s *SCPI) ReadInt(cmds ...string) (int, error) {
	resp, err := s.ReadString(cmds...)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(resp)
}

// Raw sends a command to the device and returns a response if it was a query,
// else a blank string
func (s *SCPI) Raw(str string) (string, error) {
	prev := s.Handshaking
	s.Handshaking = false
	defer func() { s.Handshaking = prev }()
	if strings.Contains(str, "?") {
		return s.ReadString(str)
	}
	return "", s.Write(str)
}

// PopError gets a single error from the queue on the device
func (s *SCPI) PopError() error {
	str, err := s.ReadString("SYSTem:ERRor?")
	if err != nil {
		return err
	}
	if derr := deviceError(str); derr != nil {
		return &devErr{derr}
	}
	return nil
}

// AllErrors returns all errors from the device as a list
func (s *SCPI) AllErrors() []error {
	var errs []error
	for {
		err := s.PopError()
		if err == nil {
			break
		}
		errs = append(errs, err)
		if linkErr(err) != nil {
			break
		}
	}
	return errs
}

// AllErrorsString is equivalent to AllErrors, but joining by newline
// if there were no errors, the error return value is nil, otherwise
// it is the first error in the list and has no particular meaning
func (s *SCPI) AllErrorsString() (string, error) {
	errs := s.AllErrors()
	if len(errs) == 0 {
		return "", nil
	}
	strs := make([]string, len(errs))
	for i := 0; i < len(errs); i++ {
		strs[i] = errs[i].Error()
	}
	return strings.Join(strs, "\n"), errs[0]
}
