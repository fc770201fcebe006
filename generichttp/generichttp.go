// Package generichttp adapts plain Go getters and setters to HTTP handlers
// that speak the server payload types
package generichttp

import (
	"encoding/json"
	"go/types"
	"net/http"

	"github.com/nasa-jpl/gooseberry/server"
)

// SetFloat parses a JSON input of {'f64': value} and
// calls fcn with it
func SetFloat(fcn func(float64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := server.FloatT{}
		err := json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(f.F64)
		if err != nil {
			http.Error(w, err.Error(), StatusFor(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// SetInt parses a JSON input of {'int': value} and
// calls fcn with it
func SetInt(fcn func(int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := server.IntT{}
		err := json.NewDecoder(r.Body).Decode(&f)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(f.Int)
		if err != nil {
			http.Error(w, err.Error(), StatusFor(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetString calls a string-getting function and returns the response
// as json {'str': value}
func GetString(fcn func() (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), StatusFor(err))
			return
		}
		hp := server.HumanPayload{T: types.String, String: s}
		hp.EncodeAndRespond(w, r)
	}
}

// GetBool calls a bool-getting function and returns the response
// as json {'bool': value}
func GetBool(fcn func() (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), StatusFor(err))
			return
		}
		hp := server.HumanPayload{T: types.Bool, Bool: b}
		hp.EncodeAndRespond(w, r)
	}
}

// SetBool parses a JSON input of {'bool': value} and
// calls fcn with it
func SetBool(fcn func(bool) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := server.BoolT{}
		err := json.NewDecoder(r.Body).Decode(&b)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(b.Bool)
		if err != nil {
			http.Error(w, err.Error(), StatusFor(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// StatusCoder is an error that knows which HTTP status describes it
type StatusCoder interface {
	StatusCode() int
}

// StatusFor is the HTTP status for err: its own StatusCode if it has one
// somewhere in its chain, else 500
func StatusFor(err error) int {
	for err != nil {
		if sc, ok := err.(StatusCoder); ok {
			return sc.StatusCode()
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return http.StatusInternalServerError
}

// statusError attaches an HTTP status to an error
type statusError struct {
	error
	code int
}

func (e statusError) StatusCode() int { return e.code }

func (e statusError) Unwrap() error { return e.error }

// WithStatus returns err carrying an HTTP status, or nil if err is nil
func WithStatus(err error, code int) error {
	if err == nil {
		return nil
	}
	return statusError{error: err, code: code}
}
