// Package ascii contains some injectable HTTP interfaces to ASCII hardware
package ascii

import (
	"encoding/json"
	"go/types"
	"net/http"
	"sync"

	"goji.io/pat"

	"github.com/nasa-jpl/gooseberry/server"
)

// RawCommunicator has a single Raw method
type RawCommunicator interface {
	Raw(string) (string, error)
}

// RawWrapper is a wrapper around a raw communicator
type RawWrapper struct {
	Comm RawCommunicator

	// Mu, if not nil, is held for the duration of each raw exchange
	Mu sync.Locker
}

// HTTPRaw provides access to the raw function over http
func (rw *RawWrapper) HTTPRaw(w http.ResponseWriter, r *http.Request) {
	str := server.StrT{}
	err := json.NewDecoder(r.Body).Decode(&str)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if rw.Mu != nil {
		rw.Mu.Lock()
		defer rw.Mu.Unlock()
	}
	resp, err := rw.Comm.Raw(str.Str)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hp := server.HumanPayload{T: types.String, String: resp}
	hp.EncodeAndRespond(w, r)
}

// InjectRawComm injects a POST route at path into the route table of an HTTPer
func InjectRawComm(other server.HTTPer, raw RawCommunicator, path string, mu sync.Locker) {
	wrap := &RawWrapper{Comm: raw, Mu: mu}
	rt := other.RT()
	rt[pat.Post(path)] = wrap.HTTPRaw
}
