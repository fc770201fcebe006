package mdac

import (
	"errors"
	"go/types"
	"net/http"
	"sync"

	"goji.io/pat"

	"github.com/nasa-jpl/gooseberry/generichttp"
	"github.com/nasa-jpl/gooseberry/server"
)

// HTTPWrapper provides read-only HTTP bindings on top of a Rack.  Mu should
// be shared with any wrapper that also drives the rack.
type HTTPWrapper struct {
	// Rack is the underlying rack
	Rack *Rack

	// RouteTable maps goji patterns to http handlers
	RouteTable server.RouteTable

	Mu *sync.Mutex
}

// NewHTTPWrapper returns a new HTTP wrapper with the route table pre-configured
func NewHTTPWrapper(urlStem string, r *Rack, mu *sync.Mutex) HTTPWrapper {
	w := HTTPWrapper{Rack: r, Mu: mu}
	w.RouteTable = server.RouteTable{
		pat.Get(urlStem + "idn"):           w.locked(generichttp.GetString(r.Identify)),
		pat.Get(urlStem + "readback"):      w.locked(w.HTTPReadback),
		pat.Get(urlStem + "voltage/:name"): w.locked(w.HTTPVoltage),
	}
	return w
}

// RT satisfies server.HTTPer
func (h HTTPWrapper) RT() server.RouteTable {
	return h.RouteTable
}

func (h HTTPWrapper) locked(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Mu.Lock()
		defer h.Mu.Unlock()
		next(w, r)
	}
}

// HTTPReadback returns every rail and digital line voltage as a JSON object
func (h HTTPWrapper) HTTPReadback(w http.ResponseWriter, r *http.Request) {
	m, err := h.Rack.Readback()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	server.WriteJSON(w, m)
}

// HTTPVoltage returns the voltage of one named rail or line as {'f64': value}
func (h HTTPWrapper) HTTPVoltage(w http.ResponseWriter, r *http.Request) {
	ch, err := h.Rack.Channel(pat.Param(r, "name"))
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, ErrUnknownChannel) {
			code = http.StatusNotFound
		}
		http.Error(w, err.Error(), code)
		return
	}
	v, err := h.Rack.Voltage(ch)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hp := server.HumanPayload{T: types.Float64, Float: v}
	hp.EncodeAndRespond(w, r)
}
