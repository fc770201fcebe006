package gooseberry

import (
	"encoding/json"
	"errors"
	"go/types"
	"net/http"
	"sync"

	"goji.io/pat"

	"github.com/nasa-jpl/gooseberry/generichttp"
	"github.com/nasa-jpl/gooseberry/register"
	"github.com/nasa-jpl/gooseberry/server"
)

// HTTPWrapper provides HTTP bindings on top of a controller.  Every handler
// holds Mu, so concurrent requests reach the chip one at a time.
type HTTPWrapper struct {
	// GB is the underlying controller
	GB *Gooseberry

	// RouteTable maps goji patterns to http handlers
	RouteTable server.RouteTable

	// Mu serializes every handler; share it with other wrappers of the same hardware
	Mu *sync.Mutex
}

// NewHTTPWrapper returns a new HTTP wrapper with the route table pre-configured
func NewHTTPWrapper(gb *Gooseberry) *HTTPWrapper {
	w := &HTTPWrapper{GB: gb, Mu: &sync.Mutex{}}
	w.RouteTable = server.RouteTable{
		pat.Get("/state"):               w.serial(generichttp.GetString(w.state)),
		pat.Get("/status"):              w.serial(w.HTTPStatus),
		pat.Get("/owner"):               w.serial(w.HTTPOwner),
		pat.Post("/enable"):             w.serial(w.HTTPEnable),
		pat.Post("/enable-all-except"):  w.serial(generichttp.SetInt(func(id int) error { return classify(gb.EnableAllExcept(id)) })),
		pat.Post("/disable"):            w.serial(w.action(gb.DisableAll)),
		pat.Post("/atest"):              w.serial(generichttp.SetInt(func(id int) error { return classify(gb.EnableATest(id)) })),
		pat.Post("/clock"):              w.serial(w.HTTPSetClock),
		pat.Get("/clock-held"):          w.serial(generichttp.GetBool(func() (bool, error) { return gb.Transport().ManualClockHeld(), nil })),
		pat.Post("/power-up"):           w.serial(w.action(gb.PowerUp)),
		pat.Post("/power-down"):         w.serial(w.action(gb.PowerDown)),
		pat.Post("/reset"):              w.serial(w.action(gb.Reset)),
		pat.Post("/hard-reset"):         w.serial(w.action(gb.HardReset)),
		pat.Post("/initialize"):         w.serial(w.action(gb.InitializeRegisters)),
		pat.Get("/registers"):           w.serial(w.HTTPRegisters),
		pat.Get("/gate/:name/voltage"):  w.serial(w.HTTPGetGateVoltage),
		pat.Post("/gate/:name/voltage"): w.serial(w.HTTPSetGateVoltage),
	}
	return w
}

// RT satisfies server.HTTPer
func (h *HTTPWrapper) RT() server.RouteTable {
	return h.RouteTable
}

func (h *HTTPWrapper) serial(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Mu.Lock()
		defer h.Mu.Unlock()
		next(w, r)
	}
}

func (h *HTTPWrapper) action(fcn func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := classify(fcn()); err != nil {
			http.Error(w, err.Error(), generichttp.StatusFor(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (h *HTTPWrapper) state() (string, error) {
	return h.GB.State().String(), nil
}

// classify attaches the HTTP status that describes a controller error
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidGate),
		errors.Is(err, ErrInvalidOscillatorTrim),
		errors.Is(err, register.ErrFieldOverflow):
		return generichttp.WithStatus(err, http.StatusBadRequest)
	case errors.Is(err, ErrUnknownGate):
		return generichttp.WithStatus(err, http.StatusNotFound)
	case errors.Is(err, ErrInvalidTransition):
		return generichttp.WithStatus(err, http.StatusConflict)
	}
	return err
}

// HTTPStatus returns the controller snapshot as JSON
func (h *HTTPWrapper) HTTPStatus(w http.ResponseWriter, r *http.Request) {
	server.WriteJSON(w, h.GB.Snapshot())
}

// HTTPOwner returns the terminals connected to the shared rail as a JSON
// array, empty when none are
func (h *HTTPWrapper) HTTPOwner(w http.ResponseWriter, r *http.Request) {
	ids := []int{}
	if owner, ok := h.GB.EnabledOwner(); ok {
		ids = owner.IDs()
	}
	server.WriteJSON(w, ids)
}

// EnableRequest is the body of POST /enable.  One id is a single terminal,
// several are a cluster.
type EnableRequest struct {
	IDs []int `json:"ids"`
}

// HTTPEnable connects the terminals in the body to the shared rail
func (h *HTTPWrapper) HTTPEnable(w http.ResponseWriter, r *http.Request) {
	req := EnableRequest{}
	err := json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id := Cluster(req.IDs...)
	if len(req.IDs) == 1 {
		id = Single(req.IDs[0])
	}
	if err = classify(h.GB.Enable(id)); err != nil {
		http.Error(w, err.Error(), generichttp.StatusFor(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPSetClock writes CLKCTL from a ClockConfig body
func (h *HTTPWrapper) HTTPSetClock(w http.ResponseWriter, r *http.Request) {
	c := ClockConfig{}
	err := json.NewDecoder(r.Body).Decode(&c)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err = classify(h.GB.SetClock(c)); err != nil {
		http.Error(w, err.Error(), generichttp.StatusFor(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

// HTTPRegisters returns every register snapshot in bus order
func (h *HTTPWrapper) HTTPRegisters(w http.ResponseWriter, r *http.Request) {
	regs := h.GB.Registers()
	out := make([]register.Snapshot, 0, len(regs))
	for _, reg := range regs {
		out = append(out, reg.Snapshot())
	}
	server.WriteJSON(w, out)
}

// HTTPGetGateVoltage returns the last voltage applied by a gate handle as
// {'f64': value}, or 204 if it has not applied one
func (h *HTTPWrapper) HTTPGetGateVoltage(w http.ResponseWriter, r *http.Request) {
	g, err := h.GB.Gate(pat.Param(r, "name"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	v, ok := g.LastVoltage()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	hp := server.HumanPayload{T: types.Float64, Float: v}
	hp.EncodeAndRespond(w, r)
}

// HTTPSetGateVoltage drives a gate handle to {'f64': value}, taking the rail
// and settling first if needed
func (h *HTTPWrapper) HTTPSetGateVoltage(w http.ResponseWriter, r *http.Request) {
	g, err := h.GB.Gate(pat.Param(r, "name"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	generichttp.SetFloat(func(v float64) error { return classify(g.SetVoltage(v)) })(w, r)
}
