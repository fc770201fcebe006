// Package server contains misc server utilities.
package server

import (
	"encoding/json"
	"fmt"
	"go/types"
	"log"
	"net/http"
	"sort"

	"goji.io"
	"goji.io/pat"
)

// FloatT is a struct with a single float64 field, F64
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is a struct with a single int field, Int
type IntT struct {
	Int int `json:"int"`
}

// BoolT is a struct with a single bool field, Bool
type BoolT struct {
	Bool bool `json:"bool"`
}

// StrT is a struct with a single string field, Str
type StrT struct {
	Str string `json:"str"`
}

// HumanPayload is a struct containing the basic types a device may return
// over HTTP.  T selects which field is encoded.
type HumanPayload struct {
	T      types.BasicKind
	Float  float64
	Int    int
	Bool   bool
	String string
}

// EncodeAndRespond encodes the payload as one of FloatT, IntT, BoolT or StrT
// based on T and writes it to w
func (hp *HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	var v interface{}
	switch hp.T {
	case types.Float64:
		v = FloatT{F64: hp.Float}
	case types.Int:
		v = IntT{Int: hp.Int}
	case types.Bool:
		v = BoolT{Bool: hp.Bool}
	case types.String:
		v = StrT{Str: hp.String}
	default:
		http.Error(w, fmt.Sprintf("unsupported payload kind %v", hp.T), http.StatusInternalServerError)
		return
	}
	WriteJSON(w, v)
}

// WriteJSON writes v as JSON with a 200 status
func WriteJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		fstr := fmt.Sprintf("error encoding data to json %q", err)
		log.Println(fstr)
	}
}

// HTTPer is an object which exposes a route table
type HTTPer interface {
	RT() RouteTable
}

// RouteTable maps goji patterns to handlers
type RouteTable map[*pat.Pattern]http.HandlerFunc

// Endpoints lists the method and path of every route, sorted by path
func (rt RouteTable) Endpoints() []string {
	routes := make([]string, 0, len(rt))
	for p := range rt {
		routes = append(routes, fmt.Sprintf("%s %s", methodOf(p), p.String()))
	}
	sort.Strings(routes)
	return routes
}

func methodOf(p *pat.Pattern) string {
	for _, m := range []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete} {
		if _, ok := p.HTTPMethods()[m]; ok {
			return m
		}
	}
	return "*"
}

// Bind binds every route on mux, plus a route-list route that returns the
// endpoints as a JSON array of strings
func (rt RouteTable) Bind(mux *goji.Mux) {
	for p, h := range rt {
		mux.HandleFunc(p, h)
	}
	mux.HandleFunc(pat.Get("/route-list"), func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, rt.Endpoints())
	})
}
