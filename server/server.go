// Package server contains the route table and JSON payload plumbing shared
// by the HTTP device wrappers.
package server

import (
	"encoding/json"
	"fmt"
	"go/types"
	"log"
	"net/http"

	"goji.io"
)

// RouteTable maps URL patterns to their handlers
type RouteTable map[goji.Pattern]http.HandlerFunc

// Bind attaches every route in the table to a goji mux
func (rt RouteTable) Bind(mux *goji.Mux) {
	for ptrn, handler := range rt {
		mux.HandleFunc(ptrn, handler)
	}
}

// Endpoints returns the patterns in the table as strings
func (rt RouteTable) Endpoints() []string {
	eps := make([]string, 0, len(rt))
	for k := range rt {
		eps = append(eps, fmt.Sprint(k))
	}
	return eps
}

// HTTPer is an object exposing a route table
type HTTPer interface {
	// RT returns the route table for mutation or binding
	RT() RouteTable
}

// HumanPayload is a struct that huamns can easily read and write over JSON.
// T discriminates which field carries the value.
type HumanPayload struct {
	// T holds the type of data actually contained
	T types.BasicKind

	// Int is an integer value
	Int int

	// Float is a floating point value
	Float float64

	// Bool is a boolean value
	Bool bool

	// String is a string value
	String string
}

// EncodeAndRespond writes the payload as JSON with the key named for its
// type ({"int": v}, {"f64": v}, ...)
func (hp HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	var err error
	enc := json.NewEncoder(w)
	switch hp.T {
	case types.Int:
		err = enc.Encode(IntT{Int: hp.Int})
	case types.Float64:
		err = enc.Encode(FloatT{F64: hp.Float})
	case types.Bool:
		err = enc.Encode(BoolT{Bool: hp.Bool})
	case types.String:
		err = enc.Encode(StrT{Str: hp.String})
	default:
		err = fmt.Errorf("unknown payload kind %v", hp.T)
	}
	if err != nil {
		fstr := fmt.Sprintf("error encoding payload to json %q", err)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusInternalServerError)
	}
}

// IntT is a JSON envelope for an integer
type IntT struct {
	Int int `json:"int"`
}

// FloatT is a JSON envelope for a float
type FloatT struct {
	F64 float64 `json:"f64"`
}

// BoolT is a JSON envelope for a bool
type BoolT struct {
	Bool bool `json:"bool"`
}

// StrT is a JSON envelope for a string
type StrT struct {
	Str string `json:"str"`
}
