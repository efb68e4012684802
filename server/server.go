// Package server contains the plumbing shared by the HTTP interfaces
// to the bench instruments: typed JSON payloads and a route table that
// binds goji patterns onto a chi router.
package server

import (
	"encoding/json"
	"fmt"
	"go/types"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi"
	"goji.io"
	"goji.io/pat"
)

// HumanPayload is a struct that holds the basic types and enables
// encoding a single response format for all of them
type HumanPayload struct {
	// Bool holds a binary value
	Bool bool

	// Buffer holds raw bytes
	Buffer []byte

	// Float holds a floating point value
	Float float64

	// Int holds an integer value
	Int int

	// String holds a string value
	String string

	// T holds the type of the payload
	T types.BasicKind
}

// EncodeAndRespond writes the payload to w as JSON with the key
// matching the typed shells below, so clients round-trip get and set
// bodies symmetrically
func (hp *HumanPayload) EncodeAndRespond(w http.ResponseWriter, r *http.Request) {
	var (
		err error
		enc = json.NewEncoder(w)
	)
	w.Header().Set("Content-Type", "application/json")
	switch hp.T {
	case types.Bool:
		err = enc.Encode(BoolT{Bool: hp.Bool})
	case types.Byte:
		w.Header().Set("Content-Type", "application/octet-stream")
		_, err = w.Write(hp.Buffer)
	case types.Float64:
		err = enc.Encode(FloatT{F64: hp.Float})
	case types.Int:
		err = enc.Encode(IntT{Int: hp.Int})
	case types.String:
		err = enc.Encode(StrT{Str: hp.String})
	default:
		err = fmt.Errorf("unknown payload type %v", hp.T)
	}
	if err != nil {
		fstr := fmt.Sprintf("error encoding response %q", err)
		log.Println(fstr)
		http.Error(w, fstr, http.StatusInternalServerError)
	}
}

// FloatT is a struct with a single field, F64, used for json requests
// and responses carrying one float
type FloatT struct {
	F64 float64 `json:"f64"`
}

// IntT is FloatT for integers
type IntT struct {
	Int int `json:"int"`
}

// StrT is FloatT for strings
type StrT struct {
	Str string `json:"str"`
}

// BoolT is FloatT for bools
type BoolT struct {
	Bool bool `json:"bool"`
}

// RouteTable maps goji patterns to handler funcs
type RouteTable map[goji.Pattern]http.HandlerFunc

// Endpoints returns the URL patterns in the route table
func (rt RouteTable) Endpoints() []string {
	routes := make([]string, 0, len(rt))
	for k := range rt {
		routes = append(routes, fmt.Sprint(k))
	}
	return routes
}

// Bind attaches the route table to a chi router.  Patterns made with
// goji's pat carry their method; anything else binds for all methods.
func (rt RouteTable) Bind(r chi.Router) {
	for pattern, handler := range rt {
		p, ok := pattern.(*pat.Pattern)
		if !ok {
			r.Handle(fmt.Sprint(pattern), handler)
			continue
		}
		methods := p.HTTPMethods()
		if methods == nil {
			r.Handle(p.String(), handler)
			continue
		}
		for method := range methods {
			r.Method(method, p.String(), handler)
		}
	}
}

// HTTPer is an object which has an HTTP route table
type HTTPer interface {
	// RT yields the route table, so that it may be modified or bound
	RT() RouteTable
}

// SubMuxSanitize ensures a URL is wrapped in slashes and ends with
// a wildcard, "bench/psg1" => "/bench/psg1/*"
func SubMuxSanitize(str string) string {
	if !strings.HasPrefix(str, "/") {
		str = "/" + str
	}
	if !strings.HasSuffix(str, "/*") {
		if strings.HasSuffix(str, "/") {
			str = str + "*"
		} else {
			str = str + "/*"
		}
	}
	return str
}
