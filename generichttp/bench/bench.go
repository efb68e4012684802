// Package bench provides HTTP interfaces to the TWISTER bench
// instruments and to the phase alignment procedure
package bench

import (
	"encoding/json"
	"fmt"
	"go/types"
	"net/http"
	"strconv"

	"goji.io/pat"

	"github.com/OKState-TWISTER/twister-automation/generichttp"
	"github.com/OKState-TWISTER/twister-automation/oscilloscope"
	"github.com/OKState-TWISTER/twister-automation/server"
)

// SignalGenerator describes the local oscillator surface exposed over
// HTTP
type SignalGenerator interface {
	// SetFrequency configures the CW output frequency in Hz
	SetFrequency(float64) error

	// GetFrequency gets the CW output frequency in Hz
	GetFrequency() (float64, error)

	// SetPhase offsets the output phase from the reference, in radians
	SetPhase(float64) error

	// GetPhase gets the output phase in radians
	GetPhase() (float64, error)

	// SetPhaseReference zeroes the phase reference at the current phase
	SetPhaseReference() error

	// SetOutput turns the RF output on or off
	SetOutput(channel int, on bool) error

	// OutputEnabled queries if the RF output is active
	OutputEnabled() (bool, error)
}

// HTTPSignalGenerator wraps a signal generator in an HTTP route table
type HTTPSignalGenerator struct {
	SG SignalGenerator

	RouteTable server.RouteTable
}

// NewHTTPSignalGenerator binds the standard routes for a signal
// generator
func NewHTTPSignalGenerator(sg SignalGenerator) HTTPSignalGenerator {
	w := HTTPSignalGenerator{SG: sg}
	rt := server.RouteTable{}
	rt[pat.Get("/frequency")] = generichttp.GetFloat(sg.GetFrequency)
	rt[pat.Post("/frequency")] = generichttp.SetFloat(sg.SetFrequency)
	rt[pat.Get("/phase")] = generichttp.GetFloat(sg.GetPhase)
	rt[pat.Post("/phase")] = generichttp.SetFloat(sg.SetPhase)
	rt[pat.Post("/phase-reference")] = func(w http.ResponseWriter, r *http.Request) {
		err := sg.SetPhaseReference()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
	rt[pat.Get("/output")] = generichttp.GetBool(sg.OutputEnabled)
	rt[pat.Post("/output")] = generichttp.SetBool(func(on bool) error {
		return sg.SetOutput(1, on)
	})
	w.RouteTable = rt
	return w
}

// RT satisfies server.HTTPer
func (h HTTPSignalGenerator) RT() server.RouteTable {
	return h.RouteTable
}

// Oscilloscope describes the scope surface exposed over HTTP
type Oscilloscope interface {
	// MeasureVPP reads the peak-to-peak voltage of a source
	MeasureVPP(source string) (float64, error)

	// GetFFTPeak reads the FFT peak magnitude of a math function
	GetFFTPeak(function int) (float64, error)

	// SampleRate gets the sample rate of the current record
	SampleRate() (float64, error)

	// ViewOneSegment windows the display to one waveform period
	ViewOneSegment(trigChannel int) error

	// AcquireWaveform captures the given channels with scaling info
	AcquireWaveform(channels []int) (oscilloscope.Waveform, error)
}

// HTTPOscilloscope wraps an oscilloscope in an HTTP route table
type HTTPOscilloscope struct {
	O Oscilloscope

	RouteTable server.RouteTable
}

// NewHTTPOscilloscope binds the standard routes for an oscilloscope
func NewHTTPOscilloscope(o Oscilloscope) HTTPOscilloscope {
	w := HTTPOscilloscope{O: o}
	rt := server.RouteTable{}
	rt[pat.Get("/vpp")] = w.MeasureVPP
	rt[pat.Get("/fft-peak")] = w.GetFFTPeak
	rt[pat.Get("/sample-rate")] = generichttp.GetFloat(o.SampleRate)
	rt[pat.Post("/view-one-segment")] = w.ViewOneSegment
	rt[pat.Get("/waveform")] = w.AcquireWaveform
	w.RouteTable = rt
	return w
}

// RT satisfies server.HTTPer
func (h HTTPOscilloscope) RT() server.RouteTable {
	return h.RouteTable
}

// MeasureVPP reads the peak-to-peak voltage of ?source=, default
// FUNCtion1
func (h HTTPOscilloscope) MeasureVPP(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	if source == "" {
		source = "FUNCtion1"
	}
	v, err := h.O.MeasureVPP(source)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hp := server.HumanPayload{T: types.Float64, Float: v}
	hp.EncodeAndRespond(w, r)
}

// GetFFTPeak reads the FFT peak magnitude of math function
// ?function=, default 1
func (h HTTPOscilloscope) GetFFTPeak(w http.ResponseWriter, r *http.Request) {
	function := 1
	if s := r.URL.Query().Get("function"); s != "" {
		var err error
		function, err = strconv.Atoi(s)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	v, err := h.O.GetFFTPeak(function)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hp := server.HumanPayload{T: types.Float64, Float: v}
	hp.EncodeAndRespond(w, r)
}

// ViewOneSegment windows the display to one period of the trigger
// channel in the request body, {'int': ch}, 0 for the system trigger
// source
func (h HTTPOscilloscope) ViewOneSegment(w http.ResponseWriter, r *http.Request) {
	i := server.IntT{}
	err := json.NewDecoder(r.Body).Decode(&i)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	err = h.O.ViewOneSegment(i.Int)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// AcquireWaveform captures ?ch=1&ch=3 (default channel 1) and streams
// the record as CSV
func (h HTTPOscilloscope) AcquireWaveform(w http.ResponseWriter, r *http.Request) {
	chans := []int{1}
	if vals, ok := r.URL.Query()["ch"]; ok {
		chans = make([]int, 0, len(vals))
		for _, v := range vals {
			ch, err := strconv.Atoi(v)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			chans = append(chans, ch)
		}
	}
	wav, err := h.O.AcquireWaveform(chans)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	err = wav.EncodeCSV(w)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Aligner runs the bench phase alignment
type Aligner interface {
	// EnableOutputs brings the outputs up around fn and back down after
	EnableOutputs(fn func() error) error

	// AlignPhase aligns local oscillator n and returns the corrective
	// offset in radians
	AlignPhase(n int) (float64, error)
}

// HTTPBench exposes the alignment procedure
type HTTPBench struct {
	B Aligner

	RouteTable server.RouteTable
}

// NewHTTPBench binds the alignment routes
func NewHTTPBench(b Aligner) HTTPBench {
	w := HTTPBench{B: b}
	rt := server.RouteTable{}
	rt[pat.Post("/align")] = w.Align
	w.RouteTable = rt
	return w
}

// RT satisfies server.HTTPer
func (h HTTPBench) RT() server.RouteTable {
	return h.RouteTable
}

// Align runs phase alignment on local oscillator {'int': n} with the
// outputs enabled for the duration, and replies with the corrective
// offset as {'f64': rad}
func (h HTTPBench) Align(w http.ResponseWriter, r *http.Request) {
	i := server.IntT{}
	err := json.NewDecoder(r.Body).Decode(&i)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var corrective float64
	err = h.B.EnableOutputs(func() error {
		var ierr error
		corrective, ierr = h.B.AlignPhase(i.Int)
		if ierr != nil {
			return fmt.Errorf("alignment of oscillator %d failed: %w", i.Int, ierr)
		}
		return nil
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	hp := server.HumanPayload{T: types.Float64, Float: corrective}
	hp.EncodeAndRespond(w, r)
}
