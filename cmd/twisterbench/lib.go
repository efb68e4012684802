package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/OKState-TWISTER/twister-automation/bench"
	"github.com/OKState-TWISTER/twister-automation/comm"
	genbench "github.com/OKState-TWISTER/twister-automation/generichttp/bench"
	"github.com/OKState-TWISTER/twister-automation/keysight"
	"github.com/OKState-TWISTER/twister-automation/server"
	"github.com/OKState-TWISTER/twister-automation/server/middleware/locker"
	"github.com/OKState-TWISTER/twister-automation/usbtmc"
)

// InstrumentSetup holds the connection parameters for one instrument
type InstrumentSetup struct {
	// Addr is how to reach the instrument: host:port for LAN,
	// or usb:VID:PID (hex) for a USBTMC connection
	Addr string `yaml:"Addr"`
}

// CalibrationSetup holds the phase alignment parameters
type CalibrationSetup struct {
	// Source is the scope source whose Vpp is maximized
	Source string `yaml:"Source"`

	// Step is the probe spacing in radians
	Step float64 `yaml:"Step"`

	// Oscillator selects the PSG to steer, 1 or 2
	Oscillator int `yaml:"Oscillator"`
}

// CaptureSetup holds the waveform capture parameters
type CaptureSetup struct {
	// Channels lists the scope channels to record
	Channels []int `yaml:"Channels"`

	// File is where the CSV goes; empty means stdout
	File string `yaml:"File"`
}

// Config holds the initialization parameters for the bench.
// It is to be populated by a yaml/unmarshal call.
type Config struct {
	// Addr is the address to listen at
	Addr string `yaml:"Addr"`

	Scope InstrumentSetup `yaml:"Scope"`
	PSG1  InstrumentSetup `yaml:"PSG1"`
	PSG2  InstrumentSetup `yaml:"PSG2"`
	AWG   InstrumentSetup `yaml:"AWG"`

	Calibration CalibrationSetup `yaml:"Calibration"`
	Capture     CaptureSetup     `yaml:"Capture"`
}

// poolFor dials an instrument address.  usb:VID:PID makes a USBTMC
// pool, anything else is treated as TCP host:port.
func poolFor(addr string) (*comm.Pool, error) {
	if strings.HasPrefix(addr, "usb:") {
		pieces := strings.Split(addr, ":")
		if len(pieces) != 3 {
			return nil, fmt.Errorf("usb address %q is not usb:VID:PID", addr)
		}
		vid, err := strconv.ParseUint(pieces[1], 16, 16)
		if err != nil {
			return nil, fmt.Errorf("bad VID in %q: %w", addr, err)
		}
		pid, err := strconv.ParseUint(pieces[2], 16, 16)
		if err != nil {
			return nil, fmt.Errorf("bad PID in %q: %w", addr, err)
		}
		return comm.NewPool(1, time.Hour, usbtmc.ConnMaker(uint16(vid), uint16(pid))), nil
	}
	return comm.NewPool(1, time.Hour, comm.BackingOffTCPConnMaker(addr, 1*time.Second)), nil
}

// Instruments is the set of connected bench hardware
type Instruments struct {
	Scope *keysight.Scope
	PSG1  *keysight.SignalGenerator
	PSG2  *keysight.SignalGenerator
	AWG   *keysight.WaveformGenerator
	Bench *bench.Bench
}

// BuildBench connects every instrument in the config and assembles the
// interlocked bench around them
func BuildBench(c Config) (Instruments, error) {
	var ins Instruments
	pool, err := poolFor(c.Scope.Addr)
	if err != nil {
		return ins, err
	}
	ins.Scope = keysight.NewScopeFromPool(pool)
	ins.PSG1 = keysight.NewSignalGenerator(c.PSG1.Addr, "psg1")
	ins.PSG2 = keysight.NewSignalGenerator(c.PSG2.Addr, "psg2")
	ins.AWG = keysight.NewWaveformGenerator(c.AWG.Addr)
	// drive power on AWG channels 1 and 3, gated behind both LOs
	ins.Bench = bench.New(ins.Scope, ins.AWG, []int{1, 3}, ins.PSG1, ins.PSG2)
	if c.Calibration.Source != "" {
		ins.Bench.Source = c.Calibration.Source
	}
	if c.Calibration.Step != 0 {
		ins.Bench.Step = c.Calibration.Step
	}
	return ins, nil
}

// BuildMux assembles the HTTP control surface: one subtree per
// instrument plus the bench alignment routes, each behind its own
// lock.  The mux serves a special route, /endpoints, which returns
// the full route graph as JSON.
func BuildMux(ins Instruments) chi.Router {
	root := chi.NewRouter()
	root.Use(middleware.Logger)
	supergraph := map[string][]string{}

	mount := func(stem string, httper server.HTTPer) {
		lock := locker.New()
		locker.Inject(httper, lock)
		r := chi.NewRouter()
		r.Use(lock.Check)
		httper.RT().Bind(r)
		stem = server.SubMuxSanitize(stem)
		supergraph[stem] = httper.RT().Endpoints()
		root.Mount(strings.TrimSuffix(stem, "/*"), r)
	}

	mount("scope", genbench.NewHTTPOscilloscope(ins.Scope))
	mount("psg1", genbench.NewHTTPSignalGenerator(ins.PSG1))
	mount("psg2", genbench.NewHTTPSignalGenerator(ins.PSG2))
	mount("bench", genbench.NewHTTPBench(ins.Bench))

	root.Get("/endpoints", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		err := json.NewEncoder(w).Encode(supergraph)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return root
}
