package bench_test

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi"

	"github.com/OKState-TWISTER/twister-automation/generichttp/bench"
	"github.com/OKState-TWISTER/twister-automation/oscilloscope"
	"github.com/OKState-TWISTER/twister-automation/server"
)

type fakeSG struct {
	freq  float64
	phase float64
	refd  bool
	on    bool
}

func (f *fakeSG) SetFrequency(v float64) error { f.freq = v; return nil }

func (f *fakeSG) GetFrequency() (float64, error) { return f.freq, nil }

func (f *fakeSG) SetPhase(v float64) error { f.phase = v; return nil }

func (f *fakeSG) GetPhase() (float64, error) { return f.phase, nil }

func (f *fakeSG) SetPhaseReference() error { f.refd = true; return nil }

func (f *fakeSG) SetOutput(ch int, on bool) error { f.on = on; return nil }

func (f *fakeSG) OutputEnabled() (bool, error) { return f.on, nil }

func serve(t *testing.T, h server.HTTPer) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	h.RT().Bind(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestSignalGeneratorFrequencyRoundTrip(t *testing.T) {
	sg := &fakeSG{}
	srv := serve(t, bench.NewHTTPSignalGenerator(sg))

	resp, err := http.Post(srv.URL+"/frequency", "application/json",
		strings.NewReader(`{"f64": 1.2e10}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set returned %d", resp.StatusCode)
	}
	if sg.freq != 1.2e10 {
		t.Errorf("frequency not applied: %v", sg.freq)
	}

	resp, err = http.Get(srv.URL + "/frequency")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var f server.FloatT
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		t.Fatal(err)
	}
	if f.F64 != 1.2e10 {
		t.Errorf("expected 1.2e10, got %v", f.F64)
	}
}

func TestSignalGeneratorPhaseReference(t *testing.T) {
	sg := &fakeSG{}
	srv := serve(t, bench.NewHTTPSignalGenerator(sg))
	resp, err := http.Post(srv.URL+"/phase-reference", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if !sg.refd {
		t.Error("phase reference not zeroed")
	}
}

type fakeScope struct {
	lastSource string
}

func (f *fakeScope) MeasureVPP(source string) (float64, error) {
	f.lastSource = source
	return 0.42, nil
}
func (f *fakeScope) GetFFTPeak(function int) (float64, error) { return -12.5, nil }

func (f *fakeScope) SampleRate() (float64, error) { return 8e10, nil }

func (f *fakeScope) ViewOneSegment(trigChannel int) error { return nil }
func (f *fakeScope) AcquireWaveform(channels []int) (oscilloscope.Waveform, error) {
	return oscilloscope.Waveform{
		DT: 0.5,
		Channels: map[string]oscilloscope.Channel{
			"CHANnel1": {Data: []int8{1, 2}, Scale: 1},
		},
	}, nil
}

func TestScopeVPPDefaultSource(t *testing.T) {
	scope := &fakeScope{}
	srv := serve(t, bench.NewHTTPOscilloscope(scope))
	resp, err := http.Get(srv.URL + "/vpp")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var f server.FloatT
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		t.Fatal(err)
	}
	if f.F64 != 0.42 {
		t.Errorf("expected 0.42, got %v", f.F64)
	}
	if scope.lastSource != "FUNCtion1" {
		t.Errorf("expected default source FUNCtion1, got %q", scope.lastSource)
	}
}

func TestScopeWaveformCSV(t *testing.T) {
	srv := serve(t, bench.NewHTTPOscilloscope(&fakeScope{}))
	resp, err := http.Get(srv.URL + "/waveform?ch=1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/csv" {
		t.Errorf("expected text/csv, got %q", ct)
	}
}

type fakeAligner struct {
	outputsUp bool
	alignedIn bool
	n         int
}

func (f *fakeAligner) EnableOutputs(fn func() error) error {
	f.outputsUp = true
	defer func() { f.outputsUp = false }()
	return fn()
}

func (f *fakeAligner) AlignPhase(n int) (float64, error) {
	f.n = n
	f.alignedIn = f.outputsUp
	return math.Pi / 4, nil
}

func TestBenchAlignRunsWithOutputsEnabled(t *testing.T) {
	al := &fakeAligner{}
	srv := serve(t, bench.NewHTTPBench(al))
	resp, err := http.Post(srv.URL+"/align", "application/json",
		strings.NewReader(`{"int": 2}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var f server.FloatT
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		t.Fatal(err)
	}
	if math.Abs(f.F64-math.Pi/4) > 1e-12 {
		t.Errorf("expected pi/4, got %v", f.F64)
	}
	if al.n != 2 {
		t.Errorf("expected oscillator 2 steered, got %d", al.n)
	}
	if !al.alignedIn {
		t.Error("alignment ran without outputs enabled")
	}
	if al.outputsUp {
		t.Error("outputs left enabled after alignment")
	}
}
