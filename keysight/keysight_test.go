package keysight_test

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/OKState-TWISTER/twister-automation/comm"
	"github.com/OKState-TWISTER/twister-automation/keysight"
)

// scriptConn stands in for an instrument link: writes are recorded,
// each read returns the next canned reply.
type scriptConn struct {
	wrote   []string
	replies []string
}

func (c *scriptConn) Write(p []byte) (int, error) {
	c.wrote = append(c.wrote, string(p))
	return len(p), nil
}

func (c *scriptConn) Read(p []byte) (int, error) {
	if len(c.replies) == 0 {
		return 0, io.EOF
	}
	r := c.replies[0]
	c.replies = c.replies[1:]
	return copy(p, r), nil
}

func (c *scriptConn) Close() error { return nil }

func poolFor(conn *scriptConn) *comm.Pool {
	return comm.NewPool(1, time.Hour, func() (io.ReadWriteCloser, error) { return conn, nil })
}

const ok = "+0,\"No error\"\n"

func TestScopeMeasureVPP(t *testing.T) {
	conn := &scriptConn{replies: []string{"2.5E0;" + ok}}
	scope := keysight.NewScopeFromPool(poolFor(conn))
	vpp, err := scope.MeasureVPP("FUNCtion1")
	if err != nil {
		t.Fatal(err)
	}
	if vpp != 2.5 {
		t.Errorf("expected 2.5, got %v", vpp)
	}
	if !strings.Contains(conn.wrote[0], ":MEASure:VPP? FUNCtion1") {
		t.Errorf("unexpected wire command %q", conn.wrote[0])
	}
}

func TestScopeFFTPeakOverRangeMapsToFloor(t *testing.T) {
	conn := &scriptConn{replies: []string{"\"9.99999E+37\";" + ok}}
	scope := keysight.NewScopeFromPool(poolFor(conn))
	peak, err := scope.GetFFTPeak(1)
	if err != nil {
		t.Fatal(err)
	}
	if peak != -9999 {
		t.Errorf("expected -9999 floor for over-range reading, got %v", peak)
	}
}

func TestScopeSampleRate(t *testing.T) {
	conn := &scriptConn{replies: []string{"1.25E-11;" + ok}}
	scope := keysight.NewScopeFromPool(poolFor(conn))
	sr, err := scope.SampleRate()
	if err != nil {
		t.Fatal(err)
	}
	if sr != 8e10 {
		t.Errorf("expected 80 GS/s, got %v", sr)
	}
}

func TestScopeViewOneSegmentRejectsOverRangePeriod(t *testing.T) {
	conn := &scriptConn{replies: []string{
		ok,                  // :TIMebase:RANGe 1E-3
		"9.99999E+37;" + ok, // :MEASure:PERiod?
	}}
	scope := keysight.NewScopeFromPool(poolFor(conn))
	err := scope.ViewOneSegment(1)
	if err == nil {
		t.Fatal("expected failure for unmeasurable period")
	}
	// must not have commanded a timebase of the sentinel value
	for _, w := range conn.wrote {
		if strings.Contains(w, ":TIMebase:RANGe 9.99999E+37") {
			t.Errorf("sentinel period written to hardware: %q", w)
		}
	}
}

func TestScopeWaveformWordsPipeline(t *testing.T) {
	conn := &scriptConn{replies: []string{
		ok, // :WAVeform:FORMat WORD
		ok, // :WAVeform:BYTeorder MSBFirst
		ok, // :DIGitize
		ok, // :WAVeform:SOURce CHANnel1
		"#14\x01\x02\x03\x04\n",
		ok, // :WAVeform:SOURce CHANnel3
		"#12\x05\x06\n",
		ok, // trailing error check
	}}
	scope := keysight.NewScopeFromPool(poolFor(conn))
	data, err := scope.WaveformWords([]int{1, 3}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 2 {
		t.Fatalf("expected 2 captures, got %d", len(data))
	}
	if data[0][0] != 0x0102 || data[0][1] != 0x0304 {
		t.Errorf("channel 1 decoded wrong: %v", data[0])
	}
	if data[1][0] != 0x0506 {
		t.Errorf("channel 3 decoded wrong: %v", data[1])
	}
	// source selection order must match request order
	joined := strings.Join(conn.wrote, "")
	if strings.Index(joined, "CHANnel1") > strings.Index(joined, "CHANnel3") {
		t.Error("sources selected out of request order")
	}
}

func TestScopeWaveformBytesFunctions(t *testing.T) {
	conn := &scriptConn{replies: []string{
		ok, // :WAVeform:FORMat BYTE
		ok, // :DIGitize
		ok, // :WAVeform:SOURce FUNCtion1
		"#13\x01\x7F\xFF\n",
		ok, // trailing error check
	}}
	scope := keysight.NewScopeFromPool(poolFor(conn))
	data, err := scope.WaveformBytes(nil, []int{1})
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 1 || data[0][2] != -1 {
		t.Errorf("function capture decoded wrong: %v", data)
	}
}

func TestSignalGeneratorPhaseCommands(t *testing.T) {
	conn := &scriptConn{replies: []string{ok, ok, ok}}
	psg := keysight.NewSignalGeneratorFromPool(poolFor(conn), "psg1")
	if err := psg.SetPhaseReference(); err != nil {
		t.Fatal(err)
	}
	if err := psg.SetPhase(1.2708); err != nil {
		t.Fatal(err)
	}
	if err := psg.SetOutput(1, true); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(conn.wrote[0], ":PHASe:REFerence") {
		t.Errorf("expected phase reference command, got %q", conn.wrote[0])
	}
	if !strings.Contains(conn.wrote[1], ":PHASe 1.270800RAD") {
		t.Errorf("expected radian phase command, got %q", conn.wrote[1])
	}
	if !strings.Contains(conn.wrote[2], ":OUTPut:STATe ON") {
		t.Errorf("expected output on command, got %q", conn.wrote[2])
	}
}

func TestWaveformGeneratorLoadWaveform(t *testing.T) {
	conn := &scriptConn{replies: []string{ok, ok, ok, ok, ok, ok}}
	awg := keysight.NewWaveformGeneratorFromPool(poolFor(conn))
	err := awg.LoadWaveform([]uint16{0x0102, 0x0304}, 63.95e9)
	if err != nil {
		t.Fatal(err)
	}
	joined := strings.Join(conn.wrote, "")
	for _, want := range []string{
		"ABORt",
		"TRAC1:DEL:ALL",
		":FREQuency:RASTer 6.395E+10",
		":TRACe1:DEFine 1,2",
		":TRACe1:DATA 1,0,#14\x01\x02\x03\x04",
		":INIT:IMM",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("load sequence missing %q", want)
		}
	}
}

func TestWaveformGeneratorOutputEnabledAnyChannel(t *testing.T) {
	conn := &scriptConn{replies: []string{
		"0;" + ok,
		"0;" + ok,
		"1;" + ok,
	}}
	awg := keysight.NewWaveformGeneratorFromPool(poolFor(conn))
	on, err := awg.OutputEnabled()
	if err != nil {
		t.Fatal(err)
	}
	if !on {
		t.Error("expected enabled when any channel is on")
	}
	// short circuits at the first enabled channel
	if len(conn.wrote) != 3 {
		t.Errorf("expected 3 state queries, got %d", len(conn.wrote))
	}
}
