// Package keysight provides access to the Keysight instruments on the
// TWISTER bench: the DSOV254A oscilloscope, the E8257D analog signal
// generators used as local oscillators, and the M8195A arbitrary
// waveform generator.
package keysight

import (
	"fmt"
	"strings"
	"time"

	"github.com/OKState-TWISTER/twister-automation/comm"
	"github.com/OKState-TWISTER/twister-automation/oscilloscope"
	"github.com/OKState-TWISTER/twister-automation/scpi"
)

// OverRange is the sentinel Keysight instruments report when a
// measurement has no valid reading, e.g. a clipped VPP or a period
// that does not fit on screen.
const OverRange = 9.99999e37

// overRanged returns true for any reading in the instrument's
// out-of-range band
func overRanged(v float64) bool {
	return v >= 9e37 || v <= -9e37
}

// Scope is an interface to a keysight oscilloscope
type Scope struct {
	scpi.SCPI
}

// NewScope creates a new scope instance reached over the network
func NewScope(addr string) *Scope {
	maker := comm.BackingOffTCPConnMaker(addr, 1*time.Second)
	pool := comm.NewPool(1, time.Hour, maker)
	return NewScopeFromPool(pool)
}

// NewScopeFromPool creates a scope over an existing connection pool,
// e.g. one backed by a USBTMC device
func NewScopeFromPool(pool *comm.Pool) *Scope {
	return &Scope{scpi.SCPI{Pool: pool, Handshaking: true}}
}

// Initialize clears any stale errors and turns off response headers so
// queries parse cleanly.  Call once after connecting.
func (s *Scope) Initialize() error {
	err := s.Write("*CLS")
	if err != nil {
		return err
	}
	return s.Write(":SYSTem:HEADer OFF")
}

// IDN returns the scope's identification string
func (s *Scope) IDN() (string, error) {
	return s.ReadString("*IDN?")
}

// SetScale sets the vertical range of a channel in volts full scale
func (s *Scope) SetScale(channel int, voltsFullScale float64) error {
	return s.Write(fmt.Sprintf(":CHANnel%d:RANGe %E", channel, voltsFullScale))
}

// GetScale returns the scale of the scope in volts full scale
func (s *Scope) GetScale(channel int) (float64, error) {
	return s.ReadFloat(fmt.Sprintf(":CHANnel%d:RANGe?", channel))
}

// SetOffset sets the vertical offset of the scope
func (s *Scope) SetOffset(channel int, voltsOffZero float64) error {
	return s.Write(fmt.Sprintf(":CHANnel%d:OFFSet %E", channel, voltsOffZero))
}

// GetOffset returns the vertical offset of a channel on the scope
func (s *Scope) GetOffset(channel int) (float64, error) {
	return s.ReadFloat(fmt.Sprintf(":CHANnel%d:OFFSet?", channel))
}

// SetTimebase sets the full timebase width of the scope in seconds
func (s *Scope) SetTimebase(fullWidth float64) error {
	return s.Write(fmt.Sprintf(":TIMebase:RANGe %E", fullWidth))
}

// GetTimebase returns the timebase width of the scope in seconds
func (s *Scope) GetTimebase() (float64, error) {
	return s.ReadFloat(":TIMebase:RANGe?")
}

// XIncrement gets the time delta of the scope's data record
func (s *Scope) XIncrement() (float64, error) {
	return s.ReadFloat(":WAVeform:XINCrement?")
}

// SampleRate returns the sampling rate of the current record in
// samples per second (the reciprocal of the x increment)
func (s *Scope) SampleRate() (float64, error) {
	xinc, err := s.XIncrement()
	if err != nil {
		return 0, err
	}
	return 1 / xinc, nil
}

// MeasureVPP reads the peak-to-peak voltage of a source, e.g.
// "CHANnel1" or "FUNCtion1".  The over-range sentinel is returned
// as-is; callers decide how to react to a clipped reading.
func (s *Scope) MeasureVPP(source string) (float64, error) {
	return s.ReadFloat(fmt.Sprintf(":MEASure:VPP? %s", source))
}

// GetFFTPeak returns the FFT peak magnitude of a math function in dBm.
// An over-range reading (nothing above the noise floor) is mapped to
// -9999 so downstream maximization never chases the sentinel.
func (s *Scope) GetFFTPeak(function int) (float64, error) {
	resp, err := s.ReadString(fmt.Sprintf(":FUNCtion%d:FFT:PEAK:MAGNitude?", function))
	if err != nil {
		return 0, err
	}
	resp = strings.Trim(resp, `"`)
	var v float64
	_, err = fmt.Sscanf(resp, "%g", &v)
	if err != nil {
		return 0, err
	}
	if overRanged(v) {
		return -9999, nil
	}
	return v, nil
}

// SetTriggerSource sets up rising-edge triggering on the given channel
func (s *Scope) SetTriggerSource(channel int) error {
	err := s.Write(":TRIG:MODE EDGE")
	if err != nil {
		return err
	}
	err = s.Write(":TRIG:EDGE:SLOP POS")
	if err != nil {
		return err
	}
	return s.Write(fmt.Sprintf(":TRIG:EDGE:SOUR CHAN%d", channel))
}

// TriggerSource returns the channel number the scope triggers on
func (s *Scope) TriggerSource() (int, error) {
	resp, err := s.ReadString(":TRIGger:EDGE:SOURce?")
	if err != nil {
		return 0, err
	}
	var ch int
	_, err = fmt.Sscanf(strings.TrimPrefix(resp, "CHAN"), "%d", &ch)
	return ch, err
}

// ViewOneSegment sets the scope window to a single waveform segment by
// measuring the trigger period.  trigChannel <= 0 uses the system
// trigger source.  The timebase is first widened so a full period is
// guaranteed to be measurable.
func (s *Scope) ViewOneSegment(trigChannel int) error {
	if trigChannel <= 0 {
		var err error
		trigChannel, err = s.TriggerSource()
		if err != nil {
			return err
		}
	}
	err := s.SetTimebase(1e-3)
	if err != nil {
		return err
	}
	period, err := s.ReadFloat(fmt.Sprintf(":MEASure:PERiod? CHANnel%d", trigChannel))
	if err != nil {
		return err
	}
	if overRanged(period) {
		return fmt.Errorf("cannot find period of waveform on channel %d; make sure one period is viewable on screen", trigChannel)
	}
	err = s.SetTimebase(period)
	if err != nil {
		return err
	}
	// center the segment: shift by half a period, slightly under so the
	// trigger edge stays on screen
	delay := period * 0.49
	return s.Write(fmt.Sprintf(":TIMebase:POSition %.2E", delay))
}

// SetWaveformSource selects the channel used by subsequent waveform
// transfers and forces complete, non-streaming acquisitions
func (s *Scope) SetWaveformSource(channel int) error {
	err := s.Write(":WAVeform:STReaming OFF")
	if err != nil {
		return err
	}
	err = s.Write(":ACQuire:COMPlete 100")
	if err != nil {
		return err
	}
	return s.Write(fmt.Sprintf(":WAVeform:SOURce CHANnel%d", channel))
}

// EnableChannel turns on display and acquisition of a channel
func (s *Scope) EnableChannel(channel int) error {
	err := s.Write(":RUN")
	if err != nil {
		return err
	}
	return s.Write(fmt.Sprintf(":VIEW CHANnel%d", channel))
}

// waveformRaw digitizes once, then pulls the raw block for each
// requested channel and function in request order.  Error checks are
// suppressed on the block reads themselves; the queue is checked once
// after the transfer.
func (s *Scope) waveformRaw(channels, functions []int) ([][]byte, error) {
	err := s.Write(":DIGitize")
	if err != nil {
		return nil, err
	}
	sources := make([]string, 0, len(channels)+len(functions))
	for _, ch := range channels {
		sources = append(sources, fmt.Sprintf("CHANnel%d", ch))
	}
	for _, fn := range functions {
		sources = append(sources, fmt.Sprintf("FUNCtion%d", fn))
	}
	raws := make([][]byte, 0, len(sources))
	for _, src := range sources {
		err = s.Write(":WAVeform:SOURce " + src)
		if err != nil {
			return nil, err
		}
		raw, err := s.ReadBlock(":WAVeform:DATA?")
		if err != nil {
			return nil, err
		}
		raws = append(raws, raw)
	}
	if err := s.CheckErrors(":WAVeform:DATA?"); err != nil {
		return nil, err
	}
	return raws, nil
}

// WaveformBytes captures 1 byte/sample waveforms from the given scope
// channels and/or math functions, one decoded sequence per source in
// request order (channels first, then functions)
func (s *Scope) WaveformBytes(channels, functions []int) ([][]int8, error) {
	err := s.Write(":WAVeform:FORMat BYTE")
	if err != nil {
		return nil, err
	}
	raws, err := s.waveformRaw(channels, functions)
	if err != nil {
		return nil, err
	}
	return oscilloscope.DecodeBytesEach(raws), nil
}

// WaveformWords captures 2 byte/sample big-endian waveforms from the
// given scope channels and/or math functions, one decoded sequence per
// source in request order
func (s *Scope) WaveformWords(channels, functions []int) ([][]int16, error) {
	err := s.Write(":WAVeform:FORMat WORD")
	if err != nil {
		return nil, err
	}
	err = s.Write(":WAVeform:BYTeorder MSBFirst")
	if err != nil {
		return nil, err
	}
	raws, err := s.waveformRaw(channels, functions)
	if err != nil {
		return nil, err
	}
	return oscilloscope.DecodeWordsEach(raws)
}

// AcquireWaveform captures the given channels in word format and
// returns them with the scaling needed to convert to volts and time
func (s *Scope) AcquireWaveform(channels []int) (oscilloscope.Waveform, error) {
	var ret oscilloscope.Waveform
	ret.Channels = map[string]oscilloscope.Channel{}
	err := s.Write(":WAVeform:FORMat WORD")
	if err != nil {
		return ret, err
	}
	err = s.Write(":WAVeform:BYTeorder MSBFirst")
	if err != nil {
		return ret, err
	}
	err = s.Write(":DIGitize")
	if err != nil {
		return ret, err
	}
	ret.DT, err = s.XIncrement()
	if err != nil {
		return ret, err
	}
	for _, ch := range channels {
		src := fmt.Sprintf("CHANnel%d", ch)
		err = s.Write(":WAVeform:SOURce " + src)
		if err != nil {
			return ret, err
		}
		yoff, err := s.ReadFloat(":WAVeform:YORigin?")
		if err != nil {
			return ret, err
		}
		yscale, err := s.ReadFloat(":WAVeform:YINCrement?")
		if err != nil {
			return ret, err
		}
		yref, err := s.ReadFloat(":WAVeform:YREFerence?")
		if err != nil {
			return ret, err
		}
		raw, err := s.ReadBlock(":WAVeform:DATA?")
		if err != nil {
			return ret, err
		}
		data, err := oscilloscope.DecodeWords(raw)
		if err != nil {
			return ret, err
		}
		ret.Channels[src] = oscilloscope.Channel{
			Data:      data,
			Scale:     yscale,
			Offset:    yoff,
			Reference: yref,
		}
	}
	if err := s.CheckErrors(":WAVeform:DATA?"); err != nil {
		return ret, err
	}
	return ret, nil
}
