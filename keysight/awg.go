package keysight

import (
	"fmt"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/time/rate"

	"github.com/OKState-TWISTER/twister-automation/comm"
	"github.com/OKState-TWISTER/twister-automation/scpi"
)

// awgChannels is the channel count of the M8195A
const awgChannels = 4

// safeVoltage is the output amplitude set on every channel at startup.
// The upconverter modules downstream tolerate 220 mV.
const safeVoltage = 0.220

// WaveformGenerator is an interface to an M8195A arbitrary waveform
// generator.  Commands go through the M8195 soft front panel, which
// drops back-to-back messages, so writes are paced.
type WaveformGenerator struct {
	scpi.SCPI
}

// NewWaveformGenerator creates a new waveform generator instance
// reached over the network
func NewWaveformGenerator(addr string) *WaveformGenerator {
	maker := comm.BackingOffTCPConnMaker(addr, 1*time.Second)
	pool := comm.NewPool(1, time.Hour, maker)
	return NewWaveformGeneratorFromPool(pool)
}

// NewWaveformGeneratorFromPool creates a waveform generator over an
// existing connection pool
func NewWaveformGeneratorFromPool(pool *comm.Pool) *WaveformGenerator {
	return &WaveformGenerator{scpi.SCPI{
		Pool:        pool,
		Handshaking: true,
		Pace:        rate.NewLimiter(rate.Every(5*time.Millisecond), 1),
	}}
}

// IDN returns the generator's identification string
func (w *WaveformGenerator) IDN() (string, error) {
	return w.ReadString("*IDN?")
}

// Initialize resets the generator to the bench's default
// configuration: single-channel DAC mode with markers and a safe
// output amplitude on every channel
func (w *WaveformGenerator) Initialize() error {
	err := w.Write("*RST")
	if err != nil {
		return err
	}
	err = w.Write(":INSTrument:DACMode MARKer")
	if err != nil {
		return err
	}
	for channel := 1; channel <= awgChannels; channel++ {
		err = w.Write(fmt.Sprintf(":VOLTage%d %.3f", channel, safeVoltage))
		if err != nil {
			return err
		}
	}
	return nil
}

// LoadWaveform replaces segment 1 of trace 1 with the given samples
// and starts generation.  Samples are the DAC words from a waveform
// file; sampleRate is the DAC rate in samples per second.
func (w *WaveformGenerator) LoadWaveform(samples []uint16, sampleRate float64) error {
	err := w.Write("ABORt")
	if err != nil {
		return err
	}
	err = w.Write("TRAC1:DEL:ALL")
	if err != nil {
		return err
	}
	err = w.Write(fmt.Sprintf(":FREQuency:RASTer %G", sampleRate))
	if err != nil {
		return err
	}
	err = w.Write(fmt.Sprintf(":TRACe1:DEFine 1,%d", len(samples)))
	if err != nil {
		return err
	}
	err = w.WriteBlockUint16(":TRACe1:DATA 1,0,", samples, true)
	if err != nil {
		return err
	}
	return w.Write(":INIT:IMM")
}

// SegmentCatalog returns the generator's description of defined
// trace 1 segments
func (w *WaveformGenerator) SegmentCatalog() (string, error) {
	return w.ReadString(":TRACe1:CATalog?")
}

// SetOutput turns a single output channel on or off
func (w *WaveformGenerator) SetOutput(channel int, on bool) error {
	mnemonic := "OFF"
	if on {
		mnemonic = "ON"
	}
	return w.Write(fmt.Sprintf(":OUTPut%d:STATe %s", channel, mnemonic))
}

// OutputEnabled returns true if any of the four output channels is on
func (w *WaveformGenerator) OutputEnabled() (bool, error) {
	for channel := 1; channel <= awgChannels; channel++ {
		i, err := w.ReadInt(fmt.Sprintf(":OUTPut%d:STATe?", channel))
		if err != nil {
			return false, err
		}
		if i != 0 {
			return true, nil
		}
	}
	return false, nil
}

// Shutdown turns off every output channel.  All channels are attempted
// even if some fail; the errors are aggregated.
func (w *WaveformGenerator) Shutdown() error {
	var err error
	for channel := 1; channel <= awgChannels; channel++ {
		err = multierr.Append(err, w.SetOutput(channel, false))
	}
	return err
}
