package keysight

import (
	"fmt"
	"math"
	"time"

	"github.com/OKState-TWISTER/twister-automation/comm"
	"github.com/OKState-TWISTER/twister-automation/scpi"
)

// SignalGenerator is an interface to an E8257D analog signal
// generator, used as a local oscillator feeding the upconverter
// modules
type SignalGenerator struct {
	scpi.SCPI

	// Name distinguishes the two PSGs on the bench in errors and logs
	Name string
}

// NewSignalGenerator creates a new signal generator instance reached
// over the network
func NewSignalGenerator(addr, name string) *SignalGenerator {
	maker := comm.BackingOffTCPConnMaker(addr, 1*time.Second)
	pool := comm.NewPool(1, time.Hour, maker)
	return NewSignalGeneratorFromPool(pool, name)
}

// NewSignalGeneratorFromPool creates a signal generator over an
// existing connection pool
func NewSignalGeneratorFromPool(pool *comm.Pool, name string) *SignalGenerator {
	return &SignalGenerator{SCPI: scpi.SCPI{Pool: pool, Handshaking: true}, Name: name}
}

// SetFrequency sets the CW output frequency in Hz
func (g *SignalGenerator) SetFrequency(hz float64) error {
	return g.Write(fmt.Sprintf(":FREQuency:FIXed %.2E", hz))
}

// GetFrequency returns the CW output frequency in Hz
func (g *SignalGenerator) GetFrequency() (float64, error) {
	return g.ReadFloat(":FREQuency:FIXed?")
}

// SetPhase sets the output phase in radians relative to the phase
// reference
func (g *SignalGenerator) SetPhase(rad float64) error {
	return g.Write(fmt.Sprintf(":PHASe %.6fRAD", rad))
}

// SetPhaseDeg is SetPhase in degrees
func (g *SignalGenerator) SetPhaseDeg(deg float64) error {
	return g.Write(fmt.Sprintf(":PHASe %.6fDEG", deg))
}

// GetPhase returns the output phase in radians
func (g *SignalGenerator) GetPhase() (float64, error) {
	return g.ReadFloat(":PHASe?")
}

// GetPhaseDeg returns the output phase in degrees
func (g *SignalGenerator) GetPhaseDeg() (float64, error) {
	rad, err := g.GetPhase()
	return rad * 180 / math.Pi, err
}

// SetPhaseReference marks the current phase as the new zero reference
func (g *SignalGenerator) SetPhaseReference() error {
	return g.Write(":PHASe:REFerence")
}

// SetOutput turns the RF output on or off.  The E8257D has a single
// output, so the channel argument is ignored; it exists to satisfy the
// interlock's Outputter interface.
func (g *SignalGenerator) SetOutput(channel int, on bool) error {
	mnemonic := "OFF"
	if on {
		mnemonic = "ON"
	}
	return g.Write(":OUTPut:STATe " + mnemonic)
}

// OutputEnabled returns true if the RF output is on
func (g *SignalGenerator) OutputEnabled() (bool, error) {
	i, err := g.ReadInt(":OUTPut:STATe?")
	return i != 0, err
}
