// Package bench ties the TWISTER instruments together: it owns the
// output interlock graph for the two local oscillators and the
// waveform generator, and runs the phase alignment procedure that
// maximizes received signal strength.
package bench

import (
	"fmt"
	"math"

	"github.com/OKState-TWISTER/twister-automation/interlock"
)

// defaults for the alignment procedure
const (
	// DefaultSource is the scope source whose peak-to-peak voltage the
	// calibration maximizes
	DefaultSource = "FUNCtion1"

	// DefaultStep is the probe spacing for the three-point fit
	DefaultStep = math.Pi / 8
)

// A LocalOscillator is a signal generator driving one upconverter: its
// phase can be steered and its output switched
type LocalOscillator interface {
	PhaseShifter
	interlock.Outputter
}

// Bench is the assembled test bench.  The zero value is not usable;
// construct with New.
type Bench struct {
	// Scope measures the received signal
	Scope VPPMeasurer

	// PSG1 and PSG2 are the transmit and receive local oscillators
	PSG1 LocalOscillator
	PSG2 LocalOscillator

	// Source is the scope source used for alignment; defaults to
	// DefaultSource
	Source string

	// Step is the probe spacing used for alignment; defaults to
	// DefaultStep
	Step float64

	psg1Stage *interlock.Stage
	psg2Stage *interlock.Stage
	awgStage  *interlock.Stage
}

// New assembles a bench.  awg is the waveform generator output with
// awgChannels listing the channels that carry drive power; it may only
// be enabled once both local oscillators are up.
func New(scope VPPMeasurer, awg interlock.Outputter, awgChannels []int, psg1, psg2 LocalOscillator) *Bench {
	b := &Bench{
		Scope:  scope,
		PSG1:   psg1,
		PSG2:   psg2,
		Source: DefaultSource,
		Step:   DefaultStep,
	}
	b.psg1Stage = interlock.NewStage("psg1", psg1, 1)
	b.psg2Stage = interlock.NewStage("psg2", psg2, 1)
	b.awgStage = interlock.NewStage("awg", awg, awgChannels...)
	b.awgStage.Requires(b.psg1Stage, b.psg2Stage)
	return b
}

// EnableOutputs brings the bench up in order (local oscillators, then
// drive power), runs fn, and tears everything back down in reverse
// order on every exit path
func (b *Bench) EnableOutputs(fn func() error) error {
	return b.psg1Stage.With(func() error {
		return b.psg2Stage.With(func() error {
			return b.awgStage.With(fn)
		})
	})
}

// AlignPhase runs the three-point phase fit on local oscillator n
// (1 or 2) and returns the corrective offset it applied, in radians.
// Outputs must already be enabled.
func (b *Bench) AlignPhase(n int) (float64, error) {
	var lo LocalOscillator
	switch n {
	case 1:
		lo = b.PSG1
	case 2:
		lo = b.PSG2
	default:
		return 0, fmt.Errorf("bench: no local oscillator %d", n)
	}
	return PeakPhase(lo, b.Scope, b.Source, b.Step)
}
