package bench

import (
	"fmt"
	"math"
)

// saturated is the lower edge of the over-range band instruments report
// when a reading is invalid.  A probe in this band means the signal is
// clipped or absent and the fit cannot proceed.
func saturated(v float64) bool {
	return v >= 9e37 || v <= -9e37
}

// SaturatedSignal is the error returned when a probe measurement comes
// back as the instrument's over-range sentinel
type SaturatedSignal struct {
	// Probe is the 1-based index of the bad measurement
	Probe int

	// Value is the reading the instrument reported
	Value float64
}

func (e *SaturatedSignal) Error() string {
	return fmt.Sprintf("phase calibration: probe %d saturated (%g); check scaling and connections", e.Probe, e.Value)
}

// IllConditionedFit is the error returned when the three probe
// measurements do not describe a recoverable sinusoid
type IllConditionedFit struct {
	Reason string
	P1     float64
	P2     float64
	P3     float64
}

func (e *IllConditionedFit) Error() string {
	return fmt.Sprintf("phase calibration: %s (probes %g, %g, %g)", e.Reason, e.P1, e.P2, e.P3)
}

// A PhaseShifter can zero its phase reference and offset its output
// phase from that reference, in radians
type PhaseShifter interface {
	SetPhaseReference() error
	SetPhase(rad float64) error
}

// A VPPMeasurer reads the peak-to-peak voltage of a named source
type VPPMeasurer interface {
	MeasureVPP(source string) (float64, error)
}

// PeakPhase finds the phase offset of shifter that maximizes the
// peak-to-peak amplitude seen on source, commands it, and returns it.
//
// The envelope of the measured amplitude versus commanded phase is a
// sinusoid.  Three probes at offsets 0, step and 2*step pin it down:
// with per-step advance ws, amplitude A and starting phase phi,
//
//	p1 = A sin(phi)
//	p2 = A sin(phi + ws)
//	p3 = A sin(phi + 2 ws)
//
// so (p1+p3)/(2 p2) = cos(ws) independent of A and phi, and A and phi
// follow.  The peak of the envelope sits at phase pi/2, so the
// corrective offset is pi/2 - phi.
//
// step is in radians and must be small enough that all three probes
// land on the same half-cycle of the envelope.
func PeakPhase(shifter PhaseShifter, meter VPPMeasurer, source string, step float64) (float64, error) {
	err := shifter.SetPhaseReference()
	if err != nil {
		return 0, err
	}
	probes := make([]float64, 3)
	for i := range probes {
		if i > 0 {
			err = shifter.SetPhase(float64(i) * step)
			if err != nil {
				return 0, err
			}
		}
		probes[i], err = meter.MeasureVPP(source)
		if err != nil {
			return 0, err
		}
		if saturated(probes[i]) {
			return 0, &SaturatedSignal{Probe: i + 1, Value: probes[i]}
		}
	}
	p1, p2, p3 := probes[0], probes[1], probes[2]
	if p2 == 0 {
		return 0, &IllConditionedFit{Reason: "middle probe is zero", P1: p1, P2: p2, P3: p3}
	}
	ratio := (p1 + p3) / (2 * p2)
	if ratio > 1 || ratio < -1 {
		return 0, &IllConditionedFit{Reason: "probes do not lie on a sinusoid", P1: p1, P2: p2, P3: p3}
	}
	ws := math.Acos(ratio)
	sinWs := math.Sin(ws)
	if math.Abs(sinWs) < 1e-9 {
		return 0, &IllConditionedFit{Reason: "degenerate phase step", P1: p1, P2: p2, P3: p3}
	}
	q := (p2 - p1*math.Cos(ws)) / sinWs
	amplitude := math.Sqrt(p1*p1 + q*q)
	phi := math.Asin(p1 / amplitude)
	corrective := math.Pi/2 - phi
	err = shifter.SetPhase(corrective)
	if err != nil {
		return 0, err
	}
	return corrective, nil
}
