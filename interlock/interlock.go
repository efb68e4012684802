// Package interlock sequences instrument outputs that must not be
// energized out of order.  On the TWISTER bench the waveform generator
// drives upconverter modules that are damaged if they see drive power
// without both local oscillators running; the interlock refuses to
// enable a stage before everything it depends on is live, and always
// allows shutdown.
package interlock

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
)

// An Outputter can turn its output channels on and off.  Instruments
// with a single output ignore the channel argument.
type Outputter interface {
	SetOutput(channel int, on bool) error
}

// Violation is the error returned when a stage is enabled before its
// prerequisites.  No hardware command is issued when it is returned.
type Violation struct {
	// Stage is the stage that was asked to enable
	Stage string

	// Prereq is the disabled stage blocking it
	Prereq string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("interlock: cannot enable %s while %s is disabled", v.Stage, v.Prereq)
}

// Stage is one output in the power-up ordering.  A stage tracks its own
// enabled state; the state reflects commands issued through the stage,
// not front-panel changes made behind its back.
type Stage struct {
	mu       sync.Mutex
	name     string
	dev      Outputter
	channels []int
	prereqs  []*Stage
	enabled  bool
}

// NewStage wraps an instrument output as an interlock stage.  channels
// lists the output channels the stage controls; instruments with one
// output pass a single channel.
func NewStage(name string, dev Outputter, channels ...int) *Stage {
	return &Stage{name: name, dev: dev, channels: channels}
}

// Requires declares stages that must be enabled before this one
func (s *Stage) Requires(prereqs ...*Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prereqs = append(s.prereqs, prereqs...)
}

// Name returns the stage's label
func (s *Stage) Name() string {
	return s.name
}

// Enabled returns true if the stage has been enabled and not since
// disabled
func (s *Stage) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Enable checks every prerequisite, then turns on the stage's channels.
// If any prerequisite is disabled the stage returns a *Violation and
// touches no hardware.  If a channel fails to turn on, channels already
// turned on are turned back off and the stage stays disabled.
func (s *Stage) Enable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enabled {
		return nil
	}
	for _, p := range s.prereqs {
		if !p.Enabled() {
			return &Violation{Stage: s.name, Prereq: p.name}
		}
	}
	for i, ch := range s.channels {
		if err := s.dev.SetOutput(ch, true); err != nil {
			for _, prev := range s.channels[:i] {
				err = multierr.Append(err, s.dev.SetOutput(prev, false))
			}
			return err
		}
	}
	s.enabled = true
	return nil
}

// Disable turns off every channel of the stage.  Shutdown is never
// blocked: all channels are attempted even if some fail, the errors are
// aggregated, and the stage is marked disabled regardless.
func (s *Stage) Disable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	for _, ch := range s.channels {
		err = multierr.Append(err, s.dev.SetOutput(ch, false))
	}
	s.enabled = false
	return err
}

// With enables the stage, runs fn, and disables the stage on every exit
// path, including a panic in fn.  Errors from fn and from the disable
// are aggregated.
func (s *Stage) With(fn func() error) (err error) {
	if err = s.Enable(); err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, s.Disable())
	}()
	return fn()
}
