package scpi

import (
	"fmt"
	"strconv"
	"strings"
)

// Fault is an error reported by the instrument itself through its
// error queue, as opposed to a failure of the link.
type Fault struct {
	// Code is the numeric SCPI error code, e.g. -221
	Code int

	// Text is the quoted error description, e.g. `Settings conflict`
	Text string

	// Context is the command or query that triggered the fault
	Context string
}

func (f *Fault) Error() string {
	if f.Context != "" {
		return fmt.Sprintf("instrument fault %d,%q, command: %q", f.Code, f.Text, f.Context)
	}
	return fmt.Sprintf("instrument fault %d,%q", f.Code, f.Text)
}

// noError returns true if an error queue response indicates the
// resting "no error" state.  Keysight gear responds with either
// `+0,"No error"` or `0,No error` depending on model and headers.
func noError(resp string) bool {
	resp = strings.TrimSpace(resp)
	resp = strings.TrimPrefix(resp, "+")
	return strings.HasPrefix(resp, "0,") || resp == "0"
}

// parseFault converts an error queue response into a *Fault, or nil
// for the no-error response
func parseFault(resp, context string) error {
	if noError(resp) {
		return nil
	}
	f := &Fault{Text: strings.TrimSpace(resp), Context: context}
	if idx := strings.Index(resp, ","); idx > 0 {
		if code, err := strconv.Atoi(strings.TrimSpace(resp[:idx])); err == nil {
			f.Code = code
			f.Text = strings.Trim(strings.TrimSpace(resp[idx+1:]), `"`)
		}
	}
	return f
}

// CheckErrors queries the error queue once and fails fast on the
// first pending fault.  It does not drain the queue; a fault is meant
// to be user-visible before anything else happens to the instrument.
func (s *SCPI) CheckErrors(context string) error {
	prev := s.Handshaking
	s.Handshaking = false
	defer func() { s.Handshaking = prev }()
	resp, err := s.ReadString("SYSTem:ERRor?")
	if err != nil {
		return err
	}
	return parseFault(resp, context)
}

// PopError gets a single error from the queue on the device
func (s *SCPI) PopError() error {
	return s.CheckErrors("")
}

// DrainErrors empties the error queue, returning everything that was
// in it.  This is the one local recovery the library performs: after
// draining, the queue is back in its "no error" resting state.
func (s *SCPI) DrainErrors() []error {
	var errs []error
	for {
		err := s.PopError()
		if err == nil {
			break
		}
		errs = append(errs, err)
		if _, ok := err.(*Fault); !ok {
			// link failure, not an instrument fault; no point looping
			break
		}
	}
	return errs
}
