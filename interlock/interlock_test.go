package interlock_test

import (
	"errors"
	"testing"

	"github.com/OKState-TWISTER/twister-automation/interlock"
)

// recorder is a fake instrument output that logs every switch command
type recorder struct {
	calls []call
	fail  map[int]error
}

type call struct {
	channel int
	on      bool
}

func (r *recorder) SetOutput(channel int, on bool) error {
	r.calls = append(r.calls, call{channel, on})
	if err, bad := r.fail[channel]; bad && on {
		return err
	}
	return nil
}

func TestEnableBlockedByDisabledPrereq(t *testing.T) {
	lo := &recorder{}
	drive := &recorder{}
	loStage := interlock.NewStage("psg1", lo, 1)
	driveStage := interlock.NewStage("awg", drive, 1, 3)
	driveStage.Requires(loStage)

	err := driveStage.Enable()
	var v *interlock.Violation
	if !errors.As(err, &v) {
		t.Fatalf("expected *Violation, got %v", err)
	}
	if v.Stage != "awg" || v.Prereq != "psg1" {
		t.Errorf("violation names wrong stages: %+v", v)
	}
	if len(drive.calls) != 0 {
		t.Errorf("hardware touched despite violation: %v", drive.calls)
	}
	if driveStage.Enabled() {
		t.Error("stage reports enabled after a refused enable")
	}
}

func TestEnableAfterPrereqsUp(t *testing.T) {
	lo1 := &recorder{}
	lo2 := &recorder{}
	drive := &recorder{}
	s1 := interlock.NewStage("psg1", lo1, 1)
	s2 := interlock.NewStage("psg2", lo2, 1)
	awg := interlock.NewStage("awg", drive, 1, 3)
	awg.Requires(s1, s2)

	if err := s1.Enable(); err != nil {
		t.Fatal(err)
	}
	if err := s2.Enable(); err != nil {
		t.Fatal(err)
	}
	if err := awg.Enable(); err != nil {
		t.Fatal(err)
	}
	want := []call{{1, true}, {3, true}}
	if len(drive.calls) != len(want) {
		t.Fatalf("expected %d switch commands, got %v", len(want), drive.calls)
	}
	for i := range want {
		if drive.calls[i] != want[i] {
			t.Errorf("command %d: expected %+v, got %+v", i, want[i], drive.calls[i])
		}
	}
}

func TestEnableRollsBackPartialFailure(t *testing.T) {
	boom := errors.New("output fault")
	drive := &recorder{fail: map[int]error{3: boom}}
	awg := interlock.NewStage("awg", drive, 1, 3)

	err := awg.Enable()
	if !errors.Is(err, boom) {
		t.Fatalf("expected the output fault, got %v", err)
	}
	if awg.Enabled() {
		t.Error("stage reports enabled after a failed enable")
	}
	// channel 1 came on before the failure and must be turned back off
	last := drive.calls[len(drive.calls)-1]
	if last.channel != 1 || last.on {
		t.Errorf("expected rollback of channel 1, last command was %+v", last)
	}
}

func TestDisableNeverBlocked(t *testing.T) {
	lo := &recorder{}
	drive := &recorder{}
	s1 := interlock.NewStage("psg1", lo, 1)
	awg := interlock.NewStage("awg", drive, 1, 3)
	awg.Requires(s1)

	// disabling a stage whose prereqs were never up is fine
	if err := awg.Disable(); err != nil {
		t.Fatal(err)
	}
	want := []call{{1, false}, {3, false}}
	for i := range want {
		if drive.calls[i] != want[i] {
			t.Errorf("command %d: expected %+v, got %+v", i, want[i], drive.calls[i])
		}
	}
}

func countOffs(calls []call) int {
	n := 0
	for _, c := range calls {
		if !c.on {
			n++
		}
	}
	return n
}

func TestWithDisablesOnReturn(t *testing.T) {
	dev := &recorder{}
	s := interlock.NewStage("psg1", dev, 1)
	ran := false
	err := s.With(func() error {
		ran = true
		if !s.Enabled() {
			t.Error("stage not enabled inside With")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if !ran {
		t.Fatal("body never ran")
	}
	if s.Enabled() {
		t.Error("stage still enabled after With returned")
	}
	if countOffs(dev.calls) != 1 {
		t.Errorf("expected exactly one disable, commands were %v", dev.calls)
	}
}

func TestWithDisablesOnBodyError(t *testing.T) {
	dev := &recorder{}
	s := interlock.NewStage("psg1", dev, 1)
	boom := errors.New("measurement failed")
	err := s.With(func() error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("body error lost: %v", err)
	}
	if s.Enabled() {
		t.Error("stage still enabled after body error")
	}
}

func TestWithDisablesOnPanic(t *testing.T) {
	dev := &recorder{}
	s := interlock.NewStage("psg1", dev, 1)
	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("panic did not propagate")
			}
		}()
		s.With(func() error { panic("bad cast") })
	}()
	if s.Enabled() {
		t.Error("stage still enabled after panic")
	}
	if countOffs(dev.calls) != 1 {
		t.Errorf("expected exactly one disable, commands were %v", dev.calls)
	}
}

func TestWithSkipsBodyOnViolation(t *testing.T) {
	lo := &recorder{}
	drive := &recorder{}
	s1 := interlock.NewStage("psg1", lo, 1)
	awg := interlock.NewStage("awg", drive, 1)
	awg.Requires(s1)

	err := awg.With(func() error {
		t.Error("body ran despite violation")
		return nil
	})
	var v *interlock.Violation
	if !errors.As(err, &v) {
		t.Fatalf("expected *Violation, got %v", err)
	}
	if len(drive.calls) != 0 {
		t.Errorf("hardware touched despite violation: %v", drive.calls)
	}
}
