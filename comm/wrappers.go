package comm

import (
	"io"
	"time"
)

// deadliner is the subset of net.Conn used to arm timeouts.
type deadliner interface {
	SetDeadline(t time.Time) error
}

// Terminator wraps an io.ReadWriter, appending the Tx terminator to
// every write and trimming a trailing Rx terminator from every read.
type Terminator struct {
	rw io.ReadWriter

	// Rx and Tx are the receive and transmit termination bytes
	Rx, Tx byte
}

// NewTerminator wraps rw with the given termination bytes
func NewTerminator(rw io.ReadWriter, rx, tx byte) *Terminator {
	return &Terminator{rw: rw, Rx: rx, Tx: tx}
}

// Inner returns the wrapped ReadWriter
func (t *Terminator) Inner() io.ReadWriter { return t.rw }

func (t *Terminator) Write(p []byte) (int, error) {
	buf := make([]byte, len(p)+1)
	copy(buf, p)
	buf[len(p)] = t.Tx
	n, err := t.rw.Write(buf)
	if n > len(p) {
		n = len(p)
	}
	return n, err
}

func (t *Terminator) Read(p []byte) (int, error) {
	n, err := t.rw.Read(p)
	if n > 0 && p[n-1] == t.Rx {
		n--
	}
	return n, err
}

// Timeout wraps an io.ReadWriter, arming a fresh deadline on the
// underlying connection before each read or write.  If nothing in the
// wrapped chain can hold a deadline (an in-memory pipe, a serial port
// with its own ReadTimeout) the input is returned unwrapped.
type Timeout struct {
	rw io.ReadWriter
	d  deadliner
	to time.Duration
}

// NewTimeout wraps rw so each IO operation gets a deadline of to from now
func NewTimeout(rw io.ReadWriter, to time.Duration) (io.ReadWriter, error) {
	d := findDeadliner(rw)
	if d == nil {
		return rw, nil
	}
	return &Timeout{rw: rw, d: d, to: to}, nil
}

// findDeadliner walks the Inner() chain looking for something that can
// hold a deadline
func findDeadliner(rw io.ReadWriter) deadliner {
	for rw != nil {
		if d, ok := rw.(deadliner); ok {
			return d
		}
		inner, ok := rw.(interface{ Inner() io.ReadWriter })
		if !ok {
			return nil
		}
		rw = inner.Inner()
	}
	return nil
}

func (t *Timeout) Write(p []byte) (int, error) {
	t.d.SetDeadline(time.Now().Add(t.to))
	return t.rw.Write(p)
}

func (t *Timeout) Read(p []byte) (int, error) {
	t.d.SetDeadline(time.Now().Add(t.to))
	return t.rw.Read(p)
}
