/*Package comm provides connection plumbing for remote bench instruments.

Instruments are reached over TCP (LAN instruments), RS-232, or USBTMC.
All of them boil down to an io.ReadWriteCloser; this package supplies
the creation functions for the Pool as well as the Terminator and
Timeout wrappers used by the SCPI layer.
*/
package comm

import (
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/tarm/serial"
)

// TransportError describes a failure of the link itself, as opposed to
// an error reported by the instrument on the other end of it.
type TransportError struct {
	// Addr is the address of the remote the link points at
	Addr string

	// Op is the operation that failed, e.g. "dial", "read"
	Op string

	// Err is the underlying cause
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// TCPSetup opens a new TCP connection and sets a timeout on connect, read, and write
func TCPSetup(addr string, timeout time.Duration) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)
	return conn, nil
}

// BackingOffTCPConnMaker returns a CreationFunc which dials addr with
// an exponential backoff.  Some instruments do not like being
// connection thrashed, so the retry interval starts small and doubles.
func BackingOffTCPConnMaker(addr string, timeout time.Duration) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		var conn net.Conn
		wasTimeout := false
		op := func() error {
			var err error
			conn, err = TCPSetup(addr, timeout)
			if err != nil {
				errS := strings.ToLower(err.Error())
				if strings.Contains(errS, "refused") {
					return err
				}
				wasTimeout = true
				return nil
			}
			wasTimeout = false
			return nil
		}
		err := backoff.Retry(op, &backoff.ExponentialBackOff{
			InitialInterval:     25 * time.Millisecond,
			RandomizationFactor: 0.,
			Multiplier:          2.,
			MaxInterval:         1 * time.Second,
			MaxElapsedTime:      3 * time.Second,
			Clock:               backoff.SystemClock})
		if err == nil && !wasTimeout {
			return conn, nil
		}
		if wasTimeout {
			err = fmt.Errorf("connection timeout")
		}
		return nil, &TransportError{Addr: addr, Op: "dial", Err: err}
	}
}

// SerialConnMaker returns a CreationFunc which opens the serial port
// described by conf.  The port's own ReadTimeout stands in for link
// deadlines.
func SerialConnMaker(conf *serial.Config) CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		port, err := serial.OpenPort(conf)
		if err != nil {
			return nil, &TransportError{Addr: conf.Name, Op: "open", Err: err}
		}
		return port, nil
	}
}
