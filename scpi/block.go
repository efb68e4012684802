package scpi

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/OKState-TWISTER/twister-automation/comm"
)

// jumboFrameSize is the read granularity for bulk waveform transfers
var jumboFrameSize = 9000

func malformed(cause error) error {
	return &comm.TransportError{Op: "block read", Err: cause}
}

// ReadBlock sends a query and reads back an IEEE 488.2 definite-length
// block: '#', one digit giving the length of the length field, the
// payload length in ASCII, the payload, and a trailing newline.  The
// returned slice is the bare payload.  The error queue is deliberately
// not checked here; callers doing bulk transfers check once afterward.
func (s *SCPI) ReadBlock(cmd string) ([]byte, error) {
	s.pace()
	var ret []byte
	conn, err := s.Pool.Get()
	if err != nil {
		return ret, err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	wrap, err := comm.NewTimeout(conn, timeout)
	if err != nil {
		return ret, err
	}
	_, err = wrap.Write(append([]byte(cmd), '\n'))
	if err != nil {
		return ret, err
	}
	buf := make([]byte, jumboFrameSize)
	n, err := wrap.Read(buf)
	if err != nil {
		return ret, err
	}
	if n < 2 {
		err = malformed(fmt.Errorf("response was only %d bytes, expected >2", n))
		return ret, err
	}
	if buf[0] != '#' {
		err = malformed(fmt.Errorf("first byte in response was %q, expected #", buf[0]))
		return ret, err
	}
	nbytesText := int(buf[1]) - 48 // shift down by 48, ASCII->int
	if nbytesText < 1 || nbytesText > 9 {
		err = malformed(fmt.Errorf("length-of-length digit out of range: %q", buf[1]))
		return ret, err
	}
	upper := 2 + nbytesText
	dataBuf := buf[:n]
	if len(dataBuf) < upper {
		err = malformed(fmt.Errorf("block header truncated at %d bytes", n))
		return ret, err
	}
	nbytes, err := strconv.Atoi(string(dataBuf[2:upper]))
	if err != nil {
		err = malformed(err)
		return ret, err
	}
	dataBuf = dataBuf[upper:]
	// payload plus the terminator; keep reading until the declared
	// length has fully arrived
	for len(dataBuf) < nbytes+1 {
		buf := make([]byte, jumboFrameSize)
		n, err = wrap.Read(buf)
		if err != nil {
			err = malformed(fmt.Errorf("short block, have %d of %d declared bytes: %w", len(dataBuf), nbytes, err))
			return ret, err
		}
		dataBuf = append(dataBuf, buf[:n]...)
	}
	if dataBuf[nbytes] != '\n' {
		err = malformed(fmt.Errorf("block not terminated after %d declared bytes", nbytes))
		return ret, err
	}
	return dataBuf[:nbytes], nil
}

// WriteBlock sends a command with an IEEE 488.2 definite-length block
// payload attached, e.g. WriteBlock(":TRACe1:DATA 1,0,", data).
// The payload bytes are sent as-is; use WriteBlockUint16 for
// two-byte-wide elements.
func (s *SCPI) WriteBlock(cmd string, payload []byte) error {
	s.pace()
	conn, err := s.Pool.Get()
	if err != nil {
		return err
	}
	defer func() { s.Pool.ReturnWithError(conn, err) }()
	wrap, err := comm.NewTimeout(conn, timeout)
	if err != nil {
		return err
	}
	lenS := strconv.Itoa(len(payload))
	hdr := []byte(cmd + "#" + strconv.Itoa(len(lenS)) + lenS)
	msg := make([]byte, 0, len(hdr)+len(payload)+1)
	msg = append(msg, hdr...)
	msg = append(msg, payload...)
	msg = append(msg, '\n')
	_, err = wrap.Write(msg)
	if err != nil {
		return err
	}
	if s.Handshaking {
		_, err = wrap.Write([]byte("SYSTem:ERRor?\n"))
		if err != nil {
			return err
		}
		buf := make([]byte, tcpFrameSize)
		n, err := wrap.Read(buf)
		if err != nil {
			return err
		}
		return parseFault(string(buf[:n]), cmd)
	}
	return nil
}

// WriteBlockUint16 packs 16-bit elements with the requested byte order
// and sends them as a definite-length block
func (s *SCPI) WriteBlockUint16(cmd string, data []uint16, bigEndian bool) error {
	order := binary.ByteOrder(binary.LittleEndian)
	if bigEndian {
		order = binary.BigEndian
	}
	payload := make([]byte, 2*len(data))
	for i, v := range data {
		order.PutUint16(payload[2*i:], v)
	}
	return s.WriteBlock(cmd, payload)
}
