/*Package usbtmc implements the bulk transfer mode of USB Test and
Measurement Class devices.  It carries SCPI to the DSOV254A over its
USB port for benches without a free network drop.

Messages travel as datagrams with a 12 byte header.  To send, the
header and payload are written to the Out endpoint, padded to a 4 byte
boundary.  To receive, a read request is written to the Out endpoint,
then the In endpoint is read until the transfer size the device
declared in its reply header has fully arrived.

A Device satisfies io.ReadWriteCloser, so it plugs into comm.Pool like
a TCP connection does.
*/
package usbtmc

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/google/gousb"

	"github.com/OKState-TWISTER/twister-automation/comm"
)

const (
	reserved = 0x00

	// message IDs from the USBTMC standard, Table 2
	devDepMsgOut       = 0x01
	requestDevDepMsgIn = 0x02
	devDepMsgIn        = 0x02

	headerLen = 12

	// chunk requested per read transaction; waveform blocks span many
	chunkSize = 16384
)

// bTagGen produces the message tags the standard requires: one byte,
// incrementing, never zero
type bTagGen struct {
	sync.Mutex
	value byte
}

func (b *bTagGen) next() byte {
	b.Lock()
	defer b.Unlock()
	b.value++
	if b.value == 0 {
		b.value = 1
	}
	return b.value
}

// invbTag is the bitwise inversion of a bTag, standard Table 1 offset 2
func invbTag(b byte) byte {
	return b ^ 0xff
}

// encBulkOutHeader builds the DEV_DEP_MSG_OUT header, standard Table 3.
// datalen is the payload size exclusive of header and padding.
func encBulkOutHeader(tag byte, datalen int) [headerLen]byte {
	out := [headerLen]byte{}
	out[0] = devDepMsgOut
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(datalen))
	out[8] = 0x01 // EOM, the message is whole
	return out
}

// encBulkInHeader builds the REQUEST_DEV_DEP_MSG_IN header, standard
// Table 4.  bufsize is the most the host will accept in reply.
func encBulkInHeader(tag byte, bufsize int) [headerLen]byte {
	out := [headerLen]byte{}
	out[0] = requestDevDepMsgIn
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	binary.LittleEndian.PutUint32(out[4:8], uint32(bufsize))
	// no termination character; the device decides message boundaries
	return out
}

// Device is a USBTMC instrument connection
type Device struct {
	tagger bTagGen
	ctx    *gousb.Context
	device *gousb.Device
	iface  *gousb.Interface
	in     *gousb.InEndpoint
	out    *gousb.OutEndpoint
	closer func()

	// pending holds payload bytes received but not yet consumed by Read
	pending []byte
}

// Open connects to an instrument by its vendor and product ID
func Open(vid, pid uint16) (*Device, error) {
	d := &Device{ctx: gousb.NewContext()}
	var err error
	d.device, err = d.ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		d.ctx.Close()
		return nil, err
	}
	if d.device == nil {
		d.ctx.Close()
		return nil, fmt.Errorf("usbtmc: no device with VID:PID %04x:%04x", vid, pid)
	}
	err = d.device.SetAutoDetach(true)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.iface, d.closer, err = d.device.DefaultInterface()
	if err != nil {
		d.Close()
		return nil, err
	}
	d.in, err = d.iface.InEndpoint(2)
	if err != nil {
		d.Close()
		return nil, err
	}
	d.out, err = d.iface.OutEndpoint(2)
	if err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// writeAll retries partial bulk writes until the buffer is flushed
func (d *Device) writeAll(ep *gousb.OutEndpoint, b []byte) error {
	for len(b) > 0 {
		n, err := ep.Write(b)
		if err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// Write sends b as one device-dependent message, padded to the 4 byte
// alignment the standard requires
func (d *Device) Write(b []byte) (int, error) {
	hdr := encBulkOutHeader(d.tagger.next(), len(b))
	msg := make([]byte, 0, headerLen+len(b)+3)
	msg = append(msg, hdr[:]...)
	msg = append(msg, b...)
	for len(msg)%4 != 0 {
		msg = append(msg, 0x00)
	}
	if err := d.writeAll(d.out, msg); err != nil {
		return 0, err
	}
	return len(b), nil
}

// fill requests one message from the device and appends its payload to
// the pending buffer
func (d *Device) fill() error {
	hdr := encBulkInHeader(d.tagger.next(), chunkSize)
	if err := d.writeAll(d.out, hdr[:]); err != nil {
		return err
	}
	buf := make([]byte, chunkSize)
	n, err := d.in.Read(buf)
	if err != nil {
		return err
	}
	if n < headerLen {
		return fmt.Errorf("usbtmc: reply was %d bytes, need %d for a header", n, headerLen)
	}
	if buf[0] != devDepMsgIn {
		return fmt.Errorf("usbtmc: unexpected message ID %#x in reply", buf[0])
	}
	declared := int(binary.LittleEndian.Uint32(buf[4:8]))
	payload := buf[headerLen:n]
	// the declared size may exceed one bulk transaction; drain the rest
	for len(payload) < declared {
		n, err = d.in.Read(buf)
		if err != nil {
			return fmt.Errorf("usbtmc: short message, have %d of %d declared bytes: %w", len(payload), declared, err)
		}
		payload = append(payload, buf[:n]...)
	}
	d.pending = append(d.pending, payload[:declared]...)
	return nil
}

// Read returns payload bytes from the device, requesting a new message
// when none are buffered
func (d *Device) Read(p []byte) (int, error) {
	if len(d.pending) == 0 {
		if err := d.fill(); err != nil {
			return 0, err
		}
	}
	if len(d.pending) == 0 {
		return 0, io.EOF
	}
	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

// Close releases the interface and the USB context
func (d *Device) Close() error {
	if d.closer != nil {
		d.closer()
	}
	var err error
	if d.device != nil {
		err = d.device.Close()
	}
	if d.ctx != nil {
		if cerr := d.ctx.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// ConnMaker adapts a USBTMC instrument to comm.Pool, so the scope
// drivers work identically over USB and TCP
func ConnMaker(vid, pid uint16) comm.CreationFunc {
	return func() (io.ReadWriteCloser, error) {
		return Open(vid, pid)
	}
}
