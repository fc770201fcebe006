/*Package usbtmc implements datagram encoding and decoding for USB Test and
Measurement Class devices.  This is a 'minimum viable product' for the bulk
transfer mode, enough to speak SCPI to a DAC rack over USB.

It does not, for example, include features to support multi-packet
messaging, and thus assumes your data fits in the remote's buffer.

It also does not implement chatter / ping-pong for the case when data
does not fit in the remote buffer.

To send a message:
1.  Allocate a send buffer
2.  Write the header to it
3.  Write your data to it
4.  Ensure that the total transmission size is a multiple of 4 bytes before flushing

To receive a message:
1.  Allocate a receipt buffer
2.  Create a read header and send it on the Out endpoint
3.  Read from the In endpoint

These are implemented as Write() and Read() on USBDevice, which is an
io.ReadWriteCloser and can be leased from a comm.Pool like any other link.
*/
package usbtmc

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"github.com/google/gousb"
)

const (
	// reserved is the byte to insert in reserved header slots
	reserved = 0x00

	// headerSize is the length of every bulk transfer header
	headerSize = 12

	// maxTransfer is the largest response requested in one bulk in transfer
	maxTransfer = 1500
)

// BTagger can generate atomic bTags
type BTagger interface {
	nextbTag() byte
}

// bTagGen is a concurrent-safe bTag generator
type bTagGen struct {
	// embedded mutex for concurrent safety
	sync.Mutex

	value byte
	min   byte
}

func newBTagGen() *bTagGen {
	return &bTagGen{value: 1, min: 1}
}

func (b *bTagGen) nextbTag() byte {
	b.Lock()
	defer b.Unlock()
	b.value++
	if b.value < b.min {
		b.value = b.min
	}
	return b.value
}

// invbTag computes the bitwise inversion of a btag, per USBTMC standard table 1 offset 2
func invbTag(b byte) byte {
	// ^ is bitwise exclusive OR.  Comparing with 0xff (all 1s) is the bitwise inversion
	return b ^ 0xff
}

// BulkInResponse is the response from a bulk input read, split into header and payload
type BulkInResponse struct {
	// Header is the header bytes that are prepended to the data
	Header []byte

	// Data is the actual datagram body
	Data []byte
}

// encBulkOutHeader creates the header defined in USBTMC standard, Table 3
func encBulkOutHeader(btag BTagger, datalen int) [12]byte {
	out := [12]byte{} // this is an array, not a slice.  Fixed size, determined at compile time, will live on the stack
	/* data map by offset:
	0 MsgID, 1 byte, here hardcoded to 1; devDepMsgOut
	1 bTag, a single byte 1 < x < 255, unique and incrementing with each message
	2 bTagInverse, a single byte, the bitwise inverse of bTag.  Can be calculated with invbTag
	3 Reserved (0x00)
	4-11 command message specific
	---
	In the case of devDepMsgOut, 4-11 look like:
	4-7 transferSize,
		total number of message data bytes exclusive of the header and alignment.
		LSB first, > 0
	8 bitmap
		bits 7..1 0 (reserved)
		bit 0 EOM, if bit(0) == 1, this is the last message in the stream else not the end of stream
		boils down to 0x00 if not end of message, 0x01 if end of message
	9-11 reserved
	*/
	tag := btag.nextbTag()
	out[0] = 0x01 // DEV_DEP_MSG_OUT = 0x01, hardcode this type for now
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	buf := out[4:8]
	binary.LittleEndian.PutUint32(buf, uint32(datalen))
	out[8] = 0x01 // hardcode end of message
	out[9] = reserved
	out[10] = reserved
	out[11] = reserved
	return out
}

// endBulkInHeader creates the header defined in USBTMC standard, Table 4.
// if terminator is nil, puts 0x00 in the header and sets the bit to use it to false
func encBulkInHeader(btag BTagger, bufsize int, terminator *byte) [12]byte {
	out := [12]byte{}
	/* this differs from BulkOut by bytes 8~11
	8 bitmap
		bits 8..1 0 (reserved)
		bit 0 termination character enabled,
		if 1 datagram must end on term char
		if 0 device must ignore termination char
	9 terminator byte
	10~11 reserved
	*/
	tag := btag.nextbTag()
	out[0] = 0x02 // REQUEST_DEV_DEP_MSG_IN
	out[1] = tag
	out[2] = invbTag(tag)
	out[3] = reserved
	buf := out[4:8]
	binary.LittleEndian.PutUint32(buf, uint32(bufsize))
	if terminator != nil {
		out[8] = 0x02 // end-1th bit is 1 -> hex 2
		out[9] = *terminator
	} else {
		out[8] = 0x00
		out[9] = 0x00
	}
	out[10] = reserved
	out[11] = reserved
	return out
}

// USBDevice hides the details of USB and exposes an io.ReadWriteCloser
type USBDevice struct {
	tagger BTagger
	in     *gousb.InEndpoint
	out    *gousb.OutEndpoint
	ctx    *gousb.Context
	device *gousb.Device
	closer func()

	// pending is response data not yet consumed by Read
	pending []byte
}

// NewUSBDevice opens a USB device from its vendor and product ID and claims
// bulk endpoint 2 in both directions
func NewUSBDevice(vid, pid uint16) (*USBDevice, error) {
	var err error
	d := &USBDevice{tagger: newBTagGen(), ctx: gousb.NewContext()}
	d.device, err = d.ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		d.ctx.Close()
		return nil, err
	}
	if d.device == nil {
		d.ctx.Close()
		return nil, fmt.Errorf("no usb device %04x:%04x", vid, pid)
	}
	if err = d.device.SetAutoDetach(true); err != nil {
		d.release()
		return nil, err
	}
	var iface *gousb.Interface
	iface, d.closer, err = d.device.DefaultInterface()
	if err != nil {
		d.release()
		return nil, err
	}
	if d.in, err = iface.InEndpoint(2); err != nil {
		d.release()
		return nil, err
	}
	if d.out, err = iface.OutEndpoint(2); err != nil {
		d.release()
		return nil, err
	}
	return d, nil
}

func (d *USBDevice) release() {
	if d.closer != nil {
		d.closer()
	}
	d.device.Close()
	d.ctx.Close()
}

// bulkOut sends one DEV_DEP_MSG_OUT transfer, padded to 4 bytes
func bulkOut(w io.Writer, tagger BTagger, b []byte) error {
	const alignment = 4
	hdr := encBulkOutHeader(tagger, len(b))
	msg := append(hdr[:], b...)
	if residual := len(msg) % alignment; residual > 0 {
		msg = append(msg, make([]byte, alignment-residual)...)
	}
	_, err := w.Write(msg)
	return err
}

// bulkIn requests up to bufSize bytes ending in term and returns the response
func bulkIn(rw io.ReadWriter, tagger BTagger, bufSize int, term byte) (BulkInResponse, error) {
	var out BulkInResponse
	hdr := encBulkInHeader(tagger, bufSize, &term)
	n, err := rw.Write(hdr[:])
	if err != nil {
		return out, err
	}
	if n < len(hdr) {
		m, err := rw.Write(hdr[n:])
		if err != nil {
			return out, err
		}
		if n+m != len(hdr) {
			return out, fmt.Errorf("wrote %d bytes, not full 12 required to transmit read request", n+m)
		}
	}
	buf := make([]byte, bufSize+headerSize)
	n, err = rw.Read(buf)
	if err != nil {
		return out, err
	}
	if n < headerSize {
		return out, fmt.Errorf("only received %d bytes, need at least 12 to form header", n)
	}
	buf = buf[:n]
	out.Header = buf[:headerSize]
	out.Data = buf[headerSize:]
	if size := int(binary.LittleEndian.Uint32(out.Header[4:8])); size < len(out.Data) {
		out.Data = out.Data[:size]
	}
	return out, nil
}

// endpoints joins the two bulk endpoints into one io.ReadWriter
type endpoints struct {
	in  io.Reader
	out io.Writer
}

func (e endpoints) Read(p []byte) (int, error)  { return e.in.Read(p) }
func (e endpoints) Write(p []byte) (int, error) { return e.out.Write(p) }

// Write sends b as a single message
func (d *USBDevice) Write(b []byte) (int, error) {
	if err := bulkOut(d.out, d.tagger, b); err != nil {
		return 0, err
	}
	return len(b), nil
}

// Read requests a response from the device, terminated by a line feed, and
// copies it into p.  Data that does not fit is returned by the next Read.
func (d *USBDevice) Read(p []byte) (int, error) {
	if len(d.pending) == 0 {
		resp, err := bulkIn(endpoints{in: d.in, out: d.out}, d.tagger, maxTransfer, '\n')
		if err != nil {
			return 0, err
		}
		d.pending = resp.Data
	}
	n := copy(p, d.pending)
	d.pending = d.pending[n:]
	return n, nil
}

// Close releases the interface, the device and the USB context
func (d *USBDevice) Close() error {
	if d.closer != nil {
		d.closer()
	}
	err := d.device.Close()
	d.ctx.Close()
	return err
}
