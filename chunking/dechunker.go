package chunking

import (
	"encoding/binary"
	"io"

	"github.com/mindstand/go-bolt-connector/errors"
)

// Dechunker reassembles messages from wire bytes that may arrive in
// fragments of any size. It never blocks; feed it with Write and pop
// complete messages with Next.
type Dechunker struct {
	wire    []byte
	msg     []byte
	ready   [][]byte
	maxSize int
}

// NewDechunker creates a dechunker rejecting messages longer than
// maxMessageSize bytes. Zero means unbounded.
func NewDechunker(maxMessageSize int) *Dechunker {
	return &Dechunker{maxSize: maxMessageSize}
}

// Write consumes raw wire bytes. Every message completed by p is queued
// before Write returns. After an error the dechunker must be Reset.
func (d *Dechunker) Write(p []byte) (int, error) {
	d.wire = append(d.wire, p...)

	consumed := 0
	for len(d.wire)-consumed >= 2 {
		size := int(binary.BigEndian.Uint16(d.wire[consumed:]))
		if size == 0 {
			// a terminator with nothing before it is a NOOP
			if len(d.msg) > 0 {
				d.ready = append(d.ready, d.msg)
				d.msg = nil
			}
			consumed += 2
			continue
		}
		if len(d.wire)-consumed < 2+size {
			break
		}
		if d.maxSize > 0 && len(d.msg)+size > d.maxSize {
			return len(p), errors.Wrap(ErrMessageTooLarge, "%d bytes buffered plus a %d byte chunk, limit %d", len(d.msg), size, d.maxSize)
		}
		d.msg = append(d.msg, d.wire[consumed+2:consumed+2+size]...)
		consumed += 2 + size
	}

	if consumed > 0 {
		n := copy(d.wire, d.wire[consumed:])
		d.wire = d.wire[:n]
	}
	return len(p), nil
}

// Next pops the oldest complete message
func (d *Dechunker) Next() ([]byte, bool) {
	if len(d.ready) == 0 {
		return nil, false
	}
	msg := d.ready[0]
	d.ready[0] = nil
	d.ready = d.ready[1:]
	return msg, true
}

// Pending returns the number of complete messages waiting in Next
func (d *Dechunker) Pending() int {
	return len(d.ready)
}

// Buffered returns the bytes held for a message still in flight
func (d *Dechunker) Buffered() int {
	return len(d.wire) + len(d.msg)
}

// Reset drops all state
func (d *Dechunker) Reset() {
	d.wire = d.wire[:0]
	d.msg = nil
	d.ready = nil
}

// Decode reassembles every message in wire. Bytes left over after the last
// terminator are an error.
func Decode(wire []byte) ([][]byte, error) {
	d := NewDechunker(0)
	if _, err := d.Write(wire); err != nil {
		return nil, err
	}
	if d.Buffered() > 0 {
		return nil, errors.Wrap(io.ErrUnexpectedEOF, "%d bytes after the last complete message", d.Buffered())
	}
	out := make([][]byte, 0, d.Pending())
	for msg, ok := d.Next(); ok; msg, ok = d.Next() {
		out = append(out, msg)
	}
	return out, nil
}
