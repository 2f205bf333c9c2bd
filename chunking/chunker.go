// Package chunking frames Bolt messages for the wire.
//
// A message is sent as one or more chunks, each a big endian uint16 payload
// length followed by that many bytes, and ends with a zero length chunk.
// Messages follow each other back to back with no other delimiter, which is
// what lets requests be pipelined.
package chunking

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/mindstand/go-bolt-connector/errors"
)

// MaxChunkSize is the largest payload a single chunk can carry
const MaxChunkSize = math.MaxUint16

// EndMessage is the terminator written after the last chunk of a message
var EndMessage = []byte{0x00, 0x00}

var (
	// ErrEmptyMessage is returned when framing a zero length message. It would
	// read back as a NOOP.
	ErrEmptyMessage = errors.New("cannot frame an empty message")
	// ErrMessageTooLarge is returned when a reassembled message passes the
	// configured bound
	ErrMessageTooLarge = errors.New("message exceeds maximum size")
)

// Chunker accumulates framed messages ready to be written in one send
type Chunker struct {
	buf  []byte
	size int
}

// NewChunker creates a chunker that cuts chunks of at most size bytes.
// Zero means MaxChunkSize.
func NewChunker(size uint16) *Chunker {
	if size == 0 {
		size = MaxChunkSize
	}
	return &Chunker{size: int(size)}
}

// AppendMessage frames msg after any message already queued
func (c *Chunker) AppendMessage(msg []byte) error {
	if len(msg) == 0 {
		return ErrEmptyMessage
	}

	for len(msg) > 0 {
		n := len(msg)
		if n > c.size {
			n = c.size
		}
		c.buf = binary.BigEndian.AppendUint16(c.buf, uint16(n))
		c.buf = append(c.buf, msg[:n]...)
		msg = msg[n:]
	}
	c.buf = append(c.buf, EndMessage...)
	return nil
}

// Bytes returns the framed wire bytes. They stay valid until the next Reset.
func (c *Chunker) Bytes() []byte {
	return c.buf
}

// Len returns the number of framed bytes queued
func (c *Chunker) Len() int {
	return len(c.buf)
}

// Reset drops everything queued, keeping the allocation
func (c *Chunker) Reset() {
	c.buf = c.buf[:0]
}

// WriteTo writes the queued bytes to w and resets the chunker on success
func (c *Chunker) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(c.buf)
	if err == nil && n < len(c.buf) {
		err = io.ErrShortWrite
	}
	if err != nil {
		return int64(n), err
	}
	c.Reset()
	return int64(n), nil
}

// Encode frames a single message
func Encode(msg []byte, size uint16) ([]byte, error) {
	c := NewChunker(size)
	if err := c.AppendMessage(msg); err != nil {
		return nil, err
	}
	return c.Bytes(), nil
}
