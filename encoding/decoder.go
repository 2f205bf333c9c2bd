package encoding

import (
	"encoding/binary"
	"io"
	"math"

	"github.com/mindstand/go-bolt-connector/errors"
	"github.com/mindstand/go-bolt-connector/structures"
	"github.com/mindstand/go-bolt-connector/structures/messages"
)

// Decoder decodes a single PackStream message body.
//
// Integers decode as int64, floats as float64, lists as []interface{} and
// maps as map[string]interface{}. Response messages decode to their types in
// structures/messages; every other structure decodes to structures.Generic.
type Decoder struct {
	buf []byte
	pos int
}

// NewDecoder Creates a new Decoder over a complete message body
func NewDecoder(b []byte) *Decoder {
	return &Decoder{buf: b}
}

// Unmarshal decodes exactly one value from b. Trailing bytes are an error.
func Unmarshal(b []byte) (interface{}, error) {
	d := NewDecoder(b)
	v, err := d.Decode()
	if err != nil {
		return nil, err
	}
	if d.Remaining() > 0 {
		return nil, errors.New("%d trailing bytes after decoded value", d.Remaining())
	}
	return v, nil
}

// Remaining returns the number of bytes not yet decoded
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.pos
}

// Decode decodes the next value
func (d *Decoder) Decode() (interface{}, error) {
	return d.decode()
}

func (d *Decoder) next(n int) ([]byte, error) {
	if n < 0 || d.Remaining() < n {
		return nil, errors.Wrap(io.ErrUnexpectedEOF, "need %d bytes at offset %d, have %d", n, d.pos, d.Remaining())
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *Decoder) size(width int) (int, error) {
	b, err := d.next(width)
	if err != nil {
		return 0, err
	}
	switch width {
	case 1:
		return int(b[0]), nil
	case 2:
		return int(binary.BigEndian.Uint16(b)), nil
	default:
		return int(binary.BigEndian.Uint32(b)), nil
	}
}

func (d *Decoder) decode() (interface{}, error) {
	mb, err := d.next(1)
	if err != nil {
		return nil, err
	}
	marker := mb[0]

	switch {

	// INT
	case marker <= 0x7F:
		return int64(marker), nil
	case marker >= 0xF0:
		return int64(int8(marker)), nil
	case marker == Int8Marker:
		b, err := d.next(1)
		if err != nil {
			return nil, err
		}
		return int64(int8(b[0])), nil
	case marker == Int16Marker:
		b, err := d.next(2)
		if err != nil {
			return nil, err
		}
		return int64(int16(binary.BigEndian.Uint16(b))), nil
	case marker == Int32Marker:
		b, err := d.next(4)
		if err != nil {
			return nil, err
		}
		return int64(int32(binary.BigEndian.Uint32(b))), nil
	case marker == Int64Marker:
		b, err := d.next(8)
		if err != nil {
			return nil, err
		}
		return int64(binary.BigEndian.Uint64(b)), nil

	case marker == NilMarker:
		return nil, nil
	case marker == TrueMarker:
		return true, nil
	case marker == FalseMarker:
		return false, nil

	case marker == FloatMarker:
		b, err := d.next(8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b)), nil

	// STRING
	case marker&0xF0 == TinyStringMarker:
		return d.decodeString(int(marker & tinyMask))
	case marker == String8Marker, marker == String16Marker, marker == String32Marker:
		size, err := d.size(1 << (marker - String8Marker))
		if err != nil {
			return nil, err
		}
		return d.decodeString(size)

	// SLICE
	case marker&0xF0 == TinySliceMarker:
		return d.decodeSlice(int(marker & tinyMask))
	case marker == Slice8Marker, marker == Slice16Marker, marker == Slice32Marker:
		size, err := d.size(1 << (marker - Slice8Marker))
		if err != nil {
			return nil, err
		}
		return d.decodeSlice(size)

	// MAP
	case marker&0xF0 == TinyMapMarker:
		return d.decodeMap(int(marker & tinyMask))
	case marker == Map8Marker, marker == Map16Marker, marker == Map32Marker:
		size, err := d.size(1 << (marker - Map8Marker))
		if err != nil {
			return nil, err
		}
		return d.decodeMap(size)

	// STRUCTURES
	case marker&0xF0 == TinyStructMarker:
		return d.decodeStruct(int(marker & tinyMask))
	case marker == Struct8Marker, marker == Struct16Marker:
		size, err := d.size(1 << (marker - Struct8Marker))
		if err != nil {
			return nil, err
		}
		return d.decodeStruct(size)

	default:
		return nil, errors.New("Unrecognized marker byte!: %#x", marker)
	}
}

func (d *Decoder) decodeString(size int) (string, error) {
	b, err := d.next(size)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (d *Decoder) decodeSlice(size int) ([]interface{}, error) {
	// every item takes at least one byte
	if size > d.Remaining() {
		return nil, errors.Wrap(io.ErrUnexpectedEOF, "list of %d items in %d bytes", size, d.Remaining())
	}
	slice := make([]interface{}, size)
	for i := 0; i < size; i++ {
		item, err := d.decode()
		if err != nil {
			return nil, err
		}
		slice[i] = item
	}
	return slice, nil
}

func (d *Decoder) decodeMap(size int) (map[string]interface{}, error) {
	if size*2 > d.Remaining() {
		return nil, errors.Wrap(io.ErrUnexpectedEOF, "map of %d entries in %d bytes", size, d.Remaining())
	}
	mapp := make(map[string]interface{}, size)
	for i := 0; i < size; i++ {
		keyInt, err := d.decode()
		if err != nil {
			return nil, err
		}
		key, ok := keyInt.(string)
		if !ok {
			return nil, errors.New("Unexpected key type: %T with value %+v", keyInt, keyInt)
		}
		val, err := d.decode()
		if err != nil {
			return nil, err
		}
		mapp[key] = val
	}
	return mapp, nil
}

func (d *Decoder) decodeStruct(size int) (interface{}, error) {
	sig, err := d.next(1)
	if err != nil {
		return nil, err
	}
	fields, err := d.decodeSlice(size)
	if err != nil {
		return nil, errors.Wrap(err, "decoding fields of structure %#x", sig[0])
	}

	switch sig[0] {
	case messages.SuccessMessageSignature:
		metadata, err := metadataField(sig[0], fields)
		if err != nil {
			return nil, err
		}
		return messages.NewSuccessMessage(metadata), nil
	case messages.FailureMessageSignature:
		metadata, err := metadataField(sig[0], fields)
		if err != nil {
			return nil, err
		}
		return messages.NewFailureMessage(metadata), nil
	case messages.RecordMessageSignature:
		if len(fields) != 1 {
			return nil, errors.New("RECORD with %d fields", len(fields))
		}
		values, ok := fields[0].([]interface{})
		if !ok {
			return nil, errors.New("Expected: Fields []interface{}, but got %T %+v", fields[0], fields[0])
		}
		return messages.NewRecordMessage(values), nil
	case messages.IgnoredMessageSignature:
		return messages.IgnoredMessage{}, nil
	default:
		return structures.Generic{Tag: sig[0], Fields: fields}, nil
	}
}

// metadataField reads the single, possibly absent, map field of a summary
func metadataField(sig byte, fields []interface{}) (map[string]interface{}, error) {
	switch len(fields) {
	case 0:
		return map[string]interface{}{}, nil
	case 1:
		if fields[0] == nil {
			return map[string]interface{}{}, nil
		}
		metadata, ok := fields[0].(map[string]interface{})
		if !ok {
			return nil, errors.New("Expected: Metadata map[string]interface{} in %#x, but got %T %+v", sig, fields[0], fields[0])
		}
		return metadata, nil
	default:
		return nil, errors.New("summary %#x with %d fields", sig, len(fields))
	}
}
