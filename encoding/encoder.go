package encoding

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"sort"

	"github.com/mindstand/go-bolt-connector/errors"
	"github.com/mindstand/go-bolt-connector/structures"
)

// Encoder encodes objects of different types to the given stream.
// Attempts to support all builtin golang types, when it can be confidently
// mapped to a PackStream type.
//
// Maps and Slices are a special case, where only map[string]interface{},
// map[string]string, []interface{} and []string are supported.
type Encoder struct {
	w       io.Writer
	scratch [9]byte
}

// NewEncoder initializes a new Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Marshal is used to marshal an object to a PackStream encoded message body.
func Marshal(v interface{}) ([]byte, error) {
	var b bytes.Buffer
	if err := NewEncoder(&b).Encode(v); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}

// Encode encodes an object to the stream
func (e *Encoder) Encode(val interface{}) error {
	return e.encode(val)
}

func (e *Encoder) encode(val interface{}) error {
	switch val := val.(type) {
	case nil:
		return e.writeMarker(NilMarker)
	case bool:
		if val {
			return e.writeMarker(TrueMarker)
		}
		return e.writeMarker(FalseMarker)
	case int:
		return e.encodeInt(int64(val))
	case int8:
		return e.encodeInt(int64(val))
	case int16:
		return e.encodeInt(int64(val))
	case int32:
		return e.encodeInt(int64(val))
	case int64:
		return e.encodeInt(val)
	case uint:
		if uint64(val) > math.MaxInt64 {
			return errors.New("Integer too big: %d. Max integer supported: %d", val, int64(math.MaxInt64))
		}
		return e.encodeInt(int64(val))
	case uint8:
		return e.encodeInt(int64(val))
	case uint16:
		return e.encodeInt(int64(val))
	case uint32:
		return e.encodeInt(int64(val))
	case uint64:
		if val > math.MaxInt64 {
			return errors.New("Integer too big: %d. Max integer supported: %d", val, int64(math.MaxInt64))
		}
		return e.encodeInt(int64(val))
	case float32:
		return e.encodeFloat(float64(val))
	case float64:
		return e.encodeFloat(val)
	case string:
		return e.encodeString(val)
	case []interface{}:
		return e.encodeSlice(val)
	case []string:
		items := make([]interface{}, len(val))
		for i, s := range val {
			items[i] = s
		}
		return e.encodeSlice(items)
	case map[string]interface{}:
		return e.encodeMap(val)
	case map[string]string:
		items := make(map[string]interface{}, len(val))
		for k, v := range val {
			items[k] = v
		}
		return e.encodeMap(items)
	case structures.Structure:
		return e.encodeStructure(val)
	default:
		return errors.New("Unrecognized type when encoding data for Bolt transport: %T %+v", val, val)
	}
}

func (e *Encoder) writeMarker(marker byte) error {
	e.scratch[0] = marker
	_, err := e.w.Write(e.scratch[:1])
	return err
}

func (e *Encoder) writeMarked(marker byte, v interface{}) error {
	e.scratch[0] = marker
	n := 1
	switch v := v.(type) {
	case uint8:
		e.scratch[1] = v
		n = 2
	case uint16:
		binary.BigEndian.PutUint16(e.scratch[1:], v)
		n = 3
	case uint32:
		binary.BigEndian.PutUint32(e.scratch[1:], v)
		n = 5
	case uint64:
		binary.BigEndian.PutUint64(e.scratch[1:], v)
		n = 9
	}
	_, err := e.w.Write(e.scratch[:n])
	return err
}

func (e *Encoder) encodeInt(val int64) error {
	switch {
	case val >= -16 && val <= math.MaxInt8:
		// TINY_INT is its own marker
		return e.writeMarker(byte(int8(val)))
	case val >= math.MinInt8 && val < -16:
		return e.writeMarked(Int8Marker, uint8(int8(val)))
	case val >= math.MinInt16 && val <= math.MaxInt16:
		return e.writeMarked(Int16Marker, uint16(int16(val)))
	case val >= math.MinInt32 && val <= math.MaxInt32:
		return e.writeMarked(Int32Marker, uint32(int32(val)))
	default:
		return e.writeMarked(Int64Marker, uint64(val))
	}
}

func (e *Encoder) encodeFloat(val float64) error {
	if err := e.writeMarked(FloatMarker, math.Float64bits(val)); err != nil {
		return errors.Wrap(err, "An error occurred writing a float to bolt")
	}
	return nil
}

// writeHeader writes the marker and size for sized types. m32 of zero means
// the type has no 32 bit form.
func (e *Encoder) writeHeader(tiny, m8, m16, m32 byte, length int, kind string) error {
	switch {
	case length <= tinyMask:
		return e.writeMarker(tiny + byte(length))
	case length <= math.MaxUint8:
		return e.writeMarked(m8, uint8(length))
	case length <= math.MaxUint16:
		return e.writeMarked(m16, uint16(length))
	case m32 != 0 && int64(length) <= math.MaxUint32:
		return e.writeMarked(m32, uint32(length))
	default:
		return errors.New("%s too long to write: %d", kind, length)
	}
}

func (e *Encoder) encodeString(val string) error {
	if err := e.writeHeader(TinyStringMarker, String8Marker, String16Marker, String32Marker, len(val), "String"); err != nil {
		return err
	}
	_, err := io.WriteString(e.w, val)
	return err
}

func (e *Encoder) encodeSlice(val []interface{}) error {
	if err := e.writeHeader(TinySliceMarker, Slice8Marker, Slice16Marker, Slice32Marker, len(val), "Slice"); err != nil {
		return err
	}

	for _, item := range val {
		if err := e.encode(item); err != nil {
			return err
		}
	}
	return nil
}

// encodeMap writes keys in sorted order so equal maps encode to equal bytes
func (e *Encoder) encodeMap(val map[string]interface{}) error {
	if err := e.writeHeader(TinyMapMarker, Map8Marker, Map16Marker, Map32Marker, len(val), "Map"); err != nil {
		return err
	}

	keys := make([]string, 0, len(val))
	for k := range val {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := e.encodeString(k); err != nil {
			return err
		}
		if err := e.encode(val[k]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) encodeStructure(val structures.Structure) error {
	fields := val.AllFields()
	if err := e.writeHeader(TinyStructMarker, Struct8Marker, Struct16Marker, 0, len(fields), "Structure"); err != nil {
		return err
	}

	if err := e.writeMarker(byte(val.Signature())); err != nil {
		return errors.Wrap(err, "An error occurred writing a struct signature")
	}

	for _, field := range fields {
		if err := e.encode(field); err != nil {
			return errors.Wrap(err, "An error occurred encoding a struct field")
		}
	}
	return nil
}
