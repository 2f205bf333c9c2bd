/*
Package encoding is used to encode/decode data going to/from the bolt protocol.

It produces and consumes logical message bodies only. Splitting a body into
wire chunks is the job of the chunking package.
*/
package encoding

const (
	// NilMarker represents the encoding marker byte for a nil object
	NilMarker = 0xC0

	// TrueMarker represents the encoding marker byte for a true boolean object
	TrueMarker = 0xC3
	// FalseMarker represents the encoding marker byte for a false boolean object
	FalseMarker = 0xC2

	// Int8Marker represents the encoding marker byte for a int8 object
	Int8Marker = 0xC8
	// Int16Marker represents the encoding marker byte for a int16 object
	Int16Marker = 0xC9
	// Int32Marker represents the encoding marker byte for a int32 object
	Int32Marker = 0xCA
	// Int64Marker represents the encoding marker byte for a int64 object
	Int64Marker = 0xCB

	// FloatMarker represents the encoding marker byte for a float32/64 object
	FloatMarker = 0xC1

	TinyStringMarker = 0x80
	String8Marker    = 0xD0
	String16Marker   = 0xD1
	String32Marker   = 0xD2

	TinySliceMarker = 0x90
	Slice8Marker    = 0xD4
	Slice16Marker   = 0xD5
	Slice32Marker   = 0xD6

	TinyMapMarker = 0xA0
	Map8Marker    = 0xD8
	Map16Marker   = 0xD9
	Map32Marker   = 0xDA

	TinyStructMarker = 0xB0
	Struct8Marker    = 0xDC
	Struct16Marker   = 0xDD
)

// tiny markers carry a length in their low nibble
const tinyMask = 0x0F
