// Package structures holds the PackStream structure abstraction shared by the
// encoder, the decoder and the Bolt message templates.
package structures

// Structure is anything that encodes as a PackStream structure: a tag byte
// followed by an ordered list of fields.
type Structure interface {
	Signature() int
	AllFields() []interface{}
}

// Generic carries a structure whose tag the decoder has no dedicated type for.
// Graph entities and temporal values in records arrive as Generic.
type Generic struct {
	Tag    byte
	Fields []interface{}
}

// Signature returns the tag byte
func (g Generic) Signature() int {
	return int(g.Tag)
}

// AllFields returns the fields in wire order
func (g Generic) AllFields() []interface{} {
	return g.Fields
}
