package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Decoder reads the fields of an encoded message in order. Errors are
// sticky: after the first failure every accessor returns a zero value and
// Err reports the failure.
//
//	d := wire.NewDecoder(b)
//	for d.Next() {
//		switch d.Field() {
//		case 1:
//			x.ID = int(d.Int())
//		default:
//			d.Skip()
//		}
//	}
//	return d.Err()
type Decoder struct {
	b       []byte
	num     protowire.Number
	typ     protowire.Type
	pending bool
	err     error
}

// NewDecoder returns a decoder reading b. The decoder never modifies b.
func NewDecoder(b []byte) *Decoder {
	return &Decoder{b: b}
}

// Next advances to the next field, skipping the value of the current field
// if it was not read. It returns false at the end of the input or after an
// error.
func (d *Decoder) Next() bool {
	if d.pending {
		d.Skip()
	}
	if d.err != nil || len(d.b) == 0 {
		return false
	}
	num, typ, n := protowire.ConsumeTag(d.b)
	if n < 0 {
		d.fail("field tag", protowire.ParseError(n))
		return false
	}
	d.b = d.b[n:]
	d.num, d.typ = num, typ
	d.pending = true
	return true
}

// Field returns the number of the current field.
func (d *Decoder) Field() protowire.Number {
	return d.num
}

// Err returns the first error encountered.
func (d *Decoder) Err() error {
	return d.err
}

// Uint reads the current field as an unsigned varint.
func (d *Decoder) Uint() uint64 {
	if !d.expect(protowire.VarintType) {
		return 0
	}
	v, n := protowire.ConsumeVarint(d.b)
	if n < 0 {
		d.fail("varint field", protowire.ParseError(n))
		return 0
	}
	d.b = d.b[n:]
	return v
}

// Int reads the current field as a zigzag encoded varint.
func (d *Decoder) Int() int64 {
	return protowire.DecodeZigZag(d.Uint())
}

// Bool reads the current field as a boolean.
func (d *Decoder) Bool() bool {
	return protowire.DecodeBool(d.Uint())
}

// Bytes reads the current field as a length delimited value. The returned
// slice aliases the input and must be copied if retained.
func (d *Decoder) Bytes() []byte {
	if !d.expect(protowire.BytesType) {
		return nil
	}
	v, n := protowire.ConsumeBytes(d.b)
	if n < 0 {
		d.fail("bytes field", protowire.ParseError(n))
		return nil
	}
	d.b = d.b[n:]
	return v
}

// String reads the current field as a string.
func (d *Decoder) String() string {
	return string(d.Bytes())
}

// Message reads the current field as a nested message.
func (d *Decoder) Message(m Unmarshaler) {
	b := d.Bytes()
	if d.err != nil {
		return
	}
	if err := Unmarshal(b, m); err != nil {
		d.err = err
	}
}

// Skip discards the value of the current field.
func (d *Decoder) Skip() {
	if !d.pending || d.err != nil {
		return
	}
	d.pending = false
	n := protowire.ConsumeFieldValue(d.num, d.typ, d.b)
	if n < 0 {
		d.fail("unknown field", protowire.ParseError(n))
		return
	}
	d.b = d.b[n:]
}

func (d *Decoder) expect(typ protowire.Type) bool {
	if d.err != nil {
		return false
	}
	if !d.pending {
		d.fail("field value", fmt.Errorf("field %d already consumed", d.num))
		return false
	}
	d.pending = false
	if d.typ != typ {
		d.fail("field value", fmt.Errorf("field %d has wire type %d, want %d", d.num, d.typ, typ))
		return false
	}
	return true
}

func (d *Decoder) fail(context string, err error) {
	if d.err == nil {
		d.err = &ProtocolError{Context: "decode " + context, Err: err}
	}
}
