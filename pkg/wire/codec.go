// Package wire implements the byte level encoding of the messages exchanged
// with a remote debug agent.
//
// An Encoder assembles one outgoing payload. The caller may announce the
// payload length up front with BeginEncode, which lets the encoder allocate
// its buffer once, or pass UnknownLength and let the buffer grow as bytes are
// written. Both paths produce identical bytes for identical writes.
//
// Incoming payloads are wrapped in a Payload, which never mutates the bytes
// it was built from.
package wire

import (
	"bytes"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// UnknownLength is passed to BeginEncode when the size of the payload is not
// known before it is written.
const UnknownLength = -1

// minAlloc is the capacity allocated on the first write of a payload whose
// length was not declared.
const minAlloc = 64

// Encoder assembles a single payload. It must not be reused after
// FinishEncode and is not safe for concurrent use.
type Encoder struct {
	buf      []byte
	expected int
	declared bool
	written  bool
	spent    bool

	// scratch holds field headers before they are written.
	scratch [2 * binaryMaxVarintLen]byte
}

const binaryMaxVarintLen = 10

// NewEncoder returns an encoder with no declared length.
func NewEncoder() *Encoder {
	return &Encoder{expected: UnknownLength}
}

// BeginEncode declares the length of the payload. A positive length
// pre-sizes the buffer, UnknownLength defers allocation until the first
// write.
func (e *Encoder) BeginEncode(expectedLength int) error {
	switch {
	case e.spent:
		return &ProtocolUsageError{"BeginEncode", "payload already finished"}
	case e.declared:
		return &ProtocolUsageError{"BeginEncode", "payload length finalized twice"}
	case e.written:
		return &ProtocolUsageError{"BeginEncode", "payload length declared after write"}
	case expectedLength < 0 && expectedLength != UnknownLength:
		return &ProtocolUsageError{"BeginEncode", fmt.Sprintf("invalid payload length %d", expectedLength)}
	}
	e.declared = true
	e.expected = expectedLength
	if expectedLength > 0 {
		e.buf = make([]byte, 0, expectedLength)
	}
	return nil
}

// Write appends p to the payload.
func (e *Encoder) Write(p []byte) (int, error) {
	if e.spent {
		return 0, &ProtocolUsageError{"Write", "payload already finished"}
	}
	e.written = true
	if e.buf == nil {
		n := len(p)
		if n < minAlloc {
			n = minAlloc
		}
		e.buf = make([]byte, 0, n)
	}
	e.buf = append(e.buf, p...)
	return len(p), nil
}

// Len returns the number of bytes written so far.
func (e *Encoder) Len() int {
	return len(e.buf)
}

// FinishEncode returns the assembled payload. Ownership of the returned
// slice passes to the caller and the encoder is spent.
func (e *Encoder) FinishEncode() ([]byte, error) {
	if e.spent {
		return nil, &ProtocolUsageError{"FinishEncode", "payload already finished"}
	}
	e.spent = true
	if e.declared && e.expected != UnknownLength && len(e.buf) != e.expected {
		return nil, &ProtocolUsageError{"FinishEncode", fmt.Sprintf("payload length mismatch: declared %d, wrote %d", e.expected, len(e.buf))}
	}
	buf := e.buf
	e.buf = nil
	if buf == nil {
		buf = []byte{}
	}
	return buf, nil
}

// Payload is a received payload.
type Payload struct {
	b []byte
}

// Decode wraps b. The bytes are neither copied nor modified.
func Decode(b []byte) Payload {
	return Payload{b: b}
}

// Len returns the total length of the payload.
func (p Payload) Len() int {
	return len(p.b)
}

// Bytes returns a fresh copy of the payload that the caller owns.
func (p Payload) Bytes() []byte {
	out := make([]byte, len(p.b))
	copy(out, p.b)
	return out
}

// View returns a read-only view of the payload without copying it.
func (p Payload) View() *bytes.Reader {
	return bytes.NewReader(p.b)
}

// Unmarshal decodes the payload into m.
func (p Payload) Unmarshal(m Unmarshaler) error {
	return Unmarshal(p.b, m)
}

// Marshaler is implemented by messages that can write themselves to an
// Encoder.
type Marshaler interface {
	MarshalWire(e *Encoder) error
}

// Sizer is implemented by messages that know their encoded size before
// being written.
type Sizer interface {
	WireSize() int
}

// Unmarshaler is implemented by messages that can decode themselves.
type Unmarshaler interface {
	UnmarshalWire(d *Decoder) error
}

// Marshal encodes m. Messages implementing Sizer are encoded into a buffer
// of the declared size, all others into a buffer that grows on demand.
func Marshal(m Marshaler) ([]byte, error) {
	n := UnknownLength
	if s, ok := m.(Sizer); ok {
		n = s.WireSize()
	}
	return marshalWithLength(m, n)
}

func marshalWithLength(m Marshaler, n int) ([]byte, error) {
	e := NewEncoder()
	if err := e.BeginEncode(n); err != nil {
		return nil, err
	}
	if err := m.MarshalWire(e); err != nil {
		return nil, err
	}
	return e.FinishEncode()
}

// Unmarshal decodes b into m.
func Unmarshal(b []byte, m Unmarshaler) error {
	d := NewDecoder(b)
	if err := m.UnmarshalWire(d); err != nil {
		return err
	}
	return d.Err()
}

// Varint writes v as an unsigned varint field. Zero values are omitted.
func (e *Encoder) Varint(num protowire.Number, v uint64) error {
	if v == 0 {
		return nil
	}
	b := protowire.AppendTag(e.scratch[:0], num, protowire.VarintType)
	b = protowire.AppendVarint(b, v)
	_, err := e.Write(b)
	return err
}

// Int writes v as a zigzag encoded varint field. Zero values are omitted.
func (e *Encoder) Int(num protowire.Number, v int64) error {
	return e.Varint(num, protowire.EncodeZigZag(v))
}

// Bool writes v as a varint field. False is omitted.
func (e *Encoder) Bool(num protowire.Number, v bool) error {
	return e.Varint(num, protowire.EncodeBool(v))
}

// String writes s as a length delimited field. Empty strings are omitted.
func (e *Encoder) String(num protowire.Number, s string) error {
	if s == "" {
		return nil
	}
	if err := e.header(num, len(s)); err != nil {
		return err
	}
	_, err := e.Write([]byte(s))
	return err
}

// Bytes writes p as a length delimited field. Empty slices are omitted.
func (e *Encoder) Bytes(num protowire.Number, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if err := e.header(num, len(p)); err != nil {
		return err
	}
	_, err := e.Write(p)
	return err
}

// Message writes m as a nested, length delimited field. Nested messages are
// always written, even when empty, so that repeated fields keep their
// element count.
func (e *Encoder) Message(num protowire.Number, m Marshaler) error {
	if s, ok := m.(Sizer); ok {
		if err := e.header(num, s.WireSize()); err != nil {
			return err
		}
		return m.MarshalWire(e)
	}
	sub, err := marshalWithLength(m, UnknownLength)
	if err != nil {
		return err
	}
	if err := e.header(num, len(sub)); err != nil {
		return err
	}
	_, err = e.Write(sub)
	return err
}

func (e *Encoder) header(num protowire.Number, n int) error {
	b := protowire.AppendTag(e.scratch[:0], num, protowire.BytesType)
	b = protowire.AppendVarint(b, uint64(n))
	_, err := e.Write(b)
	return err
}

// SizeVarint returns the encoded size of a Varint field.
func SizeVarint(num protowire.Number, v uint64) int {
	if v == 0 {
		return 0
	}
	return protowire.SizeTag(num) + protowire.SizeVarint(v)
}

// SizeInt returns the encoded size of an Int field.
func SizeInt(num protowire.Number, v int64) int {
	return SizeVarint(num, protowire.EncodeZigZag(v))
}

// SizeBool returns the encoded size of a Bool field.
func SizeBool(num protowire.Number, v bool) int {
	return SizeVarint(num, protowire.EncodeBool(v))
}

// SizeString returns the encoded size of a String field.
func SizeString(num protowire.Number, s string) int {
	if s == "" {
		return 0
	}
	return protowire.SizeTag(num) + protowire.SizeBytes(len(s))
}

// SizeMessage returns the encoded size of a nested message field.
func SizeMessage(num protowire.Number, m Sizer) int {
	return protowire.SizeTag(num) + protowire.SizeBytes(m.WireSize())
}

// SizeBytes returns the encoded size of a Bytes field.
func SizeBytes(num protowire.Number, p []byte) int {
	if len(p) == 0 {
		return 0
	}
	return protowire.SizeTag(num) + protowire.SizeBytes(len(p))
}
