package wire

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

type point struct {
	X, Y int64
	Name string
}

func (p *point) WireSize() int {
	return SizeInt(1, p.X) + SizeInt(2, p.Y) + SizeString(3, p.Name)
}

func (p *point) MarshalWire(e *Encoder) error {
	if err := e.Int(1, p.X); err != nil {
		return err
	}
	if err := e.Int(2, p.Y); err != nil {
		return err
	}
	return e.String(3, p.Name)
}

func (p *point) UnmarshalWire(d *Decoder) error {
	for d.Next() {
		switch d.Field() {
		case 1:
			p.X = d.Int()
		case 2:
			p.Y = d.Int()
		case 3:
			p.Name = d.String()
		}
	}
	return d.Err()
}

// unsized wraps point hiding its WireSize method.
type unsized struct{ p *point }

func (u unsized) MarshalWire(e *Encoder) error { return u.p.MarshalWire(e) }

type polyline struct {
	Points []*point
}

func (l *polyline) MarshalWire(e *Encoder) error {
	for _, p := range l.Points {
		if err := e.Message(1, p); err != nil {
			return err
		}
	}
	return nil
}

func (l *polyline) UnmarshalWire(d *Decoder) error {
	for d.Next() {
		if d.Field() == 1 {
			p := &point{}
			d.Message(p)
			l.Points = append(l.Points, p)
		}
	}
	return d.Err()
}

func TestDeclaredAndDeferredLengthMatch(t *testing.T) {
	for _, p := range []*point{
		{},
		{X: 1},
		{X: -300, Y: 1 << 40, Name: "main.go"},
		{Name: string(bytes.Repeat([]byte{'a'}, 500))},
	} {
		declared, err := Marshal(p)
		if err != nil {
			t.Fatalf("declared: %v", err)
		}
		deferred, err := Marshal(unsized{p})
		if err != nil {
			t.Fatalf("deferred: %v", err)
		}
		if !bytes.Equal(declared, deferred) {
			t.Fatalf("encodings differ for %#v:\n%x\n%x", p, declared, deferred)
		}
		if len(declared) != p.WireSize() {
			t.Fatalf("size %d, WireSize %d", len(declared), p.WireSize())
		}

		var out point
		if err := Unmarshal(declared, &out); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if out != *p {
			t.Fatalf("decoded %#v, want %#v", out, *p)
		}
	}
}

func TestNestedMessages(t *testing.T) {
	in := &polyline{Points: []*point{{}, {X: 3, Y: -4}, {Name: "x"}}}
	b, err := Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out polyline
	if err := Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Points) != len(in.Points) {
		t.Fatalf("got %d points, want %d", len(out.Points), len(in.Points))
	}
	for i := range in.Points {
		if *out.Points[i] != *in.Points[i] {
			t.Errorf("point %d: got %#v want %#v", i, out.Points[i], in.Points[i])
		}
	}
}

func isUsageError(err error) bool {
	var uerr *ProtocolUsageError
	return errors.As(err, &uerr)
}

func TestBeginEncodeTwice(t *testing.T) {
	e := NewEncoder()
	if err := e.BeginEncode(4); err != nil {
		t.Fatal(err)
	}
	if err := e.BeginEncode(4); !isUsageError(err) {
		t.Fatalf("expected usage error, got %v", err)
	}
	e = NewEncoder()
	if err := e.BeginEncode(UnknownLength); err != nil {
		t.Fatal(err)
	}
	if err := e.BeginEncode(UnknownLength); !isUsageError(err) {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestBeginEncodeAfterWrite(t *testing.T) {
	e := NewEncoder()
	if _, err := e.Write([]byte{1, 2}); err != nil {
		t.Fatalf("write without declared length: %v", err)
	}
	if err := e.BeginEncode(2); !isUsageError(err) {
		t.Fatalf("expected usage error, got %v", err)
	}
	b, err := e.FinishEncode()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(b, []byte{1, 2}) {
		t.Fatalf("got %x", b)
	}
}

func TestWriteAfterFinish(t *testing.T) {
	e := NewEncoder()
	if _, err := e.FinishEncode(); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Write([]byte{1}); !isUsageError(err) {
		t.Fatalf("expected usage error, got %v", err)
	}
	if _, err := e.FinishEncode(); !isUsageError(err) {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestLengthMismatch(t *testing.T) {
	e := NewEncoder()
	if err := e.BeginEncode(3); err != nil {
		t.Fatal(err)
	}
	e.Write([]byte{1, 2})
	if _, err := e.FinishEncode(); !isUsageError(err) {
		t.Fatalf("expected usage error, got %v", err)
	}

	e = NewEncoder()
	if err := e.BeginEncode(-7); !isUsageError(err) {
		t.Fatalf("expected usage error for negative length, got %v", err)
	}
}

func TestEmptyPayload(t *testing.T) {
	b, err := Marshal(&point{})
	if err != nil {
		t.Fatal(err)
	}
	if b == nil || len(b) != 0 {
		t.Fatalf("expected empty non-nil payload, got %#v", b)
	}
}

func TestPayloadDoesNotMutate(t *testing.T) {
	src := []byte{8, 2, 16, 4}
	orig := append([]byte(nil), src...)
	p := Decode(src)
	if p.Len() != 4 {
		t.Fatalf("Len = %d", p.Len())
	}
	cp := p.Bytes()
	cp[0] = 0xff
	if !bytes.Equal(src, orig) {
		t.Fatalf("Bytes aliased the input")
	}
	v, _ := io.ReadAll(p.View())
	if !bytes.Equal(v, orig) {
		t.Fatalf("View = %x", v)
	}
	var pt point
	if err := p.Unmarshal(&pt); err != nil {
		t.Fatal(err)
	}
	if pt.X != 1 || pt.Y != 2 {
		t.Fatalf("decoded %#v", pt)
	}
	if !bytes.Equal(src, orig) {
		t.Fatalf("Unmarshal mutated the input")
	}
}

func TestDecodeWireTypeMismatch(t *testing.T) {
	// field 3 encoded as a varint instead of a string
	b := protowire.AppendTag(nil, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, 1)
	var pt point
	err := Unmarshal(b, &pt)
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
}

func TestDecodeSkipsUnknownFields(t *testing.T) {
	b := protowire.AppendTag(nil, 9, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("ignored"))
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(-5))
	var pt point
	if err := Unmarshal(b, &pt); err != nil {
		t.Fatal(err)
	}
	if pt.X != -5 {
		t.Fatalf("X = %d", pt.X)
	}
}

func TestDecodeTruncated(t *testing.T) {
	b, _ := Marshal(&point{Name: "truncate me"})
	var pt point
	var perr *ProtocolError
	if err := Unmarshal(b[:len(b)-3], &pt); !errors.As(err, &perr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
}
