package api

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/go-delve/rdbg/pkg/wire"
)

// Field numbers are part of the protocol and must not be renumbered.

func (s *LocationSpec) WireSize() int {
	return wire.SizeVarint(1, uint64(s.Kind)) +
		wire.SizeString(2, s.File) +
		wire.SizeInt(3, int64(s.Line)) +
		wire.SizeString(4, s.Function) +
		wire.SizeInt(5, int64(s.Offset)) +
		wire.SizeVarint(6, s.Addr) +
		wire.SizeString(7, s.Cond)
}

func (s *LocationSpec) MarshalWire(e *wire.Encoder) error {
	for _, err := range []error{
		e.Varint(1, uint64(s.Kind)),
		e.String(2, s.File),
		e.Int(3, int64(s.Line)),
		e.String(4, s.Function),
		e.Int(5, int64(s.Offset)),
		e.Varint(6, s.Addr),
		e.String(7, s.Cond),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *LocationSpec) UnmarshalWire(d *wire.Decoder) error {
	for d.Next() {
		switch d.Field() {
		case 1:
			s.Kind = LocationKind(d.Uint())
		case 2:
			s.File = d.String()
		case 3:
			s.Line = int(d.Int())
		case 4:
			s.Function = d.String()
		case 5:
			s.Offset = int(d.Int())
		case 6:
			s.Addr = d.Uint()
		case 7:
			s.Cond = d.String()
		}
	}
	return d.Err()
}

func (l *Location) WireSize() int {
	return wire.SizeInt(1, int64(l.ID)) +
		wire.SizeVarint(2, l.PC) +
		wire.SizeString(3, l.File) +
		wire.SizeInt(4, int64(l.Line)) +
		wire.SizeString(5, l.Function)
}

func (l *Location) MarshalWire(e *wire.Encoder) error {
	for _, err := range []error{
		e.Int(1, int64(l.ID)),
		e.Varint(2, l.PC),
		e.String(3, l.File),
		e.Int(4, int64(l.Line)),
		e.String(5, l.Function),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

func (l *Location) UnmarshalWire(d *wire.Decoder) error {
	for d.Next() {
		switch d.Field() {
		case 1:
			l.ID = int(d.Int())
		case 2:
			l.PC = d.Uint()
		case 3:
			l.File = d.String()
		case 4:
			l.Line = int(d.Int())
		case 5:
			l.Function = d.String()
		}
	}
	return d.Err()
}

// MarshalLocations writes locs as a repeated field.
func MarshalLocations(e *wire.Encoder, num protowire.Number, locs []Location) error {
	for i := range locs {
		if err := e.Message(num, &locs[i]); err != nil {
			return err
		}
	}
	return nil
}

// UnmarshalLocation decodes the current field as one element of a repeated
// location field and appends it to locs.
func UnmarshalLocation(d *wire.Decoder, locs []Location) []Location {
	var l Location
	d.Message(&l)
	return append(locs, l)
}

func (r *AddrRange) WireSize() int {
	return wire.SizeVarint(1, r.Addr) + wire.SizeVarint(2, r.Size)
}

func (r *AddrRange) MarshalWire(e *wire.Encoder) error {
	if err := e.Varint(1, r.Addr); err != nil {
		return err
	}
	return e.Varint(2, r.Size)
}

func (r *AddrRange) UnmarshalWire(d *wire.Decoder) error {
	for d.Next() {
		switch d.Field() {
		case 1:
			r.Addr = d.Uint()
		case 2:
			r.Size = d.Uint()
		}
	}
	return d.Err()
}

// BindResult does not implement wire.Sizer, its payload is encoded with a
// buffer that grows as locations are written.

func (r *BindResult) MarshalWire(e *wire.Encoder) error {
	if err := e.Int(1, int64(r.ID)); err != nil {
		return err
	}
	return MarshalLocations(e, 2, r.Locations)
}

func (r *BindResult) UnmarshalWire(d *wire.Decoder) error {
	for d.Next() {
		switch d.Field() {
		case 1:
			r.ID = int(d.Int())
		case 2:
			r.Locations = UnmarshalLocation(d, r.Locations)
		}
	}
	return d.Err()
}

func (err *BindError) WireSize() int {
	return wire.SizeVarint(1, uint64(err.Code)) + wire.SizeString(2, err.Msg)
}

func (err *BindError) MarshalWire(e *wire.Encoder) error {
	if err2 := e.Varint(1, uint64(err.Code)); err2 != nil {
		return err2
	}
	return e.String(2, err.Msg)
}

func (err *BindError) UnmarshalWire(d *wire.Decoder) error {
	for d.Next() {
		switch d.Field() {
		case 1:
			err.Code = BindErrorCode(d.Uint())
		case 2:
			err.Msg = d.String()
		}
	}
	return d.Err()
}

func (ev *TargetEvent) WireSize() int {
	return wire.SizeVarint(1, uint64(ev.Kind)) +
		wire.SizeString(2, ev.Module) +
		wire.SizeInt(3, int64(ev.BreakpointID)) +
		wire.SizeString(4, ev.Msg)
}

func (ev *TargetEvent) MarshalWire(e *wire.Encoder) error {
	for _, err := range []error{
		e.Varint(1, uint64(ev.Kind)),
		e.String(2, ev.Module),
		e.Int(3, int64(ev.BreakpointID)),
		e.String(4, ev.Msg),
	} {
		if err != nil {
			return err
		}
	}
	return nil
}

func (ev *TargetEvent) UnmarshalWire(d *wire.Decoder) error {
	for d.Next() {
		switch d.Field() {
		case 1:
			ev.Kind = EventKind(d.Uint())
		case 2:
			ev.Module = d.String()
		case 3:
			ev.BreakpointID = int(d.Int())
		case 4:
			ev.Msg = d.String()
		}
	}
	return d.Err()
}
