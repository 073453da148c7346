package rpc2

import (
	"github.com/go-delve/rdbg/pkg/wire"
	"github.com/go-delve/rdbg/service/api"
)

type (
	SetBreakpointIn struct {
		Spec api.LocationSpec
	}

	SetBreakpointOut struct {
		Result api.BindResult
		// BindErr is set when the location could not be bound.
		BindErr *api.BindError
	}

	ClearBreakpointIn struct {
		ID        int
		Locations []api.Location
	}

	ClearBreakpointOut struct {
	}

	EnableBreakpointIn struct {
		ID      int
		Enabled bool
	}

	EnableBreakpointOut struct {
	}

	BreakpointLocationsIn struct {
		ID int
	}

	BreakpointLocationsOut struct {
		Locations []api.Location
	}

	SetWatchpointIn struct {
		Range api.AddrRange
		Kind  api.AccessKind
	}

	SetWatchpointOut struct {
		ID      int
		BindErr *api.BindError
	}

	ClearWatchpointIn struct {
		ID int
	}

	ClearWatchpointOut struct {
	}

	EnableWatchpointIn struct {
		ID      int
		Enabled bool
	}

	EnableWatchpointOut struct {
	}

	WaitForEventIn struct {
		TimeoutMs int64
	}

	WaitForEventOut struct {
		Event *api.TargetEvent
	}
)

func (in *SetBreakpointIn) MarshalWire(e *wire.Encoder) error {
	return e.Message(1, &in.Spec)
}

func (in *SetBreakpointIn) UnmarshalWire(d *wire.Decoder) error {
	for d.Next() {
		if d.Field() == 1 {
			d.Message(&in.Spec)
		}
	}
	return d.Err()
}

func (out *SetBreakpointOut) MarshalWire(e *wire.Encoder) error {
	if err := e.Message(1, &out.Result); err != nil {
		return err
	}
	if out.BindErr != nil {
		return e.Message(2, out.BindErr)
	}
	return nil
}

func (out *SetBreakpointOut) UnmarshalWire(d *wire.Decoder) error {
	for d.Next() {
		switch d.Field() {
		case 1:
			d.Message(&out.Result)
		case 2:
			out.BindErr = &api.BindError{}
			d.Message(out.BindErr)
		}
	}
	return d.Err()
}

func (in *ClearBreakpointIn) MarshalWire(e *wire.Encoder) error {
	if err := e.Int(1, int64(in.ID)); err != nil {
		return err
	}
	return api.MarshalLocations(e, 2, in.Locations)
}

func (in *ClearBreakpointIn) UnmarshalWire(d *wire.Decoder) error {
	for d.Next() {
		switch d.Field() {
		case 1:
			in.ID = int(d.Int())
		case 2:
			in.Locations = api.UnmarshalLocation(d, in.Locations)
		}
	}
	return d.Err()
}

func (in *EnableBreakpointIn) WireSize() int {
	return wire.SizeInt(1, int64(in.ID)) + wire.SizeBool(2, in.Enabled)
}

func (in *EnableBreakpointIn) MarshalWire(e *wire.Encoder) error {
	if err := e.Int(1, int64(in.ID)); err != nil {
		return err
	}
	return e.Bool(2, in.Enabled)
}

func (in *EnableBreakpointIn) UnmarshalWire(d *wire.Decoder) error {
	for d.Next() {
		switch d.Field() {
		case 1:
			in.ID = int(d.Int())
		case 2:
			in.Enabled = d.Bool()
		}
	}
	return d.Err()
}

func (in *BreakpointLocationsIn) WireSize() int {
	return wire.SizeInt(1, int64(in.ID))
}

func (in *BreakpointLocationsIn) MarshalWire(e *wire.Encoder) error {
	return e.Int(1, int64(in.ID))
}

func (in *BreakpointLocationsIn) UnmarshalWire(d *wire.Decoder) error {
	for d.Next() {
		if d.Field() == 1 {
			in.ID = int(d.Int())
		}
	}
	return d.Err()
}

func (out *BreakpointLocationsOut) MarshalWire(e *wire.Encoder) error {
	return api.MarshalLocations(e, 1, out.Locations)
}

func (out *BreakpointLocationsOut) UnmarshalWire(d *wire.Decoder) error {
	for d.Next() {
		if d.Field() == 1 {
			out.Locations = api.UnmarshalLocation(d, out.Locations)
		}
	}
	return d.Err()
}

func (in *SetWatchpointIn) WireSize() int {
	return wire.SizeMessage(1, &in.Range) + wire.SizeVarint(2, uint64(in.Kind))
}

func (in *SetWatchpointIn) MarshalWire(e *wire.Encoder) error {
	if err := e.Message(1, &in.Range); err != nil {
		return err
	}
	return e.Varint(2, uint64(in.Kind))
}

func (in *SetWatchpointIn) UnmarshalWire(d *wire.Decoder) error {
	for d.Next() {
		switch d.Field() {
		case 1:
			d.Message(&in.Range)
		case 2:
			in.Kind = api.AccessKind(d.Uint())
		}
	}
	return d.Err()
}

func (out *SetWatchpointOut) MarshalWire(e *wire.Encoder) error {
	if err := e.Int(1, int64(out.ID)); err != nil {
		return err
	}
	if out.BindErr != nil {
		return e.Message(2, out.BindErr)
	}
	return nil
}

func (out *SetWatchpointOut) UnmarshalWire(d *wire.Decoder) error {
	for d.Next() {
		switch d.Field() {
		case 1:
			out.ID = int(d.Int())
		case 2:
			out.BindErr = &api.BindError{}
			d.Message(out.BindErr)
		}
	}
	return d.Err()
}

func (in *ClearWatchpointIn) WireSize() int {
	return wire.SizeInt(1, int64(in.ID))
}

func (in *ClearWatchpointIn) MarshalWire(e *wire.Encoder) error {
	return e.Int(1, int64(in.ID))
}

func (in *ClearWatchpointIn) UnmarshalWire(d *wire.Decoder) error {
	for d.Next() {
		if d.Field() == 1 {
			in.ID = int(d.Int())
		}
	}
	return d.Err()
}

func (in *EnableWatchpointIn) WireSize() int {
	return wire.SizeInt(1, int64(in.ID)) + wire.SizeBool(2, in.Enabled)
}

func (in *EnableWatchpointIn) MarshalWire(e *wire.Encoder) error {
	if err := e.Int(1, int64(in.ID)); err != nil {
		return err
	}
	return e.Bool(2, in.Enabled)
}

func (in *EnableWatchpointIn) UnmarshalWire(d *wire.Decoder) error {
	for d.Next() {
		switch d.Field() {
		case 1:
			in.ID = int(d.Int())
		case 2:
			in.Enabled = d.Bool()
		}
	}
	return d.Err()
}

func (in *WaitForEventIn) WireSize() int {
	return wire.SizeInt(1, in.TimeoutMs)
}

func (in *WaitForEventIn) MarshalWire(e *wire.Encoder) error {
	return e.Int(1, in.TimeoutMs)
}

func (in *WaitForEventIn) UnmarshalWire(d *wire.Decoder) error {
	for d.Next() {
		if d.Field() == 1 {
			in.TimeoutMs = d.Int()
		}
	}
	return d.Err()
}

func (out *WaitForEventOut) MarshalWire(e *wire.Encoder) error {
	if out.Event == nil {
		return nil
	}
	return e.Message(1, out.Event)
}

func (out *WaitForEventOut) UnmarshalWire(d *wire.Decoder) error {
	for d.Next() {
		if d.Field() == 1 {
			out.Event = &api.TargetEvent{}
			d.Message(out.Event)
		}
	}
	return d.Err()
}

// Messages with no fields.

func (*ClearBreakpointOut) MarshalWire(*wire.Encoder) error {
	return nil
}

func (*ClearBreakpointOut) UnmarshalWire(d *wire.Decoder) error {
	return drain(d)
}

func (*ClearWatchpointOut) MarshalWire(*wire.Encoder) error {
	return nil
}

func (*ClearWatchpointOut) UnmarshalWire(d *wire.Decoder) error {
	return drain(d)
}

func (*EnableBreakpointOut) MarshalWire(*wire.Encoder) error {
	return nil
}

func (*EnableBreakpointOut) UnmarshalWire(d *wire.Decoder) error {
	return drain(d)
}

func (*EnableWatchpointOut) MarshalWire(*wire.Encoder) error {
	return nil
}

func (*EnableWatchpointOut) UnmarshalWire(d *wire.Decoder) error {
	return drain(d)
}

func drain(d *wire.Decoder) error {
	for d.Next() {
	}
	return d.Err()
}
