package rpccommon

import "github.com/go-delve/rdbg/pkg/wire"

// envelope is the body of every response frame: either an error message
// or the encoded reply.
type envelope struct {
	Err  string
	Body []byte
}

func (env *envelope) WireSize() int {
	return wire.SizeString(1, env.Err) + wire.SizeBytes(2, env.Body)
}

func (env *envelope) MarshalWire(e *wire.Encoder) error {
	if err := e.String(1, env.Err); err != nil {
		return err
	}
	return e.Bytes(2, env.Body)
}

func (env *envelope) UnmarshalWire(d *wire.Decoder) error {
	for d.Next() {
		switch d.Field() {
		case 1:
			env.Err = d.String()
		case 2:
			env.Body = d.Bytes()
		}
	}
	return d.Err()
}
