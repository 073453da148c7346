package wire

import "fmt"

// ProtocolUsageError is returned when the encoder is used in a way its
// contract forbids, for example declaring the payload length twice or
// writing after the payload was finished. It always indicates a
// programming error in the caller.
type ProtocolUsageError struct {
	Op  string
	Msg string
}

func (err *ProtocolUsageError) Error() string {
	return fmt.Sprintf("wire: %s: %s", err.Op, err.Msg)
}

// ProtocolError is returned when bytes received from the peer can not be
// decoded: a truncated frame, a malformed length prefix or a field that does
// not match the expected wire type.
type ProtocolError struct {
	Context string
	Err     error
}

func (err *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error during %s: %v", err.Context, err.Err)
}

func (err *ProtocolError) Unwrap() error {
	return err.Err
}
