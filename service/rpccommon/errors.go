package rpccommon

import (
	"errors"
	"fmt"
)

// errConnectionLost is reported when the agent closes the connection.
var errConnectionLost = errors.New("connection to server lost")

// errChannelClosed is reported by calls on a closed channel.
var errChannelClosed = errors.New("channel closed")

// TransportError is returned when a call could not be completed because
// the connection failed, was closed, or the call did not finish before
// its deadline. The outcome of the call on the agent side is unknown.
type TransportError struct {
	Method string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error calling %s: %v", e.Method, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports that repeating the call on a fresh connection may
// succeed.
func (e *TransportError) Temporary() bool {
	return true
}

// ServerError is an error returned by the agent's implementation of a
// method.
type ServerError struct {
	Method string
	Msg    string
}

func (e *ServerError) Error() string {
	return e.Msg
}
