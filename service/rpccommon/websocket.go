package rpccommon

import (
	"context"
	"io"

	"github.com/gorilla/websocket"
)

// wsConn carries the frame stream over binary websocket messages. Every
// Write is sent as one message; reads concatenate messages.
type wsConn struct {
	c *websocket.Conn
	r io.Reader
}

func newWSConn(c *websocket.Conn) *wsConn {
	return &wsConn{c: c}
}

func (w *wsConn) Read(p []byte) (int, error) {
	for {
		if w.r == nil {
			_, r, err := w.c.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			w.r = r
		}
		n, err := w.r.Read(p)
		if err == io.EOF {
			w.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (w *wsConn) Write(p []byte) (int, error) {
	if err := w.c.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *wsConn) Close() error {
	return w.c.Close()
}

// DialWebSocket connects to an agent serving websocket connections at url,
// for example "ws://127.0.0.1:8080/rpc".
func DialWebSocket(ctx context.Context, url string, maxPayload int) (*Channel, error) {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, &TransportError{Method: "dial", Err: err}
	}
	return NewChannel(newWSConn(c), maxPayload), nil
}
