package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// FrameHeaderLen is the size of the length prefix in front of every frame.
const FrameHeaderLen = 4

// AppendFrame appends payload to dst, preceded by its little endian 32 bit
// length.
func AppendFrame(dst, payload []byte) []byte {
	var hdr [FrameHeaderLen]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(len(payload)))
	dst = append(dst, hdr[:]...)
	return append(dst, payload...)
}

// WriteFrame writes payload to w as a single length prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	buf := AppendFrame(make([]byte, 0, FrameHeaderLen+len(payload)), payload)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one frame from r. If maxSize is positive frames larger
// than maxSize are rejected.
//
// A clean end of stream before the first header byte is returned as io.EOF.
// Truncated frames and invalid length prefixes are returned as
// *ProtocolError, any other read failure is returned unchanged.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	var hdr [FrameHeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &ProtocolError{Context: "read frame header", Err: errTruncated}
		}
		return nil, err
	}
	n := int32(binary.LittleEndian.Uint32(hdr[:]))
	if n < 0 || (maxSize > 0 && int(n) > maxSize) {
		return nil, &ProtocolError{Context: "read frame header", Err: fmt.Errorf("malformed length prefix %d", n)}
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, &ProtocolError{Context: "read frame body", Err: errTruncated}
		}
		return nil, err
	}
	return buf, nil
}

var errTruncated = errors.New("truncated frame")
