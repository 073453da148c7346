package wire

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	msgs := [][]byte{[]byte("SetBreakpoint"), {}, bytes.Repeat([]byte{7}, 1000)}
	for _, m := range msgs {
		if err := WriteFrame(&buf, m); err != nil {
			t.Fatal(err)
		}
	}
	if buf.Bytes()[0] != 13 || buf.Bytes()[1] != 0 {
		t.Fatalf("length prefix is not little endian: %x", buf.Bytes()[:4])
	}
	for i, m := range msgs {
		got, err := ReadFrame(&buf, 0)
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if !bytes.Equal(got, m) {
			t.Fatalf("frame %d: got %x want %x", i, got, m)
		}
	}
	if _, err := ReadFrame(&buf, 0); err != io.EOF {
		t.Fatalf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestReadFrameErrors(t *testing.T) {
	var perr *ProtocolError

	// header cut short
	if _, err := ReadFrame(bytes.NewReader([]byte{1, 0}), 0); !errors.As(err, &perr) {
		t.Fatalf("short header: %v", err)
	}

	// body cut short
	frame := AppendFrame(nil, []byte("hello"))
	if _, err := ReadFrame(bytes.NewReader(frame[:6]), 0); !errors.As(err, &perr) {
		t.Fatalf("short body: %v", err)
	}

	// negative length
	if _, err := ReadFrame(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff}), 0); !errors.As(err, &perr) {
		t.Fatalf("negative length: %v", err)
	}

	// over the limit
	if _, err := ReadFrame(bytes.NewReader(frame), 4); !errors.As(err, &perr) {
		t.Fatalf("oversized frame: %v", err)
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrClosedPipe }

func TestReadFrameTransportFailure(t *testing.T) {
	_, err := ReadFrame(failingReader{}, 0)
	if err != io.ErrClosedPipe {
		t.Fatalf("expected the reader's error unchanged, got %v", err)
	}
}
