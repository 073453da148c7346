package terminal

import (
	"bufio"
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
)

const (
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"

	ansiRed    = 31
	ansiGreen  = 32
	ansiYellow = 33
)

// transcriptWriter writes to w and also, optionally, to a buffered file.
type transcriptWriter struct {
	w    io.Writer
	file *bufio.Writer
	fh   io.Closer
}

func (w *transcriptWriter) Write(p []byte) (nn int, err error) {
	nn, err = w.w.Write(p)
	if err == nil && w.file != nil {
		return w.file.Write(p)
	}
	return
}

// Echo outputs str only to the optional transcript file.
func (w *transcriptWriter) Echo(str string) {
	if w.file != nil {
		w.file.WriteString(str)
	}
}

// Flush flushes the optional transcript file.
func (w *transcriptWriter) Flush() {
	if w.file != nil {
		w.file.Flush()
	}
}

// CloseTranscript closes the optional transcript file.
func (w *transcriptWriter) CloseTranscript() error {
	if w.file == nil {
		return nil
	}
	w.file.Flush()
	err := w.fh.Close()
	w.file = nil
	w.fh = nil
	return err
}

// TranscribeTo starts transcribing the output to the specified file.
func (w *transcriptWriter) TranscribeTo(fh io.WriteCloser) {
	if w.file != nil {
		w.CloseTranscript()
	}
	w.fh = fh
	w.file = bufio.NewWriter(fh)
}

// getColorableWriter returns a writer to stdout that understands ANSI
// escape codes on every platform, and whether colors should be used.
func getColorableWriter() (io.Writer, bool) {
	if !isatty.IsTerminal(os.Stdout.Fd()) {
		return os.Stdout, false
	}
	return colorable.NewColorableStdout(), true
}
