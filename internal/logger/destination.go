package logger

import (
	"bytes"
	"io"
	"os"
	"time"

	"golang.org/x/term"
)

// Destination is a log destination.
type Destination int

const (
	// DestinationStdout writes logs to the standard output.
	DestinationStdout Destination = iota

	// DestinationFile writes logs to a file.
	DestinationFile

	// DestinationSyslog writes logs to the system logger.
	DestinationSyslog
)

// destination formats entries into a writer.
// Colors are used only when the writer is a terminal.
type destination struct {
	w        io.Writer
	closer   io.Closer
	useColor bool
	buf      bytes.Buffer
}

func newStdoutDestination(w io.Writer) *destination {
	d := &destination{w: w}
	if f, ok := w.(*os.File); ok {
		d.useColor = term.IsTerminal(int(f.Fd()))
	}
	return d
}

func newFileDestination(fpath string) (*destination, error) {
	f, err := os.OpenFile(fpath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &destination{w: f, closer: f}, nil
}

func newSyslogDestination(prefix string) (*destination, error) {
	s, err := newSysLog(prefix)
	if err != nil {
		return nil, err
	}
	return &destination{w: s, closer: s}, nil
}

func (d *destination) log(t time.Time, level Level, format string, args []interface{}) {
	d.buf.Reset()
	writeTime(&d.buf, t, d.useColor)
	writeLevel(&d.buf, level, d.useColor)
	writeContent(&d.buf, format, args)
	d.w.Write(d.buf.Bytes()) //nolint:errcheck
}

func (d *destination) close() {
	if d.closer != nil {
		d.closer.Close()
	}
}
