// Package logger contains a logger implementation.
package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gookit/color"
)

// Writer is an object that provides a log method.
type Writer interface {
	Log(Level, string, ...interface{})
}

// Level is a log level.
type Level int

// Log levels.
const (
	Debug Level = iota + 1
	Info
	Warn
	Error
)

type levelLabel struct {
	text  string
	color string
}

var levelLabels = map[Level]levelLabel{
	Debug: {"DEB", color.Debug.Code()},
	Info:  {"INF", color.Green.Code()},
	Warn:  {"WAR", color.Warn.Code()},
	Error: {"ERR", color.Error.Code()},
}

// String implements fmt.Stringer.
func (l Level) String() string {
	if label, ok := levelLabels[l]; ok {
		return label.text
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// Logger is a log handler.
type Logger struct {
	Level        Level
	Destinations []Destination
	File         string
	SysLogPrefix string

	timeNow      func() time.Time
	stdout       io.Writer
	destinations []*destination
	mutex        sync.Mutex
}

// Initialize initializes Logger.
func (lh *Logger) Initialize() error {
	if lh.timeNow == nil {
		lh.timeNow = time.Now
	}
	if lh.stdout == nil {
		lh.stdout = os.Stdout
	}
	if lh.SysLogPrefix == "" {
		lh.SysLogPrefix = "mediacompose"
	}

	for _, destType := range lh.Destinations {
		var dest *destination
		var err error

		switch destType {
		case DestinationStdout:
			dest = newStdoutDestination(lh.stdout)

		case DestinationFile:
			dest, err = newFileDestination(lh.File)

		case DestinationSyslog:
			dest, err = newSyslogDestination(lh.SysLogPrefix)

		default:
			err = fmt.Errorf("invalid destination: %v", destType)
		}

		if err != nil {
			lh.Close()
			return err
		}

		lh.destinations = append(lh.destinations, dest)
	}

	return nil
}

// Close closes a log handler.
func (lh *Logger) Close() {
	for _, dest := range lh.destinations {
		dest.close()
	}
	lh.destinations = nil
}

// entries carry milliseconds since compositions are usually short.
func writeTime(buf *bytes.Buffer, t time.Time, useColor bool) {
	s := t.Format("2006/01/02 15:04:05.000 ")

	if useColor {
		buf.WriteString(color.RenderString(color.Gray.Code(), s))
	} else {
		buf.WriteString(s)
	}
}

func writeLevel(buf *bytes.Buffer, level Level, useColor bool) {
	label := levelLabels[level]

	if useColor {
		buf.WriteString(color.RenderString(label.color, label.text))
	} else {
		buf.WriteString(label.text)
	}
	buf.WriteByte(' ')
}

func writeContent(buf *bytes.Buffer, format string, args []interface{}) {
	fmt.Fprintf(buf, format, args...)
	buf.WriteByte('\n')
}

// Log writes a log entry.
func (lh *Logger) Log(level Level, format string, args ...interface{}) {
	if level < lh.Level {
		return
	}

	lh.mutex.Lock()
	defer lh.mutex.Unlock()

	t := lh.timeNow()

	for _, dest := range lh.destinations {
		dest.log(t, level, format, args)
	}
}
