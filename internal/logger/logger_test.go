package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoggerToStdout(t *testing.T) {
	var buf bytes.Buffer

	l := &Logger{
		Level:        Info,
		Destinations: []Destination{DestinationStdout},
		timeNow:      func() time.Time { return time.Date(2003, 11, 4, 23, 15, 8, 431232000, time.UTC) },
		stdout:       &buf,
	}
	err := l.Initialize()
	require.NoError(t, err)
	defer l.Close()

	l.Log(Info, "test format %d", 123)
	l.Log(Debug, "filtered")

	require.Equal(t, "2003/11/04 23:15:08.431 INF test format 123\n", buf.String())
}

func TestLoggerLevels(t *testing.T) {
	for _, ca := range []struct {
		level Level
		out   string
	}{
		{Debug, "DEB"},
		{Info, "INF"},
		{Warn, "WAR"},
		{Error, "ERR"},
	} {
		t.Run(ca.out, func(t *testing.T) {
			var buf bytes.Buffer

			l := &Logger{
				Level:        Debug,
				Destinations: []Destination{DestinationStdout},
				timeNow:      func() time.Time { return time.Date(2021, 1, 2, 3, 4, 5, 0, time.UTC) },
				stdout:       &buf,
			}
			err := l.Initialize()
			require.NoError(t, err)
			defer l.Close()

			l.Log(ca.level, "[clip 1] step")

			require.Equal(t, "2021/01/02 03:04:05.000 "+ca.out+" [clip 1] step\n", buf.String())
			require.Equal(t, ca.out, ca.level.String())
		})
	}
}

func TestLoggerToFile(t *testing.T) {
	fpath := filepath.Join(t.TempDir(), "mediacompose.log")

	l := &Logger{
		Level:        Debug,
		Destinations: []Destination{DestinationFile, DestinationStdout},
		File:         fpath,
		timeNow:      func() time.Time { return time.Date(2003, 11, 4, 23, 15, 8, 0, time.UTC) },
		stdout:       &bytes.Buffer{},
	}
	err := l.Initialize()
	require.NoError(t, err)

	l.Log(Info, "test format %d", 123)
	l.Close()

	buf, err := os.ReadFile(fpath)
	require.NoError(t, err)

	require.Equal(t, "2003/11/04 23:15:08.000 INF test format 123\n", string(buf))
}

func TestLoggerInvalidFile(t *testing.T) {
	l := &Logger{
		Destinations: []Destination{DestinationFile},
		File:         "/nonexistent/dir/file.log",
	}
	err := l.Initialize()
	require.Error(t, err)
}
