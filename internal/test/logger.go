// Package test contains test utilities.
package test

import "github.com/bluenviron/mediacompose/internal/logger"

type logFunc func(logger.Level, string, ...interface{})

func (f logFunc) Log(level logger.Level, format string, args ...interface{}) {
	f(level, format, args...)
}

// NilLogger discards every entry.
var NilLogger logger.Writer = logFunc(func(logger.Level, string, ...interface{}) {})

// Logger returns a logger that forwards entries to a callback.
func Logger(cb func(logger.Level, string, ...interface{})) logger.Writer {
	return logFunc(cb)
}
