package conf

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bluenviron/mediacompose/internal/conf/jsonwrapper"
	"github.com/bluenviron/mediacompose/internal/logger"
)

var logLevelNames = map[string]logger.Level{
	"debug": logger.Debug,
	"info":  logger.Info,
	"warn":  logger.Warn,
	"error": logger.Error,
}

var logDestinationNames = map[string]logger.Destination{
	"stdout": logger.DestinationStdout,
	"file":   logger.DestinationFile,
	"syslog": logger.DestinationSyslog,
}

func nameOf[T comparable](names map[string]T, v T) (string, bool) {
	for name, cur := range names {
		if cur == v {
			return name, true
		}
	}
	return "", false
}

// LogLevel is the logLevel parameter.
type LogLevel logger.Level

// MarshalJSON implements json.Marshaler.
func (d LogLevel) MarshalJSON() ([]byte, error) {
	name, ok := nameOf(logLevelNames, logger.Level(d))
	if !ok {
		return nil, fmt.Errorf("invalid log level: %v", d)
	}
	return json.Marshal(name)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *LogLevel) UnmarshalJSON(b []byte) error {
	var in string
	if err := jsonwrapper.Unmarshal(b, &in); err != nil {
		return err
	}

	level, ok := logLevelNames[in]
	if !ok {
		return fmt.Errorf("invalid log level '%s'", in)
	}

	*d = LogLevel(level)
	return nil
}

// UnmarshalEnv implements env.Unmarshaler.
func (d *LogLevel) UnmarshalEnv(_ string, v string) error {
	return d.UnmarshalJSON([]byte(`"` + v + `"`))
}

// LogDestinations is the logDestinations parameter.
type LogDestinations []logger.Destination

// MarshalJSON implements json.Marshaler.
func (d LogDestinations) MarshalJSON() ([]byte, error) {
	out := make([]string, len(d))

	for i, dest := range d {
		name, ok := nameOf(logDestinationNames, dest)
		if !ok {
			return nil, fmt.Errorf("invalid log destination: %v", dest)
		}
		out[i] = name
	}

	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *LogDestinations) UnmarshalJSON(b []byte) error {
	var in []string
	if err := jsonwrapper.Unmarshal(b, &in); err != nil {
		return err
	}

	seen := make(map[logger.Destination]struct{})
	out := make(LogDestinations, 0, len(in))

	for _, name := range in {
		dest, ok := logDestinationNames[name]
		if !ok {
			return fmt.Errorf("invalid log destination '%s'", name)
		}

		if _, ok := seen[dest]; ok {
			return fmt.Errorf("log destination '%s' set twice", name)
		}
		seen[dest] = struct{}{}

		out = append(out, dest)
	}

	*d = out
	return nil
}

// UnmarshalEnv implements env.Unmarshaler.
func (d *LogDestinations) UnmarshalEnv(_ string, s string) error {
	byts, _ := json.Marshal(strings.Split(s, ","))
	return d.UnmarshalJSON(byts)
}
