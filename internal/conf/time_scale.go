package conf

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/bluenviron/mediacompose/internal/composer"
)

// TimeScale is the timeScale parameter.
// It can be written as a number ("2") or as a fraction ("1/2").
type TimeScale composer.TimeScale

// MarshalJSON implements json.Marshaler.
func (d TimeScale) MarshalJSON() ([]byte, error) {
	return json.Marshal(composer.TimeScale(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *TimeScale) UnmarshalJSON(b []byte) error {
	var in interface{}
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}

	var s string

	switch v := in.(type) {
	case string:
		s = v

	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)

	default:
		return fmt.Errorf("invalid time scale: %s", string(b))
	}

	ts, err := composer.ParseTimeScale(s)
	if err != nil {
		return err
	}

	*d = TimeScale(ts)
	return nil
}

// UnmarshalEnv implements env.Unmarshaler.
func (d *TimeScale) UnmarshalEnv(_ string, v string) error {
	ts, err := composer.ParseTimeScale(v)
	if err != nil {
		return err
	}
	*d = TimeScale(ts)
	return nil
}
