package conf

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var reDays = regexp.MustCompile("^(-?[0-9]+)d")

// Duration is a duration. It differs from the standard duration in these ways:
// - it is unmarshaled/marshaled from/to a string
// - it supports days
// - a bare number is a count of milliseconds
type Duration time.Duration

// Microseconds returns the duration in microseconds.
func (d Duration) Microseconds() int64 {
	return time.Duration(d).Microseconds()
}

func (d Duration) String() string {
	negative := false
	if d < 0 {
		negative = true
		d = -d
	}

	day := Duration(86400 * time.Second)
	days := d / day
	nonDays := d % day

	ret := ""
	if negative {
		ret += "-"
	}

	if days > 0 {
		ret += strconv.FormatInt(int64(days), 10) + "d"
	}

	if nonDays != 0 || days == 0 {
		ret += time.Duration(nonDays).String()
	}

	return ret
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func parseDuration(in string) (Duration, error) {
	if ms, err := strconv.ParseInt(in, 10, 64); err == nil {
		return Duration(time.Duration(ms) * time.Millisecond), nil
	}

	negative := false
	days := int64(0)

	m := reDays.FindStringSubmatch(in)
	if m != nil {
		days, _ = strconv.ParseInt(m[1], 10, 64)
		if days < 0 {
			negative = true
			days = -days
		}

		in = in[len(m[0]):]
	}

	var nonDays time.Duration

	if len(in) != 0 {
		var err error
		nonDays, err = time.ParseDuration(in)
		if err != nil {
			return 0, err
		}
	}

	nonDays += time.Duration(days) * 24 * time.Hour
	if negative {
		nonDays = -nonDays
	}

	return Duration(nonDays), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var in interface{}
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}

	switch v := in.(type) {
	case string:
		tmp, err := parseDuration(v)
		if err != nil {
			return err
		}
		*d = tmp

	case float64:
		*d = Duration(time.Duration(v * float64(time.Millisecond)))

	default:
		return fmt.Errorf("invalid duration: %s", string(b))
	}

	return nil
}

// UnmarshalEnv implements env.Unmarshaler.
func (d *Duration) UnmarshalEnv(_ string, v string) error {
	tmp, err := parseDuration(v)
	if err != nil {
		return err
	}
	*d = tmp
	return nil
}
