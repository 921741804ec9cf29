package composer

import (
	"fmt"
	"strconv"
	"strings"
)

// TimeScale is a playback speed factor, expressed as Num/Den.
// A value of 2 halves the output duration, a value of 1/2 doubles it.
type TimeScale struct {
	Num int64
	Den int64
}

// normalize returns 1/1 in place of the zero value.
func (ts TimeScale) normalize() TimeScale {
	if ts.Num == 0 && ts.Den == 0 {
		return TimeScale{Num: 1, Den: 1}
	}
	return ts
}

// IsOne returns whether the time scale leaves timestamps untouched.
func (ts TimeScale) IsOne() bool {
	ts = ts.normalize()
	return ts.Num == ts.Den
}

// Validate checks the time scale.
func (ts TimeScale) Validate() error {
	ts = ts.normalize()
	if ts.Num <= 0 || ts.Den <= 0 {
		return configErrorf("time scale must be positive, got %s", ts)
	}
	return nil
}

// Apply converts a source duration or timestamp into the output timeline.
func (ts TimeScale) Apply(us int64) int64 {
	ts = ts.normalize()
	return multiplyAndDivide(us, ts.Den, ts.Num)
}

// String implements fmt.Stringer.
func (ts TimeScale) String() string {
	ts = ts.normalize()
	if ts.Den == 1 {
		return strconv.FormatInt(ts.Num, 10)
	}
	return strconv.FormatInt(ts.Num, 10) + "/" + strconv.FormatInt(ts.Den, 10)
}

// ParseTimeScale parses a time scale in the form "N" or "N/D".
func ParseTimeScale(s string) (TimeScale, error) {
	parts := strings.Split(s, "/")
	if len(parts) > 2 {
		return TimeScale{}, fmt.Errorf("invalid time scale: '%s'", s)
	}

	num, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return TimeScale{}, fmt.Errorf("invalid time scale: '%s'", s)
	}

	den := int64(1)
	if len(parts) == 2 {
		den, err = strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
		if err != nil {
			return TimeScale{}, fmt.Errorf("invalid time scale: '%s'", s)
		}
	}

	ts := TimeScale{Num: num, Den: den}
	if err := ts.Validate(); err != nil {
		return TimeScale{}, err
	}

	return ts, nil
}

// avoid an int64 overflow and preserve resolution by splitting v into integer and decimal part.
func multiplyAndDivide(v, m, d int64) int64 {
	secs := v / d
	dec := v % d
	return (secs*m + dec*m/d)
}

// elapsedClock accumulates the deltas between consecutive timestamps.
// The first timestamp contributes a zero delta.
type elapsedClock struct {
	elapsedUs int64
	prevUs    int64
	started   bool
}

func (c *elapsedClock) advance(timeUs int64) int64 {
	if !c.started {
		c.prevUs = timeUs
		c.started = true
	}

	delta := timeUs - c.prevUs
	c.elapsedUs += delta
	c.prevUs = timeUs
	return delta
}
