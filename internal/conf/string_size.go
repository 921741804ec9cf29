package conf

import (
	"encoding/json"
	"fmt"

	"code.cloudfoundry.org/bytefmt"

	"github.com/bluenviron/mediacompose/internal/conf/jsonwrapper"
)

// StringSize is a byte size written in human form, like "64KB" or "1MB".
type StringSize uint64

// String implements fmt.Stringer.
func (s StringSize) String() string {
	return bytefmt.ByteSize(uint64(s))
}

// MarshalJSON implements json.Marshaler.
func (s StringSize) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *StringSize) UnmarshalJSON(b []byte) error {
	var in string
	if err := jsonwrapper.Unmarshal(b, &in); err != nil {
		return err
	}

	v, err := bytefmt.ToBytes(in)
	if err != nil {
		return fmt.Errorf("invalid size '%s': %w", in, err)
	}

	*s = StringSize(v)
	return nil
}

// UnmarshalEnv implements env.Unmarshaler.
func (s *StringSize) UnmarshalEnv(_ string, v string) error {
	return s.UnmarshalJSON([]byte(`"` + v + `"`))
}
