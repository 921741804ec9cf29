package conf

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/bluenviron/mediacompose/internal/composer"
)

// Rotation is the rotation parameter.
type Rotation composer.Rotation

// MarshalJSON implements json.Marshaler.
func (d Rotation) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(d))
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Rotation) UnmarshalJSON(b []byte) error {
	var in int
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}

	switch composer.Rotation(in) {
	case composer.RotationNormal, composer.Rotation90, composer.Rotation180, composer.Rotation270:
		*d = Rotation(in)

	default:
		return fmt.Errorf("invalid rotation %d, must be 0, 90, 180 or 270", in)
	}

	return nil
}

// UnmarshalEnv implements env.Unmarshaler.
func (d *Rotation) UnmarshalEnv(_ string, v string) error {
	if _, err := strconv.Atoi(v); err != nil {
		return fmt.Errorf("invalid rotation '%s'", v)
	}
	return d.UnmarshalJSON([]byte(v))
}
