package conf

import (
	"encoding/json"
	"fmt"

	"github.com/bluenviron/mediacompose/internal/conf/jsonwrapper"
)

// OutputFormat is the outputFormat parameter.
type OutputFormat int

// supported values.
const (
	OutputFormatMP4 OutputFormat = iota
	OutputFormatFMP4
	OutputFormatMPEGTS
)

// MarshalJSON implements json.Marshaler.
func (d OutputFormat) MarshalJSON() ([]byte, error) {
	var out string

	switch d {
	case OutputFormatFMP4:
		out = "fmp4"

	case OutputFormatMPEGTS:
		out = "mpegts"

	default:
		out = "mp4"
	}

	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *OutputFormat) UnmarshalJSON(b []byte) error {
	var in string
	if err := jsonwrapper.Unmarshal(b, &in); err != nil {
		return err
	}

	switch in {
	case "mp4":
		*d = OutputFormatMP4

	case "fmp4":
		*d = OutputFormatFMP4

	case "mpegts":
		*d = OutputFormatMPEGTS

	default:
		return fmt.Errorf("invalid output format '%s'", in)
	}

	return nil
}

// UnmarshalEnv implements env.Unmarshaler.
func (d *OutputFormat) UnmarshalEnv(_ string, v string) error {
	return d.UnmarshalJSON([]byte(`"` + v + `"`))
}
