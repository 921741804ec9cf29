package conf

import (
	"encoding/json"
	"fmt"

	"github.com/bluenviron/mediacompose/internal/composer"
	"github.com/bluenviron/mediacompose/internal/conf/jsonwrapper"
)

// FillMode is the fillMode parameter.
type FillMode composer.FillMode

// MarshalJSON implements json.Marshaler.
func (d FillMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(composer.FillMode(d).String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *FillMode) UnmarshalJSON(b []byte) error {
	var in string
	if err := jsonwrapper.Unmarshal(b, &in); err != nil {
		return err
	}

	switch in {
	case "fit":
		*d = FillMode(composer.FillModeFit)

	case "crop":
		*d = FillMode(composer.FillModeCrop)

	case "custom":
		*d = FillMode(composer.FillModeCustom)

	default:
		return fmt.Errorf("invalid fill mode '%s'", in)
	}

	return nil
}

// UnmarshalEnv implements env.Unmarshaler.
func (d *FillMode) UnmarshalEnv(_ string, v string) error {
	return d.UnmarshalJSON([]byte(`"` + v + `"`))
}

// FillModeCustom is the fillModeCustom parameter.
type FillModeCustom struct {
	Scale       float64 `json:"scale"`
	Rotate      float64 `json:"rotate"`
	TranslateX  float64 `json:"translateX"`
	TranslateY  float64 `json:"translateY"`
	VideoWidth  int     `json:"videoWidth"`
	VideoHeight int     `json:"videoHeight"`
}

func (f FillModeCustom) toComposer() *composer.FillModeCustomItem {
	return &composer.FillModeCustomItem{
		Scale:       f.Scale,
		Rotate:      f.Rotate,
		TranslateX:  f.TranslateX,
		TranslateY:  f.TranslateY,
		VideoWidth:  f.VideoWidth,
		VideoHeight: f.VideoHeight,
	}
}
