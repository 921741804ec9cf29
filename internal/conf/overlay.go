package conf

import (
	"encoding/json"
	"fmt"
	"image/color"
	"strings"

	gcolor "github.com/gookit/color"

	"github.com/bluenviron/mediacompose/internal/conf/jsonwrapper"
)

// Color is a color written as "#rrggbb" or "rrggbb".
type Color color.RGBA

// MarshalJSON implements json.Marshaler.
func (d Color) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("#%02x%02x%02x", d.R, d.G, d.B))
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Color) UnmarshalJSON(b []byte) error {
	var in string
	if err := jsonwrapper.Unmarshal(b, &in); err != nil {
		return err
	}

	rgb := gcolor.HexToRgb(strings.TrimPrefix(in, "#"))
	if len(rgb) != 3 {
		return fmt.Errorf("invalid color '%s'", in)
	}

	*d = Color{R: uint8(rgb[0]), G: uint8(rgb[1]), B: uint8(rgb[2]), A: 255}
	return nil
}

// UnmarshalEnv implements env.Unmarshaler.
func (d *Color) UnmarshalEnv(_ string, v string) error {
	return d.UnmarshalJSON([]byte(`"` + v + `"`))
}

// OverlayPosition is the position of the overlay.
type OverlayPosition int

// supported values.
const (
	OverlayPositionTopLeft OverlayPosition = iota
	OverlayPositionTopRight
	OverlayPositionBottomLeft
	OverlayPositionBottomRight
)

var overlayPositionNames = map[OverlayPosition]string{
	OverlayPositionTopLeft:     "topLeft",
	OverlayPositionTopRight:    "topRight",
	OverlayPositionBottomLeft:  "bottomLeft",
	OverlayPositionBottomRight: "bottomRight",
}

// MarshalJSON implements json.Marshaler.
func (d OverlayPosition) MarshalJSON() ([]byte, error) {
	return json.Marshal(overlayPositionNames[d])
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *OverlayPosition) UnmarshalJSON(b []byte) error {
	var in string
	if err := jsonwrapper.Unmarshal(b, &in); err != nil {
		return err
	}

	for k, v := range overlayPositionNames {
		if v == in {
			*d = k
			return nil
		}
	}

	return fmt.Errorf("invalid overlay position '%s'", in)
}

// UnmarshalEnv implements env.Unmarshaler.
func (d *OverlayPosition) UnmarshalEnv(_ string, v string) error {
	return d.UnmarshalJSON([]byte(`"` + v + `"`))
}

// Overlay is the overlay parameter.
// In Text, "%t" is replaced with the output time.
type Overlay struct {
	Text      string          `json:"text"`
	FontScale float64         `json:"fontScale"`
	Color     Color           `json:"color"`
	Position  OverlayPosition `json:"position"`
}
