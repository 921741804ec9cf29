package composer

import "fmt"

// Size is a video resolution.
type Size struct {
	Width  int
	Height int
}

// IsZero returns whether the size is unset.
func (s Size) IsZero() bool {
	return s.Width == 0 || s.Height == 0
}

// String implements fmt.Stringer.
func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Rotation is a clockwise rotation in degrees.
type Rotation int

// rotations.
const (
	RotationNormal Rotation = 0
	Rotation90     Rotation = 90
	Rotation180    Rotation = 180
	Rotation270    Rotation = 270
)

// RotationFromDegrees returns the rotation that matches degrees, normalized to [0, 360).
func RotationFromDegrees(degrees int) Rotation {
	degrees %= 360
	if degrees < 0 {
		degrees += 360
	}

	switch {
	case degrees < 45:
		return RotationNormal
	case degrees < 135:
		return Rotation90
	case degrees < 225:
		return Rotation180
	case degrees < 315:
		return Rotation270
	}
	return RotationNormal
}

// Add composes two rotations.
func (r Rotation) Add(o Rotation) Rotation {
	return RotationFromDegrees(int(r) + int(o))
}

// SwapsAxes returns whether the rotation exchanges width and height.
func (r Rotation) SwapsAxes() bool {
	return r == Rotation90 || r == Rotation270
}

// FillMode is the way the input image is fit into the output resolution.
type FillMode int

// fill modes.
const (
	FillModeFit FillMode = iota
	FillModeCrop
	FillModeCustom
)

// String implements fmt.Stringer.
func (m FillMode) String() string {
	switch m {
	case FillModeCrop:
		return "crop"
	case FillModeCustom:
		return "custom"
	}
	return "fit"
}

// FillModeCustomItem contains the parameters of FillModeCustom.
type FillModeCustomItem struct {
	Scale       float64
	Rotate      float64
	TranslateX  float64
	TranslateY  float64
	VideoWidth  int
	VideoHeight int
}

// Clip is an input file with its trim window.
type Clip struct {
	Path string

	TrimStartUs int64
	// -1 to read until the end.
	TrimEndUs int64
	// position of the clip in the output timeline.
	// The clip never starts before the end of the previous one.
	OutputStartUs int64

	// filled by Composer.Initialize()
	Rotation   Rotation
	Size       Size
	DurationUs int64
}

func (c *Clip) validate() error {
	if c.Path == "" {
		return configErrorf("clip path is empty")
	}
	if c.TrimStartUs < 0 {
		return configErrorf("trim start of '%s' is negative", c.Path)
	}
	if c.TrimEndUs != -1 && c.TrimEndUs <= c.TrimStartUs {
		return configErrorf("trim end of '%s' must be greater than trim start", c.Path)
	}
	if c.OutputStartUs < 0 {
		return configErrorf("output start of '%s' is negative", c.Path)
	}
	return nil
}

// sourceDurationUs returns the duration of the trimmed clip in the source timeline, or -1.
// The trim end is clamped to the source duration when it is known.
func (c *Clip) sourceDurationUs() int64 {
	if c.TrimEndUs != -1 {
		endUs := c.TrimEndUs
		if c.DurationUs > 0 && endUs > c.DurationUs {
			endUs = c.DurationUs
		}
		if endUs <= c.TrimStartUs {
			return 0
		}
		return endUs - c.TrimStartUs
	}
	if c.DurationUs > 0 && c.DurationUs > c.TrimStartUs {
		return c.DurationUs - c.TrimStartUs
	}
	return -1
}
