package conf

import (
	"fmt"

	"github.com/bluenviron/mediacompose/internal/composer"
)

// Clip is an entry of the clips parameter.
type Clip struct {
	Path string `json:"path"`
	// zero means until the end.
	TrimStart   Duration `json:"trimStart"`
	TrimEnd     Duration `json:"trimEnd"`
	OutputStart Duration `json:"outputStart"`
}

func (c Clip) validate(i int) error {
	if c.Path == "" {
		return fmt.Errorf("clip %d: path is empty", i)
	}

	if c.TrimStart < 0 || c.TrimEnd < 0 || c.OutputStart < 0 {
		return fmt.Errorf("clip %d: durations must not be negative", i)
	}

	if c.TrimEnd != 0 && c.TrimEnd <= c.TrimStart {
		return fmt.Errorf("clip %d: 'trimEnd' must be greater than 'trimStart'", i)
	}

	return nil
}

func (c Clip) toComposer() *composer.Clip {
	trimEnd := int64(-1)
	if c.TrimEnd != 0 {
		trimEnd = c.TrimEnd.Microseconds()
	}

	return &composer.Clip{
		Path:          c.Path,
		TrimStartUs:   c.TrimStart.Microseconds(),
		TrimEndUs:     trimEnd,
		OutputStartUs: c.OutputStart.Microseconds(),
	}
}
