package mp4

import (
	"github.com/bluenviron/mediacompose/internal/composer"
	"github.com/bluenviron/mediacompose/internal/logger"
)

// Opener opens fragmented MP4 files.
// It implements composer.MediaOpener.
type Opener struct {
	Parent logger.Writer
}

// Log implements logger.Writer.
func (o *Opener) Log(level logger.Level, format string, args ...interface{}) {
	o.Parent.Log(level, "[mp4] "+format, args...)
}

// Open implements composer.MediaOpener.
func (o *Opener) Open(path string) (composer.Source, error) {
	s := &Source{Path: path}
	err := s.Initialize()
	if err != nil {
		return nil, err
	}

	o.Log(logger.Debug, "opened %s, %d tracks", path, len(s.tracks))

	return s, nil
}

// Probe implements composer.MediaOpener.
func (o *Opener) Probe(path string) (*composer.MediaInfo, error) {
	return Probe(path)
}
