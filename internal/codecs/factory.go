// Package codecs contains the codec factory.
package codecs

import (
	"fmt"

	"github.com/bluenviron/mediacompose/internal/codecs/h264dec"
	"github.com/bluenviron/mediacompose/internal/codecs/h264enc"
	"github.com/bluenviron/mediacompose/internal/codecs/lpcm"
	"github.com/bluenviron/mediacompose/internal/codecs/swcodec"
	"github.com/bluenviron/mediacompose/internal/composer"
	"github.com/bluenviron/mediacompose/internal/logger"
)

type initializableProcessor interface {
	swcodec.Processor
	Initialize() error
}

// Factory allocates codecs by mime type.
// It implements composer.CodecFactory.
type Factory struct {
	Parent logger.Writer
}

// Log implements logger.Writer.
func (f *Factory) Log(level logger.Level, format string, args ...interface{}) {
	f.Parent.Log(level, "[codecs] "+format, args...)
}

func (f *Factory) wrap(p initializableProcessor, output composer.Surface) (*swcodec.Async, error) {
	err := p.Initialize()
	if err != nil {
		return nil, err
	}

	a := &swcodec.Async{
		Processor: p,
		Output:    output,
	}
	a.Initialize()

	return a, nil
}

// NewDecoder implements composer.CodecFactory.
func (f *Factory) NewDecoder(format *composer.Format, output composer.Surface) (composer.Codec, error) {
	var p initializableProcessor

	switch format.MimeType {
	case composer.MimeTypeH264:
		if output == nil {
			return nil, fmt.Errorf("H264 decoder requires an output surface")
		}
		p = &h264dec.Decoder{Format: format}

	case composer.MimeTypeLPCM:
		p = &lpcm.Decoder{Format: format}

	default:
		return nil, composer.ConfigurationError{Msg: fmt.Sprintf("no decoder available for %s", format.MimeType)}
	}

	f.Log(logger.Debug, "creating %s decoder", format.MimeType)

	a, err := f.wrap(p, output)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// NewEncoder implements composer.CodecFactory.
func (f *Factory) NewEncoder(format *composer.Format) (composer.Encoder, error) {
	var p initializableProcessor

	switch format.MimeType {
	case composer.MimeTypeH264:
		p = &h264enc.Encoder{Format: format}

	case composer.MimeTypeLPCM:
		p = &lpcm.Encoder{Format: format}

	default:
		return nil, composer.ConfigurationError{Msg: fmt.Sprintf("no encoder available for %s", format.MimeType)}
	}

	f.Log(logger.Debug, "creating %s encoder", format.MimeType)

	a, err := f.wrap(p, nil)
	if err != nil {
		return nil, err
	}
	return a, nil
}
