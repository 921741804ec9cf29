// Package mux contains muxers that write compositions into files.
package mux

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"code.cloudfoundry.org/bytefmt"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/bluenviron/mediacompose/internal/composer"
	"github.com/bluenviron/mediacompose/internal/logger"
)

const (
	defaultWriteBufferSize = 1024 * 1024
	videoTimeScale         = 90000
)

// avoid an int64 overflow and preserve resolution by splitting v into integer and decimal part.
func multiplyAndDivide(v, m, d int64) int64 {
	secs := v / d
	dec := v % d
	return (secs*m + dec*m/d)
}

func usToTimestamp(v int64, timeScale uint32) int64 {
	return multiplyAndDivide(v, int64(timeScale), 1000000)
}

// formatToCodec converts a format into a MP4 codec.
func formatToCodec(f *composer.Format) (mp4.Codec, uint32, error) {
	switch f.MimeType {
	case composer.MimeTypeH264:
		if len(f.CSD) < 2 {
			return nil, 0, fmt.Errorf("H264 parameters not provided")
		}
		return &mp4.CodecH264{
			SPS: f.CSD[0],
			PPS: f.CSD[1],
		}, videoTimeScale, nil

	case composer.MimeTypeAAC:
		config, err := aacConfig(f)
		if err != nil {
			return nil, 0, err
		}
		return &mp4.CodecMPEG4Audio{
			Config: *config,
		}, uint32(config.SampleRate), nil

	case composer.MimeTypeOpus:
		return &mp4.CodecOpus{
			ChannelCount: f.ChannelCount,
		}, 48000, nil

	case composer.MimeTypeLPCM:
		bitDepth := f.BitDepth
		if bitDepth == 0 {
			bitDepth = 16
		}
		return &mp4.CodecLPCM{
			LittleEndian: f.LittleEndian,
			BitDepth:     bitDepth,
			SampleRate:   f.SampleRate,
			ChannelCount: f.ChannelCount,
		}, uint32(f.SampleRate), nil
	}

	return nil, 0, fmt.Errorf("unsupported codec: %s", f.MimeType)
}

func aacConfig(f *composer.Format) (*mpeg4audio.AudioSpecificConfig, error) {
	if len(f.CSD) < 1 {
		return nil, fmt.Errorf("MPEG-4 audio config not provided")
	}

	var config mpeg4audio.AudioSpecificConfig
	err := config.Unmarshal(f.CSD[0])
	if err != nil {
		return nil, fmt.Errorf("invalid MPEG-4 audio config: %w", err)
	}

	return &config, nil
}

type countingWriter struct {
	f *os.File
	n uint64
}

func (w *countingWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	w.n += uint64(n)
	return n, err
}

// output is a buffered output file.
type output struct {
	path       string
	bufferSize int
	parent     logger.Writer

	cw *countingWriter
	bw *bufio.Writer
}

func (o *output) initialize() error {
	if o.bufferSize <= 0 {
		o.bufferSize = defaultWriteBufferSize
	}

	err := os.MkdirAll(filepath.Dir(o.path), 0o755)
	if err != nil {
		return err
	}

	f, err := os.Create(o.path)
	if err != nil {
		return err
	}

	o.cw = &countingWriter{f: f}
	o.bw = bufio.NewWriterSize(o.cw, o.bufferSize)

	o.parent.Log(logger.Debug, "writing %s", o.path)

	return nil
}

func (o *output) Write(p []byte) (int, error) {
	return o.bw.Write(p)
}

// close flushes and closes the file.
func (o *output) close() error {
	if o.cw == nil {
		return nil
	}

	err := o.bw.Flush()
	err2 := o.cw.f.Close()
	if err == nil {
		err = err2
	}

	if err == nil {
		o.parent.Log(logger.Info, "%s written (%s)", o.path, bytefmt.ByteSize(o.cw.n))
	}

	o.cw = nil
	return err
}

// remove closes and deletes an incomplete file.
func (o *output) remove() {
	if o.cw == nil {
		return
	}

	o.cw.f.Close()
	os.Remove(o.path)
	o.cw = nil

	o.parent.Log(logger.Warn, "%s removed since it's incomplete", o.path)
}
