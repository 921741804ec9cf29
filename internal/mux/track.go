package mux

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/bluenviron/mediacompose/internal/composer"
)

type pendingSample struct {
	dts     int64
	sync    bool
	payload []byte
}

// track turns timestamped samples into samples with a duration.
// A sample is completed when the next one, or the end of stream, is received.
type track struct {
	id        int
	format    *composer.Format
	codec     mp4.Codec
	timeScale uint32

	pending      *pendingSample
	lastDuration uint32
	eos          bool
}

func newTrack(id int, format *composer.Format) (*track, error) {
	codec, timeScale, err := formatToCodec(format)
	if err != nil {
		return nil, err
	}

	if timeScale == 0 {
		return nil, fmt.Errorf("invalid clock rate of %s track", format.MimeType)
	}

	return &track{
		id:        id,
		format:    format,
		codec:     codec,
		timeScale: timeScale,
	}, nil
}

// push receives a sample and returns the previous one, with its duration.
func (t *track) push(
	payload []byte,
	info *composer.BufferInfo,
) (*pendingSample, uint32, error) {
	if t.eos {
		return nil, 0, fmt.Errorf("sample received after end of stream")
	}

	if (info.Flags & composer.FlagEndOfStream) != 0 {
		t.eos = true
		return t.complete(usToTimestamp(info.PresentationTimeUs, t.timeScale), true)
	}

	next := &pendingSample{
		dts:     usToTimestamp(info.PresentationTimeUs, t.timeScale),
		sync:    (info.Flags&composer.FlagKeyFrame) != 0 || !t.format.IsVideo(),
		payload: append([]byte(nil), payload...),
	}

	prev, duration, err := t.complete(next.dts, false)
	t.pending = next
	return prev, duration, err
}

// complete returns the pending sample. Its duration is the distance from nextDTS or,
// when nextDTS is not after the sample, the duration of the previous sample.
// The end of stream may not carry a timestamp.
func (t *track) complete(nextDTS int64, eos bool) (*pendingSample, uint32, error) {
	prev := t.pending
	if prev == nil {
		return nil, 0, nil
	}
	t.pending = nil

	if nextDTS < prev.dts {
		if eos {
			nextDTS = prev.dts
		} else {
			return nil, 0, fmt.Errorf("timestamp of %s track went backwards (%d < %d)",
				t.format.MimeType, nextDTS, prev.dts)
		}
	}

	duration := uint32(nextDTS - prev.dts)
	if duration == 0 {
		duration = t.lastDuration
	}
	t.lastDuration = duration

	return prev, duration, nil
}
