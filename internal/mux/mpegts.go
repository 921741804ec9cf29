package mux

import (
	"fmt"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"

	"github.com/bluenviron/mediacompose/internal/composer"
	"github.com/bluenviron/mediacompose/internal/logger"
)

type mpegtsTrack struct {
	format *composer.Format
	track  *mpegts.Track
	eos    bool
	lastTS int64
}

// MPEGTS writes a MPEG-TS file.
// It implements composer.Muxer.
type MPEGTS struct {
	Path            string
	WriteBufferSize int
	Parent          logger.Writer

	tracks  []*mpegtsTrack
	out     *output
	mw      *mpegts.Writer
	started bool
	stopped bool
}

// Log implements logger.Writer.
func (m *MPEGTS) Log(level logger.Level, format string, args ...interface{}) {
	m.Parent.Log(level, "[mpegts muxer] "+format, args...)
}

// AddTrack implements composer.Muxer.
func (m *MPEGTS) AddTrack(format *composer.Format) (int, error) {
	if m.started {
		return 0, fmt.Errorf("muxer already started")
	}

	var codec mpegts.Codec

	switch format.MimeType {
	case composer.MimeTypeH264:
		if len(format.CSD) < 2 {
			return 0, fmt.Errorf("H264 parameters not provided")
		}
		codec = &mpegts.CodecH264{}

	case composer.MimeTypeAAC:
		config, err := aacConfig(format)
		if err != nil {
			return 0, err
		}
		codec = &mpegts.CodecMPEG4Audio{
			Config: *config,
		}

	case composer.MimeTypeOpus:
		codec = &mpegts.CodecOpus{
			ChannelCount: format.ChannelCount,
		}

	default:
		return 0, fmt.Errorf("codec %s is not supported by MPEG-TS", format.MimeType)
	}

	m.tracks = append(m.tracks, &mpegtsTrack{
		format: format,
		track:  &mpegts.Track{Codec: codec},
	})

	return len(m.tracks) - 1, nil
}

// Start implements composer.Muxer.
func (m *MPEGTS) Start() error {
	if len(m.tracks) == 0 {
		return fmt.Errorf("no tracks")
	}

	tracks := make([]*mpegts.Track, len(m.tracks))
	for i, t := range m.tracks {
		tracks[i] = t.track
	}

	m.out = &output{
		path:       m.Path,
		bufferSize: m.WriteBufferSize,
		parent:     m,
	}
	err := m.out.initialize()
	if err != nil {
		return err
	}

	m.mw = &mpegts.Writer{W: m.out, Tracks: tracks}
	err = m.mw.Initialize()
	if err != nil {
		m.out.remove()
		return err
	}

	m.started = true
	return nil
}

// WriteSampleData implements composer.Muxer.
func (m *MPEGTS) WriteSampleData(trackID int, payload []byte, info *composer.BufferInfo) error {
	if !m.started || m.stopped {
		return fmt.Errorf("muxer is not running")
	}

	if trackID < 0 || trackID >= len(m.tracks) {
		return fmt.Errorf("invalid track: %d", trackID)
	}
	t := m.tracks[trackID]

	if t.eos {
		return fmt.Errorf("sample received after end of stream")
	}

	if (info.Flags & composer.FlagEndOfStream) != 0 {
		t.eos = true
		return nil
	}

	if (info.Flags&composer.FlagCodecConfig) != 0 || len(payload) == 0 {
		return nil
	}

	ts := usToTimestamp(info.PresentationTimeUs, 90000)
	if ts < t.lastTS {
		return fmt.Errorf("timestamp of %s track went backwards (%d < %d)",
			t.format.MimeType, ts, t.lastTS)
	}
	t.lastTS = ts

	switch t.format.MimeType {
	case composer.MimeTypeH264:
		var avcc h264.AVCC
		err := avcc.Unmarshal(payload)
		if err != nil {
			return err
		}
		au := [][]byte(avcc)

		// parameters are repeated before every random access point
		if h264.IsRandomAccess(au) {
			au = append([][]byte{t.format.CSD[0], t.format.CSD[1]}, au...)
		}

		// B-frames are not produced, therefore DTS is equal to PTS
		return m.mw.WriteH264(t.track, ts, ts, au)

	case composer.MimeTypeAAC:
		return m.mw.WriteMPEG4Audio(t.track, ts, [][]byte{payload})

	default: // composer.MimeTypeOpus
		return m.mw.WriteOpus(t.track, ts, [][]byte{payload})
	}
}

// Stop implements composer.Muxer.
func (m *MPEGTS) Stop() error {
	if !m.started {
		return fmt.Errorf("muxer is not running")
	}
	if m.stopped {
		return nil
	}
	m.stopped = true

	return m.out.close()
}

// Release implements composer.Muxer.
func (m *MPEGTS) Release() {
	if m.out != nil {
		m.out.remove()
	}
}
