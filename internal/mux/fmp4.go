package mux

import (
	"fmt"
	"time"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"

	"github.com/bluenviron/mediacompose/internal/composer"
	"github.com/bluenviron/mediacompose/internal/logger"
)

const (
	defaultPartDuration = 1 * time.Second
)

type fmp4Track struct {
	*track
	part *fmp4.PartTrack
}

// FMP4 writes a fragmented MP4 file.
// A fragment is written every time a video key frame is received after PartDuration.
// It implements composer.Muxer.
type FMP4 struct {
	Path            string
	WriteBufferSize int
	PartDuration    time.Duration
	Parent          logger.Writer

	tracks         []*fmp4Track
	out            *output
	started        bool
	stopped        bool
	nextSequenceID uint32
	partStartUs    int64
	partEmpty      bool
}

// Log implements logger.Writer.
func (m *FMP4) Log(level logger.Level, format string, args ...interface{}) {
	m.Parent.Log(level, "[fmp4 muxer] "+format, args...)
}

// AddTrack implements composer.Muxer.
func (m *FMP4) AddTrack(format *composer.Format) (int, error) {
	if m.started {
		return 0, fmt.Errorf("muxer already started")
	}

	t, err := newTrack(len(m.tracks)+1, format)
	if err != nil {
		return 0, err
	}

	m.tracks = append(m.tracks, &fmp4Track{track: t})
	return len(m.tracks) - 1, nil
}

// Start implements composer.Muxer.
func (m *FMP4) Start() error {
	if len(m.tracks) == 0 {
		return fmt.Errorf("no tracks")
	}

	if m.PartDuration <= 0 {
		m.PartDuration = defaultPartDuration
	}

	init := fmp4.Init{
		Tracks: make([]*fmp4.InitTrack, len(m.tracks)),
	}

	for i, t := range m.tracks {
		init.Tracks[i] = &fmp4.InitTrack{
			ID:        t.id,
			TimeScale: t.timeScale,
			Codec:     t.codec,
		}
	}

	var buf seekablebuffer.Buffer
	err := init.Marshal(&buf)
	if err != nil {
		return err
	}

	m.out = &output{
		path:       m.Path,
		bufferSize: m.WriteBufferSize,
		parent:     m,
	}
	err = m.out.initialize()
	if err != nil {
		return err
	}

	_, err = m.out.Write(buf.Bytes())
	if err != nil {
		m.out.remove()
		return err
	}

	m.nextSequenceID = 1
	m.partEmpty = true
	m.started = true
	return nil
}

// WriteSampleData implements composer.Muxer.
func (m *FMP4) WriteSampleData(trackID int, payload []byte, info *composer.BufferInfo) error {
	if !m.started || m.stopped {
		return fmt.Errorf("muxer is not running")
	}

	if trackID < 0 || trackID >= len(m.tracks) {
		return fmt.Errorf("invalid track: %d", trackID)
	}
	t := m.tracks[trackID]

	prev, duration, err := t.push(payload, info)
	if err != nil {
		return err
	}

	if prev != nil {
		m.appendSample(t, prev, duration)
	}

	// the key frame is pending and opens the next fragment
	if t.format.IsVideo() &&
		(info.Flags&composer.FlagKeyFrame) != 0 &&
		!m.partEmpty &&
		(info.PresentationTimeUs-m.partStartUs) >= m.PartDuration.Microseconds() {
		err = m.flushPart(false)
		if err != nil {
			return err
		}
	}

	return nil
}

func (m *FMP4) appendSample(t *fmp4Track, sa *pendingSample, duration uint32) {
	if t.part == nil {
		t.part = &fmp4.PartTrack{
			ID:       t.id,
			BaseTime: uint64(sa.dts),
		}
	}

	if m.partEmpty {
		m.partEmpty = false
		m.partStartUs = multiplyAndDivide(sa.dts, 1000000, int64(t.timeScale))
	}

	t.part.Samples = append(t.part.Samples, &fmp4.Sample{
		Duration:        duration,
		IsNonSyncSample: !sa.sync,
		Payload:         sa.payload,
	})
}

// flushPart writes the samples collected so far.
// When final is true, pending samples are completed with the duration of the previous one.
func (m *FMP4) flushPart(final bool) error {
	if final {
		for _, t := range m.tracks {
			if t.pending != nil {
				prev, duration, err := t.complete(t.pending.dts, true)
				if err != nil {
					return err
				}
				m.appendSample(t, prev, duration)
			}
		}
	}

	part := fmp4.Part{
		SequenceNumber: m.nextSequenceID,
	}

	for _, t := range m.tracks {
		if t.part != nil {
			part.Tracks = append(part.Tracks, t.part)
			t.part = nil
		}
	}

	m.partEmpty = true

	if len(part.Tracks) == 0 {
		return nil
	}

	var buf seekablebuffer.Buffer
	err := part.Marshal(&buf)
	if err != nil {
		return err
	}

	_, err = m.out.Write(buf.Bytes())
	if err != nil {
		return err
	}

	m.nextSequenceID++
	return nil
}

// Stop implements composer.Muxer.
func (m *FMP4) Stop() error {
	if !m.started {
		return fmt.Errorf("muxer is not running")
	}
	if m.stopped {
		return nil
	}
	m.stopped = true

	err := m.flushPart(true)
	if err != nil {
		m.out.remove()
		return err
	}

	return m.out.close()
}

// Release implements composer.Muxer.
func (m *FMP4) Release() {
	if m.out != nil {
		m.out.remove()
	}
}
