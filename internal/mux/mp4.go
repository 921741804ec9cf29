package mux

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/pmp4"

	"github.com/bluenviron/mediacompose/internal/composer"
	"github.com/bluenviron/mediacompose/internal/logger"
)

type mp4Track struct {
	*track
	pmp4.Track
}

// MP4 writes a progressive MP4 file, with the moov box at the beginning.
// Payloads are spooled into a temporary file until the muxer is stopped.
// It implements composer.Muxer.
type MP4 struct {
	Path            string
	WriteBufferSize int
	Parent          logger.Writer

	tracks  []*mp4Track
	spool   *os.File
	spooled int64
	started bool
	stopped bool
	out     *output
}

// Log implements logger.Writer.
func (m *MP4) Log(level logger.Level, format string, args ...interface{}) {
	m.Parent.Log(level, "[mp4 muxer] "+format, args...)
}

// AddTrack implements composer.Muxer.
func (m *MP4) AddTrack(format *composer.Format) (int, error) {
	if m.started {
		return 0, fmt.Errorf("muxer already started")
	}

	t, err := newTrack(len(m.tracks)+1, format)
	if err != nil {
		return 0, err
	}

	m.tracks = append(m.tracks, &mp4Track{
		track: t,
		Track: pmp4.Track{
			ID:        t.id,
			TimeScale: t.timeScale,
			Codec:     t.codec,
		},
	})

	return len(m.tracks) - 1, nil
}

// Start implements composer.Muxer.
func (m *MP4) Start() error {
	if len(m.tracks) == 0 {
		return fmt.Errorf("no tracks")
	}

	err := os.MkdirAll(filepath.Dir(m.Path), 0o755)
	if err != nil {
		return err
	}

	m.spool, err = os.CreateTemp(filepath.Dir(m.Path), ".mediacompose-spool-*")
	if err != nil {
		return err
	}

	m.started = true
	return nil
}

// WriteSampleData implements composer.Muxer.
func (m *MP4) WriteSampleData(trackID int, payload []byte, info *composer.BufferInfo) error {
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
		err = m.writeSample(t, prev, duration)
		if err != nil {
			return err
		}
	}

	return nil
}

func (m *MP4) writeSample(t *mp4Track, sa *pendingSample, duration uint32) error {
	if len(t.Samples) == 0 {
		t.TimeOffset = int32(sa.dts)
	}

	offset := m.spooled
	size := uint32(len(sa.payload))

	_, err := m.spool.Write(sa.payload)
	if err != nil {
		return err
	}
	m.spooled += int64(size)

	spool := m.spool

	t.Samples = append(t.Samples, &pmp4.Sample{
		Duration:        duration,
		IsNonSyncSample: !sa.sync,
		PayloadSize:     size,
		GetPayload: func() ([]byte, error) {
			payload := make([]byte, size)
			n, err := spool.ReadAt(payload, offset)
			if err != nil {
				return nil, err
			}
			if n != int(size) {
				return nil, fmt.Errorf("partial read")
			}
			return payload, nil
		},
	})

	return nil
}

// Stop implements composer.Muxer.
func (m *MP4) Stop() error {
	if !m.started {
		return fmt.Errorf("muxer is not running")
	}
	if m.stopped {
		return nil
	}
	m.stopped = true

	p := pmp4.Presentation{
		Tracks: make([]*pmp4.Track, len(m.tracks)),
	}

	for i, t := range m.tracks {
		// tracks without end of stream keep their last sample
		if t.pending != nil {
			prev, duration, err := t.complete(t.pending.dts, true)
			if err != nil {
				return err
			}
			err = m.writeSample(t, prev, duration)
			if err != nil {
				return err
			}
		}

		if len(t.Samples) == 0 {
			return fmt.Errorf("%s track has no samples", t.format.MimeType)
		}

		p.Tracks[i] = &t.Track
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

	err = p.Marshal(m.out)
	if err != nil {
		m.out.remove()
		return err
	}

	return m.out.close()
}

// Release implements composer.Muxer.
func (m *MP4) Release() {
	if m.out != nil {
		m.out.remove()
	}

	if m.spool != nil {
		m.spool.Close()
		os.Remove(m.spool.Name())
		m.spool = nil
	}
}
