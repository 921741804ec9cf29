package composer

import (
	"github.com/bluenviron/mediacompose/internal/logger"
)

type sinkSample struct {
	payload []byte
	info    BufferInfo
}

type sinkTrack struct {
	format *Format
	id     int
	queue  []sinkSample
	eos    bool
}

// muxSink holds samples until every expected track has a format,
// then forwards them to the muxer.
type muxSink struct {
	muxer    Muxer
	hasAudio bool
	parent   logger.Writer

	tracks   [2]sinkTrack
	started  bool
	finished bool
	released bool
}

func (s *muxSink) Log(level logger.Level, format string, args ...interface{}) {
	s.parent.Log(level, "[sink] "+format, args...)
}

func (s *muxSink) expected(t TrackType) bool {
	return t == TrackTypeVideo || s.hasAudio
}

func (s *muxSink) setOutputFormat(t TrackType, format *Format) error {
	if !s.expected(t) {
		return invariantf("format of unexpected %s track", t)
	}

	tr := &s.tracks[t]
	if tr.format != nil {
		return invariantf("format of %s track set twice", t)
	}
	tr.format = format.Clone()

	s.Log(logger.Debug, "%s format: %s", t, format.MimeType)

	return s.maybeStart()
}

func (s *muxSink) maybeStart() error {
	if s.started {
		return nil
	}

	for t := TrackTypeVideo; t <= TrackTypeAudio; t++ {
		if s.expected(t) && s.tracks[t].format == nil {
			return nil
		}
	}

	for t := TrackTypeVideo; t <= TrackTypeAudio; t++ {
		if !s.expected(t) {
			continue
		}

		id, err := s.muxer.AddTrack(s.tracks[t].format)
		if err != nil {
			return codecError("add track", err)
		}
		s.tracks[t].id = id
	}

	err := s.muxer.Start()
	if err != nil {
		return codecError("start muxer", err)
	}
	s.started = true

	n := 0
	for t := TrackTypeVideo; t <= TrackTypeAudio; t++ {
		tr := &s.tracks[t]
		for _, sample := range tr.queue {
			info := sample.info
			err = s.muxer.WriteSampleData(tr.id, sample.payload, &info)
			if err != nil {
				return codecError("write sample", err)
			}
			n++
		}
		tr.queue = nil
	}

	s.Log(logger.Debug, "muxer started, %d queued samples flushed", n)

	return nil
}

func (s *muxSink) writeSampleData(t TrackType, payload []byte, info *BufferInfo) error {
	if !s.expected(t) {
		return invariantf("sample of unexpected %s track", t)
	}

	tr := &s.tracks[t]
	if tr.eos {
		return invariantf("sample of %s track after end of stream", t)
	}
	if (info.Flags & FlagEndOfStream) != 0 {
		tr.eos = true
	}

	if !s.started {
		tr.queue = append(tr.queue, sinkSample{
			payload: append([]byte(nil), payload...),
			info:    *info,
		})
		return nil
	}

	err := s.muxer.WriteSampleData(tr.id, payload, info)
	if err != nil {
		return codecError("write sample", err)
	}
	return nil
}

// finish stops the muxer. It fails if the muxer was never started.
func (s *muxSink) finish() error {
	if !s.started {
		for t := TrackTypeVideo; t <= TrackTypeAudio; t++ {
			if s.expected(t) && s.tracks[t].format == nil {
				return invariantf("muxer not started, format of %s track is missing", t)
			}
		}
		return invariantf("muxer not started")
	}

	if s.finished {
		return nil
	}
	s.finished = true

	err := s.muxer.Stop()
	if err != nil {
		return codecError("stop muxer", err)
	}
	return nil
}

func (s *muxSink) close() {
	if s.released {
		return
	}
	s.released = true
	s.muxer.Release()
}
