package mp4

import (
	"fmt"
	"os"

	"github.com/bluenviron/mediacompose/internal/composer"
)

func timestampToUs(v int64, timeScale uint32) int64 {
	timeScale64 := int64(timeScale)
	secs := v / timeScale64
	dec := v % timeScale64
	return secs*1000000 + dec*1000000/timeScale64
}

func usToTimestamp(v int64, timeScale uint32) int64 {
	timeScale64 := int64(timeScale)
	secs := v / 1000000
	dec := v % 1000000
	return secs*timeScale64 + dec*timeScale64/1000000
}

type sourceTrack struct {
	*indexedTrack
	format   *composer.Format
	selected bool
	pos      int
}

func (t *sourceTrack) current() *indexedSample {
	if t.pos >= len(t.samples) {
		return nil
	}
	return t.samples[t.pos]
}

// Source reads samples from a fragmented MP4 file.
// It implements composer.Source.
type Source struct {
	Path string

	f      *os.File
	tracks []*sourceTrack
	cur    *sourceTrack
	cached *composer.Sample
	closed bool
}

// Initialize opens the file and indexes its samples.
func (s *Source) Initialize() error {
	var err error
	s.f, err = os.Open(s.Path)
	if err != nil {
		return err
	}

	s.tracks, err = readTracks(s.f)
	if err != nil {
		s.f.Close()
		return err
	}

	return nil
}

// readTracks reads the supported tracks of a file and their samples.
func readTracks(f *os.File) ([]*sourceTrack, error) {
	init, err := readInit(f)
	if err != nil {
		return nil, err
	}

	var tracks []*sourceTrack
	indexed := make([]*indexedTrack, len(init.Tracks))

	for i, initTrack := range init.Tracks {
		indexed[i] = &indexedTrack{
			id:        initTrack.ID,
			timeScale: initTrack.TimeScale,
		}

		format, err := codecToFormat(initTrack.Codec)
		if err != nil {
			return nil, fmt.Errorf("track %d: %w", initTrack.ID, err)
		}

		if format != nil {
			tracks = append(tracks, &sourceTrack{
				indexedTrack: indexed[i],
				format:       format,
			})
		}
	}

	err = buildIndex(f, indexed)
	if err != nil {
		return nil, err
	}

	found := false
	for _, track := range indexed {
		if len(track.samples) != 0 {
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("no fragments found")
	}

	for _, track := range tracks {
		track.format.DurationUs = timestampToUs(track.endDTS(), track.timeScale)
	}

	return tracks, nil
}

// Close implements composer.Source.
func (s *Source) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.f.Close()
}

// Formats implements composer.Source.
func (s *Source) Formats() []*composer.Format {
	out := make([]*composer.Format, len(s.tracks))
	for i, track := range s.tracks {
		out[i] = track.format
	}
	return out
}

// SelectTrack implements composer.Source.
func (s *Source) SelectTrack(index int) error {
	if index < 0 || index >= len(s.tracks) {
		return fmt.Errorf("invalid track index: %d", index)
	}
	s.tracks[index].selected = true
	s.invalidate()
	return nil
}

// SeekTo implements composer.Source.
// The selected video track, if any, is moved to the sync sample that precedes or equals timeUs,
// other selected tracks are moved to the sample that contains the position of that sync sample.
func (s *Source) SeekTo(timeUs int64) error {
	targetUs := timeUs

	for _, track := range s.tracks {
		if track.selected && track.format.IsVideo() {
			track.pos = seekSync(track, timeUs)
			if sa := track.current(); sa != nil {
				targetUs = timestampToUs(sa.dts+int64(sa.ptsOffset), track.timeScale)
			}
		}
	}

	for _, track := range s.tracks {
		if track.selected && !track.format.IsVideo() {
			track.pos = seekSync(track, targetUs)
		}
	}

	s.invalidate()
	return nil
}

// seekSync returns the position of the last sync sample whose PTS is not after timeUs.
func seekSync(track *sourceTrack, timeUs int64) int {
	target := usToTimestamp(timeUs, track.timeScale)
	pos := 0

	for i, sa := range track.samples {
		if (sa.dts + int64(sa.ptsOffset)) > target {
			break
		}
		if sa.sync {
			pos = i
		}
	}

	return pos
}

func (s *Source) invalidate() {
	s.cur = nil
	s.cached = nil
}

// next returns the selected track whose current sample has the lowest DTS.
func (s *Source) next() *sourceTrack {
	var best *sourceTrack
	var bestUs int64

	for _, track := range s.tracks {
		if !track.selected {
			continue
		}

		sa := track.current()
		if sa == nil {
			continue
		}

		us := timestampToUs(sa.dts, track.timeScale)
		if best == nil || us < bestUs {
			best = track
			bestUs = us
		}
	}

	return best
}

// Sample implements composer.Source.
func (s *Source) Sample() (*composer.Sample, error) {
	if s.cached != nil {
		return s.cached, nil
	}

	s.cur = s.next()
	if s.cur == nil {
		return nil, nil
	}

	sa := s.cur.current()

	payload := make([]byte, sa.size)
	n, err := s.f.ReadAt(payload, int64(sa.offset))
	if err != nil {
		return nil, err
	}
	if n != int(sa.size) {
		return nil, fmt.Errorf("partial read")
	}

	var flags composer.BufferFlags
	if sa.sync {
		flags |= composer.FlagKeyFrame
	}

	index := 0
	for i, track := range s.tracks {
		if track == s.cur {
			index = i
		}
	}

	s.cached = &composer.Sample{
		TrackIndex: index,
		Payload:    payload,
		TimeUs:     timestampToUs(sa.dts+int64(sa.ptsOffset), s.cur.timeScale),
		Flags:      flags,
	}

	return s.cached, nil
}

// Advance implements composer.Source.
func (s *Source) Advance() {
	if s.cur == nil {
		s.cur = s.next()
		if s.cur == nil {
			return
		}
	}

	s.cur.pos++
	s.invalidate()
}
