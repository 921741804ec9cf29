package composer

import (
	"github.com/bluenviron/mediacompose/internal/logger"
)

// audioPassthroughPump copies audio samples from the source to the sink.
type audioPassthroughPump struct {
	source      Source
	trackIndex  int
	format      *Format
	trimStartUs int64
	trimEndUs   int64
	sink        *muxSink
	parent      logger.Writer

	finished  bool
	writtenUs int64
	closed    bool
}

func (p *audioPassthroughPump) Log(level logger.Level, format string, args ...interface{}) {
	p.parent.Log(level, "[audio] "+format, args...)
}

func (p *audioPassthroughPump) initialize() error {
	err := p.source.SelectTrack(p.trackIndex)
	if err != nil {
		return codecError("select track", err)
	}

	err = p.source.SeekTo(p.trimStartUs)
	if err != nil {
		return codecError("seek", err)
	}

	err = p.sink.setOutputFormat(TrackTypeAudio, p.format)
	if err != nil {
		return err
	}

	p.Log(logger.Debug, "copying %s samples", p.format.MimeType)

	return nil
}

func (p *audioPassthroughPump) step() (bool, error) {
	if p.finished {
		return false, nil
	}

	sample, err := p.source.Sample()
	if err != nil {
		return false, codecError("read sample", err)
	}

	if sample == nil || (p.trimEndUs != -1 && sample.TimeUs >= p.trimEndUs) {
		p.finished = true
		return true, p.sink.writeSampleData(TrackTypeAudio, nil, &BufferInfo{
			PresentationTimeUs: p.writtenUs,
			Flags:              FlagEndOfStream,
		})
	}

	if sample.TrackIndex != p.trackIndex || sample.TimeUs < p.trimStartUs {
		p.source.Advance()
		return true, nil
	}

	ptsUs := sample.TimeUs - p.trimStartUs

	err = p.sink.writeSampleData(TrackTypeAudio, sample.Payload, &BufferInfo{
		Size:               len(sample.Payload),
		PresentationTimeUs: ptsUs,
		Flags:              sample.Flags & FlagKeyFrame,
	})
	if err != nil {
		return false, err
	}
	p.writtenUs = ptsUs

	p.source.Advance()
	return true, nil
}

func (p *audioPassthroughPump) isFinished() bool {
	return p.finished
}

func (p *audioPassthroughPump) writtenPresentationTimeUs() int64 {
	return p.writtenUs
}

func (p *audioPassthroughPump) close() {
	if p.closed {
		return
	}
	p.closed = true
	p.source.Close() //nolint:errcheck
}
