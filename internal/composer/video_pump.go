package composer

import (
	"github.com/bluenviron/mediacompose/internal/logger"
)

// videoPump drives the Source -> Decoder -> FrameTransform -> Encoder chain of a single clip.
type videoPump struct {
	index        int
	clip         *Clip
	source       Source
	trackIndex   int
	outputFormat *Format
	codecs       CodecFactory
	newTransform TransformFactory
	params       TransformParams
	timeScale    TimeScale
	baseUs       int64
	isFirst      bool
	sendEOS      bool
	sink         *muxSink
	parent       logger.Writer

	decoder        Codec
	encoder        Encoder
	transform      FrameTransform
	actualFormat   *Format
	scaledStartUs  int64
	scaledEndUs    int64
	extractorEOS   bool
	decoderEOS     bool
	encoderEOS     bool
	eosSignaled    bool
	decoderStarted bool
	encoderStarted bool
	decoderClock   elapsedClock
	encoderClock   elapsedClock
	lastDeltaUs    int64
	writtenUs      int64
	closed         bool
}

func (p *videoPump) Log(level logger.Level, format string, args ...interface{}) {
	p.parent.Log(level, "[clip %d] "+format, append([]interface{}{p.index}, args...)...)
}

func (p *videoPump) initialize() error {
	p.scaledStartUs = p.timeScale.Apply(p.clip.TrimStartUs)
	p.scaledEndUs = -1
	if p.clip.TrimEndUs != -1 {
		p.scaledEndUs = p.timeScale.Apply(p.clip.TrimEndUs)
	}

	err := p.source.SelectTrack(p.trackIndex)
	if err != nil {
		return codecError("select track", err)
	}

	p.encoder, err = p.codecs.NewEncoder(p.outputFormat)
	if err != nil {
		return codecError("create encoder", err)
	}

	err = p.encoder.Start()
	if err != nil {
		return codecError("start encoder", err)
	}
	p.encoderStarted = true

	inputFormat := p.source.Formats()[p.trackIndex]

	err = p.source.SeekTo(p.clip.TrimStartUs)
	if err != nil {
		return codecError("seek", err)
	}

	p.transform, err = p.newTransform(p.params, p.encoder.InputSurface())
	if err != nil {
		return codecError("create transform", err)
	}

	p.decoder, err = p.codecs.NewDecoder(inputFormat, p.transform)
	if err != nil {
		return codecError("create decoder", err)
	}

	err = p.decoder.Start()
	if err != nil {
		return codecError("start decoder", err)
	}
	p.decoderStarted = true

	p.Log(logger.Debug, "started, base %dus, trim [%d, %d)", p.baseUs, p.clip.TrimStartUs, p.clip.TrimEndUs)

	return nil
}

func (p *videoPump) step() (bool, error) {
	busy := false

	for {
		state, err := p.drainEncoder()
		if err != nil {
			return false, err
		}
		if state == drainNone {
			break
		}
		busy = true
	}

	// a second attempt absorbs a format change.
	// Looping on drainConsumed would deadlock when the encoder input is full.
	for i := 0; i < 2; i++ {
		state, err := p.drainDecoder()
		if err != nil {
			return false, err
		}
		if state != drainNone {
			busy = true
		}
		if state != drainRetry {
			break
		}
	}

	for {
		state, err := p.drainSource()
		if err != nil {
			return false, err
		}
		if state == drainNone {
			break
		}
		busy = true
	}

	return busy, nil
}

func (p *videoPump) drainSource() (drainState, error) {
	if p.extractorEOS || p.decoderEOS {
		return drainNone, nil
	}

	sample, err := p.source.Sample()
	if err != nil {
		return drainNone, codecError("read sample", err)
	}

	if sample != nil && sample.TrackIndex != p.trackIndex {
		return drainNone, nil
	}

	index, err := p.decoder.DequeueInputBuffer()
	if err != nil {
		return drainNone, codecError("dequeue decoder input", err)
	}
	if index < 0 {
		return drainNone, nil
	}

	if sample == nil {
		p.extractorEOS = true
		err = p.decoder.QueueInputBuffer(index, nil, 0, FlagEndOfStream)
		if err != nil {
			return drainNone, codecError("queue decoder input", err)
		}
		return drainConsumed, nil
	}

	err = p.decoder.QueueInputBuffer(index, sample.Payload, p.timeScale.Apply(sample.TimeUs), sample.Flags&FlagKeyFrame)
	if err != nil {
		return drainNone, codecError("queue decoder input", err)
	}

	p.source.Advance()
	return drainConsumed, nil
}

func (p *videoPump) drainDecoder() (drainState, error) {
	if p.decoderEOS {
		return drainNone, nil
	}

	var info BufferInfo
	index, err := p.decoder.DequeueOutputBuffer(&info)
	if err != nil {
		return drainNone, codecError("dequeue decoder output", err)
	}

	switch index {
	case InfoTryAgainLater:
		return drainNone, nil

	case InfoOutputFormatChanged, InfoOutputBuffersChanged:
		return drainRetry, nil
	}

	if (info.Flags&FlagEndOfStream) != 0 ||
		(p.scaledEndUs != -1 && info.PresentationTimeUs >= p.scaledEndUs) {
		p.decoderEOS = true
		info.Size = 0

		if !p.eosSignaled {
			p.eosSignaled = true
			err = p.encoder.SignalEndOfInputStream()
			if err != nil {
				return drainNone, codecError("signal end of stream", err)
			}
		}
	}

	render := info.Size > 0 &&
		info.PresentationTimeUs >= p.scaledStartUs &&
		(p.scaledEndUs == -1 || info.PresentationTimeUs < p.scaledEndUs)

	err = p.decoder.ReleaseOutputBuffer(index, render)
	if err != nil {
		return drainNone, codecError("release decoder output", err)
	}

	if render {
		p.decoderClock.advance(info.PresentationTimeUs)

		err = p.transform.AwaitNewImage()
		if err != nil {
			return drainNone, codecError("await image", err)
		}

		err = p.transform.DrawImage(p.baseUs + p.decoderClock.elapsedUs)
		if err != nil {
			return drainNone, codecError("draw image", err)
		}

		p.transform.SetPresentationTime(info.PresentationTimeUs * 1000)

		err = p.transform.SwapBuffers()
		if err != nil {
			return drainNone, codecError("swap buffers", err)
		}
	}

	return drainConsumed, nil
}

func (p *videoPump) drainEncoder() (drainState, error) {
	if p.encoderEOS {
		return drainNone, nil
	}

	var info BufferInfo
	index, err := p.encoder.DequeueOutputBuffer(&info)
	if err != nil {
		return drainNone, codecError("dequeue encoder output", err)
	}

	switch index {
	case InfoTryAgainLater:
		return drainNone, nil

	case InfoOutputFormatChanged:
		if p.actualFormat != nil {
			return drainNone, invariantf("video output format changed twice")
		}
		p.actualFormat = p.encoder.OutputFormat()

		// later clips share the track of the first one.
		if p.isFirst {
			err = p.sink.setOutputFormat(TrackTypeVideo, p.actualFormat)
			if err != nil {
				return drainNone, err
			}
		}
		return drainRetry, nil

	case InfoOutputBuffersChanged:
		return drainRetry, nil
	}

	if p.actualFormat == nil {
		return drainNone, invariantf("video output format is unknown")
	}

	// parameter sets are carried by the output format.
	if (info.Flags & FlagCodecConfig) != 0 {
		err = p.encoder.ReleaseOutputBuffer(index, false)
		if err != nil {
			return drainNone, codecError("release encoder output", err)
		}
		return drainRetry, nil
	}

	var payload []byte
	var out BufferInfo

	if (info.Flags & FlagEndOfStream) != 0 {
		p.encoderEOS = true
		out.Flags = info.Flags
	} else {
		delta := p.encoderClock.advance(info.PresentationTimeUs)
		if delta > 0 {
			p.lastDeltaUs = delta
		}

		buf := p.encoder.OutputBuffer(index)
		payload = buf[info.Offset : info.Offset+info.Size]

		out = BufferInfo{
			Size:               info.Size,
			PresentationTimeUs: p.baseUs + p.encoderClock.elapsedUs,
			Flags:              info.Flags,
		}
	}

	if !p.encoderEOS || p.sendEOS {
		err = p.sink.writeSampleData(TrackTypeVideo, payload, &out)
		if err != nil {
			return drainNone, err
		}
	}

	p.writtenUs = p.encoderClock.elapsedUs

	err = p.encoder.ReleaseOutputBuffer(index, false)
	if err != nil {
		return drainNone, codecError("release encoder output", err)
	}

	if p.encoderEOS {
		p.Log(logger.Debug, "finished, %dus written", p.writtenUs)
	}

	return drainConsumed, nil
}

func (p *videoPump) isFinished() bool {
	return p.encoderEOS
}

// writtenPresentationTimeUs returns the position of the pump in the output timeline.
func (p *videoPump) writtenPresentationTimeUs() int64 {
	return p.baseUs + p.writtenUs
}

// outputDurationUs returns the duration of the clip in the output timeline.
func (p *videoPump) outputDurationUs() int64 {
	if d := p.clip.sourceDurationUs(); d >= 0 {
		return p.timeScale.Apply(d)
	}
	return p.encoderClock.elapsedUs + p.lastDeltaUs
}

func (p *videoPump) close() {
	if p.closed {
		return
	}
	p.closed = true

	if p.decoder != nil {
		if p.decoderStarted {
			p.decoder.Stop() //nolint:errcheck
		}
		p.decoder.Release()
		p.decoder = nil
	}

	if p.encoder != nil {
		if p.encoderStarted {
			p.encoder.Stop() //nolint:errcheck
		}
		p.encoder.Release()
		p.encoder = nil
	}

	if p.transform != nil {
		p.transform.Release()
		p.transform = nil
	}
}
