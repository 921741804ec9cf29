package composer

import (
	"encoding/binary"

	"github.com/bluenviron/mediacompose/internal/logger"
)

// pcmRemixer converts interleaved signed 16-bit little-endian PCM
// between channel layouts and stretches it by a time scale.
type pcmRemixer struct {
	inChannels  int
	outChannels int
	inRate      int
	outRate     int
	timeScale   TimeScale
}

func (r *pcmRemixer) outputFrames(inFrames int) int {
	ts := r.timeScale.normalize()
	return int(multiplyAndDivide(int64(inFrames)*int64(r.outRate), ts.Den, ts.Num*int64(r.inRate)))
}

func (r *pcmRemixer) sample(in []byte, frame int, ch int) int16 {
	return int16(binary.LittleEndian.Uint16(in[(frame*r.inChannels+ch)*2:]))
}

func (r *pcmRemixer) mix(in []byte, frame int, outCh int) int16 {
	switch {
	case r.inChannels == r.outChannels:
		return r.sample(in, frame, outCh)

	case r.outChannels == 1:
		sum := 0
		for ch := 0; ch < r.inChannels; ch++ {
			sum += int(r.sample(in, frame, ch))
		}
		return int16(sum / r.inChannels)

	default:
		return r.sample(in, frame, outCh%r.inChannels)
	}
}

func (r *pcmRemixer) remix(in []byte) []byte {
	inFrames := len(in) / (2 * r.inChannels)
	if inFrames == 0 {
		return nil
	}

	outFrames := r.outputFrames(inFrames)
	out := make([]byte, outFrames*r.outChannels*2)

	for i := 0; i < outFrames; i++ {
		src := i * inFrames / outFrames
		for ch := 0; ch < r.outChannels; ch++ {
			binary.LittleEndian.PutUint16(out[(i*r.outChannels+ch)*2:], uint16(r.mix(in, src, ch)))
		}
	}

	return out
}

// audioRemixPump decodes audio, remixes it and encodes it again.
type audioRemixPump struct {
	source       Source
	trackIndex   int
	inputFormat  *Format
	outputFormat *Format
	codecs       CodecFactory
	timeScale    TimeScale
	trimStartUs  int64
	trimEndUs    int64
	sink         *muxSink
	parent       logger.Writer

	decoder        Codec
	encoder        Encoder
	remixer        *pcmRemixer
	actualFormat   *Format
	scaledStartUs  int64
	scaledEndUs    int64
	pending        []byte
	pendingUs      int64
	pendingEOS     bool
	eosQueued      bool
	extractorEOS   bool
	decoderEOS     bool
	encoderEOS     bool
	decoderStarted bool
	encoderStarted bool
	writtenUs      int64
	closed         bool
}

func (p *audioRemixPump) Log(level logger.Level, format string, args ...interface{}) {
	p.parent.Log(level, "[audio] "+format, args...)
}

func (p *audioRemixPump) initialize() error {
	if p.inputFormat.ChannelCount <= 0 || p.inputFormat.SampleRate <= 0 ||
		p.outputFormat.ChannelCount <= 0 || p.outputFormat.SampleRate <= 0 {
		return configErrorf("audio channel count and sample rate must be known")
	}

	p.scaledStartUs = p.timeScale.Apply(p.trimStartUs)
	p.scaledEndUs = -1
	if p.trimEndUs != -1 {
		p.scaledEndUs = p.timeScale.Apply(p.trimEndUs)
	}

	p.remixer = &pcmRemixer{
		inChannels:  p.inputFormat.ChannelCount,
		outChannels: p.outputFormat.ChannelCount,
		inRate:      p.inputFormat.SampleRate,
		outRate:     p.outputFormat.SampleRate,
		timeScale:   p.timeScale,
	}

	err := p.source.SelectTrack(p.trackIndex)
	if err != nil {
		return codecError("select track", err)
	}

	err = p.source.SeekTo(p.trimStartUs)
	if err != nil {
		return codecError("seek", err)
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

	p.decoder, err = p.codecs.NewDecoder(p.inputFormat, nil)
	if err != nil {
		return codecError("create decoder", err)
	}

	err = p.decoder.Start()
	if err != nil {
		return codecError("start decoder", err)
	}
	p.decoderStarted = true

	p.Log(logger.Debug, "remixing %d channels at %dHz into %d channels at %dHz, time scale %s",
		p.remixer.inChannels, p.remixer.inRate, p.remixer.outChannels, p.remixer.outRate, p.timeScale)

	return nil
}

func (p *audioRemixPump) step() (bool, error) {
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

	state, err := p.feedEncoder()
	if err != nil {
		return false, err
	}
	if state != drainNone {
		busy = true
	}

	for i := 0; i < 2; i++ {
		state, err = p.drainDecoder()
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
		state, err = p.drainSource()
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

func (p *audioRemixPump) drainSource() (drainState, error) {
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

func (p *audioRemixPump) drainDecoder() (drainState, error) {
	if p.decoderEOS || p.pending != nil {
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

	case InfoOutputFormatChanged:
		if f := p.decoder.OutputFormat(); f != nil && f.ChannelCount > 0 && f.SampleRate > 0 {
			p.remixer.inChannels = f.ChannelCount
			p.remixer.inRate = f.SampleRate
		}
		return drainRetry, nil

	case InfoOutputBuffersChanged:
		return drainRetry, nil
	}

	if (info.Flags&FlagEndOfStream) != 0 ||
		(p.scaledEndUs != -1 && info.PresentationTimeUs >= p.scaledEndUs) {
		p.decoderEOS = true
		p.pendingEOS = true
	} else if info.Size > 0 && info.PresentationTimeUs >= p.scaledStartUs {
		buf := p.decoder.OutputBuffer(index)
		p.pending = p.remixer.remix(buf[info.Offset : info.Offset+info.Size])
		p.pendingUs = info.PresentationTimeUs - p.scaledStartUs
	}

	err = p.decoder.ReleaseOutputBuffer(index, false)
	if err != nil {
		return drainNone, codecError("release decoder output", err)
	}

	return drainConsumed, nil
}

func (p *audioRemixPump) feedEncoder() (drainState, error) {
	if p.pending == nil && (!p.pendingEOS || p.eosQueued) {
		return drainNone, nil
	}

	index, err := p.encoder.DequeueInputBuffer()
	if err != nil {
		return drainNone, codecError("dequeue encoder input", err)
	}
	if index < 0 {
		return drainNone, nil
	}

	if p.pending != nil {
		err = p.encoder.QueueInputBuffer(index, p.pending, p.pendingUs, 0)
		p.pending = nil
	} else {
		p.eosQueued = true
		err = p.encoder.QueueInputBuffer(index, nil, 0, FlagEndOfStream)
	}
	if err != nil {
		return drainNone, codecError("queue encoder input", err)
	}

	return drainConsumed, nil
}

func (p *audioRemixPump) drainEncoder() (drainState, error) {
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
			return drainNone, invariantf("audio output format changed twice")
		}
		p.actualFormat = p.encoder.OutputFormat()

		err = p.sink.setOutputFormat(TrackTypeAudio, p.actualFormat)
		if err != nil {
			return drainNone, err
		}
		return drainRetry, nil

	case InfoOutputBuffersChanged:
		return drainRetry, nil
	}

	if p.actualFormat == nil {
		return drainNone, invariantf("audio output format is unknown")
	}

	if (info.Flags & FlagCodecConfig) != 0 {
		err = p.encoder.ReleaseOutputBuffer(index, false)
		if err != nil {
			return drainNone, codecError("release encoder output", err)
		}
		return drainRetry, nil
	}

	var payload []byte
	out := BufferInfo{Flags: info.Flags}

	if (info.Flags & FlagEndOfStream) != 0 {
		p.encoderEOS = true
		out.PresentationTimeUs = p.writtenUs
	} else {
		buf := p.encoder.OutputBuffer(index)
		payload = buf[info.Offset : info.Offset+info.Size]
		out.Size = info.Size
		out.PresentationTimeUs = info.PresentationTimeUs
		p.writtenUs = info.PresentationTimeUs
	}

	err = p.sink.writeSampleData(TrackTypeAudio, payload, &out)
	if err != nil {
		return drainNone, err
	}

	err = p.encoder.ReleaseOutputBuffer(index, false)
	if err != nil {
		return drainNone, codecError("release encoder output", err)
	}

	return drainConsumed, nil
}

func (p *audioRemixPump) isFinished() bool {
	return p.encoderEOS
}

func (p *audioRemixPump) writtenPresentationTimeUs() int64 {
	return p.writtenUs
}

func (p *audioRemixPump) close() {
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

	p.source.Close() //nolint:errcheck
}
