package composer

import (
	"errors"
	"image"
	"sort"
	"sync"
)

type fakeSource struct {
	formats  []*Format
	samples  []*Sample
	selected map[int]bool
	pos      int
	closed   int
	readErr  error
}

func (s *fakeSource) Formats() []*Format {
	return s.formats
}

func (s *fakeSource) SelectTrack(index int) error {
	if index < 0 || index >= len(s.formats) {
		return errors.New("invalid track")
	}
	s.selected[index] = true
	return nil
}

func (s *fakeSource) SeekTo(timeUs int64) error {
	s.pos = 0
	for i, sample := range s.samples {
		if s.selected[sample.TrackIndex] && (sample.Flags&FlagKeyFrame) != 0 && sample.TimeUs <= timeUs {
			s.pos = i
		}
	}
	return nil
}

func (s *fakeSource) skip() {
	for s.pos < len(s.samples) && !s.selected[s.samples[s.pos].TrackIndex] {
		s.pos++
	}
}

func (s *fakeSource) Sample() (*Sample, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	s.skip()
	if s.pos >= len(s.samples) {
		return nil, nil
	}
	return s.samples[s.pos], nil
}

func (s *fakeSource) Advance() {
	s.skip()
	s.pos++
}

func (s *fakeSource) Close() error {
	s.closed++
	return nil
}

type fakeFile struct {
	formats  []*Format
	samples  []*Sample
	info     *MediaInfo
	probeErr error
}

type fakeMedia struct {
	files   map[string]*fakeFile
	sources []*fakeSource
}

func (m *fakeMedia) Open(path string) (Source, error) {
	f, ok := m.files[path]
	if !ok {
		return nil, errors.New("file not found")
	}
	s := &fakeSource{
		formats:  f.formats,
		samples:  f.samples,
		selected: make(map[int]bool),
	}
	m.sources = append(m.sources, s)
	return s, nil
}

func (m *fakeMedia) Probe(path string) (*MediaInfo, error) {
	f, ok := m.files[path]
	if !ok {
		return nil, ErrProbeFailure
	}
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	return f.info, nil
}

const testFrameDurationUs = 100000

var testVideoFormat = &Format{
	MimeType: MimeTypeH264,
	Width:    640,
	Height:   480,
}

var testLPCMFormat = &Format{
	MimeType:     MimeTypeLPCM,
	SampleRate:   8000,
	ChannelCount: 1,
	BitDepth:     16,
	LittleEndian: true,
}

var testAACFormat = &Format{
	MimeType:     MimeTypeAAC,
	SampleRate:   44100,
	ChannelCount: 2,
	CSD:          [][]byte{{0x12, 0x10}},
}

// videoFile returns a file with a frame every 100ms and a key frame every second.
func videoFile(durationUs int64, audio *Format) *fakeFile {
	f := &fakeFile{
		formats: []*Format{testVideoFormat},
		info: &MediaInfo{
			DurationUs: durationUs,
			Size:       Size{Width: 640, Height: 480},
			HasAudio:   audio != nil,
		},
	}

	for t := int64(0); t < durationUs; t += testFrameDurationUs {
		var flags BufferFlags
		if (t % 1000000) == 0 {
			flags = FlagKeyFrame
		}
		f.samples = append(f.samples, &Sample{
			TrackIndex: 0,
			Payload:    []byte{1, 2, 3},
			TimeUs:     t,
			Flags:      flags,
		})
	}

	if audio != nil {
		f.formats = append(f.formats, audio)
		// 250ms of 8kHz mono s16le per sample
		for t := int64(0); t < durationUs; t += 250000 {
			f.samples = append(f.samples, &Sample{
				TrackIndex: 1,
				Payload:    make([]byte, 2000*2),
				TimeUs:     t,
				Flags:      FlagKeyFrame,
			})
		}
		sort.SliceStable(f.samples, func(i, j int) bool {
			return f.samples[i].TimeUs < f.samples[j].TimeUs
		})
	}

	return f
}

type fakeBuffer struct {
	payload []byte
	timeUs  int64
	flags   BufferFlags
}

type fakeCodec struct {
	format       *Format
	output       Surface
	maxInput     int
	emitConfig   bool
	stall        bool
	formatTwice  bool
	announced    int
	configSent   bool
	queue        []fakeBuffer
	buffers      map[int]fakeBuffer
	nextIndex    int
	eosSignals   int
	started      int
	stopped      int
	released     int
	queuedInputs int
}

func newFakeCodec(format *Format, output Surface) *fakeCodec {
	return &fakeCodec{
		format:   format,
		output:   output,
		maxInput: 4,
		buffers:  make(map[int]fakeBuffer),
	}
}

func (c *fakeCodec) Start() error {
	c.started++
	return nil
}

func (c *fakeCodec) Stop() error {
	c.stopped++
	return nil
}

func (c *fakeCodec) Release() {
	c.released++
}

func (c *fakeCodec) DequeueInputBuffer() (int, error) {
	if c.stall || len(c.queue) >= c.maxInput {
		return -1, nil
	}
	return 0, nil
}

func (c *fakeCodec) QueueInputBuffer(_ int, payload []byte, timeUs int64, flags BufferFlags) error {
	c.queuedInputs++
	c.queue = append(c.queue, fakeBuffer{
		payload: append([]byte(nil), payload...),
		timeUs:  timeUs,
		flags:   flags,
	})
	return nil
}

func (c *fakeCodec) DequeueOutputBuffer(info *BufferInfo) (int, error) {
	if c.stall {
		return InfoTryAgainLater, nil
	}

	if c.announced == 0 || (c.formatTwice && c.announced == 1 && c.configSent) {
		c.announced++
		return InfoOutputFormatChanged, nil
	}

	var buf fakeBuffer

	switch {
	case c.emitConfig && !c.configSent:
		c.configSent = true
		buf = fakeBuffer{payload: []byte{0x67, 0x68}, flags: FlagCodecConfig}

	case len(c.queue) != 0:
		buf = c.queue[0]
		c.queue = c.queue[1:]

	default:
		return InfoTryAgainLater, nil
	}

	index := c.nextIndex
	c.nextIndex++
	c.buffers[index] = buf

	*info = BufferInfo{
		Size:               len(buf.payload),
		PresentationTimeUs: buf.timeUs,
		Flags:              buf.flags,
	}
	return index, nil
}

func (c *fakeCodec) OutputBuffer(index int) []byte {
	return c.buffers[index].payload
}

func (c *fakeCodec) ReleaseOutputBuffer(index int, render bool) error {
	buf, ok := c.buffers[index]
	if !ok {
		return errors.New("invalid buffer")
	}
	delete(c.buffers, index)

	if render {
		return c.output.QueueImage(image.NewRGBA(image.Rect(0, 0, 2, 2)), buf.timeUs)
	}
	return nil
}

func (c *fakeCodec) OutputFormat() *Format {
	return c.format
}

type fakeInputSurface struct {
	c *fakeCodec
}

func (s *fakeInputSurface) QueueImage(_ image.Image, timeUs int64) error {
	var flags BufferFlags
	if s.c.queuedInputs == 0 {
		flags = FlagKeyFrame
	}
	return s.c.QueueInputBuffer(0, []byte{0x65, 0x01}, timeUs, flags)
}

type fakeEncoder struct {
	*fakeCodec
}

func (e *fakeEncoder) InputSurface() Surface {
	return &fakeInputSurface{c: e.fakeCodec}
}

func (e *fakeEncoder) SignalEndOfInputStream() error {
	e.eosSignals++
	e.queue = append(e.queue, fakeBuffer{flags: FlagEndOfStream})
	return nil
}

type fakeCodecs struct {
	stallDecoder       bool
	encoderFormatTwice bool
	decoders           []*fakeCodec
	encoders           []*fakeEncoder
}

func (f *fakeCodecs) NewDecoder(format *Format, output Surface) (Codec, error) {
	c := newFakeCodec(format, output)
	c.stall = f.stallDecoder
	f.decoders = append(f.decoders, c)
	return c, nil
}

func (f *fakeCodecs) NewEncoder(format *Format) (Encoder, error) {
	out := format.Clone()
	if format.IsVideo() {
		out.CSD = [][]byte{{0x67}, {0x68}}
	}
	e := &fakeEncoder{fakeCodec: newFakeCodec(out, nil)}
	e.maxInput = 1 << 20
	e.emitConfig = format.IsVideo()
	e.formatTwice = f.encoderFormatTwice
	f.encoders = append(f.encoders, e)
	return e, nil
}

type fakeTransform struct {
	output   Surface
	params   TransformParams
	pending  []int64
	drawn    []int64
	ptsNs    int64
	released int
}

func (t *fakeTransform) QueueImage(_ image.Image, timeUs int64) error {
	t.pending = append(t.pending, timeUs)
	return nil
}

func (t *fakeTransform) AwaitNewImage() error {
	if len(t.pending) == 0 {
		return errors.New("no image")
	}
	t.pending = t.pending[1:]
	return nil
}

func (t *fakeTransform) DrawImage(elapsedUs int64) error {
	t.drawn = append(t.drawn, elapsedUs)
	return nil
}

func (t *fakeTransform) SetPresentationTime(ns int64) {
	t.ptsNs = ns
}

func (t *fakeTransform) SwapBuffers() error {
	return t.output.QueueImage(image.NewRGBA(image.Rect(0, 0, 2, 2)), t.ptsNs/1000)
}

func (t *fakeTransform) Release() {
	t.released++
}

type fakeTransforms struct {
	created []*fakeTransform
}

func (f *fakeTransforms) new(params TransformParams, output Surface) (FrameTransform, error) {
	t := &fakeTransform{output: output, params: params}
	f.created = append(f.created, t)
	return t, nil
}

type fakeMuxedSample struct {
	payload []byte
	info    BufferInfo
}

type fakeMuxer struct {
	mutex    sync.Mutex
	formats  []*Format
	samples  map[int][]fakeMuxedSample
	started  bool
	stopped  int
	released int
}

func (m *fakeMuxer) AddTrack(format *Format) (int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.started {
		return 0, errors.New("muxer already started")
	}
	m.formats = append(m.formats, format)
	return len(m.formats) - 1, nil
}

func (m *fakeMuxer) Start() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.started = true
	m.samples = make(map[int][]fakeMuxedSample)
	return nil
}

func (m *fakeMuxer) WriteSampleData(track int, payload []byte, info *BufferInfo) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.started {
		return errors.New("muxer not started")
	}
	m.samples[track] = append(m.samples[track], fakeMuxedSample{
		payload: append([]byte(nil), payload...),
		info:    *info,
	})
	return nil
}

func (m *fakeMuxer) Stop() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.stopped++
	return nil
}

func (m *fakeMuxer) Release() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.released++
}

func (m *fakeMuxer) eosCount(track int) int {
	n := 0
	for _, s := range m.samples[track] {
		if (s.info.Flags & FlagEndOfStream) != 0 {
			n++
		}
	}
	return n
}

// lastTimeUs returns the timestamp of the last non-EOS sample of a track.
func (m *fakeMuxer) lastTimeUs(track int) int64 {
	var last int64
	for _, s := range m.samples[track] {
		if (s.info.Flags & FlagEndOfStream) == 0 {
			last = s.info.PresentationTimeUs
		}
	}
	return last
}

type fakeEnv struct {
	media      *fakeMedia
	codecs     *fakeCodecs
	transforms *fakeTransforms
	muxer      *fakeMuxer
}

func newFakeEnv(files map[string]*fakeFile) *fakeEnv {
	return &fakeEnv{
		media:      &fakeMedia{files: files},
		codecs:     &fakeCodecs{},
		transforms: &fakeTransforms{},
		muxer:      &fakeMuxer{},
	}
}

var errTest = errors.New("test error")
