// Package composer contains the composition engine.
package composer

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/bluenviron/mediacompose/internal/logger"
)

const (
	defaultFrameRate      = 30
	defaultIFrameInterval = 1
)

func defaultBitrate(s Size) int {
	return int(0.25 * 30 * float64(s.Width) * float64(s.Height))
}

func trackIndexOf(formats []*Format, video bool) int {
	for i, f := range formats {
		if (video && f.IsVideo()) || (!video && f.IsAudio()) {
			return i
		}
	}
	return -1
}

// Listener receives notifications about a composition.
// Callbacks are invoked from the goroutine that runs the composition.
type Listener struct {
	// progress is in [0, 1], or ProgressUnknown.
	OnProgress  func(progress float64)
	OnCompleted func()
	OnCanceled  func()
	OnFailed    func(err error)
}

// Composer composes clips into a single output.
type Composer struct {
	Clips []*Clip

	// audio is taken from the first clip when empty.
	// In that case the audio trim is relative to the clip trim.
	AudioPath        string
	AudioTrimStartUs int64
	// 0 or -1 to read until the end.
	AudioTrimEndUs int64
	Mute           bool

	// filled by Initialize() when zero.
	OutputSize Size
	Bitrate    int
	FrameRate  int

	Rotation       Rotation
	FillMode       FillMode
	FillModeCustom *FillModeCustomItem
	FlipVertical   bool
	FlipHorizontal bool
	TimeScale      TimeScale

	Media        MediaOpener
	Codecs       CodecFactory
	NewTransform TransformFactory
	Muxer        Muxer
	Listener     Listener
	Parent       logger.Writer

	// filled by Initialize()
	RunID uuid.UUID

	totalDurationUs int64
	videoFormat     *Format
	hasAudio        bool
	audioPath       string
	audioTrack      int
	audioInput      *Format
	audioOutput     *Format
	audioRemix      bool
	audioStartUs    int64
	audioEndUs      int64
	canceled        atomic.Bool
	progress        atomic.Uint64
	ran             atomic.Bool

	mutex     sync.Mutex
	ctxCancel func()
	done      chan struct{}
	err       error
}

// Initialize validates options, probes clips and fills defaults.
func (c *Composer) Initialize() error {
	err := c.validate()
	if err != nil {
		return err
	}

	c.RunID = uuid.New()

	for i, clip := range c.Clips {
		c.probeClip(i, clip)
	}

	err = c.setupVideo()
	if err != nil {
		return err
	}

	err = c.setupAudio()
	if err != nil {
		return err
	}

	c.totalDurationUs = totalDurationUs(c.Clips, c.TimeScale)

	c.Log(logger.Info, "run %s: %d clips, output %s at %d bit/s, %d fps, rotation %d, fill mode %s, time scale %s, audio: %s",
		c.RunID, len(c.Clips), c.OutputSize, c.Bitrate, c.FrameRate, c.Rotation, c.FillMode, c.TimeScale, c.audioDescription())

	return nil
}

// Log implements logger.Writer.
func (c *Composer) Log(level logger.Level, format string, args ...interface{}) {
	c.Parent.Log(level, "[composer] "+format, args...)
}

func (c *Composer) validate() error {
	if len(c.Clips) == 0 {
		return configErrorf("no clips provided")
	}

	for _, clip := range c.Clips {
		if clip.TrimEndUs == 0 {
			clip.TrimEndUs = -1
		}
		err := clip.validate()
		if err != nil {
			return err
		}
	}

	if c.AudioTrimEndUs == 0 {
		c.AudioTrimEndUs = -1
	}
	if c.AudioTrimStartUs < 0 {
		return configErrorf("audio trim start is negative")
	}
	if c.AudioTrimEndUs != -1 && c.AudioTrimEndUs <= c.AudioTrimStartUs {
		return configErrorf("audio trim end must be greater than audio trim start")
	}

	if c.Media == nil || c.Codecs == nil || c.NewTransform == nil || c.Muxer == nil {
		return configErrorf("media opener, codec factory, transform factory and muxer are mandatory")
	}

	err := c.TimeScale.Validate()
	if err != nil {
		return err
	}
	c.TimeScale = c.TimeScale.normalize()

	c.Rotation = RotationFromDegrees(int(c.Rotation))

	if c.FillModeCustom != nil {
		c.FillMode = FillModeCustom
	}
	if c.FillMode == FillModeCustom && c.FillModeCustom == nil {
		return configErrorf("fill mode 'custom' requires its parameters")
	}

	if c.OutputSize.Width < 0 || c.OutputSize.Height < 0 || c.Bitrate < 0 || c.FrameRate < 0 {
		return configErrorf("output size, bitrate and frame rate can't be negative")
	}

	return nil
}

func (c *Composer) probeClip(i int, clip *Clip) {
	info, err := c.Media.Probe(clip.Path)
	if err != nil {
		c.Log(logger.Warn, "clip %d: %v", i, err)
		clip.DurationUs = -1
		return
	}

	clip.DurationUs = info.DurationUs
	clip.Size = info.Size
	clip.Rotation = info.Rotation
}

func (c *Composer) setupVideo() error {
	first := c.Clips[0]

	source, err := c.Media.Open(first.Path)
	if err != nil {
		return codecError("open "+first.Path, err)
	}
	defer source.Close() //nolint:errcheck

	formats := source.Formats()
	index := trackIndexOf(formats, true)
	if index < 0 {
		return configErrorf("no video track in '%s'", first.Path)
	}

	if first.Size.IsZero() {
		first.Size = Size{Width: formats[index].Width, Height: formats[index].Height}
		if first.Size.IsZero() {
			return configErrorf("unable to get resolution of '%s'", first.Path)
		}
	}

	if c.OutputSize.IsZero() {
		if c.FillMode != FillModeCustom && c.Rotation.Add(first.Rotation).SwapsAxes() {
			c.OutputSize = Size{Width: first.Size.Height, Height: first.Size.Width}
		} else {
			c.OutputSize = first.Size
		}
	}

	if c.Bitrate == 0 {
		c.Bitrate = defaultBitrate(c.OutputSize)
	}
	if c.FrameRate == 0 {
		c.FrameRate = defaultFrameRate
	}

	c.videoFormat = &Format{
		MimeType:       MimeTypeH264,
		Width:          c.OutputSize.Width,
		Height:         c.OutputSize.Height,
		FrameRate:      c.FrameRate,
		IFrameInterval: defaultIFrameInterval,
		Bitrate:        c.Bitrate,
		DurationUs:     -1,
	}

	return nil
}

func (c *Composer) setupAudio() error {
	if c.Mute {
		return nil
	}

	path := c.AudioPath
	if path == "" {
		path = c.Clips[0].Path
	}

	source, err := c.Media.Open(path)
	if err != nil {
		return codecError("open "+path, err)
	}
	defer source.Close() //nolint:errcheck

	formats := source.Formats()
	index := trackIndexOf(formats, false)
	if index < 0 {
		if c.AudioPath != "" {
			return configErrorf("no audio track in '%s'", c.AudioPath)
		}
		return nil
	}

	in := formats[index]
	out, err := audioOutputFormat(in)
	if err != nil {
		return err
	}

	remix := audioNeedsRemix(in, out, c.TimeScale)
	if remix && !audioCanRemix(in) {
		return configErrorf("%s audio can't be converted or time-scaled, mute it", in.MimeType)
	}

	c.hasAudio = true
	c.audioPath = path
	c.audioTrack = index
	c.audioInput = in.Clone()
	c.audioOutput = out
	c.audioRemix = remix
	c.audioStartUs, c.audioEndUs = c.audioWindow()

	return nil
}

// audioWindow returns the source interval of the audio track.
func (c *Composer) audioWindow() (int64, int64) {
	if c.AudioPath != "" {
		return c.AudioTrimStartUs, c.AudioTrimEndUs
	}

	clip := c.Clips[0]
	startUs := clip.TrimStartUs + c.AudioTrimStartUs
	endUs := clip.TrimEndUs

	if c.AudioTrimEndUs != -1 {
		e := clip.TrimStartUs + c.AudioTrimEndUs
		if endUs == -1 || e < endUs {
			endUs = e
		}
	}

	return startUs, endUs
}

func (c *Composer) audioDescription() string {
	switch {
	case !c.hasAudio:
		return "none"
	case c.audioRemix:
		return c.audioInput.MimeType + ", remixed"
	}
	return c.audioInput.MimeType + ", copied"
}

// totalDurationUs returns the duration of the output, or -1 when a clip duration is unknown.
func totalDurationUs(clips []*Clip, ts TimeScale) int64 {
	var endUs int64

	for _, clip := range clips {
		d := clip.sourceDurationUs()
		if d < 0 {
			return -1
		}

		startUs := endUs
		if clip.OutputStartUs > startUs {
			startUs = clip.OutputStartUs
		}
		endUs = startUs + ts.Apply(d)
	}

	return endUs
}

// TotalDurationUs returns the expected duration of the output, or -1.
func (c *Composer) TotalDurationUs() int64 {
	return c.totalDurationUs
}

// HasAudio returns whether the output has an audio track.
func (c *Composer) HasAudio() bool {
	return c.hasAudio
}

// Progress returns the last emitted progress.
func (c *Composer) Progress() float64 {
	return math.Float64frombits(c.progress.Load())
}

func (c *Composer) setProgress(p float64) {
	c.progress.Store(math.Float64bits(p))
	if c.Listener.OnProgress != nil {
		c.Listener.OnProgress(p)
	}
}

func (c *Composer) newVideoPump(sink *muxSink) newVideoPumpFunc {
	return func(index int, clip *Clip, baseUs int64, isFirst bool, sendEOS bool) (*videoPump, error) {
		source, err := c.Media.Open(clip.Path)
		if err != nil {
			return nil, codecError("open "+clip.Path, err)
		}

		formats := source.Formats()
		trackIndex := trackIndexOf(formats, true)
		if trackIndex < 0 {
			source.Close() //nolint:errcheck
			return nil, configErrorf("no video track in '%s'", clip.Path)
		}

		inputSize := clip.Size
		if inputSize.IsZero() {
			inputSize = Size{Width: formats[trackIndex].Width, Height: formats[trackIndex].Height}
		}

		p := &videoPump{
			index:        index,
			clip:         clip,
			source:       source,
			trackIndex:   trackIndex,
			outputFormat: c.videoFormat,
			codecs:       c.Codecs,
			newTransform: c.NewTransform,
			params: TransformParams{
				InputSize:      inputSize,
				OutputSize:     c.OutputSize,
				Rotation:       c.Rotation.Add(clip.Rotation),
				FillMode:       c.FillMode,
				FillModeCustom: c.FillModeCustom,
				FlipVertical:   c.FlipVertical,
				FlipHorizontal: c.FlipHorizontal,
			},
			timeScale: c.TimeScale,
			baseUs:    baseUs,
			isFirst:   isFirst,
			sendEOS:   sendEOS,
			sink:      sink,
			parent:    c,
		}

		err = p.initialize()
		if err != nil {
			p.close()
			source.Close() //nolint:errcheck
			return nil, err
		}

		return p, nil
	}
}

func (c *Composer) newAudioPump(sink *muxSink) (pump, error) {
	source, err := c.Media.Open(c.audioPath)
	if err != nil {
		return nil, codecError("open "+c.audioPath, err)
	}

	if !c.audioRemix {
		p := &audioPassthroughPump{
			source:      source,
			trackIndex:  c.audioTrack,
			format:      c.audioOutput,
			trimStartUs: c.audioStartUs,
			trimEndUs:   c.audioEndUs,
			sink:        sink,
			parent:      c,
		}
		err = p.initialize()
		if err != nil {
			p.close()
			return nil, err
		}
		return p, nil
	}

	p := &audioRemixPump{
		source:       source,
		trackIndex:   c.audioTrack,
		inputFormat:  c.audioInput,
		outputFormat: c.audioOutput,
		codecs:       c.Codecs,
		timeScale:    c.TimeScale,
		trimStartUs:  c.audioStartUs,
		trimEndUs:    c.audioEndUs,
		sink:         sink,
		parent:       c,
	}
	err = p.initialize()
	if err != nil {
		p.close()
		return nil, err
	}
	return p, nil
}

// Run runs the composition and blocks until it's finished.
// Every component is released before returning.
func (c *Composer) Run(ctx context.Context) error {
	if c.ran.Swap(true) {
		return invariantf("composition already run")
	}

	sink := &muxSink{
		muxer:    c.Muxer,
		hasAudio: c.hasAudio,
		parent:   c,
	}

	d := &driver{
		video: &sequentialComposer{
			clips:   c.Clips,
			newPump: c.newVideoPump(sink),
			parent:  c,
		},
		sink:            sink,
		totalDurationUs: c.totalDurationUs,
		canceled:        &c.canceled,
		onProgress:      c.setProgress,
		parent:          c,
	}

	var err error

	if c.hasAudio {
		d.audio, err = c.newAudioPump(sink)
	}

	if err == nil {
		err = d.run(ctx)
	}

	d.close()

	switch {
	case err == nil:
		c.Log(logger.Info, "completed")
		if c.Listener.OnCompleted != nil {
			c.Listener.OnCompleted()
		}

	case errors.Is(err, ErrCanceled):
		c.Log(logger.Info, "canceled")
		if c.Listener.OnCanceled != nil {
			c.Listener.OnCanceled()
		}

	default:
		c.Log(logger.Error, "%v", err)
		if c.Listener.OnFailed != nil {
			c.Listener.OnFailed(err)
		}
	}

	return err
}

// Start runs the composition in a dedicated goroutine.
func (c *Composer) Start() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.done != nil {
		return
	}

	ctx, ctxCancel := context.WithCancel(context.Background())
	c.ctxCancel = ctxCancel
	c.done = make(chan struct{})

	go c.runInner(ctx, c.done)
}

func (c *Composer) runInner(ctx context.Context, done chan struct{}) {
	defer close(done)
	c.err = c.Run(ctx)
}

// Cancel stops the composition. It can be called from any goroutine,
// before or after Start().
func (c *Composer) Cancel() {
	c.canceled.Store(true)

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.ctxCancel != nil {
		c.ctxCancel()
	}
}

// Wait waits for a composition started with Start() and returns its error.
func (c *Composer) Wait() error {
	c.mutex.Lock()
	done := c.done
	ctxCancel := c.ctxCancel
	c.mutex.Unlock()

	if done == nil {
		return invariantf("composition not started")
	}

	<-done
	ctxCancel()
	return c.err
}
