package composer

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/bluenviron/mediacompose/internal/test"
)

type stubPump struct {
	finishAt  int
	busy      bool
	usPerStep int64
	err       error

	steps  int
	closed int
}

func (p *stubPump) step() (bool, error) {
	if p.err != nil {
		return false, p.err
	}
	p.steps++
	return p.busy, nil
}

func (p *stubPump) isFinished() bool {
	return p.finishAt > 0 && p.steps >= p.finishAt
}

func (p *stubPump) writtenPresentationTimeUs() int64 {
	return int64(p.steps) * p.usPerStep
}

func (p *stubPump) close() {
	p.closed++
}

func newTestDriver(t *testing.T, video pump, audio pump, progress *[]float64) *driver {
	m := &fakeMuxer{}
	sink := &muxSink{muxer: m, hasAudio: audio != nil, parent: test.NilLogger}

	require.NoError(t, sink.setOutputFormat(TrackTypeVideo, testVideoFormat))
	if audio != nil {
		require.NoError(t, sink.setOutputFormat(TrackTypeAudio, testAACFormat))
	}

	return &driver{
		video:           video,
		audio:           audio,
		sink:            sink,
		totalDurationUs: 100000,
		canceled:        &atomic.Bool{},
		onProgress:      func(p float64) { *progress = append(*progress, p) },
		parent:          test.NilLogger,
	}
}

func TestDriverProgressInterval(t *testing.T) {
	var progress []float64
	video := &stubPump{finishAt: 100, busy: true, usPerStep: 1000}
	d := newTestDriver(t, video, nil, &progress)

	err := d.run(context.Background())
	require.NoError(t, err)

	require.Equal(t, []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1, 1}, progress)
	require.Equal(t, 1, d.sink.muxer.(*fakeMuxer).stopped)
}

func TestDriverProgressAverage(t *testing.T) {
	var progress []float64
	video := &stubPump{finishAt: 10, busy: true, usPerStep: 10000}
	audio := &stubPump{finishAt: 40, busy: true, usPerStep: 2500}
	d := newTestDriver(t, video, audio, &progress)

	err := d.run(context.Background())
	require.NoError(t, err)

	// audio is stepped only when video doesn't progress.
	require.Equal(t, []float64{0.5, 0.625, 0.75, 0.875, 1, 1}, progress)
}

func TestDriverProgressClamp(t *testing.T) {
	var progress []float64
	video := &stubPump{finishAt: 30, busy: true, usPerStep: 10000}
	d := newTestDriver(t, video, nil, &progress)

	err := d.run(context.Background())
	require.NoError(t, err)

	for _, p := range progress {
		require.LessOrEqual(t, p, 1.0)
	}
}

func TestDriverProgressUnknown(t *testing.T) {
	var progress []float64
	video := &stubPump{finishAt: 50, busy: true, usPerStep: 1000}
	d := newTestDriver(t, video, nil, &progress)
	d.totalDurationUs = -1

	err := d.run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []float64{ProgressUnknown}, progress)
}

func TestDriverCancel(t *testing.T) {
	var progress []float64
	video := &stubPump{}
	d := newTestDriver(t, video, nil, &progress)

	go func() {
		time.Sleep(30 * time.Millisecond)
		d.canceled.Store(true)
	}()

	start := time.Now()
	err := d.run(context.Background())
	require.ErrorIs(t, err, ErrCanceled)
	require.Less(t, time.Since(start), 30*time.Millisecond+5*driverBackoff)

	d.close()
	d.close()
	require.Equal(t, 1, video.closed)
	require.Equal(t, 1, d.sink.muxer.(*fakeMuxer).released)
}

func TestDriverContextCanceled(t *testing.T) {
	var progress []float64
	video := &stubPump{busy: true}
	d := newTestDriver(t, video, nil, &progress)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := d.run(ctx)
	require.ErrorIs(t, err, ErrCanceled)
	require.Zero(t, video.steps)
}

func TestDriverError(t *testing.T) {
	var progress []float64
	video := &stubPump{err: errTest}
	d := newTestDriver(t, video, nil, &progress)

	err := d.run(context.Background())
	require.ErrorIs(t, err, errTest)
	require.Zero(t, d.sink.muxer.(*fakeMuxer).stopped)
}

func TestComposerStartCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	env := newFakeEnv(map[string]*fakeFile{"a.mp4": videoFile(5000000, nil)})
	env.codecs.stallDecoder = true

	canceled := make(chan struct{})
	c := newTestComposer(env, &Clip{Path: "a.mp4"})
	c.Listener.OnCanceled = func() { close(canceled) }

	err := c.Initialize()
	require.NoError(t, err)

	c.Start()
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	c.Cancel()
	err = c.Wait()
	require.ErrorIs(t, err, ErrCanceled)
	require.Less(t, time.Since(start), 5*driverBackoff)
	<-canceled

	require.Len(t, env.codecs.decoders, 1)
	require.Equal(t, 1, env.codecs.decoders[0].released)
	require.Equal(t, 1, env.codecs.encoders[0].released)
	require.Equal(t, 1, env.transforms.created[0].released)
	require.Equal(t, 1, env.muxer.released)
	for _, src := range env.media.sources {
		require.Equal(t, 1, src.closed)
	}
}

func TestComposerStartCancelConcurrent(t *testing.T) {
	defer goleak.VerifyNone(t)

	env := newFakeEnv(map[string]*fakeFile{"a.mp4": videoFile(1000000, nil)})

	c := newTestComposer(env, &Clip{Path: "a.mp4"})

	err := c.Initialize()
	require.NoError(t, err)

	started := make(chan struct{})
	go func() {
		defer close(started)
		c.Start()
	}()

	c.Cancel()
	<-started

	err = c.Wait()
	if err != nil {
		require.ErrorIs(t, err, ErrCanceled)
	}
	require.Equal(t, 1, env.muxer.released)
}

func TestComposerCancelBeforeStart(t *testing.T) {
	defer goleak.VerifyNone(t)

	env := newFakeEnv(map[string]*fakeFile{"a.mp4": videoFile(1000000, nil)})

	c := newTestComposer(env, &Clip{Path: "a.mp4"})

	err := c.Initialize()
	require.NoError(t, err)

	c.Cancel()
	c.Start()

	err = c.Wait()
	require.ErrorIs(t, err, ErrCanceled)
	require.Empty(t, env.muxer.samples[0])
}

func TestComposerWaitWithoutStart(t *testing.T) {
	env := newFakeEnv(map[string]*fakeFile{"a.mp4": videoFile(1000000, nil)})

	c := newTestComposer(env, &Clip{Path: "a.mp4"})

	err := c.Initialize()
	require.NoError(t, err)

	err = c.Wait()
	require.ErrorIs(t, err, ErrFormatInvariant)
}
