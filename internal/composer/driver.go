package composer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/bluenviron/mediacompose/internal/logger"
)

// ProgressUnknown is emitted once when the duration of the output can't be computed.
const ProgressUnknown = -1.0

const (
	driverBackoff          = 10 * time.Millisecond
	driverProgressInterval = 10
)

// driver steps the video and audio pumps until both are finished.
type driver struct {
	video           pump
	audio           pump
	sink            *muxSink
	totalDurationUs int64
	canceled        *atomic.Bool
	backoff         time.Duration
	onProgress      func(float64)
	parent          logger.Writer

	lastProgress float64
	closed       bool
}

func (d *driver) Log(level logger.Level, format string, args ...interface{}) {
	d.parent.Log(level, format, args...)
}

func (d *driver) isCanceled(ctx context.Context) bool {
	return d.canceled.Load() || ctx.Err() != nil
}

func (d *driver) isFinished() bool {
	return d.video.isFinished() && (d.audio == nil || d.audio.isFinished())
}

func (d *driver) stepVideo() (bool, error) {
	if d.video.isFinished() {
		return false, nil
	}
	return d.video.step()
}

func (d *driver) stepAudio() (bool, error) {
	if d.audio == nil || d.audio.isFinished() {
		return false, nil
	}
	return d.audio.step()
}

func trackProgress(p pump, totalDurationUs int64) float64 {
	if p.isFinished() {
		return 1
	}
	v := float64(p.writtenPresentationTimeUs()) / float64(totalDurationUs)
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func (d *driver) progress() float64 {
	v := trackProgress(d.video, d.totalDurationUs)
	if d.audio == nil {
		return v
	}
	return (v + trackProgress(d.audio, d.totalDurationUs)) / 2
}

func (d *driver) emitProgress() {
	p := d.progress()
	if p < d.lastProgress {
		p = d.lastProgress
	}
	d.lastProgress = p
	d.onProgress(p)
}

func (d *driver) run(ctx context.Context) error {
	if d.backoff == 0 {
		d.backoff = driverBackoff
	}

	if d.totalDurationUs <= 0 {
		d.onProgress(ProgressUnknown)
	}

	for loopCount := 1; !d.isFinished(); loopCount++ {
		if d.isCanceled(ctx) {
			return ErrCanceled
		}

		busy, err := d.stepVideo()
		if err != nil {
			return err
		}

		if !busy {
			busy, err = d.stepAudio()
			if err != nil {
				return err
			}
		}

		if d.totalDurationUs > 0 && (loopCount%driverProgressInterval) == 0 {
			d.emitProgress()
		}

		if !busy {
			timer := time.NewTimer(d.backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ErrCanceled
			}
		}
	}

	if d.totalDurationUs > 0 {
		d.emitProgress()
	}

	return d.sink.finish()
}

// close releases pumps, then their sources, then the muxer.
func (d *driver) close() {
	if d.closed {
		return
	}
	d.closed = true

	d.video.close()
	if d.audio != nil {
		d.audio.close()
	}
	d.sink.close()
}
