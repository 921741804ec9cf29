package core

import (
	"fmt"
	"image/color"
	"math"
	"sync"
	"time"

	"github.com/bluenviron/mediacompose/internal/codecs"
	"github.com/bluenviron/mediacompose/internal/composer"
	"github.com/bluenviron/mediacompose/internal/conf"
	"github.com/bluenviron/mediacompose/internal/defs"
	"github.com/bluenviron/mediacompose/internal/externalcmd"
	"github.com/bluenviron/mediacompose/internal/hooks"
	"github.com/bluenviron/mediacompose/internal/logger"
	"github.com/bluenviron/mediacompose/internal/mp4"
	"github.com/bluenviron/mediacompose/internal/mux"
	"github.com/bluenviron/mediacompose/internal/transform"
)

func newOverlay(o *conf.Overlay) *transform.Overlay {
	if o == nil {
		return nil
	}

	return &transform.Overlay{
		Text:      o.Text,
		FontScale: o.FontScale,
		Color:     color.RGBA(o.Color),
		Position:  transform.Position(o.Position),
	}
}

func newMuxer(c *conf.Conf, parent logger.Writer) composer.Muxer {
	switch c.OutputFormat {
	case conf.OutputFormatFMP4:
		return &mux.FMP4{
			Path:            c.Output,
			WriteBufferSize: int(c.WriteBufferSize),
			Parent:          parent,
		}

	case conf.OutputFormatMPEGTS:
		return &mux.MPEGTS{
			Path:            c.Output,
			WriteBufferSize: int(c.WriteBufferSize),
			Parent:          parent,
		}

	default:
		return &mux.MP4{
			Path:            c.Output,
			WriteBufferSize: int(c.WriteBufferSize),
			Parent:          parent,
		}
	}
}

// newComposer fills a Composer with the job parameters and the concrete capabilities.
func newComposer(c *conf.Conf, parent logger.Writer) *composer.Composer {
	tf := &transform.Factory{
		Overlay: newOverlay(c.Overlay),
		Parent:  parent,
	}

	co := c.Composer()
	co.Media = &mp4.Opener{Parent: parent}
	co.Codecs = &codecs.Factory{Parent: parent}
	co.NewTransform = tf.New
	co.Muxer = newMuxer(c, parent)
	co.Parent = parent

	return co
}

type runResult struct {
	conf *conf.Conf
	c    *composer.Composer
	err  error
}

// runner runs one composition at a time and exposes its status.
type runner struct {
	externalCmdPool *externalcmd.Pool
	parent          logger.Writer

	mutex       sync.Mutex
	cur         *composer.Composer
	status      defs.APIStatus
	lastLogged  int
	newComposer func(*conf.Conf, logger.Writer) *composer.Composer

	// out
	done chan runResult
}

func (r *runner) initialize() {
	if r.newComposer == nil {
		r.newComposer = newComposer
	}

	r.status = defs.APIStatus{
		State:    defs.APIRunStateIdle,
		Progress: composer.ProgressUnknown,
	}
	r.done = make(chan runResult)
}

// Log implements logger.Writer.
func (r *runner) Log(level logger.Level, format string, args ...interface{}) {
	r.parent.Log(level, format, args...)
}

func (r *runner) start(cnf *conf.Conf) {
	c := r.newComposer(cnf, r)
	c.Listener = composer.Listener{
		OnProgress: r.onProgress,
	}

	now := time.Now()

	r.mutex.Lock()
	r.cur = c
	r.lastLogged = -1
	r.status = defs.APIStatus{
		State:    defs.APIRunStateRunning,
		Output:   cnf.Output,
		Clips:    len(cnf.Clips),
		Progress: 0,
		Started:  &now,
	}
	r.mutex.Unlock()

	err := c.Initialize()
	if err != nil {
		go func() {
			r.done <- runResult{conf: cnf, c: c, err: err}
		}()
		return
	}

	runID := c.RunID

	r.mutex.Lock()
	r.status.RunID = &runID
	r.status.TotalDurationUs = c.TotalDurationUs()
	r.mutex.Unlock()

	c.Start()

	go func() {
		r.done <- runResult{conf: cnf, c: c, err: c.Wait()}
	}()
}

// stop cancels the running composition and waits for it.
// It returns whether a composition was interrupted.
func (r *runner) stop() bool {
	r.mutex.Lock()
	c := r.cur
	r.mutex.Unlock()

	if c == nil {
		return false
	}

	c.Cancel()
	r.finished(<-r.done)
	return true
}

func (r *runner) finished(res runResult) {
	now := time.Now()

	r.mutex.Lock()
	r.cur = nil
	r.status.Ended = &now
	r.status.Progress = res.c.Progress()

	switch {
	case res.err == nil:
		r.status.State = defs.APIRunStateCompleted
		r.status.Progress = 1

	case isCanceled(res.err):
		r.status.State = defs.APIRunStateCanceled

	default:
		r.status.State = defs.APIRunStateFailed
	}

	if res.err != nil {
		v := res.err.Error()
		r.status.Error = &v
	}
	r.mutex.Unlock()

	if res.err != nil && !isCanceled(res.err) {
		r.Log(logger.Error, "composition failed: %v", res.err)
	}

	hooks.OnFinish(hooks.OnFinishParams{
		Logger:          r,
		ExternalCmdPool: r.externalCmdPool,
		RunOnComplete:   res.conf.RunOnComplete,
		RunOnFailure:    res.conf.RunOnFailure,
		Output:          res.conf.Output,
		RunID:           res.c.RunID,
		Err:             res.err,
	})
}

func (r *runner) onProgress(progress float64) {
	if progress == composer.ProgressUnknown {
		r.Log(logger.Info, "progress is unknown")
		return
	}

	step := int(math.Floor(progress * 10))

	r.mutex.Lock()
	log := step > r.lastLogged
	if log {
		r.lastLogged = step
	}
	r.mutex.Unlock()

	if log {
		r.Log(logger.Info, "progress: %d%%", step*10)
	}
}

// APIStatus implements defs.APIRunner.
func (r *runner) APIStatus() *defs.APIStatus {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	status := r.status
	if r.cur != nil && status.RunID != nil {
		status.Progress = r.cur.Progress()
	}

	return &status
}

// APICancel implements defs.APIRunner.
func (r *runner) APICancel() error {
	r.mutex.Lock()
	c := r.cur
	r.mutex.Unlock()

	if c == nil {
		return fmt.Errorf("no composition is running")
	}

	r.Log(logger.Info, "cancel requested")
	c.Cancel()
	return nil
}
