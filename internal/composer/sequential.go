package composer

import (
	"github.com/bluenviron/mediacompose/internal/logger"
)

type newVideoPumpFunc func(index int, clip *Clip, baseUs int64, isFirst bool, sendEOS bool) (*videoPump, error)

// sequentialComposer stitches the clips into a single video track.
// The pump of a clip is created when the previous one is finished.
type sequentialComposer struct {
	clips   []*Clip
	newPump newVideoPumpFunc
	parent  logger.Writer

	cur      int
	current  *videoPump
	totalUs  int64
	finished bool
}

func (c *sequentialComposer) Log(level logger.Level, format string, args ...interface{}) {
	c.parent.Log(level, format, args...)
}

func (c *sequentialComposer) step() (bool, error) {
	if c.finished {
		return false, nil
	}

	if c.current == nil {
		clip := c.clips[c.cur]

		baseUs := c.totalUs
		if clip.OutputStartUs > baseUs {
			baseUs = clip.OutputStartUs
		}

		var err error
		c.current, err = c.newPump(c.cur, clip, baseUs, c.cur == 0, c.cur == len(c.clips)-1)
		if err != nil {
			return false, err
		}
	}

	busy, err := c.current.step()
	if err != nil {
		return false, err
	}

	if c.current.isFinished() {
		c.totalUs = c.current.baseUs + c.current.outputDurationUs()
		c.releaseCurrent()

		c.Log(logger.Debug, "clip %d finished, timeline at %dus", c.cur, c.totalUs)

		c.cur++
		if c.cur == len(c.clips) {
			c.finished = true
		}
		busy = true
	}

	return busy, nil
}

func (c *sequentialComposer) releaseCurrent() {
	c.current.close()
	if c.current.source != nil {
		c.current.source.Close() //nolint:errcheck
	}
	c.current = nil
}

func (c *sequentialComposer) isFinished() bool {
	return c.finished
}

// writtenPresentationTimeUs returns the position of the stitched track in the output timeline.
func (c *sequentialComposer) writtenPresentationTimeUs() int64 {
	if c.current != nil {
		return c.current.writtenPresentationTimeUs()
	}
	return c.totalUs
}

func (c *sequentialComposer) close() {
	if c.current != nil {
		c.releaseCurrent()
	}
}
