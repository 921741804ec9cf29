// Package swcodec exposes synchronous software codecs as composer codecs.
package swcodec

import (
	"fmt"
	"image"

	"github.com/bluenviron/mediacompose/internal/composer"
)

const (
	defaultInputSlots = 4
	defaultMaxOutputs = 8
)

// Buffer is a buffer exchanged with a Processor.
type Buffer struct {
	Payload []byte
	// decoded image, when the processor outputs raw video.
	Image  image.Image
	TimeUs int64
	Flags  composer.BufferFlags
}

// Processor is a codec implementation that processes buffers synchronously.
type Processor interface {
	// Process consumes an input buffer and returns the output buffers that are ready.
	Process(in *Buffer) ([]*Buffer, error)
	// Flush returns the output buffers that are still pending.
	Flush() ([]*Buffer, error)
	// OutputFormat returns the output format, or nil when it's not known yet.
	// The returned pointer changes only when the format changes.
	OutputFormat() *composer.Format
	Close()
}

// Async exposes a Processor through the non-blocking poll contract of composer.Codec.
type Async struct {
	Processor Processor
	// receives decoded images released with render=true. Can be nil.
	Output     composer.Surface
	InputSlots int
	MaxOutputs int

	started    bool
	released   bool
	inputEOS   bool
	nextInput  int
	freeInput  []bool
	queue      []*Buffer
	held       map[int]*Buffer
	nextOutput int
	notified   *composer.Format
}

// Initialize initializes Async.
func (a *Async) Initialize() {
	if a.InputSlots == 0 {
		a.InputSlots = defaultInputSlots
	}
	if a.MaxOutputs == 0 {
		a.MaxOutputs = defaultMaxOutputs
	}

	a.freeInput = make([]bool, a.InputSlots)
	for i := range a.freeInput {
		a.freeInput[i] = true
	}
	a.held = make(map[int]*Buffer)
}

// Start implements composer.Codec.
func (a *Async) Start() error {
	if a.released {
		return fmt.Errorf("codec is released")
	}
	a.started = true
	return nil
}

// Stop implements composer.Codec.
func (a *Async) Stop() error {
	a.started = false
	a.queue = nil
	a.held = make(map[int]*Buffer)
	for i := range a.freeInput {
		a.freeInput[i] = true
	}
	return nil
}

// Release implements composer.Codec.
func (a *Async) Release() {
	if a.released {
		return
	}
	a.released = true
	a.started = false
	a.Processor.Close()
}

// DequeueInputBuffer implements composer.Codec.
func (a *Async) DequeueInputBuffer() (int, error) {
	if !a.started {
		return 0, fmt.Errorf("codec is not started")
	}

	// back pressure
	if a.inputEOS || (len(a.queue)+len(a.held)) >= a.MaxOutputs {
		return -1, nil
	}

	for i := 0; i < a.InputSlots; i++ {
		index := (a.nextInput + i) % a.InputSlots
		if a.freeInput[index] {
			a.freeInput[index] = false
			a.nextInput = (index + 1) % a.InputSlots
			return index, nil
		}
	}

	return -1, nil
}

// QueueInputBuffer implements composer.Codec.
func (a *Async) QueueInputBuffer(index int, payload []byte, timeUs int64, flags composer.BufferFlags) error {
	if index < 0 || index >= a.InputSlots || a.freeInput[index] {
		return fmt.Errorf("invalid input buffer index: %d", index)
	}
	a.freeInput[index] = true

	return a.process(&Buffer{
		Payload: payload,
		TimeUs:  timeUs,
		Flags:   flags,
	})
}

func (a *Async) process(in *Buffer) error {
	if a.inputEOS {
		return fmt.Errorf("input buffer queued after end of stream")
	}

	if (in.Flags & composer.FlagEndOfStream) != 0 {
		a.inputEOS = true

		outs, err := a.Processor.Flush()
		if err != nil {
			return err
		}

		a.queue = append(a.queue, outs...)
		a.queue = append(a.queue, &Buffer{
			TimeUs: in.TimeUs,
			Flags:  composer.FlagEndOfStream,
		})
		return nil
	}

	outs, err := a.Processor.Process(in)
	if err != nil {
		return err
	}

	a.queue = append(a.queue, outs...)
	return nil
}

// DequeueOutputBuffer implements composer.Codec.
func (a *Async) DequeueOutputBuffer(info *composer.BufferInfo) (int, error) {
	if !a.started {
		return 0, fmt.Errorf("codec is not started")
	}

	if f := a.Processor.OutputFormat(); f != nil && f != a.notified {
		a.notified = f
		return composer.InfoOutputFormatChanged, nil
	}

	if len(a.queue) == 0 {
		return composer.InfoTryAgainLater, nil
	}

	buf := a.queue[0]
	a.queue = a.queue[1:]

	index := a.nextOutput
	a.nextOutput++
	a.held[index] = buf

	*info = composer.BufferInfo{
		Offset:             0,
		Size:               len(buf.Payload),
		PresentationTimeUs: buf.TimeUs,
		Flags:              buf.Flags,
	}

	return index, nil
}

// OutputBuffer implements composer.Codec.
func (a *Async) OutputBuffer(index int) []byte {
	buf, ok := a.held[index]
	if !ok {
		return nil
	}
	return buf.Payload
}

// ReleaseOutputBuffer implements composer.Codec.
func (a *Async) ReleaseOutputBuffer(index int, render bool) error {
	buf, ok := a.held[index]
	if !ok {
		return fmt.Errorf("invalid output buffer index: %d", index)
	}
	delete(a.held, index)

	if render && a.Output != nil && buf.Image != nil {
		return a.Output.QueueImage(buf.Image, buf.TimeUs)
	}

	return nil
}

// OutputFormat implements composer.Codec.
func (a *Async) OutputFormat() *composer.Format {
	return a.notified
}

// InputSurface implements composer.Encoder.
func (a *Async) InputSurface() composer.Surface {
	return &asyncSurface{a: a}
}

// SignalEndOfInputStream implements composer.Encoder.
func (a *Async) SignalEndOfInputStream() error {
	return a.process(&Buffer{Flags: composer.FlagEndOfStream})
}

type asyncSurface struct {
	a *Async
}

// QueueImage implements composer.Surface.
func (s *asyncSurface) QueueImage(img image.Image, timeUs int64) error {
	return s.a.process(&Buffer{
		Image:  img,
		TimeUs: timeUs,
	})
}
