// Package h264enc contains a H264 encoder based on x264.
package h264enc

import (
	"bytes"
	"fmt"
	"image"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/gen2brain/x264-go"

	"github.com/bluenviron/mediacompose/internal/codecs/swcodec"
	"github.com/bluenviron/mediacompose/internal/composer"
)

// Encoder encodes images into H264 access units in AVCC format.
// Parameter sets are emitted once, as a codec-config buffer and inside the output format.
// It implements swcodec.Processor.
type Encoder struct {
	Format *composer.Format

	buf          bytes.Buffer
	enc          *x264.Encoder
	timestamps   []int64
	outputFormat *composer.Format
}

// Initialize initializes Encoder.
func (e *Encoder) Initialize() error {
	if e.Format == nil || e.Format.Width <= 0 || e.Format.Height <= 0 {
		return fmt.Errorf("output size not provided")
	}

	if (e.Format.Width%2) != 0 || (e.Format.Height%2) != 0 {
		return fmt.Errorf("output size must be even, got %dx%d", e.Format.Width, e.Format.Height)
	}

	frameRate := e.Format.FrameRate
	if frameRate <= 0 {
		frameRate = 30
	}

	// zerolatency disables B-frames and lookahead.
	// Output is split into access units anyway, since Flush() can drain more than one.
	var err error
	e.enc, err = x264.NewEncoder(&e.buf, &x264.Options{
		Width:     e.Format.Width,
		Height:    e.Format.Height,
		FrameRate: frameRate,
		Tune:      "zerolatency",
		Preset:    "veryfast",
		Profile:   "baseline",
		LogLevel:  x264.LogError,
	})
	if err != nil {
		return err
	}

	return nil
}

// Close implements swcodec.Processor.
func (e *Encoder) Close() {
	if e.enc != nil {
		e.enc.Close() //nolint:errcheck
		e.enc = nil
	}
}

// OutputFormat implements swcodec.Processor.
func (e *Encoder) OutputFormat() *composer.Format {
	return e.outputFormat
}

// Process implements swcodec.Processor.
func (e *Encoder) Process(in *swcodec.Buffer) ([]*swcodec.Buffer, error) {
	if in.Image == nil {
		return nil, fmt.Errorf("encoder input is not an image")
	}

	size := in.Image.Bounds().Size()
	if size != (image.Point{e.Format.Width, e.Format.Height}) {
		return nil, fmt.Errorf("image size is %dx%d, expected %dx%d",
			size.X, size.Y, e.Format.Width, e.Format.Height)
	}

	e.timestamps = append(e.timestamps, in.TimeUs)

	err := e.enc.Encode(in.Image)
	if err != nil {
		return nil, err
	}

	return e.collect()
}

// Flush implements swcodec.Processor.
func (e *Encoder) Flush() ([]*swcodec.Buffer, error) {
	err := e.enc.Flush()
	if err != nil {
		return nil, err
	}

	return e.collect()
}

func isVCL(typ h264.NALUType) bool {
	return typ >= h264.NALUTypeNonIDR && typ <= h264.NALUTypeIDR
}

// splitAccessUnits extracts parameter sets and groups the remaining NALUs into access units.
// An access unit ends when a NALU that can only begin a new one follows a slice.
func splitAccessUnits(nalus [][]byte) ([]byte, []byte, [][][]byte) {
	var sps []byte
	var pps []byte
	var aus [][][]byte
	var cur [][]byte
	hasVCL := false

	flush := func() {
		if len(cur) != 0 {
			aus = append(aus, cur)
		}
		cur = nil
		hasVCL = false
	}

	for _, nalu := range nalus {
		if len(nalu) == 0 {
			continue
		}

		typ := h264.NALUType(nalu[0] & 0x1F)

		switch {
		case isVCL(typ):
			// first_mb_in_slice equal to zero is coded as a single set bit.
			if hasVCL && len(nalu) > 1 && (nalu[1]&0x80) != 0 {
				flush()
			}
			cur = append(cur, nalu)
			hasVCL = true

		case typ == h264.NALUTypeSPS:
			if hasVCL {
				flush()
			}
			sps = append([]byte(nil), nalu...)

		case typ == h264.NALUTypePPS:
			if hasVCL {
				flush()
			}
			pps = append([]byte(nil), nalu...)

		case typ == h264.NALUTypeAccessUnitDelimiter:
			flush()

		default:
			if hasVCL && typ == h264.NALUTypeSEI {
				flush()
			}
			cur = append(cur, nalu)
		}
	}

	flush()

	return sps, pps, aus
}

func (e *Encoder) collect() ([]*swcodec.Buffer, error) {
	if e.buf.Len() == 0 {
		return nil, nil
	}

	var annexb h264.AnnexB
	err := annexb.Unmarshal(e.buf.Bytes())
	e.buf.Reset()
	if err != nil {
		return nil, err
	}

	sps, pps, aus := splitAccessUnits(annexb)

	var outs []*swcodec.Buffer

	if e.outputFormat == nil {
		if sps == nil || pps == nil {
			return nil, fmt.Errorf("parameter sets not received")
		}

		out, err := e.setParams(sps, pps)
		if err != nil {
			return nil, err
		}
		outs = append(outs, out)
	}

	for _, au := range aus {
		if len(e.timestamps) == 0 {
			return nil, fmt.Errorf("received an access unit without a matching input")
		}
		timeUs := e.timestamps[0]
		e.timestamps = e.timestamps[1:]

		payload, err := h264.AVCC(au).Marshal()
		if err != nil {
			return nil, err
		}

		var flags composer.BufferFlags
		if h264.IsRandomAccess(au) {
			flags |= composer.FlagKeyFrame
		}

		outs = append(outs, &swcodec.Buffer{
			Payload: payload,
			TimeUs:  timeUs,
			Flags:   flags,
		})
	}

	return outs, nil
}

func (e *Encoder) setParams(sps []byte, pps []byte) (*swcodec.Buffer, error) {
	var spsp h264.SPS
	err := spsp.Unmarshal(sps)
	if err != nil {
		return nil, fmt.Errorf("unable to parse SPS: %w", err)
	}

	f := e.Format.Clone()
	f.MimeType = composer.MimeTypeH264
	f.Width = spsp.Width()
	f.Height = spsp.Height()
	f.CSD = [][]byte{sps, pps}
	e.outputFormat = f

	payload, err := h264.AVCC([][]byte{sps, pps}).Marshal()
	if err != nil {
		return nil, err
	}

	return &swcodec.Buffer{
		Payload: payload,
		Flags:   composer.FlagCodecConfig,
	}, nil
}
