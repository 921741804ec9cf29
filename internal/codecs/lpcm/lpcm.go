// Package lpcm contains a LPCM decoder and encoder.
// They convert samples between the container sample format and
// interleaved signed 16-bit little-endian PCM.
package lpcm

import (
	"fmt"

	"github.com/bluenviron/mediacompose/internal/codecs/swcodec"
	"github.com/bluenviron/mediacompose/internal/composer"
)

func sampleSize(bitDepth int) (int, error) {
	switch bitDepth {
	case 8, 16, 24, 32:
		return bitDepth / 8, nil
	}
	return 0, fmt.Errorf("unsupported bit depth: %d", bitDepth)
}

func bitDepthOf(f *composer.Format) int {
	if f.BitDepth == 0 {
		return 16
	}
	return f.BitDepth
}

// toS16LE keeps the most significant 16 bits of each sample.
func toS16LE(in []byte, bitDepth int, littleEndian bool) ([]byte, error) {
	size, err := sampleSize(bitDepth)
	if err != nil {
		return nil, err
	}

	if (len(in) % size) != 0 {
		return nil, fmt.Errorf("payload size (%d) is not a multiple of the sample size (%d)", len(in), size)
	}

	n := len(in) / size
	out := make([]byte, n*2)

	for i := 0; i < n; i++ {
		s := in[i*size : (i+1)*size]

		var hi, lo byte
		switch {
		case size == 1:
			hi = s[0]
		case littleEndian:
			hi, lo = s[size-1], s[size-2]
		default:
			hi, lo = s[0], s[1]
		}

		out[i*2] = lo
		out[i*2+1] = hi
	}

	return out, nil
}

func fromS16LE(in []byte, bitDepth int, littleEndian bool) ([]byte, error) {
	size, err := sampleSize(bitDepth)
	if err != nil {
		return nil, err
	}

	if (len(in) % 2) != 0 {
		return nil, fmt.Errorf("payload size (%d) is not a multiple of the sample size (2)", len(in))
	}

	n := len(in) / 2
	out := make([]byte, n*size)

	for i := 0; i < n; i++ {
		lo, hi := in[i*2], in[i*2+1]
		d := out[i*size : (i+1)*size]

		switch {
		case size == 1:
			d[0] = hi
		case littleEndian:
			d[size-1], d[size-2] = hi, lo
		default:
			d[0], d[1] = hi, lo
		}
	}

	return out, nil
}

// Decoder converts LPCM samples into signed 16-bit little-endian PCM.
type Decoder struct {
	Format *composer.Format

	outputFormat *composer.Format
}

// Initialize initializes Decoder.
func (d *Decoder) Initialize() error {
	_, err := sampleSize(bitDepthOf(d.Format))
	if err != nil {
		return err
	}

	d.outputFormat = d.Format.Clone()
	d.outputFormat.BitDepth = 16
	d.outputFormat.LittleEndian = true
	d.outputFormat.CSD = nil

	return nil
}

// Close implements swcodec.Processor.
func (d *Decoder) Close() {
}

// OutputFormat implements swcodec.Processor.
func (d *Decoder) OutputFormat() *composer.Format {
	return d.outputFormat
}

// Process implements swcodec.Processor.
func (d *Decoder) Process(in *swcodec.Buffer) ([]*swcodec.Buffer, error) {
	payload, err := toS16LE(in.Payload, bitDepthOf(d.Format), d.Format.LittleEndian)
	if err != nil {
		return nil, err
	}

	return []*swcodec.Buffer{{
		Payload: payload,
		TimeUs:  in.TimeUs,
	}}, nil
}

// Flush implements swcodec.Processor.
func (d *Decoder) Flush() ([]*swcodec.Buffer, error) {
	return nil, nil
}

// Encoder converts signed 16-bit little-endian PCM into LPCM samples.
type Encoder struct {
	Format *composer.Format

	outputFormat *composer.Format
}

// Initialize initializes Encoder.
func (e *Encoder) Initialize() error {
	_, err := sampleSize(bitDepthOf(e.Format))
	if err != nil {
		return err
	}

	e.outputFormat = e.Format.Clone()
	e.outputFormat.BitDepth = bitDepthOf(e.Format)

	return nil
}

// Close implements swcodec.Processor.
func (e *Encoder) Close() {
}

// OutputFormat implements swcodec.Processor.
func (e *Encoder) OutputFormat() *composer.Format {
	return e.outputFormat
}

// Process implements swcodec.Processor.
func (e *Encoder) Process(in *swcodec.Buffer) ([]*swcodec.Buffer, error) {
	payload, err := fromS16LE(in.Payload, e.outputFormat.BitDepth, e.outputFormat.LittleEndian)
	if err != nil {
		return nil, err
	}

	return []*swcodec.Buffer{{
		Payload: payload,
		TimeUs:  in.TimeUs,
		Flags:   composer.FlagKeyFrame,
	}}, nil
}

// Flush implements swcodec.Processor.
func (e *Encoder) Flush() ([]*swcodec.Buffer, error) {
	return nil, nil
}
