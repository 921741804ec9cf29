// Package mp4 contains a reader of fragmented MP4 files.
package mp4

import (
	"bytes"
	"fmt"
	"io"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/bluenviron/mediacompose/internal/composer"
)

func readBoxHeader(r io.Reader, buf []byte, typ string) (uint32, error) {
	_, err := io.ReadFull(r, buf)
	if err != nil {
		return 0, err
	}

	if !bytes.Equal(buf[4:], []byte(typ)) {
		return 0, fmt.Errorf("%s box not found", typ)
	}

	return uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3]), nil
}

// readInit reads the ftyp and moov boxes at the beginning of a file.
func readInit(r io.ReadSeeker) (*fmp4.Init, error) {
	buf := make([]byte, 8)

	ftypSize, err := readBoxHeader(r, buf, "ftyp")
	if err != nil {
		return nil, err
	}

	_, err = r.Seek(int64(ftypSize), io.SeekStart)
	if err != nil {
		return nil, err
	}

	moovSize, err := readBoxHeader(r, buf, "moov")
	if err != nil {
		return nil, err
	}

	_, err = r.Seek(0, io.SeekStart)
	if err != nil {
		return nil, err
	}

	buf = make([]byte, ftypSize+moovSize)

	_, err = io.ReadFull(r, buf)
	if err != nil {
		return nil, err
	}

	var init fmp4.Init
	err = init.Unmarshal(bytes.NewReader(buf))
	if err != nil {
		return nil, err
	}

	return &init, nil
}

// codecToFormat converts a codec into a format.
// It returns nil when the codec is not supported.
func codecToFormat(codec mp4.Codec) (*composer.Format, error) {
	switch codec := codec.(type) {
	case *mp4.CodecH264:
		if len(codec.SPS) == 0 || len(codec.PPS) == 0 {
			return nil, fmt.Errorf("H264 parameters not provided")
		}

		var sps h264.SPS
		err := sps.Unmarshal(codec.SPS)
		if err != nil {
			return nil, fmt.Errorf("unable to parse H264 SPS: %w", err)
		}

		return &composer.Format{
			MimeType: composer.MimeTypeH264,
			Width:    sps.Width(),
			Height:   sps.Height(),
			CSD:      [][]byte{codec.SPS, codec.PPS},
		}, nil

	case *mp4.CodecMPEG4Audio:
		config, err := codec.Config.Marshal()
		if err != nil {
			return nil, err
		}

		return &composer.Format{
			MimeType:     composer.MimeTypeAAC,
			SampleRate:   codec.Config.SampleRate,
			ChannelCount: codec.Config.ChannelCount,
			CSD:          [][]byte{config},
		}, nil

	case *mp4.CodecOpus:
		return &composer.Format{
			MimeType:     composer.MimeTypeOpus,
			SampleRate:   48000,
			ChannelCount: codec.ChannelCount,
		}, nil

	case *mp4.CodecLPCM:
		return &composer.Format{
			MimeType:     composer.MimeTypeLPCM,
			SampleRate:   codec.SampleRate,
			ChannelCount: codec.ChannelCount,
			BitDepth:     codec.BitDepth,
			LittleEndian: codec.LittleEndian,
		}, nil
	}

	return nil, nil
}
