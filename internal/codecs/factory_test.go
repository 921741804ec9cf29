package codecs

import (
	"errors"
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/mediacompose/internal/composer"
	"github.com/bluenviron/mediacompose/internal/test"
)

type recordingSurface struct {
	images     []image.Image
	timestamps []int64
}

func (s *recordingSurface) QueueImage(img image.Image, timeUs int64) error {
	s.images = append(s.images, img)
	s.timestamps = append(s.timestamps, timeUs)
	return nil
}

func drain(t *testing.T, c composer.Codec, render bool) ([][]byte, []composer.BufferInfo) {
	var payloads [][]byte
	var infos []composer.BufferInfo

	for {
		var info composer.BufferInfo
		index, err := c.DequeueOutputBuffer(&info)
		require.NoError(t, err)

		if index == composer.InfoTryAgainLater {
			return payloads, infos
		}
		if index < 0 {
			continue
		}

		buf := c.OutputBuffer(index)
		payloads = append(payloads, append([]byte(nil), buf[info.Offset:info.Offset+info.Size]...))
		infos = append(infos, info)

		err = c.ReleaseOutputBuffer(index, render && info.Size > 0)
		require.NoError(t, err)
	}
}

func TestFactoryUnsupported(t *testing.T) {
	f := &Factory{Parent: test.NilLogger}

	_, err := f.NewDecoder(&composer.Format{MimeType: composer.MimeTypeAAC}, nil)
	var cerr composer.ConfigurationError
	require.True(t, errors.As(err, &cerr))
	require.EqualError(t, err, "invalid configuration: no decoder available for audio/mp4a-latm")

	_, err = f.NewEncoder(&composer.Format{MimeType: composer.MimeTypeOpus})
	require.True(t, errors.As(err, &cerr))
	require.EqualError(t, err, "invalid configuration: no encoder available for audio/opus")

	_, err = f.NewDecoder(&composer.Format{
		MimeType: composer.MimeTypeH264,
		CSD:      [][]byte{test.H264SPS, test.H264PPS},
	}, nil)
	require.EqualError(t, err, "H264 decoder requires an output surface")
}

func TestFactoryLPCM(t *testing.T) {
	f := &Factory{Parent: test.NilLogger}

	in := &composer.Format{
		MimeType:     composer.MimeTypeLPCM,
		SampleRate:   8000,
		ChannelCount: 1,
		BitDepth:     16,
	}

	dec, err := f.NewDecoder(in, nil)
	require.NoError(t, err)
	defer dec.Release()

	enc, err := f.NewEncoder(in)
	require.NoError(t, err)
	defer enc.Release()

	for _, c := range []composer.Codec{dec, enc} {
		err = c.Start()
		require.NoError(t, err)
	}

	index, err := dec.DequeueInputBuffer()
	require.NoError(t, err)
	err = dec.QueueInputBuffer(index, []byte{0x12, 0x34}, 1000, 0)
	require.NoError(t, err)

	payloads, infos := drain(t, dec, false)
	require.Equal(t, [][]byte{{0x34, 0x12}}, payloads)
	require.Equal(t, int64(1000), infos[0].PresentationTimeUs)
	require.Equal(t, true, dec.OutputFormat().LittleEndian)

	index, err = enc.DequeueInputBuffer()
	require.NoError(t, err)
	err = enc.QueueInputBuffer(index, payloads[0], 1000, 0)
	require.NoError(t, err)

	payloads, _ = drain(t, enc, false)
	require.Equal(t, [][]byte{{0x12, 0x34}}, payloads)
}

func TestFactoryH264RoundTrip(t *testing.T) {
	f := &Factory{Parent: test.NilLogger}

	enc, err := f.NewEncoder(&composer.Format{
		MimeType:   composer.MimeTypeH264,
		Width:      64,
		Height:     48,
		FrameRate:  30,
		DurationUs: -1,
	})
	require.NoError(t, err)
	defer enc.Release()

	err = enc.Start()
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 64, 48))
		draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{200, 10, 10, 255}}, image.Point{}, draw.Src)

		err = enc.InputSurface().QueueImage(img, int64(i)*33333)
		require.NoError(t, err)
	}

	err = enc.SignalEndOfInputStream()
	require.NoError(t, err)

	payloads, infos := drain(t, enc, false)
	require.NotNil(t, enc.OutputFormat())
	require.Equal(t, composer.FlagCodecConfig, infos[0].Flags)

	s := &recordingSurface{}

	dec, err := f.NewDecoder(enc.OutputFormat(), s)
	require.NoError(t, err)
	defer dec.Release()

	err = dec.Start()
	require.NoError(t, err)

	for i, info := range infos {
		if (info.Flags & composer.FlagCodecConfig) != 0 {
			continue
		}

		var index int
		index, err = dec.DequeueInputBuffer()
		require.NoError(t, err)

		if (info.Flags & composer.FlagEndOfStream) != 0 {
			err = dec.QueueInputBuffer(index, nil, 0, composer.FlagEndOfStream)
		} else {
			err = dec.QueueInputBuffer(index, payloads[i], info.PresentationTimeUs, info.Flags)
		}
		require.NoError(t, err)

		drain(t, dec, true)
	}

	require.Equal(t, []int64{0, 33333, 66666}, s.timestamps)
	require.Equal(t, image.Rect(0, 0, 64, 48), s.images[0].Bounds())
	require.Equal(t, composer.MimeTypeRawVideo, dec.OutputFormat().MimeType)
}
