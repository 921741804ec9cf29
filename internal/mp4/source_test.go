package mp4

import (
	"errors"
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/stretchr/testify/require"

	"github.com/bluenviron/mediacompose/internal/composer"
	"github.com/bluenviron/mediacompose/internal/test"
)

// video: 5 frames at 10fps, sync at 0 and 200ms. audio: 8000Hz, 100ms per sample.
func createFile(t *testing.T) string {
	var buf seekablebuffer.Buffer

	init := &fmp4.Init{
		Tracks: []*fmp4.InitTrack{
			{
				ID:        1,
				TimeScale: 90000,
				Codec: &mp4.CodecH264{
					SPS: test.H264SPS,
					PPS: test.H264PPS,
				},
			},
			{
				ID:        2,
				TimeScale: 8000,
				Codec: &mp4.CodecLPCM{
					BitDepth:     16,
					SampleRate:   8000,
					ChannelCount: 1,
				},
			},
		},
	}
	err := init.Marshal(&buf)
	require.NoError(t, err)

	var videoSamples []*fmp4.Sample
	for i := 0; i < 5; i++ {
		videoSamples = append(videoSamples, &fmp4.Sample{
			Duration:        9000,
			IsNonSyncSample: i != 0 && i != 2,
			Payload:         []byte{0x00, 0x00, 0x00, 0x02, 0x41, byte(i)},
		})
	}

	parts := []*fmp4.Part{
		{
			SequenceNumber: 1,
			Tracks: []*fmp4.PartTrack{
				{
					ID:       1,
					BaseTime: 0,
					Samples:  videoSamples[:3],
				},
				{
					ID:       2,
					BaseTime: 0,
					Samples: []*fmp4.Sample{
						{Duration: 800, Payload: []byte{1, 2}},
						{Duration: 800, Payload: []byte{3, 4}},
						{Duration: 800, Payload: []byte{5, 6}},
					},
				},
			},
		},
		{
			SequenceNumber: 2,
			Tracks: []*fmp4.PartTrack{
				{
					ID:       1,
					BaseTime: 27000,
					Samples:  videoSamples[3:],
				},
				{
					ID:       2,
					BaseTime: 2400,
					Samples: []*fmp4.Sample{
						{Duration: 800, Payload: []byte{7, 8}},
						{Duration: 800, Payload: []byte{9, 10}},
					},
				},
			},
		},
	}

	for _, part := range parts {
		var partBuf seekablebuffer.Buffer
		err = part.Marshal(&partBuf)
		require.NoError(t, err)
		_, err = buf.Write(partBuf.Bytes())
		require.NoError(t, err)
	}

	fpath := test.TempFile(t, buf.Bytes())

	return fpath
}

type readSample struct {
	track  int
	timeUs int64
	key    bool
}

func readAll(t *testing.T, s *Source) []readSample {
	var out []readSample

	for {
		sa, err := s.Sample()
		require.NoError(t, err)
		if sa == nil {
			return out
		}

		// repeated calls return the same sample
		sa2, err := s.Sample()
		require.NoError(t, err)
		require.Same(t, sa, sa2)

		out = append(out, readSample{
			track:  sa.TrackIndex,
			timeUs: sa.TimeUs,
			key:    (sa.Flags & composer.FlagKeyFrame) != 0,
		})
		s.Advance()
	}
}

func TestSourceFormats(t *testing.T) {
	fpath := createFile(t)

	s := &Source{Path: fpath}
	err := s.Initialize()
	require.NoError(t, err)
	defer s.Close()

	require.Equal(t, []*composer.Format{
		{
			MimeType:   composer.MimeTypeH264,
			Width:      1920,
			Height:     1080,
			CSD:        [][]byte{test.H264SPS, test.H264PPS},
			DurationUs: 500000,
		},
		{
			MimeType:     composer.MimeTypeLPCM,
			SampleRate:   8000,
			ChannelCount: 1,
			BitDepth:     16,
			DurationUs:   500000,
		},
	}, s.Formats())
}

func TestSourceRead(t *testing.T) {
	fpath := createFile(t)

	s := &Source{Path: fpath}
	err := s.Initialize()
	require.NoError(t, err)
	defer s.Close()

	err = s.SelectTrack(0)
	require.NoError(t, err)

	sa, err := s.Sample()
	require.NoError(t, err)
	require.Equal(t, []byte{0x00, 0x00, 0x00, 0x02, 0x41, 0x00}, sa.Payload)

	require.Equal(t, []readSample{
		{0, 0, true},
		{0, 100000, false},
		{0, 200000, true},
		{0, 300000, false},
		{0, 400000, false},
	}, readAll(t, s))

	err = s.SelectTrack(1)
	require.NoError(t, err)

	err = s.SeekTo(0)
	require.NoError(t, err)

	samples := readAll(t, s)
	require.Len(t, samples, 10)
	for i := 1; i < len(samples); i++ {
		require.LessOrEqual(t, samples[i-1].timeUs, samples[i].timeUs)
	}

	sa, err = s.Sample()
	require.NoError(t, err)
	require.Nil(t, sa)
}

func TestSourceSeek(t *testing.T) {
	fpath := createFile(t)

	s := &Source{Path: fpath}
	err := s.Initialize()
	require.NoError(t, err)
	defer s.Close()

	err = s.SelectTrack(0)
	require.NoError(t, err)
	err = s.SelectTrack(1)
	require.NoError(t, err)

	err = s.SeekTo(350000)
	require.NoError(t, err)

	require.Equal(t, []readSample{
		{0, 200000, true},
		{1, 200000, true},
		{0, 300000, false},
		{1, 300000, true},
		{0, 400000, false},
		{1, 400000, true},
	}, readAll(t, s))
}

func TestSourceInvalidTrack(t *testing.T) {
	fpath := createFile(t)

	s := &Source{Path: fpath}
	err := s.Initialize()
	require.NoError(t, err)
	defer s.Close()

	err = s.SelectTrack(2)
	require.EqualError(t, err, "invalid track index: 2")
}

func TestSourceInvalidFile(t *testing.T) {
	fpath := test.TempFile(t, []byte{0x00, 0x00, 0x00, 0x08, 'f', 'r', 'e', 'e'})

	s := &Source{Path: fpath}
	err := s.Initialize()
	require.EqualError(t, err, "ftyp box not found")
}

func TestProbe(t *testing.T) {
	fpath := createFile(t)

	info, err := Probe(fpath)
	require.NoError(t, err)
	require.Equal(t, &composer.MediaInfo{
		DurationUs: 500000,
		Size:       composer.Size{Width: 1920, Height: 1080},
		Rotation:   composer.RotationNormal,
		HasAudio:   true,
	}, info)
}

func TestProbeFailure(t *testing.T) {
	_, err := Probe("/nonexistent.mp4")
	require.True(t, errors.Is(err, composer.ErrProbeFailure))
	require.False(t, composer.IsFatal(err))
}

func TestRotationFromMatrix(t *testing.T) {
	for _, ca := range []struct {
		name     string
		matrix   [9]int32
		rotation composer.Rotation
	}{
		{
			"identity",
			[9]int32{0x10000, 0, 0, 0, 0x10000, 0, 0, 0, 0x40000000},
			composer.RotationNormal,
		},
		{
			"90",
			[9]int32{0, 0x10000, 0, -0x10000, 0, 0, 0, 0, 0x40000000},
			composer.Rotation90,
		},
		{
			"180",
			[9]int32{-0x10000, 0, 0, 0, -0x10000, 0, 0, 0, 0x40000000},
			composer.Rotation180,
		},
		{
			"270",
			[9]int32{0, -0x10000, 0, 0x10000, 0, 0, 0, 0, 0x40000000},
			composer.Rotation270,
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			require.Equal(t, ca.rotation, rotationFromMatrix(ca.matrix))
		})
	}
}

func TestOpener(t *testing.T) {
	fpath := createFile(t)

	o := &Opener{Parent: test.NilLogger}

	s, err := o.Open(fpath)
	require.NoError(t, err)
	require.Len(t, s.Formats(), 2)

	err = s.Close()
	require.NoError(t, err)

	// closing twice is harmless
	err = s.Close()
	require.NoError(t, err)

	_, err = o.Open("/nonexistent.mp4")
	require.Error(t, err)
}

func TestSourceNoFragments(t *testing.T) {
	var buf seekablebuffer.Buffer

	init := &fmp4.Init{
		Tracks: []*fmp4.InitTrack{{
			ID:        1,
			TimeScale: 90000,
			Codec: &mp4.CodecH264{
				SPS: test.H264SPS,
				PPS: test.H264PPS,
			},
		}},
	}
	err := init.Marshal(&buf)
	require.NoError(t, err)

	s := &Source{Path: test.TempFile(t, buf.Bytes())}
	err = s.Initialize()
	require.EqualError(t, err, "no fragments found")
}
