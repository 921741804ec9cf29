package composer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/mediacompose/internal/test"
)

func TestMuxSinkQueue(t *testing.T) {
	m := &fakeMuxer{}
	s := &muxSink{muxer: m, hasAudio: true, parent: test.NilLogger}

	payload := []byte{1, 2, 3}
	err := s.writeSampleData(TrackTypeVideo, payload, &BufferInfo{Size: 3, PresentationTimeUs: 0})
	require.NoError(t, err)
	payload[0] = 9

	err = s.writeSampleData(TrackTypeAudio, []byte{4}, &BufferInfo{Size: 1, PresentationTimeUs: 0})
	require.NoError(t, err)

	err = s.writeSampleData(TrackTypeVideo, []byte{5}, &BufferInfo{Size: 1, PresentationTimeUs: 33333})
	require.NoError(t, err)

	err = s.setOutputFormat(TrackTypeVideo, testVideoFormat)
	require.NoError(t, err)
	require.False(t, m.started)

	err = s.setOutputFormat(TrackTypeAudio, testAACFormat)
	require.NoError(t, err)
	require.True(t, m.started)

	require.Equal(t, []*Format{testVideoFormat, testAACFormat}, m.formats)
	require.Equal(t, []fakeMuxedSample{
		{payload: []byte{1, 2, 3}, info: BufferInfo{Size: 3, PresentationTimeUs: 0}},
		{payload: []byte{5}, info: BufferInfo{Size: 1, PresentationTimeUs: 33333}},
	}, m.samples[0])
	require.Equal(t, []fakeMuxedSample{
		{payload: []byte{4}, info: BufferInfo{Size: 1, PresentationTimeUs: 0}},
	}, m.samples[1])

	err = s.writeSampleData(TrackTypeAudio, []byte{6}, &BufferInfo{Size: 1, PresentationTimeUs: 20000})
	require.NoError(t, err)
	require.Len(t, m.samples[1], 2)

	err = s.finish()
	require.NoError(t, err)
	require.Equal(t, 1, m.stopped)

	s.close()
	s.close()
	require.Equal(t, 1, m.released)
}

func TestMuxSinkVideoOnly(t *testing.T) {
	m := &fakeMuxer{}
	s := &muxSink{muxer: m, parent: test.NilLogger}

	err := s.setOutputFormat(TrackTypeVideo, testVideoFormat)
	require.NoError(t, err)
	require.True(t, m.started)
	require.Len(t, m.formats, 1)

	err = s.setOutputFormat(TrackTypeAudio, testAACFormat)
	require.ErrorIs(t, err, ErrFormatInvariant)

	err = s.writeSampleData(TrackTypeAudio, []byte{1}, &BufferInfo{Size: 1})
	require.ErrorIs(t, err, ErrFormatInvariant)
}

func TestMuxSinkErrors(t *testing.T) {
	t.Run("format twice", func(t *testing.T) {
		s := &muxSink{muxer: &fakeMuxer{}, hasAudio: true, parent: test.NilLogger}

		err := s.setOutputFormat(TrackTypeVideo, testVideoFormat)
		require.NoError(t, err)

		err = s.setOutputFormat(TrackTypeVideo, testVideoFormat)
		require.ErrorIs(t, err, ErrFormatInvariant)
	})

	t.Run("eos twice", func(t *testing.T) {
		s := &muxSink{muxer: &fakeMuxer{}, parent: test.NilLogger}

		err := s.writeSampleData(TrackTypeVideo, nil, &BufferInfo{Flags: FlagEndOfStream})
		require.NoError(t, err)

		err = s.writeSampleData(TrackTypeVideo, nil, &BufferInfo{Flags: FlagEndOfStream})
		require.ErrorIs(t, err, ErrFormatInvariant)
	})

	t.Run("finish without start", func(t *testing.T) {
		s := &muxSink{muxer: &fakeMuxer{}, hasAudio: true, parent: test.NilLogger}

		err := s.setOutputFormat(TrackTypeVideo, testVideoFormat)
		require.NoError(t, err)

		err = s.finish()
		require.ErrorIs(t, err, ErrFormatInvariant)
		require.Contains(t, err.Error(), "audio")
	})
}
