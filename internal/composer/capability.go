package composer

import (
	"image"
	"strings"
)

// MIME types of tracks handled by the pipeline.
const (
	MimeTypeH264     = "video/avc"
	MimeTypeRawVideo = "video/raw"
	MimeTypeAAC      = "audio/mp4a-latm"
	MimeTypeOpus     = "audio/opus"
	MimeTypeLPCM     = "audio/raw"
)

// TrackType is the type of a track.
type TrackType int

// track types.
const (
	TrackTypeVideo TrackType = iota
	TrackTypeAudio
)

// String implements fmt.Stringer.
func (t TrackType) String() string {
	if t == TrackTypeVideo {
		return "video"
	}
	return "audio"
}

// Format describes the content of a track.
type Format struct {
	MimeType string

	// video
	Width          int
	Height         int
	FrameRate      int
	IFrameInterval int
	Bitrate        int

	// audio
	SampleRate   int
	ChannelCount int
	BitDepth     int
	LittleEndian bool

	// codec-specific data, i.e. SPS and PPS or AudioSpecificConfig.
	CSD [][]byte

	// -1 when unknown.
	DurationUs int64
}

// IsVideo returns whether the format describes a video track.
func (f *Format) IsVideo() bool {
	return strings.HasPrefix(f.MimeType, "video/")
}

// IsAudio returns whether the format describes an audio track.
func (f *Format) IsAudio() bool {
	return strings.HasPrefix(f.MimeType, "audio/")
}

// Clone returns a deep copy of the format.
func (f *Format) Clone() *Format {
	out := *f
	if f.CSD != nil {
		out.CSD = make([][]byte, len(f.CSD))
		for i, csd := range f.CSD {
			out.CSD[i] = append([]byte(nil), csd...)
		}
	}
	return &out
}

// BufferFlags are flags attached to a buffer.
type BufferFlags int

// buffer flags.
const (
	FlagKeyFrame BufferFlags = 1 << iota
	FlagCodecConfig
	FlagEndOfStream
)

// BufferInfo describes a buffer exchanged with a codec or a muxer.
type BufferInfo struct {
	Offset             int
	Size               int
	PresentationTimeUs int64
	Flags              BufferFlags
}

// Sample is an encoded sample read from a Source.
type Sample struct {
	TrackIndex int
	Payload    []byte
	TimeUs     int64
	Flags      BufferFlags
}

// Source is an elementary stream source.
// Only samples of selected tracks are returned, interleaved by decoding time.
type Source interface {
	Formats() []*Format
	SelectTrack(index int) error
	// SeekTo moves to the sync sample that precedes or equals timeUs.
	SeekTo(timeUs int64) error
	// Sample returns the current sample, or nil when there are no more samples.
	Sample() (*Sample, error)
	Advance()
	Close() error
}

// Output buffer statuses returned by Codec.DequeueOutputBuffer.
const (
	InfoTryAgainLater        = -1
	InfoOutputFormatChanged  = -2
	InfoOutputBuffersChanged = -3
)

// Codec is a decoder or an encoder driven through non-blocking polls.
type Codec interface {
	Start() error
	Stop() error
	Release()

	// DequeueInputBuffer returns the index of a free input slot, or -1.
	DequeueInputBuffer() (int, error)
	QueueInputBuffer(index int, payload []byte, timeUs int64, flags BufferFlags) error

	// DequeueOutputBuffer returns the index of an output buffer or one of the Info* statuses.
	DequeueOutputBuffer(info *BufferInfo) (int, error)
	OutputBuffer(index int) []byte
	// ReleaseOutputBuffer frees an output buffer. When render is true,
	// the decoded image is delivered to the output surface.
	ReleaseOutputBuffer(index int, render bool) error
	OutputFormat() *Format
}

// Encoder is a Codec that can be fed through a surface.
type Encoder interface {
	Codec
	InputSurface() Surface
	SignalEndOfInputStream() error
}

// Surface receives decoded or transformed images.
type Surface interface {
	QueueImage(img image.Image, timeUs int64) error
}

// FrameTransform turns one decoded image into one image ready for the encoder.
// It acts as the output surface of the decoder.
type FrameTransform interface {
	Surface
	AwaitNewImage() error
	// DrawImage renders the pending image. elapsedUs is the position of the image
	// in the output timeline.
	DrawImage(elapsedUs int64) error
	SetPresentationTime(ns int64)
	SwapBuffers() error
	Release()
}

// TransformParams are the parameters of a FrameTransform.
type TransformParams struct {
	InputSize      Size
	OutputSize     Size
	Rotation       Rotation
	FillMode       FillMode
	FillModeCustom *FillModeCustomItem
	FlipVertical   bool
	FlipHorizontal bool
}

// TransformFactory allocates a FrameTransform that writes into output.
type TransformFactory func(params TransformParams, output Surface) (FrameTransform, error)

// CodecFactory allocates codecs.
type CodecFactory interface {
	// NewDecoder allocates a decoder. output is nil for audio decoders.
	NewDecoder(format *Format, output Surface) (Codec, error)
	NewEncoder(format *Format) (Encoder, error)
}

// Muxer writes samples into a container.
type Muxer interface {
	AddTrack(format *Format) (int, error)
	Start() error
	WriteSampleData(track int, payload []byte, info *BufferInfo) error
	Stop() error
	Release()
}

// MediaInfo contains probed metadata of a media file.
type MediaInfo struct {
	DurationUs int64
	Size       Size
	Rotation   Rotation
	HasAudio   bool
}

// MediaOpener opens and probes media files.
type MediaOpener interface {
	Open(path string) (Source, error)
	Probe(path string) (*MediaInfo, error)
}
