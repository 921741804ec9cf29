package test

import (
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
)

// H264SPS is a test H264 SPS (1920x1080 baseline).
var H264SPS = []byte{
	0x67, 0x42, 0xc0, 0x28, 0xd9, 0x00, 0x78, 0x02,
	0x27, 0xe5, 0x84, 0x00, 0x00, 0x03, 0x00, 0x04,
	0x00, 0x00, 0x03, 0x00, 0xf0, 0x3c, 0x60, 0xc9, 0x20,
}

// H264PPS is a test H264 PPS.
var H264PPS = []byte{0x08, 0x06, 0x07, 0x08}

// H264IDR is a test H264 IDR access unit, in AVCC format.
var H264IDR = []byte{0x00, 0x00, 0x00, 0x02, 0x65, 0x88}

// H264NonIDR is a test H264 non-IDR access unit, in AVCC format.
var H264NonIDR = []byte{0x00, 0x00, 0x00, 0x02, 0x41, 0x9a}

// MPEG4AudioConfig is a test MPEG-4 audio configuration.
var MPEG4AudioConfig = mpeg4audio.AudioSpecificConfig{
	Type:         mpeg4audio.ObjectTypeAACLC,
	SampleRate:   44100,
	ChannelCount: 2,
}
