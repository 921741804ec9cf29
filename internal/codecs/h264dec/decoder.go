// Package h264dec contains a H264 decoder based on libavcodec.
package h264dec

import (
	"fmt"
	"image"
	"runtime"
	"unsafe"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"

	"github.com/bluenviron/mediacompose/internal/codecs/swcodec"
	"github.com/bluenviron/mediacompose/internal/composer"
)

// #cgo pkg-config: libavcodec libavutil libswscale
// #include <libavcodec/avcodec.h>
// #include <libavutil/imgutils.h>
// #include <libswscale/swscale.h>
import "C"

func frameData(frame *C.AVFrame) **C.uint8_t {
	return (**C.uint8_t)(unsafe.Pointer(&frame.data[0]))
}

func frameLineSize(frame *C.AVFrame) *C.int {
	return (*C.int)(unsafe.Pointer(&frame.linesize[0]))
}

func auHasParams(au [][]byte) bool {
	for _, nalu := range au {
		if h264.NALUType(nalu[0]&0x1F) == h264.NALUTypeSPS {
			return true
		}
	}
	return false
}

// Decoder decodes H264 access units into RGBA images.
// It implements swcodec.Processor.
type Decoder struct {
	// input format. Its CSD must contain SPS and PPS.
	Format *composer.Format

	codecCtx     *C.AVCodecContext
	yuv420Frame  *C.AVFrame
	rgbaFrame    *C.AVFrame
	rgbaFramePtr []uint8
	swsCtx       *C.struct_SwsContext
	params       [][]byte
	outputFormat *composer.Format
}

// Initialize initializes Decoder.
func (d *Decoder) Initialize() error {
	if d.Format == nil || len(d.Format.CSD) < 2 {
		return fmt.Errorf("SPS and PPS not provided")
	}
	d.params = [][]byte{d.Format.CSD[0], d.Format.CSD[1]}

	codec := C.avcodec_find_decoder(C.AV_CODEC_ID_H264)
	if codec == nil {
		return fmt.Errorf("avcodec_find_decoder() failed")
	}

	d.codecCtx = C.avcodec_alloc_context3(codec)
	if d.codecCtx == nil {
		return fmt.Errorf("avcodec_alloc_context3() failed")
	}

	res := C.avcodec_open2(d.codecCtx, codec, nil)
	if res < 0 {
		C.avcodec_free_context(&d.codecCtx)
		return fmt.Errorf("avcodec_open2() failed")
	}

	d.yuv420Frame = C.av_frame_alloc()
	if d.yuv420Frame == nil {
		C.avcodec_free_context(&d.codecCtx)
		return fmt.Errorf("av_frame_alloc() failed")
	}

	return nil
}

// Close implements swcodec.Processor.
func (d *Decoder) Close() {
	if d.swsCtx != nil {
		C.sws_freeContext(d.swsCtx)
		d.swsCtx = nil
	}

	if d.rgbaFrame != nil {
		C.av_frame_free(&d.rgbaFrame)
	}

	if d.yuv420Frame != nil {
		C.av_frame_free(&d.yuv420Frame)
	}

	if d.codecCtx != nil {
		C.avcodec_free_context(&d.codecCtx)
	}
}

// OutputFormat implements swcodec.Processor.
func (d *Decoder) OutputFormat() *composer.Format {
	return d.outputFormat
}

func (d *Decoder) reinitDynamicStuff() error {
	if d.swsCtx != nil {
		C.sws_freeContext(d.swsCtx)
	}

	if d.rgbaFrame != nil {
		C.av_frame_free(&d.rgbaFrame)
	}

	d.rgbaFrame = C.av_frame_alloc()
	if d.rgbaFrame == nil {
		return fmt.Errorf("av_frame_alloc() failed")
	}

	d.rgbaFrame.format = C.AV_PIX_FMT_RGBA
	d.rgbaFrame.width = d.yuv420Frame.width
	d.rgbaFrame.height = d.yuv420Frame.height
	d.rgbaFrame.color_range = C.AVCOL_RANGE_JPEG

	res := C.av_frame_get_buffer(d.rgbaFrame, 1)
	if res < 0 {
		return fmt.Errorf("av_frame_get_buffer() failed")
	}

	d.swsCtx = C.sws_getContext(d.yuv420Frame.width, d.yuv420Frame.height, int32(d.yuv420Frame.format),
		d.rgbaFrame.width, d.rgbaFrame.height, (int32)(d.rgbaFrame.format), C.SWS_BILINEAR, nil, nil, nil)
	if d.swsCtx == nil {
		return fmt.Errorf("sws_getContext() failed")
	}

	rgbaFrameSize := C.av_image_get_buffer_size((int32)(d.rgbaFrame.format), d.rgbaFrame.width, d.rgbaFrame.height, 1)
	d.rgbaFramePtr = (*[1 << 30]uint8)(unsafe.Pointer(d.rgbaFrame.data[0]))[:rgbaFrameSize:rgbaFrameSize]

	d.outputFormat = &composer.Format{
		MimeType:   composer.MimeTypeRawVideo,
		Width:      int(d.rgbaFrame.width),
		Height:     int(d.rgbaFrame.height),
		DurationUs: d.Format.DurationUs,
	}

	return nil
}

// Process implements swcodec.Processor.
// The payload is an access unit in AVCC format.
func (d *Decoder) Process(in *swcodec.Buffer) ([]*swcodec.Buffer, error) {
	var au h264.AVCC
	err := au.Unmarshal(in.Payload)
	if err != nil {
		return nil, fmt.Errorf("invalid access unit: %w", err)
	}

	// parameters are stored in the sample description only
	if h264.IsRandomAccess(au) && !auHasParams(au) {
		au = append(append([][]byte(nil), d.params...), au...)
	}

	annexb, err := h264.AnnexB(au).Marshal()
	if err != nil {
		return nil, err
	}

	// send access unit to decoder
	var pkt C.AVPacket
	ptr := &annexb[0]
	var p runtime.Pinner
	p.Pin(ptr)
	pkt.data = (*C.uint8_t)(ptr)
	pkt.size = (C.int)(len(annexb))
	pkt.pts = (C.int64_t)(in.TimeUs)
	res := C.avcodec_send_packet(d.codecCtx, &pkt)
	p.Unpin()

	// corrupted access units are skipped
	if res < 0 {
		return nil, nil
	}

	return d.receiveFrames()
}

// Flush implements swcodec.Processor.
func (d *Decoder) Flush() ([]*swcodec.Buffer, error) {
	res := C.avcodec_send_packet(d.codecCtx, nil)
	if res < 0 {
		return nil, nil
	}

	return d.receiveFrames()
}

func (d *Decoder) receiveFrames() ([]*swcodec.Buffer, error) {
	var outs []*swcodec.Buffer

	for {
		res := C.avcodec_receive_frame(d.codecCtx, d.yuv420Frame)
		if res < 0 {
			return outs, nil
		}

		out, err := d.convertFrame()
		if err != nil {
			return nil, err
		}

		outs = append(outs, out)
	}
}

func (d *Decoder) convertFrame() (*swcodec.Buffer, error) {
	// if frame size has changed, allocate needed objects
	if d.rgbaFrame == nil || d.rgbaFrame.width != d.yuv420Frame.width || d.rgbaFrame.height != d.yuv420Frame.height {
		err := d.reinitDynamicStuff()
		if err != nil {
			return nil, err
		}
	}

	// convert color space from YUV420 to RGBA
	res := C.sws_scale(d.swsCtx, frameData(d.yuv420Frame), frameLineSize(d.yuv420Frame),
		0, d.yuv420Frame.height, frameData(d.rgbaFrame), frameLineSize(d.rgbaFrame))
	if res < 0 {
		return nil, fmt.Errorf("sws_scale() failed")
	}

	// the frame buffer is reused by the next call
	pix := make([]uint8, len(d.rgbaFramePtr))
	copy(pix, d.rgbaFramePtr)

	img := &image.RGBA{
		Pix:    pix,
		Stride: 4 * (int)(d.rgbaFrame.width),
		Rect: image.Rectangle{
			Max: image.Point{(int)(d.rgbaFrame.width), (int)(d.rgbaFrame.height)},
		},
	}

	return &swcodec.Buffer{
		Payload: pix,
		Image:   img,
		TimeUs:  int64(d.yuv420Frame.pts),
	}, nil
}
