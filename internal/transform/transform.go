// Package transform contains a frame transform based on OpenCV.
package transform

import (
	"errors"
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"

	"github.com/bluenviron/mediacompose/internal/composer"
	"github.com/bluenviron/mediacompose/internal/logger"
)

var errNoImage = errors.New("no image has been queued")

func scaledSize(w int, h int, scale float64) image.Point {
	return image.Pt(
		max(1, int(math.Round(float64(w)*scale))),
		max(1, int(math.Round(float64(h)*scale))))
}

// replace runs fn and substitutes m with its output.
func replace(m *gocv.Mat, fn func(src gocv.Mat, dst *gocv.Mat)) {
	dst := gocv.NewMat()
	fn(*m, &dst)
	m.Close()
	*m = dst
}

// orient applies rotation and flips.
func orient(m *gocv.Mat, rotation composer.Rotation, flipVertical bool, flipHorizontal bool) {
	var code gocv.RotateFlag
	switch rotation {
	case composer.Rotation90:
		code = gocv.Rotate90Clockwise
	case composer.Rotation180:
		code = gocv.Rotate180Clockwise
	case composer.Rotation270:
		code = gocv.Rotate90CounterClockwise
	default:
		code = -1
	}

	if code >= 0 {
		replace(m, func(src gocv.Mat, dst *gocv.Mat) {
			gocv.Rotate(src, dst, code)
		})
	}

	flipCode := 2
	switch {
	case flipVertical && flipHorizontal:
		flipCode = -1
	case flipVertical:
		flipCode = 0
	case flipHorizontal:
		flipCode = 1
	}

	if flipCode != 2 {
		replace(m, func(src gocv.Mat, dst *gocv.Mat) {
			gocv.Flip(src, dst, flipCode)
		})
	}
}

// fit scales the image inside the output and fills the remaining area with black.
func fit(src gocv.Mat, out image.Point) gocv.Mat {
	w, h := src.Cols(), src.Rows()
	scale := math.Min(float64(out.X)/float64(w), float64(out.Y)/float64(h))
	size := scaledSize(w, h, scale)
	size.X = min(size.X, out.X)
	size.Y = min(size.Y, out.Y)

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(src, &resized, size, 0, 0, gocv.InterpolationLinear)

	dst := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), out.Y, out.X, gocv.MatTypeCV8UC3)

	offset := image.Pt((out.X-size.X)/2, (out.Y-size.Y)/2)
	roi := dst.Region(image.Rectangle{Min: offset, Max: offset.Add(size)})
	resized.CopyTo(&roi)
	roi.Close()

	return dst
}

// crop scales the image to cover the output and cuts what exceeds it.
func crop(src gocv.Mat, out image.Point) gocv.Mat {
	w, h := src.Cols(), src.Rows()
	scale := math.Max(float64(out.X)/float64(w), float64(out.Y)/float64(h))
	size := scaledSize(w, h, scale)
	size.X = max(size.X, out.X)
	size.Y = max(size.Y, out.Y)

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(src, &resized, size, 0, 0, gocv.InterpolationLinear)

	offset := image.Pt((size.X-out.X)/2, (size.Y-out.Y)/2)
	roi := resized.Region(image.Rectangle{Min: offset, Max: offset.Add(out)})
	defer roi.Close()

	return roi.Clone()
}

// custom fits the reference size into the output, then applies the scale,
// a clockwise rotation and a translation expressed as a fraction of the output size.
func custom(src gocv.Mat, out image.Point, item *composer.FillModeCustomItem) gocv.Mat {
	w, h := src.Cols(), src.Rows()

	ref := image.Pt(w, h)
	if item.VideoWidth > 0 && item.VideoHeight > 0 {
		ref = image.Pt(item.VideoWidth, item.VideoHeight)
	}

	scale := item.Scale
	if scale <= 0 {
		scale = 1
	}
	scale *= math.Min(float64(out.X)/float64(ref.X), float64(out.Y)/float64(ref.Y))

	center := image.Pt(w/2, h/2)

	m := gocv.GetRotationMatrix2D(center, -item.Rotate, scale)
	defer m.Close()

	m.SetDoubleAt(0, 2, m.GetDoubleAt(0, 2)+float64(out.X)/2-float64(center.X)+item.TranslateX*float64(out.X))
	m.SetDoubleAt(1, 2, m.GetDoubleAt(1, 2)+float64(out.Y)/2-float64(center.Y)+item.TranslateY*float64(out.Y))

	dst := gocv.NewMat()
	gocv.WarpAffine(src, &dst, m, out)
	return dst
}

// Transform is a composer.FrameTransform that uses OpenCV.
type Transform struct {
	Params  composer.TransformParams
	Overlay *Overlay
	Output  composer.Surface

	pending  image.Image
	frame    gocv.Mat
	hasFrame bool
	timeNs   int64
}

// Initialize initializes Transform.
func (t *Transform) Initialize() error {
	if t.Params.OutputSize.IsZero() {
		return composer.ConfigurationError{Msg: "output size is not set"}
	}

	if t.Params.FillMode == composer.FillModeCustom && t.Params.FillModeCustom == nil {
		return composer.ConfigurationError{Msg: "custom fill mode requires its parameters"}
	}

	if t.Output == nil {
		return fmt.Errorf("output surface not provided")
	}

	return nil
}

// Release implements composer.FrameTransform.
func (t *Transform) Release() {
	if t.hasFrame {
		t.frame.Close()
		t.hasFrame = false
	}
	t.pending = nil
}

// QueueImage implements composer.Surface.
func (t *Transform) QueueImage(img image.Image, _ int64) error {
	t.pending = img
	return nil
}

// AwaitNewImage implements composer.FrameTransform.
func (t *Transform) AwaitNewImage() error {
	if t.pending == nil {
		return errNoImage
	}
	return nil
}

// DrawImage implements composer.FrameTransform.
func (t *Transform) DrawImage(elapsedUs int64) error {
	if t.pending == nil {
		return errNoImage
	}

	src, err := gocv.ImageToMatRGB(t.pending)
	if err != nil {
		return err
	}
	t.pending = nil

	orient(&src, t.Params.Rotation, t.Params.FlipVertical, t.Params.FlipHorizontal)

	out := image.Pt(t.Params.OutputSize.Width, t.Params.OutputSize.Height)

	var dst gocv.Mat
	switch t.Params.FillMode {
	case composer.FillModeCrop:
		dst = crop(src, out)
	case composer.FillModeCustom:
		dst = custom(src, out, t.Params.FillModeCustom)
	default:
		dst = fit(src, out)
	}
	src.Close()

	if t.Overlay != nil {
		t.Overlay.draw(&dst, elapsedUs)
	}

	if t.hasFrame {
		t.frame.Close()
	}
	t.frame = dst
	t.hasFrame = true

	return nil
}

// SetPresentationTime implements composer.FrameTransform.
func (t *Transform) SetPresentationTime(ns int64) {
	t.timeNs = ns
}

// SwapBuffers implements composer.FrameTransform.
func (t *Transform) SwapBuffers() error {
	if !t.hasFrame {
		return fmt.Errorf("no frame has been drawn")
	}

	img, err := t.frame.ToImage()
	t.frame.Close()
	t.hasFrame = false
	if err != nil {
		return err
	}

	return t.Output.QueueImage(img, t.timeNs/1000)
}

// Factory allocates transforms.
type Factory struct {
	Overlay *Overlay
	Parent  logger.Writer
}

// Log implements logger.Writer.
func (f *Factory) Log(level logger.Level, format string, args ...interface{}) {
	f.Parent.Log(level, "[transform] "+format, args...)
}

// New allocates a Transform. It can be used as composer.TransformFactory.
func (f *Factory) New(params composer.TransformParams, output composer.Surface) (composer.FrameTransform, error) {
	t := &Transform{
		Params:  params,
		Overlay: f.Overlay,
		Output:  output,
	}
	err := t.Initialize()
	if err != nil {
		return nil, err
	}

	f.Log(logger.Debug, "%s -> %s, rotation %d, fill mode %s",
		params.InputSize, params.OutputSize, params.Rotation, params.FillMode)

	return t, nil
}
