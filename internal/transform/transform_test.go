package transform

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bluenviron/mediacompose/internal/composer"
	"github.com/bluenviron/mediacompose/internal/test"
)

var (
	red   = color.RGBA{R: 255, A: 255}
	blue  = color.RGBA{B: 255, A: 255}
	black = color.RGBA{A: 255}
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

// halves returns an image whose left half is red and right half is blue.
func halves(w int, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, image.Rect(0, 0, w/2, h), &image.Uniform{C: red}, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(w/2, 0, w, h), &image.Uniform{C: blue}, image.Point{}, draw.Src)
	return img
}

func uniform(w int, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}

func run(t *testing.T, params composer.TransformParams, overlay *Overlay, in image.Image) image.Image {
	s := &recordingSurface{}

	f := &Factory{Overlay: overlay, Parent: test.NilLogger}
	tr, err := f.New(params, s)
	require.NoError(t, err)
	defer tr.Release()

	err = tr.QueueImage(in, 0)
	require.NoError(t, err)

	err = tr.AwaitNewImage()
	require.NoError(t, err)

	err = tr.DrawImage(1000000)
	require.NoError(t, err)

	tr.SetPresentationTime(40000000)

	err = tr.SwapBuffers()
	require.NoError(t, err)

	require.Len(t, s.images, 1)
	require.Equal(t, []int64{40000}, s.timestamps)
	require.Equal(t, image.Rect(0, 0, params.OutputSize.Width, params.OutputSize.Height), s.images[0].Bounds())

	return s.images[0]
}

func at(img image.Image, x int, y int) color.RGBA {
	return color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
}

func TestTransformFillModes(t *testing.T) {
	for _, ca := range []struct {
		name   string
		params composer.TransformParams
		in     image.Image
		checks map[image.Point]color.RGBA
	}{
		{
			"fit",
			composer.TransformParams{
				InputSize:  composer.Size{Width: 40, Height: 20},
				OutputSize: composer.Size{Width: 40, Height: 40},
				FillMode:   composer.FillModeFit,
			},
			uniform(40, 20, red),
			map[image.Point]color.RGBA{
				{20, 2}:  black,
				{20, 20}: red,
				{20, 37}: black,
			},
		},
		{
			"crop",
			composer.TransformParams{
				InputSize:  composer.Size{Width: 40, Height: 20},
				OutputSize: composer.Size{Width: 20, Height: 20},
				FillMode:   composer.FillModeCrop,
			},
			halves(40, 20),
			map[image.Point]color.RGBA{
				{2, 10}:  red,
				{17, 10}: blue,
			},
		},
		{
			"custom",
			composer.TransformParams{
				InputSize:  composer.Size{Width: 20, Height: 20},
				OutputSize: composer.Size{Width: 20, Height: 20},
				FillMode:   composer.FillModeCustom,
				FillModeCustom: &composer.FillModeCustomItem{
					Scale:      0.5,
					TranslateX: 0.25,
				},
			},
			uniform(20, 20, red),
			map[image.Point]color.RGBA{
				{2, 10}:  black,
				{15, 10}: red,
				{15, 2}:  black,
			},
		},
		{
			"rotation",
			composer.TransformParams{
				InputSize:  composer.Size{Width: 20, Height: 10},
				OutputSize: composer.Size{Width: 10, Height: 20},
				Rotation:   composer.Rotation90,
			},
			halves(20, 10),
			map[image.Point]color.RGBA{
				{5, 2}:  red,
				{5, 17}: blue,
			},
		},
		{
			"flip",
			composer.TransformParams{
				InputSize:      composer.Size{Width: 20, Height: 10},
				OutputSize:     composer.Size{Width: 20, Height: 10},
				FlipHorizontal: true,
			},
			halves(20, 10),
			map[image.Point]color.RGBA{
				{2, 5}:  blue,
				{17, 5}: red,
			},
		},
		{
			"scale",
			composer.TransformParams{
				InputSize:  composer.Size{Width: 20, Height: 10},
				OutputSize: composer.Size{Width: 40, Height: 20},
			},
			halves(20, 10),
			map[image.Point]color.RGBA{
				{5, 10}:  red,
				{35, 10}: blue,
			},
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			out := run(t, ca.params, nil, ca.in)
			for pt, c := range ca.checks {
				require.Equal(t, c, at(out, pt.X, pt.Y), "pixel %v", pt)
			}
		})
	}
}

func TestTransformOverlay(t *testing.T) {
	params := composer.TransformParams{
		InputSize:  composer.Size{Width: 160, Height: 90},
		OutputSize: composer.Size{Width: 160, Height: 90},
	}

	out := run(t, params, &Overlay{
		Text:      "%t",
		FontScale: 0.5,
		Color:     color.RGBA{R: 255, G: 255, B: 255, A: 255},
		Position:  PositionBottomRight,
	}, uniform(160, 90, black))

	lit := 0
	for y := 0; y < 90; y++ {
		for x := 0; x < 160; x++ {
			if at(out, x, y) != black {
				lit++
			}
		}
	}
	require.NotZero(t, lit)

	// the top left corner is untouched
	require.Equal(t, black, at(out, 2, 2))
}

func TestFormatElapsed(t *testing.T) {
	require.Equal(t, "00:00:00.000", formatElapsed(-5))
	require.Equal(t, "00:00:01.500", formatElapsed(1500000))
	require.Equal(t, "01:02:03.004", formatElapsed(3723004000))

	o := &Overlay{Text: "time %t"}
	require.Equal(t, "time 00:00:02.000", o.text(2000000))
}

func TestTransformErrors(t *testing.T) {
	f := &Factory{Parent: test.NilLogger}

	_, err := f.New(composer.TransformParams{}, &recordingSurface{})
	require.EqualError(t, err, "invalid configuration: output size is not set")

	_, err = f.New(composer.TransformParams{
		OutputSize: composer.Size{Width: 10, Height: 10},
		FillMode:   composer.FillModeCustom,
	}, &recordingSurface{})
	require.EqualError(t, err, "invalid configuration: custom fill mode requires its parameters")

	tr, err := f.New(composer.TransformParams{
		OutputSize: composer.Size{Width: 10, Height: 10},
	}, &recordingSurface{})
	require.NoError(t, err)
	defer tr.Release()

	err = tr.AwaitNewImage()
	require.EqualError(t, err, "no image has been queued")

	err = tr.DrawImage(0)
	require.EqualError(t, err, "no image has been queued")

	err = tr.SwapBuffers()
	require.EqualError(t, err, "no frame has been drawn")
}
