package transform

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"gocv.io/x/gocv"
)

const (
	overlayMargin    = 16
	overlayThickness = 2
)

// Position is the corner where the overlay is drawn.
type Position int

// positions.
const (
	PositionTopLeft Position = iota
	PositionTopRight
	PositionBottomLeft
	PositionBottomRight
)

// Overlay is a text drawn on every frame.
// In Text, "%t" is replaced with the output time.
type Overlay struct {
	Text      string
	FontScale float64
	Color     color.RGBA
	Position  Position
}

func formatElapsed(us int64) string {
	if us < 0 {
		us = 0
	}
	ms := us / 1000
	return fmt.Sprintf("%02d:%02d:%02d.%03d",
		ms/3600000, (ms/60000)%60, (ms/1000)%60, ms%1000)
}

func (o *Overlay) text(elapsedUs int64) string {
	return strings.ReplaceAll(o.Text, "%t", formatElapsed(elapsedUs))
}

func (o *Overlay) origin(frameSize image.Point, textSize image.Point) image.Point {
	switch o.Position {
	case PositionTopRight:
		return image.Pt(frameSize.X-textSize.X-overlayMargin, textSize.Y+overlayMargin)
	case PositionBottomLeft:
		return image.Pt(overlayMargin, frameSize.Y-overlayMargin)
	case PositionBottomRight:
		return image.Pt(frameSize.X-textSize.X-overlayMargin, frameSize.Y-overlayMargin)
	}
	return image.Pt(overlayMargin, textSize.Y+overlayMargin)
}

func (o *Overlay) draw(frame *gocv.Mat, elapsedUs int64) {
	text := o.text(elapsedUs)
	if text == "" {
		return
	}

	textSize := gocv.GetTextSize(text, gocv.FontHersheySimplex, o.FontScale, overlayThickness)
	org := o.origin(image.Pt(frame.Cols(), frame.Rows()), textSize)

	gocv.PutText(frame, text, org, gocv.FontHersheySimplex, o.FontScale, o.Color, overlayThickness)
}
