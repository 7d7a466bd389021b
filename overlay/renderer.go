package overlay

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"gatecam/counting"
	"gatecam/tracking"
)

var (
	boxColor      = color.RGBA{0, 200, 255, 255}
	centroidColor = color.RGBA{0, 255, 0, 255}
	lineColor     = color.RGBA{255, 80, 80, 255}
	textColor     = color.RGBA{255, 255, 255, 255}
	bannerColor   = color.RGBA{0, 0, 0, 255}
)

// Renderer draws tracked people, the counting line and the running totals
// onto frames before they are encoded for clients.
type Renderer struct{}

// NewRenderer creates a renderer
func NewRenderer() *Renderer {
	return &Renderer{}
}

// Draw annotates img in place with the current tracking and counting state
func (r *Renderer) Draw(img *gocv.Mat, objects []tracking.TrackedObject, boundary counting.Boundary, in, out uint64) {
	r.drawBoundary(img, boundary)
	for _, obj := range objects {
		r.drawObject(img, obj)
	}
	r.drawCounts(img, in, out)
}

func (r *Renderer) drawObject(img *gocv.Mat, obj tracking.TrackedObject) {
	gocv.Rectangle(img, obj.Rect, boxColor, 2)

	center := image.Pt(int(obj.CenterX), int(obj.CenterY))
	gocv.Circle(img, center, 3, centroidColor, -1)

	label := fmt.Sprintf("#%d %.0f%%", obj.ID, obj.Confidence*100)
	labelPos := image.Pt(obj.Rect.Min.X, obj.Rect.Min.Y-6)
	if labelPos.Y < 12 {
		labelPos.Y = obj.Rect.Min.Y + 14
	}
	gocv.PutText(img, label, labelPos, gocv.FontHersheySimplex, 0.45, boxColor, 1)
}

func (r *Renderer) drawBoundary(img *gocv.Mat, boundary counting.Boundary) {
	start := image.Pt(int(boundary.Start().X), int(boundary.Start().Y))
	end := image.Pt(int(boundary.End().X), int(boundary.End().Y))
	gocv.Line(img, start, end, lineColor, 2)
}

func (r *Renderer) drawCounts(img *gocv.Mat, in, out uint64) {
	banner := image.Rect(0, 0, 190, 28)
	gocv.Rectangle(img, banner, bannerColor, -1)
	text := fmt.Sprintf("IN: %d  OUT: %d", in, out)
	gocv.PutText(img, text, image.Pt(8, 20), gocv.FontHersheySimplex, 0.6, textColor, 2)
}
