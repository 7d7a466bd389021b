package tracking

import (
	"image"
	"time"
)

// TrackedObject represents a tracked object in the frame. The ID is stable
// for as long as the object keeps being matched frame to frame.
type TrackedObject struct {
	ID         int
	CenterX    float64
	CenterY    float64
	Rect       image.Rectangle
	ClassName  string
	Confidence float64
	FirstSeen  time.Time
	LastSeen   time.Time
	// TrackedFrames counts frames in which the object was matched.
	TrackedFrames int
	// LostFrames counts consecutive frames without a match; eviction is
	// driven by this.
	LostFrames int
}

// Detection is a single raw detector output handed to the tracker
type Detection struct {
	Rect       image.Rectangle
	ClassName  string
	Confidence float64
}

func (d Detection) center() (float64, float64) {
	return float64(d.Rect.Min.X+d.Rect.Max.X) / 2.0, float64(d.Rect.Min.Y+d.Rect.Max.Y) / 2.0
}

func (d Detection) diagonal() float64 {
	w := float64(d.Rect.Dx())
	h := float64(d.Rect.Dy())
	return sqrt(w*w + h*h)
}
