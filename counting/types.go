package counting

import (
	"math"
	"time"

	"github.com/pkg/errors"
)

// Point is a position in frame pixel coordinates
type Point struct {
	X float64
	Y float64
}

// Rect is a bounding box in frame pixel coordinates (kept for rendering, not
// used by the crossing logic)
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Direction indicates which way a track crossed the boundary
type Direction int

const (
	DirectionIn Direction = iota
	DirectionOut
)

// String returns the wire representation used by the reporting path and the
// crossings log
func (d Direction) String() string {
	if d == DirectionIn {
		return "in"
	}
	return "out"
}

// Observation is one tracked detection in one frame, produced by the tracker
type Observation struct {
	TrackID   int
	Centroid  Point
	BBox      Rect
	Timestamp time.Time
}

// CrossingEvent is emitted exactly once per detected boundary traversal
type CrossingEvent struct {
	TrackID    int
	Direction  Direction
	Timestamp  time.Time
	FrameIndex int64
}

// Boundary is the immutable counting line. Construct with NewBoundary so a
// degenerate segment is rejected up front.
type Boundary struct {
	start Point
	end   Point
}

// NewBoundary validates the counting line segment. A zero-length line has no
// sides, so no crossing could ever be detected against it.
func NewBoundary(start, end Point) (Boundary, error) {
	if start.X == end.X && start.Y == end.Y {
		return Boundary{}, errors.New("boundary line must have non-zero length")
	}
	if !isFinite(start.X) || !isFinite(start.Y) || !isFinite(end.X) || !isFinite(end.Y) {
		return Boundary{}, errors.New("boundary endpoints must be finite")
	}
	return Boundary{start: start, end: end}, nil
}

// Start returns the first endpoint of the line
func (b Boundary) Start() Point {
	return b.start
}

// End returns the second endpoint of the line
func (b Boundary) End() Point {
	return b.end
}

// side returns the signed side of p relative to the line: the z component of
// the cross product of the line direction vector and the vector from the line
// start to p. Positive and negative identify the two half-planes; values
// within epsilon of zero are collapsed to zero (point on the line).
func (b Boundary) side(p Point) float64 {
	dx := b.end.X - b.start.X
	dy := b.end.Y - b.start.Y
	cross := dx*(p.Y-b.start.Y) - dy*(p.X-b.start.X)
	if math.Abs(cross) < sideEpsilon {
		return 0
	}
	if cross > 0 {
		return 1
	}
	return -1
}

// sideEpsilon absorbs float noise for centroids sitting on the line itself
const sideEpsilon = 1e-9

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
