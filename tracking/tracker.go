package tracking

import (
	"fmt"
	"math"
	"sort"
	"time"

	kalman_filter "github.com/LdDl/kalman-filter"
	"github.com/pkg/errors"
)

// Global debug function for tracking package
var debugMsgFunc func(string, string)

// SetDebugFunction allows main package to provide debug function
func SetDebugFunction(fn func(component, message string)) {
	debugMsgFunc = fn
}

func debugMsg(component, message string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message)
	}
}

// track is the internal per-object state. The Kalman filter smooths the
// centroid and provides the predicted position used for matching, so a
// briefly occluded object is re-matched where it is heading, not where it
// last was.
type track struct {
	obj        TrackedObject
	predictedX float64
	predictedY float64
	filter     *kalman_filter.Kalman2D
}

// CentroidTracker assigns stable integer IDs to detections by greedy
// nearest-neighbour matching against Kalman-predicted positions. It is called
// from the single frame-processing goroutine and is not locked.
type CentroidTracker struct {
	nextID  int
	tracks  map[int]*track
	maxDist float64
	// maxLost is how many consecutive unmatched frames a track survives.
	maxLost int
	dt      float64
}

// NewCentroidTracker creates a tracker. maxDist is the matching distance
// ceiling in pixels, maxLost the eviction threshold in frames.
func NewCentroidTracker(maxDist float64, maxLost int) *CentroidTracker {
	if maxDist <= 0 {
		maxDist = 80.0
	}
	if maxLost <= 0 {
		maxLost = 30
	}
	return &CentroidTracker{
		nextID:  1,
		tracks:  make(map[int]*track),
		maxDist: maxDist,
		maxLost: maxLost,
		dt:      1.0,
	}
}

func newTrackFilter(x, y, dt float64) *kalman_filter.Kalman2D {
	/* Kalman filter props */
	ux := 1.0
	uy := 1.0
	stdDevA := 2.0
	stdDevMx := 0.1
	stdDevMy := 0.1
	return kalman_filter.NewKalman2D(dt, ux, uy, stdDevA, stdDevMx, stdDevMy, kalman_filter.WithState2D(x, y))
}

// Update matches this frame's detections against known tracks and returns the
// current set of live tracked objects, matched ones first.
func (ct *CentroidTracker) Update(detections []Detection) ([]TrackedObject, error) {
	now := time.Now()

	// Predict where every known track should be this frame.
	for _, tr := range ct.tracks {
		tr.filter.Predict()
		tr.predictedX, tr.predictedY = tr.filter.GetState()
	}

	// Build every candidate (detection, track) pair within range, then take
	// pairs greedily by ascending distance so each side is used once.
	type pair struct {
		det     int
		trackID int
		dist    float64
	}
	var pairs []pair
	for i, det := range detections {
		cx, cy := det.center()
		limit := math.Max(ct.maxDist, det.diagonal()*0.5)
		for id, tr := range ct.tracks {
			d := distance(cx, cy, tr.predictedX, tr.predictedY)
			dc := distance(cx, cy, tr.obj.CenterX, tr.obj.CenterY)
			if dc < d {
				d = dc
			}
			if d <= limit {
				pairs = append(pairs, pair{det: i, trackID: id, dist: d})
			}
		}
	}
	sort.Slice(pairs, func(a, b int) bool { return pairs[a].dist < pairs[b].dist })

	matchedDets := make(map[int]struct{}, len(detections))
	matchedTracks := make(map[int]struct{}, len(ct.tracks))
	for _, p := range pairs {
		if _, ok := matchedDets[p.det]; ok {
			continue
		}
		if _, ok := matchedTracks[p.trackID]; ok {
			continue
		}
		if err := ct.updateTrack(ct.tracks[p.trackID], detections[p.det], now); err != nil {
			return nil, errors.Wrapf(err, "can't update track %d", p.trackID)
		}
		matchedDets[p.det] = struct{}{}
		matchedTracks[p.trackID] = struct{}{}
	}

	// Unmatched detections become new tracks.
	for i, det := range detections {
		if _, ok := matchedDets[i]; ok {
			continue
		}
		id := ct.registerTrack(det, now)
		matchedTracks[id] = struct{}{}
	}

	// Unmatched tracks age; evict the long-lost ones.
	for id, tr := range ct.tracks {
		if _, ok := matchedTracks[id]; ok {
			continue
		}
		tr.obj.LostFrames++
		if tr.obj.LostFrames > ct.maxLost {
			delete(ct.tracks, id)
			debugMsg("TRACKER", fmt.Sprintf("Evicted track %d after %d lost frames", id, tr.obj.LostFrames))
		}
	}

	out := make([]TrackedObject, 0, len(ct.tracks))
	for _, tr := range ct.tracks {
		if tr.obj.LostFrames == 0 {
			out = append(out, tr.obj)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

func (ct *CentroidTracker) registerTrack(det Detection, now time.Time) int {
	cx, cy := det.center()
	id := ct.nextID
	ct.nextID++
	ct.tracks[id] = &track{
		obj: TrackedObject{
			ID:         id,
			CenterX:    cx,
			CenterY:    cy,
			Rect:       det.Rect,
			ClassName:  det.ClassName,
			Confidence: det.Confidence,
			FirstSeen:  now,
			LastSeen:   now,
		},
		predictedX: cx,
		predictedY: cy,
		filter:     newTrackFilter(cx, cy, ct.dt),
	}
	debugMsg("TRACKER", fmt.Sprintf("New track %d (%s %.2f at %.0f,%.0f)", id, det.ClassName, det.Confidence, cx, cy))
	return id
}

func (ct *CentroidTracker) updateTrack(tr *track, det Detection, now time.Time) error {
	cx, cy := det.center()
	if err := tr.filter.Update(cx, cy); err != nil {
		return errors.Wrap(err, "kalman update failed")
	}
	// Smoothed center from the filter; box follows the raw detection.
	sx, sy := tr.filter.GetState()
	tr.obj.CenterX = sx
	tr.obj.CenterY = sy
	tr.obj.Rect = det.Rect
	tr.obj.ClassName = det.ClassName
	tr.obj.Confidence = det.Confidence
	tr.obj.LastSeen = now
	tr.obj.TrackedFrames++
	tr.obj.LostFrames = 0
	return nil
}

// ActiveTracks returns how many tracks the tracker currently holds
func (ct *CentroidTracker) ActiveTracks() int {
	return len(ct.tracks)
}

// Clear drops all tracks. Fresh IDs keep incrementing so a cleared tracker
// never reissues a live ID to the counter.
func (ct *CentroidTracker) Clear() {
	ct.tracks = make(map[int]*track)
}

func distance(x1, y1, x2, y2 float64) float64 {
	return sqrt((x1-x2)*(x1-x2) + (y1-y2)*(y1-y2))
}

func sqrt(v float64) float64 {
	return math.Sqrt(v)
}
