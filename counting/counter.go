package counting

import (
	"fmt"
	"sync"
	"time"
)

// Default tuning. Frame based so behavior does not depend on capture FPS
// drift: at 30 FPS the cooldown is one second and eviction three seconds.
const (
	DefaultCooldownFrames = 30
	DefaultEvictFrames    = 90
	DefaultHistoryLen     = 30
	DefaultSweepInterval  = 30
)

// Global debug function for counting package
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

// Config tunes a LineCounter. Zero values fall back to the defaults above.
type Config struct {
	// Boundary is the counting line; required.
	Boundary Boundary
	// InvertDirection swaps the in/out mapping. The default maps a
	// positive-to-negative side transition to "in"; which physical direction
	// that is depends on boundary orientation in the scene.
	InvertDirection bool
	// CooldownFrames suppresses re-triggering of a track that just crossed,
	// so centroid jitter around the line counts once per traversal.
	CooldownFrames int
	// HistoryLen bounds the per-track centroid history.
	HistoryLen int
	// EvictFrames is how many frames a track may go unobserved before its
	// state is discarded. A track reappearing later is treated as brand new,
	// which also protects against tracker ID reuse.
	EvictFrames int
	// SweepInterval is how often (in frames) the lazy eviction sweep runs.
	SweepInterval int
}

func (c Config) withDefaults() Config {
	if c.CooldownFrames <= 0 {
		c.CooldownFrames = DefaultCooldownFrames
	}
	if c.HistoryLen < 2 {
		c.HistoryLen = DefaultHistoryLen
	}
	if c.EvictFrames <= 0 {
		c.EvictFrames = DefaultEvictFrames
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	return c
}

// trackState is the per-track memory the counter keeps between frames
type trackState struct {
	history []Point
	// lastSide is the last definite side (+1/-1) the centroid was seen on;
	// 0 until the track has been observed on a definite side.
	lastSide float64
	// lastSeen is the frame index of the most recent observation.
	lastSeen int64
	// cooldownUntil blocks further crossing events until this frame index.
	cooldownUntil int64
}

// LineCounter converts per-frame tracked-object observations into directional
// crossing events and running in/out totals.
//
// ProcessFrame and Reset mutate state and are mutually exclusive; Counts takes
// a consistent snapshot under the same lock. ProcessFrame does no I/O, so the
// frame path is never gated on reporting or notification latency.
type LineCounter struct {
	mu  sync.Mutex
	cfg Config

	tracks   map[int]*trackState
	inCount  uint64
	outCount uint64

	frameIndex int64
	lastSweep  int64
}

// NewLineCounter creates a counter for the configured boundary
func NewLineCounter(cfg Config) *LineCounter {
	return &LineCounter{
		cfg:    cfg.withDefaults(),
		tracks: make(map[int]*trackState),
	}
}

// ProcessFrame consumes all observations for one frame and returns the
// crossing events detected in it, in detection order. Aggregate counters are
// updated before it returns. Malformed observations are skipped, not fatal.
func (lc *LineCounter) ProcessFrame(observations []Observation) []CrossingEvent {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	lc.frameIndex++
	frame := lc.frameIndex

	var events []CrossingEvent
	for _, obs := range observations {
		if obs.TrackID <= 0 || !isFinite(obs.Centroid.X) || !isFinite(obs.Centroid.Y) {
			debugMsg("COUNTER", fmt.Sprintf("Skipping malformed observation (id=%d centroid=%.1f,%.1f)",
				obs.TrackID, obs.Centroid.X, obs.Centroid.Y))
			continue
		}

		ts, ok := lc.tracks[obs.TrackID]
		if ok && frame-ts.lastSeen > int64(lc.cfg.EvictFrames) {
			// Stale entry, likely a reused tracker ID. Start over so the old
			// side and cooldown cannot leak into the new object.
			delete(lc.tracks, obs.TrackID)
			ok = false
		}
		if !ok {
			ts = &trackState{history: make([]Point, 0, lc.cfg.HistoryLen)}
			lc.tracks[obs.TrackID] = ts
		}

		side := lc.cfg.Boundary.side(obs.Centroid)

		// A crossing needs a previous definite side and a new definite side
		// with opposite sign. A centroid exactly on the line keeps the prior
		// side, so collinear observations never double-trigger.
		if ts.lastSide != 0 && side != 0 && side != ts.lastSide {
			if frame >= ts.cooldownUntil {
				dir := directionForTransition(ts.lastSide, lc.cfg.InvertDirection)
				if dir == DirectionIn {
					lc.inCount++
				} else {
					lc.outCount++
				}
				ts.cooldownUntil = frame + int64(lc.cfg.CooldownFrames)

				when := obs.Timestamp
				if when.IsZero() {
					when = time.Now()
				}
				events = append(events, CrossingEvent{
					TrackID:    obs.TrackID,
					Direction:  dir,
					Timestamp:  when,
					FrameIndex: frame,
				})
			}
		}

		if side != 0 {
			ts.lastSide = side
		}
		ts.lastSeen = frame
		ts.history = append(ts.history, obs.Centroid)
		if len(ts.history) > lc.cfg.HistoryLen {
			ts.history = ts.history[1:]
		}
	}

	if frame-lc.lastSweep >= int64(lc.cfg.SweepInterval) {
		lc.sweepLocked(frame)
	}

	return events
}

// directionForTransition maps the side the track came from to a direction.
// Positive-to-negative is "in" unless the mapping is inverted.
func directionForTransition(fromSide float64, invert bool) Direction {
	dir := DirectionOut
	if fromSide > 0 {
		dir = DirectionIn
	}
	if invert {
		if dir == DirectionIn {
			return DirectionOut
		}
		return DirectionIn
	}
	return dir
}

// sweepLocked prunes tracks unobserved for longer than the eviction
// threshold. Caller holds lc.mu.
func (lc *LineCounter) sweepLocked(frame int64) {
	pruned := 0
	for id, ts := range lc.tracks {
		if frame-ts.lastSeen > int64(lc.cfg.EvictFrames) {
			delete(lc.tracks, id)
			pruned++
		}
	}
	lc.lastSweep = frame
	if pruned > 0 {
		debugMsg("COUNTER", fmt.Sprintf("Evicted %d stale tracks (%d active)", pruned, len(lc.tracks)))
	}
}

// Counts returns a consistent snapshot of the aggregate counters
func (lc *LineCounter) Counts() (in, out uint64) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.inCount, lc.outCount
}

// ActiveTracks returns the number of tracks the counter currently remembers
func (lc *LineCounter) ActiveTracks() int {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return len(lc.tracks)
}

// Reset atomically zeroes both counters and clears all track history and
// cooldown state. It serializes against ProcessFrame, so a concurrent frame
// is applied either entirely before or entirely after the reset.
func (lc *LineCounter) Reset() {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.inCount = 0
	lc.outCount = 0
	lc.tracks = make(map[int]*trackState)
	debugMsg("COUNTER", "Counters and track state reset")
}

// Boundary returns the configured counting line
func (lc *LineCounter) Boundary() Boundary {
	return lc.cfg.Boundary
}
