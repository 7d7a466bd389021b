package counting

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// horizontalLine is the y=240 boundary used by most scenarios. With this
// orientation a centroid above the line (smaller y) sits on the negative
// side, so downward movement is a negative-to-positive transition.
func horizontalLine(t *testing.T) Boundary {
	t.Helper()
	b, err := NewBoundary(Point{X: 0, Y: 240}, Point{X: 640, Y: 240})
	require.NoError(t, err)
	return b
}

func obs(id int, x, y float64) Observation {
	return Observation{TrackID: id, Centroid: Point{X: x, Y: y}, Timestamp: time.Now()}
}

func TestZeroLengthBoundaryRejected(t *testing.T) {
	_, err := NewBoundary(Point{X: 10, Y: 10}, Point{X: 10, Y: 10})
	assert.Error(t, err)
}

func TestNonFiniteBoundaryRejected(t *testing.T) {
	_, err := NewBoundary(Point{X: math.NaN(), Y: 0}, Point{X: 10, Y: 10})
	assert.Error(t, err)
}

func TestSingleCrossingEmitsExactlyOneEvent(t *testing.T) {
	// Boundary y=240, track 7 moves from (100,200) to (100,280). Mapping
	// configured so downward movement is "in".
	lc := NewLineCounter(Config{Boundary: horizontalLine(t), InvertDirection: true})

	events := lc.ProcessFrame([]Observation{obs(7, 100, 200)})
	assert.Empty(t, events, "first observation must never trigger a crossing")

	events = lc.ProcessFrame([]Observation{obs(7, 100, 280)})
	require.Len(t, events, 1)
	assert.Equal(t, 7, events[0].TrackID)
	assert.Equal(t, DirectionIn, events[0].Direction)

	in, out := lc.Counts()
	assert.Equal(t, uint64(1), in)
	assert.Equal(t, uint64(0), out)
}

func TestDefaultDirectionMapping(t *testing.T) {
	lc := NewLineCounter(Config{Boundary: horizontalLine(t)})

	lc.ProcessFrame([]Observation{obs(1, 100, 200)})
	events := lc.ProcessFrame([]Observation{obs(1, 100, 280)})
	require.Len(t, events, 1)
	assert.Equal(t, DirectionOut, events[0].Direction)

	// Same physical movement the other way flips the direction.
	lc.ProcessFrame([]Observation{obs(2, 100, 280)})
	events = lc.ProcessFrame([]Observation{obs(2, 100, 200)})
	require.Len(t, events, 1)
	assert.Equal(t, DirectionIn, events[0].Direction)
}

func TestJitterWithinCooldownCountsOnce(t *testing.T) {
	// Track 7 oscillates around the line: 200, 239, 241, 238. Only the first
	// definite flip may count inside the cooldown window.
	lc := NewLineCounter(Config{Boundary: horizontalLine(t), CooldownFrames: 30})

	total := 0
	for _, y := range []float64{200, 239, 241, 238} {
		total += len(lc.ProcessFrame([]Observation{obs(7, 100, y)}))
	}
	assert.Equal(t, 1, total)

	in, out := lc.Counts()
	assert.Equal(t, uint64(1), in+out)
}

func TestCrossingAfterCooldownExpiresCountsAgain(t *testing.T) {
	lc := NewLineCounter(Config{Boundary: horizontalLine(t), CooldownFrames: 3})

	lc.ProcessFrame([]Observation{obs(7, 100, 200)})
	events := lc.ProcessFrame([]Observation{obs(7, 100, 280)})
	require.Len(t, events, 1)

	// Sit below the line until the cooldown has expired.
	for i := 0; i < 4; i++ {
		lc.ProcessFrame([]Observation{obs(7, 100, 280)})
	}

	events = lc.ProcessFrame([]Observation{obs(7, 100, 200)})
	require.Len(t, events, 1, "genuine crossing after cooldown must count")

	in, out := lc.Counts()
	assert.Equal(t, uint64(2), in+out)
}

func TestFirstObservationOnLineDoesNotTrigger(t *testing.T) {
	lc := NewLineCounter(Config{Boundary: horizontalLine(t)})

	events := lc.ProcessFrame([]Observation{obs(7, 100, 240)})
	assert.Empty(t, events)

	// Moving off the line establishes a side but there is no prior definite
	// side to compare against, so still no event.
	events = lc.ProcessFrame([]Observation{obs(7, 100, 200)})
	assert.Empty(t, events)

	in, out := lc.Counts()
	assert.Zero(t, in+out)
}

func TestCollinearObservationDoesNotDoubleCount(t *testing.T) {
	lc := NewLineCounter(Config{Boundary: horizontalLine(t), CooldownFrames: 1})

	lc.ProcessFrame([]Observation{obs(7, 100, 200)})
	// Lands exactly on the line, then continues to the far side. One
	// traversal, one event.
	events := lc.ProcessFrame([]Observation{obs(7, 100, 240)})
	assert.Empty(t, events)
	events = lc.ProcessFrame([]Observation{obs(7, 100, 280)})
	require.Len(t, events, 1)

	in, out := lc.Counts()
	assert.Equal(t, uint64(1), in+out)
}

func TestEvictedTrackReappearsAsNew(t *testing.T) {
	lc := NewLineCounter(Config{Boundary: horizontalLine(t), EvictFrames: 5, SweepInterval: 100})

	lc.ProcessFrame([]Observation{obs(7, 100, 200)})
	events := lc.ProcessFrame([]Observation{obs(7, 100, 280)})
	require.Len(t, events, 1)

	// Track disappears for longer than the eviction threshold.
	for i := 0; i < 10; i++ {
		lc.ProcessFrame(nil)
	}

	// Reappearing on the opposite side must not produce an event: the stale
	// side information was discarded with the track.
	events = lc.ProcessFrame([]Observation{obs(7, 100, 200)})
	assert.Empty(t, events)

	// A full traversal after re-establishing a side counts normally.
	events = lc.ProcessFrame([]Observation{obs(7, 100, 280)})
	require.Len(t, events, 1)
}

func TestSweepBoundsTrackMemory(t *testing.T) {
	lc := NewLineCounter(Config{Boundary: horizontalLine(t), EvictFrames: 3, SweepInterval: 5})

	for id := 1; id <= 50; id++ {
		lc.ProcessFrame([]Observation{obs(id, 100, 200)})
	}
	assert.Greater(t, lc.ActiveTracks(), 0)

	// Empty frames advance the clock past eviction for everything.
	for i := 0; i < 10; i++ {
		lc.ProcessFrame(nil)
	}
	assert.Equal(t, 0, lc.ActiveTracks())
}

func TestHistoryBoundedByRetentionWindow(t *testing.T) {
	lc := NewLineCounter(Config{Boundary: horizontalLine(t), HistoryLen: 5})

	for i := 0; i < 100; i++ {
		lc.ProcessFrame([]Observation{obs(1, float64(i), 200)})
	}
	lc.mu.Lock()
	got := len(lc.tracks[1].history)
	lc.mu.Unlock()
	assert.LessOrEqual(t, got, 5)
}

func TestMalformedObservationsSkipped(t *testing.T) {
	lc := NewLineCounter(Config{Boundary: horizontalLine(t)})

	lc.ProcessFrame([]Observation{
		obs(0, 100, 200),        // invalid track id
		obs(7, math.NaN(), 200), // non-finite centroid
		obs(9, 100, 200),        // fine
	})
	events := lc.ProcessFrame([]Observation{obs(9, 100, 280)})
	require.Len(t, events, 1, "valid observations in a frame with malformed ones must still be processed")
	assert.Equal(t, 9, events[0].TrackID)
}

func TestResetZeroesCountsAndClearsHistory(t *testing.T) {
	lc := NewLineCounter(Config{Boundary: horizontalLine(t)})

	lc.ProcessFrame([]Observation{obs(7, 100, 200)})
	lc.ProcessFrame([]Observation{obs(7, 100, 280)})
	in, out := lc.Counts()
	require.Equal(t, uint64(1), in+out)

	lc.Reset()

	in, out = lc.Counts()
	assert.Zero(t, in)
	assert.Zero(t, out)
	assert.Equal(t, 0, lc.ActiveTracks())

	// The reappearing track is new: its first post-reset observation cannot
	// trigger, even though it lands on the opposite side.
	events := lc.ProcessFrame([]Observation{obs(7, 100, 200)})
	assert.Empty(t, events)
}

func TestConcurrentProcessAndReset(t *testing.T) {
	lc := NewLineCounter(Config{Boundary: horizontalLine(t), CooldownFrames: 1})

	const workers = 8
	const iterations = 200

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				id := base*iterations + i + 1
				lc.ProcessFrame([]Observation{obs(id, 100, 200)})
				lc.ProcessFrame([]Observation{obs(id, 100, 280)})
			}
		}(w)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			lc.Reset()
			in, out := lc.Counts()
			// A snapshot is never torn: totals only move between full frames
			// and full resets, so they stay within the serializable range.
			assert.LessOrEqual(t, in+out, uint64(workers*iterations))
		}
	}()

	wg.Wait()
	<-done

	lc.Reset()
	in, out := lc.Counts()
	assert.Zero(t, in)
	assert.Zero(t, out)
}
