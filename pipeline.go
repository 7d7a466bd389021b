package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hybridgroup/mjpeg"
	"gocv.io/x/gocv"

	"gatecam/broadcast"
	"gatecam/counting"
	"gatecam/detection"
	"gatecam/notify"
	"gatecam/overlay"
	"gatecam/pkg/ffmpeg"
	"gatecam/store"
	"gatecam/tracking"
)

const (
	// maxReadFailures before the capture is reopened. RTSP sources drop out
	// and come back; a file source that ends also lands here.
	maxReadFailures = 30
	eventQueueSize  = 64
)

// PipelineStats are the live processing counters exposed on the stats
// endpoint
type PipelineStats struct {
	FramesProcessed int64 `json:"frames_processed"`
	PeopleDetected  int64 `json:"people_detected"`
	DroppedFrames   int64 `json:"dropped_frames"`
}

// Pipeline runs the frame loop: capture, detect, track, count, render,
// encode. Everything stateful downstream of the counter (database, push
// alerts, websocket broadcast) happens off the frame path through the event
// queue.
type Pipeline struct {
	cfg      *Config
	capture  *gocv.VideoCapture
	provider detection.InferenceProvider
	tracker  *tracking.CentroidTracker
	counter  *counting.LineCounter
	renderer *overlay.Renderer
	hub      *broadcast.Hub
	store    *store.Store
	notifier *notify.Notifier
	encoder  *ffmpeg.Encoder
	preview  *mjpeg.Stream

	width  int
	height int

	events chan counting.CrossingEvent

	framesProcessed atomic.Int64
	peopleDetected  atomic.Int64
	droppedFrames   atomic.Int64
}

// NewPipeline wires the processing stages together
func NewPipeline(cfg *Config, capture *gocv.VideoCapture, width, height int,
	provider detection.InferenceProvider, counter *counting.LineCounter,
	hub *broadcast.Hub, st *store.Store, notifier *notify.Notifier,
	encoder *ffmpeg.Encoder, preview *mjpeg.Stream) *Pipeline {

	return &Pipeline{
		cfg:      cfg,
		capture:  capture,
		provider: provider,
		tracker:  tracking.NewCentroidTracker(float64(width)/8, cfg.EvictFrames),
		counter:  counter,
		renderer: overlay.NewRenderer(),
		hub:      hub,
		store:    st,
		notifier: notifier,
		encoder:  encoder,
		preview:  preview,
		width:    width,
		height:   height,
		events:   make(chan counting.CrossingEvent, eventQueueSize),
	}
}

// Stats returns a snapshot of the processing counters
func (p *Pipeline) Stats() PipelineStats {
	return PipelineStats{
		FramesProcessed: p.framesProcessed.Load(),
		PeopleDetected:  p.peopleDetected.Load(),
		DroppedFrames:   p.droppedFrames.Load(),
	}
}

// Run processes frames until ctx is cancelled
func (p *Pipeline) Run(ctx context.Context) error {
	go p.sinkLoop(ctx)

	img := gocv.NewMat()
	defer img.Close()

	frameInterval := time.Second / time.Duration(p.cfg.FPS)
	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	readFailures := 0
	lastIn, lastOut := uint64(0), uint64(0)

	debugMsg("PIPELINE", fmt.Sprintf("Frame loop starting (%dx%d @ %d fps)", p.width, p.height, p.cfg.FPS))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if ok := p.capture.Read(&img); !ok || img.Empty() {
			readFailures++
			if readFailures >= maxReadFailures {
				debugMsg("PIPELINE", fmt.Sprintf("%d consecutive read failures, reopening capture", readFailures))
				p.reopenCapture()
				readFailures = 0
			}
			continue
		}
		readFailures = 0

		if err := p.processFrame(&img); err != nil {
			debugMsg("PIPELINE", fmt.Sprintf("Frame processing failed: %v", err))
			continue
		}

		in, out := p.counter.Counts()
		if in != lastIn || out != lastOut {
			lastIn, lastOut = in, out
			p.hub.BroadcastCounts(in, out)
			p.checkAlert(ctx, in)
		}
	}
}

// processFrame runs one frame through detect, track, count, render, encode
func (p *Pipeline) processFrame(img *gocv.Mat) error {
	p.framesProcessed.Add(1)
	now := time.Now()

	result, err := p.provider.Detect(*img)
	if err != nil {
		return err
	}

	// Only people feed the tracker; other classes are noise for this system.
	var detections []tracking.Detection
	for i, rect := range result.Rects {
		if result.ClassNames[i] != "person" {
			continue
		}
		detections = append(detections, tracking.Detection{
			Rect:       rect,
			ClassName:  result.ClassNames[i],
			Confidence: result.Confidences[i],
		})
	}
	p.peopleDetected.Add(int64(len(detections)))

	objects, err := p.tracker.Update(detections)
	if err != nil {
		return err
	}

	observations := make([]counting.Observation, 0, len(objects))
	for _, obj := range objects {
		observations = append(observations, counting.Observation{
			TrackID:   obj.ID,
			Centroid:  counting.Point{X: obj.CenterX, Y: obj.CenterY},
			Timestamp: now,
		})
	}

	for _, event := range p.counter.ProcessFrame(observations) {
		select {
		case p.events <- event:
		default:
			// Persisting is best effort; the live counters already moved.
			debugMsg("PIPELINE", "Event queue full, dropping crossing record")
		}
	}

	in, out := p.counter.Counts()
	p.renderer.Draw(img, objects, p.counter.Boundary(), in, out)

	if !p.encoder.WriteFrame(img.ToBytes()) {
		p.droppedFrames.Add(1)
		debugMsgVerbose("PIPELINE", "Encoder behind, frame dropped")
	}

	if buf, err := gocv.IMEncode(".jpg", *img); err == nil {
		p.preview.UpdateJPEG(buf.GetBytes())
		buf.Close()
	}

	return nil
}

// sinkLoop drains crossing events into the database off the frame path
func (p *Pipeline) sinkLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-p.events:
			if err := p.store.LogCrossing(event.Direction.String(), event.TrackID, event.Timestamp); err != nil {
				debugMsg("PIPELINE", fmt.Sprintf("Could not persist crossing: %v", err))
			}
		}
	}
}

// checkAlert fires a push alert when the in-count exceeds the occupancy
// threshold. The notifier enforces the cooldown; a suppressed alert is not
// logged.
func (p *Pipeline) checkAlert(ctx context.Context, in uint64) {
	if in <= uint64(p.cfg.MaxPeople) {
		return
	}
	go func() {
		sent, err := p.notifier.SendAlert(ctx, int(in), p.cfg.MaxPeople)
		if err != nil {
			debugMsg("PIPELINE", fmt.Sprintf("Alert send failed: %v", err))
			return
		}
		if !sent {
			return
		}
		debugMsg("PIPELINE", fmt.Sprintf("Alert triggered! Count: %d, Threshold: %d", in, p.cfg.MaxPeople))
		if err := p.store.LogAlert(int(in), p.cfg.MaxPeople); err != nil {
			debugMsg("PIPELINE", fmt.Sprintf("Could not persist alert: %v", err))
		}
	}()
}

// reopenCapture replaces a dead video source in place
func (p *Pipeline) reopenCapture() {
	p.capture.Close()
	capture, err := gocv.OpenVideoCapture(p.cfg.Input)
	if err != nil {
		debugMsg("PIPELINE", fmt.Sprintf("Could not reopen capture %q: %v", p.cfg.Input, err))
		return
	}
	p.capture = capture
	debugMsg("PIPELINE", "Capture reopened")
}
