package ffmpeg

import (
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/pion/webrtc/v3/pkg/media/ivfreader"
	"github.com/pkg/errors"
)

// Global debug function for ffmpeg package
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

// SampleFunc receives one encoded VP8 frame and its display duration
type SampleFunc func(payload []byte, duration time.Duration)

const (
	// frameQueueSize bounds raw frames waiting for the encoder. The pipeline
	// drops frames rather than stalling when the encoder falls behind.
	frameQueueSize = 4
	restartDelay   = 2 * time.Second
)

// Encoder pipes raw BGR frames through an external ffmpeg process producing
// VP8 in an IVF container, then fans the encoded frames out to subscribers
// (WebRTC video tracks). The process is restarted if it exits while the
// encoder is still running.
type Encoder struct {
	width  int
	height int
	fps    int

	frames chan []byte

	mu          sync.Mutex
	subscribers map[string]SampleFunc
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	stopped     bool
}

// NewEncoder creates an encoder for frames of the given geometry
func NewEncoder(width, height, fps int) (*Encoder, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Errorf("invalid frame geometry %dx%d", width, height)
	}
	if fps <= 0 {
		fps = 30
	}
	return &Encoder{
		width:       width,
		height:      height,
		fps:         fps,
		frames:      make(chan []byte, frameQueueSize),
		subscribers: make(map[string]SampleFunc),
	}, nil
}

// Start launches the ffmpeg process and its worker goroutines
func (e *Encoder) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return errors.New("encoder already stopped")
	}
	if err := e.spawnLocked(); err != nil {
		return err
	}
	go e.writeLoop()
	return nil
}

// spawnLocked starts one ffmpeg process and the goroutines tied to its
// lifetime. Caller holds e.mu.
func (e *Encoder) spawnLocked() error {
	cmd := exec.Command("ffmpeg",
		"-hide_banner",
		"-f", "rawvideo",
		"-pixel_format", "bgr24",
		"-video_size", fmt.Sprintf("%dx%d", e.width, e.height),
		"-framerate", strconv.Itoa(e.fps),
		"-i", "pipe:0",
		"-c:v", "libvpx",
		"-b:v", "1M",
		"-deadline", "realtime",
		"-cpu-used", "4",
		"-g", strconv.Itoa(e.fps),
		"-f", "ivf",
		"pipe:1",
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errors.Wrap(err, "could not create stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrap(err, "could not create stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.Wrap(err, "could not create stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "could not start ffmpeg")
	}

	e.cmd = cmd
	e.stdin = stdin

	crashBuffer := NewOutputBuffer(100)
	go watchStderr(stderr, crashBuffer)
	go e.readLoop(stdout)
	go e.superviseProcess(cmd, crashBuffer)

	debugMsg("FFMPEG", fmt.Sprintf("Encoder started (pid %d, %dx%d @ %d fps)",
		cmd.Process.Pid, e.width, e.height, e.fps))
	return nil
}

// WriteFrame queues one raw BGR frame for encoding. Non-blocking: when the
// encoder is behind, the frame is dropped and false is returned.
func (e *Encoder) WriteFrame(bgr []byte) bool {
	if len(bgr) != e.width*e.height*3 {
		return false
	}
	// The caller reuses its frame buffer; copy before queueing.
	frame := make([]byte, len(bgr))
	copy(frame, bgr)

	select {
	case e.frames <- frame:
		return true
	default:
		return false
	}
}

// Subscribe registers a sample sink under id, replacing any previous sink
// with the same id.
func (e *Encoder) Subscribe(id string, fn func(payload []byte, duration time.Duration)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subscribers[id] = fn
	debugMsg("FFMPEG", fmt.Sprintf("Sample subscriber added: %s (%d total)", id, len(e.subscribers)))
}

// Unsubscribe removes a sample sink
func (e *Encoder) Unsubscribe(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.subscribers, id)
	debugMsg("FFMPEG", fmt.Sprintf("Sample subscriber removed: %s (%d left)", id, len(e.subscribers)))
}

// SubscriberCount returns the number of registered sample sinks
func (e *Encoder) SubscriberCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subscribers)
}

// Stop terminates the process and stops the restart supervision
func (e *Encoder) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.stopped = true
	if e.stdin != nil {
		e.stdin.Close()
	}
	if e.cmd != nil && e.cmd.Process != nil {
		e.cmd.Process.Kill()
	}
	debugMsg("FFMPEG", "Encoder stopped")
}

// writeLoop feeds queued frames into the current process stdin. A write
// error just drops the frame; the supervisor handles the dead process.
func (e *Encoder) writeLoop() {
	for frame := range e.frames {
		e.mu.Lock()
		stdin := e.stdin
		stopped := e.stopped
		e.mu.Unlock()

		if stopped {
			return
		}
		if stdin == nil {
			continue
		}
		if _, err := stdin.Write(frame); err != nil {
			debugMsg("FFMPEG", fmt.Sprintf("Frame write failed: %v", err))
		}
	}
}

// readLoop parses the IVF stream from one process instance and fans each VP8
// frame out to all subscribers. It exits when the process closes stdout.
func (e *Encoder) readLoop(stdout io.ReadCloser) {
	defer stdout.Close()

	reader, header, err := ivfreader.NewWith(stdout)
	if err != nil {
		debugMsg("FFMPEG", fmt.Sprintf("IVF header parse failed: %v", err))
		return
	}
	debugMsg("FFMPEG", fmt.Sprintf("IVF stream open (%dx%d)", header.Width, header.Height))

	frameDuration := time.Second / time.Duration(e.fps)
	for {
		payload, _, err := reader.ParseNextFrame()
		if err != nil {
			if err != io.EOF {
				debugMsg("FFMPEG", fmt.Sprintf("IVF frame parse failed: %v", err))
			}
			return
		}

		e.mu.Lock()
		sinks := make([]SampleFunc, 0, len(e.subscribers))
		for _, fn := range e.subscribers {
			sinks = append(sinks, fn)
		}
		e.mu.Unlock()

		for _, fn := range sinks {
			fn(payload, frameDuration)
		}
	}
}

// superviseProcess waits for the process to exit and restarts it unless the
// encoder was stopped deliberately.
func (e *Encoder) superviseProcess(cmd *exec.Cmd, crashBuffer *OutputBuffer) {
	err := cmd.Wait()

	e.mu.Lock()
	stopped := e.stopped
	e.mu.Unlock()
	if stopped {
		return
	}

	debugMsg("FFMPEG", fmt.Sprintf("Encoder process exited unexpectedly: %v", err))
	dumpCrashInfo(crashBuffer)

	time.Sleep(restartDelay)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	if err := e.spawnLocked(); err != nil {
		debugMsg("FFMPEG", fmt.Sprintf("Encoder restart failed: %v", err))
	}
}
