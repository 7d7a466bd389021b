package ffmpeg

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"time"
)

// OutputBuffer stores recent output lines for crash dump analysis
type OutputBuffer struct {
	lines    []string
	maxLines int
	index    int
	full     bool
	mutex    sync.RWMutex
}

// NewOutputBuffer creates a circular buffer for storing recent output
func NewOutputBuffer(maxLines int) *OutputBuffer {
	return &OutputBuffer{
		lines:    make([]string, maxLines),
		maxLines: maxLines,
	}
}

// Add stores a new line in the circular buffer
func (ob *OutputBuffer) Add(line string) {
	ob.mutex.Lock()
	defer ob.mutex.Unlock()

	ob.lines[ob.index] = fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05.000"), line)
	ob.index = (ob.index + 1) % ob.maxLines
	if ob.index == 0 {
		ob.full = true
	}
}

// GetRecent returns the most recent lines (oldest first)
func (ob *OutputBuffer) GetRecent() []string {
	ob.mutex.RLock()
	defer ob.mutex.RUnlock()

	if !ob.full && ob.index == 0 {
		return []string{}
	}

	var result []string
	if ob.full {
		for i := 0; i < ob.maxLines; i++ {
			idx := (ob.index + i) % ob.maxLines
			if ob.lines[idx] != "" {
				result = append(result, ob.lines[idx])
			}
		}
	} else {
		for i := 0; i < ob.index; i++ {
			if ob.lines[i] != "" {
				result = append(result, ob.lines[i])
			}
		}
	}
	return result
}

// watchStderr drains the encoder's stderr into the crash buffer. FFmpeg emits
// its progress lines there; keeping the recent tail makes a crash diagnosable
// without logging every line at full rate.
func watchStderr(pipe io.ReadCloser, buffer *OutputBuffer) {
	defer pipe.Close()

	scanner := bufio.NewScanner(pipe)
	// FFmpeg status lines can be long.
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		buffer.Add(scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		buffer.Add(fmt.Sprintf("SCANNER_ERROR: %v", err))
	}
}

// dumpCrashInfo logs the recent stderr tail after an unexpected exit
func dumpCrashInfo(buffer *OutputBuffer) {
	lines := buffer.GetRecent()
	if len(lines) == 0 {
		debugMsg("FFMPEG", "Encoder exited with no stderr output captured")
		return
	}
	debugMsg("FFMPEG", fmt.Sprintf("Encoder crash dump (last %d stderr lines):", len(lines)))
	for _, line := range lines {
		debugMsg("FFMPEG", "  "+line)
	}
}
