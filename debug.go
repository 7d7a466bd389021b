package main

import (
	"fmt"
	"sync"
	"time"
)

// DebugMessage is one captured log line
type DebugMessage struct {
	Timestamp time.Time `json:"timestamp"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
}

// DebugLogger is the unified logger every package reports into. All messages
// go to the console; the most recent ones are kept in memory for the debug
// endpoint.
type DebugLogger struct {
	verbose   bool
	mu        sync.RWMutex
	recent    []DebugMessage
	maxRecent int
}

// NewDebugLogger creates a logger. verbose enables the high-rate per-frame
// messages.
func NewDebugLogger(verbose bool) *DebugLogger {
	return &DebugLogger{
		verbose:   verbose,
		recent:    make([]DebugMessage, 0),
		maxRecent: 200,
	}
}

// debugMsg is the main unified debug function
func (dl *DebugLogger) debugMsg(component, message string) {
	timestamp := time.Now()
	fmt.Printf("[%s][%s] %s\n", timestamp.Format("15:04:05.000"), component, message)

	dl.mu.Lock()
	dl.recent = append(dl.recent, DebugMessage{
		Timestamp: timestamp,
		Component: component,
		Message:   message,
	})
	if len(dl.recent) > dl.maxRecent {
		dl.recent = dl.recent[1:]
	}
	dl.mu.Unlock()
}

// Recent returns a copy of the captured message history, oldest first
func (dl *DebugLogger) Recent() []DebugMessage {
	dl.mu.RLock()
	defer dl.mu.RUnlock()
	out := make([]DebugMessage, len(dl.recent))
	copy(out, dl.recent)
	return out
}

var globalDebugLogger *DebugLogger

// debugMsg is the global convenience function for unified debug logging
func debugMsg(component, message string) {
	if globalDebugLogger != nil {
		globalDebugLogger.debugMsg(component, message)
	} else {
		fmt.Printf("[%s][%s] %s\n", time.Now().Format("15:04:05.000"), component, message)
	}
}

// debugMsgVerbose only outputs if the verbose flag is enabled
func debugMsgVerbose(component, message string) {
	if globalDebugLogger == nil || !globalDebugLogger.verbose {
		return
	}
	globalDebugLogger.debugMsg(component, message)
}
