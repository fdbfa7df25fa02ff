package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// CloneLog represents a single clone-attempt log entry: either the one
// external "git clone" that settled a remote's cache entry, or a request
// that joined an already in-flight or already-settled entry.
type CloneLog struct {
	Timestamp  time.Time `json:"timestamp"`
	Remote     string    `json:"remote"`
	PoolPath   string    `json:"pool_path,omitempty"`
	TraceID    string    `json:"trace_id,omitempty"`
	SpanID     string    `json:"span_id,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	Joined     bool      `json:"joined,omitempty"` // true if this call did not spawn the clone itself
}

// Logger handles clone-attempt logging.
type Logger struct {
	mu      sync.Mutex
	enabled bool
	file    *os.File
	console bool
}

var defaultLogger = &Logger{enabled: true, console: true}

// Default returns the default logger.
func Default() *Logger {
	return defaultLogger
}

// SetOutput sets the log output file.
func (l *Logger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole enables/disables console output.
func (l *Logger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// Log writes a clone-attempt log entry.
func (l *Logger) Log(entry *CloneLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	entry.Timestamp = time.Now()

	if l.console {
		status := "✓"
		if !entry.Success {
			status = "✗"
		}
		joined := ""
		if entry.Joined {
			joined = " [joined]"
		}
		fmt.Printf("[clone] %s %s %dms%s\n", status, entry.Remote, entry.DurationMs, joined)
		if entry.Error != "" {
			fmt.Printf("[clone]   error: %s\n", entry.Error)
		}
	}

	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
