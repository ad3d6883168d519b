// Package joblog writes the per-post process log: an append-only text file
// next to the post's media that records every pipeline step in UTC.
package joblog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileName is the conventional process log name inside a post's work
// directory.
const FileName = "process.log"

// now is swapped in tests for deterministic timestamps.
var now = time.Now

// Logger appends timestamped lines to a single log file. Writes are best
// effort: a pipeline run never fails because its log could not be written.
type Logger struct {
	path string
	mu   sync.Mutex
}

// New creates a logger for the given file path.
func New(path string) *Logger {
	return &Logger{path: path}
}

// ForDir creates a logger for the conventional process log in dir.
func ForDir(dir string) *Logger {
	return New(filepath.Join(dir, FileName))
}

// Path returns the log file path.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append writes one formatted line prefixed with the current UTC time.
func (l *Logger) Append(format string, args ...any) {
	if l == nil || l.path == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return
	}
	file, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer file.Close()

	line := fmt.Sprintf(format, args...)
	timestamp := now().UTC().Format("2006-01-02T15:04:05.999999") + "Z"
	fmt.Fprintf(file, "%s | %s\n", timestamp, line)
}
