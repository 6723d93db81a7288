// Package eventlog keeps an append-only, human-readable record of door
// events, one "[timestamp] message" line per event.
package eventlog

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"
)

// Log appends events to a text file. Each Append opens, writes and closes
// the file; no handle is held between events. Safe for concurrent use.
type Log struct {
	path string
	now  func() time.Time

	mu sync.Mutex
}

// New returns a Log writing to path. The file is created on first Append.
func New(path string) *Log {
	return &Log{path: path, now: time.Now}
}

// NewWithClock returns a Log that stamps events using now.
func NewWithClock(path string, now func() time.Time) *Log {
	return &Log{path: path, now: now}
}

// Path returns the file the log writes to.
func (l *Log) Path() string {
	return l.path
}

// FormatLine renders one log line (without the trailing newline).
func FormatLine(t time.Time, msg string) string {
	return "[" + t.Format(time.RFC3339) + "] " + msg
}

// Append writes msg as a new line.
func (l *Log) Append(msg string) error {
	line := FormatLine(l.now(), msg) + "\n"

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return fmt.Errorf("write event log: %w", err)
	}
	return f.Close()
}

// Appendf formats and appends a message.
func (l *Log) Appendf(format string, args ...any) error {
	return l.Append(fmt.Sprintf(format, args...))
}

// Recent returns up to n of the newest lines, oldest first. A missing file
// yields an empty result.
func (l *Log) Recent(n int) ([]string, error) {
	if n <= 0 {
		return []string{}, nil
	}

	l.mu.Lock()
	data, err := os.ReadFile(l.path)
	l.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}

	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := sc.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan event log: %w", err)
	}

	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	out := make([]string, len(lines))
	copy(out, lines)
	return out, nil
}
