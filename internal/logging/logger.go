// Package logging provides leveled logging and generation event traces for threestep.
// It offers two outputs:
//   - A leveled slog.Logger on stderr for operational messages
//   - An EventLogger appending JSONL generation events to .threestep/events.jsonl
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LevelTrace sits below Debug and enables per-trial output.
const LevelTrace = slog.LevelDebug - 4

// Level names accepted by ParseLevel and the configuration file.
const (
	LevelNameInfo  = "info"
	LevelNameDebug = "debug"
	LevelNameTrace = "trace"
)

// ParseLevel maps "info", "debug" or "trace" (any case) to a slog.Level.
// Anything else is treated as info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case LevelNameDebug:
		return slog.LevelDebug
	case LevelNameTrace:
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// NewLogger returns a text slog.Logger writing to w at the given level.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if l, ok := a.Value.Any().(slog.Level); ok && l == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}))
}

// Discard returns a logger that drops everything. Useful as a default in tests
// and library callers that pass no logger.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// Event is one line of the generation trace.
type Event struct {
	Time     time.Time      `json:"time"`
	Kind     string         `json:"event"`
	Group    string         `json:"group,omitempty"`
	Seed     uint64         `json:"seed,omitempty"`
	Trials   int            `json:"trials,omitempty"`
	Attempts int            `json:"attempts,omitempty"`
	Elapsed  time.Duration  `json:"elapsed_ns,omitempty"`
	Error    string         `json:"error,omitempty"`
	Extra    map[string]any `json:"extra,omitempty"`
}

// Event kinds written by the batch driver.
const (
	EventGroupStarted  = "group_started"
	EventGroupFinished = "group_finished"
	EventGroupFailed   = "group_failed"
	EventFileWritten   = "file_written"
)

// EventLogger appends Events to a JSONL file. It is safe for concurrent use,
// and a nil *EventLogger silently drops events.
type EventLogger struct {
	mu   sync.Mutex
	file *os.File
	now  func() time.Time
}

// EventsFile is the trace file name inside the state directory.
const EventsFile = "events.jsonl"

// NewEventLogger opens dir/events.jsonl for append when level is debug or
// trace. At info level, or when the file cannot be opened, it returns nil.
func NewEventLogger(dir string, level string) *EventLogger {
	if ParseLevel(level) > slog.LevelDebug {
		return nil
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(dir, EventsFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil
	}
	return &EventLogger{file: f, now: time.Now}
}

// Log writes ev as one JSON line, stamping Time when it is zero.
func (l *EventLogger) Log(ev Event) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return
	}

	if ev.Time.IsZero() {
		ev.Time = l.now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = l.file.Write(append(data, '\n'))
}

// Close closes the trace file.
func (l *EventLogger) Close() {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
