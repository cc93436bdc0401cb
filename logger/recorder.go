package logger

import (
	"fmt"
	"sync"
	"time"
)

// Recorder is a Logger implementation that captures events in memory.
// It is intended for tests that need to assert on emitted log entries,
// in particular the security-severity entries from the connection
// lifecycle cleanup paths.
type Recorder struct {
	mu      sync.Mutex
	entries []RecordedEntry
}

// RecordedEntry is a single captured log entry.
type RecordedEntry struct {
	Level   string
	Message string
	Fields  map[string]any
	Err     error
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Entries returns a snapshot of all captured entries.
func (r *Recorder) Entries() []RecordedEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RecordedEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// EntriesAt returns captured entries for the given level.
func (r *Recorder) EntriesAt(level string) []RecordedEntry {
	var out []RecordedEntry
	for _, e := range r.Entries() {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) record(e RecordedEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func (r *Recorder) event(level string) LogEvent {
	return &recorderEvent{recorder: r, level: level, fields: map[string]any{}}
}

// Info creates an info-level recorded event.
func (r *Recorder) Info() LogEvent { return r.event("info") }

// Error creates an error-level recorded event.
func (r *Recorder) Error() LogEvent { return r.event("error") }

// Debug creates a debug-level recorded event.
func (r *Recorder) Debug() LogEvent { return r.event("debug") }

// Warn creates a warn-level recorded event.
func (r *Recorder) Warn() LogEvent { return r.event("warn") }

// Fatal creates a fatal-level recorded event. It records instead of exiting.
func (r *Recorder) Fatal() LogEvent { return r.event("fatal") }

// WithContext returns the recorder unchanged.
func (r *Recorder) WithContext(_ any) Logger { return r }

// WithFields returns the recorder unchanged; per-event fields are captured instead.
func (r *Recorder) WithFields(_ map[string]any) Logger { return r }

type recorderEvent struct {
	recorder *Recorder
	level    string
	fields   map[string]any
	err      error
}

func (e *recorderEvent) Msg(msg string) {
	e.recorder.record(RecordedEntry{Level: e.level, Message: msg, Fields: e.fields, Err: e.err})
}

func (e *recorderEvent) Msgf(format string, args ...any) {
	e.Msg(fmt.Sprintf(format, args...))
}

func (e *recorderEvent) Err(err error) LogEvent {
	e.err = err
	return e
}

func (e *recorderEvent) Str(key, value string) LogEvent {
	e.fields[key] = value
	return e
}

func (e *recorderEvent) Int(key string, value int) LogEvent {
	e.fields[key] = value
	return e
}

func (e *recorderEvent) Int64(key string, value int64) LogEvent {
	e.fields[key] = value
	return e
}

func (e *recorderEvent) Bool(key string, value bool) LogEvent {
	e.fields[key] = value
	return e
}

func (e *recorderEvent) Dur(key string, d time.Duration) LogEvent {
	e.fields[key] = d
	return e
}

func (e *recorderEvent) Interface(key string, i any) LogEvent {
	e.fields[key] = i
	return e
}
