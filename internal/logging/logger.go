// Package logging provides leveled logging and event tracing for tumorsim.
// It offers two complementary outputs:
//   - A leveled slog.Logger for stderr (operational output)
//   - An EventLogger for structured JSONL lineage and treatment events (<out>/events.jsonl)
package logging

import (
	"encoding/json"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nvandessel/tumorevo/internal/constants"
)

// LevelTrace is a custom slog level below Debug. At this level every
// genotype birth is logged, not only treatment and run events.
const LevelTrace = slog.LevelDebug - 4

// Event names written to the event log.
const (
	EventGenotypeBorn     = "genotype_born"
	EventTreatmentStarted = "treatment_started"
	EventTreatmentSkipped = "treatment_skipped"
	EventTreatmentStopped = "treatment_stopped"
	EventRunFinished      = "run_finished"
)

// ParseLevel maps a string level name to a slog.Level.
// Supported values: "info", "debug", "trace" (case-insensitive).
// Unknown values default to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "trace":
		return LevelTrace
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a leveled slog.Logger writing to w.
func NewLogger(level string, w io.Writer) *slog.Logger {
	lvl := ParseLevel(level)
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == LevelTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// EventLogger writes simulation events to a JSONL stream. It is safe for
// concurrent use. A nil EventLogger is safe to use; all methods are no-ops.
type EventLogger struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	births bool
	run    string
}

// NewEventLogger creates an event logger writing to dir/events.jsonl.
// At "info" level it returns nil and no file is created. At "debug" the
// file receives treatment and run events; "trace" adds genotype births.
// Returns nil if the file cannot be opened.
func NewEventLogger(dir, level, runID string) *EventLogger {
	lvl := ParseLevel(level)
	if lvl >= slog.LevelInfo {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil
	}
	f, err := os.OpenFile(filepath.Join(dir, constants.EventsFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil
	}
	return &EventLogger{w: f, closer: f, births: lvl <= LevelTrace, run: runID}
}

// NewEventWriter creates an event logger writing to w, births included.
func NewEventWriter(w io.Writer, runID string) *EventLogger {
	return &EventLogger{w: w, births: true, run: runID}
}

// Log writes one event as a single JSONL line. "event", "run" and "time"
// fields are added; the caller's map is not mutated.
func (el *EventLogger) Log(event string, fields map[string]any) {
	if el == nil {
		return
	}
	entry := make(map[string]any, len(fields)+3)
	maps.Copy(entry, fields)
	entry["event"] = event
	if el.run != "" {
		entry["run"] = el.run
	}
	entry["time"] = time.Now().UTC().Format(time.RFC3339Nano)

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	el.mu.Lock()
	defer el.mu.Unlock()
	if el.w == nil {
		return
	}
	_, _ = el.w.Write(data)
}

// GenotypeBorn logs a new genotype and its parent. It is only written at
// trace level.
func (el *EventLogger) GenotypeBorn(step int, genotype, parent string) {
	if el == nil || !el.births {
		return
	}
	el.Log(EventGenotypeBorn, map[string]any{"step": step, "genotype": genotype, "parent": parent})
}

// Close closes the underlying file. Safe to call on nil receiver.
func (el *EventLogger) Close() error {
	if el == nil {
		return nil
	}
	el.mu.Lock()
	defer el.mu.Unlock()
	el.w = nil
	if el.closer == nil {
		return nil
	}
	err := el.closer.Close()
	el.closer = nil
	return err
}
