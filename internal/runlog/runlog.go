package runlog

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// Trace carries correlation identifiers through a single plan-synthesis
// invocation. It is passed explicitly rather than stored in any
// call-stack or goroutine-local mechanism.
type Trace struct {
	RunID    string `json:"run_id"`
	IntentID string `json:"intent_id,omitempty"`
}

// Level classifies an event.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Payload is the closed set of structured fields an event may carry.
// Zero values are omitted from the JSONL output.
type Payload struct {
	Stage      string `json:"stage,omitempty"`
	TaskCount  int    `json:"task_count,omitempty"`
	BatchCount int    `json:"batch_count,omitempty"`
	Tool       string `json:"tool,omitempty"`
	Excerpt    string `json:"excerpt,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Err        string `json:"error,omitempty"`
}

// Event is a single structured log record emitted at a pipeline stage
// boundary or failure.
type Event struct {
	Time      time.Time `json:"time"`
	Level     Level     `json:"level"`
	Component string    `json:"component"`
	Message   string    `json:"message"`
	TaskID    string    `json:"task_id,omitempty"`
	Trace     Trace     `json:"trace"`
	Payload   Payload   `json:"payload"`
}

// Sink receives events. Implementations must tolerate concurrent Emit
// calls. A nil Sink is always acceptable to callers via Emit.
type Sink interface {
	Emit(e Event)
}

// Emit sends e to s if s is non-nil. The pipeline never depends on a
// sink being present for correctness.
func Emit(s Sink, e Event) {
	if s == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	s.Emit(e)
}

// JSONLSink appends one JSON document per line to a file.
type JSONLSink struct {
	mu sync.Mutex
	f  *os.File
}

// NewJSONLSink opens (creating if needed) the JSONL file at path.
func NewJSONLSink(path string) (*JSONLSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	return &JSONLSink{f: f}, nil
}

// Emit writes the event as a single JSON line. Serialization failures
// are dropped; the event sink must never fail the pipeline.
func (s *JSONLSink) Emit(e Event) {
	buf, err := json.Marshal(e)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.f.Write(append(buf, '\n'))
}

// Close flushes and closes the underlying file.
func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// LoggerSink mirrors events onto a standard logger, matching the
// [COMPONENT] prefix convention used elsewhere.
type LoggerSink struct {
	Logger *log.Logger
}

func (s LoggerSink) Emit(e Event) {
	if s.Logger == nil {
		return
	}
	suffix := ""
	if e.Payload.Err != "" {
		suffix = ": " + e.Payload.Err
	}
	s.Logger.Printf("[%s] %s run=%s%s", e.Component, e.Message, e.Trace.RunID, suffix)
}

// MultiSink fans an event out to every member sink.
type MultiSink []Sink

func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}
