package task

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a task. Plan synthesis only ever
// produces tasks in StatePlanned; the executor owns the transitions.
type State string

const (
	StatePlanned State = "planned"
	StateRunning State = "running"
	StateBlocked State = "blocked"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// Valid reports whether s is one of the enumerated task states.
func (s State) Valid() bool {
	switch s {
	case StatePlanned, StateRunning, StateBlocked, StateDone, StateFailed:
		return true
	}
	return false
}

// FSMode controls filesystem access for a sandboxed task.
type FSMode string

const (
	FSReadOnly  FSMode = "read-only"
	FSReadWrite FSMode = "rw"
)

// ParseFSMode validates a filesystem sandbox mode string.
func ParseFSMode(s string) (FSMode, error) {
	switch FSMode(s) {
	case FSReadOnly, FSReadWrite:
		return FSMode(s), nil
	}
	return "", fmt.Errorf("invalid fs mode %q (want %q or %q)", s, FSReadOnly, FSReadWrite)
}

// NetMode controls network access for a sandboxed task.
type NetMode string

const (
	NetAllow NetMode = "allow"
	NetDeny  NetMode = "deny"
)

// ParseNetMode validates a network sandbox mode string.
func ParseNetMode(s string) (NetMode, error) {
	switch NetMode(s) {
	case NetAllow, NetDeny:
		return NetMode(s), nil
	}
	return "", fmt.Errorf("invalid net mode %q (want %q or %q)", s, NetAllow, NetDeny)
}

// Sandbox holds the per-task isolation settings.
type Sandbox struct {
	FS  FSMode  `json:"fs"`
	Net NetMode `json:"net"`
}

// Constraints are the per-task execution limits. They are populated from
// the raw record when present and defaulted from policy otherwise.
type Constraints struct {
	MaxDurationSec int     `json:"max_duration_sec"`
	MaxRetries     int     `json:"max_retries"`
	Concurrency    int     `json:"concurrency"`
	Sandbox        Sandbox `json:"sandbox"`
}

// MaxDuration returns the duration limit as a time.Duration.
func (c Constraints) MaxDuration() time.Duration {
	return time.Duration(c.MaxDurationSec) * time.Second
}

// Inputs is the structured argument/environment/file payload handed to a
// task runner. The pipeline passes it through without interpretation.
type Inputs struct {
	Args  []string          `json:"args"`
	Env   map[string]string `json:"env"`
	Files map[string]string `json:"files"`
}

// EmptyInputs returns an Inputs value with allocated (non-nil) members so
// serialized tasks always carry the full shape.
func EmptyInputs() Inputs {
	return Inputs{Args: []string{}, Env: map[string]string{}, Files: map[string]string{}}
}

// LogEntry is a single line captured while executing a task.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// Artifact references a file produced by a task run.
type Artifact struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
}

// Metrics holds execution measurements for a task. Empty until the
// executor runs the task.
type Metrics struct {
	DurationMS int64 `json:"duration_ms"`
	ExitCode   int   `json:"exit_code"`
	Attempts   int   `json:"attempts"`
}

// Timestamps records the task lifecycle times. CreatedAt is stamped at
// validation; the other two are set by the executor.
type Timestamps struct {
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Task is the unit of planned work. IDs are assigned by the upstream
// producer (the text-generation response), never by this pipeline.
// Structure is immutable after validation; only State, Retries, Logs,
// Artifacts, Metrics and Timestamps are mutated later, by the executor.
type Task struct {
	ID          string      `json:"task_id"`
	ParentID    string      `json:"parent_id,omitempty"`
	Intent      string      `json:"intent"`
	Tools       []string    `json:"tools"`
	Level       int         `json:"level"`
	Inputs      Inputs      `json:"inputs"`
	Constraints Constraints `json:"constraints"`
	State       State       `json:"state"`
	Retries     int         `json:"retries"`
	Logs        []LogEntry  `json:"logs"`
	Artifacts   []Artifact  `json:"artifacts"`
	Metrics     Metrics     `json:"metrics"`
	Timestamps  Timestamps  `json:"timestamps"`
}

// IsRoot reports whether the task has no dependency predecessor.
func (t Task) IsRoot() bool { return t.ParentID == "" }

// Plan is the ordered output of plan synthesis. Once returned it is
// owned exclusively by the caller; the pipeline keeps no state between
// invocations.
type Plan struct {
	ID        string    `json:"plan_id"`
	IntentID  string    `json:"intent_id,omitempty"`
	Intent    string    `json:"intent"`
	Tasks     []Task    `json:"tasks"`
	CreatedAt time.Time `json:"created_at"`
}

// TaskIDs returns the plan's task ids in plan order.
func (p Plan) TaskIDs() []string {
	ids := make([]string, 0, len(p.Tasks))
	for _, t := range p.Tasks {
		ids = append(ids, t.ID)
	}
	return ids
}
