package runlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/planforge/planforge/internal/task"
)

// RunDir is a per-invocation working directory holding the plan, the
// event log and the rendered report for one synthesis run.
type RunDir struct {
	ID   string
	Path string
}

// NewRunDir creates <dataDir>/runs/<uuid> and returns its handle.
func NewRunDir(dataDir string) (RunDir, error) {
	id := uuid.New().String()
	path := filepath.Join(dataDir, "runs", id)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return RunDir{}, fmt.Errorf("create run dir: %w", err)
	}
	return RunDir{ID: id, Path: path}, nil
}

// EventsPath is the JSONL event log location for this run.
func (r RunDir) EventsPath() string { return filepath.Join(r.Path, "events.jsonl") }

// PlanPath is the serialized plan location for this run.
func (r RunDir) PlanPath() string { return filepath.Join(r.Path, "plan.json") }

// ReportPath is the markdown report location for this run.
func (r RunDir) ReportPath() string { return filepath.Join(r.Path, "report.md") }

// WritePlan serializes the plan into the run directory.
func (r RunDir) WritePlan(p task.Plan) error {
	buf, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	if err := os.WriteFile(r.PlanPath(), append(buf, '\n'), 0o644); err != nil {
		return fmt.Errorf("write plan: %w", err)
	}
	return nil
}

// WriteReport stores the rendered markdown report.
func (r RunDir) WriteReport(markdown string) error {
	if err := os.WriteFile(r.ReportPath(), []byte(markdown), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
