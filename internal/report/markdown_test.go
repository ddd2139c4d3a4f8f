package report

import (
	"strings"
	"testing"
	"time"

	"github.com/planforge/planforge/internal/task"
)

func TestMarkdown(t *testing.T) {
	p := task.Plan{
		ID:     "plan-1",
		Intent: "build then test",
		Tasks: []task.Task{
			{ID: "build", Intent: "compile it", Tools: []string{"make"}, Level: 3, State: task.StateDone,
				Constraints: task.Constraints{MaxDurationSec: 60, MaxRetries: 1, Sandbox: task.Sandbox{FS: task.FSReadWrite, Net: task.NetDeny}},
				Metrics:     task.Metrics{Attempts: 1, DurationMS: 420}},
			{ID: "test", ParentID: "build", Intent: "run suite", Tools: []string{"make"}, Level: 3, State: task.StatePlanned,
				Constraints: task.Constraints{MaxDurationSec: 120, Sandbox: task.Sandbox{FS: task.FSReadOnly, Net: task.NetDeny}}},
		},
		CreatedAt: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC),
	}
	batches := [][]task.Task{{p.Tasks[0]}, {p.Tasks[1]}}

	out := Markdown(p, batches)
	for _, want := range []string{
		"# Plan plan-1",
		"**Intent:** build then test",
		"Tasks: 2 | Batches: 2",
		"| 1 | `build` | - | make | done |",
		"| 2 | `test` | build | make | planned |",
		"1. `build`",
		"2. `test`",
		"- Result: done after 1 attempt(s) in 420ms",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("report missing %q:\n%s", want, out)
		}
	}
}
